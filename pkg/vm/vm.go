// Package vm implements the stack-based bytecode virtual machine for lox.
//
// The VM executes chunks produced by the compiler. Its moving parts are a
// fixed value stack shared by every call frame, a fixed frame stack, a
// globals table, the open-upvalue list, and the heap whose collector scans
// all of them as roots between allocations.
package vm

import (
	"fmt"
	"io"

	"github.com/kristofer/lox/pkg/bytecode"
	"github.com/kristofer/lox/pkg/compiler"
)

const (
	// FramesMax bounds call depth; blowing it is a stack overflow.
	FramesMax = 64
	// StackMax leaves each frame the full 256 addressable slots.
	StackMax = FramesMax * 256
)

// InterpretResult classifies how a program run ended.
type InterpretResult int

const (
	InterpretOK InterpretResult = iota
	InterpretCompileError
	InterpretRuntimeError
)

// CallFrame is one in-flight function call: the closure being executed,
// its instruction pointer, and where its slot window begins in the value
// stack. Slot 0 holds the callee, or the receiver for methods.
type CallFrame struct {
	closure *bytecode.Closure
	ip      int
	slots   int
}

// VM is a lox virtual machine. It owns its heap; creating a second VM
// creates a fully independent world.
type VM struct {
	frames     [FramesMax]CallFrame
	frameCount int

	stack    [StackMax]bytecode.Value
	stackTop int

	heap         *bytecode.Heap
	globals      bytecode.Table
	openUpvalues *bytecode.Upvalue

	initString *bytecode.String
	listClass  *bytecode.Class
	mapClass   *bytecode.Class

	fout io.Writer
	ferr io.Writer

	// Trace disassembles each instruction with the stack contents before
	// executing it.
	Trace bool
}

// New creates a VM writing program output to fout and diagnostics to ferr.
func New(fout, ferr io.Writer) *VM {
	vm := &VM{
		heap: bytecode.NewHeap(),
		fout: fout,
		ferr: ferr,
	}
	vm.heap.AddRootSource(vm)
	vm.initString = vm.heap.CopyString("init")
	vm.defineListClass()
	vm.defineMapClass()
	vm.defineNative("clock", clockNative)
	vm.defineNative("wallClock", wallClockNative)
	vm.defineNative("error", vm.errNative)
	vm.defineNative("printf", vm.printfNative)
	return vm
}

// Heap exposes the VM's heap for tooling and tests.
func (vm *VM) Heap() *bytecode.Heap { return vm.heap }

// MarkRoots implements bytecode.RootSource: everything the running
// program can still reach starts here.
func (vm *VM) MarkRoots(h *bytecode.Heap) {
	for i := 0; i < vm.stackTop; i++ {
		h.MarkValue(vm.stack[i])
	}
	for i := 0; i < vm.frameCount; i++ {
		h.MarkObject(vm.frames[i].closure)
	}
	for upvalue := vm.openUpvalues; upvalue != nil; upvalue = upvalue.Next {
		h.MarkObject(upvalue)
	}
	vm.globals.Range(func(key *bytecode.String, value bytecode.Value) bool {
		h.MarkObject(key)
		h.MarkValue(value)
		return true
	})
	h.MarkObject(vm.initString)
	h.MarkObject(vm.listClass)
	h.MarkObject(vm.mapClass)
}

// Interpret compiles and runs a script.
func (vm *VM) Interpret(source string) InterpretResult {
	function, err := compiler.Compile(source, vm.heap, vm.ferr)
	if err != nil {
		return InterpretCompileError
	}
	return vm.RunFunction(function)
}

// Compile compiles a script on this VM's heap without running it; the
// compile subcommand serializes the result.
func (vm *VM) Compile(source string) (*bytecode.Function, error) {
	return compiler.Compile(source, vm.heap, vm.ferr)
}

// Evaluate compiles a single expression and prints its value.
func (vm *VM) Evaluate(source string) InterpretResult {
	function, err := compiler.CompileExpression(source, vm.heap, vm.ferr)
	if err != nil {
		return InterpretCompileError
	}
	return vm.RunFunction(function)
}

// RunFunction wraps a compiled script function in a closure and drives it
// to completion.
func (vm *VM) RunFunction(function *bytecode.Function) InterpretResult {
	vm.push(bytecode.ObjVal(function))
	closure := vm.heap.NewClosure(function)
	vm.pop()
	vm.push(bytecode.ObjVal(closure))
	vm.call(closure, 0)
	return vm.run()
}

func (vm *VM) resetStack() {
	vm.stackTop = 0
	vm.frameCount = 0
	vm.openUpvalues = nil
}

func (vm *VM) push(value bytecode.Value) {
	vm.stack[vm.stackTop] = value
	vm.stackTop++
}

func (vm *VM) pop() bytecode.Value {
	vm.stackTop--
	return vm.stack[vm.stackTop]
}

func (vm *VM) peek(distance int) bytecode.Value {
	return vm.stack[vm.stackTop-1-distance]
}

// isFalsey implements lox truthiness: nil and false only.
func isFalsey(value bytecode.Value) bool {
	return value.IsNil() || (value.IsBool() && !value.AsBool())
}

// call pushes a frame for a closure after checking arity and frame depth.
func (vm *VM) call(closure *bytecode.Closure, argCount int) bool {
	if argCount != closure.Function.Arity {
		vm.runtimeError("Expected %d arguments but got %d.", closure.Function.Arity, argCount)
		return false
	}
	if vm.frameCount == FramesMax {
		vm.runtimeError("Stack overflow.")
		return false
	}
	frame := &vm.frames[vm.frameCount]
	vm.frameCount++
	frame.closure = closure
	frame.ip = 0
	frame.slots = vm.stackTop - argCount - 1
	return true
}

// callValue dispatches a call on whatever sits in the callee slot.
func (vm *VM) callValue(callee bytecode.Value, argCount int) bool {
	if callee.IsObj() {
		switch obj := callee.AsObj().(type) {
		case *bytecode.BoundMethod:
			vm.stack[vm.stackTop-argCount-1] = obj.Receiver
			return vm.call(obj.Method, argCount)
		case *bytecode.Class:
			vm.stack[vm.stackTop-argCount-1] = bytecode.ObjVal(vm.heap.NewInstance(obj))
			if initializer, ok := obj.Methods.Get(vm.initString); ok {
				return vm.callValue(initializer, argCount)
			}
			if argCount != 0 {
				vm.runtimeError("Expected 0 arguments but got %d.", argCount)
				return false
			}
			return true
		case *bytecode.Closure:
			return vm.call(obj, argCount)
		case *bytecode.Native:
			receiver := vm.stack[vm.stackTop-argCount-1]
			args := vm.stack[vm.stackTop-argCount : vm.stackTop]
			result, err := obj.Function(receiver, args)
			if err != nil {
				vm.runtimeError("%s", err.Error())
				return false
			}
			vm.stackTop -= argCount + 1
			vm.push(result)
			return true
		}
	}
	vm.runtimeError("Can only call functions and classes.")
	return false
}

func (vm *VM) invokeFromClass(class *bytecode.Class, name *bytecode.String, argCount int) bool {
	method, ok := class.Methods.Get(name)
	if !ok {
		vm.runtimeError("Undefined property '%s'.", name.Chars)
		return false
	}
	return vm.callValue(method, argCount)
}

// invoke is the fused property-get-and-call. Instance fields shadow
// methods, so a callable field is called; lists and maps route to their
// built-in classes.
func (vm *VM) invoke(name *bytecode.String, argCount int) bool {
	receiver := vm.peek(argCount)

	var class *bytecode.Class
	if receiver.IsObj() {
		switch obj := receiver.AsObj().(type) {
		case *bytecode.List:
			class = vm.listClass
		case *bytecode.Map:
			class = vm.mapClass
		case *bytecode.Instance:
			if field, ok := obj.Fields.Get(name); ok {
				vm.stack[vm.stackTop-argCount-1] = field
				return vm.callValue(field, argCount)
			}
			class = obj.Class
		}
	}
	if class == nil {
		vm.runtimeError("Only lists, maps, and instances have methods.")
		return false
	}
	return vm.invokeFromClass(class, name, argCount)
}

// bindMethod replaces the receiver on top of the stack with a bound
// method.
func (vm *VM) bindMethod(class *bytecode.Class, name *bytecode.String) bool {
	method, ok := class.Methods.Get(name)
	if !ok {
		vm.runtimeError("Undefined property '%s'.", name.Chars)
		return false
	}
	closure, ok := method.AsObj().(*bytecode.Closure)
	if !ok {
		vm.runtimeError("Can only bind methods defined in lox.")
		return false
	}
	bound := vm.heap.NewBoundMethod(vm.peek(0), closure)
	vm.pop()
	vm.push(bytecode.ObjVal(bound))
	return true
}

// captureUpvalue finds or creates the open upvalue for a stack slot. The
// open list is sorted by descending slot so the walk stops as soon as it
// passes the target, and two closures over one slot share one upvalue.
func (vm *VM) captureUpvalue(slot int) *bytecode.Upvalue {
	var prev *bytecode.Upvalue
	upvalue := vm.openUpvalues
	for upvalue != nil && upvalue.Slot > slot {
		prev = upvalue
		upvalue = upvalue.Next
	}
	if upvalue != nil && upvalue.Slot == slot {
		return upvalue
	}

	created := vm.heap.NewUpvalue(&vm.stack[slot], slot)
	created.Next = upvalue
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.Next = created
	}
	return created
}

// closeUpvalues closes every open upvalue at or above the given slot:
// the value moves into the upvalue, which then points at itself.
func (vm *VM) closeUpvalues(last int) {
	for vm.openUpvalues != nil && vm.openUpvalues.Slot >= last {
		upvalue := vm.openUpvalues
		upvalue.Closed = *upvalue.Location
		upvalue.Location = &upvalue.Closed
		upvalue.Slot = -1
		vm.openUpvalues = upvalue.Next
	}
}

func (vm *VM) defineMethod(name *bytecode.String) {
	method := vm.peek(0)
	class := vm.peek(1).AsObj().(*bytecode.Class)
	class.Methods.Set(name, method)
	vm.pop()
}

// concatenate joins the two strings on top of the stack. Both operands
// stay on the stack until the result exists so a collection triggered by
// the allocation cannot reclaim them.
func (vm *VM) concatenate() {
	b := vm.peek(0).AsString()
	a := vm.peek(1).AsString()
	result := vm.heap.TakeString(a.Chars + b.Chars)
	vm.pop()
	vm.pop()
	vm.push(bytecode.ObjVal(result))
}

// checkIndexBounds validates a numeric whole-number index against a
// container size, reporting the specific failure.
func (vm *VM) checkIndexBounds(kind string, bounds int, indexValue bytecode.Value) bool {
	if !indexValue.IsNumber() {
		vm.runtimeError("%s must be a number.", kind)
		return false
	}
	indexNum := indexValue.AsNumber()
	if indexNum < 0 || indexNum >= float64(bounds) {
		vm.runtimeError("%s (%s) out of bounds (%d)", kind, bytecode.FormatNumber(indexNum), bounds)
		return false
	}
	if float64(int(indexNum)) != indexNum {
		vm.runtimeError("%s (%s) must be a whole number.", kind, bytecode.FormatNumber(indexNum))
		return false
	}
	return true
}

func (vm *VM) checkListIndex(listValue, indexValue bytecode.Value) bool {
	list := listValue.AsObj().(*bytecode.List)
	return vm.checkIndexBounds("List index", len(list.Elements), indexValue)
}

// run is the dispatch loop. Each case consumes its operands and mutates
// the stack; anything that can fail reports a runtime error and bails.
func (vm *VM) run() InterpretResult {
	frame := &vm.frames[vm.frameCount-1]

	readByte := func() byte {
		b := frame.closure.Function.Chunk.Code[frame.ip]
		frame.ip++
		return b
	}
	readShort := func() int {
		hi := int(readByte())
		lo := int(readByte())
		return hi<<8 | lo
	}
	readConstant := func() bytecode.Value {
		return frame.closure.Function.Chunk.Constants[readByte()]
	}
	readString := func() *bytecode.String {
		return readConstant().AsString()
	}
	binaryNumberOp := func(apply func(a, b float64) bytecode.Value) bool {
		if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
			vm.runtimeError("Operands must be numbers.")
			return false
		}
		b := vm.pop().AsNumber()
		a := vm.pop().AsNumber()
		vm.push(apply(a, b))
		return true
	}

	for {
		if vm.Trace {
			vm.traceInstruction(frame)
		}

		switch bytecode.Opcode(readByte()) {
		case bytecode.OpConstant:
			vm.push(readConstant())

		case bytecode.OpNil:
			vm.push(bytecode.NilVal())

		case bytecode.OpTrue:
			vm.push(bytecode.BoolVal(true))

		case bytecode.OpFalse:
			vm.push(bytecode.BoolVal(false))

		case bytecode.OpPop:
			vm.pop()

		case bytecode.OpGetLocal:
			slot := readByte()
			vm.push(vm.stack[frame.slots+int(slot)])

		case bytecode.OpSetLocal:
			slot := readByte()
			vm.stack[frame.slots+int(slot)] = vm.peek(0)

		case bytecode.OpGetGlobal:
			name := readString()
			value, ok := vm.globals.Get(name)
			if !ok {
				vm.runtimeError("Undefined variable '%s'.", name.Chars)
				return InterpretRuntimeError
			}
			vm.push(value)

		case bytecode.OpDefineGlobal:
			name := readString()
			vm.globals.Set(name, vm.peek(0))
			vm.pop()

		case bytecode.OpSetGlobal:
			name := readString()
			if vm.globals.Set(name, vm.peek(0)) {
				vm.globals.Delete(name)
				vm.runtimeError("Undefined variable '%s'.", name.Chars)
				return InterpretRuntimeError
			}

		case bytecode.OpGetUpvalue:
			slot := readByte()
			vm.push(*frame.closure.Upvalues[slot].Location)

		case bytecode.OpSetUpvalue:
			slot := readByte()
			*frame.closure.Upvalues[slot].Location = vm.peek(0)

		case bytecode.OpGetProperty:
			instance, ok := vm.peek(0).AsObj().(*bytecode.Instance)
			if !ok {
				vm.runtimeError("Only instances have properties.")
				return InterpretRuntimeError
			}
			name := readString()
			if value, found := instance.Fields.Get(name); found {
				vm.pop() // instance
				vm.push(value)
				break
			}
			if !vm.bindMethod(instance.Class, name) {
				return InterpretRuntimeError
			}

		case bytecode.OpSetProperty:
			instance, ok := vm.peek(1).AsObj().(*bytecode.Instance)
			if !ok {
				vm.runtimeError("Only instances have properties.")
				return InterpretRuntimeError
			}
			instance.Fields.Set(readString(), vm.peek(0))
			value := vm.pop()
			vm.pop()
			vm.push(value)

		case bytecode.OpGetIndex:
			if !vm.getIndex() {
				return InterpretRuntimeError
			}

		case bytecode.OpSetIndex:
			if !vm.setIndex() {
				return InterpretRuntimeError
			}

		case bytecode.OpListInit:
			vm.push(bytecode.ObjVal(vm.heap.NewList()))

		case bytecode.OpListData:
			list, ok := vm.peek(1).AsObj().(*bytecode.List)
			if !ok {
				vm.runtimeError("List data can only be added to a list.")
				return InterpretRuntimeError
			}
			list.Elements = append(list.Elements, vm.peek(0))
			vm.pop()

		case bytecode.OpMapInit:
			vm.push(bytecode.ObjVal(vm.heap.NewMap()))

		case bytecode.OpMapData:
			m, ok := vm.peek(2).AsObj().(*bytecode.Map)
			if !ok {
				vm.runtimeError("Map data can only be added to a map.")
				return InterpretRuntimeError
			}
			if !vm.peek(1).IsString() {
				vm.runtimeError("Map key must be a string.")
				return InterpretRuntimeError
			}
			m.Table.Set(vm.peek(1).AsString(), vm.peek(0))
			vm.pop() // value
			vm.pop() // key

		case bytecode.OpGetSuper:
			name := readString()
			superclass := vm.pop().AsObj().(*bytecode.Class)
			if !vm.bindMethod(superclass, name) {
				return InterpretRuntimeError
			}

		case bytecode.OpEqual:
			a := vm.pop()
			b := vm.pop()
			vm.push(bytecode.BoolVal(bytecode.ValuesEqual(a, b)))

		case bytecode.OpGreater:
			if !binaryNumberOp(func(a, b float64) bytecode.Value { return bytecode.BoolVal(a > b) }) {
				return InterpretRuntimeError
			}

		case bytecode.OpLess:
			if !binaryNumberOp(func(a, b float64) bytecode.Value { return bytecode.BoolVal(a < b) }) {
				return InterpretRuntimeError
			}

		case bytecode.OpAdd:
			switch {
			case vm.peek(0).IsString() && vm.peek(1).IsString():
				vm.concatenate()
			case vm.peek(0).IsNumber() && vm.peek(1).IsNumber():
				b := vm.pop().AsNumber()
				a := vm.pop().AsNumber()
				vm.push(bytecode.NumberVal(a + b))
			default:
				vm.runtimeError("Operands must be two numbers or two strings.")
				return InterpretRuntimeError
			}

		case bytecode.OpSubtract:
			if !binaryNumberOp(func(a, b float64) bytecode.Value { return bytecode.NumberVal(a - b) }) {
				return InterpretRuntimeError
			}

		case bytecode.OpMultiply:
			if !binaryNumberOp(func(a, b float64) bytecode.Value { return bytecode.NumberVal(a * b) }) {
				return InterpretRuntimeError
			}

		case bytecode.OpDivide:
			// IEEE-754 semantics: x/0 yields an infinity or NaN, not an
			// error.
			if !binaryNumberOp(func(a, b float64) bytecode.Value { return bytecode.NumberVal(a / b) }) {
				return InterpretRuntimeError
			}

		case bytecode.OpNot:
			vm.push(bytecode.BoolVal(isFalsey(vm.pop())))

		case bytecode.OpNegate:
			if !vm.peek(0).IsNumber() {
				vm.runtimeError("Operand must be a number.")
				return InterpretRuntimeError
			}
			vm.push(bytecode.NumberVal(-vm.pop().AsNumber()))

		case bytecode.OpPrint:
			fmt.Fprintf(vm.fout, "%s\n", vm.pop())

		case bytecode.OpJump:
			offset := readShort()
			frame.ip += offset

		case bytecode.OpJumpIfFalse:
			offset := readShort()
			if isFalsey(vm.peek(0)) {
				frame.ip += offset
			}

		case bytecode.OpLoop:
			offset := readShort()
			frame.ip -= offset

		case bytecode.OpCall:
			argCount := int(readByte())
			if !vm.callValue(vm.peek(argCount), argCount) {
				return InterpretRuntimeError
			}
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpInvoke:
			method := readString()
			argCount := int(readByte())
			if !vm.invoke(method, argCount) {
				return InterpretRuntimeError
			}
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpSuperInvoke:
			method := readString()
			argCount := int(readByte())
			superclass := vm.pop().AsObj().(*bytecode.Class)
			if !vm.invokeFromClass(superclass, method, argCount) {
				return InterpretRuntimeError
			}
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpClosure:
			function := readConstant().AsObj().(*bytecode.Function)
			closure := vm.heap.NewClosure(function)
			vm.push(bytecode.ObjVal(closure))
			for i := range closure.Upvalues {
				isLocal := readByte()
				index := readByte()
				if isLocal == 1 {
					closure.Upvalues[i] = vm.captureUpvalue(frame.slots + int(index))
				} else {
					closure.Upvalues[i] = frame.closure.Upvalues[index]
				}
			}

		case bytecode.OpCloseUpvalue:
			vm.closeUpvalues(vm.stackTop - 1)
			vm.pop()

		case bytecode.OpClass:
			vm.push(bytecode.ObjVal(vm.heap.NewClass(readString())))

		case bytecode.OpInherit:
			superclass, ok := vm.peek(1).AsObj().(*bytecode.Class)
			if !ok {
				vm.runtimeError("Superclass must be a class.")
				return InterpretRuntimeError
			}
			subclass := vm.peek(0).AsObj().(*bytecode.Class)
			subclass.Methods.AddAll(&superclass.Methods)
			vm.pop()

		case bytecode.OpMethod:
			vm.defineMethod(readString())

		case bytecode.OpReturn:
			result := vm.pop()
			vm.closeUpvalues(frame.slots)
			vm.frameCount--
			if vm.frameCount == 0 {
				vm.pop()
				return InterpretOK
			}
			vm.stackTop = frame.slots
			vm.push(result)
			frame = &vm.frames[vm.frameCount-1]
		}
	}
}

// getIndex implements subscript reads for lists and maps.
func (vm *VM) getIndex() bool {
	switch container := vm.peek(1).AsObj().(type) {
	case *bytecode.List:
		if !vm.checkListIndex(vm.peek(1), vm.peek(0)) {
			return false
		}
		index := int(vm.pop().AsNumber())
		vm.pop()
		vm.push(container.Elements[index])
		return true
	case *bytecode.Map:
		if !vm.peek(0).IsString() {
			vm.runtimeError("Maps can only be indexed by string.")
			return false
		}
		key := vm.peek(0).AsString()
		if value, ok := container.Table.Get(key); ok {
			vm.pop() // key
			vm.pop() // map
			vm.push(value)
			return true
		}
		vm.runtimeError("Undefined key '%s'.", key.Chars)
		return false
	default:
		vm.runtimeError("Can only index lists or maps.")
		return false
	}
}

// setIndex implements subscript writes for lists and maps. Assignments
// evaluate to the stored value.
func (vm *VM) setIndex() bool {
	switch container := vm.peek(2).AsObj().(type) {
	case *bytecode.List:
		if !vm.checkListIndex(vm.peek(2), vm.peek(1)) {
			return false
		}
		value := vm.pop()
		index := int(vm.pop().AsNumber())
		vm.pop()
		container.Elements[index] = value
		vm.push(value)
		return true
	case *bytecode.Map:
		if !vm.peek(1).IsString() {
			vm.runtimeError("Maps can only be indexed by string.")
			return false
		}
		container.Table.Set(vm.peek(1).AsString(), vm.peek(0))
		value := vm.pop()
		vm.pop() // key
		vm.pop() // map
		vm.push(value)
		return true
	default:
		vm.runtimeError("Can only set index of lists or maps.")
		return false
	}
}

// traceInstruction prints the stack and the next instruction, the same
// listing the disassembler produces.
func (vm *VM) traceInstruction(frame *CallFrame) {
	fmt.Fprintf(vm.ferr, "          ")
	for i := 0; i < vm.stackTop; i++ {
		fmt.Fprintf(vm.ferr, "[ %s ]", vm.stack[i])
	}
	fmt.Fprintf(vm.ferr, "\n")
	bytecode.DisassembleInstruction(vm.ferr, frame.closure.Function.Chunk, frame.ip)
}
