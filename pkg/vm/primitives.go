// Package vm - built-in natives and the list/map method classes.
//
// Lists and maps have no user-visible class declarations; their methods
// live on two hidden classes the VM builds at startup and routes to during
// method invocation. The remaining natives are plain global functions.
package vm

import (
	"fmt"
	"time"

	"github.com/kristofer/lox/pkg/bytecode"
)

var processStart = time.Now()

// clockNative returns whole seconds since the epoch.
func clockNative(receiver bytecode.Value, args []bytecode.Value) (bytecode.Value, error) {
	return bytecode.NumberVal(float64(time.Now().Unix())), nil
}

// wallClockNative returns seconds of elapsed process time, for timing
// sections of a program.
func wallClockNative(receiver bytecode.Value, args []bytecode.Value) (bytecode.Value, error) {
	return bytecode.NumberVal(time.Since(processStart).Seconds()), nil
}

// printfNative prints each argument in order followed by a newline.
func (vm *VM) printfNative(receiver bytecode.Value, args []bytecode.Value) (bytecode.Value, error) {
	for _, arg := range args {
		fmt.Fprintf(vm.fout, "%s", arg)
	}
	fmt.Fprintf(vm.fout, "\n")
	return bytecode.BoolVal(true), nil
}

// errNative prints a message to the error stream.
func (vm *VM) errNative(receiver bytecode.Value, args []bytecode.Value) (bytecode.Value, error) {
	if len(args) != 1 {
		return bytecode.NilVal(), fmt.Errorf("Expected 1 argument but got %d", len(args))
	}
	if !args[0].IsString() {
		return bytecode.NilVal(), fmt.Errorf("Expected string argument.")
	}
	fmt.Fprintf(vm.ferr, "%s\n", args[0].AsString().Chars)
	return bytecode.BoolVal(true), nil
}

// defineNative installs a global native function. The name and the native
// ride the VM stack while the other is allocated so a collection between
// the two cannot reclaim either.
func (vm *VM) defineNative(name string, fn bytecode.NativeFn) {
	vm.push(bytecode.ObjVal(vm.heap.CopyString(name)))
	vm.push(bytecode.ObjVal(vm.heap.NewNative(fn)))
	vm.globals.Set(vm.stack[vm.stackTop-2].AsString(), vm.stack[vm.stackTop-1])
	vm.pop()
	vm.pop()
}

// defineNativeMethod installs a native into a built-in class's method
// table.
func (vm *VM) defineNativeMethod(class *bytecode.Class, name string, fn bytecode.NativeFn) {
	vm.push(bytecode.ObjVal(vm.heap.CopyString(name)))
	vm.push(bytecode.ObjVal(vm.heap.NewNative(fn)))
	class.Methods.Set(vm.stack[vm.stackTop-2].AsString(), vm.stack[vm.stackTop-1])
	vm.pop()
	vm.pop()
}

func (vm *VM) defineListClass() {
	name := vm.heap.CopyString("(List)")
	vm.push(bytecode.ObjVal(name))
	vm.listClass = vm.heap.NewClass(name)
	vm.pop()

	vm.defineNativeMethod(vm.listClass, "insert", vm.listInsert)
	vm.defineNativeMethod(vm.listClass, "push", vm.listPush)
	vm.defineNativeMethod(vm.listClass, "pop", vm.listPop)
	vm.defineNativeMethod(vm.listClass, "size", vm.listSize)
	vm.defineNativeMethod(vm.listClass, "remove", vm.listRemove)
}

func (vm *VM) defineMapClass() {
	name := vm.heap.CopyString("(Map)")
	vm.push(bytecode.ObjVal(name))
	vm.mapClass = vm.heap.NewClass(name)
	vm.pop()

	vm.defineNativeMethod(vm.mapClass, "count", vm.mapCount)
	vm.defineNativeMethod(vm.mapClass, "has", vm.mapHas)
	vm.defineNativeMethod(vm.mapClass, "remove", vm.mapRemove)
}

// checkNativeIndex mirrors the VM's index validation but reports through
// the native error path instead of writing diagnostics directly.
func checkNativeIndex(kind string, bounds int, indexValue bytecode.Value) error {
	if !indexValue.IsNumber() {
		return fmt.Errorf("%s must be a number.", kind)
	}
	indexNum := indexValue.AsNumber()
	if indexNum < 0 || indexNum >= float64(bounds) {
		return fmt.Errorf("%s (%s) out of bounds (%d)", kind, bytecode.FormatNumber(indexNum), bounds)
	}
	if float64(int(indexNum)) != indexNum {
		return fmt.Errorf("%s (%s) must be a whole number.", kind, bytecode.FormatNumber(indexNum))
	}
	return nil
}

func (vm *VM) listSize(receiver bytecode.Value, args []bytecode.Value) (bytecode.Value, error) {
	if len(args) != 0 {
		return bytecode.NilVal(), fmt.Errorf("Expected 0 arguments, got %d", len(args))
	}
	list := receiver.AsObj().(*bytecode.List)
	return bytecode.NumberVal(float64(len(list.Elements))), nil
}

func (vm *VM) listPush(receiver bytecode.Value, args []bytecode.Value) (bytecode.Value, error) {
	if len(args) != 1 {
		return bytecode.NilVal(), fmt.Errorf("Expected 1 arguments, got %d", len(args))
	}
	list := receiver.AsObj().(*bytecode.List)
	list.Elements = append(list.Elements, args[0])
	return bytecode.NilVal(), nil
}

func (vm *VM) listPop(receiver bytecode.Value, args []bytecode.Value) (bytecode.Value, error) {
	if len(args) != 0 {
		return bytecode.NilVal(), fmt.Errorf("Expected 0 arguments, got %d", len(args))
	}
	list := receiver.AsObj().(*bytecode.List)
	if len(list.Elements) == 0 {
		return bytecode.NilVal(), fmt.Errorf("Can't pop from empty list.")
	}
	return list.Remove(len(list.Elements) - 1), nil
}

func (vm *VM) listInsert(receiver bytecode.Value, args []bytecode.Value) (bytecode.Value, error) {
	if len(args) != 2 {
		return bytecode.NilVal(), fmt.Errorf("Expected 2 arguments, got %d", len(args))
	}
	list := receiver.AsObj().(*bytecode.List)
	if err := checkNativeIndex("List index", len(list.Elements), args[0]); err != nil {
		return bytecode.NilVal(), err
	}
	list.Insert(int(args[0].AsNumber()), args[1])
	return bytecode.NilVal(), nil
}

func (vm *VM) listRemove(receiver bytecode.Value, args []bytecode.Value) (bytecode.Value, error) {
	if len(args) != 1 {
		return bytecode.NilVal(), fmt.Errorf("Expected 1 arguments, got %d", len(args))
	}
	list := receiver.AsObj().(*bytecode.List)
	if err := checkNativeIndex("List index", len(list.Elements), args[0]); err != nil {
		return bytecode.NilVal(), err
	}
	return list.Remove(int(args[0].AsNumber())), nil
}

func (vm *VM) mapCount(receiver bytecode.Value, args []bytecode.Value) (bytecode.Value, error) {
	if len(args) != 0 {
		return bytecode.NilVal(), fmt.Errorf("Expected 0 arguments, got %d", len(args))
	}
	m := receiver.AsObj().(*bytecode.Map)
	return bytecode.NumberVal(float64(m.Table.Len())), nil
}

func (vm *VM) mapHas(receiver bytecode.Value, args []bytecode.Value) (bytecode.Value, error) {
	if len(args) != 1 {
		return bytecode.NilVal(), fmt.Errorf("Expected 1 argument, got %d", len(args))
	}
	if !args[0].IsString() {
		return bytecode.NilVal(), fmt.Errorf("Maps can only be indexed by string.")
	}
	m := receiver.AsObj().(*bytecode.Map)
	_, ok := m.Table.Get(args[0].AsString())
	return bytecode.BoolVal(ok), nil
}

func (vm *VM) mapRemove(receiver bytecode.Value, args []bytecode.Value) (bytecode.Value, error) {
	if len(args) != 1 {
		return bytecode.NilVal(), fmt.Errorf("Expected 1 arguments, got %d", len(args))
	}
	if !args[0].IsString() {
		return bytecode.NilVal(), fmt.Errorf("Maps can only be indexed by string.")
	}
	m := receiver.AsObj().(*bytecode.Map)
	return bytecode.BoolVal(m.Table.Delete(args[0].AsString())), nil
}
