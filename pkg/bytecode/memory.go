package bytecode

// The heap owns every object the compiler and VM allocate. Objects are
// threaded onto an intrusive singly-linked allocation list; a precise
// tri-color mark-sweep collector walks the roots, blackens the reachable
// graph through an explicit gray stack, prunes dead strings out of the
// intern set, then sweeps the list.
//
// Collection is triggered only at allocation points, before the new object
// exists, so a handler that has pushed its transient values onto the VM
// stack can allocate safely mid-operation.

const gcHeapGrowFactor = 2

// RootSource is implemented by owners of GC roots: the VM (stack, frames,
// globals, open upvalues, built-in classes) and an in-flight compilation
// (the chain of enclosing functions).
type RootSource interface {
	MarkRoots(h *Heap)
}

// Heap is the allocator and collector for one interpreter.
type Heap struct {
	objects        Object
	bytesAllocated int
	nextGC         int

	// Stress forces a collection on every allocation; tests use it to
	// shake out objects that were reachable only by accident.
	Stress bool

	// The gray stack is ordinary Go memory, deliberately outside the
	// tracked byte count so marking never re-enters the collector.
	grayStack []Object

	strings   Table // intern set; weak, pruned before each sweep
	roots     []RootSource
	tempRoots []Value
}

// NewHeap returns an empty heap with the first collection scheduled at 1 MiB.
func NewHeap() *Heap {
	return &Heap{nextGC: 1024 * 1024}
}

// AddRootSource registers an owner of roots to be marked on every collection.
func (h *Heap) AddRootSource(r RootSource) {
	h.roots = append(h.roots, r)
}

// RemoveRootSource unregisters a root source.
func (h *Heap) RemoveRootSource(r RootSource) {
	for i, existing := range h.roots {
		if existing == r {
			h.roots = append(h.roots[:i], h.roots[i+1:]...)
			return
		}
	}
}

// PushTempRoot pins a value across allocations that happen before it is
// linked into a reachable structure.
func (h *Heap) PushTempRoot(v Value) {
	h.tempRoots = append(h.tempRoots, v)
}

// PopTempRoot releases the most recently pinned value.
func (h *Heap) PopTempRoot() {
	h.tempRoots = h.tempRoots[:len(h.tempRoots)-1]
}

// BytesAllocated returns the tracked heap size.
func (h *Heap) BytesAllocated() int { return h.bytesAllocated }

// ObjectCount walks the allocation list; it exists for tests and tooling.
func (h *Heap) ObjectCount() int {
	n := 0
	for o := h.objects; o != nil; o = o.header().next {
		n++
	}
	return n
}

// StringCount returns the number of interned strings.
func (h *Heap) StringCount() int { return h.strings.Len() }

// register links a freshly constructed object into the allocation list.
// The collection check runs first, while the object is still unknown to
// the heap, mirroring an allocator that collects before carving out the
// new block.
func (h *Heap) register(obj Object, size int) {
	if h.Stress || h.bytesAllocated+size > h.nextGC {
		h.Collect()
	}
	h.bytesAllocated += size
	obj.header().next = h.objects
	h.objects = obj
}

// Collect runs a full mark-sweep cycle.
func (h *Heap) Collect() {
	h.markRoots()
	h.traceReferences()
	h.strings.removeWhite()
	h.sweep()

	h.nextGC = h.bytesAllocated * gcHeapGrowFactor
}

func (h *Heap) markRoots() {
	for _, r := range h.roots {
		r.MarkRoots(h)
	}
	for _, v := range h.tempRoots {
		h.MarkValue(v)
	}
}

// MarkValue grays the object behind v, if any.
func (h *Heap) MarkValue(v Value) {
	if v.IsObj() {
		h.MarkObject(v.AsObj())
	}
}

// MarkObject grays an object: sets its mark bit and queues it for tracing.
func (h *Heap) MarkObject(obj Object) {
	if obj == nil || obj.header().marked {
		return
	}
	obj.header().marked = true
	h.grayStack = append(h.grayStack, obj)
}

func (h *Heap) traceReferences() {
	for len(h.grayStack) > 0 {
		obj := h.grayStack[len(h.grayStack)-1]
		h.grayStack = h.grayStack[:len(h.grayStack)-1]
		h.blacken(obj)
	}
}

// blacken marks everything an object references. Strings and natives are
// leaves.
func (h *Heap) blacken(obj Object) {
	switch o := obj.(type) {
	case *String, *Native:
		// no references
	case *Upvalue:
		h.MarkValue(o.Closed)
	case *Function:
		// The top-level script has no name.
		if o.Name != nil {
			h.MarkObject(o.Name)
		}
		for _, constant := range o.Chunk.Constants {
			h.MarkValue(constant)
		}
	case *Closure:
		h.MarkObject(o.Function)
		// Slots stay nil until the CLOSURE instruction fills them.
		for _, upvalue := range o.Upvalues {
			if upvalue != nil {
				h.MarkObject(upvalue)
			}
		}
	case *Class:
		h.MarkObject(o.Name)
		o.Methods.mark(h)
	case *Instance:
		h.MarkObject(o.Class)
		o.Fields.mark(h)
	case *BoundMethod:
		h.MarkValue(o.Receiver)
		h.MarkObject(o.Method)
	case *List:
		for _, el := range o.Elements {
			h.MarkValue(el)
		}
	case *Map:
		o.Table.mark(h)
	}
}

// sweep unlinks unmarked objects and repaints survivors white for the next
// cycle.
func (h *Heap) sweep() {
	var previous Object
	object := h.objects
	for object != nil {
		hdr := object.header()
		if hdr.marked {
			hdr.marked = false
			previous = object
			object = hdr.next
			continue
		}

		unreached := object
		object = hdr.next
		if previous == nil {
			h.objects = object
		} else {
			previous.header().next = object
		}
		h.free(unreached)
	}
}

// free returns an object's bytes to the tracked pool and severs its links
// so nothing freed keeps the rest of the graph alive.
func (h *Heap) free(obj Object) {
	h.bytesAllocated -= objectSize(obj)
	obj.header().next = nil
}

// objectSize estimates the footprint of an object for the collection
// heuristic. The numbers track struct headers plus variable parts; they do
// not need to be exact, only monotone in real usage.
func objectSize(obj Object) int {
	switch o := obj.(type) {
	case *String:
		return 40 + len(o.Chars)
	case *Function:
		return 80 + len(o.Chunk.Code) + 8*len(o.Chunk.Constants)
	case *Native:
		return 24
	case *Closure:
		return 32 + 8*len(o.Upvalues)
	case *Upvalue:
		return 56
	case *Class:
		return 56
	case *Instance:
		return 56
	case *BoundMethod:
		return 48
	case *List:
		return 40 + 16*len(o.Elements)
	case *Map:
		return 56
	default:
		return 32
	}
}

// CopyString interns the given text, returning the canonical String.
func (h *Heap) CopyString(chars string) *String {
	return h.internString(chars)
}

// TakeString interns text the caller has already assembled, typically a
// concatenation result. With immutable Go strings it is the same operation
// as CopyString; both names survive because call sites read better with
// the distinction.
func (h *Heap) TakeString(chars string) *String {
	return h.internString(chars)
}

func (h *Heap) internString(chars string) *String {
	hash := hashString(chars)
	if interned := h.strings.FindString(chars, hash); interned != nil {
		return interned
	}

	str := &String{Chars: chars, Hash: hash}
	h.register(str, objectSize(str))
	h.strings.Set(str, NilVal())
	return str
}

// NewFunction allocates a blank function with an empty chunk.
func (h *Heap) NewFunction() *Function {
	fn := &Function{Chunk: NewChunk()}
	h.register(fn, objectSize(fn))
	return fn
}

// NewNative wraps a built-in function pointer.
func (h *Heap) NewNative(fn NativeFn) *Native {
	native := &Native{Function: fn}
	h.register(native, objectSize(native))
	return native
}

// NewClosure wraps a function with an upvalue vector sized to its
// descriptor count. Slots fill in as the CLOSURE instruction executes.
func (h *Heap) NewClosure(fn *Function) *Closure {
	closure := &Closure{
		Function: fn,
		Upvalues: make([]*Upvalue, fn.UpvalueCount),
	}
	h.register(closure, objectSize(closure))
	return closure
}

// NewUpvalue opens an upvalue over the given stack slot.
func (h *Heap) NewUpvalue(location *Value, slot int) *Upvalue {
	upvalue := &Upvalue{Location: location, Slot: slot}
	h.register(upvalue, objectSize(upvalue))
	return upvalue
}

// NewClass allocates a class with an empty method table.
func (h *Heap) NewClass(name *String) *Class {
	class := &Class{Name: name}
	h.register(class, objectSize(class))
	return class
}

// NewInstance allocates an instance with no fields.
func (h *Heap) NewInstance(class *Class) *Instance {
	instance := &Instance{Class: class}
	h.register(instance, objectSize(instance))
	return instance
}

// NewBoundMethod snaps a receiver onto a method closure.
func (h *Heap) NewBoundMethod(receiver Value, method *Closure) *BoundMethod {
	bound := &BoundMethod{Receiver: receiver, Method: method}
	h.register(bound, objectSize(bound))
	return bound
}

// NewList allocates an empty list.
func (h *Heap) NewList() *List {
	list := &List{}
	h.register(list, objectSize(list))
	return list
}

// NewMap allocates an empty map.
func (h *Heap) NewMap() *Map {
	m := &Map{}
	h.register(m, objectSize(m))
	return m
}
