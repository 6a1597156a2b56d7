package bytecode

import (
	"strconv"
	"strings"
)

// ObjectType tags a heap object kind.
type ObjectType int

const (
	ObjBoundMethod ObjectType = iota
	ObjClass
	ObjClosure
	ObjUpvalue
	ObjFunction
	ObjInstance
	ObjList
	ObjMap
	ObjNative
	ObjString
)

// Object is implemented by every heap object. Objects carry a mark bit and
// an intrusive link forming the heap's allocation list; both live in the
// embedded header, which also keeps the interface closed to this package.
type Object interface {
	Type() ObjectType
	String() string
	header() *objHeader
}

type objHeader struct {
	marked bool
	next   Object
}

func (h *objHeader) header() *objHeader { return h }

// String is an interned immutable string with its FNV-1a hash precomputed
// at creation so table probes never rehash.
type String struct {
	objHeader
	Chars string
	Hash  uint32
}

func (s *String) Type() ObjectType { return ObjString }
func (s *String) String() string   { return s.Chars }

// Function is the compile target: a chunk of bytecode plus the metadata
// the VM needs to call it. Functions are not directly callable at the
// source level; the VM wraps them in closures.
type Function struct {
	objHeader
	Arity        int
	UpvalueCount int
	Chunk        *Chunk
	Name         *String
}

func (f *Function) Type() ObjectType { return ObjFunction }
func (f *Function) String() string {
	if f.Name == nil {
		return "<script>"
	}
	return "<fn " + f.Name.Chars + ">"
}

// NativeFn is the signature of a built-in. The receiver is the value sitting
// in the callee slot: the bound object for method-style natives, the native
// itself for plain function natives. Returning a non-nil error aborts the
// program with a runtime error.
type NativeFn func(receiver Value, args []Value) (Value, error)

// Native wraps a built-in function pointer.
type Native struct {
	objHeader
	Function NativeFn
}

func (n *Native) Type() ObjectType { return ObjNative }
func (n *Native) String() string   { return "<native fn>" }

// Upvalue is the indirection a closure reads a captured variable through.
// While the variable is live on the stack the upvalue is "open": Location
// points at the stack slot and Slot records its index so the VM can keep
// its open-upvalue list sorted. Closing copies the value into Closed and
// retargets Location at it.
type Upvalue struct {
	objHeader
	Location *Value
	Closed   Value
	Slot     int
	Next     *Upvalue
}

func (u *Upvalue) Type() ObjectType { return ObjUpvalue }
func (u *Upvalue) String() string   { return "upvalue" }

// Closure pairs a function with the upvalues captured at the point the
// CLOSURE instruction ran.
type Closure struct {
	objHeader
	Function *Function
	Upvalues []*Upvalue
}

func (c *Closure) Type() ObjectType { return ObjClosure }
func (c *Closure) String() string   { return c.Function.String() }

// Class holds a name and a method table keyed by interned selector.
type Class struct {
	objHeader
	Name    *String
	Methods Table
}

func (c *Class) Type() ObjectType { return ObjClass }
func (c *Class) String() string   { return c.Name.Chars }

// Instance is a bag of fields attached to a class.
type Instance struct {
	objHeader
	Class  *Class
	Fields Table
}

func (i *Instance) Type() ObjectType { return ObjInstance }
func (i *Instance) String() string   { return i.Class.Name.Chars + " instance" }

// BoundMethod is a closure snapped together with the receiver it was
// looked up on, so it can be passed around and called later.
type BoundMethod struct {
	objHeader
	Receiver Value
	Method   *Closure
}

func (b *BoundMethod) Type() ObjectType { return ObjBoundMethod }
func (b *BoundMethod) String() string   { return b.Method.Function.String() }

// List is a growable array of values.
type List struct {
	objHeader
	Elements []Value
}

func (l *List) Type() ObjectType { return ObjList }
func (l *List) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, el := range l.Elements {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(valueC(el))
	}
	b.WriteByte(']')
	return b.String()
}

// Insert places v at index i, shifting later elements right.
func (l *List) Insert(i int, v Value) {
	l.Elements = append(l.Elements, NilVal())
	copy(l.Elements[i+1:], l.Elements[i:])
	l.Elements[i] = v
}

// Remove deletes and returns the element at index i.
func (l *List) Remove(i int) Value {
	v := l.Elements[i]
	copy(l.Elements[i:], l.Elements[i+1:])
	l.Elements = l.Elements[:len(l.Elements)-1]
	return v
}

// Map is a hash table with interned-string keys.
type Map struct {
	objHeader
	Table Table
}

func (m *Map) Type() ObjectType { return ObjMap }
func (m *Map) String() string {
	var b strings.Builder
	b.WriteByte('{')
	first := true
	m.Table.Range(func(key *String, value Value) bool {
		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString(key.Chars)
		b.WriteString(": ")
		b.WriteString(valueC(value))
		return true
	})
	b.WriteByte('}')
	return b.String()
}

// valueC renders a value for display inside a container. Nested containers
// print as summaries so cyclic structures terminate.
func valueC(v Value) string {
	if v.IsObj() {
		switch o := v.AsObj().(type) {
		case *List:
			return "<list " + strconv.Itoa(len(o.Elements)) + ">"
		case *Map:
			return "<map>"
		}
	}
	return v.String()
}

// hashString computes the 32-bit FNV-1a hash used by the string table.
func hashString(s string) uint32 {
	var hash uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		hash ^= uint32(s[i])
		hash *= 16777619
	}
	return hash
}
