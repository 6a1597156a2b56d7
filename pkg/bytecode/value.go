package bytecode

import "strconv"

// ValueType tags the payload carried by a Value.
type ValueType int

const (
	ValNil ValueType = iota
	ValBool
	ValNumber
	ValObj
)

// Value is the tagged union every lox computation traffics in. Numbers are
// IEEE-754 doubles; everything heavier lives on the heap behind an Object.
type Value struct {
	typ    ValueType
	number float64
	obj    Object
}

// NilVal returns the nil value.
func NilVal() Value { return Value{typ: ValNil} }

// BoolVal wraps a Go bool. True is stored in the number payload so the
// struct needs no separate bool field.
func BoolVal(b bool) Value {
	v := Value{typ: ValBool}
	if b {
		v.number = 1
	}
	return v
}

// NumberVal wraps an IEEE-754 double.
func NumberVal(f float64) Value { return Value{typ: ValNumber, number: f} }

// ObjVal wraps a heap object.
func ObjVal(o Object) Value { return Value{typ: ValObj, obj: o} }

func (v Value) Type() ValueType { return v.typ }

func (v Value) IsNil() bool    { return v.typ == ValNil }
func (v Value) IsBool() bool   { return v.typ == ValBool }
func (v Value) IsNumber() bool { return v.typ == ValNumber }
func (v Value) IsObj() bool    { return v.typ == ValObj }

func (v Value) AsBool() bool      { return v.number != 0 }
func (v Value) AsNumber() float64 { return v.number }
func (v Value) AsObj() Object     { return v.obj }

// IsString reports whether the value is a heap string.
func (v Value) IsString() bool {
	_, ok := v.obj.(*String)
	return v.typ == ValObj && ok
}

// AsString returns the underlying string object. It panics if the value is
// not a string; guard with IsString.
func (v Value) AsString() *String { return v.obj.(*String) }

// ValuesEqual implements lox equality: same-tag numeric ==, nil == nil, and
// identity for heap objects. Interning makes identity the right answer for
// strings too.
func ValuesEqual(a, b Value) bool {
	if a.typ != b.typ {
		return false
	}
	switch a.typ {
	case ValNil:
		return true
	case ValBool:
		return a.AsBool() == b.AsBool()
	case ValNumber:
		return a.AsNumber() == b.AsNumber()
	case ValObj:
		return a.obj == b.obj
	default:
		return false
	}
}

// FormatNumber renders a double the way print does: integer-valued doubles
// without a fractional part, everything else with the shortest
// representation that round-trips.
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// String returns the print representation of the value.
func (v Value) String() string {
	switch v.typ {
	case ValNil:
		return "nil"
	case ValBool:
		if v.AsBool() {
			return "true"
		}
		return "false"
	case ValNumber:
		return FormatNumber(v.AsNumber())
	case ValObj:
		return v.obj.String()
	default:
		return "nil"
	}
}
