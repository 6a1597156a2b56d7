package bytecode

import "testing"

func TestValuesEqual(t *testing.T) {
	h := NewHeap()

	tests := []struct {
		name     string
		a, b     Value
		expected bool
	}{
		{"nil equals nil", NilVal(), NilVal(), true},
		{"equal numbers", NumberVal(1.5), NumberVal(1.5), true},
		{"unequal numbers", NumberVal(1), NumberVal(2), false},
		{"equal bools", BoolVal(true), BoolVal(true), true},
		{"unequal bools", BoolVal(true), BoolVal(false), false},
		{"nil is not false", NilVal(), BoolVal(false), false},
		{"number is not bool", NumberVal(1), BoolVal(true), false},
		{"zero is not nil", NumberVal(0), NilVal(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValuesEqual(tt.a, tt.b); got != tt.expected {
				t.Errorf("ValuesEqual(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.expected)
			}
		})
	}

	// Interned strings compare equal through identity.
	a := ObjVal(h.CopyString("ab"))
	b := ObjVal(h.CopyString("ab"))
	if !ValuesEqual(a, b) {
		t.Errorf("interned strings with equal contents should be equal")
	}
	c := ObjVal(h.CopyString("cd"))
	if ValuesEqual(a, c) {
		t.Errorf("distinct strings should not be equal")
	}
}

func TestDistinctObjectsNotEqual(t *testing.T) {
	h := NewHeap()
	a := ObjVal(h.NewList())
	b := ObjVal(h.NewList())
	if ValuesEqual(a, b) {
		t.Errorf("two empty lists are distinct objects and must not be equal")
	}
	if !ValuesEqual(a, a) {
		t.Errorf("a list must equal itself")
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		value    float64
		expected string
	}{
		{1, "1"},
		{55, "55"},
		{-7, "-7"},
		{0, "0"},
		{2.5, "2.5"},
		{0.1, "0.1"},
		{1e21, "1e+21"},
	}

	for _, tt := range tests {
		if got := FormatNumber(tt.value); got != tt.expected {
			t.Errorf("FormatNumber(%v) = %q, want %q", tt.value, got, tt.expected)
		}
	}
}

func TestValueString(t *testing.T) {
	h := NewHeap()

	fn := h.NewFunction()
	fn.Name = h.CopyString("fib")
	script := h.NewFunction()
	class := h.NewClass(h.CopyString("Point"))
	instance := h.NewInstance(class)

	tests := []struct {
		value    Value
		expected string
	}{
		{NilVal(), "nil"},
		{BoolVal(true), "true"},
		{BoolVal(false), "false"},
		{NumberVal(3), "3"},
		{ObjVal(h.CopyString("hi")), "hi"},
		{ObjVal(fn), "<fn fib>"},
		{ObjVal(script), "<script>"},
		{ObjVal(class), "Point"},
		{ObjVal(instance), "Point instance"},
	}

	for _, tt := range tests {
		if got := tt.value.String(); got != tt.expected {
			t.Errorf("String() = %q, want %q", got, tt.expected)
		}
	}
}

func TestListString(t *testing.T) {
	h := NewHeap()
	list := h.NewList()
	list.Elements = append(list.Elements, NumberVal(1), NumberVal(2), ObjVal(h.CopyString("x")))

	if got := ObjVal(list).String(); got != "[1, 2, x]" {
		t.Errorf("list prints as %q", got)
	}

	nested := h.NewList()
	nested.Elements = append(nested.Elements, ObjVal(list))
	if got := ObjVal(nested).String(); got != "[<list 3>]" {
		t.Errorf("nested list prints as %q", got)
	}
}

func TestMapString(t *testing.T) {
	h := NewHeap()
	m := h.NewMap()
	m.Table.Set(h.CopyString("k"), ObjVal(h.CopyString("v")))

	if got := ObjVal(m).String(); got != "{k: v}" {
		t.Errorf("map prints as %q", got)
	}
}
