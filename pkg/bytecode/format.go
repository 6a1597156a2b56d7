package bytecode

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Binary chunk format. A compiled script serializes as its top-level
// function; function constants nest recursively, so one header covers the
// whole graph.
//
//	magic   "LOXB"
//	version u16
//	function:
//	  arity u32, upvalueCount u32
//	  name: tag-prefixed string or nil
//	  chunk:
//	    code length u32, code bytes
//	    line count u32, lines as u32
//	    constant count u32, tag-prefixed values
//
// Only compile-time value kinds appear in a constant pool: nil, booleans,
// numbers, strings, and nested functions.

const formatVersion = 1

var formatMagic = [4]byte{'L', 'O', 'X', 'B'}

const (
	tagNil byte = iota
	tagFalse
	tagTrue
	tagNumber
	tagString
	tagFunction
)

// Encode writes a compiled function graph to w.
func Encode(fn *Function, w io.Writer) error {
	if _, err := w.Write(formatMagic[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint16(formatVersion)); err != nil {
		return err
	}
	return encodeFunction(w, fn)
}

// Decode reads a function graph from r, interning its strings into the
// given heap. The returned function is not yet rooted; the caller must
// anchor it before the next allocation.
func Decode(r io.Reader, h *Heap) (*Function, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("reading magic: %w", err)
	}
	if magic != formatMagic {
		return nil, fmt.Errorf("not a lox bytecode file")
	}
	var version uint16
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, err
	}
	if version != formatVersion {
		return nil, fmt.Errorf("unsupported bytecode version %d", version)
	}
	fn, err := decodeFunction(r, h)
	if err != nil {
		return nil, err
	}
	return fn, nil
}

func encodeFunction(w io.Writer, fn *Function) error {
	if err := binary.Write(w, binary.BigEndian, uint32(fn.Arity)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(fn.UpvalueCount)); err != nil {
		return err
	}
	if fn.Name == nil {
		if err := writeByte(w, tagNil); err != nil {
			return err
		}
	} else {
		if err := writeByte(w, tagString); err != nil {
			return err
		}
		if err := encodeString(w, fn.Name.Chars); err != nil {
			return err
		}
	}
	return encodeChunk(w, fn.Chunk)
}

func encodeChunk(w io.Writer, chunk *Chunk) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(chunk.Code))); err != nil {
		return err
	}
	if _, err := w.Write(chunk.Code); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(chunk.Lines))); err != nil {
		return err
	}
	for _, line := range chunk.Lines {
		if err := binary.Write(w, binary.BigEndian, uint32(line)); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(chunk.Constants))); err != nil {
		return err
	}
	for _, constant := range chunk.Constants {
		if err := encodeValue(w, constant); err != nil {
			return err
		}
	}
	return nil
}

func encodeValue(w io.Writer, v Value) error {
	switch v.Type() {
	case ValNil:
		return writeByte(w, tagNil)
	case ValBool:
		if v.AsBool() {
			return writeByte(w, tagTrue)
		}
		return writeByte(w, tagFalse)
	case ValNumber:
		if err := writeByte(w, tagNumber); err != nil {
			return err
		}
		return binary.Write(w, binary.BigEndian, math.Float64bits(v.AsNumber()))
	case ValObj:
		switch o := v.AsObj().(type) {
		case *String:
			if err := writeByte(w, tagString); err != nil {
				return err
			}
			return encodeString(w, o.Chars)
		case *Function:
			if err := writeByte(w, tagFunction); err != nil {
				return err
			}
			return encodeFunction(w, o)
		}
	}
	return fmt.Errorf("cannot serialize constant %s", v)
}

func decodeFunction(r io.Reader, h *Heap) (*Function, error) {
	var arity, upvalueCount uint32
	if err := binary.Read(r, binary.BigEndian, &arity); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.BigEndian, &upvalueCount); err != nil {
		return nil, err
	}

	fn := h.NewFunction()
	// Pin while the rest of the body allocates strings and nested
	// functions.
	h.PushTempRoot(ObjVal(fn))
	defer h.PopTempRoot()

	fn.Arity = int(arity)
	fn.UpvalueCount = int(upvalueCount)

	tag, err := readByte(r)
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagNil:
	case tagString:
		name, err := decodeString(r)
		if err != nil {
			return nil, err
		}
		fn.Name = h.CopyString(name)
	default:
		return nil, fmt.Errorf("bad function name tag %d", tag)
	}

	if err := decodeChunk(r, h, fn.Chunk); err != nil {
		return nil, err
	}
	return fn, nil
}

func decodeChunk(r io.Reader, h *Heap, chunk *Chunk) error {
	var codeLen uint32
	if err := binary.Read(r, binary.BigEndian, &codeLen); err != nil {
		return err
	}
	chunk.Code = make([]byte, codeLen)
	if _, err := io.ReadFull(r, chunk.Code); err != nil {
		return err
	}

	var lineCount uint32
	if err := binary.Read(r, binary.BigEndian, &lineCount); err != nil {
		return err
	}
	chunk.Lines = make([]int, lineCount)
	for i := range chunk.Lines {
		var line uint32
		if err := binary.Read(r, binary.BigEndian, &line); err != nil {
			return err
		}
		chunk.Lines[i] = int(line)
	}

	var constantCount uint32
	if err := binary.Read(r, binary.BigEndian, &constantCount); err != nil {
		return err
	}
	for i := uint32(0); i < constantCount; i++ {
		v, err := decodeValue(r, h)
		if err != nil {
			return err
		}
		chunk.AddConstant(v)
	}
	return nil
}

func decodeValue(r io.Reader, h *Heap) (Value, error) {
	tag, err := readByte(r)
	if err != nil {
		return NilVal(), err
	}
	switch tag {
	case tagNil:
		return NilVal(), nil
	case tagFalse:
		return BoolVal(false), nil
	case tagTrue:
		return BoolVal(true), nil
	case tagNumber:
		var bits uint64
		if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
			return NilVal(), err
		}
		return NumberVal(math.Float64frombits(bits)), nil
	case tagString:
		s, err := decodeString(r)
		if err != nil {
			return NilVal(), err
		}
		return ObjVal(h.CopyString(s)), nil
	case tagFunction:
		fn, err := decodeFunction(r, h)
		if err != nil {
			return NilVal(), err
		}
		return ObjVal(fn), nil
	default:
		return NilVal(), fmt.Errorf("bad constant tag %d", tag)
	}
}

func encodeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func decodeString(r io.Reader) (string, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return "", err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

func readByte(r io.Reader) (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}
