// Binary serialization for compiled loxvm scripts, carried forward from
// the teacher's .sg bytecode file format and adapted to this object model.
//
// File Format Layout:
//
//   [Header]
//     Magic Number (4 bytes): 0x4C4F5843 ("LOXC"), little-endian, so the
//       file's first four bytes read "CXOL"
//     Version (4 bytes): format version, currently 1
//
//   [Function]
//     Name (string)
//     Arity (4 bytes)
//     UpvalueCount (4 bytes)
//     Chunk
//
//   [Chunk]
//     Code length (4 bytes) + raw code bytes
//     Line run count (4 bytes), then for each run: StartOffset, Line (4 bytes each)
//     Constant count (4 bytes), then each constant
//
// Constant Types:
//   0x01 = Nil
//   0x02 = Bool (1 byte: 0 or 1)
//   0x03 = Number (float64, 8 bytes)
//   0x04 = String (4-byte length + UTF-8 bytes)
//   0x05 = Function (recursive Function section)
//
// Only the constant kinds that can legally appear in a chunk's constant
// pool at compile time are representable here: numbers, strings, and
// nested function prototypes. Classes, instances, closures, and bound
// methods only ever exist at runtime and never appear in a constant pool.
package object

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/kristofer/loxvm/pkg/bytecode"
	"github.com/kristofer/loxvm/pkg/value"
)

const (
	magicNumber   uint32 = 0x4C4F5843
	formatVersion uint32 = 1
)

const (
	constTypeNil      byte = 0x01
	constTypeBool     byte = 0x02
	constTypeNumber   byte = 0x03
	constTypeString   byte = 0x04
	constTypeFunction byte = 0x05
)

// Encode serializes fn (typically the top-level script function returned
// by the compiler) to w, including every function nested in its constant
// pool.
func Encode(fn *ObjFunction, w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, magicNumber); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, formatVersion); err != nil {
		return fmt.Errorf("write version: %w", err)
	}
	return writeFunction(w, fn)
}

// Decode reads a function previously written by Encode. intern is called
// for every string constant encountered; pass a heap's InternString to
// fold decoded strings into its intern table before the function is run,
// or nil (as disassembly does, which never executes the result) to get
// plain, uninterned *ObjStrings instead.
func Decode(r io.Reader, intern func(string) *ObjString) (*ObjFunction, error) {
	var magic uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if magic != magicNumber {
		return nil, fmt.Errorf("not a loxvm bytecode file (bad magic 0x%08X)", magic)
	}
	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	if version != formatVersion {
		return nil, fmt.Errorf("unsupported bytecode version %d (expected %d)", version, formatVersion)
	}
	if intern == nil {
		intern = NewString
	}
	return readFunction(r, intern)
}

func writeFunction(w io.Writer, fn *ObjFunction) error {
	if err := writeString(w, fn.Name); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, int32(fn.Arity)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, int32(fn.UpvalueCount)); err != nil {
		return err
	}
	return writeChunk(w, fn.Chunk)
}

func readFunction(r io.Reader, intern func(string) *ObjString) (*ObjFunction, error) {
	name, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("read function name: %w", err)
	}
	var arity, upvalueCount int32
	if err := binary.Read(r, binary.LittleEndian, &arity); err != nil {
		return nil, fmt.Errorf("read arity: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &upvalueCount); err != nil {
		return nil, fmt.Errorf("read upvalue count: %w", err)
	}
	chunk, err := readChunk(r, intern)
	if err != nil {
		return nil, fmt.Errorf("read chunk: %w", err)
	}
	fn := NewFunction()
	fn.Name = name
	fn.Arity = int(arity)
	fn.UpvalueCount = int(upvalueCount)
	fn.Chunk = chunk
	return fn, nil
}

func writeChunk(w io.Writer, c *bytecode.Chunk) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(c.Code))); err != nil {
		return err
	}
	if _, err := w.Write(c.Code); err != nil {
		return err
	}

	runs := c.LineRuns()
	if err := binary.Write(w, binary.LittleEndian, uint32(len(runs))); err != nil {
		return err
	}
	for _, run := range runs {
		if err := binary.Write(w, binary.LittleEndian, int32(run.StartOffset)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, int32(run.Line)); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(c.Constants))); err != nil {
		return err
	}
	for i, v := range c.Constants {
		if err := writeConstant(w, v); err != nil {
			return fmt.Errorf("constant %d: %w", i, err)
		}
	}
	return nil
}

func readChunk(r io.Reader, intern func(string) *ObjString) (*bytecode.Chunk, error) {
	var codeLen uint32
	if err := binary.Read(r, binary.LittleEndian, &codeLen); err != nil {
		return nil, err
	}
	code := make([]byte, codeLen)
	if _, err := io.ReadFull(r, code); err != nil {
		return nil, err
	}

	var runCount uint32
	if err := binary.Read(r, binary.LittleEndian, &runCount); err != nil {
		return nil, err
	}
	runs := make([]bytecode.LineRun, runCount)
	for i := range runs {
		var startOffset, line int32
		if err := binary.Read(r, binary.LittleEndian, &startOffset); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &line); err != nil {
			return nil, err
		}
		runs[i] = bytecode.LineRun{StartOffset: int(startOffset), Line: int(line)}
	}

	var constCount uint32
	if err := binary.Read(r, binary.LittleEndian, &constCount); err != nil {
		return nil, err
	}
	constants := make([]value.Value, constCount)
	for i := range constants {
		v, err := readConstant(r, intern)
		if err != nil {
			return nil, fmt.Errorf("constant %d: %w", i, err)
		}
		constants[i] = v
	}

	c := bytecode.New()
	c.Code = code
	c.Constants = constants
	c.SetLineRuns(runs)
	return c, nil
}

func writeConstant(w io.Writer, v value.Value) error {
	switch {
	case v.IsNil():
		return binary.Write(w, binary.LittleEndian, constTypeNil)
	case v.IsBool():
		if err := binary.Write(w, binary.LittleEndian, constTypeBool); err != nil {
			return err
		}
		var b byte
		if v.AsBool() {
			b = 1
		}
		return binary.Write(w, binary.LittleEndian, b)
	case v.IsNumber():
		if err := binary.Write(w, binary.LittleEndian, constTypeNumber); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, v.AsNumber())
	case v.IsObjType(value.ObjTypeString):
		if err := binary.Write(w, binary.LittleEndian, constTypeString); err != nil {
			return err
		}
		return writeString(w, v.AsObject().(*ObjString).Chars)
	case v.IsObjType(value.ObjTypeFunction):
		if err := binary.Write(w, binary.LittleEndian, constTypeFunction); err != nil {
			return err
		}
		return writeFunction(w, v.AsObject().(*ObjFunction))
	default:
		return fmt.Errorf("value of type %v cannot appear in a serialized constant pool", v.Type())
	}
}

func readConstant(r io.Reader, intern func(string) *ObjString) (value.Value, error) {
	var tag byte
	if err := binary.Read(r, binary.LittleEndian, &tag); err != nil {
		return value.Nil, err
	}
	switch tag {
	case constTypeNil:
		return value.Nil, nil
	case constTypeBool:
		var b byte
		if err := binary.Read(r, binary.LittleEndian, &b); err != nil {
			return value.Nil, err
		}
		return value.Bool(b != 0), nil
	case constTypeNumber:
		var n float64
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return value.Nil, err
		}
		return value.Number(n), nil
	case constTypeString:
		s, err := readString(r)
		if err != nil {
			return value.Nil, err
		}
		return value.FromObject(intern(s)), nil
	case constTypeFunction:
		fn, err := readFunction(r, intern)
		if err != nil {
			return value.Nil, err
		}
		return value.FromObject(fn), nil
	default:
		return value.Nil, fmt.Errorf("unknown constant tag 0x%02X", tag)
	}
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return "", err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
