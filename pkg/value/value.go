// Package value defines the uniform Value representation
// shared by the compiler, the bytecode chunk's constant pool, and the VM.
//
// A Value is nil, a boolean, a double-precision number, or a reference to a
// heap object. This implementation represents it as a small discriminated
// union struct rather than a NaN-boxed uint64 — the spec treats NaN-boxing as
// an optimization, not a contract, and a tagged struct is equally conformant
// while staying ordinary, GC-friendly Go.
package value

import "strconv"

// Type tags which alternative of the Value union is populated.
type Type int

const (
	TypeNil Type = iota
	TypeBool
	TypeNumber
	TypeObject
)

// Obj is the header every heap object variant embeds. The garbage collector
// walks objects purely through this header: IsMarked for the tri-color
// mark bit. Next is not used: the heap keeps its allocations in a slice
// rather than an intrusive list.
type Obj struct {
	Type     ObjType
	IsMarked bool
	Next     Object
}

// ObjType discriminates the heap object variants defined in package object.
// Declared here (rather than in package object) so that Value can reference
// it without a circular import.
type ObjType int

const (
	ObjTypeString ObjType = iota
	ObjTypeFunction
	ObjTypeNative
	ObjTypeClosure
	ObjTypeUpvalue
	ObjTypeClass
	ObjTypeInstance
	ObjTypeBoundMethod
)

func (t ObjType) String() string {
	switch t {
	case ObjTypeString:
		return "string"
	case ObjTypeFunction:
		return "function"
	case ObjTypeNative:
		return "native"
	case ObjTypeClosure:
		return "closure"
	case ObjTypeUpvalue:
		return "upvalue"
	case ObjTypeClass:
		return "class"
	case ObjTypeInstance:
		return "instance"
	case ObjTypeBoundMethod:
		return "bound method"
	default:
		return "unknown"
	}
}

// Object is implemented by every heap object variant. Header returns the
// shared Obj embedded in the concrete type; String formats the value the way
// `print` should display it.
type Object interface {
	Header() *Obj
	String() string
}

// Header makes Obj itself satisfy part of Object: any type embedding Obj by
// value promotes this method automatically, so concrete object types need
// not implement it by hand.
func (o *Obj) Header() *Obj { return o }

// ObjTypeOf returns the heap object's dynamic type tag.
func ObjTypeOf(o Object) ObjType { return o.Header().Type }

// Value is a single loxvm runtime value.
type Value struct {
	typ    Type
	boolean bool
	number  float64
	obj     Object
}

// Nil is the loxvm nil value.
var Nil = Value{typ: TypeNil}

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{typ: TypeBool, boolean: b} }

// Number wraps a float64.
func Number(n float64) Value { return Value{typ: TypeNumber, number: n} }

// FromObject wraps a heap object reference.
func FromObject(o Object) Value { return Value{typ: TypeObject, obj: o} }

// Type reports which alternative is populated.
func (v Value) Type() Type { return v.typ }

func (v Value) IsNil() bool    { return v.typ == TypeNil }
func (v Value) IsBool() bool   { return v.typ == TypeBool }
func (v Value) IsNumber() bool { return v.typ == TypeNumber }
func (v Value) IsObject() bool { return v.typ == TypeObject }

// IsObjType reports whether v is a heap object of the given dynamic type.
func (v Value) IsObjType(t ObjType) bool {
	return v.typ == TypeObject && v.obj.Header().Type == t
}

func (v Value) AsBool() bool     { return v.boolean }
func (v Value) AsNumber() float64 { return v.number }
func (v Value) AsObject() Object  { return v.obj }

// IsFalsey implements loxvm truthiness: nil and false are falsey, everything
// else (including 0, "", and an empty instance) is truthy.
func (v Value) IsFalsey() bool {
	return v.IsNil() || (v.IsBool() && !v.AsBool())
}

// Equal implements loxvm value equality (spec §3): nil==nil; booleans and
// numbers by value; heap objects (including strings, which are interned) by
// identity.
func Equal(a, b Value) bool {
	if a.typ != b.typ {
		return false
	}
	switch a.typ {
	case TypeNil:
		return true
	case TypeBool:
		return a.boolean == b.boolean
	case TypeNumber:
		return a.number == b.number
	case TypeObject:
		return a.obj == b.obj
	default:
		return false
	}
}

// String formats v the way `print` displays it (spec §6: numbers use the
// minimal %g-equivalent representation, booleans print true/false, nil
// prints nil, heap objects defer to their own String method).
func (v Value) String() string {
	switch v.typ {
	case TypeNil:
		return "nil"
	case TypeBool:
		if v.boolean {
			return "true"
		}
		return "false"
	case TypeNumber:
		return FormatNumber(v.number)
	case TypeObject:
		return v.obj.String()
	default:
		return "<invalid value>"
	}
}

// FormatNumber renders a float64 the way clox's NUMBER_VAL printer does:
// the shortest decimal that round-trips, with no trailing ".0" (7, not
// 7.0) and no forced exponent form for ordinary magnitudes.
func FormatNumber(n float64) string {
	return strconv.FormatFloat(n, 'g', -1, 64)
}
