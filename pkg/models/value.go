package models

import (
	"fmt"
	"math"
)

// Kind identifies the dynamic type held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInteger
	KindFloat
	KindText
	KindBytes
	// KindUnsupported marks a source value none of the other kinds can hold.
	// It survives until the encoder, which rejects it.
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindText:
		return "text"
	case KindBytes:
		return "bytes"
	case KindUnsupported:
		return "unsupported"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is the untyped "value" column of a row, modelled as a closed variant.
// The zero Value is Null.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    []byte
}

func Null() Value { return Value{} }
func Integer(v int64) Value { return Value{kind: KindInteger, i: v} }
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }
func Text(v string) Value { return Value{kind: KindText, s: v} }
func Bytes(v []byte) Value { return Value{kind: KindBytes, b: v} }
func unsupported(t string) Value { return Value{kind: KindUnsupported, s: t} }

// ValueOf maps a database/sql driver value onto a Value without coercion.
// Anything it does not recognise comes back as KindUnsupported carrying the
// Go type name.
func ValueOf(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case int64:
		return Integer(x)
	case int:
		return Integer(int64(x))
	case int32:
		return Integer(int64(x))
	case int16:
		return Integer(int64(x))
	case int8:
		return Integer(int64(x))
	case uint32:
		return Integer(int64(x))
	case uint16:
		return Integer(int64(x))
	case uint8:
		return Integer(int64(x))
	case uint64:
		if x > math.MaxInt64 {
			return unsupported("uint64")
		}
		return Integer(int64(x))
	case float64:
		return Float(x)
	case float32:
		return Float(float64(x))
	case string:
		return Text(x)
	case []byte:
		// database/sql reuses scan buffers
		cp := make([]byte, len(x))
		copy(cp, x)
		return Bytes(cp)
	default:
		return unsupported(fmt.Sprintf("%T", v))
	}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) Int() int64 { return v.i }
func (v Value) Float() float64 { return v.f }
func (v Value) Str() string {
	if v.kind != KindText {
		return ""
	}
	return v.s
}
func (v Value) Bytes() []byte { return v.b }

// TypeName is the source type of an unsupported value, or the kind name.
func (v Value) TypeName() string {
	if v.kind == KindUnsupported {
		return v.s
	}
	return v.kind.String()
}

// Interface returns the natural Go representation: nil, int64, float64,
// string or []byte. It returns false for KindUnsupported.
func (v Value) Interface() (any, bool) {
	switch v.kind {
	case KindNull:
		return nil, true
	case KindInteger:
		return v.i, true
	case KindFloat:
		return v.f, true
	case KindText:
		return v.s, true
	case KindBytes:
		return v.b, true
	default:
		return nil, false
	}
}

// Equal reports whether both values have the same kind and payload.
// Floats compare bitwise so NaN equals itself.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindInteger:
		return v.i == o.i
	case KindFloat:
		return math.Float64bits(v.f) == math.Float64bits(o.f)
	case KindText, KindUnsupported:
		return v.s == o.s
	case KindBytes:
		return string(v.b) == string(o.b)
	}
	return false
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindInteger:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindText:
		return fmt.Sprintf("%q", v.s)
	case KindBytes:
		return fmt.Sprintf("%x", v.b)
	default:
		return "<" + v.s + ">"
	}
}
