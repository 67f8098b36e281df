// Package typedvalue defines the tagged value union the Codec interface
// hands back from field lookups (spec.md §6), generalizing the teacher's
// DynamoDB AttributeValue tagging (dynamodb/index/val.SpecKind,
// dynamodb/table.KeyKind) down to the six kinds this record layer's
// histograms and cost estimator need to agree on.
package typedvalue

import (
	"bytes"
	"fmt"
)

// Kind tags the dynamic type carried by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "i64"
	case KindFloat:
		return "f64"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// Value is a typed, comparable value produced by Codec.FieldValue and
// consumed by filters, key expressions, and the statistics histogram.
// Exactly one field besides Kind is meaningful, matching the Kind.
type Value struct {
	Kind Kind
	B    bool
	I    int64
	F    float64
	S    string
	Bs   []byte
}

func Null() Value                { return Value{Kind: KindNull} }
func Bool(b bool) Value          { return Value{Kind: KindBool, B: b} }
func Int(i int64) Value          { return Value{Kind: KindInt, I: i} }
func Float(f float64) Value      { return Value{Kind: KindFloat, F: f} }
func String(s string) Value      { return Value{Kind: KindString, S: s} }
func Bytes(b []byte) Value       { return Value{Kind: KindBytes, Bs: b} }
func (v Value) IsNull() bool     { return v.Kind == KindNull }

// kindRank fixes the cross-type total order the spec's histogram depends on:
// null < bool < int < float < string < bytes.
func kindRank(k Kind) int {
	switch k {
	case KindNull:
		return 0
	case KindBool:
		return 1
	case KindInt:
		return 2
	case KindFloat:
		return 3
	case KindString:
		return 4
	case KindBytes:
		return 5
	default:
		return 6
	}
}

// Compare imposes the total order: null < bool < int < float < string <
// bytes across kinds, and the natural order within a kind.
func Compare(a, b Value) int {
	if a.Kind != b.Kind {
		ra, rb := kindRank(a.Kind), kindRank(b.Kind)
		switch {
		case ra < rb:
			return -1
		case ra > rb:
			return 1
		default:
			return 0
		}
	}
	switch a.Kind {
	case KindNull:
		return 0
	case KindBool:
		if a.B == b.B {
			return 0
		}
		if !a.B {
			return -1
		}
		return 1
	case KindInt:
		switch {
		case a.I < b.I:
			return -1
		case a.I > b.I:
			return 1
		default:
			return 0
		}
	case KindFloat:
		switch {
		case a.F < b.F:
			return -1
		case a.F > b.F:
			return 1
		default:
			return 0
		}
	case KindString:
		return cmpString(a.S, b.S)
	case KindBytes:
		return bytes.Compare(a.Bs, b.Bs)
	default:
		return 0
	}
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Equal reports whether a and b represent the same typed value.
func Equal(a, b Value) bool { return Compare(a, b) == 0 }

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.B)
	case KindInt:
		return fmt.Sprintf("%d", v.I)
	case KindFloat:
		return fmt.Sprintf("%g", v.F)
	case KindString:
		return v.S
	case KindBytes:
		return fmt.Sprintf("%x", v.Bs)
	default:
		return "<invalid>"
	}
}

// TupleElement converts the Value into the raw element form the tuple
// package expects — so key expressions can embed field values directly in a
// primary-key or index-key tuple.
func (v Value) TupleElement() any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.B
	case KindInt:
		return v.I
	case KindFloat:
		return v.F
	case KindString:
		return v.S
	case KindBytes:
		return v.Bs
	default:
		return nil
	}
}
