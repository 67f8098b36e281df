// Package schema defines RecordTypes, KeyExpressions, and Index
// definitions — the fully-resolved Schema data structure the record layer
// core consumes (spec.md §6). The shape generalizes the teacher's
// index.PrimaryIndex / index.SecondaryIndex / val.ValDef trio
// (dynamodb/index/primary_index.go, dynamodb/index/val/key.go) from
// DynamoDB's two-component (partition, sort) key into an arbitrary-arity
// KeyExpression tree evaluated against a codec.Codec.
package schema

import (
	"fmt"

	"golang.org/x/exp/constraints"

	"github.com/acksell/recordlayer/codec"
	"github.com/acksell/recordlayer/tuple"
)

// KeyExpression is a tree of Field, Concatenate and Const nodes that
// projects a record into a tuple.Tuple. Evaluation must be pure and
// deterministic (spec.md §3.2, KeyExpression invariant).
type KeyExpression interface {
	Evaluate(recordType string, record any, c codec.Codec) (tuple.Tuple, error)
	// HasField reports whether this expression reads the given top-level or
	// dotted field path anywhere in its tree. The plan enumerator matches
	// predicates to an index through LeadingField, not HasField.
	HasField(path string) bool
	// LeadingField returns the field path of the first component this
	// expression contributes to a key tuple, used to decide whether a
	// simple equality/range predicate can drive an index scan.
	LeadingField() (string, bool)
	// Arity returns the number of tuple elements this expression always
	// contributes, statically, without evaluating against any record —
	// used to split a decoded index-entry key back into its key-expression
	// and primary-key portions.
	Arity() int
}

// Field projects a single, possibly dotted, field path.
type Field struct {
	Path string
}

func (f Field) Evaluate(recordType string, record any, c codec.Codec) (tuple.Tuple, error) {
	v, ok := c.FieldValue(record, f.Path)
	if !ok {
		return tuple.Tuple{nil}, nil
	}
	return tuple.Tuple{v.TupleElement()}, nil
}

func (f Field) HasField(path string) bool { return f.Path == path }

func (f Field) LeadingField() (string, bool) { return f.Path, true }

func (f Field) Arity() int { return 1 }

// Concatenate evaluates each child in order and appends their tuples.
type Concatenate struct {
	Children []KeyExpression
}

func Concat(children ...KeyExpression) Concatenate {
	return Concatenate{Children: children}
}

func (c Concatenate) Evaluate(recordType string, record any, cd codec.Codec) (tuple.Tuple, error) {
	out := tuple.Tuple{}
	for i, child := range c.Children {
		t, err := child.Evaluate(recordType, record, cd)
		if err != nil {
			return nil, fmt.Errorf("concatenate child %d: %w", i, err)
		}
		out = out.Concat(t)
	}
	return out, nil
}

func (c Concatenate) HasField(path string) bool {
	for _, child := range c.Children {
		if child.HasField(path) {
			return true
		}
	}
	return false
}

func (c Concatenate) LeadingField() (string, bool) {
	if len(c.Children) == 0 {
		return "", false
	}
	return c.Children[0].LeadingField()
}

func (c Concatenate) Arity() int {
	total := 0
	for _, child := range c.Children {
		total += child.Arity()
	}
	return total
}

// Const always evaluates to a single constant tuple element, useful as a
// grouping key component for aggregate indexes with a fixed group (e.g. a
// global counter), mirroring the teacher's keys.Const constant extractor.
type Const struct {
	Value any
}

func (c Const) Evaluate(recordType string, record any, cd codec.Codec) (tuple.Tuple, error) {
	return tuple.Tuple{c.Value}, nil
}

func (c Const) HasField(path string) bool    { return false }
func (c Const) LeadingField() (string, bool) { return "", false }
func (c Const) Arity() int                   { return 1 }

// Numeric constrains ConstNumber to the integer and floating-point types a
// tuple element can hold, mirroring the teacher's val.Numeric constraint
// (dynamodb/index/val/key.go).
type Numeric interface {
	constraints.Integer | constraints.Float
}

// ConstNumber builds a Const from any numeric type, the schema-package
// counterpart of the teacher's val.Number[T] helper for declaring a fixed
// numeric grouping key (e.g. a sum index bucketed under one constant
// group) without the caller hand-widening to int64/float64 first.
func ConstNumber[T Numeric](v T) Const {
	return Const{Value: v}
}
