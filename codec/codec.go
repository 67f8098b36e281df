// Package codec defines the pluggable record (de)serialization boundary.
// spec.md §1 and §6 deliberately keep this external to the core: the record
// layer only ever asks a Codec to encode/decode records and to project
// typed field values and a primary-key tuple out of them.
package codec

import (
	"github.com/acksell/recordlayer/tuple"
	"github.com/acksell/recordlayer/typedvalue"
)

// Codec turns application records of a given record type into bytes, and
// back, and can project typed field values and a primary-key tuple out of a
// record without the record layer needing to know its Go representation.
//
// FieldValue resolves dotted paths ("a.b.c") left to right; an Absent
// intermediate aborts resolution and returns Absent, matching the
// field-path semantics described in spec.md §6.
type Codec interface {
	Encode(recordType string, record any) ([]byte, error)
	Decode(recordType string, data []byte) (any, error)
	FieldValue(record any, path string) (typedvalue.Value, bool)
	PrimaryKeyOf(recordType string, record any) (tuple.Tuple, error)
}
