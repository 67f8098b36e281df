// Package gobcodec is the reference codec.Codec implementation: it encodes
// records with encoding/gob and projects field values with reflection,
// driven by `recordlayer:"name"` struct tags. It exists so the Record
// Store, Index Maintainer, and Query Planner all have something concrete to
// run their tests against (spec.md §6).
//
// The encode/decode half is grounded directly on the teacher's
// dynamodb/ddbstore/encoding.go SerializeItem/DeserializeItem, which also
// gob-encodes a registered Go value into a byte slice under a
// bytes.Buffer. The reflective field-path walk generalizes the teacher's
// table.ExtractPrimaryKey (dynamodb/table/keys.go), which read named struct
// fields off a concrete entity type, into the dotted-path resolution
// codec.Codec.FieldValue requires.
package gobcodec

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/acksell/recordlayer/tuple"
	"github.com/acksell/recordlayer/typedvalue"
)

// Codec is a reflection-driven codec.Codec keyed by record type name. Each
// record type must be registered with a sample value before it can be
// encoded, decoded, or have its field values or primary key projected.
type Codec struct {
	mu      sync.RWMutex
	types   map[string]reflect.Type
	primary map[string][]string
}

// New returns an empty Codec. Call Register for each record type before use.
func New() *Codec {
	return &Codec{
		types:   make(map[string]reflect.Type),
		primary: make(map[string][]string),
	}
}

// Register binds a record type name to the Go type of sample (a struct or
// pointer-to-struct value used only to capture its reflect.Type) and the
// ordered list of its primary-key field paths. It also registers the
// concrete type with the gob package so Decode can hand back an any.
func (c *Codec) Register(recordType string, sample any, primaryKeyFields ...string) error {
	if recordType == "" {
		return fmt.Errorf("gobcodec: record type name is required")
	}
	if len(primaryKeyFields) == 0 {
		return fmt.Errorf("gobcodec: record type %q: at least one primary key field is required", recordType)
	}
	rt := reflect.TypeOf(sample)
	for rt.Kind() == reflect.Ptr {
		rt = rt.Elem()
	}
	if rt.Kind() != reflect.Struct {
		return fmt.Errorf("gobcodec: record type %q: sample must be a struct or pointer to struct, got %s", recordType, rt.Kind())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.types[recordType] = rt
	c.primary[recordType] = append([]string(nil), primaryKeyFields...)
	gob.Register(reflect.New(rt).Elem().Interface())
	return nil
}

func (c *Codec) typeFor(recordType string) (reflect.Type, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rt, ok := c.types[recordType]
	return rt, ok
}

// Encode gob-encodes record, which must be a value (or pointer to value) of
// the type registered for recordType.
func (c *Codec) Encode(recordType string, record any) ([]byte, error) {
	if _, ok := c.typeFor(recordType); !ok {
		return nil, fmt.Errorf("gobcodec: record type %q is not registered", recordType)
	}
	v := reflect.ValueOf(record)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v.Interface()); err != nil {
		return nil, fmt.Errorf("gobcodec: encode %q: %w", recordType, err)
	}
	return buf.Bytes(), nil
}

// Decode gob-decodes data into a freshly allocated value of the type
// registered for recordType, returning it by value as an any.
func (c *Codec) Decode(recordType string, data []byte) (any, error) {
	rt, ok := c.typeFor(recordType)
	if !ok {
		return nil, fmt.Errorf("gobcodec: record type %q is not registered", recordType)
	}
	out := reflect.New(rt)
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(out.Interface()); err != nil {
		return nil, fmt.Errorf("gobcodec: decode %q: %w", recordType, err)
	}
	return out.Elem().Interface(), nil
}

// FieldValue resolves a dotted field path against record's exported fields,
// matching a `recordlayer:"name"` struct tag first and falling back to the
// Go field name. An absent intermediate field at any path component aborts
// resolution and returns (Value{}, false), per spec.md §6.
func (c *Codec) FieldValue(record any, path string) (typedvalue.Value, bool) {
	v := reflect.ValueOf(record)
	for _, component := range strings.Split(path, ".") {
		for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
			if v.IsNil() {
				return typedvalue.Value{}, false
			}
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return typedvalue.Value{}, false
		}
		fv, ok := fieldByTagOrName(v, component)
		if !ok {
			return typedvalue.Value{}, false
		}
		v = fv
	}
	return toTypedValue(v)
}

func fieldByTagOrName(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("recordlayer")
		tag, _, _ = strings.Cut(tag, ",")
		if tag == name || (tag == "" && f.Name == name) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func toTypedValue(v reflect.Value) (typedvalue.Value, bool) {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return typedvalue.Null(), true
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Bool:
		return typedvalue.Bool(v.Bool()), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return typedvalue.Int(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return typedvalue.Int(int64(v.Uint())), true
	case reflect.Float32, reflect.Float64:
		return typedvalue.Float(v.Float()), true
	case reflect.String:
		return typedvalue.String(v.String()), true
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return typedvalue.Bytes(append([]byte(nil), v.Bytes()...)), true
		}
		return typedvalue.Value{}, false
	default:
		return typedvalue.Value{}, false
	}
}

// PrimaryKeyOf projects the registered primary-key fields of record, in
// registration order, into a tuple.Tuple.
func (c *Codec) PrimaryKeyOf(recordType string, record any) (tuple.Tuple, error) {
	c.mu.RLock()
	fields, ok := c.primary[recordType]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("gobcodec: record type %q is not registered", recordType)
	}
	out := make(tuple.Tuple, 0, len(fields))
	for _, f := range fields {
		val, ok := c.FieldValue(record, f)
		if !ok || val.IsNull() {
			return nil, fmt.Errorf("gobcodec: record type %q: primary key field %q is absent", recordType, f)
		}
		out = append(out, val.TupleElement())
	}
	return out, nil
}
