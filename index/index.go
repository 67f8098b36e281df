// Package index implements the Index Maintainer (spec.md §4.2/C6): the
// state-aware create/update/delete side effects for each of the three
// maintained index kinds. It is stateless and parameterized only by a
// codec.Codec, holding no reference back to the Record Store — spec.md §9
// calls this out explicitly ("cyclic references... broken by making Index
// Maintainer stateless and parameterized by the Schema").
//
// The unique-value-index duplicate check generalizes the teacher's GSI
// maintenance in dynamodb/ddbstore/store_put_item.go (updateGSI), which
// read back an existing GSI entry before overwriting it; here the read is a
// full prefix scan because more than one primary key tuple can share an
// index-key prefix.
package index

import (
	"encoding/binary"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/acksell/recordlayer/codec"
	"github.com/acksell/recordlayer/errs"
	"github.com/acksell/recordlayer/keyspace"
	"github.com/acksell/recordlayer/schema"
	"github.com/acksell/recordlayer/tuple"
	"github.com/acksell/recordlayer/txn"
)

// Maintainer applies per-index side effects within a caller's transaction.
type Maintainer struct {
	sub   keyspace.Subspace
	codec codec.Codec
}

// New returns a Maintainer writing into the index subspace of ks, using c to
// evaluate key/grouping/value expressions against records.
func New(ks *keyspace.Keyspace, c codec.Codec) *Maintainer {
	return &Maintainer{sub: ks.Subspace(keyspace.TagIndex), codec: c}
}

// Update applies the effect of replacing oldRecord with newRecord (either
// may be nil, for pure insert or pure delete) on idx, within tc. recordType
// names the schema record type both records belong to.
func (m *Maintainer) Update(tc *txn.Context, idx schema.Index, recordType string, oldRecord, newRecord any) error {
	switch idx.Kind {
	case schema.IndexKindValue:
		return m.updateValue(tc, idx, recordType, oldRecord, newRecord)
	case schema.IndexKindCount:
		return m.updateAggregate(tc, idx, recordType, oldRecord, newRecord, countDelta)
	case schema.IndexKindSum:
		return m.updateAggregate(tc, idx, recordType, oldRecord, newRecord, sumDelta)
	default:
		return fmt.Errorf("index: unknown index kind %q", idx.Kind)
	}
}

func (m *Maintainer) updateValue(tc *txn.Context, idx schema.Index, recordType string, oldRecord, newRecord any) error {
	if oldRecord != nil {
		oldKey, pk, ok, err := m.valueEntry(idx, recordType, oldRecord)
		if err != nil {
			return err
		}
		if ok {
			if err := tc.Txn().Delete(m.sub.Pack(tuple.Tuple{idx.Name}.Concat(oldKey).Concat(pk))); err != nil {
				return fmt.Errorf("index: delete old entry for %q: %w", idx.Name, err)
			}
		}
	}
	if newRecord == nil {
		return nil
	}
	newKey, pk, ok, err := m.valueEntry(idx, recordType, newRecord)
	if err != nil {
		return err
	}
	if !ok {
		// Field absent/null: excluded from value indexes (spec.md §4.2).
		return nil
	}
	prefix := tuple.Tuple{idx.Name}.Concat(newKey)
	candidateKey := m.sub.Pack(prefix.Concat(pk))

	if idx.Unique {
		begin, end := m.sub.PrefixRange(prefix)
		if err := m.checkUnique(tc, idx.Name, begin, end, candidateKey); err != nil {
			return err
		}
	}
	if err := tc.Txn().Set(candidateKey, []byte{}); err != nil {
		return fmt.Errorf("index: write entry for %q: %w", idx.Name, err)
	}
	return nil
}

// valueEntry evaluates idx.KeyExpr and the record's primary key. ok is false
// when the key expression resolves to a null/absent value.
func (m *Maintainer) valueEntry(idx schema.Index, recordType string, record any) (key, pk tuple.Tuple, ok bool, err error) {
	key, err = idx.KeyExpr.Evaluate(recordType, record, m.codec)
	if err != nil {
		return nil, nil, false, fmt.Errorf("index %q: evaluate key expr: %w", idx.Name, err)
	}
	if tupleHasNull(key) {
		return nil, nil, false, nil
	}
	pk, err = m.codec.PrimaryKeyOf(recordType, record)
	if err != nil {
		return nil, nil, false, fmt.Errorf("index %q: primary key: %w", idx.Name, err)
	}
	return key, pk, true, nil
}

func tupleHasNull(t tuple.Tuple) bool {
	for _, el := range t {
		if el == nil {
			return true
		}
	}
	return false
}

func (m *Maintainer) checkUnique(tc *txn.Context, indexName string, begin, _end, candidateKey []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := tc.Txn().NewIterator(opts)
	defer it.Close()
	for it.Seek(begin); it.ValidForPrefix(begin); it.Next() {
		k := it.Item().KeyCopy(nil)
		if !bytesEqual(k, candidateKey) {
			return &errs.UniqueViolation{
				Index:       indexName,
				ExistingPK:  fmt.Sprintf("%x", k),
				AttemptedPK: fmt.Sprintf("%x", candidateKey),
			}
		}
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type deltaFunc func(idx schema.Index, recordType string, m *Maintainer, oldRecord, newRecord any) (group tuple.Tuple, delta int64, err error)

func (m *Maintainer) updateAggregate(tc *txn.Context, idx schema.Index, recordType string, oldRecord, newRecord any, fn deltaFunc) error {
	if oldRecord != nil {
		group, delta, err := fn(idx, recordType, m, oldRecord, nil)
		if err != nil {
			return err
		}
		if err := m.addToGroup(tc, idx.Name, group, -delta); err != nil {
			return err
		}
	}
	if newRecord != nil {
		group, delta, err := fn(idx, recordType, m, nil, newRecord)
		if err != nil {
			return err
		}
		if err := m.addToGroup(tc, idx.Name, group, delta); err != nil {
			return err
		}
	}
	return nil
}

// countDelta always contributes 1 per record; the grouping key for a
// missing/null grouping expression value is the designated null group
// (spec.md §4.2).
func countDelta(idx schema.Index, recordType string, m *Maintainer, oldRecord, newRecord any) (tuple.Tuple, int64, error) {
	record := oldRecord
	if record == nil {
		record = newRecord
	}
	group, err := groupingKey(idx, recordType, m.codec, record)
	if err != nil {
		return nil, 0, err
	}
	return group, 1, nil
}

func sumDelta(idx schema.Index, recordType string, m *Maintainer, oldRecord, newRecord any) (tuple.Tuple, int64, error) {
	record := oldRecord
	if record == nil {
		record = newRecord
	}
	group, err := groupingKey(idx, recordType, m.codec, record)
	if err != nil {
		return nil, 0, err
	}
	valTuple, err := idx.ValueExpr.Evaluate(recordType, record, m.codec)
	if err != nil {
		return nil, 0, fmt.Errorf("index %q: evaluate value expr: %w", idx.Name, err)
	}
	var v int64
	if len(valTuple) == 1 {
		switch n := valTuple[0].(type) {
		case int64:
			v = n
		case int:
			v = int64(n)
		case float64:
			v = int64(n)
		}
	}
	return group, v, nil
}

func groupingKey(idx schema.Index, recordType string, c codec.Codec, record any) (tuple.Tuple, error) {
	key, err := idx.GroupingExpr.Evaluate(recordType, record, c)
	if err != nil {
		return nil, fmt.Errorf("index %q: evaluate grouping expr: %w", idx.Name, err)
	}
	if tupleHasNull(key) {
		return tuple.Tuple{schema.NullGroupKey}, nil
	}
	return key, nil
}

func (m *Maintainer) addToGroup(tc *txn.Context, indexName string, group tuple.Tuple, delta int64) error {
	key := m.sub.Pack(tuple.Tuple{indexName}.Concat(group))
	var current int64
	item, err := tc.Txn().Get(key)
	switch {
	case err == badger.ErrKeyNotFound:
		current = 0
	case err != nil:
		return fmt.Errorf("index: read aggregate %q: %w", indexName, err)
	default:
		if verr := item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("index: aggregate %q has malformed value", indexName)
			}
			current = int64(binary.LittleEndian.Uint64(val))
			return nil
		}); verr != nil {
			return verr
		}
	}
	next := current + delta
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(next))
	if err := tc.Txn().Set(key, buf[:]); err != nil {
		return fmt.Errorf("index: write aggregate %q: %w", indexName, err)
	}
	return nil
}

// ValueAt reads the current aggregate value for a count/sum index's
// grouping key, or 0 if no entry exists yet.
func (m *Maintainer) ValueAt(tc *txn.Context, indexName string, group tuple.Tuple) (int64, error) {
	key := m.sub.Pack(tuple.Tuple{indexName}.Concat(group))
	item, err := tc.Txn().Get(key)
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("index: read aggregate %q: %w", indexName, err)
	}
	var v int64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("index: aggregate %q has malformed value", indexName)
		}
		v = int64(binary.LittleEndian.Uint64(val))
		return nil
	})
	return v, err
}
