// Package store implements the Record Store (spec.md §4.1/C5): CRUD for
// typed records that dispatches index maintenance to the Index Maintainer,
// gated by the Index State Manager, all composed within one caller-supplied
// transaction.
//
// Grounded on the teacher's store_put_item.go (single db.Update closure
// doing the primary write plus GSI maintenance) and store_query.go (prefix
// iteration with a cursor-shaped result), generalized from DynamoDB's fixed
// two-component key to an arbitrary KeyExpression-projected tuple.
package store

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/acksell/recordlayer/codec"
	"github.com/acksell/recordlayer/index"
	"github.com/acksell/recordlayer/indexstate"
	"github.com/acksell/recordlayer/keyspace"
	"github.com/acksell/recordlayer/schema"
	"github.com/acksell/recordlayer/tuple"
	"github.com/acksell/recordlayer/txn"
)

// Planner is the narrow interface ExecuteQuery delegates to. It is defined
// here, at the consumer, rather than imported from the query/planner
// package, so that package can depend on Store without Store depending back
// on it (spec.md §9, "no component holds a back-reference to the store").
type Planner interface {
	Plan(tc *txn.Context, recordType string, query any, limit int) (Cursor, error)
}

// Cursor is a lazy, forward-only, non-restartable sequence of decoded
// records (spec.md §9's coroutine/async-cursor replacement).
type Cursor interface {
	// Next advances the cursor. ok is false once exhausted.
	Next() (record any, ok bool, err error)
	Close()
}

// Store binds one Schema and Codec at construction — no ambient global
// state (spec.md §6).
type Store struct {
	ks         *keyspace.Keyspace
	schema     *schema.Schema
	codec      codec.Codec
	states     *indexstate.Manager
	maintainer *index.Maintainer
	recordSub  keyspace.Subspace
	planner    Planner
}

// New constructs a Store. states and maintainer are typically constructed
// once per Keyspace/Schema and shared with the Online Indexer.
func New(ks *keyspace.Keyspace, s *schema.Schema, c codec.Codec, states *indexstate.Manager, maintainer *index.Maintainer) *Store {
	return &Store{
		ks:         ks,
		schema:     s,
		codec:      c,
		states:     states,
		maintainer: maintainer,
		recordSub:  ks.Subspace(keyspace.TagRecord),
	}
}

// SetPlanner wires a query planner for ExecuteQuery. Optional: a Store used
// only for direct CRUD and Scan never needs one.
func (s *Store) SetPlanner(p Planner) { s.planner = p }

func (s *Store) recordKey(recordType string, pk tuple.Tuple) []byte {
	return s.recordSub.Pack(tuple.Tuple{recordType}.Concat(pk))
}

// RecordTypeRange returns the half-open [begin, end) byte range covering
// every record key of recordType, for components (the Online Indexer, the
// Statistics Manager) that need to scan the full record subspace of a type
// directly rather than through Scan's decoded Cursor.
func (s *Store) RecordTypeRange(recordType string) (begin, end []byte) {
	typePrefix := s.recordSub.Pack(tuple.Tuple{recordType})
	begin = typePrefix
	end = append(append([]byte{}, typePrefix...), 0xFF)
	return begin, end
}

// Save computes record's primary key, reads the existing record at that key
// (if any), writes the new encoded bytes, and instructs the Index
// Maintainer to remove old entries and insert new ones for every writable
// index of recordType (spec.md §4.1).
func (s *Store) Save(tc *txn.Context, recordType string, record any) error {
	if _, ok := s.schema.RecordType(recordType); !ok {
		return fmt.Errorf("store: unknown record type %q", recordType)
	}

	pk, err := s.codec.PrimaryKeyOf(recordType, record)
	if err != nil {
		return fmt.Errorf("store: save %q: %w", recordType, err)
	}
	key := s.recordKey(recordType, pk)

	old, found, err := s.loadRaw(tc, recordType, key)
	if err != nil {
		return err
	}

	encoded, err := s.codec.Encode(recordType, record)
	if err != nil {
		return fmt.Errorf("store: encode %q: %w", recordType, err)
	}
	if err := tc.Txn().Set(key, encoded); err != nil {
		return fmt.Errorf("store: write %q: %w", recordType, err)
	}

	writable, err := s.states.WritableIndexes(tc, recordType)
	if err != nil {
		return err
	}
	var oldRecord any
	if found {
		oldRecord = old
	}
	for _, idx := range writable {
		if err := s.maintainer.Update(tc, idx, recordType, oldRecord, record); err != nil {
			return err
		}
	}
	return nil
}

// Load performs a point read at (record, recordType, pk).
func (s *Store) Load(tc *txn.Context, recordType string, pk tuple.Tuple) (any, bool, error) {
	return s.loadRaw(tc, recordType, s.recordKey(recordType, pk))
}

func (s *Store) loadRaw(tc *txn.Context, recordType string, key []byte) (any, bool, error) {
	item, err := tc.Txn().Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: load %q: %w", recordType, err)
	}
	var decoded any
	err = item.Value(func(val []byte) error {
		d, derr := s.codec.Decode(recordType, val)
		if derr != nil {
			return derr
		}
		decoded = d
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("store: decode %q: %w", recordType, err)
	}
	return decoded, true, nil
}

// Delete reads the old record (needed to compute its index entries),
// removes the record key, and instructs the Index Maintainer to remove
// every live index entry. A missing record is a no-op.
func (s *Store) Delete(tc *txn.Context, recordType string, pk tuple.Tuple) error {
	key := s.recordKey(recordType, pk)
	old, found, err := s.loadRaw(tc, recordType, key)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if err := tc.Txn().Delete(key); err != nil {
		return fmt.Errorf("store: delete %q: %w", recordType, err)
	}
	writable, err := s.states.WritableIndexes(tc, recordType)
	if err != nil {
		return err
	}
	for _, idx := range writable {
		if err := s.maintainer.Update(tc, idx, recordType, old, nil); err != nil {
			return err
		}
	}
	return nil
}

// Scan streams decoded records of recordType whose primary-key tuple falls
// in [begin, end). A nil end scans to the end of recordType's range.
func (s *Store) Scan(tc *txn.Context, recordType string, begin, end tuple.Tuple) Cursor {
	prefix := s.recordSub.Bytes()
	typePrefix := s.recordSub.Pack(tuple.Tuple{recordType})

	var startKey []byte
	if begin == nil {
		startKey = typePrefix
	} else {
		startKey = s.recordKey(recordType, begin)
	}
	var endKey []byte
	if end == nil {
		endKey = append(append([]byte{}, typePrefix...), 0xFF)
	} else {
		endKey = s.recordKey(recordType, end)
	}

	opts := badger.DefaultIteratorOptions
	it := tc.Txn().NewIterator(opts)
	it.Seek(startKey)
	return &scanCursor{
		store:      s,
		recordType: recordType,
		it:         it,
		typePrefix: prefix,
		endKey:     endKey,
	}
}

type scanCursor struct {
	store      *Store
	recordType string
	it         *badger.Iterator
	typePrefix []byte
	endKey     []byte
}

func (c *scanCursor) Next() (any, bool, error) {
	for {
		if !c.it.ValidForPrefix(c.typePrefix) {
			return nil, false, nil
		}
		item := c.it.Item()
		k := item.KeyCopy(nil)
		if !ltKey(k, c.endKey) {
			return nil, false, nil
		}
		var decoded any
		err := item.Value(func(val []byte) error {
			d, derr := c.store.codec.Decode(c.recordType, val)
			if derr != nil {
				return derr
			}
			decoded = d
			return nil
		})
		c.it.Next()
		if err != nil {
			return nil, false, fmt.Errorf("store: scan decode %q: %w", c.recordType, err)
		}
		return decoded, true, nil
	}
}

func (c *scanCursor) Close() { c.it.Close() }

// ltKey reports whether a < b lexicographically.
func ltKey(a, b []byte) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// ExecuteQuery delegates to the wired Planner, returning its lazy cursor.
func (s *Store) ExecuteQuery(tc *txn.Context, recordType string, query any, limit int) (Cursor, error) {
	if s.planner == nil {
		return nil, fmt.Errorf("store: no query planner configured")
	}
	return s.planner.Plan(tc, recordType, query, limit)
}

// Schema exposes the bound schema for components (Online Indexer, Planner)
// that need to inspect record types and indexes.
func (s *Store) Schema() *schema.Schema { return s.schema }

// Codec exposes the bound codec.
func (s *Store) Codec() codec.Codec { return s.codec }

// Keyspace exposes the bound keyspace.
func (s *Store) Keyspace() *keyspace.Keyspace { return s.ks }

// States exposes the bound Index State Manager.
func (s *Store) States() *indexstate.Manager { return s.states }

// Maintainer exposes the bound Index Maintainer.
func (s *Store) Maintainer() *index.Maintainer { return s.maintainer }
