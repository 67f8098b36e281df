// Package indexstate implements the Index State Manager (spec.md §4.3/C7):
// the thin authoritative source of an index's three-state lifecycle and the
// gating predicate both reads and writes consult.
//
// State must be read inside the same transaction as the operation it
// guards (spec.md §5), so Get/Transition/WritableIndexes/ReadableIndexes all
// take a *txn.Context and do their point reads against its underlying
// Badger transaction rather than any process-wide cache — that is the only
// way a foreground save() and a concurrent Online Indexer transition cannot
// observe inconsistent views of the same index.
package indexstate

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/acksell/recordlayer/errs"
	"github.com/acksell/recordlayer/keyspace"
	"github.com/acksell/recordlayer/schema"
	"github.com/acksell/recordlayer/tuple"
	"github.com/acksell/recordlayer/txn"
)

// State is one of the three index lifecycle states (spec.md §3.4).
type State string

const (
	StateDisabled  State = "disabled"
	StateWriteOnly State = "write_only"
	StateReadable  State = "readable"
)

// Manager is a stateless handle over the index_state subspace, parameterized
// by the Schema — it holds no back-reference to the Record Store (spec.md
// §9, "cyclic references... broken").
type Manager struct {
	sub    keyspace.Subspace
	schema *schema.Schema
}

// New returns a Manager bound to the index_state subspace of ks and to s.
func New(ks *keyspace.Keyspace, s *schema.Schema) *Manager {
	return &Manager{sub: ks.Subspace(keyspace.TagIndexState), schema: s}
}

func (m *Manager) key(name string) []byte {
	return m.sub.Pack(tuple.Tuple{name})
}

// Get returns an index's current state. An index with no recorded state —
// e.g. one just added to the schema and never transitioned — is disabled.
func (m *Manager) Get(tc *txn.Context, name string) (State, error) {
	item, err := tc.Txn().Get(m.key(name))
	if err == badger.ErrKeyNotFound {
		return StateDisabled, nil
	}
	if err != nil {
		return "", fmt.Errorf("indexstate: get %q: %w", name, err)
	}
	var st State
	err = item.Value(func(val []byte) error {
		st = State(val)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("indexstate: get %q: %w", name, err)
	}
	return st, nil
}

// allowed enumerates the legal (from, to) transitions of spec.md §3.3
// invariant 5: disabled→write_only, write_only→readable, and *→disabled.
func allowed(from, to State) bool {
	if to == StateDisabled {
		return true
	}
	switch {
	case from == StateDisabled && to == StateWriteOnly:
		return true
	case from == StateWriteOnly && to == StateReadable:
		return true
	default:
		return false
	}
}

// Transition moves name from its expected current state to to, failing with
// InvalidTransition if the index isn't currently in from, or if (from, to)
// isn't one of the allowed edges.
func (m *Manager) Transition(tc *txn.Context, name string, from, to State) error {
	current, err := m.Get(tc, name)
	if err != nil {
		return err
	}
	if current != from {
		return fmt.Errorf("%w: index %q is %q, not %q", errs.ErrInvalidTransition, name, current, from)
	}
	if !allowed(from, to) {
		return fmt.Errorf("%w: index %q cannot move %q -> %q", errs.ErrInvalidTransition, name, from, to)
	}
	if err := tc.Txn().Set(m.key(name), []byte(to)); err != nil {
		return fmt.Errorf("indexstate: transition %q: %w", name, err)
	}
	return nil
}

// WritableIndexes returns the indexes of recordType whose state is
// write_only or readable — the set the Index Maintainer must keep up to
// date on every save/delete (spec.md §3.3 invariant 1).
func (m *Manager) WritableIndexes(tc *txn.Context, recordType string) ([]schema.Index, error) {
	return m.filter(tc, recordType, func(s State) bool {
		return s == StateWriteOnly || s == StateReadable
	})
}

// ReadableIndexes returns the indexes of recordType available to the query
// planner — only those in the readable state.
func (m *Manager) ReadableIndexes(tc *txn.Context, recordType string) ([]schema.Index, error) {
	return m.filter(tc, recordType, func(s State) bool {
		return s == StateReadable
	})
}

func (m *Manager) filter(tc *txn.Context, recordType string, keep func(State) bool) ([]schema.Index, error) {
	candidates := m.schema.IndexesFor(recordType)
	out := make([]schema.Index, 0, len(candidates))
	for _, idx := range candidates {
		st, err := m.Get(tc, idx.Name)
		if err != nil {
			return nil, err
		}
		if keep(st) {
			out = append(out, idx)
		}
	}
	return out, nil
}
