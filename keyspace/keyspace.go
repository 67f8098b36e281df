// Package keyspace lays out the five fixed subspaces of the record layer
// (record, index, index_state, index_build, stats) under a single
// user-chosen root prefix, the way ddbstore lays each table and each of its
// GSIs out under a table-name-prefixed key range (ddbstore/encoding.go).
// Every subspace is just a tag byte plus the root prefix; keys within it are
// built by appending a tuple.Tuple encoding, so prefix scans restricted to a
// subspace (or to a sub-range within it) are plain byte-range reads on the
// underlying KV.
package keyspace

import (
	"github.com/acksell/recordlayer/tuple"
)

// Tag identifies one of the five fixed subspaces.
type Tag byte

const (
	TagRecord      Tag = 'r'
	TagIndex       Tag = 'i'
	TagIndexState  Tag = 's'
	TagIndexBuild  Tag = 'b'
	TagStats       Tag = 't'
)

// Keyspace is a root prefix under which the five subspaces are allocated.
type Keyspace struct {
	root []byte
}

// New creates a Keyspace rooted at the given byte prefix. An empty prefix is
// valid and means "this Badger database belongs entirely to this Keyspace."
func New(root []byte) *Keyspace {
	cp := make([]byte, len(root))
	copy(cp, root)
	return &Keyspace{root: cp}
}

// Subspace returns the Subspace for the given tag.
func (k *Keyspace) Subspace(tag Tag) Subspace {
	prefix := make([]byte, 0, len(k.root)+1)
	prefix = append(prefix, k.root...)
	prefix = append(prefix, byte(tag))
	return Subspace{prefix: prefix}
}

// Subspace is a prefixed namespace within the keyspace. Keys are formed by
// packing a tuple and appending it to the subspace's prefix.
type Subspace struct {
	prefix []byte
}

// Pack encodes a key within this subspace.
func (s Subspace) Pack(t tuple.Tuple) []byte {
	packed := t.Pack()
	out := make([]byte, 0, len(s.prefix)+len(packed))
	out = append(out, s.prefix...)
	out = append(out, packed...)
	return out
}

// PrefixRange returns the half-open [begin, end) byte range that covers
// every key in this subspace whose tuple starts with prefix.
func (s Subspace) PrefixRange(prefix tuple.Tuple) (begin, end []byte) {
	begin = s.Pack(prefix)
	end = make([]byte, len(begin))
	copy(end, begin)
	end = append(end, 0xFF)
	return begin, end
}

// Bytes returns the raw subspace prefix, for constructing the begin of a
// full-subspace scan.
func (s Subspace) Bytes() []byte {
	cp := make([]byte, len(s.prefix))
	copy(cp, s.prefix)
	return cp
}

// End returns the smallest byte string greater than every key in this
// subspace — i.e. the exclusive end of a full-subspace scan.
func (s Subspace) End() []byte {
	end := make([]byte, len(s.prefix))
	copy(end, s.prefix)
	return append(end, 0xFF)
}
