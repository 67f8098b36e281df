// Package stats implements the Statistics Manager (spec.md §4.6/C10):
// table/index statistics collection and the selectivity API the Cost
// Estimator consumes.
//
// The distinct-count estimator is a Roaring Bitmap of 32-bit FNV hashes
// (github.com/RoaringBitmap/roaring/v2) — SPEC_FULL.md §4.6 resolves
// spec.md's "a streaming set or HyperLogLog" with this concrete choice,
// grounded on the rest of the retrieval pack (the bsc-erigon fork depends on
// RoaringBitmap/roaring for the same kind of compact set accounting).
// Logging uses zap at collection-run granularity, the same ambient-stack
// rule as the Online Indexer (SPEC_FULL.md §4.1).
package stats

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/acksell/recordlayer/errs"
	"github.com/acksell/recordlayer/keyspace"
	"github.com/acksell/recordlayer/query/filter"
	"github.com/acksell/recordlayer/schema"
	"github.com/acksell/recordlayer/store"
	"github.com/acksell/recordlayer/tuple"
	"github.com/acksell/recordlayer/txn"
	"github.com/acksell/recordlayer/typedvalue"
)

// TableStats summarizes one record type's table (spec.md §3.2).
type TableStats struct {
	RowCount    int64
	AvgRowBytes int32
	SampleRate  float64
	Timestamp   time.Time
}

// Bucket is one equi-height histogram bucket. Upper is exclusive except on
// the last bucket of a Histogram, where it is inclusive (spec.md §3.2).
type Bucket struct {
	Lower, Upper  typedvalue.Value
	Count         int64
	DistinctCount int64
}

// Histogram is an ordered list of equi-height buckets.
type Histogram struct {
	Buckets []Bucket
}

// IndexStats summarizes one index's key distribution (spec.md §3.2).
type IndexStats struct {
	DistinctCount int64
	NullCount     int64
	Min, Max      typedvalue.Value
	Histogram     Histogram
	Timestamp     time.Time
}

// Manager is a single-writer, many-reader cache of the latest collected
// statistics (spec.md §3.4: "stale statistics remain usable; planner
// degrades gracefully"). Each collection run also writes its result into the
// `stats` subspace, but Manager never reads those rows back: a new Manager
// starts empty and serves only statistics collected through it.
type Manager struct {
	mu      sync.RWMutex
	table   map[string]TableStats
	index   map[string]IndexStats
	sub     keyspace.Subspace
	db      *badger.DB
	st      *store.Store
	log     *zap.SugaredLogger
	randSrc func() float64
}

// New returns an empty Manager bound to st's keyspace and backing database.
func New(db *badger.DB, st *store.Store, log *zap.SugaredLogger) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{
		table:   make(map[string]TableStats),
		index:   make(map[string]IndexStats),
		sub:     st.Keyspace().Subspace(keyspace.TagStats),
		db:      db,
		st:      st,
		log:     log,
		randSrc: rand.Float64,
	}
}

// CollectTableStats performs a sampled ranged scan over
// (record, recordType): every key is counted; with probability sampleRate
// its encoded byte size is accumulated into the average estimate (spec.md
// §4.6).
func (m *Manager) CollectTableStats(ctx context.Context, recordType string, sampleRate float64) (TableStats, error) {
	if recordType == "" {
		return TableStats{}, errs.InvalidArgumentf("record type is required")
	}
	if sampleRate <= 0 || sampleRate > 1 {
		return TableStats{}, errs.InvalidArgumentf("sample rate must be in (0, 1], got %v", sampleRate)
	}

	var rowCount int64
	var sampledBytes int64
	var sampledRows int64

	err := txn.RunReadOnly(ctx, m.db, func(ctx context.Context, tc *txn.Context) error {
		begin, end := m.st.RecordTypeRange(recordType)
		opts := badger.DefaultIteratorOptions
		it := tc.Txn().NewIterator(opts)
		defer it.Close()
		for it.Seek(begin); it.ValidForPrefix(begin); it.Next() {
			item := it.Item()
			if ltKey(item.Key(), end) {
				rowCount++
				if m.randSrc() < sampleRate {
					sampledBytes += int64(item.ValueSize())
					sampledRows++
				}
			}
		}
		return nil
	})
	if err != nil {
		return TableStats{}, fmt.Errorf("stats: collect table stats for %q: %w", recordType, err)
	}

	var avg int64
	if sampledRows > 0 {
		avg = sampledBytes / sampledRows
	}
	ts := TableStats{
		RowCount:    rowCount,
		AvgRowBytes: int32(avg),
		SampleRate:  sampleRate,
		Timestamp:   time.Now(),
	}

	m.mu.Lock()
	m.table[recordType] = ts
	m.mu.Unlock()

	if perr := m.persistTable(recordType, ts); perr != nil {
		return ts, perr
	}
	m.log.Infow("collected table stats", "record_type", recordType, "rows", rowCount, "sample_rate", sampleRate)
	return ts, nil
}

// CollectIndexStats scans the index subspace for indexName, extracting the
// first key-tuple element as the histogram dimension, builds an equi-height
// histogram of bucketCount buckets, and estimates distinct values with a
// Roaring-Bitmap-of-hashes accumulator (spec.md §4.6).
func (m *Manager) CollectIndexStats(ctx context.Context, idx schema.Index, bucketCount int) (IndexStats, error) {
	if bucketCount < 1 || bucketCount > 10000 {
		return IndexStats{}, errs.InvalidArgumentf("bucket count must be in 1..=10000, got %d", bucketCount)
	}

	var values []typedvalue.Value
	var nullCount int64
	bitmap := roaring.New()

	err := txn.RunReadOnly(ctx, m.db, func(ctx context.Context, tc *txn.Context) error {
		indexSub := m.st.Keyspace().Subspace(keyspace.TagIndex)
		prefix := indexSub.Pack(tuple.Tuple{idx.Name})
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := tc.Txn().NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			v, ok := firstTupleElement(idx, it.Item().Key(), prefix)
			if !ok {
				continue
			}
			if v.IsNull() {
				nullCount++
				continue
			}
			values = append(values, v)
			bitmap.Add(hash32(v))
		}
		return nil
	})
	if err != nil {
		return IndexStats{}, fmt.Errorf("stats: collect index stats for %q: %w", idx.Name, err)
	}

	hist, min, max := buildHistogram(values, bucketCount)
	is := IndexStats{
		DistinctCount: int64(bitmap.GetCardinality()),
		NullCount:     nullCount,
		Min:           min,
		Max:           max,
		Histogram:     hist,
		Timestamp:     time.Now(),
	}

	m.mu.Lock()
	m.index[idx.Name] = is
	m.mu.Unlock()

	if perr := m.persistIndex(idx.Name, is); perr != nil {
		return is, perr
	}
	m.log.Infow("collected index stats", "index", idx.Name, "distinct", is.DistinctCount, "nulls", nullCount)
	return is, nil
}

// firstTupleElement extracts an index key tuple's leading component — the
// histogram dimension — via tuple.DecodeFirst, since index entries are keyed
// (index_name, *key_tuple, *pk_tuple) and the key_tuple's first element is
// all the histogram needs.
func firstTupleElement(idx schema.Index, key, prefix []byte) (typedvalue.Value, bool) {
	rest := key[len(prefix):]
	el, _, err := tuple.DecodeFirst(rest)
	if err != nil {
		return typedvalue.Value{}, false
	}
	switch v := el.(type) {
	case nil:
		return typedvalue.Null(), true
	case bool:
		return typedvalue.Bool(v), true
	case int64:
		return typedvalue.Int(v), true
	case float64:
		return typedvalue.Float(v), true
	case string:
		return typedvalue.String(v), true
	case []byte:
		return typedvalue.Bytes(v), true
	default:
		return typedvalue.Value{}, false
	}
}

func hash32(v typedvalue.Value) uint32 {
	h := fnv.New32a()
	switch v.Kind {
	case typedvalue.KindString:
		h.Write([]byte(v.S))
	case typedvalue.KindBytes:
		h.Write(v.Bs)
	case typedvalue.KindInt:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v.I))
		h.Write(b[:])
	case typedvalue.KindFloat:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(int64(v.F*1e9)))
		h.Write(b[:])
	case typedvalue.KindBool:
		if v.B {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	}
	return h.Sum32()
}

// persistTable mirrors a freshly collected TableStats into the stats
// subspace (spec.md §3.4). Nothing in this package reads the row back.
func (m *Manager) persistTable(recordType string, ts TableStats) error {
	key := m.sub.Pack(tuple.Tuple{"table", recordType})
	val, err := encodeGob(ts)
	if err != nil {
		return fmt.Errorf("stats: encode table stats: %w", err)
	}
	return txn.Run(context.Background(), m.db, func(ctx context.Context, tc *txn.Context) error {
		return tc.Txn().Set(key, val)
	})
}

func (m *Manager) persistIndex(indexName string, is IndexStats) error {
	key := m.sub.Pack(tuple.Tuple{"index", indexName})
	val, err := encodeGob(is)
	if err != nil {
		return fmt.Errorf("stats: encode index stats: %w", err)
	}
	return txn.Run(context.Background(), m.db, func(ctx context.Context, tc *txn.Context) error {
		return tc.Txn().Set(key, val)
	})
}

// TableStatsFor returns the most recently cached TableStats for recordType,
// if any has been collected this process lifetime.
func (m *Manager) TableStatsFor(recordType string) (TableStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ts, ok := m.table[recordType]
	return ts, ok
}

// IndexStatsFor returns the most recently cached IndexStats for indexName.
func (m *Manager) IndexStatsFor(indexName string) (IndexStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	is, ok := m.index[indexName]
	return is, ok
}

// buildHistogram partitions sorted values into bucketCount equi-height
// buckets (spec.md §4.6): each bucket holds roughly len(values)/bucketCount
// values, the last bucket's Upper bound is inclusive, and DistinctCount per
// bucket is computed by scanning its own slice (cheap: buckets are small by
// construction). Returns the overall min/max alongside the histogram.
func buildHistogram(values []typedvalue.Value, bucketCount int) (Histogram, typedvalue.Value, typedvalue.Value) {
	if len(values) == 0 {
		return Histogram{}, typedvalue.Null(), typedvalue.Null()
	}
	sorted := make([]typedvalue.Value, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return typedvalue.Compare(sorted[i], sorted[j]) < 0 })

	min, max := sorted[0], sorted[len(sorted)-1]

	n := len(sorted)
	if bucketCount > n {
		bucketCount = n
	}
	perBucket := n / bucketCount
	if perBucket == 0 {
		perBucket = 1
	}

	var buckets []Bucket
	i := 0
	for i < n {
		end := i + perBucket
		if len(buckets) == bucketCount-1 || end > n {
			end = n
		}
		slice := sorted[i:end]
		distinct := distinctCount(slice)
		buckets = append(buckets, Bucket{
			Lower:         slice[0],
			Upper:         slice[len(slice)-1],
			Count:         int64(len(slice)),
			DistinctCount: int64(distinct),
		})
		i = end
	}
	return Histogram{Buckets: buckets}, min, max
}

func distinctCount(sorted []typedvalue.Value) int {
	if len(sorted) == 0 {
		return 0
	}
	count := 1
	for i := 1; i < len(sorted); i++ {
		if !typedvalue.Equal(sorted[i-1], sorted[i]) {
			count++
		}
	}
	return count
}

// Selectivity estimates the fraction of recordType's rows a filter tree
// matches (spec.md §4.6): equality predicates consult the matching index's
// histogram bucket, falling back to 1/distinct_count when no bucket
// contains the value and to a conservative 0.1 when no statistics exist at
// all; range predicates sum each bucket's overlap fraction; conjunctions
// multiply; disjunctions combine via inclusion-exclusion
// (1 - prod(1-s_i)), all per spec.md §4.8's "safe arithmetic" rule of never
// dividing by zero.
func (m *Manager) Selectivity(f filter.Filter, recordType string) (float64, error) {
	switch n := f.(type) {
	case filter.FieldPredicate:
		return m.predicateSelectivity(n, recordType), nil
	case filter.And:
		s := 1.0
		for _, c := range n.Children {
			cs, err := m.Selectivity(c, recordType)
			if err != nil {
				return 0, err
			}
			s *= cs
		}
		return s, nil
	case filter.Or:
		s := 1.0
		for _, c := range n.Children {
			cs, err := m.Selectivity(c, recordType)
			if err != nil {
				return 0, err
			}
			s *= (1 - cs)
		}
		return 1 - s, nil
	case filter.Not:
		cs, err := m.Selectivity(n.Child, recordType)
		if err != nil {
			return 0, err
		}
		return 1 - cs, nil
	default:
		return 0, fmt.Errorf("stats: selectivity: unsupported filter node %T", f)
	}
}

const defaultUnknownSelectivity = 0.1

func (m *Manager) predicateSelectivity(p filter.FieldPredicate, recordType string) float64 {
	is, hist, ok := m.histogramForField(p.Name, recordType)
	if !ok || len(hist.Buckets) == 0 {
		return defaultUnknownSelectivity
	}

	ts, hasTable := m.TableStatsFor(recordType)
	var totalRows int64
	for _, b := range hist.Buckets {
		totalRows += b.Count
	}
	if hasTable && ts.RowCount > 0 {
		totalRows = ts.RowCount
	}
	if totalRows == 0 {
		return defaultUnknownSelectivity
	}

	switch p.Op {
	case filter.OpEq:
		return eqSelectivity(p.Value, hist, is, totalRows)
	case filter.OpNeq:
		return clamp01(1 - eqSelectivity(p.Value, hist, is, totalRows))
	case filter.OpLt, filter.OpLte, filter.OpGt, filter.OpGte:
		var matched int64
		for _, b := range hist.Buckets {
			width := bucketWidth(b)
			if width <= 0 {
				if valueSatisfies(p.Op, b.Lower, p.Value) {
					matched += b.Count
				}
				continue
			}
			frac := overlapFraction(p.Op, b, p.Value)
			matched += int64(float64(b.Count) * frac)
		}
		return clamp01(float64(matched) / float64(totalRows))
	case filter.OpStartsWith:
		return defaultUnknownSelectivity
	default:
		return defaultUnknownSelectivity
	}
}

// eqSelectivity estimates P(field = value) from hist's buckets, falling back
// to 1/distinct_count when value falls in no bucket and to
// defaultUnknownSelectivity when even that isn't available. A bucket's Upper
// bound is exclusive except on the histogram's last bucket, where it's
// inclusive (spec.md §3.2) — otherwise a value sitting exactly on a
// non-last boundary would match (or double-count against) the wrong bucket.
// A single-value bucket (Lower equal to Upper) holds only that value and
// claims it wherever it sits. Equi-height splitting can spread a run of equal
// values over several buckets, so every bucket that claims value adds its
// Count/DistinctCount share, and the sum is clamped to [0, 1].
func eqSelectivity(value typedvalue.Value, hist Histogram, is IndexStats, totalRows int64) float64 {
	var sel float64
	matched := false
	for i, b := range hist.Buckets {
		last := i == len(hist.Buckets)-1
		if typedvalue.Compare(value, b.Lower) < 0 {
			continue
		}
		upperOk := typedvalue.Compare(value, b.Upper) < 0
		if last || typedvalue.Equal(b.Lower, b.Upper) {
			upperOk = typedvalue.Compare(value, b.Upper) <= 0
		}
		if !upperOk {
			continue
		}
		if b.DistinctCount <= 0 {
			return defaultUnknownSelectivity
		}
		sel += float64(b.Count) / float64(b.DistinctCount) / float64(totalRows)
		matched = true
	}
	if matched {
		return clamp01(sel)
	}
	if is.DistinctCount <= 0 {
		return defaultUnknownSelectivity
	}
	return 1.0 / float64(is.DistinctCount)
}

// histogramForField finds a value index on recordType whose leading key
// component is field, returning its cached IndexStats and histogram.
func (m *Manager) histogramForField(field, recordType string) (IndexStats, Histogram, bool) {
	for name, is := range m.snapshotIndex() {
		idx, ok := m.st.Schema().Index(name)
		if !ok || idx.RecordType != recordType || idx.Kind != schema.IndexKindValue {
			continue
		}
		lead, ok := idx.KeyExpr.LeadingField()
		if !ok || lead != field {
			continue
		}
		return is, is.Histogram, true
	}
	return IndexStats{}, Histogram{}, false
}

func (m *Manager) snapshotIndex() map[string]IndexStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]IndexStats, len(m.index))
	for k, v := range m.index {
		out[k] = v
	}
	return out
}

func bucketWidth(b Bucket) float64 {
	if b.Lower.Kind != b.Upper.Kind {
		return 0
	}
	switch b.Lower.Kind {
	case typedvalue.KindInt:
		return float64(b.Upper.I - b.Lower.I)
	case typedvalue.KindFloat:
		return b.Upper.F - b.Lower.F
	default:
		return 0
	}
}

// overlapFraction estimates what portion of bucket b's range satisfies a
// range predicate against value, using linear interpolation for numeric
// bounds and an all-or-nothing fallback for non-numeric kinds.
func overlapFraction(op filter.Op, b Bucket, value typedvalue.Value) float64 {
	if b.Lower.Kind != typedvalue.KindInt && b.Lower.Kind != typedvalue.KindFloat {
		if valueSatisfies(op, b.Lower, value) && valueSatisfies(op, b.Upper, value) {
			return 1
		}
		if !valueSatisfies(op, b.Lower, value) && !valueSatisfies(op, b.Upper, value) {
			return 0
		}
		return 0.5
	}

	lo, hi := numeric(b.Lower), numeric(b.Upper)
	if hi <= lo {
		if valueSatisfies(op, b.Lower, value) {
			return 1
		}
		return 0
	}
	v := numeric(value)
	switch op {
	case filter.OpLt, filter.OpLte:
		if v <= lo {
			return 0
		}
		if v >= hi {
			return 1
		}
		return (v - lo) / (hi - lo)
	case filter.OpGt, filter.OpGte:
		if v >= hi {
			return 0
		}
		if v <= lo {
			return 1
		}
		return (hi - v) / (hi - lo)
	default:
		return 0
	}
}

func numeric(v typedvalue.Value) float64 {
	switch v.Kind {
	case typedvalue.KindInt:
		return float64(v.I)
	case typedvalue.KindFloat:
		return v.F
	default:
		return 0
	}
}

func valueSatisfies(op filter.Op, bound, value typedvalue.Value) bool {
	c := typedvalue.Compare(bound, value)
	switch op {
	case filter.OpLt:
		return c < 0
	case filter.OpLte:
		return c <= 0
	case filter.OpGt:
		return c > 0
	case filter.OpGte:
		return c >= 0
	default:
		return false
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

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
