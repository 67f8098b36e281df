package planner

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/acksell/recordlayer/keyspace"
	"github.com/acksell/recordlayer/query/filter"
	"github.com/acksell/recordlayer/query/plan"
	"github.com/acksell/recordlayer/store"
	"github.com/acksell/recordlayer/tuple"
	"github.com/acksell/recordlayer/txn"
	"github.com/acksell/recordlayer/typedvalue"
)

const indexSubspaceTag = keyspace.TagIndex

// execute turns a chosen plan into a lazy store.Cursor, the final step of
// Query Planner orchestration (spec.md §4.11).
func (p *Planner) execute(tc *txn.Context, recordType string, pl plan.Plan) (store.Cursor, error) {
	switch n := pl.(type) {
	case plan.FullScan:
		return newFilterCursor(p.st.Scan(tc, recordType, nil, nil), p.st, newFilterEval(n.Filter)), nil
	case plan.IndexScan:
		return p.executeIndexScan(tc, recordType, n)
	case plan.Intersection:
		return p.executeIntersection(tc, recordType, n)
	case plan.Union:
		return p.executeUnion(tc, recordType, n)
	case plan.Limit:
		child, err := p.execute(tc, recordType, n.Child)
		if err != nil {
			return nil, err
		}
		return &limitCursor{child: child, remaining: n.N}, nil
	default:
		return nil, fmt.Errorf("planner: unsupported plan node %T", pl)
	}
}

type indexScanCursor struct {
	planner    *Planner
	tc         *txn.Context
	recordType string
	it         *badger.Iterator
	prefix     []byte
	hi         []byte
	keyArity   int
	pkArity    int
	residual   *filterEval
}

func (p *Planner) executeIndexScan(tc *txn.Context, recordType string, n plan.IndexScan) (store.Cursor, error) {
	indexSub := p.st.Keyspace().Subspace(indexSubspaceTag)
	namePrefix := indexSub.Pack(tuple.Tuple{n.Index.Name})

	var seekKey []byte
	if n.Lo == nil {
		seekKey = namePrefix
	} else {
		seekKey = append(append([]byte{}, namePrefix...), n.Lo...)
	}
	var hiKey []byte
	if n.Hi == nil {
		hiKey = append(append([]byte{}, namePrefix...), 0xFF)
	} else {
		hiKey = append(append([]byte{}, namePrefix...), n.Hi...)
	}

	rt, ok := p.st.Schema().RecordType(recordType)
	if !ok {
		return nil, fmt.Errorf("planner: unknown record type %q", recordType)
	}
	opts := badger.DefaultIteratorOptions
	it := tc.Txn().NewIterator(opts)
	it.Seek(seekKey)

	return &indexScanCursor{
		planner:    p,
		tc:         tc,
		recordType: recordType,
		it:         it,
		prefix:     namePrefix,
		hi:         hiKey,
		keyArity:   n.Index.KeyExpr.Arity(),
		pkArity:    rt.PrimaryKey.Arity(),
		residual:   newFilterEval(n.Residual),
	}, nil
}

func (c *indexScanCursor) Next() (any, bool, error) {
	for {
		if !c.it.ValidForPrefix(c.prefix) {
			return nil, false, nil
		}
		item := c.it.Item()
		k := item.KeyCopy(nil)
		if !ltBytes(k, c.hi) {
			return nil, false, nil
		}
		c.it.Next()

		rest := k[len(c.prefix):]
		full, err := tuple.UnpackN(rest, c.keyArity+c.pkArity)
		if err != nil {
			return nil, false, fmt.Errorf("planner: decode index entry: %w", err)
		}
		pk := tuple.Tuple(full[c.keyArity:])

		record, found, err := c.planner.st.Load(c.tc, c.recordType, pk)
		if err != nil {
			return nil, false, err
		}
		if !found {
			continue
		}
		if !c.residual.matches(c.planner.st, record) {
			continue
		}
		return record, true, nil
	}
}

func (c *indexScanCursor) Close() { c.it.Close() }

func ltBytes(a, b []byte) bool {
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

// filterCursor wraps a store.Cursor, dropping records a residual filter
// rejects — used for FullScan, whose Filter is applied in-memory per
// decoded record (spec.md §4.9 treats the scan's own filter as a residual).
type filterCursor struct {
	inner store.Cursor
	st    *store.Store
	eval  *filterEval
}

func newFilterCursor(inner store.Cursor, st *store.Store, eval *filterEval) *filterCursor {
	return &filterCursor{inner: inner, st: st, eval: eval}
}

func (c *filterCursor) Next() (any, bool, error) {
	for {
		record, ok, err := c.inner.Next()
		if err != nil || !ok {
			return nil, ok, err
		}
		if c.eval.matches(c.st, record) {
			return record, true, nil
		}
	}
}

func (c *filterCursor) Close() { c.inner.Close() }

// filterEval evaluates a (possibly nil) filter.Filter against a decoded
// record via the bound Codec's FieldValue, used by both FullScan's
// in-memory filter and an IndexScan's residual predicates.
type filterEval struct {
	f filter.Filter
}

func newFilterEval(f filter.Filter) *filterEval { return &filterEval{f: f} }

func (e *filterEval) matches(st *store.Store, record any) bool {
	if e == nil || e.f == nil {
		return true
	}
	return evalFilter(e.f, st, record)
}

func evalFilter(f filter.Filter, st *store.Store, record any) bool {
	switch n := f.(type) {
	case filter.FieldPredicate:
		return evalPredicate(n, st, record)
	case filter.And:
		for _, c := range n.Children {
			if !evalFilter(c, st, record) {
				return false
			}
		}
		return true
	case filter.Or:
		for _, c := range n.Children {
			if evalFilter(c, st, record) {
				return true
			}
		}
		return false
	case filter.Not:
		return !evalFilter(n.Child, st, record)
	default:
		return true
	}
}

func evalPredicate(p filter.FieldPredicate, st *store.Store, record any) bool {
	v, ok := st.Codec().FieldValue(record, p.Name)
	if !ok {
		return false
	}
	c := typedvalue.Compare(v, p.Value)
	switch p.Op {
	case filter.OpEq:
		return c == 0
	case filter.OpNeq:
		return c != 0
	case filter.OpLt:
		return c < 0
	case filter.OpLte:
		return c <= 0
	case filter.OpGt:
		return c > 0
	case filter.OpGte:
		return c >= 0
	case filter.OpStartsWith:
		if v.Kind != p.Value.Kind {
			return false
		}
		return len(v.S) >= len(p.Value.S) && v.S[:len(p.Value.S)] == p.Value.S
	default:
		return false
	}
}

// intersectionCursor merges child cursors on primary key, keeping only keys
// every child produces — implemented as a materializing merge for
// simplicity (children are expected to be selective index scans, so result
// sets are small relative to the full table).
type intersectionCursor struct {
	records []any
	i       int
}

func (p *Planner) executeIntersection(tc *txn.Context, recordType string, n plan.Intersection) (store.Cursor, error) {
	var sets []map[string]any
	var keysOrder []string
	for i, child := range n.Children {
		cur, err := p.execute(tc, recordType, child)
		if err != nil {
			return nil, err
		}
		set := make(map[string]any)
		var order []string
		for {
			rec, ok, err := cur.Next()
			if err != nil {
				cur.Close()
				return nil, err
			}
			if !ok {
				break
			}
			pk, err := p.st.Codec().PrimaryKeyOf(recordType, rec)
			if err != nil {
				cur.Close()
				return nil, err
			}
			key := fmt.Sprintf("%x", pk.Pack())
			set[key] = rec
			order = append(order, key)
		}
		cur.Close()
		sets = append(sets, set)
		if i == 0 {
			keysOrder = order
		}
	}
	var out []any
	for _, k := range keysOrder {
		inAll := true
		var rec any
		for _, s := range sets {
			v, ok := s[k]
			if !ok {
				inAll = false
				break
			}
			rec = v
		}
		if inAll {
			out = append(out, rec)
		}
	}
	return &intersectionCursor{records: out}, nil
}

func (c *intersectionCursor) Next() (any, bool, error) {
	if c.i >= len(c.records) {
		return nil, false, nil
	}
	r := c.records[c.i]
	c.i++
	return r, true, nil
}

func (c *intersectionCursor) Close() {}

// unionCursor materializes the de-duplicated union of its children's
// records, keyed by primary key.
type unionCursor struct {
	records []any
	i       int
}

func (p *Planner) executeUnion(tc *txn.Context, recordType string, n plan.Union) (store.Cursor, error) {
	seen := make(map[string]bool)
	var out []any
	for _, child := range n.Children {
		cur, err := p.execute(tc, recordType, child)
		if err != nil {
			return nil, err
		}
		for {
			rec, ok, err := cur.Next()
			if err != nil {
				cur.Close()
				return nil, err
			}
			if !ok {
				break
			}
			pk, err := p.st.Codec().PrimaryKeyOf(recordType, rec)
			if err != nil {
				cur.Close()
				return nil, err
			}
			key := fmt.Sprintf("%x", pk.Pack())
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, rec)
		}
		cur.Close()
	}
	return &unionCursor{records: out}, nil
}

func (c *unionCursor) Next() (any, bool, error) {
	if c.i >= len(c.records) {
		return nil, false, nil
	}
	r := c.records[c.i]
	c.i++
	return r, true, nil
}

func (c *unionCursor) Close() {}

// limitCursor caps its child at N records.
type limitCursor struct {
	child     store.Cursor
	remaining int
}

func (c *limitCursor) Next() (any, bool, error) {
	if c.remaining <= 0 {
		return nil, false, nil
	}
	rec, ok, err := c.child.Next()
	if err != nil || !ok {
		return nil, ok, err
	}
	c.remaining--
	return rec, true, nil
}

func (c *limitCursor) Close() { c.child.Close() }
