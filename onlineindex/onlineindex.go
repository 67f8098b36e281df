// Package onlineindex implements the Online Indexer (spec.md §4.5/C9):
// background, batched, resumable construction of a secondary index without
// blocking foreground writes.
//
// Logging uses go.uber.org/zap's SugaredLogger at batch-progress
// granularity, matching the ambient-stack decision (SPEC_FULL.md §4.1) that
// a structured logger belongs at long-running operational seams — the way
// the rest of the retrieval pack (erigon, smf) reach for one — and nowhere
// else in this module's hot data-path calls.
package onlineindex

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/acksell/recordlayer/errs"
	"github.com/acksell/recordlayer/index"
	"github.com/acksell/recordlayer/indexstate"
	"github.com/acksell/recordlayer/keyspace"
	"github.com/acksell/recordlayer/rangeset"
	"github.com/acksell/recordlayer/schema"
	"github.com/acksell/recordlayer/store"
	"github.com/acksell/recordlayer/tuple"
	"github.com/acksell/recordlayer/txn"
)

// Config tunes batch size and pacing. Zero values fall back to sane
// defaults via WithDefaults.
type Config struct {
	BatchSize     int           // records scanned and indexed per transaction
	ThrottleDelay time.Duration // pause between batches
	LeaseTTL      time.Duration // how long an acquired lease is valid without renewal
}

// WithDefaults fills unset fields: batch size 1000 (spec.md §4.5's own
// example figure), a 100ms throttle, and a 30s lease.
func (c Config) WithDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	if c.ThrottleDelay <= 0 {
		c.ThrottleDelay = 100 * time.Millisecond
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 30 * time.Second
	}
	return c
}

// Indexer drives one index's build to completion.
type Indexer struct {
	db         *badger.DB
	st         *store.Store
	states     *indexstate.Manager
	maintainer *index.Maintainer
	leaseSub   keyspace.Subspace
	log        *zap.SugaredLogger
	cfg        Config
}

// New returns an Indexer sharing st's Schema, Codec, and Index Maintainer.
func New(db *badger.DB, st *store.Store, cfg Config, log *zap.SugaredLogger) *Indexer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Indexer{
		db:         db,
		st:         st,
		states:     st.States(),
		maintainer: st.Maintainer(),
		leaseSub:   st.Keyspace().Subspace(keyspace.TagIndexBuild),
		log:        log,
		cfg:        cfg.WithDefaults(),
	}
}

func (ix *Indexer) leaseKey(indexName string) []byte {
	return ix.leaseSub.Pack(tuple.Tuple{indexName, "lease"})
}

type leaseValue struct {
	Owner   string
	Expires time.Time
}

// acquireLease enforces "at most one indexer per index_name" (spec.md §4.5,
// §5) with a KV-resident lease row: `(index_name, "lease") -> (owner,
// expires_at)`, the Online Indexer's resolution of spec.md §9's open
// question about the coordination mechanism.
func (ix *Indexer) acquireLease(ctx context.Context, indexName, owner string, now time.Time) error {
	return txn.Run(ctx, ix.db, func(ctx context.Context, tc *txn.Context) error {
		item, err := tc.Txn().Get(ix.leaseKey(indexName))
		if err != nil && err != badger.ErrKeyNotFound {
			return fmt.Errorf("onlineindex: read lease: %w", err)
		}
		if err == nil {
			var lv leaseValue
			if verr := item.Value(func(val []byte) error { return decodeLease(val, &lv) }); verr != nil {
				return verr
			}
			if lv.Owner != owner && now.Before(lv.Expires) {
				return fmt.Errorf("onlineindex: index %q already has an active build owned by %q", indexName, lv.Owner)
			}
		}
		lv := leaseValue{Owner: owner, Expires: now.Add(ix.cfg.LeaseTTL)}
		return tc.Txn().Set(ix.leaseKey(indexName), encodeLease(lv))
	})
}

func (ix *Indexer) renewLease(ctx context.Context, indexName, owner string, now time.Time) error {
	return ix.acquireLease(ctx, indexName, owner, now)
}

func (ix *Indexer) releaseLease(ctx context.Context, indexName string) error {
	return txn.Run(ctx, ix.db, func(ctx context.Context, tc *txn.Context) error {
		err := tc.Txn().Delete(ix.leaseKey(indexName))
		if err != nil {
			return fmt.Errorf("onlineindex: release lease: %w", err)
		}
		return nil
	})
}

func encodeLease(lv leaseValue) []byte {
	return []byte(fmt.Sprintf("%s|%d", lv.Owner, lv.Expires.UnixNano()))
}

func decodeLease(b []byte, lv *leaseValue) error {
	var nanos int64
	var owner string
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] == '|' {
			owner = string(b[:i])
			if _, err := fmt.Sscanf(string(b[i+1:]), "%d", &nanos); err != nil {
				return fmt.Errorf("onlineindex: malformed lease value: %w", err)
			}
			lv.Owner = owner
			lv.Expires = time.Unix(0, nanos)
			return nil
		}
	}
	return fmt.Errorf("onlineindex: malformed lease value %q", b)
}

// Build runs the full disabled -> write_only -> readable protocol of
// spec.md §4.5 for indexName, driven by owner's lease, scanning recordType's
// record range in batches until the index's Range-Set covers it completely.
func (ix *Indexer) Build(ctx context.Context, indexName, recordType, owner string) error {
	idx, ok := ix.st.Schema().Index(indexName)
	if !ok {
		return fmt.Errorf("onlineindex: unknown index %q", indexName)
	}
	if idx.RecordType != recordType {
		return fmt.Errorf("onlineindex: index %q is not declared on record type %q", indexName, recordType)
	}

	if err := ix.acquireLease(ctx, indexName, owner, time.Now()); err != nil {
		return err
	}
	defer func() {
		if err := ix.releaseLease(ctx, indexName); err != nil {
			ix.log.Warnw("failed to release online indexer lease", "index", indexName, "error", err)
		}
	}()

	if err := txn.Run(ctx, ix.db, func(ctx context.Context, tc *txn.Context) error {
		st, err := ix.states.Get(tc, indexName)
		if err != nil {
			return err
		}
		if st == indexstate.StateWriteOnly {
			return nil // resuming a prior, interrupted build
		}
		return ix.states.Transition(tc, indexName, indexstate.StateDisabled, indexstate.StateWriteOnly)
	}); err != nil {
		return fmt.Errorf("onlineindex: transition to write_only: %w", err)
	}

	rs := rangeset.New(ix.st.Keyspace(), indexName)
	fullBegin, fullEnd := ix.st.RecordTypeRange(recordType)

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrCancelled, err)
		}

		if err := ix.renewLease(ctx, indexName, owner, time.Now()); err != nil {
			return err
		}

		done, err := ix.runBatch(ctx, rs, idx, fullBegin, fullEnd)
		if err != nil {
			return fmt.Errorf("onlineindex: batch: %w", err)
		}
		if done {
			break
		}

		select {
		case <-time.After(ix.cfg.ThrottleDelay):
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", errs.ErrCancelled, ctx.Err())
		}
	}

	if err := txn.Run(ctx, ix.db, func(ctx context.Context, tc *txn.Context) error {
		return ix.states.Transition(tc, indexName, indexstate.StateWriteOnly, indexstate.StateReadable)
	}); err != nil {
		return fmt.Errorf("onlineindex: transition to readable: %w", err)
	}
	ix.log.Infow("online index build complete", "index", indexName)
	return nil
}

// runBatch processes at most cfg.BatchSize records from the first missing
// sub-range, writing the index entries and advancing the Range-Set within
// one transaction (spec.md §4.5: "scan... recompute... insert... in a
// single KV transaction", so a crash mid-batch leaves no partial progress).
// done reports whether the whole record range is now covered.
func (ix *Indexer) runBatch(ctx context.Context, rs *rangeset.RangeSet, idx schema.Index, fullBegin, fullEnd []byte) (done bool, err error) {
	txErr := txn.Run(ctx, ix.db, func(ctx context.Context, tc *txn.Context) error {
		gaps, gerr := rs.Missing(tc, fullBegin, fullEnd)
		if gerr != nil {
			return gerr
		}
		if len(gaps) == 0 {
			done = true
			return nil
		}
		gap := gaps[0]

		opts := badger.DefaultIteratorOptions
		it := tc.Txn().NewIterator(opts)
		defer it.Close()

		count := 0
		var lastKey []byte
		for it.Seek(gap.Begin); it.ValidForPrefix(fullBegin) && count < ix.cfg.BatchSize; it.Next() {
			item := it.Item()
			k := item.KeyCopy(nil)
			if bytesGE(k, gap.End) {
				break
			}
			var record any
			if verr := item.Value(func(val []byte) error {
				d, derr := ix.st.Codec().Decode(idx.RecordType, val)
				if derr != nil {
					return derr
				}
				record = d
				return nil
			}); verr != nil {
				return fmt.Errorf("decode record: %w", verr)
			}
			if uerr := ix.maintainer.Update(tc, idx, idx.RecordType, nil, record); uerr != nil {
				return fmt.Errorf("maintain index entry: %w", uerr)
			}
			lastKey = k
			count++
		}

		var covered rangeset.Interval
		if count < ix.cfg.BatchSize || lastKey == nil {
			// Exhausted the gap before hitting the batch cap.
			covered = rangeset.Interval{Begin: gap.Begin, End: gap.End}
		} else {
			covered = rangeset.Interval{Begin: gap.Begin, End: nextKey(lastKey)}
		}
		if bytesEqual(covered.Begin, covered.End) {
			done = true
			return nil
		}
		if ierr := rs.Insert(tc, covered.Begin, covered.End); ierr != nil {
			return ierr
		}
		ix.log.Debugw("online index batch committed", "index", idx.Name, "records", count)
		return nil
	})
	if txErr != nil {
		return false, txErr
	}
	return done, nil
}

func nextKey(k []byte) []byte {
	out := make([]byte, len(k)+1)
	copy(out, k)
	return out
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

func bytesGE(a, b []byte) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return len(a) >= len(b)
}
