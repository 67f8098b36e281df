// Package txn implements the record layer's Transaction Context (spec.md
// §4.3/C4): a scoped acquisition of a transaction with guaranteed release on
// all exit paths, and a convenience retry loop for TransactionConflict.
//
// The nesting discipline generalizes the teacher's stack-counter Txer
// (normddb/ddb_txer.go, NewTxer/Start/Commit): a caller that is already
// inside a transaction and asks for another one gets the same underlying
// *badger.Txn back instead of starting a second one, so that
// Store.Save/Delete composed from within an application-level transaction
// still commit exactly once, atomically, at the outermost scope.
package txn

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/acksell/recordlayer/errs"
)

type ctxKey struct{}

// Context wraps one underlying *badger.Txn shared by every nested Run call
// within the same logical transaction.
type Context struct {
	txn      *badger.Txn
	readOnly bool
	mu       sync.Mutex
	depth    int
}

// Txn returns the underlying Badger transaction for direct reads/writes.
func (c *Context) Txn() *badger.Txn { return c.txn }

// ReadOnly reports whether this transaction was opened read-only.
func (c *Context) ReadOnly() bool { return c.readOnly }

func fromContext(ctx context.Context) (*Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(*Context)
	return tc, ok
}

// Run executes fn within a transaction: if ctx already carries one (because
// Run is nested inside an outer Run), fn reuses it and no commit happens
// here — only the outermost Run commits. Otherwise a new read-write
// transaction is opened, fn runs, and on success the transaction commits;
// on any error, or on ctx cancellation observed after fn returns, the
// transaction is discarded instead (spec.md §5, "never perform a write
// after a cancellation is observed").
func Run(ctx context.Context, db *badger.DB, fn func(ctx context.Context, tc *Context) error) error {
	if tc, ok := fromContext(ctx); ok {
		tc.mu.Lock()
		tc.depth++
		tc.mu.Unlock()
		defer func() {
			tc.mu.Lock()
			tc.depth--
			tc.mu.Unlock()
		}()
		return fn(ctx, tc)
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrCancelled, err)
	}

	badgerTxn := db.NewTransaction(true)
	tc := &Context{txn: badgerTxn, depth: 1}
	nested := context.WithValue(ctx, ctxKey{}, tc)

	if err := fn(nested, tc); err != nil {
		badgerTxn.Discard()
		return err
	}
	if err := ctx.Err(); err != nil {
		badgerTxn.Discard()
		return fmt.Errorf("%w: %v", errs.ErrCancelled, err)
	}
	if err := badgerTxn.Commit(); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return fmt.Errorf("%w: %v", errs.ErrTransactionConflict, err)
		}
		return fmt.Errorf("recordlayer: commit: %w", err)
	}
	return nil
}

// RunReadOnly executes fn within a snapshot-read transaction. Nested calls
// inside an existing Run (read-write or read-only) reuse that transaction.
func RunReadOnly(ctx context.Context, db *badger.DB, fn func(ctx context.Context, tc *Context) error) error {
	if tc, ok := fromContext(ctx); ok {
		return fn(ctx, tc)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrCancelled, err)
	}
	badgerTxn := db.NewTransaction(false)
	defer badgerTxn.Discard()
	tc := &Context{txn: badgerTxn, readOnly: true, depth: 1}
	nested := context.WithValue(ctx, ctxKey{}, tc)
	return fn(nested, tc)
}

// RetryConfig configures the convenience retry loop around Run.
type RetryConfig struct {
	MaxAttempts int // default 3 if zero
}

// RunWithRetry retries Run automatically on TransactionConflict, which is
// the only error kind spec.md §7 designates as caller-retryable. All other
// errors, including Cancelled, propagate immediately.
func RunWithRetry(ctx context.Context, db *badger.DB, cfg RetryConfig, fn func(ctx context.Context, tc *Context) error) error {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = Run(ctx, db, fn)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, errs.ErrTransactionConflict) {
			return lastErr
		}
	}
	return lastErr
}
