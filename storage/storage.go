// Package storage defines the record model shared by the filter, cache and
// calendar packages, and the Store boundary the adapters implement.
package storage

import (
	"context"
	"slices"
	"sync"

	"github.com/cyp0633/librecur/expr"
)

// Store is the interface that must be implemented by storage backends
type Store[D any] interface {
	// Query returns every record satisfying pred. Stores may evaluate pred
	// natively; the result must be exact with respect to pred.
	Query(ctx context.Context, pred expr.Expr) ([]Record[D], error)

	// Get fetches records by key. Missing keys are skipped.
	Get(ctx context.Context, keys ...RecordKey) ([]Record[D], error)

	// Apply commits the changes atomically, then notifies subscribers
	Apply(ctx context.Context, changes []Change[D]) error

	// Subscribe registers fn to run after every successful Apply. The
	// returned function removes the subscription.
	Subscribe(fn func(ctx context.Context)) (cancel func())
}

// Notifier fans a commit notification out to subscribers. Stores embed it.
type Notifier struct {
	mu   sync.Mutex
	next int
	subs map[int]func(context.Context)
}

// Subscribe registers fn and returns a function removing it
func (n *Notifier) Subscribe(fn func(ctx context.Context)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.subs == nil {
		n.subs = make(map[int]func(context.Context))
	}
	id := n.next
	n.next++
	n.subs[id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

// Notify runs every subscriber synchronously, in subscription order
func (n *Notifier) Notify(ctx context.Context) {
	n.mu.Lock()
	ids := make([]int, 0, len(n.subs))
	for id := range n.subs {
		ids = append(ids, id)
	}
	fns := make([]func(context.Context), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, n.subs[id])
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(ctx)
	}
}

// PredicateForKeys builds a predicate selecting exactly the given keys,
// used by SQL stores to implement Get through Query.
func PredicateForKeys(keys []RecordKey) expr.Expr {
	terms := make([]expr.Expr, 0, len(keys))
	for _, k := range keys {
		if k.Type == RecurrentState {
			terms = append(terms, expr.AllOf(
				expr.Eq(ColType, int64(RecurrentState)),
				expr.Eq(ColRecurrentEventID, k.RecurrentEventID.String()),
				expr.Eq(ColEffectiveStart, k.OccurrenceStart),
			))
			continue
		}
		terms = append(terms, expr.AllOf(
			expr.Eq(ColType, int64(k.Type)),
			expr.Eq(ColID, k.ID.String()),
		))
	}
	return expr.AnyOf(terms...)
}
