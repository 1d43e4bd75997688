// Package calendar is the API callers use to read and edit events: it
// projects recurrent events over a window, reading through the window cache
// when it covers the request, and stages edits in sessions that commit to
// the store atomically.
package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cyp0633/librecur/cache"
	"github.com/cyp0633/librecur/event"
	"github.com/cyp0633/librecur/expr"
	"github.com/cyp0633/librecur/filter"
	"github.com/cyp0633/librecur/storage"
)

// Config holds the optional parts of a Service
type Config struct {
	// Logger defaults to a no-op logger
	Logger *zap.Logger
	// Flags tune the predicate pushed down to the store on cache misses
	Flags filter.Flags
}

// Service reads and edits the events of one store
type Service[D any] struct {
	store   storage.Store[D]
	cache   cache.Cache[D]
	factory *filter.Factory[D]
	flags   filter.Flags
	logger  *zap.Logger
}

// NewService creates a service. A nil cache disables caching.
func NewService[D any](store storage.Store[D], c cache.Cache[D], factory *filter.Factory[D], cfg Config) (*Service[D], error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if factory == nil {
		return nil, fmt.Errorf("filter factory is required")
	}
	if c == nil {
		c = cache.NoCache[D]{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service[D]{
		store:   store,
		cache:   c,
		factory: factory,
		flags:   cfg.Flags,
		logger:  logger.Named("calendar"),
	}, nil
}

// Begin starts a session. Sessions are not safe for concurrent use.
func (s *Service[D]) Begin() *Session[D] {
	return &Session[D]{svc: s, overlay: make(map[storage.RecordKey]staged[D])}
}

// Do runs fn in a new session and commits it when fn succeeds
func (s *Service[D]) Do(ctx context.Context, fn func(*Session[D]) error) error {
	sess := s.Begin()
	if err := fn(sess); err != nil {
		return err
	}
	return sess.Commit(ctx)
}

// GetCalculated returns the events of [from, to) whose data satisfies data,
// which may be nil
func (s *Service[D]) GetCalculated(ctx context.Context, from, to time.Time, data expr.Expr) ([]event.Event[D], error) {
	return s.Begin().GetCalculated(ctx, from, to, data)
}

// GetOneTime returns a one-time event
func (s *Service[D]) GetOneTime(ctx context.Context, id uuid.UUID) (event.OneTimeEvent[D], error) {
	return s.Begin().GetOneTime(ctx, id)
}

// GetRecurrent returns a recurrent event
func (s *Service[D]) GetRecurrent(ctx context.Context, id uuid.UUID) (event.RecurrentEvent[D], error) {
	return s.Begin().GetRecurrent(ctx, id)
}

// GetState returns the stored state of an occurrence
func (s *Service[D]) GetState(ctx context.Context, id uuid.UUID, occurrenceStart time.Time) (event.OccurrenceState[D], error) {
	return s.Begin().GetState(ctx, id, occurrenceStart)
}
