package cache

import (
	"context"
	"time"

	"github.com/samber/mo"
	"go.uber.org/zap"

	"github.com/cyp0633/librecur/expr"
	"github.com/cyp0633/librecur/storage"
)

// NoCache always misses, sending every read to the store
type NoCache[D any] struct{}

func (NoCache[D]) TryGetAll(time.Time, time.Time, expr.Expr) (mo.Option[[]storage.Record[D]], error) {
	return mo.None[[]storage.Record[D]](), nil
}

func (NoCache[D]) Push(...storage.Change[D]) uint64 { return 0 }

func (NoCache[D]) Discard(uint64) {}

var _ Cache[struct{}] = NoCache[struct{}]{}

type batchKey struct{}

// WithBatch tags ctx with a pushed batch, so that the flush triggered by
// committing it applies that batch only
func WithBatch(ctx context.Context, batch uint64) context.Context {
	return context.WithValue(ctx, batchKey{}, batch)
}

// BatchFrom returns the batch carried by ctx
func BatchFrom(ctx context.Context) (uint64, bool) {
	batch, ok := ctx.Value(batchKey{}).(uint64)
	return batch, ok && batch != 0
}

// cronLogger routes cron's scheduler logs to zap
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
