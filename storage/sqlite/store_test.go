package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cyp0633/librecur/event"
	"github.com/cyp0633/librecur/expr"
	"github.com/cyp0633/librecur/recurrence"
	"github.com/cyp0633/librecur/storage"
	"github.com/cyp0633/librecur/storage/storetest"
)

func open(t *testing.T) *Store[storetest.Item] {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "db", "records.db"), storetest.Fields, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store[storetest.Item] { return open(t) })
}

func TestReopenKeepsRecords(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "records.db")
	store, err := Open(dsn, storetest.Fields, nil)
	require.NoError(t, err)

	ctx := context.Background()
	start := time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)
	ev, err := event.NewOneTimeEvent(recurrence.MustPeriod(start, start.Add(time.Hour)), storetest.Item{Title: "kept", Priority: 3})
	require.NoError(t, err)
	rec, err := ev.Record()
	require.NoError(t, err)
	require.NoError(t, store.Apply(ctx, []storage.Change[storetest.Item]{storage.Add(rec)}))
	require.NoError(t, store.Close())

	store, err = Open(dsn, storetest.Fields, nil)
	require.NoError(t, err)
	defer store.Close()
	got, err := store.Query(ctx, expr.Eq(storage.DataPrefix+"priority", 3))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec, got[0])
}

func TestEnsureDir(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		dsn  string
	}{
		{"memory", ":memory:"},
		{"shared memory", "file:x?mode=memory&cache=shared"},
		{"relative file", "records.db"},
		{"nested file", "file:" + filepath.Join(dir, "a", "b", "records.db") + "?_fk=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, ensureDir(tt.dsn))
		})
	}
	assert.DirExists(t, filepath.Join(dir, "a", "b"))
}
