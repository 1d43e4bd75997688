// Package storetest holds the behavior every storage.Store must share. Store
// packages run it from their tests.
package storetest

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyp0633/librecur/event"
	"github.com/cyp0633/librecur/expr"
	"github.com/cyp0633/librecur/filter"
	"github.com/cyp0633/librecur/recurrence"
	"github.com/cyp0633/librecur/storage"
	"github.com/cyp0633/librecur/storage/memory"
)

// Item is the payload stored by the shared tests
type Item struct {
	Title    string
	Priority int
	Done     bool
}

// Fields are the accessors of Item
var Fields = expr.Fields[Item]{
	"title":    func(i Item) any { return i.Title },
	"priority": func(i Item) any { return i.Priority },
	"done":     func(i Item) any { return i.Done },
}

// Run runs the shared tests. open returns an empty store.
func Run(t *testing.T, open func(t *testing.T) storage.Store[Item]) {
	t.Run("ApplyAndGet", func(t *testing.T) { testApplyAndGet(t, open(t)) })
	t.Run("Conflicts", func(t *testing.T) { testConflicts(t, open(t)) })
	t.Run("ApplyIsAtomic", func(t *testing.T) { testApplyIsAtomic(t, open(t)) })
	t.Run("Notifies", func(t *testing.T) { testNotifies(t, open(t)) })
	t.Run("QueryMatchesInProcessEvaluation", func(t *testing.T) { testQueryParity(t, open(t)) })
}

var base = time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

func oneTime(t *testing.T, title string, start time.Time, minutes int) storage.Record[Item] {
	ev, err := event.NewOneTimeEvent(recurrence.MustPeriod(start, start.Add(time.Duration(minutes)*time.Minute)), Item{Title: title})
	require.NoError(t, err)
	rec, err := ev.Record()
	require.NoError(t, err)
	return rec
}

func keys(records []storage.Record[Item]) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Key().String()
	}
	sort.Strings(out)
	return out
}

func testApplyAndGet(t *testing.T, store storage.Store[Item]) {
	ctx := context.Background()
	a := oneTime(t, "a", base, 60)
	p, err := recurrence.NewWeekdayMatch(9*60, 30, recurrence.NewWeekdaySet(recurrence.Monday, recurrence.Friday), time.UTC)
	require.NoError(t, err)
	def, err := event.RecurrentEvent[Item]{ID: uuid.New(), Pattern: p, Effective: recurrence.Since(base), Data: Item{Title: "def", Priority: 2}}.Record()
	require.NoError(t, err)
	st := event.NewOccurrenceState[Item](def.ID, recurrence.MustPeriod(base.Add(9*time.Hour), base.Add(9*time.Hour+30*time.Minute)))
	st.MovedTo = mo.Some(recurrence.MustPeriod(base.Add(12*time.Hour), base.Add(12*time.Hour+30*time.Minute)))
	stRec, err := st.Record()
	require.NoError(t, err)

	require.NoError(t, store.Apply(ctx, []storage.Change[Item]{storage.Add(a), storage.Add(def), storage.Add(stRec)}))

	got, err := store.Get(ctx, a.Key(), def.Key(), stRec.Key(), storage.OneTimeKey(uuid.New()))
	require.NoError(t, err)
	require.Len(t, got, 3)
	byKey := make(map[storage.RecordKey]storage.Record[Item])
	for _, r := range got {
		byKey[r.Key()] = r
	}
	assert.Equal(t, a, byKey[a.Key()])
	assert.Equal(t, def, byKey[def.Key()])
	assert.Equal(t, stRec, byKey[stRec.Key()])

	a.Data = &Item{Title: "a2", Done: true}
	a.Cancelled = true
	require.NoError(t, store.Apply(ctx, []storage.Change[Item]{storage.Update(a), storage.Remove(stRec)}))
	got, err = store.Get(ctx, a.Key(), stRec.Key())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a, got[0])

	all, err := store.Query(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, keys([]storage.Record[Item]{a, def}), keys(all))

	_, err = store.Query(ctx, expr.Eq("no_such_column", 1))
	assert.True(t, storage.HasType(err, storage.ErrInvalidInput))
}

func testConflicts(t *testing.T, store storage.Store[Item]) {
	ctx := context.Background()
	a := oneTime(t, "a", base, 60)
	require.NoError(t, store.Apply(ctx, []storage.Change[Item]{storage.Add(a)}))

	assert.True(t, storage.IsAlreadyExists(store.Apply(ctx, []storage.Change[Item]{storage.Add(a)})))
	missing := oneTime(t, "missing", base, 60)
	assert.True(t, storage.IsNotFound(store.Apply(ctx, []storage.Change[Item]{storage.Update(missing)})))
	assert.True(t, storage.IsNotFound(store.Apply(ctx, []storage.Change[Item]{storage.Remove(missing)})))

	bad := oneTime(t, "bad", base, 60)
	bad.EffectiveEnd = nil
	assert.True(t, storage.HasType(store.Apply(ctx, []storage.Change[Item]{storage.Add(bad)}), storage.ErrInvalidInput))
}

func testApplyIsAtomic(t *testing.T, store storage.Store[Item]) {
	ctx := context.Background()
	a := oneTime(t, "a", base, 60)
	b := oneTime(t, "b", base, 60)
	require.NoError(t, store.Apply(ctx, []storage.Change[Item]{storage.Add(a)}))

	err := store.Apply(ctx, []storage.Change[Item]{storage.Add(b), storage.Add(a)})
	assert.True(t, storage.IsAlreadyExists(err))

	got, err := store.Get(ctx, b.Key())
	require.NoError(t, err)
	assert.Empty(t, got, "a failed batch must not leave partial writes")
}

type ctxKey struct{}

func testNotifies(t *testing.T, store storage.Store[Item]) {
	var calls atomic.Int32
	var seen atomic.Value
	cancel := store.Subscribe(func(ctx context.Context) {
		calls.Add(1)
		seen.Store(ctx.Value(ctxKey{}))
	})

	ctx := context.WithValue(context.Background(), ctxKey{}, "commit")
	require.NoError(t, store.Apply(ctx, []storage.Change[Item]{storage.Add(oneTime(t, "a", base, 60))}))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "commit", seen.Load())

	a := oneTime(t, "b", base, 60)
	require.NoError(t, store.Apply(ctx, []storage.Change[Item]{storage.Add(a)}))
	assert.Error(t, store.Apply(ctx, []storage.Change[Item]{storage.Add(a)}))
	assert.Equal(t, int32(2), calls.Load(), "failed batches do not notify")

	cancel()
	require.NoError(t, store.Apply(ctx, []storage.Change[Item]{storage.Remove(a)}))
	assert.Equal(t, int32(2), calls.Load())
}

// testQueryParity checks that the store selects exactly the records the
// in-process evaluation selects, for the predicates the filter factory builds
func testQueryParity(t *testing.T, store storage.Store[Item]) {
	ctx := context.Background()
	r := rand.New(rand.NewSource(7))
	ref := memory.New(Fields)

	zones := []*time.Location{time.UTC, mustLoad(t, "Europe/Berlin"), mustLoad(t, "America/New_York")}
	factory := filter.NewFactory(Fields, zones[:2]...)

	records := randomRecords(t, r, zones, 120)
	require.NoError(t, store.Apply(ctx, records))
	require.NoError(t, ref.Apply(ctx, records))

	datas := []expr.Expr{
		nil,
		expr.Gt("priority", 2),
		expr.Eq("done", true),
		expr.AnyOf(expr.Eq("title", "t1"), expr.Not{X: expr.Ge("priority", 4)}),
	}
	for i := 0; i < 60; i++ {
		from := base.Add(time.Duration(r.Intn(60*24*30)) * time.Minute)
		to := from.Add(time.Duration(r.Intn(60*24*10)) * time.Minute)
		data := datas[r.Intn(len(datas))]
		flags := filter.Flags(r.Intn(32))

		pred, err := factory.Create(from, to, data, flags)
		require.NoError(t, err)

		want, err := ref.Query(ctx, pred)
		require.NoError(t, err)
		got, err := store.Query(ctx, pred)
		require.NoError(t, err)
		assert.Equal(t, keys(want), keys(got), "window [%s, %s) data %s flags %s", from, to, expr.String(data), flags)
	}
}

func mustLoad(t *testing.T, name string) *time.Location {
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func randomRecords(t *testing.T, r *rand.Rand, zones []*time.Location, n int) []storage.Change[Item] {
	item := func() Item {
		return Item{Title: fmt.Sprintf("t%d", r.Intn(3)), Priority: r.Intn(6), Done: r.Intn(2) == 0}
	}
	minute := func(max int) time.Time {
		return base.Add(time.Duration(r.Intn(max)) * time.Minute)
	}

	var out []storage.Change[Item]
	var defs []event.RecurrentEvent[Item]
	for len(out) < n {
		switch r.Intn(4) {
		case 0:
			rec := oneTime(t, "", minute(60*24*40), 1+r.Intn(600))
			data := item()
			rec.Data = &data
			rec.Cancelled = r.Intn(4) == 0
			out = append(out, storage.Add(rec))

		case 1, 2:
			var p recurrence.Pattern
			var err error
			loc := zones[r.Intn(len(zones))]
			switch r.Intn(3) {
			case 0:
				p, err = recurrence.NewInterval(minute(60*24*20), 30+r.Intn(60*24*3), 1+r.Intn(120), mo.None[time.Time]())
			case 1:
				p, err = recurrence.NewWeekdayMatch(r.Intn(recurrence.MinutesPerDay), 1+r.Intn(300), recurrence.WeekdaySet(1+r.Intn(int(recurrence.AllWeekdays))), loc)
			default:
				p, err = recurrence.NewDayOfMonthMatch(r.Intn(recurrence.MinutesPerDay), 1+r.Intn(300), recurrence.DayOfMonth(1+r.Intn(31)), loc)
			}
			require.NoError(t, err)
			eff := recurrence.Since(minute(60 * 24 * 20))
			if r.Intn(2) == 0 {
				eff = eff.Until(eff.Start.Add(time.Duration(r.Intn(60*24*20)) * time.Minute))
			}
			ev := event.RecurrentEvent[Item]{ID: uuid.New(), Pattern: p, Effective: eff, Data: item()}
			rec, err := ev.Record()
			require.NoError(t, err)
			out = append(out, storage.Add(rec))
			defs = append(defs, ev)

		case 3:
			if len(defs) == 0 {
				continue
			}
			ev := defs[r.Intn(len(defs))]
			occ, err := recurrence.Occurrences(ev.Pattern, ev.Effective, ev.Effective.Start, mo.Some(ev.Effective.Start.Add(40*24*time.Hour)))
			require.NoError(t, err)
			if len(occ) == 0 {
				continue
			}
			st := event.NewOccurrenceState[Item](ev.ID, occ[r.Intn(len(occ))])
			if r.Intn(2) == 0 {
				start := minute(60 * 24 * 40)
				st.MovedTo = mo.Some(recurrence.MustPeriod(start, start.Add(time.Hour)))
			}
			if r.Intn(2) == 0 {
				st.Data = mo.Some(item())
			}
			st.Cancelled = r.Intn(5) == 0
			rec, err := st.Record()
			require.NoError(t, err)
			dup := false
			for _, c := range out {
				dup = dup || c.Record.Key() == rec.Key()
			}
			if !dup {
				out = append(out, storage.Add(rec))
			}
		}
	}
	return out
}
