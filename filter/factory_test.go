package filter

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyp0633/librecur/event"
	"github.com/cyp0633/librecur/expr"
	"github.com/cyp0633/librecur/recurrence"
	"github.com/cyp0633/librecur/storage"
	"github.com/cyp0633/librecur/storage/memory"
)

type item struct {
	Title    string
	Priority int
}

var itemFields = expr.Fields[item]{
	"title":    func(i item) any { return i.Title },
	"priority": func(i item) any { return i.Priority },
}

func utc(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC)
}

func mustLoad(t *testing.T, name string) *time.Location {
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func definitionRecord(t *testing.T, p recurrence.Pattern, eff recurrence.OpenPeriod, data item) storage.Record[item] {
	ev := event.RecurrentEvent[item]{ID: uuid.New(), Pattern: p, Effective: eff, Data: data}
	rec, err := ev.Record()
	require.NoError(t, err)
	return rec
}

func matches(t *testing.T, pred expr.Expr, rec storage.Record[item]) bool {
	ok, err := storage.Matches(pred, rec, itemFields, nil)
	require.NoError(t, err)
	return ok
}

func TestCreateWeekday(t *testing.T) {
	f := NewFactory(itemFields)
	sunday := utc(2023, 1, 1, 0, 0)

	morning, err := recurrence.NewWeekdayMatch(360, 60, recurrence.NewWeekdaySet(recurrence.Sunday), time.UTC)
	require.NoError(t, err)
	overnight, err := recurrence.NewWeekdayMatch(23*60, 61, recurrence.NewWeekdaySet(recurrence.Saturday), time.UTC)
	require.NoError(t, err)
	tuesday, err := recurrence.NewWeekdayMatch(360, 60, recurrence.NewWeekdaySet(recurrence.Tuesday), time.UTC)
	require.NoError(t, err)

	eff := recurrence.Since(utc(2022, 12, 1, 0, 0))
	tests := []struct {
		name     string
		pattern  recurrence.Pattern
		from, to time.Time
		expected bool
	}{
		{"same day", morning, sunday, sunday.Add(24 * time.Hour), true},
		{"same day after the end", morning, sunday.Add(7 * time.Hour), sunday.Add(20 * time.Hour), false},
		{"same day before the start", morning, sunday, sunday.Add(6 * time.Hour), false},
		{"overnight spill", overnight, sunday, sunday.Add(time.Minute), true},
		{"after the overnight spill", overnight, sunday.Add(time.Minute), sunday.Add(2 * time.Minute), false},
		{"other weekday", tuesday, sunday, sunday.Add(24 * time.Hour), false},
		{"fully covered day", tuesday, sunday, sunday.Add(3 * 24 * time.Hour), true},
		{"to's day", tuesday, sunday.Add(12 * time.Hour), utc(2023, 1, 3, 6, 1), true},
		{"to's day before the start", tuesday, sunday.Add(12 * time.Hour), utc(2023, 1, 3, 6, 0), false},
		{"whole week", tuesday, utc(2023, 1, 4, 12, 0), utc(2023, 1, 12, 12, 0), true},
		{"zero width", morning, sunday.Add(6 * time.Hour), sunday.Add(6 * time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred, err := f.Create(tt.from, tt.to, nil, 0)
			require.NoError(t, err)
			rec := definitionRecord(t, tt.pattern, eff, item{})
			assert.Equal(t, tt.expected, matches(t, pred, rec), expr.String(pred))
		})
	}
}

func TestCreateInterval(t *testing.T) {
	f := NewFactory(itemFields)
	anchor := utc(2023, 1, 1, 0, 0)
	p, err := recurrence.NewInterval(anchor, 12*60, 60, mo.None[time.Time]())
	require.NoError(t, err)
	rec := definitionRecord(t, p, recurrence.Since(anchor), item{})

	tests := []struct {
		name     string
		from, to time.Time
		expected bool
	}{
		{"window wider than the interval", utc(2023, 1, 1, 2, 0), utc(2023, 1, 1, 15, 0), true},
		{"starts mid occurrence", utc(2023, 1, 3, 12, 30), utc(2023, 1, 3, 12, 31), true},
		{"reaches the next occurrence", utc(2023, 1, 3, 11, 0), utc(2023, 1, 3, 12, 1), true},
		{"between occurrences", utc(2023, 1, 3, 13, 0), utc(2023, 1, 3, 23, 0), false},
		{"ends at the next start", utc(2023, 1, 3, 13, 0), utc(2023, 1, 4, 0, 0), false},
		{"before the effective start", utc(2022, 12, 1, 0, 0), utc(2022, 12, 2, 0, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred, err := f.Create(tt.from, tt.to, nil, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, matches(t, pred, rec), expr.String(pred))
		})
	}
}

func TestCreateFlags(t *testing.T) {
	f := NewFactory(itemFields)
	anchor := utc(2023, 1, 1, 0, 0)
	interval, err := recurrence.NewInterval(anchor, 12*60, 60, mo.None[time.Time]())
	require.NoError(t, err)
	weekday, err := recurrence.NewWeekdayMatch(360, 60, recurrence.NewWeekdaySet(recurrence.Tuesday), time.UTC)
	require.NoError(t, err)
	monthly, err := recurrence.NewDayOfMonthMatch(360, 60, 20, time.UTC)
	require.NoError(t, err)

	from, to := utc(2023, 1, 1, 13, 0), utc(2023, 1, 1, 23, 0)
	records := map[string]storage.Record[item]{
		"interval": definitionRecord(t, interval, recurrence.Since(anchor), item{Title: "a"}),
		"weekday":  definitionRecord(t, weekday, recurrence.Since(anchor), item{Title: "a"}),
		"monthly":  definitionRecord(t, monthly, recurrence.Since(anchor), item{Title: "b"}),
	}

	tests := []struct {
		name     string
		flags    Flags
		data     expr.Expr
		expected []string
	}{
		{"precise", 0, nil, nil},
		{"no interval", NoInterval, nil, []string{"interval"}},
		{"no weekday", NoWeekday, nil, []string{"weekday"}},
		{"no day of month", NoDayOfMonth, nil, []string{"monthly"}},
		{"no precise", NoPrecise, nil, []string{"interval", "monthly", "weekday"}},
		{"no precise with data", NoPrecise, expr.Eq("title", "a"), []string{"interval", "weekday"}},
		{"no precise without data", NoPrecise | NoData, expr.Eq("title", "a"), []string{"interval", "monthly", "weekday"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred, err := f.Create(from, to, tt.data, tt.flags)
			require.NoError(t, err)
			var got []string
			for name, rec := range records {
				if matches(t, pred, rec) {
					got = append(got, name)
				}
			}
			sort.Strings(got)
			assert.Equal(t, tt.expected, got)
		})
	}

	_, err = f.Create(from, to, expr.Eq("nope", 1), 0)
	assert.True(t, storage.HasType(err, storage.ErrInvalidInput))
}

func TestFlagsString(t *testing.T) {
	assert.Equal(t, "none", Flags(0).String())
	assert.Equal(t, "no_interval|no_data", (NoInterval | NoData).String())

	f, ok := ParseFlags([]string{"no_precise", "no_weekday"})
	assert.True(t, ok)
	assert.Equal(t, NoPrecise|NoWeekday, f)

	_, ok = ParseFlags([]string{"fast"})
	assert.False(t, ok)
}

func TestCreateUnknownZone(t *testing.T) {
	tokyo := mustLoad(t, "Asia/Tokyo")
	f := NewFactory(itemFields, time.UTC)
	p, err := recurrence.NewWeekdayMatch(360, 60, recurrence.NewWeekdaySet(recurrence.Tuesday), tokyo)
	require.NoError(t, err)
	rec := definitionRecord(t, p, recurrence.Since(utc(2023, 1, 1, 0, 0)), item{})

	// Sunday afternoon has no Tuesday occurrence in any zone, but the
	// factory cannot tell for a zone it does not know
	pred, err := f.Create(utc(2023, 1, 1, 12, 0), utc(2023, 1, 1, 13, 0), nil, 0)
	require.NoError(t, err)
	assert.True(t, matches(t, pred, rec))

	f = NewFactory(itemFields, time.UTC, tokyo)
	pred, err = f.Create(utc(2023, 1, 1, 12, 0), utc(2023, 1, 1, 13, 0), nil, 0)
	require.NoError(t, err)
	assert.False(t, matches(t, pred, rec))
}

type scenario struct {
	records []storage.Record[item]
	from    time.Time
	to      time.Time
	data    expr.Expr
	flags   Flags
}

var dataPredicates = []expr.Expr{
	nil,
	expr.Eq("title", "a"),
	expr.Gt("priority", 2),
	expr.Not{X: expr.Eq("title", "b")},
}

func randomItem(r *rand.Rand) item {
	return item{Title: []string{"a", "b", "c"}[r.Intn(3)], Priority: r.Intn(5)}
}

func randomPattern(r *rand.Rand, zones []*time.Location, base time.Time) recurrence.Pattern {
	zone := zones[r.Intn(len(zones))]
	switch r.Intn(3) {
	case 0:
		interval := 1 + r.Intn(3*recurrence.MinutesPerDay)
		anchor := base.Add(time.Duration(r.Intn(40*recurrence.MinutesPerDay)-20*recurrence.MinutesPerDay) * time.Minute)
		p, err := recurrence.NewInterval(anchor, interval, 1+r.Intn(interval), mo.None[time.Time]())
		if err != nil {
			panic(err)
		}
		return p
	case 1:
		set := recurrence.WeekdaySet(1 + r.Intn(int(recurrence.AllWeekdays)))
		p, err := recurrence.NewWeekdayMatch(r.Intn(recurrence.MinutesPerDay), 1+r.Intn(recurrence.MinutesPerDay), set, zone)
		if err != nil {
			panic(err)
		}
		return p
	default:
		p, err := recurrence.NewDayOfMonthMatch(r.Intn(recurrence.MinutesPerDay), 1+r.Intn(recurrence.MinutesPerDay),
			recurrence.DayOfMonth(1+r.Intn(31)), zone)
		if err != nil {
			panic(err)
		}
		return p
	}
}

// randomScenario builds records around a DST transition in one of the
// zones so that boundary handling is exercised
func randomScenario(t *testing.T, r *rand.Rand, zones []*time.Location) scenario {
	bases := []time.Time{utc(2024, 3, 31, 1, 0), utc(2024, 11, 3, 6, 0), utc(2024, 2, 28, 0, 0), utc(2024, 7, 1, 0, 0)}
	base := bases[r.Intn(len(bases))]
	minute := func(spread int) time.Time {
		return base.Add(time.Duration(r.Intn(2*spread)-spread) * time.Minute)
	}

	var s scenario
	s.from = minute(3 * recurrence.MinutesPerDay)
	if r.Intn(3) == 0 {
		s.from = s.from.Add(time.Duration(r.Intn(60)) * time.Second)
	}
	widths := []int{0, 1, 30, 60, 600, recurrence.MinutesPerDay, 3 * recurrence.MinutesPerDay, 10 * recurrence.MinutesPerDay, 40 * recurrence.MinutesPerDay}
	s.to = s.from.Add(time.Duration(widths[r.Intn(len(widths))]+r.Intn(90)) * time.Minute)
	s.data = dataPredicates[r.Intn(len(dataPredicates))]
	s.flags = Flags(r.Intn(32))

	for i := 0; i < 6; i++ {
		if r.Intn(3) == 0 {
			start := minute(4 * recurrence.MinutesPerDay)
			ev := event.OneTimeEvent[item]{
				ID:        uuid.New(),
				Period:    recurrence.MustPeriod(start, start.Add(time.Duration(r.Intn(3000))*time.Minute)),
				Cancelled: r.Intn(5) == 0,
				Data:      randomItem(r),
			}
			rec, err := ev.Record()
			require.NoError(t, err)
			s.records = append(s.records, rec)
			continue
		}

		p := randomPattern(r, zones, base)
		eff := recurrence.Since(minute(30 * recurrence.MinutesPerDay))
		if r.Intn(2) == 0 {
			eff = eff.Until(eff.Start.Add(time.Duration(r.Intn(40*recurrence.MinutesPerDay)) * time.Minute))
		}
		ev := event.RecurrentEvent[item]{ID: uuid.New(), Pattern: p, Effective: eff, Data: randomItem(r)}
		rec, err := ev.Record()
		require.NoError(t, err)
		s.records = append(s.records, rec)

		periods, err := recurrence.Occurrences(p, eff, s.from.Add(-4*24*time.Hour), mo.Some(s.to.Add(4*24*time.Hour)))
		require.NoError(t, err)
		for _, period := range periods {
			if r.Intn(4) != 0 {
				continue
			}
			st := event.NewOccurrenceState[item](ev.ID, period)
			st.Cancelled = r.Intn(4) == 0
			if r.Intn(2) == 0 {
				shift := time.Duration(r.Intn(6*recurrence.MinutesPerDay)-3*recurrence.MinutesPerDay) * time.Minute
				st.MovedTo = mo.Some(recurrence.MustPeriod(period.Start.Add(shift), period.End.Add(shift)))
			}
			if r.Intn(2) == 0 {
				st.Data = mo.Some(randomItem(r))
			}
			stRec, err := st.Record()
			require.NoError(t, err)
			s.records = append(s.records, stRec)
		}
	}
	return s
}

// expected projects every definition with all of its states
func (s scenario) expected(t *testing.T) []string {
	pred, err := expr.Compile(s.data, itemFields)
	require.NoError(t, err)

	var out []event.Event[item]
	for _, rec := range s.records {
		switch rec.Type {
		case storage.OneTime:
			ev, err := event.OneTimeFromRecord(rec)
			require.NoError(t, err)
			out = append(out, ev.ToEvents(s.from, s.to)...)
		case storage.RecurrentDefinition:
			var children []storage.Record[item]
			for _, c := range s.records {
				if c.Type == storage.RecurrentState && *c.RecurrentEventID == rec.ID {
					children = append(children, c)
				}
			}
			events, err := event.Project(rec, children, s.from, s.to)
			require.NoError(t, err)
			out = append(out, events...)
		}
	}
	var kept []event.Event[item]
	for _, e := range out {
		if pred(e.Data) {
			kept = append(kept, e)
		}
	}
	return describe(kept)
}

func describe(events []event.Event[item]) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = fmt.Sprintf("%s %s %s", e.ID, e.Period, e.Data.Title)
	}
	sort.Strings(out)
	return out
}

func TestCoarsePredicateIsSound(t *testing.T) {
	zones := []*time.Location{time.UTC, mustLoad(t, "Europe/Berlin"), mustLoad(t, "America/New_York"), mustLoad(t, "Australia/Adelaide")}
	f := NewFactory(itemFields, zones[:3]...)
	r := rand.New(rand.NewSource(7))
	ctx := context.Background()

	for i := 0; i < 400; i++ {
		s := randomScenario(t, r, zones)
		store := memory.New(itemFields)
		changes := make([]storage.Change[item], len(s.records))
		for j, rec := range s.records {
			changes[j] = storage.Add(rec)
		}
		require.NoError(t, store.Apply(ctx, changes))

		pred, err := f.Create(s.from, s.to, s.data, s.flags)
		require.NoError(t, err)
		fetched, err := store.Query(ctx, pred)
		require.NoError(t, err)

		got, err := f.Refine(ctx, fetched, s.from, s.to, s.data, store)
		require.NoError(t, err)
		require.Equal(t, s.expected(t), describe(got),
			"window [%s, %s) flags %s predicate %s", s.from, s.to, s.flags, expr.String(pred))

		// The cache path filters the same view exactly
		lookup := func(key storage.RecordKey) (storage.Record[item], bool) {
			recs, _ := store.Get(ctx, key)
			if len(recs) == 0 {
				return storage.Record[item]{}, false
			}
			return recs[0], true
		}
		filtered, err := f.Filter(s.records, s.from, s.to, s.data, lookup)
		require.NoError(t, err)
		got, err = f.Refine(ctx, filtered, s.from, s.to, s.data, nil)
		require.NoError(t, err)
		require.Equal(t, s.expected(t), describe(got))
	}
}

func TestRefineMissingParent(t *testing.T) {
	f := NewFactory(itemFields)
	p, err := recurrence.NewWeekdayMatch(360, 60, recurrence.NewWeekdaySet(recurrence.Sunday), time.UTC)
	require.NoError(t, err)
	def := definitionRecord(t, p, recurrence.Since(utc(2023, 1, 1, 0, 0)), item{Title: "a"})
	st := event.NewOccurrenceState[item](def.ID, recurrence.MustPeriod(utc(2023, 1, 1, 6, 0), utc(2023, 1, 1, 7, 0)))
	st.Data = mo.Some(item{Title: "b"})
	stRec, err := st.Record()
	require.NoError(t, err)

	from, to := utc(2023, 1, 1, 0, 0), utc(2023, 1, 2, 0, 0)
	_, err = f.Refine(context.Background(), []storage.Record[item]{stRec}, from, to, nil, nil)
	assert.True(t, storage.IsInvariant(err))

	parents := &storage.MockStore[item]{}
	parents.On("Get", context.Background(), []storage.RecordKey{storage.DefinitionKey(def.ID)}).
		Return([]storage.Record[item]{def}, nil)
	events, err := f.Refine(context.Background(), []storage.Record[item]{stRec}, from, to, nil, parents)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "b", events[0].Data.Title)
	parents.AssertExpectations(t)
}

func TestMatch(t *testing.T) {
	f := NewFactory(itemFields)
	p, err := recurrence.NewDayOfMonthMatch(360, 60, 15, time.UTC)
	require.NoError(t, err)
	def := definitionRecord(t, p, recurrence.Since(utc(2023, 1, 1, 0, 0)), item{})

	ok, err := f.Match(def, utc(2023, 1, 15, 6, 30), utc(2023, 1, 15, 6, 31))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.Match(def, utc(2023, 1, 15, 7, 0), utc(2023, 2, 15, 6, 0))
	require.NoError(t, err)
	assert.False(t, ok)

	broken := def
	broken.Summary = &recurrence.PatternSummary{TimeZone: "UTC"}
	_, err = f.Match(broken, utc(2023, 1, 1, 0, 0), utc(2023, 2, 1, 0, 0))
	assert.True(t, storage.IsInvariant(err))
}
