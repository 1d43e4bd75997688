package filter

import "strings"

// Flags disable parts of the store-side predicate. Whatever is not pushed to
// the store is still enforced by Refine, so flags never change results, only
// how much the store filters.
type Flags uint8

const (
	// NoInterval stops filtering interval definitions beyond the effective gate
	NoInterval Flags = 1 << iota
	// NoWeekday stops filtering weekday definitions beyond the effective gate
	NoWeekday
	// NoDayOfMonth stops filtering day-of-month definitions beyond the effective gate
	NoDayOfMonth
	// NoPrecise keeps only the record type and effective range gates
	NoPrecise
	// NoData keeps the data predicate out of the store query
	NoData
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{NoInterval, "no_interval"},
	{NoWeekday, "no_weekday"},
	{NoDayOfMonth, "no_day_of_month"},
	{NoPrecise, "no_precise"},
	{NoData, "no_data"},
}

// Has reports whether every flag in x is set
func (f Flags) Has(x Flags) bool {
	return f&x == x
}

func (f Flags) String() string {
	var names []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// ParseFlags parses flag names as produced by String, as found in
// configuration files
func ParseFlags(names []string) (Flags, bool) {
	var f Flags
	for _, n := range names {
		found := false
		for _, fn := range flagNames {
			if fn.name == n {
				f |= fn.flag
				found = true
				break
			}
		}
		if !found {
			return 0, false
		}
	}
	return f, true
}
