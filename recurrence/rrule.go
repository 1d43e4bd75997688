package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

var rruleWeekdays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// RRule renders p over eff as an RFC 5545 recurrence rule. DTSTART is the
// first occurrence, expressed in the pattern's zone. Day-of-month rules keep
// the no-clamping behavior because RFC 5545 skips invalid dates as well.
func RRule(p Pattern, eff OpenPeriod) (*rrule.RRule, error) {
	first, ok := First(p, eff, eff.Start).Get()
	if !ok {
		return nil, fmt.Errorf("%w: pattern has no occurrence in %s", ErrInvalidPattern, eff)
	}

	opt := rrule.ROption{Dtstart: first.Start}
	until := eff.End
	switch pt := p.(type) {
	case Interval:
		opt.Freq = rrule.MINUTELY
		opt.Interval = pt.IntervalMinutes
		opt.Dtstart = first.Start.UTC()
		until = earliest(until, pt.End)
	case WeekdayMatch:
		opt.Freq = rrule.WEEKLY
		for _, d := range pt.Weekdays.Days() {
			opt.Byweekday = append(opt.Byweekday, rruleWeekdays[d])
		}
		opt.Dtstart = first.Start.In(pt.Location)
	case DayOfMonthMatch:
		opt.Freq = rrule.MONTHLY
		opt.Bymonthday = []int{int(pt.Day)}
		opt.Dtstart = first.Start.In(pt.Location)
	default:
		return nil, fmt.Errorf("%w: unsupported pattern %T", ErrInvalidPattern, p)
	}
	// UNTIL is inclusive while the end bounds are exclusive
	if u, ok := until.Get(); ok {
		opt.Until = u.Add(-time.Second).In(opt.Dtstart.Location())
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("failed to build rrule: %w", err)
	}
	return r, nil
}

// RRuleString renders the RRULE value without DTSTART
func RRuleString(p Pattern, eff OpenPeriod) (string, error) {
	r, err := RRule(p, eff)
	if err != nil {
		return "", err
	}
	return r.OrigOptions.RRuleString(), nil
}
