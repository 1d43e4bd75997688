// Package export renders events as iCalendar (RFC 5545) and xCal (RFC 6321)
// documents.
package export

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"

	"github.com/cyp0633/librecur/event"
	"github.com/cyp0633/librecur/recurrence"
)

// DefaultProductID is used when Options.ProductID is empty
const DefaultProductID = "-//librecur//NONSGML v1.0//EN"

const propRecurrenceID = "RECURRENCE-ID"

// Options control how payloads are rendered
type Options[D any] struct {
	ProductID string
	// Summary names an event. Nil leaves SUMMARY out.
	Summary func(D) string
	// Description, nil leaves DESCRIPTION out
	Description func(D) string
	// Stamp is the DTSTAMP of every component. Zero means now.
	Stamp time.Time
}

func (o Options[D]) stamp() time.Time {
	if o.Stamp.IsZero() {
		return time.Now().UTC().Truncate(time.Second)
	}
	return o.Stamp.UTC()
}

func newCalendar[D any](opt Options[D]) *ical.Calendar {
	cal := ical.NewCalendar()
	prodID := opt.ProductID
	if prodID == "" {
		prodID = DefaultProductID
	}
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Props.SetText(ical.PropVersion, "2.0")
	return cal
}

func newEvent[D any](uid string, period recurrence.Period, data D, opt Options[D]) *ical.Component {
	comp := ical.NewComponent(ical.CompEvent)
	comp.Props.SetText(ical.PropUID, uid)
	comp.Props.SetDateTime(ical.PropDateTimeStamp, opt.stamp())
	comp.Props.SetDateTime(ical.PropDateTimeStart, period.Start)
	comp.Props.SetDateTime(ical.PropDateTimeEnd, period.End)
	if opt.Summary != nil {
		comp.Props.SetText(ical.PropSummary, opt.Summary(data))
	}
	if opt.Description != nil {
		comp.Props.SetText(ical.PropDescription, opt.Description(data))
	}
	return comp
}

// ICS renders calculated events, one VEVENT each. Occurrences of a recurrent
// event share its UID and carry their original start as RECURRENCE-ID.
func ICS[D any](events []event.Event[D], opt Options[D]) *ical.Calendar {
	cal := newCalendar(opt)
	for _, ev := range events {
		comp := newEvent(ev.ID.String(), ev.Period.In(time.UTC), ev.Data, opt)
		if start, ok := ev.OccurrenceStart.Get(); ok {
			comp.Props.SetDateTime(propRecurrenceID, start.UTC())
		}
		cal.Children = append(cal.Children, comp)
	}
	return cal
}

// ICSDefinition renders a recurrent event as a master VEVENT with an RRULE.
// Cancelled occurrences become EXDATEs. Moved occurrences and occurrences
// with their own data become override VEVENTs keyed by RECURRENCE-ID.
func ICSDefinition[D any](ev event.RecurrentEvent[D], states []event.OccurrenceState[D], opt Options[D]) (*ical.Calendar, error) {
	rule, err := recurrence.RRule(ev.Pattern, ev.Effective)
	if err != nil {
		return nil, fmt.Errorf("render recurrence of %s: %w", ev.ID, err)
	}
	start := rule.OrigOptions.Dtstart
	loc := start.Location()

	uid := ev.ID.String()
	master := newEvent(uid, recurrence.MustPeriod(start, start.Add(ev.Pattern.Duration())).In(loc), ev.Data, opt)
	rrule := ical.NewProp(ical.PropRecurrenceRule)
	rrule.Value = rule.OrigOptions.RRuleString()
	master.Props.Set(rrule)

	cal := newCalendar(opt)
	cal.Children = append(cal.Children, master)
	for _, st := range states {
		if st.RecurrentEventID != ev.ID {
			return nil, fmt.Errorf("state of %s passed with event %s", st.RecurrentEventID, ev.ID)
		}
		origin := st.OccurrenceStart.In(loc)
		if st.Cancelled {
			exdate := ical.NewProp(ical.PropExceptionDates)
			exdate.SetDateTime(origin)
			master.Props.Add(exdate)
			continue
		}
		if st.MovedTo.IsAbsent() && st.Data.IsAbsent() {
			continue
		}
		override := newEvent(uid, st.Actual().In(loc), st.Data.OrElse(ev.Data), opt)
		override.Props.SetDateTime(propRecurrenceID, origin)
		cal.Children = append(cal.Children, override)
	}
	return cal, nil
}

// Encode writes cal in iCalendar text form
func Encode(w io.Writer, cal *ical.Calendar) error {
	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	return nil
}

// EncodeString is Encode into a string
func EncodeString(cal *ical.Calendar) (string, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, cal); err != nil {
		return "", err
	}
	return buf.String(), nil
}
