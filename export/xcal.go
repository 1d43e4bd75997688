package export

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/beevik/etree"
	"github.com/emersion/go-ical"

	"github.com/cyp0633/librecur/event"
)

// XCalNamespace is the xCal XML namespace
const XCalNamespace = "urn:ietf:params:xml:ns:icalendar-2.0"

var dateTimeProps = map[string]bool{
	ical.PropDateTimeStart:   true,
	ical.PropDateTimeEnd:     true,
	ical.PropDateTimeStamp:   true,
	ical.PropExceptionDates:  true,
	ical.PropRecurrenceDates: true,
	propRecurrenceID:         true,
}

// XCal renders calculated events as an xCal document
func XCal[D any](events []event.Event[D], opt Options[D]) (*etree.Document, error) {
	return FromICS(ICS(events, opt))
}

// FromICS converts an iCalendar object to its xCal form
func FromICS(cal *ical.Calendar) (*etree.Document, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)
	root := doc.CreateElement("icalendar")
	root.CreateAttr("xmlns", XCalNamespace)
	if err := writeComponent(root, cal.Component); err != nil {
		return nil, err
	}
	doc.Indent(2)
	return doc, nil
}

// WriteXCal writes the xCal form of cal to w
func WriteXCal(w io.Writer, cal *ical.Calendar) error {
	doc, err := FromICS(cal)
	if err != nil {
		return err
	}
	if _, err := doc.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write xcal: %w", err)
	}
	return nil
}

func writeComponent(parent *etree.Element, comp *ical.Component) error {
	elem := parent.CreateElement(strings.ToLower(comp.Name))

	names := make([]string, 0, len(comp.Props))
	for name := range comp.Props {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > 0 {
		props := elem.CreateElement("properties")
		for _, name := range names {
			for _, prop := range comp.Props[name] {
				if err := writeProp(props, &prop); err != nil {
					return fmt.Errorf("%s %s: %w", comp.Name, name, err)
				}
			}
		}
	}

	if len(comp.Children) > 0 {
		children := elem.CreateElement("components")
		for _, child := range comp.Children {
			if err := writeComponent(children, child); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeProp(parent *etree.Element, prop *ical.Prop) error {
	elem := parent.CreateElement(strings.ToLower(prop.Name))
	writeParams(elem, prop.Params)

	switch {
	case prop.Name == ical.PropRecurrenceRule:
		return writeRecur(elem.CreateElement("recur"), prop.Value)
	case dateTimeProps[prop.Name]:
		for _, v := range strings.Split(prop.Value, ",") {
			if err := writeDateTime(elem, v); err != nil {
				return err
			}
		}
		return nil
	}

	text, err := prop.Text()
	if err != nil {
		return err
	}
	elem.CreateElement("text").SetText(text)
	return nil
}

func writeParams(elem *etree.Element, params ical.Params) {
	names := make([]string, 0, len(params))
	for name := range params {
		if name == ical.ParamValue {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return
	}
	sort.Strings(names)
	out := elem.CreateElement("parameters")
	for _, name := range names {
		p := out.CreateElement(strings.ToLower(name))
		for _, v := range params[name] {
			p.CreateElement("text").SetText(v)
		}
	}
}

// dateTime turns 20240101T090000Z into 2024-01-01T09:00:00Z and 20240101
// into 2024-01-01, returning the xCal value type as well
func dateTime(v string) (kind, text string, err error) {
	switch {
	case len(v) == 8:
		return "date", v[0:4] + "-" + v[4:6] + "-" + v[6:8], nil
	case len(v) >= 15 && v[8] == 'T':
		return "date-time", fmt.Sprintf("%s-%s-%sT%s:%s:%s%s", v[0:4], v[4:6], v[6:8], v[9:11], v[11:13], v[13:15], v[15:]), nil
	}
	return "", "", fmt.Errorf("malformed date-time %q", v)
}

func writeDateTime(elem *etree.Element, v string) error {
	kind, text, err := dateTime(v)
	if err != nil {
		return err
	}
	elem.CreateElement(kind).SetText(text)
	return nil
}

func writeRecur(elem *etree.Element, rule string) error {
	for _, part := range strings.Split(rule, ";") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return fmt.Errorf("malformed recurrence rule part %q", part)
		}
		key = strings.ToLower(key)
		if key == "until" {
			_, text, err := dateTime(value)
			if err != nil {
				return err
			}
			elem.CreateElement(key).SetText(text)
			continue
		}
		for _, v := range strings.Split(value, ",") {
			elem.CreateElement(key).SetText(v)
		}
	}
	return nil
}
