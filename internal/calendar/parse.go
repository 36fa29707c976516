package calendar

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "timeblocks/internal/log"
	"timeblocks/internal/model"
)

// maxOccurrences caps recurrence expansion per event.
const maxOccurrences = 500

// Parse turns an ICS payload into timed events overlapping [from, to). Recurring
// events are expanded; each instance gets the UID plus its UTC start as id.
// Private and confidential events come back without a title.
func Parse(calendarID string, body []byte, from, to time.Time) ([]model.ExternalEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse ics: %w", err)
	}

	var out []model.ExternalEvent
	for _, ve := range cal.Events() {
		events, perr := parseVEvent(calendarID, ve, from, to)
		if perr != nil {
			appLog.Error("ics vevent skipped", perr, "calendar", calendarID)
			continue
		}
		out = append(out, events...)
	}
	return out, nil
}

func parseVEvent(calendarID string, ve *ical.VEvent, from, to time.Time) ([]model.ExternalEvent, error) {
	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return nil, errors.New("missing UID")
	}
	if ve.GetProperty("RECURRENCE-ID") != nil {
		// Overrides of single instances are not reconciled separately.
		return nil, nil
	}

	base := model.ExternalEvent{CalendarID: calendarID, ID: uidProp.Value}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		base.Title = strings.TrimSpace(p.Value)
	}
	if p := ve.GetProperty("CLASS"); p != nil {
		switch strings.ToUpper(strings.TrimSpace(p.Value)) {
		case "PRIVATE", "CONFIDENTIAL":
			base.Title = ""
		}
	}
	if p := ve.GetProperty("URL"); p != nil {
		base.Link = strings.TrimSpace(p.Value)
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", base.ID, err)
	}
	end, err := ve.GetEndAt()
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", base.ID, err)
	}
	base.Start, base.End = start, end
	base.AllDay = isAllDay(ve)

	rruleProp := ve.GetProperty(ical.ComponentPropertyRrule)
	if rruleProp == nil || rruleProp.Value == "" {
		if base.End.After(from) && base.Start.Before(to) {
			return []model.ExternalEvent{base}, nil
		}
		return nil, nil
	}
	return expandRecurring(base, ve, rruleProp.Value, from, to)
}

func expandRecurring(base model.ExternalEvent, ve *ical.VEvent, raw string, from, to time.Time) ([]model.ExternalEvent, error) {
	rule, err := rrule.StrToRRule(raw)
	if err != nil {
		return nil, fmt.Errorf("event %s: rrule %q: %w", base.ID, raw, err)
	}
	rule.DTStart(base.Start)

	var set rrule.Set
	set.RRule(rule)
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, base.Start.Location()); err == nil {
				set.ExDate(t)
			}
		}
	}

	dur := base.End.Sub(base.Start)
	loc := base.Start.Location()
	starts := set.Between(from.Add(-dur).In(loc), to.In(loc), true)
	if len(starts) > maxOccurrences {
		starts = starts[:maxOccurrences]
	}

	out := make([]model.ExternalEvent, 0, len(starts))
	for _, s := range starts {
		inst := base
		inst.ID = base.ID + "/" + s.UTC().Format("20060102T150405Z")
		inst.Start = s
		inst.End = s.Add(dur)
		if !inst.End.After(from) || !inst.Start.Before(to) {
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}

// isAllDay detects VALUE=DATE or a date-only DTSTART.
func isAllDay(ve *ical.VEvent) bool {
	p := ve.GetProperty(ical.ComponentPropertyDtStart)
	if p == nil {
		return false
	}
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
