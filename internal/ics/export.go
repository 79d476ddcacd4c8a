package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"commcal/internal/model"
)

// ProductID identifies calendars produced by Export.
const ProductID = "-//commcal//Community Calendar//EN"

// Export renders events as a VCALENDAR. Events without a time become
// all-day entries; timed events last one hour since the directory only
// stores a start. Events whose date or time cannot be parsed are skipped.
func Export(name string, events []model.CalendarEvent, loc *time.Location, now time.Time) string {
	if loc == nil {
		loc = time.Local
	}
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(ProductID)
	if name != "" {
		cal.SetName(name)
		cal.SetXWRCalName(name)
	}

	for _, ev := range events {
		day, err := time.ParseInLocation(model.DateLayout, ev.Date, loc)
		if err != nil {
			continue
		}
		uid := ev.ID.String()
		if ev.Source == "" {
			uid = "event-" + uid + "@commcal"
		}
		ve := cal.AddEvent(uid)
		ve.SetDtStampTime(now.UTC())
		ve.SetSummary(ev.Title)

		if start, ok := startOf(day, ev.Time, loc); ok {
			ve.SetStartAt(start)
			ve.SetEndAt(start.Add(time.Hour))
		} else {
			ve.SetAllDayStartAt(day)
			ve.SetAllDayEndAt(day.AddDate(0, 0, 1))
		}
		if ev.Location != "" {
			ve.SetLocation(ev.Location)
		}
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if ev.URL != "" {
			ve.SetURL(ev.URL)
		}
	}
	return cal.Serialize()
}

func startOf(day time.Time, clock string, loc *time.Location) (time.Time, bool) {
	if clock == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, clock); err == nil {
			return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc), true
		}
	}
	return time.Time{}, false
}
