package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the wire and grouping format of CalendarEvent.Date.
const DateLayout = "2006-01-02"

// EventID identifies an event in the Events Directory. Backends emit it
// either as a JSON number or a JSON string; both decode to the same text.
type EventID string

func (id *EventID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = EventID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("event id: %w", err)
	}
	*id = EventID(n.String())
	return nil
}

func (id EventID) String() string { return string(id) }

// Flag is a boolean that also accepts 0/1 and null.
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	switch strings.TrimSpace(string(b)) {
	case "true", "1", `"1"`, `"true"`:
		*f = true
	case "false", "0", "null", `"0"`, `"false"`, `""`:
		*f = false
	default:
		return fmt.Errorf("invalid boolean flag %s", b)
	}
	return nil
}

// TagID shares the number-or-string decoding of EventID.
type TagID = EventID

// Tag is a label from the directory's tag list. Events carry the tags
// assigned to them.
type Tag struct {
	ID       TagID  `json:"id,omitempty"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Color    string `json:"color,omitempty"`
}

// CalendarEvent is an event as returned by the Events Directory.
type CalendarEvent struct {
	ID          EventID `json:"id"`
	Title       string  `json:"title"`
	Date        string  `json:"date"`
	Time        string  `json:"time,omitempty"`
	Location    string  `json:"location,omitempty"`
	Description string  `json:"description,omitempty"`
	URL         string  `json:"url,omitempty"`
	NeedsReview bool    `json:"needs_review,omitempty"`
	Tags        []Tag   `json:"tags,omitempty"`

	// Source is empty for directory events and holds the feed ID for
	// events contributed by a subscribed ICS feed.
	Source string `json:"source,omitempty"`
}

// UnmarshalJSON accepts the directory's 0/1 review flag.
func (e *CalendarEvent) UnmarshalJSON(b []byte) error {
	type plain CalendarEvent
	aux := struct {
		*plain
		NeedsReview Flag `json:"needs_review"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	e.NeedsReview = bool(aux.NeedsReview)
	return nil
}

// ReadOnly reports whether the event came from a feed rather than the
// directory, so it cannot be edited or reviewed.
func (e CalendarEvent) ReadOnly() bool { return e.Source != "" }

// Tooltip mirrors the chip hover text: title, plus time when present.
func (e CalendarEvent) Tooltip() string {
	if e.Time == "" {
		return e.Title
	}
	return e.Title + " - " + e.Time
}

// EventDraft is the body of create and update requests.
type EventDraft struct {
	Title       string `json:"title"`
	Date        string `json:"date"`
	Time        string `json:"time,omitempty"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`

	// Tags are assigned once the event exists; the create and update
	// bodies never carry them.
	Tags []TagID `json:"-"`
}

var ErrInvalidDraft = errors.New("invalid event")

// Validate applies the same rule the directory enforces: title and a
// real calendar date are required.
func (d EventDraft) Validate() error {
	if strings.TrimSpace(d.Title) == "" || strings.TrimSpace(d.Date) == "" {
		return fmt.Errorf("%w: title and date are required", ErrInvalidDraft)
	}
	if _, err := time.Parse(DateLayout, d.Date); err != nil {
		return fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidDraft, d.Date)
	}
	if d.Time != "" {
		_, err := time.Parse("15:04", d.Time)
		if err != nil {
			_, err = time.Parse("15:04:05", d.Time)
		}
		if err != nil {
			return fmt.Errorf("%w: time %q is not HH:MM", ErrInvalidDraft, d.Time)
		}
	}
	return nil
}

// DraftFrom copies the editable fields of an existing event.
func DraftFrom(e CalendarEvent) EventDraft {
	return EventDraft{
		Title:       e.Title,
		Date:        e.Date,
		Time:        e.Time,
		Location:    e.Location,
		Description: e.Description,
		URL:         e.URL,
	}
}

// UserID shares the number-or-string decoding of EventID.
type UserID = EventID

// Account is the signed-in user as returned by the directory.
type Account struct {
	ID       UserID `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`

	Token string `json:"-"`
}

// DayCell is one cell of the month grid.
type DayCell struct {
	// Day is the day-of-month shown in the cell; padding cells reuse the
	// numbers of the adjacent months.
	Day        int    `json:"day"`
	OtherMonth bool   `json:"other_month"`
	Date       string `json:"date,omitempty"`

	// Events are all events dated on this cell, in fetch order. Always
	// empty for padding cells.
	Events []CalendarEvent `json:"events,omitempty"`
}

// MonthGrid is the fixed 6x7 render grid of a month.
type MonthGrid struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
	Cells []DayCell  `json:"cells"`
}

// EventBucket splits the events of a day into the chips that fit in the
// cell and the ones behind the "+N more" affordance.
type EventBucket struct {
	Visible  []CalendarEvent
	Overflow []CalendarEvent
}

func (b EventBucket) More() int { return len(b.Overflow) }

// MoreLabel is the overflow affordance text, empty when nothing overflows.
func (b EventBucket) MoreLabel() string {
	if len(b.Overflow) == 0 {
		return ""
	}
	return "+ " + strconv.Itoa(len(b.Overflow)) + " more"
}

// Occurrence represents a single concrete instance of a feed event
// (after recurrence expansion and timezone normalization).
type Occurrence struct {
	SourceID string // feed ID
	UID      string // iCalendar UID

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, typically derived from the local start time.
	InstanceKey string

	Summary     string
	Description string
	Location    string
	URL         string

	AllDay bool

	// Start / End are in the configured display timezone.
	Start time.Time
	End   time.Time
}
