package web

import (
	"embed"
	"html/template"
	"time"

	"commcal/internal/calendar"
	"commcal/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

func parseTemplates() (*template.Template, error) {
	return template.ParseFS(templateFS, "templates/*.html")
}

var weekdays = []string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

type cellData struct {
	model.DayCell
	Visible   []model.CalendarEvent
	MoreLabel string
	Today     bool
}

type detailData struct {
	Event       model.CalendarEvent
	Description template.HTML
	Draft       model.EventDraft
	actions     []calendar.Action
}

// Can reports whether the detail panel offers action.
func (d detailData) Can(action string) bool {
	for _, a := range d.actions {
		if string(a) == action {
			return true
		}
	}
	return false
}

type pageData struct {
	Title    string
	Year     int
	Month    time.Month
	Weekdays []string
	Weeks    [][]cellData
	Loading  bool
	Print    bool

	State    calendar.AppState
	Notices  []calendar.Notice
	Overflow *calendar.OverflowPanel
	Detail   *detailData
	Tags     []model.Tag

	// CSRF is the hidden token field every form posts back.
	CSRF template.HTML
}

// pageData turns a snapshot into template input. The print variant drops
// every panel and control.
func (s *Server) pageData(snap calendar.Snapshot, printView bool) pageData {
	data := pageData{
		Title:    snap.Title,
		Year:     snap.Year,
		Month:    snap.Month,
		Weekdays: weekdays,
		Loading:  snap.Loading,
		Print:    printView,
	}

	var week []cellData
	for _, c := range snap.Grid.Cells {
		b := snap.Bucket(c)
		week = append(week, cellData{
			DayCell:   c,
			Visible:   b.Visible,
			MoreLabel: b.MoreLabel(),
			Today:     c.Date != "" && c.Date == snap.Today,
		})
		if len(week) == calendar.Columns {
			data.Weeks = append(data.Weeks, week)
			week = nil
		}
	}

	if printView {
		return data
	}
	data.State = snap.State
	data.Notices = snap.Notices
	data.Overflow = snap.Overflow
	data.Tags = snap.Tags
	if snap.Detail != nil {
		ev := snap.Detail.Event
		data.Detail = &detailData{
			Event:       ev,
			Description: template.HTML(s.sanitizer.Sanitize(ev.Description)),
			Draft:       model.DraftFrom(ev),
			actions:     snap.Detail.Actions,
		}
	}
	return data
}
