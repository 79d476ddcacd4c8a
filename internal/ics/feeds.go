package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	appLog "commcal/internal/log"
	"commcal/internal/model"
)

// Feeds overlays subscribed calendars on a month. Each call fetches every
// feed (conditionally), so a month reload also refreshes the feeds.
type Feeds struct {
	fetcher *Fetcher
	sources []Source
	loc     *time.Location
}

// NewFeeds returns nil when there is nothing to subscribe to.
func NewFeeds(fetcher *Fetcher, sources []Source, loc *time.Location) *Feeds {
	if len(sources) == 0 {
		return nil
	}
	if loc == nil {
		loc = time.Local
	}
	return &Feeds{fetcher: fetcher, sources: sources, loc: loc}
}

// MonthEvents returns the read-only events of year/month from every feed
// that could be fetched and parsed, feed by feed, each ordered by start.
// Failing feeds are logged and left out.
func (f *Feeds) MonthEvents(ctx context.Context, year int, month time.Month) []model.CalendarEvent {
	if f == nil {
		return nil
	}
	start := time.Date(year, month, 1, 0, 0, 0, 0, f.loc)
	cfg := ExpandConfig{
		DisplayLocation: f.loc,
		RangeStart:      start,
		RangeEnd:        start.AddDate(0, 1, 0),
	}

	results, _ := f.fetcher.FetchAll(ctx, f.sources)

	var out []model.CalendarEvent
	for _, res := range results {
		parsed, err := ParseICS(res.Source, res.Body, f.loc)
		if err != nil {
			appLog.Error("ics feed skipped", err, "id", res.Source.ID)
			continue
		}
		occs, err := ExpandOccurrences(parsed, cfg)
		if err != nil {
			appLog.Error("ics expand failed", err, "id", res.Source.ID)
			continue
		}
		for _, occ := range occs {
			out = append(out, ToEvent(occ))
		}
	}
	return out
}

// ToEvent converts an occurrence into a read-only calendar event dated in
// the occurrence's zone.
func ToEvent(occ model.Occurrence) model.CalendarEvent {
	ev := model.CalendarEvent{
		ID:          occurrenceID(occ),
		Title:       occ.Summary,
		Date:        occ.Start.Format(model.DateLayout),
		Location:    occ.Location,
		Description: occ.Description,
		URL:         occ.URL,
		Source:      occ.SourceID,
	}
	if !occ.AllDay {
		ev.Time = occ.Start.Format("15:04")
	}
	if ev.Title == "" {
		ev.Title = "(untitled)"
	}
	return ev
}

func occurrenceID(occ model.Occurrence) model.EventID {
	sum := sha256.Sum256([]byte(occ.SourceID + "\x00" + occ.UID + "\x00" + occ.InstanceKey))
	return model.EventID(occ.SourceID + "-" + hex.EncodeToString(sum[:6]))
}
