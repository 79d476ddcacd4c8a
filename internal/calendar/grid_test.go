package calendar

import (
	"fmt"
	"testing"
	"time"

	"commcal/internal/model"
)

func TestComputeGridAlwaysFortyTwoCells(t *testing.T) {
	for year := 1899; year <= 2101; year++ {
		for m := time.January; m <= time.December; m++ {
			g := ComputeGrid(year, m)
			if len(g.Cells) != GridCells {
				t.Fatalf("%d-%02d: %d cells, want %d", year, m, len(g.Cells), GridCells)
			}
			in := 0
			for _, c := range g.Cells {
				if !c.OtherMonth {
					in++
				}
			}
			if in != DaysIn(year, m) {
				t.Fatalf("%d-%02d: %d in-month cells, want %d", year, m, in, DaysIn(year, m))
			}
		}
	}
}

func TestDaysIn(t *testing.T) {
	tests := []struct {
		year  int
		month time.Month
		want  int
	}{
		{2024, time.February, 29},
		{2023, time.February, 28},
		{2000, time.February, 29},
		{1900, time.February, 28},
		{2024, time.April, 30},
		{2024, time.December, 31},
	}
	for _, tt := range tests {
		if got := DaysIn(tt.year, tt.month); got != tt.want {
			t.Errorf("DaysIn(%d, %s) = %d, want %d", tt.year, tt.month, got, tt.want)
		}
	}
}

func TestComputeGridPadding(t *testing.T) {
	// March 2024 starts on a Friday: five leading cells from February.
	g := ComputeGrid(2024, time.March)
	wantLead := []int{25, 26, 27, 28, 29}
	for i, d := range wantLead {
		c := g.Cells[i]
		if !c.OtherMonth || c.Day != d || c.Date != "" {
			t.Errorf("cell %d = %+v, want padding day %d", i, c, d)
		}
	}
	first := g.Cells[5]
	if first.OtherMonth || first.Day != 1 || first.Date != "2024-03-01" {
		t.Errorf("cell 5 = %+v, want 2024-03-01", first)
	}
	last := g.Cells[5+30]
	if last.Date != "2024-03-31" {
		t.Errorf("cell 35 = %+v, want 2024-03-31", last)
	}
	for i, c := range g.Cells[36:] {
		if !c.OtherMonth || c.Day != i+1 {
			t.Errorf("trailing cell %d = %+v, want day %d", i, c, i+1)
		}
	}

	// September 2024 starts on a Sunday: no leading padding.
	g = ComputeGrid(2024, time.September)
	if g.Cells[0].OtherMonth || g.Cells[0].Date != "2024-09-01" {
		t.Errorf("first cell = %+v, want 2024-09-01", g.Cells[0])
	}
}

func TestAddMonths(t *testing.T) {
	tests := []struct {
		year      int
		month     time.Month
		delta     int
		wantYear  int
		wantMonth time.Month
	}{
		{2024, time.December, 1, 2025, time.January},
		{2024, time.January, -1, 2023, time.December},
		{2024, time.March, 0, 2024, time.March},
		{2024, time.March, 22, 2026, time.January},
		{2024, time.March, -27, 2021, time.December},
	}
	for _, tt := range tests {
		y, m := AddMonths(tt.year, tt.month, tt.delta)
		if y != tt.wantYear || m != tt.wantMonth {
			t.Errorf("AddMonths(%d, %s, %d) = %d %s, want %d %s",
				tt.year, tt.month, tt.delta, y, m, tt.wantYear, tt.wantMonth)
		}
	}
}

func TestFormatDate(t *testing.T) {
	if got := FormatDate(2024, time.March, 5); got != "2024-03-05" {
		t.Errorf("FormatDate = %q", got)
	}
	if got := FormatDate(987, time.November, 30); got != "0987-11-30" {
		t.Errorf("FormatDate = %q", got)
	}
}

func events(date string, n int) []model.CalendarEvent {
	out := make([]model.CalendarEvent, n)
	for i := range out {
		out[i] = model.CalendarEvent{
			ID:    model.EventID(fmt.Sprintf("%s-%d", date, i)),
			Title: fmt.Sprintf("Event %d", i),
			Date:  date,
		}
	}
	return out
}

func TestPopulateAndBucket(t *testing.T) {
	evs := append(events("2024-03-05", 4), events("2024-03-06", 3)...)
	evs = append(evs,
		model.CalendarEvent{ID: "bad", Title: "Impossible", Date: "2024-02-30"},
		model.CalendarEvent{ID: "feb", Title: "Previous month", Date: "2024-02-29"},
	)
	g := Populate(ComputeGrid(2024, time.March), evs)

	placed := 0
	for _, c := range g.Cells {
		if c.OtherMonth && len(c.Events) > 0 {
			t.Errorf("padding cell %+v carries events", c)
		}
		placed += len(c.Events)
	}
	if placed != 7 {
		t.Errorf("placed %d events, want 7", placed)
	}

	var snap Snapshot
	for _, c := range g.Cells {
		switch c.Date {
		case "2024-03-05":
			b := snap.Bucket(c)
			if len(b.Visible) != 3 || b.More() != 1 || b.MoreLabel() != "+ 1 more" {
				t.Errorf("2024-03-05 bucket = %+v (%q)", b, b.MoreLabel())
			}
			if b.Overflow[0].Title != "Event 3" {
				t.Errorf("overflow = %+v, want the fourth event", b.Overflow)
			}
			for i, ev := range b.Visible {
				if ev.Title != fmt.Sprintf("Event %d", i) {
					t.Errorf("visible[%d] = %q, fetch order not kept", i, ev.Title)
				}
			}
		case "2024-03-06":
			b := snap.Bucket(c)
			if len(b.Visible) != 3 || b.MoreLabel() != "" {
				t.Errorf("2024-03-06 bucket = %+v", b)
			}
		}
	}
}

func TestBucketEventsPaddingCell(t *testing.T) {
	b := BucketEvents(model.DayCell{Day: 29, OtherMonth: true}, events("2024-02-29", 5))
	if len(b.Visible) != 0 || b.More() != 0 {
		t.Errorf("padding bucket = %+v, want empty", b)
	}
}

func TestSplitDoesNotAliasOverflow(t *testing.T) {
	day := events("2024-03-05", 5)
	b := Split(day)
	b.Visible = append(b.Visible, model.CalendarEvent{Title: "extra"})
	if b.Overflow[0].Title != "Event 3" {
		t.Errorf("appending to Visible clobbered Overflow: %+v", b.Overflow)
	}
}

func TestMonthTitle(t *testing.T) {
	if got := MonthTitle(2024, time.March); got != "March 2024" {
		t.Errorf("MonthTitle = %q", got)
	}
}
