package calendar

import (
	"fmt"
	"time"

	"commcal/internal/model"
)

const (
	// Columns is the number of weekdays per grid row, Sunday first.
	Columns = 7
	// Rows is fixed so every month renders at the same height.
	Rows = 6
	// GridCells is the size of every month grid.
	GridCells = Columns * Rows
	// VisiblePerDay caps the chips shown inside a day cell.
	VisiblePerDay = 3
)

// DaysIn returns the number of days in month of year using Gregorian
// rules (Feb has 29 days when year%4 == 0 && (year%100 != 0 || year%400 == 0)).
func DaysIn(year int, month time.Month) int {
	// Day 0 of the following month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// FormatDate renders the cell date key. It must match CalendarEvent.Date
// byte for byte; grouping is string equality.
func FormatDate(year int, month time.Month, day int) string {
	return fmt.Sprintf("%04d-%02d-%02d", year, int(month), day)
}

// AddMonths moves (year, month) by delta months in either direction.
func AddMonths(year int, month time.Month, delta int) (int, time.Month) {
	idx := year*12 + int(month-1) + delta
	y := idx / 12
	m := idx % 12
	if m < 0 {
		m += 12
		y--
	}
	return y, time.Month(m + 1)
}

// ComputeGrid lays out the 42-cell grid of year/month: the tail of the
// previous month, every day of the month, then the head of the next month.
func ComputeGrid(year int, month time.Month) model.MonthGrid {
	firstWeekday := int(time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Weekday())
	totalDays := DaysIn(year, month)
	prevYear, prevMonth := AddMonths(year, month, -1)
	prevMonthLength := DaysIn(prevYear, prevMonth)

	cells := make([]model.DayCell, 0, GridCells)

	for day := prevMonthLength - firstWeekday + 1; day <= prevMonthLength; day++ {
		cells = append(cells, model.DayCell{Day: day, OtherMonth: true})
	}

	for day := 1; day <= totalDays; day++ {
		cells = append(cells, model.DayCell{
			Day:  day,
			Date: FormatDate(year, month, day),
		})
	}

	// At most 6+31 cells are used above, so this is always >= 5; the clamp
	// only guards the arithmetic.
	remaining := GridCells - firstWeekday - totalDays
	if remaining < 0 {
		remaining = 0
	}
	for day := 1; day <= remaining; day++ {
		cells = append(cells, model.DayCell{Day: day, OtherMonth: true})
	}

	return model.MonthGrid{Year: year, Month: month, Cells: cells}
}

// EventsOn returns the events dated exactly date, in their original order.
func EventsOn(events []model.CalendarEvent, date string) []model.CalendarEvent {
	var out []model.CalendarEvent
	for _, ev := range events {
		if ev.Date == date {
			out = append(out, ev)
		}
	}
	return out
}

// Populate returns a copy of grid whose in-month cells carry their events.
// Events whose date matches no cell (other months, impossible dates such
// as 2024-02-30) are simply not placed.
func Populate(grid model.MonthGrid, events []model.CalendarEvent) model.MonthGrid {
	byDate := make(map[string][]model.CalendarEvent)
	for _, ev := range events {
		byDate[ev.Date] = append(byDate[ev.Date], ev)
	}

	out := grid
	out.Cells = make([]model.DayCell, len(grid.Cells))
	for i, cell := range grid.Cells {
		if !cell.OtherMonth && cell.Date != "" {
			cell.Events = byDate[cell.Date]
		} else {
			cell.Events = nil
		}
		out.Cells[i] = cell
	}
	return out
}

// BucketEvents splits the events of cell into the visible chips and the
// overflow. Padding cells never show events.
func BucketEvents(cell model.DayCell, events []model.CalendarEvent) model.EventBucket {
	if cell.OtherMonth || cell.Date == "" {
		return model.EventBucket{}
	}
	return Split(EventsOn(events, cell.Date))
}

// Split caps a day's events at VisiblePerDay.
func Split(dayEvents []model.CalendarEvent) model.EventBucket {
	if len(dayEvents) <= VisiblePerDay {
		return model.EventBucket{Visible: dayEvents}
	}
	return model.EventBucket{
		Visible:  dayEvents[:VisiblePerDay:VisiblePerDay],
		Overflow: dayEvents[VisiblePerDay:],
	}
}

// MonthTitle is the heading shown above the grid, e.g. "March 2024".
func MonthTitle(year int, month time.Month) string {
	return fmt.Sprintf("%s %d", month.String(), year)
}
