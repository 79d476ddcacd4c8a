package tui

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"commcal/internal/calendar"
	"commcal/internal/model"
)

const cellWidth = 16

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	headerStyle  = lipgloss.NewStyle().Width(cellWidth).Bold(true).Foreground(lipgloss.Color("244"))
	cellStyle    = lipgloss.NewStyle().Width(cellWidth).Height(5).Border(lipgloss.NormalBorder(), false, true, true, false).BorderForeground(lipgloss.Color("238"))
	otherStyle   = cellStyle.Foreground(lipgloss.Color("240"))
	todayStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	cursorStyle  = lipgloss.NewStyle().Reverse(true)
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	feedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("141"))
	moreStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	panelStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1).MarginTop(1)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

var weekdays = []string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// RenderMonth draws the grid of snap. cursor is the highlighted cell
// index, or -1 for none.
func RenderMonth(snap calendar.Snapshot, cursor int) string {
	title := snap.Title
	if snap.Loading {
		title += " (loading)"
	}

	heads := make([]string, 0, len(weekdays))
	for _, d := range weekdays {
		heads = append(heads, headerStyle.Render(d))
	}
	rows := []string{titleStyle.Render(title), lipgloss.JoinHorizontal(lipgloss.Top, heads...)}

	for r := 0; r < calendar.Rows; r++ {
		cells := make([]string, 0, calendar.Columns)
		for c := 0; c < calendar.Columns; c++ {
			i := r*calendar.Columns + c
			if i >= len(snap.Grid.Cells) {
				break
			}
			cells = append(cells, renderCell(snap, snap.Grid.Cells[i], i == cursor))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func renderCell(snap calendar.Snapshot, cell model.DayCell, selected bool) string {
	num := strconv.Itoa(cell.Day)
	switch {
	case selected:
		num = cursorStyle.Render(num)
	case cell.Date != "" && cell.Date == snap.Today:
		num = todayStyle.Render(num)
	}

	lines := []string{num}
	b := snap.Bucket(cell)
	for _, ev := range b.Visible {
		lines = append(lines, chip(ev))
	}
	if label := b.MoreLabel(); label != "" {
		lines = append(lines, moreStyle.Render(label))
	}

	style := cellStyle
	if cell.OtherMonth {
		style = otherStyle
	}
	return style.Render(strings.Join(lines, "\n"))
}

func chip(ev model.CalendarEvent) string {
	text := truncate(ev.Title, cellWidth-1)
	switch {
	case ev.NeedsReview:
		return pendingStyle.Render(text)
	case ev.ReadOnly():
		return feedStyle.Render(text)
	}
	return text
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// renderEventList draws a numbered list; the numbers are the keys that
// open each event.
func renderEventList(title string, events []model.CalendarEvent) string {
	lines := []string{titleStyle.Render(title)}
	if len(events) == 0 {
		lines = append(lines, helpStyle.Render("No events"))
	}
	for i, ev := range events {
		line := strconv.Itoa(i+1) + ". " + ev.Title
		if ev.Time != "" {
			line += "  " + ev.Time
		}
		lines = append(lines, line)
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func renderDetail(d calendar.DetailPanel) string {
	ev := d.Event
	lines := []string{titleStyle.Render(ev.Title)}
	when := ev.Date
	if ev.Time != "" {
		when += " " + ev.Time
	}
	lines = append(lines, when)
	if ev.Location != "" {
		lines = append(lines, ev.Location)
	}
	if ev.Description != "" {
		lines = append(lines, "", ev.Description)
	}
	if ev.URL != "" {
		lines = append(lines, ev.URL)
	}
	if ev.NeedsReview {
		lines = append(lines, pendingStyle.Render("Pending review"))
	}
	if len(d.Actions) > 0 {
		names := make([]string, 0, len(d.Actions))
		for _, a := range d.Actions {
			names = append(names, string(a))
		}
		lines = append(lines, helpStyle.Render("actions: "+strings.Join(names, ", ")))
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func renderNotices(notices []calendar.Notice) string {
	lines := make([]string, 0, len(notices))
	for _, n := range notices {
		if n.Kind == calendar.NoticeError {
			lines = append(lines, errorStyle.Render(n.Text))
			continue
		}
		lines = append(lines, successStyle.Render(n.Text))
	}
	return strings.Join(lines, "\n")
}
