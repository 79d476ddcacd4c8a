// Package tui is the terminal rendition of the calendar view.
package tui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"commcal/internal/calendar"
	"commcal/internal/model"
)

type panel int

const (
	panelNone panel = iota
	panelDay
	panelOverflow
)

// Model is the bubbletea model. Month loads run as commands, so several
// navigations may be in flight; the view applies only the last one.
type Model struct {
	ctx    context.Context
	view   *calendar.View
	snap   calendar.Snapshot
	cursor int
	panel  panel
	form   *addForm

	// month the cursor index belongs to
	cursorYear  int
	cursorMonth time.Month
}

type loadedMsg struct{}

type tickMsg time.Time

// New returns a model over view. Nothing is loaded until Init runs.
func New(ctx context.Context, view *calendar.View) Model {
	m := Model{ctx: ctx, view: view}
	m.sync()
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.load(m.view.Refresh), tick())
}

func (m Model) load(fn func(context.Context) bool) tea.Cmd {
	return func() tea.Msg {
		fn(m.ctx)
		return loadedMsg{}
	}
}

func (m Model) changeMonth(delta int) tea.Cmd {
	return m.load(func(ctx context.Context) bool { return m.view.ChangeMonth(ctx, delta) })
}

// tick re-reads the snapshot so notices expire on screen.
func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case loadedMsg:
		m.sync()
		return m, nil

	case tickMsg:
		m.sync()
		return m, tick()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.form != nil {
		return m.handleFormKey(msg)
	}

	var cmd tea.Cmd
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "left", "h":
		m.moveCursor(-1)
	case "right", "l":
		m.moveCursor(1)
	case "up", "k":
		m.moveCursor(-calendar.Columns)
	case "down", "j":
		m.moveCursor(calendar.Columns)
	case "[", "p":
		m.closePanels()
		cmd = m.changeMonth(-1)
	case "]", "n":
		m.closePanels()
		cmd = m.changeMonth(1)
	case "t":
		m.closePanels()
		cmd = m.load(m.view.Today)
	case "r":
		cmd = m.load(m.view.Refresh)
	case "enter":
		m.view.HideEventDetails()
		m.view.DismissOverflow()
		m.panel = panelDay
	case "m":
		m.view.HideEventDetails()
		if m.view.OpenOverflow(m.cursorDate()) {
			m.panel = panelOverflow
		}
	case "esc":
		m.closePanels()
	case "a":
		m.closePanels()
		m.form = newAddForm(m.cursorDate())
		cmd = textinput.Blink
	case "1", "2", "3", "4", "5", "6", "7", "8", "9":
		m.openListed(int(msg.String()[0] - '1'))
	}
	m.sync()
	return m, cmd
}

// sync takes a fresh snapshot. The view switches month as soon as a load
// starts, so any snapshot may show a month the cursor index does not
// belong to; the cursor then moves to today or the 1st.
func (m *Model) sync() {
	m.snap = m.view.Snapshot()
	if m.snap.Year != m.cursorYear || m.snap.Month != m.cursorMonth || m.cursor < 0 {
		m.cursorYear, m.cursorMonth = m.snap.Year, m.snap.Month
		m.cursor = m.defaultCursor()
	}
}

// handleFormKey routes keys to the add form. An invalid draft keeps the
// form open with an error notice.
func (m Model) handleFormKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.form = nil
	case "tab", "down":
		cmd = m.form.move(1)
	case "shift+tab", "up":
		cmd = m.form.move(-1)
	case "enter":
		if !m.form.last() {
			cmd = m.form.move(1)
			break
		}
		d := m.form.draft()
		if err := d.Validate(); err != nil {
			m.view.Notify(calendar.NoticeError, err.Error())
			break
		}
		m.form = nil
		cmd = m.load(func(ctx context.Context) bool {
			_, err := m.view.AddEvent(ctx, d)
			return err == nil
		})
	default:
		cmd = m.form.update(msg)
	}
	m.sync()
	return m, cmd
}

func (m *Model) closePanels() {
	m.view.HideEventDetails()
	m.view.DismissOverflow()
	m.panel = panelNone
}

// moveCursor keeps the cursor on in-month cells.
func (m *Model) moveCursor(delta int) {
	next := m.cursor + delta
	if next < 0 || next >= len(m.snap.Grid.Cells) || m.snap.Grid.Cells[next].OtherMonth {
		return
	}
	m.cursor = next
	if m.panel != panelNone {
		m.closePanels()
	}
}

// defaultCursor is today's cell when it is shown, otherwise the 1st.
func (m Model) defaultCursor() int {
	first := -1
	for i, c := range m.snap.Grid.Cells {
		if c.OtherMonth {
			continue
		}
		if c.Date == m.snap.Today {
			return i
		}
		if first < 0 {
			first = i
		}
	}
	return first
}

func (m Model) cursorCell() model.DayCell {
	if m.cursor < 0 || m.cursor >= len(m.snap.Grid.Cells) {
		return model.DayCell{OtherMonth: true}
	}
	return m.snap.Grid.Cells[m.cursor]
}

func (m Model) cursorDate() string { return m.cursorCell().Date }

// listed is what the number keys pick from.
func (m Model) listed() []model.CalendarEvent {
	switch m.panel {
	case panelDay:
		return m.snap.Bucket(m.cursorCell()).Visible
	case panelOverflow:
		if m.snap.Overflow != nil {
			return m.snap.Overflow.Events
		}
	}
	return nil
}

func (m *Model) openListed(i int) {
	events := m.listed()
	if i < 0 || i >= len(events) {
		return
	}
	m.view.ShowEventDetails(events[i])
}

func (m Model) View() string {
	parts := []string{RenderMonth(m.snap, m.cursor)}

	switch {
	case m.panel == panelDay:
		parts = append(parts, renderEventList(m.cursorDate(), m.listed()))
	case m.panel == panelOverflow && m.snap.Overflow != nil:
		parts = append(parts, renderEventList(m.snap.Overflow.Date+" "+m.snap.Overflow.Label, m.snap.Overflow.Events))
	}
	if m.snap.Detail != nil {
		parts = append(parts, renderDetail(*m.snap.Detail))
	}
	if m.form != nil {
		parts = append(parts, m.form.view())
	}
	if len(m.snap.Notices) > 0 {
		parts = append(parts, renderNotices(m.snap.Notices))
	}
	parts = append(parts, helpStyle.Render(strings.Join([]string{
		"←/→/↑/↓ move", "[/] month", "t today", "enter day", "m more", "1-9 open", "a add", "r refresh", "esc close", "q quit",
	}, " · ")))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// Run starts the terminal UI and blocks until the user quits.
func Run(ctx context.Context, view *calendar.View) error {
	_, err := tea.NewProgram(New(ctx, view), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}
