package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"commcal/internal/model"
)

const (
	fieldTitle = iota
	fieldDate
	fieldTime
	fieldLocation
)

var formLabels = []string{"Title", "Date", "Time", "Location"}

// addForm collects a new event. enter on the last field submits.
type addForm struct {
	inputs []textinput.Model
	focus  int
}

func newAddForm(date string) *addForm {
	f := &addForm{inputs: make([]textinput.Model, len(formLabels))}
	for i, label := range formLabels {
		ti := textinput.New()
		ti.Prompt = padRight(label+":", 10)
		ti.CharLimit = 200
		f.inputs[i] = ti
	}
	f.inputs[fieldDate].Placeholder = model.DateLayout
	f.inputs[fieldDate].SetValue(date)
	f.inputs[fieldTime].Placeholder = "HH:MM"
	f.inputs[fieldTime].CharLimit = 8
	f.inputs[fieldTitle].Focus()
	return f
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}

func (f *addForm) last() bool { return f.focus == len(f.inputs)-1 }

func (f *addForm) move(delta int) tea.Cmd {
	f.inputs[f.focus].Blur()
	f.focus = (f.focus + delta + len(f.inputs)) % len(f.inputs)
	return f.inputs[f.focus].Focus()
}

func (f *addForm) update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	f.inputs[f.focus], cmd = f.inputs[f.focus].Update(msg)
	return cmd
}

func (f *addForm) draft() model.EventDraft {
	value := func(i int) string { return strings.TrimSpace(f.inputs[i].Value()) }
	return model.EventDraft{
		Title:    value(fieldTitle),
		Date:     value(fieldDate),
		Time:     value(fieldTime),
		Location: value(fieldLocation),
	}
}

func (f *addForm) view() string {
	lines := []string{titleStyle.Render("Add event")}
	for _, in := range f.inputs {
		lines = append(lines, in.View())
	}
	lines = append(lines, helpStyle.Render("tab next · shift+tab back · enter save · esc cancel"))
	return panelStyle.Render(strings.Join(lines, "\n"))
}
