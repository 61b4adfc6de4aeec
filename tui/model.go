// Package tui is the interactive terminal front end of the scan session.
package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mjasion/balena-home/freeclip/pairing"
	"github.com/mjasion/balena-home/freeclip/session"
)

// Commander is the controller surface the terminal UI drives
type Commander interface {
	Tap(ctx context.Context) error
	LongPress(ctx context.Context) (bool, error)
	Confirm(ctx context.Context, id uint64) error
	Cancel(ctx context.Context, id uint64) error
	StopManual(ctx context.Context) error
	Snapshot() session.Snapshot
}

type statusMsg session.Snapshot

type promptMsg pairing.PromptRequest

type errMsg struct{ err error }

// Model renders the session status and forwards key presses as commands
type Model struct {
	ctx   context.Context
	ctrl  Commander
	title string

	snap   session.Snapshot
	prompt *pairing.PromptRequest
	err    error
	width  int
}

func New(ctx context.Context, ctrl Commander, title string) Model {
	snap := ctrl.Snapshot()
	return Model{
		ctx:    ctx,
		ctrl:   ctrl,
		title:  title,
		snap:   snap,
		prompt: snap.Prompt,
	}
}

// Init taps once so the scan starts with the UI
func (m Model) Init() tea.Cmd {
	return m.run(m.ctrl.Tap)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case statusMsg:
		m.snap = session.Snapshot(msg)
		m.prompt = msg.Prompt
		return m, nil

	case promptMsg:
		req := pairing.PromptRequest(msg)
		m.prompt = &req
		return m, nil

	case errMsg:
		m.err = msg.err
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "q" || key == "ctrl+c" {
		return m, tea.Quit
	}

	if m.prompt != nil {
		id := m.prompt.ID
		switch key {
		case "y", "enter":
			m.err = nil
			return m, m.run(func(ctx context.Context) error { return m.ctrl.Confirm(ctx, id) })
		case "n", "esc":
			m.err = nil
			return m, m.run(func(ctx context.Context) error { return m.ctrl.Cancel(ctx, id) })
		}
		return m, nil
	}

	switch key {
	case "enter", " ", "t":
		m.err = nil
		return m, m.run(m.ctrl.Tap)
	case "u", "l":
		m.err = nil
		return m, m.run(func(ctx context.Context) error {
			_, err := m.ctrl.LongPress(ctx)
			return err
		})
	case "s":
		return m, m.run(m.ctrl.StopManual)
	}
	return m, nil
}

// run issues a controller command off the UI goroutine
func (m Model) run(fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		if err := fn(ctx); err != nil {
			return errMsg{err: err}
		}
		return nil
	}
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("  ")
	b.WriteString(stateStyle.Render(m.snap.State.String()))
	if m.snap.Paired != "" {
		b.WriteString(stateStyle.Render("  paired: " + m.snap.Paired))
	}
	b.WriteString("\n")

	status := statusStyle
	if m.width > 4 {
		status = status.Width(m.width - 4)
	}
	b.WriteString(status.Render(m.snap.Status))
	b.WriteString("\n")

	if m.prompt != nil {
		body := lipgloss.JoinVertical(lipgloss.Left,
			m.prompt.Message(),
			"",
			helpStyle.Render("y: yes   n: no"),
		)
		b.WriteString(promptStyle.Render(body))
		b.WriteString("\n")
	}

	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("error: %v", m.err)))
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render("enter/space: scan  s: stop  u: unpair  q: quit"))
	b.WriteString("\n")
	return b.String()
}
