package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mjasion/balena-home/freeclip/pairing"
	"github.com/mjasion/balena-home/freeclip/session"
)

// Sender is implemented by *tea.Program
type Sender interface {
	Send(msg tea.Msg)
}

// Listener forwards session notifications into the running program
type Listener struct {
	program Sender
}

func NewListener(program Sender) *Listener {
	return &Listener{program: program}
}

func (l *Listener) StatusChanged(snap session.Snapshot) {
	l.program.Send(statusMsg(snap))
}

func (l *Listener) PromptRequested(req pairing.PromptRequest) {
	l.program.Send(promptMsg(req))
}
