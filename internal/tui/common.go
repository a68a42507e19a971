// Package tui implements the interactive permission inbox using Bubble Tea.
package tui

import (
	"errors"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"
)

// ErrNotInteractive is returned when the inbox is started without a terminal.
var ErrNotInteractive = errors.New("the inbox needs a terminal; use 'ccgrid status <session>' and 'ccgrid approve|deny <request>' instead")

// IsTTY returns true if stdout is connected to a terminal.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Run starts the TUI program with the given model in alternate screen mode.
func Run(m tea.Model) error {
	if !IsTTY() {
		return ErrNotInteractive
	}
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
