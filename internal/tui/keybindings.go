package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the inbox key bindings.
type KeyMap struct {
	Up   key.Binding
	Down key.Binding

	Allow       key.Binding
	Deny        key.Binding
	AlwaysAllow key.Binding

	Quit key.Binding
}

// DefaultKeyMap provides the default key bindings for the inbox.
var DefaultKeyMap = KeyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	Allow: key.NewBinding(
		key.WithKeys("a"),
		key.WithHelp("a", "allow"),
	),
	Deny: key.NewBinding(
		key.WithKeys("d"),
		key.WithHelp("d", "deny"),
	),
	AlwaysAllow: key.NewBinding(
		key.WithKeys("A"),
		key.WithHelp("A", "always allow tool"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}
