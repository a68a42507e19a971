package tui

import (
	"github.com/O6lvl4/ccgrid-sub001/internal/permission"
	"github.com/O6lvl4/ccgrid-sub001/internal/ui"
)

// EventMsg carries one event from the server's stream.
type EventMsg struct {
	Event ui.WireEvent
}

// StreamClosedMsg signals that the event stream ended.
type StreamClosedMsg struct{}

// PendingLoadedMsg carries the requests that were open when the inbox
// started.
type PendingLoadedMsg struct {
	Requests []permission.Request
	Err      error
}

// ResolvedMsg reports the outcome of a decision sent to the server.
type ResolvedMsg struct {
	RequestID string
	Behavior  string
	Err       error
}

// RuleAddedMsg reports the outcome of saving an allow rule.
type RuleAddedMsg struct {
	Rule permission.Rule
	Err  error
}
