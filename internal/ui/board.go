// Package ui provides terminal UI components for ccgrid.
// This file implements the board shown by `ccgrid watch`.
package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/O6lvl4/ccgrid-sub001/internal/event"
	"github.com/O6lvl4/ccgrid-sub001/internal/session"
)

// WireEvent is a broadcast event as received over the websocket, with its
// payload still encoded.
type WireEvent struct {
	Kind      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Time      time.Time       `json:"time"`
	Data      json.RawMessage `json:"data"`
}

type teammateRow struct {
	agentID string
	name    string
	status  string
}

// Board tracks one or more sessions and renders teammate and task status.
// On a terminal it redraws in place; otherwise it prints one line per
// state transition.
type Board struct {
	mu         sync.Mutex
	out        io.Writer
	isTTY      bool
	linesDrawn int

	status    map[string]string // session id -> status
	cost      map[string]event.CostUpdate
	teammates map[string][]*teammateRow // session id -> rows in discovery order
	tasks     map[string][]session.Task
	order     []string // session ids in first-seen order
	lastLine  string
}

// NewBoard creates a board writing to stdout.
func NewBoard() *Board {
	return newBoard(os.Stdout, term.IsTerminal(int(os.Stdout.Fd())))
}

func newBoard(out io.Writer, isTTY bool) *Board {
	return &Board{
		out:       out,
		isTTY:     isTTY,
		status:    make(map[string]string),
		cost:      make(map[string]event.CostUpdate),
		teammates: make(map[string][]*teammateRow),
		tasks:     make(map[string][]session.Task),
	}
}

// Apply folds e into the board and re-renders.
func (b *Board) Apply(e WireEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.see(e.SessionID)
	line := b.fold(e)
	if b.isTTY {
		b.renderTTY()
		return
	}
	if line != "" && line != b.lastLine {
		fmt.Fprintln(b.out, line)
		b.lastLine = line
	}
}

func (b *Board) see(sessionID string) {
	if sessionID == "" {
		return
	}
	if _, ok := b.status[sessionID]; !ok {
		b.status[sessionID] = string(session.StatusStarting)
		b.order = append(b.order, sessionID)
	}
}

// fold applies e and returns the plain-mode line describing it, if any.
func (b *Board) fold(e WireEvent) string {
	short := shortID(e.SessionID)
	switch e.Kind {
	case event.TypeSessionStatus:
		var p event.SessionStatus
		if json.Unmarshal(e.Data, &p) != nil {
			return ""
		}
		b.status[e.SessionID] = p.Status
		return fmt.Sprintf("[%s] session %s", short, p.Status)

	case event.TypeTeammateDiscovered:
		var tm session.Teammate
		if json.Unmarshal(e.Data, &tm) != nil {
			return ""
		}
		b.teammates[e.SessionID] = append(b.teammates[e.SessionID], &teammateRow{
			agentID: tm.AgentID,
			name:    tm.Name,
			status:  string(tm.Status),
		})
		return fmt.Sprintf("[%s] teammate %s discovered", short, tm.AgentID)

	case event.TypeTeammateStatus:
		var p event.TeammateStatus
		if json.Unmarshal(e.Data, &p) != nil {
			return ""
		}
		row := b.row(e.SessionID, p.AgentID)
		row.status = p.Status
		if p.Name != "" {
			row.name = p.Name
		}
		return fmt.Sprintf("[%s] %s %s", short, displayName(row), p.Status)

	case event.TypeTasksSync:
		var list []session.Task
		if json.Unmarshal(e.Data, &list) != nil {
			return ""
		}
		b.tasks[e.SessionID] = list
		return fmt.Sprintf("[%s] tasks %s", short, taskSummary(list))

	case event.TypeTaskCompleted:
		var p event.TaskCompleted
		if json.Unmarshal(e.Data, &p) != nil {
			return ""
		}
		return fmt.Sprintf("[%s] task %s completed: %s", short, p.TaskID, p.TaskSubject)

	case event.TypeCostUpdate:
		var p event.CostUpdate
		if json.Unmarshal(e.Data, &p) != nil {
			return ""
		}
		b.cost[e.SessionID] = p
		return fmt.Sprintf("[%s] cost $%.4f (%d in / %d out)", short, p.CostUSD, p.InputTokens, p.OutputTokens)

	case event.TypePermissionRequest:
		var p event.PermissionRequest
		if json.Unmarshal(e.Data, &p) != nil {
			return ""
		}
		return fmt.Sprintf("[%s] permission requested: %s (%s)", short, p.ToolName, p.RequestID)

	case event.TypeTeammateMessageSent:
		var p event.MessageSent
		if json.Unmarshal(e.Data, &p) != nil {
			return ""
		}
		to := p.Recipient
		if to == "" {
			to = "team"
		}
		return fmt.Sprintf("[%s] %s -> %s: %s", short, p.Sender, to, truncate(p.Content, 60))

	case event.TypeError:
		var p event.Error
		if json.Unmarshal(e.Data, &p) != nil {
			return ""
		}
		return fmt.Sprintf("[%s] error: %s", short, p.Message)
	}
	return ""
}

func (b *Board) row(sessionID, agentID string) *teammateRow {
	for _, r := range b.teammates[sessionID] {
		if r.agentID == agentID {
			return r
		}
	}
	r := &teammateRow{agentID: agentID}
	b.teammates[sessionID] = append(b.teammates[sessionID], r)
	return r
}

// Render returns the board as text without terminal control sequences.
func (b *Board) Render() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.render()
}

func (b *Board) render() string {
	var buf strings.Builder
	for _, id := range b.order {
		header := fmt.Sprintf("%s %s", titleStyle.Render("session "+shortID(id)), statusStyle(b.status[id]).Render(b.status[id]))
		if c, ok := b.cost[id]; ok {
			header += dimStyle.Render(fmt.Sprintf("  $%.4f", c.CostUSD))
		}
		buf.WriteString(header + "\n")

		for _, r := range b.teammates[id] {
			fmt.Fprintf(&buf, "  %s %-20s %s\n", teammateIcon(r.status), displayName(r), dimStyle.Render("["+r.status+"]"))
		}
		if list := b.tasks[id]; len(list) > 0 {
			fmt.Fprintf(&buf, "  %s\n", dimStyle.Render("tasks: "+taskSummary(list)))
		}
	}
	return buf.String()
}

// renderTTY redraws the board in place using ANSI cursor movement.
func (b *Board) renderTTY() {
	if b.linesDrawn > 0 {
		fmt.Fprintf(b.out, "\033[%dA", b.linesDrawn)
	}
	text := b.render()
	var buf strings.Builder
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	for _, line := range lines {
		buf.WriteString("\033[2K")
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	fmt.Fprint(b.out, buf.String())
	b.linesDrawn = len(lines)
}

// Finish prints a one-line summary per session.
func (b *Board) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, id := range b.order {
		fmt.Fprintf(b.out, "\nsession %s: %s, %d teammates, tasks %s",
			shortID(id), b.status[id], len(b.teammates[id]), taskSummary(b.tasks[id]))
	}
	fmt.Fprintln(b.out)
}

func taskSummary(list []session.Task) string {
	done := 0
	for _, t := range list {
		if t.Status == session.TaskCompleted {
			done++
		}
	}
	return fmt.Sprintf("%d/%d completed", done, len(list))
}

func displayName(r *teammateRow) string {
	if r.name != "" {
		return r.name
	}
	return r.agentID
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}
