package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/O6lvl4/ccgrid-sub001/internal/engine"
	"github.com/O6lvl4/ccgrid-sub001/internal/event"
	"github.com/O6lvl4/ccgrid-sub001/internal/permission"
	"github.com/O6lvl4/ccgrid-sub001/internal/ui"
)

// Resolver sends decisions and rule edits on behalf of the inbox.
type Resolver interface {
	Pending(ctx context.Context) ([]permission.Request, error)
	Resolve(ctx context.Context, requestID string, d permission.Decision) error
	AddRule(rule permission.Rule) error
}

const (
	maxInboxWidth   = 110
	listHeight      = 12
	detailHeight    = 10
	resolveDeadline = 10 * time.Second
)

// requestItem implements list.DefaultItem for a pending request.
type requestItem struct {
	req permission.Request
}

func (i requestItem) Title() string {
	return fmt.Sprintf("%s  %s", i.req.ToolName, DimStyle.Render(shortID(i.req.SessionID)))
}

func (i requestItem) Description() string {
	if i.req.Description != "" {
		return i.req.Description
	}
	return summarizeInput(i.req.Input)
}

func (i requestItem) FilterValue() string {
	return i.req.ToolName + " " + i.Description()
}

// InboxModel lists open permission requests of every session and lets the
// user allow or deny them as they arrive.
type InboxModel struct {
	requests []permission.Request // oldest first
	inflight map[string]bool

	list     list.Model
	detail   viewport.Model
	spinner  spinner.Model
	keys     KeyMap
	resolver Resolver
	events   <-chan ui.WireEvent

	status     string
	statusErr  bool
	streamDown bool
	width      int
}

// NewInboxModel creates the inbox. events delivers the server's live
// stream; it may be nil in tests.
func NewInboxModel(resolver Resolver, events <-chan ui.WireEvent) InboxModel {
	contentWidth := maxInboxWidth - 8

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(lipgloss.Color(primaryColor)).
		BorderForeground(lipgloss.Color(primaryColor))
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(lipgloss.Color("#9CA3AF"))

	l := list.New(nil, delegate, contentWidth, listHeight)
	l.Title = "Pending requests"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.SetShowHelp(false)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = DimStyle

	return InboxModel{
		inflight: make(map[string]bool),
		list:     l,
		detail:   viewport.New(contentWidth, detailHeight),
		spinner:  s,
		keys:     DefaultKeyMap,
		resolver: resolver,
		events:   events,
		width:    maxInboxWidth,
	}
}

// Init loads the open requests and starts listening to the stream.
func (m InboxModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.loadPending(), waitForEvent(m.events))
}

func (m InboxModel) loadPending() tea.Cmd {
	resolver := m.resolver
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), resolveDeadline)
		defer cancel()
		reqs, err := resolver.Pending(ctx)
		return PendingLoadedMsg{Requests: reqs, Err: err}
	}
}

// waitForEvent reads one event; Update re-arms it after every EventMsg.
func waitForEvent(events <-chan ui.WireEvent) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return StreamClosedMsg{}
		}
		return EventMsg{Event: e}
	}
}

// Update handles messages for the inbox.
func (m InboxModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Allow):
			return m.decide(engine.BehaviorAllow, false)
		case key.Matches(msg, m.keys.Deny):
			return m.decide(engine.BehaviorDeny, false)
		case key.Matches(msg, m.keys.AlwaysAllow):
			return m.decide(engine.BehaviorAllow, true)
		}

	case tea.WindowSizeMsg:
		m.width = min(msg.Width-4, maxInboxWidth)
		w := max(m.width-8, 20)
		m.list.SetSize(w, listHeight)
		m.detail.Width = w
		return m, nil

	case PendingLoadedMsg:
		if msg.Err != nil {
			m.setStatus("Loading requests failed: "+msg.Err.Error(), true)
			return m, nil
		}
		for _, r := range msg.Requests {
			m.add(r)
		}
		return m, m.refresh()

	case EventMsg:
		m.apply(msg.Event)
		return m, tea.Batch(m.refresh(), waitForEvent(m.events))

	case StreamClosedMsg:
		m.streamDown = true
		m.setStatus("Event stream closed; restart the inbox to reconnect.", true)
		return m, nil

	case ResolvedMsg:
		delete(m.inflight, msg.RequestID)
		if msg.Err != nil {
			m.setStatus(fmt.Sprintf("Resolving %s failed: %v", msg.RequestID, msg.Err), true)
			return m, nil
		}
		m.remove(msg.RequestID)
		m.setStatus(fmt.Sprintf("%s %s", pastTense(msg.Behavior), msg.RequestID), false)
		return m, m.refresh()

	case RuleAddedMsg:
		if msg.Err != nil {
			m.setStatus("Saving rule failed: "+msg.Err.Error(), true)
		} else {
			m.setStatus("Rule added: "+msg.Rule.String(), false)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	m.updateDetail()
	return m, cmd
}

// decide sends a decision for the selected request.
func (m InboxModel) decide(behavior string, always bool) (tea.Model, tea.Cmd) {
	item, ok := m.list.SelectedItem().(requestItem)
	if !ok || m.inflight[item.req.ID] {
		return m, nil
	}
	m.inflight[item.req.ID] = true
	m.setStatus(fmt.Sprintf("Sending %s for %s...", behavior, item.req.ID), false)

	resolver := m.resolver
	id := item.req.ID
	resolve := func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), resolveDeadline)
		defer cancel()
		err := resolver.Resolve(ctx, id, permission.Decision{Behavior: behavior})
		return ResolvedMsg{RequestID: id, Behavior: behavior, Err: err}
	}
	if !always {
		return m, resolve
	}

	rule := permission.Rule{Tool: item.req.ToolName, Behavior: engine.BehaviorAllow}
	addRule := func() tea.Msg {
		return RuleAddedMsg{Rule: rule, Err: resolver.AddRule(rule)}
	}
	return m, tea.Batch(addRule, resolve)
}

// apply folds a stream event into the request list.
func (m *InboxModel) apply(e ui.WireEvent) {
	switch e.Kind {
	case event.TypePermissionRequest:
		var p event.PermissionRequest
		if json.Unmarshal(e.Data, &p) != nil {
			return
		}
		m.add(permission.Request{
			ID:          p.RequestID,
			SessionID:   e.SessionID,
			ToolName:    p.ToolName,
			Input:       p.Input,
			Description: p.Description,
			AgentID:     p.AgentID,
			CreatedAt:   e.Time,
		})
	case event.TypePermissionResolved:
		var p event.PermissionResolved
		if json.Unmarshal(e.Data, &p) != nil {
			return
		}
		m.remove(p.RequestID)
	}
}

func (m *InboxModel) add(r permission.Request) {
	for _, existing := range m.requests {
		if existing.ID == r.ID {
			return
		}
	}
	m.requests = append(m.requests, r)
}

func (m *InboxModel) remove(id string) {
	for i, r := range m.requests {
		if r.ID == id {
			m.requests = append(m.requests[:i], m.requests[i+1:]...)
			return
		}
	}
}

// refresh rebuilds the list items from requests.
func (m *InboxModel) refresh() tea.Cmd {
	items := make([]list.Item, len(m.requests))
	for i, r := range m.requests {
		items[i] = requestItem{req: r}
	}
	cmd := m.list.SetItems(items)
	m.updateDetail()
	return cmd
}

func (m *InboxModel) updateDetail() {
	item, ok := m.list.SelectedItem().(requestItem)
	if !ok {
		m.detail.SetContent("")
		return
	}
	m.detail.SetContent(formatRequest(item.req))
}

func (m *InboxModel) setStatus(s string, isErr bool) {
	m.status = s
	m.statusErr = isErr
}

// Requests returns the open requests in arrival order.
func (m InboxModel) Requests() []permission.Request {
	return append([]permission.Request(nil), m.requests...)
}

// Status returns the last status line.
func (m InboxModel) Status() string { return m.status }

// View renders the inbox.
func (m InboxModel) View() string {
	var b strings.Builder

	b.WriteString(TitleStyle.Render("Permission inbox"))
	b.WriteString("  ")
	b.WriteString(DimStyle.Render(fmt.Sprintf("%d open", len(m.requests))))
	b.WriteString("\n\n")

	if len(m.requests) == 0 {
		if m.streamDown {
			b.WriteString(DimStyle.Render("No open requests."))
		} else {
			b.WriteString(m.spinner.View() + DimStyle.Render(" Waiting for tool-use requests..."))
		}
	} else {
		b.WriteString(m.list.View())
		b.WriteString("\n")
		b.WriteString(DetailStyle.Render(m.detail.View()))
	}
	b.WriteString("\n\n")

	if m.status != "" {
		if m.statusErr {
			b.WriteString(ErrorStyle.Render(m.status))
		} else {
			b.WriteString(SuccessStyle.Render(m.status))
		}
		b.WriteString("\n")
	}
	b.WriteString(m.renderFooter())

	return BoxStyle.Width(m.width).Render(b.String())
}

func (m InboxModel) renderFooter() string {
	hints := []string{
		"a: Allow",
		"d: Deny",
		"A: Always allow tool",
		"/: Filter",
		"q: Quit",
	}
	return DimStyle.Render(strings.Join(hints, " · "))
}

// formatRequest renders a request's origin and input for the detail pane.
func formatRequest(r permission.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "request %s  session %s", r.ID, r.SessionID)
	if r.AgentID != "" {
		fmt.Fprintf(&b, "  agent %s", r.AgentID)
	}
	b.WriteString("\n\n")
	data, err := json.MarshalIndent(r.Input, "", "  ")
	if err != nil {
		b.WriteString(fmt.Sprint(r.Input))
	} else {
		b.Write(data)
	}
	return b.String()
}

// summarizeInput picks the most telling input field for the list row.
func summarizeInput(input map[string]any) string {
	for _, k := range []string{"command", "file_path", "path", "url", "pattern"} {
		if v, ok := input[k].(string); ok && v != "" {
			return truncate(v, 80)
		}
	}
	return ""
}

func pastTense(behavior string) string {
	if behavior == engine.BehaviorAllow {
		return "Allowed"
	}
	return "Denied"
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
