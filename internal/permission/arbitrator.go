package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/O6lvl4/ccgrid-sub001/internal/engine"
	"github.com/O6lvl4/ccgrid-sub001/internal/event"
	runlog "github.com/O6lvl4/ccgrid-sub001/internal/log"
)

// Deny messages returned when the request's signal fires.
const (
	MsgAborted        = "Request aborted"
	MsgAbortedWaiting = "Request aborted while waiting for approval"
	MsgDeniedByUser   = "Denied by user"
)

// Audit kinds of permission_log events.
const (
	KindAuto  = "auto"
	KindHuman = "human"
)

// ErrRequestNotFound is returned when resolving an unknown or already
// resolved request.
var ErrRequestNotFound = errors.New("permission request not found")

// Request is a pending permission request awaiting a human decision.
type Request struct {
	ID          string         `json:"requestId"`
	SessionID   string         `json:"sessionId"`
	ToolName    string         `json:"toolName"`
	Input       map[string]any `json:"input"`
	Description string         `json:"description,omitempty"`
	AgentID     string         `json:"agentId,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Decision is a human response to a pending request.
type Decision struct {
	Behavior     string         `json:"behavior"`
	UpdatedInput map[string]any `json:"updatedInput,omitempty"`
	Message      string         `json:"message,omitempty"`
}

type pendingRequest struct {
	req    Request
	result chan engine.PermissionResult // buffered, receives exactly one value
}

// Arbitrator resolves tool-use requests against rules or a human.
type Arbitrator struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest

	rules     RuleSource
	broadcast event.Broadcaster
	journal   *runlog.Logger
	logger    *slog.Logger
}

// NewArbitrator creates an arbitrator. journal may be nil.
func NewArbitrator(rules RuleSource, broadcast event.Broadcaster, journal *runlog.Logger, logger *slog.Logger) *Arbitrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Arbitrator{
		pending:   make(map[string]*pendingRequest),
		rules:     rules,
		broadcast: broadcast,
		journal:   journal,
		logger:    logger,
	}
}

// Decide resolves one tool-use attempt for sessionID. It blocks until a
// rule matches, a human decides, or ctx is done. Every path returns an
// explicit allow or deny.
func (a *Arbitrator) Decide(ctx context.Context, sessionID string, req engine.PermissionRequest) engine.PermissionResult {
	rules, err := a.rules.Rules()
	if err != nil {
		a.logger.Warn("loading permission rules", "error", err)
	}

	if rule, ok := Match(rules, req.ToolName, req.Input); ok {
		return a.autoResolve(sessionID, req, rule)
	}

	if ctx.Err() != nil {
		return engine.Deny(MsgAborted)
	}

	p := &pendingRequest{
		req: Request{
			ID:          uuid.NewString(),
			SessionID:   sessionID,
			ToolName:    req.ToolName,
			Input:       req.Input,
			Description: req.DecisionReason,
			AgentID:     req.AgentID,
			CreatedAt:   time.Now().UTC(),
		},
		result: make(chan engine.PermissionResult, 1),
	}

	a.mu.Lock()
	a.pending[p.req.ID] = p
	a.mu.Unlock()

	a.broadcast.Publish(event.New(event.TypePermissionRequest, sessionID, event.PermissionRequest{
		RequestID:   p.req.ID,
		ToolName:    p.req.ToolName,
		Input:       p.req.Input,
		Description: p.req.Description,
		AgentID:     p.req.AgentID,
	}))

	select {
	case result := <-p.result:
		return result
	case <-ctx.Done():
	}

	a.mu.Lock()
	if _, still := a.pending[p.req.ID]; !still {
		// Resolved concurrently with the abort; the decision is already buffered.
		a.mu.Unlock()
		return <-p.result
	}
	delete(a.pending, p.req.ID)
	a.mu.Unlock()

	a.broadcast.Publish(event.New(event.TypePermissionResolved, sessionID, event.PermissionResolved{
		RequestID: p.req.ID,
		Behavior:  engine.BehaviorDeny,
	}))
	return engine.Deny(MsgAbortedWaiting)
}

func (a *Arbitrator) autoResolve(sessionID string, req engine.PermissionRequest, rule Rule) engine.PermissionResult {
	a.broadcast.Publish(event.New(event.TypePermissionLog, sessionID, event.PermissionLog{
		Kind:     KindAuto,
		ToolName: req.ToolName,
		Behavior: rule.Behavior,
		Rule:     rule.String(),
		AgentID:  req.AgentID,
	}))
	a.record(runlog.LogEvent{
		Event:     runlog.EventPermissionAuto,
		SessionID: sessionID,
		AgentID:   req.AgentID,
		Tool:      req.ToolName,
		Behavior:  rule.Behavior,
		Reason:    rule.String(),
	})

	if rule.Behavior == engine.BehaviorAllow {
		return engine.Allow(req.Input)
	}
	return engine.Deny(fmt.Sprintf("Denied by rule: %s", rule))
}

// Resolve applies a human decision to a pending request. Resolving an
// unknown or already resolved request returns ErrRequestNotFound.
func (a *Arbitrator) Resolve(requestID string, d Decision) error {
	a.mu.Lock()
	p, ok := a.pending[requestID]
	if !ok {
		a.mu.Unlock()
		return ErrRequestNotFound
	}
	delete(a.pending, requestID)

	var result engine.PermissionResult
	if d.Behavior == engine.BehaviorAllow {
		input := d.UpdatedInput
		if input == nil {
			input = p.req.Input
		}
		result = engine.Allow(input)
	} else {
		msg := d.Message
		if msg == "" {
			msg = MsgDeniedByUser
		}
		result = engine.Deny(msg)
	}
	p.result <- result
	a.mu.Unlock()

	sessionID := p.req.SessionID
	a.broadcast.Publish(event.New(event.TypePermissionResolved, sessionID, event.PermissionResolved{
		RequestID: requestID,
		Behavior:  result.Behavior,
	}))
	a.broadcast.Publish(event.New(event.TypePermissionLog, sessionID, event.PermissionLog{
		Kind:     KindHuman,
		ToolName: p.req.ToolName,
		Behavior: result.Behavior,
		AgentID:  p.req.AgentID,
	}))
	a.record(runlog.LogEvent{
		Event:     runlog.EventPermissionResolved,
		SessionID: sessionID,
		AgentID:   p.req.AgentID,
		Tool:      p.req.ToolName,
		Behavior:  result.Behavior,
		Reason:    result.Message,
	})
	return nil
}

// Pending lists the open requests of sessionID, oldest first. An empty
// sessionID lists every open request.
func (a *Arbitrator) Pending(sessionID string) []Request {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Request, 0, len(a.pending))
	for _, p := range a.pending {
		if sessionID == "" || p.req.SessionID == sessionID {
			out = append(out, p.req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Lookup returns one open request.
func (a *Arbitrator) Lookup(requestID string) (Request, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pending[requestID]
	if !ok {
		return Request{}, false
	}
	return p.req, true
}

func (a *Arbitrator) record(e runlog.LogEvent) {
	if err := a.journal.Append(e); err != nil {
		a.logger.Warn("writing journal", "event", e.Event, "error", err)
	}
}
