// Package event defines the broadcast events ccgrid emits to observers and
// the fan-out bus that delivers them.
package event

import "time"

// Event type constants.
const (
	TypeSessionStatus          = "session_status"
	TypeLeadOutput             = "lead_output"
	TypeTeammateDiscovered     = "teammate_discovered"
	TypeTeammateStatus         = "teammate_status"
	TypeTeammateOutput         = "teammate_output"
	TypeTasksSync              = "tasks_sync"
	TypeTaskCompleted          = "task_completed"
	TypeCostUpdate             = "cost_update"
	TypePermissionRequest      = "permission_request"
	TypePermissionResolved     = "permission_resolved"
	TypePermissionLog          = "permission_log"
	TypeTeammateMessageRelayed = "teammate_message_relayed"
	TypeTeammateMessageSent    = "teammate_message_sent"
	TypeError                  = "error"
)

// Event is one broadcast message. Data holds a type-specific payload.
type Event struct {
	Kind      string    `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	Time      time.Time `json:"time"`
	Data      any       `json:"data,omitempty"`
}

// Type implements the typed-event contract used by the bus.
func (e Event) Type() string {
	return e.Kind
}

// New builds an event stamped with the current time.
func New(kind, sessionID string, data any) Event {
	return Event{Kind: kind, SessionID: sessionID, Time: time.Now().UTC(), Data: data}
}

// Broadcaster is the one-directional sink every component publishes to.
type Broadcaster interface {
	Publish(Event)
}

// BroadcasterFunc adapts a function to the Broadcaster interface.
type BroadcasterFunc func(Event)

// Publish calls f(e).
func (f BroadcasterFunc) Publish(e Event) { f(e) }

// SessionStatus is the payload of session_status events.
type SessionStatus struct {
	Status string `json:"status"`
}

// LeadOutput is the payload of lead_output events.
type LeadOutput struct {
	Text string `json:"text"`
}

// TeammateStatus is the payload of teammate_status events.
type TeammateStatus struct {
	AgentID string `json:"agentId"`
	Name    string `json:"name,omitempty"`
	Status  string `json:"status"`
}

// TeammateOutput is the payload of teammate_output events.
type TeammateOutput struct {
	AgentID string `json:"agentId"`
	Text    string `json:"text"`
}

// TaskCompleted is the payload of task_completed events.
type TaskCompleted struct {
	TaskID       string `json:"taskId"`
	TaskSubject  string `json:"taskSubject"`
	TeammateName string `json:"teammateName,omitempty"`
}

// CostUpdate is the payload of cost_update events.
type CostUpdate struct {
	CostUSD      float64 `json:"costUsd"`
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
}

// PermissionRequest is the payload of permission_request events.
type PermissionRequest struct {
	RequestID   string         `json:"requestId"`
	ToolName    string         `json:"toolName"`
	Input       map[string]any `json:"input"`
	Description string         `json:"description,omitempty"`
	AgentID     string         `json:"agentId,omitempty"`
}

// PermissionResolved is the payload of permission_resolved events.
type PermissionResolved struct {
	RequestID string `json:"requestId"`
	Behavior  string `json:"behavior"`
}

// PermissionLog is the payload of permission_log audit events.
type PermissionLog struct {
	Kind     string `json:"kind"` // "auto" or "human"
	ToolName string `json:"toolName"`
	Behavior string `json:"behavior"`
	Rule     string `json:"rule,omitempty"`
	AgentID  string `json:"agentId,omitempty"`
}

// MessageRelayed is the payload of teammate_message_relayed events.
type MessageRelayed struct {
	TeammateName string `json:"teammateName"`
	Message      string `json:"message"`
}

// MessageSent is the payload of teammate_message_sent events.
type MessageSent struct {
	Type      string `json:"messageType"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient,omitempty"`
	Content   string `json:"content"`
	Summary   string `json:"summary,omitempty"`
}

// Error is the payload of error events.
type Error struct {
	Message string `json:"message"`
}
