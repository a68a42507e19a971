// Package engine is the narrow boundary between ccgrid and the agent
// execution engine. The orchestrator depends only on the types in this
// file; ClaudeEngine adapts the claude CLI to them.
package engine

import (
	"context"
	"encoding/json"
	"strings"
)

// Message type and subtype constants as emitted on the stream.
const (
	TypeSystem      = "system"
	TypeStreamEvent = "stream_event"
	TypeAssistant   = "assistant"
	TypeUser        = "user"
	TypeResult      = "result"

	SubtypeInit    = "init"
	SubtypeSuccess = "success"
)

// Message is one typed entry of the Lead's event stream.
type Message struct {
	Type            string       `json:"type"`
	Subtype         string       `json:"subtype,omitempty"`
	SessionID       string       `json:"session_id,omitempty"`
	ParentToolUseID *string      `json:"parent_tool_use_id,omitempty"`
	Event           *StreamEvent `json:"event,omitempty"`
	Message         *ChatMessage `json:"message,omitempty"`
	Result          string       `json:"result,omitempty"`
	IsError         bool         `json:"is_error,omitempty"`
	TotalCostUSD    float64      `json:"total_cost_usd,omitempty"`
	DurationMS      int64        `json:"duration_ms,omitempty"`
	NumTurns        int          `json:"num_turns,omitempty"`
	Usage           *Usage       `json:"usage,omitempty"`
}

// StreamEvent is the nested partial-message event of a stream_event message.
type StreamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index,omitempty"`
	Delta *Delta `json:"delta,omitempty"`
}

// Delta is an incremental content update.
type Delta struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ChatMessage is the full assistant or user message body.
type ChatMessage struct {
	Role    string  `json:"role,omitempty"`
	Content Content `json:"content"`
}

// Usage holds token counts reported with a result.
type Usage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens,omitempty"`
}

// ContentBlock is one block of message content.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   Content         `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// Content is a list of blocks. A bare JSON string decodes as one text block.
type Content []ContentBlock

// UnmarshalJSON accepts either a string or an array of blocks.
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*c = nil
		return nil
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*c = Content{{Type: "text", Text: text}}
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return err
	}
	*c = blocks
	return nil
}

// Text joins the text blocks of c.
func (c Content) Text() string {
	var parts []string
	for _, b := range c {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "")
}

// FromLead reports whether the message belongs to the Lead itself rather
// than a nested sub-agent invocation.
func (m Message) FromLead() bool {
	return m.ParentToolUseID == nil || *m.ParentToolUseID == ""
}

// TextDelta returns the incremental text fragment carried by a stream_event.
func (m Message) TextDelta() (string, bool) {
	if m.Type != TypeStreamEvent || m.Event == nil || m.Event.Delta == nil {
		return "", false
	}
	if m.Event.Type != "content_block_delta" || m.Event.Delta.Type != "text_delta" {
		return "", false
	}
	return m.Event.Delta.Text, m.Event.Delta.Text != ""
}

// AssistantText returns the full text of an assistant message.
func (m Message) AssistantText() string {
	if m.Type != TypeAssistant || m.Message == nil {
		return ""
	}
	return m.Message.Content.Text()
}

// Succeeded reports whether a result message marks a successful run.
func (m Message) Succeeded() bool {
	return m.Type == TypeResult && m.Subtype == SubtypeSuccess && !m.IsError
}

// Stream is the Lead's asynchronous message sequence. Next returns io.EOF
// once the stream is exhausted.
type Stream interface {
	Next() (Message, error)
	Close() error
}

// Behavior values of a permission decision.
const (
	BehaviorAllow = "allow"
	BehaviorDeny  = "deny"
)

// PermissionRequest is one tool-use attempt submitted for approval.
type PermissionRequest struct {
	ToolName       string         `json:"tool_name"`
	Input          map[string]any `json:"input"`
	ToolUseID      string         `json:"tool_use_id,omitempty"`
	AgentID        string         `json:"agent_id,omitempty"`
	DecisionReason string         `json:"decision_reason,omitempty"`
}

// PermissionResult is the decision returned to the engine.
type PermissionResult struct {
	Behavior     string         `json:"behavior"`
	UpdatedInput map[string]any `json:"updatedInput,omitempty"`
	Message      string         `json:"message,omitempty"`
}

// Allow builds an allow decision.
func Allow(input map[string]any) PermissionResult {
	if input == nil {
		input = map[string]any{}
	}
	return PermissionResult{Behavior: BehaviorAllow, UpdatedInput: input}
}

// Deny builds a deny decision.
func Deny(message string) PermissionResult {
	return PermissionResult{Behavior: BehaviorDeny, Message: message}
}

// CanUseTool is invoked per tool-use attempt. ctx is the cancellation
// signal: it is done when the engine abandons the request.
type CanUseTool func(ctx context.Context, req PermissionRequest) PermissionResult

// HookInput carries the fields shared by every lifecycle hook payload.
type HookInput struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path,omitempty"`
	Cwd            string `json:"cwd,omitempty"`
	HookEventName  string `json:"hook_event_name,omitempty"`
}

// SubagentStartInput is the SubagentStart payload.
type SubagentStartInput struct {
	HookInput
	AgentID   string `json:"agent_id"`
	AgentType string `json:"agent_type"`
}

// SubagentStopInput is the SubagentStop payload.
type SubagentStopInput struct {
	HookInput
	AgentID             string `json:"agent_id"`
	AgentType           string `json:"agent_type,omitempty"`
	AgentTranscriptPath string `json:"agent_transcript_path,omitempty"`
}

// TeammateIdleInput is the TeammateIdle payload.
type TeammateIdleInput struct {
	HookInput
	TeammateName string `json:"teammate_name"`
	TeamName     string `json:"team_name,omitempty"`
}

// TaskCompletedInput is the TaskCompleted payload.
type TaskCompletedInput struct {
	HookInput
	TaskID          string `json:"task_id"`
	TaskSubject     string `json:"task_subject"`
	TaskDescription string `json:"task_description,omitempty"`
	TeammateName    string `json:"teammate_name,omitempty"`
	TeamName        string `json:"team_name,omitempty"`
}

// PostToolUseInput is the PostToolUse payload, sent after a tool call ran.
type PostToolUseInput struct {
	HookInput
	AgentID   string         `json:"agent_id,omitempty"`
	ToolName  string         `json:"tool_name"`
	ToolInput map[string]any `json:"tool_input"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
}

// HookOutput is the empty acknowledgment every hook returns.
type HookOutput struct{}

// Hook event names.
const (
	HookSubagentStart = "SubagentStart"
	HookSubagentStop  = "SubagentStop"
	HookTeammateIdle  = "TeammateIdle"
	HookTaskCompleted = "TaskCompleted"
	HookPostToolUse   = "PostToolUse"
)

// HookEvents lists every hook ccgrid subscribes to.
var HookEvents = []string{HookSubagentStart, HookSubagentStop, HookTeammateIdle, HookTaskCompleted, HookPostToolUse}

// HookMatchers restricts tool hooks to the tools ccgrid observes.
var HookMatchers = map[string]string{HookPostToolUse: "SendMessage"}

// Hooks receives lifecycle events out-of-band from the message stream.
type Hooks interface {
	SubagentStart(ctx context.Context, in SubagentStartInput) HookOutput
	SubagentStop(ctx context.Context, in SubagentStopInput) HookOutput
	TeammateIdle(ctx context.Context, in TeammateIdleInput) HookOutput
	TaskCompleted(ctx context.Context, in TaskCompletedInput) HookOutput
	PostToolUse(ctx context.Context, in PostToolUseInput) HookOutput
}

// AgentDefinition describes a sub-agent the Lead can delegate to.
type AgentDefinition struct {
	Description string   `json:"description"`
	Prompt      string   `json:"prompt"`
	Model       string   `json:"model,omitempty"`
	Tools       []string `json:"tools,omitempty"`
}

// LaunchSpec is everything the engine needs to start or resume a Lead run.
type LaunchSpec struct {
	Prompt             string
	AppendSystemPrompt string
	Cwd                string
	Model              string
	MaxBudgetUSD       *float64
	Resume             string // engine run id to continue, empty for a fresh run
	Agents             map[string]AgentDefinition
	BypassPermissions  bool
	CanUseTool         CanUseTool // nil when BypassPermissions is set
	Hooks              Hooks
	Env                map[string]string
}

// Engine starts Lead runs.
type Engine interface {
	Start(ctx context.Context, spec LaunchSpec) (Stream, error)
}
