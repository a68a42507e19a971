package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/O6lvl4/ccgrid-sub001/internal/event"
	runlog "github.com/O6lvl4/ccgrid-sub001/internal/log"
)

// sendMessageTool is the engine tool teammates use to message each other.
const sendMessageTool = "SendMessage"

// Teammate message types.
const (
	MessageDirect    = "message"
	MessageBroadcast = "broadcast"
	MessageShutdown  = "shutdown_request"
)

// TeammateMessage is a message sent by a teammate through the engine.
type TeammateMessage struct {
	Type      string `json:"type"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient,omitempty"`
	Content   string `json:"content"`
	Summary   string `json:"summary,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// SendToTeammate relays a human message to the teammate named name. The
// message is recorded in the Lead output regardless of run state; a
// finished Lead is resumed to deliver it.
func (s *Service) SendToTeammate(sessionID, name, message string) error {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(message) == "" {
		return errors.New("teammate name and message are required")
	}

	s.mu.Lock()
	st, ok := s.lookupLocked(sessionID)
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	s.publishLocked(event.TypeTeammateMessageRelayed, sessionID, event.MessageRelayed{TeammateName: name, Message: message})
	s.appendOutputLocked(st, fmt.Sprintf("\n\n**→ %s:** %s\n\n", name, message))
	active := st.active
	s.mu.Unlock()

	s.persistDebounced(sessionID)
	s.record(runlog.LogEvent{Event: runlog.EventMessageRelayed, SessionID: sessionID, Teammate: name, Reason: "human"})

	if active {
		return nil
	}
	if err := s.launch(sessionID, buildHumanRelayPrompt(name, message), true); err != nil && !errors.Is(err, ErrSessionActive) {
		return err
	}
	return nil
}

// HandleTeammateMessage audits a teammate-originated message and, when the
// Lead has finished, resumes it to deliver the message. Unresolvable
// recipients are logged and dropped.
func (s *Service) HandleTeammateMessage(sessionID string, m TeammateMessage) {
	s.mu.Lock()
	st, ok := s.lookupLocked(sessionID)
	if !ok {
		s.mu.Unlock()
		return
	}
	s.publishLocked(event.TypeTeammateMessageSent, sessionID, event.MessageSent{
		Type:      m.Type,
		Sender:    m.Sender,
		Recipient: m.Recipient,
		Content:   m.Content,
		Summary:   m.Summary,
	})
	active := st.active

	var prompt string
	switch m.Type {
	case MessageBroadcast:
		recipients := broadcastAudience(st, m.Sender)
		if len(recipients) == 0 {
			s.mu.Unlock()
			s.logger.Warn("broadcast has no recipients", "session", sessionID, "sender", m.Sender)
			return
		}
		prompt = buildBroadcastRelayPrompt(recipients, m)
	default:
		tm := findTeammate(st, m.Recipient)
		if tm == nil {
			s.mu.Unlock()
			s.logger.Warn("message recipient not found", "session", sessionID, "recipient", m.Recipient, "type", m.Type)
			return
		}
		prompt = buildDirectRelayPrompt(displayName(tm.Name, tm.AgentID), m)
	}
	s.mu.Unlock()

	if active {
		return
	}
	s.record(runlog.LogEvent{Event: runlog.EventMessageRelayed, SessionID: sessionID, Teammate: m.Recipient, Reason: m.Type})
	if err := s.launch(sessionID, prompt, true); err != nil && !errors.Is(err, ErrSessionActive) {
		s.logger.Warn("resuming lead for teammate message", "session", sessionID, "error", err)
	}
}

// broadcastAudience lists every teammate except the sender, matched by
// agent id or name.
func broadcastAudience(st *sessionState, sender string) []string {
	var out []string
	for _, id := range st.order {
		tm := st.teammates[id]
		if sender != "" && (tm.AgentID == sender || tm.Name == sender) {
			continue
		}
		out = append(out, displayName(tm.Name, tm.AgentID))
	}
	return out
}

func displayName(name, agentID string) string {
	if name != "" {
		return name
	}
	return agentID
}

// observeSendMessage hands a SendMessage tool call that already ran to the
// relay.
func (s *Service) observeSendMessage(sessionID, agentID string, input map[string]any) {
	m := TeammateMessage{
		Type:      stringField(input, "type"),
		Recipient: stringField(input, "recipient"),
		Content:   stringField(input, "content"),
		Summary:   stringField(input, "summary"),
		RequestID: stringField(input, "request_id"),
		Sender:    s.senderName(sessionID, agentID),
	}
	if m.Type == "" {
		m.Type = MessageDirect
	}
	s.HandleTeammateMessage(sessionID, m)
}

// senderName resolves the agent behind a tool call. Calls without an agent
// id come from the Lead.
func (s *Service) senderName(sessionID, agentID string) string {
	if agentID == "" {
		return "team-lead"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.lookupLocked(sessionID); ok {
		if tm, ok := st.teammates[agentID]; ok {
			return displayName(tm.Name, tm.AgentID)
		}
	}
	return agentID
}

func stringField(input map[string]any, key string) string {
	v, _ := input[key].(string)
	return v
}
