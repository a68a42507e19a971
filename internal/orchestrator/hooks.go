package orchestrator

import (
	"context"
	"time"

	"github.com/O6lvl4/ccgrid-sub001/internal/engine"
	"github.com/O6lvl4/ccgrid-sub001/internal/event"
	"github.com/O6lvl4/ccgrid-sub001/internal/session"
	"github.com/O6lvl4/ccgrid-sub001/internal/transcript"
)

// sessionHooks receives the engine's lifecycle hooks for one launch.
type sessionHooks struct {
	s         *Service
	sessionID string
	gen       int
}

var _ engine.Hooks = (*sessionHooks)(nil)

func (h *sessionHooks) SubagentStart(_ context.Context, in engine.SubagentStartInput) engine.HookOutput {
	s := h.s
	if in.AgentID == "" {
		return engine.HookOutput{}
	}

	s.mu.Lock()
	st, ok := s.lookupLocked(h.sessionID)
	if !ok {
		s.mu.Unlock()
		return engine.HookOutput{}
	}
	if in.TranscriptPath != "" {
		st.leadTranscript = in.TranscriptPath
	}
	if _, exists := st.teammates[in.AgentID]; exists {
		s.mu.Unlock()
		return engine.HookOutput{}
	}
	tm := &session.Teammate{
		AgentID:      in.AgentID,
		SessionID:    h.sessionID,
		AgentType:    in.AgentType,
		Status:       session.TeammateStarting,
		DiscoveredAt: time.Now().UTC(),
	}
	st.teammates[tm.AgentID] = tm
	st.order = append(st.order, tm.AgentID)
	s.publishLocked(event.TypeTeammateDiscovered, h.sessionID, *tm)
	s.mu.Unlock()

	s.persist(h.sessionID)
	s.startTranscriptPoll(h.sessionID, in.AgentID)
	return engine.HookOutput{}
}

func (h *sessionHooks) SubagentStop(_ context.Context, in engine.SubagentStopInput) engine.HookOutput {
	s := h.s
	s.poller.Stop(in.AgentID)

	s.mu.Lock()
	st, ok := s.lookupLocked(h.sessionID)
	if !ok {
		s.mu.Unlock()
		return engine.HookOutput{}
	}
	tm, ok := st.teammates[in.AgentID]
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("stop hook for unknown teammate", "session", h.sessionID, "agent", in.AgentID)
		return engine.HookOutput{}
	}
	tm.Status = session.TeammateStopped
	if in.AgentTranscriptPath != "" {
		tm.TranscriptPath = in.AgentTranscriptPath
	}
	s.publishLocked(event.TypeTeammateStatus, h.sessionID, event.TeammateStatus{
		AgentID: tm.AgentID,
		Name:    tm.Name,
		Status:  string(tm.Status),
	})
	needOutput := tm.Output == ""
	path := s.transcriptPathLocked(st, tm)
	s.mu.Unlock()

	if needOutput {
		if text, ok := transcript.Read(path); ok {
			s.setTeammateOutput(h.sessionID, in.AgentID, text, false)
		}
	}
	s.persist(h.sessionID)
	return engine.HookOutput{}
}

// TeammateIdle names the teammate. Without a teammate already carrying the
// name, the first unnamed teammate in discovery order adopts it.
func (h *sessionHooks) TeammateIdle(_ context.Context, in engine.TeammateIdleInput) engine.HookOutput {
	s := h.s

	s.mu.Lock()
	st, ok := s.lookupLocked(h.sessionID)
	if !ok {
		s.mu.Unlock()
		return engine.HookOutput{}
	}
	tm := findByName(st, in.TeammateName)
	if tm == nil {
		tm = firstUnnamed(st)
	}
	if tm == nil {
		s.mu.Unlock()
		s.logger.Warn("idle hook matched no teammate", "session", h.sessionID, "teammate", in.TeammateName)
		return engine.HookOutput{}
	}
	tm.Name = in.TeammateName
	tm.Status = session.TeammateIdle
	s.publishLocked(event.TypeTeammateStatus, h.sessionID, event.TeammateStatus{
		AgentID: tm.AgentID,
		Name:    tm.Name,
		Status:  string(tm.Status),
	})
	s.mu.Unlock()

	s.persist(h.sessionID)
	return engine.HookOutput{}
}

func (h *sessionHooks) TaskCompleted(_ context.Context, in engine.TaskCompletedInput) engine.HookOutput {
	s := h.s

	s.mu.Lock()
	if _, ok := s.lookupLocked(h.sessionID); !ok {
		s.mu.Unlock()
		return engine.HookOutput{}
	}
	s.publishLocked(event.TypeTaskCompleted, h.sessionID, event.TaskCompleted{
		TaskID:       in.TaskID,
		TaskSubject:  in.TaskSubject,
		TeammateName: in.TeammateName,
	})
	s.mu.Unlock()

	s.syncTasks(h.sessionID, h.gen)
	return engine.HookOutput{}
}

// PostToolUse receives SendMessage calls only after they were allowed and
// ran, in both permission modes.
func (h *sessionHooks) PostToolUse(_ context.Context, in engine.PostToolUseInput) engine.HookOutput {
	if in.ToolName == sendMessageTool {
		h.s.observeSendMessage(h.sessionID, in.AgentID, in.ToolInput)
	}
	return engine.HookOutput{}
}

func findByName(st *sessionState, name string) *session.Teammate {
	if name == "" {
		return nil
	}
	for _, id := range st.order {
		if tm := st.teammates[id]; tm.Name == name {
			return tm
		}
	}
	return nil
}

func firstUnnamed(st *sessionState) *session.Teammate {
	for _, id := range st.order {
		if tm := st.teammates[id]; tm.Name == "" {
			return tm
		}
	}
	return nil
}

func findTeammate(st *sessionState, ref string) *session.Teammate {
	if tm, ok := st.teammates[ref]; ok {
		return tm
	}
	return findByName(st, ref)
}

// transcriptPathLocked returns the recorded transcript path, or the one
// derived from the Lead's transcript location.
func (s *Service) transcriptPathLocked(st *sessionState, tm *session.Teammate) string {
	if tm.TranscriptPath != "" {
		return tm.TranscriptPath
	}
	return transcript.SubagentPath(st.leadTranscript, tm.AgentID)
}

func (s *Service) teammatePath(sessionID, agentID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.lookupLocked(sessionID)
	if !ok {
		return ""
	}
	tm, ok := st.teammates[agentID]
	if !ok {
		return ""
	}
	return s.transcriptPathLocked(st, tm)
}

func (s *Service) startTranscriptPoll(sessionID, agentID string) {
	s.poller.Start(s.pollTarget(sessionID, agentID))
}

func (s *Service) pollTarget(sessionID, agentID string) transcript.Target {
	return transcript.Target{
		SessionID: sessionID,
		AgentID:   agentID,
		Path:      func() string { return s.teammatePath(sessionID, agentID) },
		OnChange:  func(text string) { s.setTeammateOutput(sessionID, agentID, text, true) },
	}
}

// setTeammateOutput caches new transcript output and broadcasts it. With
// fromPoll set, a starting or idle teammate becomes working.
func (s *Service) setTeammateOutput(sessionID, agentID, text string, fromPoll bool) {
	s.mu.Lock()
	st, ok := s.lookupLocked(sessionID)
	if !ok {
		s.mu.Unlock()
		return
	}
	tm, ok := st.teammates[agentID]
	if !ok || tm.Output == text {
		s.mu.Unlock()
		return
	}
	tm.Output = text
	s.publishLocked(event.TypeTeammateOutput, sessionID, event.TeammateOutput{AgentID: agentID, Text: text})
	if fromPoll && (tm.Status == session.TeammateStarting || tm.Status == session.TeammateIdle) {
		tm.Status = session.TeammateWorking
		s.publishLocked(event.TypeTeammateStatus, sessionID, event.TeammateStatus{
			AgentID: tm.AgentID,
			Name:    tm.Name,
			Status:  string(tm.Status),
		})
	}
	s.mu.Unlock()

	s.persistDebounced(sessionID)
}
