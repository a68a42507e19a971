package orchestrator

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/O6lvl4/ccgrid-sub001/internal/engine"
	"github.com/O6lvl4/ccgrid-sub001/internal/event"
	runlog "github.com/O6lvl4/ccgrid-sub001/internal/log"
	"github.com/O6lvl4/ccgrid-sub001/internal/session"
	"github.com/O6lvl4/ccgrid-sub001/internal/tasks"
	"github.com/O6lvl4/ccgrid-sub001/internal/transcript"
)

var errNoResult = errors.New("lead stream ended without a result")

// consume drives one generation's stream to completion and routes a
// failure to handleStreamFailure.
func (s *Service) consume(sessionID string, gen int, stream engine.Stream) {
	defer stream.Close()

	if err := s.processStream(sessionID, gen, stream); err != nil {
		s.handleStreamFailure(sessionID, gen, err)
	}
}

func (s *Service) processStream(sessionID string, gen int, stream engine.Stream) error {
	for {
		msg, err := stream.Next()
		if errors.Is(err, io.EOF) {
			if s.isActive(sessionID, gen) {
				return errNoResult
			}
			return nil
		}
		if err != nil {
			return err
		}
		if !s.apply(sessionID, gen, msg) {
			return nil
		}
	}
}

// apply handles one stream message. It returns false once the session is
// gone or superseded and no further messages should be processed.
func (s *Service) apply(sessionID string, gen int, msg engine.Message) bool {
	switch {
	case msg.Type == engine.TypeSystem && msg.Subtype == engine.SubtypeInit:
		return s.handleInit(sessionID, gen, msg)
	case msg.Type == engine.TypeStreamEvent:
		return s.handleDelta(sessionID, gen, msg)
	case msg.Type == engine.TypeAssistant:
		return s.handleAssistant(sessionID, gen, msg)
	case msg.Type == engine.TypeResult:
		return s.handleResult(sessionID, gen, msg)
	default:
		return s.current(sessionID, gen)
	}
}

func (s *Service) current(sessionID string, gen int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.lookupLocked(sessionID)
	return ok && st.generation == gen
}

func (s *Service) handleInit(sessionID string, gen int, msg engine.Message) bool {
	s.mu.Lock()
	st, ok := s.lookupLocked(sessionID)
	if !ok || st.generation != gen {
		s.mu.Unlock()
		return false
	}
	if st.info.RunID == "" {
		st.info.RunID = msg.SessionID
	}
	s.setStatusLocked(st, session.StatusRunning)
	s.mu.Unlock()

	s.persist(sessionID)
	s.startTaskSync(sessionID, gen)
	return true
}

func (s *Service) handleDelta(sessionID string, gen int, msg engine.Message) bool {
	s.mu.Lock()
	st, ok := s.lookupLocked(sessionID)
	if !ok || st.generation != gen {
		s.mu.Unlock()
		return false
	}
	text, isText := msg.TextDelta()
	if !isText || !msg.FromLead() {
		s.mu.Unlock()
		return true
	}
	s.appendOutputLocked(st, text)
	s.mu.Unlock()

	s.persistDebounced(sessionID)
	return true
}

// handleAssistant merges a full assistant message when the engine did not
// stream it as deltas.
func (s *Service) handleAssistant(sessionID string, gen int, msg engine.Message) bool {
	s.mu.Lock()
	st, ok := s.lookupLocked(sessionID)
	if !ok || st.generation != gen {
		s.mu.Unlock()
		return false
	}
	text := msg.AssistantText()
	if text == "" || !msg.FromLead() || strings.HasSuffix(st.output.String(), text) {
		s.mu.Unlock()
		return true
	}
	s.appendOutputLocked(st, text)
	s.mu.Unlock()

	s.persistDebounced(sessionID)
	return true
}

func (s *Service) handleResult(sessionID string, gen int, msg engine.Message) bool {
	s.mu.Lock()
	st, ok := s.lookupLocked(sessionID)
	if !ok || st.generation != gen {
		s.mu.Unlock()
		return false
	}

	st.info.CostUSD += msg.TotalCostUSD
	if msg.Usage != nil {
		st.info.InputTokens += msg.Usage.InputTokens
		st.info.OutputTokens += msg.Usage.OutputTokens
	}
	s.publishLocked(event.TypeCostUpdate, sessionID, event.CostUpdate{
		CostUSD:      st.info.CostUSD,
		InputTokens:  st.info.InputTokens,
		OutputTokens: st.info.OutputTokens,
	})

	succeeded := msg.Succeeded()
	if trailing := strings.TrimSpace(msg.Result); succeeded && trailing != "" && !strings.Contains(st.output.String(), trailing) {
		if st.output.Len() > 0 {
			trailing = "\n\n" + trailing
		}
		s.appendOutputLocked(st, trailing)
	}

	status := session.StatusError
	if succeeded {
		status = session.StatusCompleted
	}
	s.setStatusLocked(st, status)
	st.active = false
	if st.cancelRun != nil {
		st.cancelRun()
	}

	s.poller.StopSession(sessionID)
	pending := s.stopTeammatesLocked(st)
	runID := st.info.RunID
	cost := st.info.CostUSD
	s.mu.Unlock()

	s.loadMissingTranscripts(sessionID, pending)
	s.persist(sessionID)

	entry := runlog.LogEvent{
		Event:        runlog.EventRunCompleted,
		SessionID:    sessionID,
		RunID:        runID,
		Generation:   gen,
		CostUSD:      cost,
		InputTokens:  usage(msg).InputTokens,
		OutputTokens: usage(msg).OutputTokens,
	}
	if !succeeded {
		entry.Event = runlog.EventRunFailed
		entry.Reason = msg.Subtype
	}
	s.record(entry)
	return true
}

func usage(msg engine.Message) engine.Usage {
	if msg.Usage == nil {
		return engine.Usage{}
	}
	return *msg.Usage
}

type transcriptTarget struct {
	agentID string
	path    string
}

// stopTeammatesLocked marks every teammate of st stopped and returns the
// ones whose output was never captured.
func (s *Service) stopTeammatesLocked(st *sessionState) []transcriptTarget {
	var pending []transcriptTarget
	for _, id := range st.order {
		tm := st.teammates[id]
		if tm.Status != session.TeammateStopped {
			tm.Status = session.TeammateStopped
			s.publishLocked(event.TypeTeammateStatus, st.info.ID, event.TeammateStatus{
				AgentID: tm.AgentID,
				Name:    tm.Name,
				Status:  string(tm.Status),
			})
		}
		if tm.Output == "" {
			pending = append(pending, transcriptTarget{agentID: tm.AgentID, path: s.transcriptPathLocked(st, tm)})
		}
	}
	return pending
}

// loadMissingTranscripts reads each target once. Unreadable transcripts
// are skipped.
func (s *Service) loadMissingTranscripts(sessionID string, targets []transcriptTarget) {
	for _, target := range targets {
		text, ok := transcript.Read(target.path)
		if !ok {
			s.logger.Debug("no transcript output", "session", sessionID, "agent", target.agentID, "path", target.path)
			continue
		}
		s.setTeammateOutput(sessionID, target.agentID, text, false)
	}
}

// handleStreamFailure applies a mid-stream failure unless it is stale.
func (s *Service) handleStreamFailure(sessionID string, gen int, err error) {
	s.mu.Lock()
	st, ok := s.lookupLocked(sessionID)
	if !ok {
		s.mu.Unlock()
		return
	}
	if st.generation != gen || st.info.Status == session.StatusCompleted {
		s.mu.Unlock()
		s.logger.Debug("ignoring stale stream failure", "session", sessionID, "generation", gen, "error", err)
		s.record(runlog.LogEvent{Event: runlog.EventRunStaleFailure, SessionID: sessionID, Generation: gen, Error: err.Error()})
		return
	}

	st.active = false
	if st.cancelRun != nil {
		st.cancelRun()
	}
	s.setStatusLocked(st, session.StatusError)
	s.publishLocked(event.TypeError, sessionID, event.Error{Message: fmt.Sprintf("lead stream failed: %v", err)})
	s.poller.StopSession(sessionID)
	s.mu.Unlock()

	s.logger.Error("lead stream failed", "session", sessionID, "generation", gen, "error", err)
	s.record(runlog.LogEvent{Event: runlog.EventRunFailed, SessionID: sessionID, Generation: gen, Error: err.Error()})
	s.persist(sessionID)
}

// startTaskSync polls the session's task list while generation gen is active.
func (s *Service) startTaskSync(sessionID string, gen int) {
	tasks.Poll(s.ctx, s.opts.TaskInterval,
		func() bool { return s.isActive(sessionID, gen) },
		func() { s.syncTasks(sessionID, gen) },
	)
}

// syncTasks runs one synchronization pass. A pass whose generation was
// superseded while it read the store is discarded.
func (s *Service) syncTasks(sessionID string, gen int) {
	s.mu.Lock()
	st, ok := s.lookupLocked(sessionID)
	if !ok {
		s.mu.Unlock()
		return
	}
	runID := st.info.RunID
	s.mu.Unlock()

	list, found := tasks.Load(s.opts.ClaudeDir, runID)
	if !found {
		return
	}

	s.mu.Lock()
	st, ok = s.lookupLocked(sessionID)
	if !ok || st.generation != gen {
		s.mu.Unlock()
		return
	}
	changed := !tasksEqual(st.tasks, list)
	st.tasks = list
	s.publishLocked(event.TypeTasksSync, sessionID, list)
	s.mu.Unlock()

	if changed {
		s.persist(sessionID)
	}
}

func tasksEqual(a, b []session.Task) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Subject != b[i].Subject || a[i].Description != b[i].Description ||
			a[i].Status != b[i].Status || a[i].Owner != b[i].Owner ||
			!slices.Equal(a[i].Blocks, b[i].Blocks) || !slices.Equal(a[i].BlockedBy, b[i].BlockedBy) {
			return false
		}
	}
	return true
}
