package orchestrator

import (
	"context"
	"fmt"

	"github.com/O6lvl4/ccgrid-sub001/internal/engine"
	"github.com/O6lvl4/ccgrid-sub001/internal/event"
	runlog "github.com/O6lvl4/ccgrid-sub001/internal/log"
	"github.com/O6lvl4/ccgrid-sub001/internal/session"
	"github.com/O6lvl4/ccgrid-sub001/prompts"
)

// launch starts a new generation of the session's Lead. resume continues
// the engine run recorded on the session.
func (s *Service) launch(sessionID, prompt string, resume bool) error {
	s.mu.Lock()
	st, ok := s.lookupLocked(sessionID)
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	if st.active {
		s.mu.Unlock()
		return ErrSessionActive
	}

	st.generation++
	gen := st.generation
	runCtx, cancel := context.WithCancel(s.ctx)
	procCtx, cancelProc := context.WithCancel(s.ctx)
	st.cancelRun = cancel
	st.cancelProc = cancelProc
	st.active = true
	if resume {
		s.setStatusLocked(st, session.StatusRunning)
	}
	spec := s.buildSpec(runCtx, st, gen, prompt, resume)
	info := st.info
	s.mu.Unlock()

	s.record(runlog.LogEvent{
		Event:      runlog.EventRunLaunched,
		SessionID:  sessionID,
		RunID:      spec.Resume,
		Generation: gen,
	})

	// The engine process outlives the run context: a result ends the run
	// but the stream still drains to EOF.
	stream, err := s.engine.Start(procCtx, spec)
	if err != nil {
		cancelProc()
		s.failStart(sessionID, gen, err)
		return fmt.Errorf("starting lead for session %s: %w", info.ID, err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancelProc()
		s.consume(sessionID, gen, stream)
	}()
	return nil
}

// failStart handles an engine that could not start: no stream exists, the
// session becomes an error.
func (s *Service) failStart(sessionID string, gen int, err error) {
	s.logger.Error("engine start failed", "session", sessionID, "generation", gen, "error", err)

	s.mu.Lock()
	st, ok := s.lookupLocked(sessionID)
	if !ok || st.generation != gen {
		s.mu.Unlock()
		return
	}
	st.active = false
	if st.cancelRun != nil {
		st.cancelRun()
	}
	s.setStatusLocked(st, session.StatusError)
	s.publishLocked(event.TypeError, sessionID, event.Error{Message: fmt.Sprintf("failed to start lead: %v", err)})
	s.mu.Unlock()

	s.record(runlog.LogEvent{Event: runlog.EventRunFailed, SessionID: sessionID, Generation: gen, Error: err.Error()})
	s.persist(sessionID)
}

// buildSpec composes the launch. Callers hold mu.
func (s *Service) buildSpec(runCtx context.Context, st *sessionState, gen int, prompt string, resume bool) engine.LaunchSpec {
	info := st.info
	spec := engine.LaunchSpec{
		Prompt:             prompt,
		AppendSystemPrompt: prompts.LeadSystemPrompt,
		Cwd:                info.Cwd,
		Model:              info.Model,
		MaxBudgetUSD:       info.MaxBudgetUSD,
		Agents:             agentDefinitions(info.Teammates),
		BypassPermissions:  info.PermissionMode == session.PermissionBypass,
		Hooks:              &sessionHooks{s: s, sessionID: info.ID, gen: gen},
		Env:                s.launchEnv(),
	}
	if resume {
		spec.Resume = info.RunID
	}
	if !spec.BypassPermissions {
		spec.CanUseTool = s.canUseTool(runCtx, info.ID)
	}
	return spec
}

func (s *Service) launchEnv() map[string]string {
	env := map[string]string{"CLAUDE_CODE_EXPERIMENTAL_AGENT_TEAMS": "1"}
	for k, v := range s.opts.Env {
		env[k] = v
	}
	return env
}

// canUseTool binds the arbitrator to a session. A request is aborted when
// either the engine's signal or the run's lifetime ends.
func (s *Service) canUseTool(runCtx context.Context, sessionID string) engine.CanUseTool {
	return func(ctx context.Context, req engine.PermissionRequest) engine.PermissionResult {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(runCtx, cancel)
		defer stop()

		return s.arbitrator.Decide(ctx, sessionID, req)
	}
}

func agentDefinitions(specs []session.TeammateSpec) map[string]engine.AgentDefinition {
	if len(specs) == 0 {
		return nil
	}
	defs := make(map[string]engine.AgentDefinition, len(specs))
	for _, tm := range specs {
		description := tm.Role
		if description == "" {
			description = fmt.Sprintf("Teammate %s", tm.Name)
		}
		instructions := tm.Instructions
		if instructions == "" {
			instructions = description
		}
		defs[tm.Name] = engine.AgentDefinition{
			Description: description,
			Prompt:      instructions,
			Model:       tm.Model,
		}
	}
	return defs
}
