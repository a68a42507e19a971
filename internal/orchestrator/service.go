// Package orchestrator drives multi-agent sessions: it consumes the Lead's
// message stream, tracks teammates through lifecycle hooks, synchronizes
// the shared task list, arbitrates permissions, and relays messages.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/O6lvl4/ccgrid-sub001/internal/engine"
	"github.com/O6lvl4/ccgrid-sub001/internal/event"
	runlog "github.com/O6lvl4/ccgrid-sub001/internal/log"
	"github.com/O6lvl4/ccgrid-sub001/internal/permission"
	"github.com/O6lvl4/ccgrid-sub001/internal/session"
	"github.com/O6lvl4/ccgrid-sub001/internal/tasks"
	"github.com/O6lvl4/ccgrid-sub001/internal/transcript"
)

// Sentinel errors returned by the Service API.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrTeammateNotFound = errors.New("teammate not found")
	ErrSessionActive    = errors.New("session run is still active")
)

// Store is the durable record store behind the Service.
type Store interface {
	SaveRecord(rec session.Record) error
	LoadAll() ([]session.Record, error)
	DeleteRecord(id string) error
}

// Options configures a Service.
type Options struct {
	Engine      engine.Engine
	Broadcaster event.Broadcaster
	Store       Store
	Rules       permission.RuleSource
	Journal     *runlog.Logger // optional
	Logger      *slog.Logger

	// ClaudeDir is the engine home holding teams/ and tasks/.
	ClaudeDir string

	DefaultModel string
	// DefaultPermissionMode applies to sessions created without a mode.
	DefaultPermissionMode session.PermissionMode

	TaskInterval       time.Duration
	TranscriptInterval time.Duration
	PersistDelay       time.Duration
	// Env is added to every engine launch.
	Env map[string]string
}

// Service owns every registry of the process. All registry mutation happens
// under mu; mu is never held across engine calls, file reads or waits.
type Service struct {
	mu       sync.Mutex
	sessions map[string]*sessionState

	opts       Options
	engine     engine.Engine
	broadcast  event.Broadcaster
	store      Store
	persister  *session.Persister
	arbitrator *permission.Arbitrator
	poller     *transcript.Poller
	journal    *runlog.Logger
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// sessionState is the in-memory registry entry of one session.
type sessionState struct {
	info      session.Session
	teammates map[string]*session.Teammate
	order     []string // agent ids in discovery order
	tasks     []session.Task
	output    strings.Builder

	generation int
	active     bool
	cancelRun  context.CancelFunc // aborts permission waits of the run
	cancelProc context.CancelFunc // stops the engine process

	leadTranscript string
}

func newSessionState(info session.Session) *sessionState {
	return &sessionState{info: info, teammates: make(map[string]*session.Teammate)}
}

func (st *sessionState) record() session.Record {
	teammates := make([]session.Teammate, 0, len(st.order))
	for _, id := range st.order {
		teammates = append(teammates, *st.teammates[id])
	}
	return session.Record{
		Session:    st.info,
		Teammates:  teammates,
		Tasks:      append([]session.Task{}, st.tasks...),
		LeadOutput: st.output.String(),
		UpdatedAt:  time.Now().UTC(),
	}
}

// New creates a Service. Call Shutdown to stop every run it started.
func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Broadcaster == nil {
		opts.Broadcaster = event.BroadcasterFunc(func(event.Event) {})
	}
	if opts.Rules == nil {
		opts.Rules = permission.StaticRules{}
	}
	if opts.TaskInterval <= 0 {
		opts.TaskInterval = tasks.DefaultInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		sessions:  make(map[string]*sessionState),
		opts:      opts,
		engine:    opts.Engine,
		broadcast: opts.Broadcaster,
		store:     opts.Store,
		poller:    transcript.NewPoller(opts.TranscriptInterval),
		journal:   opts.Journal,
		logger:    opts.Logger,
		ctx:       ctx,
		cancel:    cancel,
	}
	s.arbitrator = permission.NewArbitrator(opts.Rules, opts.Broadcaster, opts.Journal, opts.Logger)
	if opts.Store != nil {
		s.persister = session.NewPersister(opts.Store, s.snapshot, opts.PersistDelay, opts.Logger)
	}
	return s
}

// Arbitrator exposes the permission arbitrator of this service.
func (s *Service) Arbitrator() *permission.Arbitrator { return s.arbitrator }

func (s *Service) snapshot(sessionID string) (session.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[sessionID]
	if !ok {
		return session.Record{}, false
	}
	return st.record(), true
}

func (s *Service) persist(sessionID string) {
	if s.persister != nil {
		s.persister.Persist(sessionID)
	}
}

func (s *Service) persistDebounced(sessionID string) {
	if s.persister != nil {
		s.persister.PersistDebounced(sessionID)
	}
}

// publishLocked broadcasts e. Callers hold mu so events of one session
// leave in the order their mutations happened.
func (s *Service) publishLocked(kind, sessionID string, data any) {
	s.broadcast.Publish(event.New(kind, sessionID, data))
}

func (s *Service) setStatusLocked(st *sessionState, status session.Status) {
	if st.info.Status == status {
		return
	}
	st.info.Status = status
	s.publishLocked(event.TypeSessionStatus, st.info.ID, event.SessionStatus{Status: string(status)})
}

func (s *Service) appendOutputLocked(st *sessionState, text string) {
	st.output.WriteString(text)
	s.publishLocked(event.TypeLeadOutput, st.info.ID, event.LeadOutput{Text: text})
}

func (s *Service) record(e runlog.LogEvent) {
	if err := s.journal.Append(e); err != nil {
		s.logger.Warn("writing journal", "event", e.Event, "error", err)
	}
}

// CreateRequest describes a new session.
type CreateRequest struct {
	Name            string                 `json:"name"`
	Cwd             string                 `json:"cwd"`
	Model           string                 `json:"model,omitempty"`
	TaskDescription string                 `json:"taskDescription"`
	MaxBudgetUSD    *float64               `json:"maxBudgetUsd,omitempty"`
	PermissionMode  session.PermissionMode `json:"permissionMode,omitempty"`
	Teammates       []session.TeammateSpec `json:"teammateSpecs,omitempty"`
}

// Validate checks the request for required fields.
func (r CreateRequest) Validate() error {
	if strings.TrimSpace(r.Cwd) == "" {
		return errors.New("cwd is required")
	}
	if strings.TrimSpace(r.TaskDescription) == "" {
		return errors.New("task description is required")
	}
	switch r.PermissionMode {
	case "", session.PermissionDefault, session.PermissionBypass:
	default:
		return fmt.Errorf("unknown permission mode %q", r.PermissionMode)
	}
	seen := make(map[string]bool, len(r.Teammates))
	for _, tm := range r.Teammates {
		if strings.TrimSpace(tm.Name) == "" {
			return errors.New("teammate name is required")
		}
		if seen[tm.Name] {
			return fmt.Errorf("duplicate teammate name %q", tm.Name)
		}
		seen[tm.Name] = true
	}
	return nil
}

// CreateSession registers a session and launches its Lead. An engine start
// failure is reported through the session's status, not the returned error.
func (s *Service) CreateSession(req CreateRequest) (session.Session, error) {
	if err := req.Validate(); err != nil {
		return session.Session{}, err
	}

	mode := req.PermissionMode
	if mode == "" {
		mode = s.opts.DefaultPermissionMode
	}
	if mode == "" {
		mode = session.PermissionDefault
	}
	model := req.Model
	if model == "" {
		model = s.opts.DefaultModel
	}
	name := req.Name
	if name == "" {
		name = firstLine(req.TaskDescription, 60)
	}

	info := session.Session{
		ID:             uuid.NewString(),
		Name:           name,
		Cwd:            req.Cwd,
		Model:          model,
		TaskDesc:       req.TaskDescription,
		MaxBudgetUSD:   req.MaxBudgetUSD,
		PermissionMode: mode,
		Teammates:      req.Teammates,
		Status:         session.StatusStarting,
		CreatedAt:      time.Now().UTC(),
	}

	s.mu.Lock()
	s.sessions[info.ID] = newSessionState(info)
	s.publishLocked(event.TypeSessionStatus, info.ID, event.SessionStatus{Status: string(info.Status)})
	s.mu.Unlock()

	s.persist(info.ID)

	_ = s.launch(info.ID, buildLeadPrompt(info), false)

	got, err := s.GetSession(info.ID)
	if err != nil {
		// Deleted concurrently; return what was created.
		return info, nil
	}
	return got.Session, nil
}

// Snapshot is a consistent copy of one session's state.
type Snapshot struct {
	Session     session.Session      `json:"session"`
	Teammates   []session.Teammate   `json:"teammates"`
	Tasks       []session.Task       `json:"tasks"`
	LeadOutput  string               `json:"leadOutput"`
	Active      bool                 `json:"active"`
	Permissions []permission.Request `json:"pendingPermissions"`
}

// GetSession returns a snapshot of one session.
func (s *Service) GetSession(id string) (Snapshot, error) {
	s.mu.Lock()
	st, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return Snapshot{}, ErrSessionNotFound
	}
	rec := st.record()
	active := st.active
	s.mu.Unlock()

	return Snapshot{
		Session:     rec.Session,
		Teammates:   rec.Teammates,
		Tasks:       rec.Tasks,
		LeadOutput:  rec.LeadOutput,
		Active:      active,
		Permissions: s.arbitrator.Pending(id),
	}, nil
}

// GetTeammate returns one teammate of a session, looked up by agent id or
// name.
func (s *Service) GetTeammate(sessionID, ref string) (session.Teammate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[sessionID]
	if !ok {
		return session.Teammate{}, ErrSessionNotFound
	}
	tm := findTeammate(st, ref)
	if tm == nil {
		return session.Teammate{}, ErrTeammateNotFound
	}
	return *tm, nil
}

// ListSessions returns every registered session, newest first.
func (s *Service) ListSessions() []session.Session {
	s.mu.Lock()
	out := make([]session.Session, 0, len(s.sessions))
	for _, st := range s.sessions {
		out = append(out, st.info)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// DeleteSession cancels the session's run and removes it with its record.
func (s *Service) DeleteSession(id string) error {
	s.mu.Lock()
	st, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	if st.cancelRun != nil {
		st.cancelRun()
	}
	if st.cancelProc != nil {
		st.cancelProc()
	}
	st.active = false
	delete(s.sessions, id)
	s.mu.Unlock()

	s.poller.StopSession(id)
	if s.persister != nil {
		s.persister.Forget(id)
	}
	if s.store != nil {
		if err := s.store.DeleteRecord(id); err != nil {
			return fmt.Errorf("deleting session record: %w", err)
		}
	}
	return nil
}

// ContinueSession sends a follow-up prompt to a finished Lead.
func (s *Service) ContinueSession(id, prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return errors.New("prompt is required")
	}

	s.mu.Lock()
	st, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	if st.active {
		s.mu.Unlock()
		return ErrSessionActive
	}
	resume := st.info.RunID != ""
	s.appendOutputLocked(st, fmt.Sprintf("\n\n**You:** %s\n\n", prompt))
	s.mu.Unlock()

	s.persistDebounced(id)
	return s.launch(id, prompt, resume)
}

// ResolvePermission applies a human decision to a pending request.
func (s *Service) ResolvePermission(requestID string, d permission.Decision) error {
	return s.arbitrator.Resolve(requestID, d)
}

// PendingPermissions lists open permission requests of a session.
func (s *Service) PendingPermissions(sessionID string) []permission.Request {
	return s.arbitrator.Pending(sessionID)
}

// LoadPersisted restores the registries from the store. Runs interrupted
// by a restart come back as errors and their teammates as stopped.
func (s *Service) LoadPersisted() (int, error) {
	if s.store == nil {
		return 0, nil
	}
	records, err := s.store.LoadAll()
	if err != nil {
		return 0, fmt.Errorf("loading sessions: %w", err)
	}

	var changed []string
	s.mu.Lock()
	for _, rec := range records {
		if _, exists := s.sessions[rec.Session.ID]; exists {
			continue
		}
		st := newSessionState(rec.Session)
		dirty := false
		if st.info.Status == session.StatusStarting || st.info.Status == session.StatusRunning {
			st.info.Status = session.StatusError
			dirty = true
		}
		for i := range rec.Teammates {
			tm := rec.Teammates[i]
			if tm.Status != session.TeammateStopped {
				tm.Status = session.TeammateStopped
				dirty = true
			}
			st.teammates[tm.AgentID] = &tm
			st.order = append(st.order, tm.AgentID)
		}
		st.tasks = rec.Tasks
		st.output.WriteString(rec.LeadOutput)
		s.sessions[rec.Session.ID] = st
		if dirty {
			changed = append(changed, rec.Session.ID)
		}
	}
	s.mu.Unlock()

	for _, id := range changed {
		s.persist(id)
	}
	return len(records), nil
}

// Shutdown cancels every active run, waits for their streams to finish,
// stops all pollers and flushes pending writes.
func (s *Service) Shutdown() {
	s.cancel()
	s.wg.Wait()
	s.poller.StopAll()
	if s.persister != nil {
		s.persister.Flush()
	}
}

func (s *Service) lookupLocked(id string) (*sessionState, bool) {
	st, ok := s.sessions[id]
	return st, ok
}

// isActive reports whether generation gen of the session is still running.
func (s *Service) isActive(id string, gen int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[id]
	return ok && st.active && st.generation == gen
}

func firstLine(s string, limit int) string {
	line := strings.TrimSpace(s)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	runes := []rune(line)
	if len(runes) > limit {
		return string(runes[:limit]) + "…"
	}
	return line
}
