package session

import (
	"log/slog"
	"sync"
	"time"
)

// RecordWriter is the durable side of a Persister.
type RecordWriter interface {
	SaveRecord(rec Record) error
}

// SnapshotFunc returns the current in-memory record for a session, or false
// when the session no longer exists.
type SnapshotFunc func(sessionID string) (Record, bool)

// Persister writes session records either immediately or coalesced.
// Both paths act on the same durable record; a Persist call supersedes any
// pending debounced write for that session. Writes for one session are
// serialized from snapshot to SaveRecord, so the last write always carries
// the newest state.
type Persister struct {
	mu       sync.Mutex
	writer   RecordWriter
	snapshot SnapshotFunc
	delay    time.Duration
	timers   map[string]*time.Timer
	writing  map[string]*sync.Mutex
	logger   *slog.Logger
}

// NewPersister creates a Persister. delay is the coalescing window used by
// PersistDebounced.
func NewPersister(writer RecordWriter, snapshot SnapshotFunc, delay time.Duration, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	return &Persister{
		writer:   writer,
		snapshot: snapshot,
		delay:    delay,
		timers:   make(map[string]*time.Timer),
		writing:  make(map[string]*sync.Mutex),
		logger:   logger,
	}
}

// Persist writes the session's record now.
func (p *Persister) Persist(sessionID string) {
	p.mu.Lock()
	if t, ok := p.timers[sessionID]; ok {
		t.Stop()
		delete(p.timers, sessionID)
	}
	p.mu.Unlock()

	p.write(sessionID)
}

// PersistDebounced schedules a write after the coalescing window. Further
// calls inside the window are folded into the pending write.
func (p *Persister) PersistDebounced(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, pending := p.timers[sessionID]; pending {
		return
	}
	p.timers[sessionID] = time.AfterFunc(p.delay, func() {
		p.mu.Lock()
		delete(p.timers, sessionID)
		p.mu.Unlock()
		p.write(sessionID)
	})
}

// Forget drops any pending write for a deleted session.
func (p *Persister) Forget(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.timers[sessionID]; ok {
		t.Stop()
		delete(p.timers, sessionID)
	}
	delete(p.writing, sessionID)
}

// Flush performs every pending debounced write immediately.
func (p *Persister) Flush() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.timers))
	for id, t := range p.timers {
		t.Stop()
		ids = append(ids, id)
	}
	p.timers = make(map[string]*time.Timer)
	p.mu.Unlock()

	for _, id := range ids {
		p.write(id)
	}
}

func (p *Persister) writeLock(sessionID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.writing[sessionID]
	if !ok {
		l = &sync.Mutex{}
		p.writing[sessionID] = l
	}
	return l
}

func (p *Persister) write(sessionID string) {
	if p.writer == nil || p.snapshot == nil {
		return
	}
	l := p.writeLock(sessionID)
	l.Lock()
	defer l.Unlock()

	rec, ok := p.snapshot(sessionID)
	if !ok {
		return
	}
	if err := p.writer.SaveRecord(rec); err != nil {
		p.logger.Warn("persist session failed", "session", sessionID, "error", err)
	}
}
