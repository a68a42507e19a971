package transcript

import (
	"context"
	"sync"
	"time"
)

// DefaultPollInterval is how often a running teammate's transcript is re-read.
const DefaultPollInterval = 3 * time.Second

// Target describes one agent whose transcript should be polled.
type Target struct {
	SessionID string
	AgentID   string
	// Path resolves the transcript location on every tick; the path may only
	// become known after the agent has started.
	Path func() string
	// OnChange receives the rendered transcript whenever it differs from the
	// last successful read.
	OnChange func(text string)
}

// Poller re-reads teammate transcripts on a fixed interval until stopped.
type Poller struct {
	mu       sync.Mutex
	interval time.Duration
	read     func(path string) (string, bool)
	active   map[string]*pollEntry // agentID -> entry
	lastSeen map[string]seenEntry  // agentID -> last rendered content
}

type seenEntry struct {
	sessionID string
	text      string
}

type pollEntry struct {
	target Target
	cancel context.CancelFunc
}

// NewPoller creates a poller. A non-positive interval uses DefaultPollInterval.
func NewPoller(interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		interval: interval,
		read:     Read,
		active:   make(map[string]*pollEntry),
		lastSeen: make(map[string]seenEntry),
	}
}

// Start begins polling for t.AgentID. It reports false when the agent is
// already being polled.
func (p *Poller) Start(t Target) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.active[t.AgentID]; ok {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.active[t.AgentID] = &pollEntry{target: t, cancel: cancel}

	go p.loop(ctx, t)
	return true
}

// Stop ends polling for one agent.
func (p *Poller) Stop(agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.active[agentID]; ok {
		entry.cancel()
		delete(p.active, agentID)
	}
}

// StopSession ends polling for every agent of a session and drops the
// session's cached transcripts.
func (p *Poller) StopSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, entry := range p.active {
		if entry.target.SessionID == sessionID {
			entry.cancel()
			delete(p.active, id)
		}
	}
	for id, seen := range p.lastSeen {
		if seen.sessionID == sessionID {
			delete(p.lastSeen, id)
		}
	}
}

// StopAll ends every poll loop.
func (p *Poller) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, entry := range p.active {
		entry.cancel()
		delete(p.active, id)
	}
	clear(p.lastSeen)
}

// Polling reports whether agentID is currently polled.
func (p *Poller) Polling(agentID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[agentID]
	return ok
}

func (p *Poller) loop(ctx context.Context, t Target) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			p.poll(t, true)
		}
	}
}

// Poll performs one read of t's transcript, invoking OnChange only when
// the content differs from the last successful read for that agent.
func (p *Poller) Poll(t Target) bool {
	return p.poll(t, false)
}

// poll reads t's transcript. A loop tick (fromLoop) that lost a race with
// Stop is discarded so it does not re-populate the cache.
func (p *Poller) poll(t Target, fromLoop bool) bool {
	if t.Path == nil {
		return false
	}
	text, ok := p.read(t.Path())
	if !ok {
		return false
	}

	p.mu.Lock()
	if _, running := p.active[t.AgentID]; fromLoop && !running {
		p.mu.Unlock()
		return false
	}
	if seen, ok := p.lastSeen[t.AgentID]; ok && seen.text == text {
		p.mu.Unlock()
		return false
	}
	p.lastSeen[t.AgentID] = seenEntry{sessionID: t.SessionID, text: text}
	p.mu.Unlock()

	if t.OnChange != nil {
		t.OnChange(text)
	}
	return true
}
