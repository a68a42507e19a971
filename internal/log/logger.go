// Package log provides the run journal.
// This file appends JSON events to journal.jsonl.
package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event type constants.
const (
	EventRunLaunched        = "run_launched"
	EventRunCompleted       = "run_completed"
	EventRunFailed          = "run_failed"
	EventRunStaleFailure    = "run_stale_failure"
	EventPermissionAuto     = "permission_auto"
	EventPermissionResolved = "permission_resolved"
	EventMessageRelayed     = "message_relayed"
)

// JournalFile is the journal's file name inside its directory.
const JournalFile = "journal.jsonl"

// LogEvent represents a single structured event written to the journal.
type LogEvent struct {
	Time         time.Time      `json:"time"`
	Event        string         `json:"event"`
	SessionID    string         `json:"session,omitempty"`
	RunID        string         `json:"run,omitempty"`
	Generation   int            `json:"generation,omitempty"`
	AgentID      string         `json:"agent,omitempty"`
	Teammate     string         `json:"teammate,omitempty"`
	Tool         string         `json:"tool,omitempty"`
	Behavior     string         `json:"behavior,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	Error        string         `json:"error,omitempty"`
	CostUSD      float64        `json:"cost_usd,omitempty"`
	InputTokens  int64          `json:"input_tokens,omitempty"`
	OutputTokens int64          `json:"output_tokens,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// Logger writes append-only JSONL events to a journal file.
type Logger struct {
	path string
	mu   sync.Mutex
}

// NewLogger creates a Logger that writes to journal.jsonl inside dir.
// Creates dir if it does not already exist.
// Does not truncate an existing journal.
func NewLogger(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	return &Logger{
		path: filepath.Join(dir, JournalFile),
	}, nil
}

// Path returns the journal file location.
func (l *Logger) Path() string { return l.path }

// Append writes a single LogEvent as one JSON line to the journal.
// If event.Time is the zero value, it is automatically set to time.Now().UTC().
// A nil Logger discards the event.
func (l *Logger) Append(event LogEvent) error {
	if l == nil {
		return nil
	}
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal log event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write log event: %w", err)
	}

	return nil
}

// ReadAll reads and parses all events from the journal.
// Returns an empty slice (not an error) if the file does not exist.
func (l *Logger) ReadAll() ([]LogEvent, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []LogEvent{}, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var events []LogEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event LogEvent
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("parse journal line %d: %w", lineNum, err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}

	return events, nil
}

// ForSession returns the events recorded for one session, oldest first.
func (l *Logger) ForSession(sessionID string) ([]LogEvent, error) {
	all, err := l.ReadAll()
	if err != nil {
		return nil, err
	}
	var out []LogEvent
	for _, e := range all {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}
