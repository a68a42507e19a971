package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	runlog "github.com/O6lvl4/ccgrid-sub001/internal/log"
	"github.com/O6lvl4/ccgrid-sub001/internal/session"
)

func sampleRecord(created time.Time) session.Record {
	return session.Record{
		Session: session.Session{
			ID:           "s1",
			Name:         "Refactor auth",
			Status:       session.StatusCompleted,
			Model:        "claude-sonnet",
			CostUSD:      1.25,
			InputTokens:  1000,
			OutputTokens: 200,
			CreatedAt:    created,
		},
		Teammates: []session.Teammate{
			{AgentID: "a1", Name: "Researcher", Status: session.TeammateStopped},
			{AgentID: "a2", Status: session.TeammateIdle},
		},
		Tasks: []session.Task{
			{ID: "1", Status: session.TaskCompleted},
			{ID: "2", Status: session.TaskCompleted},
			{ID: "3", Status: session.TaskInProgress},
			{ID: "4", Status: session.TaskPending},
		},
	}
}

func TestGenerate_AggregatesRecordAndJournal(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	events := []runlog.LogEvent{
		{Time: created.Add(time.Second), Event: runlog.EventRunLaunched, SessionID: "s1"},
		{Time: created.Add(2 * time.Second), Event: runlog.EventPermissionAuto, SessionID: "s1", Behavior: "allow"},
		{Time: created.Add(3 * time.Second), Event: runlog.EventPermissionAuto, SessionID: "s1", Behavior: "deny"},
		{Time: created.Add(4 * time.Second), Event: runlog.EventPermissionResolved, SessionID: "s1", Behavior: "deny"},
		{Time: created.Add(5 * time.Second), Event: runlog.EventMessageRelayed, SessionID: "s1"},
		{Time: created.Add(6 * time.Second), Event: runlog.EventRunFailed, SessionID: "s1"},
		{Time: created.Add(7 * time.Second), Event: runlog.EventRunLaunched, SessionID: "s1"},
		{Time: created.Add(90 * time.Second), Event: runlog.EventRunCompleted, SessionID: "s1"},
		{Time: created.Add(time.Hour), Event: runlog.EventRunLaunched, SessionID: "other"},
	}

	r := Generate(sampleRecord(created), events)

	checks := []struct {
		name      string
		got, want int
	}{
		{"Tasks", r.Tasks, 4},
		{"Completed", r.Completed, 2},
		{"InFlight", r.InFlight, 1},
		{"Pending", r.Pending, 1},
		{"Runs", r.Runs, 2},
		{"FailedRuns", r.FailedRuns, 1},
		{"AutoAllowed", r.AutoAllowed, 1},
		{"AutoDenied", r.AutoDenied, 1},
		{"HumanDenied", r.HumanDenied, 1},
		{"Relayed", r.Relayed, 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
	if r.Duration != 90*time.Second {
		t.Errorf("Duration = %v, want 90s (other sessions ignored)", r.Duration)
	}
}

func TestGenerate_NoJournal(t *testing.T) {
	r := Generate(sampleRecord(time.Now()), nil)
	if r.Duration != 0 {
		t.Errorf("Duration = %v, want 0 without journal events", r.Duration)
	}
	if r.Runs != 0 {
		t.Errorf("Runs = %d, want 0", r.Runs)
	}
}

func TestFormat(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r := Generate(sampleRecord(created), []runlog.LogEvent{
		{Time: created, Event: runlog.EventRunLaunched, SessionID: "s1"},
		{Time: created.Add(5*time.Minute + 32*time.Second), Event: runlog.EventRunCompleted, SessionID: "s1"},
	})
	out := Format(r)

	for _, want := range []string{
		"Session:     s1",
		"Name:        Refactor auth",
		"Status:      completed",
		"Completed: 2",
		"- Researcher (stopped)",
		"- a2 (idle)",
		"Runs:        1\n",
		"Duration:    5m 32s",
		"Cost:        $1.25 (1000 in / 200 out)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Permissions:") {
		t.Errorf("permissions line shown without decisions:\n%s", out)
	}
}

func TestWrite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	r := Generate(sampleRecord(time.Now()), nil)

	path, err := Write(dir, r)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if filepath.Base(path) != "s1.md" {
		t.Errorf("path = %s, want s1.md", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != Format(r) {
		t.Error("written report differs from Format output")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Millisecond, "< 1s"},
		{42 * time.Second, "42s"},
		{5*time.Minute + 32*time.Second, "5m 32s"},
		{time.Hour + 12*time.Minute + 5*time.Second, "1h 12m 5s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestAddWorkspace_NotARepository(t *testing.T) {
	rec := sampleRecord(time.Now())
	rec.Session.Cwd = t.TempDir()
	r := Generate(rec, nil)

	AddWorkspace(r)
	if r.Branch != "" || len(r.ChangedFiles) != 0 {
		t.Errorf("workspace of a plain directory = %q %v, want empty", r.Branch, r.ChangedFiles)
	}
	if !strings.Contains(Format(r), "Cwd:         "+rec.Session.Cwd) {
		t.Error("report does not show the working directory")
	}
}
