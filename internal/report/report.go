// Package report builds session summaries from a session record and its
// journal events.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/O6lvl4/ccgrid-sub001/internal/git"
	runlog "github.com/O6lvl4/ccgrid-sub001/internal/log"
	"github.com/O6lvl4/ccgrid-sub001/internal/session"
)

// Report holds the aggregated statistics of one session.
type Report struct {
	SessionID string
	Name      string
	Status    session.Status
	Model     string
	Cwd       string

	Branch       string
	ChangedFiles []string
	FilesChanged string // git diff --stat output

	Teammates []session.Teammate
	Tasks     int
	Completed int
	InFlight  int
	Pending   int

	Runs         int
	FailedRuns   int
	AutoAllowed  int
	AutoDenied   int
	HumanAllowed int
	HumanDenied  int
	Relayed      int

	Duration     time.Duration
	CostUSD      float64
	InputTokens  int64
	OutputTokens int64
}

// Generate aggregates rec and the session's journal events into a Report.
// Journal events of other sessions are ignored.
func Generate(rec session.Record, events []runlog.LogEvent) *Report {
	r := &Report{
		SessionID:    rec.Session.ID,
		Name:         rec.Session.Name,
		Status:       rec.Session.Status,
		Model:        rec.Session.Model,
		Cwd:          rec.Session.Cwd,
		Teammates:    rec.Teammates,
		Tasks:        len(rec.Tasks),
		CostUSD:      rec.Session.CostUSD,
		InputTokens:  rec.Session.InputTokens,
		OutputTokens: rec.Session.OutputTokens,
	}

	for _, t := range rec.Tasks {
		switch t.Status {
		case session.TaskCompleted:
			r.Completed++
		case session.TaskInProgress:
			r.InFlight++
		default:
			r.Pending++
		}
	}

	var own []runlog.LogEvent
	for _, e := range events {
		if e.SessionID == rec.Session.ID {
			own = append(own, e)
		}
	}

	for _, e := range own {
		switch e.Event {
		case runlog.EventRunLaunched:
			r.Runs++
		case runlog.EventRunFailed, runlog.EventRunStaleFailure:
			r.FailedRuns++
		case runlog.EventPermissionAuto:
			if e.Behavior == "allow" {
				r.AutoAllowed++
			} else {
				r.AutoDenied++
			}
		case runlog.EventPermissionResolved:
			if e.Behavior == "allow" {
				r.HumanAllowed++
			} else {
				r.HumanDenied++
			}
		case runlog.EventMessageRelayed:
			r.Relayed++
		}
	}

	r.Duration = computeDuration(rec.Session.CreatedAt, own)
	return r
}

// AddWorkspace records the git state of the session's working directory.
// Non-critical failures (no git, not a repository) leave the fields empty.
func AddWorkspace(r *Report) {
	if r.Cwd == "" {
		return
	}
	if branch, err := git.CurrentBranch(r.Cwd); err == nil {
		r.Branch = branch
	}
	if files, err := git.ChangedFiles(r.Cwd); err == nil {
		r.ChangedFiles = files
	}
	if stat, err := git.DiffStat(r.Cwd); err == nil {
		r.FilesChanged = stat
	}
}

// Format produces a terminal-friendly, human-readable summary string.
func Format(r *Report) string {
	var b strings.Builder

	b.WriteString("========================================\n")
	b.WriteString("  ccgrid Session Report\n")
	b.WriteString("========================================\n")
	b.WriteString("\n")

	fmt.Fprintf(&b, "Session:     %s\n", r.SessionID)
	if r.Name != "" {
		fmt.Fprintf(&b, "Name:        %s\n", r.Name)
	}
	fmt.Fprintf(&b, "Status:      %s\n", r.Status)
	if r.Model != "" {
		fmt.Fprintf(&b, "Model:       %s\n", r.Model)
	}
	if r.Cwd != "" {
		fmt.Fprintf(&b, "Cwd:         %s\n", r.Cwd)
	}
	if r.Branch != "" {
		fmt.Fprintf(&b, "Branch:      %s\n", r.Branch)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Tasks:       %d total\n", r.Tasks)
	fmt.Fprintf(&b, "  Completed: %d\n", r.Completed)
	fmt.Fprintf(&b, "  Working:   %d\n", r.InFlight)
	fmt.Fprintf(&b, "  Pending:   %d\n", r.Pending)
	b.WriteString("\n")

	if len(r.Teammates) > 0 {
		b.WriteString("Teammates:\n")
		for _, tm := range r.Teammates {
			name := tm.Name
			if name == "" {
				name = tm.AgentID
			}
			fmt.Fprintf(&b, "  - %s (%s)\n", name, tm.Status)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Runs:        %d", r.Runs)
	if r.FailedRuns > 0 {
		fmt.Fprintf(&b, " (%d failed)", r.FailedRuns)
	}
	b.WriteString("\n")
	if perms := r.AutoAllowed + r.AutoDenied + r.HumanAllowed + r.HumanDenied; perms > 0 {
		fmt.Fprintf(&b, "Permissions: %d by rule (%d denied), %d by hand (%d denied)\n",
			r.AutoAllowed+r.AutoDenied, r.AutoDenied, r.HumanAllowed+r.HumanDenied, r.HumanDenied)
	}
	if r.Relayed > 0 {
		fmt.Fprintf(&b, "Relayed:     %d messages\n", r.Relayed)
	}

	if len(r.ChangedFiles) > 0 {
		fmt.Fprintf(&b, "\nUncommitted: %d files\n", len(r.ChangedFiles))
		for _, line := range strings.Split(r.FilesChanged, "\n") {
			if strings.TrimSpace(line) != "" {
				fmt.Fprintf(&b, "  %s\n", line)
			}
		}
		b.WriteString("\n")
	}

	if r.Duration > 0 {
		fmt.Fprintf(&b, "Duration:    %s\n", formatDuration(r.Duration))
	}
	if r.CostUSD > 0 {
		fmt.Fprintf(&b, "Cost:        $%.2f (%d in / %d out)\n", r.CostUSD, r.InputTokens, r.OutputTokens)
	}

	b.WriteString("========================================\n")

	return b.String()
}

// Write writes the formatted report to {dir}/{session id}.md.
// Creates dir if it does not exist.
func Write(dir string, r *Report) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}

	path := filepath.Join(dir, r.SessionID+".md")
	if err := os.WriteFile(path, []byte(Format(r)), 0644); err != nil {
		return "", fmt.Errorf("writing report file: %w", err)
	}
	return path, nil
}

// computeDuration measures from the session's creation (or its first
// launch, if earlier records lack a creation time) to its last journal
// event.
func computeDuration(created time.Time, events []runlog.LogEvent) time.Duration {
	start := created
	var end time.Time
	for _, e := range events {
		if e.Time.IsZero() {
			continue
		}
		if start.IsZero() && e.Event == runlog.EventRunLaunched {
			start = e.Time
		}
		end = e.Time
	}

	if start.IsZero() || end.IsZero() {
		return 0
	}
	d := end.Sub(start)
	if d < 0 {
		return 0
	}
	return d
}

// formatDuration produces a human-readable duration string such as "5m 32s"
// or "1h 12m 5s". Sub-second durations are shown as "< 1s".
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "< 1s"
	}

	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
