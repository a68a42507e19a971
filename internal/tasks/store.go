// Package tasks reads the shared task list the engine keeps on disk for
// each team and keeps it synchronized while a run is active.
package tasks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/O6lvl4/ccgrid-sub001/internal/session"
)

// Store layout under the engine's home directory:
//
//	teams/<team>/config.json   {"name": ..., "leadSessionId": <run id>}
//	tasks/<team>/*.json        one descriptor per task
//	tasks/<run id>/*.json      fallback when no team claims the run
const (
	teamsDir   = "teams"
	tasksDir   = "tasks"
	teamConfig = "config.json"
)

type teamConfigFile struct {
	Name          string `json:"name"`
	LeadSessionID string `json:"leadSessionId"`
}

type descriptor struct {
	ID          string   `json:"id"`
	Subject     string   `json:"subject"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Owner       string   `json:"owner"`
	Blocks      []string `json:"blocks"`
	BlockedBy   []string `json:"blockedBy"`
}

// Locate resolves the task directory belonging to runID. It reports false
// when no directory exists yet.
func Locate(claudeDir, runID string) (string, bool) {
	if claudeDir == "" || runID == "" {
		return "", false
	}

	if team, ok := teamForRun(claudeDir, runID); ok {
		dir := filepath.Join(claudeDir, tasksDir, team)
		if isDir(dir) {
			return dir, true
		}
	}

	dir := filepath.Join(claudeDir, tasksDir, runID)
	if isDir(dir) {
		return dir, true
	}
	return "", false
}

// teamForRun scans team configurations for the one led by runID.
// Unreadable or malformed configurations are skipped.
func teamForRun(claudeDir, runID string) (string, bool) {
	entries, err := os.ReadDir(filepath.Join(claudeDir, teamsDir))
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(claudeDir, teamsDir, entry.Name(), teamConfig))
		if err != nil {
			continue
		}
		var cfg teamConfigFile
		if err := json.Unmarshal(data, &cfg); err != nil {
			continue
		}
		if cfg.LeadSessionID == runID {
			return entry.Name(), true
		}
	}
	return "", false
}

// LoadDir parses every task descriptor in dir. A descriptor that cannot be
// read or decoded is skipped; only an unreadable directory is an error.
func LoadDir(dir string) ([]session.Task, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading task directory: %w", err)
	}

	list := make([]session.Task, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		task, ok := parseFile(filepath.Join(dir, entry.Name()))
		if !ok {
			continue
		}
		list = append(list, task)
	}

	sort.SliceStable(list, func(i, j int) bool { return idLess(list[i].ID, list[j].ID) })
	return list, nil
}

// Load locates and parses the task list of runID. It reports false when
// the run has no task directory yet.
func Load(claudeDir, runID string) ([]session.Task, bool) {
	dir, ok := Locate(claudeDir, runID)
	if !ok {
		return nil, false
	}
	list, err := LoadDir(dir)
	if err != nil {
		return nil, false
	}
	return list, true
}

func parseFile(path string) (session.Task, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return session.Task{}, false
	}
	var d descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return session.Task{}, false
	}
	if d.ID == "" {
		d.ID = strings.TrimSuffix(filepath.Base(path), ".json")
	}

	task := session.Task{
		ID:          d.ID,
		Subject:     d.Subject,
		Description: d.Description,
		Status:      normalizeStatus(d.Status),
		Owner:       d.Owner,
		Blocks:      d.Blocks,
		BlockedBy:   d.BlockedBy,
	}
	if task.Blocks == nil {
		task.Blocks = []string{}
	}
	if task.BlockedBy == nil {
		task.BlockedBy = []string{}
	}
	return task, true
}

func normalizeStatus(s string) session.TaskStatus {
	switch session.TaskStatus(s) {
	case session.TaskInProgress:
		return session.TaskInProgress
	case session.TaskCompleted:
		return session.TaskCompleted
	default:
		return session.TaskPending
	}
}

// idLess orders numeric ids numerically and everything else lexically.
func idLess(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
