// Package testutil provides test helpers shared across ccgrid packages.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TempTree creates a temporary directory with the given files and returns its path.
// Files is a map of relative path -> content. Directories are created as needed.
// The directory is automatically cleaned up when the test finishes.
func TempTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	WriteFiles(t, dir, files)
	return dir
}

// WriteFiles writes files under an existing directory.
func WriteFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for relPath, content := range files {
		absPath := filepath.Join(dir, relPath)
		if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
			t.Fatalf("creating directory for %s: %v", relPath, err)
		}
		if err := os.WriteFile(absPath, []byte(content), 0644); err != nil {
			t.Fatalf("writing %s: %v", relPath, err)
		}
	}
}

// JSON marshals v or fails the test.
func JSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return string(data)
}

// JSONL joins JSON-encoded values into newline-delimited content.
func JSONL(t *testing.T, values ...any) string {
	t.Helper()
	lines := make([]string, len(values))
	for i, v := range values {
		lines[i] = JSON(t, v)
	}
	return strings.Join(lines, "\n") + "\n"
}

// TeamConfig returns the contents of a team configuration file owned by
// the given lead run identifier.
func TeamConfig(name, leadRunID string) string {
	return `{"name":"` + name + `","leadSessionId":"` + leadRunID + `"}`
}
