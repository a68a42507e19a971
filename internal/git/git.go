// Package git reads the state of a session's working directory.
// Every helper is read-only; agents own the repository's history.
package git

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

var (
	ErrGitNotFound = errors.New("git not found in PATH")
	ErrNotARepo    = errors.New("not a git repository")
)

// ensureGit checks that git is available in PATH.
func ensureGit() error {
	_, err := exec.LookPath("git")
	if err != nil {
		return ErrGitNotFound
	}
	return nil
}

// run executes git in dir and returns trimmed stdout.
func run(dir string, args ...string) (string, error) {
	out, err := runRaw(dir, args...)
	return strings.TrimSpace(out), err
}

// runRaw executes git in dir and returns stdout untouched. Porcelain
// formats need their leading columns.
func runRaw(dir string, args ...string) (string, error) {
	if err := ensureGit(); err != nil {
		return "", err
	}
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && strings.Contains(string(exitErr.Stderr), "not a git repository") {
			return "", ErrNotARepo
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return string(out), nil
}

// CurrentBranch returns the name of the current branch of the repository
// at dir.
// Shells out to: git rev-parse --abbrev-ref HEAD
func CurrentBranch(dir string) (string, error) {
	return run(dir, "rev-parse", "--abbrev-ref", "HEAD")
}

// ChangedFiles lists paths with uncommitted changes, including untracked
// files.
// Shells out to: git status --porcelain
func ChangedFiles(dir string) ([]string, error) {
	out, err := runRaw(dir, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parsePorcelain(out), nil
}

// parsePorcelain extracts paths from `git status --porcelain` output,
// where each line is a two-column status, a space, then the path.
func parsePorcelain(out string) []string {
	out = strings.TrimRight(out, "\n")
	if out == "" {
		return nil
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) > 3 {
			files = append(files, strings.TrimSpace(line[3:]))
		}
	}
	return files
}

// DiffStat summarizes uncommitted changes to tracked files.
// Shells out to: git diff --stat HEAD
func DiffStat(dir string) (string, error) {
	return run(dir, "diff", "--stat", "HEAD")
}
