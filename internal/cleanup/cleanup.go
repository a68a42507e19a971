// Package cleanup selects finished sessions to prune from the store.
package cleanup

import (
	"sort"
	"time"

	"github.com/O6lvl4/ccgrid-sub001/internal/session"
)

// finished reports whether a session can be pruned. Sessions that are
// starting or running are never selected.
func finished(s session.Summary) bool {
	return s.Status == session.StatusCompleted || s.Status == session.StatusError
}

// SelectByAge returns the ids of finished sessions last updated more than
// maxAgeDays before now.
func SelectByAge(summaries []session.Summary, maxAgeDays int, now time.Time) []string {
	cutoff := now.AddDate(0, 0, -maxAgeDays)
	var pruned []string
	for _, s := range summaries {
		if finished(s) && s.UpdatedAt.Before(cutoff) {
			pruned = append(pruned, s.ID)
		}
	}
	return pruned
}

// SelectKeepRecent returns the ids of every finished session except the
// keep most recently updated ones.
func SelectKeepRecent(summaries []session.Summary, keep int) []string {
	var done []session.Summary
	for _, s := range summaries {
		if finished(s) {
			done = append(done, s)
		}
	}

	// Newest first.
	sort.SliceStable(done, func(i, j int) bool {
		return done[i].UpdatedAt.After(done[j].UpdatedAt)
	})
	if len(done) <= keep {
		return nil
	}

	var pruned []string
	for _, s := range done[keep:] {
		pruned = append(pruned, s.ID)
	}
	return pruned
}
