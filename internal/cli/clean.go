// clean.go implements the "ccgrid clean" command for pruning finished
// sessions.
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/O6lvl4/ccgrid-sub001/internal/cleanup"
	"github.com/O6lvl4/ccgrid-sub001/internal/session"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete old finished sessions",
	Long: `Delete completed and failed sessions from the server.

By default, removes sessions not updated for --max-age days (default 30).
Use --keep to keep only the N most recent finished sessions instead.
Use --dry-run to preview what would be removed. Running sessions are
never removed.`,
	RunE: runClean,
}

var (
	keepFlag   int
	maxAgeFlag int
	dryRunFlag bool
)

// cleanScanLimit bounds how many sessions one clean pass considers.
const cleanScanLimit = 10000

func init() {
	cleanCmd.Flags().IntVar(&keepFlag, "keep", 0, "Keep only the last N finished sessions (0 = use age-based cleanup)")
	cleanCmd.Flags().IntVar(&maxAgeFlag, "max-age", 30, "Remove finished sessions older than this many days")
	cleanCmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "Preview what would be removed without deleting")
}

func runClean(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Summaries come from the database; deletes go through the server so
	// its registry stays in step.
	store, err := session.NewStore(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	summaries, err := store.ListSessions(cleanScanLimit)
	_ = store.Close()
	if err != nil {
		return err
	}

	var pruned []string
	if keepFlag > 0 {
		pruned = cleanup.SelectKeepRecent(summaries, keepFlag)
	} else {
		pruned = cleanup.SelectByAge(summaries, maxAgeFlag, time.Now())
	}

	if len(pruned) == 0 {
		fmt.Println("Nothing to clean.")
		return nil
	}

	if dryRunFlag {
		fmt.Printf("Would remove %d session(s):\n", len(pruned))
		for _, id := range pruned {
			fmt.Printf("  %s\n", id)
		}
		return nil
	}

	client := newAPIClient(cfg)
	for _, id := range pruned {
		if err := client.do(context.Background(), "DELETE", "/api/sessions/"+id, nil, nil); err != nil {
			return fmt.Errorf("removing session %s: %w", id, err)
		}
		fmt.Printf("  removed %s\n", id)
	}
	fmt.Printf("Removed %d session(s).\n", len(pruned))
	return nil
}
