// status.go implements the "ccgrid status" command showing sessions.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/O6lvl4/ccgrid-sub001/internal/config"
	"github.com/O6lvl4/ccgrid-sub001/internal/orchestrator"
	"github.com/O6lvl4/ccgrid-sub001/internal/session"
)

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Show sessions or one session in detail",
	Long: `Without arguments, list every session known to the server. With a
session id, show its teammates, tasks and pending permission requests.
When the server is not running, --offline reads the session database.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var (
	offlineFlag bool
	limitFlag   int
)

func init() {
	statusCmd.Flags().BoolVar(&offlineFlag, "offline", false, "Read the session database instead of asking the server")
	statusCmd.Flags().IntVar(&limitFlag, "limit", 20, "Maximum sessions to list in offline mode")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if offlineFlag {
		return offlineStatus(os.Stdout, cfg)
	}

	ctx := context.Background()
	client := newAPIClient(cfg)

	if len(args) == 1 {
		var snap orchestrator.Snapshot
		if err := client.do(ctx, "GET", "/api/sessions/"+args[0], nil, &snap); err != nil {
			return err
		}
		printSnapshot(os.Stdout, snap)
		return nil
	}

	var list []session.Session
	if err := client.do(ctx, "GET", "/api/sessions", nil, &list); err != nil {
		return err
	}
	printSessions(os.Stdout, list)
	return nil
}

func offlineStatus(w io.Writer, cfg *config.Config) error {
	if _, err := os.Stat(cfg.Storage.DBPath); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no session database at %s; start the server with: ccgrid serve", cfg.Storage.DBPath)
	}
	store, err := session.NewStore(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	summaries, err := store.ListSessions(limitFlag)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No sessions found.")
		return nil
	}
	for _, s := range summaries {
		fmt.Fprintf(w, "  %-8s  %-9s  $%-8.4f  %2d teammates  %2d tasks  %s\n",
			shortSessionID(s.ID), s.Status, s.CostUSD, s.Teammates, s.Tasks, s.Name)
	}
	return nil
}

func printSessions(w io.Writer, list []session.Session) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No sessions. Start one with: ccgrid run \"task\"")
		return
	}
	for _, s := range list {
		fmt.Fprintf(w, "  %-8s  %-9s  $%-8.4f  %s\n", shortSessionID(s.ID), s.Status, s.CostUSD, s.Name)
	}
}

func printSnapshot(w io.Writer, snap orchestrator.Snapshot) {
	s := snap.Session
	fmt.Fprintf(w, "Session %s  %s\n", s.ID, s.Status)
	if s.Name != "" {
		fmt.Fprintf(w, "Name:   %s\n", s.Name)
	}
	fmt.Fprintf(w, "Cwd:    %s\n", s.Cwd)
	if s.Model != "" {
		fmt.Fprintf(w, "Model:  %s\n", s.Model)
	}
	fmt.Fprintf(w, "Cost:   $%.4f (%d in / %d out)\n", s.CostUSD, s.InputTokens, s.OutputTokens)
	if s.MaxBudgetUSD != nil {
		fmt.Fprintf(w, "Budget: $%.2f\n", *s.MaxBudgetUSD)
	}

	fmt.Fprintf(w, "\nTeammates (%d):\n", len(snap.Teammates))
	for _, tm := range snap.Teammates {
		name := tm.Name
		if name == "" {
			name = tm.AgentID
		}
		fmt.Fprintf(w, "  %-20s  %-8s  %s\n", name, tm.Status, tm.AgentType)
	}

	done := 0
	for _, t := range snap.Tasks {
		if t.Status == session.TaskCompleted {
			done++
		}
	}
	fmt.Fprintf(w, "\nTasks (%d/%d completed):\n", done, len(snap.Tasks))
	for _, t := range snap.Tasks {
		line := fmt.Sprintf("  #%-4s %-12s %s", t.ID, t.Status, t.Subject)
		if t.Owner != "" {
			line += "  (" + t.Owner + ")"
		}
		if len(t.BlockedBy) > 0 {
			line += "  blocked by " + strings.Join(t.BlockedBy, ",")
		}
		fmt.Fprintln(w, line)
	}

	if len(snap.Permissions) > 0 {
		fmt.Fprintf(w, "\nPending permissions (%d):\n", len(snap.Permissions))
		for _, p := range snap.Permissions {
			fmt.Fprintf(w, "  %s  %s  %s\n", p.ID, p.ToolName, p.Description)
		}
		fmt.Fprintln(w, "Resolve with: ccgrid approve <request-id> | ccgrid deny <request-id>")
	}
}

func shortSessionID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
