// report.go implements the "ccgrid report" command for session summaries.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/O6lvl4/ccgrid-sub001/internal/config"
	runlog "github.com/O6lvl4/ccgrid-sub001/internal/log"
	"github.com/O6lvl4/ccgrid-sub001/internal/orchestrator"
	"github.com/O6lvl4/ccgrid-sub001/internal/report"
	"github.com/O6lvl4/ccgrid-sub001/internal/session"
)

var reportCmd = &cobra.Command{
	Use:   "report <session-id>",
	Short: "Show a session summary",
	Long: `Display a report of one session: its teammates, task progress, runs,
permission decisions, relayed messages, duration and cost. Run history
comes from the journal in .ccgrid/journal.`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

var reportOutFlag string

func init() {
	reportCmd.Flags().StringVar(&reportOutFlag, "out", "", "Also write the report as <id>.md into this directory")
	reportCmd.Flags().BoolVar(&offlineFlag, "offline", false, "Read the session database instead of asking the server")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rec, err := fetchRecord(cfg, args[0])
	if err != nil {
		return err
	}

	var events []runlog.LogEvent
	if journal, jErr := runlog.NewLogger(cfg.Storage.JournalDir); jErr == nil {
		// A missing or partly written journal still yields a report.
		events, _ = journal.ForSession(rec.Session.ID)
	}

	r := report.Generate(rec, events)
	report.AddWorkspace(r)
	fmt.Print(report.Format(r))

	if reportOutFlag != "" {
		path, writeErr := report.Write(reportOutFlag, r)
		if writeErr != nil {
			return writeErr
		}
		fmt.Printf("Report written to %s\n", path)
	}
	return nil
}

func fetchRecord(cfg *config.Config, id string) (session.Record, error) {
	if offlineFlag {
		store, err := session.NewStore(cfg.Storage.DBPath)
		if err != nil {
			return session.Record{}, err
		}
		defer func() { _ = store.Close() }()

		rec, err := store.LoadRecord(id)
		if err != nil {
			return session.Record{}, err
		}
		if rec == nil {
			return session.Record{}, fmt.Errorf("session %s not found", id)
		}
		return *rec, nil
	}

	var snap orchestrator.Snapshot
	if err := newAPIClient(cfg).do(context.Background(), "GET", "/api/sessions/"+id, nil, &snap); err != nil {
		return session.Record{}, err
	}
	return session.Record{
		Session:    snap.Session,
		Teammates:  snap.Teammates,
		Tasks:      snap.Tasks,
		LeadOutput: snap.LeadOutput,
	}, nil
}
