// resume.go implements the "ccgrid resume" command for continuing a
// finished session with a follow-up prompt.
package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id> <prompt...>",
	Short: "Continue a finished session",
	Long: `Resume the Lead of a completed or failed session with a follow-up
prompt. The Lead keeps its conversation and team; the session fails with
a conflict while its current run is still active.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runResume,
}

var resumeWatchFlag bool

func init() {
	resumeCmd.Flags().BoolVar(&resumeWatchFlag, "watch", false, "Follow the session until the resumed run finishes")
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sessionID := args[0]
	prompt := strings.Join(args[1:], " ")

	ctx := context.Background()
	client := newAPIClient(cfg)
	body := map[string]string{"prompt": prompt}
	if err := client.do(ctx, "POST", "/api/sessions/"+sessionID+"/continue", body, nil); err != nil {
		return err
	}
	fmt.Printf("Session %s resumed\n", sessionID)

	if !resumeWatchFlag {
		return nil
	}
	// No replay: the previous run's final status would end the watch at once.
	return watchSession(ctx, client, sessionID, 0, true)
}
