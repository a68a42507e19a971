// send.go implements the commands that act on a live session: send,
// approve and deny.
package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/O6lvl4/ccgrid-sub001/internal/engine"
	"github.com/O6lvl4/ccgrid-sub001/internal/permission"
)

var sendCmd = &cobra.Command{
	Use:   "send <session-id> <teammate> <message...>",
	Short: "Send a message to a teammate",
	Long: `Deliver a message from you to one teammate, addressed by name or
agent id. If the Lead's run has finished it is resumed to relay the
message.`,
	Args: cobra.MinimumNArgs(3),
	RunE: runSend,
}

var approveCmd = &cobra.Command{
	Use:   "approve <request-id>",
	Short: "Allow a pending tool-use request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolvePermission(args[0], engine.BehaviorAllow, "")
	},
}

var denyCmd = &cobra.Command{
	Use:   "deny <request-id>",
	Short: "Deny a pending tool-use request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolvePermission(args[0], engine.BehaviorDeny, denyMessageFlag)
	},
}

var denyMessageFlag string

func init() {
	denyCmd.Flags().StringVarP(&denyMessageFlag, "message", "m", "", "Reason passed back to the agent")
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(denyCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sessionID, teammate := args[0], args[1]
	message := strings.Join(args[2:], " ")

	body := map[string]string{"message": message}
	path := fmt.Sprintf("/api/sessions/%s/teammates/%s/messages", sessionID, teammate)
	if err := newAPIClient(cfg).do(context.Background(), "POST", path, body, nil); err != nil {
		return err
	}
	fmt.Printf("Message sent to %s\n", teammate)
	return nil
}

func resolvePermission(requestID, behavior, message string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d := permission.Decision{Behavior: behavior, Message: message}
	if err := newAPIClient(cfg).do(context.Background(), "POST", "/api/permissions/"+requestID, d, nil); err != nil {
		return err
	}
	fmt.Printf("Request %s: %s\n", requestID, behavior)
	return nil
}
