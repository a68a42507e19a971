// bridge.go implements the hidden commands the claude CLI runs on ccgrid's
// behalf: the MCP permission bridge and the lifecycle hook forwarder.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/O6lvl4/ccgrid-sub001/internal/bridge"
)

var (
	bridgeURL   string
	bridgeToken string
	hookEvent   string
)

var bridgeCmd = &cobra.Command{
	Use:    "_permission-bridge",
	Hidden: true,
	Short:  "MCP stdio bridge for tool permission prompts (internal use only)",
	RunE:   runBridge,
}

var hookCmd = &cobra.Command{
	Use:    "hook",
	Hidden: true,
	Short:  "Forward a lifecycle hook to the ccgrid server (internal use only)",
	RunE:   runHook,
}

func init() {
	for _, c := range []*cobra.Command{bridgeCmd, hookCmd} {
		c.Flags().StringVar(&bridgeURL, "url", "", "ccgrid server base URL")
		c.Flags().StringVar(&bridgeToken, "launch", "", "Launch token issued by the server")
		_ = c.MarkFlagRequired("url")
		_ = c.MarkFlagRequired("launch")
	}
	hookCmd.Flags().StringVar(&hookEvent, "event", "", "Hook event name")
	_ = hookCmd.MarkFlagRequired("event")
}

func bridgeConfig() bridge.Config {
	return bridge.Config{URL: bridgeURL, Token: bridgeToken}
}

func runBridge(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return bridge.RunPermissionBridge(ctx, bridgeConfig(), os.Stdin, os.Stdout)
}

func runHook(cmd *cobra.Command, args []string) error {
	return bridge.ForwardHook(context.Background(), bridgeConfig(), hookEvent, os.Stdin, os.Stdout)
}
