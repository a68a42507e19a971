// inbox.go implements the "ccgrid inbox" command, an interactive view for
// answering permission requests.
package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/O6lvl4/ccgrid-sub001/internal/permission"
	"github.com/O6lvl4/ccgrid-sub001/internal/tui"
	"github.com/O6lvl4/ccgrid-sub001/internal/ui"
)

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Answer permission requests interactively",
	Long: `Open a terminal view listing every tool-use request waiting for a
human decision, across all sessions. New requests appear as agents make
them. Press a to allow, d to deny, or A to allow and add a rule that
allows the tool from now on.`,
	RunE: runInbox,
}

func init() {
	rootCmd.AddCommand(inboxCmd)
}

// inboxResolver answers the inbox through the API and edits the local rule
// file for "always allow".
type inboxResolver struct {
	client *apiClient
	rules  *permission.FileRuleStore
}

func (r inboxResolver) Pending(ctx context.Context) ([]permission.Request, error) {
	var reqs []permission.Request
	if err := r.client.do(ctx, "GET", "/api/permissions", nil, &reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

func (r inboxResolver) Resolve(ctx context.Context, requestID string, d permission.Decision) error {
	return r.client.do(ctx, "POST", "/api/permissions/"+requestID, d, nil)
}

func (r inboxResolver) AddRule(rule permission.Rule) error {
	return r.rules.Add(rule)
}

func runInbox(cmd *cobra.Command, args []string) error {
	if !tui.IsTTY() {
		return tui.ErrNotInteractive
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client := newAPIClient(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, client.wsURL("", 0), nil)
	if err != nil {
		return fmt.Errorf("connecting to event stream: %w", err)
	}
	defer func() { _ = conn.Close() }()

	events := make(chan ui.WireEvent, 64)
	go func() {
		defer close(events)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var e ui.WireEvent
			if json.Unmarshal(data, &e) != nil {
				continue
			}
			select {
			case events <- e:
			case <-ctx.Done():
				return
			}
		}
	}()

	resolver := inboxResolver{client: client, rules: permission.NewFileRuleStore(cfg.Storage.RulesPath)}
	return tui.Run(tui.NewInboxModel(resolver, events))
}
