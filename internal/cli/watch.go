// watch.go implements the "ccgrid watch" command, which follows the event
// stream of a running server.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/O6lvl4/ccgrid-sub001/internal/event"
	"github.com/O6lvl4/ccgrid-sub001/internal/session"
	"github.com/O6lvl4/ccgrid-sub001/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:   "watch [session-id]",
	Short: "Follow session events live",
	Long: `Connect to the server's event stream and show teammate, task and
cost changes as they happen. Without a session id every session is shown.
A single session is followed until it completes or fails.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

var replayFlag int

func init() {
	watchCmd.Flags().IntVar(&replayFlag, "replay", 100, "Number of past events to replay on connect")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	var sessionID string
	if len(args) == 1 {
		sessionID = args[0]
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return watchSession(ctx, newAPIClient(cfg), sessionID, replayFlag, sessionID != "")
}

// watchSession streams events into a board until ctx ends, the server
// closes the stream, or (with untilDone) the session reaches a final state.
func watchSession(ctx context.Context, client *apiClient, sessionID string, replay int, untilDone bool) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, client.wsURL(sessionID, replay), nil)
	if err != nil {
		return fmt.Errorf("connecting to event stream: %w", err)
	}
	defer func() { _ = conn.Close() }()

	go func() {
		<-ctx.Done()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}()

	board := ui.NewBoard()
	defer board.Finish()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("reading event stream: %w", err)
		}

		var e ui.WireEvent
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		board.Apply(e)

		if untilDone && finished(e) {
			return nil
		}
	}
}

// finished reports whether e moves its session into a final state.
func finished(e ui.WireEvent) bool {
	if e.Kind != event.TypeSessionStatus {
		return false
	}
	var p event.SessionStatus
	if json.Unmarshal(e.Data, &p) != nil {
		return false
	}
	return p.Status == string(session.StatusCompleted) || p.Status == string(session.StatusError)
}
