package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/O6lvl4/ccgrid-sub001/internal/event"
)

const (
	wsReadBufferSize  = 1024
	wsWriteBufferSize = 1024
	wsWriteTimeout    = 10 * time.Second
)

// EventStream serves the broadcast channel over a websocket.
type EventStream struct {
	bus    *event.Bus
	logger *slog.Logger
}

// NewEventStream creates a websocket handler subscribed to bus.
func NewEventStream(bus *event.Bus, logger *slog.Logger) *EventStream {
	return &EventStream{bus: bus, logger: logger}
}

// ServeHTTP handles GET /ws?session=<id>&replay=<n>. Without a session
// parameter every event is streamed. replay sends up to n recent events
// from history before live ones.
func (s *EventStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	replay, _ := strconv.Atoi(r.URL.Query().Get("replay"))

	output, cancel := s.bus.SubscribeSession(sessionID)
	defer cancel()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "path", r.URL.Path, "error", err)
		return
	}
	defer conn.Close()

	var history []event.Event
	if replay > 0 {
		for _, e := range s.bus.History(0) {
			if sessionID == "" || e.SessionID == sessionID {
				history = append(history, e)
			}
		}
		if len(history) > replay {
			history = history[len(history)-replay:]
		}
	}

	done := make(chan struct{})
	var stopOnce sync.Once
	stop := func() { stopOnce.Do(func() { close(done) }) }

	go func() {
		defer stop()
		for _, e := range history {
			if err := writeEvent(conn, e); err != nil {
				return
			}
		}
		for {
			select {
			case e, ok := <-output:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
						time.Now().Add(wsWriteTimeout))
					return
				}
				if err := writeEvent(conn, e); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	// Drain client frames so close and ping control messages are processed.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			stop()
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, e event.Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(e)
}
