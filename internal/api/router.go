// Package api exposes the orchestrator over HTTP and streams broadcast
// events over a websocket.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/O6lvl4/ccgrid-sub001/internal/engine"
	"github.com/O6lvl4/ccgrid-sub001/internal/event"
	"github.com/O6lvl4/ccgrid-sub001/internal/orchestrator"
	"github.com/O6lvl4/ccgrid-sub001/internal/permission"
)

// Deps are the components the router serves.
type Deps struct {
	Service    *orchestrator.Service
	Bus        *event.Bus
	Rules      *permission.FileRuleStore // optional
	Dispatcher *engine.Dispatcher        // optional; serves engine callbacks
	AuthToken  string
	Logger     *slog.Logger
}

// NewRouter creates the chi router with all routes and middleware.
func NewRouter(d Deps) *chi.Mux {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	sessionH := NewSessionHandler(d.Service)
	permH := NewPermissionHandler(d.Service, d.Rules)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": len(d.Service.ListSessions()),
		})
	})

	// Engine callbacks authenticate by their per-launch path token.
	if d.Dispatcher != nil {
		r.Mount("/engine", d.Dispatcher.Routes())
	}

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(d.AuthToken))

		r.Route("/api", func(r chi.Router) {
			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", sessionH.List)
				r.Post("/", sessionH.Create)
				r.Get("/{id}", sessionH.Get)
				r.Delete("/{id}", sessionH.Delete)
				r.Post("/{id}/continue", sessionH.Continue)
				r.Get("/{id}/permissions", permH.Pending)
				r.Get("/{id}/teammates/{name}", sessionH.Teammate)
				r.Post("/{id}/teammates/{name}/messages", sessionH.SendMessage)
			})
			r.Get("/permissions", permH.PendingAll)
			r.Post("/permissions/{id}", permH.Resolve)
			r.Get("/rules", permH.ListRules)
			r.Put("/rules", permH.ReplaceRules)
		})

		if d.Bus != nil {
			r.Handle("/ws", NewEventStream(d.Bus, logger))
		}
	})

	return r
}
