package engine

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
)

// Dispatcher routes hook and permission callbacks arriving over HTTP from
// claude child processes to the callbacks registered for their launch.
// Each launch is identified by an unguessable token.
type Dispatcher struct {
	mu       sync.RWMutex
	launches map[string]launchCallbacks
}

type launchCallbacks struct {
	hooks      Hooks
	canUseTool CanUseTool
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{launches: make(map[string]launchCallbacks)}
}

// Register associates a launch token with its callbacks.
func (d *Dispatcher) Register(token string, hooks Hooks, canUseTool CanUseTool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.launches[token] = launchCallbacks{hooks: hooks, canUseTool: canUseTool}
}

// Unregister forgets a launch token.
func (d *Dispatcher) Unregister(token string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.launches, token)
}

func (d *Dispatcher) lookup(token string) (launchCallbacks, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	cb, ok := d.launches[token]
	return cb, ok
}

// Routes returns the callback router, meant to be mounted under /engine.
func (d *Dispatcher) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{token}/hooks/{event}", d.handleHook)
	r.Post("/{token}/permission", d.handlePermission)
	return r
}

func (d *Dispatcher) handleHook(w http.ResponseWriter, r *http.Request) {
	cb, ok := d.lookup(chi.URLParam(r, "token"))
	if !ok || cb.hooks == nil {
		http.Error(w, "unknown launch", http.StatusNotFound)
		return
	}

	ctx := r.Context()
	var out HookOutput
	switch chi.URLParam(r, "event") {
	case HookSubagentStart:
		var in SubagentStartInput
		if !readJSON(w, r, &in) {
			return
		}
		out = cb.hooks.SubagentStart(ctx, in)
	case HookSubagentStop:
		var in SubagentStopInput
		if !readJSON(w, r, &in) {
			return
		}
		out = cb.hooks.SubagentStop(ctx, in)
	case HookTeammateIdle:
		var in TeammateIdleInput
		if !readJSON(w, r, &in) {
			return
		}
		out = cb.hooks.TeammateIdle(ctx, in)
	case HookTaskCompleted:
		var in TaskCompletedInput
		if !readJSON(w, r, &in) {
			return
		}
		out = cb.hooks.TaskCompleted(ctx, in)
	case HookPostToolUse:
		var in PostToolUseInput
		if !readJSON(w, r, &in) {
			return
		}
		out = cb.hooks.PostToolUse(ctx, in)
	default:
		http.Error(w, "unknown hook event", http.StatusNotFound)
		return
	}
	writeJSON(w, out)
}

func (d *Dispatcher) handlePermission(w http.ResponseWriter, r *http.Request) {
	cb, ok := d.lookup(chi.URLParam(r, "token"))
	if !ok {
		http.Error(w, "unknown launch", http.StatusNotFound)
		return
	}

	var req PermissionRequest
	if !readJSON(w, r, &req) {
		return
	}
	if cb.canUseTool == nil {
		writeJSON(w, Allow(req.Input))
		return
	}

	// The request context is the cancellation signal: it ends when the
	// bridge process (and with it the engine's tool call) goes away.
	writeJSON(w, cb.canUseTool(r.Context(), req))
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, fmt.Sprintf("encoding response: %v", err), http.StatusInternalServerError)
	}
}
