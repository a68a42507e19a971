package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/O6lvl4/ccgrid-sub001/internal/orchestrator"
)

// SessionHandler handles session-related HTTP requests.
type SessionHandler struct {
	svc *orchestrator.Service
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(svc *orchestrator.Service) *SessionHandler {
	return &SessionHandler{svc: svc}
}

// List handles GET /api/sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.ListSessions())
}

// Create handles POST /api/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	info, err := h.svc.CreateSession(req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// Get handles GET /api/sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.GetSession(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Delete handles DELETE /api/sessions/{id}
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteSession(chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type continueRequest struct {
	Prompt string `json:"prompt"`
}

// Continue handles POST /api/sessions/{id}/continue
func (h *SessionHandler) Continue(w http.ResponseWriter, r *http.Request) {
	var req continueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.svc.ContinueSession(chi.URLParam(r, "id"), req.Prompt); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Teammate handles GET /api/sessions/{id}/teammates/{name}
func (h *SessionHandler) Teammate(w http.ResponseWriter, r *http.Request) {
	tm, err := h.svc.GetTeammate(chi.URLParam(r, "id"), chi.URLParam(r, "name"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tm)
}

type messageRequest struct {
	Message string `json:"message"`
}

// SendMessage handles POST /api/sessions/{id}/teammates/{name}/messages
func (h *SessionHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.svc.SendToTeammate(chi.URLParam(r, "id"), chi.URLParam(r, "name"), req.Message); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
