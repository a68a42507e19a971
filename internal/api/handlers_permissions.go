package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/O6lvl4/ccgrid-sub001/internal/engine"
	"github.com/O6lvl4/ccgrid-sub001/internal/orchestrator"
	"github.com/O6lvl4/ccgrid-sub001/internal/permission"
)

// PermissionHandler serves pending permission requests and rule edits.
type PermissionHandler struct {
	svc   *orchestrator.Service
	rules *permission.FileRuleStore
}

// NewPermissionHandler creates a permission handler. rules may be nil, in
// which case the rule endpoints report 404.
func NewPermissionHandler(svc *orchestrator.Service, rules *permission.FileRuleStore) *PermissionHandler {
	return &PermissionHandler{svc: svc, rules: rules}
}

// Pending handles GET /api/sessions/{id}/permissions
func (h *PermissionHandler) Pending(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.svc.GetSession(id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.PendingPermissions(id))
}

// PendingAll handles GET /api/permissions
func (h *PermissionHandler) PendingAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.PendingPermissions(""))
}

// Resolve handles POST /api/permissions/{id}
func (h *PermissionHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var d permission.Decision
	if err := decodeJSON(r, &d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if d.Behavior != engine.BehaviorAllow && d.Behavior != engine.BehaviorDeny {
		writeError(w, http.StatusBadRequest, `behavior must be "allow" or "deny"`)
		return
	}
	if err := h.svc.ResolvePermission(chi.URLParam(r, "id"), d); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type rulesBody struct {
	Rules []permission.Rule `json:"rules"`
}

// ListRules handles GET /api/rules
func (h *PermissionHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	if h.rules == nil {
		writeError(w, http.StatusNotFound, "no rule file configured")
		return
	}
	rules, err := h.rules.Rules()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rules == nil {
		rules = []permission.Rule{}
	}
	writeJSON(w, http.StatusOK, rulesBody{Rules: rules})
}

// ReplaceRules handles PUT /api/rules
func (h *PermissionHandler) ReplaceRules(w http.ResponseWriter, r *http.Request) {
	if h.rules == nil {
		writeError(w, http.StatusNotFound, "no rule file configured")
		return
	}
	var body rulesBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.rules.Save(body.Rules); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, body)
}
