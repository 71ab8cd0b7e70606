package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/fluxrules/ruleengine/internal/rule"
)

func (h *Handler) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var in rule.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, conflicts, err := h.lifecycle.CreateRule(r.Context(), in)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{"rule": created, "conflicts": conflicts})
}

func (h *Handler) handleListRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := rule.Filter{Group: q.Get("group"), Search: q.Get("search")}
	if v := q.Get("enabled"); v != "" {
		b := v == "true"
		f.Enabled = &b
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		f.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil {
		f.Offset = v
	}

	rules, err := h.repo.List(r.Context(), f)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"rules": rules, "count": len(rules)})
}

func (h *Handler) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	out, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.writeRuleErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var payload struct {
		rule.UpdateInput
		ExpectedVersion int `json:"expected_version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, conflicts, err := h.lifecycle.UpdateRule(r.Context(), id, payload.ExpectedVersion, payload.UpdateInput)
	if err != nil {
		if errors.Is(err, rule.ErrVersionConflict) {
			h.writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.writeRuleErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"rule": updated, "conflicts": conflicts})
}

func (h *Handler) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.lifecycle.DeleteRule(r.Context(), id); err != nil {
		h.writeRuleErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleEnableRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.repo.Enable(r.Context(), id); err != nil {
		h.writeRuleErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": true})
}

func (h *Handler) handleDisableRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.repo.Disable(r.Context(), id); err != nil {
		h.writeRuleErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": false})
}

func (h *Handler) handleDuplicateRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Name      string `json:"name"`
		CreatedBy string `json:"created_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		h.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	dup, err := h.repo.Duplicate(r.Context(), id, req.Name, req.CreatedBy)
	if err != nil {
		h.writeRuleErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, dup)
}

func (h *Handler) handleListVersions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	versions, err := h.repo.GetVersionHistory(r.Context(), id)
	if err != nil {
		h.writeRuleErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (h *Handler) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	version, err := strconv.Atoi(vars["version"])
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid version")
		return
	}
	out, err := h.repo.GetVersion(r.Context(), vars["id"], version)
	if err != nil {
		h.writeRuleErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleVersionDiff(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	from, err := strconv.Atoi(vars["from"])
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid from version")
		return
	}
	to, err := strconv.Atoi(vars["to"])
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid to version")
		return
	}
	diffs, err := h.repo.VersionDiff(r.Context(), vars["id"], from, to)
	if err != nil {
		h.writeRuleErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"diff": diffs})
}

func (h *Handler) writeRuleErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rule.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, rule.ErrNameTaken):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, rule.ErrVersionConflict):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}
