// Package httpapi exposes rule CRUD, evaluation, conflict detection, and
// dependency-graph inspection over HTTP, following the reference handler's
// mux subrouter-per-resource layout and writeJSON/writeError conventions.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fluxrules/ruleengine/internal/condition"
	"github.com/fluxrules/ruleengine/internal/conflict"
	"github.com/fluxrules/ruleengine/internal/depgraph"
	"github.com/fluxrules/ruleengine/internal/engine"
	"github.com/fluxrules/ruleengine/internal/rule"
)

// Streamer is satisfied by *stream.Hub.
type Streamer interface {
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

// Handler wires the HTTP surface to the lifecycle, detector, and
// evaluation engine; it holds no business logic of its own beyond request
// decoding and response shaping.
type Handler struct {
	logger    *slog.Logger
	repo      *rule.Repository
	lifecycle *rule.Lifecycle
	detector  *conflict.Detector
	eng       *engine.Engine
	stream    Streamer
}

func NewHandler(logger *slog.Logger, repo *rule.Repository, lifecycle *rule.Lifecycle, detector *conflict.Detector, eng *engine.Engine, stream Streamer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, repo: repo, lifecycle: lifecycle, detector: detector, eng: eng, stream: stream}
}

// RegisterRoutes mounts every endpoint onto router.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/stream", h.stream.ServeHTTP)

	ruleRouter := router.PathPrefix("/rules").Subrouter()
	ruleRouter.HandleFunc("", h.handleCreateRule).Methods(http.MethodPost)
	ruleRouter.HandleFunc("", h.handleListRules).Methods(http.MethodGet)
	ruleRouter.HandleFunc("/{id}", h.handleGetRule).Methods(http.MethodGet)
	ruleRouter.HandleFunc("/{id}", h.handleUpdateRule).Methods(http.MethodPut)
	ruleRouter.HandleFunc("/{id}", h.handleDeleteRule).Methods(http.MethodDelete)
	ruleRouter.HandleFunc("/{id}/enable", h.handleEnableRule).Methods(http.MethodPost)
	ruleRouter.HandleFunc("/{id}/disable", h.handleDisableRule).Methods(http.MethodPost)
	ruleRouter.HandleFunc("/{id}/duplicate", h.handleDuplicateRule).Methods(http.MethodPost)
	ruleRouter.HandleFunc("/{id}/versions", h.handleListVersions).Methods(http.MethodGet)
	ruleRouter.HandleFunc("/{id}/versions/{version}", h.handleGetVersion).Methods(http.MethodGet)
	ruleRouter.HandleFunc("/{id}/versions/{from}/diff/{to}", h.handleVersionDiff).Methods(http.MethodGet)

	conflictRouter := router.PathPrefix("/conflicts").Subrouter()
	conflictRouter.HandleFunc("", h.handleDetectConflicts).Methods(http.MethodGet)

	router.HandleFunc("/dependency-graph", h.handleDependencyGraph).Methods(http.MethodGet)
	router.HandleFunc("/evaluate", h.handleEvaluate).Methods(http.MethodPost)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("httpapi: failed to encode response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]any{
		"error":     message,
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var event condition.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid event body")
		return
	}
	report, err := h.eng.Evaluate(r.Context(), event)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleDetectConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts, err := h.detector.DetectAll(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"conflicts": conflicts, "count": len(conflicts)})
}

func (h *Handler) handleDependencyGraph(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("group")
	enabled := true
	rules, err := h.repo.List(r.Context(), rule.Filter{Group: q, Enabled: &enabled})
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	inputs := make([]depgraph.RuleInput, 0, len(rules))
	for i := range rules {
		cond, err := rules[i].Condition()
		if err != nil {
			h.logger.Warn("httpapi: skipping rule with invalid condition", "rule_id", rules[i].ID, "err", err)
			continue
		}
		inputs = append(inputs, depgraph.RuleInput{
			ID: rules[i].ID, Name: rules[i].Name, Group: rules[i].NormalizedGroup(),
			Priority: rules[i].Priority, Condition: cond,
		})
	}

	h.writeJSON(w, http.StatusOK, depgraph.Build(inputs))
}
