// Package httptransport provides HTTP handlers.
package httptransport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ratelimiter/internal/ratelimit/core"
)

const defaultMaxBodyBytes = 1 << 20

func (t *HTTPTransport) registerRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Route("/rules", func(r chi.Router) {
			r.Get("/", t.handleListRules)
			r.Post("/", t.handleCreateRule)
			r.Get("/{id}", t.handleGetRule)
			r.Put("/{id}", t.handleUpdateRule)
			r.Patch("/{id}", t.handleUpdateRule)
			r.Delete("/{id}", t.handleDeleteRule)
		})
		r.Route("/stats", func(r chi.Router) {
			r.Get("/", t.handleListStats)
			r.Post("/reset", t.handleResetAllStats)
			r.Get("/{id}", t.handleGetStats)
			r.Post("/{id}/reset", t.handleResetStats)
		})
		r.Post("/simulate", t.handleSimulate)
		r.Get("/export", t.handleExport)
	})
	r.Get("/healthz", t.handleHealth)
	r.Get("/readyz", t.handleReady)
	if t.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", t.metricsHandler)
	}
}

func (t *HTTPTransport) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := t.admin.ListRules(r.Context())
	if err != nil {
		t.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fromRules(rules))
}

func (t *HTTPTransport) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req HTTPRuleRequest
	if err := t.decodeJSON(w, r, &req); err != nil {
		t.writeAppError(w, r, err)
		return
	}
	rule, err := t.admin.CreateRule(r.Context(), toRuleDraft(req))
	if err != nil {
		t.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, fromRule(rule))
}

func (t *HTTPTransport) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := t.admin.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		t.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fromRule(rule))
}

func (t *HTTPTransport) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var req HTTPRuleRequest
	if err := t.decodeJSON(w, r, &req); err != nil {
		t.writeAppError(w, r, err)
		return
	}
	rule, err := t.admin.UpdateRule(r.Context(), chi.URLParam(r, "id"), toRulePatch(req))
	if err != nil {
		t.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fromRule(rule))
}

func (t *HTTPTransport) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := t.admin.DeleteRule(r.Context(), chi.URLParam(r, "id")); err != nil {
		t.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (t *HTTPTransport) handleListStats(w http.ResponseWriter, r *http.Request) {
	stats, err := t.admin.ListStats(r.Context())
	if err != nil {
		t.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (t *HTTPTransport) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := t.admin.GetStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		t.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (t *HTTPTransport) handleResetStats(w http.ResponseWriter, r *http.Request) {
	if err := t.admin.ResetStats(r.Context(), chi.URLParam(r, "id")); err != nil {
		t.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (t *HTTPTransport) handleResetAllStats(w http.ResponseWriter, r *http.Request) {
	if err := t.admin.ResetAllStats(r.Context()); err != nil {
		t.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (t *HTTPTransport) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req HTTPSimulateRequest
	if err := t.decodeJSON(w, r, &req); err != nil {
		t.writeAppError(w, r, err)
		return
	}
	result, err := t.simulator.Simulate(r.Context(), toSimulateRequest(req))
	if err != nil {
		t.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fromSimulateResult(result))
}

func (t *HTTPTransport) handleExport(w http.ResponseWriter, r *http.Request) {
	snapshot, err := t.admin.ExportConfig(r.Context())
	if err != nil {
		t.writeAppError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="rate-limiter-config.json"`)
	writeJSON(w, http.StatusOK, fromExport(snapshot))
}

func (t *HTTPTransport) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (t *HTTPTransport) handleReady(w http.ResponseWriter, r *http.Request) {
	if t.appReady == nil || !t.appReady() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	if t.ping != nil {
		if err := t.ping(r.Context()); err != nil {
			t.logRequestError(r, http.StatusServiceUnavailable, err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "store_unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (t *HTTPTransport) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return core.Validation("body", "is required")
	}
	maxBytes := t.maxBodyBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return core.Validation("body", "exceeds the size limit")
		}
		return core.Validation("body", "malformed JSON: "+err.Error())
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return core.Validation("body", "must contain a single JSON value")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (t *HTTPTransport) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForCode(core.CodeOf(err))
	t.logRequestError(r, status, err)
	writeJSON(w, status, httpErrorResponse{
		Error: err.Error(),
		Code:  string(core.CodeOf(err)),
		Field: core.FieldOf(err),
	})
}

// statusForCode maps error codes to statuses. Conflicts are client errors like validation.
func statusForCode(code core.ErrorCode) int {
	switch code {
	case core.CodeValidation, core.CodeConflict:
		return http.StatusBadRequest
	case core.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (t *HTTPTransport) logRequestError(r *http.Request, status int, err error) {
	if t == nil || t.logger == nil || r == nil || err == nil {
		return
	}
	fields := map[string]any{
		"method":     r.Method,
		"path":       r.URL.Path,
		"status":     status,
		"error":      err.Error(),
		"request_id": middleware.GetReqID(r.Context()),
	}
	if status >= http.StatusInternalServerError {
		t.logger.Error("http request error", fields)
		return
	}
	t.logger.Info("http request error", fields)
}
