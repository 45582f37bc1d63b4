package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/redactai/redactai/internal/audit"
	"github.com/redactai/redactai/internal/engine"
	"github.com/redactai/redactai/internal/notify"
	"github.com/redactai/redactai/internal/redact"
	"github.com/redactai/redactai/internal/safety"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintln(w, "ok")
}

// handleReady fails when the audit store is unreachable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		redact.Logf("server: readiness check failed: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "classifier": s.mode})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "classifier": s.mode})
}

type analyzeRequest struct {
	Text          string `json:"text"`
	Platform      string `json:"platform,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type analyzeResponse struct {
	*safety.RiskAssessment
	RecordID     string `json:"record_id,omitempty"`
	Deduplicated bool   `json:"deduplicated,omitempty"`
	AuditError   string `json:"audit_error,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	var req analyzeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	platform := detectPlatform(req.Platform, r.Header.Get("Referer"))

	a, err := s.engine.Assess(r.Context(), req.Text, engine.Context{UserID: user.ID, Platform: platform})
	if err != nil {
		if engine.IsValidation(err) {
			writeAPIError(w, http.StatusBadRequest, err.Error(), "validation_error")
			return
		}
		redact.Logf("server: assessment failed for user=%s: %v", user.ID, err)
		writeAPIError(w, http.StatusServiceUnavailable, "Analysis unavailable; treat the text as not safe", "analysis_unavailable")
		return
	}

	resp := analyzeResponse{RiskAssessment: a}
	res, err := s.store.Record(r.Context(), audit.Scan{
		UserID:           user.ID,
		Platform:         platform,
		Text:             req.Text,
		CorrelationToken: req.CorrelationID,
		Assessment:       a,
	})
	if err != nil {
		redact.Logf("server: audit record failed for user=%s decision=%s: %v", user.ID, a.Decision, err)
		resp.AuditError = "persistence_failed"
	} else {
		resp.RecordID = res.Record.ID
		resp.Deduplicated = res.Deduplicated
		if res.Deduplicated {
			// The stored assessment wins so retries see one consistent answer.
			resp.RiskAssessment = res.Record.Assessment()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type actionRequest struct {
	Action string `json:"action"`
}

type actionResponse struct {
	RecordID     string           `json:"record_id"`
	UserAction   audit.UserAction `json:"user_action"`
	Changed      bool             `json:"changed"`
	Notification notify.Outcome   `json:"notification"`
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	id := r.PathValue("id")

	var req actionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	action, err := audit.ParseAction(req.Action)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}

	tr, err := s.store.Transition(r.Context(), user.ID, id, action)
	switch {
	case errors.Is(err, audit.ErrNotFound):
		writeAPIError(w, http.StatusNotFound, "Scan record not found", "not_found")
		return
	case errors.Is(err, audit.ErrConflict):
		writeAPIError(w, http.StatusConflict, err.Error(), "conflict")
		return
	case err != nil:
		redact.Logf("server: transition failed for record=%s: %v", id, err)
		writeAPIError(w, http.StatusInternalServerError, "Could not record the action", "persistence_error")
		return
	}

	outcome, err := s.trigger.Fire(r.Context(), tr, notify.Recipient{
		UserEmail:         user.Email,
		NotificationEmail: user.NotificationEmail,
	})
	if err != nil {
		redact.Logf("notify: incident for record=%s not queued: %v", id, err)
	}
	s.tel.RecordNotification(r.Context(), "trigger", string(outcome))

	writeJSON(w, http.StatusOK, actionResponse{
		RecordID:     tr.Record.ID,
		UserAction:   tr.Record.UserAction,
		Changed:      tr.Changed,
		Notification: outcome,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	limit := s.cfg.Audit.HistoryLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeAPIError(w, http.StatusBadRequest, "limit must be a positive integer", "validation_error")
			return
		}
		limit = n
	}
	recs, err := s.store.History(r.Context(), user.ID, limit)
	if err != nil {
		redact.Logf("server: history failed for user=%s: %v", user.ID, err)
		writeAPIError(w, http.StatusInternalServerError, "Could not load history", "persistence_error")
		return
	}
	if recs == nil {
		recs = []audit.ScanRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"scans": recs})
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	rec, err := s.store.Get(r.Context(), user.ID, r.PathValue("id"))
	switch {
	case errors.Is(err, audit.ErrNotFound):
		writeAPIError(w, http.StatusNotFound, "Scan record not found", "not_found")
		return
	case err != nil:
		redact.Logf("server: get failed: %v", err)
		writeAPIError(w, http.StatusInternalServerError, "Could not load scan", "persistence_error")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// decodeBody writes the error response itself and reports whether to go on.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeAPIError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit), "request_too_large")
			return false
		}
		writeAPIError(w, http.StatusBadRequest, "Invalid JSON body", "validation_error")
		return false
	}
	return true
}
