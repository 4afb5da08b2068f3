package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/brightpath/compliance-core/internal/audit"
	"github.com/brightpath/compliance-core/internal/middleware"
)

type auditEventResponse struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	Category      string         `json:"category"`
	Severity      string         `json:"severity"`
	Status        string         `json:"status"`
	ActorID       string         `json:"actor_id"`
	ActorRole     string         `json:"actor_role,omitempty"`
	Action        string         `json:"action"`
	Resource      string         `json:"resource,omitempty"`
	ResourceID    *uuid.UUID     `json:"resource_id,omitempty"`
	FERPARelevant bool           `json:"ferpa_relevant"`
	COPPARelevant bool           `json:"coppa_relevant"`
	PIIAccessed   bool           `json:"pii_accessed"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

func (s *Server) QueryAuditEvents(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLoggerFromContext(r.Context())
	q := r.URL.Query()

	filter := audit.QueryFilter{
		Category: audit.Category(q.Get("category")),
		Severity: audit.Severity(q.Get("severity")),
		Status:   audit.Status(q.Get("status")),
	}
	if v := q.Get("actor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeValidationError, "invalid actor_id")
			return
		}
		filter.ActorID = &id
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeValidationError, "invalid since timestamp")
			return
		}
		filter.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeValidationError, "invalid until timestamp")
			return
		}
		filter.Until = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, CodeValidationError, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, CodeValidationError, "invalid offset")
			return
		}
		filter.Offset = n
	}

	events, err := s.audit.Query(r.Context(), filter)
	if err != nil {
		logger.Error("audit query failed", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "failed to query audit events")
		return
	}

	out := make([]auditEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, auditEventResponse{
			ID:            e.ID.String(),
			Timestamp:     e.Timestamp,
			Category:      string(e.Category),
			Severity:      string(e.Severity),
			Status:        string(e.Status),
			ActorID:       e.ActorID.String(),
			ActorRole:     e.ActorRole,
			Action:        e.Action,
			Resource:      e.Resource,
			ResourceID:    e.ResourceID,
			FERPARelevant: e.FERPARelevant,
			COPPARelevant: e.COPPARelevant,
			PIIAccessed:   e.PIIAccessed,
			Metadata:      e.Metadata,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out, "count": len(out)})
}

func (s *Server) VerifyAuditLog(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLoggerFromContext(r.Context())

	report, err := s.audit.DetectTampering(r.Context())
	if err != nil {
		logger.Error("tamper scan failed", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "tamper scan failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tampered":       report.Tampered,
		"scanned":        report.Scanned,
		"suspicious_ids": report.SuspiciousIDs,
		"findings":       report.Findings,
	})
}
