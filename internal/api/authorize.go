package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/brightpath/compliance-core/internal/compliance"
	"github.com/brightpath/compliance-core/internal/middleware"
	"github.com/brightpath/compliance-core/internal/orchestrator"
	"github.com/brightpath/compliance-core/internal/rbac"
)

type authorizeRequest struct {
	ActorID    uuid.UUID  `json:"actor_id"`
	Permission string     `json:"permission"`
	ResourceID *uuid.UUID `json:"resource_id,omitempty"`
	StudentID  *uuid.UUID `json:"student_id,omitempty"`
	DataType   string     `json:"data_type,omitempty"`
	SessionID  string     `json:"session_id,omitempty"`
}

type authorizeResponse struct {
	Allowed         bool   `json:"allowed"`
	Reason          string `json:"reason,omitempty"`
	RequiresConsent bool   `json:"requires_consent"`
	FERPARelevant   bool   `json:"ferpa_relevant"`
	COPPARelevant   bool   `json:"coppa_relevant"`
	AuditEventID    string `json:"audit_event_id"`
}

func (s *Server) Authorize(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLoggerFromContext(r.Context())

	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "invalid request body")
		return
	}
	if req.ActorID == uuid.Nil || req.Permission == "" {
		writeError(w, http.StatusBadRequest, CodeValidationError, "actor_id and permission are required")
		return
	}

	decision, err := s.orchestrator.Authorize(r.Context(), orchestrator.AuthorizeRequest{
		ActorID:    req.ActorID,
		Permission: rbac.Permission(req.Permission),
		ResourceID: req.ResourceID,
		StudentID:  req.StudentID,
		DataType:   compliance.DataType(req.DataType),
		SessionID:  req.SessionID,
	})
	if err != nil {
		logger.Error("authorize failed", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "authorization check failed")
		return
	}

	writeJSON(w, http.StatusOK, authorizeResponse{
		Allowed:         decision.Allowed,
		Reason:          decision.Reason,
		RequiresConsent: decision.RequiresConsent,
		FERPARelevant:   decision.FERPARelevant,
		COPPARelevant:   decision.COPPARelevant,
		AuditEventID:    decision.AuditEventID.String(),
	})
}
