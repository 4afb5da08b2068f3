package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/brightpath/compliance-core/internal/auth"
	"github.com/brightpath/compliance-core/internal/middleware"
)

func (s *Server) EnforceRetention(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLoggerFromContext(r.Context())

	summary, err := s.scheduler.EnforceRetentionPolicies(r.Context())
	if err != nil {
		logger.Error("retention enforcement failed", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "retention enforcement failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"policies_scanned": summary.PoliciesScanned,
		"expired_counts":   summary.ExpiredCounts,
		"scheduled":        summary.Scheduled,
	})
}

func (s *Server) ExecuteDeletions(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLoggerFromContext(r.Context())

	summary, err := s.scheduler.ExecuteScheduledDeletions(r.Context())
	if err != nil {
		logger.Error("deletion execution failed", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "deletion execution failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"processed":     summary.Processed,
		"completed":     summary.Completed,
		"failed":        summary.Failed,
		"items_deleted": summary.ItemsDeleted,
	})
}

func (s *Server) ExportSubject(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLoggerFromContext(r.Context())

	subjectID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "invalid subject id")
		return
	}

	requestedBy, ok := auth.GetActorID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeAuthRequired, "actor identity missing")
		return
	}

	bundle, err := s.scheduler.ExportUserData(r.Context(), subjectID, requestedBy, nil, "")
	if err != nil {
		logger.Error("subject export failed", "subject_id", subjectID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "subject export failed")
		return
	}

	writeJSON(w, http.StatusOK, bundle)
}
