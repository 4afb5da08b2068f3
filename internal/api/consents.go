package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/brightpath/compliance-core/internal/auth"
	"github.com/brightpath/compliance-core/internal/compliance"
	"github.com/brightpath/compliance-core/internal/middleware"
)

type consentRequest struct {
	SubjectID          uuid.UUID  `json:"subject_id"`
	ConsentType        string     `json:"consent_type"`
	LegalBasis         string     `json:"legal_basis,omitempty"`
	DataCategories     []string   `json:"data_categories,omitempty"`
	VerificationMethod string     `json:"verification_method,omitempty"`
	ExpirationDate     *time.Time `json:"expiration_date,omitempty"`
}

type consentResponse struct {
	ID          string     `json:"id"`
	SubjectID   string     `json:"subject_id"`
	ConsentType string     `json:"consent_type"`
	Status      string     `json:"status"`
	GrantedDate *time.Time `json:"granted_date,omitempty"`
}

func (s *Server) RecordConsent(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLoggerFromContext(r.Context())

	var req consentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "invalid request body")
		return
	}
	if req.SubjectID == uuid.Nil || req.ConsentType == "" {
		writeError(w, http.StatusBadRequest, CodeValidationError, "subject_id and consent_type are required")
		return
	}

	grantedBy, ok := auth.GetActorID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeAuthRequired, "actor identity missing")
		return
	}

	now := time.Now()
	rec, err := s.gate.RecordConsent(r.Context(), compliance.ConsentRecord{
		SubjectID:          req.SubjectID,
		GrantedBy:          grantedBy,
		ConsentType:        compliance.ConsentType(req.ConsentType),
		Status:             compliance.ConsentGranted,
		LegalBasis:         req.LegalBasis,
		DataCategories:     req.DataCategories,
		VerificationMethod: req.VerificationMethod,
		GrantedDate:        &now,
		ExpirationDate:     req.ExpirationDate,
	})
	if err != nil {
		logger.Error("record consent failed", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "failed to record consent")
		return
	}

	writeJSON(w, http.StatusCreated, consentResponse{
		ID:          rec.ID.String(),
		SubjectID:   rec.SubjectID.String(),
		ConsentType: string(rec.ConsentType),
		Status:      string(rec.Status),
		GrantedDate: rec.GrantedDate,
	})
}

func (s *Server) RevokeConsent(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLoggerFromContext(r.Context())

	consentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "invalid consent id")
		return
	}

	revokedBy, ok := auth.GetActorID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeAuthRequired, "actor identity missing")
		return
	}

	if err := s.gate.RevokeConsent(r.Context(), consentID, revokedBy); err != nil {
		if errors.Is(err, compliance.ErrConsentNotFound) {
			writeError(w, http.StatusNotFound, CodeResourceNotFound, "consent record not found")
			return
		}
		logger.Error("revoke consent failed", "consent_id", consentID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "failed to revoke consent")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
