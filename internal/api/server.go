// Package api exposes the compliance core over HTTP for the rest of the
// platform. All routes except the health check require a service token.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/brightpath/compliance-core/internal/audit"
	"github.com/brightpath/compliance-core/internal/auth"
	"github.com/brightpath/compliance-core/internal/compliance"
	"github.com/brightpath/compliance-core/internal/config"
	"github.com/brightpath/compliance-core/internal/middleware"
	"github.com/brightpath/compliance-core/internal/orchestrator"
	"github.com/brightpath/compliance-core/internal/retention"
)

type Server struct {
	orchestrator *orchestrator.Orchestrator
	gate         *compliance.Gate
	audit        *audit.Log
	scheduler    *retention.Scheduler
	jwtService   *auth.JWTService
	ping         func() error
}

func NewServer(
	orch *orchestrator.Orchestrator,
	gate *compliance.Gate,
	auditLog *audit.Log,
	scheduler *retention.Scheduler,
	jwtService *auth.JWTService,
	ping func() error,
) *Server {
	return &Server{
		orchestrator: orch,
		gate:         gate,
		audit:        auditLog,
		scheduler:    scheduler,
		jwtService:   jwtService,
		ping:         ping,
	}
}

func (s *Server) Router(corsCfg *config.CORSConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.NewCORSHandler(corsCfg))

	r.Get("/health", s.HealthCheck)

	r.Group(func(r chi.Router) {
		r.Use(s.jwtService.Middleware)
		r.Use(middleware.RequestContext)
		r.Use(middleware.LoggingMiddleware)

		r.Post("/v1/authorize", s.Authorize)
		r.Post("/v1/consents", s.RecordConsent)
		r.Post("/v1/consents/{id}/revoke", s.RevokeConsent)
		r.Get("/v1/audit/events", s.QueryAuditEvents)
		r.Post("/v1/audit/verify", s.VerifyAuditLog)
		r.Post("/v1/retention/enforce", s.EnforceRetention)
		r.Post("/v1/retention/execute", s.ExecuteDeletions)
		r.Post("/v1/subjects/{id}/export", s.ExportSubject)
	})

	return r
}
