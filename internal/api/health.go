package api

import (
	"net/http"
	"time"
)

func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "ok"
	code := http.StatusOK

	if s.ping != nil {
		if err := s.ping(); err != nil {
			checks["database"] = "failed: " + err.Error()
			status = "not_ready"
			code = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}
