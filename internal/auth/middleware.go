package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const (
	ActorIDKey contextKey = "actor_id"
	ServiceKey contextKey = "service"
)

// Middleware rejects requests without a valid bearer token and stashes the
// acting user and calling service on the request context.
func (s *JWTService) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			http.Error(w, "missing or malformed authorization header", http.StatusUnauthorized)
			return
		}

		claims, err := s.ValidateToken(r.Context(), strings.TrimPrefix(authHeader, bearerPrefix))
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ActorIDKey, claims.ActorID)
		ctx = context.WithValue(ctx, ServiceKey, claims.Service)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetActorID(ctx context.Context) (uuid.UUID, bool) {
	actorID, ok := ctx.Value(ActorIDKey).(uuid.UUID)
	return actorID, ok
}

func GetService(ctx context.Context) (string, bool) {
	service, ok := ctx.Value(ServiceKey).(string)
	return service, ok
}
