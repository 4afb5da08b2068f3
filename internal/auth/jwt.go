// Package auth verifies the service tokens upstream platform services present
// when calling the compliance API. Tokens identify a calling service and the
// acting user; end-user login lives elsewhere in the platform.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

type JWTService struct {
	signingKey jwk.Key
	issuer     string
	expiry     time.Duration
}

type TokenClaims struct {
	ActorID uuid.UUID `json:"actor_id"`
	Service string    `json:"service"`
}

func NewJWTService(signingKey []byte, issuer string, expiry time.Duration) (*JWTService, error) {
	key, err := jwk.FromRaw(signingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWK: %w", err)
	}

	if err := key.Set(jwk.AlgorithmKey, jwa.HS256); err != nil {
		return nil, fmt.Errorf("failed to set algorithm: %w", err)
	}

	return &JWTService{
		signingKey: key,
		issuer:     issuer,
		expiry:     expiry,
	}, nil
}

func (s *JWTService) GenerateToken(ctx context.Context, actorID uuid.UUID, service string) (string, error) {
	now := time.Now()

	token, err := jwt.NewBuilder().
		Issuer(s.issuer).
		Subject(actorID.String()).
		IssuedAt(now).
		Expiration(now.Add(s.expiry)).
		Claim("actor_id", actorID.String()).
		Claim("service", service).
		Build()
	if err != nil {
		return "", fmt.Errorf("failed to build token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, s.signingKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return string(signed), nil
}

func (s *JWTService) ValidateToken(ctx context.Context, tokenString string) (*TokenClaims, error) {
	parsedToken, err := jwt.Parse([]byte(tokenString), jwt.WithKey(jwa.HS256, s.signingKey), jwt.WithIssuer(s.issuer))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if err := jwt.Validate(parsedToken); err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	actorIDStr, ok := parsedToken.Get("actor_id")
	if !ok {
		return nil, fmt.Errorf("actor_id claim not found")
	}

	actorID, err := uuid.Parse(actorIDStr.(string))
	if err != nil {
		return nil, fmt.Errorf("invalid actor_id format: %w", err)
	}

	claims := &TokenClaims{ActorID: actorID}
	if svc, ok := parsedToken.Get("service"); ok {
		if s, ok := svc.(string); ok {
			claims.Service = s
		}
	}
	return claims, nil
}
