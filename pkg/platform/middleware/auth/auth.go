// Package auth is the bearer-token middleware. The external identity
// provider has already authenticated the principal; this layer only
// verifies the token signature and extracts the principal ID. Authorization
// happens downstream in the guard.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/httputil"
	"aegis/pkg/requestcontext"
)

// Validator verifies a bearer token and returns the principal it names.
type Validator interface {
	ValidateToken(tokenString string) (id.PrincipalID, error)
}

// JWTValidator validates HS256-signed tokens whose subject is the
// principal's UUID.
type JWTValidator struct {
	signingKey []byte
}

// NewJWTValidator constructs a validator from the shared signing key.
func NewJWTValidator(signingKey string) *JWTValidator {
	return &JWTValidator{signingKey: []byte(signingKey)}
}

// ValidateToken parses and verifies the token and extracts the principal
// from the subject claim.
func (v *JWTValidator) ValidateToken(tokenString string) (id.PrincipalID, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return id.PrincipalID{}, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return id.PrincipalID{}, errors.New("invalid token")
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return id.PrincipalID{}, fmt.Errorf("subject claim: %w", err)
	}
	return id.ParsePrincipalID(sub)
}

// RequireAuth rejects requests without a valid bearer token and injects the
// authenticated principal into the context.
func RequireAuth(validator Validator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				if logger != nil {
					logger.WarnContext(ctx, "unauthorized access, missing token",
						"request_id", requestcontext.RequestID(ctx),
					)
				}
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}

			principal, err := validator.ValidateToken(token)
			if err != nil {
				if logger != nil {
					logger.WarnContext(ctx, "unauthorized access, invalid token",
						"request_id", requestcontext.RequestID(ctx),
						"error", err,
					)
				}
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithPrincipalID(ctx, principal)))
		})
	}
}
