// Package auth resolves the acting user from an optional bearer token.
//
// Audit reads and ingestion are open to anonymous callers; when a token is
// present it must be valid, and its subject becomes the audit actor.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"auditlog/pkg/platform/audit"
	"auditlog/pkg/requestcontext"
)

// ErrInvalidToken is returned for malformed, expired or wrongly signed tokens.
var ErrInvalidToken = errors.New("invalid token")

// Claims carries the actor in the token subject plus an optional display name.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// TokenValidator validates a raw bearer token.
type TokenValidator interface {
	ValidateToken(token string) (*Claims, error)
}

// HMACValidator validates and issues HS256 tokens.
type HMACValidator struct {
	key    []byte
	issuer string
}

// NewHMACValidator builds a validator for tokens signed with key. An empty
// issuer accepts any issuer.
func NewHMACValidator(key, issuer string) *HMACValidator {
	return &HMACValidator{key: []byte(key), issuer: issuer}
}

// Issue signs a token naming actor, valid for ttl.
func (v *HMACValidator) Issue(actor audit.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Name: actor.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(v.key)
}

func (v *HMACValidator) ValidateToken(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (any, error) {
		return v.key, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token has expired", ErrInvalidToken)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// Actor attaches the token's actor to the request context. Requests without
// an Authorization header pass through anonymously; a header that is not a
// valid bearer token is rejected with 401.
func Actor(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				logger.WarnContext(ctx, "unauthorized access - malformed authorization header",
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}
			claims, err := validator.ValidateToken(strings.TrimSpace(token))
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			ctx = requestcontext.WithActor(ctx, &audit.Actor{ID: claims.Subject, Name: claims.Name})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
