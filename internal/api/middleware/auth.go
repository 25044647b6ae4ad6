package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"safereport/internal/config"
)

// ContextKey is a type for context keys
type ContextKey string

const (
	// ContextKeyAuthority is the context key for the authenticated authority
	ContextKeyAuthority ContextKey = "authority"
)

// RoleAuthority is the only role allowed to read and triage reports
const RoleAuthority = "authority"

// AuthorityClaims are the claims carried by an authority bearer token
type AuthorityClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 authority token valid for ttl
func IssueToken(cfg config.JWTConfig, subject string, ttl time.Duration) (string, error) {
	if cfg.Secret == "" {
		return "", errors.New("jwt secret is not configured")
	}
	now := time.Now()
	claims := &AuthorityClaims{
		Role: RoleAuthority,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
}

// ParseToken validates a token and returns its claims
func ParseToken(cfg config.JWTConfig, tokenString string) (*AuthorityClaims, error) {
	claims := &AuthorityClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if cfg.Issuer != "" && !claims.VerifyIssuer(cfg.Issuer, true) {
		return nil, errors.New("unexpected token issuer")
	}
	if claims.Role != RoleAuthority {
		return nil, errors.New("token does not carry the authority role")
	}
	return claims, nil
}

// AuthorityAuth returns middleware that requires a valid authority bearer token
func AuthorityAuth(cfg config.JWTConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip auth for OPTIONS requests (CORS preflight)
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
				unauthorized(w, "invalid authorization header format")
				return
			}

			claims, err := ParseToken(cfg, parts[1])
			if err != nil {
				unauthorized(w, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyAuthority, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAuthority returns the authenticated authority subject from context
func GetAuthority(ctx context.Context) string {
	if sub, ok := ctx.Value(ContextKeyAuthority).(string); ok {
		return sub
	}
	return ""
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="safereport"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message, "code": "unauthorized"})
}
