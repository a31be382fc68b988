// Package auth authenticates API callers with EdDSA-signed JWTs and
// carries the principal, request id and CORS policy through requests.
package auth

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/verifiquant/pkg/api"
)

// Issuer is the iss claim of tokens minted for the API.
const Issuer = "verifiquant"

// Claims are the JWT claims the API expects.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

// JWTValidator validates tokens against a KeySet.
type JWTValidator struct {
	KeySet KeySet
}

func NewJWTValidator(ks KeySet) *JWTValidator {
	if ks == nil {
		return nil
	}
	return &JWTValidator{KeySet: ks}
}

func (v *JWTValidator) Validate(tokenStr string) (*Claims, error) {
	if v == nil || v.KeySet == nil {
		return nil, errors.New("validator uninitialized")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, v.KeySet.KeyFunc(),
		jwt.WithIssuer(Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// IssueToken mints a token for subject.
func IssueToken(ks KeySet, subject string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	return ks.Sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles: roles,
	})
}

var publicPaths = map[string]bool{
	"/health":      true,
	"/api/domains": true,
}

// NewMiddleware rejects non-public requests without a valid bearer token.
// A nil validator disables authentication entirely.
func NewMiddleware(validator *JWTValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if validator == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				api.WriteProblem(w, r, http.StatusUnauthorized, "Missing Authorization header")
				return
			}
			scheme, tokenStr, ok := strings.Cut(header, " ")
			if !ok || scheme != "Bearer" {
				api.WriteProblem(w, r, http.StatusUnauthorized, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}

			claims, err := validator.Validate(tokenStr)
			if err != nil {
				api.WriteProblem(w, r, http.StatusUnauthorized, "Invalid or expired token")
				return
			}
			if claims.Subject == "" {
				api.WriteProblem(w, r, http.StatusUnauthorized, "Token subject is required")
				return
			}

			ctx := WithPrincipal(r.Context(), &Principal{ID: claims.Subject, Roles: claims.Roles})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole returns 403 unless the principal carries role. Requests
// without a principal pass: authentication is then disabled.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p, err := GetPrincipal(r.Context()); err == nil && !p.HasRole(role) {
				api.WriteProblem(w, r, http.StatusForbidden, fmt.Sprintf("role %q required", role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ActorKey keys rate limiting by principal, falling back to the remote IP.
func ActorKey(r *http.Request) string {
	if p, err := GetPrincipal(r.Context()); err == nil {
		return "principal:" + p.ID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = strings.Trim(r.RemoteAddr, "[]")
	}
	return "ip:" + host
}
