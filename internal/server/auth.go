package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"forgegate/internal/domain"
	"forgegate/internal/ratelimit"
)

const (
	mintMinTTL     = 60
	mintMaxTTL     = 3600
	mintDefaultTTL = 900
)

type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
	APIKey    string
}

// Principal is the typed claims structure the middleware attaches to the
// request context. Handlers never see an untyped claims bag.
type Principal struct {
	Sub       string
	Role      string
	ProjectID string
	SessionID string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

type accessClaims struct {
	jwt.RegisteredClaims
	Role      string `json:"role"`
	ProjectID string `json:"project_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func validRole(role string) bool {
	switch role {
	case domain.RoleAdmin, domain.RoleRunner, domain.RoleUser:
		return true
	}
	return false
}

// MintToken exchanges the shared API key for a short-lived scoped access
// token. The compare is constant-time; a mismatch leaves no trace beyond the
// response.
func (c AuthConfig) MintToken(apiKey, role, projectID, sessionID, subjectOverride string, ttlSeconds int, now time.Time) (string, int, error) {
	if subtle.ConstantTimeCompare([]byte(apiKey), []byte(c.APIKey)) != 1 {
		return "", 0, errInvalidAPIKey
	}
	if !validRole(role) {
		return "", 0, fmt.Errorf("unknown role %q", role)
	}
	if ttlSeconds == 0 {
		ttlSeconds = mintDefaultTTL
	}
	if ttlSeconds < mintMinTTL {
		ttlSeconds = mintMinTTL
	}
	if ttlSeconds > mintMaxTTL {
		ttlSeconds = mintMaxTTL
	}
	sub := subjectOverride
	if sub == "" {
		sub = "svc:" + role
	}
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    c.Issuer,
			Audience:  jwt.ClaimStrings{c.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlSeconds) * time.Second)),
		},
		Role:      role,
		ProjectID: projectID,
		SessionID: sessionID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.JWTSecret))
	if err != nil {
		return "", 0, err
	}
	return signed, ttlSeconds, nil
}

var errInvalidAPIKey = errors.New("invalid api key")

func (c AuthConfig) authenticate(token string) (Principal, error) {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if c.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.Issuer))
	}
	if c.Audience != "" {
		opts = append(opts, jwt.WithAudience(c.Audience))
	}
	parser := jwt.NewParser(opts...)
	claims := &accessClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(c.JWTSecret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	if !validRole(claims.Role) {
		return Principal{}, errors.New("role claim required")
	}
	return Principal{
		Sub:       claims.Subject,
		Role:      claims.Role,
		ProjectID: claims.ProjectID,
		SessionID: claims.SessionID,
	}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// sessionIDFromPath extracts the session segment from a session-scoped path,
// returning "" for paths outside the sessions tree.
func sessionIDFromPath(basePath, reqPath string) string {
	rest := strings.TrimPrefix(reqPath, basePath)
	rest = strings.TrimPrefix(rest, "/")
	parts := strings.Split(rest, "/")
	if len(parts) >= 2 && parts[0] == "sessions" && parts[1] != "" {
		return parts[1]
	}
	return ""
}

// newAuthMiddleware verifies the bearer token, applies the per-subject rate
// limit, and enforces session-scope matching between token claims and the
// request path. The scope check runs before any handler or storage access so
// a scoped token can never probe another session's resources.
func newAuthMiddleware(basePath string, cfg AuthConfig, limiter ratelimit.Limiter, limit int) func(http.Handler) http.Handler {
	healthPath := path.Join(basePath, "health")
	mintPath := path.Join(basePath, "auth/token")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if req.URL.Path == healthPath {
				next.ServeHTTP(w, req)
				return
			}
			if req.URL.Path == mintPath {
				// Minting is authenticated by API key; rate limit by address.
				if !allow(limiter, clientAddr(req), limit) {
					respondStatusError(w, newAPIError(http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", nil))
					return
				}
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			if authz == "" {
				if !allow(limiter, clientAddr(req), limit) {
					respondStatusError(w, newAPIError(http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", nil))
					return
				}
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			token, ok := bearerToken(authz)
			if !ok {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "invalid credentials", nil))
				return
			}
			principal, err := cfg.authenticate(token)
			if err != nil {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "invalid credentials", nil))
				return
			}
			if !allow(limiter, principal.Sub, limit) {
				respondStatusError(w, newAPIError(http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", nil))
				return
			}
			if principal.SessionID != "" {
				if pathSession := sessionIDFromPath(basePath, req.URL.Path); pathSession != "" && pathSession != principal.SessionID {
					respondStatusError(w, newAPIError(http.StatusForbidden, "session_scope_mismatch", "token is not valid for this session", nil))
					return
				}
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
		})
	}
}

func allow(limiter ratelimit.Limiter, key string, limit int) bool {
	if limiter == nil {
		return true
	}
	return limiter.Allow(key, limit).Allowed
}

func clientAddr(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

// requireRole resolves the principal and checks role membership.
func requireRole(ctx context.Context, roles ...string) (Principal, huma.StatusError) {
	p, ok := principalFromContext(ctx)
	if !ok {
		return Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	}
	if len(roles) == 0 {
		return p, nil
	}
	for _, r := range roles {
		if p.Role == r {
			return p, nil
		}
	}
	return Principal{}, newAPIError(http.StatusForbidden, "forbidden", fmt.Sprintf("role %s is not permitted", p.Role), map[string]any{"role": p.Role})
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
