package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Middleware authenticates HTTP requests and stores the resulting principal
// in the request context.
type Middleware struct {
	verifier TokenVerifier
	logger   *zap.Logger
}

// NewMiddleware creates an auth middleware on top of a token verifier.
func NewMiddleware(verifier TokenVerifier, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{verifier: verifier, logger: logger.Named("auth")}
}

// RequireAuth validates the bearer token and injects the principal.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := m.authenticate(w, r)
		if !ok {
			return
		}
		next(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	}
}

// RequireAdmin validates the bearer token and additionally requires the
// admin role.
func (m *Middleware) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := m.authenticate(w, r)
		if !ok {
			return
		}
		if !principal.IsAdmin() {
			m.logger.Warn("Non-admin attempted to access admin endpoint",
				zap.String("subject", principal.Subject),
				zap.String("path", r.URL.Path))
			m.forbidden(w, "Admin role required")
			return
		}
		next(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	}
}

func (m *Middleware) authenticate(w http.ResponseWriter, r *http.Request) (*Principal, bool) {
	token, ok := bearerToken(r)
	if !ok {
		m.unauthorized(w, "Authentication required")
		return nil, false
	}

	claims, err := m.verifier.ValidateToken(token)
	if err != nil {
		m.logger.Debug("Token validation failed", zap.Error(err))
		m.unauthorized(w, "Invalid token")
		return nil, false
	}
	return claims.Principal(), true
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return token, token != ""
}

func (m *Middleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": message,
	})
}

func (m *Middleware) forbidden(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "forbidden",
		"message": message,
	})
}
