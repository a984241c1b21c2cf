package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/mihaisavezi/claude-code-open/internal/apierror"
	"github.com/mihaisavezi/claude-code-open/internal/config"
)

// AuthMiddleware enforces spec §4.3 "Auth filter (J)": on any path other
// than / and /health, if config carries an APIKEY, require the request
// header authorization: Bearer <k> or x-api-key: <k>.
type AuthMiddleware struct {
	config *config.Manager
	logger *slog.Logger
}

func NewAuthMiddleware(cfg *config.Manager, logger *slog.Logger) func(http.Handler) http.Handler {
	am := &AuthMiddleware{config: cfg, logger: logger}
	return am.middleware
}

func (am *AuthMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		cfg := am.config.Get()
		if cfg.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, present := bearerToken(r)
		if !present {
			am.logger.Warn("auth: missing API key", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			apierror.Write(w, http.StatusUnauthorized, apierror.CodeInvalidRequest, "APIKEY is missing")
			return
		}
		if token != cfg.APIKey {
			am.logger.Warn("auth: invalid API key", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			apierror.Write(w, http.StatusUnauthorized, apierror.CodeInvalidRequest, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer "), true
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key, true
	}
	return "", false
}
