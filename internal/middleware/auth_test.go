package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/claude-code-open/internal/config"
)

func newTestManager(t *testing.T, apiKey string) *config.Manager {
	t.Helper()
	dir := t.TempDir()
	mgr := config.NewManager(dir)
	require.NoError(t, mgr.SaveAsYAML(&config.Config{APIKey: apiKey}))
	return mgr
}

func newAuthHandler(mgr *config.Manager) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mw := NewAuthMiddleware(mgr, logger)
	return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestAuthMiddleware_MissingAPIKeyRejected(t *testing.T) {
	handler := newAuthHandler(newTestManager(t, "secret"))

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "APIKEY is missing")
}

func TestAuthMiddleware_WrongAPIKeyRejected(t *testing.T) {
	handler := newAuthHandler(newTestManager(t, "secret"))

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid API key")
}

func TestAuthMiddleware_CorrectBearerAccepted(t *testing.T) {
	handler := newAuthHandler(newTestManager(t, "secret"))

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware_XAPIKeyHeaderAccepted(t *testing.T) {
	handler := newAuthHandler(newTestManager(t, "secret"))

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	req.Header.Set("X-API-Key", "secret")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware_HealthAndRootBypassAuth(t *testing.T) {
	handler := newAuthHandler(newTestManager(t, "secret"))

	for _, path := range []string{"/", "/health"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, "path %s should bypass auth", path)
	}
}

func TestAuthMiddleware_NoAPIKeyConfiguredAllowsAll(t *testing.T) {
	handler := newAuthHandler(newTestManager(t, ""))

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
