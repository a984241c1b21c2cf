package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/claude-code-open/internal/config"
	"github.com/mihaisavezi/claude-code-open/internal/dialect/openai"
	"github.com/mihaisavezi/claude-code-open/internal/egress"
	"github.com/mihaisavezi/claude-code-open/internal/pipeline"
	"github.com/mihaisavezi/claude-code-open/internal/provider"
	"github.com/mihaisavezi/claude-code-open/internal/router"
	"github.com/mihaisavezi/claude-code-open/internal/transformer"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, backendURL string) (*Server, *provider.Registry) {
	t.Helper()

	dir := t.TempDir()
	mgr := config.NewManager(dir)
	require.NoError(t, mgr.SaveAsYAML(&config.Config{Host: "127.0.0.1", Port: 0}))
	_, err := mgr.Load()
	_ = err

	reg := provider.NewRegistry()
	require.NoError(t, reg.Register(&provider.Provider{
		Name:    "openrouter",
		BaseURL: backendURL,
		APIKey:  "test-key",
		Models:  []string{"test-model"},
	}))

	transformers := transformer.NewRegistry()
	transformers.Register("openai", openai.New())

	egressClient, err := egress.New("")
	require.NoError(t, err)

	engine := &pipeline.Engine{
		Providers:    reg,
		Egress:       egressClient,
		RouterConfig: router.Config{Default: "openrouter,test-model"},
		Tokenizer:    router.NewTokenizer(),
	}

	return New(mgr, engine, transformers, reg, testLogger()), reg
}

func TestServer_HealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "http://unused")
	handler := srv.setupRoutes()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_WildcardReturns404(t *testing.T) {
	srv, _ := newTestServer(t, "http://unused")
	handler := srv.setupRoutes()

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "route_not_found")
}

func TestServer_AdminProvidersListed(t *testing.T) {
	srv, _ := newTestServer(t, "http://unused")
	handler := srv.setupRoutes()

	req := httptest.NewRequest(http.MethodGet, "/providers", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var out []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Len(t, out, 1)
}

func TestServer_ChatCompletionsEndToEnd(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"hi"}}]}`))
	}))
	defer backend.Close()

	srv, _ := newTestServer(t, backend.URL)
	handler := srv.setupRoutes()

	reqBody := map[string]any{
		"model": "test-model",
		"messages": []map[string]any{
			{"role": "user", "content": "hello"},
		},
	}
	raw, _ := json.Marshal(reqBody)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(raw))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "chatcmpl-1")
}

func TestServer_NoRouteForUnknownModel(t *testing.T) {
	srv, _ := newTestServer(t, "http://unused")
	handler := srv.setupRoutes()

	reqBody := map[string]any{
		"model":    "nonexistent,nonexistent-model",
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
	}
	raw, _ := json.Marshal(reqBody)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(raw))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
