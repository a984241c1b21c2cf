package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/claude-code-open/internal/egress"
	"github.com/mihaisavezi/claude-code-open/internal/provider"
	"github.com/mihaisavezi/claude-code-open/internal/router"
	"github.com/mihaisavezi/claude-code-open/internal/transformer"
	"github.com/mihaisavezi/claude-code-open/internal/unified"
)

// fakeEndpoint is a minimal identity endpoint transformer for exercising
// the pipeline engine without a real dialect.
type fakeEndpoint struct {
	transformer.Base
}

func (f *fakeEndpoint) EndPoint() string { return "/v1/fake" }

func (f *fakeEndpoint) TransformRequestOut(_ context.Context, body []byte) (*unified.ChatRequest, *transformer.Config, error) {
	var req unified.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, nil, err
	}
	return &req, nil, nil
}

func (f *fakeEndpoint) TransformResponseIn(_ context.Context, resp *http.Response) (*http.Response, error) {
	return resp, nil
}

// clampTransformer is a stand-in `use`-chain member that clamps max_tokens,
// exercising runRequestChain.
type clampTransformer struct {
	transformer.Base
}

func (c *clampTransformer) TransformRequestIn(_ context.Context, req *unified.ChatRequest, _ transformer.ProviderInfo) (*unified.ChatRequest, *transformer.Config, error) {
	limit := 10
	req.MaxTokens = &limit
	return req, nil, nil
}

func TestHandleRunsFullChainAndReturns200(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"1","choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	providers := provider.NewRegistry()
	require.NoError(t, providers.Register(&provider.Provider{
		Name:    "openai",
		BaseURL: srv.URL,
		APIKey:  "sk-test",
		Models:  []string{"gpt-4o"},
		Use:     []transformer.Transformer{&clampTransformer{Base: transformer.NewBase("clamp")}},
	}))

	egressClient, err := egress.New("")
	require.NoError(t, err)

	engine := &Engine{
		Providers:    providers,
		Egress:       egressClient,
		RouterConfig: router.Config{Default: "openai,gpt-4o"},
		Tokenizer:    router.NewTokenizer(),
	}

	endpoint := &fakeEndpoint{Base: transformer.NewBase("fake")}
	body := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}],"max_tokens":9999}`)

	resp, err := engine.Handle(context.Background(), endpoint, body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, gotBody, `"max_tokens":10`)
}

func TestHandleUnknownModelReturnsError(t *testing.T) {
	providers := provider.NewRegistry()
	egressClient, _ := egress.New("")
	engine := &Engine{
		Providers:    providers,
		Egress:       egressClient,
		RouterConfig: router.Config{Default: "openai,gpt-4o"},
		Tokenizer:    router.NewTokenizer(),
	}
	endpoint := &fakeEndpoint{Base: transformer.NewBase("fake")}
	body := []byte(`{"model":"gpt-4o","messages":[]}`)

	_, err := engine.Handle(context.Background(), endpoint, body)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoProvider)
}
