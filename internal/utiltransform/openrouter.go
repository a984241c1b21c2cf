package utiltransform

import (
	"context"
	"net/http"
	"strings"

	"github.com/mihaisavezi/claude-code-open/internal/transformer"
	"github.com/mihaisavezi/claude-code-open/internal/unified"
)

// OpenRouter shares deepseek's reasoning→thinking state machine keyed on
// the `reasoning` field instead of `reasoning_content`, and additionally
// strips cache_control from message content when the target model isn't a
// Claude model. Grounded on
// original_source/pyllms/src/transformer/openrouter_transformer.py.
type OpenRouter struct {
	transformer.Base
}

func NewOpenRouter() *OpenRouter {
	return &OpenRouter{Base: transformer.NewBase("openrouter")}
}

func (o *OpenRouter) TransformRequestIn(_ context.Context, req *unified.ChatRequest, _ transformer.ProviderInfo) (*unified.ChatRequest, *transformer.Config, error) {
	if strings.Contains(strings.ToLower(req.Model), "claude") {
		return req, nil, nil
	}
	for i := range req.Messages {
		req.Messages[i].Cache = nil
		if parts, ok := req.Messages[i].Content.([]unified.ContentPart); ok {
			for j := range parts {
				parts[j].CacheControl = nil
			}
			req.Messages[i].Content = parts
		}
	}
	return req, nil, nil
}

func (o *OpenRouter) TransformResponseOut(_ context.Context, resp *http.Response) (*http.Response, error) {
	r := newReasoningRewriter("reasoning")
	return rewriteStream(resp, r.rewriteLine)
}
