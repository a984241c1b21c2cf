package utiltransform

import (
	"context"
	"net/http"

	"github.com/mihaisavezi/claude-code-open/internal/transformer"
	"github.com/mihaisavezi/claude-code-open/internal/unified"
)

const deepseekMaxTokens = 8192

// Deepseek clamps max_tokens to DeepSeek's limit and rewrites
// reasoning_content deltas into thinking blocks on the way back. Grounded
// on original_source/pyllms/src/transformer/deepseek_transformer.py.
type Deepseek struct {
	transformer.Base
}

func NewDeepseek() *Deepseek {
	return &Deepseek{Base: transformer.NewBase("deepseek")}
}

func (d *Deepseek) TransformRequestIn(_ context.Context, req *unified.ChatRequest, _ transformer.ProviderInfo) (*unified.ChatRequest, *transformer.Config, error) {
	if req.MaxTokens != nil && *req.MaxTokens > deepseekMaxTokens {
		clamped := deepseekMaxTokens
		req.MaxTokens = &clamped
	}
	return req, nil, nil
}

func (d *Deepseek) TransformResponseOut(_ context.Context, resp *http.Response) (*http.Response, error) {
	r := newReasoningRewriter("reasoning_content")
	return rewriteStream(resp, r.rewriteLine)
}
