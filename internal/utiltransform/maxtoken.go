package utiltransform

import (
	"context"

	"github.com/mihaisavezi/claude-code-open/internal/transformer"
	"github.com/mihaisavezi/claude-code-open/internal/unified"
)

// MaxToken clamps a request's max_tokens to a configured ceiling. Options:
// {"max_tokens": N}. Grounded on spec §4.7; no example repo implements
// this transformer standalone, the teacher lacks it entirely.
type MaxToken struct {
	transformer.Base
	limit int
}

// NewMaxTokenFactory returns a transformer.Factory suitable for
// Registry.RegisterFactory, since each `use` entry may configure its own
// limit.
func NewMaxTokenFactory() transformer.Factory {
	return func(options map[string]any) transformer.Transformer {
		limit := 0
		if options != nil {
			switch v := options["max_tokens"].(type) {
			case int:
				limit = v
			case float64:
				limit = int(v)
			}
		}
		return &MaxToken{Base: transformer.NewBase("maxtoken"), limit: limit}
	}
}

func (m *MaxToken) TransformRequestIn(_ context.Context, req *unified.ChatRequest, _ transformer.ProviderInfo) (*unified.ChatRequest, *transformer.Config, error) {
	if m.limit <= 0 || req.MaxTokens == nil || *req.MaxTokens <= m.limit {
		return req, nil, nil
	}
	clamped := m.limit
	req.MaxTokens = &clamped
	return req, nil, nil
}
