package utiltransform

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/mihaisavezi/claude-code-open/internal/transformer"
	"github.com/mihaisavezi/claude-code-open/internal/unified"
)

// Groq strips cache_control and the JSON-Schema `$schema` key Groq's
// backend rejects, and on the way back assigns every tool call a fresh
// call_<uuid> id, bumping the choice index by one once any tool call
// follows text output. Grounded on
// original_source/pyllms/src/transformer/groq_transformer.py.
type Groq struct {
	transformer.Base
}

func NewGroq() *Groq {
	return &Groq{Base: transformer.NewBase("groq")}
}

func (g *Groq) TransformRequestIn(_ context.Context, req *unified.ChatRequest, _ transformer.ProviderInfo) (*unified.ChatRequest, *transformer.Config, error) {
	for i := range req.Messages {
		req.Messages[i].Cache = nil
		if parts, ok := req.Messages[i].Content.([]unified.ContentPart); ok {
			for j := range parts {
				parts[j].CacheControl = nil
			}
			req.Messages[i].Content = parts
		}
	}
	for i := range req.Tools {
		params := req.Tools[i].Function.Parameters
		if len(params) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(params, &m); err != nil {
			continue
		}
		delete(m, "$schema")
		if b, err := json.Marshal(m); err == nil {
			req.Tools[i].Function.Parameters = b
		}
	}
	return req, nil, nil
}

func (g *Groq) TransformResponseOut(_ context.Context, resp *http.Response) (*http.Response, error) {
	hasText := false
	return rewriteStream(resp, func(line string) []string {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "data:") || trimmed == "data: [DONE]" {
			return []string{line}
		}
		payload := strings.TrimSpace(strings.TrimPrefix(trimmed, "data:"))

		var raw map[string]any
		if err := json.Unmarshal([]byte(payload), &raw); err != nil {
			return []string{line}
		}
		choices, _ := raw["choices"].([]any)
		if len(choices) == 0 {
			return []string{line}
		}
		choice0, _ := choices[0].(map[string]any)
		if choice0 == nil {
			return []string{line}
		}
		delta, _ := choice0["delta"].(map[string]any)
		if delta == nil {
			return []string{line}
		}

		if content, ok := delta["content"].(string); ok && content != "" {
			hasText = true
		}

		if toolCalls, ok := delta["tool_calls"].([]any); ok && len(toolCalls) > 0 {
			for _, tc := range toolCalls {
				tcMap, ok := tc.(map[string]any)
				if !ok {
					continue
				}
				tcMap["id"] = "call_" + uuid.NewString()
			}
			if hasText {
				if idx, ok := choice0["index"].(float64); ok {
					choice0["index"] = idx + 1
				} else {
					choice0["index"] = 1
				}
			}
		}

		return []string{renderChunk(raw, choice0, delta)}
	})
}
