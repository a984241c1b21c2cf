// Package openai implements the OpenAI Chat Completions dialect
// transformer (spec §4.6): identity on both request_out and response_in,
// since the unified shape is an OpenAI-shaped superset.
package openai

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mihaisavezi/claude-code-open/internal/transformer"
	"github.com/mihaisavezi/claude-code-open/internal/unified"
)

const EndPoint = "/v1/chat/completions"

type Transformer struct {
	transformer.Base
}

func New() *Transformer {
	return &Transformer{Base: transformer.NewBase("openai")}
}

func (t *Transformer) EndPoint() string { return EndPoint }

func (t *Transformer) TransformRequestOut(_ context.Context, body []byte) (*unified.ChatRequest, *transformer.Config, error) {
	var req unified.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, nil, err
	}
	return &req, nil, nil
}

func (t *Transformer) TransformResponseIn(_ context.Context, resp *http.Response) (*http.Response, error) {
	return resp, nil
}
