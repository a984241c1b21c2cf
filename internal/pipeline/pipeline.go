// Package pipeline implements the transformer chain engine (spec §4.5):
// the ordered request_out → provider chain → model chain → egress →
// response_out chains → response_in sequence run once per inbound
// request. Grounded on
// original_source/pyllms/src/api/routes.py's process_transformer_request
// for the exact step ordering, adapted from FastAPI per-request closures
// into a Go struct method over the provider/transformer registries.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mihaisavezi/claude-code-open/internal/egress"
	"github.com/mihaisavezi/claude-code-open/internal/provider"
	"github.com/mihaisavezi/claude-code-open/internal/router"
	"github.com/mihaisavezi/claude-code-open/internal/transformer"
	"github.com/mihaisavezi/claude-code-open/internal/unified"
)

// ErrNoProvider is returned when the router selects a model with no
// registered route.
var ErrNoProvider = fmt.Errorf("pipeline: no provider registered for model")

// Engine runs the pipeline for every endpoint-bearing dialect transformer.
type Engine struct {
	Providers    *provider.Registry
	Egress       *egress.Client
	RouterConfig router.Config
	Tokenizer    *router.Tokenizer
}

// Handle runs the full chain described in spec §4.5 for one inbound
// request body against endpoint transformer T, and returns the
// client-facing *http.Response.
func (e *Engine) Handle(ctx context.Context, t transformer.EndpointTransformer, body []byte) (*http.Response, error) {
	routed, err := router.Rewrite(body, e.RouterConfig, e.Tokenizer)
	if err != nil {
		return nil, fmt.Errorf("pipeline: router: %w", err)
	}

	requestOut, ok := t.(transformer.RequestOut)
	if !ok {
		return nil, fmt.Errorf("pipeline: %s has no transform_request_out", t.Name())
	}
	req, cfg, err := requestOut.TransformRequestOut(ctx, routed)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %s: transform_request_out: %w", t.Name(), err)
	}
	ctxCfg := &transformer.Config{}
	ctxCfg.Merge(cfg)

	result, ok := e.Providers.Resolve(req.Model)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoProvider, req.Model)
	}
	p := result.Provider
	req.Model = result.TargetModel

	req, ctxCfg = runRequestChain(ctx, p.Use, req, p, ctxCfg)
	if chain, ok := p.ModelChains[req.Model]; ok {
		req, ctxCfg = runRequestChain(ctx, chain.Use, req, p, ctxCfg)
	}

	egressBody := ctxCfg.Body
	if egressBody == nil {
		egressBody, err = json.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("pipeline: marshal unified request: %w", err)
		}
	}

	resp, err := e.Egress.Do(ctx, p, p.Limiter, ctxCfg, egressBody)
	if err != nil {
		return nil, fmt.Errorf("pipeline: egress: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}

	resp = runResponseOutChain(ctx, p.Use, resp)
	if chain, ok := p.ModelChains[req.Model]; ok {
		resp = runResponseOutChain(ctx, chain.Use, resp)
	}

	responseIn, ok := t.(transformer.ResponseIn)
	if !ok {
		return resp, nil
	}
	resp, err = responseIn.TransformResponseIn(ctx, resp)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %s: transform_response_in: %w", t.Name(), err)
	}
	return resp, nil
}

// runRequestChain applies transform_request_in for every transformer in
// chain that implements it, in order, merging config (later wins).
func runRequestChain(ctx context.Context, chain []transformer.Transformer, req *unified.ChatRequest, p transformer.ProviderInfo, cfg *transformer.Config) (*unified.ChatRequest, *transformer.Config) {
	for _, t := range chain {
		hook, ok := t.(transformer.RequestIn)
		if !ok {
			continue
		}
		newReq, newCfg, err := hook.TransformRequestIn(ctx, req, p)
		if err != nil {
			slog.Error("pipeline: transform_request_in failed", "transformer", t.Name(), "error", err)
			continue
		}
		if newReq != nil {
			req = newReq
		}
		cfg.Merge(newCfg)
	}
	return req, cfg
}

// runResponseOutChain applies transform_response_out for every transformer
// in chain that implements it. Per spec §4.5 step 5, individual hook
// failures are logged and skipped; the previous resp is kept.
func runResponseOutChain(ctx context.Context, chain []transformer.Transformer, resp *http.Response) *http.Response {
	for _, t := range chain {
		hook, ok := t.(transformer.ResponseOut)
		if !ok {
			continue
		}
		newResp, err := hook.TransformResponseOut(ctx, resp)
		if err != nil {
			slog.Error("pipeline: transform_response_out failed", "transformer", t.Name(), "error", err)
			continue
		}
		if newResp != nil {
			resp = newResp
		}
	}
	return resp
}
