package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/claude-code-open/internal/provider"
	"github.com/mihaisavezi/claude-code-open/internal/transformer"
	"github.com/mihaisavezi/claude-code-open/internal/unified"
)

type noopTransformer struct {
	transformer.Base
}

func (n *noopTransformer) TransformRequestIn(_ context.Context, req *unified.ChatRequest, _ transformer.ProviderInfo) (*unified.ChatRequest, *transformer.Config, error) {
	return req, nil, nil
}

func TestBuildProviders_ResolvesUseChain(t *testing.T) {
	transformers := transformer.NewRegistry()
	transformers.Register("maxtoken", &noopTransformer{Base: transformer.NewBase("maxtoken")})

	cfg := &Config{
		Providers: []Provider{
			{
				Name:    "groq",
				APIBase: "https://api.groq.com/openai/v1/chat/completions",
				APIKey:  "key",
				Models:  []string{"llama-3.1-70b-versatile"},
				Transformer: TransformerConfig{
					Use: []TransformerUse{{Name: "maxtoken"}, {Name: "unknown-transformer"}},
				},
			},
		},
	}

	reg := provider.NewRegistry()
	require.NoError(t, BuildProviders(cfg, transformers, reg))

	p, ok := reg.Get("groq")
	require.True(t, ok)
	require.Len(t, p.Use, 1, "unknown transformer name should be skipped, not abort")
	assert.Equal(t, "maxtoken", p.Use[0].Name())
}

func TestBuildProviders_PerModelChain(t *testing.T) {
	transformers := transformer.NewRegistry()
	transformers.Register("maxtoken", &noopTransformer{Base: transformer.NewBase("maxtoken")})

	cfg := &Config{
		Providers: []Provider{
			{
				Name:   "anthropic",
				APIKey: "key",
				Models: []string{"claude-3-5-haiku-20241022"},
				Transformer: TransformerConfig{
					ModelUse: map[string][]TransformerUse{
						"claude-3-5-haiku-20241022": {{Name: "maxtoken"}},
					},
				},
			},
		},
	}

	reg := provider.NewRegistry()
	require.NoError(t, BuildProviders(cfg, transformers, reg))

	p, ok := reg.Get("anthropic")
	require.True(t, ok)
	chain, ok := p.ModelChains["claude-3-5-haiku-20241022"]
	require.True(t, ok)
	require.Len(t, chain.Use, 1)
}

func TestBuildProviders_RateLimit(t *testing.T) {
	transformers := transformer.NewRegistry()
	cfg := &Config{
		Providers: []Provider{
			{
				Name:      "openai",
				APIKey:    "key",
				Models:    []string{"gpt-4o"},
				RateLimit: &RateLimit{RequestsPerSecond: 2, Burst: 1},
			},
		},
	}

	reg := provider.NewRegistry()
	require.NoError(t, BuildProviders(cfg, transformers, reg))

	p, ok := reg.Get("openai")
	require.True(t, ok)
	require.NotNil(t, p.Limiter)
}

func TestRouterConfig_ToRouterConfig(t *testing.T) {
	rc := RouterConfig{
		Default:     "openai,gpt-4o",
		Think:       "openai,o1-preview",
		Background:  "anthropic,claude-3-5-haiku-20241022",
		LongContext: "anthropic,claude-3-5-sonnet-20241022",
		WebSearch:   "openrouter,perplexity/llama-3.1-sonar-huge-128k-online",
	}
	out := rc.ToRouterConfig()
	assert.Equal(t, rc.Default, out.Default)
	assert.Equal(t, rc.Think, out.Think)
	assert.Equal(t, rc.Background, out.Background)
	assert.Equal(t, rc.LongContext, out.LongContext)
}

func TestConfig_EffectiveProxyURL(t *testing.T) {
	cfg := &Config{ProxyURL: "http://proxy.local:8080"}
	assert.Equal(t, "http://proxy.local:8080", cfg.EffectiveProxyURL())

	cfg.HTTPSProxy = "http://secure-proxy.local:8443"
	assert.Equal(t, "http://secure-proxy.local:8443", cfg.EffectiveProxyURL())
}
