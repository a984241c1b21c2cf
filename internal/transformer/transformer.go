// Package transformer defines the capability set every transformer
// implements and the registry that holds instances by name.
//
// A transformer carries up to four optional hooks. The pipeline engine
// checks which hooks a given value implements via type assertion against
// the four single-method interfaces below, rather than requiring a single
// fat interface — this is the "capability set, not inheritance" design the
// four-hook contract calls for.
package transformer

import (
	"context"
	"net/http"

	"github.com/mihaisavezi/claude-code-open/internal/unified"
)

// ProviderInfo is the minimal view of a provider record a transformer's
// TransformRequestIn hook needs. It is satisfied structurally by
// internal/provider.Provider; defining it here (rather than importing the
// provider package) keeps transformer free of provider and provider free
// to hold transformer.Transformer values in its `use` chains without an
// import cycle.
type ProviderInfo interface {
	ProviderName() string
	ProviderBaseURL() string
	ProviderAPIKey() string
}

// Config is what transform_request_out/transform_request_in return when
// they need to carry per-request config (URL override, extra headers)
// alongside the transformed body. A hook that only needs to return a body
// may return (*unified.ChatRequest)(nil)-free by just returning the request
// and a nil Config.
type Config struct {
	URL     string
	Headers map[string]string
	Timeout *int // seconds; overrides the default egress timeout

	// Body, when set, is sent to egress verbatim instead of the marshaled
	// unified request. Dialect transformers whose provider wire shape
	// diverges entirely from the OpenAI-shaped unified body (Gemini's
	// contents[]/functionCall shape) set this from transform_request_in;
	// the pipeline engine stops folding further `use`-chain unified
	// mutations into the body once a Body override is present.
	Body []byte
}

// Merge folds other into c, with other's non-zero fields winning (later
// hooks in a chain take precedence per spec §4.5 step 2/3: "merge config
// into ctx (later wins)").
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	if other.URL != "" {
		c.URL = other.URL
	}
	if other.Timeout != nil {
		c.Timeout = other.Timeout
	}
	if other.Body != nil {
		c.Body = other.Body
	}
	if len(other.Headers) > 0 {
		if c.Headers == nil {
			c.Headers = map[string]string{}
		}
		for k, v := range other.Headers {
			c.Headers[k] = v
		}
	}
}

// RequestOut converts a raw client body into the unified request shape,
// optionally carrying per-request config overrides.
type RequestOut interface {
	TransformRequestOut(ctx context.Context, body []byte) (*unified.ChatRequest, *Config, error)
}

// RequestIn converts a unified request into provider-specific shape, given
// the resolved provider. It returns the transformed unified request (some
// transformers only need to mutate it, e.g. maxtoken) plus any config
// overrides.
type RequestIn interface {
	TransformRequestIn(ctx context.Context, req *unified.ChatRequest, p ProviderInfo) (*unified.ChatRequest, *Config, error)
}

// ResponseOut converts the provider's raw HTTP response, in place or by
// replacement. Implementations must not buffer the whole body for
// streaming responses; see internal/ssestream for the bounded-buffer
// discipline.
type ResponseOut interface {
	TransformResponseOut(ctx context.Context, resp *http.Response) (*http.Response, error)
}

// ResponseIn converts the unified (OpenAI-shaped) response into the
// endpoint's own client-facing dialect. Only the outermost ResponseIn hook
// may surface an error as a 500; all earlier hook errors are logged and
// skipped per spec §7.
type ResponseIn interface {
	TransformResponseIn(ctx context.Context, resp *http.Response) (*http.Response, error)
}

// Transformer is the superset any concrete transformer may satisfy in
// part. Name() and EndPoint() are used for registry bookkeeping and
// dispatcher route registration; a transformer with no end point is not
// routable directly but can still appear in a provider or model `use`
// chain.
type Transformer interface {
	Name() string
}

// EndpointTransformer is a Transformer that also owns an HTTP path the
// dispatcher should bind a pipeline handler to.
type EndpointTransformer interface {
	Transformer
	EndPoint() string
}

// Base gives concrete transformers a Name() for free; it implements none
// of the four hooks, so embedding it and overriding only the hooks you
// need yields identity behavior for the rest, matching the "absent hooks
// act as identity" rule.
type Base struct {
	name string
}

func NewBase(name string) Base { return Base{name: name} }

func (b Base) Name() string { return b.name }
