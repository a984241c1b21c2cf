// Package provider holds provider records and the model route table that
// resolves a client-supplied model string to a backend (spec §4.1).
package provider

import (
	"errors"

	"github.com/mihaisavezi/claude-code-open/internal/transformer"
	"golang.org/x/time/rate"
)

var (
	ErrAlreadyExists = errors.New("provider already exists")
	ErrNotFound      = errors.New("provider not found")
)

// Chain is an ordered list of transformers applied around a provider's
// egress call, either provider-wide (the `use` key) or scoped to one
// model (the `<model>.use` key).
type Chain struct {
	Use []transformer.Transformer
}

// Provider is a registered backend: a base URL, key, model list, and the
// transformer chains bound to it.
type Provider struct {
	Name    string
	BaseURL string
	APIKey  string
	Models  []string

	// Use is the provider-wide chain, applied to every request regardless
	// of model.
	Use []transformer.Transformer

	// ModelChains maps a bare model name to its own additional chain,
	// applied after Use (spec §4.5 step 3).
	ModelChains map[string]Chain

	// Enabled reflects the last Toggle call. Per Design Note/Open Question
	// 2 this is deliberately NOT consulted by Resolve — toggling a
	// provider off does not stop it being routed to. Preserved as a known
	// quirk, not reimplemented as a feature.
	Enabled bool

	// Limiter optionally throttles egress calls to this provider. Nil
	// means unlimited. Domain-stack addition (golang.org/x/time/rate) not
	// present in the distilled spec; see SPEC_FULL §4.1.
	Limiter *rate.Limiter
}

// ProviderName, ProviderBaseURL and ProviderAPIKey satisfy
// transformer.ProviderInfo.
func (p *Provider) ProviderName() string    { return p.Name }
func (p *Provider) ProviderBaseURL() string { return p.BaseURL }
func (p *Provider) ProviderAPIKey() string  { return p.APIKey }
