// Package config loads the gateway's on-disk configuration (spec §6
// "Config file") and turns it into running provider/transformer
// registries (spec §4.1 "Config-driven init"). Grounded on the teacher's
// internal/config/config.go (Provider/RouterConfig/Config/Manager,
// JSON-primary-with-YAML-override loading, CCO_API_KEY minimal config,
// applyDefaults). Hot reload is grounded on a different teacher file:
// main.go's watchConfigFile, which is where the teacher actually wires up
// fsnotify; internal/config/config.go itself never touched fsnotify.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/mihaisavezi/claude-code-open/internal/provider"
	"github.com/mihaisavezi/claude-code-open/internal/router"
	"github.com/mihaisavezi/claude-code-open/internal/transformer"
)

const (
	DefaultPort           = 3456
	DefaultConfigFilename = "config.json"
	DefaultYAMLFilename   = "config.yaml"
	DefaultHost           = "127.0.0.1"
)

var (
	// DefaultProviderURLs supplies api_base_url when a provider entry
	// omits it, keyed by the well-known provider name.
	DefaultProviderURLs = map[string]string{
		"openrouter": "https://openrouter.ai/api/v1/chat/completions",
		"openai":     "https://api.openai.com/v1/chat/completions",
		"anthropic":  "https://api.anthropic.com/v1/messages",
		"groq":       "https://api.groq.com/openai/v1/chat/completions",
		"deepseek":   "https://api.deepseek.com/chat/completions",
		"gemini":     "https://generativelanguage.googleapis.com/v1beta/models",
	}

	// DefaultProviderModels supplies models[] when a provider entry omits
	// it, keyed by the well-known provider name.
	DefaultProviderModels = map[string][]string{
		"openrouter": {
			"anthropic/claude-3.5-sonnet",
			"openai/gpt-4o",
		},
		"openai": {
			"gpt-4o",
			"gpt-4-turbo",
		},
		"anthropic": {
			"claude-3-5-sonnet-20241022",
			"claude-3-5-haiku-20241022",
		},
		"groq": {
			"llama-3.1-70b-versatile",
		},
		"deepseek": {
			"deepseek-chat",
			"deepseek-reasoner",
		},
		"gemini": {
			"gemini-2.0-flash",
			"gemini-1.5-pro",
		},
	}
)

// TransformerUse is one element of a `transformer.use` array: either a bare
// name string (instantiate with no options) or a `[name, options]` pair
// (spec §4.1 "each element is either a name string ... or a pair").
type TransformerUse struct {
	Name    string
	Options map[string]any
}

func (t *TransformerUse) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		t.Name = name
		t.Options = nil
		return nil
	}

	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil || len(pair) != 2 {
		return fmt.Errorf("config: malformed transformer use entry: %s", data)
	}
	if err := json.Unmarshal(pair[0], &t.Name); err != nil {
		return fmt.Errorf("config: transformer use entry name: %w", err)
	}
	return json.Unmarshal(pair[1], &t.Options)
}

func (t *TransformerUse) UnmarshalYAML(value *yaml.Node) error {
	var generic any
	if err := value.Decode(&generic); err != nil {
		return err
	}
	data, err := json.Marshal(generic)
	if err != nil {
		return err
	}
	return t.UnmarshalJSON(data)
}

// TransformerConfig is a provider's `transformer` map: the provider-wide
// `use` chain plus any per-model `{use: [...]}` overrides, keyed by bare
// model name (spec §3 "Provider record").
type TransformerConfig struct {
	Use      []TransformerUse
	ModelUse map[string][]TransformerUse
}

func (t *TransformerConfig) unmarshalGeneric(raw map[string]json.RawMessage) error {
	t.ModelUse = make(map[string][]TransformerUse, len(raw))
	for key, value := range raw {
		if key == "use" {
			if err := json.Unmarshal(value, &t.Use); err != nil {
				return fmt.Errorf("config: transformer.use: %w", err)
			}
			continue
		}
		var wrapper struct {
			Use []TransformerUse `json:"use"`
		}
		if err := json.Unmarshal(value, &wrapper); err != nil {
			// Malformed per-model entry: skip it rather than abort
			// startup (spec §4.1 "malformed entries do not abort
			// startup").
			slog.Warn("config: malformed per-model transformer entry, skipping", "model", key, "error", err)
			continue
		}
		t.ModelUse[key] = wrapper.Use
	}
	return nil
}

func (t *TransformerConfig) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("config: transformer map: %w", err)
	}
	return t.unmarshalGeneric(raw)
}

func (t *TransformerConfig) UnmarshalYAML(value *yaml.Node) error {
	var generic any
	if err := value.Decode(&generic); err != nil {
		return err
	}
	data, err := json.Marshal(generic)
	if err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return t.unmarshalGeneric(raw)
}

// RateLimit configures the egress throttle for one provider
// (golang.org/x/time/rate; see SPEC_FULL §4.1, a domain-stack addition
// the teacher does not have).
type RateLimit struct {
	RequestsPerSecond float64 `json:"requests_per_second,omitempty" yaml:"requests_per_second,omitempty"`
	Burst             int     `json:"burst,omitempty" yaml:"burst,omitempty"`
}

type Provider struct {
	Name           string            `json:"name" yaml:"name"`
	APIBase        string            `json:"api_base_url" yaml:"url,omitempty"`
	APIKey         string            `json:"api_key" yaml:"api_key,omitempty"`
	Models         []string          `json:"models,omitempty" yaml:"models,omitempty"`
	ModelWhitelist []string          `json:"model_whitelist,omitempty" yaml:"model_whitelist,omitempty"`
	RateLimit      *RateLimit        `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	Transformer    TransformerConfig `json:"transformer,omitempty" yaml:"transformer,omitempty"`
}

// IsModelAllowed reports whether model passes the provider's whitelist (no
// whitelist means everything is allowed).
func (p *Provider) IsModelAllowed(model string) bool {
	if len(p.ModelWhitelist) == 0 {
		return true
	}
	for _, whitelisted := range p.ModelWhitelist {
		if strings.Contains(model, whitelisted) || model == whitelisted {
			return true
		}
	}
	return false
}

// GetAllowedModels filters Models through the whitelist.
func (p *Provider) GetAllowedModels() []string {
	if len(p.ModelWhitelist) == 0 {
		return p.Models
	}
	var allowed []string
	for _, m := range p.Models {
		if p.IsModelAllowed(m) {
			allowed = append(allowed, m)
		}
	}
	return allowed
}

type RouterConfig struct {
	Default     string `json:"default" yaml:"default,omitempty"`
	Think       string `json:"think,omitempty" yaml:"think,omitempty"`
	Background  string `json:"background,omitempty" yaml:"background,omitempty"`
	LongContext string `json:"longContext,omitempty" yaml:"long_context,omitempty"`
	WebSearch   string `json:"webSearch,omitempty" yaml:"web_search,omitempty"`
}

// ToRouterConfig adapts the config-file shape into router.Config (the
// package consumed by router.Select/router.Rewrite). WebSearch has no
// corresponding router.Config field: spec §4.4 names only the four
// routing targets Default/LongContext/Background/Think.
func (r RouterConfig) ToRouterConfig() router.Config {
	return router.Config{
		Default:     r.Default,
		LongContext: r.LongContext,
		Background:  r.Background,
		Think:       r.Think,
	}
}

type Config struct {
	Host       string       `json:"HOST,omitempty" yaml:"host,omitempty"`
	Port       int          `json:"PORT,omitempty" yaml:"port,omitempty"`
	APIKey     string       `json:"APIKEY,omitempty" yaml:"api_key,omitempty"`
	Log        bool         `json:"LOG,omitempty" yaml:"log,omitempty"`
	LogFile    string       `json:"LOG_FILE,omitempty" yaml:"log_file,omitempty"`
	HTTPSProxy string       `json:"HTTPS_PROXY,omitempty" yaml:"https_proxy,omitempty"`
	ProxyURL   string       `json:"PROXY_URL,omitempty" yaml:"proxy_url,omitempty"`
	Providers  []Provider   `json:"Providers" yaml:"providers"`
	Router     RouterConfig `json:"Router" yaml:"router,omitempty"`
}

// EffectiveProxyURL returns whichever of HTTPS_PROXY/PROXY_URL is set,
// HTTPS_PROXY taking precedence (spec §6 "HTTPS_PROXY/PROXY_URL").
func (c *Config) EffectiveProxyURL() string {
	if c.HTTPSProxy != "" {
		return c.HTTPSProxy
	}
	return c.ProxyURL
}

type Manager struct {
	baseDir     string
	jsonPath    string
	yamlPath    string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		baseDir:  baseDir,
		jsonPath: filepath.Join(baseDir, DefaultConfigFilename),
		yamlPath: filepath.Join(baseDir, DefaultYAMLFilename),
	}
}

// createMinimalConfig builds a config with every well-known provider
// pointed at CCO_API_KEY, used when no config file exists but the
// environment variable is set (spec K "Config loader").
func (m *Manager) createMinimalConfig(apiKey string) Config {
	names := []string{"openrouter", "openai", "anthropic", "groq", "deepseek", "gemini"}
	providers := make([]Provider, 0, len(names))
	for _, n := range names {
		providers = append(providers, Provider{Name: n, APIKey: apiKey})
	}
	return Config{
		Host:      DefaultHost,
		Port:      DefaultPort,
		Providers: providers,
		Router: RouterConfig{
			Default:     "openrouter,anthropic/claude-3.5-sonnet",
			Think:       "openai,o1-preview",
			Background:  "anthropic,claude-3-5-haiku-20241022",
			LongContext: "anthropic,claude-3-5-sonnet-20241022",
		},
	}
}

// Load reads config.yaml if present (YAML takes precedence), else
// config.json, else falls back to createMinimalConfig when CCO_API_KEY is
// set, applies defaults and environment overrides, and caches the result
// for Get.
func (m *Manager) Load() (*Config, error) {
	var cfg Config
	var err error

	ccoAPIKey := os.Getenv("CCO_API_KEY")

	switch {
	case m.HasYAML():
		cfg, err = m.loadYAML()
		if err != nil {
			return nil, fmt.Errorf("load YAML config: %w", err)
		}
	case m.HasJSON():
		cfg, err = m.loadJSON()
		if err != nil {
			return nil, fmt.Errorf("load JSON config: %w", err)
		}
	case ccoAPIKey != "":
		cfg = m.createMinimalConfig(ccoAPIKey)
	default:
		return nil, fmt.Errorf("no configuration file found (looked for %s or %s) and CCO_API_KEY not set", m.yamlPath, m.jsonPath)
	}

	m.applyDefaults(&cfg)
	m.applyEnvOverrides(&cfg)

	m.configValue.Store(&cfg)
	return &cfg, nil
}

func (m *Manager) loadYAML() (Config, error) {
	var cfg Config
	data, err := os.ReadFile(m.yamlPath)
	if err != nil {
		return cfg, fmt.Errorf("read YAML config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal YAML config: %w", err)
	}
	return cfg, nil
}

func (m *Manager) loadJSON() (Config, error) {
	var cfg Config
	data, err := os.ReadFile(m.jsonPath)
	if err != nil {
		return cfg, fmt.Errorf("read JSON config file: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal JSON config: %w", err)
	}
	return cfg, nil
}

func (m *Manager) applyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	// Forced to loopback when there's no shared secret, per spec §6
	// "HOST ... forced to loopback if no APIKEY is set".
	if cfg.APIKey == "" {
		cfg.Host = DefaultHost
	}

	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.APIBase == "" {
			if def, ok := DefaultProviderURLs[p.Name]; ok {
				p.APIBase = def
			}
		}
		if len(p.Models) == 0 {
			if def, ok := DefaultProviderModels[p.Name]; ok {
				p.Models = append([]string(nil), def...)
			}
		}
	}
}

// applyEnvOverrides applies the SERVICE_PORT/LOG/LOG_FILE environment
// variables (spec §6 "Environment variables").
func (m *Manager) applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVICE_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			cfg.Port = port
		}
	}
	if v := os.Getenv("LOG"); v != "" {
		cfg.Log = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
}

// Get returns the cached config, loading it first if necessary. On load
// failure it falls back to bare defaults rather than returning nil/error,
// matching the teacher's forgiving Get().
func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}
	cfg, err := m.Load()
	if err != nil {
		return &Config{Host: DefaultHost, Port: DefaultPort}
	}
	return cfg
}

func (m *Manager) Save(cfg *Config) error {
	return m.SaveAsYAML(cfg)
}

func (m *Manager) SaveAsYAML(cfg *Config) error {
	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal YAML config: %w", err)
	}
	if err := os.WriteFile(m.yamlPath, data, 0o644); err != nil {
		return fmt.Errorf("write YAML config file: %w", err)
	}
	m.configValue.Store(cfg)
	return nil
}

func (m *Manager) SaveAsJSON(cfg *Config) error {
	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON config: %w", err)
	}
	if err := os.WriteFile(m.jsonPath, data, 0o644); err != nil {
		return fmt.Errorf("write JSON config file: %w", err)
	}
	m.configValue.Store(cfg)
	return nil
}

func (m *Manager) GetPath() string {
	if m.HasYAML() {
		return m.yamlPath
	}
	return m.jsonPath
}

func (m *Manager) GetYAMLPath() string { return m.yamlPath }
func (m *Manager) GetJSONPath() string { return m.jsonPath }

func (m *Manager) Exists() bool {
	return m.HasYAML() || m.HasJSON()
}

func (m *Manager) HasYAML() bool {
	_, err := os.Stat(m.yamlPath)
	return err == nil
}

func (m *Manager) HasJSON() bool {
	_, err := os.Stat(m.jsonPath)
	return err == nil
}

// CreateExampleYAML writes a fully populated example config.yaml with
// every well-known provider, for `cco config generate`.
func (m *Manager) CreateExampleYAML() error {
	cfg := &Config{
		Host:   DefaultHost,
		Port:   DefaultPort,
		APIKey: "your-proxy-api-key-here",
		Providers: []Provider{
			{Name: "openrouter", APIKey: "your-openrouter-api-key", ModelWhitelist: []string{"claude", "gpt-4"}},
			{Name: "openai", APIKey: "your-openai-api-key"},
			{Name: "anthropic", APIKey: "your-anthropic-api-key"},
			{Name: "groq", APIKey: "your-groq-api-key"},
			{Name: "deepseek", APIKey: "your-deepseek-api-key"},
			{Name: "gemini", APIKey: "your-gemini-api-key"},
		},
		Router: RouterConfig{
			Default:     "openrouter,anthropic/claude-3.5-sonnet",
			Think:       "openai,o1-preview",
			Background:  "anthropic,claude-3-5-haiku-20241022",
			LongContext: "anthropic,claude-3-5-sonnet-20241022",
		},
	}
	m.applyDefaults(cfg)
	return m.SaveAsYAML(cfg)
}

// Watch blocks, reloading and invoking onChange whenever the active
// config file is written or recreated, until ctx is canceled. Grounded on
// the teacher's main.go watchConfigFile (fsnotify.Write|Create swapping an
// atomic.Value); adapted from a package-level goroutine over global state
// into a method any caller can run per Manager instance.
func (m *Manager) Watch(ctx context.Context, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: init watcher: %w", err)
	}
	defer watcher.Close()

	path := m.GetPath()
	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("config: watch %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := m.Load()
			if err != nil {
				slog.Error("config: reload failed", "error", err)
				continue
			}
			slog.Info("config: reloaded", "path", path)
			if onChange != nil {
				onChange(cfg)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "error", err)
		}
	}
}

// BuildProviders registers every configured provider into reg, resolving
// each provider's transformer.use (and per-model use) arrays against
// transformers (spec §4.1 "Config-driven init"). Unknown transformer
// names are logged and skipped; they never abort startup.
func BuildProviders(cfg *Config, transformers *transformer.Registry, reg *provider.Registry) error {
	for _, pc := range cfg.Providers {
		p := &provider.Provider{
			Name:        pc.Name,
			BaseURL:     pc.APIBase,
			APIKey:      pc.APIKey,
			Models:      pc.GetAllowedModels(),
			Use:         resolveChain(pc.Name, pc.Transformer.Use, transformers),
			ModelChains: make(map[string]provider.Chain, len(pc.Transformer.ModelUse)),
		}
		if pc.RateLimit != nil && pc.RateLimit.RequestsPerSecond > 0 {
			p.Limiter = rate.NewLimiter(rate.Limit(pc.RateLimit.RequestsPerSecond), pc.RateLimit.Burst)
		}
		for model, uses := range pc.Transformer.ModelUse {
			p.ModelChains[model] = provider.Chain{Use: resolveChain(pc.Name, uses, transformers)}
		}
		if err := reg.Register(p); err != nil {
			return fmt.Errorf("config: register provider %s: %w", pc.Name, err)
		}
	}
	return nil
}

func resolveChain(providerName string, uses []TransformerUse, transformers *transformer.Registry) []transformer.Transformer {
	chain := make([]transformer.Transformer, 0, len(uses))
	for _, u := range uses {
		t, ok := transformers.New(u.Name, u.Options)
		if !ok {
			slog.Warn("config: unknown transformer, skipping", "provider", providerName, "transformer", u.Name)
			continue
		}
		chain = append(chain, t)
	}
	return chain
}
