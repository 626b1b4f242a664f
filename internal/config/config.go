package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration parsed from YAML.
// ${VAR} references in the file are expanded from the environment before
// parsing, so API keys can live in .env rather than on disk.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Stream    StreamConfig    `yaml:"stream"`
	History   HistoryConfig   `yaml:"history"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Providers ProvidersConfig `yaml:"providers"`
	Pricing   PricingConfig   `yaml:"pricing"`
}

// ServerConfig defines listener and dispatch configuration.
type ServerConfig struct {
	Port          int    `yaml:"port"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	APIKey        string `yaml:"api_key"`
}

// StreamConfig tunes the simulated streaming output. The delay is a
// presentation concern only; zero disables pacing entirely.
type StreamConfig struct {
	ChunkSize   int `yaml:"chunk_size"`
	LineDelayMS int `yaml:"line_delay_ms"`
}

// HistoryConfig points at the optional chat history database. An empty path
// disables persistence.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// OptimizerConfig controls the optional prompt-rewriting pass. When enabled,
// requests carrying the optimization flag are rewritten through the named
// provider before dispatch. An empty model uses the provider's default.
type OptimizerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	MaxAttempts int    `yaml:"max_attempts"`
}

// ProvidersConfig catalogues configured upstream providers. Every provider is
// optional, but at least one must be present.
type ProvidersConfig struct {
	OpenAI   *ProviderConfig `yaml:"openai"`
	Gemini   *ProviderConfig `yaml:"gemini"`
	DeepSeek *ProviderConfig `yaml:"deepseek"`
	Grok     *ProviderConfig `yaml:"grok"`
}

// ProviderConfig captures authentication and routing info for a provider.
type ProviderConfig struct {
	APIKey       string  `yaml:"api_key"`
	BaseURL      string  `yaml:"base_url"`
	DefaultModel string  `yaml:"default_model"`
	Headers      Headers `yaml:"headers"`
}

// Headers contains additional HTTP headers to send with a provider request.
type Headers map[string]string

// PricingConfig overrides built-in per-1K-token rates, keyed by provider then
// model.
type PricingConfig map[string]map[string]RateConfig

// RateConfig holds one model's USD rates per 1K tokens.
type RateConfig struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k"`
	CompletionPer1K float64 `yaml:"completion_per_1k"`
}

// Built-in default models, used when a provider block omits default_model.
var defaultModels = map[string]string{
	"openai":   "gpt-4o-mini",
	"gemini":   "gemini-1.5-flash",
	"deepseek": "deepseek-chat",
	"grok":     "grok-2-latest",
}

const (
	defaultMaxConcurrent        = 8
	defaultChunkSize            = 120
	defaultLineDelayMS          = 40
	defaultOptimizerProvider    = "gemini"
	defaultOptimizerMaxAttempts = 3
)

// Load reads YAML configuration from disk, expands environment references,
// applies defaults and validates the result.
func Load(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
	}

	return Parse(data)
}

// Parse decodes configuration from raw YAML bytes.
func Parse(data []byte) (Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.MaxConcurrent <= 0 {
		c.Server.MaxConcurrent = defaultMaxConcurrent
	}
	if c.Stream.ChunkSize <= 0 {
		c.Stream.ChunkSize = defaultChunkSize
	}
	if c.Stream.LineDelayMS < 0 {
		c.Stream.LineDelayMS = defaultLineDelayMS
	}
	if c.Optimizer.Provider == "" {
		c.Optimizer.Provider = defaultOptimizerProvider
	}
	if c.Optimizer.MaxAttempts <= 0 {
		c.Optimizer.MaxAttempts = defaultOptimizerMaxAttempts
	}

	for name, provider := range c.providerMap() {
		if provider.DefaultModel == "" {
			provider.DefaultModel = defaultModels[name]
		}
		// CORTEX_DEFAULT_MODEL_<NAME> beats both the file and the built-in.
		if override := os.Getenv("CORTEX_DEFAULT_MODEL_" + strings.ToUpper(name)); override != "" {
			provider.DefaultModel = override
		}
	}
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}

	providers := c.providerMap()
	if len(providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}

	for name, provider := range providers {
		if err := validateProvider(name, *provider); err != nil {
			return err
		}
	}

	if c.Optimizer.Enabled {
		if _, ok := providers[strings.ToLower(c.Optimizer.Provider)]; !ok {
			return fmt.Errorf("optimizer.provider %q is not a configured provider", c.Optimizer.Provider)
		}
	}

	for providerName, rates := range c.Pricing {
		for model, rate := range rates {
			if rate.PromptPer1K < 0 || rate.CompletionPer1K < 0 {
				return fmt.Errorf("pricing %s/%s: rates must not be negative", providerName, model)
			}
		}
	}

	return nil
}

// providerMap returns configured providers keyed by canonical name.
func (c Config) providerMap() map[string]*ProviderConfig {
	out := make(map[string]*ProviderConfig, 4)
	if c.Providers.OpenAI != nil {
		out["openai"] = c.Providers.OpenAI
	}
	if c.Providers.Gemini != nil {
		out["gemini"] = c.Providers.Gemini
	}
	if c.Providers.DeepSeek != nil {
		out["deepseek"] = c.Providers.DeepSeek
	}
	if c.Providers.Grok != nil {
		out["grok"] = c.Providers.Grok
	}
	return out
}

func validateProvider(name string, provider ProviderConfig) error {
	if strings.TrimSpace(provider.APIKey) == "" {
		return fmt.Errorf("provider %s: api_key must be provided", name)
	}
	if strings.TrimSpace(provider.BaseURL) == "" {
		return fmt.Errorf("provider %s: base_url must be provided", name)
	}
	if strings.TrimSpace(provider.DefaultModel) == "" {
		return fmt.Errorf("provider %s: default_model must be provided", name)
	}

	for headerKey := range provider.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("provider %s: header %q is not a valid canonical HTTP header", name, headerKey)
		}
	}

	return nil
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
