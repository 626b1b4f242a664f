package factory

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"cortex-router/internal/config"
	"cortex-router/internal/provider"
	deepseekClient "cortex-router/internal/provider/deepseek"
	geminiClient "cortex-router/internal/provider/gemini"
	grokClient "cortex-router/internal/provider/grok"
	openaiClient "cortex-router/internal/provider/openai"
)

const (
	defaultHTTPTimeout     = 120 * time.Second
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// RegisterConfiguredProviders constructs clients for every configured
// provider and stores them in the registry.
func RegisterConfiguredProviders(cfg config.Config, registry *provider.Registry) error {
	if registry == nil {
		return errors.New("registry must not be nil")
	}

	if cfg.Providers.OpenAI != nil {
		client, err := openaiClient.New("openai", *cfg.Providers.OpenAI, newHTTPClient(defaultHTTPTimeout))
		if err != nil {
			return fmt.Errorf("initialise openai provider: %w", err)
		}
		if err := registry.Register(client, cfg.Providers.OpenAI.DefaultModel); err != nil {
			return fmt.Errorf("register openai provider: %w", err)
		}
	}

	if cfg.Providers.Gemini != nil {
		client, err := geminiClient.New("gemini", *cfg.Providers.Gemini, newHTTPClient(defaultHTTPTimeout))
		if err != nil {
			return fmt.Errorf("initialise gemini provider: %w", err)
		}
		if err := registry.Register(client, cfg.Providers.Gemini.DefaultModel); err != nil {
			return fmt.Errorf("register gemini provider: %w", err)
		}
	}

	if cfg.Providers.DeepSeek != nil {
		client, err := deepseekClient.New("deepseek", *cfg.Providers.DeepSeek, newHTTPClient(defaultHTTPTimeout))
		if err != nil {
			return fmt.Errorf("initialise deepseek provider: %w", err)
		}
		if err := registry.Register(client, cfg.Providers.DeepSeek.DefaultModel); err != nil {
			return fmt.Errorf("register deepseek provider: %w", err)
		}
	}

	if cfg.Providers.Grok != nil {
		client, err := grokClient.New("grok", *cfg.Providers.Grok, newHTTPClient(defaultHTTPTimeout))
		if err != nil {
			return fmt.Errorf("initialise grok provider: %w", err)
		}
		if err := registry.Register(client, cfg.Providers.Grok.DefaultModel); err != nil {
			return fmt.Errorf("register grok provider: %w", err)
		}
	}

	return nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
