package grok

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cortex-router/internal/config"
	"cortex-router/internal/provider"
	openaiClient "cortex-router/internal/provider/openai"
)

// Client talks to the xAI Grok API. The protocol is OpenAI-compatible, so all
// wire handling delegates to the openai client with xAI's endpoint.
type Client struct {
	name    string
	adapter *openaiClient.Client
}

// New constructs a Grok client.
func New(name string, cfg config.ProviderConfig, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		return nil, errors.New("http client must not be nil")
	}

	adapter, err := openaiClient.New(name, cfg, httpClient)
	if err != nil {
		return nil, fmt.Errorf("initialise grok adapter: %w", err)
	}

	return &Client{name: name, adapter: adapter}, nil
}

func (c *Client) Name() string {
	return c.name
}

func (c *Client) Complete(ctx context.Context, req provider.CompletionRequest) (*provider.CompletionResult, error) {
	return c.adapter.Complete(ctx, req)
}
