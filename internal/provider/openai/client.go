package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cortex-router/internal/config"
	"cortex-router/internal/models"
	"cortex-router/internal/provider"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "cortex-router/0.1"
)

// Client speaks the OpenAI chat-completions wire format. DeepSeek and Grok
// expose the same protocol, so their packages delegate here with their own
// base URLs.
type Client struct {
	name    string
	apiKey  string
	headers map[string]string
	http    *http.Client
	chatURL string
}

// New creates an OpenAI-compatible client for the named provider.
func New(name string, cfg config.ProviderConfig, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		return nil, errors.New("http client must not be nil")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}

	return &Client{
		name:    name,
		apiKey:  cfg.APIKey,
		headers: cfg.Headers,
		http:    httpClient,
		chatURL: baseURL + "/chat/completions",
	}, nil
}

func (c *Client) Name() string {
	return c.name
}

// Complete sends one chat completion request and returns the normalized result.
func (c *Client) Complete(ctx context.Context, req provider.CompletionRequest) (*provider.CompletionResult, error) {
	payload, err := buildChatPayload(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, c.chatURL, payload)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s chat request failed: %w", c.name, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return nil, parseAPIError(c.name, httpResp)
	}

	var providerResp chatResponse
	if err := decodeJSON(httpResp.Body, &providerResp); err != nil {
		return nil, err
	}

	return providerResp.toResult(c.name)
}

func (c *Client) newRequest(ctx context.Context, method, url string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

type chatPayload struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func buildChatPayload(req provider.CompletionRequest) (chatPayload, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return chatPayload{}, errors.New("prompt must not be empty")
	}
	if strings.TrimSpace(req.Model) == "" {
		return chatPayload{}, errors.New("model must not be empty")
	}

	messages := make([]chatMessage, 0, len(req.History)+1)
	for _, msg := range req.History {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		messages = append(messages, chatMessage{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	return chatPayload{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}, nil
}

type chatResponse struct {
	ID      string       `json:"id"`
	Choices []chatChoice `json:"choices"`
	Usage   *usageBlock  `json:"usage,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type usageBlock struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (r chatResponse) toResult(providerName string) (*provider.CompletionResult, error) {
	if len(r.Choices) == 0 {
		return nil, fmt.Errorf("%s response did not include choices", providerName)
	}

	choice := r.Choices[0]
	result := &provider.CompletionResult{
		Text:         choice.Message.Content,
		FinishReason: choice.FinishReason,
	}
	if r.Usage != nil {
		result.Usage = models.NewTokenUsage(r.Usage.PromptTokens, r.Usage.CompletionTokens)
	}
	return result, nil
}

type apiErrorResponse struct {
	Error apiErrorObject `json:"error"`
}

type apiErrorObject struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

func parseAPIError(providerName string, resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("upstream error status %d and failed to read body: %w", resp.StatusCode, err)
	}

	apiErr := &provider.APIError{
		Provider: providerName,
		Status:   resp.StatusCode,
		Message:  strings.TrimSpace(string(body)),
	}

	var parsed apiErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		apiErr.Type = parsed.Error.Type
		apiErr.Message = parsed.Error.Message
	}

	return apiErr
}

func decodeJSON(reader io.Reader, target any) error {
	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}
