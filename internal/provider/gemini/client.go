package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"cortex-router/internal/config"
	"cortex-router/internal/models"
	"cortex-router/internal/provider"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "cortex-router/0.1"
)

// Client speaks the Google Gemini generateContent wire format.
type Client struct {
	name    string
	apiKey  string
	baseURL string
	headers map[string]string
	http    *http.Client
}

// New constructs a Gemini client.
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
		baseURL: baseURL,
		headers: cfg.Headers,
		http:    httpClient,
	}, nil
}

func (c *Client) Name() string {
	return c.name
}

// Complete sends one generateContent request and returns the normalized result.
func (c *Client) Complete(ctx context.Context, req provider.CompletionRequest) (*provider.CompletionResult, error) {
	payload, err := buildGeneratePayload(req)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		c.baseURL, url.PathEscape(req.Model), url.QueryEscape(c.apiKey))

	httpReq, err := c.newRequest(ctx, endpoint, payload)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return nil, parseAPIError(c.name, httpResp)
	}

	var providerResp generateResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&providerResp); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}

	return providerResp.toResult()
}

func (c *Client) newRequest(ctx context.Context, endpoint string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)

	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

type generatePayload struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

func buildGeneratePayload(req provider.CompletionRequest) (generatePayload, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return generatePayload{}, errors.New("prompt must not be empty")
	}
	if strings.TrimSpace(req.Model) == "" {
		return generatePayload{}, errors.New("model must not be empty")
	}

	contents := make([]content, 0, len(req.History)+1)
	for _, msg := range req.History {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		contents = append(contents, content{
			Role:  geminiRole(msg.Role),
			Parts: []part{{Text: msg.Content}},
		})
	}
	contents = append(contents, content{Role: "user", Parts: []part{{Text: req.Prompt}}})

	payload := generatePayload{Contents: contents}
	if req.Temperature != nil || req.MaxTokens != nil {
		payload.GenerationConfig = &generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		}
	}
	return payload, nil
}

// geminiRole maps unified roles onto the two roles Gemini accepts.
func geminiRole(role string) string {
	if role == "assistant" {
		return "model"
	}
	return "user"
}

type generateResponse struct {
	Candidates    []candidate    `json:"candidates"`
	UsageMetadata *usageMetadata `json:"usageMetadata,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

func (r generateResponse) toResult() (*provider.CompletionResult, error) {
	if len(r.Candidates) == 0 {
		return nil, errors.New("gemini response did not include candidates")
	}

	var text strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}

	result := &provider.CompletionResult{
		Text:         text.String(),
		FinishReason: strings.ToLower(r.Candidates[0].FinishReason),
	}
	if r.UsageMetadata != nil {
		result.Usage = models.NewTokenUsage(r.UsageMetadata.PromptTokenCount, r.UsageMetadata.CandidatesTokenCount)
	}
	return result, nil
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
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
		apiErr.Type = parsed.Error.Status
		apiErr.Message = parsed.Error.Message
	}

	return apiErr
}
