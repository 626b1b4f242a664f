package translator

import (
	"errors"
	"fmt"
	"strings"

	"cortex-router/internal/models"
	"cortex-router/internal/orchestrator"
)

// Known provider names accepted at the HTTP boundary.
var knownProviders = map[string]bool{
	"openai":   true,
	"gemini":   true,
	"deepseek": true,
	"grok":     true,
}

// ConversationItem is one prior turn supplied by the caller.
type ConversationItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ContextRequest carries optional conversation context.
type ContextRequest struct {
	SessionID           string             `json:"session_id,omitempty"`
	ConversationHistory []ConversationItem `json:"conversation_history,omitempty"`
}

// ChatRequest is the wire shape of a single-target ask.
type ChatRequest struct {
	Prompt       string          `json:"prompt"`
	Provider     string          `json:"provider,omitempty"`
	Model        string          `json:"model,omitempty"`
	Context      *ContextRequest `json:"context,omitempty"`
	Temperature  *float64        `json:"temperature,omitempty"`
	MaxTokens    *int            `json:"max_tokens,omitempty"`
	SmartMode    bool            `json:"smart_mode,omitempty"`
	ResearchMode bool            `json:"research_mode,omitempty"`
	// OptimizePrompt asks the gateway to rewrite the prompt through the
	// configured optimizer backend before dispatch.
	OptimizePrompt bool `json:"prompt_optimization_enabled,omitempty"`
}

// Validate checks the request against the boundary contract.
func (r ChatRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return errors.New("prompt must not be empty")
	}
	if r.Provider != "" && !knownProviders[strings.ToLower(r.Provider)] {
		return fmt.Errorf("unknown provider %q", r.Provider)
	}
	if err := validateGenerationParams(r.Temperature, r.MaxTokens); err != nil {
		return err
	}
	if r.Context != nil {
		if err := r.Context.validate(); err != nil {
			return err
		}
	}
	return nil
}

// ToAsk converts the DTO into an orchestrator request, appending any
// server-side session history ahead of the caller-supplied turns.
func (r ChatRequest) ToAsk(sessionHistory []models.Message) orchestrator.AskRequest {
	history := sessionHistory
	if r.Context != nil {
		for _, item := range r.Context.ConversationHistory {
			history = append(history, models.Message{Role: item.Role, Content: item.Content})
		}
	}

	return orchestrator.AskRequest{
		Prompt:       r.Prompt,
		Provider:     r.Provider,
		Model:        r.Model,
		History:      history,
		Temperature:  r.Temperature,
		MaxTokens:    r.MaxTokens,
		SmartMode:    r.SmartMode,
		ResearchMode: r.ResearchMode,
	}
}

// SessionID returns the caller's session identifier, if any.
func (r ChatRequest) SessionID() string {
	if r.Context == nil {
		return ""
	}
	return r.Context.SessionID
}

func (c ContextRequest) validate() error {
	for _, item := range c.ConversationHistory {
		switch item.Role {
		case "user", "assistant", "system":
		default:
			return fmt.Errorf("conversation history role %q must be user, assistant or system", item.Role)
		}
	}
	return nil
}

func validateGenerationParams(temperature *float64, maxTokens *int) error {
	if temperature != nil && (*temperature < 0 || *temperature > 2) {
		return fmt.Errorf("temperature %g must be between 0 and 2", *temperature)
	}
	if maxTokens != nil && *maxTokens <= 0 {
		return fmt.Errorf("max_tokens %d must be greater than zero", *maxTokens)
	}
	return nil
}
