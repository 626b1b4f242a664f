package translator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cortex-router/internal/models"
	"cortex-router/internal/orchestrator"
)

const (
	minCompareTargets = 2
	maxCompareTargets = 4
	maxTimeoutSeconds = 300
)

// TargetRequest is one provider/model pair in a compare request. Model may be
// empty, meaning the provider's default.
type TargetRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
}

// CompareRequest is the wire shape of a multi-target fan-out.
type CompareRequest struct {
	Prompt      string          `json:"prompt"`
	Targets     []TargetRequest `json:"targets"`
	Context     *ContextRequest `json:"context,omitempty"`
	TimeoutS    float64         `json:"timeout_s,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	// OptimizePrompt asks the gateway to rewrite the prompt through the
	// configured optimizer backend before the fan-out.
	OptimizePrompt bool `json:"prompt_optimization_enabled,omitempty"`
}

// Validate checks the request against the boundary contract.
func (r CompareRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return errors.New("prompt must not be empty")
	}
	if len(r.Targets) < minCompareTargets || len(r.Targets) > maxCompareTargets {
		return fmt.Errorf("targets must contain between %d and %d entries, got %d",
			minCompareTargets, maxCompareTargets, len(r.Targets))
	}
	for i, target := range r.Targets {
		if target.Provider != "" && !knownProviders[strings.ToLower(target.Provider)] {
			return fmt.Errorf("targets[%d]: unknown provider %q", i, target.Provider)
		}
	}
	if r.TimeoutS < 0 || r.TimeoutS > maxTimeoutSeconds {
		return fmt.Errorf("timeout_s %g must be between 0 and %d", r.TimeoutS, maxTimeoutSeconds)
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

// ToCompare converts the DTO into an orchestrator request.
func (r CompareRequest) ToCompare(sessionHistory []models.Message) orchestrator.CompareRequest {
	history := sessionHistory
	if r.Context != nil {
		for _, item := range r.Context.ConversationHistory {
			history = append(history, models.Message{Role: item.Role, Content: item.Content})
		}
	}

	targets := make([]models.CompareTarget, len(r.Targets))
	for i, target := range r.Targets {
		targets[i] = models.CompareTarget{Provider: target.Provider, Model: target.Model}
	}

	return orchestrator.CompareRequest{
		Prompt:      r.Prompt,
		Targets:     targets,
		History:     history,
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
		Timeout:     time.Duration(r.TimeoutS * float64(time.Second)),
	}
}

// SessionID returns the caller's session identifier, if any.
func (r CompareRequest) SessionID() string {
	if r.Context == nil {
		return ""
	}
	return r.Context.SessionID
}
