package routing

import (
	"os"
	"strings"
)

// Target names a provider/model pair chosen by the policy. An empty Model
// falls back to the provider's default model.
type Target struct {
	Provider string
	Model    string
}

// Policy decides which backend serves a prompt when the caller does not pin
// one. The keyword tables, the length threshold and the per-gate targets are
// data, not control flow: callers may swap any of them. The decision order is
// fixed and is part of the contract: smart-mode gate, research gate, code
// gate, reasoning/length gate, creative gate, default.
type Policy struct {
	Default   Target
	Research  Target
	Code      Target
	Reasoning Target
	Creative  Target

	CodeKeywords      []string
	ReasoningKeywords []string
	CreativeKeywords  []string

	// Prompts longer than this many characters route to the reasoning
	// target even without a keyword match.
	LengthThreshold int

	// DefaultModels resolves an empty Target.Model by provider name.
	DefaultModels map[string]string
}

// NewPolicy returns the built-in routing policy. Per-provider default models
// may be overridden through CORTEX_DEFAULT_MODEL_<PROVIDER> environment
// variables, resolved once here so Choose itself stays pure.
func NewPolicy() Policy {
	defaults := map[string]string{
		"openai":   "gpt-4o-mini",
		"gemini":   "gemini-1.5-flash",
		"deepseek": "deepseek-chat",
		"grok":     "grok-2-latest",
	}
	for name := range defaults {
		if override := os.Getenv("CORTEX_DEFAULT_MODEL_" + strings.ToUpper(name)); override != "" {
			defaults[name] = override
		}
	}

	return Policy{
		Default:   Target{Provider: "openai", Model: "gpt-4o-mini"},
		Research:  Target{Provider: "gemini", Model: "gemini-1.5-pro"},
		Code:      Target{Provider: "deepseek", Model: "deepseek-reasoner"},
		Reasoning: Target{Provider: "openai", Model: "gpt-4o"},
		Creative:  Target{Provider: "grok"},

		CodeKeywords: []string{
			"debug", "stack trace", "traceback", "compile", "exception",
			"segfault", "refactor", "bug", "code", "function",
		},
		ReasoningKeywords: []string{
			"analyze", "analyse", "compare", "explain", "evaluate",
			"reasoning", "trade-off", "pros and cons", "difference", "why",
		},
		CreativeKeywords: []string{
			"story", "poem", "write a", "creative", "imagine",
			"fiction", "song", "lyrics", "screenplay",
		},

		LengthThreshold: 900,
		DefaultModels:   defaults,
	}
}

// Choose resolves the provider and model for a prompt. It is deterministic
// and side-effect-free: identical input always yields identical output.
func (p Policy) Choose(prompt string, smartMode, researchMode bool) (string, string) {
	if !smartMode {
		return p.resolve(p.Default)
	}
	if researchMode {
		return p.resolve(p.Research)
	}

	lowered := strings.ToLower(prompt)

	if containsAny(lowered, p.CodeKeywords) {
		return p.resolve(p.Code)
	}
	if containsAny(lowered, p.ReasoningKeywords) || len(prompt) > p.LengthThreshold {
		return p.resolve(p.Reasoning)
	}
	if containsAny(lowered, p.CreativeKeywords) {
		return p.resolve(p.Creative)
	}
	return p.resolve(p.Default)
}

// DefaultModel returns the default model for a provider, empty when unknown.
func (p Policy) DefaultModel(provider string) string {
	return p.DefaultModels[strings.ToLower(provider)]
}

func (p Policy) resolve(t Target) (string, string) {
	if t.Model != "" {
		return t.Provider, t.Model
	}
	return t.Provider, p.DefaultModels[t.Provider]
}

func containsAny(text string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}
