package hubenv

import (
	"context"
	"fmt"

	"github.com/drone-hub/hub/internal/apierr"
)

// Model identifies a resolved LLM model handle returned by a Provider's
// ModelFactory.
type Model struct {
	Provider string
	Name     string
}

// Provider is the Hub's replacement for the source's dynamic LLM SDK
// imports (spec.md §9): a provider interface of {generateObject,
// modelFactory} with one implementation per supported provider. Both
// implementations here are deliberately call-shaped but make no outbound
// network calls — the LLM SDK integration itself is out of scope
// (spec.md §1); only the interface and key-resolution order are in
// scope for the Hub.
type Provider interface {
	// ModelFactory resolves a model name to a usable Model handle,
	// failing if no API key is configured for this provider.
	ModelFactory(name string) (Model, error)
	// GenerateObject asks the model to produce a JSON object matching
	// shape for prompt. Callers (drone naming, chat TL;DR, job
	// classification) supply shape as an example/template value.
	GenerateObject(ctx context.Context, model Model, prompt string, shape any) (map[string]any, error)
}

// OpenAIProvider is the OpenAI-backed Provider implementation.
type OpenAIProvider struct {
	settings *Settings
}

// NewOpenAIProvider constructs an OpenAIProvider reading its key from settings.
func NewOpenAIProvider(settings *Settings) *OpenAIProvider {
	return &OpenAIProvider{settings: settings}
}

func (p *OpenAIProvider) ModelFactory(name string) (Model, error) {
	if p.settings.OpenAIKey() == "" {
		return Model{}, apierr.Invalid("missing_api_key", "no OpenAI API key configured")
	}
	if name == "" {
		return Model{}, apierr.Invalid("missing_model", "model name is required")
	}
	return Model{Provider: "openai", Name: name}, nil
}

func (p *OpenAIProvider) GenerateObject(ctx context.Context, model Model, prompt string, shape any) (map[string]any, error) {
	if model.Provider != "openai" {
		return nil, fmt.Errorf("hubenv: model %q is not an openai model", model.Name)
	}
	return nil, apierr.Unavailable("llm_not_configured", "LLM generation is not available in this deployment")
}

// GeminiProvider is the Gemini-backed Provider implementation.
type GeminiProvider struct {
	settings *Settings
}

// NewGeminiProvider constructs a GeminiProvider reading its key from settings.
func NewGeminiProvider(settings *Settings) *GeminiProvider {
	return &GeminiProvider{settings: settings}
}

func (p *GeminiProvider) ModelFactory(name string) (Model, error) {
	if p.settings.GeminiKey() == "" {
		return Model{}, apierr.Invalid("missing_api_key", "no Gemini API key configured")
	}
	if name == "" {
		return Model{}, apierr.Invalid("missing_model", "model name is required")
	}
	return Model{Provider: "gemini", Name: name}, nil
}

func (p *GeminiProvider) GenerateObject(ctx context.Context, model Model, prompt string, shape any) (map[string]any, error) {
	if model.Provider != "gemini" {
		return nil, fmt.Errorf("hubenv: model %q is not a gemini model", model.Name)
	}
	return nil, apierr.Unavailable("llm_not_configured", "LLM generation is not available in this deployment")
}

// ForSettings resolves the Provider implementation matching settings'
// currently active provider.
func ForSettings(settings *Settings) Provider {
	if settings.ActiveProvider() == "gemini" {
		return NewGeminiProvider(settings)
	}
	return NewOpenAIProvider(settings)
}
