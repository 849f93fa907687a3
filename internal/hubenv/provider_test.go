package hubenv

import (
	"context"
	"testing"

	"github.com/drone-hub/hub/internal/apierr"
)

func TestOpenAIProviderModelFactoryRequiresKey(t *testing.T) {
	s := newTestSettings(t)
	p := NewOpenAIProvider(s)
	_, err := p.ModelFactory("gpt-4o-mini")
	ae, ok := apierr.As(err)
	if !ok || ae.Code != "missing_api_key" {
		t.Errorf("err = %v, want missing_api_key", err)
	}
}

func TestOpenAIProviderModelFactorySucceedsOnceKeyed(t *testing.T) {
	s := newTestSettings(t)
	if err := s.SetLLMSettings("openai", "sk-123", ""); err != nil {
		t.Fatalf("SetLLMSettings: %v", err)
	}
	p := NewOpenAIProvider(s)
	m, err := p.ModelFactory("gpt-4o-mini")
	if err != nil {
		t.Fatalf("ModelFactory: %v", err)
	}
	if m.Provider != "openai" || m.Name != "gpt-4o-mini" {
		t.Errorf("model = %+v", m)
	}
}

func TestGenerateObjectRejectsMismatchedProviderModel(t *testing.T) {
	s := newTestSettings(t)
	p := NewOpenAIProvider(s)
	_, err := p.GenerateObject(context.Background(), Model{Provider: "gemini", Name: "x"}, "prompt", nil)
	if err == nil {
		t.Error("expected error for mismatched provider model")
	}
}

func TestForSettingsResolvesByActiveProvider(t *testing.T) {
	s := newTestSettings(t)
	if _, ok := ForSettings(s).(*OpenAIProvider); !ok {
		t.Error("expected OpenAIProvider as default")
	}
	if err := s.SetLLMSettings("gemini", "", ""); err != nil {
		t.Fatalf("SetLLMSettings: %v", err)
	}
	if _, ok := ForSettings(s).(*GeminiProvider); !ok {
		t.Error("expected GeminiProvider once selected")
	}
}
