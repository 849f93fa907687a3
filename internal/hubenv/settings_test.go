package hubenv

import (
	"path/filepath"
	"testing"

	"github.com/drone-hub/hub/internal/config"
	"github.com/drone-hub/hub/internal/logging"
	"github.com/drone-hub/hub/internal/registry"
)

func newTestSettings(t *testing.T) *Settings {
	t.Helper()
	store, err := registry.Open(filepath.Join(t.TempDir(), "registry.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	cfg := config.NewTestConfig()
	return New(store, logging.New(false), cfg)
}

func TestSetDeleteActionPersists(t *testing.T) {
	s := newTestSettings(t)
	if err := s.SetDeleteAction("delete"); err != nil {
		t.Fatalf("SetDeleteAction: %v", err)
	}
	if got := s.GetSettings().DeleteAction; got != "delete" {
		t.Errorf("DeleteAction = %q, want delete", got)
	}
}

func TestSetLLMSettingsUpdatesProviderAndKeysIndependently(t *testing.T) {
	s := newTestSettings(t)

	if err := s.SetLLMSettings("openai", "sk-123", ""); err != nil {
		t.Fatalf("SetLLMSettings: %v", err)
	}
	if s.OpenAIKey() != "sk-123" {
		t.Errorf("OpenAIKey = %q", s.OpenAIKey())
	}
	if got := s.GetSettings().LLMProvider; got != "openai" {
		t.Errorf("LLMProvider = %q, want openai", got)
	}

	if err := s.SetLLMSettings("gemini", "", "g-456"); err != nil {
		t.Fatalf("SetLLMSettings: %v", err)
	}
	if s.GeminiKey() != "g-456" {
		t.Errorf("GeminiKey = %q", s.GeminiKey())
	}
	if s.OpenAIKey() != "sk-123" {
		t.Error("OpenAIKey should be unchanged by a gemini-only update")
	}
}

func TestSetLLMSettingsProviderOnlyLeavesKeysUnchanged(t *testing.T) {
	s := newTestSettings(t)
	if err := s.SetLLMSettings("openai", "sk-1", "g-1"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.SetLLMSettings("gemini", "", ""); err != nil {
		t.Fatalf("SetLLMSettings: %v", err)
	}
	if s.OpenAIKey() != "sk-1" || s.GeminiKey() != "g-1" {
		t.Errorf("keys changed unexpectedly: openai=%q gemini=%q", s.OpenAIKey(), s.GeminiKey())
	}
	if got := s.GetSettings().LLMProvider; got != "gemini" {
		t.Errorf("LLMProvider = %q, want gemini", got)
	}
}

func TestSetNotificationSettingsPersists(t *testing.T) {
	s := newTestSettings(t)
	n := registry.NotificationSettings{WebhookURL: "https://example.com/hook"}
	if err := s.SetNotificationSettings(n); err != nil {
		t.Fatalf("SetNotificationSettings: %v", err)
	}
	if got := s.GetSettings().Notifications; got.WebhookURL != n.WebhookURL {
		t.Errorf("Notifications = %+v", got)
	}
}

func TestTailLogsDelegatesToLogger(t *testing.T) {
	s := newTestSettings(t)
	s.log.Info("an event happened")
	if len(s.TailLogs(0)) == 0 {
		t.Error("expected at least one log line")
	}
}
