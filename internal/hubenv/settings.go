// Package hubenv implements the Hub's own settings and environment
// surface: LLM provider configuration, delete-action defaults,
// notification channel configuration, and log tailing (spec.md §6,
// SPEC_FULL.md §4.12).
package hubenv

import (
	"sync"

	"github.com/drone-hub/hub/internal/config"
	"github.com/drone-hub/hub/internal/logging"
	"github.com/drone-hub/hub/internal/registry"
)

// Settings implements web.SettingsProvider. LLM API keys are held only in
// memory, never written to the on-disk registry — the registry's
// Settings object persists provider/model choices and the delete-action
// default, but never secrets.
type Settings struct {
	store *registry.Store
	log   *logging.Logger

	mu        sync.RWMutex
	openAIKey string
	geminiKey string
}

// New seeds in-memory key state from config's environment-sourced
// defaults; SetLLMSettings overrides them at runtime.
func New(store *registry.Store, log *logging.Logger, cfg *config.Config) *Settings {
	return &Settings{
		store:     store,
		log:       log,
		openAIKey: cfg.OpenAIKey,
		geminiKey: cfg.GeminiKey,
	}
}

// GetSettings returns the registry's persisted settings object.
func (s *Settings) GetSettings() registry.Settings {
	return s.store.Load().Settings
}

// SetDeleteAction persists the default action (archive|delete) taken when
// a drone is deleted. Validation of the value happens in internal/web.
func (s *Settings) SetDeleteAction(action string) error {
	_, err := registry.Update(s.store, func(reg *registry.Registry) (struct{}, error) {
		reg.Settings.DeleteAction = action
		return struct{}{}, nil
	})
	return err
}

// SetLLMSettings updates the active provider and/or API keys. An empty
// string for provider, openAIKey, or geminiKey leaves that field
// unchanged, matching the three call shapes internal/web uses it with
// (provider plus OpenAI key, provider plus Gemini key, provider only).
func (s *Settings) SetLLMSettings(provider, openAIKey, geminiKey string) error {
	s.mu.Lock()
	if openAIKey != "" {
		s.openAIKey = openAIKey
	}
	if geminiKey != "" {
		s.geminiKey = geminiKey
	}
	s.mu.Unlock()

	if provider == "" {
		return nil
	}
	_, err := registry.Update(s.store, func(reg *registry.Registry) (struct{}, error) {
		reg.Settings.LLMProvider = provider
		return struct{}{}, nil
	})
	return err
}

// SetNotificationSettings persists the webhook/MQTT notification config.
func (s *Settings) SetNotificationSettings(n registry.NotificationSettings) error {
	_, err := registry.Update(s.store, func(reg *registry.Registry) (struct{}, error) {
		reg.Settings.Notifications = n
		return struct{}{}, nil
	})
	return err
}

// TailLogs returns up to the last n lines of the Hub's own log output.
func (s *Settings) TailLogs(n int) []string {
	return s.log.TailLogs(n)
}

// OpenAIKey returns the current in-memory OpenAI key: the settings-store
// value if one has been set at runtime, else the environment-sourced
// default from config, per spec.md §9's resolution order.
func (s *Settings) OpenAIKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openAIKey
}

// GeminiKey is the Gemini analogue of OpenAIKey.
func (s *Settings) GeminiKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.geminiKey
}

// ActiveProvider returns the provider stored in the registry settings,
// resolving to "openai" when unset.
func (s *Settings) ActiveProvider() string {
	provider := s.GetSettings().LLMProvider
	if provider == "" {
		return "openai"
	}
	return provider
}
