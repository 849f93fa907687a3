package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{
		"DRONE_HUB_REGISTRY_PATH", "DRONE_HUB_LISTEN_ADDR", "DRONE_HUB_PROVISION_CONCURRENCY",
		"DRONE_HUB_PROMPT_ENQUEUE_TIMEOUT_MS", "DRONE_HUB_LLM_PROVIDER",
	} {
		os.Unsetenv(k)
	}

	cfg := Load()
	if cfg.RegistryPath != "/data/registry.json" {
		t.Errorf("RegistryPath = %q, want /data/registry.json", cfg.RegistryPath)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.ProvisionConcurrency() != 3 {
		t.Errorf("ProvisionConcurrency = %d, want 3", cfg.ProvisionConcurrency())
	}
	if cfg.PromptEnqueueTimeout() != 180*time.Second {
		t.Errorf("PromptEnqueueTimeout = %s, want 180s", cfg.PromptEnqueueTimeout())
	}
	if cfg.LLMProvider != "openai" {
		t.Errorf("LLMProvider = %q, want openai", cfg.LLMProvider)
	}
}

func TestProvisionConcurrencyClamped(t *testing.T) {
	t.Setenv("DRONE_HUB_PROVISION_CONCURRENCY", "50")
	cfg := Load()
	if cfg.ProvisionConcurrency() != 16 {
		t.Errorf("ProvisionConcurrency = %d, want clamped to 16", cfg.ProvisionConcurrency())
	}

	t.Setenv("DRONE_HUB_PROVISION_CONCURRENCY", "0")
	cfg = Load()
	if cfg.ProvisionConcurrency() != 1 {
		t.Errorf("ProvisionConcurrency = %d, want clamped to 1", cfg.ProvisionConcurrency())
	}
}

func TestPromptEnqueueTimeoutFloor(t *testing.T) {
	t.Setenv("DRONE_HUB_PROMPT_ENQUEUE_TIMEOUT_MS", "1000")
	cfg := Load()
	if cfg.PromptEnqueueTimeout() != 30*time.Second {
		t.Errorf("PromptEnqueueTimeout = %s, want floor of 30s", cfg.PromptEnqueueTimeout())
	}
}

func TestDaemonReadyTimeoutClamp(t *testing.T) {
	t.Setenv("DRONE_HUB_DAEMON_READY_TIMEOUT_MS", "999999")
	cfg := Load()
	if cfg.DaemonReadyTimeout() != 120*time.Second {
		t.Errorf("DaemonReadyTimeout = %s, want clamped to 120s", cfg.DaemonReadyTimeout())
	}
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	cfg := NewTestConfig()
	cfg.LLMProvider = "unknown"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() = nil, want error for unknown LLM provider")
	}
}

func TestEnvListParsing(t *testing.T) {
	t.Setenv("DRONE_HUB_CORS_ORIGINS", "http://localhost:3000, https://app.example.com ,")
	cfg := Load()
	want := []string{"http://localhost:3000", "https://app.example.com"}
	if len(cfg.CORSOrigins) != len(want) {
		t.Fatalf("CORSOrigins = %v, want %v", cfg.CORSOrigins, want)
	}
	for i := range want {
		if cfg.CORSOrigins[i] != want[i] {
			t.Errorf("CORSOrigins[%d] = %q, want %q", i, cfg.CORSOrigins[i], want[i])
		}
	}
}
