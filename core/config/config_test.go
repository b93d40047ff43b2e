package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dossier.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Model == "" || cfg.Limits.MaxConcurrent <= 0 {
		t.Fatalf("defaults incomplete: %+v", cfg)
	}
	if cfg.Limits.FilterThreshold != 6 {
		t.Fatalf("default filter threshold = %d, want 6", cfg.Limits.FilterThreshold)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfigFile(t, "llm:\n  model: test\nsurprise: true\n")

	_, err := Load(path)
	var cfgErr *Error
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *config.Error for unknown key, got %v", err)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
llm:
  model: some-model
  timeout_s: 30
limits:
  max_depth: 5
sources:
  websearch:
    enabled: true
    api_key_env: WEBSEARCH_API_KEY
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Model != "some-model" {
		t.Errorf("llm.model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.Timeout() != 30*time.Second {
		t.Errorf("llm timeout = %v", cfg.LLM.Timeout())
	}
	if cfg.Limits.MaxDepth != 5 {
		t.Errorf("limits.max_depth = %d", cfg.Limits.MaxDepth)
	}
	if src, ok := cfg.Sources["websearch"]; !ok || !src.Enabled || src.APIKeyEnv != "WEBSEARCH_API_KEY" {
		t.Errorf("sources.websearch = %+v", cfg.Sources["websearch"])
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "llm:\n  model: from-file\n")
	t.Setenv("DOSSIER_LLM_MODEL", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Model != "from-env" {
		t.Fatalf("llm.model = %q, want env override", cfg.LLM.Model)
	}
}
