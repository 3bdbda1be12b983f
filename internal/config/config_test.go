package config

import (
	"testing"
)

func TestLoad_MissingAPIKey(t *testing.T) {
	t.Setenv("SECONDBRAIN_OPENAI_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	// Client commands only need addresses, so loading must succeed; the
	// server asks for the key explicitly.
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load without API key: %v", err)
	}
	if err := cfg.RequireAPIKey(); err == nil {
		t.Fatal("expected error when API key is missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("expected default port 4000, got %d", cfg.Server.Port)
	}
	if cfg.OpenAI.EmbedModel != "text-embedding-3-small" {
		t.Errorf("unexpected embed model %q", cfg.OpenAI.EmbedModel)
	}
	if cfg.Vector.URL != "" {
		t.Errorf("expected empty vector URL by default, got %q", cfg.Vector.URL)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("SECONDBRAIN_PORT", "5555")
	t.Setenv("SECONDBRAIN_VECTOR_URL", "http://localhost:8000")
	t.Setenv("SECONDBRAIN_CHAT_MODEL", "gpt-4o")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5555 {
		t.Errorf("port override not applied: %d", cfg.Server.Port)
	}
	if cfg.Vector.URL != "http://localhost:8000" {
		t.Errorf("vector URL override not applied: %q", cfg.Vector.URL)
	}
	if cfg.OpenAI.ChatModel != "gpt-4o" {
		t.Errorf("chat model override not applied: %q", cfg.OpenAI.ChatModel)
	}
}

func TestLoad_PrefixedKeyWins(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-generic")
	t.Setenv("SECONDBRAIN_OPENAI_API_KEY", "sk-specific")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OpenAI.APIKey != "sk-specific" {
		t.Errorf("expected prefixed key to win, got %q", cfg.OpenAI.APIKey)
	}
}
