package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("IDEABOARD_CONFIG", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":8787" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.AssistantPollInterval != 500*time.Millisecond || cfg.AssistantMaxPolls != 120 {
		t.Fatalf("unexpected poll defaults: %v x %d", cfg.AssistantPollInterval, cfg.AssistantMaxPolls)
	}
	if cfg.SearchDebounce != 250*time.Millisecond {
		t.Fatalf("expected 250ms debounce, got %v", cfg.SearchDebounce)
	}
	if !cfg.Development() {
		t.Fatal("expected development env by default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("IDEABOARD_CONFIG", "")
	t.Setenv("API_ADDR", ":9999")
	t.Setenv("ASSISTANT_MAX_POLLS", "3")
	t.Setenv("S3_USE_SSL", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":9999" {
		t.Fatalf("expected env addr, got %q", cfg.Addr)
	}
	if cfg.AssistantMaxPolls != 3 {
		t.Fatalf("expected 3 polls, got %d", cfg.AssistantMaxPolls)
	}
	if !cfg.S3UseSSL {
		t.Fatal("expected S3UseSSL from env")
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ideaboard.toml")
	if err := os.WriteFile(path, []byte("FEED_CHANNEL = \"custom_feed\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("IDEABOARD_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.FeedChannel != "custom_feed" {
		t.Fatalf("expected feed channel from file, got %q", cfg.FeedChannel)
	}
}
