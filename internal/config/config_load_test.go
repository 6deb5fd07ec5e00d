package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Project.BufferMaxTurns != Default().Project.BufferMaxTurns {
		t.Errorf("BufferMaxTurns = %d, want default %d", cfg.Project.BufferMaxTurns, Default().Project.BufferMaxTurns)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		// buffer tunables
		"project": { "buffer_max_turns": 32, "buffer_ttl_seconds": 20 },
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Project.BufferMaxTurns != 32 {
		t.Errorf("BufferMaxTurns = %d, want 32", cfg.Project.BufferMaxTurns)
	}
	if cfg.Project.BufferTTLSeconds != 20 {
		t.Errorf("BufferTTLSeconds = %d, want 20", cfg.Project.BufferTTLSeconds)
	}
	// Untouched tunables keep their defaults.
	if cfg.Project.MaxRetries != Default().Project.MaxRetries {
		t.Errorf("MaxRetries = %d, want default %d", cfg.Project.MaxRetries, Default().Project.MaxRetries)
	}
}

func TestLoad_EnvOverridesAlwaysWin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	t.Setenv("TASKLOOM_POSTGRES_DSN", "postgres://env-wins")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.PostgresDSN != "postgres://env-wins" {
		t.Errorf("PostgresDSN = %q, want %q", cfg.Database.PostgresDSN, "postgres://env-wins")
	}
}

func TestSnapshot_ReflectsCurrentValues(t *testing.T) {
	cfg := Default()
	cfg.Project.BufferMaxTurns = 99

	snap := cfg.Snapshot()
	if snap.BufferMaxTurns != 99 {
		t.Errorf("Snapshot().BufferMaxTurns = %d, want 99", snap.BufferMaxTurns)
	}
}
