package config

import (
	"path/filepath"
	"testing"
	"time"
)

func setTestDirs(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DATABASE_PATH", filepath.Join(dir, "data", "test.db"))
	t.Setenv("UPLOAD_DIR", filepath.Join(dir, "uploads"))
}

func TestLoadDefaults(t *testing.T) {
	setTestDirs(t)
	cfg := Load()

	if cfg.OllamaBaseURL != "http://localhost:11434" {
		t.Errorf("ollama base url %q", cfg.OllamaBaseURL)
	}
	if cfg.Gen.UnitTargetChars != 2000 {
		t.Errorf("unit target %d", cfg.Gen.UnitTargetChars)
	}
	if cfg.Gen.OverlapThreshold != 0.7 {
		t.Errorf("overlap threshold %f", cfg.Gen.OverlapThreshold)
	}
	if cfg.Gen.MinDensityFactor != 0.5 || cfg.Gen.MaxDensityFactor != 1.25 {
		t.Errorf("density clamps %f-%f", cfg.Gen.MinDensityFactor, cfg.Gen.MaxDensityFactor)
	}
	if cfg.Gen.GenerateTimeout != 180*time.Second {
		t.Errorf("generate timeout %v", cfg.Gen.GenerateTimeout)
	}
	if len(cfg.Remotes) != 0 {
		t.Errorf("unexpected remotes %v", cfg.Remotes)
	}
}

func TestLoadOverrides(t *testing.T) {
	setTestDirs(t)
	t.Setenv("MAX_UNITS", "7")
	t.Setenv("OVERLAP_THRESHOLD", "0.85")
	t.Setenv("GENERATE_TIMEOUT", "90s")

	cfg := Load()
	if cfg.Gen.MaxUnits != 7 {
		t.Errorf("max units %d", cfg.Gen.MaxUnits)
	}
	if cfg.Gen.OverlapThreshold != 0.85 {
		t.Errorf("overlap threshold %f", cfg.Gen.OverlapThreshold)
	}
	if cfg.Gen.GenerateTimeout != 90*time.Second {
		t.Errorf("generate timeout %v", cfg.Gen.GenerateTimeout)
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	setTestDirs(t)
	t.Setenv("MAX_UNITS", "lots")
	t.Setenv("OVERLAP_THRESHOLD", "high")

	cfg := Load()
	if cfg.Gen.MaxUnits != 22 {
		t.Errorf("max units %d, want default", cfg.Gen.MaxUnits)
	}
	if cfg.Gen.OverlapThreshold != 0.7 {
		t.Errorf("overlap threshold %f, want default", cfg.Gen.OverlapThreshold)
	}
}

func TestRemoteKeyExpansion(t *testing.T) {
	setTestDirs(t)
	t.Setenv("GROQ_API_KEYS", "key-one, key-two ,")
	t.Setenv("OPENAI_API_KEYS", "solo-key")

	cfg := Load()
	if len(cfg.Remotes) != 2 {
		t.Fatalf("got %d remotes", len(cfg.Remotes))
	}

	groq := cfg.Remotes[0]
	if groq.Name != "groq" || len(groq.Keys) != 2 {
		t.Errorf("groq remote %+v", groq)
	}
	if groq.Keys[0] != "key-one" || groq.Keys[1] != "key-two" {
		t.Errorf("keys not trimmed: %v", groq.Keys)
	}

	if cfg.Remotes[1].Name != "openai" || len(cfg.Remotes[1].Keys) != 1 {
		t.Errorf("openai remote %+v", cfg.Remotes[1])
	}
}
