package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pacecrew/hpoints-engine/config"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("expected default listen :8080, got %q", cfg.Listen)
	}
	if cfg.Points.ExpiryDays != 180 {
		t.Errorf("expected 180 day expiry, got %d", cfg.Points.ExpiryDays)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hpoints.toml")
	content := `
listen = ":9090"

[points]
expiry_days = 90
sweep_interval = "30m"

[points.per_km]
base = 4
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Listen != ":9090" {
		t.Errorf("expected :9090, got %q", cfg.Listen)
	}
	if got := cfg.ExpiryWindow(); got != 90*24*time.Hour {
		t.Errorf("expected 90 day window, got %v", got)
	}
	if got := cfg.SweepInterval(); got != 30*time.Minute {
		t.Errorf("expected 30m sweep, got %v", got)
	}
	if cfg.Points.PerKm["base"] != 4 {
		t.Errorf("expected base rate 4, got %d", cfg.Points.PerKm["base"])
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("listen = ["), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := config.Load(path); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestSweepInterval_BadValueFallsBack(t *testing.T) {
	cfg := config.Default()
	cfg.Points.SweepInterval = "often"
	if got := cfg.SweepInterval(); got != time.Hour {
		t.Errorf("expected 1h fallback, got %v", got)
	}
}
