package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rpattn/ddsetl/internal/domain"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

func TestLoadDefaultsWithoutFiles(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("unexpected config (-want +got):\n%s", diff)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadReadsYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", `
database:
  host: db.internal
  port: 6543
  dbname: warehouse
pipeline:
  start_date: "2023-06-01"
  end_date: "2023-06-30"
  skip_secondary_migration: true
readiness:
  max_retries: 3
  delay: 250ms
http:
  allowed_origins:
    - https://a.example
    - https://b.example
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Database.Host != "db.internal" || cfg.Database.Port != 6543 || cfg.Database.DBName != "warehouse" {
		t.Fatalf("unexpected database config: %+v", cfg.Database)
	}
	if cfg.Database.User != "user" {
		t.Fatalf("unset keys should keep defaults, got user %q", cfg.Database.User)
	}
	if !cfg.Pipeline.SkipSecondaryMigration {
		t.Fatalf("expected skip flag to be read")
	}
	if cfg.Readiness.MaxRetries != 3 || cfg.Readiness.Delay != 250*time.Millisecond {
		t.Fatalf("unexpected readiness config: %+v", cfg.Readiness)
	}
	if diff := cmp.Diff([]string{"https://a.example", "https://b.example"}, cfg.HTTP.AllowedOrigins); diff != "" {
		t.Fatalf("unexpected origins (-want +got):\n%s", diff)
	}

	r, err := cfg.DateRange()
	if err != nil {
		t.Fatalf("DateRange returned error: %v", err)
	}
	if r.Start != domain.Date(2023, time.June, 1) || r.End != domain.Date(2023, time.June, 30) {
		t.Fatalf("unexpected range %s", r)
	}
}

func TestEnvironmentOverridesFileAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "database:\n  host: from-yaml\n")
	writeFile(t, dir, ".env", "DB_NAME=from_dotenv\n")
	t.Setenv("DB_HOST", "from-env")
	t.Setenv("DDSETL_LOG_LEVEL", "debug")
	t.Setenv("DDSETL_HTTP_ALLOWED_ORIGINS", "https://x.example,https://y.example")
	// godotenv writes to the process environment; registering DB_NAME with
	// t.Setenv restores it afterwards.
	t.Setenv("DB_NAME", "")
	os.Unsetenv("DB_NAME")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Database.Host != "from-env" {
		t.Fatalf("expected env to win over yaml, got %q", cfg.Database.Host)
	}
	if cfg.Database.DBName != "from_dotenv" {
		t.Fatalf("expected .env value, got %q", cfg.Database.DBName)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected prefixed env override, got %q", cfg.Log.Level)
	}
	if len(cfg.HTTP.AllowedOrigins) != 2 {
		t.Fatalf("expected comma separated origins to split, got %v", cfg.HTTP.AllowedOrigins)
	}
}

func TestLoadRejectsBrokenYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "database: [unterminated\n")
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Default()
	cfg.Database.Host = ""
	cfg.Database.Port = 70000
	cfg.Pipeline.StartDate = "2023-12-31"
	cfg.Pipeline.EndDate = "2023-01-01"
	cfg.Readiness.MaxRetries = 0
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	for _, fragment := range []string{"host", "port", "pipeline range", "max_retries", "log level"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("expected %q in %q", fragment, err.Error())
		}
	}
}

func TestValidateAllowsMissingSecondaryWhenSkipped(t *testing.T) {
	cfg := Default()
	cfg.Secondary.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing secondary path to be rejected")
	}
	cfg.Pipeline.SkipSecondaryMigration = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected skip to allow missing path: %v", err)
	}
}

func TestThresholdOverrides(t *testing.T) {
	cfg := Default()
	cfg.Ruleset.HighWaterMark = "2025-12-31"
	cfg.Ruleset.ExtendedWindowDays = 10

	th, err := cfg.Thresholds()
	if err != nil {
		t.Fatalf("Thresholds returned error: %v", err)
	}
	if th.HighWaterMark != domain.Date(2025, time.December, 31) {
		t.Fatalf("unexpected high water mark %s", th.HighWaterMark)
	}
	if th.ExtendedWindow != 10*24*time.Hour {
		t.Fatalf("unexpected extended window %s", th.ExtendedWindow)
	}

	cfg.Ruleset.DefaultWindowStart = "2026-01-01"
	if _, err := cfg.Thresholds(); err == nil {
		t.Fatalf("expected window start after high water mark to be rejected")
	}
}
