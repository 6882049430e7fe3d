package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WORKTRACK_API_URL", "")
	t.Setenv("WORKTRACK_DB_DIALECT", "")
	t.Setenv("WORKTRACK_DEBUG", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIURL != DefaultAPIURL {
		t.Fatalf("expected default api url, got %q", cfg.APIURL)
	}
	if cfg.Dialect != "sqlite" {
		t.Fatalf("expected sqlite default, got %q", cfg.Dialect)
	}
	if cfg.ProbeInterval != DefaultProbeInterval || cfg.CollectInterval != DefaultCollectInterval {
		t.Fatalf("unexpected intervals: %+v", cfg)
	}
	if cfg.Debug || cfg.Verbose {
		t.Fatal("debug flags must default off")
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("WORKTRACK_API_URL", "https://api.example.com")
	t.Setenv("WORKTRACK_DB_DIALECT", "postgres")
	t.Setenv("WORKTRACK_DB_DSN", "host=localhost user=agent dbname=worktrack")
	t.Setenv("WORKTRACK_PROBE_INTERVAL_SEC", "15")
	t.Setenv("WORKTRACK_DEBUG", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIURL != "https://api.example.com" {
		t.Fatalf("unexpected api url %q", cfg.APIURL)
	}
	if cfg.Dialect != "postgres" || cfg.DSN == "" {
		t.Fatalf("unexpected database config: %+v", cfg)
	}
	if cfg.ProbeInterval != 15*time.Second {
		t.Fatalf("unexpected probe interval %s", cfg.ProbeInterval)
	}
	if !cfg.Debug {
		t.Fatal("expected debug enabled")
	}
}

func TestLoadRejectsUnknownDialect(t *testing.T) {
	t.Setenv("WORKTRACK_DB_DIALECT", "oracle")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unsupported dialect")
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := &Config{DataDir: "/data/worktrack"}
	if got := cfg.DatabasePath(); got != filepath.Join("/data/worktrack", "worktrack.db") {
		t.Fatalf("unexpected database path %q", got)
	}
	if got := cfg.ScreenshotDir(); got != filepath.Join("/data/worktrack", "screenshots") {
		t.Fatalf("unexpected screenshot dir %q", got)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# remote endpoint\nTEST_ENVFILE_URL = https://example.com\n\nbroken line\nTEST_ENVFILE_FLAG=1\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("TEST_ENVFILE_URL", "")
	t.Setenv("TEST_ENVFILE_FLAG", "")

	if err := loadEnvFile(path); err != nil {
		t.Fatalf("load env file: %v", err)
	}
	if got := os.Getenv("TEST_ENVFILE_URL"); got != "https://example.com" {
		t.Fatalf("expected trimmed value, got %q", got)
	}
	if got := os.Getenv("TEST_ENVFILE_FLAG"); got != "1" {
		t.Fatalf("expected flag loaded, got %q", got)
	}
}

func TestLoadEnvFileMissing(t *testing.T) {
	if err := loadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}
