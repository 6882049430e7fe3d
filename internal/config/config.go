package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Defaults for the tracking engine. Periods follow the remote contract:
// timer.updatePeriod is one of 1, 5 or 10 minutes.
const (
	DefaultAPIURL = "http://localhost:3000"

	DefaultDialect = "sqlite"

	DefaultUpdatePeriodMinutes   = 10
	DefaultInactivityLimitMin    = 10
	DefaultActivityProofDuration = 1

	DefaultCollectInterval = 1 * time.Second
	DefaultProbeInterval   = 40 * time.Second
)

// Config carries everything the agent needs at construction time. Settings
// that the user can change at runtime live in the LocalStore instead.
type Config struct {
	APIURL  string
	DataDir string

	// Database selection. Dialect is sqlite (default), postgres or mysql;
	// DSN is ignored for sqlite, which derives its path from DataDir.
	Dialect string
	DSN     string

	CollectInterval time.Duration
	ProbeInterval   time.Duration

	Debug   bool
	Verbose bool
}

// Load builds a Config from the environment, after loading an optional
// .env file from the data directory.
func Load() (*Config, error) {
	dataDir, err := dataDir()
	if err != nil {
		return nil, err
	}
	// Missing .env is fine, the environment alone is enough.
	_ = loadEnvFile(filepath.Join(dataDir, ".env"))

	cfg := &Config{
		APIURL:          envOr("WORKTRACK_API_URL", DefaultAPIURL),
		DataDir:         dataDir,
		Dialect:         envOr("WORKTRACK_DB_DIALECT", DefaultDialect),
		DSN:             os.Getenv("WORKTRACK_DB_DSN"),
		CollectInterval: DefaultCollectInterval,
		ProbeInterval:   DefaultProbeInterval,
		Debug:           envBool("WORKTRACK_DEBUG"),
		Verbose:         envBool("WORKTRACK_VERBOSE"),
	}
	if v := os.Getenv("WORKTRACK_PROBE_INTERVAL_SEC"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.ProbeInterval = time.Duration(secs) * time.Second
		}
	}
	switch cfg.Dialect {
	case "sqlite", "postgres", "mysql":
	default:
		return nil, fmt.Errorf("unsupported database dialect %q", cfg.Dialect)
	}
	return cfg, nil
}

// DatabasePath returns the sqlite file location under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "worktrack.db")
}

// ScreenshotDir returns where captured screenshots are staged before upload.
func (c *Config) ScreenshotDir() string {
	return filepath.Join(c.DataDir, "screenshots")
}

func dataDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	dir := filepath.Join(homeDir, ".worktrack")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	return dir, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

// loadEnvFile loads KEY=VALUE pairs from a .env style file into the process
// environment. Lines starting with # are comments.
func loadEnvFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		os.Setenv(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
	}
	return scanner.Err()
}
