/*
config.go - Runtime configuration

PURPOSE:
  Reads settings from the environment, after loading an optional .env file.
  Command-line flags in cmd/server override the values read here.

VARIABLES:
  PORT            HTTP port (default 8080)
  DB_PATH         SQLite path, ":memory:" for ephemeral (default reports.db)
  SCRIPT_URL      Remote script endpoint; empty runs the offline mock backend
  SYNC_INTERVAL   Scheduled sync period, "0" disables (default 5m)
  REMOTE_TIMEOUT  Per-request timeout for the remote backend (default 15s)
  DEFAULT_PREFIX  ID prefix used before login (default C)
  LOG_LEVEL       logrus level (default info)
  OPENAI_API_KEY  Key for the report review model; empty answers "AI Offline."
  OPENAI_MODEL    Review model (default gpt-4o-mini)
  OPENAI_BASE_URL Override of the OpenAI-compatible endpoint
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the server settings.
type Config struct {
	Port          int
	DBPath        string
	ScriptURL     string
	SyncInterval  time.Duration
	RemoteTimeout time.Duration
	DefaultPrefix string
	LogLevel      string

	ReviewAPIKey  string
	ReviewModel   string
	ReviewBaseURL string
}

// Load reads .env (if present) and the environment.
func Load() (Config, error) {
	// Missing .env is fine; real env vars still apply.
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		Port:          8080,
		DBPath:        "reports.db",
		ScriptURL:     getenv("SCRIPT_URL"),
		SyncInterval:  5 * time.Minute,
		RemoteTimeout: 15 * time.Second,
		DefaultPrefix: "C",
		LogLevel:      "info",
		ReviewAPIKey:  getenv("OPENAI_API_KEY"),
		ReviewModel:   getenv("OPENAI_MODEL"),
		ReviewBaseURL: getenv("OPENAI_BASE_URL"),
	}

	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Port = port
	}
	if v := getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("SYNC_INTERVAL"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid SYNC_INTERVAL %q: %w", v, err)
		}
		cfg.SyncInterval = d
	}
	if v := getenv("REMOTE_TIMEOUT"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid REMOTE_TIMEOUT %q: %w", v, err)
		}
		cfg.RemoteTimeout = d
	}
	if v := getenv("DEFAULT_PREFIX"); v != "" {
		cfg.DefaultPrefix = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return cfg, nil
}

// parseDuration accepts Go durations and a bare "0".
func parseDuration(v string) (time.Duration, error) {
	if v == "0" {
		return 0, nil
	}
	return time.ParseDuration(v)
}
