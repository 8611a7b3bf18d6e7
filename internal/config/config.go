// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	GitHubToken       string
	WebhookSecret     string
	ListenAddr        string
	DBPath            string
	Workers           int
	PollInterval      time.Duration
	SweepInterval     time.Duration // Zero disables scheduled sweeps.
	MaxClaims         int
	RateLimit         int
	JobAttempts       int
	JobBackoff        time.Duration
	RetryBackoff      time.Duration
	CancelTTL         time.Duration
	StrictTransitions bool
}

// HasGitHubCredentials reports whether a token is configured. Without one the
// service accepts triggers but runs no workers.
func (c *Config) HasGitHubCredentials() bool {
	return c.GitHubToken != ""
}

// Load reads configuration from environment variables and returns a validated
// Config. Every DRIFTWATCH_ variable is optional; malformed values are errors.
func Load() (*Config, error) {
	cfg := &Config{
		GitHubToken:   os.Getenv("DRIFTWATCH_GITHUB_TOKEN"),
		WebhookSecret: os.Getenv("DRIFTWATCH_WEBHOOK_SECRET"),
		ListenAddr:    "127.0.0.1:8080",
		DBPath:        "driftwatch.db",
		Workers:       4,
		PollInterval:  2 * time.Second,
		SweepInterval: 24 * time.Hour,
		MaxClaims:     50,
		RateLimit:     100,
		JobAttempts:   3,
		JobBackoff:    time.Second,
		RetryBackoff:  30 * time.Second,
		CancelTTL:     600 * time.Second,
	}

	if v, ok := os.LookupEnv("DRIFTWATCH_LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v, ok := os.LookupEnv("DRIFTWATCH_DB_PATH"); ok {
		cfg.DBPath = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"DRIFTWATCH_WORKERS", &cfg.Workers},
		{"DRIFTWATCH_MAX_CLAIMS", &cfg.MaxClaims},
		{"DRIFTWATCH_RATE_LIMIT", &cfg.RateLimit},
		{"DRIFTWATCH_JOB_ATTEMPTS", &cfg.JobAttempts},
	}
	for _, f := range ints {
		if err := lookupPositiveInt(f.key, f.dst); err != nil {
			return nil, err
		}
	}

	durations := []struct {
		key       string
		dst       *time.Duration
		allowZero bool
	}{
		{"DRIFTWATCH_POLL_INTERVAL", &cfg.PollInterval, false},
		{"DRIFTWATCH_SWEEP_INTERVAL", &cfg.SweepInterval, true},
		{"DRIFTWATCH_JOB_BACKOFF", &cfg.JobBackoff, false},
		{"DRIFTWATCH_RETRY_BACKOFF", &cfg.RetryBackoff, false},
		{"DRIFTWATCH_CANCEL_TTL", &cfg.CancelTTL, false},
	}
	for _, f := range durations {
		if err := lookupDuration(f.key, f.dst, f.allowZero); err != nil {
			return nil, err
		}
	}

	if v, ok := os.LookupEnv("DRIFTWATCH_STRICT_TRANSITIONS"); ok {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("DRIFTWATCH_STRICT_TRANSITIONS has invalid boolean %q: %w", v, err)
		}
		cfg.StrictTransitions = parsed
	}

	return cfg, nil
}

func lookupPositiveInt(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s has invalid integer %q: %w", key, v, err)
	}
	if parsed <= 0 {
		return fmt.Errorf("%s must be positive, got %d", key, parsed)
	}
	*dst = parsed
	return nil
}

func lookupDuration(key string, dst *time.Duration, allowZero bool) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	if parsed < 0 || (parsed == 0 && !allowZero) {
		return fmt.Errorf("%s must be positive, got %s", key, parsed)
	}
	*dst = parsed
	return nil
}
