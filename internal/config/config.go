// Package config loads runtime configuration for the document service from a
// YAML file, with environment-variable overrides layered on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration for the document service.
type Config struct {
	Port string `yaml:"port"`

	// DataDir holds the bbolt database file and any export scratch space.
	DataDir string `yaml:"dataDir"`

	// DefaultClaimDuration seeds a file's settings.claimDurationSeconds when
	// not explicitly set at creation. Must be >= 60s per spec §3.
	DefaultClaimDuration time.Duration `yaml:"defaultClaimDuration"`

	// DefaultWIPLimit is recorded in a new workspace's default settings at
	// bootstrap, which files created in that workspace inherit.
	DefaultWIPLimit int `yaml:"defaultWIPLimit"`

	// SoftDeleteRetention is added to deletedAt to compute deleteExpiresAt.
	SoftDeleteRetention time.Duration `yaml:"softDeleteRetention"`

	// ReaperInterval is how often the soft-delete reaper sweeps for expired rows.
	ReaperInterval time.Duration `yaml:"reaperInterval"`

	// WebhookWorkers is the size of the webhook dispatcher's worker pool.
	WebhookWorkers int `yaml:"webhookWorkers"`

	// WebhookQueueDepth bounds the in-process delivery queue.
	WebhookQueueDepth int `yaml:"webhookQueueDepth"`

	// RateLimitPerMinute is the default per-key token-bucket rate.
	RateLimitPerMinute int `yaml:"rateLimitPerMinute"`

	// SessionCookieName is the cookie carrying the authenticated session JWT
	// consulted by the workspace-claim endpoint (C8).
	SessionCookieName string `yaml:"sessionCookieName"`

	// SessionSigningKey verifies the session JWT's signature. Required for
	// POST /w/:writeKey/claim to function; empty disables claim entirely.
	SessionSigningKey string `yaml:"sessionSigningKey"`
}

const (
	defaultDataDir            = "/data/capdocs"
	defaultClaimDurationSecs  = 900
	defaultWIPLimit           = 3
	defaultRetentionHours     = 24 * 7
	defaultReaperIntervalMins = 15
	defaultWebhookWorkers     = 8
	defaultWebhookQueueDepth  = 1024
	defaultRateLimitPerMinute = 600
	defaultSessionCookieName  = "capdocs_session"
	minClaimDurationSeconds   = 60
)

// Load reads the YAML file at path (if it exists) and layers environment
// overrides on top, the way the teacher's getEnv fallback chain works, just
// generalized to a structured file instead of flat env vars.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Port:                 getEnv("CAPDOCS_PORT", "8080"),
		DataDir:              getEnv("CAPDOCS_DATA_DIR", defaultDataDir),
		DefaultClaimDuration: time.Duration(defaultClaimDurationSecs) * time.Second,
		DefaultWIPLimit:      defaultWIPLimit,
		SoftDeleteRetention:  time.Duration(defaultRetentionHours) * time.Hour,
		ReaperInterval:       time.Duration(defaultReaperIntervalMins) * time.Minute,
		WebhookWorkers:       defaultWebhookWorkers,
		WebhookQueueDepth:    defaultWebhookQueueDepth,
		RateLimitPerMinute:   defaultRateLimitPerMinute,
		SessionCookieName:    defaultSessionCookieName,
		SessionSigningKey:    getEnv("CAPDOCS_SESSION_SIGNING_KEY", ""),
	}

	if path != "" {
		if b, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("config: parsing %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	cfg.Port = getEnv("CAPDOCS_PORT", cfg.Port)
	cfg.DataDir = getEnv("CAPDOCS_DATA_DIR", cfg.DataDir)
	if v := getEnv("CAPDOCS_WEBHOOK_WORKERS", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WebhookWorkers = n
		}
	}
	if v := getEnv("CAPDOCS_SESSION_SIGNING_KEY", ""); v != "" {
		cfg.SessionSigningKey = v
	}

	if cfg.DefaultClaimDuration < minClaimDurationSeconds*time.Second {
		return nil, fmt.Errorf("config: defaultClaimDuration must be >= %ds", minClaimDurationSeconds)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
