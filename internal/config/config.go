// Package config loads syncmesh's process-level configuration from a TOML
// file, with environment variable overrides and optional hot-reload on
// file change. Resolution follows the teacher's own config.Initialize
// layering: flags (applied by cmd/syncd on top of the returned Config) >
// viper (config file + env vars) > defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

// Config is the process-level configuration (§5 resource model): database
// DSN, process secret seeding the crypto vault, worker pool size, and
// default retry policy.
type Config struct {
	DatabaseDSN     string
	ProcessSecret   string
	WorkerCount     int
	MaxQueueLength  int
	MaxAttempts     int
	WebhookAddr     string
	MappingCacheTTL time.Duration
	ShutdownGrace   time.Duration
}

const (
	envPrefix = "SYNCMESH"

	defaultWorkerCount     = 5
	defaultMaxQueueLength  = 100
	defaultMaxAttempts     = 3
	defaultWebhookAddr     = ":8090"
	defaultMappingCacheTTL = 5 * time.Minute
	defaultShutdownGrace   = 30 * time.Second
)

// newViper builds a fresh viper instance bound to SYNCMESH_* environment
// variables, the same SetEnvPrefix/AutomaticEnv wiring the teacher's own
// config package uses for its BD_/BEADS_ prefixes.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	v.SetDefault("worker_count", defaultWorkerCount)
	v.SetDefault("max_queue_length", defaultMaxQueueLength)
	v.SetDefault("max_attempts", defaultMaxAttempts)
	v.SetDefault("webhook_addr", defaultWebhookAddr)
	v.SetDefault("mapping_cache_ttl", defaultMappingCacheTTL.String())
	v.SetDefault("shutdown_grace", defaultShutdownGrace.String())
	return v
}

// Load reads path as TOML (if present) into a fresh viper instance from
// newViper, binds SYNCMESH_DATABASE_DSN, SYNCMESH_PROCESS_SECRET,
// SYNCMESH_WORKER_COUNT, SYNCMESH_MAX_QUEUE_LENGTH, SYNCMESH_MAX_ATTEMPTS,
// SYNCMESH_WEBHOOK_ADDR, SYNCMESH_MAPPING_CACHE_TTL and
// SYNCMESH_SHUTDOWN_GRACE as overrides, and resolves the result into a
// Config. A missing file is not an error; only env vars and defaults apply
// in that case.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	mappingCacheTTL, err := time.ParseDuration(v.GetString("mapping_cache_ttl"))
	if err != nil {
		return nil, fmt.Errorf("config: mapping_cache_ttl: %w", err)
	}
	shutdownGrace, err := time.ParseDuration(v.GetString("shutdown_grace"))
	if err != nil {
		return nil, fmt.Errorf("config: shutdown_grace: %w", err)
	}

	cfg := &Config{
		DatabaseDSN:     v.GetString("database_dsn"),
		ProcessSecret:   v.GetString("process_secret"),
		WorkerCount:     v.GetInt("worker_count"),
		MaxQueueLength:  v.GetInt("max_queue_length"),
		MaxAttempts:     v.GetInt("max_attempts"),
		WebhookAddr:     v.GetString("webhook_addr"),
		MappingCacheTTL: mappingCacheTTL,
		ShutdownGrace:   shutdownGrace,
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = defaultWorkerCount
	}
	if cfg.MaxQueueLength <= 0 {
		cfg.MaxQueueLength = defaultMaxQueueLength
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.WebhookAddr == "" {
		cfg.WebhookAddr = defaultWebhookAddr
	}
	if cfg.ProcessSecret == "" {
		return nil, fmt.Errorf("config: process_secret is required")
	}
	return cfg, nil
}
