// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order; the first existing file is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/onixmirror/config.yaml",
	"/etc/onixmirror/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:        "https://www.dilve.es/dilve/dilve",
			Timeout:        30 * time.Second,
			MaxRetries:     3,
			RetryDelay:     time.Second,
			BreakerTimeout: 2 * time.Minute,
		},
		Store: StoreConfig{
			Path:         "data/onixmirror.db",
			RootTable:    "product",
			BusyTimeout:  5 * time.Second,
			SnapshotKeep: 7,
		},
		Pipeline: PipelineConfig{
			BatchSize:     20000,
			SubBatchSize:  50,
			Workers:       10,
			GroupTags:     append([]string(nil), DefaultGroupTags...),
			LogMaxRecords: 100000,
		},
		Sync: SyncConfig{
			Interval:      24 * time.Hour,
			WatermarkFile: "data/fromDate.txt",
			StatusFile:    "data/status.txt",
			PurgeDeleted:  true,
		},
		Events: EventsConfig{
			Enabled:     true,
			TopicPrefix: "onix",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			RateLimit:       60,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// sliceConfigPaths are split on commas when they arrive from the environment.
var sliceConfigPaths = []string{
	"pipeline.group_tags",
	"server.cors_origins",
}

// LoadWithKoanf layers defaults, the optional YAML file and the environment.
func LoadWithKoanf() (*Config, error) {
	return loadWithKoanf(findConfigFile())
}

// LoadFrom is LoadWithKoanf with an explicit config file, which must exist.
func LoadFrom(path string) (*Config, error) {
	if path == "" {
		return LoadWithKoanf()
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	return loadWithKoanf(path)
}

func loadWithKoanf(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

var envMappings = map[string]string{
	"onix_api_url":         "api.base_url",
	"onix_api_user":        "api.user",
	"onix_api_password":    "api.password",
	"onix_api_timeout":     "api.timeout",
	"onix_api_max_retries": "api.max_retries",
	"onix_api_retry_delay": "api.retry_delay",
	"onix_api_rps":         "api.requests_per_second",
	"onix_breaker_timeout": "api.breaker_timeout",

	"onix_db_path":       "store.path",
	"onix_root_table":    "store.root_table",
	"onix_snapshot_dir":  "store.snapshot_dir",
	"onix_snapshot_keep": "store.snapshot_keep",
	"onix_progress_dir":  "store.progress_dir",
	"onix_busy_timeout":  "store.busy_timeout",

	"onix_batch_size":      "pipeline.batch_size",
	"onix_sub_batch_size":  "pipeline.sub_batch_size",
	"onix_workers":         "pipeline.workers",
	"onix_group_tags":      "pipeline.group_tags",
	"onix_log_dir":         "pipeline.log_dir",
	"onix_log_max_records": "pipeline.log_max_records",
	"onix_log_max_bytes":   "pipeline.log_max_bytes",

	"onix_sync_interval":  "sync.interval",
	"onix_watermark_file": "sync.watermark_file",
	"onix_status_file":    "sync.status_file",
	"onix_purge_deleted":  "sync.purge_deleted",
	"onix_archive_dir":    "sync.archive_dir",

	"onix_events_enabled": "events.enabled",
	"nats_url":            "events.nats_url",
	"nats_jetstream":      "events.jetstream",
	"onix_topic_prefix":   "events.topic_prefix",

	"http_addr":             "server.addr",
	"rate_limit_requests":   "server.rate_limit",
	"cors_origins":          "server.cors_origins",
	"http_shutdown_timeout": "server.shutdown_timeout",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps ONIX_API_USER style names to koanf paths. Unmapped
// variables are dropped so the process environment cannot leak into config.
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
