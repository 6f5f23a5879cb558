// onixmirror - ONIX Catalog Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/onixmirror

// Package config loads onixmirror configuration.
//
// Loading order (koanf v2), later layers win:
//  1. Built-in defaults
//  2. Optional YAML file (CONFIG_PATH, or config.yaml / /etc/onixmirror/config.yaml)
//  3. Environment variables (ONIX_API_USER, ONIX_DB_PATH, ...)
//  4. Command line flags, applied by the caller through Overrides
package config

import (
	"time"
)

// Config holds all application configuration.
type Config struct {
	API      APIConfig      `koanf:"api"`
	Store    StoreConfig    `koanf:"store"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	Sync     SyncConfig     `koanf:"sync"`
	Events   EventsConfig   `koanf:"events"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// APIConfig describes the remote catalog API.
type APIConfig struct {
	// BaseURL is the directory holding getRecordsX.do and friends.
	BaseURL string `koanf:"base_url" validate:"required,url"`

	User     string `koanf:"user"`
	Password string `koanf:"password"`

	// Timeout bounds one HTTP attempt.
	Timeout time.Duration `koanf:"timeout" validate:"min=0"`

	// MaxRetries is the number of attempts per request, first one included.
	MaxRetries int `koanf:"max_retries" validate:"min=1,max=10"`

	// RetryDelay is the initial backoff, doubled after every failed attempt.
	RetryDelay time.Duration `koanf:"retry_delay" validate:"min=0"`

	// RequestsPerSecond caps outgoing requests. 0 disables the limiter.
	RequestsPerSecond float64 `koanf:"requests_per_second" validate:"min=0"`

	// BreakerTimeout is how long the circuit breaker stays open before it
	// lets trial requests through. 0 means 2 minutes.
	BreakerTimeout time.Duration `koanf:"breaker_timeout" validate:"min=0"`
}

// StoreConfig describes the SQLite store.
type StoreConfig struct {
	Path string `koanf:"path" validate:"required"`

	// RootTable receives the direct leaf children of each Product.
	RootTable string `koanf:"root_table" validate:"required,sqlident"`

	// SnapshotDir, when set, receives a VACUUM INTO copy before each sync.
	SnapshotDir string `koanf:"snapshot_dir"`

	// SnapshotKeep is how many snapshots are retained. 0 keeps all.
	SnapshotKeep int `koanf:"snapshot_keep" validate:"min=0"`

	// ProgressDir, when set, holds the badger database with run progress.
	ProgressDir string `koanf:"progress_dir"`

	BusyTimeout time.Duration `koanf:"busy_timeout" validate:"min=0"`
}

// PipelineConfig tunes the ingestion pipeline.
type PipelineConfig struct {
	// BatchSize is how many pending identifiers are read per ledger query.
	BatchSize int `koanf:"batch_size" validate:"min=1"`

	// SubBatchSize is the completion barrier granularity.
	SubBatchSize int `koanf:"sub_batch_size" validate:"min=1,ltefield=BatchSize"`

	// Workers is the number of concurrent fetch workers.
	Workers int `koanf:"workers" validate:"min=1,max=256"`

	// GroupTags are the repeatable-group tags that get their own table.
	GroupTags []string `koanf:"group_tags" validate:"dive,sqlident"`

	// LogDir, when set, receives the pipeline's rotating activity log.
	LogDir        string `koanf:"log_dir"`
	LogMaxRecords int    `koanf:"log_max_records" validate:"min=0"`
	LogMaxBytes   int64  `koanf:"log_max_bytes" validate:"min=0"`
}

// SyncConfig holds reconciliation settings.
type SyncConfig struct {
	// Interval between scheduled runs in service mode.
	Interval time.Duration `koanf:"interval" validate:"min=0"`

	WatermarkFile string `koanf:"watermark_file" validate:"required"`
	StatusFile    string `koanf:"status_file" validate:"required"`

	// PurgeDeleted removes dynamic rows of identifiers reported deleted.
	PurgeDeleted bool `koanf:"purge_deleted"`

	// ArchiveDir, when set, keeps the raw list responses.
	ArchiveDir string `koanf:"archive_dir"`
}

// EventsConfig controls change event publishing.
type EventsConfig struct {
	Enabled bool `koanf:"enabled"`

	// NATSURL selects the NATS publisher. Empty uses the in-process channel.
	NATSURL   string `koanf:"nats_url" validate:"omitempty,url"`
	JetStream bool   `koanf:"jetstream"`

	TopicPrefix string `koanf:"topic_prefix" validate:"required"`
}

// ServerConfig holds the service-mode HTTP settings.
type ServerConfig struct {
	Addr string `koanf:"addr" validate:"required"`

	// RateLimit is requests per minute per client IP on /api. 0 disables it.
	RateLimit int `koanf:"rate_limit" validate:"min=0"`

	CORSOrigins     []string      `koanf:"cors_origins"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"min=0"`
}

type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	Level string `koanf:"level" validate:"oneof=trace debug info warn warning error fatal disabled"`

	// Format is json or console.
	Format string `koanf:"format" validate:"oneof=json console"`

	Caller bool `koanf:"caller"`
}

// DefaultGroupTags are the ONIX composites stored one row per occurrence.
var DefaultGroupTags = []string{
	"Measure",
	"Contributor",
	"TitleDetail",
	"TextContent",
	"PublishingDate",
	"Language",
	"Subject",
	"SupportingResource",
	"Audience",
	"AudienceRange",
	"Publisher",
	"Extent",
	"SupplyDetail",
	"RelatedProduct",
}

// Overrides carries command line values. Empty fields leave the loaded value alone.
type Overrides struct {
	User     string
	Password string
	DBPath   string
	LogLevel string
}

// Apply copies non-empty overrides into c.
func (o Overrides) Apply(c *Config) {
	if o.User != "" {
		c.API.User = o.User
	}
	if o.Password != "" {
		c.API.Password = o.Password
	}
	if o.DBPath != "" {
		c.Store.Path = o.DBPath
	}
	if o.LogLevel != "" {
		c.Logging.Level = o.LogLevel
	}
}

// Load loads configuration from defaults, file and environment, then validates it.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
