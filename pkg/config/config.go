// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads taskflow's runtime configuration: which datastore
// backend to use, how workers poll and claim, and how logging, metrics and
// tracing are wired up.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for a taskflow deployment.
type Config struct {
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	Datastore DatastoreConfig `mapstructure:"datastore"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Wakeup    WakeupConfig    `mapstructure:"wakeup"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// RuntimeConfig distinguishes dev from prod strictness gates.
type RuntimeConfig struct {
	Profile string `mapstructure:"profile"` // dev | prod
	Strict  bool   `mapstructure:"strict"`  // true enables production validation gates
}

// DatastoreConfig selects and configures the datastore.Adapter backend.
type DatastoreConfig struct {
	Driver              string `mapstructure:"driver"` // memory | postgres
	DSN                 string `mapstructure:"dsn"`    // required when driver=postgres
	DefaultLeaseSeconds int    `mapstructure:"default_lease_seconds"`
}

// LeaseDuration returns the configured default lease, falling back to 30s.
func (d DatastoreConfig) LeaseDuration() time.Duration {
	if d.DefaultLeaseSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(d.DefaultLeaseSeconds) * time.Second
}

// WorkerConfig controls the Worker Loop's polling and concurrency behavior.
type WorkerConfig struct {
	Concurrency         int     `mapstructure:"concurrency"`
	PollIntervalMillis  int     `mapstructure:"poll_interval_millis"`
	ClaimTimeoutSeconds int     `mapstructure:"claim_timeout_seconds"`
	Queue               string  `mapstructure:"queue"`
	MaxPollsPerSecond   float64 `mapstructure:"max_polls_per_second"`
}

func (w WorkerConfig) PollInterval() time.Duration {
	if w.PollIntervalMillis <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(w.PollIntervalMillis) * time.Millisecond
}

func (w WorkerConfig) ClaimTimeout() time.Duration {
	if w.ClaimTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(w.ClaimTimeoutSeconds) * time.Second
}

func (w WorkerConfig) Concurrent() int {
	if w.Concurrency <= 0 {
		return 1
	}
	return w.Concurrency
}

func (w WorkerConfig) PollRateLimit() float64 {
	if w.MaxPollsPerSecond <= 0 {
		return 10
	}
	return w.MaxPollsPerSecond
}

// WakeupConfig configures the optional low-latency dispatch hint. An empty
// Driver disables it; the worker loop then relies purely on polling.
type WakeupConfig struct {
	Driver   string `mapstructure:"driver"` // "" | memory | redis
	RedisDSN string `mapstructure:"redis_dsn"`
	Channel  string `mapstructure:"channel"`
}

// LogConfig controls pkg/log's level and output format.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig toggles prometheus registration.
type MetricsConfig struct {
	Enable bool `mapstructure:"enable"`
}

// TracingConfig configures the otel exporter.
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// Load reads configPath (if non-empty) and overlays environment variables
// prefixed TASKFLOW_ (e.g. TASKFLOW_WORKER_CONCURRENCY overrides
// worker.concurrency). A missing configPath is not an error: defaults plus
// env vars are a valid configuration for tests and local dev.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TASKFLOW")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("taskflow: read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("taskflow: parse config: %w", err)
	}

	if cfg.Runtime.Strict {
		if err := validateStrict(&cfg); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("runtime.profile", "dev")
	v.SetDefault("datastore.driver", "memory")
	v.SetDefault("datastore.default_lease_seconds", 30)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.poll_interval_millis", 500)
	v.SetDefault("worker.claim_timeout_seconds", 30)
	v.SetDefault("worker.max_polls_per_second", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// validateStrict enforces the constraints a production deployment should
// never violate silently, mirroring the teacher's profile=prod gate.
func validateStrict(cfg *Config) error {
	if cfg.Datastore.Driver == "postgres" && cfg.Datastore.DSN == "" {
		return fmt.Errorf("taskflow: strict mode requires datastore.dsn when datastore.driver=postgres")
	}
	if cfg.Wakeup.Driver == "redis" && cfg.Wakeup.RedisDSN == "" {
		return fmt.Errorf("taskflow: strict mode requires wakeup.redis_dsn when wakeup.driver=redis")
	}
	return nil
}
