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

// Package log provides the structured logger shared by every taskflow
// component: the Facade hands the slog.Logger inside one *Logger to the
// execution engine and the worker loop, so a single sink configuration
// covers the whole SDK. The lease manager does not log; the engine logs the
// extension errors it reports.
package log

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger so call sites can depend on a concrete type
// instead of threading slog.Handler options everywhere.
type Logger struct {
	*slog.Logger
}

// Config controls level and output format.
type Config struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// NewLogger creates a Logger from cfg; cfg may be nil for info/json defaults.
func NewLogger(cfg *Config) *Logger {
	level := slog.LevelInfo
	if cfg != nil {
		switch cfg.Level {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg != nil && cfg.Format == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	return &Logger{Logger: slog.New(h)}
}

// Default returns a Logger backed by slog.Default, used when a component is
// constructed without an explicit logger.
func Default() *Logger {
	return &Logger{Logger: slog.Default()}
}

// With returns a Logger with the given attributes attached to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}
