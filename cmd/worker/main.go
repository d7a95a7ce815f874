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

// Command worker boots a taskflow worker against the datastore backend and
// queue named in configuration, registering a demo "echo" task so the
// binary is runnable standalone; real deployments register their own task
// handlers the same way before calling StartWorker.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taskflow"
	"taskflow/internal/datastore"
	"taskflow/internal/step"
	"taskflow/internal/wakeup"
	"taskflow/pkg/config"
	"taskflow/pkg/log"
	"taskflow/pkg/metrics"
	"taskflow/pkg/tracing"
)

func main() {
	configPath := os.Getenv("TASKFLOW_CONFIG")
	cfg, err := config.Load(configPath)
	if err != nil {
		panic(err)
	}

	logger := log.NewLogger(&log.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enable {
		tp, err := tracing.Init(ctx, tracing.Config{
			ServiceName:    cfg.Tracing.ServiceName,
			ExportEndpoint: cfg.Tracing.ExportEndpoint,
			Insecure:       cfg.Tracing.Insecure,
		})
		if err != nil {
			logger.Error("tracing init failed, continuing without it", "error", err)
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	adapter, closeAdapter, err := buildAdapter(ctx, cfg.Datastore)
	if err != nil {
		logger.Error("failed to build datastore adapter", "error", err)
		os.Exit(1)
	}
	defer closeAdapter()

	wakeupQueue, closeWakeup, err := buildWakeup(ctx, cfg.Wakeup)
	if err != nil {
		logger.Error("failed to build wakeup queue", "error", err)
		os.Exit(1)
	}
	if closeWakeup != nil {
		defer closeWakeup()
	}

	if cfg.Metrics.Enable {
		addr := os.Getenv("TASKFLOW_METRICS_ADDR")
		if addr == "" {
			addr = ":9090"
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metrics.DefaultRegistry, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server exited", "error", err)
			}
		}()
		logger.Info("prometheus /metrics enabled", "addr", addr)
	}

	queue := cfg.Worker.Queue
	if queue == "" {
		queue = "default"
	}
	if err := adapter.CreateQueue(ctx, queue); err != nil {
		logger.Error("create_queue failed", "queue", queue, "error", err)
		os.Exit(1)
	}

	app := taskflow.New(adapter, queue, wakeupQueue, logger)
	app.RegisterTask("echo", taskflow.RegisterOptions{Queue: queue, DefaultMaxAttempts: 1}, echoHandler)

	w := app.StartWorker(ctx, taskflow.WorkerOptions{
		Queue:               queue,
		Concurrency:         cfg.Worker.Concurrent(),
		PollInterval:        cfg.Worker.PollInterval(),
		ClaimTimeout:        cfg.Worker.ClaimTimeout(),
		MaxPollsPerSecond:   cfg.Worker.PollRateLimit(),
		FatalOnLeaseTimeout: true,
		OnError: func(err error, runID string) {
			logger.Error("run failed", "run_id", runID, "error", err)
		},
	})
	logger.Info("worker started", "queue", queue, "concurrency", cfg.Worker.Concurrent())

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-w.Fatal():
		logger.Error("fatal lease loss, shutting down", "error", err)
	}

	w.Close()
	logger.Info("worker stopped")
}

// echoHandler is the demo task this binary registers: it returns its
// params unchanged, wrapped in a single step so the behavior is visible in
// a checkpoint trace.
func echoHandler(ctx context.Context, params json.RawMessage, sc *step.Context) (any, error) {
	return step.Step(ctx, sc, "echo", func(ctx context.Context) (json.RawMessage, error) {
		return params, nil
	})
}

func buildAdapter(ctx context.Context, cfg config.DatastoreConfig) (datastore.Adapter, func(), error) {
	switch cfg.Driver {
	case "postgres":
		pg, err := datastore.NewPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	default:
		return datastore.NewMemory(), func() {}, nil
	}
}

func buildWakeup(ctx context.Context, cfg config.WakeupConfig) (wakeup.Queue, func(), error) {
	switch cfg.Driver {
	case "redis":
		r, err := wakeup.NewRedis(ctx, cfg.RedisDSN, "", 0, cfg.Channel)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { _ = r.Close() }, nil
	case "memory":
		return wakeup.NewMemory(0), nil, nil
	default:
		return nil, nil, nil
	}
}
