package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/nikhilbhutani/docingest/internal/app"
	"github.com/nikhilbhutani/docingest/internal/config"
	"github.com/nikhilbhutani/docingest/internal/queue"
	"github.com/nikhilbhutani/docingest/internal/queue/workers"
)

const concurrency = 10

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.Level}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	// The worker consumes from Redis, so the queue is always on here.
	cfg.Redis.Enabled = true

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	srv := asynq.NewServer(
		queue.RedisOpt(cfg.Redis),
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				queue.QueueCritical: 6,
				queue.QueueDefault:  3,
				queue.QueueLow:      1,
			},
			Logger: asynqLogger{logger.With("component", "asynq")},
		},
	)

	registry := queue.NewHandlersRegistry()
	registry.Use(workers.Instrument(a.Metrics, logger))

	registry.Register(queue.TypeDocumentIngest, workers.NewDocumentWorker(a.Orchestrator, logger))
	registry.Register(queue.TypeUsageReconcile, workers.NewReconcileWorker(a.Reconciler, logger))
	registry.Register(queue.TypeNamespaceTeardown, workers.NewTeardownWorker(a.Sink, logger))

	slog.Info("starting worker", "concurrency", concurrency)
	if err := srv.Run(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}

// asynqLogger routes asynq's printf-style logs through slog.
type asynqLogger struct {
	l *slog.Logger
}

func (a asynqLogger) Debug(args ...any) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...any)  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...any) { a.l.Error(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...any) {
	a.l.Error(fmt.Sprint(args...))
	os.Exit(1)
}
