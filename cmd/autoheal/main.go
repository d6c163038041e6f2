package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xela07ax/spaceai-autoheal/internal/api"
	"github.com/xela07ax/spaceai-autoheal/internal/audit"
	"github.com/xela07ax/spaceai-autoheal/internal/connectors"
	"github.com/xela07ax/spaceai-autoheal/internal/holds"
	"github.com/xela07ax/spaceai-autoheal/internal/infra"
	"github.com/xela07ax/spaceai-autoheal/internal/policy"
	"github.com/xela07ax/spaceai-autoheal/internal/queue"
	"github.com/xela07ax/spaceai-autoheal/internal/repository/influx"
	"github.com/xela07ax/spaceai-autoheal/internal/repository/postgres"
	"github.com/xela07ax/spaceai-autoheal/internal/retry"
	"github.com/xela07ax/spaceai-autoheal/internal/runner"
	"github.com/xela07ax/spaceai-autoheal/internal/worker"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("autoheal exited with error", zap.Error(err))
	}
	logger.Info("autoheal exited properly")
}

func run(cfg *infra.Config, logger *zap.Logger) error {
	// SIGINT/SIGTERM отменяют корневой контекст, циклы дорабатывают текущую единицу
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := infra.NewMetrics(reg)

	// 2. Инфраструктура
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis unreachable: %w", err)
	}

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		return err
	}

	actions := postgres.NewActionRepo(pool)
	metricRepo := postgres.NewMetricRepo(pool)
	violations := postgres.NewViolationRepo(pool)

	checks := map[string]api.Checker{
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		"postgres": actions.Ping,
	}

	var source runner.MetricSource = metricRepo
	if cfg.Metrics.Source == "influx" {
		src, err := influx.NewMetricSource(cfg.Influx)
		if err != nil {
			return err
		}
		defer src.Close()
		source = src
		checks["influx"] = src.Ping
	}

	// 3. Каталог политик
	policies, err := policy.LoadFiles(cfg.Policies.Path, policy.Bindings{})
	if err != nil {
		return fmt.Errorf("load policies: %w", err)
	}
	registry := policy.NewRegistry(logger)
	if err := registry.Replace(policies); err != nil {
		return fmt.Errorf("register policies: %w", err)
	}
	logger.Info("policies loaded", zap.String("path", cfg.Policies.Path), zap.Int("count", registry.Len()))
	engine := policy.NewEngine(registry, logger, metrics)

	retryPolicy, err := retry.PolicyFrom(cfg.Retry)
	if err != nil {
		return fmt.Errorf("retry config: %w", err)
	}

	// 4. Очередь, аудит, исполнитель
	q := queue.New(rdb, queue.Config{
		Name:            cfg.Queue.Name,
		HistoryCapacity: cfg.Queue.HistoryCapacity,
		Retry:           retryPolicy,
	}, logger, metrics)

	auditLog := audit.NewViolationLog(violations, audit.Options{}, logger, metrics)
	auditLog.Start()
	defer auditLog.Stop()

	// Rate Limit -> Circuit Breaker -> HTTP
	executor := connectors.NewReliabilityWrapper(
		connectors.NewHTTPExecutor(cfg.Executor.URL, cfg.Executor.Timeout, logger),
		connectors.ReliabilityConfigFrom(cfg.Executor),
		metrics,
		logger,
	)

	// Ручные удержания: состояние из Redis, дальше — сигналы через Pub/Sub
	holdManager := holds.NewManager(rdb, logger)
	if err := holdManager.Init(ctx); err != nil {
		return err
	}

	// 5. Циклы
	policyRunner := runner.New(runner.Config{
		Interval:               cfg.Runner.Interval,
		BatchSize:              cfg.Metrics.BatchSize,
		Lookback:               cfg.Metrics.Lookback,
		MaxConsecutiveFailures: cfg.Runner.MaxConsecutiveFailures,
		FailureCooldown:        cfg.Runner.FailureCooldown,
		PersistRetry:           retryPolicy,
		Holds:                  holdManager,
	}, source, engine, actions, q, auditLog, logger, metrics)

	workers := worker.NewPool(cfg.Worker.Concurrency, worker.Config{
		DequeueTimeout:  cfg.Queue.DequeueTimeout,
		DispatchTimeout: cfg.Executor.Timeout,
	}, q, actions, executor, logger, metrics)

	// 6. HTTP API
	srv := &http.Server{
		Addr: cfg.Server.Addr(),
		Handler: api.NewServer(api.Deps{
			Engine:     engine,
			Queue:      q,
			Workers:    workers,
			Runner:     policyRunner,
			Actions:    actions,
			Violations: violations,
			Metrics:    metricRepo,
			Holds:      holdManager,
			Gatherer:   reg,
			Checks:     checks,
		}, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return policyRunner.Run(gctx) })
	g.Go(func() error { return workers.Run(gctx) })
	g.Go(func() error {
		holdManager.Listen(gctx)
		return nil
	})
	g.Go(func() error {
		q.StartSampler(gctx, cfg.Queue.HistoryInterval)
		return nil
	})
	g.Go(func() error {
		logger.Info("http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received, draining", zap.Duration("timeout", cfg.ShutdownTimeout))
	select {
	case err := <-done:
		return err
	case <-time.After(cfg.ShutdownTimeout):
		// Зависшие циклы бросаем, at-most-once: задача в работе может потеряться
		logger.Warn("shutdown timeout exceeded, abandoning in-flight work")
		return nil
	}
}
