package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/henriqueponts/labstore-sub003/internal/config"
	"github.com/henriqueponts/labstore-sub003/internal/database"
	"github.com/henriqueponts/labstore-sub003/internal/idempotency"
	"github.com/henriqueponts/labstore-sub003/internal/logger"
	"github.com/henriqueponts/labstore-sub003/internal/metrics"
	"github.com/henriqueponts/labstore-sub003/internal/repo"
	"github.com/henriqueponts/labstore-sub003/internal/service"
	"github.com/henriqueponts/labstore-sub003/internal/worker"
)

// app wires the process-wide dependencies shared by every subcommand.
type app struct {
	cfg      config.Config
	log      *zap.Logger
	db       *sql.DB
	redis    *redis.Client
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	webhooks service.WebhookService
	worker   *worker.ReconciliationWorker
}

func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load()

	log, err := logger.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(db, cfg.DB.Name),
	)
	m := metrics.New(registry)

	a := &app{cfg: cfg, log: log, db: db, registry: registry, metrics: m}

	var guard idempotency.Guard
	if cfg.Redis.Enabled() {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		guard = idempotency.NewRedisGuard(a.redis, "labstore", cfg.WebhookClaimTTL)
	} else {
		log.Info("REDIS_ADDR not set, using in-process delivery claims")
		guard = idempotency.NewMemoryGuard(cfg.WebhookClaimTTL)
	}

	store := repo.NewStore(db)
	fulfillment := service.NewFulfillmentService(store, log, m)
	a.webhooks = service.NewWebhookService(fulfillment, store.FailedNotifications(), guard, m, log)
	a.worker = worker.NewReconciliationWorker(
		store.FailedNotifications(),
		a.webhooks,
		m,
		log,
		cfg.ReconcileInterval,
		cfg.ReconcileMaxAttempts,
		cfg.ReconcileBatchSize,
	)
	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("close redis", zap.Error(err))
		}
	}
	if err := a.db.Close(); err != nil {
		a.log.Warn("close database", zap.Error(err))
	}
	a.log.Info("disconnected from database", zap.String("database", a.cfg.DB.Name))
	_ = a.log.Sync()
}
