package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/henriqueponts/labstore-sub003/internal/metrics"
	"github.com/henriqueponts/labstore-sub003/internal/repo"
	"github.com/henriqueponts/labstore-sub003/internal/service"
)

// ReconciliationWorker retries dead-lettered order.paid deliveries whose
// fulfillment failed. Entries flagged reconciliation_needed are left for an operator.
type ReconciliationWorker struct {
	failures    repo.FailedNotificationRepo
	webhooks    service.WebhookService
	metrics     *metrics.Metrics
	log         *zap.Logger
	interval    time.Duration
	maxAttempts int
	batchSize   int
}

func NewReconciliationWorker(
	failures repo.FailedNotificationRepo,
	webhooks service.WebhookService,
	m *metrics.Metrics,
	log *zap.Logger,
	interval time.Duration,
	maxAttempts int,
	batchSize int,
) *ReconciliationWorker {
	return &ReconciliationWorker{
		failures:    failures,
		webhooks:    webhooks,
		metrics:     m,
		log:         log.Named("reconciliation"),
		interval:    interval,
		maxAttempts: maxAttempts,
		batchSize:   batchSize,
	}
}

func (rw *ReconciliationWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	rw.log.Info("reconciliation worker started", zap.Duration("interval", rw.interval))

	for {
		select {
		case <-ctx.Done():
			rw.log.Info("reconciliation worker stopped")
			return
		case <-ticker.C:
			if _, err := rw.RunOnce(ctx); err != nil {
				rw.log.Error("reconciliation pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce retries one batch and returns how many entries were resolved.
func (rw *ReconciliationWorker) RunOnce(ctx context.Context) (int, error) {
	pending, err := rw.failures.ListRetryable(ctx, rw.maxAttempts, rw.batchSize)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	rw.log.Info("retrying failed notifications", zap.Int("count", len(pending)))

	resolved := 0
	for _, n := range pending {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		log := rw.log.With(
			zap.String("provider_transaction_id", n.ProviderTransactionID),
			zap.Int("attempts", n.Attempts),
		)

		outcome, err := rw.webhooks.Retry(ctx, n)
		rw.metrics.ObserveReconciliation(string(outcome))

		switch outcome {
		case service.OutcomeFulfilled, service.OutcomeDuplicate, service.OutcomeCustomerUnresolved:
			if err := rw.failures.MarkResolved(ctx, n.ID); err != nil {
				log.Error("mark notification resolved", zap.Error(err))
				continue
			}
			resolved++
			log.Info("failed notification reconciled", zap.String("outcome", string(outcome)))
		case service.OutcomeMalformed:
			// Stored payloads passed validation once; keep them for an operator.
			log.Error("stored payload no longer parses", zap.Error(err))
		default:
			log.Warn("retry did not resolve notification", zap.String("outcome", string(outcome)), zap.Error(err))
		}
	}
	return resolved, nil
}
