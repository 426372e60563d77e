package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/henriqueponts/labstore-sub003/internal/domain"
	"github.com/henriqueponts/labstore-sub003/internal/idempotency"
	"github.com/henriqueponts/labstore-sub003/internal/logger"
	"github.com/henriqueponts/labstore-sub003/internal/metrics"
	"github.com/henriqueponts/labstore-sub003/internal/repo"
	"github.com/henriqueponts/labstore-sub003/internal/webhook"
)

type WebhookService interface {
	// Ingest handles one raw delivery. The only error it returns is a wrapped
	// webhook.ErrMalformedNotification; fulfillment failures are logged,
	// dead-lettered and reported through the outcome.
	Ingest(ctx context.Context, payload []byte) (Outcome, error)
	// Retry re-runs a dead-lettered delivery. The error is the fulfillment
	// failure, if any.
	Retry(ctx context.Context, n domain.FailedNotification) (Outcome, error)
}

// Metric labels for event types. The type comes from an unauthenticated
// caller, so only a fixed set of values is ever recorded.
const (
	eventLabelOther   = "other"
	eventLabelUnknown = "unknown"
)

func eventLabel(eventType string) string {
	if eventType == domain.EventOrderPaid {
		return eventType
	}
	return eventLabelOther
}

type webhookService struct {
	fulfillment FulfillmentService
	failures    repo.FailedNotificationRepo
	guard       idempotency.Guard
	metrics     *metrics.Metrics
	log         *zap.Logger
}

func NewWebhookService(
	fulfillment FulfillmentService,
	failures repo.FailedNotificationRepo,
	guard idempotency.Guard,
	m *metrics.Metrics,
	log *zap.Logger,
) WebhookService {
	return &webhookService{
		fulfillment: fulfillment,
		failures:    failures,
		guard:       guard,
		metrics:     m,
		log:         log.Named("webhook"),
	}
}

func (s *webhookService) Ingest(ctx context.Context, payload []byte) (Outcome, error) {
	log := s.logger(ctx)

	ev, err := webhook.Parse(payload)
	if err != nil {
		s.metrics.ObserveNotification(eventLabelUnknown, string(OutcomeMalformed))
		log.Warn("rejecting malformed payment notification", zap.Error(err), zap.Int("bytes", len(payload)))
		return OutcomeMalformed, err
	}

	paid, ok := ev.(*webhook.OrderPaid)
	if !ok {
		s.metrics.ObserveNotification(eventLabel(ev.EventType()), string(OutcomeIgnored))
		log.Debug("acknowledging event without action", zap.String("event_type", ev.EventType()))
		return OutcomeIgnored, nil
	}

	outcome, _ := s.process(ctx, paid)
	return outcome, nil
}

func (s *webhookService) Retry(ctx context.Context, n domain.FailedNotification) (Outcome, error) {
	ev, err := webhook.Parse(n.Payload)
	if err != nil {
		return OutcomeMalformed, err
	}
	paid, ok := ev.(*webhook.OrderPaid)
	if !ok {
		return OutcomeIgnored, nil
	}
	return s.process(ctx, paid)
}

func (s *webhookService) process(ctx context.Context, paid *webhook.OrderPaid) (Outcome, error) {
	key := paid.ProviderTransactionID
	log := s.logger(ctx).With(zap.String("provider_transaction_id", key))

	token, claimed, err := s.guard.Claim(ctx, key)
	switch {
	case err != nil:
		log.Warn("delivery claim unavailable, relying on database idempotency", zap.Error(err))
	case !claimed:
		log.Info("delivery already in flight, acknowledging duplicate")
		s.metrics.ObserveNotification(paid.EventType(), string(OutcomeInFlight))
		return OutcomeInFlight, nil
	default:
		defer func() {
			if err := s.guard.Release(context.WithoutCancel(ctx), key, token); err != nil {
				log.Warn("release delivery claim", zap.Error(err))
			}
		}()
	}

	res, ferr := s.fulfillment.Fulfill(ctx, paid.PaymentNotification)
	switch {
	case ferr != nil:
		res.Outcome = OutcomeFailed
		log.Error("fulfillment rolled back", zap.Error(ferr))
		s.deadLetter(ctx, paid, domain.FailureFulfillment, ferr.Error())
	case res.Outcome == OutcomeReconciliationNeeded:
		s.deadLetter(ctx, paid, domain.FailureReconciliationNeeded,
			fmt.Sprintf("no line items resolved for customer %d", res.CustomerID))
	}

	s.metrics.ObserveNotification(paid.EventType(), string(res.Outcome))
	return res.Outcome, ferr
}

func (s *webhookService) deadLetter(ctx context.Context, paid *webhook.OrderPaid, reason domain.FailureReason, cause string) {
	n := &domain.FailedNotification{
		ProviderTransactionID: paid.ProviderTransactionID,
		EventType:             paid.EventType(),
		Payload:               paid.Payload,
		Reason:                reason,
		LastError:             cause,
	}
	if err := s.failures.Record(context.WithoutCancel(ctx), n); err != nil {
		s.logger(ctx).Error("record failed notification, manual reconciliation required",
			zap.String("provider_transaction_id", paid.ProviderTransactionID),
			zap.String("reason", string(reason)),
			zap.Error(err))
		return
	}
	s.logger(ctx).Warn("notification dead-lettered",
		zap.String("provider_transaction_id", paid.ProviderTransactionID),
		zap.String("reason", string(reason)),
		zap.Int("attempts", n.Attempts))
}

// logger prefers the request-scoped logger so entries carry the request id.
func (s *webhookService) logger(ctx context.Context) *zap.Logger {
	if log, ok := logger.Lookup(ctx); ok {
		return log.Named("webhook")
	}
	return s.log
}
