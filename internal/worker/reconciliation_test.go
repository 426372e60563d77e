package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/henriqueponts/labstore-sub003/internal/domain"
	"github.com/henriqueponts/labstore-sub003/internal/idempotency"
	"github.com/henriqueponts/labstore-sub003/internal/metrics"
	"github.com/henriqueponts/labstore-sub003/internal/repo/repotest"
	"github.com/henriqueponts/labstore-sub003/internal/service"
)

const paidPayload = `{"type":"order.paid","data":{"id":"or_1","amount":15000,"metadata":{"cliente_id":7}}}`

type fixture struct {
	store    *repotest.Store
	metrics  *metrics.Metrics
	webhooks service.WebhookService
	worker   *ReconciliationWorker
}

func newFixture(t *testing.T, maxAttempts int) *fixture {
	t.Helper()
	store := repotest.NewStore()
	store.AddCustomer(repotest.Customer{ID: 7, Email: "ana@example.com"})
	store.AddProduct(domain.Product{ID: 42, Name: "Headset USB", Stock: 10})
	store.AddToCart(7, 42, 2)

	m := metrics.New(prometheus.NewRegistry())
	fulfillment := service.NewFulfillmentService(store, zap.NewNop(), m)
	webhooks := service.NewWebhookService(fulfillment, store.FailedNotifications(),
		idempotency.NewMemoryGuard(time.Minute), m, zap.NewNop())

	return &fixture{
		store:    store,
		metrics:  m,
		webhooks: webhooks,
		worker: NewReconciliationWorker(store.FailedNotifications(), webhooks, m, zap.NewNop(),
			time.Hour, maxAttempts, 10),
	}
}

// deadLetter pushes the delivery through a store that fails mid-transaction.
func (f *fixture) deadLetter(t *testing.T) {
	t.Helper()
	f.store.FailOn(repotest.OpCreatePayment, errors.New("connection reset"))
	outcome, err := f.webhooks.Ingest(context.Background(), []byte(paidPayload))
	require.NoError(t, err)
	require.Equal(t, service.OutcomeFailed, outcome)
	require.Len(t, f.store.Failures(), 1)
}

func TestRunOnceResolvesRecoveredFailure(t *testing.T) {
	f := newFixture(t, 5)
	f.deadLetter(t)
	f.store.ClearFaults()

	resolved, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	require.Len(t, f.store.Orders(), 1)
	assert.Equal(t, 8, f.store.Product(42).Stock)
	assert.Zero(t, f.store.CartSize(7))

	failures := f.store.Failures()
	require.Len(t, failures, 1)
	assert.NotNil(t, failures[0].ResolvedAt)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReconciliationCount("fulfilled")))

	resolved, err = f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, resolved, "resolved entries are not retried")
}

func TestRunOnceResolvesAlreadyRecordedTransaction(t *testing.T) {
	f := newFixture(t, 5)
	f.deadLetter(t)
	f.store.ClearFaults()
	f.store.AddPayment(domain.PaymentTransaction{ID: 1, OrderID: 1, ProviderTransactionID: "or_1"})

	resolved, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)
	assert.Empty(t, f.store.Orders())
}

func TestRunOnceKeepsFailingEntries(t *testing.T) {
	f := newFixture(t, 3)
	f.deadLetter(t)

	resolved, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, resolved)
	assert.Equal(t, 2, f.store.Failures()[0].Attempts)
	assert.Nil(t, f.store.Failures()[0].ResolvedAt)

	_, err = f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, f.store.Failures()[0].Attempts)

	// Exhausted entries stay for an operator.
	f.store.ClearFaults()
	resolved, err = f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, resolved)
	assert.Empty(t, f.store.Orders())
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.ReconciliationCount("failed")))
}

func TestRunOnceSkipsReconciliationNeeded(t *testing.T) {
	f := newFixture(t, 5)
	_, err := f.webhooks.Ingest(context.Background(), []byte(paidPayload))
	require.NoError(t, err)

	outcome, err := f.webhooks.Ingest(context.Background(),
		[]byte(`{"type":"order.paid","data":{"id":"or_2","amount":100,"metadata":{"cliente_id":7},"items":[{"name":"Monitor","quantity":1,"amount":100}]}}`))
	require.NoError(t, err)
	require.Equal(t, service.OutcomeReconciliationNeeded, outcome)

	resolved, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, resolved)
	assert.Nil(t, f.store.Failures()[0].ResolvedAt)
}

func TestRunOnceListError(t *testing.T) {
	f := newFixture(t, 5)
	boom := errors.New("relation does not exist")
	f.store.FailOn(repotest.OpListRetryable, boom)

	_, err := f.worker.RunOnce(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, 5)
	f.worker.interval = time.Millisecond
	f.deadLetter(t)
	f.store.ClearFaults()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.worker.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		failures := f.store.Failures()
		return len(failures) == 1 && failures[0].ResolvedAt != nil
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
