package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/henriqueponts/labstore-sub003/internal/domain"
	"github.com/henriqueponts/labstore-sub003/internal/repo"
	"github.com/henriqueponts/labstore-sub003/internal/repo/repotest"
)

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func int64Ptr(v int64) *int64 { return &v }

// seedScenarioStore holds customer 7 with two units of product 42 in the cart.
func seedScenarioStore() *repotest.Store {
	store := repotest.NewStore()
	store.AddCustomer(repotest.Customer{ID: 7, Name: "Ana", Email: "ana@example.com"})
	store.AddProduct(domain.Product{ID: 42, Name: "Headset USB", Price: price("75.00"), Stock: 10})
	store.AddProduct(domain.Product{ID: 43, Name: "Webcam HD", Price: price("120.00"), Stock: 4})
	store.AddToCart(7, 42, 2)
	return store
}

func scenarioNotification() domain.PaymentNotification {
	return domain.PaymentNotification{
		ProviderTransactionID: "or_1",
		PaymentLinkID:         "pl_9",
		Amount:                15000,
		CustomerID:            int64Ptr(7),
		PaymentMethod:         "credit_card",
		Installments:          3,
	}
}

func TestFulfillFromCart(t *testing.T) {
	ctx := context.Background()
	store := seedScenarioStore()
	svc := NewFulfillmentService(store, zap.NewNop(), nil)

	res, err := svc.Fulfill(ctx, scenarioNotification())
	require.NoError(t, err)
	assert.Equal(t, OutcomeFulfilled, res.Outcome)
	assert.Equal(t, SourceCart, res.Source)
	assert.Equal(t, int64(7), res.CustomerID)
	assert.Equal(t, 1, res.LineItems)

	orders := store.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, int64(7), orders[0].CustomerID)
	assert.Equal(t, domain.OrderPaid, orders[0].Status)
	assert.Equal(t, res.OrderID, orders[0].ID)

	items := store.LineItems(orders[0].ID)
	require.Len(t, items, 1)
	assert.Equal(t, int64(42), items[0].ProductID)
	assert.Equal(t, 2, items[0].Quantity)
	assert.True(t, items[0].UnitPrice.Equal(price("75.00")), "unit price %s", items[0].UnitPrice)

	assert.Equal(t, 8, store.Product(42).Stock)
	assert.Equal(t, 4, store.Product(43).Stock, "products not purchased keep their stock")

	payments := store.AllPayments()
	require.Len(t, payments, 1)
	assert.Equal(t, orders[0].ID, payments[0].OrderID)
	assert.Equal(t, "or_1", payments[0].ProviderTransactionID)
	assert.Equal(t, domain.PaymentPaid, payments[0].Status)
	assert.Equal(t, "credit_card", payments[0].Method)
	assert.Equal(t, 3, payments[0].Installments)
	assert.Equal(t, "pl_9", payments[0].PaymentLinkID)
	assert.Equal(t, int64(15000), payments[0].Amount)

	assert.Zero(t, store.CartSize(7))
	assert.Equal(t, 1, store.Commits())
}

func TestFulfillOneLineItemPerCartProduct(t *testing.T) {
	ctx := context.Background()
	store := seedScenarioStore()
	store.AddToCart(7, 43, 1)
	svc := NewFulfillmentService(store, zap.NewNop(), nil)

	res, err := svc.Fulfill(ctx, scenarioNotification())
	require.NoError(t, err)
	require.Equal(t, OutcomeFulfilled, res.Outcome)

	items := store.LineItems(res.OrderID)
	require.Len(t, items, 2)
	assert.Equal(t, int64(42), items[0].ProductID)
	assert.Equal(t, int64(43), items[1].ProductID)
	assert.True(t, items[1].UnitPrice.Equal(price("120.00")))
	assert.Equal(t, 8, store.Product(42).Stock)
	assert.Equal(t, 3, store.Product(43).Stock)
}

func TestFulfillKeepsShippingQuoteAndAddress(t *testing.T) {
	ctx := context.Background()
	store := seedScenarioStore()
	svc := NewFulfillmentService(store, zap.NewNop(), nil)

	cost := price("25.90")
	days := 3
	n := scenarioNotification()
	n.Shipping = domain.ShippingQuote{Name: "SEDEX", Cost: &cost, LeadTimeDays: &days}
	n.DeliveryAddress = "Rua A, 10"

	_, err := svc.Fulfill(ctx, n)
	require.NoError(t, err)

	order := store.Orders()[0]
	assert.Equal(t, "SEDEX", order.ShippingName.String)
	assert.True(t, order.ShippingCost.Valid)
	assert.True(t, order.ShippingCost.Decimal.Equal(cost))
	assert.Equal(t, int32(3), order.ShippingDays.Int32)
	assert.Equal(t, "Rua A, 10", order.DeliveryAddress.String)
}

func TestFulfillWithoutShippingLeavesColumnsNull(t *testing.T) {
	ctx := context.Background()
	store := seedScenarioStore()
	svc := NewFulfillmentService(store, zap.NewNop(), nil)

	_, err := svc.Fulfill(ctx, scenarioNotification())
	require.NoError(t, err)

	order := store.Orders()[0]
	assert.False(t, order.ShippingName.Valid)
	assert.False(t, order.ShippingCost.Valid)
	assert.False(t, order.ShippingDays.Valid)
	assert.False(t, order.DeliveryAddress.Valid)
}

func TestFulfillFallsBackToProviderItems(t *testing.T) {
	ctx := context.Background()
	store := repotest.NewStore()
	store.AddCustomer(repotest.Customer{ID: 7, Email: "ana@example.com"})
	store.AddProduct(domain.Product{ID: 5, Name: "Mouse Gamer X Pro", Price: price("120.00"), Stock: 6})
	store.AddProduct(domain.Product{ID: 6, Name: "Teclado Mecânico", Price: price("300.00"), Stock: 2})
	svc := NewFulfillmentService(store, zap.NewNop(), nil)

	n := scenarioNotification()
	n.Amount = 9000
	n.Items = []domain.ProviderItem{
		{Description: "Mouse Gamer X", Quantity: 1, Amount: 9000},
		{Description: "Cadeira de escritório", Quantity: 1, Amount: 50000},
	}

	res, err := svc.Fulfill(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFulfilled, res.Outcome)
	assert.Equal(t, SourceFallback, res.Source)

	items := store.LineItems(res.OrderID)
	require.Len(t, items, 1, "unmatched provider items produce no line item")
	assert.Equal(t, int64(5), items[0].ProductID)
	assert.Equal(t, 1, items[0].Quantity)
	assert.True(t, items[0].UnitPrice.Equal(price("90.00")), "derived price %s", items[0].UnitPrice)

	assert.Equal(t, 5, store.Product(5).Stock)
	assert.Equal(t, 2, store.Product(6).Stock)
	require.Len(t, store.AllPayments(), 1)
}

func TestFulfillUnresolvedCustomerWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := seedScenarioStore()
	svc := NewFulfillmentService(store, zap.NewNop(), nil)

	n := scenarioNotification()
	n.CustomerID = nil
	n.CustomerEmail = "nobody@example.com"

	res, err := svc.Fulfill(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCustomerUnresolved, res.Outcome)

	assert.Empty(t, store.Orders())
	assert.Empty(t, store.AllPayments())
	assert.Equal(t, 10, store.Product(42).Stock)
	assert.Equal(t, 1, store.CartSize(7))
	assert.Zero(t, store.Commits())
}

func TestFulfillUnresolvedWithoutEmail(t *testing.T) {
	store := seedScenarioStore()
	svc := NewFulfillmentService(store, zap.NewNop(), nil)

	n := scenarioNotification()
	n.CustomerID = nil

	res, err := svc.Fulfill(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCustomerUnresolved, res.Outcome)
	assert.Empty(t, store.Orders())
}

func TestFulfillResolvesCustomerByFirstEmailMatch(t *testing.T) {
	ctx := context.Background()
	store := repotest.NewStore()
	store.AddCustomer(repotest.Customer{ID: 9, Email: "bia@example.com"})
	store.AddCustomer(repotest.Customer{ID: 3, Email: "bia@example.com"})
	store.AddCustomer(repotest.Customer{ID: 4, Email: "BIA@example.com"})
	store.AddProduct(domain.Product{ID: 42, Name: "Headset USB", Price: price("75.00"), Stock: 10})
	store.AddToCart(3, 42, 1)
	svc := NewFulfillmentService(store, zap.NewNop(), nil)

	n := scenarioNotification()
	n.CustomerID = nil
	n.CustomerEmail = "bia@example.com"

	res, err := svc.Fulfill(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFulfilled, res.Outcome)
	assert.Equal(t, int64(3), res.CustomerID)
	assert.Zero(t, store.CartSize(3))
}

func TestFulfillSkipsRecordedTransaction(t *testing.T) {
	ctx := context.Background()
	store := seedScenarioStore()
	store.AddPayment(domain.PaymentTransaction{ID: 1, OrderID: 99, ProviderTransactionID: "or_1"})
	svc := NewFulfillmentService(store, zap.NewNop(), nil)

	res, err := svc.Fulfill(ctx, scenarioNotification())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.Empty(t, store.Orders())
	assert.Equal(t, 10, store.Product(42).Stock)
	assert.Equal(t, 1, store.CartSize(7))
}

func TestFulfillRepeatedDeliveryRecordsOnce(t *testing.T) {
	ctx := context.Background()
	store := seedScenarioStore()
	svc := NewFulfillmentService(store, zap.NewNop(), nil)

	first, err := svc.Fulfill(ctx, scenarioNotification())
	require.NoError(t, err)
	require.Equal(t, OutcomeFulfilled, first.Outcome)

	store.AddToCart(7, 43, 1)
	second, err := svc.Fulfill(ctx, scenarioNotification())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, second.Outcome)

	assert.Len(t, store.Orders(), 1)
	assert.Len(t, store.AllPayments(), 1)
	assert.Equal(t, 1, store.CartSize(7), "a later cart is not consumed by a retried delivery")
}

func TestFulfillDuplicateAtInsertRollsBack(t *testing.T) {
	ctx := context.Background()
	store := seedScenarioStore()
	store.FailOn(repotest.OpCreatePayment, repo.ErrDuplicateTransaction)
	svc := NewFulfillmentService(store, zap.NewNop(), nil)

	res, err := svc.Fulfill(ctx, scenarioNotification())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.Empty(t, store.Orders())
	assert.Equal(t, 10, store.Product(42).Stock)
	assert.Equal(t, 1, store.CartSize(7))
}

func TestFulfillConcurrentDeliveriesRecordOnce(t *testing.T) {
	store := seedScenarioStore()
	svc := NewFulfillmentService(store, zap.NewNop(), nil)

	const deliveries = 8
	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		outcomes = make(chan Outcome, deliveries)
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := svc.Fulfill(context.Background(), scenarioNotification())
			assert.NoError(t, err)
			outcomes <- res.Outcome
		}()
	}
	close(start)
	wg.Wait()
	close(outcomes)

	counts := map[Outcome]int{}
	for o := range outcomes {
		counts[o]++
	}
	assert.Equal(t, 1, counts[OutcomeFulfilled])
	assert.Equal(t, deliveries-1, counts[OutcomeDuplicate])

	assert.Len(t, store.Orders(), 1)
	assert.Len(t, store.AllPayments(), 1)
	assert.Equal(t, 8, store.Product(42).Stock)
	assert.Zero(t, store.CartSize(7))
}

func TestFulfillRollsBackOnAnyWriteFailure(t *testing.T) {
	boom := errors.New("connection reset")
	ops := []string{
		repotest.OpCreateOrder,
		repotest.OpAddLineItem,
		repotest.OpDecrementStock,
		repotest.OpCreatePayment,
		repotest.OpClearCart,
		repotest.OpCommit,
	}
	for _, op := range ops {
		t.Run(op, func(t *testing.T) {
			store := seedScenarioStore()
			store.FailOn(op, boom)
			svc := NewFulfillmentService(store, zap.NewNop(), nil)

			res, err := svc.Fulfill(context.Background(), scenarioNotification())
			require.Error(t, err)
			assert.ErrorIs(t, err, boom)
			assert.Equal(t, OutcomeFailed, res.Outcome)

			assert.Empty(t, store.Orders())
			assert.Empty(t, store.AllPayments())
			assert.Equal(t, 10, store.Product(42).Stock)
			assert.Equal(t, 1, store.CartSize(7))
		})
	}
}

func TestFulfillFailsBeforeTransaction(t *testing.T) {
	boom := errors.New("pool exhausted")
	for _, op := range []string{repotest.OpPaymentExists, repotest.OpBegin} {
		t.Run(op, func(t *testing.T) {
			store := seedScenarioStore()
			store.FailOn(op, boom)
			svc := NewFulfillmentService(store, zap.NewNop(), nil)

			res, err := svc.Fulfill(context.Background(), scenarioNotification())
			assert.ErrorIs(t, err, boom)
			assert.Equal(t, OutcomeFailed, res.Outcome)
			assert.Empty(t, store.Orders())
		})
	}
}

func TestFulfillWithoutResolvableItemsNeedsReconciliation(t *testing.T) {
	ctx := context.Background()
	store := repotest.NewStore()
	store.AddCustomer(repotest.Customer{ID: 7})
	store.AddProduct(domain.Product{ID: 5, Name: "Mouse Gamer X Pro", Price: price("120.00"), Stock: 6})
	svc := NewFulfillmentService(store, zap.NewNop(), nil)

	n := scenarioNotification()
	n.Items = []domain.ProviderItem{{Description: "Monitor 4K", Quantity: 1, Amount: 150000}}

	res, err := svc.Fulfill(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReconciliationNeeded, res.Outcome)
	assert.Equal(t, int64(7), res.CustomerID)
	assert.Empty(t, store.Orders())
	assert.Empty(t, store.AllPayments())
	assert.Zero(t, store.Commits())
}

func TestFulfillDecrementsStockWithoutFloor(t *testing.T) {
	ctx := context.Background()
	store := repotest.NewStore()
	store.AddCustomer(repotest.Customer{ID: 7})
	store.AddProduct(domain.Product{ID: 42, Name: "Headset USB", Price: price("75.00"), Stock: 1})
	store.AddToCart(7, 42, 3)
	svc := NewFulfillmentService(store, zap.NewNop(), nil)

	res, err := svc.Fulfill(ctx, scenarioNotification())
	require.NoError(t, err)
	assert.Equal(t, OutcomeFulfilled, res.Outcome)
	assert.Equal(t, -2, store.Product(42).Stock)
}

func TestFulfillUnknownCustomerIDWritesNothing(t *testing.T) {
	store := seedScenarioStore()
	svc := NewFulfillmentService(store, zap.NewNop(), nil)

	n := scenarioNotification()
	n.CustomerID = int64Ptr(404)

	res, err := svc.Fulfill(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCustomerUnresolved, res.Outcome)
	assert.Empty(t, store.Orders())
	assert.Zero(t, store.Commits())
}
