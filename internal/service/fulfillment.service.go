package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/henriqueponts/labstore-sub003/internal/domain"
	"github.com/henriqueponts/labstore-sub003/internal/metrics"
	"github.com/henriqueponts/labstore-sub003/internal/repo"
)

type Outcome string

const (
	OutcomeFulfilled            Outcome = "fulfilled"
	OutcomeDuplicate            Outcome = "duplicate"
	OutcomeCustomerUnresolved   Outcome = "customer_unresolved"
	OutcomeReconciliationNeeded Outcome = "reconciliation_needed"
	OutcomeInFlight             Outcome = "in_flight"
	OutcomeIgnored              Outcome = "ignored"
	OutcomeMalformed            Outcome = "malformed"
	OutcomeFailed               Outcome = "failed"
)

type ItemSource string

const (
	SourceCart     ItemSource = "cart"
	SourceFallback ItemSource = "provider_items"
)

type Result struct {
	Outcome    Outcome
	CustomerID int64
	OrderID    int64
	LineItems  int
	Source     ItemSource
}

type FulfillmentService interface {
	// Fulfill turns a paid notification into an order, its line items, stock
	// decrements, a payment transaction and an emptied cart, all in one
	// transaction. A non-nil error means nothing was persisted.
	Fulfill(ctx context.Context, n domain.PaymentNotification) (Result, error)
}

type fulfillmentService struct {
	store   repo.Store
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewFulfillmentService(store repo.Store, log *zap.Logger, m *metrics.Metrics) FulfillmentService {
	return &fulfillmentService{
		store:   store,
		log:     log.Named("fulfillment"),
		metrics: m,
	}
}

func (s *fulfillmentService) Fulfill(ctx context.Context, n domain.PaymentNotification) (Result, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveFulfillment(time.Since(start)) }()

	log := s.log.With(zap.String("provider_transaction_id", n.ProviderTransactionID))

	exists, err := s.store.Payments().ExistsByProviderID(ctx, n.ProviderTransactionID)
	if err != nil {
		return Result{Outcome: OutcomeFailed}, fmt.Errorf("fulfillment: check recorded transaction: %w", err)
	}
	if exists {
		log.Info("payment transaction already recorded, skipping")
		return Result{Outcome: OutcomeDuplicate}, nil
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return Result{Outcome: OutcomeFailed}, fmt.Errorf("fulfillment: begin: %w", err)
	}
	defer tx.Rollback()

	customerID, ok, err := resolveCustomer(ctx, tx.Customers(), n)
	if err != nil {
		return Result{Outcome: OutcomeFailed}, fmt.Errorf("fulfillment: resolve customer: %w", err)
	}
	if !ok {
		log.Warn("customer could not be resolved, skipping fulfillment",
			zap.String("customer_email", n.CustomerEmail))
		return Result{Outcome: OutcomeCustomerUnresolved}, nil
	}

	res := Result{Outcome: OutcomeFailed, CustomerID: customerID}
	log = log.With(zap.Int64("customer_id", customerID))

	// Serializes concurrent fulfillments of the same customer's cart.
	found, err := tx.Customers().LockForUpdate(ctx, customerID)
	if err != nil {
		return res, fmt.Errorf("fulfillment: lock customer %d: %w", customerID, err)
	}
	if !found {
		log.Warn("customer from notification does not exist, skipping fulfillment")
		return Result{Outcome: OutcomeCustomerUnresolved, CustomerID: customerID}, nil
	}

	// A concurrent delivery may have committed while this one waited on the
	// lock, and its cart is gone by now.
	recorded, err := tx.Payments().ExistsByProviderID(ctx, n.ProviderTransactionID)
	if err != nil {
		return res, fmt.Errorf("fulfillment: recheck recorded transaction: %w", err)
	}
	if recorded {
		log.Info("payment transaction recorded while waiting for customer lock, skipping")
		return Result{Outcome: OutcomeDuplicate, CustomerID: customerID}, nil
	}

	cart, err := tx.Carts().ListByCustomer(ctx, customerID)
	if err != nil {
		return res, fmt.Errorf("fulfillment: read cart: %w", err)
	}

	drafts := cartToDrafts(cart)
	res.Source = SourceCart
	if len(drafts) == 0 {
		res.Source = SourceFallback
		drafts, err = BuildFallbackItems(ctx, tx.Products(), n.Items)
		if err != nil {
			return res, fmt.Errorf("fulfillment: match provider items: %w", err)
		}
		log.Info("cart empty, rebuilt items from provider description",
			zap.Int("provider_items", len(n.Items)), zap.Int("matched", len(drafts)))
	}
	if len(drafts) == 0 {
		log.Warn("no line items could be resolved, order needs manual reconciliation")
		res.Outcome = OutcomeReconciliationNeeded
		return res, nil
	}

	order, err := materialize(ctx, tx, customerID, n, drafts)
	if err != nil {
		return res, fmt.Errorf("fulfillment: %w", err)
	}
	res.OrderID = order.ID
	res.LineItems = len(drafts)

	payment := &domain.PaymentTransaction{
		OrderID:               order.ID,
		ProviderTransactionID: n.ProviderTransactionID,
		Status:                domain.PaymentPaid,
		Method:                n.PaymentMethod,
		Amount:                n.Amount,
		Installments:          n.Installments,
		PaymentLinkID:         n.PaymentLinkID,
	}
	if err := tx.Payments().CreatePayment(ctx, payment); err != nil {
		if errors.Is(err, repo.ErrDuplicateTransaction) {
			log.Info("payment transaction recorded concurrently, rolling back")
			return Result{Outcome: OutcomeDuplicate, CustomerID: customerID}, nil
		}
		return res, fmt.Errorf("fulfillment: record transaction: %w", err)
	}

	if err := tx.Carts().Clear(ctx, customerID); err != nil {
		return res, fmt.Errorf("fulfillment: clear cart: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if errors.Is(err, repo.ErrDuplicateTransaction) {
			log.Info("payment transaction committed concurrently, rolled back")
			return Result{Outcome: OutcomeDuplicate, CustomerID: customerID}, nil
		}
		return res, fmt.Errorf("fulfillment: commit: %w", err)
	}

	res.Outcome = OutcomeFulfilled
	log.Info("order fulfilled",
		zap.Int64("order_id", order.ID),
		zap.Int("line_items", res.LineItems),
		zap.String("source", string(res.Source)))
	return res, nil
}

// resolveCustomer prefers the id carried in the notification metadata and
// falls back to an exact email match.
func resolveCustomer(ctx context.Context, customers repo.CustomerRepo, n domain.PaymentNotification) (int64, bool, error) {
	if n.CustomerID != nil {
		return *n.CustomerID, true, nil
	}
	if n.CustomerEmail == "" {
		return 0, false, nil
	}
	return customers.FindIDByEmail(ctx, n.CustomerEmail)
}

// materialize inserts the paid order and, per draft, its line item and the
// matching stock decrement.
func materialize(ctx context.Context, tx repo.Tx, customerID int64, n domain.PaymentNotification, drafts []domain.LineItemDraft) (*domain.Order, error) {
	order := &domain.Order{
		CustomerID:      customerID,
		Status:          domain.OrderPaid,
		ShippingName:    nullString(n.Shipping.Name),
		DeliveryAddress: nullString(n.DeliveryAddress),
	}
	if n.Shipping.Cost != nil {
		order.ShippingCost = decimal.NullDecimal{Decimal: *n.Shipping.Cost, Valid: true}
	}
	if n.Shipping.LeadTimeDays != nil {
		order.ShippingDays = sql.NullInt32{Int32: int32(*n.Shipping.LeadTimeDays), Valid: true}
	}

	if err := tx.Orders().CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	for _, d := range drafts {
		item := domain.OrderLineItem{
			OrderID:   order.ID,
			ProductID: d.ProductID,
			Quantity:  d.Quantity,
			UnitPrice: d.UnitPrice,
		}
		if err := tx.Orders().AddLineItem(ctx, item); err != nil {
			return nil, fmt.Errorf("add line item for product %d: %w", d.ProductID, err)
		}
		if err := tx.Products().DecrementStock(ctx, d.ProductID, d.Quantity); err != nil {
			return nil, fmt.Errorf("decrement stock of product %d: %w", d.ProductID, err)
		}
	}
	return order, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
