package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const EventOrderPaid = "order.paid"

// PaymentNotification is the validated form of an order.paid webhook.
type PaymentNotification struct {
	ProviderTransactionID string
	PaymentLinkID         string
	Amount                int64 // minor units
	Currency              string
	CustomerID            *int64
	CustomerEmail         string
	Shipping              ShippingQuote
	DeliveryAddress       string
	PaymentMethod         string
	Installments          int
	Items                 []ProviderItem
}

type ShippingQuote struct {
	Name         string
	Cost         *decimal.Decimal
	LeadTimeDays *int
}

// ProviderItem is an item as described by the payment provider, free text only.
type ProviderItem struct {
	Name        string
	Description string
	Quantity    int
	Amount      int64 // minor units, whole line
}

// Text returns the description used for catalog matching.
func (i ProviderItem) Text() string {
	if i.Description != "" {
		return i.Description
	}
	return i.Name
}

type FailureReason string

const (
	FailureFulfillment          FailureReason = "failed"
	FailureReconciliationNeeded FailureReason = "reconciliation_needed"
)

// FailedNotification is a dead-lettered order.paid delivery awaiting retry or
// manual reconciliation.
type FailedNotification struct {
	ID                    uuid.UUID
	ProviderTransactionID string
	EventType             string
	Payload               []byte
	Reason                FailureReason
	Attempts              int
	LastError             string
	ResolvedAt            *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}
