package domain

import (
	"time"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

type PaymentTransaction struct {
	ID                    int64
	OrderID               int64
	ProviderTransactionID string
	Status                PaymentStatus
	Method                string
	Amount                int64 // minor units
	Installments          int
	PaymentLinkID         string
	CreatedAt             time.Time
}
