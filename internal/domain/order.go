package domain

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderShipped   OrderStatus = "shipped"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

type Order struct {
	ID              int64
	CustomerID      int64
	ShippingName    sql.NullString
	ShippingCost    decimal.NullDecimal
	ShippingDays    sql.NullInt32
	Status          OrderStatus
	DeliveryAddress sql.NullString
	CreatedAt       time.Time
}

// OrderLineItem keeps the unit price charged at purchase time, independent of
// later catalog price changes.
type OrderLineItem struct {
	OrderID   int64
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
}

// LineItemDraft is a line item that has not been attached to an order yet.
type LineItemDraft struct {
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
}
