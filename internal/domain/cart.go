package domain

import (
	"database/sql"

	"github.com/shopspring/decimal"
)

type CartLine struct {
	CustomerID   int64
	ProductID    int64
	ProductName  string
	UnitPrice    decimal.Decimal
	Quantity     int
	Subtotal     decimal.Decimal
	Stock        int
	PrimaryImage sql.NullString
}

type Product struct {
	ID    int64
	Name  string
	Price decimal.Decimal
	Stock int
}
