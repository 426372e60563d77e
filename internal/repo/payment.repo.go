package repo

import (
	"context"
	"fmt"

	"github.com/henriqueponts/labstore-sub003/internal/domain"
)

type PaymentRepo interface {
	// CreatePayment returns ErrDuplicateTransaction when the provider id was
	// already recorded.
	CreatePayment(ctx context.Context, payment *domain.PaymentTransaction) error
	ExistsByProviderID(ctx context.Context, providerTransactionID string) (bool, error)
	FindByProviderID(ctx context.Context, providerTransactionID string) (*domain.PaymentTransaction, error)
}

type paymentRepo struct {
	db DBTX
}

func NewPaymentRepo(db DBTX) PaymentRepo {
	return &paymentRepo{db: db}
}

func (r *paymentRepo) CreatePayment(ctx context.Context, payment *domain.PaymentTransaction) error {
	query := `
		INSERT INTO transacao_pagamento
			(id_pedido, provider_transaction_id, status, metodo_pagamento, valor, parcelas, payment_link_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id_transacao, criado_em
	`
	err := r.db.QueryRowContext(
		ctx, query,
		payment.OrderID,
		payment.ProviderTransactionID,
		payment.Status,
		payment.Method,
		payment.Amount,
		payment.Installments,
		payment.PaymentLinkID,
	).Scan(&payment.ID, &payment.CreatedAt)
	if isUniqueViolation(err, "uq_transacao_provider") {
		return fmt.Errorf("%w: %s", ErrDuplicateTransaction, payment.ProviderTransactionID)
	}
	return err
}

func (r *paymentRepo) ExistsByProviderID(ctx context.Context, providerTransactionID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM transacao_pagamento WHERE provider_transaction_id = $1)",
		providerTransactionID,
	).Scan(&exists)
	return exists, err
}

func (r *paymentRepo) FindByProviderID(ctx context.Context, providerTransactionID string) (*domain.PaymentTransaction, error) {
	var p domain.PaymentTransaction
	err := r.db.QueryRowContext(ctx, `
		SELECT id_transacao, id_pedido, provider_transaction_id, status, metodo_pagamento, valor, parcelas, payment_link_id, criado_em
		FROM transacao_pagamento
		WHERE provider_transaction_id = $1
	`, providerTransactionID).Scan(
		&p.ID,
		&p.OrderID,
		&p.ProviderTransactionID,
		&p.Status,
		&p.Method,
		&p.Amount,
		&p.Installments,
		&p.PaymentLinkID,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, notFoundAsNil(err)
	}
	return &p, nil
}
