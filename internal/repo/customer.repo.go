package repo

import (
	"context"
	"database/sql"
	"errors"
)

type CustomerRepo interface {
	// FindIDByEmail returns the lowest customer id with exactly this email.
	FindIDByEmail(ctx context.Context, email string) (int64, bool, error)
	// LockForUpdate row-locks the customer for the rest of the transaction.
	LockForUpdate(ctx context.Context, id int64) (bool, error)
}

type customerRepo struct {
	db DBTX
}

func NewCustomerRepo(db DBTX) CustomerRepo {
	return &customerRepo{db: db}
}

func (r *customerRepo) FindIDByEmail(ctx context.Context, email string) (int64, bool, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		"SELECT id_cliente FROM cliente WHERE email = $1 ORDER BY id_cliente LIMIT 1",
		email,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (r *customerRepo) LockForUpdate(ctx context.Context, id int64) (bool, error) {
	var locked int64
	err := r.db.QueryRowContext(ctx,
		"SELECT id_cliente FROM cliente WHERE id_cliente = $1 FOR UPDATE",
		id,
	).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
