package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateTransaction is returned when a payment transaction with the same
// provider id already exists.
var ErrDuplicateTransaction = errors.New("payment transaction already recorded")

const uniqueViolation = "23505"

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store hands out repositories bound to the pool and opens units of work.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Payments() PaymentRepo
	FailedNotifications() FailedNotificationRepo
}

// Tx is a unit of work. Repositories obtained from it share the transaction.
// Rollback after Commit is a no-op.
type Tx interface {
	Customers() CustomerRepo
	Carts() CartRepo
	Products() ProductRepo
	Orders() OrderRepo
	Payments() PaymentRepo
	Commit() error
	Rollback() error
}

type store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) Store {
	return &store{db: db}
}

func (s *store) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx}, nil
}

func (s *store) Payments() PaymentRepo {
	return NewPaymentRepo(s.db)
}

func (s *store) FailedNotifications() FailedNotificationRepo {
	return NewFailedNotificationRepo(s.db)
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Customers() CustomerRepo { return NewCustomerRepo(t.tx) }
func (t *sqlTx) Carts() CartRepo         { return NewCartRepo(t.tx) }
func (t *sqlTx) Products() ProductRepo   { return NewProductRepo(t.tx) }
func (t *sqlTx) Orders() OrderRepo       { return NewOrderRepo(t.tx) }
func (t *sqlTx) Payments() PaymentRepo   { return NewPaymentRepo(t.tx) }

func (t *sqlTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqlTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == uniqueViolation && (constraint == "" || pgErr.ConstraintName == constraint)
}
