package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/henriqueponts/labstore-sub003/internal/domain"
)

type OrderRepo interface {
	FindById(ctx context.Context, id int64) (*domain.Order, error)
	// CreateOrder inserts the order and fills in its generated id and timestamp.
	CreateOrder(ctx context.Context, order *domain.Order) error
	AddLineItem(ctx context.Context, item domain.OrderLineItem) error
	ListLineItems(ctx context.Context, orderID int64) ([]domain.OrderLineItem, error)
	ListByCustomer(ctx context.Context, customerID int64) ([]domain.Order, error)
}

type orderRepo struct {
	db DBTX
}

func NewOrderRepo(db DBTX) OrderRepo {
	return &orderRepo{db: db}
}

const orderColumns = `id_pedido, id_cliente, frete_nome, frete_valor, frete_prazo, status, endereco_entrega, data_pedido`

func scanOrder(row interface{ Scan(dest ...any) error }, order *domain.Order) error {
	return row.Scan(
		&order.ID,
		&order.CustomerID,
		&order.ShippingName,
		&order.ShippingCost,
		&order.ShippingDays,
		&order.Status,
		&order.DeliveryAddress,
		&order.CreatedAt,
	)
}

func (r *orderRepo) FindById(ctx context.Context, id int64) (*domain.Order, error) {
	var order domain.Order
	err := scanOrder(r.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM pedido WHERE id_pedido = $1", id), &order)
	if err != nil {
		return nil, notFoundAsNil(err)
	}
	return &order, nil
}

func (r *orderRepo) CreateOrder(ctx context.Context, order *domain.Order) error {
	return r.db.QueryRowContext(ctx, `
		INSERT INTO pedido (id_cliente, frete_nome, frete_valor, frete_prazo, status, endereco_entrega)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id_pedido, data_pedido
	`,
		order.CustomerID,
		order.ShippingName,
		order.ShippingCost,
		order.ShippingDays,
		order.Status,
		order.DeliveryAddress,
	).Scan(&order.ID, &order.CreatedAt)
}

func (r *orderRepo) AddLineItem(ctx context.Context, item domain.OrderLineItem) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO item_pedido (id_pedido, id_produto, quantidade, preco_unitario) VALUES ($1, $2, $3, $4)",
		item.OrderID, item.ProductID, item.Quantity, item.UnitPrice,
	)
	return err
}

func (r *orderRepo) ListLineItems(ctx context.Context, orderID int64) ([]domain.OrderLineItem, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id_pedido, id_produto, quantidade, preco_unitario FROM item_pedido WHERE id_pedido = $1 ORDER BY id_produto",
		orderID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.OrderLineItem
	for rows.Next() {
		var item domain.OrderLineItem
		if err := rows.Scan(&item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *orderRepo) ListByCustomer(ctx context.Context, customerID int64) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM pedido WHERE id_cliente = $1 ORDER BY id_pedido",
		customerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var order domain.Order
		if err := scanOrder(rows, &order); err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func notFoundAsNil(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return nil // not found
	}
	return err // system error
}
