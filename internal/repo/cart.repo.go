package repo

import (
	"context"

	"github.com/henriqueponts/labstore-sub003/internal/domain"
)

type CartRepo interface {
	ListByCustomer(ctx context.Context, customerID int64) ([]domain.CartLine, error)
	Clear(ctx context.Context, customerID int64) error
}

type cartRepo struct {
	db DBTX
}

func NewCartRepo(db DBTX) CartRepo {
	return &cartRepo{db: db}
}

func (r *cartRepo) ListByCustomer(ctx context.Context, customerID int64) ([]domain.CartLine, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id_cliente, id_produto, nome_produto, preco_atual, quantidade, subtotal, estoque, imagem_principal
		FROM vw_carrinho
		WHERE id_cliente = $1
		ORDER BY id_produto
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []domain.CartLine
	for rows.Next() {
		var l domain.CartLine
		if err := rows.Scan(
			&l.CustomerID,
			&l.ProductID,
			&l.ProductName,
			&l.UnitPrice,
			&l.Quantity,
			&l.Subtotal,
			&l.Stock,
			&l.PrimaryImage,
		); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// Clear empties the cart through the limpar_carrinho procedure.
func (r *cartRepo) Clear(ctx context.Context, customerID int64) error {
	_, err := r.db.ExecContext(ctx, "CALL limpar_carrinho($1)", customerID)
	return err
}
