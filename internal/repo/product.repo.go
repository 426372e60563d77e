package repo

import (
	"context"
	"strings"

	"github.com/henriqueponts/labstore-sub003/internal/domain"
)

type ProductRepo interface {
	// SearchByName returns products whose name contains fragment, case-insensitively,
	// ordered by id.
	SearchByName(ctx context.Context, fragment string) ([]domain.Product, error)
	FindByID(ctx context.Context, id int64) (*domain.Product, error)
	// DecrementStock subtracts qty without a floor check; the sale is already charged.
	DecrementStock(ctx context.Context, productID int64, qty int) error
}

type productRepo struct {
	db DBTX
}

func NewProductRepo(db DBTX) ProductRepo {
	return &productRepo{db: db}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *productRepo) SearchByName(ctx context.Context, fragment string) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id_produto, nome, preco, estoque
		FROM produto
		WHERE nome ILIKE '%' || $1 || '%'
		ORDER BY id_produto
		LIMIT 50
	`, likeEscaper.Replace(fragment))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Stock); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r *productRepo) FindByID(ctx context.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	err := r.db.QueryRowContext(ctx,
		"SELECT id_produto, nome, preco, estoque FROM produto WHERE id_produto = $1", id,
	).Scan(&p.ID, &p.Name, &p.Price, &p.Stock)
	if err != nil {
		return nil, notFoundAsNil(err)
	}
	return &p, nil
}

func (r *productRepo) DecrementStock(ctx context.Context, productID int64, qty int) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE produto SET estoque = estoque - $1 WHERE id_produto = $2",
		qty, productID,
	)
	return err
}
