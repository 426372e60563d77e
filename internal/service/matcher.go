package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/henriqueponts/labstore-sub003/internal/domain"
	"github.com/henriqueponts/labstore-sub003/internal/repo"
)

// MatchProduct returns the lowest-id catalog product whose name contains text,
// ignoring case and surrounding whitespace. Blank text never matches.
func MatchProduct(catalog []domain.Product, text string) (domain.Product, bool) {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return domain.Product{}, false
	}

	var (
		best  domain.Product
		found bool
	)
	for _, p := range catalog {
		if !strings.Contains(strings.ToLower(p.Name), needle) {
			continue
		}
		if !found || p.ID < best.ID {
			best, found = p, true
		}
	}
	return best, found
}

// DeriveUnitPrice converts a line amount in minor units into a per-unit price
// rounded to cents. qty must be positive.
func DeriveUnitPrice(amount int64, qty int) decimal.Decimal {
	return decimal.New(amount, -2).Div(decimal.NewFromInt(int64(qty))).Round(2)
}

type matchedItem struct {
	productID int64
	quantity  int
	amount    int64
}

// BuildFallbackItems reconstructs line items from provider free text when no
// cart snapshot exists. Unmatched items and items without a positive quantity
// are dropped. Items resolving to the same product are merged so each product
// appears once per order.
func BuildFallbackItems(ctx context.Context, products repo.ProductRepo, items []domain.ProviderItem) ([]domain.LineItemDraft, error) {
	var (
		order  []int64
		merged = map[int64]*matchedItem{}
	)
	for _, it := range items {
		if it.Quantity <= 0 {
			continue
		}
		text := strings.TrimSpace(it.Text())
		if text == "" {
			continue
		}
		candidates, err := products.SearchByName(ctx, text)
		if err != nil {
			return nil, err
		}
		p, ok := MatchProduct(candidates, text)
		if !ok {
			continue
		}
		if m, seen := merged[p.ID]; seen {
			m.quantity += it.Quantity
			m.amount += it.Amount
			continue
		}
		merged[p.ID] = &matchedItem{productID: p.ID, quantity: it.Quantity, amount: it.Amount}
		order = append(order, p.ID)
	}

	drafts := make([]domain.LineItemDraft, 0, len(order))
	for _, id := range order {
		m := merged[id]
		drafts = append(drafts, domain.LineItemDraft{
			ProductID: m.productID,
			Quantity:  m.quantity,
			UnitPrice: DeriveUnitPrice(m.amount, m.quantity),
		})
	}
	return drafts, nil
}

func cartToDrafts(lines []domain.CartLine) []domain.LineItemDraft {
	drafts := make([]domain.LineItemDraft, 0, len(lines))
	for _, l := range lines {
		drafts = append(drafts, domain.LineItemDraft{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		})
	}
	return drafts
}
