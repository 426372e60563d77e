// Package repotest provides an in-memory repo.Store with transactional
// snapshot semantics and per-operation fault injection.
package repotest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/henriqueponts/labstore-sub003/internal/domain"
	"github.com/henriqueponts/labstore-sub003/internal/repo"
)

// Operation names accepted by FailOn.
const (
	OpBegin          = "Begin"
	OpCommit         = "Commit"
	OpFindIDByEmail  = "Customers.FindIDByEmail"
	OpListCart       = "Carts.ListByCustomer"
	OpClearCart      = "Carts.Clear"
	OpSearchProducts = "Products.SearchByName"
	OpDecrementStock = "Products.DecrementStock"
	OpCreateOrder    = "Orders.CreateOrder"
	OpAddLineItem    = "Orders.AddLineItem"
	OpCreatePayment  = "Payments.CreatePayment"
	OpPaymentExists  = "Payments.ExistsByProviderID"
	OpRecordFailure  = "FailedNotifications.Record"
	OpListRetryable  = "FailedNotifications.ListRetryable"
	OpMarkResolved   = "FailedNotifications.MarkResolved"
)

type Customer struct {
	ID    int64
	Name  string
	Email string
}

type cartKey struct {
	customerID int64
	productID  int64
}

type state struct {
	customers map[int64]Customer
	products  map[int64]domain.Product
	cart      map[cartKey]int
	orders    map[int64]domain.Order
	lineItems map[int64][]domain.OrderLineItem
	payments  map[string]domain.PaymentTransaction
	failures  map[string]domain.FailedNotification
}

func newState() *state {
	return &state{
		customers: map[int64]Customer{},
		products:  map[int64]domain.Product{},
		cart:      map[cartKey]int{},
		orders:    map[int64]domain.Order{},
		lineItems: map[int64][]domain.OrderLineItem{},
		payments:  map[string]domain.PaymentTransaction{},
		failures:  map[string]domain.FailedNotification{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.customers {
		c.customers[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.cart {
		c.cart[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.lineItems {
		c.lineItems[k] = append([]domain.OrderLineItem(nil), v...)
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.failures {
		c.failures[k] = v
	}
	return c
}

// Store is an in-memory repo.Store. The zero value is not usable; call NewStore.
// Ids come from store-wide sequences that, like Postgres sequences, are not
// rolled back.
type Store struct {
	mu         sync.Mutex
	st         *state
	failOn     map[string]error
	commits    int
	orderSeq   int64
	paymentSeq int64
}

var _ repo.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{st: newState(), failOn: map[string]error{}}
}

// FailOn makes every later call of op return err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOn[op] = err
}

// ClearFaults removes every injected failure.
func (s *Store) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOn = map[string]error{}
}

func (s *Store) nextOrderID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orderSeq++
	return s.orderSeq
}

func (s *Store) nextPaymentID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paymentSeq++
	return s.paymentSeq
}

func (s *Store) fault(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failOn[op]; ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Seed helpers write straight to committed state.

func (s *Store) AddCustomer(c Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.customers[c.ID] = c
}

func (s *Store) AddProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.products[p.ID] = p
}

func (s *Store) AddToCart(customerID, productID int64, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.cart[cartKey{customerID, productID}] = qty
}

func (s *Store) AddPayment(p domain.PaymentTransaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.payments[p.ProviderTransactionID] = p
}

// Inspection helpers read committed state.

func (s *Store) Orders() []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Order, 0, len(s.st.orders))
	for _, o := range s.st.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) LineItems(orderID int64) []domain.OrderLineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OrderLineItem(nil), s.st.lineItems[orderID]...)
}

func (s *Store) AllPayments() []domain.PaymentTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.PaymentTransaction, 0, len(s.st.payments))
	for _, p := range s.st.payments {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Product(id int64) domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.products[id]
}

func (s *Store) CartSize(customerID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.st.cart {
		if k.customerID == customerID {
			n++
		}
	}
	return n
}

func (s *Store) Failures() []domain.FailedNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.FailedNotification, 0, len(s.st.failures))
	for _, f := range s.st.failures {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Commits counts successful commits.
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *Store) Begin(ctx context.Context) (repo.Tx, error) {
	if err := s.fault(OpBegin); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Tx{store: s, st: s.st.clone()}, nil
}

// Payments is bound to committed state.
func (s *Store) Payments() repo.PaymentRepo {
	return &paymentRepo{store: s, view: s.committed, write: func(op func(st *state) error) error {
		var err error
		s.committed(func(st *state) { err = op(st) })
		return err
	}}
}

func (s *Store) FailedNotifications() repo.FailedNotificationRepo {
	return &failureRepo{store: s}
}

// committed runs fn against committed state under the store lock.
func (s *Store) committed(fn func(st *state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.st)
}

// Tx reads and writes a private copy of the state. Its writes are queued and
// replayed onto the committed state on Commit, so writes committed elsewhere in
// the meantime survive. A write that no longer applies fails the whole commit.
type Tx struct {
	store *Store
	st    *state
	ops   []func(st *state) error
	done  bool
}

func (t *Tx) view(fn func(st *state)) { fn(t.st) }

// apply runs op on the private copy and queues it for Commit.
func (t *Tx) apply(op func(st *state) error) error {
	if err := op(t.st); err != nil {
		return err
	}
	t.ops = append(t.ops, op)
	return nil
}

func (t *Tx) Customers() repo.CustomerRepo { return &customerRepo{tx: t} }
func (t *Tx) Carts() repo.CartRepo         { return &cartRepo{tx: t} }
func (t *Tx) Products() repo.ProductRepo   { return &productRepo{tx: t} }
func (t *Tx) Orders() repo.OrderRepo       { return &orderRepo{tx: t} }
func (t *Tx) Payments() repo.PaymentRepo {
	return &paymentRepo{store: t.store, view: t.view, write: t.apply}
}

func (t *Tx) Commit() error {
	if t.done {
		return errors.New("repotest: transaction already finished")
	}
	if err := t.store.fault(OpCommit); err != nil {
		return err
	}
	t.done = true
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	next := t.store.st.clone()
	for _, op := range t.ops {
		if err := op(next); err != nil {
			return err
		}
	}
	t.store.st = next
	t.store.commits++
	return nil
}

func (t *Tx) Rollback() error {
	t.done = true
	return nil
}

type customerRepo struct{ tx *Tx }

func (r *customerRepo) FindIDByEmail(ctx context.Context, email string) (int64, bool, error) {
	if err := r.tx.store.fault(OpFindIDByEmail); err != nil {
		return 0, false, err
	}
	var found int64
	for id, c := range r.tx.st.customers {
		if c.Email == email && (found == 0 || id < found) {
			found = id
		}
	}
	return found, found != 0, nil
}

func (r *customerRepo) LockForUpdate(ctx context.Context, id int64) (bool, error) {
	_, ok := r.tx.st.customers[id]
	return ok, nil
}

type cartRepo struct{ tx *Tx }

func (r *cartRepo) ListByCustomer(ctx context.Context, customerID int64) ([]domain.CartLine, error) {
	if err := r.tx.store.fault(OpListCart); err != nil {
		return nil, err
	}
	var lines []domain.CartLine
	for k, qty := range r.tx.st.cart {
		if k.customerID != customerID {
			continue
		}
		p := r.tx.st.products[k.productID]
		lines = append(lines, domain.CartLine{
			CustomerID:  customerID,
			ProductID:   p.ID,
			ProductName: p.Name,
			UnitPrice:   p.Price,
			Quantity:    qty,
			Subtotal:    p.Price.Mul(decimal.NewFromInt(int64(qty))),
			Stock:       p.Stock,
		})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines, nil
}

func (r *cartRepo) Clear(ctx context.Context, customerID int64) error {
	if err := r.tx.store.fault(OpClearCart); err != nil {
		return err
	}
	return r.tx.apply(func(st *state) error {
		for k := range st.cart {
			if k.customerID == customerID {
				delete(st.cart, k)
			}
		}
		return nil
	})
}

type productRepo struct{ tx *Tx }

func (r *productRepo) SearchByName(ctx context.Context, fragment string) ([]domain.Product, error) {
	if err := r.tx.store.fault(OpSearchProducts); err != nil {
		return nil, err
	}
	needle := strings.ToLower(fragment)
	var out []domain.Product
	for _, p := range r.tx.st.products {
		if strings.Contains(strings.ToLower(p.Name), needle) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *productRepo) FindByID(ctx context.Context, id int64) (*domain.Product, error) {
	p, ok := r.tx.st.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *productRepo) DecrementStock(ctx context.Context, productID int64, qty int) error {
	if err := r.tx.store.fault(OpDecrementStock); err != nil {
		return err
	}
	return r.tx.apply(func(st *state) error {
		p, ok := st.products[productID]
		if !ok {
			return nil // UPDATE matching no rows
		}
		p.Stock -= qty
		st.products[productID] = p
		return nil
	})
}

type orderRepo struct{ tx *Tx }

func (r *orderRepo) FindById(ctx context.Context, id int64) (*domain.Order, error) {
	o, ok := r.tx.st.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (r *orderRepo) CreateOrder(ctx context.Context, order *domain.Order) error {
	if err := r.tx.store.fault(OpCreateOrder); err != nil {
		return err
	}
	if _, ok := r.tx.st.customers[order.CustomerID]; !ok {
		return fmt.Errorf("repotest: customer %d violates pedido_id_cliente_fkey", order.CustomerID)
	}
	order.ID = r.tx.store.nextOrderID()
	order.CreatedAt = time.Now().UTC()
	row := *order
	return r.tx.apply(func(st *state) error {
		if _, ok := st.customers[row.CustomerID]; !ok {
			return fmt.Errorf("repotest: customer %d violates pedido_id_cliente_fkey", row.CustomerID)
		}
		st.orders[row.ID] = row
		return nil
	})
}

func (r *orderRepo) AddLineItem(ctx context.Context, item domain.OrderLineItem) error {
	if err := r.tx.store.fault(OpAddLineItem); err != nil {
		return err
	}
	return r.tx.apply(func(st *state) error {
		for _, existing := range st.lineItems[item.OrderID] {
			if existing.ProductID == item.ProductID {
				return fmt.Errorf("repotest: duplicate line item (%d, %d)", item.OrderID, item.ProductID)
			}
		}
		st.lineItems[item.OrderID] = append(st.lineItems[item.OrderID], item)
		return nil
	})
}

func (r *orderRepo) ListLineItems(ctx context.Context, orderID int64) ([]domain.OrderLineItem, error) {
	return append([]domain.OrderLineItem(nil), r.tx.st.lineItems[orderID]...), nil
}

func (r *orderRepo) ListByCustomer(ctx context.Context, customerID int64) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range r.tx.st.orders {
		if o.CustomerID == customerID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type paymentRepo struct {
	store *Store
	view  func(fn func(st *state))
	write func(op func(st *state) error) error
}

func (r *paymentRepo) CreatePayment(ctx context.Context, payment *domain.PaymentTransaction) error {
	if err := r.store.fault(OpCreatePayment); err != nil {
		return err
	}
	var dup bool
	r.view(func(st *state) { _, dup = st.payments[payment.ProviderTransactionID] })
	if dup {
		return fmt.Errorf("%w: %s", repo.ErrDuplicateTransaction, payment.ProviderTransactionID)
	}
	payment.ID = r.store.nextPaymentID()
	payment.CreatedAt = time.Now().UTC()
	row := *payment
	return r.write(func(st *state) error {
		if _, ok := st.payments[row.ProviderTransactionID]; ok {
			return fmt.Errorf("%w: %s", repo.ErrDuplicateTransaction, row.ProviderTransactionID)
		}
		st.payments[row.ProviderTransactionID] = row
		return nil
	})
}

func (r *paymentRepo) ExistsByProviderID(ctx context.Context, providerTransactionID string) (bool, error) {
	if err := r.store.fault(OpPaymentExists); err != nil {
		return false, err
	}
	var ok bool
	r.view(func(st *state) { _, ok = st.payments[providerTransactionID] })
	return ok, nil
}

func (r *paymentRepo) FindByProviderID(ctx context.Context, providerTransactionID string) (*domain.PaymentTransaction, error) {
	var (
		p  domain.PaymentTransaction
		ok bool
	)
	r.view(func(st *state) { p, ok = st.payments[providerTransactionID] })
	if !ok {
		return nil, nil
	}
	return &p, nil
}

type failureRepo struct{ store *Store }

func (r *failureRepo) Record(ctx context.Context, n *domain.FailedNotification) error {
	if err := r.store.fault(OpRecordFailure); err != nil {
		return err
	}
	r.store.committed(func(st *state) {
		now := time.Now().UTC()
		if existing, ok := st.failures[n.ProviderTransactionID]; ok {
			n.ID = existing.ID
			n.CreatedAt = existing.CreatedAt
			n.Attempts = existing.Attempts + 1
		} else {
			if n.ID == uuid.Nil {
				n.ID = uuid.New()
			}
			n.CreatedAt = now
			n.Attempts = 1
		}
		n.ResolvedAt = nil
		n.UpdatedAt = now
		st.failures[n.ProviderTransactionID] = *n
	})
	return nil
}

func (r *failureRepo) ListRetryable(ctx context.Context, maxAttempts, limit int) ([]domain.FailedNotification, error) {
	if err := r.store.fault(OpListRetryable); err != nil {
		return nil, err
	}
	var out []domain.FailedNotification
	r.store.committed(func(st *state) {
		for _, f := range st.failures {
			if f.ResolvedAt == nil && f.Reason == domain.FailureFulfillment && f.Attempts < maxAttempts {
				out = append(out, f)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *failureRepo) MarkResolved(ctx context.Context, id uuid.UUID) error {
	if err := r.store.fault(OpMarkResolved); err != nil {
		return err
	}
	r.store.committed(func(st *state) {
		for k, f := range st.failures {
			if f.ID == id {
				now := time.Now().UTC()
				f.ResolvedAt = &now
				f.UpdatedAt = now
				st.failures[k] = f
			}
		}
	})
	return nil
}
