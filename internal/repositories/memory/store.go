// Package memory implements the repository contracts in process memory. One
// mutex guards every collection, so each method is trivially atomic.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

type cartKey struct {
	account string
	product string
}

// Store holds every collection behind one lock.
type Store struct {
	mu       sync.RWMutex
	products map[string]domain.Product
	lines    map[cartKey]domain.CartLine
	orders   map[string]domain.Order
	payments map[string]domain.Payment
	profiles map[string]domain.Profile
}

// NewStore returns an empty store seeded with products.
func NewStore(products ...domain.Product) *Store {
	s := &Store{
		products: make(map[string]domain.Product, len(products)),
		lines:    make(map[cartKey]domain.CartLine),
		orders:   make(map[string]domain.Order),
		payments: make(map[string]domain.Payment),
		profiles: make(map[string]domain.Profile),
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

var (
	_ repositories.Registry          = (*Store)(nil)
	_ repositories.ProductRepository = (*products)(nil)
	_ repositories.CartRepository    = (*carts)(nil)
	_ repositories.OrderRepository   = (*orders)(nil)
	_ repositories.PaymentRepository = (*payments)(nil)
	_ repositories.ProfileRepository = (*profiles)(nil)
)

func (s *Store) Products() repositories.ProductRepository { return (*products)(s) }
func (s *Store) Carts() repositories.CartRepository       { return (*carts)(s) }
func (s *Store) Orders() repositories.OrderRepository     { return (*orders)(s) }
func (s *Store) Payments() repositories.PaymentRepository { return (*payments)(s) }
func (s *Store) Profiles() repositories.ProfileRepository { return (*profiles)(s) }

func (s *Store) Checks() []repositories.DependencyCheck {
	return []repositories.DependencyCheck{{Name: "memory", Check: func(context.Context) error { return nil }}}
}

func (s *Store) Close(context.Context) error { return nil }

type products Store

func (r *products) FindByID(_ context.Context, productID string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[productID]
	if !ok {
		return domain.Product{}, repositories.NewNotFound("products.get", "product")
	}
	return p, nil
}

func (r *products) FindByIDs(_ context.Context, productIDs []string) (map[string]domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if p, ok := r.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (r *products) Upsert(_ context.Context, product domain.Product) error {
	if product.ID == "" {
		return errors.New("memory: product id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[product.ID] = product
	return nil
}

type carts Store

func (r *carts) ListLines(_ context.Context, accountID string) ([]domain.CartLine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.CartLine
	for key, line := range r.lines {
		if key.account == accountID {
			out = append(out, line)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].AddedAt.After(out[j].AddedAt)
	})
	return out, nil
}

func (r *carts) Increment(_ context.Context, accountID, productID string, qty int, at time.Time) (domain.CartLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := cartKey{accountID, productID}
	line, ok := r.lines[key]
	if !ok {
		line = domain.CartLine{ProductID: productID, AddedAt: at}
	}
	line.Quantity += qty
	line.UpdatedAt = at
	r.lines[key] = line
	return line, nil
}

func (r *carts) SetQuantity(_ context.Context, accountID, productID string, qty int, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := cartKey{accountID, productID}
	line, ok := r.lines[key]
	if !ok {
		return false, nil
	}
	line.Quantity = qty
	line.UpdatedAt = at
	r.lines[key] = line
	return true, nil
}

func (r *carts) DeleteLine(_ context.Context, accountID, productID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lines, cartKey{accountID, productID})
	return nil
}

func (r *carts) InsertMissing(_ context.Context, accountID string, lines []domain.CartLine) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inserted := 0
	for _, line := range lines {
		key := cartKey{accountID, line.ProductID}
		if _, exists := r.lines[key]; exists {
			continue
		}
		r.lines[key] = line
		inserted++
	}
	return inserted, nil
}

func (r *carts) Clear(_ context.Context, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.lines {
		if key.account == accountID {
			delete(r.lines, key)
		}
	}
	return nil
}

type orders Store

func (r *orders) CreateWithPayment(_ context.Context, order domain.Order, payment domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[order.ID]; exists {
		return repositories.NewConflict("orders.create", errors.New("order already exists"))
	}
	if _, exists := r.payments[payment.ID]; exists {
		return repositories.NewConflict("orders.create", errors.New("payment already exists"))
	}
	order.Items = append([]domain.OrderItem(nil), order.Items...)
	r.orders[order.ID] = order
	r.payments[payment.ID] = payment
	return nil
}

func (r *orders) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewNotFound("orders.get", "order")
	}
	order.Items = append([]domain.OrderItem(nil), order.Items...)
	return order, nil
}

func (r *orders) ListByAccount(_ context.Context, accountID string, page domain.Page) (domain.OrderPage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []domain.Order
	for _, order := range r.orders {
		if order.AccountID == accountID {
			all = append(all, order)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	out := domain.OrderPage{Page: page, TotalCount: len(all)}
	start := page.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + page.Size
	if end > len(all) {
		end = len(all)
	}
	for _, order := range all[start:end] {
		summary := domain.OrderSummary{
			ID:         order.ID,
			TotalPrice: order.TotalPrice,
			Currency:   order.Currency,
			ItemCount:  order.ItemCount,
			CreatedAt:  order.CreatedAt,
		}
		for _, p := range r.payments {
			if p.OrderID == order.ID {
				summary.PaymentStatus = p.Status
				break
			}
		}
		out.Items = append(out.Items, summary)
	}
	return out, nil
}

type payments Store

func (r *payments) find(op string, match func(domain.Payment) bool) (domain.Payment, error) {
	for _, p := range r.payments {
		if match(p) {
			return p, nil
		}
	}
	return domain.Payment{}, repositories.NewNotFound(op, "payment")
}

func (r *payments) FindBySession(_ context.Context, sessionID string) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.find("payments.bySession", func(p domain.Payment) bool { return p.SessionID == sessionID })
}

func (r *payments) FindByOrder(_ context.Context, orderID string) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.find("payments.byOrder", func(p domain.Payment) bool { return p.OrderID == orderID })
}

func (r *payments) Transition(_ context.Context, sessionID string, to domain.PaymentStatus, at time.Time) (domain.Payment, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	payment, err := r.find("payments.transition", func(p domain.Payment) bool { return p.SessionID == sessionID })
	if err != nil {
		return domain.Payment{}, false, err
	}
	if !domain.CanTransition(payment.Status, to) {
		return payment, false, nil
	}
	settled := at
	payment.Status = to
	payment.UpdatedAt = at
	payment.SettledAt = &settled
	r.payments[payment.ID] = payment
	return payment, true, nil
}

func (r *payments) ListPending(_ context.Context, createdBefore time.Time, limit int) ([]domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Payment
	for _, p := range r.payments {
		if p.Status == domain.PaymentStatusPending && p.CreatedAt.Before(createdBefore) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type profiles Store

func (r *profiles) FindByAccount(_ context.Context, accountID string) (domain.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	profile, ok := r.profiles[accountID]
	if !ok {
		return domain.Profile{}, repositories.NewNotFound("profiles.get", "profile")
	}
	return cloneProfile(profile), nil
}

func (r *profiles) Save(_ context.Context, profile domain.Profile) error {
	if profile.AccountID == "" {
		return errors.New("memory: account id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[profile.AccountID] = cloneProfile(profile)
	return nil
}

func cloneProfile(p domain.Profile) domain.Profile {
	if p.Shipping != nil {
		addr := *p.Shipping
		p.Shipping = &addr
	}
	if p.Billing != nil {
		addr := *p.Billing
		p.Billing = &addr
	}
	return p
}
