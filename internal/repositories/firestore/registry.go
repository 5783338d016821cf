package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
	"github.com/hanko-field/storefront/internal/repositories"
)

// Registry bundles the Firestore repositories over one provider.
type Registry struct {
	provider *pfirestore.Provider
	products *ProductRepository
	carts    *CartRepository
	orders   *OrderRepository
	payments *PaymentRepository
	profiles *ProfileRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every repository on provider. Close closes the provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	reg := &Registry{provider: provider}
	reg.products, _ = NewProductRepository(provider)
	reg.carts, _ = NewCartRepository(provider)
	reg.orders, _ = NewOrderRepository(provider)
	reg.payments, _ = NewPaymentRepository(provider)
	reg.profiles, _ = NewProfileRepository(provider)
	return reg, nil
}

func (r *Registry) Products() repositories.ProductRepository { return r.products }
func (r *Registry) Carts() repositories.CartRepository       { return r.carts }
func (r *Registry) Orders() repositories.OrderRepository     { return r.orders }
func (r *Registry) Payments() repositories.PaymentRepository { return r.payments }
func (r *Registry) Profiles() repositories.ProfileRepository { return r.profiles }

func (r *Registry) Checks() []repositories.DependencyCheck {
	return []repositories.DependencyCheck{{Name: "firestore", Check: r.provider.Ping}}
}

func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}
