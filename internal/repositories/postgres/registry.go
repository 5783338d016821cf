package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hanko-field/storefront/internal/platform/config"
	"github.com/hanko-field/storefront/internal/repositories"
)

// Registry bundles the PostgreSQL repositories over one connection pool.
type Registry struct {
	db       *sql.DB
	products *ProductRepository
	carts    *CartRepository
	orders   *OrderRepository
	payments *PaymentRepository
	profiles *ProfileRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry opens the pool described by cfg, applying migrations first when
// cfg.MigrateOnStart is set.
func NewRegistry(ctx context.Context, cfg config.PostgresConfig) (*Registry, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.MigrateOnStart {
		if err := MigrateUp(db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return NewRegistryFromDB(db)
}

// NewRegistryFromDB wraps an existing pool; Close closes it.
func NewRegistryFromDB(db *sql.DB) (*Registry, error) {
	if db == nil {
		return nil, errors.New("postgres registry requires database handle")
	}
	return &Registry{
		db:       db,
		products: &ProductRepository{db: db},
		carts:    &CartRepository{db: db},
		orders:   &OrderRepository{db: db},
		payments: &PaymentRepository{db: db},
		profiles: &ProfileRepository{db: db},
	}, nil
}

func (r *Registry) DB() *sql.DB                              { return r.db }
func (r *Registry) Products() repositories.ProductRepository { return r.products }
func (r *Registry) Carts() repositories.CartRepository       { return r.carts }
func (r *Registry) Orders() repositories.OrderRepository     { return r.orders }
func (r *Registry) Payments() repositories.PaymentRepository { return r.payments }
func (r *Registry) Profiles() repositories.ProfileRepository { return r.profiles }

func (r *Registry) Checks() []repositories.DependencyCheck {
	return []repositories.DependencyCheck{{Name: "postgres", Check: r.db.PingContext}}
}

func (r *Registry) Close(context.Context) error {
	return r.db.Close()
}
