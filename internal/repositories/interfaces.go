package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Carts() CartRepository
	Orders() OrderRepository
	Payments() PaymentRepository
	Profiles() ProfileRepository
	// Checks returns readiness probes for the backing store.
	Checks() []DependencyCheck
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ProductRepository resolves catalog entries. Missing ids are absent from the
// FindByIDs result rather than reported as errors.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	Upsert(ctx context.Context, product domain.Product) error
}

// CartRepository persists account-scoped cart lines keyed by (account, product).
type CartRepository interface {
	// ListLines returns the account's lines, newest-added first.
	ListLines(ctx context.Context, accountID string) ([]domain.CartLine, error)
	// Increment atomically adds qty to the line, creating it when absent.
	Increment(ctx context.Context, accountID, productID string, qty int, at time.Time) (domain.CartLine, error)
	// SetQuantity replaces the quantity of an existing line; false when absent.
	SetQuantity(ctx context.Context, accountID, productID string, qty int, at time.Time) (bool, error)
	// DeleteLine removes a line; absent lines are not an error.
	DeleteLine(ctx context.Context, accountID, productID string) error
	// InsertMissing writes every line whose product has no row yet, all or nothing,
	// and reports how many rows were created.
	InsertMissing(ctx context.Context, accountID string, lines []domain.CartLine) (int, error)
	// Clear removes all lines for the account.
	Clear(ctx context.Context, accountID string) error
}

// OrderRepository stores immutable orders.
type OrderRepository interface {
	// CreateWithPayment persists the order, its items and its payment in one transaction.
	CreateWithPayment(ctx context.Context, order domain.Order, payment domain.Payment) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByAccount(ctx context.Context, accountID string, page domain.Page) (domain.OrderPage, error)
}

// PaymentRepository tracks payment state for orders.
type PaymentRepository interface {
	FindBySession(ctx context.Context, sessionID string) (domain.Payment, error)
	FindByOrder(ctx context.Context, orderID string) (domain.Payment, error)
	// Transition moves the payment found by session from pending to the target
	// status. changed is false when another writer already settled it.
	Transition(ctx context.Context, sessionID string, to domain.PaymentStatus, at time.Time) (payment domain.Payment, changed bool, err error)
	// ListPending returns pending payments created before the cutoff, oldest first.
	ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Payment, error)
}

// ProfileRepository stores customer profiles together with their addresses.
type ProfileRepository interface {
	FindByAccount(ctx context.Context, accountID string) (domain.Profile, error)
	// Save upserts the profile and both addresses in one transaction.
	Save(ctx context.Context, profile domain.Profile) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
