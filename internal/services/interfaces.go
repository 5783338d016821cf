package services

import (
	"context"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Product            = domain.Product
	CartLine           = domain.CartLine
	CartItem           = domain.CartItem
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderPage          = domain.OrderPage
	Payment            = domain.Payment
	GatewaySession     = domain.GatewaySession
	Profile            = domain.Profile
	Address            = domain.Address
	SystemHealthReport = domain.SystemHealthReport
)

// Logger is the structured logging hook every service accepts.
type Logger func(ctx context.Context, event string, fields map[string]any)

func nopLogger(context.Context, string, map[string]any) {}

// CartService implements the cart contract over both the account and guest stores.
type CartService interface {
	List(ctx context.Context, owner CartOwner) (CartView, error)
	Add(ctx context.Context, owner CartOwner, productID string, qty int) (CartMutation, error)
	SetQuantity(ctx context.Context, owner CartOwner, productID string, qty int) (CartMutation, error)
	Remove(ctx context.Context, owner CartOwner, productID string) (CartMutation, error)
	// MergeGuestCart copies guest lines the account does not already hold.
	// Clearing the guest cart is the caller's job.
	MergeGuestCart(ctx context.Context, accountID string, guest *GuestCart) (MergeResult, error)
}

// CheckoutService turns a cart snapshot into an order, a pending payment and a hosted session.
type CheckoutService interface {
	Checkout(ctx context.Context, req CheckoutRequest) (CheckoutResult, error)
}

// PaymentService drives the payment state machine from webhooks, return pages and sweeps.
type PaymentService interface {
	HandleEvent(ctx context.Context, event payments.WebhookEvent) error
	Confirm(ctx context.Context, accountID, sessionID string) (Confirmation, error)
	Inspect(ctx context.Context, accountID, sessionID string) (Confirmation, error)
	ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) (ReconcileReport, error)
	// Settle moves the payment for a paid session out of pending. Used by readers
	// that refresh gateway state.
	Settle(ctx context.Context, payment Payment, session GatewaySession) (Payment, error)
}

// OrderService exposes the order history read model.
type OrderService interface {
	ListOrders(ctx context.Context, accountID string, page domain.Page) (OrderPage, error)
	GetOrder(ctx context.Context, accountID, orderID string) (OrderDetail, error)
	ResumePayment(ctx context.Context, accountID, orderID string) (ResumeResult, error)
}

// ProfileService manages the account's customer profile and addresses.
type ProfileService interface {
	Get(ctx context.Context, accountID string) (Profile, error)
	Save(ctx context.Context, accountID string, input ProfileInput) (Profile, error)
}

// SystemService reports dependency health for readiness probes.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}
