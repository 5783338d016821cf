package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/platform/events"
	"github.com/hanko-field/storefront/internal/repositories"
)

const (
	defaultCheckoutCurrency       = "usd"
	defaultCheckoutGatewayTimeout = 10 * time.Second
	meterName                     = "github.com/hanko-field/storefront/internal/services"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutEmptyCart indicates there is nothing to check out.
	ErrCheckoutEmptyCart = errors.New("checkout: cart is empty")
	// ErrCheckoutNoItems indicates every line was excluded from checkout.
	ErrCheckoutNoItems = errors.New("checkout: no checkoutable items")
	// ErrCheckoutGateway indicates the hosted session could not be created. Nothing was persisted.
	ErrCheckoutGateway = errors.New("checkout: payment gateway error")
	// ErrCheckoutPersistence indicates the order transaction failed after the session was created.
	ErrCheckoutPersistence = errors.New("checkout: persistence error")
)

// CheckoutRequest describes one checkout. Empty Items means the account's persisted cart.
type CheckoutRequest struct {
	AccountID string
	Items     []CartItem
	Currency  string
}

// CheckoutResult is the outcome of a successful checkout.
type CheckoutResult struct {
	OrderID     string
	PaymentID   string
	SessionID   string
	RedirectURL string
	Total       int64
	Currency    string
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Carts          repositories.CartRepository
	Products       repositories.ProductRepository
	Orders         repositories.OrderRepository
	Gateway        payments.Gateway
	Events         events.Publisher
	Currency       string
	SuccessURL     string
	CancelURL      string
	GatewayTimeout time.Duration
	Clock          func() time.Time
	IDs            func() string
	Logger         Logger
	Meter          metric.Meter
}

type checkoutService struct {
	carts          repositories.CartRepository
	products       repositories.ProductRepository
	orders         repositories.OrderRepository
	gateway        payments.Gateway
	events         events.Publisher
	currency       string
	successURL     string
	cancelURL      string
	gatewayTimeout time.Duration
	now            func() time.Time
	newID          func() string
	logger         Logger
	outcomes       metric.Int64Counter
}

var _ CheckoutService = (*checkoutService)(nil)

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	switch {
	case deps.Carts == nil:
		return nil, errors.New("checkout service: cart repository is required")
	case deps.Products == nil:
		return nil, errors.New("checkout service: product repository is required")
	case deps.Orders == nil:
		return nil, errors.New("checkout service: order repository is required")
	case deps.Gateway == nil:
		return nil, errors.New("checkout service: payment gateway is required")
	case strings.TrimSpace(deps.SuccessURL) == "" || strings.TrimSpace(deps.CancelURL) == "":
		return nil, errors.New("checkout service: success and cancel urls are required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}
	publisher := deps.Events
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	newID := deps.IDs
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	currency := strings.ToLower(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultCheckoutCurrency
	}
	timeout := deps.GatewayTimeout
	if timeout <= 0 {
		timeout = defaultCheckoutGatewayTimeout
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	outcomes, err := meter.Int64Counter("checkout.outcomes",
		metric.WithDescription("Checkout attempts by outcome"))
	if err != nil {
		return nil, fmt.Errorf("checkout service: create counter: %w", err)
	}

	return &checkoutService{
		carts:          deps.Carts,
		products:       deps.Products,
		orders:         deps.Orders,
		gateway:        deps.Gateway,
		events:         publisher,
		currency:       currency,
		successURL:     deps.SuccessURL,
		cancelURL:      deps.CancelURL,
		gatewayTimeout: timeout,
		now:            func() time.Time { return clock().UTC() },
		newID:          newID,
		logger:         logger,
		outcomes:       outcomes,
	}, nil
}

// Checkout validates the snapshot, opens a hosted session, persists the order
// with its pending payment atomically and only then clears the account cart.
func (s *checkoutService) Checkout(ctx context.Context, req CheckoutRequest) (CheckoutResult, error) {
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return CheckoutResult{}, ErrCheckoutInvalidInput
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.currency
	}

	items := req.Items
	if len(items) == 0 {
		loaded, err := s.loadCart(ctx, accountID)
		if err != nil {
			if errors.Is(err, ErrCheckoutNoItems) {
				s.record(ctx, "no_items")
			}
			return CheckoutResult{}, err
		}
		items = loaded
	}
	if len(items) == 0 {
		s.record(ctx, "empty_cart")
		return CheckoutResult{}, ErrCheckoutEmptyCart
	}

	orderID := s.newID()
	now := s.now()
	order := domain.Order{ID: orderID, AccountID: accountID, Currency: currency, CreatedAt: now}
	var lineItems []payments.LineItem
	for _, item := range items {
		if item.Product.ID == "" || !item.Product.Checkoutable() || item.Quantity <= 0 {
			continue
		}
		order.Items = append(order.Items, domain.OrderItem{
			OrderID:   orderID,
			ProductID: item.Product.ID,
			Title:     item.Product.Title,
			Quantity:  item.Quantity,
			UnitPrice: item.Product.UnitPrice,
		})
		order.TotalPrice += item.Subtotal()
		order.ItemCount += item.Quantity
		lineItems = append(lineItems, payments.LineItem{
			Name:       item.Product.Title,
			UnitAmount: item.Product.UnitPrice,
			Quantity:   int64(item.Quantity),
		})
	}
	if len(order.Items) == 0 {
		s.record(ctx, "no_items")
		return CheckoutResult{}, ErrCheckoutNoItems
	}

	session, err := s.createSession(ctx, order, lineItems)
	if err != nil {
		s.record(ctx, "gateway_error")
		s.logger(ctx, "checkout.gateway_failed", map[string]any{
			"accountId": accountID,
			"orderId":   orderID,
			"error":     err.Error(),
		})
		return CheckoutResult{}, fmt.Errorf("%w: %v", ErrCheckoutGateway, err)
	}

	payment := domain.Payment{
		ID:        s.newID(),
		OrderID:   orderID,
		AccountID: accountID,
		Amount:    order.TotalPrice,
		Currency:  currency,
		Status:    domain.PaymentStatusPending,
		Type:      domain.PaymentTypeCard,
		SessionID: session.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.orders.CreateWithPayment(ctx, order, payment); err != nil {
		s.record(ctx, "persistence_error")
		s.logger(ctx, "checkout.persist_failed", map[string]any{
			"accountId":       accountID,
			"orderId":         orderID,
			"orphanSessionId": session.ID,
			"error":           err.Error(),
		})
		return CheckoutResult{}, fmt.Errorf("%w: %v", ErrCheckoutPersistence, err)
	}

	if err := s.carts.Clear(ctx, accountID); err != nil {
		s.logger(ctx, "checkout.cart_clear_failed", map[string]any{
			"accountId": accountID,
			"orderId":   orderID,
			"error":     err.Error(),
		})
	}
	s.publish(ctx, domain.Event{
		Type:      domain.EventOrderCreated,
		OrderID:   orderID,
		AccountID: accountID,
		PaymentID: payment.ID,
		Amount:    order.TotalPrice,
		Currency:  currency,
	})
	s.record(ctx, "created")
	s.logger(ctx, "checkout.order_created", map[string]any{
		"accountId": accountID,
		"orderId":   orderID,
		"sessionId": session.ID,
		"total":     domain.FormatMinorUnits(order.TotalPrice),
	})

	return CheckoutResult{
		OrderID:     orderID,
		PaymentID:   payment.ID,
		SessionID:   session.ID,
		RedirectURL: session.URL,
		Total:       order.TotalPrice,
		Currency:    currency,
	}, nil
}

func (s *checkoutService) loadCart(ctx context.Context, accountID string) ([]CartItem, error) {
	lines, err := s.carts.ListLines(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("checkout: load cart: %w", err)
	}
	if len(lines) == 0 {
		return nil, nil
	}
	products, err := s.products.FindByIDs(ctx, lineProductIDs(lines))
	if err != nil {
		return nil, fmt.Errorf("checkout: resolve products: %w", err)
	}
	sortNewestFirst(lines)
	items := itemsFromLines(lines, products)
	if len(items) == 0 {
		// Every line points at a hard-deleted product: the cart is not empty,
		// it just has nothing to sell.
		return nil, ErrCheckoutNoItems
	}
	return items, nil
}

func (s *checkoutService) createSession(ctx context.Context, order domain.Order, items []payments.LineItem) (domain.GatewaySession, error) {
	ctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	session, err := s.gateway.CreateSession(ctx, payments.SessionRequest{
		OrderID:        order.ID,
		AccountID:      order.AccountID,
		Currency:       order.Currency,
		SuccessURL:     s.successURL,
		CancelURL:      s.cancelURL,
		IdempotencyKey: "checkout:" + order.ID,
		Items:          items,
	})
	if err != nil {
		return domain.GatewaySession{}, err
	}
	if session.ID == "" || session.URL == "" {
		return domain.GatewaySession{}, errors.New("gateway returned session without id or url")
	}
	return session, nil
}

func (s *checkoutService) publish(ctx context.Context, event domain.Event) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger(ctx, "checkout.event_publish_failed", map[string]any{
			"orderId": event.OrderID,
			"type":    string(event.Type),
			"error":   err.Error(),
		})
	}
}

func (s *checkoutService) record(ctx context.Context, outcome string) {
	s.outcomes.Add(ctx, 1, metric.WithAttributes(outcomeAttr(outcome)))
}
