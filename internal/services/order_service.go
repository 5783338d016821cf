package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/repositories"
)

const (
	defaultOrderPageSize = 10
	maxOrderPageSize     = 50
)

var (
	// ErrOrderInvalidInput indicates a missing account or order id.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order does not exist for the account.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderPaymentClosed indicates the order's session can no longer be paid.
	ErrOrderPaymentClosed = errors.New("order: payment session closed")
	// ErrOrderGateway indicates the gateway could not be reached to resume payment.
	ErrOrderGateway = errors.New("order: payment gateway error")
)

// OrderLine is a purchased item joined with the product as it is now. Product
// is nil when the catalog no longer resolves it.
type OrderLine struct {
	Item    OrderItem
	Product *Product
}

// OrderDetail is the order page view.
type OrderDetail struct {
	Order   Order
	Lines   []OrderLine
	Payment Payment
}

// ResumeResult tells the caller whether to show a receipt or redirect to the gateway.
type ResumeResult struct {
	Paid        bool
	RedirectURL string
	Payment     Payment
}

// OrderServiceDeps wires the dependencies required by the order service.
type OrderServiceDeps struct {
	Orders         repositories.OrderRepository
	PaymentsRepo   repositories.PaymentRepository
	Products       repositories.ProductRepository
	Payments       PaymentService
	Gateway        payments.Gateway
	GatewayTimeout time.Duration
	Logger         Logger
}

type orderService struct {
	orders         repositories.OrderRepository
	paymentsRepo   repositories.PaymentRepository
	products       repositories.ProductRepository
	payments       PaymentService
	gateway        payments.Gateway
	gatewayTimeout time.Duration
	logger         Logger
}

var _ OrderService = (*orderService)(nil)

// NewOrderService constructs an OrderService validating required dependencies.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("order service: order repository is required")
	case deps.PaymentsRepo == nil:
		return nil, errors.New("order service: payment repository is required")
	case deps.Products == nil:
		return nil, errors.New("order service: product repository is required")
	case deps.Payments == nil:
		return nil, errors.New("order service: payment service is required")
	case deps.Gateway == nil:
		return nil, errors.New("order service: payment gateway is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}
	timeout := deps.GatewayTimeout
	if timeout <= 0 {
		timeout = defaultCheckoutGatewayTimeout
	}
	return &orderService{
		orders:         deps.Orders,
		paymentsRepo:   deps.PaymentsRepo,
		products:       deps.Products,
		payments:       deps.Payments,
		gateway:        deps.Gateway,
		gatewayTimeout: timeout,
		logger:         logger,
	}, nil
}

// ListOrders pages the account's orders newest first.
func (s *orderService) ListOrders(ctx context.Context, accountID string, page domain.Page) (OrderPage, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return OrderPage{}, ErrOrderInvalidInput
	}
	if page.Number < 1 {
		page.Number = 1
	}
	switch {
	case page.Size <= 0:
		page.Size = defaultOrderPageSize
	case page.Size > maxOrderPageSize:
		page.Size = maxOrderPageSize
	}
	result, err := s.orders.ListByAccount(ctx, accountID, page)
	if err != nil {
		return OrderPage{}, fmt.Errorf("order: list: %w", err)
	}
	return result, nil
}

// GetOrder loads one order. A pending payment is refreshed from the gateway
// first; a gateway failure is logged and the stored state is returned.
func (s *orderService) GetOrder(ctx context.Context, accountID, orderID string) (OrderDetail, error) {
	order, payment, err := s.load(ctx, accountID, orderID)
	if err != nil {
		return OrderDetail{}, err
	}
	if payment.Status == domain.PaymentStatusPending {
		if session, err := s.retrieve(ctx, payment.SessionID); err != nil {
			s.logger(ctx, "orders.session_refresh_failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
		} else if settled, err := s.payments.Settle(ctx, payment, session); err != nil {
			s.logger(ctx, "orders.settle_failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
		} else {
			payment = settled
		}
	}

	ids := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return OrderDetail{}, fmt.Errorf("order: resolve products: %w", err)
	}

	lines := make([]OrderLine, 0, len(order.Items))
	for i := len(order.Items) - 1; i >= 0; i-- {
		line := OrderLine{Item: order.Items[i]}
		if product, ok := products[line.Item.ProductID]; ok {
			line.Product = &product
		}
		lines = append(lines, line)
	}
	return OrderDetail{Order: order, Lines: lines, Payment: payment}, nil
}

// ResumePayment re-checks the order's session and either reports it paid or
// returns the still-open session URL.
func (s *orderService) ResumePayment(ctx context.Context, accountID, orderID string) (ResumeResult, error) {
	_, payment, err := s.load(ctx, accountID, orderID)
	if err != nil {
		return ResumeResult{}, err
	}
	switch payment.Status {
	case domain.PaymentStatusPaid:
		return ResumeResult{Paid: true, Payment: payment}, nil
	case domain.PaymentStatusFailed:
		return ResumeResult{}, ErrOrderPaymentClosed
	}

	session, err := s.retrieve(ctx, payment.SessionID)
	if err != nil {
		return ResumeResult{}, fmt.Errorf("%w: %v", ErrOrderGateway, err)
	}
	payment, err = s.payments.Settle(ctx, payment, session)
	if err != nil {
		return ResumeResult{}, fmt.Errorf("order: settle: %w", err)
	}
	switch {
	case payment.Status == domain.PaymentStatusPaid:
		return ResumeResult{Paid: true, Payment: payment}, nil
	case payment.Status == domain.PaymentStatusFailed,
		session.State == domain.SessionStateExpired,
		session.State == domain.SessionStateComplete,
		session.URL == "":
		return ResumeResult{}, ErrOrderPaymentClosed
	}
	return ResumeResult{RedirectURL: session.URL, Payment: payment}, nil
}

func (s *orderService) load(ctx context.Context, accountID, orderID string) (Order, Payment, error) {
	accountID = strings.TrimSpace(accountID)
	orderID = strings.TrimSpace(orderID)
	if accountID == "" || orderID == "" {
		return Order{}, Payment{}, ErrOrderInvalidInput
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return Order{}, Payment{}, ErrOrderNotFound
		}
		return Order{}, Payment{}, fmt.Errorf("order: load: %w", err)
	}
	if order.AccountID != accountID {
		return Order{}, Payment{}, ErrOrderNotFound
	}
	payment, err := s.paymentsRepo.FindByOrder(ctx, order.ID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return Order{}, Payment{}, ErrOrderNotFound
		}
		return Order{}, Payment{}, fmt.Errorf("order: load payment: %w", err)
	}
	return order, payment, nil
}

func (s *orderService) retrieve(ctx context.Context, sessionID string) (GatewaySession, error) {
	ctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	return s.gateway.RetrieveSession(ctx, sessionID)
}
