package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/platform/events"
	"github.com/hanko-field/storefront/internal/repositories"
)

const (
	defaultReconcileBatch = 50
	maxReconcileBatch     = 500

	sourceWebhook   = "webhook"
	sourceConfirm   = "confirm"
	sourceRead      = "read"
	sourceReconcile = "reconcile"
)

var (
	// ErrPaymentInvalidInput indicates a missing account or session id.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentNotFound indicates no payment for the session belongs to the account.
	ErrPaymentNotFound = errors.New("payment: not found")
	// ErrPaymentGateway indicates the gateway session could not be retrieved.
	ErrPaymentGateway = errors.New("payment: gateway error")
	// ErrPaymentInvalidEvent indicates a checkout event without a session payload.
	ErrPaymentInvalidEvent = errors.New("payment: invalid event")
)

// Confirmation is the return-page view of an order's payment.
type Confirmation struct {
	Order   Order
	Payment Payment
	Session GatewaySession
}

// ReconcileReport summarises one sweep over stale pending payments.
type ReconcileReport struct {
	Scanned   int
	Paid      int
	Failed    int
	Unchanged int
	Errors    int
}

// PaymentServiceDeps wires the dependencies required by the payment service.
type PaymentServiceDeps struct {
	Payments       repositories.PaymentRepository
	Orders         repositories.OrderRepository
	Gateway        payments.Gateway
	Events         events.Publisher
	GatewayTimeout time.Duration
	Clock          func() time.Time
	Logger         Logger
	Meter          metric.Meter
}

type paymentService struct {
	payments       repositories.PaymentRepository
	orders         repositories.OrderRepository
	gateway        payments.Gateway
	events         events.Publisher
	gatewayTimeout time.Duration
	now            func() time.Time
	logger         Logger
	transitions    metric.Int64Counter
}

var _ PaymentService = (*paymentService)(nil)

// NewPaymentService constructs a PaymentService validating required dependencies.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	switch {
	case deps.Payments == nil:
		return nil, errors.New("payment service: payment repository is required")
	case deps.Orders == nil:
		return nil, errors.New("payment service: order repository is required")
	case deps.Gateway == nil:
		return nil, errors.New("payment service: payment gateway is required")
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
	timeout := deps.GatewayTimeout
	if timeout <= 0 {
		timeout = defaultCheckoutGatewayTimeout
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	transitions, err := meter.Int64Counter("payments.transitions",
		metric.WithDescription("Payment status transitions by target status and driver"))
	if err != nil {
		return nil, fmt.Errorf("payment service: create counter: %w", err)
	}
	return &paymentService{
		payments:       deps.Payments,
		orders:         deps.Orders,
		gateway:        deps.Gateway,
		events:         publisher,
		gatewayTimeout: timeout,
		now:            func() time.Time { return clock().UTC() },
		logger:         logger,
		transitions:    transitions,
	}, nil
}

// HandleEvent applies a verified gateway notification. Unknown event types
// and unknown sessions are accepted without effect.
func (s *paymentService) HandleEvent(ctx context.Context, event payments.WebhookEvent) error {
	var target domain.PaymentStatus
	switch event.Type {
	case payments.EventCheckoutSessionCompleted:
		if event.Session == nil {
			return ErrPaymentInvalidEvent
		}
		if !event.Session.Paid() {
			// Delayed methods settle later through the async events.
			s.logger(ctx, "payments.webhook.completed_unpaid", map[string]any{
				"eventId":   event.ID,
				"sessionId": event.Session.ID,
				"status":    string(event.Session.PaymentStatus),
			})
			return nil
		}
		target = domain.PaymentStatusPaid
	case payments.EventCheckoutSessionAsyncSucceeded:
		target = domain.PaymentStatusPaid
	case payments.EventCheckoutSessionAsyncFailed, payments.EventCheckoutSessionExpired:
		target = domain.PaymentStatusFailed
	default:
		s.logger(ctx, "payments.webhook.ignored", map[string]any{"eventId": event.ID, "type": event.Type})
		return nil
	}
	if event.Session == nil || strings.TrimSpace(event.Session.ID) == "" {
		return ErrPaymentInvalidEvent
	}

	payment, _, err := s.transition(ctx, event.Session.ID, target, sourceWebhook)
	if err != nil {
		if repositories.IsNotFound(err) {
			s.logger(ctx, "payments.webhook.unknown_session", map[string]any{
				"eventId":   event.ID,
				"sessionId": event.Session.ID,
			})
			return nil
		}
		return fmt.Errorf("payment: apply webhook: %w", err)
	}
	s.checkAmount(ctx, payment, *event.Session)
	return nil
}

// Confirm backs the success page: it refreshes the session and settles a
// pending payment the gateway reports as paid. Failed payments are not found here.
func (s *paymentService) Confirm(ctx context.Context, accountID, sessionID string) (Confirmation, error) {
	payment, err := s.lookup(ctx, accountID, sessionID)
	if err != nil {
		return Confirmation{}, err
	}
	if payment.Status == domain.PaymentStatusFailed {
		return Confirmation{}, ErrPaymentNotFound
	}
	session, err := s.retrieve(ctx, sessionID)
	if err != nil {
		return Confirmation{}, err
	}
	if payment.Status == domain.PaymentStatusPending && session.Paid() {
		if payment, _, err = s.transition(ctx, sessionID, domain.PaymentStatusPaid, sourceConfirm); err != nil {
			return Confirmation{}, fmt.Errorf("payment: confirm: %w", err)
		}
	}
	return s.confirmation(ctx, payment, session)
}

// Inspect backs the failure page: the same lookup without any transition.
func (s *paymentService) Inspect(ctx context.Context, accountID, sessionID string) (Confirmation, error) {
	payment, err := s.lookup(ctx, accountID, sessionID)
	if err != nil {
		return Confirmation{}, err
	}
	session, err := s.retrieve(ctx, sessionID)
	if err != nil {
		return Confirmation{}, err
	}
	return s.confirmation(ctx, payment, session)
}

// Settle reconciles a pending payment with fresh gateway state: paid sessions
// settle as paid, expired sessions as failed. Anything else is returned as is.
func (s *paymentService) Settle(ctx context.Context, payment Payment, session GatewaySession) (Payment, error) {
	return s.settle(ctx, payment, session, sourceRead)
}

func (s *paymentService) settle(ctx context.Context, payment Payment, session GatewaySession, source string) (Payment, error) {
	if payment.Status != domain.PaymentStatusPending {
		return payment, nil
	}
	var target domain.PaymentStatus
	switch {
	case session.Paid():
		target = domain.PaymentStatusPaid
	case session.State == domain.SessionStateExpired:
		target = domain.PaymentStatusFailed
	default:
		return payment, nil
	}
	updated, _, err := s.transition(ctx, payment.SessionID, target, source)
	if err != nil {
		return Payment{}, err
	}
	return updated, nil
}

// ReconcilePending sweeps pending payments older than olderThan, settling those
// the gateway has since resolved. Per-payment failures are counted and skipped.
func (s *paymentService) ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) (ReconcileReport, error) {
	if olderThan < 0 {
		return ReconcileReport{}, ErrPaymentInvalidInput
	}
	if limit <= 0 {
		limit = defaultReconcileBatch
	}
	limit = min(limit, maxReconcileBatch)

	pending, err := s.payments.ListPending(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("payment: list pending: %w", err)
	}

	var report ReconcileReport
	for _, payment := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++
		session, err := s.retrieve(ctx, payment.SessionID)
		if err != nil {
			report.Errors++
			s.logger(ctx, "payments.reconcile.retrieve_failed", map[string]any{
				"paymentId": payment.ID,
				"sessionId": payment.SessionID,
				"error":     err.Error(),
			})
			continue
		}
		updated, err := s.settle(ctx, payment, session, sourceReconcile)
		if err != nil {
			report.Errors++
			s.logger(ctx, "payments.reconcile.transition_failed", map[string]any{
				"paymentId": payment.ID,
				"error":     err.Error(),
			})
			continue
		}
		switch updated.Status {
		case domain.PaymentStatusPaid:
			report.Paid++
		case domain.PaymentStatusFailed:
			report.Failed++
		default:
			report.Unchanged++
		}
	}
	s.logger(ctx, "payments.reconcile.completed", map[string]any{
		"scanned":   report.Scanned,
		"paid":      report.Paid,
		"failed":    report.Failed,
		"unchanged": report.Unchanged,
		"errors":    report.Errors,
	})
	return report, nil
}

func (s *paymentService) lookup(ctx context.Context, accountID, sessionID string) (Payment, error) {
	accountID = strings.TrimSpace(accountID)
	sessionID = strings.TrimSpace(sessionID)
	if accountID == "" || sessionID == "" {
		return Payment{}, ErrPaymentInvalidInput
	}
	payment, err := s.payments.FindBySession(ctx, sessionID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, fmt.Errorf("payment: lookup: %w", err)
	}
	if payment.AccountID != accountID {
		return Payment{}, ErrPaymentNotFound
	}
	return payment, nil
}

func (s *paymentService) retrieve(ctx context.Context, sessionID string) (GatewaySession, error) {
	ctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	session, err := s.gateway.RetrieveSession(ctx, sessionID)
	if err != nil {
		return GatewaySession{}, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}
	return session, nil
}

func (s *paymentService) confirmation(ctx context.Context, payment Payment, session GatewaySession) (Confirmation, error) {
	order, err := s.orders.FindByID(ctx, payment.OrderID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return Confirmation{}, ErrPaymentNotFound
		}
		return Confirmation{}, fmt.Errorf("payment: load order: %w", err)
	}
	return Confirmation{Order: order, Payment: payment, Session: session}, nil
}

// transition performs the conditional update and emits side effects only for
// the writer that actually moved the payment.
func (s *paymentService) transition(ctx context.Context, sessionID string, to domain.PaymentStatus, source string) (Payment, bool, error) {
	payment, changed, err := s.payments.Transition(ctx, sessionID, to, s.now())
	if err != nil {
		return Payment{}, false, err
	}
	if !changed {
		return payment, false, nil
	}

	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(to)),
		attribute.String("source", source),
	))
	s.logger(ctx, "payments.transitioned", map[string]any{
		"paymentId": payment.ID,
		"orderId":   payment.OrderID,
		"status":    string(to),
		"source":    source,
	})
	eventType := domain.EventPaymentPaid
	if to == domain.PaymentStatusFailed {
		eventType = domain.EventPaymentFailed
	}
	if err := s.events.Publish(ctx, domain.Event{
		Type:      eventType,
		OrderID:   payment.OrderID,
		AccountID: payment.AccountID,
		PaymentID: payment.ID,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
	}); err != nil {
		s.logger(ctx, "payments.event_publish_failed", map[string]any{
			"paymentId": payment.ID,
			"type":      string(eventType),
			"error":     err.Error(),
		})
	}
	return payment, true, nil
}

func (s *paymentService) checkAmount(ctx context.Context, payment Payment, session GatewaySession) {
	if session.AmountTotal == 0 || session.AmountTotal == payment.Amount {
		return
	}
	s.logger(ctx, "payments.amount_mismatch", map[string]any{
		"paymentId": payment.ID,
		"expected":  payment.Amount,
		"reported":  session.AmountTotal,
	})
}
