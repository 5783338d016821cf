package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/repositories/memory"
)

type paymentFixture struct {
	store     *memory.Store
	gateway   *stubGateway
	publisher *recordingPublisher
	svc       PaymentService
	order     CheckoutResult
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	checkout := newCheckoutFixture(t, nil)
	checkout.seedCart(t, "acct-1", map[string]int{"p-pen": 1, "p-ink": 2})
	result, err := checkout.svc.Checkout(context.Background(), CheckoutRequest{AccountID: "acct-1"})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	publisher := &recordingPublisher{}
	clock := testNow.Add(time.Hour)
	svc, err := NewPaymentService(PaymentServiceDeps{
		Payments: checkout.store.Payments(),
		Orders:   checkout.store.Orders(),
		Gateway:  checkout.gateway,
		Events:   publisher,
		Clock:    func() time.Time { return clock },
	})
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}
	return &paymentFixture{store: checkout.store, gateway: checkout.gateway, publisher: publisher, svc: svc, order: result}
}

func (f *paymentFixture) status(t *testing.T) domain.PaymentStatus {
	t.Helper()
	payment, err := f.store.Payments().FindBySession(context.Background(), f.order.SessionID)
	if err != nil {
		t.Fatalf("FindBySession: %v", err)
	}
	return payment.Status
}

func completedEvent(sessionID string, paid bool) payments.WebhookEvent {
	status := domain.SessionPaymentUnpaid
	if paid {
		status = domain.SessionPaymentPaid
	}
	return payments.WebhookEvent{
		ID:   "evt_1",
		Type: payments.EventCheckoutSessionCompleted,
		Session: &domain.GatewaySession{
			ID:            sessionID,
			State:         domain.SessionStateComplete,
			PaymentStatus: status,
			AmountTotal:   4000,
		},
	}
}

func TestPaymentServiceWebhookTransitionsOnce(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	event := completedEvent(f.order.SessionID, true)

	for i := 0; i < 2; i++ {
		if err := f.svc.HandleEvent(ctx, event); err != nil {
			t.Fatalf("HandleEvent #%d: %v", i, err)
		}
	}
	if got := f.status(t); got != domain.PaymentStatusPaid {
		t.Fatalf("expected paid, got %s", got)
	}
	if got := f.publisher.types(); len(got) != 1 || got[0] != domain.EventPaymentPaid {
		t.Fatalf("expected exactly one payment.paid event, got %v", got)
	}
}

func TestPaymentServiceWebhookConcurrentDelivery(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	event := completedEvent(f.order.SessionID, true)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.svc.HandleEvent(ctx, event); err != nil {
				t.Errorf("HandleEvent: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := f.publisher.types(); len(got) != 1 {
		t.Fatalf("expected one transition, got %v", got)
	}
}

func TestPaymentServiceWebhookIgnoresUnpaidUnknownAndForeign(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)

	if err := f.svc.HandleEvent(ctx, completedEvent(f.order.SessionID, false)); err != nil {
		t.Fatalf("unpaid completion: %v", err)
	}
	if err := f.svc.HandleEvent(ctx, payments.WebhookEvent{ID: "evt_2", Type: "invoice.paid"}); err != nil {
		t.Fatalf("unknown type: %v", err)
	}
	if err := f.svc.HandleEvent(ctx, completedEvent("cs_unknown", true)); err != nil {
		t.Fatalf("unknown session: %v", err)
	}
	if got := f.status(t); got != domain.PaymentStatusPending {
		t.Fatalf("expected pending, got %s", got)
	}
	if err := f.svc.HandleEvent(ctx, payments.WebhookEvent{Type: payments.EventCheckoutSessionCompleted}); !errors.Is(err, ErrPaymentInvalidEvent) {
		t.Fatalf("expected invalid event, got %v", err)
	}
}

func TestPaymentServiceWebhookAsyncFailureIsTerminal(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)
	session := &domain.GatewaySession{ID: f.order.SessionID}

	if err := f.svc.HandleEvent(ctx, payments.WebhookEvent{Type: payments.EventCheckoutSessionAsyncFailed, Session: session}); err != nil {
		t.Fatalf("async failed: %v", err)
	}
	if err := f.svc.HandleEvent(ctx, payments.WebhookEvent{Type: payments.EventCheckoutSessionAsyncSucceeded, Session: session}); err != nil {
		t.Fatalf("async succeeded: %v", err)
	}
	if got := f.status(t); got != domain.PaymentStatusFailed {
		t.Fatalf("failed is terminal, got %s", got)
	}
}

func TestPaymentServiceConfirmSettlesPaidSession(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)

	confirmation, err := f.svc.Confirm(ctx, "acct-1", f.order.SessionID)
	if err != nil {
		t.Fatalf("Confirm unpaid: %v", err)
	}
	if confirmation.Payment.Status != domain.PaymentStatusPending {
		t.Fatalf("unpaid session must not settle, got %s", confirmation.Payment.Status)
	}

	f.gateway.markPaid(f.order.SessionID)
	for i := 0; i < 2; i++ {
		confirmation, err = f.svc.Confirm(ctx, "acct-1", f.order.SessionID)
		if err != nil {
			t.Fatalf("Confirm #%d: %v", i, err)
		}
		if confirmation.Payment.Status != domain.PaymentStatusPaid {
			t.Fatalf("expected paid, got %s", confirmation.Payment.Status)
		}
	}
	if confirmation.Order.ID != f.order.OrderID || len(confirmation.Order.Items) != 2 {
		t.Fatalf("unexpected order %#v", confirmation.Order)
	}
	if len(f.publisher.types()) != 1 {
		t.Fatalf("expected one transition event, got %v", f.publisher.types())
	}
}

func TestPaymentServiceConfirmRejectsForeignAccount(t *testing.T) {
	f := newPaymentFixture(t)
	if _, err := f.svc.Confirm(context.Background(), "acct-2", f.order.SessionID); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.svc.Confirm(context.Background(), "acct-1", "cs_missing"); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(f.gateway.retrieved) != 0 {
		t.Fatalf("gateway must not be queried for foreign sessions")
	}
}

func TestPaymentServiceInspectNeverTransitions(t *testing.T) {
	f := newPaymentFixture(t)
	f.gateway.markPaid(f.order.SessionID)

	confirmation, err := f.svc.Inspect(context.Background(), "acct-1", f.order.SessionID)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if !confirmation.Session.Paid() || confirmation.Payment.Status != domain.PaymentStatusPending {
		t.Fatalf("unexpected confirmation %#v", confirmation)
	}
	if got := f.status(t); got != domain.PaymentStatusPending {
		t.Fatalf("inspect must be read-only, got %s", got)
	}
}

func TestPaymentServiceConfirmGatewayError(t *testing.T) {
	f := newPaymentFixture(t)
	f.gateway.retrieveErr = payments.ErrGatewayUnavailable
	if _, err := f.svc.Confirm(context.Background(), "acct-1", f.order.SessionID); !errors.Is(err, ErrPaymentGateway) {
		t.Fatalf("expected gateway error, got %v", err)
	}
}

func TestPaymentServiceReconcilePending(t *testing.T) {
	ctx := context.Background()
	f := newPaymentFixture(t)

	report, err := f.svc.ReconcilePending(ctx, 2*time.Hour, 10)
	if err != nil {
		t.Fatalf("ReconcilePending: %v", err)
	}
	if report.Scanned != 0 {
		t.Fatalf("payment is younger than the cutoff, scanned %d", report.Scanned)
	}

	report, err = f.svc.ReconcilePending(ctx, 30*time.Minute, 10)
	if err != nil {
		t.Fatalf("ReconcilePending: %v", err)
	}
	if report != (ReconcileReport{Scanned: 1, Unchanged: 1}) {
		t.Fatalf("open session must stay pending, got %#v", report)
	}

	session := f.gateway.sessions[f.order.SessionID]
	session.State = domain.SessionStateExpired
	f.gateway.put(session)
	report, err = f.svc.ReconcilePending(ctx, 30*time.Minute, 10)
	if err != nil {
		t.Fatalf("ReconcilePending: %v", err)
	}
	if report.Failed != 1 || f.status(t) != domain.PaymentStatusFailed {
		t.Fatalf("expired session must fail the payment, got %#v", report)
	}
}

func TestPaymentServiceReconcileCountsGatewayErrors(t *testing.T) {
	f := newPaymentFixture(t)
	f.gateway.retrieveErr = payments.ErrGatewayUnavailable
	report, err := f.svc.ReconcilePending(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("ReconcilePending: %v", err)
	}
	if report.Errors != 1 || report.Scanned != 1 {
		t.Fatalf("unexpected report %#v", report)
	}
}
