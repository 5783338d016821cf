package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/repositories/memory"
)

type orderFixture struct {
	store   *memory.Store
	gateway *stubGateway
	svc     OrderService
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	store := newTestStore()
	gateway := &stubGateway{}
	paymentSvc, err := NewPaymentService(PaymentServiceDeps{
		Payments: store.Payments(),
		Orders:   store.Orders(),
		Gateway:  gateway,
		Clock:    fixedClock,
	})
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:       store.Orders(),
		PaymentsRepo: store.Payments(),
		Products:     store.Products(),
		Payments:     paymentSvc,
		Gateway:      gateway,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	return &orderFixture{store: store, gateway: gateway, svc: svc}
}

// seedOrder stores an order with a pending payment and an open gateway session.
func (f *orderFixture) seedOrder(t *testing.T, id, accountID string, createdAt time.Time, items ...domain.OrderItem) domain.Payment {
	t.Helper()
	var total int64
	count := 0
	for i := range items {
		items[i].OrderID = id
		total += items[i].UnitPrice * int64(items[i].Quantity)
		count += items[i].Quantity
	}
	sessionID := "cs_" + id
	order := domain.Order{ID: id, AccountID: accountID, TotalPrice: total, Currency: "usd", Items: items, ItemCount: count, CreatedAt: createdAt}
	payment := domain.Payment{
		ID:        "pay_" + id,
		OrderID:   id,
		AccountID: accountID,
		Amount:    total,
		Currency:  "usd",
		Status:    domain.PaymentStatusPending,
		Type:      domain.PaymentTypeCard,
		SessionID: sessionID,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	if err := f.store.Orders().CreateWithPayment(context.Background(), order, payment); err != nil {
		t.Fatalf("CreateWithPayment: %v", err)
	}
	f.gateway.put(domain.GatewaySession{
		ID:            sessionID,
		URL:           "https://checkout.example/" + sessionID,
		State:         domain.SessionStateOpen,
		PaymentStatus: domain.SessionPaymentUnpaid,
	})
	return payment
}

func penAndInk() []domain.OrderItem {
	return []domain.OrderItem{
		{ProductID: "p-pen", Title: "Pen", Quantity: 1, UnitPrice: 2000},
		{ProductID: "p-ink", Title: "Ink", Quantity: 3, UnitPrice: 1000},
	}
}

func TestOrderServiceListOrdersPagesNewestFirst(t *testing.T) {
	f := newOrderFixture(t)
	for i := 1; i <= 12; i++ {
		f.seedOrder(t, fmt.Sprintf("ord-%02d", i), "acct-1", testNow.Add(time.Duration(i)*time.Minute), penAndInk()...)
	}
	f.seedOrder(t, "ord-other", "acct-2", testNow, penAndInk()...)

	first, err := f.svc.ListOrders(context.Background(), "acct-1", domain.Page{})
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(first.Items) != 10 || first.TotalCount != 12 || !first.HasNext() {
		t.Fatalf("unexpected first page: %d items, total %d", len(first.Items), first.TotalCount)
	}
	if first.Items[0].ID != "ord-12" || first.Items[0].ItemCount != 4 || first.Items[0].TotalPrice != 5000 {
		t.Fatalf("unexpected newest order %#v", first.Items[0])
	}

	second, err := f.svc.ListOrders(context.Background(), "acct-1", domain.Page{Number: 2, Size: 10})
	if err != nil {
		t.Fatalf("ListOrders page 2: %v", err)
	}
	if len(second.Items) != 2 || second.HasNext() || second.Items[1].ID != "ord-01" {
		t.Fatalf("unexpected second page %#v", second.Items)
	}

	clamped, err := f.svc.ListOrders(context.Background(), "acct-1", domain.Page{Number: 1, Size: 500})
	if err != nil {
		t.Fatalf("ListOrders clamped: %v", err)
	}
	if clamped.Page.Size != maxOrderPageSize || len(clamped.Items) != 12 {
		t.Fatalf("expected clamped page size, got %#v", clamped.Page)
	}

	if _, err := f.svc.ListOrders(context.Background(), " ", domain.Page{}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestOrderServiceGetOrderReturnsLinesNewestFirst(t *testing.T) {
	f := newOrderFixture(t)
	f.seedOrder(t, "ord-1", "acct-1", testNow, penAndInk()...)

	detail, err := f.svc.GetOrder(context.Background(), "acct-1", "ord-1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if len(detail.Lines) != 2 || detail.Lines[0].Item.ProductID != "p-ink" || detail.Lines[1].Item.ProductID != "p-pen" {
		t.Fatalf("expected reverse insertion order, got %#v", detail.Lines)
	}
	if detail.Lines[0].Product == nil || detail.Lines[0].Product.Title != "Ink" {
		t.Fatalf("expected product attached, got %#v", detail.Lines[0].Product)
	}
	if detail.Payment.Status != domain.PaymentStatusPending {
		t.Fatalf("expected pending payment, got %s", detail.Payment.Status)
	}
}

func TestOrderServiceGetOrderRefreshesPaidSession(t *testing.T) {
	f := newOrderFixture(t)
	payment := f.seedOrder(t, "ord-1", "acct-1", testNow, penAndInk()...)
	f.gateway.markPaid(payment.SessionID)

	detail, err := f.svc.GetOrder(context.Background(), "acct-1", "ord-1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if detail.Payment.Status != domain.PaymentStatusPaid {
		t.Fatalf("expected refreshed paid status, got %s", detail.Payment.Status)
	}
}

func TestOrderServiceGetOrderToleratesGatewayFailure(t *testing.T) {
	f := newOrderFixture(t)
	f.seedOrder(t, "ord-1", "acct-1", testNow, penAndInk()...)
	f.gateway.retrieveErr = payments.ErrGatewayUnavailable

	detail, err := f.svc.GetOrder(context.Background(), "acct-1", "ord-1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if detail.Payment.Status != domain.PaymentStatusPending {
		t.Fatalf("expected stored status, got %s", detail.Payment.Status)
	}
}

func TestOrderServiceHidesForeignOrders(t *testing.T) {
	f := newOrderFixture(t)
	f.seedOrder(t, "ord-1", "acct-1", testNow, penAndInk()...)

	if _, err := f.svc.GetOrder(context.Background(), "acct-2", "ord-1"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found for foreign account, got %v", err)
	}
	if _, err := f.svc.GetOrder(context.Background(), "acct-1", "ord-missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.svc.ResumePayment(context.Background(), "acct-2", "ord-1"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found on resume, got %v", err)
	}
}

func TestOrderServiceResumePayment(t *testing.T) {
	ctx := context.Background()

	t.Run("open session redirects", func(t *testing.T) {
		f := newOrderFixture(t)
		payment := f.seedOrder(t, "ord-1", "acct-1", testNow, penAndInk()...)
		result, err := f.svc.ResumePayment(ctx, "acct-1", "ord-1")
		if err != nil {
			t.Fatalf("ResumePayment: %v", err)
		}
		if result.Paid || result.RedirectURL != "https://checkout.example/"+payment.SessionID {
			t.Fatalf("unexpected result %#v", result)
		}
	})

	t.Run("paid session settles", func(t *testing.T) {
		f := newOrderFixture(t)
		payment := f.seedOrder(t, "ord-1", "acct-1", testNow, penAndInk()...)
		f.gateway.markPaid(payment.SessionID)
		result, err := f.svc.ResumePayment(ctx, "acct-1", "ord-1")
		if err != nil {
			t.Fatalf("ResumePayment: %v", err)
		}
		if !result.Paid || result.RedirectURL != "" {
			t.Fatalf("unexpected result %#v", result)
		}
		again, err := f.svc.ResumePayment(ctx, "acct-1", "ord-1")
		if err != nil || !again.Paid {
			t.Fatalf("paid order must stay paid, got %#v %v", again, err)
		}
	})

	t.Run("expired session closes", func(t *testing.T) {
		f := newOrderFixture(t)
		payment := f.seedOrder(t, "ord-1", "acct-1", testNow, penAndInk()...)
		f.gateway.put(domain.GatewaySession{ID: payment.SessionID, State: domain.SessionStateExpired, PaymentStatus: domain.SessionPaymentUnpaid})
		if _, err := f.svc.ResumePayment(ctx, "acct-1", "ord-1"); !errors.Is(err, ErrOrderPaymentClosed) {
			t.Fatalf("expected closed, got %v", err)
		}
		stored, err := f.store.Payments().FindByOrder(ctx, "ord-1")
		if err != nil {
			t.Fatalf("FindByOrder: %v", err)
		}
		if stored.Status != domain.PaymentStatusFailed {
			t.Fatalf("expired session must fail the payment, got %s", stored.Status)
		}
		if _, err := f.svc.ResumePayment(ctx, "acct-1", "ord-1"); !errors.Is(err, ErrOrderPaymentClosed) {
			t.Fatalf("failed payment must stay closed, got %v", err)
		}
	})

	t.Run("gateway failure", func(t *testing.T) {
		f := newOrderFixture(t)
		f.seedOrder(t, "ord-1", "acct-1", testNow, penAndInk()...)
		f.gateway.retrieveErr = payments.ErrGatewayUnavailable
		if _, err := f.svc.ResumePayment(ctx, "acct-1", "ord-1"); !errors.Is(err, ErrOrderGateway) {
			t.Fatalf("expected gateway error, got %v", err)
		}
	})
}
