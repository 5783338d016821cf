package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/repositories"
	"github.com/hanko-field/storefront/internal/repositories/memory"
)

var testNow = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func catalogFixture() []domain.Product {
	return []domain.Product{
		{ID: "p-pen", Title: "Pen", UnitPrice: 2000, Status: domain.ProductStatusActive},
		{ID: "p-ink", Title: "Ink", UnitPrice: 1000, Status: domain.ProductStatusActive},
		{ID: "p-pad", Title: "Pad", UnitPrice: 3000, Status: domain.ProductStatusInactive},
		{ID: "p-old", Title: "Old", UnitPrice: 500, Status: domain.ProductStatusRemoved},
		{ID: "p-frame", Title: "Frame", UnitPrice: 3000, Status: domain.ProductStatusActive},
	}
}

func newTestStore() *memory.Store {
	return memory.NewStore(catalogFixture()...)
}

type stubGateway struct {
	mu          sync.Mutex
	createFunc  func(ctx context.Context, req payments.SessionRequest) (domain.GatewaySession, error)
	sessions    map[string]domain.GatewaySession
	retrieveErr error
	created     []payments.SessionRequest
	retrieved   []string
}

func (g *stubGateway) CreateSession(ctx context.Context, req payments.SessionRequest) (domain.GatewaySession, error) {
	g.mu.Lock()
	g.created = append(g.created, req)
	n := len(g.created)
	g.mu.Unlock()
	if g.createFunc != nil {
		return g.createFunc(ctx, req)
	}
	id := fmt.Sprintf("cs_test_%d", n)
	session := domain.GatewaySession{
		ID:            id,
		URL:           "https://checkout.example/" + id,
		State:         domain.SessionStateOpen,
		PaymentStatus: domain.SessionPaymentUnpaid,
	}
	g.put(session)
	return session, nil
}

func (g *stubGateway) RetrieveSession(_ context.Context, id string) (domain.GatewaySession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.retrieved = append(g.retrieved, id)
	if g.retrieveErr != nil {
		return domain.GatewaySession{}, g.retrieveErr
	}
	session, ok := g.sessions[id]
	if !ok {
		return domain.GatewaySession{}, payments.ErrSessionNotFound
	}
	return session, nil
}

func (g *stubGateway) put(session domain.GatewaySession) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sessions == nil {
		g.sessions = map[string]domain.GatewaySession{}
	}
	g.sessions[session.ID] = session
}

func (g *stubGateway) markPaid(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	session := g.sessions[id]
	session.State = domain.SessionStateComplete
	session.PaymentStatus = domain.SessionPaymentPaid
	g.sessions[id] = session
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type failingOrders struct {
	repositories.OrderRepository
	err error
}

func (f failingOrders) CreateWithPayment(context.Context, domain.Order, domain.Payment) error {
	return f.err
}

type failingCarts struct {
	repositories.CartRepository
	insertErr error
	clearErr  error
}

func (f failingCarts) InsertMissing(ctx context.Context, accountID string, lines []domain.CartLine) (int, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	return f.CartRepository.InsertMissing(ctx, accountID, lines)
}

func (f failingCarts) Clear(ctx context.Context, accountID string) error {
	if f.clearErr != nil {
		return f.clearErr
	}
	return f.CartRepository.Clear(ctx, accountID)
}

var errBoom = errors.New("boom")

type sequentialIDs struct {
	mu sync.Mutex
	n  int
}

func (s *sequentialIDs) next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%02d", s.n)
}
