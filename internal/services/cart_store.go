package services

import (
	"context"
	"errors"
	"time"

	"github.com/hanko-field/storefront/internal/repositories"
)

const (
	// GuestCartMaxLines bounds the distinct lines a cookie cart may hold. A full
	// cart of 26-character ids at GuestCartMaxQuantity stays under 4 KiB.
	GuestCartMaxLines = 32
	// GuestCartMaxQuantity bounds a single guest line.
	GuestCartMaxQuantity = 999
)

// CartOwner selects the backing store for a cart operation. Exactly one of
// AccountID and Guest is set.
type CartOwner struct {
	AccountID string
	Guest     *GuestCart
}

// AccountOwner addresses the persisted cart of accountID.
func AccountOwner(accountID string) CartOwner { return CartOwner{AccountID: accountID} }

// GuestOwner addresses a cookie-held cart.
func GuestOwner(cart *GuestCart) CartOwner { return CartOwner{Guest: cart} }

// CartStore is the contract both cart backings satisfy.
type CartStore interface {
	Add(ctx context.Context, productID string, qty int, at time.Time) (CartLine, error)
	SetQuantity(ctx context.Context, productID string, qty int, at time.Time) (bool, error)
	Remove(ctx context.Context, productID string) error
	Lines(ctx context.Context) ([]CartLine, error)
}

type accountCartStore struct {
	accountID string
	repo      repositories.CartRepository
}

var _ CartStore = (*accountCartStore)(nil)

func (s *accountCartStore) Add(ctx context.Context, productID string, qty int, at time.Time) (CartLine, error) {
	return s.repo.Increment(ctx, s.accountID, productID, qty, at)
}

func (s *accountCartStore) SetQuantity(ctx context.Context, productID string, qty int, at time.Time) (bool, error) {
	if qty <= 0 {
		return false, nil
	}
	return s.repo.SetQuantity(ctx, s.accountID, productID, qty, at)
}

func (s *accountCartStore) Remove(ctx context.Context, productID string) error {
	return s.repo.DeleteLine(ctx, s.accountID, productID)
}

func (s *accountCartStore) Lines(ctx context.Context) ([]CartLine, error) {
	lines, err := s.repo.ListLines(ctx, s.accountID)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(lines)
	return lines, nil
}

// GuestCart is a cookie-held cart. It is not safe for concurrent use; one
// request owns it.
type GuestCart struct {
	lines   []CartLine
	changed bool
}

var _ CartStore = (*GuestCart)(nil)

// NewGuestCart copies lines into a guest cart, folding duplicate products and
// dropping non-positive quantities.
func NewGuestCart(lines []CartLine) *GuestCart {
	cart := &GuestCart{}
	for _, line := range lines {
		if line.ProductID == "" || line.Quantity <= 0 {
			continue
		}
		if existing, ok := findLine(cart.lines, line.ProductID); ok {
			replaceQuantity(cart.lines, line.ProductID, min(existing.Quantity+line.Quantity, GuestCartMaxQuantity), existing.UpdatedAt)
			continue
		}
		cart.lines = append(cart.lines, line)
	}
	sortNewestFirst(cart.lines)
	return cart
}

func (g *GuestCart) Add(_ context.Context, productID string, qty int, at time.Time) (CartLine, error) {
	existing, ok := findLine(g.lines, productID)
	if !ok && len(g.lines) >= GuestCartMaxLines {
		return CartLine{}, ErrCartLimitExceeded
	}
	if existing.Quantity+qty > GuestCartMaxQuantity {
		return CartLine{}, ErrCartLimitExceeded
	}
	var line CartLine
	g.lines, line = incrementLine(g.lines, productID, qty, at)
	g.changed = true
	return line, nil
}

func (g *GuestCart) SetQuantity(_ context.Context, productID string, qty int, at time.Time) (bool, error) {
	if qty > GuestCartMaxQuantity {
		return false, ErrCartLimitExceeded
	}
	updated := replaceQuantity(g.lines, productID, qty, at)
	g.changed = g.changed || updated
	return updated, nil
}

func (g *GuestCart) Remove(_ context.Context, productID string) error {
	before := len(g.lines)
	g.lines = removeLine(g.lines, productID)
	g.changed = g.changed || len(g.lines) != before
	return nil
}

func (g *GuestCart) Lines(context.Context) ([]CartLine, error) {
	return g.Snapshot(), nil
}

// Snapshot returns a copy of the lines, newest first.
func (g *GuestCart) Snapshot() []CartLine {
	if g == nil {
		return nil
	}
	return append([]CartLine(nil), g.lines...)
}

// Len reports the number of distinct lines.
func (g *GuestCart) Len() int {
	if g == nil {
		return 0
	}
	return len(g.lines)
}

// Changed reports whether a mutation altered the cart since construction.
func (g *GuestCart) Changed() bool {
	return g != nil && g.changed
}

func (s *cartService) storeFor(owner CartOwner) (CartStore, error) {
	switch {
	case owner.AccountID != "" && owner.Guest != nil:
		return nil, errors.New("cart: owner must be either account or guest")
	case owner.AccountID != "":
		return &accountCartStore{accountID: owner.AccountID, repo: s.carts}, nil
	case owner.Guest != nil:
		return owner.Guest, nil
	}
	return nil, ErrCartOwnerRequired
}
