package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

var (
	// ErrCartOwnerRequired indicates neither an account nor a guest cart was supplied.
	ErrCartOwnerRequired = errors.New("cart: owner is required")
	// ErrCartInvalidQuantity indicates a negative quantity on add.
	ErrCartInvalidQuantity = errors.New("cart: invalid quantity")
	// ErrCartProductNotFound indicates the product does not resolve in the catalog.
	ErrCartProductNotFound = errors.New("cart: product not found")
	// ErrCartProductUnavailable indicates the product has been withdrawn from sale.
	ErrCartProductUnavailable = errors.New("cart: product unavailable")
	// ErrCartLimitExceeded indicates the guest cart would exceed its line or quantity bound.
	ErrCartLimitExceeded = errors.New("cart: limit exceeded")
)

// CartView is a listed cart. Count sums the quantities of every stored line.
type CartView struct {
	Items []CartItem
	Count int
}

// CartMutation is the result of a cart write.
type CartMutation struct {
	Count int
	Item  *CartItem
}

// MergeResult reports what a guest cart merge did.
type MergeResult struct {
	Inserted int
	Skipped  int
	// Dropped counts guest lines whose product no longer resolves.
	Dropped int
}

// CartServiceDeps wires the dependencies required by the cart service.
type CartServiceDeps struct {
	Carts    repositories.CartRepository
	Products repositories.ProductRepository
	Clock    func() time.Time
	Logger   Logger
}

type cartService struct {
	carts    repositories.CartRepository
	products repositories.ProductRepository
	now      func() time.Time
	logger   Logger
}

var _ CartService = (*cartService)(nil)

// NewCartService constructs a CartService validating required dependencies.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}
	return &cartService{
		carts:    deps.Carts,
		products: deps.Products,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// List joins every line with its product, newest first. Lines whose product no
// longer resolves are omitted on both stores; Removed products are still listed.
func (s *cartService) List(ctx context.Context, owner CartOwner) (CartView, error) {
	store, err := s.storeFor(owner)
	if err != nil {
		return CartView{}, err
	}
	lines, err := store.Lines(ctx)
	if err != nil {
		return CartView{}, fmt.Errorf("cart: list lines: %w", err)
	}
	items, err := s.joinProducts(ctx, lines)
	if err != nil {
		return CartView{}, err
	}
	return CartView{Items: items, Count: totalQuantity(lines)}, nil
}

func (s *cartService) Add(ctx context.Context, owner CartOwner, productID string, qty int) (CartMutation, error) {
	store, err := s.storeFor(owner)
	if err != nil {
		return CartMutation{}, err
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return CartMutation{}, ErrCartProductNotFound
	}
	qty, err = normaliseAddQuantity(qty)
	if err != nil {
		return CartMutation{}, err
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return CartMutation{}, ErrCartProductNotFound
		}
		return CartMutation{}, fmt.Errorf("cart: load product: %w", err)
	}
	if !product.Checkoutable() {
		return CartMutation{}, ErrCartProductUnavailable
	}

	line, err := store.Add(ctx, productID, qty, s.now())
	if err != nil {
		if errors.Is(err, ErrCartLimitExceeded) {
			return CartMutation{}, err
		}
		return CartMutation{}, fmt.Errorf("cart: add line: %w", err)
	}
	count, err := s.count(ctx, store)
	if err != nil {
		return CartMutation{}, err
	}
	return CartMutation{
		Count: count,
		Item:  &CartItem{Product: product, Quantity: line.Quantity, AddedAt: line.AddedAt},
	}, nil
}

// SetQuantity replaces an existing line. Non-positive quantities and absent
// lines leave the cart unchanged.
func (s *cartService) SetQuantity(ctx context.Context, owner CartOwner, productID string, qty int) (CartMutation, error) {
	store, err := s.storeFor(owner)
	if err != nil {
		return CartMutation{}, err
	}
	if qty > 0 {
		if _, err := store.SetQuantity(ctx, strings.TrimSpace(productID), qty, s.now()); err != nil {
			if errors.Is(err, ErrCartLimitExceeded) {
				return CartMutation{}, err
			}
			return CartMutation{}, fmt.Errorf("cart: set quantity: %w", err)
		}
	}
	return s.mutationFor(ctx, store, strings.TrimSpace(productID))
}

// Remove deletes the line; removing an absent product is not an error.
func (s *cartService) Remove(ctx context.Context, owner CartOwner, productID string) (CartMutation, error) {
	store, err := s.storeFor(owner)
	if err != nil {
		return CartMutation{}, err
	}
	if err := store.Remove(ctx, strings.TrimSpace(productID)); err != nil {
		return CartMutation{}, fmt.Errorf("cart: remove line: %w", err)
	}
	count, err := s.count(ctx, store)
	if err != nil {
		return CartMutation{}, err
	}
	return CartMutation{Count: count}, nil
}

// MergeGuestCart folds guest lines into the account cart. The destination
// wins: products it already holds are skipped, never summed. Insertion is one
// all-or-nothing insert-if-absent batch, so a repeated or concurrent merge
// writes nothing new.
func (s *cartService) MergeGuestCart(ctx context.Context, accountID string, guest *GuestCart) (MergeResult, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return MergeResult{}, ErrCartOwnerRequired
	}
	source := guest.Snapshot()
	if len(source) == 0 {
		return MergeResult{}, nil
	}

	products, err := s.products.FindByIDs(ctx, lineProductIDs(source))
	if err != nil {
		return MergeResult{}, fmt.Errorf("cart: merge resolve products: %w", err)
	}
	destination, err := s.carts.ListLines(ctx, accountID)
	if err != nil {
		return MergeResult{}, fmt.Errorf("cart: merge load destination: %w", err)
	}
	held := make(map[string]struct{}, len(destination))
	for _, line := range destination {
		held[line.ProductID] = struct{}{}
	}

	var (
		result MergeResult
		batch  []CartLine
	)
	for _, line := range source {
		if _, ok := products[line.ProductID]; !ok {
			result.Dropped++
			continue
		}
		if _, ok := held[line.ProductID]; ok {
			result.Skipped++
			continue
		}
		batch = append(batch, line)
	}
	if len(batch) == 0 {
		return result, nil
	}

	inserted, err := s.carts.InsertMissing(ctx, accountID, batch)
	if err != nil {
		s.logger(ctx, "cart.merge.failed", map[string]any{
			"accountId": accountID,
			"lines":     len(batch),
			"error":     err.Error(),
		})
		return MergeResult{}, fmt.Errorf("cart: merge insert: %w", err)
	}
	result.Inserted = inserted
	result.Skipped += len(batch) - inserted
	s.logger(ctx, "cart.merge.completed", map[string]any{
		"accountId": accountID,
		"inserted":  result.Inserted,
		"skipped":   result.Skipped,
		"dropped":   result.Dropped,
	})
	return result, nil
}

func (s *cartService) mutationFor(ctx context.Context, store CartStore, productID string) (CartMutation, error) {
	lines, err := store.Lines(ctx)
	if err != nil {
		return CartMutation{}, fmt.Errorf("cart: list lines: %w", err)
	}
	mutation := CartMutation{Count: totalQuantity(lines)}
	line, ok := findLine(lines, productID)
	if !ok {
		return mutation, nil
	}
	product, err := s.products.FindByID(ctx, productID)
	switch {
	case err == nil:
		mutation.Item = &CartItem{Product: product, Quantity: line.Quantity, AddedAt: line.AddedAt}
	case !repositories.IsNotFound(err):
		return CartMutation{}, fmt.Errorf("cart: load product: %w", err)
	}
	return mutation, nil
}

func (s *cartService) count(ctx context.Context, store CartStore) (int, error) {
	lines, err := store.Lines(ctx)
	if err != nil {
		return 0, fmt.Errorf("cart: list lines: %w", err)
	}
	return totalQuantity(lines), nil
}

func (s *cartService) joinProducts(ctx context.Context, lines []CartLine) ([]CartItem, error) {
	if len(lines) == 0 {
		return []CartItem{}, nil
	}
	products, err := s.products.FindByIDs(ctx, lineProductIDs(lines))
	if err != nil {
		return nil, fmt.Errorf("cart: resolve products: %w", err)
	}
	return itemsFromLines(lines, products), nil
}

// itemsFromLines joins lines with resolved products, dropping unresolved ones.
func itemsFromLines(lines []CartLine, products map[string]domain.Product) []CartItem {
	items := make([]CartItem, 0, len(lines))
	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok {
			continue
		}
		items = append(items, CartItem{Product: product, Quantity: line.Quantity, AddedAt: line.AddedAt})
	}
	return items
}
