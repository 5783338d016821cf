package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
)

func newCartServiceForTest(t *testing.T) CartService {
	t.Helper()
	store := newTestStore()
	clock := testNow
	svc, err := NewCartService(CartServiceDeps{
		Carts:    store.Carts(),
		Products: store.Products(),
		Clock: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	return svc
}

func TestCartServiceAddAccumulatesOnBothStores(t *testing.T) {
	ctx := context.Background()
	svc := newCartServiceForTest(t)

	owners := map[string]CartOwner{
		"account": AccountOwner("acct-1"),
		"guest":   GuestOwner(NewGuestCart(nil)),
	}
	for name, owner := range owners {
		t.Run(name, func(t *testing.T) {
			for _, qty := range []int{2, 0, 3} {
				if _, err := svc.Add(ctx, owner, "p-pen", qty); err != nil {
					t.Fatalf("Add(%d): %v", qty, err)
				}
			}
			mutation, err := svc.Add(ctx, owner, "p-ink", 1)
			if err != nil {
				t.Fatalf("Add ink: %v", err)
			}
			if mutation.Count != 7 {
				t.Fatalf("expected count 7, got %d", mutation.Count)
			}
			if mutation.Item == nil || mutation.Item.Product.ID != "p-ink" || mutation.Item.Quantity != 1 {
				t.Fatalf("unexpected item %#v", mutation.Item)
			}

			view, err := svc.List(ctx, owner)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(view.Items) != 2 || view.Items[0].Product.ID != "p-ink" {
				t.Fatalf("expected newest first, got %#v", view.Items)
			}
			if view.Items[1].Quantity != 6 {
				t.Fatalf("expected pen qty 6, got %d", view.Items[1].Quantity)
			}
		})
	}
}

func TestCartServiceAddRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	svc := newCartServiceForTest(t)
	owner := AccountOwner("acct-1")

	if _, err := svc.Add(ctx, owner, "p-pen", -1); !errors.Is(err, ErrCartInvalidQuantity) {
		t.Fatalf("expected invalid quantity, got %v", err)
	}
	if _, err := svc.Add(ctx, owner, "missing", 1); !errors.Is(err, ErrCartProductNotFound) {
		t.Fatalf("expected product not found, got %v", err)
	}
	if _, err := svc.Add(ctx, owner, "p-old", 1); !errors.Is(err, ErrCartProductUnavailable) {
		t.Fatalf("expected product unavailable, got %v", err)
	}
	if _, err := svc.Add(ctx, CartOwner{}, "p-pen", 1); !errors.Is(err, ErrCartOwnerRequired) {
		t.Fatalf("expected owner required, got %v", err)
	}
}

func TestCartServiceSetQuantityAndRemove(t *testing.T) {
	ctx := context.Background()
	svc := newCartServiceForTest(t)

	for _, owner := range []CartOwner{AccountOwner("acct-1"), GuestOwner(NewGuestCart(nil))} {
		if _, err := svc.Add(ctx, owner, "p-pen", 2); err != nil {
			t.Fatalf("Add: %v", err)
		}

		for _, qty := range []int{0, -4} {
			mutation, err := svc.SetQuantity(ctx, owner, "p-pen", qty)
			if err != nil {
				t.Fatalf("SetQuantity(%d): %v", qty, err)
			}
			if mutation.Count != 2 {
				t.Fatalf("non-positive set must be a no-op, count %d", mutation.Count)
			}
		}

		mutation, err := svc.SetQuantity(ctx, owner, "p-pen", 5)
		if err != nil {
			t.Fatalf("SetQuantity: %v", err)
		}
		if mutation.Count != 5 || mutation.Item == nil || mutation.Item.Quantity != 5 {
			t.Fatalf("unexpected mutation %#v", mutation)
		}

		mutation, err = svc.SetQuantity(ctx, owner, "p-ink", 3)
		if err != nil {
			t.Fatalf("SetQuantity absent: %v", err)
		}
		if mutation.Count != 5 || mutation.Item != nil {
			t.Fatalf("absent line must be a no-op, got %#v", mutation)
		}

		for i := 0; i < 2; i++ {
			mutation, err = svc.Remove(ctx, owner, "p-pen")
			if err != nil {
				t.Fatalf("Remove #%d: %v", i, err)
			}
			if mutation.Count != 0 {
				t.Fatalf("expected empty cart, got %d", mutation.Count)
			}
		}
	}
}

func TestCartServiceListDropsUnresolvedProducts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	svc, err := NewCartService(CartServiceDeps{Carts: store.Carts(), Products: store.Products(), Clock: fixedClock})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	if _, err := store.Carts().Increment(ctx, "acct-1", "p-gone", 1, testNow); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.Carts().Increment(ctx, "acct-1", "p-old", 2, testNow.Add(time.Second)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	guest := NewGuestCart([]domain.CartLine{
		{ProductID: "p-gone", Quantity: 1, AddedAt: testNow},
		{ProductID: "p-old", Quantity: 2, AddedAt: testNow.Add(time.Second)},
	})

	for name, owner := range map[string]CartOwner{"account": AccountOwner("acct-1"), "guest": GuestOwner(guest)} {
		view, err := svc.List(ctx, owner)
		if err != nil {
			t.Fatalf("%s List: %v", name, err)
		}
		if len(view.Items) != 1 || view.Items[0].Product.ID != "p-old" {
			t.Fatalf("%s: expected only the removed-but-resolvable product, got %#v", name, view.Items)
		}
		if view.Count != 3 {
			t.Fatalf("%s: count sums stored lines, got %d", name, view.Count)
		}
	}
}

func TestGuestCartLimits(t *testing.T) {
	ctx := context.Background()
	guest := NewGuestCart(nil)
	for i := 0; i < GuestCartMaxLines; i++ {
		if _, err := guest.Add(ctx, string(rune('a'+i%26))+string(rune('a'+i/26)), 1, testNow); err != nil {
			t.Fatalf("Add #%d: %v", i, err)
		}
	}
	if _, err := guest.Add(ctx, "overflow", 1, testNow); !errors.Is(err, ErrCartLimitExceeded) {
		t.Fatalf("expected line limit, got %v", err)
	}
	if _, err := guest.Add(ctx, "aa", GuestCartMaxQuantity, testNow); !errors.Is(err, ErrCartLimitExceeded) {
		t.Fatalf("expected quantity limit, got %v", err)
	}
	if !guest.Changed() {
		t.Fatalf("expected changed flag")
	}
}

func TestNewGuestCartFoldsDuplicates(t *testing.T) {
	guest := NewGuestCart([]domain.CartLine{
		{ProductID: "p-pen", Quantity: 2, AddedAt: testNow},
		{ProductID: "p-pen", Quantity: 3, AddedAt: testNow},
		{ProductID: "p-ink", Quantity: 0, AddedAt: testNow},
		{ProductID: "", Quantity: 1, AddedAt: testNow},
	})
	lines := guest.Snapshot()
	if len(lines) != 1 || lines[0].Quantity != 5 {
		t.Fatalf("unexpected lines %#v", lines)
	}
	if guest.Changed() {
		t.Fatalf("construction must not mark the cart changed")
	}
}

func TestCartServiceMergeDestinationWins(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	svc, err := NewCartService(CartServiceDeps{Carts: store.Carts(), Products: store.Products(), Clock: fixedClock})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	if _, err := store.Carts().Increment(ctx, "acct-1", "p-pen", 5, testNow); err != nil {
		t.Fatalf("seed: %v", err)
	}
	guest := NewGuestCart([]domain.CartLine{
		{ProductID: "p-pen", Quantity: 2, AddedAt: testNow},
		{ProductID: "p-ink", Quantity: 3, AddedAt: testNow},
		{ProductID: "p-gone", Quantity: 1, AddedAt: testNow},
	})

	result, err := svc.MergeGuestCart(ctx, "acct-1", guest)
	if err != nil {
		t.Fatalf("MergeGuestCart: %v", err)
	}
	if result != (MergeResult{Inserted: 1, Skipped: 1, Dropped: 1}) {
		t.Fatalf("unexpected result %#v", result)
	}

	again, err := svc.MergeGuestCart(ctx, "acct-1", guest)
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if again.Inserted != 0 || again.Skipped != 2 {
		t.Fatalf("second merge must write nothing, got %#v", again)
	}

	lines, err := store.Carts().ListLines(ctx, "acct-1")
	if err != nil {
		t.Fatalf("ListLines: %v", err)
	}
	quantities := map[string]int{}
	for _, line := range lines {
		quantities[line.ProductID] = line.Quantity
	}
	if quantities["p-pen"] != 5 || quantities["p-ink"] != 3 || len(quantities) != 2 {
		t.Fatalf("unexpected destination %#v", quantities)
	}
}

func TestCartServiceMergeEmptyGuestSkipsWrite(t *testing.T) {
	store := newTestStore()
	svc, err := NewCartService(CartServiceDeps{
		Carts:    failingCarts{CartRepository: store.Carts(), insertErr: errBoom},
		Products: store.Products(),
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	result, err := svc.MergeGuestCart(context.Background(), "acct-1", nil)
	if err != nil || result != (MergeResult{}) {
		t.Fatalf("expected no-op, got %#v %v", result, err)
	}
}

func TestCartServiceMergeFailureIsAllOrNothing(t *testing.T) {
	store := newTestStore()
	svc, err := NewCartService(CartServiceDeps{
		Carts:    failingCarts{CartRepository: store.Carts(), insertErr: errBoom},
		Products: store.Products(),
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	guest := NewGuestCart([]domain.CartLine{{ProductID: "p-ink", Quantity: 1, AddedAt: testNow}})
	if _, err := svc.MergeGuestCart(context.Background(), "acct-1", guest); !errors.Is(err, errBoom) {
		t.Fatalf("expected insert failure, got %v", err)
	}
	lines, _ := store.Carts().ListLines(context.Background(), "acct-1")
	if len(lines) != 0 {
		t.Fatalf("expected no lines written, got %#v", lines)
	}
}
