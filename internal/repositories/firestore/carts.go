package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/hanko-field/storefront/internal/domain"
	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
	"github.com/hanko-field/storefront/internal/repositories"
)

const (
	cartCollection     = "carts"
	cartLineCollection = "lines"

	maxTransactionWrites = 500
)

type cartLineDocument struct {
	ProductID string    `firestore:"productId"`
	Quantity  int       `firestore:"quantity"`
	AddedAt   time.Time `firestore:"addedAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d cartLineDocument) toDomain() domain.CartLine {
	return domain.CartLine(d)
}

// CartRepository stores lines at carts/{account}/lines/{product}, so the
// document id enforces one line per (account, product).
type CartRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{provider: provider}, nil
}

func (r *CartRepository) lines(client *firestore.Client, accountID string) *firestore.CollectionRef {
	return client.Collection(cartCollection).Doc(accountID).Collection(cartLineCollection)
}

func (r *CartRepository) ListLines(ctx context.Context, accountID string) ([]domain.CartLine, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	iter := r.lines(client, accountID).OrderBy("addedAt", firestore.Desc).Documents(ctx)
	return pfirestore.Collect("carts.list", iter, decodeCartLine)
}

// Increment reads and writes the line in one transaction; contention on the
// same (account, product) document aborts and retries the loser.
func (r *CartRepository) Increment(ctx context.Context, accountID, productID string, qty int, at time.Time) (domain.CartLine, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CartLine{}, err
	}
	ref := r.lines(client, accountID).Doc(productID)
	at = at.UTC()

	var line domain.CartLine
	err = pfirestore.RunTransaction(ctx, client, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
			doc := cartLineDocument{ProductID: productID, Quantity: qty, AddedAt: at, UpdatedAt: at}
			line = doc.toDomain()
			return tx.Create(ref, doc)
		case err != nil:
			return err
		}
		doc, err := pfirestore.Decode[cartLineDocument](snap)
		if err != nil {
			return err
		}
		doc.Quantity += qty
		doc.UpdatedAt = at
		line = doc.toDomain()
		return tx.Set(ref, doc)
	})
	if err != nil {
		return domain.CartLine{}, err
	}
	return line, nil
}

func (r *CartRepository) SetQuantity(ctx context.Context, accountID, productID string, qty int, at time.Time) (bool, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return false, err
	}
	_, err = r.lines(client, accountID).Doc(productID).Update(ctx, []firestore.Update{
		{Path: "quantity", Value: qty},
		{Path: "updatedAt", Value: at.UTC()},
	})
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, pfirestore.WrapError("carts.setQuantity", err)
	}
	return true, nil
}

func (r *CartRepository) DeleteLine(ctx context.Context, accountID, productID string) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	_, err = r.lines(client, accountID).Doc(productID).Delete(ctx)
	return pfirestore.WrapError("carts.delete", err)
}

// InsertMissing creates every line whose document does not exist yet, inside
// one transaction, so concurrent merges cannot both insert the same product.
func (r *CartRepository) InsertMissing(ctx context.Context, accountID string, lines []domain.CartLine) (int, error) {
	if len(lines) == 0 {
		return 0, nil
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	refs := make([]*firestore.DocumentRef, len(lines))
	for i, line := range lines {
		refs[i] = r.lines(client, accountID).Doc(line.ProductID)
	}

	var inserted int
	err = pfirestore.RunTransaction(ctx, client, func(ctx context.Context, tx *firestore.Transaction) error {
		inserted = 0
		snaps, err := tx.GetAll(refs)
		if err != nil {
			return err
		}
		for i, snap := range snaps {
			if snap.Exists() {
				continue
			}
			line := lines[i]
			if err := tx.Create(refs[i], cartLineDocument{
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				AddedAt:   line.AddedAt.UTC(),
				UpdatedAt: line.UpdatedAt.UTC(),
			}); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// Clear deletes every line of the account cart. Firestore caps a transaction
// at maxTransactionWrites, so large carts are cleared one chunk at a time.
func (r *CartRepository) Clear(ctx context.Context, accountID string) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	return clearInChunks(ctx, maxTransactionWrites, func(ctx context.Context, limit int) (int, error) {
		var deleted int
		err := pfirestore.RunTransaction(ctx, client, func(ctx context.Context, tx *firestore.Transaction) error {
			deleted = 0
			snaps, err := tx.Documents(r.lines(client, accountID).Limit(limit)).GetAll()
			if err != nil {
				return err
			}
			for _, snap := range snaps {
				if err := tx.Delete(snap.Ref); err != nil {
					return err
				}
				deleted++
			}
			return nil
		})
		return deleted, err
	})
}

// clearInChunks calls deleteChunk until it removes fewer than size documents.
func clearInChunks(ctx context.Context, size int, deleteChunk func(ctx context.Context, limit int) (int, error)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		deleted, err := deleteChunk(ctx, size)
		if err != nil {
			return err
		}
		if deleted < size {
			return nil
		}
	}
}

func decodeCartLine(snap *firestore.DocumentSnapshot) (domain.CartLine, error) {
	doc, err := pfirestore.Decode[cartLineDocument](snap)
	if err != nil {
		return domain.CartLine{}, err
	}
	if doc.ProductID == "" {
		doc.ProductID = snap.Ref.ID
	}
	return doc.toDomain(), nil
}
