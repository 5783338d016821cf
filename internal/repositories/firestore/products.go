// Package firestore implements the repository contracts on Cloud Firestore.
package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/storefront/internal/domain"
	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
	"github.com/hanko-field/storefront/internal/repositories"
)

const productCollection = "products"

type productDocument struct {
	Title     string    `firestore:"title"`
	UnitPrice int64     `firestore:"unitPrice"`
	Status    string    `firestore:"status"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// ProductRepository reads catalog documents from products/{id}.
type ProductRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{provider: provider}, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	const op = "products.get"
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	snap, err := client.Collection(productCollection).Doc(productID).Get(ctx)
	if err != nil {
		return domain.Product{}, pfirestore.WrapError(op, err)
	}
	return decodeProduct(snap)
}

// FindByIDs resolves ids in one round trip. Unknown ids are omitted.
func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	const op = "products.getAll"
	out := make(map[string]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(productIDs))
	refs := make([]*firestore.DocumentRef, 0, len(productIDs))
	for _, id := range productIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		refs = append(refs, client.Collection(productCollection).Doc(id))
	}

	snaps, err := pfirestore.GetAll(ctx, op, client, refs)
	if err != nil {
		return nil, err
	}
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		product, err := decodeProduct(snap)
		if err != nil {
			return nil, err
		}
		out[product.ID] = product
	}
	return out, nil
}

func (r *ProductRepository) Upsert(ctx context.Context, product domain.Product) error {
	const op = "products.set"
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("product repository: product id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	updated := product.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err = client.Collection(productCollection).Doc(product.ID).Set(ctx, productDocument{
		Title:     product.Title,
		UnitPrice: product.UnitPrice,
		Status:    string(product.Status),
		UpdatedAt: updated.UTC(),
	})
	return pfirestore.WrapError(op, err)
}

func decodeProduct(snap *firestore.DocumentSnapshot) (domain.Product, error) {
	doc, err := pfirestore.Decode[productDocument](snap)
	if err != nil {
		return domain.Product{}, err
	}
	return domain.Product{
		ID:        snap.Ref.ID,
		Title:     doc.Title,
		UnitPrice: doc.UnitPrice,
		Status:    domain.ProductStatus(doc.Status),
		UpdatedAt: doc.UpdatedAt,
	}, nil
}
