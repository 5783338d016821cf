package repositories

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	domain "github.com/hanko-field/storefront/internal/domain"
)

type catalogSeed struct {
	Products []struct {
		ID        string `yaml:"id"`
		Title     string `yaml:"title"`
		UnitPrice int64  `yaml:"unit_price"`
		Status    string `yaml:"status"`
	} `yaml:"products"`
}

// DecodeCatalogSeed parses a YAML catalog:
//
//	products:
//	  - id: mug
//	    title: Mug
//	    unit_price: 2000
//	    status: active
func DecodeCatalogSeed(r io.Reader, now time.Time) ([]domain.Product, error) {
	var seed catalogSeed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil && err != io.EOF {
		return nil, fmt.Errorf("catalog seed: %w", err)
	}

	seen := make(map[string]struct{}, len(seed.Products))
	out := make([]domain.Product, 0, len(seed.Products))
	for i, p := range seed.Products {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return nil, fmt.Errorf("catalog seed: product %d has no id", i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("catalog seed: duplicate product %q", id)
		}
		seen[id] = struct{}{}
		if p.UnitPrice < 0 {
			return nil, fmt.Errorf("catalog seed: product %q has negative price", id)
		}
		status := domain.ProductStatus(strings.ToLower(strings.TrimSpace(p.Status)))
		if status == "" {
			status = domain.ProductStatusActive
		}
		if !status.Valid() {
			return nil, fmt.Errorf("catalog seed: product %q has unknown status %q", id, p.Status)
		}
		out = append(out, domain.Product{
			ID:        id,
			Title:     strings.TrimSpace(p.Title),
			UnitPrice: p.UnitPrice,
			Status:    status,
			UpdatedAt: now,
		})
	}
	return out, nil
}

// LoadCatalogSeed reads and decodes the seed file at path.
func LoadCatalogSeed(path string, now time.Time) ([]domain.Product, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog seed: %w", err)
	}
	defer file.Close()
	return DecodeCatalogSeed(file, now)
}

// SeedCatalog upserts products one by one and reports how many were written.
func SeedCatalog(ctx context.Context, repo ProductRepository, products []domain.Product) (int, error) {
	for i, p := range products {
		if err := repo.Upsert(ctx, p); err != nil {
			return i, fmt.Errorf("catalog seed: upsert %s: %w", p.ID, err)
		}
	}
	return len(products), nil
}
