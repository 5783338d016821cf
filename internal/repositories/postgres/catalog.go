package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

// ProductRepository reads and writes the products table.
type ProductRepository struct {
	db *sql.DB
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a PostgreSQL-backed product repository.
func NewProductRepository(db *sql.DB) (*ProductRepository, error) {
	if db == nil {
		return nil, errors.New("product repository requires database handle")
	}
	return &ProductRepository{db: db}, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	const op = "products.get"
	row := r.db.QueryRowContext(ctx,
		`SELECT id, title, unit_price, status, updated_at FROM products WHERE id = $1`, productID)
	product, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, repositories.NewNotFound(op, "product")
	}
	if err != nil {
		return domain.Product{}, wrapError(op, err)
	}
	return product, nil
}

// FindByIDs loads every requested product in one round trip; unknown ids are absent.
func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	const op = "products.getMany"
	out := make(map[string]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, unit_price, status, updated_at FROM products WHERE id = ANY($1)`, pq.Array(productIDs))
	if err != nil {
		return nil, wrapError(op, err)
	}
	defer rows.Close()
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, wrapError(op, err)
		}
		out[product.ID] = product
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(op, err)
	}
	return out, nil
}

func (r *ProductRepository) Upsert(ctx context.Context, product domain.Product) error {
	if product.ID == "" {
		return errors.New("product repository: id is required")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO products (id, title, unit_price, status, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
    title = EXCLUDED.title,
    unit_price = EXCLUDED.unit_price,
    status = EXCLUDED.status,
    updated_at = EXCLUDED.updated_at`,
		product.ID, product.Title, product.UnitPrice, string(product.Status), product.UpdatedAt.UTC())
	return wrapError("products.upsert", err)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(s scanner) (domain.Product, error) {
	var (
		product domain.Product
		status  string
	)
	if err := s.Scan(&product.ID, &product.Title, &product.UnitPrice, &status, &product.UpdatedAt); err != nil {
		return domain.Product{}, err
	}
	product.Status = domain.ProductStatus(status)
	return product, nil
}
