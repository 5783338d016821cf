package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

// CartRepository stores cart lines keyed by (account_id, product_id).
type CartRepository struct {
	db *sql.DB
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a PostgreSQL-backed cart repository.
func NewCartRepository(db *sql.DB) (*CartRepository, error) {
	if db == nil {
		return nil, errors.New("cart repository requires database handle")
	}
	return &CartRepository{db: db}, nil
}

func (r *CartRepository) ListLines(ctx context.Context, accountID string) ([]domain.CartLine, error) {
	const op = "carts.list"
	rows, err := r.db.QueryContext(ctx, `
SELECT product_id, quantity, added_at, updated_at
FROM cart_lines
WHERE account_id = $1
ORDER BY added_at DESC, product_id`, accountID)
	if err != nil {
		return nil, wrapError(op, err)
	}
	defer rows.Close()

	var lines []domain.CartLine
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, wrapError(op, err)
		}
		lines = append(lines, line)
	}
	return lines, wrapError(op, rows.Err())
}

// Increment relies on the primary key conflict to serialise concurrent adds.
func (r *CartRepository) Increment(ctx context.Context, accountID, productID string, qty int, at time.Time) (domain.CartLine, error) {
	row := r.db.QueryRowContext(ctx, `
INSERT INTO cart_lines (account_id, product_id, quantity, added_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (account_id, product_id) DO UPDATE SET
    quantity = cart_lines.quantity + EXCLUDED.quantity,
    updated_at = EXCLUDED.updated_at
RETURNING product_id, quantity, added_at, updated_at`,
		accountID, productID, qty, at.UTC())
	line, err := scanLine(row)
	if err != nil {
		return domain.CartLine{}, wrapError("carts.increment", err)
	}
	return line, nil
}

func (r *CartRepository) SetQuantity(ctx context.Context, accountID, productID string, qty int, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE cart_lines SET quantity = $3, updated_at = $4 WHERE account_id = $1 AND product_id = $2`,
		accountID, productID, qty, at.UTC())
	if err != nil {
		return false, wrapError("carts.setQuantity", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapError("carts.setQuantity", err)
	}
	return n > 0, nil
}

func (r *CartRepository) DeleteLine(ctx context.Context, accountID, productID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM cart_lines WHERE account_id = $1 AND product_id = $2`, accountID, productID)
	return wrapError("carts.delete", err)
}

// InsertMissing skips products that already have a row; the whole batch commits or none of it.
func (r *CartRepository) InsertMissing(ctx context.Context, accountID string, lines []domain.CartLine) (int, error) {
	if len(lines) == 0 {
		return 0, nil
	}
	inserted := 0
	err := inTx(ctx, r.db, "carts.insertMissing", func(tx *sql.Tx) error {
		inserted = 0
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO cart_lines (account_id, product_id, quantity, added_at, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (account_id, product_id) DO NOTHING`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, line := range lines {
			updated := line.UpdatedAt
			if updated.IsZero() {
				updated = line.AddedAt
			}
			res, err := stmt.ExecContext(ctx, accountID, line.ProductID, line.Quantity, line.AddedAt.UTC(), updated.UTC())
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (r *CartRepository) Clear(ctx context.Context, accountID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM cart_lines WHERE account_id = $1`, accountID)
	return wrapError("carts.clear", err)
}

func scanLine(s scanner) (domain.CartLine, error) {
	var line domain.CartLine
	err := s.Scan(&line.ProductID, &line.Quantity, &line.AddedAt, &line.UpdatedAt)
	return line, err
}
