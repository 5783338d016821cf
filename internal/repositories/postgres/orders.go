package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

// OrderRepository stores orders and their items.
type OrderRepository struct {
	db *sql.DB
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a PostgreSQL-backed order repository.
func NewOrderRepository(db *sql.DB) (*OrderRepository, error) {
	if db == nil {
		return nil, errors.New("order repository requires database handle")
	}
	return &OrderRepository{db: db}, nil
}

// CreateWithPayment inserts the order, items and payment in one transaction.
// A duplicate order id or session id surfaces as a conflict.
func (r *OrderRepository) CreateWithPayment(ctx context.Context, order domain.Order, payment domain.Payment) error {
	if order.ID == "" || payment.ID == "" {
		return errors.New("order repository: order and payment ids are required")
	}
	return inTx(ctx, r.db, "orders.create", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO orders (id, account_id, total_price, currency, item_count, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
			order.ID, order.AccountID, order.TotalPrice, order.Currency, order.ItemCount, order.CreatedAt.UTC()); err != nil {
			return err
		}
		for i, item := range order.Items {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO order_items (order_id, position, product_id, title, quantity, unit_price)
VALUES ($1, $2, $3, $4, $5, $6)`,
				order.ID, i, item.ProductID, item.Title, item.Quantity, item.UnitPrice); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO payments (id, order_id, account_id, amount, currency, status, type, session_id, created_at, updated_at, settled_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			payment.ID, payment.OrderID, payment.AccountID, payment.Amount, payment.Currency, string(payment.Status),
			payment.Type, payment.SessionID, payment.CreatedAt.UTC(), payment.UpdatedAt.UTC(), nullTime(payment.SettledAt))
		return err
	})
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	const op = "orders.get"
	var order domain.Order
	err := r.db.QueryRowContext(ctx, `
SELECT id, account_id, total_price, currency, item_count, created_at
FROM orders WHERE id = $1`, orderID).
		Scan(&order.ID, &order.AccountID, &order.TotalPrice, &order.Currency, &order.ItemCount, &order.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, repositories.NewNotFound(op, "order")
	}
	if err != nil {
		return domain.Order{}, wrapError(op, err)
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT product_id, title, quantity, unit_price
FROM order_items WHERE order_id = $1 ORDER BY position`, orderID)
	if err != nil {
		return domain.Order{}, wrapError(op, err)
	}
	defer rows.Close()
	for rows.Next() {
		item := domain.OrderItem{OrderID: order.ID}
		if err := rows.Scan(&item.ProductID, &item.Title, &item.Quantity, &item.UnitPrice); err != nil {
			return domain.Order{}, wrapError(op, err)
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.Order{}, wrapError(op, err)
	}
	return order, nil
}

// ListByAccount pages newest first with the payment status joined in.
func (r *OrderRepository) ListByAccount(ctx context.Context, accountID string, page domain.Page) (domain.OrderPage, error) {
	const op = "orders.list"
	out := domain.OrderPage{Page: page}
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE account_id = $1`, accountID).Scan(&out.TotalCount); err != nil {
		return domain.OrderPage{}, wrapError(op, err)
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT o.id, o.total_price, o.currency, o.item_count, o.created_at, COALESCE(p.status, '')
FROM orders o
LEFT JOIN payments p ON p.order_id = o.id
WHERE o.account_id = $1
ORDER BY o.created_at DESC, o.id DESC
LIMIT $2 OFFSET $3`, accountID, page.Size, page.Offset())
	if err != nil {
		return domain.OrderPage{}, wrapError(op, err)
	}
	defer rows.Close()

	out.Items = make([]domain.OrderSummary, 0, page.Size)
	for rows.Next() {
		var (
			summary domain.OrderSummary
			status  string
		)
		if err := rows.Scan(&summary.ID, &summary.TotalPrice, &summary.Currency, &summary.ItemCount, &summary.CreatedAt, &status); err != nil {
			return domain.OrderPage{}, wrapError(op, err)
		}
		summary.PaymentStatus = domain.PaymentStatus(status)
		out.Items = append(out.Items, summary)
	}
	if err := rows.Err(); err != nil {
		return domain.OrderPage{}, wrapError(op, err)
	}
	return out, nil
}

// PaymentRepository stores payments; session_id and order_id are unique.
type PaymentRepository struct {
	db *sql.DB
}

var _ repositories.PaymentRepository = (*PaymentRepository)(nil)

// NewPaymentRepository constructs a PostgreSQL-backed payment repository.
func NewPaymentRepository(db *sql.DB) (*PaymentRepository, error) {
	if db == nil {
		return nil, errors.New("payment repository requires database handle")
	}
	return &PaymentRepository{db: db}, nil
}

const paymentColumns = `id, order_id, account_id, amount, currency, status, type, session_id, created_at, updated_at, settled_at`

func (r *PaymentRepository) FindBySession(ctx context.Context, sessionID string) (domain.Payment, error) {
	return r.findOne(ctx, "payments.bySession", `SELECT `+paymentColumns+` FROM payments WHERE session_id = $1`, sessionID)
}

func (r *PaymentRepository) FindByOrder(ctx context.Context, orderID string) (domain.Payment, error) {
	return r.findOne(ctx, "payments.byOrder", `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1`, orderID)
}

func (r *PaymentRepository) findOne(ctx context.Context, op, query, arg string) (domain.Payment, error) {
	payment, err := scanPayment(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Payment{}, repositories.NewNotFound(op, "payment")
	}
	if err != nil {
		return domain.Payment{}, wrapError(op, err)
	}
	return payment, nil
}

// Transition is a conditional update on status = pending. When no row matches,
// the current row is read back to separate "already settled" from "unknown".
func (r *PaymentRepository) Transition(ctx context.Context, sessionID string, to domain.PaymentStatus, at time.Time) (domain.Payment, bool, error) {
	const op = "payments.transition"
	if !to.Terminal() {
		current, err := r.FindBySession(ctx, sessionID)
		return current, false, err
	}
	at = at.UTC()
	payment, err := scanPayment(r.db.QueryRowContext(ctx, `
UPDATE payments SET status = $2, updated_at = $3, settled_at = $3
WHERE session_id = $1 AND status = 'pending'
RETURNING `+paymentColumns, sessionID, string(to), at))
	switch {
	case err == nil:
		return payment, true, nil
	case errors.Is(err, sql.ErrNoRows):
		current, err := r.findOne(ctx, op, `SELECT `+paymentColumns+` FROM payments WHERE session_id = $1`, sessionID)
		return current, false, err
	default:
		return domain.Payment{}, false, wrapError(op, err)
	}
}

func (r *PaymentRepository) ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Payment, error) {
	const op = "payments.listPending"
	rows, err := r.db.QueryContext(ctx, `
SELECT `+paymentColumns+`
FROM payments
WHERE status = 'pending' AND created_at < $1
ORDER BY created_at
LIMIT $2`, createdBefore.UTC(), limit)
	if err != nil {
		return nil, wrapError(op, err)
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, wrapError(op, err)
		}
		out = append(out, payment)
	}
	return out, wrapError(op, rows.Err())
}

func scanPayment(s scanner) (domain.Payment, error) {
	var (
		payment domain.Payment
		status  string
		settled sql.NullTime
	)
	if err := s.Scan(&payment.ID, &payment.OrderID, &payment.AccountID, &payment.Amount, &payment.Currency, &status,
		&payment.Type, &payment.SessionID, &payment.CreatedAt, &payment.UpdatedAt, &settled); err != nil {
		return domain.Payment{}, err
	}
	payment.Status = domain.PaymentStatus(status)
	if settled.Valid {
		t := settled.Time
		payment.SettledAt = &t
	}
	return payment, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
