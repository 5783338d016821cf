package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"

	domain "github.com/hanko-field/storefront/internal/domain"
	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
	"github.com/hanko-field/storefront/internal/repositories"
)

const (
	orderCollection   = "orders"
	paymentCollection = "payments"
)

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Title     string `firestore:"title"`
	Quantity  int    `firestore:"quantity"`
	UnitPrice int64  `firestore:"unitPrice"`
}

type orderDocument struct {
	AccountID  string              `firestore:"accountId"`
	PaymentID  string              `firestore:"paymentId"`
	TotalPrice int64               `firestore:"totalPrice"`
	Currency   string              `firestore:"currency"`
	ItemCount  int                 `firestore:"itemCount"`
	Items      []orderItemDocument `firestore:"items"`
	CreatedAt  time.Time           `firestore:"createdAt"`
}

type paymentDocument struct {
	OrderID   string     `firestore:"orderId"`
	AccountID string     `firestore:"accountId"`
	Amount    int64      `firestore:"amount"`
	Currency  string     `firestore:"currency"`
	Status    string     `firestore:"status"`
	Type      string     `firestore:"type"`
	SessionID string     `firestore:"sessionId"`
	CreatedAt time.Time  `firestore:"createdAt"`
	UpdatedAt time.Time  `firestore:"updatedAt"`
	SettledAt *time.Time `firestore:"settledAt,omitempty"`
}

// OrderRepository stores orders with embedded items; each order document
// references its payment at payments/{paymentId}.
type OrderRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{provider: provider}, nil
}

// CreateWithPayment creates both documents in one transaction. Create fails on
// an existing id, so a replay cannot overwrite an order.
func (r *OrderRepository) CreateWithPayment(ctx context.Context, order domain.Order, payment domain.Payment) error {
	if order.ID == "" || payment.ID == "" {
		return errors.New("order repository: order and payment ids are required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	doc := orderDocument{
		AccountID:  order.AccountID,
		PaymentID:  payment.ID,
		TotalPrice: order.TotalPrice,
		Currency:   order.Currency,
		ItemCount:  order.ItemCount,
		CreatedAt:  order.CreatedAt.UTC(),
		Items:      make([]orderItemDocument, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ProductID: item.ProductID,
			Title:     item.Title,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	orderRef := client.Collection(orderCollection).Doc(order.ID)
	paymentRef := client.Collection(paymentCollection).Doc(payment.ID)
	return pfirestore.RunTransaction(ctx, client, func(_ context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(orderRef, doc); err != nil {
			return err
		}
		return tx.Create(paymentRef, fromDomainPayment(payment))
	})
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	snap, err := client.Collection(orderCollection).Doc(orderID).Get(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.get", err)
	}
	order, _, err := decodeOrder(snap)
	return order, err
}

// ListByAccount pages newest first. Payment status is joined with one GetAll.
func (r *OrderRepository) ListByAccount(ctx context.Context, accountID string, page domain.Page) (domain.OrderPage, error) {
	const op = "orders.list"
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.OrderPage{}, err
	}
	base := client.Collection(orderCollection).Where("accountId", "==", accountID)

	total, err := countQuery(ctx, op, base)
	if err != nil {
		return domain.OrderPage{}, err
	}

	iter := base.OrderBy("createdAt", firestore.Desc).Offset(page.Offset()).Limit(page.Size).Documents(ctx)
	type row struct {
		order     domain.Order
		paymentID string
	}
	rows, err := pfirestore.Collect(op, iter, func(snap *firestore.DocumentSnapshot) (row, error) {
		order, paymentID, err := decodeOrder(snap)
		return row{order: order, paymentID: paymentID}, err
	})
	if err != nil {
		return domain.OrderPage{}, err
	}

	refs := make([]*firestore.DocumentRef, len(rows))
	for i, rw := range rows {
		refs[i] = client.Collection(paymentCollection).Doc(rw.paymentID)
	}
	snaps, err := pfirestore.GetAll(ctx, op, client, refs)
	if err != nil {
		return domain.OrderPage{}, err
	}

	out := domain.OrderPage{Page: page, TotalCount: total, Items: make([]domain.OrderSummary, 0, len(rows))}
	for i, rw := range rows {
		summary := domain.OrderSummary{
			ID:         rw.order.ID,
			TotalPrice: rw.order.TotalPrice,
			Currency:   rw.order.Currency,
			ItemCount:  rw.order.ItemCount,
			CreatedAt:  rw.order.CreatedAt,
		}
		if snaps[i].Exists() {
			payment, err := decodePayment(snaps[i])
			if err != nil {
				return domain.OrderPage{}, err
			}
			summary.PaymentStatus = payment.Status
		}
		out.Items = append(out.Items, summary)
	}
	return out, nil
}

func countQuery(ctx context.Context, op string, q firestore.Query) (int, error) {
	result, err := q.NewAggregationQuery().WithCount("total").Get(ctx)
	if err != nil {
		return 0, pfirestore.WrapError(op, err)
	}
	value, ok := result["total"].(*firestorepb.Value)
	if !ok {
		return 0, pfirestore.WrapError(op, fmt.Errorf("unexpected count result %T", result["total"]))
	}
	return int(value.GetIntegerValue()), nil
}

func decodeOrder(snap *firestore.DocumentSnapshot) (domain.Order, string, error) {
	doc, err := pfirestore.Decode[orderDocument](snap)
	if err != nil {
		return domain.Order{}, "", err
	}
	order := domain.Order{
		ID:         snap.Ref.ID,
		AccountID:  doc.AccountID,
		TotalPrice: doc.TotalPrice,
		Currency:   doc.Currency,
		ItemCount:  doc.ItemCount,
		CreatedAt:  doc.CreatedAt,
		Items:      make([]domain.OrderItem, 0, len(doc.Items)),
	}
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderItem{
			OrderID:   order.ID,
			ProductID: item.ProductID,
			Title:     item.Title,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return order, doc.PaymentID, nil
}

// PaymentRepository stores payments at payments/{id}, queried by session or order.
type PaymentRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.PaymentRepository = (*PaymentRepository)(nil)

// NewPaymentRepository constructs a Firestore-backed payment repository.
func NewPaymentRepository(provider *pfirestore.Provider) (*PaymentRepository, error) {
	if provider == nil {
		return nil, errors.New("payment repository requires firestore provider")
	}
	return &PaymentRepository{provider: provider}, nil
}

func (r *PaymentRepository) FindBySession(ctx context.Context, sessionID string) (domain.Payment, error) {
	return r.findOne(ctx, "payments.bySession", "sessionId", sessionID)
}

func (r *PaymentRepository) FindByOrder(ctx context.Context, orderID string) (domain.Payment, error) {
	return r.findOne(ctx, "payments.byOrder", "orderId", orderID)
}

func (r *PaymentRepository) findOne(ctx context.Context, op, field, value string) (domain.Payment, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Payment{}, err
	}
	iter := client.Collection(paymentCollection).Where(field, "==", value).Limit(1).Documents(ctx)
	payments, err := pfirestore.Collect(op, iter, decodePayment)
	if err != nil {
		return domain.Payment{}, err
	}
	if len(payments) == 0 {
		return domain.Payment{}, pfirestore.NotFound(op, "payment")
	}
	return payments[0], nil
}

// Transition re-reads the payment inside a transaction and writes only when
// the move is still permitted, so concurrent settlers converge on one write.
func (r *PaymentRepository) Transition(ctx context.Context, sessionID string, to domain.PaymentStatus, at time.Time) (domain.Payment, bool, error) {
	const op = "payments.transition"
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Payment{}, false, err
	}
	query := client.Collection(paymentCollection).Where("sessionId", "==", sessionID).Limit(1)
	at = at.UTC()

	var (
		payment domain.Payment
		changed bool
	)
	err = pfirestore.RunTransaction(ctx, client, func(_ context.Context, tx *firestore.Transaction) error {
		changed = false
		snaps, err := tx.Documents(query).GetAll()
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			return pfirestore.NotFound(op, "payment")
		}
		payment, err = decodePayment(snaps[0])
		if err != nil {
			return err
		}
		if !domain.CanTransition(payment.Status, to) {
			return nil
		}
		payment.Status = to
		payment.UpdatedAt = at
		payment.SettledAt = &at
		changed = true
		return tx.Update(snaps[0].Ref, []firestore.Update{
			{Path: "status", Value: string(to)},
			{Path: "updatedAt", Value: at},
			{Path: "settledAt", Value: at},
		})
	})
	if err != nil {
		return domain.Payment{}, false, err
	}
	return payment, changed, nil
}

func (r *PaymentRepository) ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Payment, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	iter := client.Collection(paymentCollection).
		Where("status", "==", string(domain.PaymentStatusPending)).
		Where("createdAt", "<", createdBefore.UTC()).
		OrderBy("createdAt", firestore.Asc).
		Limit(limit).
		Documents(ctx)
	return pfirestore.Collect("payments.listPending", iter, decodePayment)
}

func fromDomainPayment(p domain.Payment) paymentDocument {
	return paymentDocument{
		OrderID:   p.OrderID,
		AccountID: p.AccountID,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Status:    string(p.Status),
		Type:      p.Type,
		SessionID: p.SessionID,
		CreatedAt: p.CreatedAt.UTC(),
		UpdatedAt: p.UpdatedAt.UTC(),
		SettledAt: p.SettledAt,
	}
}

func decodePayment(snap *firestore.DocumentSnapshot) (domain.Payment, error) {
	doc, err := pfirestore.Decode[paymentDocument](snap)
	if err != nil {
		return domain.Payment{}, err
	}
	return domain.Payment{
		ID:        snap.Ref.ID,
		OrderID:   doc.OrderID,
		AccountID: doc.AccountID,
		Amount:    doc.Amount,
		Currency:  doc.Currency,
		Status:    domain.PaymentStatus(doc.Status),
		Type:      doc.Type,
		SessionID: doc.SessionID,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
		SettledAt: doc.SettledAt,
	}, nil
}
