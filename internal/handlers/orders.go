package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/pagination"
	"github.com/hanko-field/storefront/internal/services"
)

// OrderHandlers exposes the signed-in shopper's order history.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs order handlers guarded by Firebase authentication.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAccount())
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:pay", h.payOrder)
}

type orderItemPayload struct {
	ProductID       string              `json:"product_id"`
	Title           string              `json:"title"`
	Quantity        int                 `json:"quantity"`
	UnitPrice       int64               `json:"unit_price"`
	Subtotal        int64               `json:"subtotal"`
	SubtotalDisplay string              `json:"subtotal_display"`
	Product         *cartProductPayload `json:"product,omitempty"`
}

type orderPayload struct {
	ID           string             `json:"id"`
	TotalPrice   int64              `json:"total_price"`
	TotalDisplay string             `json:"total_display"`
	Currency     string             `json:"currency"`
	ItemCount    int                `json:"item_count"`
	CreatedAt    string             `json:"created_at"`
	Items        []orderItemPayload `json:"items,omitempty"`
}

type paymentPayload struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Type      string `json:"type"`
	SettledAt string `json:"settled_at,omitempty"`
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	TotalPrice    int64  `json:"total_price"`
	TotalDisplay  string `json:"total_display"`
	Currency      string `json:"currency"`
	ItemCount     int    `json:"item_count"`
	PaymentStatus string `json:"payment_status"`
	CreatedAt     string `json:"created_at"`
}

type orderListResponse struct {
	Items      []orderSummaryPayload `json:"items"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
	TotalCount int                   `json:"total_count"`
	HasNext    bool                  `json:"has_next"`
}

type orderDetailResponse struct {
	Order   orderPayload   `json:"order"`
	Payment paymentPayload `json:"payment"`
}

type payOrderResponse struct {
	Paid        bool           `json:"paid"`
	RedirectURL string         `json:"redirect_url,omitempty"`
	Payment     paymentPayload `json:"payment"`
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(w, r, "orders_unavailable", "order service unavailable")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	params, err := pagination.Parse(r.URL.Query(), pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, identity.UID, domain.Page{Number: params.Page, Size: params.PageSize})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payload := orderListResponse{
		Items:      make([]orderSummaryPayload, 0, len(page.Items)),
		Page:       page.Page.Number,
		PageSize:   page.Page.Size,
		TotalCount: page.TotalCount,
		HasNext:    page.HasNext(),
	}
	for _, summary := range page.Items {
		payload.Items = append(payload.Items, orderSummaryPayload{
			ID:            summary.ID,
			TotalPrice:    summary.TotalPrice,
			TotalDisplay:  domain.FormatMinorUnits(summary.TotalPrice),
			Currency:      summary.Currency,
			ItemCount:     summary.ItemCount,
			PaymentStatus: string(summary.PaymentStatus),
			CreatedAt:     formatTime(summary.CreatedAt),
		})
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(w, r, "orders_unavailable", "order service unavailable")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	detail, err := h.orders.GetOrder(ctx, identity.UID, chi.URLParam(r, "orderID"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	order := buildOrderPayload(detail.Order)
	order.Items = make([]orderItemPayload, 0, len(detail.Lines))
	for _, line := range detail.Lines {
		item := buildOrderItemPayload(line.Item)
		if line.Product != nil {
			item.Product = &cartProductPayload{
				ID:        line.Product.ID,
				Title:     line.Product.Title,
				UnitPrice: line.Product.UnitPrice,
				Status:    string(line.Product.Status),
			}
		}
		order.Items = append(order.Items, item)
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, orderDetailResponse{Order: order, Payment: buildPaymentPayload(detail.Payment)})
}

func (h *OrderHandlers) payOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(w, r, "orders_unavailable", "order service unavailable")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	result, err := h.orders.ResumePayment(ctx, identity.UID, chi.URLParam(r, "orderID"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, payOrderResponse{
		Paid:        result.Paid,
		RedirectURL: result.RedirectURL,
		Payment:     buildPaymentPayload(result.Payment),
	})
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderPaymentClosed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_closed", "this payment can no longer be completed", http.StatusConflict))
	case errors.Is(err, services.ErrOrderGateway):
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_error", "unable to reach the payment provider", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to load order", http.StatusInternalServerError))
	}
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:           order.ID,
		TotalPrice:   order.TotalPrice,
		TotalDisplay: domain.FormatMinorUnits(order.TotalPrice),
		Currency:     order.Currency,
		ItemCount:    order.ItemCount,
		CreatedAt:    formatTime(order.CreatedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, buildOrderItemPayload(item))
	}
	return payload
}

func buildOrderItemPayload(item domain.OrderItem) orderItemPayload {
	return orderItemPayload{
		ProductID:       item.ProductID,
		Title:           item.Title,
		Quantity:        item.Quantity,
		UnitPrice:       item.UnitPrice,
		Subtotal:        item.Subtotal(),
		SubtotalDisplay: domain.FormatMinorUnits(item.Subtotal()),
	}
}

func buildPaymentPayload(payment domain.Payment) paymentPayload {
	payload := paymentPayload{
		ID:       payment.ID,
		Status:   string(payment.Status),
		Amount:   payment.Amount,
		Currency: payment.Currency,
		Type:     payment.Type,
	}
	if payment.SettledAt != nil {
		payload.SettledAt = formatTime(*payment.SettledAt)
	}
	return payload
}
