package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/guestcart"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/repositories"
	"github.com/hanko-field/storefront/internal/services"
)

const maxCartBodySize = 4 * 1024

// CartHandlers exposes cart endpoints. Signed-in shoppers use their account
// cart; everyone else carries a signed guest cart cookie.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
	codec *guestcart.Codec
}

// NewCartHandlers constructs cart handlers. A nil codec disables guest carts.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService, codec *guestcart.Codec) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
		codec: codec,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalAccount())
	}
	r.Get("/", h.getCart)
	r.Post("/items", h.addItem)
	r.Put("/items/{productID}", h.setQuantity)
	r.Delete("/items/{productID}", h.removeItem)
}

// RegisterStandaloneRoutes wires /cart:merge, which sits beside the /cart group.
func (h *CartHandlers) RegisterStandaloneRoutes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireAccount())
	}
	group.Post("/cart:merge", h.mergeCart)
}

type cartProductPayload struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	UnitPrice int64  `json:"unit_price"`
	Status    string `json:"status"`
}

type cartLinePayload struct {
	Product         cartProductPayload `json:"product"`
	Quantity        int                `json:"quantity"`
	Subtotal        int64              `json:"subtotal"`
	SubtotalDisplay string             `json:"subtotal_display"`
	AddedAt         string             `json:"added_at,omitempty"`
}

type cartResponse struct {
	Items          []cartLinePayload `json:"items"`
	TotalItemCount int               `json:"total_item_count"`
	Subtotal       int64             `json:"subtotal"`
}

type cartMutationResponse struct {
	TotalItemCount int              `json:"total_item_count"`
	Line           *cartLinePayload `json:"line,omitempty"`
}

type cartMergeResponse struct {
	Inserted       int `json:"inserted"`
	Skipped        int `json:"skipped"`
	Dropped        int `json:"dropped"`
	TotalItemCount int `json:"total_item_count"`
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  *int   `json:"quantity"`
}

type setQuantityRequest struct {
	Quantity *int `json:"quantity"`
}

// cartSession is the resolved owner of one request plus the guest cookie state
// that must be written back before the response body.
type cartSession struct {
	owner   services.CartOwner
	guest   *services.GuestCart
	invalid bool
}

func (h *CartHandlers) session(w http.ResponseWriter, r *http.Request) (cartSession, bool) {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return cartSession{owner: services.AccountOwner(identity.UID)}, true
	}
	if h.codec == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "sign in to use the cart", http.StatusUnauthorized))
		return cartSession{}, false
	}
	lines, invalid := h.codec.Read(r)
	guest := services.NewGuestCart(lines)
	return cartSession{owner: services.GuestOwner(guest), guest: guest, invalid: invalid}, true
}

// persist writes the guest cookie back when the cart changed or the incoming
// cookie was rejected.
func (h *CartHandlers) persist(w http.ResponseWriter, r *http.Request, s cartSession) bool {
	if s.guest == nil || (!s.guest.Changed() && !s.invalid) {
		return true
	}
	if err := h.codec.Write(w, s.guest.Snapshot()); err != nil {
		if errors.Is(err, guestcart.ErrCookieTooLarge) {
			writeCartError(r.Context(), w, services.ErrCartLimitExceeded)
			return false
		}
		httpx.WriteError(r.Context(), w, httpx.NewError("cart_error", "failed to store guest cart", http.StatusInternalServerError))
		return false
	}
	return true
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeServiceUnavailable(w, r, "cart_service_unavailable", "cart service is unavailable")
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := h.carts.List(ctx, s.owner)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	if !h.persist(w, r, s) {
		return
	}

	payload := cartResponse{Items: make([]cartLinePayload, 0, len(view.Items)), TotalItemCount: view.Count}
	for _, item := range view.Items {
		payload.Items = append(payload.Items, buildCartLinePayload(item))
		payload.Subtotal += item.Subtotal()
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeServiceUnavailable(w, r, "cart_service_unavailable", "cart service is unavailable")
		return
	}
	var req addItemRequest
	if !decodeJSONBody(w, r, maxCartBodySize, false, &req) {
		return
	}
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product_id is required", http.StatusBadRequest))
		return
	}
	qty := 0
	if req.Quantity != nil {
		qty = *req.Quantity
	}

	s, ok := h.session(w, r)
	if !ok {
		return
	}
	mutation, err := h.carts.Add(ctx, s.owner, productID, qty)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	h.writeMutation(w, r, s, mutation, http.StatusOK)
}

func (h *CartHandlers) setQuantity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeServiceUnavailable(w, r, "cart_service_unavailable", "cart service is unavailable")
		return
	}
	var req setQuantityRequest
	if !decodeJSONBody(w, r, maxCartBodySize, false, &req) {
		return
	}
	if req.Quantity == nil || *req.Quantity <= 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_quantity", "quantity must be a positive integer", http.StatusBadRequest))
		return
	}

	s, ok := h.session(w, r)
	if !ok {
		return
	}
	mutation, err := h.carts.SetQuantity(ctx, s.owner, chi.URLParam(r, "productID"), *req.Quantity)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	h.writeMutation(w, r, s, mutation, http.StatusOK)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeServiceUnavailable(w, r, "cart_service_unavailable", "cart service is unavailable")
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	mutation, err := h.carts.Remove(ctx, s.owner, chi.URLParam(r, "productID"))
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	h.writeMutation(w, r, s, mutation, http.StatusOK)
}

func (h *CartHandlers) mergeCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeServiceUnavailable(w, r, "cart_service_unavailable", "cart service is unavailable")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	result, err := mergeGuestCookie(ctx, w, r, h.carts, h.codec, identity.UID)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	view, err := h.carts.List(ctx, services.AccountOwner(identity.UID))
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, cartMergeResponse{
		Inserted:       result.Inserted,
		Skipped:        result.Skipped,
		Dropped:        result.Dropped,
		TotalItemCount: view.Count,
	})
}

// mergeGuestCookie merges the request's guest cart into accountID and expires
// the cookie once the merge has committed. A failed merge leaves the cookie intact.
func mergeGuestCookie(ctx context.Context, w http.ResponseWriter, r *http.Request, carts services.CartService, codec *guestcart.Codec, accountID string) (services.MergeResult, error) {
	if codec == nil {
		return services.MergeResult{}, nil
	}
	lines, invalid := codec.Read(r)
	if invalid {
		codec.Expire(w)
		return services.MergeResult{}, nil
	}
	if len(lines) == 0 {
		return services.MergeResult{}, nil
	}
	result, err := carts.MergeGuestCart(ctx, accountID, services.NewGuestCart(lines))
	if err != nil {
		return services.MergeResult{}, err
	}
	codec.Expire(w)
	return result, nil
}

func (h *CartHandlers) writeMutation(w http.ResponseWriter, r *http.Request, s cartSession, mutation services.CartMutation, status int) {
	if !h.persist(w, r, s) {
		return
	}
	payload := cartMutationResponse{TotalItemCount: mutation.Count}
	if mutation.Item != nil {
		line := buildCartLinePayload(*mutation.Item)
		payload.Line = &line
	}
	setNoStore(w)
	writeJSONResponse(w, status, payload)
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCartInvalidQuantity):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_quantity", "quantity must be a positive integer", http.StatusBadRequest))
	case errors.Is(err, services.ErrCartOwnerRequired):
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "cart owner required", http.StatusUnauthorized))
	case errors.Is(err, services.ErrCartProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartProductUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("product_unavailable", "this product is no longer available", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCartLimitExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("cart_limit_exceeded", "the cart cannot hold more items", http.StatusUnprocessableEntity))
	case repositories.IsUnavailable(err):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart storage is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to update cart", http.StatusInternalServerError))
	}
}

func buildCartLinePayload(item domain.CartItem) cartLinePayload {
	return cartLinePayload{
		Product: cartProductPayload{
			ID:        item.Product.ID,
			Title:     item.Product.Title,
			UnitPrice: item.Product.UnitPrice,
			Status:    string(item.Product.Status),
		},
		Quantity:        item.Quantity,
		Subtotal:        item.Subtotal(),
		SubtotalDisplay: domain.FormatMinorUnits(item.Subtotal()),
		AddedAt:         formatTime(item.AddedAt),
	}
}
