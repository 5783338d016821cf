package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/services"
)

const maxProfileBodySize = 8 * 1024

// MeHandlers serves the signed-in shopper's profile.
type MeHandlers struct {
	authn    *auth.Authenticator
	profiles services.ProfileService
}

// NewMeHandlers constructs profile handlers guarded by Firebase authentication.
func NewMeHandlers(authn *auth.Authenticator, profiles services.ProfileService) *MeHandlers {
	return &MeHandlers{
		authn:    authn,
		profiles: profiles,
	}
}

// Routes wires the /me endpoints onto the provided router.
func (h *MeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAccount())
	}
	r.Get("/", h.getProfile)
	r.Put("/", h.updateProfile)
}

type addressRequest struct {
	Address1    string `json:"address1"`
	Address2    string `json:"address2"`
	City        string `json:"city"`
	State       string `json:"state"`
	Zipcode     string `json:"zipcode"`
	CountryCode string `json:"country_code"`
}

type profileRequest struct {
	FirstName string          `json:"first_name"`
	LastName  string          `json:"last_name"`
	Email     string          `json:"email"`
	Phone     string          `json:"phone"`
	Shipping  *addressRequest `json:"shipping"`
	Billing   *addressRequest `json:"billing"`
}

// input converts the request, preferring the verified identity's email.
func (p profileRequest) input(identity *auth.Identity) services.ProfileInput {
	email := p.Email
	if identity != nil && identity.EmailVerified && strings.TrimSpace(identity.Email) != "" {
		email = identity.Email
	}
	return services.ProfileInput{
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Email:     email,
		Phone:     p.Phone,
		Shipping:  p.Shipping.input(),
		Billing:   p.Billing.input(),
	}
}

func (a *addressRequest) input() *services.AddressInput {
	if a == nil {
		return nil
	}
	return &services.AddressInput{
		Address1:    a.Address1,
		Address2:    a.Address2,
		City:        a.City,
		State:       a.State,
		Zipcode:     a.Zipcode,
		CountryCode: a.CountryCode,
	}
}

type addressPayload struct {
	Address1    string `json:"address1"`
	Address2    string `json:"address2,omitempty"`
	City        string `json:"city"`
	State       string `json:"state,omitempty"`
	Zipcode     string `json:"zipcode"`
	CountryCode string `json:"country_code"`
}

type profilePayload struct {
	FirstName string          `json:"first_name"`
	LastName  string          `json:"last_name"`
	Email     string          `json:"email"`
	Phone     string          `json:"phone"`
	Shipping  *addressPayload `json:"shipping,omitempty"`
	Billing   *addressPayload `json:"billing,omitempty"`
	CreatedAt string          `json:"created_at,omitempty"`
	UpdatedAt string          `json:"updated_at,omitempty"`
}

type profileResponse struct {
	Profile profilePayload `json:"profile"`
}

func (h *MeHandlers) getProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.profiles == nil {
		writeServiceUnavailable(w, r, "profile_service_unavailable", "profile service is unavailable")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	profile, err := h.profiles.Get(ctx, identity.UID)
	if err != nil {
		writeProfileError(ctx, w, err)
		return
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, profileResponse{Profile: buildProfilePayload(profile)})
}

func (h *MeHandlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.profiles == nil {
		writeServiceUnavailable(w, r, "profile_service_unavailable", "profile service is unavailable")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req profileRequest
	if !decodeJSONBody(w, r, maxProfileBodySize, false, &req) {
		return
	}
	profile, err := h.profiles.Save(ctx, identity.UID, req.input(identity))
	if err != nil {
		writeProfileError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, profileResponse{Profile: buildProfilePayload(profile)})
}

func writeProfileError(ctx context.Context, w http.ResponseWriter, err error) {
	var validation *services.ProfileValidationError
	switch {
	case errors.As(err, &validation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_profile", "some profile fields are missing or invalid", http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"fields": validation.Fields}))
	case errors.Is(err, services.ErrProfileInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_profile", "invalid profile request", http.StatusBadRequest))
	case errors.Is(err, services.ErrProfileNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("profile_not_found", "profile not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("profile_error", "failed to save profile", http.StatusInternalServerError))
	}
}

func buildProfilePayload(profile domain.Profile) profilePayload {
	return profilePayload{
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
		Email:     profile.Email,
		Phone:     profile.Phone,
		Shipping:  buildAddressPayload(profile.Shipping),
		Billing:   buildAddressPayload(profile.Billing),
		CreatedAt: formatTime(profile.CreatedAt),
		UpdatedAt: formatTime(profile.UpdatedAt),
	}
}

func buildAddressPayload(addr *domain.Address) *addressPayload {
	if addr == nil {
		return nil
	}
	return &addressPayload{
		Address1:    addr.Address1,
		Address2:    addr.Address2,
		City:        addr.City,
		State:       addr.State,
		Zipcode:     addr.Zipcode,
		CountryCode: addr.CountryCode,
	}
}
