package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/hanko-field/storefront/internal/platform/httpx"
)

const defaultVerifyTimeout = 5 * time.Second

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator turns bearer tokens into shopper identities.
type Authenticator struct {
	verifier TokenVerifier
	timeout  time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithVerificationTimeout bounds each token verification.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator constructs an Authenticator over verifier.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{verifier: verifier, timeout: defaultVerifyTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireAccount rejects requests without a valid bearer token.
func (a *Authenticator) RequireAccount() func(http.Handler) http.Handler {
	return a.middleware(true)
}

// OptionalAccount attaches an identity when a valid bearer token is present and lets
// anonymous requests through. A token that is present but invalid is still rejected.
func (a *Authenticator) OptionalAccount() func(http.Handler) http.Handler {
	return a.middleware(false)
}

func (a *Authenticator) middleware(required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				if required {
					writeAuthError(w, r, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if a == nil || a.verifier == nil {
				writeAuthError(w, r, http.StatusServiceUnavailable, "auth_unavailable", "authentication is not configured")
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
			token, err := a.verifier.VerifyIDToken(ctx, raw)
			cancel()
			if err != nil {
				code, message := "invalid_token", "firebase id token verification failed"
				if firebaseauth.IsIDTokenExpired(err) {
					code, message = "token_expired", "firebase id token expired"
				}
				writeAuthError(w, r, http.StatusUnauthorized, code, message)
				return
			}

			identity := &Identity{
				UID:           token.UID,
				Email:         claimString(token.Claims, "email"),
				Name:          claimString(token.Claims, "name"),
				EmailVerified: token.Claims["email_verified"] == true,
				token:         token,
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func claimString(claims map[string]any, key string) string {
	value, _ := claims[key].(string)
	return strings.TrimSpace(value)
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeAuthError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
}
