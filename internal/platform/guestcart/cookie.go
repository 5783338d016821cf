// Package guestcart stores anonymous cart lines in a signed, expiring cookie.
package guestcart

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/hanko-field/storefront/internal/domain"
)

const (
	defaultCookieName = "cart_items"
	defaultTTL        = 30 * 24 * time.Hour
	issuer            = "storefront/guest-cart"

	// MaxCookieSize is the largest Set-Cookie value browsers reliably keep.
	MaxCookieSize = 4096
)

var (
	// ErrInvalidToken indicates a cookie that failed signature, expiry or shape checks.
	ErrInvalidToken = errors.New("guestcart: invalid token")
	// ErrCookieTooLarge indicates the encoded cart would be dropped by the browser.
	ErrCookieTooLarge = errors.New("guestcart: cookie too large")
)

type lineClaim struct {
	ProductID string `json:"p"`
	Quantity  int    `json:"q"`
	AddedAt   int64  `json:"a"`
}

type cartClaims struct {
	Lines []lineClaim `json:"lines"`
	jwt.RegisteredClaims
}

// Codec signs and verifies guest cart cookies with HMAC-SHA256.
type Codec struct {
	key    []byte
	name   string
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

// Option customises a Codec.
type Option func(*Codec)

func WithCookieName(name string) Option {
	return func(c *Codec) {
		if strings.TrimSpace(name) != "" {
			c.name = strings.TrimSpace(name)
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(c *Codec) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithSecure toggles the Secure cookie attribute.
func WithSecure(secure bool) Option {
	return func(c *Codec) { c.secure = secure }
}

func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCodec returns a codec using key for signatures.
func NewCodec(key []byte, opts ...Option) (*Codec, error) {
	if len(key) < 16 {
		return nil, errors.New("guestcart: signing key must be at least 16 bytes")
	}
	c := &Codec{
		key:    append([]byte(nil), key...),
		name:   defaultCookieName,
		ttl:    defaultTTL,
		secure: true,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// CookieName returns the configured cookie name.
func (c *Codec) CookieName() string { return c.name }

// Encode signs lines into a compact token.
func (c *Codec) Encode(lines []domain.CartLine) (string, error) {
	now := c.now().UTC()
	claims := cartClaims{
		Lines: make([]lineClaim, 0, len(lines)),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	for _, line := range lines {
		claims.Lines = append(claims.Lines, lineClaim{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			AddedAt:   line.AddedAt.UnixMilli(),
		})
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("guestcart: sign: %w", err)
	}
	return token, nil
}

// Decode verifies token and returns its lines in stored order.
func (c *Codec) Decode(token string) ([]domain.CartLine, error) {
	var claims cartClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return c.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Issuer != issuer {
		return nil, fmt.Errorf("%w: unexpected issuer", ErrInvalidToken)
	}

	lines := make([]domain.CartLine, 0, len(claims.Lines))
	for _, lc := range claims.Lines {
		if strings.TrimSpace(lc.ProductID) == "" || lc.Quantity <= 0 {
			return nil, fmt.Errorf("%w: malformed line", ErrInvalidToken)
		}
		added := time.UnixMilli(lc.AddedAt).UTC()
		lines = append(lines, domain.CartLine{
			ProductID: lc.ProductID,
			Quantity:  lc.Quantity,
			AddedAt:   added,
			UpdatedAt: added,
		})
	}
	return lines, nil
}

// Read loads the cart from the request. A missing or invalid cookie yields an
// empty cart; the invalid flag lets callers expire a tampered cookie.
func (c *Codec) Read(r *http.Request) (lines []domain.CartLine, invalid bool) {
	cookie, err := r.Cookie(c.name)
	if err != nil || cookie.Value == "" {
		return nil, false
	}
	lines, err = c.Decode(cookie.Value)
	if err != nil {
		return nil, true
	}
	return lines, false
}

// Write stores lines in the response cookie, expiring it when lines is empty.
// Nothing is written when the cookie would exceed MaxCookieSize.
func (c *Codec) Write(w http.ResponseWriter, lines []domain.CartLine) error {
	if len(lines) == 0 {
		c.Expire(w)
		return nil
	}
	token, err := c.Encode(lines)
	if err != nil {
		return err
	}
	cookie := &http.Cookie{
		Name:     c.name,
		Value:    token,
		Path:     "/",
		MaxAge:   int(c.ttl / time.Second),
		Expires:  c.now().Add(c.ttl),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if size := len(cookie.String()); size > MaxCookieSize {
		return fmt.Errorf("%w: %d bytes for %d lines", ErrCookieTooLarge, size, len(lines))
	}
	http.SetCookie(w, cookie)
	return nil
}

// Expire clears the cookie on the client.
func (c *Codec) Expire(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
