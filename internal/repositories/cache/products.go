// Package cache decorates repositories with a Redis read-through layer.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

const (
	productKeyPrefix  = "product:"
	defaultProductTTL = 5 * time.Minute
)

// Logger mirrors the structured logging hook used by services.
type Logger func(ctx context.Context, event string, fields map[string]any)

// ProductCache serves product lookups from Redis and falls through to the
// wrapped repository on a miss. Redis failures degrade to direct reads.
type ProductCache struct {
	next   repositories.ProductRepository
	client redis.UniversalClient
	ttl    time.Duration
	logger Logger
	group  singleflight.Group
}

var _ repositories.ProductRepository = (*ProductCache)(nil)

// Option customises the cache.
type Option func(*ProductCache)

// WithTTL overrides the entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *ProductCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithLogger sets the hook used to report Redis failures.
func WithLogger(logger Logger) Option {
	return func(c *ProductCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewProductCache wraps next with a Redis read-through cache.
func NewProductCache(next repositories.ProductRepository, client redis.UniversalClient, opts ...Option) (*ProductCache, error) {
	if next == nil {
		return nil, errors.New("product cache requires product repository")
	}
	if client == nil {
		return nil, errors.New("product cache requires redis client")
	}
	c := &ProductCache{
		next:   next,
		client: client,
		ttl:    defaultProductTTL,
		logger: func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

type cachedProduct struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UnitPrice int64     `json:"unitPrice"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (c *ProductCache) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	raw, err := c.client.Get(ctx, productKeyPrefix+productID).Bytes()
	switch {
	case err == nil:
		if product, ok := c.decode(ctx, raw); ok {
			return product, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger(ctx, "cache.products.get_failed", map[string]any{"productId": productID, "error": err.Error()})
	}

	v, err, _ := c.group.Do(productID, func() (any, error) {
		product, err := c.next.FindByID(ctx, productID)
		if err != nil {
			return domain.Product{}, err
		}
		c.store(ctx, []domain.Product{product})
		return product, nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	return v.(domain.Product), nil
}

// FindByIDs issues one MGET and loads only the misses from the wrapped repository.
func (c *ProductCache) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	ids := dedupe(productIDs)
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = productKeyPrefix + id
	}

	missing := ids
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger(ctx, "cache.products.mget_failed", map[string]any{"count": len(ids), "error": err.Error()})
	} else {
		missing = nil
		for i, value := range values {
			s, ok := value.(string)
			if !ok {
				missing = append(missing, ids[i])
				continue
			}
			product, ok := c.decode(ctx, []byte(s))
			if !ok {
				missing = append(missing, ids[i])
				continue
			}
			out[product.ID] = product
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	loaded, err := c.next.FindByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	fresh := make([]domain.Product, 0, len(loaded))
	for id, product := range loaded {
		out[id] = product
		fresh = append(fresh, product)
	}
	c.store(ctx, fresh)
	return out, nil
}

// Upsert writes through and drops the cached entry.
func (c *ProductCache) Upsert(ctx context.Context, product domain.Product) error {
	if err := c.next.Upsert(ctx, product); err != nil {
		return err
	}
	c.Invalidate(ctx, product.ID)
	return nil
}

// Invalidate removes cached entries for the given ids.
func (c *ProductCache) Invalidate(ctx context.Context, productIDs ...string) {
	if len(productIDs) == 0 {
		return
	}
	keys := make([]string, len(productIDs))
	for i, id := range productIDs {
		keys[i] = productKeyPrefix + id
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger(ctx, "cache.products.invalidate_failed", map[string]any{"count": len(keys), "error": err.Error()})
	}
}

func (c *ProductCache) store(ctx context.Context, products []domain.Product) {
	if len(products) == 0 {
		return
	}
	pipe := c.client.Pipeline()
	for _, product := range products {
		payload, err := json.Marshal(cachedProduct{
			ID:        product.ID,
			Title:     product.Title,
			UnitPrice: product.UnitPrice,
			Status:    string(product.Status),
			UpdatedAt: product.UpdatedAt,
		})
		if err != nil {
			continue
		}
		pipe.Set(ctx, productKeyPrefix+product.ID, payload, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger(ctx, "cache.products.store_failed", map[string]any{"count": len(products), "error": err.Error()})
	}
}

func (c *ProductCache) decode(ctx context.Context, raw []byte) (domain.Product, bool) {
	var entry cachedProduct
	if err := json.Unmarshal(raw, &entry); err != nil || entry.ID == "" {
		c.logger(ctx, "cache.products.decode_failed", map[string]any{"bytes": len(raw)})
		return domain.Product{}, false
	}
	return domain.Product{
		ID:        entry.ID,
		Title:     entry.Title,
		UnitPrice: entry.UnitPrice,
		Status:    domain.ProductStatus(entry.Status),
		UpdatedAt: entry.UpdatedAt,
	}, true
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
