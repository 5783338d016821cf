package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "idem:"

// RedisStore keeps records as JSON strings that expire with the record TTL.
type RedisStore struct {
	client redis.UniversalClient
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	ttl = ttlOrDefault(ttl)
	pending := newPending(key, fingerprint, now.UTC(), ttl)
	payload, err := json.Marshal(pending)
	if err != nil {
		return Reservation{}, err
	}

	// A key that expires between SETNX and GET is retried once.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.client.SetNX(ctx, redisKeyPrefix+documentID(key), payload, ttl).Result()
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency: redis reserve: %w", err)
		}
		if ok {
			return Reservation{State: ReservationStateNew, Record: pending}, nil
		}

		existing, err := s.load(ctx, key)
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Reservation{}, err
		}
		reservation, _, err := reserveDecision(&existing, key, fingerprint, now.UTC(), ttl)
		return reservation, err
	}
	return Reservation{State: ReservationStatePending, Record: pending}, nil
}

func (s *RedisStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	ttl = ttlOrDefault(ttl)
	record, err := s.load(ctx, key)
	switch {
	case errors.Is(err, redis.Nil):
		record = newPending(key, fingerprint, now.UTC(), ttl)
	case err != nil:
		return err
	case record.Fingerprint != fingerprint:
		return ErrFingerprintMismatch
	}

	payload, err := json.Marshal(completed(record, resp, now.UTC(), ttl))
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, redisKeyPrefix+documentID(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: redis complete: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, redisKeyPrefix+documentID(key)).Err()
}

func (s *RedisStore) load(ctx context.Context, key string) (Record, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+documentID(key)).Bytes()
	if err != nil {
		return Record{}, err
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, fmt.Errorf("idempotency: decode redis record: %w", err)
	}
	return record, nil
}
