package idempotency

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStoreReserveCompleteReplay(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	res, err := store.Reserve(ctx, "k|acct", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, res.State)

	res, err = store.Reserve(ctx, "k|acct", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStatePending, res.State)

	header := http.Header{"Content-Type": {"application/json"}, "Set-Cookie": {"cart_items=x"}}
	require.NoError(t, store.Complete(ctx, "k|acct", "fp", Response{Status: 201, Headers: header, Body: []byte(`{}`)}, fixedTime, time.Hour))

	res, err = store.Reserve(ctx, "k|acct", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateCompleted, res.State)
	assert.Equal(t, 201, res.Record.ResponseStatus)
	assert.NotContains(t, res.Record.ResponseHeaders, "Set-Cookie")

	_, err = store.Reserve(ctx, "k|acct", "other", fixedTime, time.Hour)
	assert.ErrorIs(t, err, ErrFingerprintMismatch)
}

func TestRedisStoreExpiryAndRelease(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	_, err := store.Reserve(ctx, "k", "fp", fixedTime, time.Minute)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	res, err := store.Reserve(ctx, "k", "fp2", fixedTime, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, res.State)

	require.NoError(t, store.Release(ctx, "k"))
	res, err = store.Reserve(ctx, "k", "fp3", fixedTime, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, res.State)
}
