package firestore

import (
	"context"
	"errors"
	"testing"
)

func TestClearInChunksStopsOnShortChunk(t *testing.T) {
	remaining := 1234
	var limits []int
	err := clearInChunks(context.Background(), maxTransactionWrites, func(_ context.Context, limit int) (int, error) {
		limits = append(limits, limit)
		n := min(limit, remaining)
		remaining -= n
		return n, nil
	})
	if err != nil {
		t.Fatalf("clearInChunks: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected every line deleted, %d left", remaining)
	}
	if len(limits) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(limits))
	}
	for _, limit := range limits {
		if limit > maxTransactionWrites {
			t.Fatalf("chunk of %d exceeds the transaction write cap", limit)
		}
	}
}

func TestClearInChunksExactMultipleRunsFinalEmptyChunk(t *testing.T) {
	remaining := 2 * maxTransactionWrites
	calls := 0
	err := clearInChunks(context.Background(), maxTransactionWrites, func(_ context.Context, limit int) (int, error) {
		calls++
		n := min(limit, remaining)
		remaining -= n
		return n, nil
	})
	if err != nil || remaining != 0 || calls != 3 {
		t.Fatalf("unexpected result err=%v remaining=%d calls=%d", err, remaining, calls)
	}
}

func TestClearInChunksReturnsChunkError(t *testing.T) {
	boom := errors.New("aborted")
	calls := 0
	err := clearInChunks(context.Background(), maxTransactionWrites, func(context.Context, int) (int, error) {
		calls++
		if calls == 2 {
			return 0, boom
		}
		return maxTransactionWrites, nil
	})
	if !errors.Is(err, boom) || calls != 2 {
		t.Fatalf("expected chunk error after 2 calls, got %v after %d", err, calls)
	}
}

func TestClearInChunksHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := clearInChunks(ctx, maxTransactionWrites, func(context.Context, int) (int, error) {
		t.Fatalf("no chunk should run after cancellation")
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
