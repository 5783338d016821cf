package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Decode hydrates a typed record from a snapshot using Firestore struct tags.
func Decode[T any](snap *firestore.DocumentSnapshot) (T, error) {
	var out T
	if err := snap.DataTo(&out); err != nil {
		return out, fmt.Errorf("firestore: decode %s: %w", snap.Ref.Path, err)
	}
	return out, nil
}

// Collect drains iter, decoding each document with decode.
func Collect[T any](op string, iter *firestore.DocumentIterator, decode func(*firestore.DocumentSnapshot) (T, error)) ([]T, error) {
	defer iter.Stop()

	var out []T
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, WrapError(op, err)
		}
		value, err := decode(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, value)
	}
}

// GetAll fetches refs in one round trip. Missing documents yield snapshots whose Exists is false.
func GetAll(ctx context.Context, op string, client *firestore.Client, refs []*firestore.DocumentRef) ([]*firestore.DocumentSnapshot, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, WrapError(op, err)
	}
	return snaps, nil
}
