package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
)

const defaultCollection = "idempotencyKeys"

// FirestoreStore keeps records in a Firestore collection. Expired documents are cleaned
// up by a Firestore TTL policy on expiresAt.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
}

var _ Store = (*FirestoreStore)(nil)

// NewFirestoreStore constructs a store over provider.
func NewFirestoreStore(provider *pfirestore.Provider) *FirestoreStore {
	return &FirestoreStore{provider: provider, collection: defaultCollection}
}

func (s *FirestoreStore) ref(ctx context.Context, key string) (*firestore.DocumentRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(s.collection).Doc(documentID(key)), nil
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	ref, err := s.ref(ctx, key)
	if err != nil {
		return Reservation{}, err
	}

	var result Reservation
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var existing *Record
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			record, err := pfirestore.Decode[Record](snap)
			if err != nil {
				return err
			}
			existing = &record
		}

		reservation, write, err := reserveDecision(existing, key, fingerprint, now.UTC(), ttlOrDefault(ttl))
		if err != nil {
			return err
		}
		result = reservation
		if write {
			return tx.Set(ref, reservation.Record)
		}
		return nil
	})
	return result, err
}

func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	ref, err := s.ref(ctx, key)
	if err != nil {
		return err
	}
	return s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		record := newPending(key, fingerprint, now.UTC(), ttlOrDefault(ttl))
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			if record, err = pfirestore.Decode[Record](snap); err != nil {
				return err
			}
			if record.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
		}
		return tx.Set(ref, completed(record, resp, now.UTC(), ttlOrDefault(ttl)))
	})
}

func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	ref, err := s.ref(ctx, key)
	if err != nil {
		return err
	}
	_, err = ref.Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return pfirestore.WrapError("idempotency.release", err)
}
