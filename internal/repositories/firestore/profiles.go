package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/storefront/internal/domain"
	pfirestore "github.com/hanko-field/storefront/internal/platform/firestore"
	"github.com/hanko-field/storefront/internal/repositories"
)

const (
	userCollection    = "users"
	addressCollection = "addresses"
)

type userDocument struct {
	Email     string    `firestore:"email"`
	FirstName string    `firestore:"firstName"`
	LastName  string    `firestore:"lastName"`
	Phone     string    `firestore:"phone"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type addressDocument struct {
	Address1    string `firestore:"address1"`
	Address2    string `firestore:"address2,omitempty"`
	City        string `firestore:"city"`
	State       string `firestore:"state,omitempty"`
	Zipcode     string `firestore:"zipcode"`
	CountryCode string `firestore:"countryCode"`
}

// ProfileRepository stores users/{account} with addresses/{type} beneath it.
type ProfileRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.ProfileRepository = (*ProfileRepository)(nil)

// NewProfileRepository constructs a Firestore-backed profile repository.
func NewProfileRepository(provider *pfirestore.Provider) (*ProfileRepository, error) {
	if provider == nil {
		return nil, errors.New("profile repository requires firestore provider")
	}
	return &ProfileRepository{provider: provider}, nil
}

func (r *ProfileRepository) refs(client *firestore.Client, accountID string) (user, shipping, billing *firestore.DocumentRef) {
	user = client.Collection(userCollection).Doc(accountID)
	shipping = user.Collection(addressCollection).Doc(string(domain.AddressTypeShipping))
	billing = user.Collection(addressCollection).Doc(string(domain.AddressTypeBilling))
	return user, shipping, billing
}

func (r *ProfileRepository) FindByAccount(ctx context.Context, accountID string) (domain.Profile, error) {
	const op = "profiles.get"
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Profile{}, err
	}
	userRef, shippingRef, billingRef := r.refs(client, accountID)
	snaps, err := pfirestore.GetAll(ctx, op, client, []*firestore.DocumentRef{userRef, shippingRef, billingRef})
	if err != nil {
		return domain.Profile{}, err
	}
	if !snaps[0].Exists() {
		return domain.Profile{}, pfirestore.NotFound(op, "profile")
	}

	user, err := pfirestore.Decode[userDocument](snaps[0])
	if err != nil {
		return domain.Profile{}, err
	}
	profile := domain.Profile{
		AccountID: accountID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Phone:     user.Phone,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
	if profile.Shipping, err = decodeAddress(snaps[1], domain.AddressTypeShipping); err != nil {
		return domain.Profile{}, err
	}
	if profile.Billing, err = decodeAddress(snaps[2], domain.AddressTypeBilling); err != nil {
		return domain.Profile{}, err
	}
	return profile, nil
}

// Save writes the user and both address documents atomically. A nil address
// deletes the stored one.
func (r *ProfileRepository) Save(ctx context.Context, profile domain.Profile) error {
	if profile.AccountID == "" {
		return errors.New("profile repository: account id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	userRef, shippingRef, billingRef := r.refs(client, profile.AccountID)

	return pfirestore.RunTransaction(ctx, client, func(_ context.Context, tx *firestore.Transaction) error {
		if err := tx.Set(userRef, userDocument{
			Email:     profile.Email,
			FirstName: profile.FirstName,
			LastName:  profile.LastName,
			Phone:     profile.Phone,
			CreatedAt: profile.CreatedAt.UTC(),
			UpdatedAt: profile.UpdatedAt.UTC(),
		}); err != nil {
			return err
		}
		if err := setAddress(tx, shippingRef, profile.Shipping); err != nil {
			return err
		}
		return setAddress(tx, billingRef, profile.Billing)
	})
}

func setAddress(tx *firestore.Transaction, ref *firestore.DocumentRef, addr *domain.Address) error {
	if addr == nil {
		return tx.Delete(ref)
	}
	return tx.Set(ref, addressDocument{
		Address1:    addr.Address1,
		Address2:    addr.Address2,
		City:        addr.City,
		State:       addr.State,
		Zipcode:     addr.Zipcode,
		CountryCode: addr.CountryCode,
	})
}

func decodeAddress(snap *firestore.DocumentSnapshot, kind domain.AddressType) (*domain.Address, error) {
	if !snap.Exists() {
		return nil, nil
	}
	doc, err := pfirestore.Decode[addressDocument](snap)
	if err != nil {
		return nil, err
	}
	return &domain.Address{
		Type:        kind,
		Address1:    doc.Address1,
		Address2:    doc.Address2,
		City:        doc.City,
		State:       doc.State,
		Zipcode:     doc.Zipcode,
		CountryCode: doc.CountryCode,
	}, nil
}
