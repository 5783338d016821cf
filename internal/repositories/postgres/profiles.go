package postgres

import (
	"context"
	"database/sql"
	"errors"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

// ProfileRepository stores profiles and their typed addresses.
type ProfileRepository struct {
	db *sql.DB
}

var _ repositories.ProfileRepository = (*ProfileRepository)(nil)

// NewProfileRepository constructs a PostgreSQL-backed profile repository.
func NewProfileRepository(db *sql.DB) (*ProfileRepository, error) {
	if db == nil {
		return nil, errors.New("profile repository requires database handle")
	}
	return &ProfileRepository{db: db}, nil
}

func (r *ProfileRepository) FindByAccount(ctx context.Context, accountID string) (domain.Profile, error) {
	const op = "profiles.get"
	profile := domain.Profile{AccountID: accountID}
	err := r.db.QueryRowContext(ctx, `
SELECT email, first_name, last_name, phone, created_at, updated_at
FROM profiles WHERE account_id = $1`, accountID).
		Scan(&profile.Email, &profile.FirstName, &profile.LastName, &profile.Phone, &profile.CreatedAt, &profile.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Profile{}, repositories.NewNotFound(op, "profile")
	}
	if err != nil {
		return domain.Profile{}, wrapError(op, err)
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT type, address1, address2, city, state, zipcode, country_code
FROM addresses WHERE account_id = $1`, accountID)
	if err != nil {
		return domain.Profile{}, wrapError(op, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			addr domain.Address
			kind string
		)
		if err := rows.Scan(&kind, &addr.Address1, &addr.Address2, &addr.City, &addr.State, &addr.Zipcode, &addr.CountryCode); err != nil {
			return domain.Profile{}, wrapError(op, err)
		}
		addr.Type = domain.AddressType(kind)
		switch addr.Type {
		case domain.AddressTypeShipping:
			profile.Shipping = &addr
		case domain.AddressTypeBilling:
			profile.Billing = &addr
		}
	}
	if err := rows.Err(); err != nil {
		return domain.Profile{}, wrapError(op, err)
	}
	return profile, nil
}

// Save upserts the profile row and replaces both addresses atomically. A nil
// address deletes the stored one.
func (r *ProfileRepository) Save(ctx context.Context, profile domain.Profile) error {
	if profile.AccountID == "" {
		return errors.New("profile repository: account id is required")
	}
	return inTx(ctx, r.db, "profiles.save", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO profiles (account_id, email, first_name, last_name, phone, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (account_id) DO UPDATE SET
    email = EXCLUDED.email,
    first_name = EXCLUDED.first_name,
    last_name = EXCLUDED.last_name,
    phone = EXCLUDED.phone,
    updated_at = EXCLUDED.updated_at`,
			profile.AccountID, profile.Email, profile.FirstName, profile.LastName, profile.Phone,
			profile.CreatedAt.UTC(), profile.UpdatedAt.UTC()); err != nil {
			return err
		}
		if err := saveAddress(ctx, tx, profile.AccountID, domain.AddressTypeShipping, profile.Shipping); err != nil {
			return err
		}
		return saveAddress(ctx, tx, profile.AccountID, domain.AddressTypeBilling, profile.Billing)
	})
}

func saveAddress(ctx context.Context, tx *sql.Tx, accountID string, kind domain.AddressType, addr *domain.Address) error {
	if addr == nil {
		_, err := tx.ExecContext(ctx, `DELETE FROM addresses WHERE account_id = $1 AND type = $2`, accountID, string(kind))
		return err
	}
	_, err := tx.ExecContext(ctx, `
INSERT INTO addresses (account_id, type, address1, address2, city, state, zipcode, country_code)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (account_id, type) DO UPDATE SET
    address1 = EXCLUDED.address1,
    address2 = EXCLUDED.address2,
    city = EXCLUDED.city,
    state = EXCLUDED.state,
    zipcode = EXCLUDED.zipcode,
    country_code = EXCLUDED.country_code`,
		accountID, string(kind), addr.Address1, addr.Address2, addr.City, addr.State, addr.Zipcode, addr.CountryCode)
	return err
}
