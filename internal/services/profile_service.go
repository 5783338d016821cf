package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/language"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/repositories"
)

const minPhoneDigits = 7

var (
	// ErrProfileInvalid indicates the profile input failed validation.
	ErrProfileInvalid = errors.New("profile: invalid input")
	// ErrProfileNotFound indicates the account has no stored profile.
	ErrProfileNotFound = errors.New("profile: not found")
)

// ProfileValidationError lists the offending fields; it matches ErrProfileInvalid.
type ProfileValidationError struct {
	Fields map[string]string
}

func (e *ProfileValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("profile: invalid fields [%s]", strings.Join(names, ", "))
}

func (e *ProfileValidationError) Is(target error) bool { return target == ErrProfileInvalid }

// AddressInput is a postal address as submitted by the shopper.
type AddressInput struct {
	Address1    string
	Address2    string
	City        string
	State       string
	Zipcode     string
	CountryCode string
}

// ProfileInput is a full profile replacement. A nil Billing removes the stored one.
type ProfileInput struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Shipping  *AddressInput
	Billing   *AddressInput
}

// ProfileServiceDeps wires the dependencies required by the profile service.
type ProfileServiceDeps struct {
	Profiles repositories.ProfileRepository
	Clock    func() time.Time
	Logger   Logger
}

type profileService struct {
	profiles repositories.ProfileRepository
	now      func() time.Time
	logger   Logger
	policy   *bluemonday.Policy
}

var _ ProfileService = (*profileService)(nil)

// NewProfileService constructs a ProfileService validating required dependencies.
func NewProfileService(deps ProfileServiceDeps) (ProfileService, error) {
	if deps.Profiles == nil {
		return nil, errors.New("profile service: profile repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}
	return &profileService{
		profiles: deps.Profiles,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
		policy:   bluemonday.StrictPolicy(),
	}, nil
}

func (s *profileService) Get(ctx context.Context, accountID string) (Profile, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return Profile{}, ErrProfileInvalid
	}
	profile, err := s.profiles.FindByAccount(ctx, accountID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return Profile{}, ErrProfileNotFound
		}
		return Profile{}, fmt.Errorf("profile: load: %w", err)
	}
	return profile, nil
}

// Save validates and sanitises input, then replaces the stored profile and
// both addresses in one write.
func (s *profileService) Save(ctx context.Context, accountID string, input ProfileInput) (Profile, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return Profile{}, ErrProfileInvalid
	}
	profile, err := s.normalise(input)
	if err != nil {
		return Profile{}, err
	}
	profile.AccountID = accountID

	now := s.now()
	profile.CreatedAt = now
	profile.UpdatedAt = now
	existing, err := s.profiles.FindByAccount(ctx, accountID)
	switch {
	case err == nil:
		profile.CreatedAt = existing.CreatedAt
	case !repositories.IsNotFound(err):
		return Profile{}, fmt.Errorf("profile: load: %w", err)
	}

	if err := s.profiles.Save(ctx, profile); err != nil {
		s.logger(ctx, "profile.save_failed", map[string]any{"accountId": accountID, "error": err.Error()})
		return Profile{}, fmt.Errorf("profile: save: %w", err)
	}
	return profile, nil
}

func (s *profileService) normalise(input ProfileInput) (Profile, error) {
	fields := map[string]string{}
	profile := Profile{
		FirstName: s.clean(input.FirstName),
		LastName:  s.clean(input.LastName),
		Email:     strings.TrimSpace(input.Email),
	}
	requireField(fields, "first_name", profile.FirstName)
	requireField(fields, "last_name", profile.LastName)

	if profile.Email == "" {
		fields["email"] = "required"
	} else if addr, err := mail.ParseAddress(profile.Email); err != nil || addr.Address != profile.Email {
		fields["email"] = "invalid"
	}

	phone, ok := normalisePhone(input.Phone)
	switch {
	case strings.TrimSpace(input.Phone) == "":
		fields["phone"] = "required"
	case !ok:
		fields["phone"] = "invalid"
	}
	profile.Phone = phone

	if input.Shipping == nil {
		fields["shipping"] = "required"
	} else {
		profile.Shipping = s.address(fields, "shipping", domain.AddressTypeShipping, *input.Shipping)
	}
	if input.Billing != nil {
		profile.Billing = s.address(fields, "billing", domain.AddressTypeBilling, *input.Billing)
	}

	if len(fields) > 0 {
		return Profile{}, &ProfileValidationError{Fields: fields}
	}
	return profile, nil
}

func (s *profileService) address(fields map[string]string, prefix string, kind domain.AddressType, in AddressInput) *Address {
	addr := &Address{
		Type:     kind,
		Address1: s.clean(in.Address1),
		Address2: s.clean(in.Address2),
		City:     s.clean(in.City),
		State:    s.clean(in.State),
		Zipcode:  s.clean(in.Zipcode),
	}
	requireField(fields, prefix+".address1", addr.Address1)
	requireField(fields, prefix+".city", addr.City)
	requireField(fields, prefix+".zipcode", addr.Zipcode)

	country := strings.TrimSpace(in.CountryCode)
	if country == "" {
		fields[prefix+".country_code"] = "required"
		return addr
	}
	region, err := language.ParseRegion(country)
	if err != nil || !region.IsCountry() {
		fields[prefix+".country_code"] = "invalid"
		return addr
	}
	addr.CountryCode = region.String()
	return addr
}

// clean strips markup and surrounding whitespace from free text.
func (s *profileService) clean(value string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(value)))
}

func requireField(fields map[string]string, name, value string) {
	if value == "" {
		fields[name] = "required"
	}
}

// normalisePhone drops common separators and requires at least minPhoneDigits digits.
func normalisePhone(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return raw, false
		}
	}
	phone := b.String()
	digits := len(strings.TrimPrefix(phone, "+"))
	return phone, digits >= minPhoneDigits
}
