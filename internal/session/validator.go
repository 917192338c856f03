package session

import (
	"context"
	"errors"
	"strings"

	"skin-accounts/internal/provider"
	"skin-accounts/internal/secure"
)

var ErrInvalidCredentials = errors.New("invalid_credentials")

type Validation struct {
	Valid   bool
	Profile provider.Profile
}

// Validator checks that an access token still resolves to the claimed
// profile. Repeated calls with the same inputs give the same answer.
type Validator struct {
	profiles provider.ProfileSource
}

func NewValidator(profiles provider.ProfileSource) *Validator {
	return &Validator{profiles: profiles}
}

func (v *Validator) Validate(ctx context.Context, accessToken, claimedUUID string) (Validation, error) {
	accessToken = strings.TrimSpace(accessToken)
	claimedUUID = strings.TrimSpace(claimedUUID)
	if accessToken == "" || len(claimedUUID) < 32 {
		return Validation{}, ErrInvalidCredentials
	}
	stripped, err := secure.StripUUID(claimedUUID)
	if err != nil {
		return Validation{}, ErrInvalidCredentials
	}

	profile, err := v.profiles.Profile(ctx, accessToken)
	if err != nil {
		return Validation{}, err
	}
	if !secure.EqualHex(profile.ID, stripped) {
		return Validation{}, ErrInvalidCredentials
	}
	return Validation{Valid: true, Profile: profile}, nil
}
