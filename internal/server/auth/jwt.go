// Package auth signs and verifies the opaque state value carried through
// the provider's consent redirect.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/stravasync/internal/common"
)

// DefaultStateValidity bounds how long a consent round-trip may take.
const DefaultStateValidity = 10 * time.Minute

const stateAudience = "strava-consent"

// StateSigner issues HS256 state tokens. The zero value is not usable.
type StateSigner struct {
	secretKey []byte
	validity  time.Duration
	now       func() time.Time
}

func NewStateSigner(secretKey []byte, validity time.Duration) *StateSigner {
	if validity <= 0 {
		validity = DefaultStateValidity
	}
	return &StateSigner{secretKey: secretKey, validity: validity, now: time.Now}
}

// Issue returns a fresh signed state value.
func (s *StateSigner) Issue() (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Audience:  jwt.ClaimStrings{stateAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.validity)),
	})

	tokenString, err := token.SignedString(s.secretKey)
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}
	return tokenString, nil
}

// Verify checks signature, audience and expiry of a state value.
func (s *StateSigner) Verify(state string) error {
	claims := &jwt.RegisteredClaims{}

	token, err := jwt.ParseWithClaims(state, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(stateAudience),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return fmt.Errorf("%w: expired", common.ErrInvalidState)
		}
		return fmt.Errorf("%w: %w", common.ErrInvalidState, err)
	}

	if !token.Valid {
		return common.ErrInvalidState
	}

	return nil
}
