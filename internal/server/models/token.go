// Package models defines the records exchanged between the relay's
// components: per-user OAuth tokens, upstream activities and sync reports.
package models

import (
	"errors"
	"time"
)

// TokenRecord is the single stored credential set of one user.
// Writes always replace the whole record.
type TokenRecord struct {
	// UserID is the provider's athlete id in base 10.
	UserID string `json:"user_id,omitempty"`
	// AccessToken is the short-lived bearer credential.
	AccessToken string `json:"access_token"`
	// RefreshToken rotates on every refresh; only the latest one is usable.
	RefreshToken string `json:"refresh_token"`
	// ExpiresAt is the provider's absolute expiry in Unix seconds.
	ExpiresAt int64 `json:"expires_at"`
}

// Expired reports whether the access token is no longer usable at now.
// No skew margin is applied.
func (t *TokenRecord) Expired(now time.Time) bool {
	return now.Unix() >= t.ExpiresAt
}

// Validate checks that every field required to use or refresh the token is set.
func (t *TokenRecord) Validate() error {
	var errs []error
	if t.UserID == "" {
		errs = append(errs, errors.New("missing user id"))
	}
	if t.AccessToken == "" {
		errs = append(errs, errors.New("missing access_token"))
	}
	if t.RefreshToken == "" {
		errs = append(errs, errors.New("missing refresh_token"))
	}
	if t.ExpiresAt <= 0 {
		errs = append(errs, errors.New("missing expires_at"))
	}
	return errors.Join(errs...)
}
