// Package tokenstore persists one TokenRecord per user. Three backends share
// the Store contract: PostgreSQL rows, S3 objects and an in-memory map.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/dmitrijs2005/stravasync/internal/server/models"
)

// Store is the token persistence contract.
//
// Get returns common.ErrorNotFound for an unknown user. Put replaces the
// whole record. All enumerates every stored record lazily; each call starts
// over from the beginning and order is unspecified. A record written while
// an enumeration is running may or may not be seen by it.
//
// Failures other than not-found match common.ErrStorage.
type Store interface {
	Get(ctx context.Context, userID string) (*models.TokenRecord, error)
	Put(ctx context.Context, rec *models.TokenRecord) error
	All(ctx context.Context) iter.Seq2[*models.TokenRecord, error]
}

// RecordError is yielded by All when one record cannot be read. The
// enumeration continues past it, so callers may report the user and go on.
type RecordError struct {
	UserID string
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("token record %s: %v", e.UserID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

var (
	ErrInvalidUserID = errors.New("invalid user id")
	ErrCorruptRecord = errors.New("corrupt token record")
)

func checkUserID(userID string) error {
	if userID == "" || strings.ContainsAny(userID, "/\\") || userID == "." || userID == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	}
	return nil
}
