// Package tokens guarantees that a usable access token exists for a user,
// refreshing and persisting it when the stored one has expired.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/stravasync/internal/common"
	"github.com/dmitrijs2005/stravasync/internal/logging"
	"github.com/dmitrijs2005/stravasync/internal/server/lock"
	"github.com/dmitrijs2005/stravasync/internal/server/models"
	"github.com/dmitrijs2005/stravasync/internal/server/tokenstore"
)

const (
	DefaultPersistRetries = 3
	DefaultPersistBackoff = 100 * time.Millisecond
)

// Refresher trades a refresh token for a rotated pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*models.TokenRecord, error)
}

// Manager runs the per-user token state machine. Calls for the same user
// are serialized through the Locker so a refresh token is spent only once.
type Manager struct {
	store          tokenstore.Store
	oauth          Refresher
	locker         lock.Locker
	logger         logging.Logger
	now            func() time.Time
	persistRetries uint64
	persistBackoff time.Duration
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLocker(l lock.Locker) Option {
	return func(m *Manager) { m.locker = l }
}

func WithLogger(l logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithPersistRetry sets how many times a failed write of a freshly rotated
// pair is retried, and the initial backoff between attempts.
func WithPersistRetry(retries int, backoff time.Duration) Option {
	return func(m *Manager) {
		if retries < 0 {
			retries = 0
		}
		m.persistRetries = uint64(retries)
		if backoff > 0 {
			m.persistBackoff = backoff
		}
	}
}

func NewManager(store tokenstore.Store, oauth Refresher, opts ...Option) *Manager {
	m := &Manager{
		store:          store,
		oauth:          oauth,
		locker:         lock.NewLocal(),
		logger:         logging.Nop(),
		now:            time.Now,
		persistRetries: DefaultPersistRetries,
		persistBackoff: DefaultPersistBackoff,
	}
	for _, o := range opts {
		o(m)
	}
	m.logger = m.logger.With("module", "tokens")
	return m
}

func lockKey(userID string) string {
	return "token-refresh:" + userID
}

// EnsureValid returns a record whose access token has not expired. An
// unknown user yields common.ErrUnauthenticated. If the refresh fails the
// stored record is left as it was; if persisting the rotated pair fails the
// new token is not returned.
func (m *Manager) EnsureValid(ctx context.Context, userID string) (*models.TokenRecord, error) {
	unlock, err := m.locker.Lock(ctx, lockKey(userID))
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", userID, err)
	}
	defer unlock()

	rec, err := m.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: user %s", common.ErrUnauthenticated, userID)
		}
		return nil, err
	}

	if !rec.Expired(m.now()) {
		return rec, nil
	}

	m.logger.Info(ctx, "access token expired, refreshing", "user_id", userID, "expires_at", rec.ExpiresAt)

	fresh, err := m.oauth.Refresh(ctx, rec.RefreshToken)
	if err != nil {
		m.logger.Warn(ctx, "token refresh failed", "user_id", userID, "error", err)
		return nil, err
	}

	updated := *rec
	updated.AccessToken = fresh.AccessToken
	updated.RefreshToken = fresh.RefreshToken
	updated.ExpiresAt = fresh.ExpiresAt

	if err := m.persist(ctx, &updated); err != nil {
		// the old refresh token is already spent upstream
		m.logger.Error(ctx, "rotated token not persisted", "user_id", userID, "error", err)
		return nil, common.StorageError("persist refreshed token", err)
	}

	m.logger.Info(ctx, "access token refreshed", "user_id", userID, "expires_at", updated.ExpiresAt)
	return &updated, nil
}

func (m *Manager) persist(ctx context.Context, rec *models.TokenRecord) error {
	b := retry.WithMaxRetries(m.persistRetries, retry.NewExponential(m.persistBackoff))

	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := m.store.Put(ctx, rec)
		if err == nil {
			return nil
		}
		if errors.Is(err, common.ErrPermissionDenied) {
			return err
		}
		m.logger.Warn(ctx, "persist attempt failed", "user_id", rec.UserID, "attempt", attempt, "error", err)
		return retry.RetryableError(err)
	})
}
