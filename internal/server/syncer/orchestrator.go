// Package syncer runs the refresh, fetch and archive pipeline for one user
// or for every user in the token store.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/stravasync/internal/logging"
	"github.com/dmitrijs2005/stravasync/internal/server/models"
	"github.com/dmitrijs2005/stravasync/internal/server/tokenstore"
)

const (
	DefaultConcurrency = 4
	DefaultUserTimeout = 30 * time.Second
)

type TokenEnsurer interface {
	EnsureValid(ctx context.Context, userID string) (*models.TokenRecord, error)
}

type ActivityFetcher interface {
	Fetch(ctx context.Context, rec *models.TokenRecord) ([]models.Activity, error)
}

type Archiver interface {
	Write(ctx context.Context, userID string, batch []models.Activity, ts time.Time) (string, error)
}

// Lister enumerates stored token records.
type Lister interface {
	All(ctx context.Context) iter.Seq2[*models.TokenRecord, error]
}

type Orchestrator struct {
	records     Lister
	tokens      TokenEnsurer
	fetcher     ActivityFetcher
	archive     Archiver
	logger      logging.Logger
	now         func() time.Time
	concurrency int
	userTimeout time.Duration
}

type Option func(*Orchestrator)

func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithUserTimeout bounds the whole pipeline for a single user.
func WithUserTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.userTimeout = d
		}
	}
}

func WithLogger(l logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(records Lister, tokens TokenEnsurer, fetcher ActivityFetcher, archive Archiver, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		records:     records,
		tokens:      tokens,
		fetcher:     fetcher,
		archive:     archive,
		logger:      logging.Nop(),
		now:         time.Now,
		concurrency: DefaultConcurrency,
		userTimeout: DefaultUserTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("module", "syncer")
	return o
}

// SyncUser makes sure userID has a valid token, fetches the activity list
// and archives it. It returns the batch and the archive key ("" for an
// empty batch).
func (o *Orchestrator) SyncUser(ctx context.Context, userID string) ([]models.Activity, string, error) {
	rec, err := o.tokens.EnsureValid(ctx, userID)
	if err != nil {
		return nil, "", err
	}

	batch, err := o.fetcher.Fetch(ctx, rec)
	if err != nil {
		return nil, "", err
	}

	key, err := o.archive.Write(ctx, userID, batch, o.now())
	if err != nil {
		return nil, "", err
	}

	return batch, key, nil
}

func (o *Orchestrator) syncOne(ctx context.Context, userID string) models.UserOutcome {
	ctx, cancel := context.WithTimeout(ctx, o.userTimeout)
	defer cancel()

	batch, key, err := o.SyncUser(ctx, userID)
	if err != nil {
		return models.Failed(err)
	}
	return models.Succeeded(len(batch), key)
}

// SyncAll runs SyncUser for every stored user, a bounded number at a time.
// A failing user only affects its own entry in the result. An enumeration
// failure that cannot be attributed to a user stops the run; users already
// started finish and the partial result is returned with the error.
func (o *Orchestrator) SyncAll(ctx context.Context) (models.SyncResult, error) {
	runID := uuid.NewString()
	logger := o.logger.With("run_id", runID)
	started := time.Now()

	logger.Info(ctx, "sync run started", "concurrency", o.concurrency)

	result := models.SyncResult{}
	var mu sync.Mutex
	set := func(userID string, out models.UserOutcome) {
		mu.Lock()
		result[userID] = out
		mu.Unlock()

		if out.OK() {
			logger.Info(ctx, "user synced", "user_id", userID, "count", *out.Count, "archive", out.Archive)
		} else {
			logger.Warn(ctx, "user sync failed", "user_id", userID, "error", out.Error)
		}
	}

	var g errgroup.Group
	g.SetLimit(o.concurrency)

	var runErr error
	for rec, err := range o.records.All(ctx) {
		if err != nil {
			var re *tokenstore.RecordError
			if errors.As(err, &re) && re.UserID != "" {
				set(re.UserID, models.Failed(err))
				continue
			}
			runErr = fmt.Errorf("enumerate token records: %w", err)
			break
		}

		userID := rec.UserID
		g.Go(func() error {
			set(userID, o.syncOne(ctx, userID))
			return nil
		})
	}
	_ = g.Wait()

	if runErr != nil {
		logger.Error(ctx, "sync run aborted", "users", len(result), "error", runErr)
		return result, runErr
	}

	logger.Info(ctx, "sync run finished", "users", len(result), "elapsed", time.Since(started))
	return result, nil
}
