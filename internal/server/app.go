// Package server wires the relay together: it builds the token store
// selected by configuration, the OAuth client, the sync pipeline and the
// HTTP API, and runs them until the process is signalled to stop.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrijs2005/stravasync/internal/logging"
	"github.com/dmitrijs2005/stravasync/internal/server/activities"
	"github.com/dmitrijs2005/stravasync/internal/server/archive"
	"github.com/dmitrijs2005/stravasync/internal/server/auth"
	"github.com/dmitrijs2005/stravasync/internal/server/blob"
	"github.com/dmitrijs2005/stravasync/internal/server/config"
	"github.com/dmitrijs2005/stravasync/internal/server/httpapi"
	"github.com/dmitrijs2005/stravasync/internal/server/lock"
	"github.com/dmitrijs2005/stravasync/internal/server/oauth"
	"github.com/dmitrijs2005/stravasync/internal/server/syncer"
	"github.com/dmitrijs2005/stravasync/internal/server/tokens"
	"github.com/dmitrijs2005/stravasync/internal/server/tokenstore"
)

const redisLockPrefix = "stravasync:lock:"

type App struct {
	config  *config.Config
	logger  logging.Logger
	server  *httpapi.Server
	closers []io.Closer
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	return newApp(ctx, c, logging.NewJSONLogger(os.Stdout, c.LogLevel))
}

func newApp(ctx context.Context, c *config.Config, logger logging.Logger) (_ *App, err error) {
	app := &App{config: c, logger: logger}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	s3c, err := blob.NewClient(ctx, blob.Options{
		Region:       c.S3Region,
		AccessKey:    c.S3AccessKey,
		SecretKey:    c.S3SecretKey,
		BaseEndpoint: c.S3BaseEndpoint,
		Timeout:      c.RequestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 init error: %w", err)
	}

	store, err := app.tokenStore(ctx, s3c)
	if err != nil {
		return nil, err
	}

	locker, err := app.locker(ctx)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: c.RequestTimeout}

	oc := oauth.NewClient(oauth.Config{
		ClientID:     c.StravaClientID,
		ClientSecret: c.StravaClientSecret,
		RedirectURI:  c.RedirectURI,
		AuthURL:      c.AuthURL,
		TokenURL:     c.TokenURL,
	}, httpClient)

	manager := tokens.NewManager(store, oc,
		tokens.WithLocker(locker),
		tokens.WithLogger(logger),
		tokens.WithPersistRetry(c.PersistRetries, tokens.DefaultPersistBackoff),
	)

	orch := syncer.NewOrchestrator(store, manager,
		activities.NewFetcher(c.ActivitiesURL, c.ActivitiesPerPage, httpClient),
		archive.NewWriter(s3c, c.S3Bucket, c.ArchivePrefix),
		syncer.WithConcurrency(c.SyncConcurrency),
		syncer.WithUserTimeout(c.RequestTimeout),
		syncer.WithLogger(logger),
	)

	signer := auth.NewStateSigner([]byte(c.SecretKey), auth.DefaultStateValidity)

	handlers := httpapi.NewHandlers(oc, store, signer, orch, logger,
		httpapi.WithRequestTimeout(c.RequestTimeout),
	)
	app.server = httpapi.NewServer(c.EndpointAddrHTTP, httpapi.NewApp(handlers, logger), logger)

	return app, nil
}

func (app *App) tokenStore(ctx context.Context, s3c blob.ObjectAPI) (tokenstore.Store, error) {
	c := app.config
	switch c.TokenBackend {
	case config.BackendPostgres:
		db, err := tokenstore.OpenPostgres(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		app.closers = append(app.closers, db)
		if err := tokenstore.RunMigrations(ctx, db); err != nil {
			return nil, err
		}
		return tokenstore.NewPostgresStore(db), nil
	case config.BackendS3:
		return tokenstore.NewS3Store(s3c, c.S3Bucket, c.TokenPrefix), nil
	case config.BackendMemory:
		app.logger.Warn(ctx, "using in-memory token store, tokens are lost on restart")
		return tokenstore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown token backend %q", c.TokenBackend)
	}
}

func (app *App) locker(ctx context.Context) (lock.Locker, error) {
	if app.config.RedisAddr == "" {
		return lock.NewLocal(), nil
	}

	rc := redis.NewClient(&redis.Options{
		Addr:     app.config.RedisAddr,
		Password: app.config.RedisPassword,
	})
	app.closers = append(app.closers, rc)

	if err := rc.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis init error: %w", err)
	}
	return lock.NewRedis(rc, redisLockPrefix,
		lock.WithLeaseTTL(leaseTTL(app.config.RequestTimeout)),
		lock.WithLogger(app.logger),
	), nil
}

// leaseTTL keeps the Redis lease well beyond the deadline every locked
// pipeline runs under, so a lease cannot lapse while its holder still
// refreshes or persists.
func leaseTTL(requestTimeout time.Duration) time.Duration {
	ttl := 2 * requestTimeout
	if ttl < lock.DefaultLeaseTTL {
		ttl = lock.DefaultLeaseTTL
	}
	return ttl
}

func (app *App) close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i].Close(); err != nil {
			app.logger.Warn(context.Background(), "close error", "error", err)
		}
	}
	app.closers = nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves until ctx is cancelled or a termination signal arrives.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	defer app.close()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	err := app.server.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		app.logger.Error(ctx, "server stopped", "error", err)
		return err
	}

	app.logger.Info(ctx, "App stopped")
	return nil
}
