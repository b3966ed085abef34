// Package httpapi exposes the relay over HTTP: the consent redirect, the
// code exchange callback, per-user activity retrieval and the batch sync.
package httpapi

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/dmitrijs2005/stravasync/internal/logging"
	"github.com/dmitrijs2005/stravasync/internal/server/models"
)

const DefaultRequestTimeout = 30 * time.Second

type OAuth interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*models.TokenRecord, error)
}

type TokenWriter interface {
	Put(ctx context.Context, rec *models.TokenRecord) error
}

type StateSigner interface {
	Issue() (string, error)
	Verify(state string) error
}

type Syncer interface {
	SyncUser(ctx context.Context, userID string) ([]models.Activity, string, error)
	SyncAll(ctx context.Context) (models.SyncResult, error)
}

type Handlers struct {
	oauth   OAuth
	tokens  TokenWriter
	state   StateSigner
	sync    Syncer
	logger  logging.Logger
	timeout time.Duration
}

type HandlerOption func(*Handlers)

// WithRequestTimeout bounds the work done for a single-user request, so
// a refresh and its persist never outlive the per-user lock.
func WithRequestTimeout(d time.Duration) HandlerOption {
	return func(h *Handlers) { h.timeout = d }
}

// NewHandlers builds the route handlers. state may be nil, in which case
// no state parameter is issued or checked.
func NewHandlers(oauth OAuth, tokens TokenWriter, state StateSigner, sync Syncer, logger logging.Logger, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		oauth:   oauth,
		tokens:  tokens,
		state:   state,
		sync:    sync,
		logger:  logger.With("module", "httpapi"),
		timeout: DefaultRequestTimeout,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Handlers) requestContext(c fiber.Ctx) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(c.Context())
	}
	return context.WithTimeout(c.Context(), h.timeout)
}

func (h *Handlers) Home(c fiber.Ctx) error {
	return c.SendString("Strava sync relay is running")
}

func (h *Handlers) Auth(c fiber.Ctx) error {
	var state string
	if h.state != nil {
		var err error
		if state, err = h.state.Issue(); err != nil {
			return err
		}
	}
	return c.Redirect().Status(fiber.StatusFound).To(h.oauth.AuthCodeURL(state))
}

func (h *Handlers) ExchangeToken(c fiber.Ctx) error {
	code := c.Query("code")
	if code == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing code")
	}

	if state := c.Query("state"); state != "" && h.state != nil {
		if err := h.state.Verify(state); err != nil {
			return err
		}
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	rec, err := h.oauth.Exchange(ctx, code)
	if err != nil {
		return err
	}

	if err := h.tokens.Put(ctx, rec); err != nil {
		return err
	}

	h.logger.Info(ctx, "tokens stored", "user_id", rec.UserID)

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message":    "Tokens stored successfully",
		"athlete_id": rec.UserID,
	})
}

func (h *Handlers) Activities(c fiber.Ctx) error {
	userID := c.Params("userId")

	ctx, cancel := h.requestContext(c)
	defer cancel()

	batch, key, err := h.sync.SyncUser(ctx, userID)
	if err != nil {
		return err
	}
	if key != "" {
		h.logger.Info(ctx, "activities archived", "user_id", userID, "archive", key, "count", len(batch))
	}
	if batch == nil {
		batch = []models.Activity{}
	}

	return c.Status(fiber.StatusOK).JSON(batch)
}

func (h *Handlers) SyncActivities(c fiber.Ctx) error {
	res, err := h.sync.SyncAll(c.Context())
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(res)
}
