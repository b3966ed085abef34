package httpapi

import (
	"context"
	"net"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/dmitrijs2005/stravasync/internal/logging"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	address string
	app     *fiber.App
	logger  logging.Logger
}

func NewServer(address string, app *fiber.App, l logging.Logger) *Server {
	return &Server{
		address: address,
		app:     app,
		logger:  l.With("module", "http_server"),
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
			s.logger.Error(ctx, "HTTP server shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	// starts accepting incoming connections
	if err := s.app.Listener(listen, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return err
	}

	return nil
}
