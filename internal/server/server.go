package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/atlekbai/entityql/internal/handler"
	"github.com/atlekbai/entityql/internal/middleware"
)

const shutdownTimeout = 10 * time.Second

// New wires the handler's routes behind the middleware chain.
func New(addr string, h *handler.Handler, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	h.Routes(mux)

	var root http.Handler = mux
	root = middleware.ContentType(root)
	root = middleware.Logging(logger)(root)
	root = middleware.Recovery(logger)(root)

	return &http.Server{
		Addr:              addr,
		Handler:           root,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Serve accepts connections on ln until ctx is cancelled, then shuts the
// server down gracefully.
func Serve(ctx context.Context, srv *http.Server, ln net.Listener, logger *slog.Logger) error {
	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
