package frontend

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v2"

	"github.com/vigil-run/vigil/internal/config"
	"github.com/vigil-run/vigil/internal/logger"
	"github.com/vigil-run/vigil/internal/logger/tag"
)

// Server is the daemon's HTTP server.
type Server struct {
	cfg        config.ServerConfig
	api        *API
	jsonLogs   bool
	httpServer *http.Server
}

// NewServer creates a server for the API. jsonLogs selects the request-log
// format to match the daemon logger.
func NewServer(cfg config.ServerConfig, api *API, jsonLogs bool) *Server {
	return &Server{cfg: cfg, api: api, jsonLogs: jsonLogs}
}

// Handler builds the routed handler with middleware.
func (s *Server) Handler() http.Handler {
	requestLogger := httplog.NewLogger("http", httplog.Options{
		LogLevel:         slog.LevelDebug,
		JSON:             s.jsonLogs,
		Concise:          true,
		MessageFieldName: "msg",
	})

	r := chi.NewMux()
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(requestLogger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.RedirectSlashes)

	r.Route("/api/v1", func(r chi.Router) {
		s.api.ConfigureRoutes(r)
	})
	return r
}

// Serve blocks until ctx is cancelled or the listener fails, then drains
// with a bounded shutdown.
func (s *Server) Serve(ctx context.Context) error {
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		Addr:              s.cfg.Addr(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info(ctx, "HTTP server starting", tag.String("addr", s.cfg.Addr()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.httpServer.SetKeepAlivesEnabled(false)
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Failed to shut down HTTP server gracefully", tag.Error(err))
		return err
	}
	logger.Info(ctx, "HTTP server stopped")
	return nil
}
