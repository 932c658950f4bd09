// Package server is the HTTP surface of the gateway: routing, middleware,
// and the mapping from domain errors to HTTP responses.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rdeshpande/chat-gateway/internal/limiter"
)

// Server hosts the gateway's HTTP API.
type Server struct {
	Router *chi.Mux
	Port   int

	httpServer *http.Server
	logger     *slog.Logger
}

// Options configures the server.
type Options struct {
	Port        int
	TurnLimiter *limiter.TurnLimiter
	TurnLimit   int
}

// New builds the router. Chat turns stream for up to the provider timeout, so
// the blanket request timeout applies only to the non-streaming routes.
func New(opts Options, h *Handlers, logger *slog.Logger) *Server {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "chat-gateway")
	})

	r.Get("/healthz", h.Healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/chat/{tenant}", func(r chi.Router) {
		r.With(TurnLimitMiddleware(opts.TurnLimiter, opts.TurnLimit)).Post("/", h.Chat)

		r.Group(func(r chi.Router) {
			r.Use(TimeoutMiddleware(30 * time.Second))

			r.Get("/conversation", h.ListConversations)
			r.Get("/conversation/{conversationID}", h.GetConversation)
			r.Delete("/conversation/{conversationID}", h.DeleteConversation)

			r.Get("/providers", h.ListProviders)
			r.Get("/providers/{provider}/models", h.ListModels)

			r.Get("/config", h.ListConfigs)
			r.Post("/config", h.CreateConfig)
			r.Put("/config/{configID}", h.UpdateConfig)
			r.Delete("/config/{configID}", h.DeleteConfig)

			r.Post("/upload-file", h.UploadFile)
		})
	})

	return &Server{
		Router: r,
		Port:   opts.Port,
		logger: logger,
	}
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.Port),
		Handler: s.Router,
	}
	s.logger.Info("starting server", slog.Int("port", s.Port))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
