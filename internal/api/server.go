package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/MikeSquared-Agency/sitechat/internal/answer"
	"github.com/MikeSquared-Agency/sitechat/internal/config"
	"github.com/MikeSquared-Agency/sitechat/internal/conversation"
	"github.com/MikeSquared-Agency/sitechat/internal/orchestrator"
)

// Service is the behaviour the HTTP API exposes.
type Service interface {
	StartCrawl(ctx context.Context, rawURL string) (orchestrator.Job, error)
	Track(id string)
	CheckCrawl(ctx context.Context, id string) (orchestrator.Job, error)
	Ask(ctx context.Context, site, question string, sink answer.Sink) error
	History(ctx context.Context, site string) ([]conversation.Turn, error)
	ResetHistory(ctx context.Context, site string) error
	Options(ctx context.Context) (config.Options, error)
	SaveOptions(ctx context.Context, update config.Options) (config.Options, error)
}

type Config struct {
	Port        int
	APIToken    string
	CORSOrigins []string
	// Gatherer backs /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer
	// EventsConnected reports the event bus connection; nil means events are off.
	EventsConnected func() bool
}

type Server struct {
	router  *chi.Mux
	handler http.Handler
	port    int
	svc     Service
	events  func() bool
	logger  *slog.Logger
}

func NewServer(cfg Config, svc Service, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		port:   cfg.Port,
		svc:    svc,
		events: cfg.EventsConnected,
		logger: logger,
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/sitechat/status", s.status)
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	router.Group(func(r chi.Router) {
		r.Use(BearerAuthMiddleware(cfg.APIToken))
		r.Post("/api/v1/crawls", s.startCrawl)
		r.Get("/api/v1/crawls/{id}", s.getCrawl)
		r.Post("/api/v1/sites/{site}/ask", s.ask)
		r.Get("/api/v1/sites/{site}/history", s.getHistory)
		r.Delete("/api/v1/sites/{site}/history", s.resetHistory)
		r.Get("/api/v1/settings", s.getSettings)
		r.Put("/api/v1/settings", s.putSettings)
	})

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.handler = cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposedHeaders: []string{"X-Stream-ID"},
	}).Handler(router)

	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	events := "disabled"
	if s.events != nil {
		events = "disconnected"
		if s.events() {
			events = "connected"
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"agent":  "sitechat",
		"status": "ready",
		"events": events,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
