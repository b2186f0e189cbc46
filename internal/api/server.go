// Package api implements HTTP handlers and helpers for the cvrp service.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cvrp/internal/auth"
	"cvrp/internal/config"
	"cvrp/internal/metrics"
	"cvrp/internal/store"
	"cvrp/internal/webhooks"
)

type Server struct {
	Cfg    config.Config
	Store  store.Store
	Broker EventBroker
	Pub    *webhooks.Publisher
	Auth   *auth.Verifier

	limits *rateLimiter
	// runCtx parents async runs; cancelled by Shutdown.
	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a Server. If no database URL is configured, uses the
// in-memory store; without a Redis URL, the in-process broker.
func NewServer(cfg config.Config) (*Server, error) {
	var s store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if cfg.DBMigrate {
			if err := sp.MigrateDir(cfg.MigrationsDir); err != nil {
				return nil, err
			}
		}
		s = sp
	}
	var broker EventBroker = NewBroker()
	if cfg.RedisURL != "" {
		rb, err := NewRedisBroker(cfg.RedisURL)
		if err != nil {
			log.Printf("redis broker unavailable, using in-process broker: %v", err)
		} else {
			broker = rb
		}
	}
	return NewServerWith(cfg, s, broker), nil
}

// NewServerWith wires a Server around existing dependencies.
func NewServerWith(cfg config.Config, s store.Store, broker EventBroker) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		Cfg:    cfg,
		Store:  s,
		Broker: broker,
		Pub:    webhooks.NewPublisher(s),
		Auth:   auth.NewVerifier(cfg.Auth.Mode, cfg.Auth.HMACSecret),
		limits: newRateLimiter(cfg.RateRPS, cfg.RateBurst),
		runCtx: ctx,
		cancel: cancel,
	}
}

// Routes returns the service mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Solving and runs
	mux.Handle("/v1/solve", s.limited(http.HandlerFunc(s.SolveHandler)))
	mux.Handle("/v1/runs", s.limited(http.HandlerFunc(s.RunsIndexHandler)))
	mux.Handle("/v1/runs/", s.limited(http.HandlerFunc(s.RunByIDHandler))) // includes /events/stream, /ws, /callbacks
	mux.HandleFunc("/v1/stats", s.StatsHandler)
	mux.HandleFunc("/v1/engines", s.EnginesHandler)

	// Health and ops
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/vars", s.DebugJSON)

	// Docs
	mux.HandleFunc("/openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("/openapi.json", s.OpenAPIJSONHandler)
	mux.HandleFunc("/docs", s.DocsHandler)
	return mux
}

// NewCallbackWorker creates a background worker for callback deliveries.
func (s *Server) NewCallbackWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store, s.Cfg.CallbackMaxAttempts)
}

// Shutdown cancels in-flight async runs and waits for them to record their
// outcome, or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
