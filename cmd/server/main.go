package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"popupflow/internal/pages"
	"popupflow/internal/platform/config"
	"popupflow/internal/platform/httpserver"
	"popupflow/internal/platform/logger"
	"popupflow/internal/platform/metrics"
	"popupflow/internal/platform/middleware"
	"popupflow/internal/platform/redis"
	"popupflow/internal/popup/ports"
	"popupflow/internal/popup/store/outcome"
)

const shutdownTimeout = 10 * time.Second

// main wires the pages server: config, logging, the outcome slot store and
// the HTTP lifecycle.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	store, health, closeStore, err := buildStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	m := metrics.New(prometheus.DefaultRegisterer)
	h, err := pages.New(store, log, m,
		pages.WithDepositFrame(cfg.DepositFrameURL),
		pages.WithStaticDir(cfg.StaticDir),
	)
	if err != nil {
		return err
	}

	r := newRouter(log, h, m, health, promhttp.Handler())
	srv := httpserver.New(cfg.Addr, r)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting popupflow pages server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down popupflow pages server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newRouter(log *slog.Logger, h *pages.Handler, m *metrics.HTTP, health func(context.Context) error, metricsHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.Logger(log))
	r.Use(chimw.Recoverer)
	r.Use(middleware.Latency(m))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := health(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", metricsHandler)
	h.Register(r)
	return r
}

// buildStore prefers Redis and keeps slots in memory when it is not
// configured.
func buildStore(ctx context.Context, cfg config.Server, log *slog.Logger) (ports.OutcomeStore, func(context.Context) error, func(), error) {
	client, err := redis.New(ctx, cfg.Redis)
	if errors.Is(err, redis.ErrNotConfigured) {
		log.Info("redis not configured, keeping outcome slots in memory")
		return outcome.NewInMemory(), func(context.Context) error { return nil }, func() {}, nil
	}
	if err != nil {
		return nil, nil, nil, err
	}
	log.Info("outcome slots backed by redis", "ttl", cfg.OutcomeTTL)
	closeClient := func() {
		if err := client.Close(); err != nil {
			log.Warn("failed to close redis client", "error", err)
		}
	}
	return outcome.NewRedis(client.Client, outcome.WithTTL(cfg.OutcomeTTL)), client.Health, closeClient, nil
}
