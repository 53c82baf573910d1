package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/searchktools/fast-httpd/config"
	"github.com/searchktools/fast-httpd/core"
	"github.com/searchktools/fast-httpd/core/observability"
	"github.com/searchktools/fast-httpd/core/pools"
	"github.com/searchktools/fast-httpd/logger"
)

// App is the application instance: the reactor engine plus the optional
// metrics listener
type App struct {
	cfg      *config.Config
	engine   *core.Engine
	registry *prometheus.Registry
}

// New creates an application instance from a validated configuration
func New(cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	metrics := observability.Noop()
	if cfg.Metrics.Enabled {
		a.registry = observability.NewRegistry()
		metrics = observability.New(a.registry)
	}

	engine, err := core.NewEngine(EngineOptions(cfg), metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	a.engine = engine

	return a, nil
}

// EngineOptions maps the server configuration onto engine options
func EngineOptions(cfg *config.Config) core.Options {
	s := cfg.Server
	return core.Options{
		Threads:           s.Threads,
		QueueCapacity:     s.QueueCapacity,
		MaxConnections:    s.MaxConnections,
		AcceptRate:        s.AcceptRate,
		AcceptBurst:       s.AcceptBurst,
		ReadBufferSize:    s.ReadBufferSize,
		WriteBufferSize:   s.WriteBufferSize,
		MaxPathLength:     s.MaxPathLength,
		MaxEvents:         s.MaxEvents,
		PollTimeout:       s.PollTimeout,
		DocumentRoot:      s.DocumentRoot,
		DetectContentType: s.DetectContentType,
		Rewrites:          s.RewriteMap(),
	}
}

// Engine returns the underlying engine
func (a *App) Engine() *core.Engine {
	return a.engine
}

// Run serves until ctx is cancelled, SIGINT or SIGTERM arrives, or a
// listener fails
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if prev := pools.ApplyGCConfig(pools.GCConfig{
		GOGC:        a.cfg.Runtime.GCPercent,
		MemoryLimit: a.cfg.Runtime.MemoryLimit,
	}); prev >= 0 {
		logger.Info("GOGC set to %d (was %d)", a.cfg.Runtime.GCPercent, prev)
	}

	g, ctx := errgroup.WithContext(ctx)

	addr := ":" + strconv.Itoa(a.cfg.Server.Port)
	g.Go(func() error {
		return a.engine.Run(ctx, addr)
	})

	if a.registry != nil {
		a.serveMetrics(ctx, g)
	}

	err := g.Wait()
	logger.Info("Server stopped\n%s", a.engine.StatsText())
	return err
}

func (a *App) serveMetrics(ctx context.Context, g *errgroup.Group) {
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, observability.Handler(a.registry))

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(a.cfg.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		logger.Info("Metrics listening on %s%s", srv.Addr, a.cfg.Metrics.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
