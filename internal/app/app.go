// Package app wires all Neda subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithOrgReader, WithProvider, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/neda-ai/neda/internal/briefing"
	"github.com/neda-ai/neda/internal/config"
	"github.com/neda-ai/neda/internal/health"
	"github.com/neda-ai/neda/internal/observe"
	"github.com/neda-ai/neda/internal/relay"
	"github.com/neda-ai/neda/internal/store"
	"github.com/neda-ai/neda/internal/store/postgres"
	"github.com/neda-ai/neda/pkg/provider/s2s"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// App owns all subsystem lifetimes and serves the live voice bridge.
type App struct {
	cfg *config.Config

	// Subsystems — initialised in New, torn down in Shutdown.
	reader   store.OrgReader
	pinger   health.Pinger
	provider s2s.Provider
	metrics  *observe.Metrics
	server   *http.Server

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithOrgReader injects an organizational data reader instead of connecting
// to PostgreSQL from config.
func WithOrgReader(r store.OrgReader) Option {
	return func(a *App) { a.reader = r }
}

// WithProvider injects an upstream provider instead of creating one via the
// config registry.
func WithProvider(p s2s.Provider) Option {
	return func(a *App) { a.provider = p }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together: telemetry, the
// organizational data store, the upstream provider, and the HTTP surface
// (live websocket, health probes, Prometheus metrics).
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	// ── 2. Organizational data store ─────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 3. Upstream provider ──────────────────────────────────────────────
	if err := a.initProvider(); err != nil {
		return nil, fmt.Errorf("app: init provider: %w", err)
	}

	// ── 4. HTTP surface ──────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initTelemetry sets up the OTel providers and the metrics instruments.
func (a *App) initTelemetry(ctx context.Context) error {
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: Version,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, shutdown)

	m, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return err
	}
	a.metrics = m
	return nil
}

// initStore connects the PostgreSQL reader or uses an injected one. With no
// DSN configured the server runs without organizational context and sessions
// get the default persona only.
func (a *App) initStore(ctx context.Context) error {
	if a.reader != nil {
		if p, ok := a.reader.(health.Pinger); ok {
			a.pinger = p
		}
		return nil
	}

	dsn := a.cfg.Database.PostgresDSN
	if dsn == "" {
		slog.Warn("no database configured; sessions run without organizational context")
		return nil
	}

	r, err := postgres.NewReader(ctx, dsn)
	if err != nil {
		return err
	}
	a.reader = r
	a.pinger = r
	a.closers = append(a.closers, func(context.Context) error {
		r.Close()
		return nil
	})
	slog.Info("connected to organizational data store")
	return nil
}

// initProvider creates the upstream provider named in config unless one was
// injected.
func (a *App) initProvider() error {
	if a.provider != nil {
		return nil
	}
	p, err := config.DefaultRegistry().Create(a.cfg.Provider)
	if err != nil {
		return err
	}
	a.provider = p
	slog.Info("provider created", "name", a.cfg.Provider.Name)
	return nil
}

// initHTTP assembles the mux and the http.Server.
func (a *App) initHTTP() {
	relaySrv := &relay.Server{
		ProviderName:   a.cfg.Provider.Name,
		Provider:       a.provider,
		Instructions:   a.instructionSource(),
		Metrics:        a.metrics,
		OriginPatterns: a.cfg.Server.AllowedOrigins,
	}

	checkers := []health.Checker{
		{Name: "provider", Check: func(context.Context) error {
			if a.provider == nil {
				return errors.New("no upstream provider configured")
			}
			return nil
		}},
	}
	if a.pinger != nil {
		checkers = append(checkers, health.Database(a.pinger))
	}

	mux := http.NewServeMux()
	mux.Handle("/live", relaySrv)
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(checkers...).Register(mux)

	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	a.server = &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// instructionSource returns the per-session instruction builder: the full
// organizational briefing when a data store is available, otherwise the
// default persona with empty context.
func (a *App) instructionSource() relay.InstructionSource {
	if a.reader != nil {
		return briefing.NewAssembler(a.reader)
	}
	static := briefing.Format(&briefing.Briefing{})
	return relay.InstructionsFunc(func(context.Context) (string, error) {
		return static, nil
	})
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled or the listener fails. On
// cancellation it returns ctx.Err(); callers should follow up with Shutdown.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	}
}

// Handler exposes the assembled HTTP handler. Used by tests to drive the
// server through httptest without binding a port.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server and tears down all subsystems in init order.
// It respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(ctx); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
