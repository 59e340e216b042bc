package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"EnrichmentRelay/internal/config"
	"EnrichmentRelay/internal/infrastructure/httpapi"
	"EnrichmentRelay/internal/infrastructure/storage"
	"EnrichmentRelay/internal/infrastructure/upstream"
	"EnrichmentRelay/internal/logging"
	"EnrichmentRelay/internal/metrics"
	"EnrichmentRelay/internal/phase"
	"EnrichmentRelay/internal/usecase"
)

// Application wires configs to the relay and owns its lifecycle.
type Application struct {
	cfg        config.Config
	logger     *slog.Logger
	db         *sql.DB
	dispatcher *usecase.Dispatcher
	server     *http.Server
}

// New opens the profile store and builds the relay's HTTP server.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	db, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open profile store: %w", err)
	}
	repo, err := storage.NewProfileRepository(db, cfg.Database.Driver)
	if err != nil {
		db.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector()
	registry.MustRegister(
		collector,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	dispatcher := usecase.NewDispatcher(usecase.DispatcherDeps{
		Sink:         usecase.NewPersistenceSink(phase.DefaultRegistry(), repo, time.Now),
		Logger:       baseLogger.With("component", "persistence"),
		Metrics:      collector,
		MaxInFlight:  cfg.Persistence.MaxInFlight,
		WriteTimeout: cfg.Persistence.WriteTimeout,
	})

	relay := usecase.NewRelay(usecase.RelayDeps{
		Source:     upstream.NewClient(cfg.Upstream, nil),
		Dispatcher: dispatcher,
		Logger:     baseLogger.With("component", "relay"),
		Metrics:    collector,
		Timeout:    cfg.Upstream.Timeout,
	})

	router := httpapi.NewRouter(httpapi.HandlerDeps{
		Relay:    relay,
		Gatherer: registry,
		Logger:   baseLogger.With("component", "http"),
	})

	return &Application{
		cfg:        cfg,
		logger:     baseLogger,
		db:         db,
		dispatcher: dispatcher,
		server: &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run serves until ctx is cancelled, then drains streams and pending writes.
func (a *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		a.db.Close()
		return fmt.Errorf("listen %s: %w", a.server.Addr, err)
	}
	return a.serve(ctx, ln)
}

func (a *Application) serve(ctx context.Context, ln net.Listener) error {
	defer a.db.Close()

	a.server.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("relay listening", "addr", ln.Addr().String())
		errCh <- a.server.Serve(ln)
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("shutdown incomplete", "error", err)
		}
		cancel()
	}

	a.dispatcher.Close()
	a.logger.Info("relay stopped")
	return serveErr
}
