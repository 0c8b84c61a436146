// Package senro is the public API for embedding the Senro trace server.
//
// Consumers who want the collector inside a larger binary construct and run
// it without forking:
//
//	app, err := senro.New(
//	    senro.WithVersion(version),
//	    senro.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: senro (root) imports
// internal/*, but internal/* never imports senro (root).
package senro

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/senro/internal/auth"
	"github.com/ashita-ai/senro/internal/config"
	"github.com/ashita-ai/senro/internal/localdb"
	"github.com/ashita-ai/senro/internal/server"
	"github.com/ashita-ai/senro/internal/storage"
	"github.com/ashita-ai/senro/internal/summary"
	"github.com/ashita-ai/senro/internal/telemetry"
	"github.com/ashita-ai/senro/migrations"
)

// spanStore is the full store surface the app wires: the read side for the
// API handlers plus the write side for the summary persister. Both the
// Postgres and SQLite stores satisfy it.
type spanStore interface {
	server.SpanStore
	summary.Store
}

// App is the Senro server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	store        spanStore
	closeStore   func()
	srv          *http.Server
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the Senro server. It loads configuration, opens the span
// store, runs migrations, and wires all subsystems. It does NOT start any
// goroutines or accept HTTP connections; call Run() for that.
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.localDBPath != "" {
		cfg.LocalDBPath = o.localDBPath
	}

	logger := o.logger
	if logger == nil {
		level := slog.LevelInfo
		if cfg.LogLevel == "debug" {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}

	version := o.version
	if version == "" {
		version = "dev"
	}

	ctx := context.Background()

	// The service's own telemetry. Ingested spans travel a separate path
	// and never touch this pipeline.
	otelShutdown, err := telemetry.Init(ctx, telemetry.Options{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	app := &App{
		cfg:          cfg,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}

	// Postgres when a DATABASE_URL is configured, local SQLite otherwise.
	var ping func(ctx context.Context) error
	if cfg.DatabaseURL != "" {
		db, err := storage.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("storage: %w", err)
		}
		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			db.Close()
			app.close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		app.store = db
		app.closeStore = db.Close
		ping = db.Ping
		logger.Info("storage: postgres")
	} else {
		local, err := localdb.Open(ctx, cfg.LocalDBPath, logger)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("localdb: %w", err)
		}
		app.store = local
		app.closeStore = func() { _ = local.Close() }
		logger.Info("storage: local sqlite", "path", cfg.LocalDBPath)
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("auth: %w", err)
	}

	var ingestKeyHash string
	if cfg.AdminIngestKey != "" {
		ingestKeyHash, err = auth.HashIngestKey(cfg.AdminIngestKey)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("auth: hash ingest key: %w", err)
		}
	} else {
		logger.Warn("no SENRO_ADMIN_INGEST_KEY configured, /auth/token is disabled")
	}

	var persister *summary.Persister
	if cfg.SummaryEnabled {
		persister = summary.NewPersister(summary.StaticResolver{Store: app.store}, logger)
	} else {
		logger.Info("summary mirroring: disabled")
	}

	app.srv = server.New(server.ServerConfig{
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}, &server.HandlersDeps{
		Store:         app.store,
		Persister:     persister,
		JWTMgr:        jwtMgr,
		Logger:        logger,
		IngestKeyHash: ingestKeyHash,
		MaxBodyBytes:  cfg.MaxRequestBodyBytes,
		Ping:          ping,
	})

	return app, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails, then shuts everything down gracefully.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	a.logger.Info("senro starting", "version", a.version, "port", a.cfg.Port)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server listening", "addr", a.srv.Addr)
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		a.logger.Info("senro shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info("senro stopped")
	return nil
}

func (a *App) close() {
	if a.closeStore != nil {
		a.closeStore()
		a.closeStore = nil
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
		a.otelShutdown = nil
	}
}
