package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/itemstage/internal/config"
	"github.com/JonMunkholm/itemstage/internal/core"
	_ "github.com/JonMunkholm/itemstage/internal/core/tables" // Register column maps
	"github.com/JonMunkholm/itemstage/internal/database"
	"github.com/JonMunkholm/itemstage/internal/logging"
	"github.com/JonMunkholm/itemstage/internal/web"
)

// janitorInterval is how often expired import sessions are swept.
const janitorInterval = time.Minute

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	if err := run(cfg); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cm, err := core.ResolveColumnMap(cfg.Import.ColumnMapFile, cfg.Import.ColumnMapVersion)
	if err != nil {
		return err
	}

	pool, err := connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := database.New(pool, database.Tables{
		Staging:     cfg.Tables.Staging,
		Production:  cfg.Tables.Production,
		Identifiers: cfg.Tables.Identifiers,
	})

	service, err := core.NewService(store, cm, core.ServiceOptions{
		BatchSize:    cfg.Import.BatchSize,
		PreviewSize:  cfg.Import.PreviewSize,
		WriterWait:   cfg.Import.WriterWait,
		StageTimeout: cfg.Import.StageTimeout,
		ApplyTimeout: cfg.Import.ApplyTimeout,
		SessionTTL:   cfg.Import.SessionTTL,
	})
	if err != nil {
		return err
	}
	slog.Info("column map loaded", "version", cm.Version, "columns", len(cm.Columns))

	server := web.NewServer(service, web.OptionsFromConfig(cfg))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return service.RunJanitor(gctx, janitorInterval)
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Let a running stage or apply finish before the pool closes.
		if service.Gate().Busy() {
			slog.Info("waiting for staging writer", "holder", service.Gate().Status().Holder)
			if err := service.Drain(shutdownCtx); err != nil {
				slog.Warn("writer did not finish in time", "error", err)
			}
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("server stopped")
	return nil
}

func connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}
	return pool, nil
}
