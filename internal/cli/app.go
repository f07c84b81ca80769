// Package cli implements itemctl, the command line front end to the import
// pipeline. It drives core.Service directly, without sessions.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/itemstage/internal/config"
	"github.com/JonMunkholm/itemstage/internal/core"
	"github.com/JonMunkholm/itemstage/internal/database"
	"github.com/JonMunkholm/itemstage/internal/logging"
)

// App holds what the commands share: configuration, the column map and a
// lazily opened service.
type App struct {
	getenv func(string) string
	stderr io.Writer

	// set from persistent flags
	databaseURL string
	logLevel    string
	output      string

	cfg    *config.Config
	cm     core.ColumnMap
	format Format

	store   core.Store
	pool    *pgxpool.Pool
	service *core.Service
}

// Option configures an App.
type Option func(*App)

// WithStore makes the App use store instead of connecting to Postgres.
func WithStore(store core.Store) Option {
	return func(a *App) { a.store = store }
}

// WithEnv replaces os.Getenv as the configuration source.
func WithEnv(getenv func(string) string) Option {
	return func(a *App) { a.getenv = getenv }
}

// WithStderr sends logs and progress to w.
func WithStderr(w io.Writer) Option {
	return func(a *App) { a.stderr = w }
}

// New creates an App.
func New(opts ...Option) *App {
	a := &App{getenv: os.Getenv, stderr: os.Stderr}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Execute runs the command line in args.
func (a *App) Execute(ctx context.Context, args []string, stdout io.Writer) error {
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(a.stderr)
	defer a.Close()
	return root.ExecuteContext(ctx)
}

// Close releases the database pool, if one was opened.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

// setup runs before every command: it loads configuration, points logging
// at stderr and resolves the column map.
func (a *App) setup(cmd *cobra.Command, _ []string) error {
	getenv := a.getenv
	if a.databaseURL != "" {
		getenv = func(key string) string {
			if key == "DATABASE_URL" {
				return a.databaseURL
			}
			return a.getenv(key)
		}
	}

	cfg, err := config.LoadFrom(getenv)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := cfg.Logging.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	slog.SetDefault(logging.New(a.stderr, level, cfg.Logging.Format))

	if a.format, err = ParseFormat(a.output); err != nil {
		return err
	}

	a.cm, err = core.ResolveColumnMap(cfg.Import.ColumnMapFile, cfg.Import.ColumnMapVersion)
	return err
}

// Service returns the import service, connecting to Postgres on first use.
func (a *App) Service(ctx context.Context) (*core.Service, error) {
	if a.service != nil {
		return a.service, nil
	}

	store := a.store
	if store == nil {
		pool, err := a.connect(ctx)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		store = database.New(pool, database.Tables{
			Staging:     a.cfg.Tables.Staging,
			Production:  a.cfg.Tables.Production,
			Identifiers: a.cfg.Tables.Identifiers,
		})
	}

	svc, err := core.NewService(store, a.cm, core.ServiceOptions{
		BatchSize:    a.cfg.Import.BatchSize,
		PreviewSize:  a.cfg.Import.PreviewSize,
		WriterWait:   a.cfg.Import.WriterWait,
		StageTimeout: a.cfg.Import.StageTimeout,
		ApplyTimeout: a.cfg.Import.ApplyTimeout,
	})
	if err != nil {
		return nil, err
	}
	a.service = svc
	return svc, nil
}

func (a *App) connect(ctx context.Context) (*pgxpool.Pool, error) {
	db := a.cfg.Database
	poolConfig, err := pgxpool.ParseConfig(db.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	// One command runs one operation at a time.
	poolConfig.MaxConns = int32(min(db.MaxConns, 4))
	poolConfig.MinConns = 0

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// print writes a command result to the command's stdout.
func (a *App) print(cmd *cobra.Command, v any, table func() Table) error {
	return write(cmd.OutOrStdout(), a.format, v, table)
}
