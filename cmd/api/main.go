package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"petition/api/internal/app"
	"petition/api/internal/cache"
	"petition/api/internal/config"
	"petition/api/internal/filter"
	"petition/api/internal/form"
	"petition/api/internal/petition"
	"petition/api/internal/remote"
	"petition/api/internal/store"
)

func main() {
	cliApp := &cli.App{
		Name:  "petition-api",
		Usage: "Petition page and signature submission API",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
		},
		Action: serveCommand,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP server",
				Action: serveCommand,
			},
			{
				Name:  "migrate",
				Usage: "Apply database migrations and exit",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "List pending migrations without running them",
					},
				},
				Action: migrateCommand,
			},
			{
				Name:  "check",
				Usage: "Run the handle validator against a draft without submitting it",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "handle",
						Usage:    "Handle as typed by a visitor",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "comment",
						Usage: "Optional comment",
					},
				},
				Action: checkCommand,
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newLogger(c *cli.Context) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if c.Bool("verbose") {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

func serveCommand(c *cli.Context) error {
	logger, err := newLogger(c)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	ctx := context.Background()

	data, err := petition.Load(cfg.PetitionFile)
	if err != nil {
		return fmt.Errorf("petition content: %w", err)
	}

	backend, cleanup, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	service, err := app.New(cfg, backend, data, logger)
	if err != nil {
		return fmt.Errorf("service setup: %w", err)
	}
	defer service.Close()

	if err := service.Bootstrap(ctx); err != nil {
		logger.Warn("bootstrap error", zap.Error(err))
	}

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go service.RunSweeper(sweepCtx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("petition API listening",
			zap.String("addr", cfg.Addr),
			zap.String("backend", cfg.Backend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	return nil
}

// openBackend builds the configured commit backend, wrapped in the Redis list
// cache when REDIS_URL is set. The returned cleanup releases every connection.
func openBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (remote.Committer, func(), error) {
	var (
		backend remote.Committer
		closers []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.Backend {
	case config.BackendMemory:
		backend = remote.NewMemory(logger)
	case config.BackendPostgres:
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, cleanup, fmt.Errorf("database connection failed: %w", err)
		}
		closers = append(closers, func() { _ = db.Close() })
		applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
		if err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("migrations failed: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("migrations applied", zap.Strings("files", applied))
		}
		backend = store.NewPostgresStore(db)
	case config.BackendREST:
		if strings.TrimSpace(cfg.RESTURL) == "" {
			return nil, cleanup, errors.New("PETITION_REST_URL is required for the rest backend")
		}
		backend = remote.NewREST(cfg.RESTURL, cfg.RESTKey, nil, logger)
	default:
		return nil, cleanup, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := cache.NewRedisStore(cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("redis connection failed: %w", err)
		}
		closers = append(closers, func() { _ = redisStore.Close() })
		logger.Info("signature list cache enabled", zap.Duration("ttl", cfg.CacheTTL))
		backend = remote.NewCached(backend, redisStore, logger)
	}
	return backend, cleanup, nil
}

func migrateCommand(c *cli.Context) error {
	logger, err := newLogger(c)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	db, err := store.Open(c.Context, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if c.Bool("dry-run") {
		pending, err := store.PendingMigrations(c.Context, db, cfg.MigrationsDir)
		if err != nil {
			return err
		}
		for _, file := range pending {
			fmt.Fprintln(c.App.Writer, file)
		}
		return nil
	}

	applied, err := store.ApplyMigrations(c.Context, db, cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	logger.Info("migrations applied",
		zap.String("dir", cfg.MigrationsDir),
		zap.Strings("files", applied),
	)
	return nil
}

func checkCommand(c *cli.Context) error {
	cfg := config.Load()
	canonical, failure := form.Check(c.String("handle"), c.String("comment"), filter.New(cfg.Denylist))
	if failure != nil {
		return cli.Exit(failure.Message(), 1)
	}
	fmt.Fprintln(c.App.Writer, canonical)
	return nil
}
