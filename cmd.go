package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"dozenflow-api/api"
	"dozenflow-api/config"
	"dozenflow-api/domain"
	"dozenflow-api/logging"
	"dozenflow-api/storage"
)

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "dozenflow-api",
		Short:        "Kanban task board HTTP API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "TOML config file (defaults to $"+config.EnvConfigFile+")")

	cmd.AddCommand(serveCmd(&configPath), initStorageCmd(&configPath))
	return cmd
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the task API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func initStorageCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init-storage",
		Short: "Create the tasks schema, table and event queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closeLog, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer closeLog()
			return initStorage(cmd.Context(), cfg, logger)
		},
	}
}

func setup(configPath string) (config.Config, *log.Logger, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	logger, closer, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
		Debug:  cfg.Debug,
	})
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	return cfg, logger, func() { _ = closer.Close() }, nil
}

func runServe(ctx context.Context, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, closeLog, err := setup(configPath)
	if err != nil {
		return err
	}
	defer closeLog()

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Error("storage setup failed")
		return err
	}
	defer b.Close(logger)

	auth, err := api.NewAuthFromConfig(cfg.Auth)
	if err != nil {
		return err
	}
	var authn api.Authenticator
	if auth != nil {
		authn = auth
	}

	board := domain.NewBoard(boardStatuses(cfg.Board.Statuses))
	svc := domain.NewTaskService(b.store, board, b.events, logger)
	e := api.NewServer(svc, authn, api.ServerOptions{
		CORSOrigins: cfg.Server.CORSOrigins,
		Statuses:    board.Statuses(),
		Idempotency: b.idem,
		Debug:       cfg.Debug,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		logger.WithFields(log.Fields{
			"addr":    cfg.Server.Addr,
			"storage": cfg.Storage.Driver,
			"auth":    cfg.Auth.Mode,
		}).Info("dozenflow-api listening")
		if err := e.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-sigCtx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// backend groups the storage side collaborators built from config.
type backend struct {
	store   domain.TaskStorage
	events  domain.EventPublisher
	idem    api.IdempotencyStore
	closers []func() error
}

func (b *backend) Close(logger *log.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			logger.WithError(err).Warn("close storage")
		}
	}
}

func openBackend(ctx context.Context, cfg config.Config, logger *log.Logger) (*backend, error) {
	b := &backend{}
	fail := func(err error) (*backend, error) {
		b.Close(logger)
		return nil, err
	}

	switch cfg.Storage.Driver {
	case config.DriverSQLite, config.DriverPostgres:
		store, err := storage.OpenSQL(cfg.Storage.Driver, cfg.Storage.DSN, logger)
		if err != nil {
			return fail(err)
		}
		b.closers = append(b.closers, store.Close)
		if cfg.Storage.AutoMigrate {
			if err := store.Migrate(ctx); err != nil {
				return fail(fmt.Errorf("migrate: %w", err))
			}
		}
		b.store = store
	case config.DriverTables:
		store, err := storage.NewTableStore(cfg.Storage.ConnectionString, cfg.Storage.TasksTable)
		if err != nil {
			return fail(err)
		}
		b.store = store
	default:
		return fail(fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver))
	}

	if cfg.Cache.Redis != "" {
		rc := redis.NewClient(parseRedisOptions(cfg.Cache.Redis))
		b.closers = append(b.closers, rc.Close)
		b.store = storage.NewCache(b.store, rc, cfg.Cache.TTL.Duration)
		b.idem = api.NewRedisDeduper(rc, cfg.Cache.IdempotencyTTL.Duration)
	}

	if cfg.Events.Queue != "" {
		pub, err := storage.NewQueuePublisher(cfg.Storage.ConnectionString, cfg.Events.Queue, logger)
		if err != nil {
			return fail(err)
		}
		b.events = pub
	}
	return b, nil
}

func initStorage(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	switch cfg.Storage.Driver {
	case config.DriverSQLite, config.DriverPostgres:
		store, err := storage.OpenSQL(cfg.Storage.Driver, cfg.Storage.DSN, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.WithField("driver", cfg.Storage.Driver).Info("schema migrated")
	case config.DriverTables:
		if err := storage.CreateTables(ctx, cfg.Storage.ConnectionString, []string{cfg.Storage.TasksTable}); err != nil {
			return err
		}
		logger.WithField("table", cfg.Storage.TasksTable).Info("table ready")
	}

	if cfg.Events.Queue != "" {
		if err := storage.CreateQueues(ctx, cfg.Storage.ConnectionString, []string{cfg.Events.Queue}); err != nil {
			return err
		}
		logger.WithField("queue", cfg.Events.Queue).Info("queue ready")
	}
	return nil
}

// parseRedisOptions accepts a redis:// URL or the Azure style
// "host:port,password=...,ssl=True" connection string.
func parseRedisOptions(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts
}

func boardStatuses(names []string) []domain.Status {
	out := make([]domain.Status, 0, len(names))
	for _, n := range names {
		out = append(out, domain.Status(n))
	}
	return out
}
