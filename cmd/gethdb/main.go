// Command gethdb runs the event-store engine as a standalone server.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"time"

	"gastrolog/internal/config"
	configmem "gastrolog/internal/config/memory"
	configsqlite "gastrolog/internal/config/sqlite"
	"gastrolog/internal/engine"
	"gastrolog/internal/logging"
	"gastrolog/internal/storage"
	storagefile "gastrolog/internal/storage/file"
	storagemem "gastrolog/internal/storage/memory"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug, // allow all levels; filtering done by ComponentFilterHandler
	})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	rootCmd := &cobra.Command{
		Use:   "gethdb",
		Short: "GethDB event-store engine",
	}

	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Start the GethDB server",
		RunE: func(cmd *cobra.Command, args []string) error {
			host, _ := cmd.Flags().GetString("host")
			port, _ := cmd.Flags().GetInt("port")
			db, _ := cmd.Flags().GetString("db")
			configType, _ := cmd.Flags().GetString("config-type")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			return run(ctx, logger, configType, host, port, db)
		},
	}

	serverCmd.Flags().String("host", "", "bind host (env GETH_HOST, default localhost)")
	serverCmd.Flags().Int("port", 0, "bind port (env GETH_PORT, default 4565)")
	serverCmd.Flags().String("db", "", "database directory, or in_mem (env GETH_DB, default in_mem)")
	serverCmd.Flags().String("config-type", "sqlite", "config store type: sqlite or memory")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(serverCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// run resolves the effective configuration, boots storage and the engine,
// binds the client request listener, and blocks until ctx is cancelled.
func run(ctx context.Context, logger *slog.Logger, configType, hostFlag string, portFlag int, dbFlag string) error {
	cfgStore, err := openConfigStore(configType)
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	if closer, ok := cfgStore.(interface{ Close() error }); ok {
		defer func() { _ = closer.Close() }()
	}

	cfg, err := ensureConfig(ctx, cfgStore)
	if err != nil {
		return err
	}

	applyOverrides(cfg, hostFlag, portFlag, dbFlag)

	if err := cfgStore.Save(ctx, cfg); err != nil {
		logger.Warn("failed to persist effective config", "err", err)
	}

	if sqliteStore, ok := cfgStore.(*configsqlite.Store); ok {
		if err := sqliteStore.Watch(ctx, logger, func() {
			logger.Info("config file changed on disk; restart to pick up the new settings")
		}); err != nil {
			logger.Warn("failed to watch config file", "err", err)
		}
	}

	store, closeStore, err := openStorage(cfg, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer closeStore()

	eng, err := engine.Open(ctx, cfg, store, logger, nil)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}
	logger.Info("gethdb listening", "addr", addr, "db", cfg.Db)

	return serveAndAwaitShutdown(ctx, logger, eng, listener)
}

// ensureConfig loads the persisted configuration, falling back to package
// defaults if none has been saved yet.
func ensureConfig(ctx context.Context, cfgStore config.Store) (*config.Config, error) {
	cfg, err := cfgStore.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg == nil {
		cfg = &config.Config{Host: "localhost", Port: 4565, Db: "in_mem"}
	}
	return cfg, nil
}

// applyOverrides layers flag values, then environment variables, over the
// loaded configuration; an empty flag defers to GETH_HOST/GETH_PORT/GETH_DB,
// which in turn default to whatever was already loaded.
func applyOverrides(cfg *config.Config, hostFlag string, portFlag int, dbFlag string) {
	if hostFlag != "" {
		cfg.Host = hostFlag
	} else if v := os.Getenv("GETH_HOST"); v != "" {
		cfg.Host = v
	}

	if portFlag != 0 {
		cfg.Port = portFlag
	} else if v := os.Getenv("GETH_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}

	if dbFlag != "" {
		cfg.Db = dbFlag
	} else if v := os.Getenv("GETH_DB"); v != "" {
		cfg.Db = v
	}
}

// openConfigStore constructs the config.Store named by configType. The
// sqlite store's database is opened from a fixed well-known path relative
// to the working directory, not derived from cfg.Db (which may be in_mem).
func openConfigStore(configType string) (config.Store, error) {
	switch configType {
	case "memory":
		return configmem.NewStore(), nil
	case "sqlite":
		return configsqlite.NewStore("gethdb.config.db")
	default:
		return nil, fmt.Errorf("unknown config store type: %q", configType)
	}
}

// openStorage opens the storage backend named by cfg.Db ("in_mem" or a
// filesystem directory), returning a close function that is a no-op for
// the in-memory backend.
func openStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, func(), error) {
	if cfg.Db == "" || cfg.Db == "in_mem" {
		return storagemem.New(), func() {}, nil
	}

	fileStore, err := storagefile.NewStorage(storagefile.Config{Dir: cfg.Db, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	return fileStore, func() { _ = fileStore.Close() }, nil
}

// serveAndAwaitShutdown accepts connections on listener until ctx is
// cancelled, then shuts the engine and listener down. The wire protocol
// itself is a black-box collaborator not implemented here; this loop only
// proves the bind/accept surface the CLI contract describes.
func serveAndAwaitShutdown(ctx context.Context, logger *slog.Logger, eng *engine.Engine, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			logger.Debug("accepted connection", "remote", conn.RemoteAddr())
			_ = conn.Close()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := eng.Close(shutdownCtx); err != nil {
		return fmt.Errorf("shut down engine: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
