// Package sqlite provides a SQLite-based config.Store implementation.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/fsnotify/fsnotify"

	"gastrolog/internal/config"
	"gastrolog/internal/logging"
)

// Store is a SQLite-based config.Store implementation. The settings table
// holds a single row (id=1): server config is not multi-tenant.
type Store struct {
	db   *sql.DB
	path string
}

var _ config.Store = (*Store)(nil)

// NewStore opens a SQLite database at path and runs migrations.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create config directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Watch watches the config file's directory and calls onExternalChange
// whenever the database file itself is written or replaced out-of-band
// (e.g. an operator dropping in a new file). Config is load-on-start only
// (see package doc); this never reloads automatically, it only lets the
// caller log a hint that a restart would pick up the new file. Watch runs
// until ctx is cancelled.
func (s *Store) Watch(ctx context.Context, logger *slog.Logger, onExternalChange func()) error {
	logger = logging.Default(logger).With("component", "config/sqlite")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config file watcher: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config directory %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(s.path)
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				logger.Info("config file changed on disk outside this process", "path", ev.Name, "op", ev.Op.String())
				if onExternalChange != nil {
					onExternalChange()
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config file watcher error", "err", werr)
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads the configuration. Returns nil if the settings row doesn't exist.
func (s *Store) Load(ctx context.Context) (*config.Config, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT host, port, db, chunk_size, mem_table_max_size, sstable_max_count, compression
		FROM settings WHERE id = 1`)

	var cfg config.Config
	var compression int
	err := row.Scan(&cfg.Host, &cfg.Port, &cfg.Db, &cfg.ChunkSize, &cfg.MemTableMaxSize, &cfg.SSTableMaxCount, &compression)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan settings: %w", err)
	}
	cfg.Compression = compression != 0
	return &cfg, nil
}

// Save persists the configuration, replacing any prior settings row.
func (s *Store) Save(ctx context.Context, cfg *config.Config) error {
	compression := 0
	if cfg.Compression {
		compression = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (id, host, port, db, chunk_size, mem_table_max_size, sstable_max_count, compression)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			host = excluded.host,
			port = excluded.port,
			db = excluded.db,
			chunk_size = excluded.chunk_size,
			mem_table_max_size = excluded.mem_table_max_size,
			sstable_max_count = excluded.sstable_max_count,
			compression = excluded.compression`,
		cfg.Host, cfg.Port, cfg.Db, cfg.ChunkSize, cfg.MemTableMaxSize, cfg.SSTableMaxCount, compression)
	if err != nil {
		return fmt.Errorf("upsert settings: %w", err)
	}
	return nil
}
