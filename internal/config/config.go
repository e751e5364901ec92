// Package config provides configuration persistence for the server.
//
// Store persists and reloads the desired server configuration across
// restarts. This is control-plane state, not data-plane state: it never
// sits on the append or read path.
//
// Store does not:
//   - Inspect records
//   - Perform indexing or compaction
//   - Manage process lifecycle
//   - Watch for live changes (v1 is load-on-start only)
package config

import "context"

// Store persists and loads server configuration.
//
// Config describes the desired server shape. main() loads config at
// startup, merges it with flags/environment, and constructs the engine.
// Config changes are not hot-reloaded.
//
// Store is not accessed on the append or read hot path.
type Store interface {
	// Load reads the configuration. Returns nil config if none exists.
	Load(ctx context.Context) (*Config, error)

	// Save persists the configuration.
	Save(ctx context.Context, cfg *Config) error
}

// Config describes the desired server shape. It is declarative.
type Config struct {
	// Host is the bind address for the client request surface.
	Host string

	// Port is the bind port.
	Port int

	// Db is either a filesystem directory or the literal "in_mem".
	Db string

	// ChunkSize is the WAL chunk segment size in bytes. Zero means the
	// engine default (256 MiB).
	ChunkSize uint32

	// MemTableMaxSize is the LSM active memtable size threshold in bytes
	// before a synchronous flush to level 0. Zero means the engine default.
	MemTableMaxSize uint64

	// SSTableMaxCount is the per-level SST count threshold that triggers
	// compaction into the next level. Zero means the engine default.
	SSTableMaxCount int

	// Compression enables zstd compression of the LSM index's SST files.
	// WAL chunks are never compressed.
	Compression bool
}
