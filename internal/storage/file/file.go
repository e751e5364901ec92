// Package file provides a filesystem-backed Storage implementation.
// Each FileID maps to one file in a directory; writes go through
// os.File.WriteAt (positional pwrite) and are fsynced on Sync.
package file

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"gastrolog/internal/gethdb"
	"gastrolog/internal/logging"
	"gastrolog/internal/storage"

	"github.com/google/uuid"
)

const lockFileName = ".lock"

// Storage is a filesystem-backed storage.Storage. One Storage owns one
// directory; NewStorage takes an exclusive advisory lock on it so two
// processes never open the same database concurrently.
type Storage struct {
	mu       sync.Mutex
	dir      string
	lockFile *os.File
	handles  map[storage.FileID]*os.File
	logger   *slog.Logger
}

var _ storage.Storage = (*Storage)(nil)

// Config configures a filesystem Storage.
type Config struct {
	Dir    string
	Logger *slog.Logger
}

// NewStorage opens (creating if necessary) a directory-backed Storage.
func NewStorage(cfg Config) (*Storage, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	lockPath := filepath.Join(cfg.Dir, lockFileName)
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		lockFile.Close()
		return nil, fmt.Errorf("lock storage directory %s: %w", cfg.Dir, err)
	}

	logger := logging.Default(cfg.Logger).With("component", "storage/file")
	logger.Info("opened storage directory", "dir", cfg.Dir)

	return &Storage{
		dir:      cfg.Dir,
		lockFile: lockFile,
		handles:  make(map[storage.FileID]*os.File),
		logger:   logger,
	}, nil
}

// Close releases the directory lock and closes all open file handles.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, f := range s.handles {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.handles = make(map[storage.FileID]*os.File)

	syscall.Flock(int(s.lockFile.Fd()), syscall.LOCK_UN)
	if err := s.lockFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (s *Storage) path(id storage.FileID) string {
	return filepath.Join(s.dir, id.Name())
}

// handle returns the open *os.File for id, opening (and creating) it on
// first use. Caller must hold s.mu.
func (s *Storage) handle(id storage.FileID) (*os.File, error) {
	if f, ok := s.handles[id]; ok {
		return f, nil
	}
	f, err := os.OpenFile(s.path(id), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	s.handles[id] = f
	return f, nil
}

func (s *Storage) WriteAt(_ context.Context, id storage.FileID, offset int64, b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.handle(id)
	if err != nil {
		return &gethdb.IOError{Op: "write_at open", Err: err}
	}
	if _, err := f.WriteAt(b, offset); err != nil {
		return &gethdb.IOError{Op: "write_at", Err: err}
	}
	return nil
}

func (s *Storage) Append(_ context.Context, id storage.FileID, b []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.handle(id)
	if err != nil {
		return 0, &gethdb.IOError{Op: "append open", Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		return 0, &gethdb.IOError{Op: "append stat", Err: err}
	}
	offset := info.Size()
	if _, err := f.WriteAt(b, offset); err != nil {
		return 0, &gethdb.IOError{Op: "append", Err: err}
	}
	return offset, nil
}

func (s *Storage) ReadAt(_ context.Context, id storage.FileID, offset int64, b []byte) error {
	s.mu.Lock()
	f, err := s.handle(id)
	s.mu.Unlock()
	if err != nil {
		return &gethdb.IOError{Op: "read_at open", Err: err}
	}

	if _, err := f.ReadAt(b, offset); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return storage.ErrShortRead
		}
		return &gethdb.IOError{Op: "read_at", Err: err}
	}
	return nil
}

func (s *Storage) ReadAll(ctx context.Context, id storage.FileID) ([]byte, error) {
	n, err := s.Len(ctx, id)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if err := s.ReadAt(ctx, id, 0, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *Storage) Len(_ context.Context, id storage.FileID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.handle(id)
	if err != nil {
		return 0, &gethdb.IOError{Op: "len open", Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		return 0, &gethdb.IOError{Op: "len stat", Err: err}
	}
	return info.Size(), nil
}

func (s *Storage) Exists(_ context.Context, id storage.FileID) (bool, error) {
	_, err := os.Stat(s.path(id))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, &gethdb.IOError{Op: "exists", Err: err}
	}
	return true, nil
}

func (s *Storage) Remove(_ context.Context, id storage.FileID) error {
	s.mu.Lock()
	if f, ok := s.handles[id]; ok {
		f.Close()
		delete(s.handles, id)
	}
	s.mu.Unlock()

	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return &gethdb.IOError{Op: "remove", Err: err}
	}
	return nil
}

func (s *Storage) List(_ context.Context, category storage.Category) ([]storage.FileID, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, &gethdb.IOError{Op: "list", Err: err}
	}

	var ids []storage.FileID
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch category {
		case storage.CategoryChunk:
			if id, ok := parseChunkFileName(name); ok {
				ids = append(ids, id)
			}
		case storage.CategorySST:
			if id, ok := parseUUID(name); ok {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

func (s *Storage) Sync(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, f := range s.handles {
		if err := f.Sync(); err != nil {
			return &gethdb.IOError{Op: "sync " + id.Name(), Err: err}
		}
	}
	return nil
}

func parseChunkFileName(name string) (storage.FileID, bool) {
	if !strings.HasPrefix(name, "chunk-") {
		return storage.FileID{}, false
	}
	rest := strings.TrimPrefix(name, "chunk-")
	parts := strings.SplitN(rest, ".", 2)
	if len(parts) != 2 {
		return storage.FileID{}, false
	}
	num, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return storage.FileID{}, false
	}
	ver, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return storage.FileID{}, false
	}
	return storage.ChunkFileID(uint32(num), uint32(ver)), true
}

func parseUUID(name string) (storage.FileID, bool) {
	id, err := uuid.Parse(name)
	if err != nil {
		return storage.FileID{}, false
	}
	return storage.SSTID(id), true
}
