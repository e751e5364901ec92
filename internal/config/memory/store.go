// Package memory provides an in-memory config.Store implementation.
// Intended for tests and for running the server against db=in_mem.
// Configuration is not persisted across restarts.
package memory

import (
	"context"
	"sync"

	"gastrolog/internal/config"
)

// Store is an in-memory config.Store implementation.
type Store struct {
	mu  sync.RWMutex
	cfg *config.Config
}

var _ config.Store = (*Store)(nil)

// NewStore creates a new in-memory config.Store.
func NewStore() *Store {
	return &Store{}
}

// Load returns a copy of the stored configuration, or nil if none was saved.
func (s *Store) Load(_ context.Context) (*config.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return nil, nil
	}
	cfg := *s.cfg
	return &cfg, nil
}

// Save replaces the stored configuration.
func (s *Store) Save(_ context.Context, cfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	saved := *cfg
	s.cfg = &saved
	return nil
}
