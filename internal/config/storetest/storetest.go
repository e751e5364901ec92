// Package storetest provides a shared conformance test suite for
// config.Store implementations. Each backend (memory, sqlite) wires this
// suite to verify it satisfies the full Store contract.
package storetest

import (
	"context"
	"testing"

	"gastrolog/internal/config"
)

// TestStore runs the full conformance suite against a Store implementation.
// newStore must return a fresh, empty store for each sub-test.
func TestStore(t *testing.T, newStore func(t *testing.T) config.Store) {
	t.Run("LoadEmpty", func(t *testing.T) {
		s := newStore(t)
		cfg, err := s.Load(context.Background())
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg != nil {
			t.Fatalf("expected nil config from empty store, got %+v", cfg)
		}
	})

	t.Run("SaveLoadRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		want := &config.Config{
			Host:            "0.0.0.0",
			Port:            2113,
			Db:              "/var/lib/gethdb",
			ChunkSize:       1 << 20,
			MemTableMaxSize: 4096,
			SSTableMaxCount: 4,
			Compression:     true,
		}

		if err := s.Save(ctx, want); err != nil {
			t.Fatalf("Save: %v", err)
		}

		got, err := s.Load(ctx)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got == nil {
			t.Fatal("expected config, got nil")
		}
		if *got != *want {
			t.Errorf("round trip mismatch: want %+v, got %+v", want, got)
		}
	})

	t.Run("SaveUpsert", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first := &config.Config{Host: "127.0.0.1", Port: 1, Db: "in_mem"}
		if err := s.Save(ctx, first); err != nil {
			t.Fatalf("Save first: %v", err)
		}

		second := &config.Config{Host: "0.0.0.0", Port: 2, Db: "/data", Compression: true}
		if err := s.Save(ctx, second); err != nil {
			t.Fatalf("Save second: %v", err)
		}

		got, err := s.Load(ctx)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got == nil || *got != *second {
			t.Fatalf("expected %+v after upsert, got %+v", second, got)
		}
	})
}
