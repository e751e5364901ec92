package wal

import (
	"context"
	"encoding/binary"
	"errors"

	"gastrolog/internal/storage"
)

// ReadCheckpoint reads an 8-byte little-endian u64 checkpoint file. A
// missing checkpoint reads as 0, matching the WAL's boot behavior.
func ReadCheckpoint(ctx context.Context, s storage.Storage, kind storage.CheckpointKind) (uint64, error) {
	id := storage.CheckpointID(kind)
	exists, err := s.Exists(ctx, id)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}
	buf, err := s.ReadAll(ctx, id)
	if err != nil {
		var nf *storage.NotFoundError
		if errors.As(err, &nf) {
			return 0, nil
		}
		return 0, err
	}
	if len(buf) < 8 {
		return 0, nil
	}
	return binary.LittleEndian.Uint64(buf[:8]), nil
}

// WriteCheckpoint durably writes value as an 8-byte little-endian u64.
func WriteCheckpoint(ctx context.Context, s storage.Storage, kind storage.CheckpointKind, value uint64) error {
	id := storage.CheckpointID(kind)
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, value)
	if err := s.WriteAt(ctx, id, 0, buf); err != nil {
		return err
	}
	return s.Sync(ctx)
}
