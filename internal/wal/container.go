package wal

import (
	"context"
	"crypto/md5"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"gastrolog/internal/logging"
	"gastrolog/internal/storage"
)

// Container owns the ordered set of chunk files backing the WAL. It
// provides the chunk lookups the writer and reader need; it does not frame
// or decode entries itself.
type Container struct {
	mu        sync.RWMutex
	storage   storage.Storage
	chunkSize uint32
	chunks    []Chunk // ordered by SeqNum, ascending
	logger    *slog.Logger
}

// Config configures a Container.
type Config struct {
	Storage   storage.Storage
	ChunkSize uint32 // 0 means DefaultChunkSize
	Logger    *slog.Logger
}

// Open boots the container: it enumerates existing chunk files, keeps the
// highest version per sequence number, sorts by sequence, and creates
// chunk 0 if the storage is empty.
func Open(ctx context.Context, cfg Config) (*Container, error) {
	chunkSize := cfg.ChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	logger := logging.Default(cfg.Logger).With("component", "wal/container")

	ids, err := cfg.Storage.List(ctx, storage.CategoryChunk)
	if err != nil {
		return nil, fmt.Errorf("list chunk files: %w", err)
	}

	best := make(map[uint32]uint32) // seqNum -> highest version seen
	for _, id := range ids {
		num, ver := id.ChunkNum(), id.ChunkVersion()
		if cur, ok := best[num]; !ok || ver > cur {
			best[num] = ver
		}
	}

	c := &Container{storage: cfg.Storage, chunkSize: chunkSize, logger: logger}

	if len(best) == 0 {
		chunk := NewChunk(0, chunkSize)
		if err := c.writeHeader(ctx, chunk); err != nil {
			return nil, err
		}
		c.chunks = []Chunk{chunk}
		logger.Info("initialized fresh chunk 0")
		return c, nil
	}

	nums := make([]uint32, 0, len(best))
	for num := range best {
		nums = append(nums, num)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })

	for _, num := range nums {
		ver := best[num]
		chunk, err := c.readChunk(ctx, num, ver)
		if err != nil {
			return nil, err
		}
		c.chunks = append(c.chunks, chunk)
	}

	logger.Info("loaded chunks from storage", "count", len(c.chunks))
	return c, nil
}

func (c *Container) readChunk(ctx context.Context, num, ver uint32) (Chunk, error) {
	id := storage.ChunkFileID(num, ver)
	hdrBuf := make([]byte, HeaderSize)
	if err := c.storage.ReadAt(ctx, id, 0, hdrBuf); err != nil {
		return Chunk{}, fmt.Errorf("read chunk %d.%d header: %w", num, ver, err)
	}
	header, err := DecodeHeader(hdrBuf)
	if err != nil {
		return Chunk{}, err
	}

	chunk := Chunk{Info: Info{SeqNum: num, Version: ver}, Header: header}

	size, err := c.storage.Len(ctx, id)
	if err != nil {
		return Chunk{}, err
	}
	if uint64(size) >= chunk.FileSize() {
		footerBuf := make([]byte, FooterSize)
		footerOffset := int64(chunk.FileSize()) - FooterSize
		if err := c.storage.ReadAt(ctx, id, footerOffset, footerBuf); err != nil {
			return Chunk{}, fmt.Errorf("read chunk %d.%d footer: %w", num, ver, err)
		}
		footer, err := DecodeFooter(footerBuf)
		if err != nil {
			return Chunk{}, err
		}
		if footer.IsCompleted() {
			chunk.Footer = &footer
		}
	}

	return chunk, nil
}

func (c *Container) writeHeader(ctx context.Context, chunk Chunk) error {
	id := storage.ChunkFileID(chunk.Info.SeqNum, chunk.Info.Version)
	return c.storage.WriteAt(ctx, id, 0, chunk.Header.Encode())
}

// Ongoing returns the current tail chunk: the one new entries are appended
// to.
func (c *Container) Ongoing() Chunk {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.chunks[len(c.chunks)-1]
}

// Find returns the chunk covering the given global log position.
func (c *Container) Find(pos uint64) (Chunk, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Binary search would work since chunks are contiguous and ordered,
	// but a linear scan keeps this readable and the chunk count is small
	// in practice (a chunk is hundreds of megabytes).
	for _, chunk := range c.chunks {
		if chunk.ContainsLogPosition(pos) {
			return chunk, nil
		}
	}
	return Chunk{}, fmt.Errorf("wal: no chunk contains position %d", pos)
}

// NewChunk seals the current ongoing chunk (writing its footer) and
// allocates the next one. dataWrittenInOldChunk is the number of data bytes
// written to the ongoing chunk; the footer records it as the chunk's data
// size and the seal hash covers the header plus that many data bytes.
func (c *Container) NewChunk(ctx context.Context, dataWrittenInOldChunk uint64) (Chunk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.chunks[len(c.chunks)-1]
	if err := c.sealLocked(ctx, old, dataWrittenInOldChunk); err != nil {
		return Chunk{}, err
	}

	next := old.NextChunk()
	if err := c.writeHeader(ctx, next); err != nil {
		return Chunk{}, err
	}
	c.chunks = append(c.chunks, next)
	c.logger.Info("sealed chunk, opened next", "sealed", old.Info.SeqNum, "next", next.Info.SeqNum)
	return next, nil
}

func (c *Container) sealLocked(ctx context.Context, chunk Chunk, physicalDataSize uint64) error {
	id := storage.ChunkFileID(chunk.Info.SeqNum, chunk.Info.Version)

	footer := Footer{
		Flags:            FooterIsCompleted,
		PhysicalDataSize: uint32(physicalDataSize),
		LogicalDataSize:  physicalDataSize,
	}

	fullBuf, err := c.storage.ReadAll(ctx, id)
	if err != nil {
		return fmt.Errorf("read chunk %d for sealing: %w", chunk.Info.SeqNum, err)
	}
	// Hash covers header + data written so far (not the zero-padded tail).
	region := fullBuf
	if uint64(len(region)) > HeaderSize+physicalDataSize {
		region = region[:HeaderSize+physicalDataSize]
	}
	footer.Hash = md5.Sum(region)

	offset := int64(chunk.FileSize()) - FooterSize
	if err := c.storage.WriteAt(ctx, id, offset, footer.Encode()); err != nil {
		return fmt.Errorf("write chunk %d footer: %w", chunk.Info.SeqNum, err)
	}
	return c.storage.Sync(ctx)
}
