package lsm

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"

	"gastrolog/internal/lsm/block"
	"gastrolog/internal/storage"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// sstFlagRaw and sstFlagZstd tag the single leading byte every SST file
// carries ahead of its block/meta/trailer content, so a reader can tell
// whether that content needs decompressing before anything else is parsed.
const (
	sstFlagRaw  byte = 0
	sstFlagZstd byte = 1
)

// sstZstdDecoder is shared across every compressed SST a reader opens;
// zstd.Decoder is safe for concurrent use.
var sstZstdDecoder *zstd.Decoder

func init() {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		panic("lsm: init zstd decoder: " + err.Error())
	}
	sstZstdDecoder = dec
}

// DefaultBlockSize is the default target size, in bytes, of one SST block
// before it is flushed and a new one started.
const DefaultBlockSize = 4096

// metaEntrySize mirrors block.EntrySize: {offset:u64, first_key:u64,
// first_revision:u64}.
const metaEntrySize = 24

type sstMeta struct {
	Offset        uint64
	FirstKey      uint64
	FirstRevision uint64
}

func (m sstMeta) encode(dst []byte) []byte {
	var buf [metaEntrySize]byte
	binary.LittleEndian.PutUint64(buf[0:8], m.Offset)
	binary.LittleEndian.PutUint64(buf[8:16], m.FirstKey)
	binary.LittleEndian.PutUint64(buf[16:24], m.FirstRevision)
	return append(dst, buf[:]...)
}

func decodeMeta(buf []byte) sstMeta {
	return sstMeta{
		Offset:        binary.LittleEndian.Uint64(buf[0:8]),
		FirstKey:      binary.LittleEndian.Uint64(buf[8:16]),
		FirstRevision: binary.LittleEndian.Uint64(buf[16:24]),
	}
}

// BuildSST writes entries (already sorted by (key, revision)) to storage as
// a new SST file, laid out as concatenated blocks, a meta table, and a
// trailing 4-byte meta-table offset, all behind a single leading flag byte.
// When compress is true the block/meta/trailer content is zstd-compressed
// before being written; sealed SSTs are immutable and read in full on open,
// so a whole-file codec is enough here (unlike the WAL's hot append path).
// It returns the new SST's id.
func BuildSST(ctx context.Context, s storage.Storage, entries []block.Entry, blockSize int, compress bool) (uuid.UUID, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	id := uuid.Must(uuid.NewV7())
	fileID := storage.SSTID(id)

	builder := block.NewBuilder(blockSize)
	var metas []sstMeta
	var content []byte

	flush := func() {
		if builder.Empty() {
			return
		}
		meta := sstMeta{Offset: uint64(len(content)), FirstKey: builder.FirstKey(), FirstRevision: builder.FirstRevision()}
		metas = append(metas, meta)
		content = append(content, builder.Take()...)
	}

	for _, e := range entries {
		if builder.Add(e) {
			flush()
		}
	}
	flush()

	metaTableOffset := uint64(len(content))
	for _, m := range metas {
		content = m.encode(content)
	}
	trailer := make([]byte, 4)
	binary.LittleEndian.PutUint32(trailer, uint32(metaTableOffset))
	content = append(content, trailer...)

	flag := sstFlagRaw
	if compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return uuid.Nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		content = enc.EncodeAll(content, nil)
		_ = enc.Close()
		flag = sstFlagZstd
	}

	out := make([]byte, 0, len(content)+1)
	out = append(out, flag)
	out = append(out, content...)
	if _, err := s.Append(ctx, fileID, out); err != nil {
		return uuid.Nil, fmt.Errorf("write sst file: %w", err)
	}

	return id, nil
}

// SSTReader provides lookups and full scans over a persisted SST. Metas are
// loaded lazily on first access and cached.
type SSTReader struct {
	storage        storage.Storage
	id             uuid.UUID
	metas          []sstMeta
	metaTableStart int64
	loaded         bool

	// data holds the fully decompressed content when the SST was written
	// compressed; ranges are then served from this slice instead of
	// storage.ReadAt. nil for an uncompressed SST, which continues to read
	// block ranges directly off storage.
	data []byte
}

// OpenSST wraps an existing SST file for reading.
func OpenSST(id uuid.UUID, s storage.Storage) *SSTReader {
	return &SSTReader{storage: s, id: id}
}

func (r *SSTReader) fileID() storage.FileID { return storage.SSTID(r.id) }

func (r *SSTReader) ensureMetas(ctx context.Context) error {
	if r.loaded {
		return nil
	}
	fileSize, err := r.storage.Len(ctx, r.fileID())
	if err != nil {
		return err
	}
	if fileSize < 1 {
		r.loaded = true
		return nil
	}

	flagBuf := make([]byte, 1)
	if err := r.storage.ReadAt(ctx, r.fileID(), 0, flagBuf); err != nil {
		return fmt.Errorf("read sst flag byte: %w", err)
	}

	if flagBuf[0] == sstFlagZstd {
		raw := make([]byte, fileSize-1)
		if len(raw) > 0 {
			if err := r.storage.ReadAt(ctx, r.fileID(), 1, raw); err != nil {
				return fmt.Errorf("read compressed sst content: %w", err)
			}
		}
		content, err := sstZstdDecoder.DecodeAll(raw, nil)
		if err != nil {
			return fmt.Errorf("decompress sst content: %w", err)
		}
		r.data = content
	}

	size := fileSize - 1
	if r.data != nil {
		size = int64(len(r.data))
	}
	if size < 4 {
		r.loaded = true
		return nil
	}

	trailer := make([]byte, 4)
	if err := r.readRange(ctx, size-4, size, trailer); err != nil {
		return fmt.Errorf("read meta offset trailer: %w", err)
	}
	metaOffset := int64(binary.LittleEndian.Uint32(trailer))
	r.metaTableStart = metaOffset

	metaBuf := make([]byte, size-4-metaOffset)
	if len(metaBuf) > 0 {
		if err := r.readRange(ctx, metaOffset, size-4, metaBuf); err != nil {
			return fmt.Errorf("read meta table: %w", err)
		}
	}

	for off := 0; off+metaEntrySize <= len(metaBuf); off += metaEntrySize {
		r.metas = append(r.metas, decodeMeta(metaBuf[off:off+metaEntrySize]))
	}
	r.loaded = true
	return nil
}

// readRange fills dst with the content bytes in [start, end): from the
// decompressed cache if this SST was compressed, otherwise directly from
// storage, offset by the one leading flag byte every SST file carries.
func (r *SSTReader) readRange(ctx context.Context, start, end int64, dst []byte) error {
	if r.data != nil {
		copy(dst, r.data[start:end])
		return nil
	}
	return r.storage.ReadAt(ctx, r.fileID(), start+1, dst)
}

func (r *SSTReader) candidateBlock(key, revision uint64) (int, bool) {
	n := len(r.metas)
	i := sort.Search(n, func(i int) bool {
		m := r.metas[i]
		if m.FirstKey != key {
			return m.FirstKey >= key
		}
		return m.FirstRevision >= revision
	})
	// The candidate block is the one before i, unless i itself matches
	// exactly or i==0.
	if i < n && r.metas[i].FirstKey == key && r.metas[i].FirstRevision == revision {
		return i, true
	}
	if i == 0 {
		if n == 0 {
			return 0, false
		}
		return 0, true
	}
	return i - 1, true
}

// Find looks up (key, revision) in the SST.
func (r *SSTReader) Find(ctx context.Context, key, revision uint64) (block.Entry, bool, error) {
	if err := r.ensureMetas(ctx); err != nil {
		return block.Entry{}, false, err
	}
	idx, ok := r.candidateBlock(key, revision)
	if !ok {
		return block.Entry{}, false, nil
	}

	start, end := r.blockRange(idx)
	buf := make([]byte, end-start)
	if err := r.readRange(ctx, start, end, buf); err != nil {
		return block.Entry{}, false, fmt.Errorf("read block %d: %w", idx, err)
	}
	e, found := block.Block(buf).Find(key, revision)
	return e, found, nil
}

// blockRange returns the byte range of block i within the file.
func (r *SSTReader) blockRange(i int) (int64, int64) {
	start := int64(r.metas[i].Offset)
	if i+1 < len(r.metas) {
		return start, int64(r.metas[i+1].Offset)
	}
	return start, r.metaTableStart
}

// HighestForKey returns the entry with the greatest revision recorded for
// key within this SST, scanning forward from the block that would contain
// key's first entry until the key run ends. Entries for one key are
// always contiguous and revision-ascending within an SST, since they are
// flushed from a single ordered memtable snapshot.
func (r *SSTReader) HighestForKey(ctx context.Context, key uint64) (block.Entry, bool, error) {
	if err := r.ensureMetas(ctx); err != nil {
		return block.Entry{}, false, err
	}
	idx, ok := r.candidateBlock(key, 0)
	if !ok {
		return block.Entry{}, false, nil
	}

	var best block.Entry
	found := false
	for ; idx < len(r.metas); idx++ {
		if r.metas[idx].FirstKey > key && found {
			break
		}
		start, end := r.blockRange(idx)
		buf := make([]byte, end-start)
		if err := r.readRange(ctx, start, end, buf); err != nil {
			return block.Entry{}, false, fmt.Errorf("read block %d: %w", idx, err)
		}
		blk := block.Block(buf)
		advancedPastKey := false
		for i := 0; i < blk.Len(); i++ {
			e := blk.At(i)
			if e.Key == key {
				best = e
				found = true
			} else if e.Key > key {
				advancedPastKey = true
				break
			}
		}
		if advancedPastKey {
			break
		}
	}
	return best, found, nil
}

// AllEntries loads and decodes every block in the SST, for merge iteration.
func (r *SSTReader) AllEntries(ctx context.Context) ([]block.Entry, error) {
	if err := r.ensureMetas(ctx); err != nil {
		return nil, err
	}
	var entries []block.Entry
	for i := range r.metas {
		start, end := r.blockRange(i)
		buf := make([]byte, end-start)
		if err := r.readRange(ctx, start, end, buf); err != nil {
			return nil, fmt.Errorf("read block %d: %w", i, err)
		}
		blk := block.Block(buf)
		for j := 0; j < blk.Len(); j++ {
			entries = append(entries, blk.At(j))
		}
	}
	return entries, nil
}
