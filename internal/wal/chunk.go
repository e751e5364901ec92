// Package wal implements the chunked write-ahead log: fixed-size chunk
// segments, the append writer, the positional/sequential reader, and
// checkpoints. The WAL is the single source of truth; the LSM index
// (internal/lsm) is a derived, rebuildable secondary structure over it.
package wal

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

const (
	// HeaderSize is the fixed size of a chunk header.
	HeaderSize = 128

	// FooterSize is the fixed size of a chunk footer.
	FooterSize = 128

	// DefaultChunkSize is the default data-region size of a chunk, before
	// header/footer/alignment padding.
	DefaultChunkSize = 256 << 20

	// fileAlignment is the boundary every chunk file's total size is
	// padded up to.
	fileAlignment = 4096

	headerVersion = 1
)

// FooterFlags bitflags the footer's status byte.
type FooterFlags uint8

const (
	FooterIsCompleted FooterFlags = 0x1
)

// Header is the fixed 128-byte chunk header.
type Header struct {
	Version          uint8
	ChunkSize        uint32
	ChunkStartNumber uint32
	ChunkEndNumber   uint32
	ChunkID          uuid.UUID
}

// Encode writes h into a freshly allocated 128-byte buffer.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = h.Version
	binary.LittleEndian.PutUint32(buf[1:5], h.ChunkSize)
	binary.LittleEndian.PutUint32(buf[5:9], h.ChunkStartNumber)
	binary.LittleEndian.PutUint32(buf[9:13], h.ChunkEndNumber)
	copy(buf[13:29], h.ChunkID[:])
	return buf
}

// DecodeHeader parses a 128-byte chunk header.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("wal: header too small: %d bytes", len(buf))
	}
	var h Header
	h.Version = buf[0]
	h.ChunkSize = binary.LittleEndian.Uint32(buf[1:5])
	h.ChunkStartNumber = binary.LittleEndian.Uint32(buf[5:9])
	h.ChunkEndNumber = binary.LittleEndian.Uint32(buf[9:13])
	copy(h.ChunkID[:], buf[13:29])
	return h, nil
}

// Footer is the fixed 128-byte chunk footer, present once a chunk is sealed.
type Footer struct {
	Flags            FooterFlags
	PhysicalDataSize uint32
	LogicalDataSize  uint64
	Hash             [16]byte
}

// Encode writes f into a freshly allocated 128-byte buffer. The hash
// occupies the last 16 bytes of the footer.
func (f Footer) Encode() []byte {
	buf := make([]byte, FooterSize)
	buf[0] = byte(f.Flags)
	binary.LittleEndian.PutUint32(buf[1:5], f.PhysicalDataSize)
	binary.LittleEndian.PutUint64(buf[5:13], f.LogicalDataSize)
	copy(buf[FooterSize-16:], f.Hash[:])
	return buf
}

// DecodeFooter parses a 128-byte chunk footer.
func DecodeFooter(buf []byte) (Footer, error) {
	if len(buf) < FooterSize {
		return Footer{}, fmt.Errorf("wal: footer too small: %d bytes", len(buf))
	}
	var f Footer
	f.Flags = FooterFlags(buf[0])
	f.PhysicalDataSize = binary.LittleEndian.Uint32(buf[1:5])
	f.LogicalDataSize = binary.LittleEndian.Uint64(buf[5:13])
	copy(f.Hash[:], buf[FooterSize-16:])
	return f, nil
}

// IsCompleted reports whether the footer's completion flag is set.
func (f Footer) IsCompleted() bool { return f.Flags&FooterIsCompleted != 0 }

// alignUp4K rounds n up to the next multiple of fileAlignment.
func alignUp4K(n uint64) uint64 {
	rem := n % fileAlignment
	if rem == 0 {
		return n
	}
	return n + (fileAlignment - rem)
}

// Info is the chunk identity derived from its file name: sequence number
// and version. The highest version for a sequence number wins on boot.
type Info struct {
	SeqNum  uint32
	Version uint32
}

// Chunk is one WAL segment: its identity, header, and footer (nil until
// sealed).
type Chunk struct {
	Info   Info
	Header Header
	Footer *Footer
}

// NewChunk creates the in-memory representation of a fresh, unsealed chunk
// at sequence number num.
func NewChunk(num uint32, chunkSize uint32) Chunk {
	return Chunk{
		Info: Info{SeqNum: num, Version: 0},
		Header: Header{
			Version:          headerVersion,
			ChunkSize:        chunkSize,
			ChunkStartNumber: num,
			ChunkEndNumber:   num,
			ChunkID:          uuid.Must(uuid.NewV7()),
		},
	}
}

// NextChunk returns the fresh chunk that follows c in sequence.
func (c Chunk) NextChunk() Chunk {
	return NewChunk(c.Info.SeqNum+1, c.Header.ChunkSize)
}

// StartPosition is the first global log position this chunk covers.
func (c Chunk) StartPosition() uint64 {
	return uint64(c.Header.ChunkStartNumber) * uint64(c.Header.ChunkSize)
}

// EndPosition is the exclusive upper bound of the global log positions this
// chunk covers.
func (c Chunk) EndPosition() uint64 {
	return (uint64(c.Header.ChunkEndNumber) + 1) * uint64(c.Header.ChunkSize)
}

// ContainsLogPosition reports whether pos falls within this chunk's range.
func (c Chunk) ContainsLogPosition(pos uint64) bool {
	return pos >= c.StartPosition() && pos < c.EndPosition()
}

// RemainingSpaceFrom returns how many bytes remain in the chunk's data
// region starting at pos, or 0 if pos is at or past the chunk's end.
func (c Chunk) RemainingSpaceFrom(pos uint64) uint64 {
	end := c.EndPosition()
	if end <= pos {
		return 0
	}
	return end - pos
}

// LocalPhysicalPosition converts a global log position to an offset
// relative to the start of the chunk's data region.
func (c Chunk) LocalPhysicalPosition(pos uint64) uint64 {
	return pos - c.StartPosition()
}

// RawPosition converts a global log position to a byte offset within the
// chunk file (past the header).
func (c Chunk) RawPosition(pos uint64) uint64 {
	return uint64(HeaderSize) + c.LocalPhysicalPosition(pos)
}

// FileSize is the total on-disk size of a sealed chunk: header + data +
// footer, aligned up to 4 KiB.
func (c Chunk) FileSize() uint64 {
	raw := uint64(HeaderSize) + uint64(c.Header.ChunkSize) + uint64(FooterSize)
	return alignUp4K(raw)
}
