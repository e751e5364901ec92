package wal

import (
	"encoding/binary"
	"fmt"

	"gastrolog/internal/gethdb"
)

// lengthPrefixSize is the size of each of the two length prefixes that
// frame an entry on disk.
const lengthPrefixSize = 4

// entryOverhead is the total framing overhead added to an entry's payload
// size (leading length + trailing length + the 1-byte type tag carried
// inside the framed region).
const entryOverhead = 2*lengthPrefixSize + 1

// FramedSize returns the total number of bytes a log entry carrying
// payloadLen bytes of payload occupies on disk, including framing.
func FramedSize(payloadLen int) uint64 {
	return uint64(payloadLen) + entryOverhead
}

// EncodeFramed serializes a LogEntryType and payload into the on-disk
// framed form `[len:u32][type:u8][payload][len:u32]`.
func EncodeFramed(typ gethdb.LogEntryType, payload []byte) []byte {
	inner := 1 + len(payload)
	buf := make([]byte, lengthPrefixSize+inner+lengthPrefixSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(inner))
	buf[4] = byte(typ)
	copy(buf[5:5+len(payload)], payload)
	binary.LittleEndian.PutUint32(buf[5+len(payload):], uint32(inner))
	return buf
}

// DecodeFramed parses a framed entry read from disk at a known position.
// It returns gethdb.ErrCorruption if the leading and trailing lengths
// disagree.
func DecodeFramed(buf []byte, position uint64) (gethdb.LogEntry, error) {
	if len(buf) < 2*lengthPrefixSize+1 {
		return gethdb.LogEntry{}, fmt.Errorf("wal: framed entry too small: %w", gethdb.ErrCorruption)
	}
	leadLen := binary.LittleEndian.Uint32(buf[0:4])
	inner := buf[4 : 4+leadLen]
	trailOffset := 4 + leadLen
	if uint32(len(buf)) < trailOffset+4 {
		return gethdb.LogEntry{}, fmt.Errorf("wal: framed entry truncated: %w", gethdb.ErrCorruption)
	}
	trailLen := binary.LittleEndian.Uint32(buf[trailOffset : trailOffset+4])
	if leadLen != trailLen {
		return gethdb.LogEntry{}, fmt.Errorf("wal: length prefix mismatch (%d != %d): %w", leadLen, trailLen, gethdb.ErrCorruption)
	}
	if len(inner) < 1 {
		return gethdb.LogEntry{}, fmt.Errorf("wal: framed entry missing type byte: %w", gethdb.ErrCorruption)
	}

	payload := make([]byte, len(inner)-1)
	copy(payload, inner[1:])
	return gethdb.LogEntry{
		Position: position,
		Type:     gethdb.LogEntryType(inner[0]),
		Payload:  payload,
	}, nil
}
