package gethdb

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// EncodeUserData builds the payload for a type=0 (user data) log entry:
//
//	revision u64 | stream_name_len u16 | stream_name | id u128 |
//	content_type u32 | class_len u16 | class | data_len u32 | data
//
// Metadata is not part of the framed payload; it travels only through the
// client-facing Event and is never persisted to the log in this
// implementation (see design notes on metadata's scope).
func EncodeUserData(revision uint64, streamName string, event Event) []byte {
	idBytes, _ := event.ID.MarshalBinary()

	size := 8 + 2 + len(streamName) + 16 + 4 + 2 + len(event.Class) + 4 + len(event.Data)
	buf := make([]byte, size)
	off := 0

	binary.LittleEndian.PutUint64(buf[off:], revision)
	off += 8

	binary.LittleEndian.PutUint16(buf[off:], uint16(len(streamName)))
	off += 2
	off += copy(buf[off:], streamName)

	off += copy(buf[off:], idBytes)

	binary.LittleEndian.PutUint32(buf[off:], uint32(event.ContentType))
	off += 4

	binary.LittleEndian.PutUint16(buf[off:], uint16(len(event.Class)))
	off += 2
	off += copy(buf[off:], event.Class)

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(event.Data)))
	off += 4
	copy(buf[off:], event.Data)

	return buf
}

// DecodeUserData parses a payload built by EncodeUserData.
func DecodeUserData(payload []byte) (revision uint64, streamName string, event Event, err error) {
	const minHeader = 8 + 2 + 16 + 4 + 2 + 4
	if len(payload) < minHeader {
		return 0, "", Event{}, fmt.Errorf("%w: user-data payload too short (%d bytes)", ErrCorruption, len(payload))
	}

	off := 0
	revision = binary.LittleEndian.Uint64(payload[off:])
	off += 8

	nameLen := int(binary.LittleEndian.Uint16(payload[off:]))
	off += 2
	if off+nameLen > len(payload) {
		return 0, "", Event{}, fmt.Errorf("%w: stream name overruns payload", ErrCorruption)
	}
	streamName = string(payload[off : off+nameLen])
	off += nameLen

	if off+16 > len(payload) {
		return 0, "", Event{}, fmt.Errorf("%w: id overruns payload", ErrCorruption)
	}
	id, idErr := uuid.FromBytes(payload[off : off+16])
	if idErr != nil {
		return 0, "", Event{}, fmt.Errorf("%w: %v", ErrCorruption, idErr)
	}
	off += 16

	if off+4 > len(payload) {
		return 0, "", Event{}, fmt.Errorf("%w: content type overruns payload", ErrCorruption)
	}
	contentType := ContentType(binary.LittleEndian.Uint32(payload[off:]))
	off += 4

	if off+2 > len(payload) {
		return 0, "", Event{}, fmt.Errorf("%w: class length overruns payload", ErrCorruption)
	}
	classLen := int(binary.LittleEndian.Uint16(payload[off:]))
	off += 2
	if off+classLen > len(payload) {
		return 0, "", Event{}, fmt.Errorf("%w: class overruns payload", ErrCorruption)
	}
	class := string(payload[off : off+classLen])
	off += classLen

	if off+4 > len(payload) {
		return 0, "", Event{}, fmt.Errorf("%w: data length overruns payload", ErrCorruption)
	}
	dataLen := int(binary.LittleEndian.Uint32(payload[off:]))
	off += 4
	if off+dataLen > len(payload) {
		return 0, "", Event{}, fmt.Errorf("%w: data overruns payload", ErrCorruption)
	}
	data := append([]byte(nil), payload[off:off+dataLen]...)

	event = Event{ID: id, ContentType: contentType, Class: class, Data: data}
	return revision, streamName, event, nil
}
