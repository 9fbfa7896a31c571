package session

import (
	"encoding/binary"
	"errors"
	"time"
)

var errShortRecord = errors.New("session record too short")

// encodeRecord packs the expiration (unix millis, big endian) in front of
// the payload for backends that only keep opaque bytes.
func encodeRecord(rec Record) []byte {
	buf := make([]byte, 8+len(rec.Payload))
	binary.BigEndian.PutUint64(buf, uint64(rec.ExpiresAt.UnixMilli()))
	copy(buf[8:], rec.Payload)
	return buf
}

func decodeRecord(id string, buf []byte) (Record, error) {
	if len(buf) < 8 {
		return Record{}, errShortRecord
	}
	expire := int64(binary.BigEndian.Uint64(buf))
	payload := make([]byte, len(buf)-8)
	copy(payload, buf[8:])
	return Record{ID: id, Payload: payload, ExpiresAt: time.UnixMilli(expire).UTC()}, nil
}
