package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version    byte = 1
	kindRecord byte = 1
	kindLock   byte = 2
)

var (
	ErrCorrupt = errors.New("swrcache: corrupt entry")
	magic4     = [...]byte{'S', 'W', 'R', 'C'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Record: magic(4) | ver(1) | kind(1=record) | expiresAt unix-ms (i64 be) | vlen(u32 be) | payload(vlen)
//
// The expiry rides inside the stored bytes because volatile backends must
// retain the value past its expiry: staleness is a classification, never a
// deletion. A zero expiresAt round-trips as the zero time.
func EncodeRecord(expiresAt time.Time, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 8 + 4 + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindRecord)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], uint64(unixMS(expiresAt)))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

func DecodeRecord(b []byte) (expiresAt time.Time, payload []byte, err error) {
	const hdr = 4 + 1 + 1 + 8 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindRecord {
		return time.Time{}, nil, ErrCorrupt
	}

	off := 6

	ms := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off { // strict framing: no trailing bytes
		return time.Time{}, nil, ErrCorrupt
	}

	return fromUnixMS(ms), b[off : off+vlen], nil
}

// Lock: magic(4) | ver(1) | kind(2=lock) | deadline unix-ms (i64 be) | tlen(u16 be) | token(tlen)
//
// Used by backends without native per-entry TTL; the deadline is the lock's
// self-expiry point and liveness is evaluated on read.
func EncodeLock(deadline time.Time, token string) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 8 + 2 + len(token))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindLock)

	var u8 [8]byte
	var u2 [2]byte

	binary.BigEndian.PutUint64(u8[:], uint64(unixMS(deadline)))
	buf.Write(u8[:])

	binary.BigEndian.PutUint16(u2[:], uint16(len(token)))
	buf.Write(u2[:])

	buf.WriteString(token)
	return buf.Bytes()
}

func DecodeLock(b []byte) (deadline time.Time, token string, err error) {
	const hdr = 4 + 1 + 1 + 8 + 2
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindLock {
		return time.Time{}, "", ErrCorrupt
	}

	off := 6

	ms := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	tlen := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if tlen != len(b)-off {
		return time.Time{}, "", ErrCorrupt
	}

	return fromUnixMS(ms), string(b[off : off+tlen]), nil
}

func unixMS(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMS(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
