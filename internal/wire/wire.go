// Package wire frames cached sequences for byte-oriented stores.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version   byte = 1
	kindEntry byte = 1

	// fixed part; ItemType and TypeField add their lengths on top
	headerLen = 4 + 1 + 1 + 8 + 8 + 8 + 8 + 2 + 2 + 4

	maxMeta = 1<<16 - 1
)

var (
	ErrCorrupt     = errors.New("poscache: corrupt entry")
	ErrMetaTooLong = errors.New("poscache: entry metadata too long")
	magic4     = [...]byte{'P', 'S', 'E', 'Q'}
)

// Header is the metadata framed in front of every encoded sequence.
type Header struct {
	ScopeGen  uint64
	KeyGen    uint64
	CreatedAt time.Time
	TTL       time.Duration
	ItemType  string
	TypeField string
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Entry: magic(4) | ver(1) | kind(1) | scopeGen(u64 be) | keyGen(u64 be) |
// createdAt(i64 unix nanos be) | ttl(i64 nanos be) | itlen(u16 be) | itemType |
// tflen(u16 be) | typeField | vlen(u32 be) | payload(vlen)
//
// ItemType and TypeField longer than 65535 bytes are rejected.
func EncodeEntry(h Header, payload []byte) ([]byte, error) {
	if len(h.ItemType) > maxMeta || len(h.TypeField) > maxMeta {
		return nil, ErrMetaTooLong
	}
	var buf bytes.Buffer
	buf.Grow(headerLen + len(h.ItemType) + len(h.TypeField) + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var u8 [8]byte
	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint64(u8[:], h.ScopeGen)
	buf.Write(u8[:])
	binary.BigEndian.PutUint64(u8[:], h.KeyGen)
	buf.Write(u8[:])

	var created int64
	if !h.CreatedAt.IsZero() {
		created = h.CreatedAt.UnixNano()
	}
	binary.BigEndian.PutUint64(u8[:], uint64(created))
	buf.Write(u8[:])
	binary.BigEndian.PutUint64(u8[:], uint64(h.TTL))
	buf.Write(u8[:])

	for _, m := range [...]string{h.ItemType, h.TypeField} {
		binary.BigEndian.PutUint16(u2[:], uint16(len(m)))
		buf.Write(u2[:])
		buf.WriteString(m)
	}

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes(), nil
}

// DecodeEntry validates framing and returns the header plus a zero-copy payload slice.
// Trailing bytes after the payload are rejected.
func DecodeEntry(b []byte) (Header, []byte, error) {
	if len(b) < headerLen || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return Header{}, nil, ErrCorrupt
	}

	off := 6
	var h Header
	h.ScopeGen = binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	h.KeyGen = binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	if created := int64(binary.BigEndian.Uint64(b[off : off+8])); created != 0 {
		h.CreatedAt = time.Unix(0, created)
	}
	off += 8
	h.TTL = time.Duration(int64(binary.BigEndian.Uint64(b[off : off+8])))
	off += 8
	if h.TTL < 0 {
		return Header{}, nil, ErrCorrupt
	}

	var meta [2]string
	for i := range meta {
		if len(b)-off < 2 {
			return Header{}, nil, ErrCorrupt
		}
		n := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if len(b)-off < n {
			return Header{}, nil, ErrCorrupt
		}
		meta[i] = string(b[off : off+n])
		off += n
	}
	h.ItemType, h.TypeField = meta[0], meta[1]

	if len(b)-off < 4 {
		return Header{}, nil, ErrCorrupt
	}
	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off { // strict framing
		return Header{}, nil, ErrCorrupt
	}

	return h, b[off : off+vlen], nil
}
