// Package bytestream implements the append-only byte buffer with an
// independent read cursor used throughout the wire format: fixed-width
// little-endian integers, compact-size integers, and raw views.
package bytestream

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/chainward/peernode/internal/protoerr"
)

// Scope tags the origin of a Stream so error messages and future
// wire-version decisions can distinguish network framing from other uses
// (e.g. hashing buffers) without a separate type per scope.
type Scope int

const (
	ScopeNetwork Scope = iota
	ScopeStorage
	ScopeHash
)

// Stream is an append-only buffer with an independent read cursor. size()
// is the total bytes ever written minus bytes shrunk away; avail() is
// size() minus the cursor.
type Stream struct {
	buf     []byte
	cursor  int
	version int32
	scope   Scope
}

// New returns an empty Stream scoped for network use at the given wire
// version.
func New(version int32) *Stream {
	return &Stream{version: version, scope: ScopeNetwork}
}

// NewWithScope returns an empty Stream tagged with the given scope.
func NewWithScope(version int32, scope Scope) *Stream {
	return &Stream{version: version, scope: scope}
}

// NewFromBytes wraps an existing slice for reading; writes still append
// past the end.
func NewFromBytes(b []byte, version int32) *Stream {
	return &Stream{buf: append([]byte(nil), b...), version: version}
}

func (s *Stream) Version() int32 { return s.version }
func (s *Stream) SetVersion(v int32) { s.version = v }
func (s *Stream) Scope() Scope { return s.scope }

// Size returns the total number of bytes currently held.
func (s *Stream) Size() int { return len(s.buf) }

// Avail returns the number of unread bytes.
func (s *Stream) Avail() int { return len(s.buf) - s.cursor }

// Eof reports whether the cursor has reached the end of the buffer.
func (s *Stream) Eof() bool { return s.cursor >= len(s.buf) }

// Tell returns the current read cursor position.
func (s *Stream) Tell() int { return s.cursor }

// Bytes returns the full underlying buffer (header + body, regardless of
// cursor position). Callers must not mutate the returned slice.
func (s *Stream) Bytes() []byte { return s.buf }

// At returns a pointer into the backing buffer at the given absolute
// offset, used to patch length/checksum fields after the fact (mirrors
// the original implementation's direct buffer indexing when finalizing a
// pushed message).
func (s *Stream) At(offset int) []byte {
	if offset < 0 || offset > len(s.buf) {
		return nil
	}
	return s.buf[offset:]
}

// Clear empties the buffer and resets the cursor.
func (s *Stream) Clear() {
	s.buf = s.buf[:0]
	s.cursor = 0
}

// Shrink drops the already-consumed prefix and resets the cursor to 0,
// so a long-lived Stream used to accumulate partial reads doesn't grow
// without bound.
func (s *Stream) Shrink() {
	if s.cursor == 0 {
		return
	}
	remaining := s.buf[s.cursor:]
	s.buf = append(make([]byte, 0, len(remaining)), remaining...)
	s.cursor = 0
}

// SeekRead repositions the read cursor to an absolute offset, clamped to
// [0, size()], and returns the resulting position.
func (s *Stream) SeekRead(pos int) int {
	if pos < 0 {
		pos = 0
	}
	if pos > len(s.buf) {
		pos = len(s.buf)
	}
	s.cursor = pos
	return s.cursor
}

// Skip advances the cursor by n, clamped to size().
func (s *Stream) Skip(n int) {
	s.SeekRead(s.cursor + n)
}

// Write appends raw bytes.
func (s *Stream) Write(p []byte) {
	s.buf = append(s.buf, p...)
}

// PushBack appends a single byte.
func (s *Stream) PushBack(b byte) {
	s.buf = append(s.buf, b)
}

// Read returns a view of the next n bytes and advances the cursor, or
// ErrReadOverflow if fewer than n bytes remain.
func (s *Stream) Read(n int) ([]byte, error) {
	if n < 0 || n > s.Avail() {
		return nil, protoerr.ErrReadOverflow
	}
	v := s.buf[s.cursor : s.cursor+n]
	s.cursor += n
	return v, nil
}

// ReadRemaining reads all remaining bytes.
func (s *Stream) ReadRemaining() ([]byte, error) {
	return s.Read(s.Avail())
}

// --- fixed-width integer primitives, little-endian on the wire ---

func (s *Stream) WriteUint8(v uint8)  { s.PushBack(v) }
func (s *Stream) WriteBool(v bool) {
	if v {
		s.PushBack(1)
	} else {
		s.PushBack(0)
	}
}

func (s *Stream) WriteUint16LE(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	s.Write(b[:])
}

func (s *Stream) WriteUint32LE(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	s.Write(b[:])
}

func (s *Stream) WriteUint64LE(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	s.Write(b[:])
}

func (s *Stream) WriteInt32LE(v int32)  { s.WriteUint32LE(uint32(v)) }
func (s *Stream) WriteInt64LE(v int64)  { s.WriteUint64LE(uint64(v)) }

func (s *Stream) WriteFloat64LE(v float64) { s.WriteUint64LE(math.Float64bits(v)) }

func (s *Stream) ReadUint8() (uint8, error) {
	v, err := s.Read(1)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

func (s *Stream) ReadBool() (bool, error) {
	v, err := s.ReadUint8()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (s *Stream) ReadUint16LE() (uint16, error) {
	v, err := s.Read(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(v), nil
}

func (s *Stream) ReadUint32LE() (uint32, error) {
	v, err := s.Read(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(v), nil
}

func (s *Stream) ReadUint64LE() (uint64, error) {
	v, err := s.Read(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(v), nil
}

func (s *Stream) ReadInt32LE() (int32, error) {
	v, err := s.ReadUint32LE()
	return int32(v), err
}

func (s *Stream) ReadInt64LE() (int64, error) {
	v, err := s.ReadUint64LE()
	return int64(v), err
}

func (s *Stream) ReadFloat64LE() (float64, error) {
	v, err := s.ReadUint64LE()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// --- compact-size (canonical variable-length unsigned integer) ---

const maxCompactSize = 0x0200_0000

// WriteCompactSize writes v using the canonical minimal encoding.
func (s *Stream) WriteCompactSize(v uint64) {
	switch {
	case v <= 0xFC:
		s.PushBack(byte(v))
	case v <= 0xFFFF:
		s.PushBack(0xFD)
		s.WriteUint16LE(uint16(v))
	case v <= 0xFFFF_FFFF:
		s.PushBack(0xFE)
		s.WriteUint32LE(uint32(v))
	default:
		s.PushBack(0xFF)
		s.WriteUint64LE(v)
	}
}

// ReadCompactSize reads a canonical compact-size integer, rejecting
// non-minimal encodings and values above the absolute ceiling.
func (s *Stream) ReadCompactSize() (uint64, error) {
	first, err := s.ReadUint8()
	if err != nil {
		return 0, err
	}

	var v uint64
	switch {
	case first < 0xFD:
		v = uint64(first)
	case first == 0xFD:
		u16, err := s.ReadUint16LE()
		if err != nil {
			return 0, err
		}
		v = uint64(u16)
		if v <= 0xFC {
			return 0, fmt.Errorf("compact size %d encoded with 3 bytes: %w", v, protoerr.ErrNonCanonicalCompactSize)
		}
	case first == 0xFE:
		u32, err := s.ReadUint32LE()
		if err != nil {
			return 0, err
		}
		v = uint64(u32)
		if v <= 0xFFFF {
			return 0, fmt.Errorf("compact size %d encoded with 5 bytes: %w", v, protoerr.ErrNonCanonicalCompactSize)
		}
	default: // 0xFF
		u64, err := s.ReadUint64LE()
		if err != nil {
			return 0, err
		}
		v = u64
		if v <= 0xFFFF_FFFF {
			return 0, fmt.Errorf("compact size %d encoded with 9 bytes: %w", v, protoerr.ErrNonCanonicalCompactSize)
		}
	}

	if v > maxCompactSize {
		return 0, fmt.Errorf("compact size %d exceeds ceiling %d: %w", v, maxCompactSize, protoerr.ErrCompactSizeTooBig)
	}
	return v, nil
}

// CompactSizeLen returns the number of bytes the canonical encoding of v
// occupies, without writing anything.
func CompactSizeLen(v uint64) int {
	switch {
	case v <= 0xFC:
		return 1
	case v <= 0xFFFF:
		return 3
	case v <= 0xFFFF_FFFF:
		return 5
	default:
		return 9
	}
}
