package wire

import (
	"bytes"
	"fmt"

	"github.com/chainward/peernode/internal/bytestream"
	"github.com/chainward/peernode/internal/cryptohash"
	"github.com/chainward/peernode/internal/protoerr"
)

// Header is the fixed 24-byte prefix of every framed message: a network
// magic, a NUL-padded command name, the payload length, and the
// double-SHA-256 checksum of the payload (first four bytes).
type Header struct {
	Magic         [4]byte
	Command       [12]byte
	PayloadLength uint32
	Checksum      [4]byte
}

// commandOffset/payloadLengthOffset/checksumOffset are the byte offsets
// of each field within a serialized header, used by Push to
// patch payload_length and checksum in place once the body is known.
const (
	magicOffset         = 0
	commandOffset       = 4
	payloadLengthOffset = 16
	checksumOffset      = 20
)

// CommandString returns the command with trailing NUL padding stripped.
func (h Header) CommandString() string {
	i := bytes.IndexByte(h.Command[:], 0)
	if i < 0 {
		i = len(h.Command)
	}
	return string(h.Command[:i])
}

// Kind resolves the header's command to a known Kind, or
// KindMissingOrUnknown if the command isn't recognized.
func (h Header) Kind() Kind {
	if d, ok := LookupCommand(h.CommandString()); ok {
		return d.Kind
	}
	return KindMissingOrUnknown
}

// SetCommand encodes a command name into the fixed 12-byte field,
// left-justified and NUL-padded.
func (h *Header) SetCommand(command string) error {
	if len(command) == 0 {
		return protoerr.ErrEmptyCommand
	}
	if len(command) > len(h.Command) {
		return fmt.Errorf("command %q longer than 12 bytes: %w", command, protoerr.ErrMalformedCommand)
	}
	h.Command = [12]byte{}
	copy(h.Command[:], command)
	return nil
}

// validCommandByte reports whether b is an acceptable character within a
// command name: printable ASCII, lowercase letters and digits by
// convention but not enforced beyond printability.
func validCommandByte(b byte) bool {
	return b >= 0x20 && b < 0x7F
}

// Validate checks the header in isolation, independent of any payload
// bytes: magic match, a well-formed NUL-padded command naming a known
// kind, and gross payload-length sanity. expectedMagic is the network's
// configured magic value.
func (h Header) Validate(expectedMagic [4]byte) error {
	if h.Magic != expectedMagic {
		return protoerr.ErrMagicMismatch
	}

	seenNUL := false
	for _, b := range h.Command {
		if b == 0 {
			seenNUL = true
			continue
		}
		if seenNUL {
			return fmt.Errorf("command has non-NUL byte after padding begins: %w", protoerr.ErrMalformedCommand)
		}
		if !validCommandByte(b) {
			return fmt.Errorf("command contains non-printable byte 0x%02x: %w", b, protoerr.ErrMalformedCommand)
		}
	}

	command := h.CommandString()
	if command == "" {
		return protoerr.ErrEmptyCommand
	}

	def, ok := LookupCommand(command)
	if !ok {
		return fmt.Errorf("%s: %w", command, protoerr.ErrUnknownCommand)
	}

	if h.PayloadLength > MaxProtocolMessageLength {
		return fmt.Errorf("payload length %d exceeds ceiling %d: %w", h.PayloadLength, MaxProtocolMessageLength, protoerr.ErrOversizedPayload)
	}
	if def.MinPayloadLength != nil && h.PayloadLength < *def.MinPayloadLength {
		return fmt.Errorf("%s payload length %d below minimum %d: %w", command, h.PayloadLength, *def.MinPayloadLength, protoerr.ErrUndersizedPayload)
	}
	if def.MaxPayloadLength != nil && h.PayloadLength > *def.MaxPayloadLength {
		return fmt.Errorf("%s payload length %d above maximum %d: %w", command, h.PayloadLength, *def.MaxPayloadLength, protoerr.ErrOversizedPayload)
	}

	return nil
}

// ValidateChecksum compares h.Checksum against the checksum computed
// over payload, returning protoerr.ErrInvalidChecksum on mismatch.
func (h Header) ValidateChecksum(payload []byte) error {
	want := cryptohash.Checksum4(payload)
	if h.Checksum != want {
		return protoerr.ErrInvalidChecksum
	}
	return nil
}

// DeserializeHeader reads a fixed 24-byte header from the front of s,
// returning protoerr.ErrHeaderIncomplete if fewer bytes are available.
func DeserializeHeader(s *bytestream.Stream) (Header, error) {
	if s.Avail() < HeaderLength {
		return Header{}, protoerr.ErrHeaderIncomplete
	}

	var h Header
	magic, err := s.Read(4)
	if err != nil {
		return Header{}, err
	}
	copy(h.Magic[:], magic)

	command, err := s.Read(12)
	if err != nil {
		return Header{}, err
	}
	copy(h.Command[:], command)

	length, err := s.ReadUint32LE()
	if err != nil {
		return Header{}, err
	}
	h.PayloadLength = length

	checksum, err := s.Read(4)
	if err != nil {
		return Header{}, err
	}
	copy(h.Checksum[:], checksum)

	return h, nil
}

// Serialize writes the header's 24 bytes to s in wire order.
func (h Header) Serialize(s *bytestream.Stream) {
	s.Write(h.Magic[:])
	s.Write(h.Command[:])
	s.WriteUint32LE(h.PayloadLength)
	s.Write(h.Checksum[:])
}
