package wire

import (
	"fmt"

	"github.com/chainward/peernode/internal/bytestream"
	"github.com/chainward/peernode/internal/cryptohash"
	"github.com/chainward/peernode/internal/protoerr"
)

// Message is a fully framed unit: a validated header paired with its
// raw payload bytes.
type Message struct {
	Header  Header
	Payload []byte
}

// Kind is a convenience accessor over Header.Kind.
func (m Message) Kind() Kind { return m.Header.Kind() }

// parseState tracks which half of a message the Parser is currently
// accumulating, mirroring the original's header-mode/body-mode
// incremental reader.
type parseState int

const (
	stateHeader parseState = iota
	stateBody
)

// Parser accumulates bytes arriving from a stream transport into
// complete Messages. It is not safe for concurrent use; each peer owns
// exactly one Parser for its inbound direction.
type Parser struct {
	magic [4]byte
	state parseState

	headerBuf []byte // grows to exactly HeaderLength before being consumed
	header    Header

	bodyBuf  []byte // grows to exactly header.PayloadLength
	bodyWant int
}

// NewParser returns a Parser that will only accept headers whose magic
// matches the given network magic.
func NewParser(magic [4]byte) *Parser {
	return &Parser{magic: magic, state: stateHeader}
}

// Feed appends data to the parser and extracts as many complete
// messages as are now available. Every byte of data is consumed; partial
// messages are retained internally for the next Feed call.
func (p *Parser) Feed(data []byte) (messages []Message, err error) {
	for len(data) > 0 {
		switch p.state {
		case stateHeader:
			need := HeaderLength - len(p.headerBuf)
			take := need
			if take > len(data) {
				take = len(data)
			}
			p.headerBuf = append(p.headerBuf, data[:take]...)
			data = data[take:]

			if len(p.headerBuf) < HeaderLength {
				return messages, nil
			}

			s := bytestream.NewFromBytes(p.headerBuf, DefaultProtocolVersion)
			h, derr := DeserializeHeader(s)
			if derr != nil {
				return messages, derr
			}
			if verr := h.Validate(p.magic); verr != nil {
				return messages, verr
			}

			p.header = h
			p.bodyWant = int(h.PayloadLength)
			p.bodyBuf = p.bodyBuf[:0]
			p.headerBuf = p.headerBuf[:0]
			p.state = stateBody

		case stateBody:
			need := p.bodyWant - len(p.bodyBuf)
			take := need
			if take > len(data) {
				take = len(data)
			}
			p.bodyBuf = append(p.bodyBuf, data[:take]...)
			data = data[take:]

			if len(p.bodyBuf) < p.bodyWant {
				return messages, nil
			}

			payload := append([]byte(nil), p.bodyBuf...)
			if cerr := p.header.ValidateChecksum(payload); cerr != nil {
				return messages, cerr
			}
			if verr := ValidatePayload(p.header, payload); verr != nil {
				return messages, verr
			}

			messages = append(messages, Message{Header: p.header, Payload: payload})
			p.state = stateHeader
		}
	}
	return messages, nil
}

// ValidatePayload enforces the vectorized-payload shape for message
// kinds whose definition declares a fixed item size: the leading
// compact-size count must be non-zero, within the per-kind cap, and
// must exactly account for every
// remaining byte. Kinds without a fixed item size (e.g. getheaders, whose
// body mixes a version field, variable locators, and a stop-hash) are
// left to their own payload codec for shape validation.
func ValidatePayload(h Header, payload []byte) error {
	def, ok := LookupCommand(h.CommandString())
	if !ok {
		return fmt.Errorf("%s: %w", h.CommandString(), protoerr.ErrUnknownCommand)
	}
	if !def.IsVectorized || def.VectorItemSize == nil {
		return nil
	}

	s := bytestream.NewFromBytes(payload, DefaultProtocolVersion)
	count, err := s.ReadCompactSize()
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%s: %w", def.Command, protoerr.ErrEmptyVector)
	}
	if def.MaxVectorItems != nil && count > uint64(*def.MaxVectorItems) {
		return fmt.Errorf("%s count %d exceeds max %d: %w", def.Command, count, *def.MaxVectorItems, protoerr.ErrOversizedVector)
	}

	itemSize := int(*def.VectorItemSize)
	want := count * uint64(itemSize)
	if uint64(s.Avail()) != want {
		return fmt.Errorf("%s: declared count %d implies %d bytes, got %d: %w", def.Command, count, want, s.Avail(), protoerr.ErrMismatchesVectorSize)
	}

	seen := make(map[string]struct{}, count)
	for i := uint64(0); i < count; i++ {
		item, rerr := s.Read(itemSize)
		if rerr != nil {
			return rerr
		}
		key := string(item)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%s: %w", def.Command, protoerr.ErrDuplicateVectorItems)
		}
		seen[key] = struct{}{}
	}

	return nil
}

// Push serializes a complete message (header + payload) ready to write
// to the transport: it writes a placeholder header, appends payload,
// then patches payload_length and checksum in place at their fixed
// offsets, mirroring the original's serialize-then-patch approach.
func Push(kind Kind, magic [4]byte, payload []byte) (*bytestream.Stream, error) {
	def, ok := LookupKind(kind)
	if !ok {
		return nil, fmt.Errorf("kind %d: %w", kind, protoerr.ErrUnknownCommand)
	}
	if len(payload) > MaxProtocolMessageLength {
		return nil, protoerr.ErrOversizedPayload
	}

	var h Header
	h.Magic = magic
	if err := h.SetCommand(def.Command); err != nil {
		return nil, err
	}

	s := bytestream.New(DefaultProtocolVersion)
	h.Serialize(s)
	s.Write(payload)

	h.PayloadLength = uint32(len(payload))
	h.Checksum = cryptohash.Checksum4(payload)
	patchUint32LE(s, payloadLengthOffset, h.PayloadLength)
	copy(s.At(checksumOffset), h.Checksum[:])

	return s, nil
}

func patchUint32LE(s *bytestream.Stream, offset int, v uint32) {
	dst := s.At(offset)
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}
