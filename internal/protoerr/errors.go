// Package protoerr holds the sentinel errors for the peer networking core,
// grouped by the taxonomy used throughout serialization, framing, protocol
// handshake, idle detection and I/O. Every operation that can fail returns
// one of these (possibly wrapped with extra context via fmt.Errorf's %w),
// never a panic, so callers can classify with errors.Is.
package protoerr

import "errors"

// Decode errors: malformed textual/binary encodings of user-facing values.
var (
	ErrInputTooShort      = errors.New("decode: input too short")
	ErrInvalidHexDigit    = errors.New("decode: invalid hex digit")
	ErrInvalidBase58      = errors.New("decode: invalid base58 input")
	ErrInvalidBase64      = errors.New("decode: invalid base64 input")
	ErrInvalidAmountRange = errors.New("decode: invalid amount range")
)

// Serialization errors: ByteStream / compact-size primitives.
var (
	ErrInputTooLarge           = errors.New("serialization: input too large")
	ErrReadOverflow            = errors.New("serialization: read overflow")
	ErrNonCanonicalCompactSize = errors.New("serialization: non-canonical compact size")
	ErrCompactSizeTooBig       = errors.New("serialization: compact size too big")
	ErrUnexpected              = errors.New("serialization: unexpected error")
)

// Framing errors: MessageHeader / Message validation.
var (
	ErrHeaderIncomplete              = errors.New("framing: header incomplete")
	ErrBodyIncomplete                = errors.New("framing: body incomplete")
	ErrMagicMismatch                 = errors.New("framing: magic mismatch")
	ErrUnknownCommand                = errors.New("framing: unknown command")
	ErrMalformedCommand              = errors.New("framing: malformed command")
	ErrEmptyCommand                  = errors.New("framing: empty command")
	ErrUndersizedPayload             = errors.New("framing: undersized payload")
	ErrOversizedPayload              = errors.New("framing: oversized payload")
	ErrMismatchingPayloadLength      = errors.New("framing: mismatching payload length")
	ErrInvalidChecksum               = errors.New("framing: invalid checksum")
	ErrEmptyVector                   = errors.New("framing: empty vector")
	ErrOversizedVector               = errors.New("framing: oversized vector")
	ErrMismatchesVectorSize          = errors.New("framing: mismatches vector size")
	ErrDuplicateVectorItems          = errors.New("framing: duplicate vector items")
	ErrUnsupportedForProtocolVersion = errors.New("framing: unsupported for protocol version")
	ErrDeprecatedForProtocolVersion  = errors.New("framing: deprecated for protocol version")
)

// Protocol errors: handshake and steady-state rule violations.
var (
	ErrDuplicateHandshake       = errors.New("protocol: duplicate handshake")
	ErrInvalidHandshake         = errors.New("protocol: invalid handshake")
	ErrInvalidProtocolVersion   = errors.New("protocol: invalid protocol version")
	ErrMismatchingPingPongNonce = errors.New("protocol: mismatching ping/pong nonce")
	ErrMessagesFlooding         = errors.New("protocol: messages flooding detected")
	ErrInvalidMessageState      = errors.New("protocol: invalid message state")
)

// Idle errors: the classified disconnect reasons from the service tick.
var (
	ErrPingTimeout              = errors.New("idle: ping timeout")
	ErrProtocolHandshakeTimeout = errors.New("idle: protocol handshake timeout")
	ErrInboundTimeout           = errors.New("idle: inbound timeout")
	ErrOutboundTimeout          = errors.New("idle: outbound timeout")
	ErrGlobalTimeout            = errors.New("idle: global timeout")
)

// I/O errors: transport-level failures, fatal to the owning peer.
var (
	ErrTransportClosed    = errors.New("io: transport closed")
	ErrTransportError     = errors.New("io: transport error")
	ErrTLSHandshakeFailed = errors.New("io: tls handshake failed")
)

// IsFatal reports whether err is fatal to the peer that produced it, i.e.
// everything except the two "need more bytes" framing states.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrHeaderIncomplete) || errors.Is(err, ErrBodyIncomplete) {
		return false
	}
	return true
}
