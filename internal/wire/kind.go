// Package wire implements the message framing layer: the message kind
// catalog, the 24-byte header, and the incremental parser/serializer for
// the full framed unit (header + payload) exchanged between peers.
package wire

// Kind is the closed enumeration of message kinds the core understands.
// KindMissingOrUnknown is the zero value so an unset Header reads as
// "nothing recognized yet" rather than aliasing a real kind.
type Kind int

const (
	KindMissingOrUnknown Kind = iota
	KindVersion
	KindVerAck
	KindInv
	KindAddr
	KindPing
	KindPong
	KindGetHeaders
	KindHeaders
	KindGetAddr
	KindMemPool
	KindReject
)

func (k Kind) String() string {
	if def, ok := definitionsByKind[k]; ok {
		return def.Command
	}
	return "unknown"
}

// DefaultProtocolVersion is the single protocol version this core speaks;
// min and max supported bounds both equal it, per the original
// implementation (zenpp::net::kDefaultProtocolVersion).
const DefaultProtocolVersion int32 = 170002

const (
	MinSupportedProtocolVersion = DefaultProtocolVersion
	MaxSupportedProtocolVersion = DefaultProtocolVersion
)

// MaxProtocolMessageLength is the absolute ceiling on a message's total
// payload size (4 MiB), independent of any per-kind declared maximum.
const MaxProtocolMessageLength = 4 * 1024 * 1024

// HeaderLength is the fixed size in bytes of a MessageHeader on the wire.
const HeaderLength = 24
