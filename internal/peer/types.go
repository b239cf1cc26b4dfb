// Package peer implements the per-connection state machine: handshake
// tracking, keep-alive ping/pong with latency smoothing, idle detection,
// and the read/write loops that move framed messages across a TCP (or
// TLS-wrapped TCP) transport.
package peer

import (
	"net"

	"go.uber.org/zap"

	"github.com/chainward/peernode/internal/recentcache"
	"github.com/chainward/peernode/internal/wire"
)

// Direction classifies how a connection was established, mirroring the
// original implementation's IPConnectionType: a regular inbound accept,
// a regular outbound dial, or an outbound dial to a configured seed
// (which additionally triggers a getaddr once the handshake completes).
type Direction int

const (
	DirectionInbound Direction = iota
	DirectionOutboundRegular
	DirectionOutboundSeed
)

func (d Direction) String() string {
	switch d {
	case DirectionInbound:
		return "inbound"
	case DirectionOutboundRegular:
		return "outbound"
	case DirectionOutboundSeed:
		return "seed-outbound"
	default:
		return "unknown"
	}
}

func (d Direction) IsOutbound() bool { return d != DirectionInbound }

// Settings is the subset of the node's configuration a Peer needs,
// passed in at construction so the package has no dependency on the
// config package itself.
type Settings struct {
	Magic                           [4]byte
	Nonce                           uint64
	UserAgent                       string
	StartHeight                     int32
	PingIntervalSeconds             uint32
	PingTimeoutMilliseconds         uint32
	ProtocolHandshakeTimeoutSeconds uint32
	InboundTimeoutSeconds           uint32
	OutboundTimeoutSeconds          uint32
	IdleTimeoutSeconds              uint32
	MaxBytesPerIO                   int
	MaxMessagesPerRead              int
	OutboundQueueDepth              int
}

// DefaultSettings returns sane defaults matching the original
// implementation's constants where it specifies them.
func DefaultSettings() Settings {
	return Settings{
		PingIntervalSeconds:             120,
		PingTimeoutMilliseconds:         2 * 60 * 1000,
		ProtocolHandshakeTimeoutSeconds: 60,
		InboundTimeoutSeconds:           300,
		OutboundTimeoutSeconds:          300,
		IdleTimeoutSeconds:              1800,
		MaxBytesPerIO:                   64 * 1024,
		MaxMessagesPerRead:              32,
		OutboundQueueDepth:              256,
	}
}

// IdleResult classifies why is_idle judged a peer stale, or NotIdle if
// it's still healthy. Exactly one non-NotIdle reason is ever returned
// per call, checked in the same priority order as the original.
type IdleResult int

const (
	NotIdle IdleResult = iota
	ResultPingTimeout
	ResultProtocolHandshakeTimeout
	ResultInboundTimeout
	ResultOutboundTimeout
	ResultGlobalTimeout
)

func (r IdleResult) String() string {
	switch r {
	case NotIdle:
		return "not-idle"
	case ResultPingTimeout:
		return "ping-timeout"
	case ResultProtocolHandshakeTimeout:
		return "protocol-handshake-timeout"
	case ResultInboundTimeout:
		return "inbound-timeout"
	case ResultOutboundTimeout:
		return "outbound-timeout"
	case ResultGlobalTimeout:
		return "global-timeout"
	default:
		return "unknown"
	}
}

// handshakeBit is the bitset tracked during the protocol handshake; a
// Peer is handshake-complete once all four bits are set.
type handshakeBit uint32

const (
	bitLocalVersionSent      handshakeBit = 1 << 0
	bitRemoteVersionReceived handshakeBit = 1 << 1
	bitRemoteVerAckSent      handshakeBit = 1 << 2
	bitLocalVerAckReceived   handshakeBit = 1 << 3

	handshakeComplete = bitLocalVersionSent | bitRemoteVersionReceived | bitRemoteVerAckSent | bitLocalVerAckReceived
)

// OnMessage is invoked for every validated, post-handshake inbound
// message except those the Peer consumes internally: version and verack
// (handshake), ping and pong (keep-alive), and a getaddr from an inbound
// peer that was already served one.
type OnMessage func(p *Peer, msg wire.Message)

// OnData is invoked after every read or write with the direction and
// byte count, letting the owning Hub maintain rolling bandwidth
// counters without the Peer knowing about metrics.
type OnData func(direction DataDirection, n int)

type DataDirection int

const (
	DirectionRead DataDirection = iota
	DirectionWrite
)

// connConfig bundles what New needs beyond Settings: the live
// connection, its direction, a logger scoped to this peer, and the
// callbacks the owning Hub wants invoked.
type connConfig struct {
	conn      net.Conn
	id        int64
	direction Direction
	settings  Settings
	logger    *zap.Logger
	cache     *recentcache.Cache
	onMessage OnMessage
	onData    OnData
	onIdle    func(p *Peer, reason IdleResult)
}
