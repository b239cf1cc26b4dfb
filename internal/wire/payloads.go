package wire

import (
	"fmt"

	"github.com/chainward/peernode/internal/bytestream"
	"github.com/chainward/peernode/internal/protoerr"
)

// NetworkAddress is the 26-byte (handshake) / 30-byte (addr vector) peer
// address record: services bitmask, a 16-byte IPv6 or IPv4-mapped
// address, and a port. The 4-byte timestamp prefix used in addr vectors
// is carried separately by callers that need it (version's embedded
// addresses omit it).
type NetworkAddress struct {
	Services uint64
	IP       [16]byte
	Port     uint16
}

func (a NetworkAddress) serialize(s *bytestream.Stream) {
	s.WriteUint64LE(a.Services)
	s.Write(a.IP[:])
	s.WriteUint16LE(a.Port)
}

func deserializeNetworkAddress(s *bytestream.Stream) (NetworkAddress, error) {
	var a NetworkAddress
	services, err := s.ReadUint64LE()
	if err != nil {
		return a, err
	}
	ip, err := s.Read(16)
	if err != nil {
		return a, err
	}
	port, err := s.ReadUint16LE()
	if err != nil {
		return a, err
	}
	a.Services = services
	copy(a.IP[:], ip)
	a.Port = port
	return a, nil
}

// VersionPayload is the handshake's opening message: protocol version,
// advertised services, wall-clock time, the addresses each side
// believes it's talking over, the peer's self-identifying nonce (used
// for self-connect detection), a free-form user agent, the sender's
// chain height, and whether it wants relayed transactions.
type VersionPayload struct {
	ProtocolVersion int32
	Services        uint64
	Timestamp       int64
	ReceiverAddress NetworkAddress
	SenderAddress   NetworkAddress
	Nonce           uint64
	UserAgent       string
	StartHeight     int32
	Relay           bool
}

func (v VersionPayload) Serialize(s *bytestream.Stream) {
	s.WriteInt32LE(v.ProtocolVersion)
	s.WriteUint64LE(v.Services)
	s.WriteInt64LE(v.Timestamp)
	v.ReceiverAddress.serialize(s)
	v.SenderAddress.serialize(s)
	s.WriteUint64LE(v.Nonce)
	s.WriteCompactSize(uint64(len(v.UserAgent)))
	s.Write([]byte(v.UserAgent))
	s.WriteInt32LE(v.StartHeight)
	s.WriteBool(v.Relay)
}

func DeserializeVersionPayload(payload []byte) (VersionPayload, error) {
	s := bytestream.NewFromBytes(payload, DefaultProtocolVersion)
	var v VersionPayload

	pv, err := s.ReadInt32LE()
	if err != nil {
		return v, err
	}
	services, err := s.ReadUint64LE()
	if err != nil {
		return v, err
	}
	ts, err := s.ReadInt64LE()
	if err != nil {
		return v, err
	}
	recv, err := deserializeNetworkAddress(s)
	if err != nil {
		return v, err
	}
	send, err := deserializeNetworkAddress(s)
	if err != nil {
		return v, err
	}
	nonce, err := s.ReadUint64LE()
	if err != nil {
		return v, err
	}

	v.ProtocolVersion = pv
	v.Services = services
	v.Timestamp = ts
	v.ReceiverAddress = recv
	v.SenderAddress = send
	v.Nonce = nonce

	if s.Avail() > 0 {
		uaLen, err := s.ReadCompactSize()
		if err != nil {
			return v, err
		}
		ua, err := s.Read(int(uaLen))
		if err != nil {
			return v, err
		}
		v.UserAgent = string(ua)
	}
	if s.Avail() >= 4 {
		h, err := s.ReadInt32LE()
		if err != nil {
			return v, err
		}
		v.StartHeight = h
	}
	if s.Avail() >= 1 {
		r, err := s.ReadBool()
		if err != nil {
			return v, err
		}
		v.Relay = r
	}

	if v.ProtocolVersion < MinSupportedProtocolVersion {
		return v, fmt.Errorf("remote protocol version %d: %w", v.ProtocolVersion, protoerr.ErrInvalidProtocolVersion)
	}

	return v, nil
}

// PingPongPayload carries the 8-byte nonce exchanged by ping/pong;
// a pong must echo the nonce of the ping it answers.
type PingPongPayload struct {
	Nonce uint64
}

func (p PingPongPayload) Serialize(s *bytestream.Stream) {
	s.WriteUint64LE(p.Nonce)
}

func DeserializePingPongPayload(payload []byte) (PingPongPayload, error) {
	s := bytestream.NewFromBytes(payload, DefaultProtocolVersion)
	nonce, err := s.ReadUint64LE()
	return PingPongPayload{Nonce: nonce}, err
}

// RejectionCode classifies why a peer rejected a message, restored from
// the original implementation's protocol constants (the distilled spec
// leaves rejection reasons unspecified).
type RejectionCode uint8

const (
	RejectMalformed       RejectionCode = 0x01
	RejectInvalid         RejectionCode = 0x10
	RejectObsolete        RejectionCode = 0x11
	RejectDuplicate       RejectionCode = 0x12
	RejectNonStandard     RejectionCode = 0x40
	RejectDust            RejectionCode = 0x41
	RejectInsufficientFee RejectionCode = 0x42
	RejectCheckpoint      RejectionCode = 0x43
	RejectHasConflicts    RejectionCode = 0x48
	RejectAbsurdlyHighFee RejectionCode = 0x47
)

func (c RejectionCode) String() string {
	switch c {
	case RejectMalformed:
		return "malformed"
	case RejectInvalid:
		return "invalid"
	case RejectObsolete:
		return "obsolete"
	case RejectDuplicate:
		return "duplicate"
	case RejectNonStandard:
		return "non-standard"
	case RejectDust:
		return "dust"
	case RejectInsufficientFee:
		return "insufficient-fee"
	case RejectCheckpoint:
		return "checkpoint"
	case RejectHasConflicts:
		return "has-conflicts"
	case RejectAbsurdlyHighFee:
		return "absurdly-high-fee"
	default:
		return "unknown"
	}
}

// RejectPayload reports that a previously received message of Message
// was refused for Code, with a human-readable Reason and optional
// Extra identifying data (e.g. the offending hash).
type RejectPayload struct {
	Message string
	Code    RejectionCode
	Reason  string
	Extra   []byte
}

func (r RejectPayload) Serialize(s *bytestream.Stream) {
	s.WriteCompactSize(uint64(len(r.Message)))
	s.Write([]byte(r.Message))
	s.WriteUint8(uint8(r.Code))
	s.WriteCompactSize(uint64(len(r.Reason)))
	s.Write([]byte(r.Reason))
	if len(r.Extra) > 0 {
		s.Write(r.Extra)
	}
}

func DeserializeRejectPayload(payload []byte) (RejectPayload, error) {
	s := bytestream.NewFromBytes(payload, DefaultProtocolVersion)
	var r RejectPayload

	msgLen, err := s.ReadCompactSize()
	if err != nil {
		return r, err
	}
	msg, err := s.Read(int(msgLen))
	if err != nil {
		return r, err
	}
	code, err := s.ReadUint8()
	if err != nil {
		return r, err
	}
	reasonLen, err := s.ReadCompactSize()
	if err != nil {
		return r, err
	}
	reason, err := s.Read(int(reasonLen))
	if err != nil {
		return r, err
	}

	r.Message = string(msg)
	r.Code = RejectionCode(code)
	r.Reason = string(reason)
	if s.Avail() > 0 {
		extra, err := s.ReadRemaining()
		if err != nil {
			return r, err
		}
		r.Extra = extra
	}
	return r, nil
}
