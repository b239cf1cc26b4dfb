package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainward/peernode/internal/bytestream"
	"github.com/chainward/peernode/internal/protoerr"
)

func TestVersionPayloadRoundTrip(t *testing.T) {
	v := VersionPayload{
		ProtocolVersion: DefaultProtocolVersion,
		Services:        7,
		Timestamp:       1_700_000_000,
		ReceiverAddress: NetworkAddress{Services: 1, Port: 8233},
		SenderAddress:   NetworkAddress{Services: 1, Port: 8233},
		Nonce:           123456789,
		UserAgent:       "/peernode:0.1.0/",
		StartHeight:     42,
		Relay:           true,
	}

	s := bytestream.New(DefaultProtocolVersion)
	v.Serialize(s)

	got, err := DeserializeVersionPayload(s.Bytes())
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

func TestVersionPayloadTolerantOfMissingTrailingFields(t *testing.T) {
	// Only the fields up through nonce; user_agent/start_height/relay omitted,
	// as an older or minimal peer might send.
	s := bytestream.New(DefaultProtocolVersion)
	s.WriteInt32LE(DefaultProtocolVersion)
	s.WriteUint64LE(0)
	s.WriteInt64LE(0)
	NetworkAddress{}.serialize(s)
	NetworkAddress{}.serialize(s)
	s.WriteUint64LE(99)

	got, err := DeserializeVersionPayload(s.Bytes())
	require.NoError(t, err)
	assert.Equal(t, uint64(99), got.Nonce)
	assert.Empty(t, got.UserAgent)
	assert.False(t, got.Relay)
}

func TestVersionPayloadRejectsLowProtocolVersion(t *testing.T) {
	v := VersionPayload{ProtocolVersion: MinSupportedProtocolVersion - 1}
	s := bytestream.New(DefaultProtocolVersion)
	v.Serialize(s)

	_, err := DeserializeVersionPayload(s.Bytes())
	assert.ErrorIs(t, err, protoerr.ErrInvalidProtocolVersion)
}

func TestPingPongPayloadRoundTrip(t *testing.T) {
	p := PingPongPayload{Nonce: 0xdeadbeef}
	s := bytestream.New(DefaultProtocolVersion)
	p.Serialize(s)

	got, err := DeserializePingPongPayload(s.Bytes())
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestRejectPayloadRoundTrip(t *testing.T) {
	r := RejectPayload{
		Message: "inv",
		Code:    RejectDuplicate,
		Reason:  "already have this transaction",
		Extra:   []byte{1, 2, 3, 4},
	}
	s := bytestream.New(DefaultProtocolVersion)
	r.Serialize(s)

	got, err := DeserializeRejectPayload(s.Bytes())
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestRejectionCodeString(t *testing.T) {
	assert.Equal(t, "duplicate", RejectDuplicate.String())
	assert.Equal(t, "dust", RejectDust.String())
	assert.Equal(t, "absurdly-high-fee", RejectAbsurdlyHighFee.String())
	assert.Equal(t, "has-conflicts", RejectHasConflicts.String())
	assert.Equal(t, "unknown", RejectionCode(0xEE).String())
}
