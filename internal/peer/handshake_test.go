package peer

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/chainward/peernode/internal/protoerr"
	"github.com/chainward/peernode/internal/wire"
)

func newHandshakeTestPeer(t *testing.T, direction Direction) *Peer {
	t.Helper()
	connA, connB := net.Pipe()
	t.Cleanup(func() {
		_ = connA.Close()
		_ = connB.Close()
	})
	if direction == DirectionInbound {
		return NewInbound(1, connA, testSettings(1), zap.NewNop(), nil, nil, nil, nil)
	}
	return NewOutbound(1, connA, direction == DirectionOutboundSeed, testSettings(1), zap.NewNop(), nil, nil, nil, nil)
}

// This is the exact defect found during test-writing: an outbound peer
// receiving the remote's version must not be checked against the bit
// that tracks whether *we* already sent our own version.
func TestValidateForHandshakeAcceptsFirstVersionRegardlessOfDirection(t *testing.T) {
	for _, dir := range []Direction{DirectionInbound, DirectionOutboundRegular, DirectionOutboundSeed} {
		p := newHandshakeTestPeer(t, dir)
		p.handshakeStatus.Store(uint32(bitLocalVersionSent)) // as if pushVersion() already ran

		err := p.validateForHandshake(wire.KindVersion)
		assert.NoError(t, err, "direction %v", dir)
	}
}

func TestValidateForHandshakeRejectsDuplicateVersion(t *testing.T) {
	p := newHandshakeTestPeer(t, DirectionOutboundRegular)
	p.handshakeStatus.Store(uint32(bitLocalVersionSent | bitRemoteVersionReceived))

	err := p.validateForHandshake(wire.KindVersion)
	assert.ErrorIs(t, err, protoerr.ErrDuplicateHandshake)
}

func TestValidateForHandshakeRejectsDuplicateVerAck(t *testing.T) {
	p := newHandshakeTestPeer(t, DirectionInbound)
	p.handshakeStatus.Store(uint32(bitLocalVerAckReceived))

	err := p.validateForHandshake(wire.KindVerAck)
	assert.ErrorIs(t, err, protoerr.ErrDuplicateHandshake)
}

func TestValidateForHandshakeRejectsNonHandshakeMessageBeforeComplete(t *testing.T) {
	p := newHandshakeTestPeer(t, DirectionInbound)

	err := p.validateForHandshake(wire.KindPing)
	assert.ErrorIs(t, err, protoerr.ErrInvalidHandshake)
}

func TestValidateForHandshakeAcceptsNonHandshakeMessageAfterComplete(t *testing.T) {
	p := newHandshakeTestPeer(t, DirectionInbound)
	p.handshakeStatus.Store(uint32(handshakeComplete))

	err := p.validateForHandshake(wire.KindPing)
	assert.NoError(t, err)
}
