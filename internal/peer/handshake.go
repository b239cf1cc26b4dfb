package peer

import (
	"go.uber.org/zap"

	"github.com/chainward/peernode/internal/protoerr"
	"github.com/chainward/peernode/internal/wire"
)

// validateForHandshake enforces the original's rule: only version and
// verack are accepted before the handshake completes, and everything
// else is accepted only after. A repeated version or verack past its
// single legitimate occurrence is a protocol error, not silently
// ignored, since it typically signals a confused or malicious peer.
func (p *Peer) validateForHandshake(kind wire.Kind) error {
	switch kind {
	case wire.KindVersion, wire.KindVerAck:
		if p.HandshakeDone() {
			return protoerr.ErrDuplicateHandshake
		}
	default:
		if !p.HandshakeDone() {
			return protoerr.ErrInvalidHandshake
		}
		return nil
	}

	// An incoming version is always the remote's version, and an incoming
	// verack always acknowledges our own version — both independent of
	// which side dialed the connection.
	bit := bitLocalVerAckReceived
	if kind == wire.KindVersion {
		bit = bitRemoteVersionReceived
	}

	current := handshakeBit(p.handshakeStatus.Load())
	if current&bit == bit {
		return protoerr.ErrDuplicateHandshake
	}

	return nil
}

// onHandshakeCompleted fires exactly once per session, right after the
// final handshake bit is set: seed connections request a peer address
// list, and the keep-alive ping timer starts.
func (p *Peer) onHandshakeCompleted() {
	if p.IsStopped() {
		return
	}

	if p.direction == DirectionOutboundSeed {
		if err := p.pushGetAddr(); err != nil {
			p.logger.Debug("getaddr push failed", zap.Error(err))
		}
	}

	p.startKeepAlive()
}
