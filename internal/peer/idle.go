package peer

import "time"

// IsIdle evaluates the same priority-ordered checks as the original's
// is_idle: a stuck ping, a stalled handshake, a stalled in-flight
// inbound or outbound message, and finally plain inactivity. Exactly
// one reason is returned, or NotIdle if the peer is healthy.
func (p *Peer) IsIdle() IdleResult {
	if p.IsStopped() {
		return NotIdle
	}
	now := time.Now()

	if p.pingNonce.Load() != 0 {
		sentAt := p.lastPingSentAtNano.Load()
		if sentAt != 0 {
			elapsed := now.Sub(time.Unix(0, sentAt))
			if elapsed.Milliseconds() > int64(p.settings.PingTimeoutMilliseconds) {
				return ResultPingTimeout
			}
		}
	}

	if !p.HandshakeDone() {
		connectedAt := p.connectedAtNano.Load()
		if connectedAt != 0 {
			elapsed := now.Sub(time.Unix(0, connectedAt))
			if elapsed.Seconds() > float64(p.settings.ProtocolHandshakeTimeoutSeconds) {
				return ResultProtocolHandshakeTimeout
			}
		}
	}

	if start := p.inboundMessageStartAtNano.Load(); start != 0 {
		elapsed := now.Sub(time.Unix(0, start))
		if elapsed.Seconds() > float64(p.settings.InboundTimeoutSeconds) {
			return ResultInboundTimeout
		}
	}

	if start := p.outboundMessageStartAtNano.Load(); start != 0 {
		elapsed := now.Sub(time.Unix(0, start))
		if elapsed.Seconds() > float64(p.settings.OutboundTimeoutSeconds) {
			return ResultOutboundTimeout
		}
	}

	lastRecv := p.lastMessageReceivedAtNano.Load()
	lastSent := p.lastMessageSentAtNano.Load()
	mostRecent := lastRecv
	if lastSent > mostRecent {
		mostRecent = lastSent
	}
	if mostRecent != 0 {
		idleSeconds := now.Sub(time.Unix(0, mostRecent)).Seconds()
		if idleSeconds >= float64(p.settings.IdleTimeoutSeconds) {
			return ResultGlobalTimeout
		}
	}

	return NotIdle
}

// CheckIdle runs IsIdle and, if the peer is stale, invokes onIdle (if
// set) and stops the connection. Intended to be called from the
// owning Hub's periodic service tick.
func (p *Peer) CheckIdle() IdleResult {
	result := p.IsIdle()
	if result == NotIdle {
		return result
	}
	if p.onIdle != nil {
		p.onIdle(p, result)
	}
	p.Stop()
	return result
}
