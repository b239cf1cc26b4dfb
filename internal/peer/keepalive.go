package peer

import (
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// randomizeDuration jitters base by up to +/-fraction, mirroring the
// original's randomize<uint32_t>(seconds, 0.30F) used to stagger ping
// intervals across peers so they don't all fire in lockstep.
func randomizeDuration(base time.Duration, fraction float64) time.Duration {
	if base <= 0 {
		return base
	}
	delta := (rand.Float64()*2 - 1) * fraction
	return time.Duration(float64(base) * (1 + delta))
}

// startKeepAlive sends an immediate ping and then reschedules itself
// with a freshly jittered interval after every expiry, for as long as
// the peer is alive.
func (p *Peer) startKeepAlive() {
	interval := randomizeDuration(time.Duration(p.settings.PingIntervalSeconds)*time.Second, 0.30)
	p.fireKeepAlive(interval)
}

func (p *Peer) fireKeepAlive(interval time.Duration) {
	go func() {
		timer := time.NewTimer(0) // fire the first ping immediately
		defer timer.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-timer.C:
				next := p.onPingTimerExpired()
				if next <= 0 {
					return
				}
				timer.Reset(next)
			}
		}
	}()
}

// onPingTimerExpired sends a ping if none is outstanding and returns the
// (freshly jittered) interval before the next firing, or zero to stop
// the timer entirely (only happens if the push itself fails).
func (p *Peer) onPingTimerExpired() time.Duration {
	if p.pingNonce.Load() != 0 {
		// still waiting on a pong; don't pile on another ping
		return randomizeDuration(time.Duration(p.settings.PingIntervalSeconds)*time.Second, 0.30)
	}

	p.lastPingSentAtNano.Store(0)
	nonce := rand.Uint64()
	if nonce == 0 {
		nonce = 1
	}
	p.pingNonce.Store(nonce)
	p.lastPingSentAtNano.Store(time.Now().UnixNano())

	if err := p.pushPing(nonce); err != nil {
		p.logger.Debug("ping push failed, disconnecting", zap.Error(err))
		p.Stop()
		return 0
	}

	return randomizeDuration(time.Duration(p.settings.PingIntervalSeconds)*time.Second, 0.30)
}

// processPingLatency updates the min/EMA latency trackers for a
// completed ping round-trip, disconnecting if the round trip itself
// exceeded the configured timeout.
func (p *Peer) processPingLatency(latencyMs uint64) {
	timeoutMs := uint64(p.settings.PingTimeoutMilliseconds)
	if timeoutMs > 0 && latencyMs > timeoutMs {
		p.logger.Warn("ping timeout, disconnecting", zap.Uint64("latency_ms", latencyMs), zap.Uint64("max_ms", timeoutMs))
		p.Stop()
		return
	}

	if min := p.minPingLatencyMs.Load(); min == 0 || latencyMs < min {
		p.minPingLatencyMs.Store(latencyMs)
	}

	const alpha = 0.65
	if ema := p.emaPingLatencyMs.Load(); ema == 0 {
		p.emaPingLatencyMs.Store(latencyMs)
	} else {
		newEMA := alpha*float64(latencyMs) + (1-alpha)*float64(ema)
		p.emaPingLatencyMs.Store(uint64(newEMA))
	}

	p.pingNonce.Store(0)
	p.lastPingSentAtNano.Store(0)
}
