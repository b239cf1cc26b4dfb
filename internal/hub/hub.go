// Package hub implements the connection hub: the TCP/TLS acceptor, the
// dial-out path, the peer registry, and the periodic service tick that
// sweeps idle peers and reports rolling bandwidth.
package hub

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/chainward/peernode/internal/config"
	"github.com/chainward/peernode/internal/metrics"
	"github.com/chainward/peernode/internal/peer"
	"github.com/chainward/peernode/internal/recentcache"
	"github.com/chainward/peernode/internal/tlsboot"
	"github.com/chainward/peernode/internal/wire"
)

// serviceTickInterval is the Hub's periodic housekeeping cadence:
// idle sweep, per-peer latency publish, rolling bandwidth.
const serviceTickInterval = 2 * time.Second

// Hub owns every connection's lifecycle: it accepts inbound
// connections, dials outbound ones (including configured seeds), and
// runs the 2-second service tick that evicts idle peers.
type Hub struct {
	cfg     *config.Config
	magic   [4]byte
	logger  *zap.Logger
	metrics *metrics.Registry
	cache   *recentcache.Cache

	tlsMaterial *tlsboot.Material

	listener net.Listener
	acceptRL *rate.Limiter

	nextID int64

	mu    sync.RWMutex
	peers map[int64]*peer.Peer

	activeInbound  atomic.Int32
	activeOutbound atomic.Int32
	totalConns     atomic.Int64
	totalDiscons   atomic.Int64
	totalRejected  atomic.Int64
	bytesSent      atomic.Int64
	bytesReceived  atomic.Int64
	lastTickSent   atomic.Int64
	lastTickRecv   atomic.Int64
	lastTickAtNano atomic.Int64

	onMessage peer.OnMessage
	nonce     uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New assembles a Hub from cfg; it does not yet listen or dial.
// onMessage is invoked for post-handshake messages any peer receives,
// except those the Peer handles itself (ping, pong, and a repeated
// inbound getaddr).
func New(cfg *config.Config, logger *zap.Logger, reg *metrics.Registry, cache *recentcache.Cache, material *tlsboot.Material, onMessage peer.OnMessage) (*Hub, error) {
	magicBytes, err := hex.DecodeString(cfg.Network.MagicHex)
	if err != nil || len(magicBytes) != 4 {
		return nil, fmt.Errorf("hub: invalid network magic %q", cfg.Network.MagicHex)
	}
	var magic [4]byte
	copy(magic[:], magicBytes)

	nonce := cfg.Network.Nonce
	if nonce == 0 {
		nonce = randomNonce()
	}

	return &Hub{
		cfg:         cfg,
		magic:       magic,
		logger:      logger,
		metrics:     reg,
		cache:       cache,
		tlsMaterial: material,
		acceptRL:    rate.NewLimiter(rate.Limit(50), 100),
		peers:       make(map[int64]*peer.Peer),
		onMessage:   onMessage,
		nonce:       nonce,
		stopCh:      make(chan struct{}),
	}, nil
}

// Start begins accepting connections, dials any configured seeds, and
// launches the service tick. ctx cancellation stops everything.
func (h *Hub) Start(ctx context.Context) error {
	listener, err := tlsboot.Listen(h.cfg.Network.LocalEndpoint, h.tlsMaterial)
	if err != nil {
		return fmt.Errorf("hub: listen on %s: %w", h.cfg.Network.LocalEndpoint, err)
	}
	h.listener = listener

	h.wg.Add(1)
	go h.acceptLoop(ctx)

	h.wg.Add(1)
	go h.serviceTickLoop(ctx)

	for _, seed := range h.cfg.Network.Seeds {
		h.dial(ctx, seed, true)
	}

	go func() {
		<-ctx.Done()
		h.Stop()
	}()

	return nil
}

// Stop closes the listener and every peer connection; safe to call
// more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.listener != nil {
			_ = h.listener.Close()
		}
		h.mu.RLock()
		peers := make([]*peer.Peer, 0, len(h.peers))
		for _, p := range h.peers {
			peers = append(peers, p)
		}
		h.mu.RUnlock()
		for _, p := range peers {
			p.Stop()
		}
	})
}

// Wait blocks until the accept loop and service tick have both exited.
func (h *Hub) Wait() { h.wg.Wait() }

// Addr reports the listener's bound address, including the ephemeral
// port the OS assigned when local_endpoint named port 0. Nil before
// Start.
func (h *Hub) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

func (h *Hub) acceptLoop(ctx context.Context) {
	defer h.wg.Done()
	for {
		conn, err := h.listener.Accept()
		if err != nil {
			select {
			case <-h.stopCh:
				return
			case <-ctx.Done():
				return
			default:
				h.logger.Warn("accept failed", zap.Error(err))
				continue
			}
		}

		if !h.acceptRL.Allow() {
			h.totalRejected.Add(1)
			if h.metrics != nil {
				h.metrics.ObserveRejectedConnection()
			}
			_ = conn.Close()
			continue
		}

		remoteIP := hostOf(conn.RemoteAddr())
		if h.cache != nil && h.cache.IsBanned(remoteIP) {
			h.totalRejected.Add(1)
			if h.metrics != nil {
				h.metrics.ObserveRejectedConnection()
			}
			_ = conn.Close()
			continue
		}

		if h.activePeerCount() >= h.cfg.Network.MaxPeers {
			h.totalRejected.Add(1)
			if h.metrics != nil {
				h.metrics.ObserveRejectedConnection()
			}
			_ = conn.Close()
			continue
		}

		h.adopt(ctx, conn, peer.DirectionInbound, false)
	}
}

// dial connects out to addr, tagging the resulting peer as a seed
// connection when seed is true (which additionally triggers a getaddr
// once its handshake completes).
func (h *Hub) dial(ctx context.Context, addr string, seed bool) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		conn, err := tlsboot.DialContext(dialCtx, addr, h.tlsMaterial)
		if err != nil {
			h.logger.Debug("dial failed", zap.String("addr", addr), zap.Error(err))
			return
		}

		dir := peer.DirectionOutboundRegular
		if seed {
			dir = peer.DirectionOutboundSeed
		}
		h.adopt(ctx, conn, dir, seed)
	}()
}

// Connect dials a single operator- or discovery-supplied address as a
// regular (non-seed) outbound peer.
func (h *Hub) Connect(ctx context.Context, addr string) {
	h.dial(ctx, addr, false)
}

func (h *Hub) adopt(ctx context.Context, conn net.Conn, direction peer.Direction, seed bool) {
	id := atomic.AddInt64(&h.nextID, 1)
	settings := h.peerSettingsFromConfig(h.cfg)

	var p *peer.Peer
	if direction == peer.DirectionInbound {
		p = peer.NewInbound(id, conn, settings, h.logger, h.cache, h.onMessage, h.onPeerData, h.onPeerIdle)
	} else {
		p = peer.NewOutbound(id, conn, seed, settings, h.logger, h.cache, h.onMessage, h.onPeerData, h.onPeerIdle)
	}

	h.mu.Lock()
	h.peers[id] = p
	h.mu.Unlock()

	h.totalConns.Add(1)
	if direction == peer.DirectionInbound {
		h.activeInbound.Add(1)
		if h.metrics != nil {
			h.metrics.ObserveConnectionOpened(metrics.DirectionInbound)
		}
	} else {
		h.activeOutbound.Add(1)
		if h.metrics != nil {
			h.metrics.ObserveConnectionOpened(metrics.DirectionOutbound)
		}
	}

	localVersion := h.localVersionFor(conn)
	if err := p.Start(ctx, localVersion); err != nil {
		h.logger.Debug("peer start failed", zap.Int64("peer_id", id), zap.Error(err))
		h.removePeer(id, direction)
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		p.Wait()
		h.removePeer(id, direction)
	}()
}

func (h *Hub) removePeer(id int64, direction peer.Direction) {
	h.mu.Lock()
	_, existed := h.peers[id]
	delete(h.peers, id)
	h.mu.Unlock()

	if !existed {
		return
	}

	h.totalDiscons.Add(1)
	if direction == peer.DirectionInbound {
		h.activeInbound.Add(-1)
		if h.metrics != nil {
			h.metrics.ObserveConnectionClosed(metrics.DirectionInbound)
		}
	} else {
		h.activeOutbound.Add(-1)
		if h.metrics != nil {
			h.metrics.ObserveConnectionClosed(metrics.DirectionOutbound)
		}
	}
	if h.metrics != nil {
		h.metrics.ForgetPeer(id)
	}
}

func (h *Hub) onPeerData(direction peer.DataDirection, n int) {
	switch direction {
	case peer.DirectionRead:
		h.bytesReceived.Add(int64(n))
		if h.metrics != nil {
			h.metrics.ObserveBytes(metrics.DirectionInbound, n)
		}
	case peer.DirectionWrite:
		h.bytesSent.Add(int64(n))
		if h.metrics != nil {
			h.metrics.ObserveBytes(metrics.DirectionOutbound, n)
		}
	}
}

func (h *Hub) onPeerIdle(p *peer.Peer, reason peer.IdleResult) {
	h.logger.Debug("disconnecting idle peer", zap.Int64("peer_id", p.ID()), zap.String("reason", reason.String()))
	if h.cache != nil {
		_ = h.cache.Ban(hostOf(p.RemoteAddr()))
	}
}

func (h *Hub) serviceTickLoop(ctx context.Context) {
	defer h.wg.Done()
	ticker := time.NewTicker(serviceTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.tick()
		}
	}
}

func (h *Hub) tick() {
	h.mu.RLock()
	peers := make([]*peer.Peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	for _, p := range peers {
		p.CheckIdle()
		if h.metrics != nil && p.EMALatencyMs() > 0 {
			h.metrics.ObservePeerLatency(p.ID(), p.EMALatencyMs())
		}
	}

	h.logRollingBandwidth()
}

// logRollingBandwidth computes bytes/second sent and received since the
// previous tick and logs it; the first call after startup has no prior
// sample to diff against and is skipped.
func (h *Hub) logRollingBandwidth() {
	now := time.Now().UnixNano()
	sent := h.bytesSent.Load()
	recv := h.bytesReceived.Load()

	prevAt := h.lastTickAtNano.Swap(now)
	prevSent := h.lastTickSent.Swap(sent)
	prevRecv := h.lastTickRecv.Swap(recv)

	if prevAt == 0 {
		return
	}

	elapsed := time.Duration(now - prevAt).Seconds()
	if elapsed <= 0 {
		return
	}

	h.logger.Debug("rolling bandwidth",
		zap.Float64("sent_bytes_per_sec", float64(sent-prevSent)/elapsed),
		zap.Float64("recv_bytes_per_sec", float64(recv-prevRecv)/elapsed),
		zap.Int("peers", h.activePeerCount()),
	)
}

func (h *Hub) activePeerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Snapshot reports the Hub's current counters, used by an operator CLI
// or health check (the registry itself is write-only from here on).
type Snapshot struct {
	ActiveInbound  int32
	ActiveOutbound int32
	TotalConns     int64
	TotalDiscons   int64
	TotalRejected  int64
	BytesSent      int64
	BytesReceived  int64
}

func (h *Hub) Snapshot() Snapshot {
	return Snapshot{
		ActiveInbound:  h.activeInbound.Load(),
		ActiveOutbound: h.activeOutbound.Load(),
		TotalConns:     h.totalConns.Load(),
		TotalDiscons:   h.totalDiscons.Load(),
		TotalRejected:  h.totalRejected.Load(),
		BytesSent:      h.bytesSent.Load(),
		BytesReceived:  h.bytesReceived.Load(),
	}
}

func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func (h *Hub) peerSettingsFromConfig(cfg *config.Config) peer.Settings {
	s := peer.DefaultSettings()
	s.Nonce = h.nonce
	s.PingIntervalSeconds = cfg.Network.PingIntervalSeconds
	s.PingTimeoutMilliseconds = cfg.Network.PingTimeoutMilliseconds
	s.ProtocolHandshakeTimeoutSeconds = cfg.Network.ProtocolHandshakeTimeoutSeconds
	s.InboundTimeoutSeconds = cfg.Network.InboundTimeoutSeconds
	s.OutboundTimeoutSeconds = cfg.Network.OutboundTimeoutSeconds
	s.IdleTimeoutSeconds = cfg.Network.IdleTimeoutSeconds
	magicBytes, _ := hex.DecodeString(cfg.Network.MagicHex)
	copy(s.Magic[:], magicBytes)
	return s
}

func (h *Hub) localVersionFor(conn net.Conn) wire.VersionPayload {
	port := h.cfg.ChainConfig.DefaultPort
	_, localPortStr, err := net.SplitHostPort(h.cfg.Network.LocalEndpoint)
	if err == nil {
		if p, perr := net.LookupPort("tcp", localPortStr); perr == nil && p != 0 {
			port = uint16(p)
		}
	}

	return wire.VersionPayload{
		ProtocolVersion: wire.DefaultProtocolVersion,
		Services:        0,
		Timestamp:       time.Now().Unix(),
		ReceiverAddress: addressOf(conn.RemoteAddr()),
		SenderAddress:   addressWithPort(conn.LocalAddr(), port),
		Nonce:           h.nonce,
		UserAgent:       "/peernode:0.1.0/",
		StartHeight:     0,
		Relay:           true,
	}
}

func addressOf(addr net.Addr) wire.NetworkAddress {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return wire.NetworkAddress{}
	}
	port, _ := net.LookupPort("tcp", portStr)
	var a wire.NetworkAddress
	ip := net.ParseIP(host).To16()
	copy(a.IP[:], ip)
	a.Port = uint16(port)
	return a
}

func addressWithPort(addr net.Addr, port uint16) wire.NetworkAddress {
	a := addressOf(addr)
	a.Port = port
	return a
}

func randomNonce() uint64 {
	var b [8]byte
	_, err := rand.Read(b[:])
	if err != nil {
		return 1
	}
	return binary.LittleEndian.Uint64(b[:])
}

