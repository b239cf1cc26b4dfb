package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/chainward/peernode/internal/bytestream"
	"github.com/chainward/peernode/internal/protoerr"
	"github.com/chainward/peernode/internal/recentcache"
	"github.com/chainward/peernode/internal/wire"
)

// Peer owns one connection's entire lifecycle: handshake, keep-alive,
// idle detection, and the read/write loops. Unlike the original's
// asio-strand-serialized callbacks, outbound writes are serialized by a
// single internal goroutine draining a FIFO channel, and all
// cross-goroutine state is either atomic or touched only from that
// goroutine.
type Peer struct {
	id        int64
	conn      net.Conn
	direction Direction
	settings  Settings
	logger    *zap.Logger

	onMessage OnMessage
	onData    OnData
	onIdle    func(p *Peer, reason IdleResult)

	cache         *recentcache.Cache
	getAddrServed atomic.Bool

	localNonce uint64

	handshakeStatus atomic.Uint32

	pingNonce        atomic.Uint64
	minPingLatencyMs atomic.Uint64
	emaPingLatencyMs atomic.Uint64

	connectedAtNano            atomic.Int64
	lastPingSentAtNano         atomic.Int64
	lastMessageReceivedAtNano  atomic.Int64
	lastMessageSentAtNano      atomic.Int64
	inboundMessageStartAtNano  atomic.Int64
	outboundMessageStartAtNano atomic.Int64

	outbound chan []byte

	stopOnce sync.Once
	stopCh   chan struct{}
	stopped  atomic.Bool

	wg sync.WaitGroup
}

// New constructs a Peer around an already-established (and, if
// required, already TLS-handshaked) connection. Call Start to begin the
// read/write loops and send the local version message.
func New(cfg connConfig) *Peer {
	p := &Peer{
		id:         cfg.id,
		conn:       cfg.conn,
		direction:  cfg.direction,
		settings:   cfg.settings,
		logger:     cfg.logger.With(zap.Int64("peer_id", cfg.id), zap.String("remote", cfg.conn.RemoteAddr().String())),
		onMessage:  cfg.onMessage,
		onData:     cfg.onData,
		onIdle:     cfg.onIdle,
		cache:      cfg.cache,
		localNonce: cfg.settings.Nonce,
		outbound:   make(chan []byte, cfg.settings.OutboundQueueDepth),
		stopCh:     make(chan struct{}),
	}
	return p
}

// NewInbound is the constructor the Hub's accept loop uses. cache may be
// nil, in which case the getaddr anti-fingerprinting rule falls back to
// per-connection memory only (no cross-reconnect tracking).
func NewInbound(id int64, conn net.Conn, settings Settings, logger *zap.Logger, cache *recentcache.Cache, onMessage OnMessage, onData OnData, onIdle func(*Peer, IdleResult)) *Peer {
	return New(connConfig{conn: conn, id: id, direction: DirectionInbound, settings: settings, logger: logger, cache: cache, onMessage: onMessage, onData: onData, onIdle: onIdle})
}

// NewOutbound is the constructor the Hub's dial-out path uses; seed is
// true for connections made to a configured seed node.
func NewOutbound(id int64, conn net.Conn, seed bool, settings Settings, logger *zap.Logger, cache *recentcache.Cache, onMessage OnMessage, onData OnData, onIdle func(*Peer, IdleResult)) *Peer {
	dir := DirectionOutboundRegular
	if seed {
		dir = DirectionOutboundSeed
	}
	return New(connConfig{conn: conn, id: id, direction: dir, settings: settings, logger: logger, cache: cache, onMessage: onMessage, onData: onData, onIdle: onIdle})
}

// hostOf extracts the bare IP from a net.Addr, tolerating addresses that
// don't split into host:port (e.g. net.Pipe's pipeAddr in tests).
func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// mustf logs an error-severity message and exits the process with
// status 2. It exists
// for local invariant violations that indicate a programming error
// rather than anything a remote peer could trigger or that the caller
// could recover from.
func mustf(logger *zap.Logger, msg string, fields ...zap.Field) {
	logger.Error(msg, fields...)
	os.Exit(2)
}

func (p *Peer) ID() int64          { return p.id }
func (p *Peer) Direction() Direction { return p.direction }
func (p *Peer) RemoteAddr() net.Addr { return p.conn.RemoteAddr() }
func (p *Peer) LocalAddr() net.Addr  { return p.conn.LocalAddr() }
func (p *Peer) IsStopped() bool      { return p.stopped.Load() }

func (p *Peer) HandshakeDone() bool {
	return handshakeBit(p.handshakeStatus.Load()) == handshakeComplete
}

// MinLatencyMs and EMALatencyMs report the keep-alive latency tracking
// state; both are zero until the first ping round-trip completes.
func (p *Peer) MinLatencyMs() uint64 { return p.minPingLatencyMs.Load() }
func (p *Peer) EMALatencyMs() uint64 { return p.emaPingLatencyMs.Load() }

// Start begins the peer's lifecycle: it records timestamps, launches
// the read and write loops, and (for a non-TLS-pending connection) kicks
// off the handshake by sending the local version message. ctx cancels
// both loops and closes the connection when done.
func (p *Peer) Start(ctx context.Context, localVersion wire.VersionPayload) error {
	now := time.Now().UnixNano()
	p.connectedAtNano.Store(now)
	p.lastMessageReceivedAtNano.Store(now)
	p.lastMessageSentAtNano.Store(now)

	p.wg.Add(2)
	go p.readLoop(ctx)
	go p.writeLoop(ctx)

	go func() {
		<-ctx.Done()
		p.Stop()
	}()

	return p.pushVersion(localVersion)
}

// Stop closes the connection and unblocks both loops; safe to call
// more than once and from any goroutine.
func (p *Peer) Stop() {
	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		close(p.stopCh)
		_ = p.conn.Close()
	})
}

// Wait blocks until both the read and write loops have exited.
func (p *Peer) Wait() { p.wg.Wait() }

func (p *Peer) pushVersion(v wire.VersionPayload) error {
	if handshakeBit(p.handshakeStatus.Load())&bitLocalVersionSent != 0 {
		mustf(p.logger, "local version already sent", zap.Uint32("handshake_status", p.handshakeStatus.Load()))
	}
	s := bytestream.New(wire.DefaultProtocolVersion)
	v.Serialize(s)
	if err := p.enqueue(wire.KindVersion, s.Bytes()); err != nil {
		return err
	}
	p.markHandshakeBit(bitLocalVersionSent)
	return nil
}

func (p *Peer) pushVerAck() error {
	if handshakeBit(p.handshakeStatus.Load())&bitRemoteVerAckSent != 0 {
		mustf(p.logger, "verack already sent", zap.Uint32("handshake_status", p.handshakeStatus.Load()))
	}
	if err := p.enqueue(wire.KindVerAck, nil); err != nil {
		return err
	}
	p.markHandshakeBit(bitRemoteVerAckSent)
	return nil
}

func (p *Peer) pushGetAddr() error {
	return p.enqueue(wire.KindGetAddr, nil)
}

func (p *Peer) pushPing(nonce uint64) error {
	s := bytestream.New(wire.DefaultProtocolVersion)
	wire.PingPongPayload{Nonce: nonce}.Serialize(s)
	return p.enqueue(wire.KindPing, s.Bytes())
}

func (p *Peer) pushPong(nonce uint64) error {
	s := bytestream.New(wire.DefaultProtocolVersion)
	wire.PingPongPayload{Nonce: nonce}.Serialize(s)
	return p.enqueue(wire.KindPong, s.Bytes())
}

// enqueue serializes one framed message and hands it to the write
// loop's FIFO queue. It returns protoerr.ErrTransportClosed if the peer
// is already stopping and the queue can't accept more work.
func (p *Peer) enqueue(kind wire.Kind, payload []byte) error {
	framed, err := wire.Push(kind, p.settings.Magic, payload)
	if err != nil {
		return err
	}
	select {
	case p.outbound <- framed.Bytes():
		return nil
	case <-p.stopCh:
		return protoerr.ErrTransportClosed
	}
}

func (p *Peer) markHandshakeBit(bit handshakeBit) {
	p.handshakeStatus.Store(uint32(handshakeBit(p.handshakeStatus.Load()) | bit))
}

// readLoop pulls raw bytes off the transport and hands them to the
// wire.Parser, dispatching each completed Message. It reads at most
// MaxBytesPerIO bytes per Read, and disconnects the peer
// (ErrMessagesFlooding) without dispatching when a single Read completes
// more than MaxMessagesPerRead messages, bounding how much work one
// readiness notification can trigger (kMaxBytesPerIO /
// kMaxMessagesPerRead in the original).
func (p *Peer) readLoop(ctx context.Context) {
	defer p.wg.Done()
	defer p.Stop()

	parser := wire.NewParser(p.settings.Magic)
	buf := make([]byte, p.settings.MaxBytesPerIO)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		p.inboundMessageStartAtNano.Store(time.Now().UnixNano())
		n, readErr := p.conn.Read(buf)
		if n > 0 && p.onData != nil {
			p.onData(DirectionRead, n)
		}
		p.inboundMessageStartAtNano.Store(0)

		if n > 0 {
			messages, perr := parser.Feed(buf[:n])
			if perr != nil {
				p.logger.Debug("framing error", zap.Error(perr))
			}

			if len(messages) > p.settings.MaxMessagesPerRead {
				p.logger.Debug("disconnecting peer",
					zap.Int("count", len(messages)), zap.Int("limit", p.settings.MaxMessagesPerRead),
					zap.Error(protoerr.ErrMessagesFlooding))
				return
			}

			for _, msg := range messages {
				if derr := p.dispatch(msg); derr != nil {
					p.logger.Debug("dispatch failed", zap.Error(derr))
					return
				}
			}

			if perr != nil && protoerr.IsFatal(perr) {
				return
			}
		}

		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				p.logger.Debug("read failed", zap.Error(readErr))
			}
			return
		}
	}
}

// writeLoop drains the outbound queue in FIFO order, one full framed
// message per Write call.
func (p *Peer) writeLoop(ctx context.Context) {
	defer p.wg.Done()
	defer p.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case frame := <-p.outbound:
			p.outboundMessageStartAtNano.Store(time.Now().UnixNano())
			n, err := p.conn.Write(frame)
			if n > 0 && p.onData != nil {
				p.onData(DirectionWrite, n)
			}
			p.outboundMessageStartAtNano.Store(0)
			if err != nil {
				p.logger.Debug("write failed", zap.Error(err))
				return
			}
			p.lastMessageSentAtNano.Store(time.Now().UnixNano())
		}
	}
}

// dispatch validates a message against the handshake state machine,
// handles version/verack/ping/pong internally, and forwards everything
// else to the owning Hub via onMessage.
func (p *Peer) dispatch(msg wire.Message) error {
	if err := p.validateForHandshake(msg.Kind()); err != nil {
		return err
	}

	switch msg.Kind() {
	case wire.KindVersion:
		return p.handleVersion(msg)
	case wire.KindVerAck:
		return p.handleVerAck()
	case wire.KindPing:
		return p.handlePing(msg)
	case wire.KindPong:
		return p.handlePong(msg)
	case wire.KindGetAddr:
		return p.handleGetAddr(msg)
	default:
		p.forwardMessage(msg)
		return nil
	}
}

// forwardMessage records the receipt timestamp and hands msg to the
// owning Hub's callback; shared by the default dispatch case and any
// message kind that still needs to reach the application after
// peer-local handling.
func (p *Peer) forwardMessage(msg wire.Message) {
	p.lastMessageReceivedAtNano.Store(time.Now().UnixNano())
	if p.onMessage != nil {
		p.onMessage(p, msg)
	}
}

// handleGetAddr implements the anti-fingerprinting rule: an inbound
// peer that has already been served a getaddr response (in this
// session, or within the cache's TTL across a reconnect) is ignored
// silently rather than answered again. A seed-outbound connection is
// disconnected once it has surfaced its getaddr to the application,
// since the only reason to dial a seed is to bootstrap addresses.
func (p *Peer) handleGetAddr(msg wire.Message) error {
	remoteIP := hostOf(p.conn.RemoteAddr())

	if p.direction == DirectionInbound {
		alreadySeen := p.getAddrServed.Swap(true)
		if !alreadySeen && p.cache != nil {
			alreadySeen = p.cache.RecentlyServedGetAddr(remoteIP)
		}
		if alreadySeen {
			return nil
		}
		if p.cache != nil {
			_ = p.cache.MarkGetAddrServed(remoteIP)
		}
	}

	p.forwardMessage(msg)

	if p.direction == DirectionOutboundSeed {
		p.Stop()
	}
	return nil
}

func (p *Peer) handleVersion(msg wire.Message) error {
	v, err := wire.DeserializeVersionPayload(msg.Payload)
	if err != nil {
		return err
	}
	if v.Nonce == p.localNonce {
		return fmt.Errorf("self-connect detected (nonce %d): %w", v.Nonce, protoerr.ErrInvalidMessageState)
	}
	p.markHandshakeBit(bitRemoteVersionReceived)
	return p.pushVerAck()
}

func (p *Peer) handleVerAck() error {
	p.markHandshakeBit(bitLocalVerAckReceived)
	if p.HandshakeDone() {
		p.onHandshakeCompleted()
	}
	return nil
}

func (p *Peer) handlePing(msg wire.Message) error {
	pp, err := wire.DeserializePingPongPayload(msg.Payload)
	if err != nil {
		return err
	}
	return p.pushPong(pp.Nonce)
}

func (p *Peer) handlePong(msg wire.Message) error {
	pp, err := wire.DeserializePingPongPayload(msg.Payload)
	if err != nil {
		return err
	}
	expected := p.pingNonce.Load()
	if expected == 0 {
		return protoerr.ErrInvalidMessageState
	}
	if pp.Nonce != expected {
		return protoerr.ErrMismatchingPingPongNonce
	}

	sentAt := p.lastPingSentAtNano.Load()
	latencyMs := uint64(0)
	if sentAt != 0 {
		latencyMs = uint64(time.Since(time.Unix(0, sentAt)) / time.Millisecond)
	}
	p.processPingLatency(latencyMs)
	return nil
}

