package peer

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainward/peernode/internal/bytestream"
	"github.com/chainward/peernode/internal/protoerr"
	"github.com/chainward/peernode/internal/recentcache"
	"github.com/chainward/peernode/internal/wire"
)

func newDispatchTestPeer(t *testing.T, direction Direction, nonce uint64, cache *recentcache.Cache) *Peer {
	t.Helper()
	connA, connB := net.Pipe()
	t.Cleanup(func() {
		_ = connA.Close()
		_ = connB.Close()
	})
	settings := testSettings(nonce)
	if direction == DirectionInbound {
		return NewInbound(1, connA, settings, zap.NewNop(), cache, nil, nil, nil)
	}
	return NewOutbound(1, connA, direction == DirectionOutboundSeed, settings, zap.NewNop(), cache, nil, nil, nil)
}

// makeMessage builds a Message whose Header.Kind() resolves to kind,
// without going through the wire transport.
func makeMessage(t *testing.T, kind wire.Kind, payload []byte) wire.Message {
	t.Helper()
	def, ok := wire.LookupKind(kind)
	require.True(t, ok)
	var h wire.Header
	require.NoError(t, h.SetCommand(def.Command))
	h.PayloadLength = uint32(len(payload))
	return wire.Message{Header: h, Payload: payload}
}

func versionMessage(t *testing.T, nonce uint64) wire.Message {
	s := bytestream.New(wire.DefaultProtocolVersion)
	wire.VersionPayload{ProtocolVersion: wire.DefaultProtocolVersion, Nonce: nonce}.Serialize(s)
	return makeMessage(t, wire.KindVersion, s.Bytes())
}

func pingPongMessage(t *testing.T, kind wire.Kind, nonce uint64) wire.Message {
	s := bytestream.New(wire.DefaultProtocolVersion)
	wire.PingPongPayload{Nonce: nonce}.Serialize(s)
	return makeMessage(t, kind, s.Bytes())
}

func TestHandleVersionSelfConnectReturnsInvalidMessageState(t *testing.T) {
	p := newDispatchTestPeer(t, DirectionOutboundRegular, 999, nil)

	err := p.handleVersion(versionMessage(t, 999))

	require.Error(t, err)
	assert.ErrorIs(t, err, protoerr.ErrInvalidMessageState)
	assert.NotErrorIs(t, err, protoerr.ErrInvalidHandshake)
}

func TestHandlePongWithNoOutstandingNonceIsInvalidMessageState(t *testing.T) {
	p := newDispatchTestPeer(t, DirectionInbound, 1, nil)

	err := p.handlePong(pingPongMessage(t, wire.KindPong, 42))

	assert.ErrorIs(t, err, protoerr.ErrInvalidMessageState)
	assert.NotErrorIs(t, err, protoerr.ErrMismatchingPingPongNonce)
}

func TestHandlePongWithWrongNonceIsMismatching(t *testing.T) {
	p := newDispatchTestPeer(t, DirectionInbound, 1, nil)
	p.pingNonce.Store(7)

	err := p.handlePong(pingPongMessage(t, wire.KindPong, 8))

	assert.ErrorIs(t, err, protoerr.ErrMismatchingPingPongNonce)
}

func TestHandlePongWithMatchingNonceSucceeds(t *testing.T) {
	p := newDispatchTestPeer(t, DirectionInbound, 1, nil)
	p.pingNonce.Store(7)

	err := p.handlePong(pingPongMessage(t, wire.KindPong, 7))

	assert.NoError(t, err)
}

func TestHandleGetAddrInboundIgnoresSecondRequestInSameSession(t *testing.T) {
	p := newDispatchTestPeer(t, DirectionInbound, 1, nil)
	p.handshakeStatus.Store(uint32(handshakeComplete))

	var forwarded int
	p.onMessage = func(*Peer, wire.Message) { forwarded++ }

	msg := makeMessage(t, wire.KindGetAddr, nil)
	require.NoError(t, p.handleGetAddr(msg))
	require.NoError(t, p.handleGetAddr(msg))

	assert.Equal(t, 1, forwarded)
}

func TestHandleGetAddrInboundHonorsCacheAcrossReconnect(t *testing.T) {
	cache, err := recentcache.New(time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	p := newDispatchTestPeer(t, DirectionInbound, 1, cache)
	require.NoError(t, cache.MarkGetAddrServed(hostOf(p.conn.RemoteAddr())))

	p.handshakeStatus.Store(uint32(handshakeComplete))

	var forwarded int
	p.onMessage = func(*Peer, wire.Message) { forwarded++ }

	require.NoError(t, p.handleGetAddr(makeMessage(t, wire.KindGetAddr, nil)))
	assert.Equal(t, 0, forwarded, "cache should remember getaddr was already served to this address")
}

func TestHandleGetAddrSeedOutboundForwardsThenDisconnects(t *testing.T) {
	p := newDispatchTestPeer(t, DirectionOutboundSeed, 1, nil)
	p.handshakeStatus.Store(uint32(handshakeComplete))

	var forwarded int
	p.onMessage = func(*Peer, wire.Message) { forwarded++ }

	require.NoError(t, p.handleGetAddr(makeMessage(t, wire.KindGetAddr, nil)))

	assert.Equal(t, 1, forwarded)
	assert.True(t, p.IsStopped())
}

func TestReadLoopDisconnectsOnMessageFlood(t *testing.T) {
	settings := testSettings(1)
	settings.MaxMessagesPerRead = 1

	connA, connB := net.Pipe()
	t.Cleanup(func() { _ = connA.Close(); _ = connB.Close() })

	p := NewInbound(1, connA, settings, zap.NewNop(), nil, nil, nil, nil)
	p.handshakeStatus.Store(uint32(handshakeComplete))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	p.wg.Add(1)
	go p.readLoop(ctx)

	frame1, err := wire.Push(wire.KindPing, testMagic, mustPingBytes(t, 1))
	require.NoError(t, err)
	frame2, err := wire.Push(wire.KindPing, testMagic, mustPingBytes(t, 2))
	require.NoError(t, err)

	go func() {
		_, _ = connB.Write(append(frame1.Bytes(), frame2.Bytes()...))
	}()

	require.Eventually(t, func() bool { return p.IsStopped() }, time.Second, 5*time.Millisecond)
}

func mustPingBytes(t *testing.T, nonce uint64) []byte {
	t.Helper()
	s := bytestream.New(wire.DefaultProtocolVersion)
	wire.PingPongPayload{Nonce: nonce}.Serialize(s)
	return s.Bytes()
}

// eofWithPayloadConn hands back exactly one payload together with io.EOF on
// the same Read call, mimicking a remote peer that writes its last message
// and closes the connection within the same TCP segment.
type eofWithPayloadConn struct {
	net.Conn
	payload []byte
	served  bool
}

func (c *eofWithPayloadConn) Read(b []byte) (int, error) {
	if c.served {
		return 0, io.EOF
	}
	c.served = true
	n := copy(b, c.payload)
	return n, io.EOF
}

func TestReadLoopDispatchesFinalMessageDeliveredWithEOF(t *testing.T) {
	connA, connB := net.Pipe()
	t.Cleanup(func() { _ = connA.Close(); _ = connB.Close() })

	frame, err := wire.Push(wire.KindGetAddr, testMagic, nil)
	require.NoError(t, err)

	p := NewInbound(1, &eofWithPayloadConn{Conn: connA, payload: frame.Bytes()}, testSettings(1), zap.NewNop(), nil, nil, nil, nil)
	p.handshakeStatus.Store(uint32(handshakeComplete))

	var received []wire.Message
	p.onMessage = func(_ *Peer, msg wire.Message) { received = append(received, msg) }

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	p.wg.Add(1)
	p.readLoop(ctx)

	require.Len(t, received, 1)
	assert.Equal(t, wire.KindGetAddr, received[0].Kind())
}
