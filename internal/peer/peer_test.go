package peer

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainward/peernode/internal/wire"
)

var testMagic = [4]byte{0xf9, 0xbe, 0xb4, 0xd9}

func testSettings(nonce uint64) Settings {
	s := DefaultSettings()
	s.Magic = testMagic
	s.Nonce = nonce
	s.PingIntervalSeconds = 3600 // keep-alive shouldn't fire mid-test
	s.MaxBytesPerIO = 4096
	s.MaxMessagesPerRead = 16
	s.OutboundQueueDepth = 16
	return s
}

func versionFor(nonce uint64) wire.VersionPayload {
	return wire.VersionPayload{
		ProtocolVersion: wire.DefaultProtocolVersion,
		Nonce:           nonce,
		UserAgent:       "/peernode-test/",
	}
}

func TestHandshakeCompletesSymmetrically(t *testing.T) {
	connA, connB := net.Pipe()
	logger := zap.NewNop()

	var received []wire.Kind
	onMessage := func(p *Peer, msg wire.Message) { received = append(received, msg.Kind()) }

	peerA := NewOutbound(1, connA, false, testSettings(111), logger, nil, onMessage, nil, nil)
	peerB := NewInbound(2, connB, testSettings(222), logger, nil, onMessage, nil, nil)
	defer peerA.Stop()
	defer peerB.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, peerA.Start(ctx, versionFor(111)))
	require.NoError(t, peerB.Start(ctx, versionFor(222)))

	require.Eventually(t, func() bool {
		return peerA.HandshakeDone() && peerB.HandshakeDone()
	}, time.Second, 5*time.Millisecond)

	assert.False(t, peerA.IsStopped())
	assert.False(t, peerB.IsStopped())
}

func TestSelfConnectDetectedAndDisconnects(t *testing.T) {
	connA, connB := net.Pipe()
	logger := zap.NewNop()

	peerA := NewOutbound(1, connA, false, testSettings(999), logger, nil, nil, nil, nil)
	peerB := NewInbound(2, connB, testSettings(999), logger, nil, nil, nil, nil)
	defer peerA.Stop()
	defer peerB.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, peerA.Start(ctx, versionFor(999)))
	require.NoError(t, peerB.Start(ctx, versionFor(999)))

	require.Eventually(t, func() bool {
		return peerA.IsStopped() || peerB.IsStopped()
	}, time.Second, 5*time.Millisecond)
}

func TestSeedOutboundRequestsAddressesAfterHandshake(t *testing.T) {
	connA, connB := net.Pipe()
	logger := zap.NewNop()

	received := make(chan wire.Kind, 4)
	onMessage := func(p *Peer, msg wire.Message) { received <- msg.Kind() }

	peerA := NewOutbound(1, connA, true, testSettings(1), logger, nil, nil, nil, nil)
	peerB := NewInbound(2, connB, testSettings(2), logger, nil, onMessage, nil, nil)
	defer peerA.Stop()
	defer peerB.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, peerA.Start(ctx, versionFor(1)))
	require.NoError(t, peerB.Start(ctx, versionFor(2)))

	select {
	case kind := <-received:
		assert.Equal(t, wire.KindGetAddr, kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for getaddr from seed peer")
	}
}
