package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainward/peernode/internal/config"
	"github.com/chainward/peernode/internal/recentcache"
	"github.com/chainward/peernode/internal/tlsboot"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Network.LocalEndpoint = "127.0.0.1:0"
	cfg.Network.Nonce = 0
	return cfg
}

func testMaterial(t *testing.T) *tlsboot.Material {
	t.Helper()
	m, err := tlsboot.EnsureMaterial(t.TempDir(), "", true)
	require.NoError(t, err)
	return m
}

func testCache(t *testing.T) *recentcache.Cache {
	t.Helper()
	c, err := recentcache.New(time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewRejectsInvalidMagic(t *testing.T) {
	cfg := testConfig(t)
	cfg.Network.MagicHex = "not-hex"

	_, err := New(cfg, zap.NewNop(), nil, nil, testMaterial(t), nil)
	assert.Error(t, err)
}

func TestStartAndStopIsIdempotent(t *testing.T) {
	h, err := New(testConfig(t), zap.NewNop(), nil, nil, testMaterial(t), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, h.Start(ctx))
	require.NotNil(t, h.Addr())

	h.Stop()
	h.Stop() // must not panic on repeated Stop

	done := make(chan struct{})
	go func() { h.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not shut down")
	}
}

func TestTwoHubsCompleteHandshakeOverTLS(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfgA := testConfig(t)
	cfgA.Network.Nonce = 111
	hA, err := New(cfgA, zap.NewNop(), nil, nil, testMaterial(t), nil)
	require.NoError(t, err)
	require.NoError(t, hA.Start(ctx))
	defer hA.Stop()

	cfgB := testConfig(t)
	cfgB.Network.Nonce = 222
	hB, err := New(cfgB, zap.NewNop(), nil, nil, testMaterial(t), nil)
	require.NoError(t, err)
	require.NoError(t, hB.Start(ctx))
	defer hB.Stop()

	hB.Connect(ctx, hA.Addr().String())

	require.Eventually(t, func() bool {
		return hA.Snapshot().ActiveInbound == 1 && hB.Snapshot().ActiveOutbound == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSelfConnectNonceMatchDisconnects(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfgA := testConfig(t)
	cfgA.Network.Nonce = 555
	hA, err := New(cfgA, zap.NewNop(), nil, nil, testMaterial(t), nil)
	require.NoError(t, err)
	require.NoError(t, hA.Start(ctx))
	defer hA.Stop()

	cfgB := testConfig(t)
	cfgB.Network.Nonce = 555
	hB, err := New(cfgB, zap.NewNop(), nil, nil, testMaterial(t), nil)
	require.NoError(t, err)
	require.NoError(t, hB.Start(ctx))
	defer hB.Stop()

	hB.Connect(ctx, hA.Addr().String())

	require.Eventually(t, func() bool {
		return hA.Snapshot().TotalDiscons >= 1 || hB.Snapshot().TotalDiscons >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMaxPeersRejectsBeyondLimit(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfgA := testConfig(t)
	cfgA.Network.MaxPeers = 0
	hA, err := New(cfgA, zap.NewNop(), nil, nil, testMaterial(t), nil)
	require.NoError(t, err)
	require.NoError(t, hA.Start(ctx))
	defer hA.Stop()

	cfgB := testConfig(t)
	hB, err := New(cfgB, zap.NewNop(), nil, nil, testMaterial(t), nil)
	require.NoError(t, err)
	require.NoError(t, hB.Start(ctx))
	defer hB.Stop()

	hB.Connect(ctx, hA.Addr().String())

	require.Eventually(t, func() bool {
		return hA.Snapshot().TotalRejected >= 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(0), hA.Snapshot().ActiveInbound)
}

func TestBannedAddressRejectedOnAccept(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cache := testCache(t)
	require.NoError(t, cache.Ban("127.0.0.1"))

	cfgA := testConfig(t)
	hA, err := New(cfgA, zap.NewNop(), nil, cache, testMaterial(t), nil)
	require.NoError(t, err)
	require.NoError(t, hA.Start(ctx))
	defer hA.Stop()

	cfgB := testConfig(t)
	hB, err := New(cfgB, zap.NewNop(), nil, nil, testMaterial(t), nil)
	require.NoError(t, err)
	require.NoError(t, hB.Start(ctx))
	defer hB.Stop()

	hB.Connect(ctx, hA.Addr().String())

	require.Eventually(t, func() bool {
		return hA.Snapshot().TotalRejected >= 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(0), hA.Snapshot().ActiveInbound)
}

func TestTickComputesRollingBandwidthDelta(t *testing.T) {
	h, err := New(testConfig(t), zap.NewNop(), nil, nil, testMaterial(t), nil)
	require.NoError(t, err)

	h.bytesSent.Store(1000)
	h.bytesReceived.Store(2000)
	h.tick() // first tick only seeds lastTick*; no prior sample to diff

	assert.Equal(t, int64(1000), h.lastTickSent.Load())
	assert.Equal(t, int64(2000), h.lastTickRecv.Load())

	h.lastTickAtNano.Store(time.Now().Add(-time.Second).UnixNano())
	h.bytesSent.Store(1500)
	h.bytesReceived.Store(2200)
	h.tick()

	assert.Equal(t, int64(1500), h.lastTickSent.Load())
	assert.Equal(t, int64(2200), h.lastTickRecv.Load())
}

func TestContextCancellationStopsHub(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	h, err := New(testConfig(t), zap.NewNop(), nil, nil, testMaterial(t), nil)
	require.NoError(t, err)
	require.NoError(t, h.Start(ctx))

	cancel()

	done := make(chan struct{})
	go func() { h.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop after context cancellation")
	}
}
