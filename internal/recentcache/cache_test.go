package recentcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBanAndIsBanned(t *testing.T) {
	c, err := New(time.Minute)
	require.NoError(t, err)
	defer c.Close()

	assert.False(t, c.IsBanned("10.0.0.1"))

	require.NoError(t, c.Ban("10.0.0.1"))
	assert.True(t, c.IsBanned("10.0.0.1"))
	assert.False(t, c.IsBanned("10.0.0.2"))
}

func TestMarkGetAddrServedAndRecentlyServed(t *testing.T) {
	c, err := New(time.Minute)
	require.NoError(t, err)
	defer c.Close()

	assert.False(t, c.RecentlyServedGetAddr("10.0.0.1"))

	require.NoError(t, c.MarkGetAddrServed("10.0.0.1"))
	assert.True(t, c.RecentlyServedGetAddr("10.0.0.1"))
}

func TestBanAndGetAddrKeysDoNotCollide(t *testing.T) {
	c, err := New(time.Minute)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Ban("10.0.0.1"))
	assert.True(t, c.IsBanned("10.0.0.1"))
	assert.False(t, c.RecentlyServedGetAddr("10.0.0.1"))

	require.NoError(t, c.MarkGetAddrServed("10.0.0.1"))
	assert.True(t, c.RecentlyServedGetAddr("10.0.0.1"))
	assert.True(t, c.IsBanned("10.0.0.1"))
}

func TestEntriesExpireAfterTTL(t *testing.T) {
	// bigcache's expiry is wall-clock driven, so a short real TTL and a
	// short real wait is the only way to observe it without faking time.
	c, err := New(50 * time.Millisecond)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Ban("10.0.0.1"))
	assert.True(t, c.IsBanned("10.0.0.1"))

	assert.Eventually(t, func() bool {
		return !c.IsBanned("10.0.0.1")
	}, 2*time.Second, 10*time.Millisecond)
}
