// Package recentcache wraps a short-TTL key/value cache used to
// remember recent per-address facts across reconnects: an address
// rejected by the Hub ("don't re-accept for N minutes") and an address
// already served a getaddr response within the window (extending the
// single-session anti-fingerprinting rule to survive a reconnect).
package recentcache

import (
	"context"
	"time"

	"github.com/allegro/bigcache/v3"
)

// reason tags why an address is present in the cache, so the ban list
// and the getaddr-served list can share one underlying store without
// colliding keys.
const (
	prefixBan     = "ban:"
	prefixGetAddr = "getaddr:"
)

// Cache is a bigcache-backed store keyed by whatever address string the
// caller passes; the Hub and Peer pass the bare remote IP for both the
// ban list and the getaddr-served list.
type Cache struct {
	bc *bigcache.BigCache
}

// New builds a Cache whose entries expire after ttl.
func New(ttl time.Duration) (*Cache, error) {
	config := bigcache.DefaultConfig(ttl)
	config.CleanWindow = ttl / 4
	if config.CleanWindow <= 0 {
		config.CleanWindow = time.Second
	}
	config.Verbose = false

	bc, err := bigcache.New(context.Background(), config)
	if err != nil {
		return nil, err
	}
	return &Cache{bc: bc}, nil
}

// Ban records addr as recently rejected by the Hub.
func (c *Cache) Ban(addr string) error {
	return c.bc.Set(prefixBan+addr, []byte{1})
}

// IsBanned reports whether addr was recently rejected and hasn't
// expired out of the ban window yet.
func (c *Cache) IsBanned(addr string) bool {
	_, err := c.bc.Get(prefixBan + addr)
	return err == nil
}

// MarkGetAddrServed records that addr was served a getaddr response.
func (c *Cache) MarkGetAddrServed(addr string) error {
	return c.bc.Set(prefixGetAddr+addr, []byte{1})
}

// RecentlyServedGetAddr reports whether addr was served a getaddr
// response within the TTL window, across a reconnect.
func (c *Cache) RecentlyServedGetAddr(addr string) bool {
	_, err := c.bc.Get(prefixGetAddr + addr)
	return err == nil
}

// Close releases the underlying cache's background resources.
func (c *Cache) Close() error {
	return c.bc.Close()
}
