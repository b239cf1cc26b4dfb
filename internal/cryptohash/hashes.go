// Package cryptohash wraps the digest engines the wire format and
// persisted TLS material rely on: SHA-1, SHA-256, SHA-512, RIPEMD-160,
// HMAC-SHA-256, HMAC-SHA-512, and the double-SHA-256 used for payload
// checksums. Each engine is drawn from a sync.Pool so repeated framing of
// many small messages doesn't allocate a fresh hash.Hash per call; engines
// are never shared across goroutines while in use, matching the
// per-thread free-list pools of the reference implementation.
package cryptohash

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // still the teacher's RIPEMD-160 source
)

var (
	sha1Pool = sync.Pool{New: func() any { return sha1.New() }}
	sha256Pool = sync.Pool{New: func() any { return sha256.New() }}
	sha512Pool = sync.Pool{New: func() any { return sha512.New() }}
	ripemd160Pool = sync.Pool{New: func() any { return ripemd160.New() }}
)

// Engine is a streaming digest: Update any number of times, then
// Finalize exactly once to obtain the digest and return the engine to
// its pool.
type Engine struct {
	h    hash.Hash
	pool *sync.Pool
}

func newEngine(pool *sync.Pool) *Engine {
	h := pool.Get().(hash.Hash)
	h.Reset()
	return &Engine{h: h, pool: pool}
}

// NewSHA1 returns a pooled SHA-1 engine.
func NewSHA1() *Engine { return newEngine(&sha1Pool) }

// NewSHA256 returns a pooled SHA-256 engine.
func NewSHA256() *Engine { return newEngine(&sha256Pool) }

// NewSHA512 returns a pooled SHA-512 engine.
func NewSHA512() *Engine { return newEngine(&sha512Pool) }

// NewRIPEMD160 returns a pooled RIPEMD-160 engine.
func NewRIPEMD160() *Engine { return newEngine(&ripemd160Pool) }

// Update feeds more input into the running digest.
func (e *Engine) Update(p []byte) *Engine {
	e.h.Write(p) //nolint:errcheck // hash.Hash.Write never errors
	return e
}

// Finalize returns the digest and releases the engine back to its pool.
// The Engine must not be used again afterwards.
func (e *Engine) Finalize() []byte {
	sum := e.h.Sum(nil)
	e.pool.Put(e.h)
	e.h = nil
	return sum
}

// Sha1 is a one-shot convenience wrapper.
func Sha1(p []byte) []byte { return NewSHA1().Update(p).Finalize() }

// Sha256 is a one-shot convenience wrapper.
func Sha256(p []byte) []byte { return NewSHA256().Update(p).Finalize() }

// Sha512 is a one-shot convenience wrapper.
func Sha512(p []byte) []byte { return NewSHA512().Update(p).Finalize() }

// Ripemd160 is a one-shot convenience wrapper.
func Ripemd160(p []byte) []byte { return NewRIPEMD160().Update(p).Finalize() }

// HmacSha256 computes HMAC-SHA-256 of message under key.
func HmacSha256(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message) //nolint:errcheck
	return mac.Sum(nil)
}

// HmacSha512 computes HMAC-SHA-512 of message under key.
func HmacSha512(key, message []byte) []byte {
	mac := hmac.New(sha512.New, key)
	mac.Write(message) //nolint:errcheck
	return mac.Sum(nil)
}

// DoubleSha256 is SHA-256 composed with itself, the digest whose first
// four bytes form the wire-format payload checksum.
func DoubleSha256(p []byte) []byte {
	sum := chainhash.DoubleHashB(p)
	return sum[:]
}

// EmptyPayloadChecksum is the well-known double-SHA-256 of the empty
// byte string, used to validate zero-length payloads without hashing.
var EmptyPayloadChecksum = DoubleSha256(nil)[:4]

// Checksum4 returns the first four bytes of DoubleSha256(p), the exact
// contract fixed by the spec: "first four bytes, byte-exact" (no
// little-endian reinterpretation).
func Checksum4(p []byte) [4]byte {
	var out [4]byte
	copy(out[:], DoubleSha256(p))
	return out
}
