// Package prng provides the seeded pseudo-random streams shared by the shield
// and watermark stages. The same (algorithm, seed) pair always replays the same
// sequence, which is what lets the watermark be extracted and the two-pass
// receipt hash converge.
package prng

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf16"

	"golang.org/x/crypto/chacha20"
)

// Source yields floats in [0, 1).
type Source interface {
	Float64() float64
}

// Algorithm names a generator construction.
type Algorithm string

const (
	// SineHash is the original frac(sin(state)*1e5) construction. Statistically
	// weak; kept so version 1 receipts can still be replayed.
	SineHash Algorithm = "sinehash"
	// ChaCha20 is a counter-mode keystream keyed by SHA-256 of the seed.
	ChaCha20 Algorithm = "chacha20"
)

// Default is the generator used for newly issued receipts.
const Default = ChaCha20

// New returns a fresh source for seed.
func New(alg Algorithm, seed string) (Source, error) {
	switch alg {
	case SineHash:
		return NewSineHash(seed), nil
	case ChaCha20, "":
		return NewStream(seed), nil
	default:
		return nil, fmt.Errorf("prng: unknown algorithm %q", alg)
	}
}

// ForVersion maps a receipt version to the generator it was produced with.
func ForVersion(version string) (Algorithm, error) {
	switch version {
	case "1":
		return SineHash, nil
	case "2":
		return ChaCha20, nil
	default:
		return "", fmt.Errorf("prng: no generator for receipt version %q", version)
	}
}

// Intn returns an int in [0, n) drawn from src. n must be positive.
func Intn(src Source, n int) int {
	v := int(src.Float64() * float64(n))
	if v >= n {
		// Float64 is < 1, but guard against rounding on huge n.
		v = n - 1
	}
	return v
}

// SineHashSource is the legacy generator.
type SineHashSource struct {
	state float64
}

// NewSineHash seeds the state with sum(codeUnit(i) * (i+1)) mod 100000 over
// the UTF-16 code units of seed.
func NewSineHash(seed string) *SineHashSource {
	var acc int64
	for i, u := range utf16.Encode([]rune(seed)) {
		acc += int64(u) * int64(i+1)
	}
	return &SineHashSource{state: float64(acc % 100000)}
}

func (s *SineHashSource) Float64() float64 {
	x := math.Sin(s.state) * 100000
	s.state++
	f := x - math.Floor(x)
	if f >= 1 {
		return 0
	}
	return f
}

const streamBlock = 512

// StreamSource draws from a ChaCha20 keystream with a zero nonce.
type StreamSource struct {
	cipher *chacha20.Cipher
	buf    [streamBlock]byte
	pos    int
}

// NewStream keys a ChaCha20 stream with SHA-256("faceguard/prng/v2" ‖ 0 ‖ seed).
func NewStream(seed string) *StreamSource {
	h := sha256.New()
	_, _ = h.Write([]byte("faceguard/prng/v2"))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(seed))
	key := h.Sum(nil)
	nonce := make([]byte, chacha20.NonceSize)
	c, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		// Key and nonce sizes are fixed above.
		panic("prng: chacha20 init: " + err.Error())
	}
	return &StreamSource{cipher: c, pos: streamBlock}
}

// Uint64 returns the next 8 keystream bytes, little-endian.
func (s *StreamSource) Uint64() uint64 {
	if s.pos+8 > streamBlock {
		clear(s.buf[:])
		s.cipher.XORKeyStream(s.buf[:], s.buf[:])
		s.pos = 0
	}
	v := binary.LittleEndian.Uint64(s.buf[s.pos:])
	s.pos += 8
	return v
}

func (s *StreamSource) Float64() float64 {
	return float64(s.Uint64()>>11) / (1 << 53)
}
