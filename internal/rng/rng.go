// Package rng provides an explicitly seeded randomness context. Every
// protocol step that needs randomness draws it from an *RNG handed to it,
// so runs can be repeated deterministically from a seed.
package rng

import (
	crand "crypto/rand"
	"encoding/binary"
	"io"

	"github.com/zeebo/blake3"
)

// SeedLength is the number of seed bytes consumed by New.
const SeedLength = 32

// RNG is a blake3 XOF keystream. It is not safe for concurrent use.
type RNG struct {
	stream *blake3.Digest
	buf    [8]byte
}

// New returns an RNG whose output is fully determined by seed.
func New(seed []byte) *RNG {
	h := blake3.New()
	h.Write([]byte("mpc rng"))
	h.Write(seed)
	return &RNG{stream: h.Digest()}
}

// NewRandom returns an RNG seeded from crypto/rand.
func NewRandom() (*RNG, error) {
	seed := make([]byte, SeedLength)
	if _, err := crand.Read(seed); err != nil {
		return nil, err
	}
	return New(seed), nil
}

// Read fills p with pseudorandom bytes. It never fails.
func (r *RNG) Read(p []byte) (int, error) {
	return r.stream.Read(p)
}

// Uint64 returns a uniform 64-bit value.
func (r *RNG) Uint64() uint64 {
	r.stream.Read(r.buf[:])
	return binary.LittleEndian.Uint64(r.buf[:])
}

// Uint32 returns a uniform 32-bit value.
func (r *RNG) Uint32() uint32 {
	return uint32(r.Uint64())
}

// Bit returns 0 or 1.
func (r *RNG) Bit() uint8 {
	return uint8(r.Uint64() & 1)
}

// Intn returns a uniform value in [0, n). It panics if n <= 0.
func (r *RNG) Intn(n int) int {
	if n <= 0 {
		panic("rng: invalid argument to Intn")
	}
	max := uint64(n)
	// reject the tail so every residue is equally likely
	limit := ^uint64(0) - (^uint64(0)%max+1)%max
	for {
		v := r.Uint64()
		if v <= limit {
			return int(v % max)
		}
	}
}

// Perm returns a uniform random permutation of [0, n).
func (r *RNG) Perm(n int) []uint32 {
	p := make([]uint32, n)
	for i := range p {
		p[i] = uint32(i)
	}
	r.Shuffle(n, func(i, j int) { p[i], p[j] = p[j], p[i] })
	return p
}

// Shuffle is a Fisher-Yates shuffle calling swap for each exchange.
func (r *RNG) Shuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		swap(i, r.Intn(i+1))
	}
}

// Fork derives an independent RNG from the next SeedLength bytes of r.
func (r *RNG) Fork() *RNG {
	seed := make([]byte, SeedLength)
	r.Read(seed)
	return New(seed)
}

var _ io.Reader = (*RNG)(nil)
