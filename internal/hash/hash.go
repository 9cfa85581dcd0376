package hash

import (
	"encoding/binary"
	"fmt"

	"github.com/minio/highwayhash"
	"github.com/shivakar/metrohash"
	"github.com/twmb/murmur3"
)

const (
	SaltLength = 32

	Murmur3 = iota
	Metro
	Highway
)

var (
	ErrUnknownHash        = fmt.Errorf("cannot create a hasher of unknown hash type")
	ErrSaltLengthMismatch = fmt.Errorf("provided salt is not %d length", SaltLength)
)

// Hasher implements different non cryptographic hashing functions
type Hasher interface {
	Hash64([]byte) uint64
}

// New creates a hasher of type t
func New(t int, salt []byte) (Hasher, error) {
	switch t {
	case Murmur3:
		return NewMurmur3Hasher(salt)
	case Metro:
		return NewMetroHasher(salt)
	case Highway:
		return NewHighwayHasher(salt)
	default:
		return nil, ErrUnknownHash
	}
}

// Uint64 hashes the little-endian encoding of v.
func Uint64(h Hasher, v uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return h.Hash64(b[:])
}

// Murmur3 implementation of Hasher. The salt is folded into the two
// 64-bit seeds of the 128-bit variant.
type murmur64 struct {
	seed1, seed2 uint64
}

// NewMurmur3Hasher returns a Murmur3 hasher seeded from salt
func NewMurmur3Hasher(salt []byte) (murmur64, error) {
	if len(salt) != SaltLength {
		return murmur64{}, ErrSaltLengthMismatch
	}

	return murmur64{
		seed1: binary.LittleEndian.Uint64(salt[0:8]) ^ binary.LittleEndian.Uint64(salt[16:24]),
		seed2: binary.LittleEndian.Uint64(salt[8:16]) ^ binary.LittleEndian.Uint64(salt[24:32]),
	}, nil
}

func (t murmur64) Hash64(p []byte) uint64 {
	h1, h2 := murmur3.SeedSum128(t.seed1, t.seed2, p)
	return h1 ^ h2
}

// Metro Hash implementation of Hasher
type metro struct {
	salt []byte
}

// NewMetroHasher returns a metro64 hasher that uses salt as a
// prefix to the bytes being summed
func NewMetroHasher(salt []byte) (metro, error) {
	if len(salt) != SaltLength {
		return metro{}, ErrSaltLengthMismatch
	}

	return metro{salt: salt}, nil
}

func (m metro) Hash64(p []byte) uint64 {
	h := metrohash.NewMetroHash64()
	h.Write(m.salt)
	h.Write(p)
	return h.Sum64()
}

// Highway Hash implementation of Hasher, keyed by the salt
type highway struct {
	key []byte
}

// NewHighwayHasher returns a highwayhash hasher keyed with salt
func NewHighwayHasher(salt []byte) (highway, error) {
	if len(salt) != SaltLength {
		return highway{}, ErrSaltLengthMismatch
	}

	return highway{key: salt}, nil
}

func (h highway) Hash64(p []byte) uint64 {
	return highwayhash.Sum64(p, h.key)
}
