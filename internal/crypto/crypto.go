package crypto

import (
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
)

/*
XOR ciphers and pseudorandom generators used by the oblivious transfer layer
*/

const (
	XORBlake2 = iota
	XORBlake3
)

var ErrUnknownMode = fmt.Errorf("unknown cipher mode")

// xorCipherWithBlake3 returns H(key, ind) XOR src where H is the blake3 XOF.
func xorCipherWithBlake3(key []byte, ind uint8, src []byte) []byte {
	h := blake3.New()
	h.Write(key)
	h.Write([]byte{ind})

	dst := make([]byte, len(src))
	h.Digest().Read(dst)
	xorInto(dst, src)
	return dst
}

// xorCipherWithBlake2 returns H(key, ind) XOR src where H is the blake2b XOF.
func xorCipherWithBlake2(key []byte, ind uint8, src []byte) ([]byte, error) {
	d, err := blake2b.NewXOF(uint32(len(src)), nil)
	if err != nil {
		return nil, err
	}
	d.Write(key)
	d.Write([]byte{ind})

	dst := make([]byte, len(src))
	if _, err := d.Read(dst); err != nil {
		return nil, err
	}
	xorInto(dst, src)
	return dst, nil
}

// Encrypt encrypts plaintext under key with tweak ind. Decrypting is the
// same operation for XOR ciphers.
func Encrypt(mode int, key []byte, ind uint8, plaintext []byte) ([]byte, error) {
	switch mode {
	case XORBlake2:
		return xorCipherWithBlake2(key, ind, plaintext)
	case XORBlake3:
		return xorCipherWithBlake3(key, ind, plaintext), nil
	}

	return nil, ErrUnknownMode
}

func Decrypt(mode int, key []byte, ind uint8, ciphertext []byte) ([]byte, error) {
	return Encrypt(mode, key, ind, ciphertext)
}

// PseudorandomGenerate expands seed and a 64-bit tweak into n words using
// the blake3 XOF. The same (seed, tweak) always yields the same words.
func PseudorandomGenerate(h *blake3.Hasher, seed []byte, tweak uint64, n int) []uint64 {
	var t [8]byte
	binary.LittleEndian.PutUint64(t[:], tweak)

	h.Reset()
	h.Write(seed)
	h.Write(t[:])

	buf := make([]byte, 8*n)
	h.Digest().Read(buf)

	dst := make([]uint64, n)
	for i := range dst {
		dst[i] = binary.LittleEndian.Uint64(buf[8*i:])
	}
	return dst
}

// CorrelationRobustHash hashes a 128-bit row together with its position
// and batch into 64 bits. It breaks the correlation between the q and
// q^s rows of an IKNP extension.
func CorrelationRobustHash(batch, idx uint64, row [2]uint64) uint64 {
	var buf [32]byte
	binary.LittleEndian.PutUint64(buf[0:], batch)
	binary.LittleEndian.PutUint64(buf[8:], idx)
	binary.LittleEndian.PutUint64(buf[16:], row[0])
	binary.LittleEndian.PutUint64(buf[24:], row[1])
	sum := blake3.Sum256(buf[:])
	return binary.LittleEndian.Uint64(sum[:8])
}

func xorInto(dst, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}
