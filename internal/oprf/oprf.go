// Package oprf implements a batched Diffie-Hellman oblivious PRF over
// ristretto255:
//
//	F_k(i, x) = H2(k * H1(i, x))
//
// The receiver holds one input per row i and learns F_k(i, x_i) by sending
// r_i * H1(i, x_i) and unblinding the reply with r_i^-1. The sender picks a
// fresh key k per batch, answers the blinded queries and evaluates F_k on
// its own inputs for every row locally. The row index separates domains,
// so equal items in different rows give unrelated outputs.
package oprf

import (
	"encoding/binary"
	"fmt"

	"github.com/gtank/ristretto255"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"

	"github.com/optable/mpc/internal/rng"
	"github.com/optable/mpc/internal/wire"
)

const encodeLen = 32

var ErrInvalidElement = fmt.Errorf("received an invalid ristretto255 element")

var (
	inputDomain  = []byte("mpc oprf input")
	outputDomain = []byte("mpc oprf output")
)

// hashToElement maps (row, x) to a group element.
func hashToElement(row int, x uint64) *ristretto255.Element {
	buf := make([]byte, 0, len(inputDomain)+16)
	buf = append(buf, inputDomain...)
	buf = appendUint64(buf, uint64(row))
	buf = appendUint64(buf, x)

	uniform := blake2b.Sum512(buf)
	return ristretto255.NewElement().FromUniformBytes(uniform[:])
}

// hashElement maps a group element to a 64-bit PRF output.
func hashElement(e *ristretto255.Element) uint64 {
	h := blake3.New()
	h.Write(outputDomain)
	h.Write(e.Encode(make([]byte, 0, encodeLen)))
	var out [8]byte
	h.Digest().Read(out[:])
	return binary.LittleEndian.Uint64(out[:])
}

func randomScalar(r *rng.RNG) *ristretto255.Scalar {
	var b [64]byte
	r.Read(b[:])
	return ristretto255.NewScalar().FromUniformBytes(b[:])
}

func appendUint64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

// Send answers one blinded query per row of inputs and returns the PRF
// outputs of every inputs[i][j] under row i.
func Send(c *wire.Conn, r *rng.RNG, inputs [][]uint64) ([][]uint64, error) {
	n := len(inputs)
	key := randomScalar(r)

	query, err := c.ReadBytes(n * encodeLen)
	if err != nil {
		return nil, err
	}

	reply := make([]byte, 0, n*encodeLen)
	e := ristretto255.NewElement()
	for i := 0; i < n; i++ {
		if err := e.Decode(query[i*encodeLen : (i+1)*encodeLen]); err != nil {
			return nil, fmt.Errorf("%w: row %d", ErrInvalidElement, i)
		}
		e.ScalarMult(key, e)
		reply = e.Encode(reply)
	}

	if err := c.WriteBytes(reply); err != nil {
		return nil, err
	}

	outputs := make([][]uint64, n)
	for i, row := range inputs {
		outputs[i] = make([]uint64, len(row))
		for j, x := range row {
			e := hashToElement(i, x)
			outputs[i][j] = hashElement(e.ScalarMult(key, e))
		}
	}
	return outputs, nil
}

// Receive evaluates the PRF on inputs[i] under row i without learning the
// key, and without the sender learning the inputs.
func Receive(c *wire.Conn, r *rng.RNG, inputs []uint64) ([]uint64, error) {
	n := len(inputs)
	blinds := make([]*ristretto255.Scalar, n)
	query := make([]byte, 0, n*encodeLen)
	for i, x := range inputs {
		blinds[i] = randomScalar(r)
		e := hashToElement(i, x)
		query = e.ScalarMult(blinds[i], e).Encode(query)
	}

	if err := c.WriteBytes(query); err != nil {
		return nil, err
	}

	reply, err := c.ReadBytes(n * encodeLen)
	if err != nil {
		return nil, err
	}

	outputs := make([]uint64, n)
	e := ristretto255.NewElement()
	inv := ristretto255.NewScalar()
	for i := range outputs {
		if err := e.Decode(reply[i*encodeLen : (i+1)*encodeLen]); err != nil {
			return nil, fmt.Errorf("%w: row %d", ErrInvalidElement, i)
		}
		inv.Invert(blinds[i])
		outputs[i] = hashElement(e.ScalarMult(inv, e))
	}
	return outputs, nil
}
