package crypto

import (
	"io"

	gr "github.com/bwesterb/go-ristretto"
	"github.com/zeebo/blake3"

	"github.com/optable/mpc/internal/wire"
)

// EncodeLen is the ristretto point encoded length, as well as the derived key length
const EncodeLen = 32

// WritePoints sends points as a single frame.
func WritePoints(c *wire.Conn, points []gr.Point) error {
	buf := make([]byte, 0, EncodeLen*len(points))
	for i := range points {
		b, err := points[i].MarshalBinary()
		if err != nil {
			return err
		}
		buf = append(buf, b...)
	}
	return c.WriteBytes(buf)
}

// ReadPoints reads a frame of exactly n points.
func ReadPoints(c *wire.Conn, n int) ([]gr.Point, error) {
	buf, err := c.ReadBytes(EncodeLen * n)
	if err != nil {
		return nil, err
	}

	points := make([]gr.Point, n)
	for i := range points {
		if err := points[i].UnmarshalBinary(buf[i*EncodeLen : (i+1)*EncodeLen]); err != nil {
			return nil, err
		}
	}
	return points, nil
}

// GenerateRistrettoKeys returns a secret key scalar drawn from rand
// and a public key ristretto point
func GenerateRistrettoKeys(rand io.Reader) (secretKey gr.Scalar, publicKey gr.Point, err error) {
	var buf [64]byte
	if _, err = io.ReadFull(rand, buf[:]); err != nil {
		return
	}
	secretKey.SetReduced(&buf)
	publicKey.ScalarMultBase(&secretKey)

	return
}

// DeriveRistrettoKey returns a key of 32 byte from an elliptic curve point
func DeriveRistrettoKey(point *gr.Point) ([]byte, error) {
	buf, err := point.MarshalBinary()
	if err != nil {
		return nil, err
	}

	key := blake3.Sum256(buf)
	return key[:], nil
}
