package ot

import (
	"fmt"
	"io"

	gr "github.com/bwesterb/go-ristretto"

	"github.com/optable/mpc/internal/crypto"
	"github.com/optable/mpc/internal/wire"
)

// simplestRistretto is the Chou-Orlandi "simplest" OT over ristretto255.
// It transfers byte messages of a fixed length msgLen.
type simplestRistretto struct {
	baseCount int
	msgLen    int
	rand      io.Reader
}

func newSimplestRistretto(baseCount, msgLen int, rand io.Reader) simplestRistretto {
	return simplestRistretto{baseCount: baseCount, msgLen: msgLen, rand: rand}
}

func (s simplestRistretto) Send(c *wire.Conn, messages [][2][]byte) error {
	if len(messages) != s.baseCount {
		return ErrBaseCountMissMatch
	}

	for i := range messages {
		if len(messages[i][0]) != s.msgLen || len(messages[i][1]) != s.msgLen {
			return fmt.Errorf("expecting messages of %d bytes, got %d, %d", s.msgLen, len(messages[i][0]), len(messages[i][1]))
		}
	}

	// generate sender secret public key pairs
	a, A, err := crypto.GenerateRistrettoKeys(s.rand)
	if err != nil {
		return err
	}
	// T = aA
	var T gr.Point
	T.ScalarMult(&A, &a)

	// send point A to receiver
	if err := crypto.WritePoints(c, []gr.Point{A}); err != nil {
		return err
	}

	// receive one point B per OT
	B, err := crypto.ReadPoints(c, s.baseCount)
	if err != nil {
		return err
	}

	var K gr.Point
	ciphertexts := make([]byte, 0, 2*s.baseCount*s.msgLen)
	for i := 0; i < s.baseCount; i++ {
		for choice, plaintext := range messages[i] {
			// k0 = aB
			K.ScalarMult(&B[i], &a)
			if choice == 1 {
				// k1 = a(B - A) = aB - aA
				K.Sub(&K, &T)
			}

			key, err := crypto.DeriveRistrettoKey(&K)
			if err != nil {
				return err
			}

			ciphertext, err := crypto.Encrypt(crypto.XORBlake3, key, uint8(choice), plaintext)
			if err != nil {
				return fmt.Errorf("error encrypting sender message: %w", err)
			}
			ciphertexts = append(ciphertexts, ciphertext...)
		}
	}

	return c.WriteBytes(ciphertexts)
}

func (s simplestRistretto) Receive(c *wire.Conn, choices []uint8) ([][]byte, error) {
	if len(choices) != s.baseCount {
		return nil, ErrBaseCountMissMatch
	}

	// receive point A from sender
	A, err := crypto.ReadPoints(c, 1)
	if err != nil {
		return nil, err
	}

	// generate points B, 1 for each OT
	bSecrets := make([]gr.Scalar, s.baseCount)
	B := make([]gr.Point, s.baseCount)
	for i := range B {
		if bSecrets[i], B[i], err = crypto.GenerateRistrettoKeys(s.rand); err != nil {
			return nil, err
		}

		switch choices[i] {
		case 0:
		case 1:
			// B = A + bG
			B[i].Add(&A[0], &B[i])
		default:
			return nil, ErrChoiceNotBinary
		}
	}

	if err := crypto.WritePoints(c, B); err != nil {
		return nil, err
	}

	// receive both ciphertexts of every OT and decrypt the chosen one
	ciphertexts, err := c.ReadBytes(2 * s.baseCount * s.msgLen)
	if err != nil {
		return nil, err
	}

	var K gr.Point
	messages := make([][]byte, s.baseCount)
	for i := range messages {
		K.ScalarMult(&A[0], &bSecrets[i])
		key, err := crypto.DeriveRistrettoKey(&K)
		if err != nil {
			return nil, err
		}

		off := (2*i + int(choices[i])) * s.msgLen
		messages[i], err = crypto.Decrypt(crypto.XORBlake3, key, choices[i], ciphertexts[off:off+s.msgLen])
		if err != nil {
			return nil, fmt.Errorf("error decrypting sender message: %w", err)
		}
	}

	return messages, nil
}
