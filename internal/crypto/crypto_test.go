package crypto

import (
	"bytes"
	"math/rand"
	"net"
	"testing"

	gr "github.com/bwesterb/go-ristretto"
	"github.com/zeebo/blake3"

	"github.com/optable/mpc/internal/wire"
)

var (
	p   = []byte("example testing plaintext that holds important secrets: %QWEQW$##%Y^&%^*(*)&, []m")
	key = make([]byte, 32)
)

func init() {
	rand.New(rand.NewSource(7)).Read(key)
}

func TestXorCiphers(t *testing.T) {
	for _, mode := range []int{XORBlake2, XORBlake3} {
		ciphertext, err := Encrypt(mode, key, 1, p)
		if err != nil {
			t.Fatal(err)
		}
		if bytes.Equal(ciphertext, p) {
			t.Fatalf("mode %d: ciphertext equals plaintext", mode)
		}

		other, _ := Encrypt(mode, key, 0, p)
		if bytes.Equal(ciphertext, other) {
			t.Errorf("mode %d: tweak does not change the keystream", mode)
		}

		plaintext, err := Decrypt(mode, key, 1, ciphertext)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(plaintext, p) {
			t.Fatalf("mode %d: decrypt: want %q, got %q", mode, p, plaintext)
		}
	}

	if _, err := Encrypt(-1, key, 0, p); err != ErrUnknownMode {
		t.Errorf("want ErrUnknownMode, got %v", err)
	}
}

func TestPseudorandomGenerate(t *testing.T) {
	h := blake3.New()
	a := PseudorandomGenerate(h, key, 3, 100)
	b := PseudorandomGenerate(h, key, 3, 100)
	c := PseudorandomGenerate(h, key, 4, 100)

	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("word %d differs for the same seed and tweak", i)
		}
	}
	if a[0] == c[0] && a[1] == c[1] {
		t.Errorf("tweak does not change the output")
	}
}

func TestCorrelationRobustHash(t *testing.T) {
	row := [2]uint64{1, 2}
	if CorrelationRobustHash(0, 0, row) == CorrelationRobustHash(0, 1, row) {
		t.Errorf("index is not bound into the hash")
	}
	if CorrelationRobustHash(0, 0, row) == CorrelationRobustHash(1, 0, row) {
		t.Errorf("batch is not bound into the hash")
	}
}

func TestPointsRoundTrip(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	r := rand.New(rand.NewSource(1))
	points := make([]gr.Point, 10)
	for i := range points {
		var err error
		if _, points[i], err = GenerateRistrettoKeys(r); err != nil {
			t.Fatal(err)
		}
	}

	errs := make(chan error, 1)
	go func() {
		errs <- WritePoints(wire.NewConn(c1), points)
	}()

	got, err := ReadPoints(wire.NewConn(c2), len(points))
	if err != nil {
		t.Fatal(err)
	}
	if err := <-errs; err != nil {
		t.Fatal(err)
	}

	for i := range points {
		if !got[i].Equals(&points[i]) {
			t.Fatalf("point %d does not round trip", i)
		}
		k1, _ := DeriveRistrettoKey(&got[i])
		k2, _ := DeriveRistrettoKey(&points[i])
		if !bytes.Equal(k1, k2) {
			t.Fatalf("derived keys differ for point %d", i)
		}
	}
}

func BenchmarkBlake3(b *testing.B) {
	for i := 0; i < b.N; i++ {
		blake3.Sum256(p)
	}
}

func TestGenerateRistrettoKeysSeeded(t *testing.T) {
	a, A, err := GenerateRistrettoKeys(rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatal(err)
	}
	b, B, err := GenerateRistrettoKeys(rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatal(err)
	}
	if !a.Equals(&b) || !A.Equals(&B) {
		t.Fatal("same randomness should give the same key pair")
	}

	var G gr.Point
	G.ScalarMultBase(&a)
	if !G.Equals(&A) {
		t.Fatal("public key is not the secret times the base point")
	}

	if _, _, err := GenerateRistrettoKeys(bytes.NewReader(nil)); err == nil {
		t.Fatal("expected an error from an exhausted reader")
	}
}
