package hash

import (
	"crypto/rand"
	"errors"
	"fmt"
	"testing"
)

var xxx = []byte("e:0e1f461bbefa6e07cc2ef06b9ee1ed25101e24d4345af266ed2f5a58bcd26c5e")

func makeSalt() ([]byte, error) {
	var s = make([]byte, SaltLength)

	if n, err := rand.Read(s); err != nil {
		return nil, err
	} else if n != SaltLength {
		return nil, fmt.Errorf("requested %d rand bytes and got %d", SaltLength, n)
	} else {
		return s, nil
	}
}

func TestHashers(t *testing.T) {
	s, err := makeSalt()
	if err != nil {
		t.Fatal(err)
	}
	other, err := makeSalt()
	if err != nil {
		t.Fatal(err)
	}

	for _, typ := range []int{Murmur3, Metro, Highway} {
		h, err := New(typ, s)
		if err != nil {
			t.Fatalf("hash type %d: %v", typ, err)
		}
		if h.Hash64(xxx) != h.Hash64(xxx) {
			t.Errorf("hash type %d is not deterministic", typ)
		}
		if Uint64(h, 1) == Uint64(h, 2) {
			t.Errorf("hash type %d collides on 1 and 2", typ)
		}

		h2, _ := New(typ, other)
		if h.Hash64(xxx) == h2.Hash64(xxx) {
			t.Errorf("hash type %d ignores its salt", typ)
		}
	}
}

func TestBadSalt(t *testing.T) {
	for _, typ := range []int{Murmur3, Metro, Highway} {
		if _, err := New(typ, make([]byte, SaltLength-1)); !errors.Is(err, ErrSaltLengthMismatch) {
			t.Errorf("hash type %d: want ErrSaltLengthMismatch, got %v", typ, err)
		}
	}

	if _, err := New(-1, make([]byte, SaltLength)); !errors.Is(err, ErrUnknownHash) {
		t.Errorf("want ErrUnknownHash, got %v", err)
	}
}

func BenchmarkMurmur3(b *testing.B) {
	s, _ := makeSalt()
	h, _ := NewMurmur3Hasher(s)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.Hash64(xxx)
	}
}

func BenchmarkMetro(b *testing.B) {
	s, _ := makeSalt()
	h, _ := NewMetroHasher(s)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.Hash64(xxx)
	}
}

func BenchmarkHighway(b *testing.B) {
	s, _ := makeSalt()
	h, _ := NewHighwayHasher(s)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.Hash64(xxx)
	}
}
