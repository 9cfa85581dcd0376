package ot

import (
	"bytes"
	"errors"
	"math/rand"
	"net"
	"testing"

	"github.com/optable/mpc/internal/rng"
	"github.com/optable/mpc/internal/wire"
)

func genChoiceBits(n int) []uint8 {
	choices := make([]uint8, n)
	for i := range choices {
		choices[i] = uint8(rand.Intn(2))
	}
	return choices
}

func TestSimplestRistretto(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	msgLen := 24
	messages := make([][2][]byte, BaseCount)
	for i := range messages {
		for j := range messages[i] {
			messages[i][j] = make([]byte, msgLen)
			rand.Read(messages[i][j])
		}
	}
	choices := genChoiceBits(BaseCount)

	errs := make(chan error, 1)
	go func() {
		errs <- newSimplestRistretto(BaseCount, msgLen, rng.New([]byte("base sender"))).Send(wire.NewConn(c1), messages)
	}()

	got, err := newSimplestRistretto(BaseCount, msgLen, rng.New([]byte("base receiver"))).Receive(wire.NewConn(c2), choices)
	if err != nil {
		t.Fatal(err)
	}
	if err := <-errs; err != nil {
		t.Fatal(err)
	}

	for i := range got {
		if !bytes.Equal(got[i], messages[i][choices[i]]) {
			t.Fatalf("OT %d: received the wrong message", i)
		}
		if bytes.Equal(got[i], messages[i][1-choices[i]]) {
			t.Fatalf("OT %d: received both messages", i)
		}
	}
}

// newExtPair sets up an extension with the sender on c1 and the receiver on c2.
func newExtPair(t testing.TB, c1, c2 net.Conn) (*ExtSender, *ExtReceiver) {
	type result struct {
		s   *ExtSender
		err error
	}
	done := make(chan result, 1)
	go func() {
		s, err := NewExtSender(wire.NewConn(c1), rng.New([]byte("sender")))
		done <- result{s, err}
	}()

	r, err := NewExtReceiver(wire.NewConn(c2), rng.New([]byte("receiver")))
	if err != nil {
		t.Fatal(err)
	}
	res := <-done
	if res.err != nil {
		t.Fatal(res.err)
	}
	return res.s, r
}

func TestIKNP(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	sender, receiver := newExtPair(t, c1, c2)

	// several batches reuse the same base OTs
	for _, n := range []int{1, 63, 64, 65, 1000, 0, 4097} {
		msg0 := make([]uint64, n)
		msg1 := make([]uint64, n)
		for i := range msg0 {
			msg0[i], msg1[i] = rand.Uint64(), rand.Uint64()
		}
		choices := genChoiceBits(n)

		errs := make(chan error, 1)
		go func() {
			errs <- sender.Send(msg0, msg1)
		}()

		got, err := receiver.Receive(choices)
		if err != nil {
			t.Fatal(err)
		}
		if err := <-errs; err != nil {
			t.Fatal(err)
		}

		if len(got) != n {
			t.Fatalf("want %d messages, got %d", n, len(got))
		}
		for i := range got {
			want := msg0[i]
			if choices[i] == 1 {
				want = msg1[i]
			}
			if got[i] != want {
				t.Fatalf("batch of %d, OT %d: want %d, got %d", n, i, want, got[i])
			}
		}
	}
}

func TestIKNPLengthMismatch(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	sender, receiver := newExtPair(t, c1, c2)

	errs := make(chan error, 1)
	go func() {
		_, err := receiver.Receive(genChoiceBits(200))
		errs <- err
	}()

	err := sender.Send(make([]uint64, 10), make([]uint64, 10))
	if !errors.Is(err, wire.ErrLengthMismatch) {
		t.Fatalf("want wire.ErrLengthMismatch, got %v", err)
	}
	c1.Close()
	<-errs

	if err := sender.Send(make([]uint64, 1), make([]uint64, 2)); !errors.Is(err, ErrMessageCountMismatch) {
		t.Errorf("want ErrMessageCountMismatch, got %v", err)
	}
	if _, err := receiver.Receive([]uint8{2}); !errors.Is(err, ErrChoiceNotBinary) {
		t.Errorf("want ErrChoiceNotBinary, got %v", err)
	}
}

func BenchmarkIKNP(b *testing.B) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	sender, receiver := newExtPair(b, c1, c2)
	n := 1 << 14
	msg0 := make([]uint64, n)
	msg1 := make([]uint64, n)
	choices := genChoiceBits(n)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		go sender.Send(msg0, msg1)
		receiver.Receive(choices)
	}
}
