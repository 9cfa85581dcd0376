package party

import (
	"context"
	"errors"
	"net"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestInvalidRole(t *testing.T) {
	c1, _ := net.Pipe()
	if _, err := New(context.Background(), Role(7), c1); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("want ErrInvalidRole, got %v", err)
	}
}

func TestLocalPair(t *testing.T) {
	ctx := context.Background()
	server, client, err := NewLocalPair(ctx, []byte("pair"))
	if err != nil {
		t.Fatal(err)
	}

	if server.Role() != Server || server.PeerRole() != Client || client.PeerRole() != Server {
		t.Fatalf("unexpected roles %v %v", server.Role(), client.Role())
	}

	// OT in both directions, then an array exchange
	msg0 := []uint64{1, 2, 3}
	msg1 := []uint64{10, 20, 30}
	choices := []uint8{1, 0, 1}
	var got1, got2, arr []uint64

	var g errgroup.Group
	g.Go(func() error {
		if err := server.OTSend(ctx, msg0, msg1); err != nil {
			return err
		}
		var err error
		if got2, err = server.OTRecv(ctx, choices); err != nil {
			return err
		}
		return server.Send(ctx, []uint64{42, 43})
	})
	g.Go(func() error {
		var err error
		if got1, err = client.OTRecv(ctx, choices); err != nil {
			return err
		}
		if err := client.OTSend(ctx, msg1, msg0); err != nil {
			return err
		}
		arr, err = client.Recv(ctx, 2)
		return err
	})
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	want1 := []uint64{10, 2, 30}
	want2 := []uint64{1, 20, 3}
	for i := range want1 {
		if got1[i] != want1[i] || got2[i] != want2[i] {
			t.Fatalf("OT %d: want %d/%d, got %d/%d", i, want1[i], want2[i], got1[i], got2[i])
		}
	}
	if arr[0] != 42 || arr[1] != 43 {
		t.Errorf("array: want [42 43], got %v", arr)
	}

	sent, _ := server.Stats()
	_, received := client.Stats()
	if sent == 0 || received == 0 {
		t.Errorf("stats not counted: %d %d", sent, received)
	}
	server.ResetStats()
	if s, r := server.Stats(); s != 0 || r != 0 {
		t.Errorf("stats not reset")
	}
	if d := server.Tick("test"); d < 0 {
		t.Errorf("negative tick %v", d)
	}
}

func TestOPRF(t *testing.T) {
	ctx := context.Background()
	server, client, err := NewLocalPair(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}

	var senderOut [][]uint64
	var receiverOut []uint64
	var g errgroup.Group
	g.Go(func() (err error) {
		senderOut, err = server.OPRFSend(ctx, [][]uint64{{1, 2}, {3}})
		return err
	})
	g.Go(func() (err error) {
		receiverOut, err = client.OPRFRecv(ctx, []uint64{2, 4})
		return err
	})
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if senderOut[0][1] != receiverOut[0] {
		t.Errorf("row 0: matching inputs gave different outputs")
	}
	if senderOut[1][0] == receiverOut[1] {
		t.Errorf("row 1: different inputs gave equal outputs")
	}
}

func TestCancelledContextPoisons(t *testing.T) {
	server, _, err := NewLocalPair(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := server.Send(ctx, []uint64{1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	// later calls fail with the first error
	if err := server.Send(context.Background(), []uint64{1}); !errors.Is(err, context.Canceled) {
		t.Errorf("want context.Canceled after poisoning, got %v", err)
	}
}
