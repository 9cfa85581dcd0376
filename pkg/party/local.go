package party

import (
	"context"
	"net"

	"golang.org/x/sync/errgroup"
)

// NewLocalPair connects a server and a client party through an in-memory
// pipe. seed, when not nil, derives distinct deterministic seeds for both.
func NewLocalPair(ctx context.Context, seed []byte) (server, client *Party, err error) {
	c1, c2 := net.Pipe()

	var g errgroup.Group
	g.Go(func() (err error) {
		server, err = New(ctx, Server, c1, seedOption(seed, "server"), WithName("server"))
		return err
	})
	g.Go(func() (err error) {
		client, err = New(ctx, Client, c2, seedOption(seed, "client"), WithName("client"))
		return err
	})
	if err := g.Wait(); err != nil {
		c1.Close()
		c2.Close()
		return nil, nil, err
	}
	return server, client, nil
}

func seedOption(seed []byte, role string) Option {
	if seed == nil {
		return func(*options) {}
	}
	return WithSeed(append(append([]byte{}, seed...), role...))
}
