// Package party holds the session state of one side of a two-party
// computation: its role, the channel to the peer, the randomness context,
// oblivious transfer in both directions and the circuit engine.
//
// A Party is used by exactly one protocol call at a time. Both parties must
// issue matching calls in the same order.
package party

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-logr/logr"

	"github.com/optable/mpc/internal/circuit"
	"github.com/optable/mpc/internal/oprf"
	"github.com/optable/mpc/internal/ot"
	"github.com/optable/mpc/internal/rng"
	"github.com/optable/mpc/internal/util"
	"github.com/optable/mpc/internal/wire"
	"github.com/optable/mpc/pkg/log"
)

// Role of a party. The server goes first whenever both parties send.
type Role = circuit.Role

const (
	Server = circuit.Server
	Client = circuit.Client
)

var ErrInvalidRole = fmt.Errorf("party role must be server or client")

type options struct {
	seed []byte
	name string
}

// Option configures New.
type Option func(*options)

// WithSeed makes every random choice of the party a deterministic function
// of seed. Only for tests and reproducible runs.
func WithSeed(seed []byte) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// WithName sets the logger name of the party.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// Party is one end of a two-party session.
type Party struct {
	role       Role
	conn       *wire.Conn
	rand       *rng.RNG
	otSender   *ot.ExtSender
	otReceiver *ot.ExtReceiver
	circ       *circuit.Circuit
	logger     logr.Logger
	last       time.Time
	err        error
}

// New sets up a party over rw and runs the base OTs for both transfer
// directions. The peer must call New with the other role.
func New(ctx context.Context, role Role, rw io.ReadWriter, opts ...Option) (*Party, error) {
	if role != Server && role != Client {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRole, role)
	}

	o := options{name: "party"}
	for _, opt := range opts {
		opt(&o)
	}

	p := &Party{
		role:   role,
		conn:   wire.NewConn(rw),
		logger: log.GetLoggerFromContextWithName(ctx, o.name).WithValues("role", role.String()),
		last:   time.Now(),
	}

	if o.seed != nil {
		p.rand = rng.New(o.seed)
	} else {
		r, err := rng.NewRandom()
		if err != nil {
			return nil, err
		}
		p.rand = r
	}

	// the server extends OTs as sender first, the client as receiver first
	err := p.do(ctx, func() (err error) {
		if role == Server {
			if p.otSender, err = ot.NewExtSender(p.conn, p.rand.Fork()); err != nil {
				return err
			}
			p.otReceiver, err = ot.NewExtReceiver(p.conn, p.rand.Fork())
			return err
		}
		if p.otReceiver, err = ot.NewExtReceiver(p.conn, p.rand.Fork()); err != nil {
			return err
		}
		p.otSender, err = ot.NewExtSender(p.conn, p.rand.Fork())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("base OT setup: %w", err)
	}

	p.circ = circuit.New(role, p.conn, p.otSender, p.otReceiver, p.rand.Fork())
	p.Tick("base OT setup")
	return p, nil
}

// do runs one blocking exchange with the peer. After the first failure the
// stream position is unknown, so every later call returns that failure.
func (p *Party) do(ctx context.Context, f func() error) error {
	if p.err != nil {
		return p.err
	}
	if err := util.Sel(ctx, f); err != nil {
		p.err = err
		return err
	}
	return nil
}

// Role returns the role of this party.
func (p *Party) Role() Role {
	return p.role
}

// PeerRole returns the role of the other party.
func (p *Party) PeerRole() Role {
	if p.role == Server {
		return Client
	}
	return Server
}

// Rand returns the randomness context of the party.
func (p *Party) Rand() *rng.RNG {
	return p.rand
}

// Logger returns the party logger.
func (p *Party) Logger() logr.Logger {
	return p.logger
}

// OTSend acts as sender in len(msg0) oblivious transfers.
func (p *Party) OTSend(ctx context.Context, msg0, msg1 []uint64) error {
	return p.do(ctx, func() error {
		return p.otSender.Send(msg0, msg1)
	})
}

// OTRecv acts as receiver in len(choices) oblivious transfers.
func (p *Party) OTRecv(ctx context.Context, choices []uint8) (out []uint64, err error) {
	err = p.do(ctx, func() error {
		out, err = p.otReceiver.Receive(choices)
		return err
	})
	return out, err
}

// OPRFSend holds the key of a fresh oblivious PRF and returns its value on
// every inputs[i][j] under row i.
func (p *Party) OPRFSend(ctx context.Context, inputs [][]uint64) (out [][]uint64, err error) {
	err = p.do(ctx, func() error {
		out, err = oprf.Send(p.conn, p.rand, inputs)
		return err
	})
	return out, err
}

// OPRFRecv obtains the oblivious PRF value of inputs[i] under row i.
func (p *Party) OPRFRecv(ctx context.Context, inputs []uint64) (out []uint64, err error) {
	err = p.do(ctx, func() error {
		out, err = oprf.Receive(p.conn, p.rand, inputs)
		return err
	})
	return out, err
}

// Send sends a fixed-length array to the peer.
func (p *Party) Send(ctx context.Context, v []uint64) error {
	return p.do(ctx, func() error {
		return p.conn.WriteUint64s(v)
	})
}

// Recv receives an array of exactly n values from the peer.
func (p *Party) Recv(ctx context.Context, n int) (v []uint64, err error) {
	err = p.do(ctx, func() error {
		v, err = p.conn.ReadUint64s(n)
		return err
	})
	return v, err
}

// SendBytes sends a fixed-length byte array to the peer.
func (p *Party) SendBytes(ctx context.Context, b []byte) error {
	return p.do(ctx, func() error {
		return p.conn.WriteBytes(b)
	})
}

// RecvBytes receives exactly n bytes from the peer.
func (p *Party) RecvBytes(ctx context.Context, n int) (b []byte, err error) {
	err = p.do(ctx, func() error {
		b, err = p.conn.ReadBytes(n)
		return err
	})
	return b, err
}

// Circuit returns the circuit engine. Gates queued on it run on ExecCircuit.
func (p *Party) Circuit() *circuit.Circuit {
	return p.circ
}

// ExecCircuit evaluates every gate queued on the circuit and leaves the
// circuit empty for the next batch.
func (p *Party) ExecCircuit(ctx context.Context) error {
	return p.do(ctx, p.circ.Exec)
}

// ResetCircuit drops queued gates without running them.
func (p *Party) ResetCircuit() {
	p.circ.Reset()
}

// Tick logs and returns the time elapsed since the previous tick.
func (p *Party) Tick(label string) time.Duration {
	now := time.Now()
	d := now.Sub(p.last)
	p.last = now
	sent, received := p.conn.Stats()
	p.logger.V(1).Info(label, "elapsed", d, "sent", sent, "received", received)
	return d
}

// Stats returns the bytes sent to and received from the peer.
func (p *Party) Stats() (sent, received uint64) {
	return p.conn.Stats()
}

// ResetStats zeroes the communication counters.
func (p *Party) ResetStats() {
	p.conn.ResetStats()
}
