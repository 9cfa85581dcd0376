// Package circuit is a small GMW engine evaluating boolean circuits on
// XOR-shared SIMD values between two parties. Gates are queued with the
// Put*Gate builders and evaluated in queue order by Exec; both parties
// must queue the same gates in the same order.
//
// XOR and INV are local. Every AND costs two 1-out-of-2 OTs per bit, one in
// each direction, to compute the cross terms of (x0^x1)&(y0^y1).
package circuit

import (
	"fmt"

	"github.com/optable/mpc/internal/ot"
	"github.com/optable/mpc/internal/rng"
	"github.com/optable/mpc/internal/wire"
)

// Role identifies one of the two parties, or both as the target of an
// output gate.
type Role int

const (
	Server Role = iota
	Client
	All
)

func (r Role) String() string {
	switch r {
	case Server:
		return "server"
	case Client:
		return "client"
	case All:
		return "all"
	default:
		return "undefined"
	}
}

var (
	ErrShapeMismatch = fmt.Errorf("gate inputs have different shapes")
	ErrBitLen        = fmt.Errorf("bit length must be between 1 and 64")
	ErrNotExecuted   = fmt.Errorf("circuit has not been executed")
	ErrNotRevealed   = fmt.Errorf("output gate does not reveal to this party")
)

// Share is one party's view of a gate output: nvals values of bitlen bits.
type Share struct {
	nvals  int
	bitlen int
	v      []uint64
	clear  []uint64
	kind   shareKind
	ready  bool
}

type shareKind int

const (
	wireShare shareKind = iota
	sharedOut
	revealedOut
	hiddenOut
)

// Len returns the number of SIMD values.
func (s *Share) Len() int { return s.nvals }

// BitLen returns the bit width of each value.
func (s *Share) BitLen() int { return s.bitlen }

// Values returns the result of an output gate after Exec: the clear values
// for an OUT gate revealed to this party, or this party's XOR share for a
// shared OUT gate.
func (s *Share) Values() ([]uint64, error) {
	if !s.ready {
		return nil, ErrNotExecuted
	}
	switch s.kind {
	case revealedOut:
		return s.clear, nil
	case sharedOut:
		return s.v, nil
	default:
		return nil, ErrNotRevealed
	}
}

func mask(bitlen int) uint64 {
	if bitlen == 64 {
		return ^uint64(0)
	}
	return 1<<uint(bitlen) - 1
}

// Circuit queues gates for one party.
type Circuit struct {
	role     Role
	conn     *wire.Conn
	sender   ot.Sender
	receiver ot.Receiver
	rand     *rng.RNG

	gates  []func() error
	shares []*Share
	err    error
}

// New returns an empty circuit for role. sender and receiver are the two
// OT directions shared with the peer.
func New(role Role, c *wire.Conn, sender ot.Sender, receiver ot.Receiver, r *rng.RNG) *Circuit {
	return &Circuit{role: role, conn: c, sender: sender, receiver: receiver, rand: r}
}

// Role returns the role this circuit plays.
func (c *Circuit) Role() Role { return c.role }

func (c *Circuit) newShare(nvals, bitlen int) *Share {
	s := &Share{nvals: nvals, bitlen: bitlen}
	c.shares = append(c.shares, s)
	return s
}

func (c *Circuit) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

func (c *Circuit) checkBitLen(bitlen int) bool {
	if bitlen < 1 || bitlen > 64 {
		c.fail(fmt.Errorf("%w: got %d", ErrBitLen, bitlen))
		return false
	}
	return true
}

func (c *Circuit) checkShape(a, b *Share) bool {
	if a.nvals != b.nvals || a.bitlen != b.bitlen {
		c.fail(fmt.Errorf("%w: %dx%d and %dx%d", ErrShapeMismatch, a.nvals, a.bitlen, b.nvals, b.bitlen))
		return false
	}
	return true
}

// Exec evaluates every queued gate. A construction error reported by a
// builder is returned before any communication takes place.
func (c *Circuit) Exec() error {
	if c.err != nil {
		return c.err
	}
	for _, g := range c.gates {
		if err := g(); err != nil {
			c.err = err
			return err
		}
	}
	for _, s := range c.shares {
		s.ready = true
	}
	c.gates = nil
	c.shares = nil
	return nil
}

// Reset drops all queued gates and shares. Shares returned earlier keep
// their values.
func (c *Circuit) Reset() {
	c.gates = nil
	c.shares = nil
	c.err = nil
}

// PutINGate queues a plain input of nvals values owned by owner. vals is
// only read by the owner and may be nil for the other party.
func (c *Circuit) PutINGate(nvals int, vals []uint64, bitlen int, owner Role) *Share {
	out := c.newShare(nvals, bitlen)
	if !c.checkBitLen(bitlen) {
		return out
	}
	if owner == c.role && len(vals) != nvals {
		c.fail(fmt.Errorf("%w: input gate of %d values got %d", ErrShapeMismatch, nvals, len(vals)))
		return out
	}

	m := mask(bitlen)
	c.gates = append(c.gates, func() error {
		if owner == c.role {
			r := make([]uint64, nvals)
			out.v = make([]uint64, nvals)
			for i := range r {
				r[i] = c.rand.Uint64() & m
				out.v[i] = (vals[i] & m) ^ r[i]
			}
			return c.conn.WriteUint64s(r)
		}

		r, err := c.conn.ReadUint64s(nvals)
		if err != nil {
			return err
		}
		for i := range r {
			r[i] &= m
		}
		out.v = r
		return nil
	})
	return out
}

// PutSharedINGate queues an input that is already XOR shared.
func (c *Circuit) PutSharedINGate(vals []uint64, bitlen int) *Share {
	out := c.newShare(len(vals), bitlen)
	if !c.checkBitLen(bitlen) {
		return out
	}

	m := mask(bitlen)
	c.gates = append(c.gates, func() error {
		out.v = make([]uint64, len(vals))
		for i, v := range vals {
			out.v[i] = v & m
		}
		return nil
	})
	return out
}

// PutCONSGate queues a public constant repeated nvals times.
func (c *Circuit) PutCONSGate(nvals int, val uint64, bitlen int) *Share {
	out := c.newShare(nvals, bitlen)
	if !c.checkBitLen(bitlen) {
		return out
	}

	m := mask(bitlen)
	c.gates = append(c.gates, func() error {
		out.v = make([]uint64, nvals)
		if c.role == Server {
			for i := range out.v {
				out.v[i] = val & m
			}
		}
		return nil
	})
	return out
}

// PutXORGate queues a ^ b.
func (c *Circuit) PutXORGate(a, b *Share) *Share {
	out := c.newShare(a.nvals, a.bitlen)
	if !c.checkShape(a, b) {
		return out
	}

	c.gates = append(c.gates, func() error {
		out.v = make([]uint64, a.nvals)
		for i := range out.v {
			out.v[i] = a.v[i] ^ b.v[i]
		}
		return nil
	})
	return out
}

// PutINVGate queues the bitwise negation of a.
func (c *Circuit) PutINVGate(a *Share) *Share {
	out := c.newShare(a.nvals, a.bitlen)
	m := mask(a.bitlen)
	c.gates = append(c.gates, func() error {
		out.v = make([]uint64, a.nvals)
		for i := range out.v {
			out.v[i] = a.v[i]
			if c.role == Server {
				out.v[i] ^= m
			}
		}
		return nil
	})
	return out
}

// PutANDGate queues the bitwise a & b.
func (c *Circuit) PutANDGate(a, b *Share) *Share {
	out := c.newShare(a.nvals, a.bitlen)
	if !c.checkShape(a, b) {
		return out
	}

	c.gates = append(c.gates, func() (err error) {
		out.v, err = c.and(a.v, b.v, a.bitlen)
		return err
	})
	return out
}

// PutEQGate queues a 1-bit share of a == b.
func (c *Circuit) PutEQGate(a, b *Share) *Share {
	out := c.newShare(a.nvals, 1)
	if !c.checkShape(a, b) {
		return out
	}

	c.gates = append(c.gates, func() error {
		m := mask(a.bitlen)
		// d is all ones exactly where a and b agree
		d := make([]uint64, a.nvals)
		for i := range d {
			d[i] = a.v[i] ^ b.v[i]
			if c.role == Server {
				d[i] ^= m
			}
		}

		// fold the upper half onto the lower half until one bit is left
		for w := a.bitlen; w > 1; {
			h := w / 2
			odd := w % 2
			hm := mask(h)
			lo := make([]uint64, len(d))
			hi := make([]uint64, len(d))
			for i := range d {
				lo[i] = d[i] & hm
				hi[i] = (d[i] >> uint(h+odd)) & hm
			}
			folded, err := c.and(lo, hi, h)
			if err != nil {
				return err
			}
			if odd == 1 {
				for i := range folded {
					folded[i] |= (d[i] >> uint(h) & 1) << uint(h)
				}
			}
			d = folded
			w = h + odd
		}
		out.v = d
		return nil
	})
	return out
}

// PutMUXGate queues s ? a : b where s is a 1-bit share.
func (c *Circuit) PutMUXGate(a, b, s *Share) *Share {
	out := c.newShare(a.nvals, a.bitlen)
	if !c.checkShape(a, b) {
		return out
	}
	if s.nvals != a.nvals || s.bitlen != 1 {
		c.fail(fmt.Errorf("%w: selector must be %dx1, got %dx%d", ErrShapeMismatch, a.nvals, s.nvals, s.bitlen))
		return out
	}

	c.gates = append(c.gates, func() error {
		m := mask(a.bitlen)
		sel := make([]uint64, a.nvals)
		diff := make([]uint64, a.nvals)
		for i := range sel {
			// broadcasting each share bit keeps the XOR sharing intact
			if s.v[i]&1 == 1 {
				sel[i] = m
			}
			diff[i] = a.v[i] ^ b.v[i]
		}
		picked, err := c.and(sel, diff, a.bitlen)
		if err != nil {
			return err
		}
		for i := range picked {
			picked[i] ^= b.v[i]
		}
		out.v = picked
		return nil
	})
	return out
}

// PutOUTGate queues the reconstruction of a towards the party to, or both
// parties when to is All.
func (c *Circuit) PutOUTGate(a *Share, to Role) *Share {
	out := c.newShare(a.nvals, a.bitlen)
	out.kind = hiddenOut
	if to == c.role || to == All {
		out.kind = revealedOut
	}

	c.gates = append(c.gates, func() error {
		out.v = a.v
		send := func() error {
			return c.conn.WriteUint64s(a.v)
		}
		recv := func() error {
			peer, err := c.conn.ReadUint64s(a.nvals)
			if err != nil {
				return err
			}
			out.clear = make([]uint64, a.nvals)
			for i := range peer {
				out.clear[i] = a.v[i] ^ peer[i]
			}
			return nil
		}

		switch {
		case to == All && c.role == Server:
			if err := send(); err != nil {
				return err
			}
			return recv()
		case to == All:
			if err := recv(); err != nil {
				return err
			}
			return send()
		case to == c.role:
			return recv()
		default:
			return send()
		}
	})
	return out
}

// PutSharedOUTGate marks a as an output that stays XOR shared.
func (c *Circuit) PutSharedOUTGate(a *Share) *Share {
	out := c.newShare(a.nvals, a.bitlen)
	out.kind = sharedOut
	c.gates = append(c.gates, func() error {
		out.v = a.v
		return nil
	})
	return out
}
