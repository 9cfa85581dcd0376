package ot

import (
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/optable/mpc/internal/crypto"
	"github.com/optable/mpc/internal/rng"
	"github.com/optable/mpc/internal/util"
	"github.com/optable/mpc/internal/wire"
)

// ExtSender is the sending side of an IKNP extension. At construction it
// acts as the receiver of BaseCount base OTs with secret choices s; every
// later batch costs one message each way and no public key operations.
type ExtSender struct {
	conn   *wire.Conn
	s      [BaseCount]uint8
	sBlock [2]uint64
	seeds  [BaseCount][]byte
	batch  uint64
	prg    *blake3.Hasher
}

// ExtReceiver is the receiving side of an IKNP extension. At construction
// it acts as the sender of BaseCount base OTs with random seed pairs.
type ExtReceiver struct {
	conn  *wire.Conn
	seeds [BaseCount][2][]byte
	batch uint64
	prg   *blake3.Hasher
}

// NewExtSender runs the base OTs as receiver. The peer must call
// NewExtReceiver at the same point of the protocol.
func NewExtSender(c *wire.Conn, r *rng.RNG) (*ExtSender, error) {
	ext := &ExtSender{conn: c, prg: blake3.New()}
	choices := make([]uint8, BaseCount)
	for i := range choices {
		choices[i] = r.Bit()
		ext.s[i] = choices[i]
		ext.sBlock[i/64] |= uint64(choices[i]) << (i % 64)
	}

	seeds, err := newSimplestRistretto(BaseCount, SeedLength, r).Receive(c, choices)
	if err != nil {
		return nil, fmt.Errorf("base OT: %w", err)
	}
	copy(ext.seeds[:], seeds)
	return ext, nil
}

// NewExtReceiver runs the base OTs as sender.
func NewExtReceiver(c *wire.Conn, r *rng.RNG) (*ExtReceiver, error) {
	ext := &ExtReceiver{conn: c, prg: blake3.New()}
	messages := make([][2][]byte, BaseCount)
	for i := range messages {
		for j := range messages[i] {
			messages[i][j] = make([]byte, SeedLength)
			r.Read(messages[i][j])
			ext.seeds[i][j] = messages[i][j]
		}
	}

	if err := newSimplestRistretto(BaseCount, SeedLength, r).Send(c, messages); err != nil {
		return nil, fmt.Errorf("base OT: %w", err)
	}
	return ext, nil
}

// Send transfers msg0[i] or msg1[i] for every i, as chosen by the peer.
func (ext *ExtSender) Send(msg0, msg1 []uint64) error {
	if len(msg0) != len(msg1) {
		return ErrMessageCountMismatch
	}
	n := len(msg0)
	if n == 0 {
		return nil
	}
	words := (n + 63) / 64
	defer func() { ext.batch++ }()

	u, err := ext.conn.ReadUint64s(BaseCount * words)
	if err != nil {
		return err
	}

	// q^i = G(k_i^{s_i}) xor s_i*u^i = t^i xor s_i*r
	q := make([][]uint64, BaseCount)
	for i := range q {
		q[i] = crypto.PseudorandomGenerate(ext.prg, ext.seeds[i], ext.batch, words)
		if ext.s[i] == 1 {
			col := u[i*words : (i+1)*words]
			for w := range q[i] {
				q[i][w] ^= col[w]
			}
		}
	}

	rows := util.TransposeColumns(q, n)
	y := make([]uint64, 2*n)
	for j, row := range rows {
		y[2*j] = msg0[j] ^ crypto.CorrelationRobustHash(ext.batch, uint64(j), row)
		row[0] ^= ext.sBlock[0]
		row[1] ^= ext.sBlock[1]
		y[2*j+1] = msg1[j] ^ crypto.CorrelationRobustHash(ext.batch, uint64(j), row)
	}

	return ext.conn.WriteUint64s(y)
}

// Receive obtains msg_{choices[i]}[i] for every i.
func (ext *ExtReceiver) Receive(choices []uint8) ([]uint64, error) {
	n := len(choices)
	if n == 0 {
		return []uint64{}, nil
	}
	for _, c := range choices {
		if c > 1 {
			return nil, ErrChoiceNotBinary
		}
	}
	words := (n + 63) / 64
	defer func() { ext.batch++ }()

	r := util.PackBits(choices)
	t := make([][]uint64, BaseCount)
	u := make([]uint64, BaseCount*words)
	for i := range t {
		t[i] = crypto.PseudorandomGenerate(ext.prg, ext.seeds[i][0], ext.batch, words)
		g := crypto.PseudorandomGenerate(ext.prg, ext.seeds[i][1], ext.batch, words)
		col := u[i*words : (i+1)*words]
		for w := range col {
			col[w] = t[i][w] ^ g[w] ^ r[w]
		}
	}

	if err := ext.conn.WriteUint64s(u); err != nil {
		return nil, err
	}

	rows := util.TransposeColumns(t, n)
	y, err := ext.conn.ReadUint64s(2 * n)
	if err != nil {
		return nil, err
	}

	out := make([]uint64, n)
	for j, row := range rows {
		out[j] = y[2*j+int(choices[j])] ^ crypto.CorrelationRobustHash(ext.batch, uint64(j), row)
	}
	return out, nil
}
