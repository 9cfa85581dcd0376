package circuit

// and computes shares of x & y for XOR-shared words of bitlen bits.
// The server sends its cross term first, then the client.
func (c *Circuit) and(x, y []uint64, bitlen int) ([]uint64, error) {
	var (
		own, got []uint64
		err      error
	)
	if c.role == Server {
		if own, err = c.sendCross(x, bitlen); err != nil {
			return nil, err
		}
		if got, err = c.recvCross(y, bitlen); err != nil {
			return nil, err
		}
	} else {
		if got, err = c.recvCross(y, bitlen); err != nil {
			return nil, err
		}
		if own, err = c.sendCross(x, bitlen); err != nil {
			return nil, err
		}
	}

	z := make([]uint64, len(x))
	for i := range z {
		z[i] = x[i]&y[i] ^ own[i] ^ got[i]
	}
	return z, nil
}

// sendCross offers (r, r^x) for every bit of x and keeps r. The peer,
// choosing with its share y', learns r ^ x&y'.
func (c *Circuit) sendCross(x []uint64, bitlen int) ([]uint64, error) {
	m := mask(bitlen)
	r := make([]uint64, len(x))
	msg0 := make([]uint64, 0, len(x)*bitlen)
	msg1 := make([]uint64, 0, len(x)*bitlen)
	for i := range x {
		r[i] = c.rand.Uint64() & m
		for b := 0; b < bitlen; b++ {
			rb := r[i] >> uint(b) & 1
			xb := x[i] >> uint(b) & 1
			msg0 = append(msg0, rb)
			msg1 = append(msg1, rb^xb)
		}
	}

	if err := c.sender.Send(msg0, msg1); err != nil {
		return nil, err
	}
	return r, nil
}

// recvCross chooses with every bit of y and packs the received bits.
func (c *Circuit) recvCross(y []uint64, bitlen int) ([]uint64, error) {
	choices := make([]uint8, 0, len(y)*bitlen)
	for i := range y {
		for b := 0; b < bitlen; b++ {
			choices = append(choices, uint8(y[i]>>uint(b)&1))
		}
	}

	got, err := c.receiver.Receive(choices)
	if err != nil {
		return nil, err
	}

	out := make([]uint64, len(y))
	for i := range out {
		for b := 0; b < bitlen; b++ {
			out[i] |= (got[i*bitlen+b] & 1) << uint(b)
		}
	}
	return out, nil
}
