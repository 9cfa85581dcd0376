package oep

import (
	"context"
	"errors"
	"fmt"

	"github.com/optable/mpc/internal/rng"
	"github.com/optable/mpc/pkg/party"
)

// handshake status sent by the permutor before any OT
const (
	statusOK = iota
	statusInvalidPermutation
	statusIndexOutOfRange
	statusLengthMismatch
)

func statusOf(err error) uint64 {
	switch {
	case err == nil:
		return statusOK
	case errors.Is(err, ErrInvalidPermutation):
		return statusInvalidPermutation
	case errors.Is(err, ErrIndexOutOfRange):
		return statusIndexOutOfRange
	default:
		return statusLengthMismatch
	}
}

func errOf(status uint64) error {
	switch status {
	case statusOK:
		return nil
	case statusInvalidPermutation:
		return fmt.Errorf("%w: rejected by peer", ErrInvalidPermutation)
	case statusIndexOutOfRange:
		return fmt.Errorf("%w: rejected by peer", ErrIndexOutOfRange)
	default:
		return fmt.Errorf("%w: rejected by peer", ErrLengthMismatch)
	}
}

// permutorHandshake tells the sender the sizes and the local validation
// result, then checks the sizes the sender reports.
func permutorHandshake(ctx context.Context, p *party.Party, m, n int, local error) error {
	if err := p.Send(ctx, []uint64{uint64(m), uint64(n), statusOf(local)}); err != nil {
		return err
	}
	peer, err := p.Recv(ctx, 2)
	if err != nil {
		return err
	}
	if local != nil {
		return local
	}
	if peer[0] != uint64(m) || peer[1] != uint64(n) {
		return fmt.Errorf("%w: permutor has %d→%d, sender has %d→%d", ErrLengthMismatch, m, n, peer[0], peer[1])
	}
	return nil
}

func senderHandshake(ctx context.Context, p *party.Party, m, n int) error {
	peer, err := p.Recv(ctx, 3)
	if err != nil {
		return err
	}
	if err := p.Send(ctx, []uint64{uint64(m), uint64(n)}); err != nil {
		return err
	}
	if err := errOf(peer[2]); err != nil {
		return err
	}
	if peer[0] != uint64(m) || peer[1] != uint64(n) {
		return fmt.Errorf("%w: sender has %d→%d, permutor has %d→%d", ErrLengthMismatch, m, n, peer[0], peer[1])
	}
	return nil
}

func pack(hi, lo uint32) uint64 {
	return uint64(hi)<<32 | uint64(lo)
}

func unpack(v uint64) Blinder {
	return Blinder{Upper: uint32(v >> 32), Lower: uint32(v)}
}

func toChoices(bits []bool) []uint8 {
	choices := make([]uint8, len(bits))
	for i, b := range bits {
		if b {
			choices[i] = 1
		}
	}
	return choices
}

// SenderPermute obliviously permutes values by the permutor's indices and
// returns this party's additive share of the result.
func SenderPermute(ctx context.Context, p *party.Party, values []uint32) ([]uint32, error) {
	if err := senderHandshake(ctx, p, len(values), len(values)); err != nil {
		return nil, err
	}
	return senderPermute(ctx, p, values)
}

// PermutorPermute returns this party's additive share of out[i] =
// source[indices[i]], where values is this party's share of source.
// Pass zeros when the sender holds source in the clear.
func PermutorPermute(ctx context.Context, p *party.Party, indices, values []uint32) ([]uint32, error) {
	var local error
	if len(indices) != len(values) {
		local = fmt.Errorf("%w: %d indices for %d values", ErrLengthMismatch, len(indices), len(values))
	}
	var bits []bool
	if local == nil {
		bits, local = GenSelectionBits(indices)
	}
	if err := permutorHandshake(ctx, p, len(values), len(values), local); err != nil {
		return nil, err
	}
	return permutorPermute(ctx, p, bits, values)
}

func senderPermute(ctx context.Context, p *party.Party, values []uint32) ([]uint32, error) {
	out := append([]uint32(nil), values...)
	if len(out) < 2 {
		return out, nil
	}

	labels := WriteGateLabels(p.Rand(), out)
	msg0 := make([]uint64, len(labels))
	msg1 := make([]uint64, len(labels))
	for i, l := range labels {
		msg0[i] = pack(l.Input1-l.Output1, l.Input2-l.Output2)
		msg1[i] = pack(l.Input2-l.Output1, l.Input1-l.Output2)
	}
	if err := p.OTSend(ctx, msg0, msg1); err != nil {
		return nil, err
	}
	return out, nil
}

func permutorPermute(ctx context.Context, p *party.Party, bits []bool, values []uint32) ([]uint32, error) {
	out := append([]uint32(nil), values...)
	if len(out) < 2 {
		return out, nil
	}

	recv, err := p.OTRecv(ctx, toChoices(bits))
	if err != nil {
		return nil, err
	}
	blinders := make([]Blinder, len(recv))
	for i, v := range recv {
		blinders[i] = unpack(v)
	}
	EvaluateNetwork(out, bits, blinders)
	return out, nil
}

// chainLabels draws labels for a chain of len(values)-1 gates where gate i
// takes the previous gate's second output and values[i+1]. The returned
// slice holds the sender's output shares.
func chainLabels(r *rng.RNG, values []uint32) ([]GateLabel, []uint32) {
	n := len(values)
	labels := make([]GateLabel, n-1)
	out := make([]uint32, n)
	in1 := values[0]
	for i := range labels {
		labels[i] = newLabel(r, in1, values[i+1])
		out[i] = labels[i].Output1
		in1 = labels[i].Output2
	}
	out[n-1] = in1
	return labels, out
}

func checkChain(bits []bool, values []uint32) error {
	if len(values) > 0 && len(bits) != len(values)-1 {
		return fmt.Errorf("%w: %d bits for %d values", ErrLengthMismatch, len(bits), len(values))
	}
	return nil
}

// SenderReplicate is the value side of PermutorReplicate.
func SenderReplicate(ctx context.Context, p *party.Party, values []uint32) ([]uint32, error) {
	if err := senderHandshake(ctx, p, len(values), len(values)); err != nil {
		return nil, err
	}
	return senderReplicate(ctx, p, values)
}

// PermutorReplicate returns this party's share of out where out[0] = v[0]
// and out[i+1] is out[i] when bits[i] is set and v[i+1] otherwise. v is
// shared between the parties, values being this party's share.
func PermutorReplicate(ctx context.Context, p *party.Party, bits []bool, values []uint32) ([]uint32, error) {
	if err := permutorHandshake(ctx, p, len(values), len(values), checkChain(bits, values)); err != nil {
		return nil, err
	}
	return permutorReplicate(ctx, p, bits, values)
}

func senderReplicate(ctx context.Context, p *party.Party, values []uint32) ([]uint32, error) {
	if len(values) < 2 {
		return append([]uint32(nil), values...), nil
	}

	labels, out := chainLabels(p.Rand(), values)
	msg0 := make([]uint64, len(labels))
	msg1 := make([]uint64, len(labels))
	for i, l := range labels {
		msg0[i] = pack(l.Input1-l.Output1, l.Input2-l.Output2)
		msg1[i] = pack(l.Input1-l.Output1, l.Input1-l.Output2)
	}
	if err := p.OTSend(ctx, msg0, msg1); err != nil {
		return nil, err
	}
	return out, nil
}

func permutorReplicate(ctx context.Context, p *party.Party, bits []bool, values []uint32) ([]uint32, error) {
	n := len(values)
	if n < 2 {
		return append([]uint32(nil), values...), nil
	}

	recv, err := p.OTRecv(ctx, toChoices(bits))
	if err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	in1 := values[0]
	for i, v := range recv {
		b := unpack(v)
		out[i] = in1 + b.Upper
		if bits[i] {
			in1 += b.Lower
		} else {
			in1 = values[i+1] + b.Lower
		}
	}
	out[n-1] = in1
	return out, nil
}

// SenderAggregate is the value side of PermutorAggregate.
func SenderAggregate(ctx context.Context, p *party.Party, values []uint32) ([]uint32, error) {
	if err := senderHandshake(ctx, p, len(values), len(values)); err != nil {
		return nil, err
	}
	if len(values) < 2 {
		return append([]uint32(nil), values...), nil
	}

	labels, out := chainLabels(p.Rand(), values)
	msg0 := make([]uint64, len(labels))
	msg1 := make([]uint64, len(labels))
	for i, l := range labels {
		msg0[i] = pack(l.Input1-l.Output1, l.Input2-l.Output2)
		msg1[i] = pack(-l.Output1, l.Input1+l.Input2-l.Output2)
	}
	if err := p.OTSend(ctx, msg0, msg1); err != nil {
		return nil, err
	}
	return out, nil
}

// PermutorAggregate returns this party's share of the grouped sums of v.
// A set bits[i] puts v[i] and v[i+1] in the same group: the running sum
// moves forward and slot i becomes zero, so every group's total lands in
// its last slot.
func PermutorAggregate(ctx context.Context, p *party.Party, bits []bool, values []uint32) ([]uint32, error) {
	if err := permutorHandshake(ctx, p, len(values), len(values), checkChain(bits, values)); err != nil {
		return nil, err
	}
	n := len(values)
	if n < 2 {
		return append([]uint32(nil), values...), nil
	}

	recv, err := p.OTRecv(ctx, toChoices(bits))
	if err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	in1 := values[0]
	for i, v := range recv {
		b := unpack(v)
		if bits[i] {
			out[i] = b.Upper
			in1 += values[i+1] + b.Lower
		} else {
			out[i] = in1 + b.Upper
			in1 = values[i+1] + b.Lower
		}
	}
	out[n-1] = in1
	return out, nil
}

// SenderExtendedPermute is the value side of PermutorExtendedPermute; n
// is the number of outputs.
func SenderExtendedPermute(ctx context.Context, p *party.Party, values []uint32, n int) ([]uint32, error) {
	m := len(values)
	if err := senderHandshake(ctx, p, m, n); err != nil {
		return nil, err
	}

	size := m
	if n > size {
		size = n
	}
	padded := make([]uint32, size)
	copy(padded, values)

	out, err := senderPermute(ctx, p, padded)
	if err != nil {
		return nil, err
	}
	if out, err = senderReplicate(ctx, p, out[:n]); err != nil {
		return nil, err
	}
	return senderPermute(ctx, p, out)
}

// PermutorExtendedPermute returns this party's share of out[i] =
// source[indices[i]] for a source of len(values) elements. Indices may
// repeat or omit sources and len(indices) may differ from len(values).
func PermutorExtendedPermute(ctx context.Context, p *party.Party, indices, values []uint32) ([]uint32, error) {
	m, n := len(values), len(indices)
	plan, local := planExtended(indices, m)
	if err := permutorHandshake(ctx, p, m, n, local); err != nil {
		return nil, err
	}

	padded := make([]uint32, plan.size)
	copy(padded, values)

	out, err := permutorPermute(ctx, p, plan.first, padded)
	if err != nil {
		return nil, err
	}
	if out, err = permutorReplicate(ctx, p, plan.replicate, out[:n]); err != nil {
		return nil, err
	}
	return permutorPermute(ctx, p, plan.second, out)
}

// extendedPlan holds the selection bits of the three networks behind an
// extended permutation.
type extendedPlan struct {
	size      int
	first     []bool
	replicate []bool
	second    []bool
}

// planExtended routes every requested source to a run of consecutive
// slots, one per request, with unrequested sources as fillers. The
// replication chain then copies each source along its run and the second
// permutation hands the copies out in request order.
func planExtended(indices []uint32, m int) (extendedPlan, error) {
	n := len(indices)
	size := m
	if n > size {
		size = n
	}
	plan := extendedPlan{size: size}

	counts := make([]int, size)
	for i, idx := range indices {
		if int(idx) >= m {
			return plan, fmt.Errorf("%w: index %d at position %d, %d sources", ErrIndexOutOfRange, idx, i, m)
		}
		counts[idx]++
	}

	var dummies []uint32
	for j, c := range counts {
		if c == 0 {
			dummies = append(dummies, uint32(j))
		}
	}

	first := make([]uint32, 0, size)
	start := make([]int, size)
	for j, c := range counts {
		if c == 0 {
			continue
		}
		start[j] = len(first)
		first = append(first, uint32(j))
		first = append(first, dummies[:c-1]...)
		dummies = dummies[c-1:]
	}
	first = append(first, dummies...)

	plan.replicate = make([]bool, 0, n)
	for i := 1; i < n; i++ {
		plan.replicate = append(plan.replicate, counts[first[i]] == 0)
	}

	second := make([]uint32, n)
	for i, idx := range indices {
		second[i] = uint32(start[idx])
		start[idx]++
	}

	var err error
	if plan.first, err = GenSelectionBits(first); err != nil {
		return plan, err
	}
	plan.second, err = GenSelectionBits(second)
	return plan, err
}
