// Package oep implements oblivious (extended) permutation on a Waksman
// style network of swap gates.
//
// One party, the sender, owns a vector of values; the other, the
// permutor, owns an index mapping. Both end with additive shares mod 2^32
// of the values rearranged by the mapping, and neither learns the other's
// input. Every gate costs one 1-out-of-2 OT of a 64-bit message.
//
// Index convention: indices[i] names the source position whose value
// lands at output position i, so out[i] = values[indices[i]].
package oep

import (
	"fmt"

	"github.com/optable/mpc/internal/rng"
)

var (
	ErrInvalidPermutation = fmt.Errorf("indices are not a permutation")
	ErrLengthMismatch     = fmt.Errorf("input lengths do not match")
	ErrIndexOutOfRange    = fmt.Errorf("index out of range")
)

// gateCountTable holds GateCount(n) for n < 27.
var gateCountTable = [27]int{0, 0, 1, 3, 5, 8, 11, 14, 17, 21, 25, 29, 33, 37, 41, 45, 49, 54, 59, 64, 69, 74, 79, 84, 89, 94, 99}

// GateCount returns the number of gates of a network over n wires, equal
// to the sum of ceil(log2 i) for i in [1, n].
func GateCount(n int) int {
	if n < len(gateCountTable) {
		if n < 0 {
			return 0
		}
		return gateCountTable[n]
	}

	power := 1
	for 1<<uint(power) <= n {
		power++
	}
	// power = floor(log2 n) + 1
	return power*n + 1 - 1<<uint(power)
}

// Blinder is the pair of additive masks a gate adds to its two outputs.
type Blinder struct {
	Upper, Lower uint32
}

// GateLabel holds the sender's shares on the wires around one gate.
type GateLabel struct {
	Input1, Input2, Output1, Output2 uint32
}

// layout splits the gates of a network over n wires into its four parts:
// left gates, upper subnetwork, lower subnetwork and right gates.
type layout struct {
	half, odd         int
	upperN, lowerN    int
	upper, lower      int // offsets
	right, rightCount int
}

func newLayout(n int) layout {
	l := layout{half: n / 2, odd: n % 2}
	l.upperN = l.half
	l.lowerN = l.half + l.odd
	l.upper = l.half
	l.lower = l.upper + GateCount(l.upperN)
	l.right = l.lower + GateCount(l.lowerN)
	l.rightCount = l.half - 1 + l.odd
	return l
}

// GenSelectionBits returns the gate bits that make the network realize
// out[i] = in[indices[i]].
func GenSelectionBits(indices []uint32) ([]bool, error) {
	n := len(indices)
	inv := make([]int, n)
	for i := range inv {
		inv[i] = -1
	}
	for i, idx := range indices {
		if int(idx) >= n || inv[idx] != -1 {
			return nil, fmt.Errorf("%w: index %d at position %d", ErrInvalidPermutation, idx, i)
		}
		inv[idx] = i
	}

	bits := make([]bool, GateCount(n))
	perm := make([]int, n)
	for i, idx := range indices {
		perm[i] = int(idx)
	}
	genSelectionBits(perm, inv, bits)
	return bits, nil
}

// genSelectionBits fills bits for the network realizing out[i] = in[perm[i]].
// inv is the inverse of perm.
//
// Inputs 2k and 2k+1 share a left gate and outputs 2k and 2k+1 share a
// right gate, so one of each pair must travel through the upper half and
// the other through the lower half. Walking alternately along permutation
// edges and pair edges 2-colors every wire. The last output always comes
// out of the lower half; when n is odd the last input has no partner and
// goes straight to the lower half.
func genSelectionBits(perm, inv []int, bits []bool) {
	n := len(perm)
	if n < 2 {
		return
	}
	if n == 2 {
		bits[0] = perm[0] == 1
		return
	}

	const (
		none  = 0
		upper = 1
		lower = 2
	)
	l := newLayout(n)
	leftFlag := make([]uint8, n)
	rightFlag := make([]uint8, n)

	// colors the cycle or path through output r, which goes to side
	walk := func(r int, side uint8) {
		for rightFlag[r] == none {
			rightFlag[r] = side
			left := perm[r]
			leftFlag[left] = side
			if l.odd == 1 && left == n-1 {
				return
			}
			// the left partner takes the other half
			partner := left ^ 1
			other := upper + lower - side
			leftFlag[partner] = other
			r = inv[partner]
			rightFlag[r] = other
			if l.odd == 1 && r == n-1 {
				return
			}
			r ^= 1
		}
	}

	walk(n-1, lower)
	for r := 0; r < n; r++ {
		if rightFlag[r] == none {
			walk(r, lower)
		}
	}

	for i := 0; i < l.half; i++ {
		bits[i] = leftFlag[2*i] == lower
	}
	for i := 0; i < l.rightCount; i++ {
		bits[l.right+i] = rightFlag[2*i] == lower
	}

	upperPerm := make([]int, l.upperN)
	lowerPerm := make([]int, l.lowerN)
	for i := 0; i < l.half; i++ {
		up, down := 2*i, 2*i+1
		if i < l.rightCount && bits[l.right+i] {
			up, down = down, up
		}
		upperPerm[i] = perm[up] / 2
		lowerPerm[i] = perm[down] / 2
	}
	if l.odd == 1 {
		lowerPerm[l.half] = perm[n-1] / 2
	}

	genSelectionBits(upperPerm, inverse(upperPerm), bits[l.upper:l.lower])
	genSelectionBits(lowerPerm, inverse(lowerPerm), bits[l.lower:l.right])
}

func inverse(perm []int) []int {
	inv := make([]int, len(perm))
	for i, p := range perm {
		inv[p] = i
	}
	return inv
}

// EvaluateGate applies one gate: an optional swap followed by the
// addition of the blinders, mod 2^32.
func EvaluateGate(v0, v1 uint32, b Blinder, bit bool) (uint32, uint32) {
	if bit {
		v0, v1 = v1, v0
	}
	return v0 + b.Upper, v1 + b.Lower
}

// EvaluateNetwork runs values through the network in place, consuming
// bits and blinders in construction order.
func EvaluateNetwork(values []uint32, bits []bool, blinders []Blinder) {
	n := len(values)
	if n < 2 {
		return
	}
	if n == 2 {
		values[0], values[1] = EvaluateGate(values[0], values[1], blinders[0], bits[0])
		return
	}

	l := newLayout(n)
	upperValues := make([]uint32, l.upperN)
	lowerValues := make([]uint32, l.lowerN)
	for i := 0; i < l.half; i++ {
		upperValues[i], lowerValues[i] = EvaluateGate(values[2*i], values[2*i+1], blinders[i], bits[i])
	}
	if l.odd == 1 {
		lowerValues[l.half] = values[n-1]
	}

	EvaluateNetwork(upperValues, bits[l.upper:l.lower], blinders[l.upper:l.lower])
	EvaluateNetwork(lowerValues, bits[l.lower:l.right], blinders[l.lower:l.right])

	for i := 0; i < l.rightCount; i++ {
		values[2*i], values[2*i+1] = EvaluateGate(upperValues[i], lowerValues[i], blinders[l.right+i], bits[l.right+i])
	}
	if l.odd == 1 {
		values[n-1] = lowerValues[l.half]
	} else {
		values[n-2] = upperValues[l.half-1]
		values[n-1] = lowerValues[l.half-1]
	}
}

// WriteGateLabels draws fresh random output labels for every gate of the
// network. values holds the sender's input shares and is overwritten with
// its output shares; one label per gate is returned in construction order.
func WriteGateLabels(r *rng.RNG, values []uint32) []GateLabel {
	labels := make([]GateLabel, GateCount(len(values)))
	writeGateLabels(r, values, labels)
	return labels
}

func writeGateLabels(r *rng.RNG, values []uint32, labels []GateLabel) {
	n := len(values)
	if n < 2 {
		return
	}
	if n == 2 {
		labels[0] = newLabel(r, values[0], values[1])
		values[0], values[1] = labels[0].Output1, labels[0].Output2
		return
	}

	l := newLayout(n)
	upperValues := make([]uint32, l.upperN)
	lowerValues := make([]uint32, l.lowerN)
	for i := 0; i < l.half; i++ {
		labels[i] = newLabel(r, values[2*i], values[2*i+1])
		upperValues[i], lowerValues[i] = labels[i].Output1, labels[i].Output2
	}
	if l.odd == 1 {
		lowerValues[l.half] = values[n-1]
	}

	writeGateLabels(r, upperValues, labels[l.upper:l.lower])
	writeGateLabels(r, lowerValues, labels[l.lower:l.right])

	for i := 0; i < l.rightCount; i++ {
		lb := newLabel(r, upperValues[i], lowerValues[i])
		labels[l.right+i] = lb
		values[2*i], values[2*i+1] = lb.Output1, lb.Output2
	}
	if l.odd == 1 {
		values[n-1] = lowerValues[l.half]
	} else {
		values[n-2] = upperValues[l.half-1]
		values[n-1] = lowerValues[l.half-1]
	}
}

func newLabel(r *rng.RNG, in1, in2 uint32) GateLabel {
	return GateLabel{Input1: in1, Input2: in2, Output1: r.Uint32(), Output2: r.Uint32()}
}
