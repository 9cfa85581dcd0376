// Package field implements arithmetic over the pseudo-Mersenne prime field
// GF(2^61-1) used to encode PSI bins as polynomials.
package field

import "math/bits"

const (
	// P is the field modulus 2^61-1.
	P uint64 = 1<<61 - 1

	mask31 uint64 = 1<<31 - 1
	mask30 uint64 = 1<<30 - 1
)

// fold reduces x < 2^64 using 2^61 = 1 mod P. The result is < P+8.
func fold(x uint64) uint64 {
	return (x >> 61) + (x & P)
}

// Reduce returns the canonical representative of x in [0, P).
func Reduce(x uint64) uint64 {
	x = fold(x)
	if x >= P {
		x -= P
	}
	return x
}

// Add returns a+b mod P for canonical a and b.
func Add(a, b uint64) uint64 {
	return Reduce(a + b)
}

// Sub returns a-b mod P for canonical a and b.
func Sub(a, b uint64) uint64 {
	return Reduce(a + P - b)
}

// Mul returns a*b mod P. Both operands must be below 2^62.
// Each operand is split into a 31-bit low half and a 31-bit high half so
// no partial product overflows 64 bits.
func Mul(a, b uint64) uint64 {
	a1, a0 := a>>31, a&mask31
	b1, b0 := b>>31, b&mask31

	// a*b = a1*b1*2^62 + (a1*b0+a0*b1)*2^31 + a0*b0
	hi := a1 * b1
	mid := a1*b0 + a0*b1
	lo := a0 * b0

	// 2^62 = 2 mod P
	// mid*2^31 = (mid>>30)*2^61 + (mid&mask30)*2^31 = (mid>>30) + (mid&mask30)<<31
	r := hi<<1 + mid>>30 + (mid&mask30)<<31 + lo
	return Reduce(r)
}

// Inverse returns the multiplicative inverse of a mod P using the extended
// Euclidean algorithm. Inverse(0) is undefined and returns 0.
func Inverse(a uint64) uint64 {
	a = Reduce(a)
	if a == 0 {
		return 0
	}

	var (
		t, newT int64 = 0, 1
		r, newR       = int64(P), int64(a)
	)
	for newR != 0 {
		q := r / newR
		t, newT = newT, t-q*newT
		r, newR = newR, r-q*newR
	}
	if t < 0 {
		t += int64(P)
	}
	return uint64(t)
}

// PolyEval evaluates the polynomial with the given coefficients (lowest
// degree first) at x using Horner's rule.
func PolyEval(coeffs []uint64, x uint64) uint64 {
	x = Reduce(x)
	var y uint64
	for i := len(coeffs) - 1; i >= 0; i-- {
		y = Add(Mul(y, x), coeffs[i])
	}
	return y
}

// Interpolate returns the coefficients (lowest degree first) of the unique
// polynomial of degree len(xs)-1 passing through every (xs[i], ys[i]).
// The xs must be pairwise distinct mod P and len(ys) must equal len(xs).
//
// Points are folded in one at a time: prod holds prod_{j<k}(X - xs[j]) and
// coeffs the interpolant of the first k points. Adding point k updates
// coeffs += prod * (ys[k] - coeffs(xs[k])) / prod(xs[k]).
func Interpolate(xs, ys []uint64) []uint64 {
	n := len(xs)
	coeffs := make([]uint64, n)
	if n == 0 {
		return coeffs
	}

	prod := make([]uint64, n+1)
	prod[0] = 1
	for k := 0; k < n; k++ {
		x := Reduce(xs[k])
		// evaluate prod and the current interpolant at x
		var pv, cv uint64
		for i := k; i >= 0; i-- {
			pv = Add(Mul(pv, x), prod[i])
		}
		for i := k - 1; i >= 0; i-- {
			cv = Add(Mul(cv, x), coeffs[i])
		}

		scale := Mul(Sub(Reduce(ys[k]), cv), Inverse(pv))
		for i := 0; i <= k; i++ {
			coeffs[i] = Add(coeffs[i], Mul(prod[i], scale))
		}

		// prod *= (X - x)
		neg := Sub(0, x)
		for i := k + 1; i > 0; i-- {
			prod[i] = Add(prod[i-1], Mul(prod[i], neg))
		}
		prod[0] = Mul(prod[0], neg)
	}

	return coeffs
}

// Log2Floor returns floor(log2(n)) for n > 0 and 0 otherwise.
func Log2Floor(n uint64) int {
	if n == 0 {
		return 0
	}
	return bits.Len64(n) - 1
}

// Log2Ceil returns ceil(log2(n)) for n > 0 and 0 otherwise.
func Log2Ceil(n uint64) int {
	if n <= 1 {
		return 0
	}
	return bits.Len64(n - 1)
}
