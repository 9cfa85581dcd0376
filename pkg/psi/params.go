package psi

import (
	"fmt"
	"math"

	"github.com/optable/mpc/internal/field"
	"github.com/optable/mpc/internal/hash"
)

// Params holds the sizing constants of the protocol.
type Params struct {
	// Statistical security in bits.
	Security int
	// Cuckoo table size relative to Alice's set.
	CuckooFactor float64
	// Bob's set size per bucket once Alice's set is small.
	BobPerBucket int
	// Smallest set size supported when both sets are small.
	MinSetSize int
	// Bits available for a field element, log2 of the modulus rounded up.
	FieldBits int
	// Hash type placing items in buckets.
	BinHash int
	// Hash type producing the 40-bit item keys of polynomial points.
	FingerprintHash int
	// Margin added to the expected megabin load, divided by log2 of the
	// number of megabins.
	LoadMargin float64
}

// DefaultParams returns the parameters giving 40 bits of statistical
// security.
func DefaultParams() Params {
	return Params{
		Security:        40,
		CuckooFactor:    1.27,
		BobPerBucket:    256,
		MinSetSize:      30,
		FieldBits:       61,
		BinHash:         hash.Murmur3,
		FingerprintHash: hash.Highway,
		LoadMargin:      40,
	}
}

// sizes derived from the set sizes
type sizes struct {
	bucketSize  int
	gamma       int
	numMegabins int
	megabinLoad int
}

func (p Params) sizes(aliceSize, bobSize int) (sizes, error) {
	var s sizes
	if !(p.CuckooFactor > 0) || p.BobPerBucket <= 0 || p.Security <= 0 {
		return s, fmt.Errorf("%w: cuckoo factor %v, %d bob items per bucket, security %d", ErrInvalidParams, p.CuckooFactor, p.BobPerBucket, p.Security)
	}
	if aliceSize < p.MinSetSize && bobSize < p.MinSetSize {
		return s, fmt.Errorf("%w: %d and %d items, need %d on one side", ErrSetTooSmall, aliceSize, bobSize, p.MinSetSize)
	}

	s.bucketSize = int(p.CuckooFactor * float64(aliceSize))
	if b := 1 + bobSize/p.BobPerBucket; b > s.bucketSize {
		s.bucketSize = b
	}
	logBucket := field.Log2Ceil(uint64(s.bucketSize))
	if logBucket >= p.FieldBits-p.Security {
		return s, fmt.Errorf("%w: 2^%d buckets", ErrBucketTooLarge, logBucket)
	}
	s.gamma = p.Security + logBucket

	bs := float64(s.bucketSize)
	binsPerMegabin := s.bucketSize
	if bobSize > 0 {
		binsPerMegabin = int(bs * math.Log2(bs) / float64(bobSize))
	}
	if binsPerMegabin < 1 {
		binsPerMegabin = 1
	}
	s.numMegabins = (s.bucketSize + binsPerMegabin - 1) / binsPerMegabin
	s.megabinLoad = p.megabinLoad(3*bobSize, s.numMegabins)
	if s.megabinLoad <= 0 {
		return s, fmt.Errorf("%w: megabin load %d with load margin %v", ErrInvalidParams, s.megabinLoad, p.LoadMargin)
	}
	return s, nil
}

// megabinLoad bounds the heaviest of n bins after throwing m balls, see
// "Balls into Bins: A Simple and Tight Analysis".
func (p Params) megabinLoad(m, n int) int {
	if n <= 1 {
		return m
	}

	fm, fn := float64(m), float64(n)
	logn := math.Log2(fn)
	var load float64
	if fm > fn*logn*4 {
		load = math.Ceil(fm/fn + math.Sqrt(2*logn*fm/fn))
	} else {
		load = math.Ceil(1.41*fm/fn + 1.04*logn)
	}
	load += math.Ceil(p.LoadMargin / logn * (1 - 1/fn))
	return int(load)
}

// megabin returns the bucket range [start, end) of megabin i. The first
// bucketSize % numMegabins megabins take one extra bucket.
func (s sizes) megabin(i int) (start, end int) {
	div := s.bucketSize / s.numMegabins
	rem := s.bucketSize % s.numMegabins
	start = i*div + min(i, rem)
	end = start + div
	if i < rem {
		end++
	}
	return start, end
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
