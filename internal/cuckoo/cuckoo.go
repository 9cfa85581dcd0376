package cuckoo

import (
	"fmt"

	"github.com/optable/mpc/internal/hash"
	"github.com/optable/mpc/internal/rng"
)

const (
	// Nhash is the number of hash function used for cuckoo hash
	Nhash = 3
	// EvictionFactor multiplied by the number of items is the total
	// number of evictions a table may perform before giving up.
	EvictionFactor = 3
)

// ErrCapacityExceeded is returned when the eviction budget of a table is
// exhausted. With sane parameters this is negligibly rare and signals a
// sizing bug, so the caller must abort rather than drop the item.
var ErrCapacityExceeded = fmt.Errorf("cuckoo eviction budget exhausted")

// Hasher maps an item to its Nhash candidate buckets. Both parties build
// it from the same seeds so their tables agree on candidate slots.
type Hasher struct {
	// Total bucket count, len(bucket)
	bucketSize uint64
	// 3 hash functions h_0, h_1, h_2
	hashers [Nhash]hash.Hasher
}

// NewHasher instantiates a Hasher over bucketSize buckets using the hash
// type t (see package hash) seeded with seeds.
func NewHasher(t int, bucketSize uint64, seeds [Nhash][]byte) (*Hasher, error) {
	if bucketSize == 0 {
		return nil, fmt.Errorf("cuckoo hasher needs at least one bucket")
	}

	var hashers [Nhash]hash.Hasher
	var err error
	for i, s := range seeds {
		if hashers[i], err = hash.New(t, s); err != nil {
			return nil, err
		}
	}

	return &Hasher{
		bucketSize: bucketSize,
		hashers:    hashers,
	}, nil
}

// Size returns the number of buckets.
func (h *Hasher) Size() uint64 {
	return h.bucketSize
}

// BucketIndices returns the 3 possible bucket indices of an item
func (h *Hasher) BucketIndices(item uint64) (idxs [Nhash]uint64) {
	for i := range idxs {
		idxs[i] = hash.Uint64(h.hashers[i], item) % h.bucketSize
	}

	return idxs
}

// UniqueBucketIndices returns the distinct candidate buckets of item in
// hash order.
func (h *Hasher) UniqueBucketIndices(item uint64) []uint64 {
	idxs := h.BucketIndices(item)
	out := make([]uint64, 0, Nhash)
	for i, b := range idxs {
		dup := false
		for _, prev := range idxs[:i] {
			if prev == b {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, b)
		}
	}
	return out
}

// Cuckoo is a 3-way cuckoo hash table holding at most one item per bucket.
// bucketLookup stores the item index plus one so that zero marks an empty
// bucket.
type Cuckoo struct {
	items        []uint64
	inserted     uint64
	hashIndices  []uint8
	bucketLookup []uint64
	evictions    int
	rand         *rng.RNG
	*Hasher
}

// NewCuckoo instantiates a table for up to size items. The eviction budget
// is EvictionFactor*size across all insertions.
func NewCuckoo(h *Hasher, size int, r *rng.RNG) *Cuckoo {
	return &Cuckoo{
		items:        make([]uint64, 0, size),
		hashIndices:  make([]uint8, 0, size),
		bucketLookup: make([]uint64, h.bucketSize),
		evictions:    EvictionFactor * size,
		rand:         r,
		Hasher:       h,
	}
}

// Bucket returns the index of the item stored in bucket bIdx, and false if
// the bucket is empty.
func (c *Cuckoo) Bucket(bIdx uint64) (int, bool) {
	v := c.bucketLookup[bIdx]
	if v == 0 {
		return 0, false
	}
	return int(v - 1), true
}

// Item returns the idx-th inserted item along with the hash function that
// placed it.
func (c *Cuckoo) Item(idx int) (uint64, uint8) {
	return c.items[idx], c.hashIndices[idx]
}

// Len returns the number of inserted items, counting duplicates.
func (c *Cuckoo) Len() int {
	return len(c.items)
}

// Exists returns the bucket holding item if it was inserted.
func (c *Cuckoo) Exists(item uint64) (uint64, bool) {
	for _, bIdx := range c.BucketIndices(item) {
		if idx, ok := c.Bucket(bIdx); ok && c.items[idx] == item {
			return bIdx, true
		}
	}
	return 0, false
}

// Insert adds item at the next index. An item equal to one already in the
// table is recorded but shares the existing bucket.
func (c *Cuckoo) Insert(item uint64) error {
	if _, found := c.Exists(item); found {
		c.items = append(c.items, item)
		c.hashIndices = append(c.hashIndices, 0)
		return nil
	}

	idx := uint64(len(c.items))
	c.items = append(c.items, item)
	c.hashIndices = append(c.hashIndices, 0)
	bucketIndices := c.BucketIndices(item)

	// add to free slots
	if c.tryAdd(idx, bucketIndices) {
		c.inserted++
		return nil
	}

	// force insert by cuckoo (eviction)
	if homeless, ok := c.tryGreedyAdd(idx, bucketIndices); !ok {
		return fmt.Errorf("%w: item #%d left homeless", ErrCapacityExceeded, homeless)
	}
	c.inserted++
	return nil
}

// tryAdd places the item at index idx in its first free candidate bucket.
func (c *Cuckoo) tryAdd(idx uint64, bucketIndices [Nhash]uint64) bool {
	for hIdx, bIdx := range bucketIndices {
		if c.bucketLookup[bIdx] == 0 {
			c.bucketLookup[bIdx] = idx + 1
			c.hashIndices[idx] = uint8(hIdx)
			return true
		}
	}
	return false
}

// tryGreedyAdd evicts the occupant of a random candidate bucket, takes its
// place and reinserts the evicted item, until an item lands in a free
// bucket or the eviction budget runs out.
func (c *Cuckoo) tryGreedyAdd(idx uint64, bucketIndices [Nhash]uint64) (homeless uint64, added bool) {
	for c.evictions > 0 {
		c.evictions--

		evictedHIdx := c.rand.Intn(Nhash)
		evictedBIdx := bucketIndices[evictedHIdx]
		evictedIdx := c.bucketLookup[evictedBIdx] - 1
		// insert the item in the evicted slot
		c.bucketLookup[evictedBIdx] = idx + 1
		c.hashIndices[idx] = uint8(evictedHIdx)

		idx = evictedIdx
		bucketIndices = c.BucketIndices(c.items[idx])
		if c.tryAdd(idx, bucketIndices) {
			return 0, true
		}
	}

	return idx, false
}

// Slots returns, for every inserted item index, the bucket holding it.
func (c *Cuckoo) Slots() []uint64 {
	slots := make([]uint64, len(c.items))
	for bIdx, v := range c.bucketLookup {
		if v != 0 {
			slots[v-1] = uint64(bIdx)
		}
	}
	// duplicates share the bucket of the first copy
	for i, item := range c.items {
		if c.bucketLookup[slots[i]] != uint64(i)+1 {
			slots[i], _ = c.Exists(item)
		}
	}
	return slots
}

// LoadFactor returns the ratio of occupied buckets with the overall bucketSize
func (c *Cuckoo) LoadFactor() (factor float64) {
	return float64(c.inserted) / float64(c.bucketSize)
}

// Simple is a simple hash table: every item index is stored in each of its
// distinct candidate buckets.
type Simple struct {
	bins [][]int
	*Hasher
}

// NewSimple hashes every item of items into its candidate buckets.
func NewSimple(h *Hasher, items []uint64) *Simple {
	s := &Simple{bins: make([][]int, h.bucketSize), Hasher: h}
	for i, item := range items {
		for _, bIdx := range h.UniqueBucketIndices(item) {
			s.bins[bIdx] = append(s.bins[bIdx], i)
		}
	}
	return s
}

// Bin returns the item indices hashed into bucket bIdx.
func (s *Simple) Bin(bIdx uint64) []int {
	return s.bins[bIdx]
}

// Load returns the total number of entries across all buckets.
func (s *Simple) Load() int {
	var n int
	for _, b := range s.bins {
		n += len(b)
	}
	return n
}
