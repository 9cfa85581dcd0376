package psi

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/optable/mpc/internal/cuckoo"
	"github.com/optable/mpc/pkg/party"
)

// sets returns Alice's {0..m-1} and Bob's {1..n}.
func sets(m, n int) (alice, bob []uint64) {
	alice = make([]uint64, m)
	for i := range alice {
		alice[i] = uint64(i)
	}
	bob = make([]uint64, n)
	for i := range bob {
		bob[i] = uint64(i + 1)
	}
	return alice, bob
}

// newPSIPair runs the preparation of both sides.
func newPSIPair(t *testing.T, m, n int) (alice, bob *PSI) {
	t.Helper()
	aliceSet, bobSet := sets(m, n)
	alice, bob, aliceErr, bobErr := prepare(context.Background(), t, DefaultParams(), aliceSet, bobSet, m, n)
	if aliceErr != nil {
		t.Fatal(aliceErr)
	}
	if bobErr != nil {
		t.Fatal(bobErr)
	}
	return alice, bob
}

// prepare runs the preparation of both sides over a fresh party pair and
// returns the outcome of each.
func prepare(ctx context.Context, t *testing.T, params Params, aliceSet, bobSet []uint64, m, n int) (alice, bob *PSI, aliceErr, bobErr error) {
	t.Helper()
	server, client, err := party.NewLocalPair(ctx, []byte(t.Name()))
	if err != nil {
		t.Fatal(err)
	}

	var g errgroup.Group
	g.Go(func() error {
		alice, aliceErr = NewWithParams(ctx, server, aliceSet, m, n, Alice, params)
		return nil
	})
	g.Go(func() error {
		bob, bobErr = NewWithParams(ctx, client, bobSet, m, n, Bob, params)
		return nil
	})
	g.Wait()
	return alice, bob, aliceErr, bobErr
}

// both runs f on Alice and Bob concurrently.
func both(t *testing.T, alice, bob *PSI, f func(psi *PSI) ([]uint32, error)) (a, b []uint32) {
	t.Helper()
	var g errgroup.Group
	g.Go(func() (err error) {
		a, err = f(alice)
		return err
	})
	g.Go(func() (err error) {
		b, err = f(bob)
		return err
	})
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if len(a) != alice.BucketSize() || len(b) != bob.BucketSize() {
		t.Fatalf("want %d results, got %d and %d", alice.BucketSize(), len(a), len(b))
	}
	return a, b
}

func TestIntersect(t *testing.T) {
	for _, c := range []struct{ m, n int }{{40, 40}, {40, 4000}, {4000, 400}} {
		t.Run(fmt.Sprintf("%dx%d", c.m, c.n), func(t *testing.T) {
			alice, bob := newPSIPair(t, c.m, c.n)
			a, b := both(t, alice, bob, func(psi *PSI) ([]uint32, error) {
				return psi.Intersect(context.Background())
			})

			buckets, err := alice.CuckooToAliceArray()
			if err != nil {
				t.Fatal(err)
			}
			for item, bucket := range buckets {
				want := uint32(0)
				if item >= 1 && item <= c.n {
					want = 1
				}
				if got := a[bucket] ^ b[bucket]; got != want {
					t.Fatalf("item %d in bucket %d: want %d, got %d", item, bucket, want, got)
				}
			}

			matches := 0
			for i := range a {
				matches += int(a[i] ^ b[i])
			}
			want := c.m - 1
			if c.n < want {
				want = c.n
			}
			if matches != want {
				t.Errorf("want %d matching buckets, got %d", want, matches)
			}
		})
	}
}

func TestIntersectWithPayload(t *testing.T) {
	m, n := 100, 300
	alice, bob := newPSIPair(t, m, n)
	_, bobSet := sets(m, n)
	payload := make([]uint32, n)
	for k, item := range bobSet {
		payload[k] = uint32(item*7919 + 13)
	}

	a, b := both(t, alice, bob, func(psi *PSI) ([]uint32, error) {
		if psi == bob {
			return psi.IntersectWithPayload(context.Background(), payload)
		}
		return psi.IntersectWithPayload(context.Background(), nil)
	})

	buckets, _ := alice.CuckooToAliceArray()
	for item := 1; item < m; item++ {
		bucket := buckets[item]
		if got, want := a[bucket]+b[bucket], uint32(item*7919+13); got != want {
			t.Fatalf("item %d: want payload %d, got %d", item, want, got)
		}
	}
}

func TestCombineSharedPayload(t *testing.T) {
	for _, c := range []struct{ m, n int }{{40, 40}, {300, 120}} {
		t.Run(fmt.Sprintf("%dx%d", c.m, c.n), func(t *testing.T) {
			ctx := context.Background()
			alice, bob := newPSIPair(t, c.m, c.n)

			ia, ib := both(t, alice, bob, func(psi *PSI) ([]uint32, error) {
				return psi.Intersect(ctx)
			})

			// payload 1000+k for Bob's item k+1, split into two shares
			aliceShare := make([]uint32, c.n)
			bobShare := make([]uint32, c.n)
			for k := range aliceShare {
				aliceShare[k] = alice.p.Rand().Uint32()
				bobShare[k] = uint32(1000+k) - aliceShare[k]
			}

			a, b := both(t, alice, bob, func(psi *PSI) ([]uint32, error) {
				if psi == alice {
					return psi.CombineSharedPayload(ctx, aliceShare, ia)
				}
				return psi.CombineSharedPayload(ctx, bobShare, ib)
			})

			buckets, _ := alice.CuckooToAliceArray()
			for item := 1; item < c.m && item <= c.n; item++ {
				bucket := buckets[item]
				if got, want := a[bucket]+b[bucket], uint32(1000+item-1); got != want {
					t.Fatalf("item %d: want payload %d, got %d", item, want, got)
				}
			}
		})
	}
}

func TestNewRejects(t *testing.T) {
	ctx := context.Background()
	if _, err := New(ctx, nil, nil, 40, 40, Role(3)); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("want ErrInvalidRole, got %v", err)
	}
	params := DefaultParams()
	params.BobPerBucket = 0
	if _, err := NewWithParams(ctx, nil, make([]uint64, 40), 40, 40, Alice, params); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("want ErrInvalidParams, got %v", err)
	}
	if _, err := New(ctx, nil, make([]uint64, 10), 10, 10, Bob); !errors.Is(err, ErrSetTooSmall) {
		t.Errorf("want ErrSetTooSmall, got %v", err)
	}
}

func TestCuckooToAliceArrayBobOnly(t *testing.T) {
	alice, bob := newPSIPair(t, 40, 40)
	if _, err := bob.CuckooToAliceArray(); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("want ErrInvalidRole for bob, got %v", err)
	}
	buckets, err := alice.CuckooToAliceArray()
	if err != nil {
		t.Fatal(err)
	}
	seen := make(map[uint32]bool)
	for _, b := range buckets {
		if int(b) >= alice.BucketSize() || seen[b] {
			t.Fatalf("bucket %d out of range or shared", b)
		}
		seen[b] = true
	}
}

func TestFailureReachesPeer(t *testing.T) {
	for _, c := range []struct {
		name   string
		params func(*Params)
		alice  func([]uint64) []uint64
		bob    func([]uint64) []uint64
		run    func(ctx context.Context, psi *PSI) error
		want   error
	}{
		{
			name: "duplicate bob item",
			bob:  func(s []uint64) []uint64 { s[1] = s[0]; return s },
			want: ErrDuplicateItem,
		},
		{
			name:  "short alice set",
			alice: func(s []uint64) []uint64 { return s[:3] },
			want:  ErrItemCount,
		},
		{
			name: "short bob set",
			bob:  func(s []uint64) []uint64 { return s[:39] },
			want: ErrItemCount,
		},
		{
			// 20 buckets for 40 distinct items
			name:   "cuckoo capacity",
			params: func(p *Params) { p.CuckooFactor = 0.5 },
			want:   cuckoo.ErrCapacityExceeded,
		},
		{
			// megabins of 2 points for 40 items hashed 3 ways into 8 megabins
			name:   "megabin overflow",
			params: func(p *Params) { p.LoadMargin = -80 },
			run: func(ctx context.Context, psi *PSI) error {
				_, err := psi.Intersect(ctx)
				return err
			},
			want: ErrMegabinOverflow,
		},
		{
			name: "short bob payload",
			run: func(ctx context.Context, psi *PSI) error {
				payload := make([]uint32, 39)
				if psi.role == Alice {
					payload = nil
				}
				_, err := psi.IntersectWithPayload(ctx, payload)
				return err
			},
			want: ErrPayloadLength,
		},
		{
			name: "short alice indicator",
			run: func(ctx context.Context, psi *PSI) error {
				indicator := make([]uint32, psi.BucketSize())
				if psi.role == Alice {
					indicator = indicator[1:]
				}
				_, err := psi.CombineSharedPayload(ctx, make([]uint32, 40), indicator)
				return err
			},
			want: ErrPayloadLength,
		},
	} {
		t.Run(c.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			params := DefaultParams()
			if c.params != nil {
				c.params(&params)
			}
			aliceSet, bobSet := sets(40, 40)
			if c.alice != nil {
				aliceSet = c.alice(aliceSet)
			}
			if c.bob != nil {
				bobSet = c.bob(bobSet)
			}

			alice, bob, aliceErr, bobErr := prepare(ctx, t, params, aliceSet, bobSet, 40, 40)
			if c.run != nil {
				if aliceErr != nil || bobErr != nil {
					t.Fatalf("preparation failed: %v, %v", aliceErr, bobErr)
				}
				var g errgroup.Group
				g.Go(func() error {
					aliceErr = c.run(ctx, alice)
					return nil
				})
				g.Go(func() error {
					bobErr = c.run(ctx, bob)
					return nil
				})
				g.Wait()
			}

			if !errors.Is(aliceErr, c.want) {
				t.Errorf("alice: want %v, got %v", c.want, aliceErr)
			}
			if !errors.Is(bobErr, c.want) {
				t.Errorf("bob: want %v, got %v", c.want, bobErr)
			}
		})
	}
}
