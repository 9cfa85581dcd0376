package psi

import (
	"errors"
	"testing"
)

func TestSizes(t *testing.T) {
	s, err := DefaultParams().sizes(40, 40)
	if err != nil {
		t.Fatal(err)
	}
	want := sizes{bucketSize: 50, gamma: 46, numMegabins: 8, megabinLoad: 37}
	if s != want {
		t.Errorf("want %+v, got %+v", want, s)
	}

	// Bob's set dominates the bucket count
	if s, err = DefaultParams().sizes(10, 25600); err != nil {
		t.Fatal(err)
	}
	if s.bucketSize != 101 {
		t.Errorf("want 101 buckets, got %d", s.bucketSize)
	}
}

func TestSizesRejects(t *testing.T) {
	if _, err := DefaultParams().sizes(29, 29); !errors.Is(err, ErrSetTooSmall) {
		t.Errorf("want ErrSetTooSmall, got %v", err)
	}
	if _, err := DefaultParams().sizes(29, 30); err != nil {
		t.Errorf("one set of 30 should do, got %v", err)
	}
	if _, err := DefaultParams().sizes(1<<20, 100); !errors.Is(err, ErrBucketTooLarge) {
		t.Errorf("want ErrBucketTooLarge, got %v", err)
	}

	for _, c := range []struct {
		name string
		edit func(*Params)
	}{
		{"zero bob per bucket", func(p *Params) { p.BobPerBucket = 0 }},
		{"negative cuckoo factor", func(p *Params) { p.CuckooFactor = -1 }},
		{"zero security", func(p *Params) { p.Security = 0 }},
		{"negative load", func(p *Params) { p.LoadMargin = -200 }},
	} {
		p := DefaultParams()
		c.edit(&p)
		if _, err := p.sizes(40, 40); !errors.Is(err, ErrInvalidParams) {
			t.Errorf("%s: want ErrInvalidParams, got %v", c.name, err)
		}
	}
}

func TestMegabinLoad(t *testing.T) {
	p := DefaultParams()
	if got := p.megabinLoad(300, 1); got != 300 {
		t.Errorf("a single megabin takes every ball, got %d", got)
	}
	// heavy and light regimes, both including the margin
	if got := p.megabinLoad(120, 8); got != 37 {
		t.Errorf("want 37, got %d", got)
	}
	if got := p.megabinLoad(12, 8); got != 18 {
		t.Errorf("want 18, got %d", got)
	}
}

func TestMegabinRanges(t *testing.T) {
	for _, s := range []sizes{
		{bucketSize: 50, numMegabins: 8},
		{bucketSize: 5080, numMegabins: 33},
		{bucketSize: 7, numMegabins: 7},
		{bucketSize: 1, numMegabins: 1},
	} {
		next := 0
		for i := 0; i < s.numMegabins; i++ {
			start, end := s.megabin(i)
			if start != next || end <= start {
				t.Fatalf("%+v: megabin %d is [%d, %d), want start %d", s, i, start, end, next)
			}
			if d := end - start; d != s.bucketSize/s.numMegabins && d != s.bucketSize/s.numMegabins+1 {
				t.Fatalf("%+v: megabin %d has %d buckets", s, i, d)
			}
			next = end
		}
		if next != s.bucketSize {
			t.Errorf("%+v: megabins cover %d buckets", s, next)
		}
	}
}
