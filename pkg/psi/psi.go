// Package psi implements circuit-based private set intersection with
// payloads between Alice, who cuckoo hashes her set, and Bob, who simple
// hashes his set into the same buckets.
//
// Results are per bucket: both parties end with shares of a 0/1 match
// indicator or of Bob's payload for the item Alice placed in each bucket.
// CuckooToAliceArray maps Alice's items to their buckets.
//
// For every bucket Bob hides a random value T behind the OPRF outputs of
// the items he hashed there: he interpolates, per megabin of buckets, a
// polynomial through the points (key(item, bucket), OPRF(item) ^ T). Alice
// evaluates it at her own item and removes her OPRF output, recovering T
// exactly when her item is one of his.
package psi

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/optable/mpc/internal/cuckoo"
	"github.com/optable/mpc/internal/field"
	"github.com/optable/mpc/internal/hash"
	"github.com/optable/mpc/pkg/oep"
	"github.com/optable/mpc/pkg/party"
)

// Role of a PSI participant.
type Role int

const (
	Alice Role = iota
	Bob
)

func (r Role) String() string {
	switch r {
	case Alice:
		return "alice"
	case Bob:
		return "bob"
	default:
		return "undefined"
	}
}

var (
	ErrInvalidRole     = fmt.Errorf("psi role must be alice or bob")
	ErrSetTooSmall     = fmt.Errorf("both sets are too small")
	ErrBucketTooLarge  = fmt.Errorf("bucket count exceeds the field budget")
	ErrInvalidParams   = fmt.Errorf("invalid psi parameters")
	ErrMegabinOverflow = fmt.Errorf("megabin holds more points than its load")
	ErrItemCount       = fmt.Errorf("item count does not match the declared set size")
	ErrDuplicateItem   = fmt.Errorf("bob's set holds duplicate items")
	ErrPayloadLength   = fmt.Errorf("payload length does not match")
	ErrPeerAborted     = fmt.Errorf("peer aborted the run")
)

// status word sent ahead of every exchange that depends on a local step
// that may fail, so that both parties abort together
const (
	statusOK = iota
	statusItemCount
	statusDuplicateItem
	statusCapacityExceeded
	statusMegabinOverflow
	statusPayloadLength
	statusAborted
)

func statusOf(err error) uint64 {
	switch {
	case err == nil:
		return statusOK
	case errors.Is(err, ErrItemCount):
		return statusItemCount
	case errors.Is(err, ErrDuplicateItem):
		return statusDuplicateItem
	case errors.Is(err, cuckoo.ErrCapacityExceeded):
		return statusCapacityExceeded
	case errors.Is(err, ErrMegabinOverflow):
		return statusMegabinOverflow
	case errors.Is(err, ErrPayloadLength):
		return statusPayloadLength
	default:
		return statusAborted
	}
}

func errOf(status uint64) error {
	var err error
	switch status {
	case statusOK:
		return nil
	case statusItemCount:
		err = ErrItemCount
	case statusDuplicateItem:
		err = ErrDuplicateItem
	case statusCapacityExceeded:
		err = cuckoo.ErrCapacityExceeded
	case statusMegabinOverflow:
		err = ErrMegabinOverflow
	case statusPayloadLength:
		err = ErrPayloadLength
	default:
		err = ErrPeerAborted
	}
	return fmt.Errorf("%w: rejected by peer", err)
}

// sendStatus reports the outcome of a local step and returns it.
func (psi *PSI) sendStatus(ctx context.Context, local error) error {
	if err := psi.p.Send(ctx, []uint64{statusOf(local)}); err != nil && local == nil {
		return fmt.Errorf("status: %w", err)
	}
	return local
}

// recvStatus returns the failure the peer reported, if any.
func (psi *PSI) recvStatus(ctx context.Context) error {
	v, err := psi.p.Recv(ctx, 1)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	return errOf(v[0])
}

// agree exchanges the outcome of a local step in both directions. Bob
// reports first.
func (psi *PSI) agree(ctx context.Context, local error) error {
	if psi.role == Bob {
		if err := psi.sendStatus(ctx, local); err != nil {
			return err
		}
		return psi.recvStatus(ctx)
	}
	if err := psi.recvStatus(ctx); err != nil {
		return err
	}
	return psi.sendStatus(ctx, local)
}

// keyBits is the width of the item part of a polynomial point.
const keyBits = 40

// PSI is one side of an intersection between two fixed sets.
type PSI struct {
	p         *party.Party
	role      Role
	params    Params
	aliceSize int
	bobSize   int
	sizes
	fingerprint hash.Hasher
	logger      logr.Logger

	// Alice
	table     *cuckoo.Cuckoo
	encCuckoo []uint64

	// Bob
	items     []uint64
	simple    *cuckoo.Simple
	encSimple [][]uint64
}

// New builds the hash table of role over items and runs the OPRF with
// the peer, using DefaultParams.
func New(ctx context.Context, p *party.Party, items []uint64, aliceSize, bobSize int, role Role) (*PSI, error) {
	return NewWithParams(ctx, p, items, aliceSize, bobSize, role, DefaultParams())
}

// NewWithParams is New with explicit parameters. Both parties must use the
// same parameters.
func NewWithParams(ctx context.Context, p *party.Party, items []uint64, aliceSize, bobSize int, role Role, params Params) (*PSI, error) {
	own := aliceSize
	switch role {
	case Alice:
	case Bob:
		own = bobSize
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidRole, role)
	}
	s, err := params.sizes(aliceSize, bobSize)
	if err != nil {
		return nil, err
	}

	psi := &PSI{
		p:         p,
		role:      role,
		params:    params,
		aliceSize: aliceSize,
		bobSize:   bobSize,
		sizes:     s,
		logger:    p.Logger().WithName("psi").WithValues("side", role.String()),
	}
	psi.logger.V(1).Info("sizes", "buckets", s.bucketSize, "gamma", s.gamma, "megabins", s.numMegabins, "megabinLoad", s.megabinLoad)

	// a bad item count is reported to the peer during the preparation
	var local error
	if len(items) != own {
		local = fmt.Errorf("%w: %d items for a set of %d", ErrItemCount, len(items), own)
	}
	if role == Alice {
		err = psi.alicePrepare(ctx, items, local)
	} else {
		err = psi.bobPrepare(ctx, items, local)
	}
	if err != nil {
		return nil, err
	}
	p.Tick("psi prepare")
	return psi, nil
}

// BucketSize returns the number of buckets, the length of every result.
func (psi *PSI) BucketSize() int { return psi.bucketSize }

// Gamma returns the bit width of the masked values compared per bucket.
func (psi *PSI) Gamma() int { return psi.gamma }

// NumMegabins returns the number of interpolated polynomials.
func (psi *PSI) NumMegabins() int { return psi.numMegabins }

// MegabinLoad returns the number of points of every polynomial.
func (psi *PSI) MegabinLoad() int { return psi.megabinLoad }

// hashers builds the bucket and fingerprint hashers from the salts that
// Bob samples and sends. Bob's status goes ahead of the salts.
func (psi *PSI) hashers(ctx context.Context, local error) (*cuckoo.Hasher, error) {
	n := (cuckoo.Nhash + 1) * hash.SaltLength
	var salts []byte
	var err error
	if psi.role == Bob {
		if err := psi.sendStatus(ctx, local); err != nil {
			return nil, err
		}
		salts = make([]byte, n)
		psi.p.Rand().Read(salts)
		err = psi.p.SendBytes(ctx, salts)
	} else {
		if err := psi.recvStatus(ctx); err != nil {
			return nil, err
		}
		salts, err = psi.p.RecvBytes(ctx, n)
	}
	if err != nil {
		return nil, fmt.Errorf("salts: %w", err)
	}

	var seeds [cuckoo.Nhash][]byte
	for i := range seeds {
		seeds[i] = salts[i*hash.SaltLength : (i+1)*hash.SaltLength]
	}
	h, err := cuckoo.NewHasher(psi.params.BinHash, uint64(psi.bucketSize), seeds)
	if err != nil {
		return nil, err
	}
	if psi.fingerprint, err = hash.New(psi.params.FingerprintHash, salts[cuckoo.Nhash*hash.SaltLength:]); err != nil {
		return nil, err
	}
	return h, nil
}

// alicePrepare cuckoo hashes Alice's set and obtains the OPRF output of
// every bucket's content. Empty buckets query a random value.
func (psi *PSI) alicePrepare(ctx context.Context, items []uint64, local error) error {
	h, err := psi.hashers(ctx, nil)
	if err != nil {
		return err
	}

	if local == nil {
		psi.table = cuckoo.NewCuckoo(h, len(items), psi.p.Rand())
		for _, item := range items {
			if local = psi.table.Insert(item); local != nil {
				break
			}
		}
	}
	if err := psi.sendStatus(ctx, local); err != nil {
		return err
	}
	psi.logger.V(2).Info("cuckoo table", "load", psi.table.LoadFactor())

	inputs := make([]uint64, psi.bucketSize)
	for b := range inputs {
		if idx, ok := psi.table.Bucket(uint64(b)); ok {
			inputs[b], _ = psi.table.Item(idx)
		} else {
			inputs[b] = psi.p.Rand().Uint64()
		}
	}
	if psi.encCuckoo, err = psi.p.OPRFRecv(ctx, inputs); err != nil {
		return fmt.Errorf("oprf: %w", err)
	}
	return nil
}

// bobPrepare simple hashes Bob's set and evaluates the OPRF on every
// bucket's items.
func (psi *PSI) bobPrepare(ctx context.Context, items []uint64, local error) error {
	if local == nil {
		seen := make(map[uint64]struct{}, len(items))
		for i, item := range items {
			if _, ok := seen[item]; ok {
				local = fmt.Errorf("%w: item #%d", ErrDuplicateItem, i)
				break
			}
			seen[item] = struct{}{}
		}
	}

	h, err := psi.hashers(ctx, local)
	if err != nil {
		return err
	}

	psi.items = items
	psi.simple = cuckoo.NewSimple(h, items)
	psi.logger.V(2).Info("simple table", "entries", psi.simple.Load())
	if err := psi.recvStatus(ctx); err != nil {
		return err
	}

	inputs := make([][]uint64, psi.bucketSize)
	for b := range inputs {
		bin := psi.simple.Bin(uint64(b))
		inputs[b] = make([]uint64, len(bin))
		for k, idx := range bin {
			inputs[b][k] = items[idx]
		}
	}
	if psi.encSimple, err = psi.p.OPRFSend(ctx, inputs); err != nil {
		return fmt.Errorf("oprf: %w", err)
	}
	return nil
}

// point returns the x coordinate keying item in bucket b.
func (psi *PSI) point(item uint64, b int) uint64 {
	return hash.Uint64(psi.fingerprint, item)&(1<<keyBits-1) | uint64(b)<<keyBits
}

// aliceIntersect receives Bob's polynomials and returns, for every
// occupied bucket, the polynomial value at her item with her OPRF output
// removed. Empty buckets hold zero.
func (psi *PSI) aliceIntersect(ctx context.Context) ([]uint64, error) {
	if err := psi.recvStatus(ctx); err != nil {
		return nil, err
	}
	coeffs, err := psi.p.Recv(ctx, psi.numMegabins*psi.megabinLoad)
	if err != nil {
		return nil, fmt.Errorf("polynomials: %w", err)
	}

	out := make([]uint64, psi.bucketSize)
	for i := 0; i < psi.numMegabins; i++ {
		poly := coeffs[i*psi.megabinLoad : (i+1)*psi.megabinLoad]
		start, end := psi.megabin(i)
		for b := start; b < end; b++ {
			idx, ok := psi.table.Bucket(uint64(b))
			if !ok {
				continue
			}
			item, _ := psi.table.Item(idx)
			out[b] = field.PolyEval(poly, psi.point(item, b)) ^ psi.encCuckoo[b]
		}
	}
	return out, nil
}

// bobIntersect draws a random T per bucket, sends Alice the megabin
// polynomials hiding payload[item] - T (arith) or payload[item] ^ T for
// every item of the bucket, and returns T. A nil payload counts as zeros.
// A local failure is reported to Alice in place of the polynomials.
func (psi *PSI) bobIntersect(ctx context.Context, payload []uint32, arith bool, local error) ([]uint64, error) {
	r := psi.p.Rand()
	t := make([]uint64, psi.bucketSize)
	for b := range t {
		t[b] = r.Uint64()
	}

	var coeffs []uint64
	if local == nil {
		coeffs, local = psi.polynomials(payload, arith, t)
	}
	if err := psi.sendStatus(ctx, local); err != nil {
		return nil, err
	}
	if err := psi.p.Send(ctx, coeffs); err != nil {
		return nil, fmt.Errorf("polynomials: %w", err)
	}
	return t, nil
}

// polynomials interpolates the megabin polynomials of bobIntersect.
func (psi *PSI) polynomials(payload []uint32, arith bool, t []uint64) ([]uint64, error) {
	r := psi.p.Rand()
	coeffs := make([]uint64, 0, psi.numMegabins*psi.megabinLoad)
	xs := make([]uint64, 0, psi.megabinLoad)
	ys := make([]uint64, 0, psi.megabinLoad)
	for i := 0; i < psi.numMegabins; i++ {
		xs, ys = xs[:0], ys[:0]
		keys := make(map[uint64]struct{})
		start, end := psi.megabin(i)
		for b := start; b < end; b++ {
			for k, idx := range psi.simple.Bin(uint64(b)) {
				var pl uint64
				if payload != nil {
					pl = uint64(payload[idx])
				}
				tmp := pl ^ t[b]
				if arith {
					tmp = pl - t[b]
				}

				x := psi.point(psi.items[idx], b)
				if _, ok := keys[x]; ok {
					return nil, fmt.Errorf("%w: key collision in bucket %d", ErrDuplicateItem, b)
				}
				keys[x] = struct{}{}
				xs = append(xs, x)
				ys = append(ys, field.Reduce((psi.encSimple[b][k]^tmp)&field.P))
			}
		}

		if len(xs) > psi.megabinLoad {
			return nil, fmt.Errorf("%w: megabin %d has %d points, load is %d", ErrMegabinOverflow, i, len(xs), psi.megabinLoad)
		}
		// dummies sit at the top of the field, above every key
		for k := len(xs); k < psi.megabinLoad; k++ {
			xs = append(xs, field.P-1-uint64(k))
			ys = append(ys, field.Reduce(r.Uint64()))
		}
		coeffs = append(coeffs, field.Interpolate(xs, ys)...)
	}
	return coeffs, nil
}

func (psi *PSI) intersect(ctx context.Context, payload []uint32, arith bool, local error) ([]uint64, error) {
	if psi.role == Alice {
		return psi.aliceIntersect(ctx)
	}
	return psi.bobIntersect(ctx, payload, arith, local)
}

func truncate(v []uint64) []uint32 {
	out := make([]uint32, len(v))
	for i := range v {
		out[i] = uint32(v[i])
	}
	return out
}

// Intersect returns this party's XOR share of the per-bucket indicator:
// the shares of bucket b differ exactly when Alice's item in b is in
// Bob's set.
func (psi *PSI) Intersect(ctx context.Context) ([]uint32, error) {
	mask, err := psi.intersect(ctx, nil, false, nil)
	if err != nil {
		return nil, err
	}

	c := psi.p.Circuit()
	server := c.PutINGate(psi.bucketSize, mask, psi.gamma, party.Server)
	client := c.PutINGate(psi.bucketSize, mask, psi.gamma, party.Client)
	out := c.PutSharedOUTGate(c.PutEQGate(server, client))
	if err := psi.p.ExecCircuit(ctx); err != nil {
		psi.p.ResetCircuit()
		return nil, fmt.Errorf("equality circuit: %w", err)
	}
	indicator, err := out.Values()
	if err != nil {
		return nil, err
	}
	psi.p.Tick("psi intersect")
	return truncate(indicator), nil
}

// IntersectWithPayload returns this party's additive share of Bob's
// payload for the item in every bucket. Shares of buckets without a match
// add up to garbage. Bob passes one payload per item, Alice passes nil.
func (psi *PSI) IntersectWithPayload(ctx context.Context, payload []uint32) ([]uint32, error) {
	var local error
	if psi.role == Bob && len(payload) != psi.bobSize {
		local = fmt.Errorf("%w: %d values for %d items", ErrPayloadLength, len(payload), psi.bobSize)
	}
	mask, err := psi.intersect(ctx, payload, true, local)
	if err != nil {
		return nil, err
	}
	psi.p.Tick("psi intersect with payload")
	return truncate(mask), nil
}

// CombineSharedPayload is IntersectWithPayload for a payload that is
// additively shared between the parties. payload is this party's share of
// Bob's per-item payload and indicator its share from Intersect. The
// result adds up to the full payload in matched buckets.
//
// Bob's part of the payload travels as in IntersectWithPayload. Alice's
// part is routed to the buckets with an extended permutation whose
// indices are hidden from Alice: Bob shuffles the payload extended by one
// zero per bucket, and a circuit reveals to Alice, per bucket, the
// shuffled position of either the matching item or the bucket's zero.
func (psi *PSI) CombineSharedPayload(ctx context.Context, payload, indicator []uint32) ([]uint32, error) {
	var local error
	if len(payload) != psi.bobSize {
		local = fmt.Errorf("%w: %d values for %d items", ErrPayloadLength, len(payload), psi.bobSize)
	} else if len(indicator) != psi.bucketSize {
		local = fmt.Errorf("%w: %d indicators for %d buckets", ErrPayloadLength, len(indicator), psi.bucketSize)
	}
	if err := psi.agree(ctx, local); err != nil {
		return nil, err
	}

	own, err := psi.intersect(ctx, payload, true, nil)
	if err != nil {
		return nil, err
	}

	var routed []uint32
	if psi.role == Alice {
		routed, err = psi.aliceRoutePayload(ctx, payload, indicator)
	} else {
		routed, err = psi.bobRoutePayload(ctx, indicator)
	}
	if err != nil {
		return nil, err
	}

	for b := range routed {
		routed[b] += uint32(own[b])
	}
	psi.p.Tick("psi combine shared payload")
	return routed, nil
}

func (psi *PSI) aliceRoutePayload(ctx context.Context, payload, indicator []uint32) ([]uint32, error) {
	extended := make([]uint32, psi.bobSize+psi.bucketSize)
	copy(extended, payload)
	shuffled, err := oep.SenderPermute(ctx, psi.p, extended)
	if err != nil {
		return nil, fmt.Errorf("shuffle: %w", err)
	}

	rev, err := psi.aliceIntersect(ctx)
	if err != nil {
		return nil, err
	}
	positions, err := psi.selectPositions(ctx, nil, rev, indicator)
	if err != nil {
		return nil, err
	}

	return oep.PermutorExtendedPermute(ctx, psi.p, truncate(positions), shuffled)
}

func (psi *PSI) bobRoutePayload(ctx context.Context, indicator []uint32) ([]uint32, error) {
	ext := psi.bobSize + psi.bucketSize
	shuffle := psi.p.Rand().Perm(ext)
	inv := make([]uint32, ext)
	for i, j := range shuffle {
		inv[j] = uint32(i)
	}
	shuffled, err := oep.PermutorPermute(ctx, psi.p, shuffle, make([]uint32, ext))
	if err != nil {
		return nil, fmt.Errorf("shuffle: %w", err)
	}

	// inv[k] is the shuffled position of item k's payload
	rev, err := psi.bobIntersect(ctx, inv, false, nil)
	if err != nil {
		return nil, err
	}
	zeros := make([]uint64, psi.bucketSize)
	for b := range zeros {
		zeros[b] = uint64(inv[psi.bobSize+b])
	}
	if _, err := psi.selectPositions(ctx, zeros, rev, indicator); err != nil {
		return nil, err
	}

	return oep.SenderExtendedPermute(ctx, psi.p, shuffled, psi.bucketSize)
}

// selectPositions reveals to Alice, per bucket, rev when the bucket
// matched and Bob's zeros otherwise.
func (psi *PSI) selectPositions(ctx context.Context, zeros, rev []uint64, indicator []uint32) ([]uint64, error) {
	bob, alice := psi.p.Role(), psi.p.PeerRole()
	if psi.role == Alice {
		bob, alice = alice, bob
	}

	ind := make([]uint64, len(indicator))
	for b, v := range indicator {
		ind[b] = uint64(v)
	}

	c := psi.p.Circuit()
	m0 := c.PutINGate(psi.bucketSize, zeros, 32, bob)
	m1 := c.PutSharedINGate(rev, 32)
	s := c.PutSharedINGate(ind, 1)
	out := c.PutOUTGate(c.PutMUXGate(m1, m0, s), alice)
	if err := psi.p.ExecCircuit(ctx); err != nil {
		psi.p.ResetCircuit()
		return nil, fmt.Errorf("position circuit: %w", err)
	}
	if psi.role == Bob {
		return nil, nil
	}
	return out.Values()
}

// CuckooToAliceArray returns, for every item of Alice's set, the bucket
// holding it. Equal items share a bucket.
func (psi *PSI) CuckooToAliceArray() ([]uint32, error) {
	if psi.role != Alice {
		return nil, fmt.Errorf("%w: only alice holds a cuckoo table", ErrInvalidRole)
	}
	slots := psi.table.Slots()
	out := make([]uint32, len(slots))
	for i, s := range slots {
		out[i] = uint32(s)
	}
	return out, nil
}
