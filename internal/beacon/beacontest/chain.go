// Package beacontest produces locally signed drand chains for tests.
package beacontest

import (
	"fmt"
	"sync"
	"time"

	"github.com/minio/sha256-simd"

	"github.com/zmlAEQ/drand-verify/internal/beacon"
	"github.com/zmlAEQ/drand-verify/internal/crypto/bls381"
	"github.com/zmlAEQ/drand-verify/internal/scheme"
)

// Genesis is the genesis time of every generated chain.
var Genesis = time.Unix(1_700_000_000, 0).UTC()

// Period is the round period of every generated chain.
const Period = 3 * time.Second

// Chain signs rounds on demand with a key derived from a seed string.
type Chain struct {
	Info beacon.ChainInfo

	desc scheme.Descriptor
	sk   []byte

	mu   sync.Mutex
	sigs map[uint64][]byte
}

type Option func(*beacon.ChainInfo)

// WithGenesisSeed sets the previous signature of round 1.
func WithGenesisSeed(seed []byte) Option {
	return func(i *beacon.ChainInfo) { i.GenesisSeed = seed }
}

// New builds a chain for id. It panics on failure, like httptest.NewServer.
func New(id scheme.ID, seed string, opts ...Option) *Chain {
	d, err := id.Descriptor()
	if err != nil {
		panic(err)
	}
	ikm := sha256.Sum256([]byte("beacontest/" + seed))
	sk, err := bls381.DeriveSecretKey(ikm[:])
	if err != nil {
		panic(err)
	}
	pk, err := bls381.PublicKey(sk, d.PublicKeyGroup)
	if err != nil {
		panic(err)
	}
	h := sha256.Sum256(append(append([]byte{}, pk...), d.Name...))
	c := &Chain{
		Info: beacon.ChainInfo{
			PublicKey:   pk,
			Scheme:      id,
			Period:      Period,
			GenesisTime: Genesis,
			Hash:        h[:],
			BeaconID:    "test-" + seed,
		},
		desc: d,
		sk:   sk,
		sigs: map[uint64][]byte{},
	}
	for _, o := range opts {
		o(&c.Info)
	}
	return c
}

// Beacon returns the signed beacon for round (>= 1).
func (c *Chain) Beacon(round uint64) beacon.Beacon {
	if round == 0 {
		panic("beacontest: round 0")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sig := c.sign(round)
	b := beacon.Beacon{Round: round, Signature: sig, Randomness: beacon.Randomness(sig)}
	if c.desc.Chained() {
		b.PreviousSignature = c.prev(round)
	}
	return b
}

// Range returns rounds from..to inclusive.
func (c *Chain) Range(from, to uint64) []beacon.Beacon {
	var out []beacon.Beacon
	for r := from; r <= to; r++ {
		out = append(out, c.Beacon(r))
	}
	return out
}

func (c *Chain) prev(round uint64) []byte {
	if round == 1 {
		if c.Info.GenesisSeed == nil {
			return []byte{}
		}
		return append([]byte{}, c.Info.GenesisSeed...)
	}
	return append([]byte{}, c.sign(round-1)...)
}

// sign requires c.mu. Chained rounds are signed bottom-up so the recursion
// depth stays constant.
func (c *Chain) sign(round uint64) []byte {
	if s, ok := c.sigs[round]; ok {
		return s
	}
	start := round
	if c.desc.Chained() {
		for start > 1 {
			if _, ok := c.sigs[start-1]; ok {
				break
			}
			start--
		}
	}
	for r := start; r <= round; r++ {
		var link []byte
		if c.desc.Chained() {
			link = c.prev(r)
		}
		msg, err := beacon.BuildMessage(c.desc, r, link)
		if err != nil {
			panic(err)
		}
		sig, err := bls381.Sign(c.sk, c.desc.SignatureGroup, msg, []byte(c.desc.DST))
		if err != nil {
			panic(fmt.Sprintf("beacontest: sign round %d: %v", r, err))
		}
		c.sigs[r] = sig
	}
	return c.sigs[round]
}
