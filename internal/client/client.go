// Package client fetches drand beacons over a Transport and returns only
// beacons that verified against the chain's pinned parameters.
package client

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/zmlAEQ/drand-verify/internal/beacon"
	"github.com/zmlAEQ/drand-verify/pkg/logger"
	"github.com/zmlAEQ/drand-verify/pkg/metrics"
)

var (
	ErrInvalidRound      = errors.New("invalid round")
	ErrChainHashMismatch = errors.New("chain hash mismatch")
	ErrStaleBeacon       = errors.New("latest beacon is stale")
	ErrRoundMismatch     = errors.New("endpoint returned a different round")
	ErrRangeTooLarge     = errors.New("range too large")
)

// MaxRange bounds a single Range call.
const MaxRange = 10_000

// BeaconStore persists verified beacons between runs.
type BeaconStore interface {
	Get(round uint64) (beacon.Beacon, bool)
	Append(b beacon.Beacon) error
}

type options struct {
	chainHash   []byte
	info        *beacon.ChainInfo
	cacheSize   int
	clk         clock.Clock
	store       BeaconStore
	parallelism int
}

type Option func(*options)

// WithChainHash pins the chain: New fails if the endpoint serves another.
func WithChainHash(h []byte) Option { return func(o *options) { o.chainHash = h } }

// WithChainInfo skips the /info fetch.
func WithChainInfo(info beacon.ChainInfo) Option {
	return func(o *options) { o.info = &info }
}

func WithCacheSize(n int) Option { return func(o *options) { o.cacheSize = n } }

func WithClock(c clock.Clock) Option { return func(o *options) { o.clk = c } }

func WithStore(s BeaconStore) Option { return func(o *options) { o.store = s } }

// WithParallelism bounds concurrent fetches and verifications in Range.
func WithParallelism(n int) Option { return func(o *options) { o.parallelism = n } }

type Client struct {
	t        Transport
	info     beacon.ChainInfo
	v        *beacon.Verifier
	cache    *lru.Cache[uint64, beacon.Beacon]
	clk      clock.Clock
	store    BeaconStore
	parallel int
}

// New resolves chain info (fetching /info unless WithChainInfo is given) and
// builds the verifier.
func New(ctx context.Context, t Transport, opts ...Option) (*Client, error) {
	o := options{cacheSize: 256, clk: clock.New(), parallelism: 8}
	for _, fn := range opts {
		fn(&o)
	}
	var info beacon.ChainInfo
	if o.info != nil {
		info = *o.info
	} else {
		raw, err := t.Fetch(ctx, "info")
		if err != nil {
			return nil, fmt.Errorf("fetch chain info: %w", err)
		}
		if info, err = DecodeChainInfo(raw); err != nil {
			return nil, err
		}
	}
	if len(o.chainHash) > 0 && !bytes.Equal(o.chainHash, info.Hash) {
		return nil, fmt.Errorf("%w: want %x, endpoint serves %x", ErrChainHashMismatch, o.chainHash, info.Hash)
	}
	v, err := beacon.NewVerifier(info)
	if err != nil {
		return nil, err
	}
	if o.cacheSize < 1 {
		o.cacheSize = 1
	}
	cache, err := lru.New[uint64, beacon.Beacon](o.cacheSize)
	if err != nil {
		return nil, err
	}
	if o.parallelism < 1 {
		o.parallelism = 1
	}
	logger.InfoJ("client_ready", map[string]any{
		"scheme": info.Scheme.String(), "chain": hex.EncodeToString(info.Hash),
		"period_s": info.Period.Seconds(), "genesis": info.GenesisTime.Unix(),
	})
	return &Client{t: t, info: v.Info(), v: v, cache: cache, clk: o.clk, store: o.store, parallel: o.parallelism}, nil
}

func (c *Client) Info() beacon.ChainInfo { return c.info }

// RoundAt is the round produced at t on this chain.
func (c *Client) RoundAt(t time.Time) (uint64, error) { return RoundAt(c.info, t) }

// Get returns the verified beacon for round.
func (c *Client) Get(ctx context.Context, round uint64) (beacon.Beacon, error) {
	if round == 0 {
		return beacon.Beacon{}, fmt.Errorf("%w: 0", ErrInvalidRound)
	}
	if b, ok := c.known(round); ok {
		return b, nil
	}
	b, err := c.fetch(ctx, strconv.FormatUint(round, 10))
	if err != nil {
		return beacon.Beacon{}, err
	}
	if b.Round != round {
		return beacon.Beacon{}, fmt.Errorf("%w: asked %d, got %d", ErrRoundMismatch, round, b.Round)
	}
	if err := c.verify(ctx, b); err != nil {
		return beacon.Beacon{}, err
	}
	return b, nil
}

// Latest returns the newest verified beacon. A beacon more than one round
// behind the clock is rejected as stale.
func (c *Client) Latest(ctx context.Context) (beacon.Beacon, error) {
	b, err := c.fetch(ctx, "latest")
	if err != nil {
		return beacon.Beacon{}, err
	}
	expected, err := c.RoundAt(c.clk.Now())
	if err != nil {
		return beacon.Beacon{}, err
	}
	if b.Round+1 < expected {
		return beacon.Beacon{}, fmt.Errorf("%w: got round %d, expected %d", ErrStaleBeacon, b.Round, expected)
	}
	if err := c.verify(ctx, b); err != nil {
		return beacon.Beacon{}, err
	}
	return b, nil
}

// Range fetches rounds from..to concurrently and verifies them as a batch.
// The returned beacons and verdicts are ordered by round; only beacons whose
// verdict is valid are cached and stored. The error reports fetch failures.
func (c *Client) Range(ctx context.Context, from, to uint64) ([]beacon.Beacon, []beacon.Verdict, error) {
	if from == 0 || to < from {
		return nil, nil, fmt.Errorf("%w: [%d, %d]", ErrInvalidRound, from, to)
	}
	if to-from >= MaxRange {
		return nil, nil, fmt.Errorf("%w: %d rounds, max %d", ErrRangeTooLarge, to-from+1, MaxRange)
	}
	bs := make([]beacon.Beacon, to-from+1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallel)
	for i := range bs {
		i := i
		round := from + uint64(i)
		g.Go(func() error {
			if b, ok := c.known(round); ok {
				bs[i] = b
				return nil
			}
			b, err := c.fetch(gctx, strconv.FormatUint(round, 10))
			if err != nil {
				return fmt.Errorf("round %d: %w", round, err)
			}
			if b.Round != round {
				return fmt.Errorf("%w: asked %d, got %d", ErrRoundMismatch, round, b.Round)
			}
			bs[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var opts []beacon.WalkerOption
	opts = append(opts, beacon.WithParallelism(c.parallel))
	if c.v.Descriptor().Chained() && from > 1 {
		if p, err := c.predecessor(ctx, from); err == nil {
			opts = append(opts, beacon.WithAnchors(p))
		} else if !errors.Is(err, ErrNotFound) {
			return nil, nil, err
		}
	}
	// bs is already in round order, so verdicts line up with it
	verdicts := beacon.NewWalker(c.v, opts...).Walk(bs)
	for i, vd := range verdicts {
		c.record(vd.Err)
		if vd.Valid() {
			c.remember(bs[i])
		}
	}
	return bs, verdicts, nil
}

func (c *Client) fetch(ctx context.Context, which string) (beacon.Beacon, error) {
	raw, err := c.t.Fetch(ctx, "public/"+which)
	if err != nil {
		return beacon.Beacon{}, err
	}
	return DecodeBeacon(raw)
}

// known looks a verified beacon up in the cache, then the store. Store
// entries are verified again before they reach the cache; one that fails is
// reported as a miss so the caller fetches the round afresh.
func (c *Client) known(round uint64) (beacon.Beacon, bool) {
	if b, ok := c.cache.Get(round); ok {
		metrics.Inc("client_cache_total", map[string]string{"result": "hit"})
		return b, true
	}
	if c.store != nil {
		if b, ok := c.store.Get(round); ok {
			err := c.v.Verify(b, c.local(round-1))
			if err == nil {
				metrics.Inc("client_cache_total", map[string]string{"result": "store"})
				c.cache.Add(round, b)
				return b, true
			}
			metrics.Inc("client_cache_total", map[string]string{"result": "store_rejected"})
			logger.WarnJ("beacon_store", map[string]any{"op": "reverify", "round": round, "kind": beacon.KindOf(err).String(), "err": err.Error()})
		}
	}
	metrics.Inc("client_cache_total", map[string]string{"result": "miss"})
	return beacon.Beacon{}, false
}

// local returns round from the cache or store without verifying it. It only
// serves as a link predecessor when rechecking a stored beacon.
func (c *Client) local(round uint64) *beacon.Beacon {
	if round == 0 || !c.v.Descriptor().Chained() {
		return nil
	}
	if b, ok := c.cache.Get(round); ok {
		return &b
	}
	if c.store != nil {
		if b, ok := c.store.Get(round); ok {
			return &b
		}
	}
	return nil
}

// predecessor returns the beacon of round-1. A fetched predecessor is only
// used for the link check; b's own signature commits to its previous
// signature, so it need not be verified first.
func (c *Client) predecessor(ctx context.Context, round uint64) (beacon.Beacon, error) {
	if b, ok := c.known(round - 1); ok {
		return b, nil
	}
	p, err := c.fetch(ctx, strconv.FormatUint(round-1, 10))
	if err != nil {
		return beacon.Beacon{}, err
	}
	if p.Round != round-1 {
		return beacon.Beacon{}, fmt.Errorf("%w: asked %d, got %d", ErrRoundMismatch, round-1, p.Round)
	}
	return p, nil
}

func (c *Client) verify(ctx context.Context, b beacon.Beacon) error {
	var prev *beacon.Beacon
	if c.v.Descriptor().Chained() && b.Round > 1 {
		p, err := c.predecessor(ctx, b.Round)
		switch {
		case err == nil:
			prev = &p
		case errors.Is(err, ErrNotFound):
		default:
			return err
		}
	}
	start := time.Now()
	err := c.v.Verify(b, prev)
	metrics.ObserveSummary("beacon_verify_ms", map[string]string{"scheme": c.info.Scheme.String()},
		float64(time.Since(start).Microseconds())/1000)
	c.record(err)
	if err != nil {
		logger.WarnJ("beacon_verify", map[string]any{"round": b.Round, "kind": beacon.KindOf(err).String(), "err": err.Error()})
		return err
	}
	c.remember(b)
	return nil
}

func (c *Client) record(err error) {
	result := "valid"
	if err != nil {
		result = beacon.KindOf(err).String()
	}
	metrics.Inc("beacon_verify_total", map[string]string{"scheme": c.info.Scheme.String(), "result": result})
}

func (c *Client) remember(b beacon.Beacon) {
	c.cache.Add(b.Round, b)
	if c.store == nil {
		return
	}
	if err := c.store.Append(b); err != nil {
		logger.ErrorJ("beacon_store", map[string]any{"round": b.Round, "err": err.Error()})
	}
}
