package beacon

import (
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Walker verifies a batch of beacons, linking each chained round to the
// batch member (or anchor) one round below it.
type Walker struct {
	v           *Verifier
	anchors     map[uint64]Beacon
	parallelism int
}

type WalkerOption func(*Walker)

// WithAnchors supplies already verified beacons used only as predecessors.
func WithAnchors(bs ...Beacon) WalkerOption {
	return func(w *Walker) {
		for _, b := range bs {
			w.anchors[b.Round] = b
		}
	}
}

// WithParallelism bounds the number of concurrent verifications. n < 1 means 1.
func WithParallelism(n int) WalkerOption {
	return func(w *Walker) {
		if n < 1 {
			n = 1
		}
		w.parallelism = n
	}
}

func NewWalker(v *Verifier, opts ...WalkerOption) *Walker {
	w := &Walker{v: v, anchors: map[uint64]Beacon{}, parallelism: runtime.GOMAXPROCS(0)}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Walk returns one verdict per input beacon, ordered by round. The input
// slice is not modified.
func (w *Walker) Walk(beacons []Beacon) []Verdict {
	sorted := append([]Beacon(nil), beacons...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Round < sorted[j].Round })

	byRound := make(map[uint64]Beacon, len(sorted)+len(w.anchors))
	for r, b := range w.anchors {
		byRound[r] = b
	}
	verdicts := make([]Verdict, len(sorted))
	dup := make([]bool, len(sorted))
	for i, b := range sorted {
		if i > 0 && b.Round == sorted[i-1].Round {
			dup[i] = true
			verdicts[i] = Verdict{Round: b.Round, Err: newError(MalformedInput, b.Round, "duplicate round", nil)}
			continue
		}
		byRound[b.Round] = b
	}

	var g errgroup.Group
	g.SetLimit(w.parallelism)
	for i := range sorted {
		i := i
		if dup[i] {
			continue
		}
		b := sorted[i]
		g.Go(func() error {
			var prev *Beacon
			if w.v.desc.Chained() && b.Round > 1 {
				if p, ok := byRound[b.Round-1]; ok {
					prev = &p
				}
			}
			verdicts[i] = w.v.Check(b, prev)
			return nil
		})
	}
	_ = g.Wait()
	return verdicts
}
