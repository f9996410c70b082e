// Package bus fans verification events out to in-process subscribers.
package bus

import (
	"context"
	"sync"

	"github.com/zmlAEQ/drand-verify/pkg/metrics"
)

type Kind string

const (
	// KindBeacon carries a beacon.Beacon that passed verification.
	KindBeacon Kind = "beacon"
	// KindRejected carries the verification error of a beacon that failed.
	KindRejected Kind = "rejected"
)

type Event struct {
	Kind  Kind
	Round uint64
	Body  any
	Err   error
}

// Bus delivers every published event to every subscriber. Publishing never
// blocks; a subscriber whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	size   int
	subs   []chan Event
	closed bool
}

func New(size int) *Bus {
	if size <= 0 {
		size = 128
	}
	return &Bus{size: size}
}

func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, b.size)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

func (b *Bus) Publish(_ context.Context, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			metrics.Inc("bus_dropped_total", map[string]string{"kind": string(ev.Kind)})
		}
	}
}

// Close ends all subscriptions. Publish after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
