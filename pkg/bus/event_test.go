package bus

import (
	"context"
	"errors"
	"testing"
)

func TestBus_FanOut(t *testing.T) {
	b := New(4)
	s1, s2 := b.Subscribe(), b.Subscribe()
	b.Publish(context.Background(), Event{Kind: KindBeacon, Round: 7})
	for i, s := range []<-chan Event{s1, s2} {
		ev := <-s
		if ev.Kind != KindBeacon || ev.Round != 7 {
			t.Fatalf("sub %d: %+v", i, ev)
		}
	}
}

func TestBus_DropsWhenFull(t *testing.T) {
	b := New(1)
	s := b.Subscribe()
	b.Publish(context.Background(), Event{Kind: KindBeacon, Round: 1})
	b.Publish(context.Background(), Event{Kind: KindRejected, Round: 2, Err: errors.New("x")})
	if ev := <-s; ev.Round != 1 {
		t.Fatalf("first event: %+v", ev)
	}
	select {
	case ev := <-s:
		t.Fatalf("overflow event delivered: %+v", ev)
	default:
	}
}

func TestBus_Close(t *testing.T) {
	b := New(0)
	s := b.Subscribe()
	b.Close()
	b.Close()
	if _, ok := <-s; ok {
		t.Fatalf("subscription not closed")
	}
	b.Publish(context.Background(), Event{Kind: KindBeacon})
	if _, ok := <-b.Subscribe(); ok {
		t.Fatalf("subscribe after close must return a closed channel")
	}
}
