package statehub

import (
	"context"
	"testing"
)

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	releases := 0
	sub := newSubscription(func() { releases++ })

	if sub.Closed() {
		t.Fatal("new subscription reports Closed")
	}
	sub.Close()
	sub.Close()

	if !sub.Closed() {
		t.Error("Closed() = false after Close")
	}
	if releases != 1 {
		t.Errorf("release called %d times, want 1", releases)
	}
	select {
	case <-sub.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
}

func TestSubscription_NilIsSafe(t *testing.T) {
	var sub *Subscription
	sub.Close()
	if !sub.Closed() {
		t.Error("nil subscription Closed() = false, want true")
	}
}

func TestSubscription_CloseOn(t *testing.T) {
	ch := NewChannel[int]()
	ctx, cancel := context.WithCancel(context.Background())

	sub := ch.Subscribe(func(int) {}).CloseOn(ctx)
	if n := ch.Listeners(); n != 1 {
		t.Fatalf("Listeners() = %d, want 1", n)
	}

	cancel()
	waitUntil(t, "subscription to close", sub.Closed)
	if n := ch.Listeners(); n != 0 {
		t.Errorf("Listeners() = %d after cancel, want 0", n)
	}
}

func TestSubscription_CloseOnAfterManualClose(t *testing.T) {
	ch := NewChannel[int]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := ch.Subscribe(func(int) {}).CloseOn(ctx)
	sub.Close()

	if n := ch.Listeners(); n != 0 {
		t.Errorf("Listeners() = %d, want 0", n)
	}
}

func TestGroup_ClosesAll(t *testing.T) {
	store := NewStore(Snapshot[item]{})
	ch := NewChannel[Notification]()

	var g Group
	g.Add(
		store.Subscribe(func(Snapshot[item]) {}),
		store.Subscribe(func(Snapshot[item]) {}),
		ch.Subscribe(func(Notification) {}),
	)
	if n := g.Len(); n != 3 {
		t.Fatalf("Len() = %d, want 3", n)
	}

	g.Close()
	g.Close()

	if n := g.Len(); n != 0 {
		t.Errorf("Len() = %d after Close, want 0", n)
	}
	if n := store.Listeners(); n != 0 {
		t.Errorf("store Listeners() = %d, want 0", n)
	}
	if n := ch.Listeners(); n != 0 {
		t.Errorf("channel Listeners() = %d, want 0", n)
	}
}

func TestGroup_AddAfterCloseReleasesImmediately(t *testing.T) {
	ch := NewChannel[int]()

	var g Group
	g.Close()
	sub := ch.Subscribe(func(int) {})
	g.Add(sub)

	if !sub.Closed() {
		t.Error("subscription added to a closed group is still open")
	}
	if n := ch.Listeners(); n != 0 {
		t.Errorf("Listeners() = %d, want 0", n)
	}
}

func TestSubscription_ClosedListenerSkippedMidDelivery(t *testing.T) {
	ch := NewChannel[int]()

	var second *Subscription
	secondCalls := 0
	first := ch.Subscribe(func(int) { second.Close() })
	defer first.Close()
	second = ch.Subscribe(func(int) { secondCalls++ })

	ch.Publish(1)
	if secondCalls != 0 {
		t.Errorf("listener closed during delivery was called %d times", secondCalls)
	}
}
