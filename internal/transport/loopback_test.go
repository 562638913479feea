package transport

import (
	"context"
	"testing"
	"time"
)

func TestLoopbackSendDeliversFrame(t *testing.T) {
	a := NewLoopback("a")
	b := NewLoopback("b")
	Link(a, b)

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start a: %v", err)
	}
	if err := b.Start(ctx); err != nil {
		t.Fatalf("start b: %v", err)
	}
	defer a.Stop()
	defer b.Stop()

	if err := a.Send(ctx, "b", []byte("hello"), time.Second); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case frame := <-b.Incoming():
		if frame.PeerID != "a" || string(frame.Data) != "hello" {
			t.Fatalf("unexpected frame: %+v", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestLoopbackSendToUnreachablePeerFails(t *testing.T) {
	a := NewLoopback("a")
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Stop()

	err := a.Send(ctx, "ghost", []byte("x"), 100*time.Millisecond)
	if err != ErrUnreachable {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
}

func TestUnlinkEmitsPeerDown(t *testing.T) {
	a := NewLoopback("a")
	b := NewLoopback("b")
	Link(a, b)

	ctx := context.Background()
	a.Start(ctx)
	b.Start(ctx)
	defer a.Stop()
	defer b.Stop()

	// Drain the PeerUp events both sides emit on Start.
	<-a.PeerEvents()
	<-b.PeerEvents()

	Unlink(a, b)

	select {
	case ev := <-a.PeerEvents():
		if ev.Kind != PeerDown || ev.PeerID != "b" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for PeerDown")
	}

	if err := a.Send(ctx, "b", []byte("x"), 100*time.Millisecond); err != ErrUnreachable {
		t.Fatalf("expected ErrUnreachable after unlink, got %v", err)
	}
}
