package service

import (
	"context"
	"testing"
	"time"

	"eventmesh/internal/payload"
	"eventmesh/internal/transport"
)

func TestServiceCreateEventPersistsAndAppliesToProjections(t *testing.T) {
	adapter := transport.NewLoopback("n1")
	cfg := DefaultConfig("n1", t.TempDir())
	cfg.Gossip.GossipInterval = time.Hour
	cfg.Gossip.PeerDiscoveryInterval = time.Hour
	cfg.Gossip.EnableAntiEntropy = false

	svc, err := New(cfg, adapter)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	svc.RegisterProjection(payload.NewRoomTimeline())
	svc.RegisterProjection(payload.NewAuthorCounts())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop()

	ev, err := svc.CreateEvent(payload.MessagePosted{RoomID: "r1", Author: "alice", Body: "hi"}.ToPayload())
	if err != nil {
		t.Fatalf("create event: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		found := false
		for _, p := range svc.Projections().Projections() {
			if rt, ok := p.(*payload.RoomTimeline); ok {
				if msgs := rt.Messages("r1"); len(msgs) == 1 && msgs[0].EventID == ev.ID {
					found = true
				}
			}
		}
		if found {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the room_timeline projection to observe the created event")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if !svc.EventStore().HasEvent(ev.ID) {
		t.Fatal("expected the event to be durably stored")
	}
}

func TestServiceRestartRestoresProjectionState(t *testing.T) {
	dataDir := t.TempDir()
	adapter1 := transport.NewLoopback("n1")
	cfg := DefaultConfig("n1", dataDir)
	cfg.Gossip.GossipInterval = time.Hour
	cfg.Gossip.PeerDiscoveryInterval = time.Hour
	cfg.Gossip.EnableAntiEntropy = false

	svc1, err := New(cfg, adapter1)
	if err != nil {
		t.Fatalf("new service 1: %v", err)
	}
	svc1.RegisterProjection(payload.NewAuthorCounts())

	ctx, cancel := context.WithCancel(context.Background())
	if err := svc1.Start(ctx); err != nil {
		t.Fatalf("start 1: %v", err)
	}
	if _, err := svc1.CreateEvent(payload.MessagePosted{RoomID: "r1", Author: "alice", Body: "hi"}.ToPayload()); err != nil {
		t.Fatalf("create event: %v", err)
	}
	time.Sleep(50 * time.Millisecond) // let the async projection pump catch up
	if err := svc1.SaveProjectionStates(); err != nil {
		t.Fatalf("save projection states: %v", err)
	}
	cancel()
	if err := svc1.Stop(); err != nil {
		t.Fatalf("stop 1: %v", err)
	}

	adapter2 := transport.NewLoopback("n1")
	svc2, err := New(cfg, adapter2)
	if err != nil {
		t.Fatalf("new service 2: %v", err)
	}
	svc2.RegisterProjection(payload.NewAuthorCounts())

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	if err := svc2.Start(ctx2); err != nil {
		t.Fatalf("start 2: %v", err)
	}
	defer svc2.Stop()

	for _, p := range svc2.Projections().Projections() {
		if ac, ok := p.(*payload.AuthorCounts); ok {
			if got := ac.Count("alice"); got != 1 {
				t.Fatalf("expected restored author count 1, got %d", got)
			}
		}
	}
}
