package gossip

import (
	"context"
	"testing"
	"time"

	"eventmesh/internal/clock"
	"eventmesh/internal/eventlog"
	"eventmesh/internal/transport"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.GossipInterval = 30 * time.Millisecond
	cfg.AntiEntropyInterval = time.Hour // keep anti-entropy out of the way
	cfg.PeerDiscoveryInterval = 30 * time.Millisecond
	cfg.GossipTimeout = time.Second
	return cfg
}

func newTestNode(t *testing.T, id string, adapter transport.Adapter) *Node {
	t.Helper()
	es, err := eventlog.New(t.TempDir())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { es.Close() })

	cs, err := clock.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("open clock store: %v", err)
	}
	t.Cleanup(func() { cs.Close() })

	n, err := NewNode(testConfig(), id, es, cs, adapter)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return n
}

// TestGossipPropagatesLocalEvent covers spec.md's scenario S1: a locally
// created event on node A reaches node B through a scheduled gossip round,
// without B ever being told directly.
func TestGossipPropagatesLocalEvent(t *testing.T) {
	ta := transport.NewLoopback("a")
	tb := transport.NewLoopback("b")
	transport.Link(ta, tb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ta.Start(ctx); err != nil {
		t.Fatalf("start transport a: %v", err)
	}
	if err := tb.Start(ctx); err != nil {
		t.Fatalf("start transport b: %v", err)
	}
	defer ta.Stop()
	defer tb.Stop()

	nodeA := newTestNode(t, "a", ta)
	nodeB := newTestNode(t, "b", tb)

	if err := nodeA.Start(ctx); err != nil {
		t.Fatalf("start node a: %v", err)
	}
	if err := nodeB.Start(ctx); err != nil {
		t.Fatalf("start node b: %v", err)
	}
	defer nodeA.Stop()
	defer nodeB.Stop()

	ev, err := nodeA.CreateEvent(map[string]any{"kind": "message_posted", "roomId": "r1", "author": "alice", "body": "hi"})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}

	select {
	case got := <-nodeB.OnEventReceived():
		if got.ID != ev.ID {
			t.Fatalf("expected event %s, got %s", ev.ID, got.ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for gossip to propagate the event to node b")
	}

	if !nodeB.eventStore.HasEvent(ev.ID) {
		t.Fatal("node b's event store does not have the propagated event")
	}
}

// TestGossipConvergesBothDirections covers spec.md's general convergence
// property: two nodes each creating events independently both end up with
// the union of events after enough gossip rounds.
func TestGossipConvergesBothDirections(t *testing.T) {
	ta := transport.NewLoopback("a")
	tb := transport.NewLoopback("b")
	transport.Link(ta, tb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ta.Start(ctx)
	tb.Start(ctx)
	defer ta.Stop()
	defer tb.Stop()

	nodeA := newTestNode(t, "a", ta)
	nodeB := newTestNode(t, "b", tb)
	nodeA.Start(ctx)
	nodeB.Start(ctx)
	defer nodeA.Stop()
	defer nodeB.Stop()

	evA, err := nodeA.CreateEvent(map[string]any{"kind": "message_posted", "roomId": "r1", "author": "alice", "body": "from a"})
	if err != nil {
		t.Fatalf("create event on a: %v", err)
	}
	evB, err := nodeB.CreateEvent(map[string]any{"kind": "message_posted", "roomId": "r1", "author": "bob", "body": "from b"})
	if err != nil {
		t.Fatalf("create event on b: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		if nodeA.eventStore.HasEvent(evB.ID) && nodeB.eventStore.HasEvent(evA.ID) {
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for mutual convergence")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// TestFlushContiguousOrdersOutOfOrderArrivals covers spec.md's scenario S2:
// a receiver that sees an origin's events arrive out of order (2, 3, 1)
// must still only ever emit them to projections in the order 1, 2, 3.
func TestFlushContiguousOrdersOutOfOrderArrivals(t *testing.T) {
	n := newTestNode(t, "b", transport.NewLoopback("b"))

	e1 := eventlog.NewEvent("a", 1, eventlog.NowMillis(), map[string]any{"seq": 1})
	e2 := eventlog.NewEvent("a", 2, eventlog.NowMillis(), map[string]any{"seq": 2})
	e3 := eventlog.NewEvent("a", 3, eventlog.NowMillis(), map[string]any{"seq": 3})

	// e2 and e3 arrive first, in their own arrival order.
	if err := n.eventStore.SaveEvents([]eventlog.Event{e2, e3}); err != nil {
		t.Fatalf("save e2,e3: %v", err)
	}
	if got := n.flushContiguous([]eventlog.Event{e2, e3}); len(got) != 0 {
		t.Fatalf("expected nothing flushed before the gap at @1 closes, got %v", got)
	}

	// e1 arrives, closing the gap: all three must flush in order.
	if err := n.eventStore.SaveEvents([]eventlog.Event{e1}); err != nil {
		t.Fatalf("save e1: %v", err)
	}
	got := n.flushContiguous([]eventlog.Event{e1})
	if len(got) != 3 {
		t.Fatalf("expected 3 events flushed once the gap closed, got %d: %v", len(got), got)
	}
	for i, want := range []uint64{1, 2, 3} {
		if got[i].Timestamp != want {
			t.Fatalf("flushed out of order: position %d has timestamp %d, want %d", i, got[i].Timestamp, want)
		}
	}
}
