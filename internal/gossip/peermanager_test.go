package gossip

import "testing"

func TestAdmitRespectsMaxConcurrentPeers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentPeers = 1
	pm := newPeerManager(cfg)

	if !pm.admit("a") {
		t.Fatal("expected first admit to succeed")
	}
	if pm.admit("b") {
		t.Fatal("expected second admit to be rejected at MaxConcurrentPeers=1")
	}
	pm.release("a", true, false)
	if pm.admit("b") {
		t.Fatal("expected admit for b to stay rejected: a's successful round made a active, and active peers count toward MaxConcurrentPeers")
	}
}

func TestAdmitRejectsDuplicateInFlightRound(t *testing.T) {
	cfg := DefaultConfig()
	pm := newPeerManager(cfg)

	if !pm.admit("a") {
		t.Fatal("expected first admit to succeed")
	}
	if pm.admit("a") {
		t.Fatal("expected second admit for the same peer to be rejected while in flight")
	}
}

func TestReleaseFailureSchedulesBackoffThenDeactivatesAfterMaxAttempts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnectionAttempts = 2
	pm := newPeerManager(cfg)
	pm.noteUp("a")

	pm.admit("a")
	pm.release("a", false, false)
	if !pm.isActive("a") {
		t.Fatal("peer should still be considered active after one failure")
	}

	pm.admit("a")
	pm.release("a", false, false)
	if pm.isActive("a") {
		t.Fatal("peer should be deactivated after reaching MaxConnectionAttempts")
	}
}

func TestNoteDownReturnsOnlyThatPeersCorrelations(t *testing.T) {
	cfg := DefaultConfig()
	pm := newPeerManager(cfg)

	chA := pm.registerCorrelation("rid-a", "peerA")
	chB := pm.registerCorrelation("rid-b", "peerB")

	waiters := pm.noteDown("peerA")
	if len(waiters) != 1 || waiters[0] != chA {
		t.Fatalf("expected exactly peerA's channel, got %d channels", len(waiters))
	}

	// peerB's correlation must still be registered and deliverable.
	if !pm.deliver("rid-b", "still-alive") {
		t.Fatal("expected peerB's correlation to survive peerA's noteDown")
	}
	select {
	case v := <-chB:
		if v != "still-alive" {
			t.Fatalf("unexpected delivery: %v", v)
		}
	default:
		t.Fatal("expected a buffered delivery on chB")
	}
}

func TestSelectFanoutNeverExceedsActiveCount(t *testing.T) {
	cfg := DefaultConfig()
	pm := newPeerManager(cfg)
	pm.noteUp("a")
	pm.noteUp("b")

	got := pm.selectFanout(5)
	if len(got) != 2 {
		t.Fatalf("expected 2 peers (capped by active count), got %d", len(got))
	}
}

func TestStalestPeerPicksOldestContact(t *testing.T) {
	pm := newPeerManager(DefaultConfig())
	if _, ok := pm.stalestPeer(); ok {
		t.Fatal("expected no stalest peer with none active")
	}
	pm.noteUp("a")
	pm.noteUp("b")
	id, ok := pm.stalestPeer()
	if !ok || (id != "a" && id != "b") {
		t.Fatalf("expected a or b, got %q", id)
	}
}
