package eventlog

import (
	"testing"
)

func mkEvent(node string, ts uint64, created int64) Event {
	return Event{
		ID:                NewID(node, ts),
		NodeID:            node,
		Timestamp:         ts,
		CreationTimestamp: created,
		Payload:           map[string]any{"t": "x"},
	}
}

func TestSaveEventIdempotent(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	e := mkEvent("a", 1, 100)
	for i := 0; i < 3; i++ {
		if err := s.SaveEvent(e); err != nil {
			t.Fatalf("SaveEvent iteration %d: %v", i, err)
		}
	}

	if got := s.GetEventCount(); got != 1 {
		t.Fatalf("expected 1 event after 3 saves of the same id, got %d", got)
	}
	if got := s.GetLatestTimestampForNode("a"); got != 1 {
		t.Fatalf("expected watermark 1, got %d", got)
	}
}

func TestWatermarkAdvancesOnlyOnContiguousPrefix(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	// Deliver out of order: 2, 3, then 1.
	_ = s.SaveEvent(mkEvent("a", 2, 100))
	if got := s.GetLatestTimestampForNode("a"); got != 0 {
		t.Fatalf("after only A@2, expected watermark 0, got %d", got)
	}

	_ = s.SaveEvent(mkEvent("a", 3, 101))
	if got := s.GetLatestTimestampForNode("a"); got != 0 {
		t.Fatalf("after A@2,A@3, expected watermark 0, got %d", got)
	}

	_ = s.SaveEvent(mkEvent("a", 1, 99))
	if got := s.GetLatestTimestampForNode("a"); got != 3 {
		t.Fatalf("after A@1 closes the gap, expected watermark 3, got %d", got)
	}
}

func TestGetEventsSince(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	for ts := uint64(1); ts <= 5; ts++ {
		_ = s.SaveEvent(mkEvent("a", ts, int64(ts)))
	}

	got := s.GetEventsSince("a", 2, 0)
	if len(got) != 3 {
		t.Fatalf("expected 3 events after ts=2, got %d", len(got))
	}
	for i, e := range got {
		if e.Timestamp != uint64(3+i) {
			t.Fatalf("expected ascending timestamps starting at 3, got %v", got)
		}
	}

	limited := s.GetEventsSince("a", 0, 2)
	if len(limited) != 2 {
		t.Fatalf("expected limit to cap results at 2, got %d", len(limited))
	}
}

func TestGetAllEventsDeterministicOrder(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	// Same creation timestamp, different nodes: nodeId ascending wins.
	_ = s.SaveEvent(mkEvent("b", 1, 100))
	_ = s.SaveEvent(mkEvent("a", 1, 100))
	_ = s.SaveEvent(mkEvent("a", 2, 50))

	all := s.GetAllEvents()
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	if all[0].NodeID != "a" || all[0].Timestamp != 2 {
		t.Fatalf("expected earliest creationTimestamp first, got %+v", all[0])
	}
	if all[1].NodeID != "a" || all[1].Timestamp != 1 {
		t.Fatalf("expected node a before node b at equal creationTimestamp, got %+v", all[1])
	}
	if all[2].NodeID != "b" {
		t.Fatalf("expected node b last, got %+v", all[2])
	}
}

func TestSnapshotAndReopenPreservesState(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for ts := uint64(1); ts <= 4; ts++ {
		_ = s.SaveEvent(mkEvent("a", ts, int64(ts)))
	}
	if err := s.Snapshot(); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	_ = s.SaveEvent(mkEvent("a", 5, 5))
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := New(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if got := reopened.GetEventCount(); got != 5 {
		t.Fatalf("expected 5 events after reopen, got %d", got)
	}
	if got := reopened.GetLatestTimestampForNode("a"); got != 5 {
		t.Fatalf("expected watermark 5 after reopen, got %d", got)
	}
}

func TestRemoveEventsForNode(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	_ = s.SaveEvent(mkEvent("a", 1, 1))
	_ = s.SaveEvent(mkEvent("b", 1, 2))

	if err := s.RemoveEventsForNode("a"); err != nil {
		t.Fatalf("RemoveEventsForNode: %v", err)
	}
	if s.GetEventCountForNode("a") != 0 {
		t.Fatal("expected node a's events to be gone")
	}
	if s.GetEventCountForNode("b") != 1 {
		t.Fatal("expected node b's events to remain")
	}
	if got := s.GetLatestTimestampForNode("a"); got != 0 {
		t.Fatalf("expected watermark for pruned node to reset to 0, got %d", got)
	}
}
