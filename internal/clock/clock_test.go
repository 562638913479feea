package clock

import "testing"

func TestTickStartsAtOne(t *testing.T) {
	c := New()
	if got := c.Tick("a"); got != 1 {
		t.Fatalf("expected first tick to be 1, got %d", got)
	}
	if got := c.Tick("a"); got != 2 {
		t.Fatalf("expected second tick to be 2, got %d", got)
	}
}

func TestObserveNeverLowersWatermark(t *testing.T) {
	c := New()
	c.Observe("a", 5)
	c.Observe("a", 3)
	if got := c.Get("a"); got != 5 {
		t.Fatalf("expected watermark to stay at 5, got %d", got)
	}
}

func TestCopyIsIndependent(t *testing.T) {
	c := New()
	c.Tick("a")
	cp := c.Copy()
	c.Tick("a")
	if cp.Get("a") != 1 {
		t.Fatalf("copy should not observe later mutation, got %d", cp.Get("a"))
	}
}

func TestCompare(t *testing.T) {
	a := Clock{"n1": 2, "n2": 1}
	b := Clock{"n1": 2, "n2": 1}
	if rel := a.Compare(b); rel != Equal {
		t.Fatalf("expected Equal, got %v", rel)
	}

	b = Clock{"n1": 3, "n2": 1}
	if rel := a.Compare(b); rel != Before {
		t.Fatalf("expected Before, got %v", rel)
	}
	if rel := b.Compare(a); rel != After {
		t.Fatalf("expected After, got %v", rel)
	}

	b = Clock{"n1": 1, "n2": 2}
	if rel := a.Compare(b); rel != Concurrent {
		t.Fatalf("expected Concurrent, got %v", rel)
	}
}

func TestMerge(t *testing.T) {
	a := Clock{"n1": 2}
	b := Clock{"n2": 3}
	merged := a.Merge(b)
	if merged.Get("n1") != 2 || merged.Get("n2") != 3 {
		t.Fatalf("unexpected merge result: %+v", merged)
	}
	// Originals untouched.
	if _, ok := a["n2"]; ok {
		t.Fatal("merge must not mutate receiver")
	}
}
