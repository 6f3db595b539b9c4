package eventprocessor

import "testing"

func TestIdempotenceCache_SeenAfterMark(t *testing.T) {
	c := newIdempotenceCache(10)
	if c.seen("a") {
		t.Fatal("expected unseen id to report false")
	}
	c.mark("a")
	if !c.seen("a") {
		t.Fatal("expected marked id to report true")
	}
}

func TestIdempotenceCache_EvictsOldestPastCapacity(t *testing.T) {
	c := newIdempotenceCache(2)
	c.mark("a")
	c.mark("b")
	c.mark("c") // evicts "a"

	if c.seen("a") {
		t.Fatal("expected oldest entry to be evicted")
	}
	if !c.seen("b") || !c.seen("c") {
		t.Fatal("expected remaining entries to still be marked")
	}
}

func TestIdempotenceCache_ReMarkRefreshesRecency(t *testing.T) {
	c := newIdempotenceCache(2)
	c.mark("a")
	c.mark("b")
	c.mark("a") // refresh "a" to the front, "b" becomes oldest
	c.mark("c") // evicts "b"

	if c.seen("b") {
		t.Fatal("expected b to be evicted after a was refreshed")
	}
	if !c.seen("a") || !c.seen("c") {
		t.Fatal("expected a and c to remain marked")
	}
}
