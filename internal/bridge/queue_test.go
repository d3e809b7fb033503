package bridge

import (
	"fmt"
	"testing"

	"genx-core/internal/signal"
)

func TestSignalQueueFIFO(t *testing.T) {
	q := NewSignalQueue(10)

	for i := 0; i < 3; i++ {
		q.Enqueue(signal.TradingSignal{ID: fmt.Sprintf("sig-%d", i)})
	}
	if q.Len() != 3 {
		t.Fatalf("Len=%d, expected 3", q.Len())
	}

	for i := 0; i < 3; i++ {
		sig, ok := q.TryPop()
		if !ok {
			t.Fatalf("TryPop %d returned empty", i)
		}
		if want := fmt.Sprintf("sig-%d", i); sig.ID != want {
			t.Fatalf("popped %s, expected %s", sig.ID, want)
		}
	}

	if _, ok := q.TryPop(); ok {
		t.Fatal("TryPop on empty queue returned a signal")
	}
}

func TestSignalQueueEvictsOldest(t *testing.T) {
	q := NewSignalQueue(2)

	if q.Enqueue(signal.TradingSignal{ID: "a"}) {
		t.Fatal("first enqueue should not evict")
	}
	q.Enqueue(signal.TradingSignal{ID: "b"})
	if !q.Enqueue(signal.TradingSignal{ID: "c"}) {
		t.Fatal("enqueue past capacity should report eviction")
	}

	if q.Len() != 2 {
		t.Fatalf("Len=%d, expected capacity 2", q.Len())
	}
	sig, _ := q.TryPop()
	if sig.ID != "b" {
		t.Fatalf("popped %s, expected oldest surviving entry b", sig.ID)
	}
}

func TestSignalQueueSnapshot(t *testing.T) {
	q := NewSignalQueue(5)
	q.Enqueue(signal.TradingSignal{ID: "a"})
	q.Enqueue(signal.TradingSignal{ID: "b"})

	snap := q.Snapshot()
	if len(snap) != 2 || snap[0].ID != "a" || snap[1].ID != "b" {
		t.Fatalf("Snapshot=%+v, expected [a b]", snap)
	}

	// The snapshot is a copy; popping does not affect it.
	q.TryPop()
	if len(snap) != 2 {
		t.Fatalf("snapshot mutated by pop: %+v", snap)
	}
}
