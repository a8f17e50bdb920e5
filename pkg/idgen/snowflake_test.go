package idgen

import (
	"strings"
	"testing"
)

func TestNextIDUniqueAndIncreasing(t *testing.T) {
	if err := Init(7); err != nil {
		t.Fatalf("Init: %v", err)
	}
	prev := NextID()
	seen := map[int64]bool{prev: true}
	for i := 0; i < 5000; i++ {
		id := NextID()
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d", id, prev)
		}
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
		prev = id
	}
}

func TestTransactionNoFormat(t *testing.T) {
	no := GenerateTransactionNo()
	if !strings.HasPrefix(no, "TXN") || len(no) <= 3+14 {
		t.Fatalf("unexpected transaction number %q", no)
	}
	if a, b := GenerateCheckoutID(), GenerateCheckoutID(); a[:3] != "CHK" || a == b {
		t.Fatal("expected distinct CHK ids")
	}
}

func TestInitRejectsOutOfRangeNode(t *testing.T) {
	if err := Init(4096); err == nil {
		t.Fatal("expected error for node id beyond 10 bits")
	}
	// restore a valid node for other tests
	if err := Init(1); err != nil {
		t.Fatalf("Init: %v", err)
	}
}
