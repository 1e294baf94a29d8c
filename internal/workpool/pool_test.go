package workpool

import (
	"fmt"
	"sync/atomic"
	"testing"
)

func TestWilliamsBatchSizeMonotonic(t *testing.T) {
	prev := 0
	for _, n := range []int{1, 10, 100, 1000, 10000} {
		b := WilliamsBatchSize(n)
		if b < 1 {
			t.Fatalf("batch size for n=%d must be >= 1, got %d", n, b)
		}
		if b > n {
			t.Fatalf("batch size for n=%d must be <= n, got %d", n, b)
		}
		if n > 1 && b < prev {
			t.Errorf("expected non-decreasing batch size, n=%d got %d after %d", n, b, prev)
		}
		prev = b
	}
}

func TestWilliamsBatchSizeSmallN(t *testing.T) {
	if WilliamsBatchSize(0) != 1 {
		t.Error("n=0 should still return a valid batch size of 1")
	}
	if WilliamsBatchSize(1) != 1 {
		t.Error("n=1 should return batch size 1")
	}
}

func TestForEachIndexVisitsAll(t *testing.T) {
	p := New(4)
	const n = 2000
	seen := make([]int32, n)

	err := p.ForEachIndex(n, func(i int) error {
		atomic.AddInt32(&seen[i], 1)
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachIndex error: %v", err)
	}
	for i, v := range seen {
		if v != 1 {
			t.Fatalf("index %d visited %d times, want 1", i, v)
		}
	}
}

func TestForEachIndexPropagatesError(t *testing.T) {
	p := New(4)
	sentinel := fmt.Errorf("boom at 5")

	err := p.ForEachIndex(100, func(i int) error {
		if i == 5 {
			return sentinel
		}
		return nil
	})
	if err == nil {
		t.Fatal("expected an error to propagate")
	}
}

func TestForEachIndexZeroN(t *testing.T) {
	p := New(4)
	called := false
	if err := p.ForEachIndex(0, func(i int) error { called = true; return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("fn should never be called for n=0")
	}
}

func TestNewDefaultsToNumCPU(t *testing.T) {
	p := New(0)
	if p.Workers() < 1 {
		t.Fatal("default worker count must be at least 1")
	}
}
