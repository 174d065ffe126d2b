package queue

import (
	"context"
	"testing"
)

func TestKeyLayout(t *testing.T) {
	t.Parallel()
	q := NewWithClient(nil, "")
	if got := q.laneKey(7); got != "kernelq:lane:7" {
		t.Fatalf("laneKey = %q, want kernelq:lane:7", got)
	}
	if got := q.delayedKey(); got != "kernelq:delayed" {
		t.Fatalf("delayedKey = %q, want kernelq:delayed", got)
	}

	q = NewWithClient(nil, "test:")
	if got := q.laneKey(1); got != "test:lane:1" {
		t.Fatalf("laneKey = %q, want test:lane:1", got)
	}
}

func TestPushRejectsOutOfRangePriority(t *testing.T) {
	t.Parallel()
	q := NewWithClient(nil, "")
	for _, p := range []int{0, -1, 11} {
		if err := q.Push(context.Background(), p, "job-1"); err == nil {
			t.Fatalf("Push(priority=%d) expected error", p)
		}
	}
}
