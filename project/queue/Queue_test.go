package queue

import "testing"

func TestQueueOrder(t *testing.T) {
	q := NewQueue[string]()
	if !q.IsEmpty() {
		t.Fatalf("new queue should be empty")
	}
	q.PutNowait("a")
	q.PutNowait("b")
	q.PutNowait("c")
	if q.Len() != 3 {
		t.Fatalf("expected 3 items, got %d", q.Len())
	}
	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.GetNowait()
		if !ok || got != want {
			t.Fatalf("expected %q, got %q (ok=%v)", want, got, ok)
		}
	}
	if _, ok := q.GetNowait(); ok {
		t.Fatalf("expected empty queue")
	}
}

func TestQueueClear(t *testing.T) {
	q := NewQueue[int]()
	for i := 0; i < 5; i++ {
		q.PutNowait(i)
	}
	if n := q.Clear(); n != 5 {
		t.Fatalf("expected 5 dropped, got %d", n)
	}
	if !q.IsEmpty() {
		t.Fatalf("queue not empty after clear")
	}
	q.PutNowait(9)
	if v, ok := q.GetNowait(); !ok || v != 9 {
		t.Fatalf("queue unusable after clear: %v %v", v, ok)
	}
}
