package translate

import (
	"sync/atomic"
	"testing"
)

func TestQueueDedupAndOrder(t *testing.T) {
	q := NewQueue()
	if !q.Enqueue(Request{Name: "b", Order: 2, Generation: 1}) {
		t.Fatal("expected first enqueue of b to succeed")
	}
	if !q.Enqueue(Request{Name: "a", Order: 1, Generation: 1}) {
		t.Fatal("expected first enqueue of a to succeed")
	}
	if q.Enqueue(Request{Name: "a", Order: 1, Generation: 1}) {
		t.Fatal("expected duplicate enqueue of a to be rejected")
	}

	var gen uint64 = 1
	batch := q.DrainBatch(10, func() uint64 { return atomic.LoadUint64(&gen) })
	if len(batch) != 2 {
		t.Fatalf("expected batch of 2, got %d", len(batch))
	}
	if batch[0].Name != "a" || batch[1].Name != "b" {
		t.Fatalf("expected order a,b got %v", batch)
	}
}

func TestQueueDiscardsStaleGeneration(t *testing.T) {
	q := NewQueue()
	q.Enqueue(Request{Name: "old", Order: 0, Generation: 1})

	var gen uint64 = 2
	q.Enqueue(Request{Name: "new", Order: 1, Generation: 2})

	batch := q.DrainBatch(10, func() uint64 { return atomic.LoadUint64(&gen) })
	if len(batch) != 1 || batch[0].Name != "new" {
		t.Fatalf("expected only the current-generation request, got %v", batch)
	}
}

func TestQueueCloseUnblocks(t *testing.T) {
	q := NewQueue()
	done := make(chan []Request, 1)
	go func() {
		done <- q.DrainBatch(1, func() uint64 { return 0 })
	}()
	q.Close()
	batch := <-done
	if batch != nil {
		t.Fatalf("expected nil batch after close, got %v", batch)
	}
}

func TestParseBatchResponseVariants(t *testing.T) {
	cases := []string{
		`[{"id":"a","cleaned_source":"hi","translation":"hola"}]`,
		"```json\n[{\"id\":\"a\",\"cleaned_source\":\"hi\",\"translation\":\"hola\"}]\n```",
		"Sure, here you go:\n[{\"id\":\"a\",\"cleaned_source\":\"hi\",\"translation\":\"hola\"}]\nhope that helps",
		`{"items": [{"id":"a","cleaned_source":"hi","translation":"hola"}]}`,
	}
	for i, raw := range cases {
		parsed, err := parseBatchResponse(raw)
		if err != nil {
			t.Fatalf("case %d: unexpected error: %v", i, err)
		}
		item, ok := parsed["a"]
		if !ok || item.Translation != "hola" {
			t.Fatalf("case %d: expected translation hola, got %+v", i, parsed)
		}
	}
}
