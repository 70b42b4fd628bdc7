package capture

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeSource feeds a fixed sequence of batches, one per Read call, then
// reports silence forever.
type fakeSource struct {
	mu      sync.Mutex
	batches [][]float32
	idx     int
}

func (f *fakeSource) Read() ([]float32, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.batches) {
		return nil, 0, 0
	}
	b := f.batches[f.idx]
	f.idx++
	return b, 16000, 1
}

// blockingSink simulates rolling.Worker: Submit is non-blocking and just
// records the call; busy is controlled independently by the test to model
// process() still running a slow ASR call well after Submit returns.
type blockingSink struct {
	submits int32
	busy    int32
}

func (b *blockingSink) Submit(samples []float32, sampleRate, channels int, at time.Time) {
	atomic.AddInt32(&b.submits, 1)
}

func (b *blockingSink) Busy() bool { return atomic.LoadInt32(&b.busy) == 1 }

func TestRollingBackpressureSkipsSubmitWhileWorkerBusy(t *testing.T) {
	sink := &blockingSink{}
	l := &Loop{
		src: &fakeSource{},
		params: Params{
			RollingWindowMs: 2000,
			RollingStepMs:   50,
			RollingMinMs:    50,
		},
		rolling: sink,
	}
	l.ensureRings(16000, 1)

	samples := make([]float32, 16000*50/1000) // 50ms at 16kHz mono

	// First tick: worker idle, Submit fires.
	l.onBatch(samples, 16000, 1)
	if got := atomic.LoadInt32(&sink.submits); got != 1 {
		t.Fatalf("expected 1 submit, got %d", got)
	}

	// Worker is now processing (simulates a slow in-flight ASR call that
	// outlives Submit's instantaneous channel send).
	atomic.StoreInt32(&sink.busy, 1)

	// Several more ticks arrive while busy; none should submit.
	for i := 0; i < 5; i++ {
		l.onBatch(samples, 16000, 1)
	}
	if got := atomic.LoadInt32(&sink.submits); got != 1 {
		t.Fatalf("expected submits to stay at 1 while busy, got %d", got)
	}

	// Worker finishes; the next tick at/over the step interval submits again.
	atomic.StoreInt32(&sink.busy, 0)
	l.onBatch(samples, 16000, 1)
	if got := atomic.LoadInt32(&sink.submits); got != 2 {
		t.Fatalf("expected 2 submits after worker freed up, got %d", got)
	}
}
