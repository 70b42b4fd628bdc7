package rolling

import (
	"context"
	"testing"
	"time"
)

// blockingASR blocks inside TranscribeFile until release is closed, so the
// test can observe Busy() staying true for the whole span of process, not
// just for Submit's instantaneous channel send.
type blockingASR struct {
	release chan struct{}
}

func (b *blockingASR) TranscribeFile(ctx context.Context, path string) (string, error) {
	<-b.release
	return "ok", nil
}

func TestWorkerBusyReflectsProcessNotSubmit(t *testing.T) {
	release := make(chan struct{})
	w := New(nil, &blockingASR{release: release}, t.TempDir(), func(Event) {})

	if w.Busy() {
		t.Fatalf("expected idle worker before any task")
	}

	go w.Run()
	defer w.Stop()

	w.Submit(make([]float32, 1600), 16000, 1, time.Now())

	// process() should pick the task up and block inside the ASR call;
	// poll briefly for Busy() to flip true (process runs on the consumer
	// goroutine, not inline with Submit).
	deadline := time.Now().Add(2 * time.Second)
	for !w.Busy() {
		if time.Now().After(deadline) {
			t.Fatalf("worker never became busy processing the submitted task")
		}
		time.Sleep(time.Millisecond)
	}

	close(release)

	deadline = time.Now().Add(2 * time.Second)
	for w.Busy() {
		if time.Now().After(deadline) {
			t.Fatalf("worker stayed busy after process should have completed")
		}
		time.Sleep(time.Millisecond)
	}
}
