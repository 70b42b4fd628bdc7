// Package transcribe implements TranscriptionWorker: a FIFO consumer of
// finalized clips that builds a context prompt, calls the ASR client,
// sanitizes the result, and updates the segment record.
package transcribe

import (
	"context"
	"log"
	"path/filepath"
	"sync/atomic"
	"time"

	"aimeeting/internal/segment"
)

// ASRClient is the subset of asrclient.Client the worker depends on.
type ASRClient interface {
	Transcribe(ctx context.Context, path string, prompt string) (string, error)
}

// Task is one queued (name, generation) pair.
type Task struct {
	Name       string
	Generation uint64
}

// Worker drains tasks in channel-FIFO order against the current
// transcription generation.
type Worker struct {
	index      *segment.Index
	dir        string
	asr        ASRClient
	generation *uint64 // shared atomic counter with the owning session
	tasks      chan Task
	stopCh     chan struct{}
	policy     *ContextPolicy
	onTranscribed func(segment.Record)
	onPendingTranslation func(name string)
}

func NewWorker(index *segment.Index, dir string, asr ASRClient, generation *uint64, onTranscribed func(segment.Record), onPendingTranslation func(name string)) *Worker {
	return &Worker{
		index:                index,
		dir:                  dir,
		asr:                  asr,
		generation:           generation,
		tasks:                make(chan Task, 64),
		stopCh:                make(chan struct{}),
		policy:               NewContextPolicy(),
		onTranscribed:        onTranscribed,
		onPendingTranslation: onPendingTranslation,
	}
}

func (w *Worker) Enqueue(name string) {
	gen := atomic.LoadUint64(w.generation)
	select {
	case w.tasks <- Task{Name: name, Generation: gen}:
	default:
		log.Printf("transcribe: queue full, dropping %s", name)
	}
}

func (w *Worker) Run() {
	for {
		select {
		case <-w.stopCh:
			return
		case task := <-w.tasks:
			if task.Generation != atomic.LoadUint64(w.generation) {
				continue
			}
			w.process(task)
		}
	}
}

func (w *Worker) Stop() { close(w.stopCh) }

func (w *Worker) process(task Task) {
	rec, _, ok := w.index.Get(task.Name)
	if !ok {
		return
	}

	meta := SegmentMeta{
		Name:           task.Name,
		StartMs:        startMsOf(rec),
		DurationMs:     rec.DurationMs,
		SpeakerChanged: rec.SpeakerChanged != nil && *rec.SpeakerChanged,
	}
	prompt := w.policy.PromptFor(meta)

	started := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Second)
	text, err := w.asr.Transcribe(ctx, filepath.Join(w.dir, task.Name), prompt)
	cancel()
	if err != nil {
		log.Printf("transcribe: asr failed for %s: %v", task.Name, err)
		text = ""
	}

	sanitized := Sanitize(text)
	w.policy.Update(meta, sanitized)

	now := time.Now().Format(time.RFC3339Nano)
	elapsedMs := time.Since(started).Milliseconds()
	w.index.Mutate(task.Name, func(r *segment.Record) {
		r.Transcript = sanitized
		r.TranscriptAt = now
		r.TranscriptMs = elapsedMs
	})

	updated, _, _ := w.index.Get(task.Name)
	if w.onTranscribed != nil {
		w.onTranscribed(updated)
	}

	if sanitized != "" && w.onPendingTranslation != nil {
		w.onPendingTranslation(task.Name)
	}
}

// startMsOf derives a start-time-like ordinal from CreatedAt for gap
// calculations; the absolute epoch doesn't matter, only deltas between
// consecutive segments.
func startMsOf(rec segment.Record) int64 {
	t, err := time.Parse(time.RFC3339Nano, rec.CreatedAt)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}
