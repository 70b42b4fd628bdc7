// Package rolling implements RollingWindowWorker: a single-consumer queue
// of rolling-window snapshots, each run through SpeakerDiarizer and a
// reusable window_live.wav ASR call for low-latency live captions.
package rolling

import (
	"context"
	"log"
	"path/filepath"
	"sync/atomic"
	"time"

	"aimeeting/internal/diarize"
	"aimeeting/internal/segment"
)

// Task carries one rolling-window snapshot.
type Task struct {
	Samples    []float32
	SampleRate int
	Channels   int
	At         time.Time
}

// Event is published to the observer bus per processed task.
type Event struct {
	Text              string
	WindowMs          int64
	ElapsedMs         int64
	SpeakerID         *uint32
	SpeakerSimilarity *float32
	SpeakerMixed      bool
	CreatedAt         time.Time
}

// ASRClient is the subset of the ASR client the rolling worker needs.
type ASRClient interface {
	TranscribeFile(ctx context.Context, path string) (string, error)
}

// Worker consumes Tasks from a buffered channel, one at a time.
type Worker struct {
	diarizer *diarize.Diarizer
	asr      ASRClient
	scratch  string // window_live.wav path
	tasks    chan Task
	publish  func(Event)
	stopCh   chan struct{}
	busy     int32
}

func New(diarizer *diarize.Diarizer, asr ASRClient, dataDir string, publish func(Event)) *Worker {
	return &Worker{
		diarizer: diarizer,
		asr:      asr,
		scratch:  filepath.Join(dataDir, "window_live.wav"),
		tasks:    make(chan Task, 4),
		publish:  publish,
		stopCh:   make(chan struct{}),
	}
}

// Submit implements capture.RollingSink; drops the task if the queue is
// full rather than blocking the capture loop.
func (w *Worker) Submit(samples []float32, sampleRate, channels int, at time.Time) {
	select {
	case w.tasks <- Task{Samples: samples, SampleRate: sampleRate, Channels: channels, At: at}:
	default:
		log.Printf("rolling: task queue full, dropping window")
	}
}

// Run processes tasks until Stop is called.
func (w *Worker) Run() {
	for {
		select {
		case <-w.stopCh:
			return
		case task := <-w.tasks:
			w.process(task)
		}
	}
}

func (w *Worker) Stop() { close(w.stopCh) }

// Busy reports whether a task is currently running through process, the
// span CaptureLoop's single-in-flight backpressure must honor — not merely
// whether Submit's channel send is pending.
func (w *Worker) Busy() bool {
	return atomic.LoadInt32(&w.busy) == 1
}

func (w *Worker) process(task Task) {
	atomic.StoreInt32(&w.busy, 1)
	defer atomic.StoreInt32(&w.busy, 0)

	start := time.Now()

	var decision diarize.Decision
	if w.diarizer != nil {
		decision = w.diarizer.Process(task.Samples, task.SampleRate, task.Channels)
	}

	writer, err := segment.StartAt(w.scratch, task.SampleRate, task.Channels)
	if err != nil {
		log.Printf("rolling: failed to open scratch writer: %v", err)
		return
	}
	if err := writer.Write(task.Samples); err != nil {
		log.Printf("rolling: failed writing scratch wav: %v", err)
		writer.Abort()
		return
	}
	rec, err := writer.Finalize()
	if err != nil {
		log.Printf("rolling: failed finalizing scratch wav: %v", err)
		return
	}

	text := ""
	if w.asr != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		text, err = w.asr.TranscribeFile(ctx, writer.Path())
		cancel()
		if err != nil {
			log.Printf("rolling: asr call failed: %v", err)
		}
	}

	w.publish(Event{
		Text:              text,
		WindowMs:          rec.DurationMs,
		ElapsedMs:         time.Since(start).Milliseconds(),
		SpeakerID:         decision.SpeakerID,
		SpeakerSimilarity: decision.Similarity,
		SpeakerMixed:      decision.Mixed,
		CreatedAt:         task.At,
	})
}
