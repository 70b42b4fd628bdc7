// Package capture implements CaptureLoop, the segmentation state machine:
// pre-roll ring, min/max duration and silence-tail accounting, and handoff
// to the rolling-window worker, the VAD worker, and the transcription queue.
//
// Adapted from the teacher's session.ChunkBuffer (silence-gap search,
// Flush/FlushAll draining on stop) but restructured into the spec's
// explicit IDLE/IN_SEGMENT state machine with a pre-roll ring instead of
// the teacher's delayed-chunking-start heuristic.
package capture

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"aimeeting/internal/segment"
	"aimeeting/internal/voicegate"
)

type state int

const (
	stateIdle state = iota
	stateInSegment
)

// Params are the ms-denominated knobs from §4.5, translated to frame counts
// at the actual sample rate when the loop starts.
type Params struct {
	SilenceThresholdDb float64
	MinSegmentMs       int64
	MinSilenceMs       int64
	MaxSegmentMs       int64
	MinTranscribeMs    int64
	PreRollMs          int64
	RollingWindowMs    int64
	RollingStepMs      int64
	RollingMinMs       int64
}

// Source is the minimal loopback reader interface CaptureLoop depends on.
type Source interface {
	Read() (samples []float32, sampleRate, channels int)
}

// RollingSink receives copied rolling-window buffers; RollingWindowWorker
// implements this. Busy reports whether a previously submitted window is
// still being processed, so CaptureLoop can drop ticks instead of piling
// tasks up behind a slow in-flight ASR call.
type RollingSink interface {
	Submit(samples []float32, sampleRate, channels int, at time.Time)
	Busy() bool
}

// VADChecker matches voicegate.ShouldKeep's signature so tests can stub it.
type VADChecker func(ctx context.Context, path string, durationMs int64) (bool, error)

// Loop drives one capture session end to end.
type Loop struct {
	src    Source
	index  *segment.Index
	dir    string
	params Params
	rolling RollingSink
	vadEnabled bool
	vadCheck   VADChecker
	onSegment  func(segment.Record)

	stopCh chan struct{}
	wg     sync.WaitGroup

	preRoll    *ring
	rollingBuf *ring
	rollingElapsed  int64 // interleaved samples since last emitted rolling window

	st            state
	writer        *segment.Writer
	silentFrames  int64
	segmentFrames int64
}

// New constructs a Loop for one session; dir must already exist.
func New(src Source, index *segment.Index, dir string, params Params, rolling RollingSink, vadEnabled bool, vadCheck VADChecker, onSegment func(segment.Record)) *Loop {
	return &Loop{
		src:        src,
		index:      index,
		dir:        dir,
		params:     params,
		rolling:    rolling,
		vadEnabled: vadEnabled,
		vadCheck:   vadCheck,
		onSegment:  onSegment,
		stopCh:     make(chan struct{}),
	}
}

// Run blocks until Stop is called, reading from src on a 10ms poll when no
// frames are ready (matching the spec's capture-sleeps-10ms backpressure).
func (l *Loop) Run() {
	l.wg.Add(1)
	defer l.wg.Done()

	for {
		select {
		case <-l.stopCh:
			l.finalizeOnStop()
			return
		default:
		}

		samples, sr, ch := l.src.Read()
		if len(samples) == 0 {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		l.ensureRings(sr, ch)
		l.onBatch(samples, sr, ch)
	}
}

func (l *Loop) ensureRings(sr, ch int) {
	if l.preRoll == nil {
		l.preRoll = newRing(int(l.params.PreRollMs) * sr * ch / 1000)
	}
	if l.rollingBuf == nil {
		l.rollingBuf = newRing(int(l.params.RollingWindowMs) * sr * ch / 1000)
	}
}

func (l *Loop) onBatch(samples []float32, sr, ch int) {
	l.preRoll.push(samples)

	if l.rolling != nil && l.params.RollingWindowMs > 0 {
		l.rollingBuf.push(samples)
		l.rollingElapsed += int64(len(samples))
		stepFrames := l.params.RollingStepMs * int64(sr*ch) / 1000
		minFrames := l.params.RollingMinMs * int64(sr*ch) / 1000
		if l.rollingElapsed >= stepFrames && int64(l.rollingBuf.len()) >= minFrames {
			if !l.rolling.Busy() {
				snapshot := l.rollingBuf.snapshot()
				l.rollingElapsed = 0
				l.rolling.Submit(snapshot, sr, ch, time.Now())
			}
		}
	}

	silent := voicegate.IsSilence(samples, l.params.SilenceThresholdDb)

	switch l.st {
	case stateIdle:
		if !silent {
			l.startSegment(sr, ch)
			l.writeToSegment(samples, ch)
		}
	case stateInSegment:
		l.writeToSegment(samples, ch)
		if silent {
			l.silentFrames += int64(len(samples)) / int64(ch)
		} else {
			l.silentFrames = 0
		}
		l.maybeFinalize(sr, ch)
	}
}

func (l *Loop) startSegment(sr, ch int) {
	w, err := segment.Start(l.dir, sr, ch)
	if err != nil {
		log.Printf("capture: failed to start segment: %v", err)
		return
	}
	l.writer = w
	l.silentFrames = 0
	l.segmentFrames = 0
	l.st = stateInSegment

	if preroll := l.preRoll.snapshot(); len(preroll) > 0 {
		if err := w.Write(preroll); err != nil {
			log.Printf("capture: failed writing pre-roll: %v", err)
		}
		l.segmentFrames += int64(len(preroll)) / int64(ch)
	}
}

func (l *Loop) writeToSegment(samples []float32, channels int) {
	if l.writer == nil {
		return
	}
	if err := l.writer.Write(samples); err != nil {
		log.Printf("capture: write error: %v", err)
		return
	}
	l.segmentFrames += int64(len(samples)) / int64(channels)
}

func (l *Loop) maybeFinalize(sr, ch int) {
	minSegFrames := l.params.MinSegmentMs * int64(sr) / 1000
	minSilFrames := l.params.MinSilenceMs * int64(sr) / 1000
	maxSegFrames := l.params.MaxSegmentMs * int64(sr) / 1000

	finalize := (l.segmentFrames >= minSegFrames && l.silentFrames >= minSilFrames) ||
		(l.params.MaxSegmentMs > 0 && l.segmentFrames >= maxSegFrames)
	if finalize {
		l.finalize()
	}
}

func (l *Loop) finalize() {
	w := l.writer
	l.writer = nil
	l.st = stateIdle
	if w == nil {
		return
	}

	rec, err := w.Finalize()
	if err != nil {
		log.Printf("capture: finalize error: %v", err)
		return
	}

	if rec.DurationMs < l.params.MinTranscribeMs {
		os.Remove(w.Path())
		return
	}

	if l.vadEnabled && l.vadCheck != nil {
		go l.runVAD(w.Path(), rec)
		return
	}

	l.acceptSegment(rec)
}

func (l *Loop) runVAD(path string, rec segment.Record) {
	keep, err := l.vadCheck(context.Background(), path, rec.DurationMs)
	if err != nil {
		log.Printf("capture: vad error (keeping conservatively): %v", err)
		keep = true
	}
	if !keep {
		os.Remove(path)
		return
	}
	l.acceptSegment(rec)
}

func (l *Loop) acceptSegment(rec segment.Record) {
	if err := l.index.Append(rec); err != nil {
		log.Printf("capture: index append error: %v", err)
	}
	if l.onSegment != nil {
		l.onSegment(rec)
	}
}

func (l *Loop) finalizeOnStop() {
	if l.writer != nil {
		l.finalize()
	}
}

// Stop signals the loop to exit; any open writer is finalized through the
// same path as a normal finalize.
func (l *Loop) Stop() {
	close(l.stopCh)
	l.wg.Wait()
}

// ring is a fixed-capacity FIFO sample ring used for both the pre-roll
// buffer and the rolling-window buffer.
type ring struct {
	mu   sync.Mutex
	buf  []float32
	cap  int
}

func newRing(capacity int) *ring {
	if capacity < 0 {
		capacity = 0
	}
	return &ring{cap: capacity}
}

func (r *ring) push(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cap == 0 {
		return
	}
	r.buf = append(r.buf, samples...)
	if len(r.buf) > r.cap {
		r.buf = r.buf[len(r.buf)-r.cap:]
	}
}

func (r *ring) snapshot() []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]float32, len(r.buf))
	copy(out, r.buf)
	return out
}

func (r *ring) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}
