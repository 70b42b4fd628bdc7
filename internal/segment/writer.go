package segment

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Writer is a stateful, single-use writer that accumulates samples to an
// on-disk 32-bit float WAV clip. Adapted from the teacher's session.WAVWriter,
// which wrote 16-bit PCM; this one keeps samples as IEEE float (format tag 3)
// per the spec, and finalizes into a Record instead of just flushing a header.
type Writer struct {
	file       *os.File
	path       string
	name       string
	sampleRate int
	channels   int
	written    int64 // samples written (not frames)
	createdAt  time.Time
	mu         sync.Mutex
	done       bool
}

const bitsPerSample = 32

// Start creates segment_<yyyymmdd_HHMMSS_fff>.wav in dir and writes a
// placeholder header.
func Start(dir string, sampleRate, channels int) (*Writer, error) {
	now := time.Now()
	name := fmt.Sprintf("segment_%s_%03d.wav", now.Format("20060102_150405"), now.Nanosecond()/1e6)
	return StartAt(filepath.Join(dir, name), sampleRate, channels)
}

// StartAt creates (or truncates) the WAV file at an explicit path, used by
// the rolling-window worker to reuse a single scratch file across calls
// instead of allocating a fresh timestamped name every window.
func StartAt(path string, sampleRate, channels int) (*Writer, error) {
	now := time.Now()
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create segment file: %w", err)
	}

	w := &Writer{
		file:       file,
		path:       path,
		name:       filepath.Base(path),
		sampleRate: sampleRate,
		channels:   channels,
		createdAt:  now,
	}
	if err := w.writeHeader(); err != nil {
		file.Close()
		return nil, fmt.Errorf("write wav header: %w", err)
	}
	return w, nil
}

func (w *Writer) writeHeader() error {
	if _, err := w.file.Seek(0, 0); err != nil {
		return err
	}

	byteRate := w.sampleRate * w.channels * bitsPerSample / 8
	blockAlign := w.channels * bitsPerSample / 8
	dataSize := uint32(w.written * int64(bitsPerSample/8))

	w.file.WriteString("RIFF")
	binary.Write(w.file, binary.LittleEndian, uint32(36+dataSize))
	w.file.WriteString("WAVE")

	w.file.WriteString("fmt ")
	binary.Write(w.file, binary.LittleEndian, uint32(16))
	binary.Write(w.file, binary.LittleEndian, uint16(3)) // IEEE float
	binary.Write(w.file, binary.LittleEndian, uint16(w.channels))
	binary.Write(w.file, binary.LittleEndian, uint32(w.sampleRate))
	binary.Write(w.file, binary.LittleEndian, uint32(byteRate))
	binary.Write(w.file, binary.LittleEndian, uint16(blockAlign))
	binary.Write(w.file, binary.LittleEndian, uint16(bitsPerSample))

	w.file.WriteString("data")
	return binary.Write(w.file, binary.LittleEndian, dataSize)
}

// Write appends interleaved float32 samples.
func (w *Writer) Write(samples []float32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return fmt.Errorf("writer already finalized")
	}
	if err := binary.Write(w.file, binary.LittleEndian, samples); err != nil {
		return fmt.Errorf("write samples: %w", err)
	}
	w.written += int64(len(samples))
	return nil
}

// Finalize rewrites the header with the true data size and returns the
// resulting Record. The writer is single-use: calling Finalize twice errors.
func (w *Writer) Finalize() (Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return Record{}, fmt.Errorf("writer already finalized")
	}
	w.done = true

	if err := w.writeHeader(); err != nil {
		w.file.Close()
		return Record{}, fmt.Errorf("finalize header: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return Record{}, fmt.Errorf("close segment file: %w", err)
	}

	frames := w.written / int64(w.channels)
	durationMs := frames * 1000 / int64(w.sampleRate)

	return Record{
		Name:       w.name,
		CreatedAt:  w.createdAt.Format(time.RFC3339Nano),
		DurationMs: durationMs,
		SampleRate: w.sampleRate,
		Channels:   w.channels,
	}, nil
}

// Abort discards the partially written clip without producing a Record.
func (w *Writer) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return nil
	}
	w.done = true
	w.file.Close()
	return os.Remove(w.path)
}

func (w *Writer) Path() string { return w.path }
func (w *Writer) Name() string { return w.name }

// SamplesWritten reports the interleaved sample count written so far, used
// by the capture loop to translate elapsed frames into ms for the max
// segment / silence accounting without re-deriving it from byte offsets.
func (w *Writer) SamplesWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}
