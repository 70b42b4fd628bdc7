// Package audioio wraps the OS audio-endpoint loopback device behind
// LoopbackSource, adapted from the teacher's audio.Capture (which drives
// malgo for microphone/system capture) but narrowed to the single
// loopback-playback-as-capture path the pipeline needs.
package audioio

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

var (
	ErrCaptureUnavailable = errors.New("audioio: capture endpoint unavailable")
	ErrUnsupportedFormat  = errors.New("audioio: unsupported sample format")
)

// Batch is an interleaved float sample frame, normalized to [-1.0, 1.0].
type Batch struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// LoopbackSource reads loopback frames as they arrive from malgo's capture
// callback into a mutex-guarded queue; Read drains whatever is currently queued
// without blocking for more, returning a zero-length batch when nothing is
// ready yet.
type LoopbackSource struct {
	ctx        *malgo.AllocatedContext
	device     *malgo.Device
	sampleRate int
	channels   int

	mu     sync.Mutex
	queue  [][]float32
	closed bool
}

const defaultSampleRate = 48000
const defaultChannels = 2

// Open initializes the default loopback/playback capture endpoint.
func Open() (*LoopbackSource, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}

	s := &LoopbackSource{
		ctx:        ctx,
		sampleRate: defaultSampleRate,
		channels:   defaultChannels,
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Loopback)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(defaultChannels)
	deviceConfig.SampleRate = uint32(defaultSampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: s.onFrames,
	})
	if err != nil {
		ctx.Free()
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	s.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}

	return s, nil
}

func (s *LoopbackSource) onFrames(_, input []byte, frameCount uint32) {
	sampleCount := int(frameCount) * s.channels
	if len(input) != sampleCount*4 {
		return
	}

	samples := make([]float32, sampleCount)
	for i := 0; i < sampleCount; i++ {
		bits := uint32(input[i*4]) | uint32(input[i*4+1])<<8 | uint32(input[i*4+2])<<16 | uint32(input[i*4+3])<<24
		samples[i] = math.Float32frombits(bits)
	}

	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, samples)
	}
	s.mu.Unlock()
}

func (s *LoopbackSource) SampleRate() int { return s.sampleRate }
func (s *LoopbackSource) Channels() int   { return s.channels }

// Read drains whatever frames have arrived since the last call. It never
// blocks; when nothing is ready it returns a zero-length batch, matching
// the "possibly zero" contract for LoopbackSource.read().
func (s *LoopbackSource) Read() Batch {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return Batch{SampleRate: s.sampleRate, Channels: s.channels}
	}

	total := 0
	for _, chunk := range s.queue {
		total += len(chunk)
	}
	merged := make([]float32, 0, total)
	for _, chunk := range s.queue {
		merged = append(merged, chunk...)
	}
	s.queue = s.queue[:0]

	return Batch{Samples: merged, SampleRate: s.sampleRate, Channels: s.channels}
}

// Close stops and releases the underlying device.
func (s *LoopbackSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if s.device != nil {
		s.device.Uninit()
	}
	if s.ctx != nil {
		s.ctx.Free()
	}
	return nil
}
