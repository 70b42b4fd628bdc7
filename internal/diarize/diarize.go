// Package diarize implements SpeakerDiarizer: a mean-pooled embedding model
// over fixed 16 kHz windows, switch detection by cosine-drop with
// hysteresis, and online centroid clustering with a max-speaker cap.
//
// Grounded on the teacher's ai.SpeakerEncoder for the onnxruntime_go session
// idiom, but the input shape and every threshold/constant below follow
// original_source/src-tauri/src/audio/speaker.rs, which takes a raw
// 16 kHz/16000-sample waveform (not a mel spectrogram).
package diarize

import (
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	TargetSampleRate = 16000
	WindowSamples    = 16000 // 1 second

	defaultNewThreshold    = 0.75
	defaultUpdateThreshold = 0.80
	defaultUpdateAlpha     = 0.8
	defaultMaxSpeakers     = 8
	defaultWindowMs        = 2000
	defaultStepMs          = 1000
	defaultMinRMSDb        = -45.0
	defaultSwitchHopMs     = 500
	defaultConsecutiveHits = 3
	defaultMinGapMs        = 3000
)

// Config mirrors original_source's speaker.rs defaults; zero values are
// replaced with those defaults by NewDiarizer.
type Config struct {
	ModelPath       string
	NewThreshold    float32
	UpdateThreshold float32
	UpdateAlpha     float32
	MaxSpeakers     int
	WindowMs        int64
	StepMs          int64
	MinRMSDb        float64
	SwitchWindowMs  int64
	SwitchHopMs     int64
	SwitchThreshold float32
	ConsecutiveHits int
	MinGapMs        int64
}

func (c *Config) applyDefaults() {
	if c.NewThreshold == 0 {
		c.NewThreshold = defaultNewThreshold
	}
	if c.UpdateThreshold == 0 {
		c.UpdateThreshold = defaultUpdateThreshold
	}
	if c.UpdateAlpha == 0 {
		c.UpdateAlpha = defaultUpdateAlpha
	}
	if c.MaxSpeakers == 0 {
		c.MaxSpeakers = defaultMaxSpeakers
	}
	if c.WindowMs == 0 {
		c.WindowMs = defaultWindowMs
	}
	if c.StepMs == 0 {
		c.StepMs = defaultStepMs
	}
	if c.MinRMSDb == 0 {
		c.MinRMSDb = defaultMinRMSDb
	}
	if c.SwitchWindowMs == 0 {
		c.SwitchWindowMs = min64(c.WindowMs, 1000)
	}
	if c.SwitchHopMs == 0 {
		c.SwitchHopMs = defaultSwitchHopMs
	}
	if c.SwitchThreshold == 0 {
		c.SwitchThreshold = c.NewThreshold
	}
	if c.ConsecutiveHits == 0 {
		c.ConsecutiveHits = defaultConsecutiveHits
	}
	if c.MinGapMs == 0 {
		c.MinGapMs = defaultMinGapMs
	}
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// Decision is the observable contract for one processed batch.
type Decision struct {
	SpeakerID  *uint32
	Similarity *float32
	Changed    bool
	Mixed      bool
	SwitchesMs []int64
}

type speakerProfile struct {
	id       uint32
	centroid []float64
}

// Diarizer holds the ONNX embedding session and the online speaker clusters.
type Diarizer struct {
	cfg     Config
	session *ort.DynamicAdvancedSession

	mu            sync.Mutex
	speakers      []speakerProfile
	nextID        uint32
	lastRunAt     time.Time
	lastSwitchAt  int64 // ms, process-relative
	currentID     *uint32
	currentSimil  *float32
}

// NewDiarizer loads the embedding model and prepares an empty speaker set.
func NewDiarizer(cfg Config) (*Diarizer, error) {
	cfg.applyDefaults()

	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("diarize: model not found: %w", err)
	}
	if err := ensureRuntime(); err != nil {
		return nil, fmt.Errorf("diarize: init onnxruntime: %w", err)
	}

	inputInfo, outputInfo, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("diarize: model info: %w", err)
	}
	inputNames := make([]string, len(inputInfo))
	for i, info := range inputInfo {
		inputNames[i] = info.Name
	}
	outputNames := make([]string, len(outputInfo))
	for i, info := range outputInfo {
		outputNames[i] = info.Name
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("diarize: session options: %w", err)
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, inputNames, outputNames, options)
	if err != nil {
		return nil, fmt.Errorf("diarize: create session: %w", err)
	}

	return &Diarizer{cfg: cfg, session: session, nextID: 1}, nil
}

var (
	runtimeMu          sync.Mutex
	runtimeInitialized bool
)

// ensureRuntime mirrors the teacher's initONNXRuntime: locate the shared
// library via env var or known relative paths, then initialize once.
func ensureRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if runtimeInitialized {
		return nil
	}

	libPath := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")
	if libPath == "" {
		for _, candidate := range []string{
			"./libonnxruntime.so",
			"./libonnxruntime.dylib",
			"../Resources/libonnxruntime.dylib",
		} {
			if _, err := os.Stat(candidate); err == nil {
				libPath = candidate
				break
			}
		}
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return err
	}
	runtimeInitialized = true
	return nil
}

// embed runs the fixed (1,1,16000) raw-waveform embedding model and returns
// an L2-normalized vector.
func (d *Diarizer) embed(window []float32) ([]float64, error) {
	if len(window) != WindowSamples {
		return nil, fmt.Errorf("diarize: window must be %d samples, got %d", WindowSamples, len(window))
	}

	shape := ort.NewShape(1, 1, int64(WindowSamples))
	input, err := ort.NewTensor(shape, window)
	if err != nil {
		return nil, fmt.Errorf("diarize: input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	if err := d.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("diarize: inference: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("diarize: unexpected output tensor type")
	}
	raw := out.GetData()
	vec := make([]float64, len(raw))
	for i, v := range raw {
		vec[i] = float64(v)
	}
	return l2Normalize(vec), nil
}

func l2Normalize(v []float64) []float64 {
	norm := floats.Norm(v, 2)
	if norm < 1e-9 {
		return v
	}
	out := make([]float64, len(v))
	copy(out, v)
	floats.Scale(1/norm, out)
	return out
}

// downmixResample converts multi-channel input to mono and resamples by
// nearest-sample scaling to 16 kHz, per §4.4.
func downmixResample(samples []float32, sampleRate, channels int) []float32 {
	frames := len(samples) / channels
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		mono[i] = sum / float32(channels)
	}

	if sampleRate == TargetSampleRate {
		return mono
	}

	ratio := float64(sampleRate) / float64(TargetSampleRate)
	outLen := int(float64(len(mono)) / ratio)
	out := make([]float32, outLen)
	for i := range out {
		src := int(float64(i) * ratio)
		if src >= len(mono) {
			src = len(mono) - 1
		}
		out[i] = mono[src]
	}
	return out
}

// Process runs the full per-rolling-window pipeline from §4.4 against a
// batch of raw samples at sampleRate/channels, returning the observable
// decision.
func (d *Diarizer) Process(samples []float32, sampleRate, channels int) Decision {
	mono := downmixResample(samples, sampleRate, channels)

	d.mu.Lock()
	defer d.mu.Unlock()

	if len(mono) < WindowSamples {
		return Decision{}
	}

	if !d.lastRunAt.IsZero() && time.Since(d.lastRunAt) < time.Duration(d.cfg.StepMs)*time.Millisecond {
		return Decision{}
	}
	d.lastRunAt = time.Now()

	trailing := mono[len(mono)-WindowSamples:]
	if rmsDb(trailing) < d.cfg.MinRMSDb {
		return Decision{Mixed: true}
	}

	switches := d.detectSwitches(mono)
	if len(switches) > 0 {
		return Decision{Mixed: true, SwitchesMs: switches}
	}

	centerStart := (len(mono) - WindowSamples) / 2
	window := mono[centerStart : centerStart+WindowSamples]
	embedding, err := d.embed(window)
	if err != nil {
		return Decision{Mixed: true}
	}

	return d.classify(embedding)
}

func rmsDb(samples []float32) float64 {
	if len(samples) == 0 {
		return -math.MaxFloat64
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms < 1e-9 {
		rms = 1e-9
	}
	return 20 * math.Log10(rms)
}

// detectSwitches slides a switch_window_ms sub-window with hop switch_hop_ms
// across mono, comparing cosine similarity between consecutive sub-window
// embeddings; a run of consecutive_hits below-threshold comparisons
// registers a switch at the midpoint of the sub-window that completes the
// run, honoring min_gap_ms between switches found in the same call.
func (d *Diarizer) detectSwitches(mono []float32) []int64 {
	subSamples := int(d.cfg.SwitchWindowMs) * TargetSampleRate / 1000
	hopSamples := int(d.cfg.SwitchHopMs) * TargetSampleRate / 1000
	if subSamples <= 0 || hopSamples <= 0 || len(mono) < subSamples {
		return nil
	}

	var switches []int64
	var prevEmbedding []float64
	belowCount := 0

	for start := 0; start+subSamples <= len(mono); start += hopSamples {
		sub := mono[start : start+subSamples]
		if len(sub) < WindowSamples {
			// pad/trim to the embedding model's fixed window by centering
			sub = centerPad(sub, WindowSamples)
		} else if len(sub) > WindowSamples {
			centerStart := (len(sub) - WindowSamples) / 2
			sub = sub[centerStart : centerStart+WindowSamples]
		}

		emb, err := d.embed(sub)
		if err != nil {
			continue
		}

		if prevEmbedding != nil {
			sim := float32(floats.Dot(prevEmbedding, emb))
			if sim < d.cfg.SwitchThreshold {
				belowCount++
				if belowCount >= d.cfg.ConsecutiveHits {
					midMs := int64(start+subSamples/2) * 1000 / TargetSampleRate
					if len(switches) == 0 || midMs-switches[len(switches)-1] >= d.cfg.MinGapMs {
						switches = append(switches, midMs)
					}
					belowCount = 0
				}
			} else {
				belowCount = 0
			}
		}
		prevEmbedding = emb
	}

	return switches
}

func centerPad(samples []float32, target int) []float32 {
	out := make([]float32, target)
	offset := (target - len(samples)) / 2
	copy(out[offset:], samples)
	return out
}

// classify runs the online clustering decision described in §4.4 step 5.
func (d *Diarizer) classify(embedding []float64) Decision {
	if len(d.speakers) == 0 {
		id := d.nextID
		d.nextID++
		d.speakers = append(d.speakers, speakerProfile{id: id, centroid: embedding})
		d.currentID = &id
		changed := true
		return Decision{SpeakerID: &id, Changed: changed}
	}

	bestIdx := -1
	bestSim := -2.0
	for i, sp := range d.speakers {
		sim := floats.Dot(sp.centroid, embedding)
		if sim > bestSim {
			bestSim = sim
			bestIdx = i
		}
	}
	bestSimF := float32(bestSim)

	if bestSimF < d.cfg.NewThreshold {
		if len(d.speakers) >= d.cfg.MaxSpeakers {
			return Decision{Similarity: &bestSimF}
		}
		id := d.nextID
		d.nextID++
		d.speakers = append(d.speakers, speakerProfile{id: id, centroid: embedding})
		changed := d.currentID == nil || *d.currentID != id
		d.currentID = &id
		d.currentSimil = &bestSimF
		return Decision{SpeakerID: &id, Similarity: &bestSimF, Changed: changed}
	}

	sp := &d.speakers[bestIdx]
	if bestSimF >= d.cfg.UpdateThreshold {
		updated := make([]float64, len(sp.centroid))
		for i := range updated {
			updated[i] = float64(d.cfg.UpdateAlpha)*sp.centroid[i] + float64(1-d.cfg.UpdateAlpha)*embedding[i]
		}
		sp.centroid = l2Normalize(updated)
	}

	id := sp.id
	changed := d.currentID == nil || *d.currentID != id
	d.currentID = &id
	d.currentSimil = &bestSimF
	return Decision{SpeakerID: &id, Similarity: &bestSimF, Changed: changed}
}

func (d *Diarizer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		d.session.Destroy()
		d.session = nil
	}
}
