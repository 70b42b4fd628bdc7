package diarize

import "testing"

// newTestDiarizer builds a Diarizer with defaulted thresholds but no ONNX
// session, exercising classify directly since the embedding model itself
// needs a real onnx export and runtime library unavailable in tests.
func newTestDiarizer(cfg Config) *Diarizer {
	cfg.applyDefaults()
	return &Diarizer{cfg: cfg, nextID: 1}
}

func unit(v ...float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return l2Normalize(out)
}

func TestClassifyFirstSpeakerStartsAtOne(t *testing.T) {
	d := newTestDiarizer(Config{})

	decision := d.classify(unit(1, 0, 0))
	if decision.SpeakerID == nil {
		t.Fatalf("expected a speaker id")
	}
	if *decision.SpeakerID != 1 {
		t.Fatalf("expected first speaker id 1, got %d", *decision.SpeakerID)
	}
	if !decision.Changed {
		t.Fatalf("expected Changed on first speaker")
	}
}

func TestClassifyStableSpeakerKeepsSameID(t *testing.T) {
	d := newTestDiarizer(Config{})

	first := d.classify(unit(1, 0, 0))
	// Same direction, slightly perturbed: well above updateThreshold.
	second := d.classify(unit(0.99, 0.01, 0))

	if *second.SpeakerID != *first.SpeakerID {
		t.Fatalf("expected stable id, got %d then %d", *first.SpeakerID, *second.SpeakerID)
	}
	if second.Changed {
		t.Fatalf("expected Changed=false for a repeat speaker")
	}
}

func TestClassifyDistinctSpeakerGetsNewID(t *testing.T) {
	d := newTestDiarizer(Config{})

	first := d.classify(unit(1, 0, 0))
	second := d.classify(unit(0, 1, 0)) // orthogonal: similarity 0, below newThreshold

	if *second.SpeakerID == *first.SpeakerID {
		t.Fatalf("expected a new id for a dissimilar embedding")
	}
	if *second.SpeakerID != 2 {
		t.Fatalf("expected second speaker id 2, got %d", *second.SpeakerID)
	}
	if !second.Changed {
		t.Fatalf("expected Changed on switching to a new speaker")
	}
}

func TestClassifyRespectsMaxSpeakersCap(t *testing.T) {
	d := newTestDiarizer(Config{MaxSpeakers: 1})

	first := d.classify(unit(1, 0, 0))
	if first.SpeakerID == nil || *first.SpeakerID != 1 {
		t.Fatalf("expected first speaker id 1")
	}

	// Orthogonal embedding would normally mint a new speaker, but the cap
	// is already at MaxSpeakers=1, so no id is assigned.
	second := d.classify(unit(0, 1, 0))
	if second.SpeakerID != nil {
		t.Fatalf("expected no speaker id once MaxSpeakers is reached, got %v", *second.SpeakerID)
	}
	if second.Similarity == nil {
		t.Fatalf("expected a similarity value even when capped")
	}
}
