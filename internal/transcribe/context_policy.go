package transcribe

import (
	"strings"
	"sync"
)

// SegmentMeta is the subset of segment state the context policy needs.
type SegmentMeta struct {
	Name           string
	StartMs        int64
	DurationMs     int64
	SpeakerChanged bool
}

const (
	historyK            = 3
	defaultMaxChars     = 200
	defaultShortSegMs   = 1500
	defaultResetGapMs   = 4000
	defaultBoundaryGap  = 1200
)

// ContextPolicy maintains a rolling history of accepted transcripts and
// decides, per §4.7.1, when to prime the ASR call with a prompt.
type ContextPolicy struct {
	mu          sync.Mutex
	history     string
	prevEndMs   int64
	hasPrevEnd  bool
	maxChars    int
	shortSegMs  int64
	resetGapMs  int64
	boundaryGap int64
}

func NewContextPolicy() *ContextPolicy {
	return &ContextPolicy{
		maxChars:    defaultMaxChars,
		shortSegMs:  defaultShortSegMs,
		resetGapMs:  defaultResetGapMs,
		boundaryGap: defaultBoundaryGap,
	}
}

// PromptFor computes the context prompt (if any) for an incoming segment
// and clears history first if a speaker change or large gap is detected.
func (p *ContextPolicy) PromptFor(meta SegmentMeta) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var gapMs int64
	if p.hasPrevEnd {
		gapMs = meta.StartMs - p.prevEndMs
		if gapMs < 0 {
			gapMs = 0
		}
	}

	if meta.SpeakerChanged || gapMs >= p.resetGapMs {
		p.history = ""
	}

	emit := meta.DurationMs <= p.shortSegMs || meta.SpeakerChanged || gapMs >= p.boundaryGap
	if !emit || p.history == "" {
		return ""
	}

	h := p.history
	if len(h) > p.maxChars {
		h = h[len(h)-p.maxChars:]
	}
	return h
}

// Update appends the sanitized transcript to history (space-separated),
// truncated to the K*maxChars cap, and records this segment's end time.
func (p *ContextPolicy) Update(meta SegmentMeta, sanitizedTranscript string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.prevEndMs = meta.StartMs + meta.DurationMs
	p.hasPrevEnd = true

	if sanitizedTranscript == "" {
		return
	}

	if p.history == "" {
		p.history = sanitizedTranscript
	} else {
		p.history = strings.TrimSpace(p.history + " " + sanitizedTranscript)
	}

	limit := historyK * p.maxChars
	if len(p.history) > limit {
		p.history = p.history[len(p.history)-limit:]
	}
}
