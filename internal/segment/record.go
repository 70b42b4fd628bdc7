// Package segment owns SegmentRecord, the float-WAV writer, and the
// on-disk SegmentIndex manifest.
package segment

import "time"

// Record is the persisted unit of a captured clip. Created by the capture
// loop on finalize, mutated only by the transcription worker and then the
// translation worker, never deleted except via Index.Clear.
type Record struct {
	Name       string `json:"name"`
	CreatedAt  string `json:"createdAt"` // ISO-8601 with offset
	DurationMs int64  `json:"durationMs"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`

	Transcript   string `json:"transcript,omitempty"`
	TranscriptAt string `json:"transcriptAt,omitempty"`
	TranscriptMs int64  `json:"transcriptMs,omitempty"`

	Translation   string `json:"translation,omitempty"`
	TranslationAt string `json:"translationAt,omitempty"`
	TranslationMs int64  `json:"translationMs,omitempty"`

	SpeakerID          *uint32  `json:"speakerId,omitempty"`
	SpeakerSimilarity  *float32 `json:"speakerSimilarity,omitempty"`
	SpeakerChanged     *bool    `json:"speakerChanged,omitempty"`
	SpeakerSwitchesMs  []int64  `json:"speakerSwitchesMs,omitempty"`
}

func nowISO() string {
	return time.Now().Format(time.RFC3339Nano)
}
