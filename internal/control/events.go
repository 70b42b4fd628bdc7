// Package control exposes the session's commands and events over a
// gRPC-over-JSON bidirectional stream, adapted from the teacher's
// WebSocket Message contract (internal/api/grpc_service.go) onto the
// unary command / fan-out event shape of spec §6.3-6.4.
package control

import (
	"sync"

	"aimeeting/internal/segment"
)

// EventType names one observer event from spec §6.4.
type EventType string

const (
	EventSegmentCreated            EventType = "segment_created"
	EventSegmentTranscribed        EventType = "segment_transcribed"
	EventSegmentTranslated         EventType = "segment_translated"
	EventSegmentListCleared        EventType = "segment_list_cleared"
	EventSegmentTranslationCanceled EventType = "segment_translation_canceled"
	EventWindowTranscribed         EventType = "window_transcribed"
	EventLiveTranslationStart      EventType = "live_translation_start"
	EventLiveTranslationChunk      EventType = "live_translation_chunk"
	EventLiveTranslationDone       EventType = "live_translation_done"
	EventLiveTranslationError      EventType = "live_translation_error"
	EventLiveTranslationCleared    EventType = "live_translation_cleared"
	EventStreamTranscript          EventType = "stream_transcript"
)

// WindowTranscribedPayload is the §6.4 window_transcribed payload shape.
type WindowTranscribedPayload struct {
	Text              string   `json:"text"`
	WindowMs          int64    `json:"windowMs"`
	ElapsedMs         int64    `json:"elapsedMs"`
	CreatedAt         string   `json:"createdAt"`
	SpeakerID         *uint32  `json:"speakerId,omitempty"`
	SpeakerSimilarity *float32 `json:"speakerSimilarity,omitempty"`
	SpeakerMixed      bool     `json:"speakerMixed"`
}

// LiveTranslationPayload carries one live_translation_* event. Order and ID
// together key the monotonic dedup rule in §5 Ordering.
type LiveTranslationPayload struct {
	ID    string `json:"id,omitempty"`
	Order int    `json:"order"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// Event is one envelope pushed to subscribers. Exactly one of the typed
// payload fields is populated, matching the payload named by Type.
type Event struct {
	Type EventType `json:"type"`

	Segment         *segment.Record           `json:"segment,omitempty"`
	Bool            *bool                     `json:"bool,omitempty"`
	Window          *WindowTranscribedPayload `json:"window,omitempty"`
	LiveTranslation *LiveTranslationPayload   `json:"liveTranslation,omitempty"`
	StreamLine      string                    `json:"streamLine,omitempty"`
}

// subscriber is a bounded mailbox; a slow receiver drops the oldest queued
// event rather than blocking the publisher, the way a lagged WS client
// would miss frames instead of backing up the whole session.
type subscriber struct {
	ch chan Event
}

const subscriberBuffer = 64

// Bus is a bounded multi-subscriber broadcast for session events.
type Bus struct {
	mu   sync.Mutex
	subs map[int]*subscriber
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe returns a channel of events and an unsubscribe func. The
// channel is closed by Unsubscribe, never by Publish.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	b.subs[id] = sub
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
		b.mu.Unlock()
	}
	return sub.ch, unsubscribe
}

// Publish fans an event out to every subscriber, dropping the oldest queued
// event for any subscriber whose mailbox is full rather than blocking.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
}
