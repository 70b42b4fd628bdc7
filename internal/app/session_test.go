package app

import (
	"context"
	"testing"

	"aimeeting/internal/asrclient"
	"aimeeting/internal/config"
	"aimeeting/internal/control"
	"aimeeting/internal/segment"
	"aimeeting/internal/translate"
)

// newTestSession builds a Session with only the fields exercised by the
// methods under test, bypassing NewSession's hardware/network-dependent
// construction (loopback capture, whisper-server, diarizer, rag store).
func newTestSession(t *testing.T, cfg *config.AppConfig) (*Session, string) {
	t.Helper()
	dir := t.TempDir()

	segIndex := segment.NewIndex(dir)
	if err := segIndex.Append(segment.Record{Name: "seg_000001.wav", Transcript: "hello"}); err != nil {
		t.Fatalf("seed segment: %v", err)
	}

	s := &Session{
		cfg:            cfg,
		runtime:        &config.Runtime{SegmentDir: dir},
		segIndex:       segIndex,
		translateQueue: translate.NewQueue(),
		bus:            control.NewBus(),
		liveGates:      make(map[string]*translate.LiveGate),
	}
	return s, "seg_000001.wav"
}

func boolPtr(b bool) *bool { return &b }

func TestClearTaskQueuesBumpsGenerationsAndPublishesCancel(t *testing.T) {
	s, name := newTestSession(t, &config.AppConfig{})
	events, unsubscribe := s.bus.Subscribe()
	defer unsubscribe()

	if err := s.TranslateSegment(context.Background(), name, "ollama"); err != nil {
		t.Fatalf("TranslateSegment: %v", err)
	}

	s.clearTaskQueues()

	if s.transcriptionGen != 1 || s.translationGen != 1 {
		t.Fatalf("expected both generations bumped to 1, got %d/%d", s.transcriptionGen, s.translationGen)
	}

	select {
	case evt := <-events:
		if evt.Type != control.EventSegmentTranslationCanceled {
			t.Fatalf("expected segment_translation_canceled, got %s", evt.Type)
		}
	default:
		t.Fatal("expected a published cancellation event")
	}
}

func TestTranslateSegmentRejectsUnknownName(t *testing.T) {
	s, _ := newTestSession(t, &config.AppConfig{})
	if err := s.TranslateSegment(context.Background(), "does-not-exist.wav", "ollama"); err == nil {
		t.Fatal("expected error for an unknown segment name")
	}
}

func TestTranslateSegmentDefaultsProviderFromConfig(t *testing.T) {
	cfg := &config.AppConfig{Translate: &config.TranslateConfig{Enabled: boolPtr(true), Provider: "openai"}}
	s, name := newTestSession(t, cfg)

	if err := s.TranslateSegment(context.Background(), name, ""); err != nil {
		t.Fatalf("TranslateSegment: %v", err)
	}

	req := s.translateQueue.DrainBatch(1, func() uint64 { return 0 })
	if len(req) != 1 || req[0].Provider != "openai" {
		t.Fatalf("expected one queued request for provider openai, got %+v", req)
	}
}

func TestResolveTranslateConfigPicksProviderSection(t *testing.T) {
	cfg := &config.AppConfig{
		OpenAI:    config.OpenAIConfig{APIKey: "sk-test", ChatModel: "gpt-4o-mini"},
		Ollama:    &config.OllamaConfig{Model: "llama3", BaseURL: "http://localhost:11434"},
		Translate: &config.TranslateConfig{Provider: "ollama", TargetLanguage: "zh"},
	}
	s, _ := newTestSession(t, cfg)

	openaiCfg := s.resolveTranslateConfig("openai")
	if openaiCfg.OpenAIAPIKey != "sk-test" || openaiCfg.OpenAIModel != "gpt-4o-mini" {
		t.Fatalf("expected openai fields populated, got %+v", openaiCfg)
	}

	ollamaCfg := s.resolveTranslateConfig("")
	if ollamaCfg.Provider != "ollama" || ollamaCfg.OllamaModel != "llama3" || ollamaCfg.TargetLanguage != "zh" {
		t.Fatalf("expected ollama fields populated from default provider, got %+v", ollamaCfg)
	}
}

func TestOnPendingTranslationSkipsWhenDisabled(t *testing.T) {
	s, name := newTestSession(t, &config.AppConfig{})
	s.onPendingTranslation(name)

	// Nothing was enqueued, so close the queue before draining: DrainBatch
	// blocks on an empty-but-open queue, and only returns nil once closed.
	s.translateQueue.Close()
	req := s.translateQueue.DrainBatch(1, func() uint64 { return 0 })
	if len(req) != 0 {
		t.Fatalf("expected no auto-enqueued request while translate is disabled, got %+v", req)
	}
}

func TestOnPendingTranslationEnqueuesWhenEnabled(t *testing.T) {
	cfg := &config.AppConfig{Translate: &config.TranslateConfig{Enabled: boolPtr(true), Provider: "ollama"}}
	s, name := newTestSession(t, cfg)

	s.onPendingTranslation(name)

	req := s.translateQueue.DrainBatch(1, func() uint64 { return 0 })
	if len(req) != 1 || req[0].Name != name {
		t.Fatalf("expected auto-enqueued request for %s, got %+v", name, req)
	}
}

// stubLiveStreamer replays a fixed chunk sequence, standing in for
// asrclient.TranslateClient.
type stubLiveStreamer struct {
	chunks []asrclient.StreamChunk
}

func (s stubLiveStreamer) SendStream(_ context.Context, _ asrclient.TranslateConfig, _ string, onChunk func(asrclient.StreamChunk)) error {
	for _, c := range s.chunks {
		onChunk(c)
	}
	return nil
}

func TestLiveGateDropsStaleChunks(t *testing.T) {
	gate := &translate.LiveGate{}

	if !gate.Admit(1, "a") {
		t.Fatal("expected first chunk to be admitted")
	}
	if !gate.Admit(2, "a") {
		t.Fatal("expected a later order to be admitted")
	}
	if gate.Admit(1, "a") {
		t.Fatal("expected a stale order to be rejected")
	}
	if !gate.Admit(2, "b") {
		t.Fatal("expected a tie on order broken by a larger id to be admitted")
	}
}

func TestRunLiveTagsChunksWithCallerOrderAndID(t *testing.T) {
	streamer := stubLiveStreamer{chunks: []asrclient.StreamChunk{
		{Text: "bon", Done: false},
		{Text: "jour", Done: false},
		{Done: true},
	}}

	var got []translate.LiveChunk
	err := translate.RunLive(context.Background(), streamer, asrclient.TranslateConfig{Provider: "ollama", TargetLanguage: "fr"}, "hello", "stream-1", 3, func(c translate.LiveChunk) {
		got = append(got, c)
	})
	if err != nil {
		t.Fatalf("RunLive: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(got))
	}
	for _, c := range got {
		if c.ID != "stream-1" || c.Order != 3 {
			t.Fatalf("expected every chunk tagged with caller's (order,id), got %+v", c)
		}
	}
	if !got[2].Done {
		t.Fatal("expected final chunk to carry Done")
	}
}
