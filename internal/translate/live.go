package translate

import (
	"context"
	"fmt"
	"strings"

	"aimeeting/internal/asrclient"
)

// LiveStreamer is the subset of asrclient.TranslateClient the live path
// needs; a stub in tests can record chunks without hitting the network.
type LiveStreamer interface {
	SendStream(ctx context.Context, cfg asrclient.TranslateConfig, prompt string, onChunk func(asrclient.StreamChunk)) error
}

// LiveChunk is one ordered fragment delivered to the observer. Order/ID
// together key the §5 monotonic-dedup rule: a chunk whose (Order, ID) is
// not >= the last one seen for this stream is stale and must be dropped by
// the caller, never published.
type LiveChunk struct {
	Order int
	ID    string
	Text  string
	Done  bool
}

// RunLive drives one translate_live call: builds the single-item prompt
// per §4.10's "Translate single" contract (the Ollama instruction is baked
// into the prompt string itself; OpenAI's instruction lives in the system
// message asrclient already attaches), then streams chunks tagged with the
// caller's (order, id) so the observer can apply the monotonic-dedup rule.
func RunLive(ctx context.Context, client LiveStreamer, cfg asrclient.TranslateConfig, text, id string, order int, onChunk func(LiveChunk)) error {
	prompt := singleTranslatePrompt(cfg.Provider, cfg.TargetLanguage, text)

	err := client.SendStream(ctx, cfg, prompt, func(c asrclient.StreamChunk) {
		onChunk(LiveChunk{Order: order, ID: id, Text: c.Text, Done: c.Done})
	})
	if err != nil {
		return fmt.Errorf("translate: live stream failed: %w", err)
	}
	return nil
}

func singleTranslatePrompt(provider, targetLanguage, text string) string {
	switch strings.ToLower(provider) {
	case "openai", "chatgpt":
		return text // the system message already carries the translate-to-X instruction
	default: // "ollama", ""
		lang := targetLanguage
		if lang == "" {
			lang = "zh"
		}
		return fmt.Sprintf("Translate to %s. Output only the translated text.\n\n%s", lang, text)
	}
}

// LiveGate tracks the highest (Order, ID) chunk published per stream slot
// and rejects anything older, implementing the §5 "older stream never
// overwrites a newer one" rule without requiring a global lock per chunk.
type LiveGate struct {
	bestOrder int
	bestID    string
	started   bool
}

// Admit reports whether chunk is at least as new as the last admitted one,
// and records it as the new high-water mark if so.
func (g *LiveGate) Admit(order int, id string) bool {
	if !g.started {
		g.started = true
		g.bestOrder, g.bestID = order, id
		return true
	}
	if order < g.bestOrder || (order == g.bestOrder && id < g.bestID) {
		return false
	}
	g.bestOrder, g.bestID = order, id
	return true
}
