package translate

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"aimeeting/internal/asrclient"
	"aimeeting/internal/segment"
)

// BatchClient is the subset of asrclient.TranslateClient the worker needs.
type BatchClient interface {
	Send(ctx context.Context, cfg asrclient.TranslateConfig, prompt string) (string, error)
}

// ConfigResolver returns the resolved provider config for one run, keyed by
// provider name ("openai" | "ollama").
type ConfigResolver func(provider string) asrclient.TranslateConfig

// Worker serializes translation batches to preserve order across
// providers. One instance runs for the life of a session.
type Worker struct {
	queue      *Queue
	index      *segment.Index
	client     BatchClient
	resolveCfg ConfigResolver
	generation *uint64
	batchSize  int
	timeout    time.Duration

	onTranslated func(segment.Record)

	mu        sync.Mutex
	prevBatch []historyItem // previous batch's cleaned-source items, context only

	inFlight int32
	stopCh   chan struct{}
	stopOnce sync.Once
}

type historyItem struct {
	ID   string
	Text string
}

// runItem pairs a queued request with the segment's current transcript.
type runItem struct {
	req  Request
	name string
	text string
}

func NewWorker(queue *Queue, index *segment.Index, client BatchClient, resolveCfg ConfigResolver, generation *uint64, batchSize int, onTranslated func(segment.Record)) *Worker {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Worker{
		queue:        queue,
		index:        index,
		client:       client,
		resolveCfg:   resolveCfg,
		generation:   generation,
		batchSize:    batchSize,
		timeout:      120 * time.Second,
		onTranslated: onTranslated,
		stopCh:       make(chan struct{}),
	}
}

// IsBusy reports whether a batch call is currently in flight, for the
// is_translation_busy command.
func (w *Worker) IsBusy() bool {
	return atomic.LoadInt32(&w.inFlight) == 1
}

func (w *Worker) Run() {
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		batch := w.queue.DrainBatch(w.batchSize, func() uint64 { return atomic.LoadUint64(w.generation) })
		if batch == nil {
			return // queue closed
		}
		if len(batch) == 0 {
			continue
		}
		w.processBatch(batch)
	}
}

func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.queue.Close()
	})
}

func (w *Worker) processBatch(batch []Request) {
	gen := batch[0].Generation
	if gen != atomic.LoadUint64(w.generation) {
		return // generation advanced while the batch was assembling
	}

	atomic.StoreInt32(&w.inFlight, 1)
	defer atomic.StoreInt32(&w.inFlight, 0)

	for _, run := range splitByProvider(batch) {
		w.translateRun(run, gen)
	}
}

// splitByProvider partitions batch into contiguous runs of equal Provider,
// preserving order, per §4.8 step 3.
func splitByProvider(batch []Request) [][]Request {
	var runs [][]Request
	for _, req := range batch {
		if len(runs) > 0 && runs[len(runs)-1][0].Provider == req.Provider {
			runs[len(runs)-1] = append(runs[len(runs)-1], req)
			continue
		}
		runs = append(runs, []Request{req})
	}
	return runs
}

func (w *Worker) translateRun(run []Request, gen uint64) {
	items := make([]runItem, 0, len(run))
	for _, req := range run {
		rec, _, ok := w.index.Get(req.Name)
		if !ok || rec.Transcript == "" {
			continue
		}
		items = append(items, runItem{req: req, name: req.Name, text: rec.Transcript})
	}
	if len(items) == 0 {
		return
	}

	w.mu.Lock()
	history := w.prevBatch
	w.mu.Unlock()

	prompt := buildBatchPrompt(history, items)
	cfg := w.resolveCfg(run[0].Provider)

	started := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	raw, err := w.client.Send(ctx, cfg, prompt)
	cancel()
	elapsedMs := time.Since(started).Milliseconds()

	if gen != atomic.LoadUint64(w.generation) {
		return // canceled mid-flight; drop results per §5 cancellation policy
	}

	var parsed map[string]translatedItem
	if err == nil {
		parsed, err = parseBatchResponse(raw)
	}
	if err != nil {
		log.Printf("translate: batch call failed: %v", err)
	}

	// The batch call itself failed (HTTP error or unparseable response): every
	// item in this run gets an empty translation and history is cleared so a
	// later batch doesn't carry forward source text no model ever cleaned.
	if err != nil {
		for _, item := range items {
			w.index.Mutate(item.name, func(r *segment.Record) {
				r.Translation = ""
				r.TranslationAt = time.Now().Format(time.RFC3339Nano)
				r.TranslationMs = elapsedMs
			})
			if updated, _, ok := w.index.Get(item.name); ok && w.onTranslated != nil {
				w.onTranslated(updated)
			}
		}
		w.mu.Lock()
		w.prevBatch = nil
		w.mu.Unlock()
		return
	}

	nextHistory := make([]historyItem, 0, len(items))
	for _, item := range items {
		translation := ""
		cleaned := item.text
		if result, ok := parsed[item.name]; ok {
			translation = strings.TrimSpace(result.Translation)
			if strings.TrimSpace(result.CleanedSource) != "" {
				cleaned = result.CleanedSource
			}
		}

		w.index.Mutate(item.name, func(r *segment.Record) {
			r.Translation = translation
			r.TranslationAt = time.Now().Format(time.RFC3339Nano)
			r.TranslationMs = elapsedMs
		})
		if updated, _, ok := w.index.Get(item.name); ok && w.onTranslated != nil {
			w.onTranslated(updated)
		}
		nextHistory = append(nextHistory, historyItem{ID: item.name, Text: cleaned})
	}

	if len(nextHistory) > w.batchSize {
		nextHistory = nextHistory[len(nextHistory)-w.batchSize:]
	}
	w.mu.Lock()
	w.prevBatch = nextHistory
	w.mu.Unlock()
}

// promptItem is one {id, text} entry in the batch prompt's items list.
type promptItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// buildBatchPrompt assembles the §4.8 step 4 prompt: prior cleaned-source
// items as conversational context only, plus the current run's items, with
// instructions to return exactly one JSON object per item id.
func buildBatchPrompt(history []historyItem, items []runItem) string {
	var b strings.Builder
	b.WriteString("You are translating a live transcript. Context is for continuity only; ")
	b.WriteString("do not translate or return the context items. Translate only the items ")
	b.WriteString("listed under \"items\". Respond with a JSON array, one object per item, ")
	b.WriteString("each shaped as {\"id\": string, \"cleaned_source\": string, \"translation\": string}. ")
	b.WriteString("Return exactly the ids present in items, in the same order, nothing else.\n\n")

	if len(history) > 0 {
		b.WriteString("context:\n")
		for _, h := range history {
			b.WriteString("- ")
			b.WriteString(h.Text)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	promptItems := make([]promptItem, len(items))
	for i, it := range items {
		promptItems[i] = promptItem{ID: it.name, Text: it.text}
	}
	itemsJSON, _ := json.Marshal(promptItems)

	b.WriteString("items:\n")
	b.Write(itemsJSON)
	return b.String()
}
