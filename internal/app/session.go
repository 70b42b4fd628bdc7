// Package app wires every internal/* component into Session, the single
// implementation of control.Session that both transports (gRPC-over-JSON
// and WebSocket) dispatch onto. Grounded on the teacher's top-level
// wiring in the old root main.go (one manager per concern, constructed
// once and shared), restructured around the spec's command/event surface
// instead of a REST handler tree.
package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"aimeeting/internal/asrclient"
	"aimeeting/internal/audioio"
	"aimeeting/internal/capture"
	"aimeeting/internal/config"
	"aimeeting/internal/control"
	"aimeeting/internal/diarize"
	"aimeeting/internal/models"
	"aimeeting/internal/rag"
	"aimeeting/internal/rolling"
	"aimeeting/internal/segment"
	"aimeeting/internal/transcribe"
	"aimeeting/internal/translate"
	"aimeeting/internal/voicegate"
	"aimeeting/internal/whisperserver"
)

// Capture tuning defaults. Not exposed through ai-interview.config (unlike
// the asr/speaker/translate sections); these are the same kind of
// empirically-tuned constants voicegate and diarize already carry.
const (
	defaultSilenceThresholdDb = -40.0
	defaultMinSegmentMs       = 500
	defaultMinSilenceMs       = 700
	defaultMaxSegmentMs       = 30_000
	defaultMinTranscribeMs    = 400
	defaultPreRollMs          = 300
	defaultRollingWindowMs    = 6_000
	defaultRollingStepMs      = 2_000
	defaultRollingMinMs       = 2_000

	translateBatchSize  = 4
	ragEmbeddingDim     = 384
	whisperServerReqTTL = 60 * time.Second
)

var _ control.Session = (*Session)(nil)

// Session owns every long-lived worker for one running process: capture is
// started/stopped per StartLoopbackCapture/StopLoopbackCapture, while the
// transcription, translation, and rolling-window workers run for the life
// of the process, the way the teacher's manager goroutines outlive any one
// recording session.
type Session struct {
	cfg     *config.AppConfig
	runtime *config.Runtime

	segIndex *segment.Index
	modelMgr *models.Manager

	asrState  *asrclient.State
	asrClient *asrclient.Client

	whisperSupervisor *whisperserver.Supervisor
	diarizer          *diarize.Diarizer

	transcribeWorker *transcribe.Worker
	translateQueue   *translate.Queue
	translateWorker  *translate.Worker
	rollingWorker    *rolling.Worker

	bus *control.Bus

	transcriptionGen uint64 // atomic, bumped by clearTaskQueues
	translationGen   uint64 // atomic, bumped by clearTaskQueues

	mu          sync.Mutex
	captureLoop *captureLoop
	loopback    *audioio.LoopbackSource
	capturing   bool

	liveMu    sync.Mutex
	liveGates map[string]*translate.LiveGate

	ragStore    rag.Store
	ragProjects *rag.ProjectRegistry
	ragEmbedder rag.Embedder
	ragIndexer  *rag.Indexer
}

// captureLoop is a narrow alias kept so this file reads top-to-bottom
// without repeating the package-qualified name at every call site.
type captureLoop = capture.Loop

// NewSession builds every component from cfg/runtime and starts the
// long-lived workers. Capture itself is not started; call
// StartLoopbackCapture once a client asks for it.
func NewSession(cfg *config.AppConfig, rt *config.Runtime, bus *control.Bus) (*Session, error) {
	if err := os.MkdirAll(rt.SegmentDir, 0755); err != nil {
		return nil, fmt.Errorf("create segment dir: %w", err)
	}
	if err := os.MkdirAll(rt.RAGDir, 0755); err != nil {
		return nil, fmt.Errorf("create rag dir: %w", err)
	}

	modelMgr, err := models.NewManager(filepath.Join(rt.DataDir, "models"))
	if err != nil {
		return nil, fmt.Errorf("init model manager: %w", err)
	}

	s := &Session{
		cfg:       cfg,
		runtime:   rt,
		segIndex:  segment.NewIndex(rt.SegmentDir),
		modelMgr:  modelMgr,
		bus:       bus,
		liveGates: make(map[string]*translate.LiveGate),
	}
	s.whisperSupervisor = whisperserver.New()

	s.asrState = asrclient.NewState(s.effectiveAsrProvider(), s.effectiveAsrFallback(), s.effectiveAsrLanguage())
	s.asrClient = &asrclient.Client{
		State:                   s.asrState,
		OpenAI:                  s.effectiveOpenAITranscribeConfig(),
		WhisperServer:           s.effectiveWhisperServerConfig(),
		ResolveWhisperServerURL: s.ensureWhisperServer,
	}

	if s.speakerEnabled() {
		diarizeCfg, err := s.buildDiarizeConfig()
		if err != nil {
			return nil, fmt.Errorf("resolve speaker model: %w", err)
		}
		diarizer, err := diarize.NewDiarizer(diarizeCfg)
		if err != nil {
			return nil, fmt.Errorf("init diarizer: %w", err)
		}
		s.diarizer = diarizer
	}

	ragStore, err := rag.NewDiskStore(rt.RAGDir)
	if err != nil {
		return nil, fmt.Errorf("init rag store: %w", err)
	}
	s.ragStore = ragStore
	s.ragProjects = rag.NewProjectRegistry(rt.RAGDir)
	s.ragEmbedder = s.buildEmbedder(context.Background())
	s.ragIndexer = rag.NewIndexer(s.ragStore, s.ragEmbedder, s.ragProjects)

	s.translateQueue = translate.NewQueue()
	s.transcribeWorker = transcribe.NewWorker(s.segIndex, rt.SegmentDir, s.asrClient, &s.transcriptionGen, s.onTranscribed, s.onPendingTranslation)
	s.translateWorker = translate.NewWorker(s.translateQueue, s.segIndex, asrclient.TranslateClient{}, s.resolveTranslateConfig, &s.translationGen, translateBatchSize, s.onTranslated)
	s.rollingWorker = rolling.New(s.diarizer, s.asrClient, rt.DataDir, s.onWindowTranscribed)

	go s.transcribeWorker.Run()
	go s.translateWorker.Run()
	go s.rollingWorker.Run()

	return s, nil
}

// Close stops capture (if running) and every long-lived worker. Intended
// for the top-level shutdown path in cmd/aimeeting.
func (s *Session) Close() {
	s.mu.Lock()
	loop := s.captureLoop
	lb := s.loopback
	s.captureLoop = nil
	s.loopback = nil
	s.capturing = false
	s.mu.Unlock()

	if loop != nil {
		loop.Stop()
	}
	if lb != nil {
		lb.Close()
	}

	s.transcribeWorker.Stop()
	s.translateWorker.Stop()
	s.rollingWorker.Stop()
	s.whisperSupervisor.Stop()
	if s.diarizer != nil {
		s.diarizer.Close()
	}
	if closer, ok := s.ragEmbedder.(interface{ Close() }); ok {
		closer.Close()
	}
}

// --- capture lifecycle -----------------------------------------------------

type loopbackSource struct{ lb *audioio.LoopbackSource }

func (l loopbackSource) Read() ([]float32, int, int) {
	b := l.lb.Read()
	return b.Samples, b.SampleRate, b.Channels
}

func (s *Session) StartLoopbackCapture(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capturing {
		return fmt.Errorf("capture: already running")
	}

	lb, err := audioio.Open()
	if err != nil {
		return fmt.Errorf("open loopback capture: %w", err)
	}

	vadCfg, err := s.buildVoicegateConfig(ctx)
	if err != nil {
		lb.Close()
		return err
	}
	vadEnabled := vadCfg.VadEnabled
	vadCheck := func(checkCtx context.Context, path string, durationMs int64) (bool, error) {
		return voicegate.ShouldKeep(checkCtx, path, durationMs, vadCfg)
	}

	params := capture.Params{
		SilenceThresholdDb: defaultSilenceThresholdDb,
		MinSegmentMs:       defaultMinSegmentMs,
		MinSilenceMs:       defaultMinSilenceMs,
		MaxSegmentMs:       defaultMaxSegmentMs,
		MinTranscribeMs:    defaultMinTranscribeMs,
		PreRollMs:          defaultPreRollMs,
		RollingWindowMs:    defaultRollingWindowMs,
		RollingStepMs:      defaultRollingStepMs,
		RollingMinMs:       defaultRollingMinMs,
	}

	loop := capture.New(loopbackSource{lb}, s.segIndex, s.runtime.SegmentDir, params, s.rollingWorker, vadEnabled, vadCheck, s.onSegmentCreated)

	s.loopback = lb
	s.captureLoop = loop
	s.capturing = true
	go loop.Run()
	return nil
}

func (s *Session) StopLoopbackCapture(ctx context.Context, dropTranslations bool) error {
	s.mu.Lock()
	loop := s.captureLoop
	lb := s.loopback
	s.captureLoop = nil
	s.loopback = nil
	s.capturing = false
	s.mu.Unlock()

	if loop == nil {
		return fmt.Errorf("capture: not running")
	}
	loop.Stop()
	if lb != nil {
		lb.Close()
	}

	if dropTranslations {
		s.clearTaskQueues()
	}
	return nil
}

func (s *Session) clearTaskQueues() {
	atomic.AddUint64(&s.transcriptionGen, 1)
	atomic.AddUint64(&s.translationGen, 1)
	s.translateQueue.Clear()
	s.bus.Publish(control.Event{Type: control.EventSegmentTranslationCanceled})
}

// --- worker callbacks -------------------------------------------------------

func (s *Session) onSegmentCreated(rec segment.Record) {
	s.bus.Publish(control.Event{Type: control.EventSegmentCreated, Segment: &rec})
	s.transcribeWorker.Enqueue(rec.Name)
}

func (s *Session) onTranscribed(rec segment.Record) {
	s.bus.Publish(control.Event{Type: control.EventSegmentTranscribed, Segment: &rec})
}

func (s *Session) onPendingTranslation(name string) {
	if !s.translateEnabled() {
		return
	}
	_, order, ok := s.segIndex.Get(name)
	if !ok {
		return
	}
	s.translateQueue.Enqueue(translate.Request{
		Name:       name,
		Provider:   s.effectiveTranslateProvider(),
		Order:      order,
		Generation: atomic.LoadUint64(&s.translationGen),
	})
}

func (s *Session) onTranslated(rec segment.Record) {
	s.bus.Publish(control.Event{Type: control.EventSegmentTranslated, Segment: &rec})
}

func (s *Session) onWindowTranscribed(evt rolling.Event) {
	s.bus.Publish(control.Event{
		Type: control.EventWindowTranscribed,
		Window: &control.WindowTranscribedPayload{
			Text:              evt.Text,
			WindowMs:          evt.WindowMs,
			ElapsedMs:         evt.ElapsedMs,
			CreatedAt:         evt.CreatedAt.Format(time.RFC3339Nano),
			SpeakerID:         evt.SpeakerID,
			SpeakerSimilarity: evt.SpeakerSimilarity,
			SpeakerMixed:      evt.SpeakerMixed,
		},
	})
}

// --- control.Session: segments/translation ---------------------------------

func (s *Session) IsTranslationBusy(ctx context.Context) (bool, error) {
	return s.translateWorker.IsBusy(), nil
}

func (s *Session) ListSegments(ctx context.Context) ([]segment.Record, error) {
	return s.segIndex.List()
}

func (s *Session) ReadSegmentBytes(ctx context.Context, name string) ([]byte, error) {
	if strings.ContainsAny(name, "/\\") {
		return nil, fmt.Errorf("invalid argument: segment name must not contain path separators")
	}
	return os.ReadFile(filepath.Join(s.runtime.SegmentDir, name))
}

func (s *Session) ClearSegments(ctx context.Context) error {
	return s.segIndex.Clear()
}

func (s *Session) TranslateSegment(ctx context.Context, name, provider string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("invalid argument: segment name is empty")
	}
	_, order, ok := s.segIndex.Get(name)
	if !ok {
		return fmt.Errorf("segment not found: %s", name)
	}
	if provider == "" {
		provider = s.effectiveTranslateProvider()
	}
	s.translateQueue.Enqueue(translate.Request{
		Name:       name,
		Provider:   provider,
		Order:      order,
		Generation: atomic.LoadUint64(&s.translationGen),
	})
	return nil
}

// TranslateLive streams one ad-hoc translation (not tied to a captured
// segment) to the observer bus. name keys the §5 monotonic-dedup gate when
// the caller has one (e.g. a live-caption line id); an anonymous caller
// gets a fresh id so concurrent calls never collide on the same gate.
func (s *Session) TranslateLive(ctx context.Context, text, provider, name string, order int) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("invalid argument: text is empty")
	}

	id := name
	if id == "" {
		id = uuid.NewString()
	}
	cfg := s.resolveTranslateConfig(provider)

	s.liveMu.Lock()
	gate, ok := s.liveGates[id]
	if !ok {
		gate = &translate.LiveGate{}
		s.liveGates[id] = gate
	}
	s.liveMu.Unlock()

	s.bus.Publish(control.Event{
		Type:            control.EventLiveTranslationStart,
		LiveTranslation: &control.LiveTranslationPayload{ID: id, Order: order},
	})

	go func() {
		err := translate.RunLive(context.Background(), asrclient.TranslateClient{}, cfg, text, id, order, func(chunk translate.LiveChunk) {
			if !gate.Admit(chunk.Order, chunk.ID) {
				return
			}
			if chunk.Done {
				s.bus.Publish(control.Event{
					Type:            control.EventLiveTranslationDone,
					LiveTranslation: &control.LiveTranslationPayload{ID: id, Order: chunk.Order},
				})
				return
			}
			if chunk.Text == "" {
				return
			}
			s.bus.Publish(control.Event{
				Type:            control.EventLiveTranslationChunk,
				LiveTranslation: &control.LiveTranslationPayload{ID: id, Order: chunk.Order, Text: chunk.Text},
			})
		})
		if err != nil {
			s.bus.Publish(control.Event{
				Type:            control.EventLiveTranslationError,
				LiveTranslation: &control.LiveTranslationPayload{ID: id, Order: order, Error: err.Error()},
			})
		}
	}()
	return nil
}

// --- control.Session: RAG ----------------------------------------------------

func (s *Session) RagProjectList(ctx context.Context) ([]rag.Project, error) {
	return s.ragProjects.List(), nil
}

func (s *Session) RagProjectCreate(ctx context.Context, name, rootDir string) (rag.Project, error) {
	return s.ragProjects.Create(name, rootDir)
}

func (s *Session) RagProjectDelete(ctx context.Context, projectID string) (bool, error) {
	if files, err := s.ragStore.ListFiles(ctx, projectID); err == nil && len(files) > 0 {
		ids := make([]string, 0, len(files))
		for _, f := range files {
			ids = append(ids, f.FileID)
		}
		if _, err := s.ragIndexer.RemoveFiles(ctx, projectID, nil, ids); err != nil {
			return false, fmt.Errorf("rag: remove project files: %w", err)
		}
	}
	return s.ragProjects.Remove(projectID)
}

func (s *Session) RagIndexAddFiles(ctx context.Context, projectID string, filePaths []string) (rag.IndexReport, error) {
	return s.ragIndexer.AddFiles(ctx, projectID, filePaths)
}

func (s *Session) RagIndexSyncProject(ctx context.Context, projectID, rootOverride string) (rag.IndexReport, error) {
	return s.ragIndexer.SyncProject(ctx, projectID, rootOverride)
}

func (s *Session) RagIndexRemoveFiles(ctx context.Context, projectID string, filePaths, fileIDs []string) (rag.IndexReport, error) {
	return s.ragIndexer.RemoveFiles(ctx, projectID, filePaths, fileIDs)
}

func (s *Session) RagSearch(ctx context.Context, query string, projectIDs []string, topK int) ([]rag.ChunkHit, error) {
	return s.ragIndexer.Search(ctx, query, projectIDs, topK)
}

func (s *Session) RagAskWithProvider(ctx context.Context, query string, projectIDs []string, topK int, provider string, allowOutOfContext bool) (rag.Answer, error) {
	cfg := s.resolveTranslateConfig(provider)
	return s.ragIndexer.Ask(ctx, asrclient.TranslateClient{}, cfg, query, projectIDs, topK, allowOutOfContext)
}

// --- config resolution helpers ----------------------------------------------

func (s *Session) translateEnabled() bool {
	return s.cfg.Translate != nil && s.cfg.Translate.Enabled != nil && *s.cfg.Translate.Enabled
}

func (s *Session) effectiveTranslateProvider() string {
	if s.cfg.Translate != nil && s.cfg.Translate.Provider != "" {
		return s.cfg.Translate.Provider
	}
	return "ollama"
}

func (s *Session) effectiveTargetLanguage() string {
	if s.cfg.Translate != nil {
		return s.cfg.Translate.TargetLanguage
	}
	return ""
}

func (s *Session) resolveTranslateConfig(provider string) asrclient.TranslateConfig {
	if provider == "" {
		provider = s.effectiveTranslateProvider()
	}
	cfg := asrclient.TranslateConfig{Provider: provider, TargetLanguage: s.effectiveTargetLanguage()}

	switch strings.ToLower(provider) {
	case "openai", "chatgpt":
		cfg.OpenAIAPIKey = s.cfg.OpenAI.APIKey
		cfg.OpenAIModel = s.cfg.OpenAI.ChatModel
		cfg.OpenAIBaseURL = s.cfg.OpenAI.ChatBaseURL
		if s.cfg.OpenAI.ChatTimeoutSecs != nil {
			cfg.OpenAITimeout = time.Duration(*s.cfg.OpenAI.ChatTimeoutSecs) * time.Second
		}
	default:
		if s.cfg.Ollama != nil {
			cfg.OllamaModel = s.cfg.Ollama.Model
			cfg.OllamaBaseURL = s.cfg.Ollama.BaseURL
			if s.cfg.Ollama.TimeoutSecs != nil {
				cfg.OllamaTimeout = time.Duration(*s.cfg.Ollama.TimeoutSecs) * time.Second
			}
		}
	}
	return cfg
}

func (s *Session) effectiveAsrProvider() string {
	if s.cfg.Asr != nil && s.cfg.Asr.Provider != "" {
		return s.cfg.Asr.Provider
	}
	return "openai"
}

func (s *Session) effectiveAsrFallback() bool {
	return s.cfg.Asr != nil && s.cfg.Asr.FallbackToOpenAI != nil && *s.cfg.Asr.FallbackToOpenAI
}

func (s *Session) effectiveAsrLanguage() string {
	if s.cfg.Asr != nil {
		return s.cfg.Asr.Language
	}
	return ""
}

func (s *Session) effectiveOpenAITranscribeConfig() asrclient.OpenAIConfig {
	oc := asrclient.OpenAIConfig{
		APIKey:         s.cfg.OpenAI.APIKey,
		Model:          s.cfg.OpenAI.Model,
		BaseURL:        s.cfg.OpenAI.BaseURL,
		ResponseFormat: s.cfg.OpenAI.ResponseFormat,
		Language:       s.cfg.OpenAI.Language,
	}
	if s.cfg.OpenAI.TimeoutSecs != nil {
		oc.Timeout = time.Duration(*s.cfg.OpenAI.TimeoutSecs) * time.Second
	}
	return oc
}

func (s *Session) effectiveWhisperServerConfig() asrclient.WhisperServerConfig {
	if s.cfg.Asr == nil {
		return asrclient.WhisperServerConfig{}
	}
	wc := asrclient.WhisperServerConfig{URL: s.cfg.Asr.WhisperServerURL, Language: s.effectiveAsrLanguage()}
	if s.cfg.Asr.WhisperServerTimeout != nil {
		wc.Timeout = time.Duration(*s.cfg.Asr.WhisperServerTimeout) * time.Second
	}
	return wc
}

func (s *Session) speakerEnabled() bool {
	return s.cfg.Speaker != nil && s.cfg.Speaker.Enabled != nil && *s.cfg.Speaker.Enabled
}

func (s *Session) buildDiarizeConfig() (diarize.Config, error) {
	sc := s.cfg.Speaker
	modelPath, err := s.resolveModelPath(context.Background(), sc.ModelPath, models.KindSpeaker)
	if err != nil {
		return diarize.Config{}, err
	}

	cfg := diarize.Config{ModelPath: modelPath}
	if sc.NewThreshold != nil {
		cfg.NewThreshold = *sc.NewThreshold
	}
	if sc.UpdateThreshold != nil {
		cfg.UpdateThreshold = *sc.UpdateThreshold
	}
	if sc.UpdateAlpha != nil {
		cfg.UpdateAlpha = *sc.UpdateAlpha
	}
	if sc.MaxSpeakers != nil {
		cfg.MaxSpeakers = *sc.MaxSpeakers
	}
	if sc.WindowMs != nil {
		cfg.WindowMs = *sc.WindowMs
	}
	if sc.StepMs != nil {
		cfg.StepMs = *sc.StepMs
	}
	if sc.MinRmsDb != nil {
		cfg.MinRMSDb = *sc.MinRmsDb
	}
	if sc.SwitchWindowMs != nil {
		cfg.SwitchWindowMs = *sc.SwitchWindowMs
	}
	if sc.SwitchHopMs != nil {
		cfg.SwitchHopMs = *sc.SwitchHopMs
	}
	if sc.SwitchThreshold != nil {
		cfg.SwitchThreshold = *sc.SwitchThreshold
	}
	if sc.ConsecutiveHits != nil {
		cfg.ConsecutiveHits = *sc.ConsecutiveHits
	}
	if sc.MinGapMs != nil {
		cfg.MinGapMs = *sc.MinGapMs
	}
	return cfg, nil
}

// buildEmbedder wires the real ONNX Multilingual-E5 embedder when a model
// and vocabulary are configured/resolvable, falling back to MockEmbedder
// (the rag/embedder.rs degraded-mode path) otherwise — e.g. in a dev
// environment without the onnx export downloaded.
func (s *Session) buildEmbedder(ctx context.Context) rag.Embedder {
	if s.cfg.Rag == nil || s.cfg.Rag.EmbedderModelPath == "" || s.cfg.Rag.EmbedderVocabPath == "" {
		log.Printf("rag: no embedder model configured, using mock embedder")
		return rag.NewMockEmbedder(ragEmbeddingDim)
	}

	modelPath, err := s.resolveModelPath(ctx, s.cfg.Rag.EmbedderModelPath, models.KindEmbedding)
	if err != nil {
		log.Printf("rag: resolve embedder model failed (%v), using mock embedder", err)
		return rag.NewMockEmbedder(ragEmbeddingDim)
	}
	vocabPath, err := s.resolveModelPath(ctx, s.cfg.Rag.EmbedderVocabPath, models.KindEmbedding)
	if err != nil {
		log.Printf("rag: resolve embedder vocab failed (%v), using mock embedder", err)
		return rag.NewMockEmbedder(ragEmbeddingDim)
	}

	embedder, err := rag.NewE5Embedder(modelPath, vocabPath)
	if err != nil {
		log.Printf("rag: init e5 embedder failed (%v), using mock embedder", err)
		return rag.NewMockEmbedder(ragEmbeddingDim)
	}
	return embedder
}

func (s *Session) buildVoicegateConfig(ctx context.Context) (voicegate.Config, error) {
	cfg := voicegate.Config{SilenceThresholdDb: defaultSilenceThresholdDb}
	if s.cfg.Asr == nil {
		return cfg, nil
	}

	cfg.VadEnabled = s.cfg.Asr.VadEnabled != nil && *s.cfg.Asr.VadEnabled
	cfg.VadBinary = s.cfg.Asr.VadBinary
	if s.cfg.Asr.MinSpeechMs != nil {
		cfg.MinSpeechMs = *s.cfg.Asr.MinSpeechMs
	}
	if s.cfg.Asr.MinSpeechRatio != nil {
		cfg.MinSpeechRatio = *s.cfg.Asr.MinSpeechRatio
	}

	if cfg.VadEnabled && s.cfg.Asr.VadModelPath != "" {
		resolved, err := s.resolveModelPath(ctx, s.cfg.Asr.VadModelPath, models.KindVAD)
		if err != nil {
			return voicegate.Config{}, fmt.Errorf("resolve vad model: %w", err)
		}
		cfg.VadModelPath = resolved
	}
	return cfg, nil
}

// resolveModelPath treats configured as a models.Registry id when it
// matches one (downloading it on demand via modelMgr), and as a literal
// on-disk path otherwise — so ai-interview.config can name either a model
// id ("ggml-base") or a path to an already-downloaded file.
func (s *Session) resolveModelPath(ctx context.Context, configured string, kind models.Kind) (string, error) {
	if configured == "" {
		return "", fmt.Errorf("model path not configured")
	}
	if info, ok := models.ByID(configured); ok && info.Kind == kind {
		return s.modelMgr.EnsureDownloaded(ctx, configured, nil)
	}
	return configured, nil
}

func (s *Session) ensureWhisperServer(ctx context.Context) (string, error) {
	if s.cfg.Asr == nil || s.cfg.Asr.ModelPath == "" {
		return "", fmt.Errorf("whisper-server: no model configured")
	}
	modelPath, err := s.resolveModelPath(ctx, s.cfg.Asr.ModelPath, models.KindWhisperGGML)
	if err != nil {
		return "", fmt.Errorf("resolve whisper model: %w", err)
	}

	startCtx, cancel := context.WithTimeout(ctx, whisperServerReqTTL)
	defer cancel()

	return s.whisperSupervisor.EnsureStarted(startCtx, whisperserver.Config{
		GPUBinary:        s.cfg.Asr.GPUBinary,
		CPUBinary:        s.cfg.Asr.CPUBinary,
		ModelPath:        modelPath,
		DevicePreference: parseDevicePreference(s.cfg.Asr.DevicePreference),
		InferencePath:    s.cfg.Asr.InferencePath,
	})
}

func parseDevicePreference(s string) whisperserver.DevicePreference {
	switch strings.ToLower(s) {
	case "gpu":
		return whisperserver.GPU
	case "cpu":
		return whisperserver.CPU
	default:
		return whisperserver.Auto
	}
}
