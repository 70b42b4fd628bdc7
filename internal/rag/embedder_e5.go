package rag

import (
	"context"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/model/wordpiece"
	"github.com/sugarme/tokenizer/normalizer"
	"github.com/sugarme/tokenizer/pretokenizer"
)

// E5Embedder runs the Multilingual E5 Small ONNX export through
// onnxruntime_go, the same session idiom diarize.Diarizer uses for its
// speaker-embedding model. Grounded on rag/embedder.rs's FastEmbedder,
// which wraps fastembed::EmbeddingModel::MultilingualE5Small; Go has no
// fastembed binding, so tokenization is done with the WordPiece tokenizer
// the rest of the pack already depends on, and pooling/inference is done
// by hand against the exported ONNX graph.
type E5Embedder struct {
	mu        sync.Mutex
	session   *ort.DynamicAdvancedSession
	tokenizer *tokenizer.Tokenizer
	dimension int
	maxTokens int
}

const e5DefaultMaxTokens = 256

var (
	runtimeMu          sync.Mutex
	runtimeInitialized bool
)

// ensureRuntime mirrors diarize.ensureRuntime: locate the shared library via
// env var or known relative paths, then initialize the process-wide
// onnxruntime environment once. Each package that embeds an ONNX session
// owns its own copy since onnxruntime_go's environment init is a
// process-global side effect with no shared-state hook to reuse across
// packages.
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

// NewE5Embedder loads the WordPiece vocabulary and the ONNX export at
// modelPath, discovering the embedding dimension with a warm-up run over a
// single short query, mirroring FastEmbedder::new's warm-up-to-discover-dimension step.
func NewE5Embedder(modelPath, vocabPath string) (*E5Embedder, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("rag: e5 model not found: %w", err)
	}
	if _, err := os.Stat(vocabPath); err != nil {
		return nil, fmt.Errorf("rag: e5 vocab not found: %w", err)
	}
	if err := ensureRuntime(); err != nil {
		return nil, fmt.Errorf("rag: init onnxruntime: %w", err)
	}

	wp, err := wordpiece.NewWordPieceFromFile(vocabPath, "[UNK]")
	if err != nil {
		return nil, fmt.Errorf("rag: load wordpiece vocab: %w", err)
	}
	tk := tokenizer.NewTokenizer(wp)
	tk.WithNormalizer(normalizer.NewBertNormalizer(true, true, true, true))
	tk.WithPreTokenizer(pretokenizer.NewBertPreTokenizer())

	inputInfo, outputInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("rag: e5 model info: %w", err)
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
		return nil, fmt.Errorf("rag: e5 session options: %w", err)
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, options)
	if err != nil {
		return nil, fmt.Errorf("rag: e5 create session: %w", err)
	}

	e := &E5Embedder{
		session:   session,
		tokenizer: tk,
		maxTokens: e5DefaultMaxTokens,
	}

	warm, err := e.embedBatch([]string{"query: test"})
	if err != nil {
		session.Destroy()
		return nil, fmt.Errorf("rag: e5 warm-up: %w", err)
	}
	e.dimension = len(warm[0])

	return e, nil
}

func (e *E5Embedder) Dimension() int { return e.dimension }

func (e *E5Embedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	prefixed := make([]string, len(texts))
	for i, t := range texts {
		prefixed[i] = documentPrefix(t)
	}
	return e.embedBatch(prefixed)
}

func (e *E5Embedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	out, err := e.embedBatch([]string{queryPrefix(text)})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// embedBatch tokenizes texts, pads to the batch's longest encoding, runs
// one inference call, mean-pools each sequence's last_hidden_state over
// its attention mask, and L2-normalizes the result.
func (e *E5Embedder) embedBatch(texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	encodings := make([]*tokenizer.Encoding, len(texts))
	maxLen := 0
	for i, t := range texts {
		en, err := e.tokenizer.EncodeSingle(t, true)
		if err != nil {
			return nil, fmt.Errorf("rag: tokenize: %w", err)
		}
		if e.maxTokens > 0 && len(en.Ids) > e.maxTokens {
			en.Ids = en.Ids[:e.maxTokens]
			en.AttentionMask = en.AttentionMask[:e.maxTokens]
			en.TypeIds = en.TypeIds[:e.maxTokens]
		}
		encodings[i] = en
		if len(en.Ids) > maxLen {
			maxLen = len(en.Ids)
		}
	}

	batch := len(texts)
	inputIDs := make([]int64, batch*maxLen)
	attention := make([]int64, batch*maxLen)
	typeIDs := make([]int64, batch*maxLen)
	for i, en := range encodings {
		for j := 0; j < maxLen; j++ {
			idx := i*maxLen + j
			if j < len(en.Ids) {
				inputIDs[idx] = int64(en.Ids[j])
				attention[idx] = int64(en.AttentionMask[j])
				if j < len(en.TypeIds) {
					typeIDs[idx] = int64(en.TypeIds[j])
				}
			}
		}
	}

	shape := ort.NewShape(int64(batch), int64(maxLen))
	idTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("rag: input_ids tensor: %w", err)
	}
	defer idTensor.Destroy()
	maskTensor, err := ort.NewTensor(shape, attention)
	if err != nil {
		return nil, fmt.Errorf("rag: attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()
	typeTensor, err := ort.NewTensor(shape, typeIDs)
	if err != nil {
		return nil, fmt.Errorf("rag: token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{idTensor, maskTensor, typeTensor}, outputs); err != nil {
		return nil, fmt.Errorf("rag: e5 inference: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	hidden, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("rag: unexpected e5 output tensor type")
	}
	dims := hidden.GetShape()
	if len(dims) != 3 {
		return nil, fmt.Errorf("rag: unexpected e5 output rank %d", len(dims))
	}
	seqLen, hiddenSize := int(dims[1]), int(dims[2])
	data := hidden.GetData()

	out := make([][]float32, batch)
	for i := 0; i < batch; i++ {
		pooled := make([]float32, hiddenSize)
		var count float32
		for j := 0; j < seqLen && j < maxLen; j++ {
			if attention[i*maxLen+j] == 0 {
				continue
			}
			base := (i*seqLen + j) * hiddenSize
			for h := 0; h < hiddenSize; h++ {
				pooled[h] += data[base+h]
			}
			count++
		}
		if count > 0 {
			for h := range pooled {
				pooled[h] /= count
			}
		}
		normalizeEmbedding(pooled)
		out[i] = pooled
	}
	return out, nil
}

func (e *E5Embedder) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
}
