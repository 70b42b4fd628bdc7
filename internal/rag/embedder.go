package rag

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Embedder turns text into a fixed-dimension vector. Documents and queries
// are embedded separately per the E5 family's asymmetric prefix convention
// ("passage: " / "query: "), grounded on rag/embedder.rs's Embedder trait.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// normalizeEmbedding L2-normalizes v in place using gonum, matching
// embedder.rs's normalize_embedding (no-op on a zero vector).
func normalizeEmbedding(v []float32) {
	v64 := make([]float64, len(v))
	for i, x := range v {
		v64[i] = float64(x)
	}
	norm := floats.Norm(v64, 2)
	if norm == 0 {
		return
	}
	for i := range v {
		v[i] = float32(v64[i] / norm)
	}
}

// cosineSimilarity assumes both vectors are already L2-normalized, so it
// reduces to a dot product.
func cosineSimilarity(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	a64 := make([]float64, n)
	b64 := make([]float64, n)
	for i := 0; i < n; i++ {
		a64[i] = float64(a[i])
		b64[i] = float64(b[i])
	}
	return float32(floats.Dot(a64, b64))
}

// documentPrefix and queryPrefix implement the E5 asymmetric convention: a
// document chunk is embedded as "passage: <text>" and a search string as
// "query: <text>", so the two embedding spaces are comparable.
func documentPrefix(text string) string { return "passage: " + text }
func queryPrefix(text string) string    { return "query: " + text }

// MockEmbedder is a deterministic, dependency-free fallback used when no
// real embedding backend is configured. It produces stable, normalized
// pseudo-random vectors from an FNV-1a seed and an xorshift64 stream, the
// same construction as embedder.rs's fake_embedding, so index contents stay
// reproducible across runs without a model.
type MockEmbedder struct {
	dimension int
}

func NewMockEmbedder(dimension int) *MockEmbedder {
	if dimension <= 0 {
		dimension = 384
	}
	return &MockEmbedder{dimension: dimension}
}

func (m *MockEmbedder) Dimension() int { return m.dimension }

func (m *MockEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = fakeEmbedding(documentPrefix(t), m.dimension)
	}
	return out, nil
}

func (m *MockEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return fakeEmbedding(queryPrefix(text), m.dimension), nil
}

func fakeEmbedding(text string, dimension int) []float32 {
	var seed uint64 = 1469598103934665603 // FNV-1a offset basis
	for _, b := range []byte(text) {
		seed ^= uint64(b)
		seed *= 1099511628211 // FNV-1a prime
	}

	out := make([]float32, dimension)
	value := seed
	for i := 0; i < dimension; i++ {
		value ^= value >> 12
		value ^= value << 25
		value ^= value >> 27
		out[i] = float32(value) / float32(math.MaxUint64)
	}
	normalizeEmbedding(out)
	return out
}
