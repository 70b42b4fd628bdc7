package rag

import (
	"context"
	"math"
	"testing"
)

func TestMockEmbedderIsNormalizedAndDeterministic(t *testing.T) {
	e := NewMockEmbedder(8)
	ctx := context.Background()

	v1, err := e.EmbedQuery(ctx, "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v2, err := e.EmbedQuery(ctx, "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("expected deterministic output, got %v vs %v", v1, v2)
		}
	}

	var sumSq float64
	for _, x := range v1 {
		sumSq += float64(x) * float64(x)
	}
	if math.Abs(math.Sqrt(sumSq)-1.0) > 1e-4 {
		t.Fatalf("expected unit norm, got %f", math.Sqrt(sumSq))
	}
}

func TestMockEmbedderDocumentsVsQueryDiffer(t *testing.T) {
	e := NewMockEmbedder(8)
	ctx := context.Background()

	docs, err := e.EmbedDocuments(ctx, []string{"hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	query, err := e.EmbedQuery(ctx, "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	same := true
	for i := range docs[0] {
		if docs[0][i] != query[i] {
			same = false
		}
	}
	if same {
		t.Fatal("expected passage: and query: prefixes to yield different embeddings")
	}
}
