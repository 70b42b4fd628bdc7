package rag

import (
	"strings"
	"testing"
)

func TestChunkerRespectsSize(t *testing.T) {
	text := strings.Repeat("a", 2500)
	chunks := chunkText(text, 1000, 150)
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	if len([]rune(chunks[0])) > 1000 {
		t.Fatalf("first chunk exceeds chunk size: %d runes", len([]rune(chunks[0])))
	}
}

func TestChunkerUsesBoundaries(t *testing.T) {
	text := "第一句。\n第二句。\n第三句。"
	chunks := chunkText(text, 6, 0)
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}
}

func TestChunkerEmptyInput(t *testing.T) {
	if chunks := chunkText("", 100, 10); chunks != nil {
		t.Fatalf("expected nil for empty text, got %v", chunks)
	}
	if chunks := chunkText("hello", 0, 0); chunks != nil {
		t.Fatalf("expected nil for zero chunk size, got %v", chunks)
	}
}
