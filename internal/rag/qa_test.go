package rag

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"aimeeting/internal/asrclient"
)

type fakeLLM struct {
	lastPrompt string
	reply      string
}

func (f *fakeLLM) Send(_ context.Context, _ asrclient.TranslateConfig, prompt string) (string, error) {
	f.lastPrompt = prompt
	return f.reply, nil
}

func TestAskComposesNumberedContextAndReferences(t *testing.T) {
	idx, dir := newTestIndexer(t)
	ctx := context.Background()

	root := filepath.Join(dir, "root")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(root, "notes.txt")
	if err := os.WriteFile(file, []byte("the launch window opens at dawn"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.AddFiles(ctx, "proj_qa", []string{file}); err != nil {
		t.Fatalf("AddFiles: %v", err)
	}

	llm := &fakeLLM{reply: "the launch window opens at dawn [1]"}
	answer, err := idx.Ask(ctx, llm, asrclient.TranslateConfig{Provider: "ollama"}, "when does the launch window open", []string{"proj_qa"}, 3, false)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	if !strings.Contains(llm.lastPrompt, "[1]") {
		t.Fatalf("expected numbered context in prompt, got %q", llm.lastPrompt)
	}
	if !strings.Contains(llm.lastPrompt, "ONLY") {
		t.Fatalf("expected strict-mode instruction in prompt, got %q", llm.lastPrompt)
	}
	if len(answer.References) == 0 {
		t.Fatal("expected at least one reference")
	}
	if answer.References[0].Index != 1 {
		t.Fatalf("expected first reference index 1, got %d", answer.References[0].Index)
	}
}

func TestAskRejectsEmptyQuery(t *testing.T) {
	idx, _ := newTestIndexer(t)
	llm := &fakeLLM{reply: "ignored"}
	if _, err := idx.Ask(context.Background(), llm, asrclient.TranslateConfig{}, "  ", []string{"proj_qa"}, 3, false); err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestCompactSnippetTruncatesAndCollapsesWhitespace(t *testing.T) {
	long := strings.Repeat("word ", 100)
	snippet := compactSnippet(long)
	if len([]rune(snippet)) != maxSnippetLen+3 {
		t.Fatalf("expected truncated snippet with ellipsis, got len %d", len([]rune(snippet)))
	}
	if !strings.HasSuffix(snippet, "...") {
		t.Fatalf("expected ellipsis suffix, got %q", snippet)
	}

	messy := "a   b\tc\nd"
	if got := compactSnippet(messy); got != "a b c d" {
		t.Fatalf("expected collapsed whitespace, got %q", got)
	}
}
