package rag

import (
	"context"
	"fmt"
	"strings"

	"aimeeting/internal/asrclient"
)

const maxSnippetLen = 240

// LLMClient is the subset of asrclient.TranslateClient the Q&A path needs:
// one prompt in, one answer out.
type LLMClient interface {
	Send(ctx context.Context, cfg asrclient.TranslateConfig, prompt string) (string, error)
}

// Ask retrieves the top-k hits for query across projectIDs, composes a
// numbered-context prompt, and asks the LLM to answer from it. In strict
// mode (allowOutOfContext=false) the model is instructed to answer only
// from the numbered context and say so when it cannot; in the permissive
// mode it may draw on general knowledge but must mark anything not backed
// by a citation, per spec §"Q&A".
func (idx *Indexer) Ask(ctx context.Context, client LLMClient, cfg asrclient.TranslateConfig, query string, projectIDs []string, topK int, allowOutOfContext bool) (Answer, error) {
	if strings.TrimSpace(query) == "" {
		return Answer{}, fmt.Errorf("rag: query is empty")
	}

	hits, err := idx.Search(ctx, query, projectIDs, topK)
	if err != nil {
		return Answer{}, err
	}

	prompt := buildAskPrompt(query, hits, allowOutOfContext)
	text, err := client.Send(ctx, cfg, prompt)
	if err != nil {
		return Answer{}, err
	}

	references := make([]Reference, len(hits))
	for i, h := range hits {
		references[i] = Reference{
			Index:    i + 1,
			Score:    h.Score,
			FilePath: h.FilePath,
			ChunkID:  h.ChunkID,
			Snippet:  compactSnippet(h.Text),
		}
	}

	return Answer{Text: strings.TrimSpace(text), References: references}, nil
}

func buildAskPrompt(query string, hits []ChunkHit, allowOutOfContext bool) string {
	var b strings.Builder
	if allowOutOfContext {
		b.WriteString("Answer the question using the numbered context below where relevant. ")
		b.WriteString("You may use general knowledge to fill gaps, but clearly mark any claim ")
		b.WriteString("not supported by the context as not sourced from the provided material.\n\n")
	} else {
		b.WriteString("Answer the question using ONLY the numbered context below. ")
		b.WriteString("If the context does not contain the answer, say so plainly instead of guessing.\n\n")
	}

	for i, h := range hits {
		fmt.Fprintf(&b, "[%d] score=%.4f file=%s chunk=%s\n%s\n\n", i+1, h.Score, h.FilePath, h.ChunkID, h.Text)
	}

	b.WriteString("question: ")
	b.WriteString(query)
	return b.String()
}

// compactSnippet collapses runs of whitespace and truncates to
// maxSnippetLen runes with an ellipsis, per spec §"Q&A".
func compactSnippet(text string) string {
	fields := strings.Fields(text)
	compact := strings.Join(fields, " ")
	runes := []rune(compact)
	if len(runes) <= maxSnippetLen {
		return compact
	}
	return string(runes[:maxSnippetLen]) + "..."
}
