package translate

import (
	"encoding/json"
	"fmt"
	"strings"
)

// translatedItem is one element of the batch LLM's JSON array response.
type translatedItem struct {
	ID            string `json:"id"`
	CleanedSource string `json:"cleaned_source"`
	Translation   string `json:"translation"`
}

// parseBatchResponse implements §4.8 step 5's robust parse: accept raw
// JSON, fenced code blocks, and salvage the outermost "[...]" or "{...}"
// when the model wraps the array in prose. Returns a map keyed by id.
func parseBatchResponse(raw string) (map[string]translatedItem, error) {
	candidate := extractJSONCandidate(raw)
	if candidate == "" {
		return nil, fmt.Errorf("translate: no JSON payload found in response")
	}

	var items []translatedItem
	if err := json.Unmarshal([]byte(candidate), &items); err == nil {
		return indexByID(items), nil
	}

	// Some providers wrap the array under a top-level object, e.g.
	// {"items": [...]} or {"translations": [...]}.
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &wrapper); err == nil {
		for _, value := range wrapper {
			var inner []translatedItem
			if err := json.Unmarshal(value, &inner); err == nil {
				return indexByID(inner), nil
			}
		}
	}

	return nil, fmt.Errorf("translate: could not parse JSON array from response")
}

func indexByID(items []translatedItem) map[string]translatedItem {
	out := make(map[string]translatedItem, len(items))
	for _, item := range items {
		out[item.ID] = item
	}
	return out
}

// extractJSONCandidate strips markdown code fences if present, then falls
// back to salvaging the outermost "[...]" or "{...}" span.
func extractJSONCandidate(raw string) string {
	trimmed := strings.TrimSpace(raw)

	if fenced := stripFence(trimmed); fenced != "" {
		trimmed = fenced
	}

	trimmed = strings.TrimSpace(trimmed)
	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
		return trimmed
	}

	if span := outermostSpan(trimmed, '[', ']'); span != "" {
		return span
	}
	if span := outermostSpan(trimmed, '{', '}'); span != "" {
		return span
	}
	return ""
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return ""
	}
	lines := strings.SplitN(s, "\n", 2)
	if len(lines) < 2 {
		return ""
	}
	rest := lines[1]
	if idx := strings.LastIndex(rest, "```"); idx >= 0 {
		return rest[:idx]
	}
	return rest
}

func outermostSpan(s string, open, close byte) string {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return ""
	}
	end := strings.LastIndexByte(s, close)
	if end < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
