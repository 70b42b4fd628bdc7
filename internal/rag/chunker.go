package rag

import "strings"

const defaultSoftWindow = 120

var chunkBoundaries = map[rune]struct{}{
	'\n': {}, '。': {}, '！': {}, '？': {}, '.': {}, '!': {}, '?': {}, ';': {}, '；': {}, '、': {}, '，': {}, ',': {},
}

// chunkText splits text into rune-counted windows of chunkSize with overlap
// carried forward, snapping each boundary back to the nearest sentence/line
// break within defaultSoftWindow runes so chunks don't split mid-sentence.
func chunkText(text string, chunkSize, overlap int) []string {
	if chunkSize <= 0 {
		return nil
	}

	chars := []rune(text)
	if len(chars) == 0 {
		return nil
	}

	if overlap > chunkSize-1 {
		overlap = chunkSize - 1
	}
	if overlap < 0 {
		overlap = 0
	}

	var chunks []string
	start := 0
	for start < len(chars) {
		end := start + chunkSize
		if end > len(chars) {
			end = len(chars)
		}
		if end < len(chars) {
			if best := findBoundary(chars, start, end); best > start {
				end = best
			}
		}

		if end <= start {
			end = start + chunkSize
			if end > len(chars) {
				end = len(chars)
			}
			if end <= start {
				break
			}
		}

		chunk := string(chars[start:end])
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}

		if end >= len(chars) {
			break
		}

		nextStart := end - overlap
		if nextStart <= start {
			start = end
		} else {
			start = nextStart
		}
	}

	return chunks
}

// findBoundary scans backward from end, within the last defaultSoftWindow
// runes of the window, for the nearest boundary rune to snap to.
func findBoundary(chars []rune, start, end int) int {
	windowStart := end - defaultSoftWindow
	if windowStart < start {
		windowStart = start
	}
	for idx := end - 1; idx >= windowStart; idx-- {
		if _, ok := chunkBoundaries[chars[idx]]; ok {
			return idx + 1
		}
	}
	return -1
}
