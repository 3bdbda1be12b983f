// Package chunker splits extracted document text into overlapping
// word-windows, the unit of embedding and retrieval.
package chunker

import "strings"

// DefaultWindowWords is the window size used by the ingestion pipeline.
const DefaultWindowWords = 400

// minChunkChars filters near-empty trailing fragments: any window whose
// trimmed text is this short carries no retrievable signal.
const minChunkChars = 20

// Split breaks text into sliding windows of windowWords words with 15%
// overlap (step = windowWords − floor(0.15·windowWords)). Windows whose
// trimmed length is ≤ 20 characters are dropped. Empty or whitespace-only
// input yields nil. Split is pure and deterministic.
func Split(text string, windowWords int) []string {
	if windowWords <= 0 {
		windowWords = DefaultWindowWords
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	step := windowWords - int(float64(windowWords)*0.15)
	if step <= 0 {
		step = 1
	}

	var chunks []string
	for i := 0; i < len(words); i += step {
		end := i + windowWords
		if end > len(words) {
			end = len(words)
		}
		chunk := strings.Join(words[i:end], " ")
		if len(strings.TrimSpace(chunk)) > minChunkChars {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}
