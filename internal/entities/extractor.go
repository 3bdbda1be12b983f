// Package entities extracts named entities from document text through the
// generative model, degrading to an empty result on any failure so that
// ingestion never blocks on extraction.
package entities

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

const extractionTimeout = 20 * time.Second

// MinTextLength gates extraction: the pipeline only calls Extract when the
// aggregated text (body plus caption) is longer than this, avoiding
// low-signal model calls.
const MinTextLength = 50

// Entities is the structured extraction result.
type Entities struct {
	People   []string `json:"people"`
	Orgs     []string `json:"orgs"`
	Projects []string `json:"projects"`
	Tags     []string `json:"tags"`
}

// IsEmpty reports whether no entity of any kind was extracted.
func (e Entities) IsEmpty() bool {
	return len(e.People) == 0 && len(e.Orgs) == 0 && len(e.Projects) == 0 && len(e.Tags) == 0
}

// JSONChatter is the model call used for extraction.
type JSONChatter interface {
	ChatJSON(ctx context.Context, prompt string) (string, error)
}

// Extractor asks the generative model for strict-JSON entity extraction.
type Extractor struct {
	chat JSONChatter
}

// NewExtractor creates an Extractor using the given chat client.
func NewExtractor(chat JSONChatter) *Extractor {
	return &Extractor{chat: chat}
}

// Extract returns the entities mentioned in text. On any transport or parse
// failure it returns the empty set, never an error, so callers can't be
// derailed by a misbehaving model.
func (e *Extractor) Extract(ctx context.Context, text string) Entities {
	if text == "" {
		return Entities{}
	}

	ctx, cancel := context.WithTimeout(ctx, extractionTimeout)
	defer cancel()

	prompt := `Extract named entities (people, organizations, projects, tags) ONLY.
Return STRICT JSON with NO explanation, NO markdown, NO extra text.

Format:
{"people":[],"orgs":[],"projects":[],"tags":[]}

Text:
` + text

	raw, err := e.chat.ChatJSON(ctx, prompt)
	if err != nil {
		slog.Warn("entity extraction chat failed", "error", err)
		return Entities{}
	}

	ents, ok := parseEntities(raw)
	if !ok {
		slog.Warn("failed to parse entities from model response", "response", raw)
		return Entities{}
	}
	return ents
}

// parseEntities pulls the first balanced {…} substring out of raw and
// unmarshals it. Models wrap JSON in prose or code fences often enough that
// trusting the strict-JSON instruction alone is not safe.
func parseEntities(raw string) (Entities, bool) {
	obj, ok := firstJSONObject(raw)
	if !ok {
		return Entities{}, false
	}
	var ents Entities
	if err := json.Unmarshal([]byte(obj), &ents); err != nil {
		return Entities{}, false
	}
	return ents, true
}

// firstJSONObject returns the first balanced top-level JSON object in s.
// Brace depth is tracked outside string literals so braces inside values
// don't terminate the scan early.
func firstJSONObject(s string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if start != -1 {
				inString = true
			}
		case '{':
			if start == -1 {
				start = i
			}
			depth++
		case '}':
			if start != -1 {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}
	return "", false
}
