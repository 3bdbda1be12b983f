// Package composer turns retrieved chunks and a question into a grounded
// prompt and asks the generative model for the answer, plain or streamed.
package composer

import (
	"context"
	"fmt"
	"strings"

	"secondbrain/internal/retrieval"
	"secondbrain/internal/storage"
)

// ChatClient is the model surface the composer needs.
type ChatClient interface {
	Chat(ctx context.Context, prompt string) (string, error)
	ChatStream(ctx context.Context, prompt string, onFragment func(string)) (string, error)
}

// DocLister lets the composer explain extraction failures when retrieval
// comes back empty for a category the user clearly asked about.
type DocLister interface {
	ListDocumentsBySourceType(ownerID, sourceType string) ([]storage.Document, error)
}

// Composer builds prompts and produces answers.
type Composer struct {
	chat ChatClient
	docs DocLister
}

// New creates a Composer. docs may be nil to disable failure explanations.
func New(chat ChatClient, docs DocLister) *Composer {
	return &Composer{chat: chat, docs: docs}
}

// Answer returns a complete answer for the query grounded in the chunks.
func (c *Composer) Answer(ctx context.Context, ownerID, query string, chunks []retrieval.ScoredChunk) (string, error) {
	prompt := c.prompt(ownerID, query, chunks)
	answer, err := c.chat.Chat(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("composing answer: %w", err)
	}
	return answer, nil
}

// AnswerStream streams answer fragments through onFragment and returns the
// accumulated answer.
func (c *Composer) AnswerStream(ctx context.Context, ownerID, query string, chunks []retrieval.ScoredChunk, onFragment func(string)) (string, error) {
	prompt := c.prompt(ownerID, query, chunks)
	answer, err := c.chat.ChatStream(ctx, prompt, onFragment)
	if err != nil {
		return "", fmt.Errorf("streaming answer: %w", err)
	}
	return answer, nil
}

func (c *Composer) prompt(ownerID, query string, chunks []retrieval.ScoredChunk) string {
	if len(chunks) == 0 {
		return c.emptyContextPrompt(ownerID, query)
	}
	return BuildPrompt(query, chunks)
}

// BuildPrompt renders the grounded prompt: numbered sources first, then the
// instruction and the question.
func BuildPrompt(query string, chunks []retrieval.ScoredChunk) string {
	var sb strings.Builder
	for i, ch := range chunks {
		if i > 0 {
			sb.WriteString("\n---\n")
		}
		fmt.Fprintf(&sb, "Source %d (doc:%s, score:%.3f):\n%s", i+1, ch.DocID, ch.Score, ch.Text)
	}

	return fmt.Sprintf(`You are a personal knowledge base assistant. Answer the question using ONLY the context below. If the context does not contain the answer, say you don't have that information in the knowledge base. Cite sources by their number when relevant.

Context:
%s

Question: %s`, sb.String(), query)
}

// emptyContextPrompt handles the no-hits case. When the question targets a
// category whose documents all failed extraction, the model is told to
// explain the failure honestly instead of guessing.
func (c *Composer) emptyContextPrompt(ownerID, query string) string {
	if sourceType := failedCategory(query); sourceType != "" && c.docs != nil {
		if docs, err := c.docs.ListDocumentsBySourceType(ownerID, sourceType); err == nil {
			var failed []string
			for _, d := range docs {
				if d.ProcessingError != "" {
					name := d.Title
					if name == "" {
						name = d.Filename
					}
					if name == "" {
						name = d.ID
					}
					failed = append(failed, fmt.Sprintf("%s (%s)", name, d.ProcessingError))
				}
			}
			if len(failed) > 0 {
				return fmt.Sprintf(`You are a personal knowledge base assistant. The user asked: %q

No searchable content exists for this question because the following uploads could not be processed:
%s

Explain briefly and honestly that the content could not be extracted, naming the affected uploads. Do not invent any content.`, query, "- "+strings.Join(failed, "\n- "))
			}
		}
	}

	return fmt.Sprintf(`You are a personal knowledge base assistant. The user asked: %q

The knowledge base contains no relevant notes for this question. Say so briefly and suggest the user add related documents or notes first. Do not invent an answer.`, query)
}

// failedCategory maps obvious category words in the query to a source type.
func failedCategory(query string) string {
	q := strings.ToLower(query)
	switch {
	case strings.Contains(q, "image"), strings.Contains(q, "picture"), strings.Contains(q, "photo"), strings.Contains(q, "screenshot"):
		return "image"
	case strings.Contains(q, "url"), strings.Contains(q, "link"), strings.Contains(q, "website"), strings.Contains(q, "page"):
		return "url"
	case strings.Contains(q, "audio"), strings.Contains(q, "recording"), strings.Contains(q, "voice"):
		return "audio"
	}
	return ""
}
