// Package retrieval ranks knowledge-base chunks for a query by blending
// vector similarity with keyword frequency and recency.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"secondbrain/internal/extract"
	"secondbrain/internal/storage"
	"secondbrain/internal/vectorindex"
)

// Scoring weights. Similarity dominates; keyword frequency nudges exact
// mentions up and recency is an additive bonus, so the weights intentionally
// do not sum to 1.
const (
	weightSimilarity = 0.85
	weightKeyword    = 0.15
	weightRecency    = 0.10

	recencyWindow = 24 * 30 * time.Hour

	minCandidates = 15
)

// ScoredChunk is one ranked retrieval hit.
type ScoredChunk struct {
	ChunkID string  `json:"chunkId"`
	DocID   string  `json:"docId"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
}

// Embedder computes the query embedding.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChunkSource resolves candidate IDs to persisted chunk records.
type ChunkSource interface {
	GetChunksByIDs(ids []string) ([]storage.Chunk, error)
}

// Retriever performs hybrid search over one owner's collection.
type Retriever struct {
	embedder Embedder
	index    vectorindex.Index
	chunks   ChunkSource
	now      func() time.Time
}

// NewRetriever creates a Retriever over the given embedder, vector index and
// chunk store.
func NewRetriever(embedder Embedder, index vectorindex.Index, chunks ChunkSource) *Retriever {
	return &Retriever{embedder: embedder, index: index, chunks: chunks, now: time.Now}
}

// Retrieve returns the top-k chunks for the query, best first. Unless both
// from and to are given explicitly, a natural-language date range is parsed
// out of the query itself and takes precedence for the bounds it yields; no
// parseable range means the explicit bounds (or no filtering) stand.
func (r *Retriever) Retrieve(ctx context.Context, ownerID, query string, k int, from, to *time.Time) ([]ScoredChunk, error) {
	if k <= 0 {
		k = 6
	}
	if from == nil || to == nil {
		pf, pt := ParseDateRange(query, r.now())
		if pf != nil {
			from = pf
		}
		if pt != nil {
			to = pt
		}
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	// Oversample: keyword, placeholder and date filtering discard candidates,
	// and the final ranking must still have enough survivors to fill k.
	oversample := 3 * k
	if oversample < minCandidates {
		oversample = minCandidates
	}

	hits, err := r.index.Query(ctx, ownerID, vec, oversample)
	if err != nil {
		return nil, fmt.Errorf("querying vector index: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	distances := make(map[string]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
		distances[h.ID] = h.Distance
	}

	records, err := r.chunks.GetChunksByIDs(ids)
	if err != nil {
		return nil, fmt.Errorf("resolving chunks: %w", err)
	}

	now := r.now()
	scored := make([]ScoredChunk, 0, len(records))
	for _, c := range records {
		// Stale index entries resolve to nothing and synthesized failure
		// notes must not reach answer context.
		if extract.IsFailureText(c.Text) {
			continue
		}
		if from != nil && c.CreatedAt.Before(*from) {
			continue
		}
		if to != nil && c.CreatedAt.After(*to) {
			continue
		}

		base := 1 - distances[c.ID]
		keyword := float64(countOccurrences(c.Text, query))
		recency := recencyBoost(now.Sub(c.CreatedAt))

		scored = append(scored, ScoredChunk{
			ChunkID: c.ID,
			DocID:   c.DocID,
			Text:    c.Text,
			Score:   base*weightSimilarity + keyword*weightKeyword + recency*weightRecency,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ChunkID < scored[j].ChunkID
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// countOccurrences counts case-insensitive occurrences of query in text,
// advancing one rune past each match start. A crude frequency signal, not
// tokenized matching.
func countOccurrences(text, query string) int {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return 0
	}
	t := strings.ToLower(text)

	count := 0
	for i := 0; ; {
		idx := strings.Index(t[i:], q)
		if idx < 0 {
			break
		}
		count++
		i += idx + 1
	}
	return count
}

// recencyBoost decays linearly from 1 to 0 over the recency window.
func recencyBoost(age time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	frac := float64(age) / float64(recencyWindow)
	if frac > 1 {
		frac = 1
	}
	return 1 - frac
}
