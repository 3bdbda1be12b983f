package vectorindex

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

var _ Index = (*Local)(nil)

// Local is an embedded vector index backed by the vectors table of the main
// SQLite database, using brute-force cosine similarity. It serves personal
// knowledge bases comfortably; beyond ~100K vectors an ANN-backed sidecar is
// the better choice.
type Local struct {
	db *sql.DB
}

// NewLocal wraps an existing *sql.DB for vector operations. The vectors table
// must already exist (created via migrations).
func NewLocal(db *sql.DB) *Local {
	return &Local{db: db}
}

// Upsert inserts or replaces items in the collection.
func (l *Local) Upsert(ctx context.Context, collection string, items []Item) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vectors (collection, id, embedding, doc_id, owner_id, source_type, document, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			embedding = excluded.embedding,
			doc_id = excluded.doc_id,
			owner_id = excluded.owner_id,
			source_type = excluded.source_type,
			document = excluded.document`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, it := range items {
		blob := encodeFloat32s(it.Embedding)
		if _, err := stmt.ExecContext(ctx, collection, it.ID, blob,
			it.Metadata.DocID, it.Metadata.OwnerID, it.Metadata.SourceType, it.Document, now); err != nil {
			tx.Rollback()
			return fmt.Errorf("upserting vector %s: %w", it.ID, err)
		}
	}

	return tx.Commit()
}

// idScore holds only the ID and similarity during the scan phase of Query.
// Full rows are fetched only for top-K winners.
type idScore struct {
	ID    string
	Score float32
}

// Query scans the collection's vectors, keeps the top-N by cosine similarity
// in a min-heap, then fetches the winners' metadata.
func (l *Local) Query(ctx context.Context, collection string, embedding []float32, n int) ([]Result, error) {
	if n <= 0 {
		return nil, nil
	}

	queryNorm := norm(embedding)
	if queryNorm == 0 {
		return nil, nil
	}

	rows, err := l.db.QueryContext(ctx, `SELECT id, embedding FROM vectors WHERE collection = ?`, collection)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := cosine(embedding, buf, queryNorm)
		if h.Len() < n {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	topIDs := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	args := make([]any, 0, len(topIDs)+1)
	args = append(args, collection)
	for _, id := range topIDs {
		args = append(args, id)
	}
	metaQuery := `SELECT id, doc_id, owner_id, source_type, document
		FROM vectors WHERE collection = ? AND id IN (?` + strings.Repeat(",?", len(topIDs)-1) + `)`

	metaRows, err := l.db.QueryContext(ctx, metaQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K metadata: %w", err)
	}
	defer metaRows.Close()

	var results []Result
	for metaRows.Next() {
		var r Result
		if err := metaRows.Scan(&r.ID, &r.Metadata.DocID, &r.Metadata.OwnerID, &r.Metadata.SourceType, &r.Document); err != nil {
			return nil, fmt.Errorf("scanning metadata: %w", err)
		}
		r.Distance = 1 - float64(scores[r.ID])
		results = append(results, r)
	}
	if err := metaRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating metadata: %w", err)
	}

	// The IN query doesn't preserve order; re-sort nearest first.
	sortByDistance(results)

	return results, nil
}

// Delete removes the given IDs from the collection. Missing IDs are ignored.
func (l *Local) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, collection)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `DELETE FROM vectors WHERE collection = ? AND id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`

	if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting vectors: %w", err)
	}
	return nil
}

// sortByDistance sorts results nearest first. Used for small slices (topK).
func sortByDistance(results []Result) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Distance < results[j-1].Distance; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScoreHeap is a min-heap of idScore ordered by Score, used during the scan
// phase of Query to track top-K candidates by ID only.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
