package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"secondbrain/internal/retrieval"
)

const defaultTopK = 6
const maxQueryBodySize = 1 << 20 // 1MB

type queryRequest struct {
	Query  string `json:"query"`
	K      int    `json:"k"`
	From   string `json:"from"`
	To     string `json:"to"`
	Stream bool   `json:"stream"`
}

// sourceRef is what the client needs to attribute an answer; chunk text is
// not repeated on the wire.
type sourceRef struct {
	ChunkID string  `json:"chunkId"`
	DocID   string  `json:"docId"`
	Score   float64 `json:"score"`
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxQueryBodySize)
		defer r.Body.Close()

		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}
		if req.K <= 0 {
			req.K = defaultTopK
		}

		from, err := parseDate(req.From)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid from date: %v", err)
			return
		}
		to, err := parseDate(req.To)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid to date: %v", err)
			return
		}

		owner := ownerID(r)
		chunks, err := deps.Retriever.Retrieve(r.Context(), owner, req.Query, req.K, from, to)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "retrieval failed: %v", err)
			return
		}

		sources := make([]sourceRef, len(chunks))
		for i, c := range chunks {
			sources[i] = sourceRef{ChunkID: c.ChunkID, DocID: c.DocID, Score: c.Score}
		}

		if req.Stream {
			streamAnswer(w, r, deps, owner, req.Query, chunks, sources)
			return
		}

		answer, err := deps.Composer.Answer(r.Context(), owner, req.Query, chunks)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "answer composition failed: %v", err)
			return
		}
		writeJSON(w, map[string]any{"answer": answer, "sources": sources})
	}
}

// streamAnswer emits server-sent events: sources first, then answer
// fragments, then done with the full answer. A client abort cancels the
// upstream call through the request context; whatever was emitted stands.
func streamAnswer(w http.ResponseWriter, r *http.Request, deps Deps, owner, query string, chunks []retrieval.ScoredChunk, sources []sourceRef) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeSSE(w, flusher, "sources", sources)

	answer, err := deps.Composer.AnswerStream(r.Context(), owner, query, chunks, func(fragment string) {
		writeSSE(w, flusher, "chunk", fragment)
	})
	if err != nil {
		slog.Warn("answer stream failed", "owner", owner, "error", err)
		writeSSE(w, flusher, "error", err.Error())
		return
	}

	writeSSE(w, flusher, "done", answer)
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	payload, err := json.Marshal(map[string]any{"type": eventType, "data": data})
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		// Date-only form used by the UI's range picker.
		t, err = time.Parse("2006-01-02", s)
		if err != nil {
			return nil, err
		}
	}
	return &t, nil
}
