// Package api exposes the knowledge base over HTTP (upload, query, documents,
// graph, conversations) and over MCP for agent integrations.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"secondbrain/internal/retrieval"
	"secondbrain/internal/storage"
	"secondbrain/internal/vectorindex"
)

const maxUploadBodySize = 25 << 20 // 25MB
const defaultOwner = "demo-user"

// Retriever is the hybrid search surface the handlers need.
type Retriever interface {
	Retrieve(ctx context.Context, ownerID, query string, k int, from, to *time.Time) ([]retrieval.ScoredChunk, error)
}

// Answerer produces grounded answers, plain or streamed.
type Answerer interface {
	Answer(ctx context.Context, ownerID, query string, chunks []retrieval.ScoredChunk) (string, error)
	AnswerStream(ctx context.Context, ownerID, query string, chunks []retrieval.ScoredChunk, onFragment func(string)) (string, error)
}

// Deps holds the wired collaborators for the HTTP API.
type Deps struct {
	Store     *storage.Store
	Retriever Retriever
	Composer  Answerer
	Index     vectorindex.Index
	UploadDir string
}

// NewHandler builds the HTTP router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Post("/upload", handleUpload(deps))
	r.Post("/query", handleQuery(deps))
	r.Get("/docs", handleListDocs(deps))
	r.Delete("/docs/{docID}", handleDeleteDoc(deps))
	r.Get("/graph", handleGraph(deps))
	r.Get("/conversations", handleListConversations(deps))
	r.Post("/conversations", handleSaveConversation(deps))
	r.Get("/conversations/{id}", handleGetConversation(deps))
	r.Delete("/conversations/{id}", handleDeleteConversation(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// ownerID identifies the caller's collection. There is no authentication;
// the header is an opaque namespace key.
func ownerID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return defaultOwner
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
