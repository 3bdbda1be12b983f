package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

var _ Index = (*HTTP)(nil)

// HTTP talks to a vector sidecar service over a small JSON protocol
// (POST /upsert, /query, /delete). A sidecar that is down degrades the
// index to a no-op: ingestion and retrieval proceed without vector hits
// instead of failing outright.
type HTTP struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTP creates a client for the sidecar at baseURL.
func NewHTTP(baseURL string) *HTTP {
	return &HTTP{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type upsertItem struct {
	ID        string    `json:"id"`
	Embedding []float32 `json:"embedding"`
	Metadata  Metadata  `json:"metadata"`
	Document  string    `json:"document"`
}

type upsertRequest struct {
	Collection string       `json:"collection"`
	Items      []upsertItem `json:"items"`
}

type queryRequest struct {
	Collection     string    `json:"collection"`
	QueryEmbedding []float32 `json:"query_embedding"`
	NResults       int       `json:"n_results"`
}

type queryResult struct {
	ID       string   `json:"id"`
	Distance float64  `json:"distance"`
	Metadata Metadata `json:"metadata"`
	Document string   `json:"document"`
}

type queryResponse struct {
	Results []queryResult `json:"results"`
}

type deleteRequest struct {
	Collection string   `json:"collection"`
	IDs        []string `json:"ids"`
}

// Upsert sends the items to the sidecar. An unreachable sidecar is logged
// and swallowed so ingestion can still finalize the document.
func (h *HTTP) Upsert(ctx context.Context, collection string, items []Item) error {
	if len(items) == 0 {
		return nil
	}

	req := upsertRequest{
		Collection: collection,
		Items:      make([]upsertItem, len(items)),
	}
	for i, it := range items {
		req.Items[i] = upsertItem{
			ID:        it.ID,
			Embedding: it.Embedding,
			Metadata:  it.Metadata,
			Document:  it.Document,
		}
	}

	if err := h.post(ctx, "/upsert", req, nil); err != nil {
		slog.Warn("vector sidecar upsert failed", "collection", collection, "count", len(items), "error", err)
	}
	return nil
}

// Query asks the sidecar for the n nearest vectors. An unreachable sidecar
// yields an empty result set.
func (h *HTTP) Query(ctx context.Context, collection string, embedding []float32, n int) ([]Result, error) {
	var resp queryResponse
	err := h.post(ctx, "/query", queryRequest{
		Collection:     collection,
		QueryEmbedding: embedding,
		NResults:       n,
	}, &resp)
	if err != nil {
		slog.Warn("vector sidecar query failed", "collection", collection, "error", err)
		return nil, nil
	}

	results := make([]Result, len(resp.Results))
	for i, r := range resp.Results {
		results[i] = Result{
			ID:       r.ID,
			Distance: r.Distance,
			Metadata: r.Metadata,
			Document: r.Document,
		}
	}
	return results, nil
}

// Delete removes the IDs from the sidecar collection, best effort.
func (h *HTTP) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := h.post(ctx, "/delete", deleteRequest{Collection: collection, IDs: ids}, nil); err != nil {
		slog.Warn("vector sidecar delete failed", "collection", collection, "error", err)
	}
	return nil
}

func (h *HTTP) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling sidecar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sidecar %s returned %d: %s", path, resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
