// Package vectorindex stores chunk embeddings and answers nearest-neighbor
// queries. Two backends exist: a remote HTTP sidecar and an embedded SQLite
// index, selected at startup by configuration.
package vectorindex

import "context"

// Metadata travels with each stored vector and comes back on query hits.
type Metadata struct {
	DocID      string `json:"docId"`
	OwnerID    string `json:"ownerId"`
	SourceType string `json:"sourceType"`
	URL        string `json:"url,omitempty"`
}

// Item is one vector to upsert into a collection.
type Item struct {
	ID        string
	Embedding []float32
	Metadata  Metadata
	Document  string
}

// Result is one query hit. Distance is 1 minus cosine similarity, so lower
// means closer.
type Result struct {
	ID       string
	Distance float64
	Metadata Metadata
	Document string
}

// Index is the vector store used by ingestion and retrieval. Collections are
// keyed by owner so each user's knowledge base is searched in isolation.
type Index interface {
	Upsert(ctx context.Context, collection string, items []Item) error
	Query(ctx context.Context, collection string, embedding []float32, n int) ([]Result, error)
	Delete(ctx context.Context, collection string, ids []string) error
}
