package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document is one ingested source. ProcessedAt stays nil until the ingestion
// pipeline finishes; ProcessingError records a degraded extraction without
// fabricating chunk content.
type Document struct {
	ID              string
	OwnerID         string
	Title           string
	SourceType      string // "text", "url", "pdf", "audio", "image", "file"
	Origin          string // inline marker, file path, or URL
	Filename        string
	ProcessingError string
	UploadedAt      time.Time
	ProcessedAt     *time.Time
}

// Chunk is one retrievable unit of a document's extracted text. Chunks are
// created only by the ingestion pipeline and are immutable afterwards.
type Chunk struct {
	ID         string
	DocID      string
	OwnerID    string
	Text       string
	SourceType string
	SourceURL  string
	CreatedAt  time.Time
}

// GraphNode is an identity-deduplicated entity entry. Entity ids are
// namespaced by type ("person:Ada"); document nodes use the document id.
type GraphNode struct {
	ID    string `json:"id"`
	Type  string `json:"type"` // "document", "person", "org", "project", "tag"
	Label string `json:"label"`
}

// GraphEdge is a directed relation from a document node to an entity node.
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Rel  string `json:"rel"` // "mentions_person", "mentions_org", "mentions_project", "has_tag"
}

// Conversation is an owner-scoped chat history. Messages are stored as a JSON
// array verbatim; the server never interprets individual messages.
type Conversation struct {
	ID           string
	OwnerID      string
	Title        string
	MessagesJSON string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
