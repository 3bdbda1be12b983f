// Package ingest turns uploaded documents into searchable chunks: extract,
// chunk, embed, index, and grow the entity graph, then finalize the document
// record. Jobs are processed asynchronously off a SQLite-backed queue.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"secondbrain/internal/chunker"
	"secondbrain/internal/entities"
	"secondbrain/internal/extract"
	"secondbrain/internal/graph"
	"secondbrain/internal/storage"
	"secondbrain/internal/vectorindex"
)

// embedParallelism bounds concurrent embedding calls per document.
const embedParallelism = 4

// DocStore is the storage surface the pipeline needs.
type DocStore interface {
	GetDocument(id string) (storage.Document, error)
	SaveChunks(chunks []storage.Chunk) error
	FinalizeDocument(id string, processedAt time.Time, title, filename, processingError string) error
	UpsertGraphNode(n storage.GraphNode) error
	AppendGraphEdges(edges []storage.GraphEdge) error
}

// Embedder computes chunk embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EntityExtractor pulls named entities out of document text.
type EntityExtractor interface {
	Extract(ctx context.Context, text string) entities.Entities
}

// Pipeline processes one document end to end.
type Pipeline struct {
	store     DocStore
	extractor *extract.Extractor
	embedder  Embedder
	index     vectorindex.Index
	entities  EntityExtractor
	now       func() time.Time
}

// NewPipeline wires a Pipeline. The entity extractor may be nil to disable
// graph building.
func NewPipeline(store DocStore, extractor *extract.Extractor, embedder Embedder, index vectorindex.Index, ents EntityExtractor) *Pipeline {
	return &Pipeline{
		store:     store,
		extractor: extractor,
		embedder:  embedder,
		index:     index,
		entities:  ents,
		now:       time.Now,
	}
}

// Process ingests the document: extraction failures degrade to a finalized
// document with an error note and no chunks, never a failed job. Only
// infrastructure errors (storage, embedding transport) are returned so the
// queue can retry them.
func (p *Pipeline) Process(ctx context.Context, docID string) error {
	doc, err := p.store.GetDocument(docID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", docID, err)
	}

	res := p.extractor.Extract(ctx, sourceFor(doc))

	texts := chunker.Split(res.Text, chunker.DefaultWindowWords)
	if len(texts) == 0 && res.Caption != "" {
		// Captions are short; embed as a single unit instead of dropping them.
		texts = []string{res.Caption}
	}

	chunks, err := p.embedAndStore(ctx, doc, texts)
	if err != nil {
		return err
	}

	if p.entities != nil {
		p.buildGraph(ctx, doc, res)
	}

	title := res.Title
	if title == "" {
		title = fallbackTitle(res.Text)
	}
	if err := p.store.FinalizeDocument(doc.ID, p.now().UTC(), title, doc.Filename, res.ErrNote); err != nil {
		return fmt.Errorf("finalizing document %s: %w", doc.ID, err)
	}

	slog.Info("document ingested",
		"doc_id", doc.ID, "owner", doc.OwnerID, "source_type", doc.SourceType,
		"chunks", len(chunks), "degraded", res.ErrNote != "")
	return nil
}

// embedAndStore embeds the texts with bounded parallelism, persists the chunk
// records and upserts their vectors in one batch per document.
func (p *Pipeline) embedAndStore(ctx context.Context, doc storage.Document, texts []string) ([]storage.Chunk, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	now := p.now().UTC()
	sourceURL := ""
	if doc.SourceType == extract.KindURL {
		sourceURL = doc.Origin
	}

	chunks := make([]storage.Chunk, len(texts))
	items := make([]vectorindex.Item, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedParallelism)
	for i, text := range texts {
		g.Go(func() error {
			vec, err := p.embedder.Embed(gctx, text)
			if err != nil {
				return fmt.Errorf("embedding chunk %d: %w", i, err)
			}
			id := uuid.New().String()
			chunks[i] = storage.Chunk{
				ID:         id,
				DocID:      doc.ID,
				OwnerID:    doc.OwnerID,
				Text:       text,
				SourceType: doc.SourceType,
				SourceURL:  sourceURL,
				CreatedAt:  now,
			}
			items[i] = vectorindex.Item{
				ID:        id,
				Embedding: vec,
				Metadata: vectorindex.Metadata{
					DocID:      doc.ID,
					OwnerID:    doc.OwnerID,
					SourceType: doc.SourceType,
					URL:        sourceURL,
				},
				Document: text,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := p.store.SaveChunks(chunks); err != nil {
		return nil, fmt.Errorf("saving chunks: %w", err)
	}
	if err := p.index.Upsert(ctx, doc.OwnerID, items); err != nil {
		return nil, fmt.Errorf("indexing chunks: %w", err)
	}
	return chunks, nil
}

// buildGraph extracts entities and links them to the document node. Graph
// failures are logged and swallowed: the side index never blocks ingestion.
func (p *Pipeline) buildGraph(ctx context.Context, doc storage.Document, res extract.Result) {
	aggregated := res.Text
	if res.Caption != "" && res.Caption != res.Text {
		aggregated += "\n" + res.Caption
	}
	if len(aggregated) <= entities.MinTextLength {
		return
	}

	ents := p.entities.Extract(ctx, aggregated)
	if ents.IsEmpty() {
		return
	}

	label := res.Title
	if label == "" {
		label = doc.Filename
	}
	if label == "" {
		label = fallbackTitle(res.Text)
	}
	nodes := []storage.GraphNode{{ID: doc.ID, Type: "document", Label: label}}
	var edges []storage.GraphEdge

	for _, person := range ents.People {
		nodes = graph.AddNode(nodes, "person", graph.NodeID("person", person), person)
		edges = graph.AddEdge(edges, doc.ID, graph.NodeID("person", person), graph.RelMentionsPerson)
	}
	for _, org := range ents.Orgs {
		nodes = graph.AddNode(nodes, "org", graph.NodeID("org", org), org)
		edges = graph.AddEdge(edges, doc.ID, graph.NodeID("org", org), graph.RelMentionsOrg)
	}
	for _, project := range ents.Projects {
		nodes = graph.AddNode(nodes, "project", graph.NodeID("project", project), project)
		edges = graph.AddEdge(edges, doc.ID, graph.NodeID("project", project), graph.RelMentionsProject)
	}
	for _, tag := range ents.Tags {
		nodes = graph.AddNode(nodes, "tag", graph.NodeID("tag", tag), tag)
		edges = graph.AddEdge(edges, doc.ID, graph.NodeID("tag", tag), graph.RelHasTag)
	}

	for _, n := range nodes {
		if err := p.store.UpsertGraphNode(n); err != nil {
			slog.Warn("graph node upsert failed", "doc_id", doc.ID, "node", n.ID, "error", err)
			return
		}
	}
	if err := p.store.AppendGraphEdges(edges); err != nil {
		slog.Warn("graph edge append failed", "doc_id", doc.ID, "error", err)
	}
}

// sourceFor maps a stored document to an extraction source. Inline text is
// persisted as a file at upload time, so every non-URL kind reads from
// doc.Origin.
func sourceFor(doc storage.Document) extract.Source {
	src := extract.Source{Kind: doc.SourceType, Filename: doc.Filename}
	switch doc.SourceType {
	case extract.KindURL:
		src.URL = doc.Origin
	case extract.KindText:
		data, err := os.ReadFile(doc.Origin)
		if err != nil {
			slog.Warn("reading text document failed", "doc_id", doc.ID, "path", doc.Origin, "error", err)
		}
		src.Text = string(data)
	default:
		src.Path = doc.Origin
	}
	return src
}

// fallbackTitle derives a title from the opening words of the text.
func fallbackTitle(text string) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	if len(words) > 8 {
		words = words[:8]
	}
	title := strings.Join(words, " ")
	if runes := []rune(title); len(runes) > 50 {
		title = string(runes[:50])
	}
	return title
}
