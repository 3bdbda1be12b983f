package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDocumentLifecycle(t *testing.T) {
	s := openTestStore(t)

	doc := Document{
		ID:         "doc-1",
		OwnerID:    "user-1",
		SourceType: "pdf",
		Origin:     "/tmp/report.pdf",
		UploadedAt: time.Now().UTC(),
	}
	if err := s.SaveDocument(doc); err != nil {
		t.Fatalf("saving document: %v", err)
	}

	got, err := s.GetDocument("doc-1")
	if err != nil {
		t.Fatalf("getting document: %v", err)
	}
	if got.ProcessedAt != nil {
		t.Error("new document should not be processed")
	}

	processedAt := time.Now().UTC()
	if err := s.FinalizeDocument("doc-1", processedAt, "Quarterly Report", "report.pdf", ""); err != nil {
		t.Fatalf("finalizing: %v", err)
	}

	got, err = s.GetDocument("doc-1")
	if err != nil {
		t.Fatalf("getting document: %v", err)
	}
	if got.ProcessedAt == nil {
		t.Fatal("document should be processed")
	}
	if got.Title != "Quarterly Report" {
		t.Errorf("title not backfilled: %q", got.Title)
	}
	if got.Filename != "report.pdf" {
		t.Errorf("filename not backfilled: %q", got.Filename)
	}
}

func TestFinalizeDocument_DoesNotOverwriteTitle(t *testing.T) {
	s := openTestStore(t)

	doc := Document{ID: "doc-1", OwnerID: "u", Title: "Chosen Title", UploadedAt: time.Now().UTC()}
	if err := s.SaveDocument(doc); err != nil {
		t.Fatalf("saving: %v", err)
	}
	if err := s.FinalizeDocument("doc-1", time.Now().UTC(), "other", "f.txt", ""); err != nil {
		t.Fatalf("finalizing: %v", err)
	}
	got, _ := s.GetDocument("doc-1")
	if got.Title != "Chosen Title" {
		t.Errorf("existing title overwritten: %q", got.Title)
	}
}

func TestFinalizeDocument_ErrorNote(t *testing.T) {
	s := openTestStore(t)

	doc := Document{ID: "doc-1", OwnerID: "u", SourceType: "audio", UploadedAt: time.Now().UTC()}
	if err := s.SaveDocument(doc); err != nil {
		t.Fatalf("saving: %v", err)
	}
	if err := s.FinalizeDocument("doc-1", time.Now().UTC(), "", "", "Audio transcription failed"); err != nil {
		t.Fatalf("finalizing: %v", err)
	}
	got, _ := s.GetDocument("doc-1")
	if got.ProcessingError != "Audio transcription failed" {
		t.Errorf("processing error not recorded: %q", got.ProcessingError)
	}
	chunks, err := s.ListChunksByDocument("doc-1")
	if err != nil {
		t.Fatalf("listing chunks: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("failed document must have zero chunks, got %d", len(chunks))
	}
}

func TestGetDocument_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetDocument("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteDocument_Cascade(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"doc-1", "doc-2"} {
		if err := s.SaveDocument(Document{ID: id, OwnerID: "u", UploadedAt: time.Now().UTC()}); err != nil {
			t.Fatalf("saving %s: %v", id, err)
		}
	}
	chunks := []Chunk{
		{ID: "c1", DocID: "doc-1", OwnerID: "u", Text: "first"},
		{ID: "c2", DocID: "doc-1", OwnerID: "u", Text: "second"},
		{ID: "c3", DocID: "doc-2", OwnerID: "u", Text: "other doc"},
	}
	if err := s.SaveChunks(chunks); err != nil {
		t.Fatalf("saving chunks: %v", err)
	}
	for _, n := range []GraphNode{
		{ID: "doc-1", Type: "document", Label: "Doc 1"},
		{ID: "doc-2", Type: "document", Label: "Doc 2"},
		{ID: "person:Ada", Type: "person", Label: "Ada"},
	} {
		if err := s.UpsertGraphNode(n); err != nil {
			t.Fatalf("upserting node: %v", err)
		}
	}
	edges := []GraphEdge{
		{From: "doc-1", To: "person:Ada", Rel: "mentions_person"},
		{From: "doc-2", To: "person:Ada", Rel: "mentions_person"},
	}
	if err := s.AppendGraphEdges(edges); err != nil {
		t.Fatalf("appending edges: %v", err)
	}

	deleted, err := s.DeleteDocument("doc-1")
	if err != nil {
		t.Fatalf("deleting: %v", err)
	}
	if len(deleted) != 2 {
		t.Errorf("expected 2 deleted chunk ids, got %d", len(deleted))
	}

	if _, err := s.GetDocument("doc-1"); !errors.Is(err, ErrNotFound) {
		t.Error("document should be gone")
	}
	remaining, err := s.GetChunksByIDs([]string{"c1", "c2", "c3"})
	if err != nil {
		t.Fatalf("getting chunks: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != "c3" {
		t.Errorf("unrelated chunk should survive, got %v", remaining)
	}

	nodes, _ := s.GraphNodes()
	for _, n := range nodes {
		if n.ID == "doc-1" {
			t.Error("doc-1 graph node should be gone")
		}
	}
	gotEdges, _ := s.GraphEdges()
	if len(gotEdges) != 1 || gotEdges[0].From != "doc-2" {
		t.Errorf("only doc-2 edge should survive, got %v", gotEdges)
	}
}

func TestDeleteDocument_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.DeleteDocument("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertGraphNode_Dedup(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpsertGraphNode(GraphNode{ID: "person:Ada", Type: "person", Label: "Ada"}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := s.UpsertGraphNode(GraphNode{ID: "person:Ada", Type: "person", Label: "Ada Lovelace"}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	nodes, err := s.GraphNodes()
	if err != nil {
		t.Fatalf("listing nodes: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("expected 1 node, got %d", len(nodes))
	}
	// First insert wins; the duplicate is ignored.
	if nodes[0].Label != "Ada" {
		t.Errorf("label changed on duplicate insert: %q", nodes[0].Label)
	}
}

func TestConversationCRUD(t *testing.T) {
	s := openTestStore(t)

	c := Conversation{ID: "conv-1", OwnerID: "u", Title: "First chat", MessagesJSON: `[{"role":"user","content":"hi"}]`}
	if err := s.SaveConversation(c); err != nil {
		t.Fatalf("saving: %v", err)
	}

	got, err := s.GetConversation("u", "conv-1")
	if err != nil {
		t.Fatalf("getting: %v", err)
	}
	if got.Title != "First chat" {
		t.Errorf("unexpected title %q", got.Title)
	}

	// Update without title keeps the old one.
	c.Title = ""
	c.MessagesJSON = `[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]`
	if err := s.SaveConversation(c); err != nil {
		t.Fatalf("updating: %v", err)
	}
	got, _ = s.GetConversation("u", "conv-1")
	if got.Title != "First chat" {
		t.Errorf("title lost on update: %q", got.Title)
	}

	// Other owners can't see it.
	if _, err := s.GetConversation("other", "conv-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for wrong owner, got %v", err)
	}

	if err := s.DeleteConversation("u", "conv-1"); err != nil {
		t.Fatalf("deleting: %v", err)
	}
	if err := s.DeleteConversation("u", "conv-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestJobQueue(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: "job-1", Type: "ingest", PayloadJSON: `{"document_id":"doc-1"}`}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("enqueueing: %v", err)
	}

	claimed, err := s.ClaimNextJob([]string{"ingest"})
	if err != nil {
		t.Fatalf("claiming: %v", err)
	}
	if claimed == nil || claimed.ID != "job-1" {
		t.Fatalf("expected job-1, got %v", claimed)
	}

	// Running jobs can't be claimed again.
	again, err := s.ClaimNextJob([]string{"ingest"})
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if again != nil {
		t.Errorf("running job claimed twice: %v", again)
	}

	if err := s.CompleteJob("job-1"); err != nil {
		t.Fatalf("completing: %v", err)
	}
}

func TestFailJob_Retries(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "job-1", Type: "ingest", PayloadJSON: `{}`, MaxAttempts: 2}); err != nil {
		t.Fatalf("enqueueing: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"ingest"}); err != nil {
		t.Fatalf("claiming: %v", err)
	}

	// First failure re-queues with backoff.
	if err := s.FailJob("job-1", "boom"); err != nil {
		t.Fatalf("failing: %v", err)
	}
	// Backoff pushes run_after into the future, so no job is claimable yet.
	claimed, err := s.ClaimNextJob([]string{"ingest"})
	if err != nil {
		t.Fatalf("claiming after failure: %v", err)
	}
	if claimed != nil {
		t.Errorf("job claimable before backoff elapsed: %v", claimed)
	}
}
