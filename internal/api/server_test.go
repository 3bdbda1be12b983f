package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"secondbrain/internal/retrieval"
	"secondbrain/internal/storage"
	"secondbrain/internal/vectorindex"
)

type fakeRetriever struct {
	chunks []retrieval.ScoredChunk
	err    error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, ownerID, query string, k int, from, to *time.Time) ([]retrieval.ScoredChunk, error) {
	return f.chunks, f.err
}

type fakeComposer struct {
	answer string
	err    error
}

func (f *fakeComposer) Answer(ctx context.Context, ownerID, query string, chunks []retrieval.ScoredChunk) (string, error) {
	return f.answer, f.err
}

func (f *fakeComposer) AnswerStream(ctx context.Context, ownerID, query string, chunks []retrieval.ScoredChunk, onFragment func(string)) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	for _, frag := range []string{"an", "swer"} {
		onFragment(frag)
	}
	return "answer", nil
}

func newTestHandler(t *testing.T, retr *fakeRetriever, comp *fakeComposer) (http.Handler, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	deps := Deps{
		Store:     store,
		Retriever: retr,
		Composer:  comp,
		Index:     vectorindex.NewLocal(store.DB()),
		UploadDir: t.TempDir(),
	}
	return NewHandler(deps), store
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t, &fakeRetriever{}, &fakeComposer{})

	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestUpload_Text(t *testing.T) {
	h, store := newTestHandler(t, &fakeRetriever{}, &fakeComposer{})

	rec := doJSON(t, h, http.MethodPost, "/upload", map[string]string{"text": "a quick note"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		OK    bool   `json:"ok"`
		DocID string `json:"docId"`
	}
	decodeBody(t, rec, &resp)
	if !resp.OK || resp.DocID == "" {
		t.Fatalf("unexpected response %+v", resp)
	}

	doc, err := store.GetDocument(resp.DocID)
	if err != nil {
		t.Fatal(err)
	}
	if doc.SourceType != "text" || doc.OwnerID != "demo-user" {
		t.Errorf("unexpected document %+v", doc)
	}

	job, err := store.ClaimNextJob([]string{"ingest"})
	if err != nil {
		t.Fatal(err)
	}
	if job == nil {
		t.Fatal("upload must enqueue an ingest job")
	}
	if !strings.Contains(job.PayloadJSON, resp.DocID) {
		t.Errorf("job payload %q does not reference the document", job.PayloadJSON)
	}
}

func TestUpload_URL(t *testing.T) {
	h, store := newTestHandler(t, &fakeRetriever{}, &fakeComposer{})

	rec := doJSON(t, h, http.MethodPost, "/upload", map[string]string{"url": "https://example.com/post"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		DocID string `json:"docId"`
	}
	decodeBody(t, rec, &resp)
	doc, err := store.GetDocument(resp.DocID)
	if err != nil {
		t.Fatal(err)
	}
	if doc.SourceType != "url" || doc.Origin != "https://example.com/post" {
		t.Errorf("unexpected document %+v", doc)
	}
}

func TestUpload_Multipart(t *testing.T) {
	h, store := newTestHandler(t, &fakeRetriever{}, &fakeComposer{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "report.pdf")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte("%PDF-1.4 fake"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		DocID string `json:"docId"`
	}
	decodeBody(t, rec, &resp)
	doc, err := store.GetDocument(resp.DocID)
	if err != nil {
		t.Fatal(err)
	}
	if doc.SourceType != "pdf" || doc.Filename != "report.pdf" || doc.OwnerID != "alice" {
		t.Errorf("unexpected document %+v", doc)
	}
}

func TestUpload_EmptyBody(t *testing.T) {
	h, _ := newTestHandler(t, &fakeRetriever{}, &fakeComposer{})

	rec := doJSON(t, h, http.MethodPost, "/upload", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestQuery_NonStream(t *testing.T) {
	retr := &fakeRetriever{chunks: []retrieval.ScoredChunk{
		{ChunkID: "c1", DocID: "d1", Text: "hit", Score: 0.9},
	}}
	h, _ := newTestHandler(t, retr, &fakeComposer{answer: "the answer"})

	rec := doJSON(t, h, http.MethodPost, "/query", map[string]any{"query": "what?"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Answer  string      `json:"answer"`
		Sources []sourceRef `json:"sources"`
	}
	decodeBody(t, rec, &resp)
	if resp.Answer != "the answer" {
		t.Errorf("answer = %q", resp.Answer)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].ChunkID != "c1" {
		t.Errorf("unexpected sources %+v", resp.Sources)
	}
}

func TestQuery_MissingQuery(t *testing.T) {
	h, _ := newTestHandler(t, &fakeRetriever{}, &fakeComposer{})

	rec := doJSON(t, h, http.MethodPost, "/query", map[string]any{"k": 3})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestQuery_Stream(t *testing.T) {
	retr := &fakeRetriever{chunks: []retrieval.ScoredChunk{
		{ChunkID: "c1", DocID: "d1", Text: "hit", Score: 0.9},
	}}
	h, _ := newTestHandler(t, retr, &fakeComposer{})

	rec := doJSON(t, h, http.MethodPost, "/query", map[string]any{"query": "what?", "stream": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	var types []string
	var fragments []string
	var done string
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("bad event %q: %v", line, err)
		}
		types = append(types, ev.Type)
		switch ev.Type {
		case "chunk":
			var s string
			json.Unmarshal(ev.Data, &s)
			fragments = append(fragments, s)
		case "done":
			json.Unmarshal(ev.Data, &done)
		}
	}

	if len(types) == 0 || types[0] != "sources" {
		t.Fatalf("first event must be sources, got %v", types)
	}
	if types[len(types)-1] != "done" {
		t.Errorf("last event must be done, got %v", types)
	}
	if strings.Join(fragments, "") != "answer" || done != "answer" {
		t.Errorf("fragments %v / done %q do not assemble the answer", fragments, done)
	}
}

func TestQuery_StreamError(t *testing.T) {
	h, _ := newTestHandler(t,
		&fakeRetriever{chunks: []retrieval.ScoredChunk{{ChunkID: "c1"}}},
		&fakeComposer{err: errors.New("upstream down")})

	rec := doJSON(t, h, http.MethodPost, "/query", map[string]any{"query": "what?", "stream": true})
	if !strings.Contains(rec.Body.String(), `"type":"error"`) {
		t.Errorf("expected an error event, got %s", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), `"type":"done"`) {
		t.Errorf("done must not follow an error, got %s", rec.Body.String())
	}
}

func TestDocs_ListAndDelete(t *testing.T) {
	h, store := newTestHandler(t, &fakeRetriever{}, &fakeComposer{})

	processed := time.Now().UTC()
	doc := storage.Document{
		ID: "d1", OwnerID: "demo-user", Title: "note", SourceType: "text",
		UploadedAt: processed.Add(-time.Hour),
	}
	if err := store.SaveDocument(doc); err != nil {
		t.Fatal(err)
	}
	if err := store.FinalizeDocument("d1", processed, "", "", ""); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, h, http.MethodGet, "/docs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var docs []documentResponse
	decodeBody(t, rec, &docs)
	if len(docs) != 1 || docs[0].ID != "d1" {
		t.Fatalf("unexpected docs %+v", docs)
	}
	if docs[0].IndexedAt == nil {
		t.Error("processed document must expose indexedAt")
	}

	rec = doJSON(t, h, http.MethodDelete, "/docs/d1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodDelete, "/docs/d1", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestGraph_Empty(t *testing.T) {
	h, _ := newTestHandler(t, &fakeRetriever{}, &fakeComposer{})

	rec := doJSON(t, h, http.MethodGet, "/graph", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Nodes []storage.GraphNode `json:"nodes"`
		Edges []storage.GraphEdge `json:"edges"`
	}
	decodeBody(t, rec, &resp)
	if resp.Nodes == nil || resp.Edges == nil {
		t.Errorf("graph arrays must be present even when empty: %s", rec.Body.String())
	}
}

func TestConversations_CRUD(t *testing.T) {
	h, _ := newTestHandler(t, &fakeRetriever{}, &fakeComposer{})

	rec := doJSON(t, h, http.MethodPost, "/conversations", map[string]any{
		"messages": []map[string]string{
			{"role": "user", "content": "summarize my week please"},
			{"role": "assistant", "content": "sure"},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created conversationResponse
	decodeBody(t, rec, &created)
	if created.ID == "" {
		t.Fatal("missing conversation id")
	}
	if created.Title != "summarize my week please" {
		t.Errorf("title should derive from the first user message, got %q", created.Title)
	}

	rec = doJSON(t, h, http.MethodGet, "/conversations/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	// Other owners must not see it.
	req := httptest.NewRequest(http.MethodGet, "/conversations/"+created.ID, nil)
	req.Header.Set("X-User-ID", "mallory")
	other := httptest.NewRecorder()
	h.ServeHTTP(other, req)
	if other.Code != http.StatusNotFound {
		t.Errorf("cross-owner get status = %d, want 404", other.Code)
	}

	rec = doJSON(t, h, http.MethodDelete, "/conversations/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/conversations/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestTitleFromMessages(t *testing.T) {
	long := strings.Repeat("x", 80)
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"first user message", `[{"role":"assistant","content":"hi"},{"role":"user","content":"hello there"}]`, "hello there"},
		{"truncated", `[{"role":"user","content":"` + long + `"}]`, strings.Repeat("x", 50)},
		{"no user message", `[{"role":"assistant","content":"hi"}]`, ""},
		{"not json", `nope`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := titleFromMessages(json.RawMessage(tt.in)); got != tt.want {
				t.Errorf("titleFromMessages(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
