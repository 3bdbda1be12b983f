package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	User   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			User:   r.Header.Get("X-User-ID"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client(user string) *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		userID:     user,
		httpClient: ts.server.Client(),
	}
}

func overrideClient(t *testing.T, ts *testServer, user string) {
	t.Helper()
	orig := newAPIClient
	newAPIClient = func(string) (*apiClient, error) {
		return ts.client(user), nil
	}
	t.Cleanup(func() { newAPIClient = orig })
}

func TestAddCommand_Text(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /upload": `{"ok":true,"docId":"doc-123"}`,
	})
	overrideClient(t, ts, "alice")

	addCmd.Flags().Set("text", "hello world")
	addCmd.Flags().Set("title", "greeting")
	t.Cleanup(func() {
		addCmd.Flags().Set("text", "")
		addCmd.Flags().Set("title", "")
	})

	if err := addCmd.RunE(addCmd, nil); err != nil {
		t.Fatalf("add: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	req := ts.requests[0]
	if req.Path != "/upload" || req.Method != "POST" {
		t.Errorf("unexpected request %s %s", req.Method, req.Path)
	}
	if req.User != "alice" {
		t.Errorf("expected X-User-ID alice, got %q", req.User)
	}
	if !strings.Contains(req.Body, `"text":"hello world"`) {
		t.Errorf("body missing text field: %s", req.Body)
	}
}

func TestAddCommand_RequiresSource(t *testing.T) {
	ts := newTestServer(t, nil)
	overrideClient(t, ts, "")

	if err := addCmd.RunE(addCmd, nil); err == nil {
		t.Fatal("expected error when no source flag is given")
	}
	if len(ts.requests) != 0 {
		t.Errorf("expected no requests, got %d", len(ts.requests))
	}
}

func TestAskCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /query": `{"answer":"42","sources":[{"chunkId":"c1","docId":"d1","score":0.9}]}`,
	})
	overrideClient(t, ts, "")

	if err := askCmd.RunE(askCmd, []string{"what", "is", "the", "answer"}); err != nil {
		t.Fatalf("ask: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if !strings.Contains(ts.requests[0].Body, `"query":"what is the answer"`) {
		t.Errorf("body missing joined query: %s", ts.requests[0].Body)
	}
}

func TestAskCommand_NoSources(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /query": `{"answer":"I could not find anything relevant.","sources":[]}`,
	})
	overrideClient(t, ts, "")

	if err := askCmd.RunE(askCmd, []string{"anything"}); err != nil {
		t.Fatalf("ask with empty sources must not fail: %v", err)
	}
}

func TestDocsDeleteCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"DELETE /docs/doc-9": `{"status":"deleted"}`,
	})
	overrideClient(t, ts, "")

	if err := docsDeleteCmd.RunE(docsDeleteCmd, []string{"doc-9"}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if len(ts.requests) != 1 || ts.requests[0].Method != "DELETE" {
		t.Fatalf("unexpected requests: %+v", ts.requests)
	}
}

func TestDocsDeleteCommand_NotFound(t *testing.T) {
	ts := newTestServer(t, nil)
	overrideClient(t, ts, "")

	if err := docsDeleteCmd.RunE(docsDeleteCmd, []string{"missing"}); err == nil {
		t.Fatal("expected error for unknown doc")
	}
}
