package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"secondbrain/internal/extract"
	"secondbrain/internal/ingest"
	"secondbrain/internal/storage"
)

type uploadRequest struct {
	Text  string `json:"text"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// handleUpload accepts a multipart file, inline JSON text, or a URL; creates
// the document record and queues it for ingestion.
func handleUpload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		defer r.Body.Close()

		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

		var doc storage.Document
		var err error
		if mediaType == "multipart/form-data" {
			doc, err = documentFromMultipart(deps, r)
		} else {
			doc, err = documentFromJSON(deps, r)
		}
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		doc.OwnerID = ownerID(r)
		doc.UploadedAt = time.Now().UTC()

		if err := deps.Store.SaveDocument(doc); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save document: %v", err)
			return
		}
		if err := enqueueIngest(deps.Store, doc.ID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue ingestion: %v", err)
			return
		}

		writeJSON(w, map[string]any{"ok": true, "docId": doc.ID})
	}
}

func documentFromMultipart(deps Deps, r *http.Request) (storage.Document, error) {
	if err := r.ParseMultipartForm(maxUploadBodySize); err != nil {
		return storage.Document{}, fmt.Errorf("invalid multipart body: %w", err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return storage.Document{}, fmt.Errorf("file field is required: %w", err)
	}
	defer file.Close()

	docID := uuid.New().String()
	path := filepath.Join(deps.UploadDir, docID+"_"+filepath.Base(header.Filename))
	dst, err := os.Create(path)
	if err != nil {
		return storage.Document{}, fmt.Errorf("saving upload: %w", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		return storage.Document{}, fmt.Errorf("saving upload: %w", err)
	}

	return storage.Document{
		ID:         docID,
		Title:      r.FormValue("title"),
		SourceType: extract.KindForFilename(header.Filename),
		Origin:     path,
		Filename:   header.Filename,
	}, nil
}

func documentFromJSON(deps Deps, r *http.Request) (storage.Document, error) {
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return storage.Document{}, fmt.Errorf("invalid request body: %w", err)
	}

	docID := uuid.New().String()
	switch {
	case req.URL != "":
		return storage.Document{
			ID:         docID,
			Title:      req.Title,
			SourceType: extract.KindURL,
			Origin:     req.URL,
		}, nil

	case strings.TrimSpace(req.Text) != "":
		// Inline text is persisted as a file so the pipeline reads every
		// non-URL source the same way.
		path := filepath.Join(deps.UploadDir, docID+".txt")
		if err := os.WriteFile(path, []byte(req.Text), 0o644); err != nil {
			return storage.Document{}, fmt.Errorf("saving note: %w", err)
		}
		return storage.Document{
			ID:         docID,
			Title:      req.Title,
			SourceType: extract.KindText,
			Origin:     path,
		}, nil

	default:
		return storage.Document{}, errors.New("one of text or url is required")
	}
}

func enqueueIngest(store *storage.Store, docID string) error {
	payload, err := json.Marshal(ingest.IngestPayload{DocumentID: docID})
	if err != nil {
		return err
	}
	return store.EnqueueJob(storage.Job{
		ID:          uuid.New().String(),
		Type:        ingest.JobTypeIngest,
		PayloadJSON: string(payload),
	})
}

type documentResponse struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	SourceType      string  `json:"sourceType"`
	Filename        string  `json:"filename,omitempty"`
	ProcessingError string  `json:"processingError,omitempty"`
	UploadedAt      string  `json:"uploadedAt"`
	IndexedAt       *string `json:"indexedAt"`
}

func handleListDocs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := deps.Store.ListDocuments(ownerID(r))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}

		out := make([]documentResponse, len(docs))
		for i, d := range docs {
			resp := documentResponse{
				ID:              d.ID,
				Title:           d.Title,
				SourceType:      d.SourceType,
				Filename:        d.Filename,
				ProcessingError: d.ProcessingError,
				UploadedAt:      d.UploadedAt.Format(time.RFC3339),
			}
			if d.ProcessedAt != nil {
				indexed := d.ProcessedAt.Format(time.RFC3339)
				resp.IndexedAt = &indexed
			}
			out[i] = resp
		}
		writeJSON(w, out)
	}
}

func handleDeleteDoc(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID := chi.URLParam(r, "docID")
		owner := ownerID(r)

		chunkIDs, err := deps.Store.DeleteDocument(docID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete document: %v", err)
			return
		}

		// Local vector rows are removed in the same transaction; this covers
		// an external sidecar, best effort.
		if len(chunkIDs) > 0 {
			_ = deps.Index.Delete(r.Context(), owner, chunkIDs)
		}

		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func handleGraph(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		nodes, err := deps.Store.GraphNodes()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load graph nodes: %v", err)
			return
		}
		edges, err := deps.Store.GraphEdges()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load graph edges: %v", err)
			return
		}

		if nodes == nil {
			nodes = []storage.GraphNode{}
		}
		if edges == nil {
			edges = []storage.GraphEdge{}
		}
		writeJSON(w, map[string]any{"nodes": nodes, "edges": edges})
	}
}
