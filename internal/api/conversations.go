package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"secondbrain/internal/storage"
)

const maxConversationBodySize = 1 << 20 // 1MB
const maxDerivedTitleLength = 50

type conversationRequest struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Messages json.RawMessage `json:"messages"`
}

type conversationResponse struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Messages  json.RawMessage `json:"messages"`
	CreatedAt string          `json:"createdAt"`
	UpdatedAt string          `json:"updatedAt"`
}

func toConversationResponse(c storage.Conversation) conversationResponse {
	return conversationResponse{
		ID:        c.ID,
		Title:     c.Title,
		Messages:  json.RawMessage(c.MessagesJSON),
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
		UpdatedAt: c.UpdatedAt.Format(time.RFC3339),
	}
}

// handleSaveConversation creates or updates a conversation. A missing title
// is derived from the first user message so the sidebar has something to show.
func handleSaveConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxConversationBodySize)
		defer r.Body.Close()

		var req conversationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Messages) == 0 {
			req.Messages = json.RawMessage("[]")
		}
		var check []json.RawMessage
		if err := json.Unmarshal(req.Messages, &check); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "messages must be a JSON array")
			return
		}

		if req.ID == "" {
			req.ID = uuid.New().String()
		}
		if req.Title == "" {
			req.Title = titleFromMessages(req.Messages)
		}

		now := time.Now().UTC()
		conv := storage.Conversation{
			ID:           req.ID,
			OwnerID:      ownerID(r),
			Title:        req.Title,
			MessagesJSON: string(req.Messages),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := deps.Store.SaveConversation(conv); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save conversation: %v", err)
			return
		}

		saved, err := deps.Store.GetConversation(conv.OwnerID, conv.ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load conversation: %v", err)
			return
		}
		writeJSON(w, toConversationResponse(saved))
	}
}

func handleListConversations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convs, err := deps.Store.ListConversations(ownerID(r))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list conversations: %v", err)
			return
		}

		out := make([]conversationResponse, len(convs))
		for i, c := range convs {
			out[i] = toConversationResponse(c)
		}
		writeJSON(w, out)
	}
}

func handleGetConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, err := deps.Store.GetConversation(ownerID(r), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get conversation: %v", err)
			return
		}
		writeJSON(w, toConversationResponse(conv))
	}
}

func handleDeleteConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteConversation(ownerID(r), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete conversation: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

// titleFromMessages takes the first user message's opening characters.
func titleFromMessages(messages json.RawMessage) string {
	var msgs []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(messages, &msgs); err != nil {
		return ""
	}
	for _, m := range msgs {
		if m.Role != "user" || m.Content == "" {
			continue
		}
		runes := []rune(m.Content)
		if len(runes) > maxDerivedTitleLength {
			return string(runes[:maxDerivedTitleLength])
		}
		return m.Content
	}
	return ""
}
