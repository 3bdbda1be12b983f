// Package openai talks to an OpenAI-compatible API for embeddings, chat
// completion (plain and streaming), audio transcription, and image
// captioning. Every call carries its own timeout; no global deadline is
// imposed on callers.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL    = "https://api.openai.com/v1"
	embedTimeout      = 30 * time.Second
	chatTimeout       = 60 * time.Second
	streamTimeout     = 300 * time.Second
	transcribeTimeout = 120 * time.Second
	captionTimeout    = 60 * time.Second
)

// Client communicates with an OpenAI-compatible HTTP API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client

	EmbedModel   string
	ChatModel    string
	WhisperModel string
	CaptionModel string
}

// New creates a Client with the given API key and default models.
func New(apiKey string) *Client {
	return &Client{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		httpClient:   &http.Client{},
		EmbedModel:   "text-embedding-3-small",
		ChatModel:    "gpt-4o-mini",
		WhisperModel: "whisper-1",
		CaptionModel: "gpt-4o-mini",
	}
}

// NewWithBaseURL creates a client pointing at a custom base URL (for testing
// and for self-hosted OpenAI-compatible servers).
func NewWithBaseURL(apiKey, baseURL string) *Client {
	c := New(apiKey)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	var resp embedResponse
	if err := c.postJSON(ctx, "/embeddings", embedRequest{Model: c.EmbedModel, Input: text}, &resp); err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response contained no data")
	}
	return resp.Data[0].Embedding, nil
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	Stream         bool          `json:"stream,omitempty"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Chat sends a single-turn prompt and returns the assistant's response text.
func (c *Client) Chat(ctx context.Context, prompt string) (string, error) {
	return c.chat(ctx, prompt, false)
}

// ChatJSON is like Chat but requests a JSON object response, used by the
// entity extraction adapter.
func (c *Client) ChatJSON(ctx context.Context, prompt string) (string, error) {
	return c.chat(ctx, prompt, true)
}

func (c *Client) chat(ctx context.Context, prompt string, jsonMode bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	req := chatRequest{
		Model:       c.ChatModel,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.2,
	}
	if jsonMode {
		req.ResponseFormat = &respFormat{Type: "json_object"}
	}

	var resp chatResponse
	if err := c.postJSON(ctx, "/chat/completions", req, &resp); err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat response contained no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// ChatStream sends a single-turn prompt with streaming enabled and invokes
// onFragment for every content delta as it arrives. It returns the full
// accumulated answer. Cancelling ctx aborts the upstream call.
func (c *Client) ChatStream(ctx context.Context, prompt string, onFragment func(string)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, streamTimeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model:       c.ChatModel,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.2,
		Stream:      true,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("streaming chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apiError(resp)
	}

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var delta struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(payload), &delta); err != nil {
			continue // ignore malformed keep-alive lines
		}
		if len(delta.Choices) > 0 && delta.Choices[0].Delta.Content != "" {
			full.WriteString(delta.Choices[0].Delta.Content)
			if onFragment != nil {
				onFragment(delta.Choices[0].Delta.Content)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), fmt.Errorf("reading stream: %w", err)
	}
	return full.String(), nil
}

// Transcribe sends audio bytes to the transcription endpoint and returns the
// transcript. It fails with a descriptive error on unsupported formats; it
// never fabricates a transcript.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filenameHint string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, transcribeTimeout)
	defer cancel()

	if filenameHint == "" {
		filenameHint = "audio.mp3"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filenameHint)
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("writing audio data: %w", err)
	}
	if err := mw.WriteField("model", c.WhisperModel); err != nil {
		return "", fmt.Errorf("writing model field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("closing multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("transcribing audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apiError(resp)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding transcription: %w", err)
	}
	return out.Text, nil
}

// Caption asks a vision-capable chat model to describe the image. An empty
// string with a nil error never happens; callers treat any error as
// "captioning unavailable" and must not store placeholder text.
func (c *Client) Caption(ctx context.Context, image []byte, mimeType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, captionTimeout)
	defer cancel()

	if mimeType == "" {
		mimeType = "image/png"
	}
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)

	req := chatRequest{
		Model: c.CaptionModel,
		Messages: []chatMessage{{
			Role: "user",
			Content: []map[string]interface{}{
				{"type": "text", "text": "Describe this image in one or two factual sentences."},
				{"type": "image_url", "image_url": map[string]string{"url": dataURL}},
			},
		}},
		Temperature: 0.2,
	}

	var resp chatResponse
	if err := c.postJSON(ctx, "/chat/completions", req, &resp); err != nil {
		return "", fmt.Errorf("captioning image: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("caption response was empty")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = resp.Status
	}
	return fmt.Errorf("upstream status %d: %s", resp.StatusCode, msg)
}
