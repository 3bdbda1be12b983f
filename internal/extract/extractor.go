// Package extract converts raw document sources (PDF bytes, audio, images,
// plain text, scraped webpages) into plain text for chunking. Failures are
// contained: a source that cannot be extracted yields empty text and a
// human-readable error note, never a thrown error or fabricated content.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// Source kinds understood by the extractor.
const (
	KindText  = "text"
	KindURL   = "url"
	KindPDF   = "pdf"
	KindAudio = "audio"
	KindImage = "image"
	KindFile  = "file"
)

// Source describes one document input to extract text from.
type Source struct {
	Kind     string
	Text     string // inline text (KindText)
	Path     string // local file path (KindPDF/KindAudio/KindImage/KindFile)
	URL      string // KindURL
	Filename string // original upload filename, used as a transcription hint
}

// Result is the extraction outcome. Text may be empty with a non-empty
// ErrNote when extraction degraded; Caption is set for images so the
// pipeline can embed it as a single unit if chunking yields nothing.
type Result struct {
	Text    string
	Caption string
	Title   string // discovered title (URL scrapes)
	ErrNote string // processing-error note for the document; empty on success
}

// Transcriber converts audio bytes to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filenameHint string) (string, error)
}

// Captioner describes an image in natural language.
type Captioner interface {
	Caption(ctx context.Context, image []byte, mimeType string) (string, error)
}

// Extractor dispatches on source kind, deferring audio and images to model
// collaborators and URLs to the scraper.
type Extractor struct {
	transcriber Transcriber
	captioner   Captioner
	scraper     *Scraper
}

// New creates an Extractor. Either collaborator may be nil, in which case the
// corresponding source kind degrades to an error note.
func New(transcriber Transcriber, captioner Captioner, scraper *Scraper) *Extractor {
	if scraper == nil {
		scraper = NewScraper(nil)
	}
	return &Extractor{transcriber: transcriber, captioner: captioner, scraper: scraper}
}

// Extract produces plain text for the source. It never returns an error to
// the caller; all failure modes are folded into Result.ErrNote so the
// ingestion pipeline can finalize the document either way.
func (e *Extractor) Extract(ctx context.Context, src Source) Result {
	switch src.Kind {
	case KindText:
		return Result{Text: src.Text}

	case KindPDF:
		data, err := os.ReadFile(src.Path)
		if err != nil {
			slog.Warn("reading pdf file failed", "path", src.Path, "error", err)
			return Result{ErrNote: "PDF file could not be read"}
		}
		text, err := pdfText(data)
		if err != nil {
			slog.Warn("pdf parse failed", "path", src.Path, "error", err)
			return Result{ErrNote: "PDF parsing failed"}
		}
		return Result{Text: text}

	case KindAudio:
		if e.transcriber == nil {
			return Result{ErrNote: "Audio transcription is not configured"}
		}
		data, err := os.ReadFile(src.Path)
		if err != nil {
			slog.Warn("reading audio file failed", "path", src.Path, "error", err)
			return Result{ErrNote: "Audio file could not be read"}
		}
		text, err := e.transcriber.Transcribe(ctx, data, src.Filename)
		if err != nil {
			slog.Warn("transcription failed", "path", src.Path, "error", err)
			return Result{ErrNote: fmt.Sprintf("Audio transcription failed: %v", err)}
		}
		return Result{Text: text}

	case KindImage:
		if e.captioner == nil {
			return Result{ErrNote: "Image captioning failed or not available"}
		}
		data, err := os.ReadFile(src.Path)
		if err != nil {
			slog.Warn("reading image file failed", "path", src.Path, "error", err)
			return Result{ErrNote: "Image file could not be read"}
		}
		caption, err := e.captioner.Caption(ctx, data, mimeFromFilename(src.Filename))
		if err != nil || caption == "" {
			slog.Warn("captioning failed", "path", src.Path, "error", err)
			// No placeholder text: the document exists without searchable content.
			return Result{ErrNote: "Image captioning failed or not available"}
		}
		return Result{Text: caption, Caption: caption}

	case KindURL:
		scraped := e.scraper.Scrape(ctx, src.URL)
		if scraped.Failed {
			return Result{
				Title:   scraped.Title,
				ErrNote: "URL content extraction failed",
				// One minimal descriptive chunk keeps the document nominally
				// searchable without pretending content was retrieved.
				Text: FailureText(src.URL, scraped.FailureReason),
			}
		}
		return Result{Text: scraped.Text, Title: scraped.Title}

	case KindFile:
		data, err := os.ReadFile(src.Path)
		if err != nil || !utf8.Valid(data) {
			return Result{}
		}
		return Result{Text: string(data)}

	default:
		slog.Warn("unknown source kind", "kind", src.Kind)
		return Result{}
	}
}

// pdfText parses PDF bytes into plain text. The underlying parser can panic
// on malformed input, so the call is isolated behind a recover.
func pdfText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return buf.String(), nil
}

const failureTextPrefix = "Web page at "

// FailureText builds the single descriptive chunk stored for a document whose
// URL could not be scraped.
func FailureText(url, reason string) string {
	return fmt.Sprintf("%s%s could not be retrieved: %s", failureTextPrefix, url, reason)
}

// IsFailureText reports whether chunk text is a synthesized failure
// description rather than extracted content. Retrieval uses this to keep
// failure notes out of answer context.
func IsFailureText(text string) bool {
	return strings.HasPrefix(text, failureTextPrefix) && strings.Contains(text, "could not be retrieved")
}

func mimeFromFilename(name string) string {
	switch {
	case strings.HasSuffix(strings.ToLower(name), ".jpg"), strings.HasSuffix(strings.ToLower(name), ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(strings.ToLower(name), ".webp"):
		return "image/webp"
	default:
		return "image/png"
	}
}

// KindForFilename sniffs the source kind from an uploaded filename.
func KindForFilename(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return KindPDF
	case strings.HasSuffix(lower, ".mp3"), strings.HasSuffix(lower, ".m4a"),
		strings.HasSuffix(lower, ".wav"), strings.HasSuffix(lower, ".mp4"):
		return KindAudio
	case strings.HasSuffix(lower, ".png"), strings.HasSuffix(lower, ".jpg"),
		strings.HasSuffix(lower, ".jpeg"), strings.HasSuffix(lower, ".webp"):
		return KindImage
	default:
		return KindFile
	}
}
