package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	scrapeTimeout    = 10 * time.Second
	maxScrapeBody    = 5 << 20 // 5MB
	scrapeUserAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	minScrapedLength = 10
)

var (
	loginTextPattern = regexp.MustCompile(`(?i)sign in|log in|login|authentication required|please log in|access denied|unauthorized`)
	dashboardPattern = regexp.MustCompile(`(?i)dashboard|admin|console|portal`)
)

// ScrapeResult is the outcome of fetching and parsing a URL. Failed scrapes
// carry a reason instead of an error: scraping never fails the caller.
type ScrapeResult struct {
	Title         string
	Text          string
	Failed        bool
	FailureReason string
}

// Scraper fetches a URL and extracts its readable text with goquery.
type Scraper struct {
	httpClient *http.Client
}

// NewScraper creates a Scraper. Passing nil uses a client with the default
// scrape timeout.
func NewScraper(client *http.Client) *Scraper {
	if client == nil {
		client = &http.Client{Timeout: scrapeTimeout}
	}
	return &Scraper{httpClient: client}
}

// Scrape fetches the URL and returns (title, text). Authentication walls,
// script-only pages, and empty pages are reported as failures with a
// best-effort reason; network and parse errors likewise. Scrape never
// returns an error.
func (s *Scraper) Scrape(ctx context.Context, url string) ScrapeResult {
	res, err := s.scrape(ctx, url)
	if err != nil {
		slog.Warn("scrape failed", "url", url, "error", err)
		return ScrapeResult{
			Title:         url,
			Failed:        true,
			FailureReason: fmt.Sprintf("%v. The URL may require authentication, JavaScript rendering, or may be inaccessible.", err),
		}
	}
	return res
}

func (s *Scraper) scrape(ctx context.Context, url string) (ScrapeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, scrapeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ScrapeResult{}, fmt.Errorf("invalid url: %w", err)
	}
	req.Header.Set("User-Agent", scrapeUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return ScrapeResult{}, fmt.Errorf("fetching url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return ScrapeResult{}, fmt.Errorf("url returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxScrapeBody))
	if err != nil {
		return ScrapeResult{}, fmt.Errorf("parsing html: %w", err)
	}

	if reason := detectLoginWall(doc, url); reason != "" {
		return ScrapeResult{}, fmt.Errorf("%s", reason)
	}

	text := harvestText(doc)

	// Pages that are only tracking scripts yield no knowledge.
	if strings.Contains(strings.ToLower(text), "googletagmanager") && len(text) < 500 {
		return ScrapeResult{}, fmt.Errorf("only tracking scripts were found; the page likely requires authentication")
	}
	if len(strings.TrimSpace(text)) < minScrapedLength {
		return ScrapeResult{}, fmt.Errorf("no meaningful content extracted from URL")
	}

	title := strings.TrimSpace(doc.Find("head title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if title == "" {
		title = url
	}

	return ScrapeResult{Title: title, Text: text}, nil
}

// detectLoginWall returns a non-empty reason when the page looks like an
// authentication gate rather than content.
func detectLoginWall(doc *goquery.Document, url string) string {
	bodyText := doc.Find("body").Text()
	hasLoginIndicators := loginTextPattern.MatchString(bodyText) ||
		doc.Find(`input[type="password"]`).Length() > 0 ||
		doc.Find(`form[action*="login"], form[action*="signin"], form[action*="auth"]`).Length() > 0

	scriptCount := doc.Find("script").Length()
	hasMinimalContent := len(strings.TrimSpace(bodyText)) < 200
	isMostlyScripts := scriptCount > 5 && hasMinimalContent
	isDashboardURL := dashboardPattern.MatchString(url)

	if hasLoginIndicators || (isDashboardURL && isMostlyScripts) {
		return "URL requires authentication; dashboard and admin pages typically require login to access content"
	}
	return ""
}

// harvestText collects content-bearing elements, falling back to the whole
// body (minus chrome) when the page has no recognizable content blocks.
func harvestText(doc *goquery.Document) string {
	var sb strings.Builder
	doc.Find("p, article, main, .content, .post, .article, section").Each(func(_ int, sel *goquery.Selection) {
		txt := strings.TrimSpace(sel.Text())
		if len(txt) > 20 {
			sb.WriteString(txt)
			sb.WriteString("\n\n")
		}
	})

	text := sb.String()
	if strings.TrimSpace(text) == "" {
		doc.Find("script, style, nav, header, footer, iframe").Remove()
		text = doc.Find("body").Text()
	}

	return strings.Join(strings.Fields(text), " ")
}
