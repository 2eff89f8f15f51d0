// Package ingest turns a web page into training text. It fetches the URL,
// extracts the readable article content, and normalises it down to a bounded
// plain-text fact suitable for storage and embedding.
package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"
)

// MaxExtractedLen bounds the text extracted from a page, in bytes. Longer
// articles are truncated at a rune boundary.
const MaxExtractedLen = 5000

// fetchTimeout bounds the whole fetch-and-parse operation.
const fetchTimeout = 15 * time.Second

// Fetcher downloads pages and extracts their readable text.
// Safe for concurrent use.
type Fetcher struct {
	client *http.Client
}

// NewFetcher constructs a Fetcher with a sensible timeout.
func NewFetcher() *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: fetchTimeout}}
}

// Extract fetches rawURL and returns its readable article text, cleaned and
// truncated to MaxExtractedLen.
func (f *Fetcher) Extract(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("ingest: invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("ingest: unsupported URL scheme %q", parsed.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("ingest: create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ingest: fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("ingest: fetch %s: HTTP %d", rawURL, resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return "", fmt.Errorf("ingest: parse %s: %w", rawURL, err)
	}

	text := CleanText(article.TextContent)
	if text == "" {
		return "", fmt.Errorf("ingest: no readable content at %s", rawURL)
	}
	return Truncate(text, MaxExtractedLen), nil
}

// CleanText collapses all whitespace runs to single spaces and trims the ends.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate cuts s to at most maxBytes, backing up to a rune boundary so the
// result is always valid UTF-8.
func Truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := s[:maxBytes]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
