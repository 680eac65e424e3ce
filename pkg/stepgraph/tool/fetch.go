package tool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// FetchName is the name of the URL fetching tool.
const FetchName = "fetch_url"

// DefaultFetchLimit caps the number of characters a fetch returns.
const DefaultFetchLimit = 8000

// FetchInput is the argument of the fetch_url tool.
type FetchInput struct {
	URL string `json:"url"`
}

var (
	scriptBlock = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	htmlTag     = regexp.MustCompile(`(?s)<[^>]+>`)
	blankRun    = regexp.MustCompile(`\s+`)
)

// NewFetch returns the fetch_url tool. It GETs an http(s) URL and returns
// the response text with markup stripped, truncated to limit characters.
// A nil client uses one with a 20 second timeout; limit <= 0 uses
// DefaultFetchLimit.
func NewFetch(client *http.Client, limit int) Tool {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if limit <= 0 {
		limit = DefaultFetchLimit
	}
	return Typed(FetchName, "Fetch a web page and return its text content.",
		func(ctx context.Context, in FetchInput) (string, error) {
			return fetch(ctx, client, in.URL, limit)
		})
}

func fetch(ctx context.Context, client *http.Client, raw string, limit int) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: url must be absolute http(s), got %q", ErrInvalidArguments, raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "stepgraph-fetch/1")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("GET %s: status %d", u, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(limit)*8))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", u, err)
	}

	text := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "html") {
		text = scriptBlock.ReplaceAllString(text, " ")
		text = htmlTag.ReplaceAllString(text, " ")
	}
	text = strings.TrimSpace(blankRun.ReplaceAllString(text, " "))

	if r := []rune(text); len(r) > limit {
		text = string(r[:limit])
	}
	return text, nil
}
