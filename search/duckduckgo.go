// Package search wraps an external web search engine behind a narrow
// text-in, text-out interface.
package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Provider runs one web search and returns ranked results as plain text.
type Provider interface {
	Search(ctx context.Context, query string) (string, error)
}

type Options struct {
	Endpoint   string
	MaxResults int
}

// DuckDuckGo scrapes the HTML (non-JS) results endpoint, which needs no API
// key.
type DuckDuckGo struct {
	endpoint   string
	maxResults int
	client     *http.Client
}

func NewDuckDuckGo(opts Options) *DuckDuckGo {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		endpoint = "https://html.duckduckgo.com/html/"
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}

	return &DuckDuckGo{
		endpoint:   endpoint,
		maxResults: maxResults,
		client: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

func (d *DuckDuckGo) Search(ctx context.Context, query string) (string, error) {
	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "rainbow-agent/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call search endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("search endpoint returned status %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse search results: %w", err)
	}

	builder := &strings.Builder{}
	count := 0
	doc.Find(".result").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		title := strings.TrimSpace(sel.Find(".result__title").Text())
		snippet := strings.TrimSpace(sel.Find(".result__snippet").Text())
		link, _ := sel.Find(".result__title a").Attr("href")
		if title == "" && snippet == "" {
			return true
		}

		count++
		fmt.Fprintf(builder, "%d. %s\n", count, title)
		if link != "" {
			fmt.Fprintf(builder, "   %s\n", link)
		}
		if snippet != "" {
			fmt.Fprintf(builder, "   %s\n", snippet)
		}
		return count < d.maxResults
	})

	if count == 0 {
		return "", fmt.Errorf("no search results for %q", query)
	}

	return builder.String(), nil
}

var _ Provider = (*DuckDuckGo)(nil)
