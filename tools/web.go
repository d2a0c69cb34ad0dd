package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const webUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"

// ============================================================================
// WebSearchTool
// ============================================================================

// WebSearchTool searches the web using DuckDuckGo.
type WebSearchTool struct{}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web using DuckDuckGo and return results. Use for finding current information, documentation, etc."
}

func (t *WebSearchTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query.",
			},
			"max_results": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results to return. Defaults to 5.",
			},
		},
		"required": []string{"query"},
	}
}

func (t *WebSearchTool) Capabilities() []string { return []string{"network"} }

func (t *WebSearchTool) RequiresApproval() bool { return false }

// webSearchArgs are the arguments for web_search.
type webSearchArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

// Execute runs the tool.
func (t *WebSearchTool) Execute(ctx context.Context, input json.RawMessage) Result {
	var a webSearchArgs
	if err := json.Unmarshal(input, &a); err != nil {
		return Failure("invalid arguments: %v", err)
	}

	if a.MaxResults <= 0 {
		a.MaxResults = 5
	}

	// DuckDuckGo HTML search needs no API key.
	searchURL := fmt.Sprintf("https://html.duckduckgo.com/html/?q=%s", url.QueryEscape(a.Query))

	client := &http.Client{Timeout: 15 * time.Second}
	req, err := http.NewRequestWithContext(ctx, "GET", searchURL, nil)
	if err != nil {
		return Failure("failed to create request: %v", err)
	}
	req.Header.Set("User-Agent", webUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return Failure("search request failed: %v", err)
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return Failure("failed to parse response: %v", err)
	}

	results := parseDuckDuckGoResults(doc, a.MaxResults)
	if len(results) == 0 {
		return Success("No search results found.")
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Search results for: %s\n\n", a.Query))
	for i, r := range results {
		sb.WriteString(fmt.Sprintf("%d. %s\n   %s\n   %s\n\n", i+1, r.Title, r.URL, r.Snippet))
	}

	return Success(sb.String())
}

// searchResult represents a single search result.
type searchResult struct {
	Title   string
	URL     string
	Snippet string
}

// parseDuckDuckGoResults extracts results from the DuckDuckGo HTML page.
func parseDuckDuckGoResults(doc *goquery.Document, maxResults int) []searchResult {
	var results []searchResult

	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		link := s.Find(".result__a").First()
		href, _ := link.Attr("href")
		title := strings.TrimSpace(link.Text())
		snippet := strings.TrimSpace(s.Find(".result__snippet").First().Text())

		if title == "" || href == "" {
			return true
		}
		results = append(results, searchResult{
			Title:   title,
			URL:     unwrapDuckDuckGoURL(href),
			Snippet: snippet,
		})
		return len(results) < maxResults
	})

	return results
}

// unwrapDuckDuckGoURL extracts the destination from the redirect link.
func unwrapDuckDuckGoURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return raw
}

// ============================================================================
// WebFetchTool
// ============================================================================

// WebFetchTool fetches content from a URL.
type WebFetchTool struct{}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return "Fetch the content of a web page. Returns the text content (HTML tags stripped for readability)."
}

func (t *WebFetchTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The URL to fetch.",
			},
			"raw": map[string]any{
				"type":        "boolean",
				"description": "If true, return raw HTML instead of stripped text. Defaults to false.",
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Capabilities() []string { return []string{"network"} }

func (t *WebFetchTool) RequiresApproval() bool { return false }

// webFetchArgs are the arguments for web_fetch.
type webFetchArgs struct {
	URL string `json:"url"`
	Raw bool   `json:"raw,omitempty"`
}

// Execute runs the tool.
func (t *WebFetchTool) Execute(ctx context.Context, input json.RawMessage) Result {
	var a webFetchArgs
	if err := json.Unmarshal(input, &a); err != nil {
		return Failure("invalid arguments: %v", err)
	}

	parsedURL, err := url.Parse(a.URL)
	if err != nil {
		return Failure("invalid URL: %v", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return Failure("only http and https URLs are supported")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	req, err := http.NewRequestWithContext(ctx, "GET", a.URL, nil)
	if err != nil {
		return Failure("failed to create request: %v", err)
	}
	req.Header.Set("User-Agent", webUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		return Failure("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Failure("HTTP %d %s", resp.StatusCode, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return Failure("failed to parse response: %v", err)
	}

	var content string
	if a.Raw {
		content, err = doc.Html()
		if err != nil {
			return Failure("failed to render page: %v", err)
		}
	} else {
		doc.Find("script, style, noscript").Remove()
		content = cleanText(doc.Text())
	}

	const maxLen = 100000
	if len(content) > maxLen {
		content = content[:maxLen] + "\n... (content truncated)"
	}

	return Success(content)
}

// cleanText drops blank lines and trims each remaining line.
func cleanText(text string) string {
	lines := strings.Split(text, "\n")
	var cleanLines []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			cleanLines = append(cleanLines, line)
		}
	}
	return strings.Join(cleanLines, "\n")
}
