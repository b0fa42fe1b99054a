// ABOUTME: DuckDuckGo HTML search client used by the web_search tool
// ABOUTME: Builds the extraction prompt and numbered source list for the final reply

// Package search runs web searches and shapes their results for the model.
package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	// DefaultBaseURL is DuckDuckGo's script-free results page.
	DefaultBaseURL = "https://html.duckduckgo.com/html/"

	maxErrorBody = 512
	userAgent    = "tool-bot/1.0"
)

// SystemPrompt instructs the model that turns results into an answer.
const SystemPrompt = "You are a helpful assistant that extracts and synthesizes information from web search results. " +
	"Provide clear, concise answers based on the provided content. " +
	"Always cite your sources by mentioning the source number."

// ErrNoResults is returned when a page parsed but listed nothing.
var ErrNoResults = errors.New("no search results")

// Result is one search hit.
type Result struct {
	Title   string
	Snippet string
	URL     string
}

// Client queries DuckDuckGo.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// New creates a client.
func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		http:    httpClient,
		logger:  logger.With("component", "search"),
	}
}

// Search returns at most limit results for query.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", query, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("searching %q: status %d: %s", query, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	results, err := parseResults(resp.Body, limit)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", query, err)
	}
	c.logger.Info("web search", "query", query, "results", len(results))
	return results, nil
}

func parseResults(r io.Reader, limit int) ([]Result, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing results page: %w", err)
	}

	var results []Result
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if limit > 0 && len(results) >= limit {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Div && hasClass(n, "result") && !hasClass(n, "result--ad") {
			if res, ok := resultFrom(n); ok {
				results = append(results, res)
			}
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	if len(results) == 0 {
		return nil, ErrNoResults
	}
	return results, nil
}

func resultFrom(n *html.Node) (Result, bool) {
	var res Result
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case hasClass(n, "result__a"):
				res.Title = text(n)
				res.URL = target(attr(n, "href"))
			case hasClass(n, "result__snippet"):
				res.Snippet = text(n)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return res, res.Title != "" && res.URL != ""
}

// target unwraps DuckDuckGo's redirect links to the destination URL.
func target(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if dest := u.Query().Get("uddg"); dest != "" {
		return dest
	}
	if u.Scheme == "" && strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func text(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
