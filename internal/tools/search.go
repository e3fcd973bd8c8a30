package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultSearchBaseURL is the production search endpoint.
const DefaultSearchBaseURL = "https://serpapi.com/search.json"

// WebSearcher queries a SERP provider and flattens the answer into text the
// model can quote.
type WebSearcher struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// SearchOption configures a WebSearcher.
type SearchOption func(*WebSearcher)

// WithSearchBaseURL overrides DefaultSearchBaseURL, mainly for tests.
func WithSearchBaseURL(u string) SearchOption {
	return func(s *WebSearcher) { s.baseURL = u }
}

// WithSearchHTTPClient supplies a custom HTTP client.
func WithSearchHTTPClient(hc *http.Client) SearchOption {
	return func(s *WebSearcher) { s.httpClient = hc }
}

// NewWebSearcher creates a WebSearcher authenticated with apiKey.
func NewWebSearcher(apiKey string, opts ...SearchOption) *WebSearcher {
	s := &WebSearcher{
		baseURL:    DefaultSearchBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search runs query and returns a short textual digest. The provider's
// answer box is preferred; otherwise the top organic snippets are joined.
func (s *WebSearcher) Search(ctx context.Context, query string) (string, error) {
	q := url.Values{
		"q":        {query},
		"api_key":  {s.apiKey},
		"no_cache": {"true"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build search request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search request: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		AnswerBox struct {
			Answer  string `json:"answer"`
			Snippet string `json:"snippet"`
		} `json:"answer_box"`
		OrganicResults []struct {
			Title   string `json:"title"`
			Snippet string `json:"snippet"`
		} `json:"organic_results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode search response: %w", err)
	}

	if payload.AnswerBox.Answer != "" {
		return payload.AnswerBox.Answer, nil
	}
	if payload.AnswerBox.Snippet != "" {
		return payload.AnswerBox.Snippet, nil
	}

	var lines []string
	for i, r := range payload.OrganicResults {
		if i == 3 {
			break
		}
		if r.Snippet == "" {
			continue
		}
		lines = append(lines, r.Title+"："+r.Snippet)
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("search returned no usable results")
	}
	return strings.Join(lines, "\n"), nil
}
