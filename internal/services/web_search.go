package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"foodlog/internal/config"
)

// WebResult is one organic search result
type WebResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// WebSearcher runs a web search for the nutrition fallback
type WebSearcher interface {
	Search(ctx context.Context, query string) ([]WebResult, error)
}

// NewWebSearcher picks the provider named by WEB_SEARCH_PROVIDER
func NewWebSearcher(cfg *config.Config) WebSearcher {
	if cfg.WebSearchProvider == "serper" {
		return NewSerperSearcher(cfg.SerperURL, cfg.SerperAPIKey)
	}
	return NewSearXNGSearcher(cfg.SearXNGURLs)
}

// SearXNGSearcher round-robins queries across SearXNG instances, trying
// the next instance when one fails
type SearXNGSearcher struct {
	urls    []string
	counter uint64
	client  *http.Client
}

// NewSearXNGSearcher creates a searcher over the given instance URLs
func NewSearXNGSearcher(urls []string) *SearXNGSearcher {
	normalized := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSuffix(strings.TrimSpace(u), "/"); u != "" {
			normalized = append(normalized, u)
		}
	}
	if len(normalized) == 0 {
		normalized = append(normalized, "http://localhost:8080")
	}
	log.Printf("🔍 [SEARCH] Round-robin over %d SearXNG instance(s)", len(normalized))

	return &SearXNGSearcher{
		urls:   normalized,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Search queries the next instance in turn
func (s *SearXNGSearcher) Search(ctx context.Context, query string) ([]WebResult, error) {
	start := atomic.AddUint64(&s.counter, 1) - 1

	var lastErr error
	for attempt := 0; attempt < len(s.urls); attempt++ {
		base := s.urls[(start+uint64(attempt))%uint64(len(s.urls))]
		results, err := s.searchInstance(ctx, base, query)
		if err == nil {
			return results, nil
		}
		log.Printf("⚠️ [SEARCH] Instance %s failed: %v", base, err)
		lastErr = err
	}
	return nil, fmt.Errorf("all %d SearXNG instances failed, last error: %w", len(s.urls), lastErr)
}

func (s *SearXNGSearcher) searchInstance(ctx context.Context, base, query string) ([]WebResult, error) {
	searchURL := fmt.Sprintf("%s/search?q=%s&format=json&safesearch=1", base, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", scraperUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search failed with status: %d", resp.StatusCode)
	}

	var body struct {
		Results []WebResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}
	return body.Results, nil
}

// SerperSearcher queries the Serper Google search API
type SerperSearcher struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewSerperSearcher creates a Serper client
func NewSerperSearcher(endpoint, apiKey string) *SerperSearcher {
	return &SerperSearcher{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Search posts the query and returns the organic results
func (s *SerperSearcher) Search(ctx context.Context, query string) ([]WebResult, error) {
	payload, err := json.Marshal(map[string]interface{}{"q": query, "num": 10})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-API-KEY", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("serper request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("serper returned status %d", resp.StatusCode)
	}

	var body struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to parse serper results: %w", err)
	}

	results := make([]WebResult, 0, len(body.Organic))
	for _, o := range body.Organic {
		results = append(results, WebResult{Title: o.Title, URL: o.Link, Content: o.Snippet})
	}
	return results, nil
}
