package services

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

const (
	scraperUserAgent  = "foodlog-bot/1.0 (+https://foodlog.example.com/bot)"
	maxPageRedirects  = 5
	pageAcceptHeaders = "text/html,application/xhtml+xml;q=0.9,text/plain;q=0.5"
)

// RedirectGuard vets every redirect target before it is followed
type RedirectGuard func(ctx context.Context, target string) error

// ScraperClient fetches nutrition pages. Redirects are re-checked with the
// same guard as the first URL so a public page can't bounce the fetch onto
// an internal host.
type ScraperClient struct {
	httpClient *http.Client
}

// NewScraperClient creates a client whose requests give up after timeout.
// guard may be nil.
func NewScraperClient(timeout time.Duration, guard RedirectGuard) *ScraperClient {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     60 * time.Second,
		TLSHandshakeTimeout: timeout,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &ScraperClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxPageRedirects {
					return fmt.Errorf("stopped after %d redirects", maxPageRedirects)
				}
				if guard == nil {
					return nil
				}
				if err := guard(req.Context(), req.URL.String()); err != nil {
					return fmt.Errorf("redirect to %s refused: %w", req.URL.Host, err)
				}
				return nil
			},
		},
	}
}

// Get requests a page as the foodlog bot
func (c *ScraperClient) Get(ctx context.Context, pageURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", scraperUserAgent)
	req.Header.Set("Accept", pageAcceptHeaders)
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")

	return c.httpClient.Do(req)
}
