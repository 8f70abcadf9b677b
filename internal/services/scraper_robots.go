package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/temoto/robotstxt"
)

const defaultCrawlDelay = time.Second

// RobotsChecker fetches and caches robots.txt per site
type RobotsChecker struct {
	cache     *cache.Cache
	userAgent string
	client    *http.Client
}

// NewRobotsChecker creates a robots.txt checker that caches for 24 hours
func NewRobotsChecker(userAgent string, timeout time.Duration) *RobotsChecker {
	return &RobotsChecker{
		cache:     cache.New(24*time.Hour, time.Hour),
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
	}
}

// CanFetch reports whether robots.txt allows urlStr and the crawl delay to
// honor. A missing or unreadable robots.txt allows everything.
func (rc *RobotsChecker) CanFetch(ctx context.Context, urlStr string) (bool, time.Duration, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false, 0, fmt.Errorf("invalid URL: %w", err)
	}

	site := parsedURL.Scheme + "://" + parsedURL.Host
	if cached, found := rc.cache.Get(site); found {
		return rc.test(cached.(*robotstxt.RobotsData), parsedURL.Path)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, site+"/robots.txt", nil)
	if err != nil {
		return false, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", rc.userAgent)

	resp, err := rc.client.Do(req)
	if err != nil {
		return true, defaultCrawlDelay, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return true, defaultCrawlDelay, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return true, defaultCrawlDelay, nil
	}

	robotsData, err := robotstxt.FromBytes(body)
	if err != nil {
		return true, defaultCrawlDelay, nil
	}

	rc.cache.Set(site, robotsData, cache.DefaultExpiration)
	return rc.test(robotsData, parsedURL.Path)
}

func (rc *RobotsChecker) test(data *robotstxt.RobotsData, path string) (bool, time.Duration, error) {
	group := data.FindGroup(rc.userAgent)
	delay := defaultCrawlDelay
	if group.CrawlDelay > 0 {
		delay = group.CrawlDelay
		if delay > 10*time.Second {
			delay = 10 * time.Second
		}
	}
	return group.Test(path), delay, nil
}
