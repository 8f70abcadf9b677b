package services

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/markusmobius/go-trafilatura"
	cache "github.com/patrickmn/go-cache"

	"foodlog/internal/config"
	"foodlog/internal/security"
)

// maxPageTextLength bounds the page text handed to the extraction prompt
const maxPageTextLength = 12000

// PageFetcher returns the readable text of a web page
type PageFetcher interface {
	FetchText(ctx context.Context, urlStr string) (string, error)
}

// ScraperService fetches nutrition pages politely: robots.txt, global and
// per-domain rate limits, a concurrency cap and a body size cap
type ScraperService struct {
	client        *ScraperClient
	rateLimiter   *RateLimiter
	robotsChecker *RobotsChecker
	contentCache  *cache.Cache
	resourceMgr   *ResourceManager
	respectRobots bool
	allowPrivate  bool
}

// NewScraperService creates a scraper from the SCRAPER_* settings
func NewScraperService(cfg *config.Config) *ScraperService {
	s := &ScraperService{
		rateLimiter:   NewRateLimiter(cfg.ScraperGlobalRPS, cfg.ScraperPerDomainRPS),
		robotsChecker: NewRobotsChecker(scraperUserAgent, cfg.ScraperTimeout),
		contentCache:  cache.New(time.Hour, 10*time.Minute),
		resourceMgr:   NewResourceManager(cfg.ScraperMaxConcurrent, cfg.ScraperMaxBodyBytes),
		respectRobots: cfg.ScraperRespectRobots,
		allowPrivate:  cfg.ScraperAllowPrivate,
	}
	s.client = NewScraperClient(cfg.ScraperTimeout, func(ctx context.Context, target string) error {
		_, err := s.validateURL(ctx, target)
		return err
	})

	log.Printf("✅ [SCRAPER] Initialized: max_concurrent=%d, global_rate=%.1f req/s, domain_rate=%.1f req/s",
		cfg.ScraperMaxConcurrent, cfg.ScraperGlobalRPS, cfg.ScraperPerDomainRPS)
	return s
}

// FetchText downloads a page and extracts its main text with trafilatura
func (s *ScraperService) FetchText(ctx context.Context, urlStr string) (string, error) {
	startTime := time.Now()

	parsedURL, err := s.validateURL(ctx, urlStr)
	if err != nil {
		return "", err
	}

	if cached, found := s.contentCache.Get(urlStr); found {
		log.Printf("✅ [SCRAPER] Cache hit for URL: %s", urlStr)
		return cached.(string), nil
	}

	crawlDelay := defaultCrawlDelay
	if s.respectRobots {
		allowed, delay, err := s.robotsChecker.CanFetch(ctx, urlStr)
		if err != nil {
			log.Printf("⚠️ [SCRAPER] Failed to check robots.txt for %s: %v", urlStr, err)
		} else {
			crawlDelay = delay
		}
		if err == nil && !allowed {
			return "", fmt.Errorf("access blocked by robots.txt for: %s", urlStr)
		}
	}

	if err := s.rateLimiter.Wait(ctx, parsedURL.Host, crawlDelay); err != nil {
		return "", fmt.Errorf("rate limit error: %w", err)
	}

	if err := s.resourceMgr.Acquire(ctx); err != nil {
		return "", err
	}
	defer s.resourceMgr.Release()

	resp, err := s.client.Get(ctx, urlStr)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return "", fmt.Errorf("HTTP error %d: %s", resp.StatusCode, resp.Status)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "application/xhtml+xml") && !strings.Contains(contentType, "text/plain") {
		return "", fmt.Errorf("unsupported content type: %s", contentType)
	}

	body, err := s.resourceMgr.ReadBody(resp.Body)
	if err != nil {
		return "", err
	}

	text := string(body)
	if !strings.Contains(contentType, "text/plain") {
		result, err := trafilatura.Extract(bytes.NewReader(body), trafilatura.Options{
			OriginalURL:    parsedURL,
			EnableFallback: true,
		})
		if err != nil {
			return "", fmt.Errorf("failed to extract content: %w", err)
		}
		if result == nil || strings.TrimSpace(result.ContentText) == "" {
			return "", fmt.Errorf("no content extracted from page")
		}
		text = result.ContentText
		if result.Metadata.Title != "" {
			text = result.Metadata.Title + "\n\n" + text
		}
	}

	if len(text) > maxPageTextLength {
		text = text[:maxPageTextLength]
	}

	s.contentCache.Set(urlStr, text, cache.DefaultExpiration)
	log.Printf("✅ [SCRAPER] Fetched %s (latency: %dms, length: %d chars)",
		urlStr, time.Since(startTime).Milliseconds(), len(text))
	return text, nil
}

// validateURL rejects non-HTTP schemes and, outside tests, hosts that are
// or resolve to private addresses
func (s *ScraperService) validateURL(ctx context.Context, urlStr string) (*url.URL, error) {
	if s.allowPrivate {
		parsedURL, err := url.Parse(urlStr)
		if err != nil {
			return nil, fmt.Errorf("invalid URL format: %w", err)
		}
		if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			return nil, fmt.Errorf("only HTTP/HTTPS URLs are supported, got: %s", parsedURL.Scheme)
		}
		return parsedURL, nil
	}
	return security.ValidatePublicURL(ctx, nil, urlStr)
}
