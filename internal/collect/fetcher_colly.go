package collect

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
)

// PortalFetcher fetches gazette-portal landing pages with Colly. Portals
// are picky about charset and user agents, and several of them sit behind
// aggressive rate limiters; Colly handles charset detection and per-domain
// delays for us.
type PortalFetcher struct {
	UserAgent      string
	MaxRetries     int
	RequestTimeout time.Duration
	DomainDelay    time.Duration
	MaxBodySize    int
}

func NewPortalFetcher() *PortalFetcher {
	return &PortalFetcher{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		MaxRetries:     3,
		RequestTimeout: 20 * time.Second,
		DomainDelay:    1 * time.Second,
		MaxBodySize:    20 * 1024 * 1024, // bulletins can be large PDFs
	}
}

func (f *PortalFetcher) buildCollector(ctx context.Context, host string) *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(f.UserAgent),
		colly.MaxBodySize(f.MaxBodySize),
		colly.AllowURLRevisit(),
		colly.DetectCharset(),
		colly.AllowedDomains(host),
	)

	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 2,
		Delay:       f.DomainDelay,
		RandomDelay: f.DomainDelay / 2,
	})
	c.SetRequestTimeout(f.RequestTimeout)

	c.OnError(func(r *colly.Response, err error) {
		if r.Request.Ctx.GetAny("retries") == nil {
			r.Request.Ctx.Put("retries", 0)
		}
		retries := r.Request.Ctx.GetAny("retries").(int)
		if retries < f.MaxRetries {
			r.Request.Ctx.Put("retries", retries+1)
			log.Printf("[Portal] retry %d/%d for %s: %v", retries+1, f.MaxRetries, r.Request.URL, err)
			select {
			case <-ctx.Done():
				// Cancelled runs do not sit out the backoff; Fetch
				// observes ctx.Done and returns.
				return
			case <-time.After(time.Duration(retries+1) * time.Second):
			}
			r.Request.Retry()
		}
	})

	return c
}

// Fetch implements the Fetcher interface.
func (f *PortalFetcher) Fetch(ctx context.Context, targetURL string) (*FetchedDocument, error) {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	c := f.buildCollector(ctx, parsed.Hostname())

	var result *FetchedDocument
	var fetchErr error
	var once sync.Once
	finished := make(chan struct{})
	finish := func() { once.Do(func() { close(finished) }) }

	c.OnResponse(func(r *colly.Response) {
		result = &FetchedDocument{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        io.NopCloser(bytes.NewReader(r.Body)),
			FetchedAt:   time.Now(),
			Headers:     map[string][]string(r.Headers.Clone()),
		}
		finish()
	})

	c.OnError(func(r *colly.Response, err error) {
		retries := 0
		if r.Request.Ctx.GetAny("retries") != nil {
			retries = r.Request.Ctx.GetAny("retries").(int)
		}
		if retries >= f.MaxRetries {
			fetchErr = fmt.Errorf("fetch failed after %d retries: %w", f.MaxRetries, err)
			finish()
		}
	})

	if err := c.Visit(targetURL); err != nil {
		return nil, fmt.Errorf("visit failed: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-finished:
	}

	if fetchErr != nil {
		return nil, fetchErr
	}
	if result == nil {
		return nil, fmt.Errorf("no response received for %s", targetURL)
	}
	return result, nil
}
