// Package feed retrieves iCal feeds and decodes them into event components.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrFetch wraps every failure to retrieve a feed.
var ErrFetch = errors.New("feed fetch failed")

// DefaultTimeout bounds a single feed request.
const DefaultTimeout = 30 * time.Second

const maxFeedSize = 32 << 20

// Fetcher downloads one feed at a time, honoring ETag and Last-Modified.
// The validators and last body are kept in memory for the fetcher's lifetime.
type Fetcher struct {
	client *http.Client
	log    *zap.SugaredLogger

	mu           sync.Mutex
	url          string
	etag         string
	lastModified string
	body         []byte
}

// NewFetcher creates a Fetcher. A nil client gets a default one with DefaultTimeout.
func NewFetcher(client *http.Client, log *zap.SugaredLogger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Fetcher{client: client, log: log}
}

// Fetch returns the raw calendar text at url. A 304 response reuses the body
// from the previous successful fetch of the same URL.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: empty URL", ErrFetch)
	}
	// webcal is just http with a different scheme name.
	if rest, ok := strings.CutPrefix(url, "webcal://"); ok {
		url = "https://" + rest
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")
	if f.url == url && len(f.body) > 0 {
		if f.etag != "" {
			req.Header.Set("If-None-Match", f.etag)
		}
		if f.lastModified != "" {
			req.Header.Set("If-Modified-Since", f.lastModified)
		}
	}

	f.log.Debugw("Fetching feed", "url", RedactURL(url))
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
		if err != nil {
			return nil, fmt.Errorf("%w: reading body: %v", ErrFetch, err)
		}
		f.url = url
		f.etag = resp.Header.Get("ETag")
		f.lastModified = resp.Header.Get("Last-Modified")
		f.body = body
		f.log.Debugw("Fetched feed", "url", RedactURL(url), "bytes", len(body))
		return body, nil

	case http.StatusNotModified:
		if f.url != url || len(f.body) == 0 {
			return nil, fmt.Errorf("%w: 304 Not Modified without a cached body", ErrFetch)
		}
		f.log.Debugw("Feed not modified, reusing previous body", "url", RedactURL(url))
		return f.body, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrFetch, resp.Status)
	}
}

// RedactURL hides the path and query of a feed URL, which often embed a
// private access token.
func RedactURL(u string) string {
	scheme, rest, ok := strings.Cut(u, "://")
	if !ok {
		return "...(redacted)"
	}
	host, _, _ := strings.Cut(rest, "/")
	host, _, _ = strings.Cut(host, "?")
	if at := strings.LastIndex(host, "@"); at >= 0 {
		host = host[at+1:]
	}
	return scheme + "://" + host + "/...(redacted)"
}
