package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"confsched/internal/config"
	appLog "confsched/internal/log"
)

// maxFeedSize bounds a single downloaded feed.
const maxFeedSize = 32 << 20

// Source is one configured schedule feed.
type Source struct {
	ID string
	// Name labels the feed and doubles as the track of uncategorized events.
	Name string
	URL  string
}

// FetchResult is the payload of one feed.
type FetchResult struct {
	Source Source
	Body   []byte
	// FromCache is set when Body came from disk: a 304, or a failed request
	// with a previously cached copy.
	FromCache bool
}

// Fetcher downloads feeds with conditional requests and keeps the last good
// copy of each on disk, so a conference venue with flaky Wi-Fi still gets a
// schedule.
type Fetcher struct {
	client *http.Client
	cache  feedCache
}

// NewFetcher returns a Fetcher caching under cacheDir. A nil client gets a
// default one with a 15s timeout.
func NewFetcher(cacheDir string, client *http.Client) *Fetcher {
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "confsched-ics")
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{client: client, cache: feedCache{dir: cacheDir}}
}

// FetchAll fetches sources concurrently. Results keep the order of sources;
// failed sources are left out of results and reported in errs.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) (results []FetchResult, errs []error) {
	type outcome struct {
		res FetchResult
		err error
	}
	outcomes := make([]outcome, len(sources))

	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.FetchOne(ctx, src)
			outcomes[i] = outcome{res, err}
		}()
	}
	wg.Wait()

	results = make([]FetchResult, 0, len(sources))
	for i, o := range outcomes {
		if o.err != nil {
			appLog.Error("ics fetch failed", o.err, "id", sources[i].ID, "url", redactURL(sources[i].URL))
			errs = append(errs, o.err)
			continue
		}
		results = append(results, o.res)
	}
	return results, errs
}

// FetchOne fetches a single feed, revalidating the cached copy with
// If-None-Match / If-Modified-Since when there is one.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, fmt.Errorf("ics: source %q has no URL", src.ID)
	}
	logURL := redactURL(src.URL)
	cached := f.cache.get(src.URL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, fmt.Errorf("ics: %s: %w", logURL, err)
	}
	if cached.body != nil {
		if cached.meta.ETag != "" {
			req.Header.Set("If-None-Match", cached.meta.ETag)
		}
		if cached.meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", cached.meta.LastModified)
		}
	}

	appLog.Debug("ics fetch start", "id", src.ID, "url", logURL)
	resp, err := f.client.Do(req)
	if err != nil {
		return cached.fallback(src, fmt.Errorf("ics: fetch %s: %w", logURL, err))
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize+1))
		if err != nil {
			return cached.fallback(src, fmt.Errorf("ics: read %s: %w", logURL, err))
		}
		if len(body) > maxFeedSize {
			return cached.fallback(src, fmt.Errorf("ics: %s: feed larger than %d bytes", logURL, maxFeedSize))
		}
		meta := cacheMeta{
			URL:          src.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			FetchedAt:    time.Now().UTC(),
		}
		if err := f.cache.put(meta, body); err != nil {
			appLog.Error("ics cache save failed", err, "id", src.ID, "url", logURL)
		}
		appLog.Info("ics feed fetched", "id", src.ID, "url", logURL, "bytes", len(body))
		return FetchResult{Source: src, Body: body}, nil

	case http.StatusNotModified:
		if cached.body == nil {
			return FetchResult{}, fmt.Errorf("ics: %s: 304 Not Modified without a cached copy", logURL)
		}
		appLog.Debug("ics feed not modified", "id", src.ID, "url", logURL)
		return FetchResult{Source: src, Body: cached.body, FromCache: true}, nil

	default:
		return cached.fallback(src, fmt.Errorf("ics: fetch %s: %s", logURL, resp.Status))
	}
}

type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

type cachedFeed struct {
	meta cacheMeta
	body []byte
}

// fallback serves the cached copy in place of a failed fetch, or returns
// cause when there is none.
func (c cachedFeed) fallback(src Source, cause error) (FetchResult, error) {
	if c.body == nil {
		return FetchResult{}, cause
	}
	appLog.Warn("ics fetch failed, serving cached copy",
		"id", src.ID,
		"err", cause,
		"cached_at", c.meta.FetchedAt,
	)
	return FetchResult{Source: src, Body: c.body, FromCache: true}, nil
}

// feedCache stores each feed as <key>.ics plus <key>.json metadata, keyed
// by a hash of the URL so tokens in private feed URLs never reach the
// filesystem.
type feedCache struct {
	dir string
}

func (c feedCache) key(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:8]))
}

// get returns the cached feed, or a zero cachedFeed when there is no usable
// copy. Metadata without a body is ignored.
func (c feedCache) get(rawURL string) cachedFeed {
	base := c.key(rawURL)
	body, err := os.ReadFile(base + ".ics")
	if err != nil || len(body) == 0 {
		return cachedFeed{}
	}
	feed := cachedFeed{body: body}
	if data, err := os.ReadFile(base + ".json"); err == nil {
		if err := json.Unmarshal(data, &feed.meta); err != nil || feed.meta.URL != rawURL {
			feed.meta = cacheMeta{}
		}
	}
	return feed
}

// put writes the body before the metadata, so validators never describe a
// body that is not on disk.
func (c feedCache) put(meta cacheMeta, body []byte) error {
	base := c.key(meta.URL)
	if err := config.WriteFileAtomic(base+".ics", body); err != nil {
		return err
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return config.WriteFileAtomic(base+".json", data)
}

// redactURL keeps only scheme and host of a feed URL for logs; private
// calendar links carry their token in the path or query.
//
//	https://example.com/path/to/private.ics?token=abcd
//	-> https://example.com/...(redacted)
func redactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "ics://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
