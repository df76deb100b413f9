package cdn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/bundlecfg/internal/buildenv"
)

// ErrAssetUnavailable indicates a CDN asset could not be fetched
var ErrAssetUnavailable = errors.New("CDN asset unavailable")

// NewCachingHTTPClient returns a client that caches CDN responses in memory, or on disk
// when cacheDir is set so repeated checks honour Cache-Control.
func NewCachingHTTPClient(cacheDir string) *http.Client {
	if cacheDir == "" {
		return &http.Client{
			Transport: httpcache.NewTransport(httpcache.NewMemoryCache()),
			Timeout:   30 * time.Second,
		}
	}

	return &http.Client{
		Transport: httpcache.NewTransport(diskcache.New(cacheDir)),
		Timeout:   30 * time.Second,
	}
}

// CheckResult is the outcome of probing a single entry.
type CheckResult struct {
	Entry  Entry
	Status int
	Cached bool
	Err    error
}

// Checker probes CDN assets with retries.
type Checker struct {
	client   *http.Client
	maxTries uint
}

// NewChecker creates a checker, a nil client uses an in-memory caching client.
func NewChecker(client *http.Client, maxTries uint) *Checker {
	if client == nil {
		client = NewCachingHTTPClient("")
	}
	if maxTries == 0 {
		maxTries = 3
	}
	return &Checker{client: client, maxTries: maxTries}
}

// Check probes every entry of mode in order. The returned error joins every failure.
func (c *Checker) Check(ctx context.Context, t Table, mode buildenv.Mode) ([]CheckResult, error) {
	entries := t.Lookup(mode)
	results := make([]CheckResult, 0, len(entries))

	var errs []error
	for _, e := range entries {
		res := c.probe(ctx, e)
		if res.Err != nil {
			errs = append(errs, res.Err)
		}

		log.Debug().
			Str("library", e.Library).
			Str("url", e.URL).
			Int("status", res.Status).
			Bool("cached", res.Cached).
			Err(res.Err).
			Msg("Checked CDN asset")

		results = append(results, res)
	}

	return results, errors.Join(errs...)
}

func (c *Checker) probe(ctx context.Context, e Entry) CheckResult {
	res := CheckResult{Entry: e}

	operation := func() (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.URL, nil)
		if err != nil {
			return 0, backoff.Permanent(err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return 0, err
		}
		// the cache only stores bodies that were read to EOF
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		res.Status = resp.StatusCode
		res.Cached = resp.Header.Get(httpcache.XFromCache) == "1"

		switch {
		case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
			return resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return resp.StatusCode, backoff.Permanent(fmt.Errorf("status %d", resp.StatusCode))
		}

		return resp.StatusCode, nil
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxTries),
	)
	if err != nil {
		res.Err = fmt.Errorf("%w: %s (%s): %w", ErrAssetUnavailable, e.Library, e.URL, err)
	}

	return res
}
