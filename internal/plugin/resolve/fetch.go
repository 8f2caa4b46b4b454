package resolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Fetch defaults.
const (
	DefaultFetchTimeout  = 10 * time.Second
	DefaultMaxFetchBytes = 4 << 20
)

// ErrTooLarge is returned when a remote module exceeds the size limit.
var ErrTooLarge = errors.New("remote module exceeds size limit")

// Fetcher retrieves the text of a remote module.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// HTTPFetcher fetches remote modules over HTTP GET. Successful responses are
// memoized per URL and concurrent requests for one URL share a round trip.
type HTTPFetcher struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64

	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]string
}

// FetcherOption configures an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *HTTPFetcher) {
		f.client = c
	}
}

// WithFetchTimeout bounds each round trip. Zero disables the bound.
func WithFetchTimeout(d time.Duration) FetcherOption {
	return func(f *HTTPFetcher) {
		f.timeout = d
	}
}

// WithMaxBytes limits the size of a fetched module.
func WithMaxBytes(n int64) FetcherOption {
	return func(f *HTTPFetcher) {
		f.maxBytes = n
	}
}

// NewHTTPFetcher creates a fetcher.
func NewHTTPFetcher(opts ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client:   http.DefaultClient,
		timeout:  DefaultFetchTimeout,
		maxBytes: DefaultMaxFetchBytes,
		cache:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.mu.RLock()
	text, ok := f.cache[url]
	f.mu.RUnlock()
	if ok {
		return text, nil
	}

	// The shared call must outlive a single caller's cancellation.
	ch := f.group.DoChan(url, func() (any, error) {
		text, err := f.get(context.WithoutCancel(ctx), url)
		if err != nil {
			return "", err
		}
		f.mu.Lock()
		f.cache[url] = text
		f.mu.Unlock()
		return text, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Cached reports whether url has a memoized body.
func (f *HTTPFetcher) Cached(url string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.cache[url]
	return ok
}

// Forget drops every memoized body.
func (f *HTTPFetcher) Forget() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache = make(map[string]string)
}

func (f *HTTPFetcher) get(ctx context.Context, url string) (string, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("GET %s: %s", url, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", url, err)
	}
	if int64(len(body)) > f.maxBytes {
		return "", fmt.Errorf("%s: %w (%d bytes)", url, ErrTooLarge, f.maxBytes)
	}
	return string(body), nil
}
