package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DefaultFetchTimeout bounds a single upstream request.
const DefaultFetchTimeout = 15 * time.Second

// Fetcher retrieves a JSON document from an upstream URL.
type Fetcher interface {
	FetchJSON(ctx context.Context, url string, v any) error
}

// HTTPFetcher fetches JSON documents over HTTP. The oref endpoints reject
// requests from outside Israel, so it takes an optional proxy URL.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher builds a fetcher with the given per-request timeout.
// A timeout of zero or less means DefaultFetchTimeout; an empty proxy
// disables proxying.
func NewHTTPFetcher(timeout time.Duration, proxy string) (*HTTPFetcher, error) {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	transport := &http.Transport{}
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}, nil
}

// FetchJSON issues a GET and decodes the response body into v.
func (f *HTTPFetcher) FetchJSON(ctx context.Context, rawURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", rawURL, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %s", rawURL, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}
