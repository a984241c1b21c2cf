// Package egress builds and performs the single outbound HTTP call every
// pipeline invocation makes to a backend provider (spec §4.4a / component
// D). Grounded on the teacher's internal/handlers/proxy.go (request
// construction, decompression) generalized to take the pipeline's
// transformer.Config overrides and an optional per-provider rate limiter.
package egress

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/time/rate"

	"github.com/mihaisavezi/claude-code-open/internal/transformer"
)

const (
	defaultReadTimeout = time.Hour
	dialTimeout        = 30 * time.Second
)

// Client performs the egress POST described in spec §4.5 step 4.
type Client struct {
	proxyURL *url.URL
}

// New builds a Client. proxyRawURL is the HTTPS proxy from config, or
// empty for none.
func New(proxyRawURL string) (*Client, error) {
	c := &Client{}
	if proxyRawURL == "" {
		return c, nil
	}
	u, err := url.Parse(proxyRawURL)
	if err != nil {
		return nil, fmt.Errorf("egress: invalid proxy URL: %w", err)
	}
	c.proxyURL = u
	return c, nil
}

func (c *Client) httpClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: dialTimeout}
	transport := &http.Transport{
		DialContext: dialer.DialContext,
	}
	if c.proxyURL != nil {
		transport.Proxy = http.ProxyURL(c.proxyURL)
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

// Do builds and performs the outbound request for one pipeline
// invocation: POST cfg.URL (falling back to p.ProviderBaseURL()) with
// cfg.Body (falling back to unifiedBody), bearer auth from p unless
// cfg.Headers overrides or clears Authorization, and the configured read
// timeout. If limiter is non-nil, it blocks on limiter.Wait(ctx) first
// (per-provider egress throttling, new domain-stack wiring the teacher
// does not have).
func (c *Client) Do(ctx context.Context, p transformer.ProviderInfo, limiter *rate.Limiter, cfg *transformer.Config, unifiedBody []byte) (*http.Response, error) {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("egress: rate limiter: %w", err)
		}
	}

	targetURL := p.ProviderBaseURL()
	body := unifiedBody
	timeout := defaultReadTimeout
	var headers map[string]string
	if cfg != nil {
		if cfg.URL != "" {
			targetURL = cfg.URL
		}
		if cfg.Body != nil {
			body = cfg.Body
		}
		if cfg.Timeout != nil {
			timeout = time.Duration(*cfg.Timeout) * time.Second
		}
		headers = cfg.Headers
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("egress: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key := p.ProviderAPIKey(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	for k, v := range headers {
		if v == "" {
			req.Header.Del(k)
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient(timeout).Do(req)
	if err != nil {
		return nil, fmt.Errorf("egress: upstream request failed: %w", err)
	}
	return resp, nil
}

// DecompressBody wraps resp.Body according to its Content-Encoding header
// (gzip/brotli), per the teacher's internal/handlers/proxy.go
// decompressReader. Callers that replace resp.Body with the decompressed
// reader should also clear the Content-Encoding header.
func DecompressBody(resp *http.Response) (io.ReadCloser, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("egress: gzip reader: %w", err)
		}
		return gz, nil
	case "br":
		return io.NopCloser(brotli.NewReader(resp.Body)), nil
	default:
		return resp.Body, nil
	}
}
