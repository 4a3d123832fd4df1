// Package network provides the abstract HTTP transport capability the
// scheduler depends on (HEAD / ranged GET), plus bandwidth shaping and an
// optional link speed calibration helper.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrLinkExpired indicates the download URL has expired or access was
// denied (HTTP 403). Scheduled for immediate candidate disqualification,
// not per-chunk retry.
var ErrLinkExpired = errors.New("network: link expired or access denied (403)")

// GenericUserAgent is used whenever the caller hasn't configured one.
const GenericUserAgent = "hyperfetch/1.0 (+https://github.com/hyperfetch)"

// ProbeResult carries the metadata gathered from a HEAD/range probe.
type ProbeResult struct {
	URL          string
	Size         int64
	Filename     string
	Status       int
	AcceptRanges bool
	ETag         string
	LastModified string
	Latency      time.Duration
}

// RangeResponse is a streaming, ranged HTTP response body plus the status
// and headers needed to validate it.
type RangeResponse struct {
	StatusCode    int
	ContentLength int64
	ContentRange  string
	Body          io.ReadCloser
}

// Client is the transport contract the scheduler depends on. Any concrete
// implementation satisfying it (net/http-based or otherwise) is acceptable.
type Client interface {
	Probe(ctx context.Context, targetURL string, headers http.Header) (ProbeResult, error)
	GetRange(ctx context.Context, targetURL string, start, end int64, headers http.Header) (*RangeResponse, error)
}

// HTTPClient is the concrete net/http-based Client implementation.
type HTTPClient struct {
	httpClient *http.Client
	userAgent  string
	verifySSL  bool
}

// NewHTTPClient builds a Client with a transport tuned the way a
// high-throughput range-fetching accelerator needs: many idle connections
// per host, compression disabled (it interferes with Content-Length-based
// range math), a dial timeout of connectTimeout (none if it is <= 0), and
// no blanket client timeout — callers pass a context per request instead.
func NewHTTPClient(userAgent string, connectTimeout time.Duration) *HTTPClient {
	if userAgent == "" {
		userAgent = GenericUserAgent
	}
	dialer := &net.Dialer{}
	if connectTimeout > 0 {
		dialer.Timeout = connectTimeout
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true,
	}
	return &HTTPClient{
		httpClient: &http.Client{
			Transport: transport,
			// No client-wide timeout: long-running chunk reads are bounded
			// by the caller's context instead.
		},
		userAgent: userAgent,
		verifySSL: true,
	}
}

func (c *HTTPClient) newRequest(ctx context.Context, method, targetURL string, headers http.Header) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, targetURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Connection", "keep-alive")
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

// Probe issues a 1-byte ranged GET (more broadly supported than HEAD by
// CDNs that block HEAD) and extracts size, range support, and validators.
func (c *HTTPClient) Probe(ctx context.Context, targetURL string, headers http.Header) (ProbeResult, error) {
	req, err := c.newRequest(ctx, http.MethodGet, targetURL, headers)
	if err != nil {
		return ProbeResult{}, err
	}
	req.Header.Set("Range", "bytes=0-0")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ProbeResult{}, friendlyError(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1))
	latency := time.Since(start)

	if resp.StatusCode == http.StatusForbidden {
		return ProbeResult{}, ErrLinkExpired
	}
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return ProbeResult{}, friendlyHTTPError(resp.StatusCode)
	}

	result := ProbeResult{
		URL:          targetURL,
		Status:       resp.StatusCode,
		AcceptRanges: resp.StatusCode == http.StatusPartialContent || resp.Header.Get("Accept-Ranges") == "bytes",
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		Latency:      latency,
		Filename:     filenameFromResponse(targetURL, resp),
	}

	if resp.StatusCode == http.StatusPartialContent {
		if total, ok := parseContentRangeTotal(resp.Header.Get("Content-Range")); ok {
			result.Size = total
		}
	} else if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			result.Size = n
		}
	}

	return result, nil
}

// GetRange issues a ranged GET for [start, end] inclusive.
func (c *HTTPClient) GetRange(ctx context.Context, targetURL string, start, end int64, headers http.Header) (*RangeResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, targetURL, headers)
	if err != nil {
		return nil, err
	}
	// end < 0 requests the whole body unranged — used by the single-stream
	// fallback when the server doesn't support byte ranges.
	if end >= 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, friendlyError(err)
	}
	if resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, ErrLinkExpired
	}
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, friendlyHTTPError(resp.StatusCode)
	}

	return &RangeResponse{
		StatusCode:    resp.StatusCode,
		ContentLength: resp.ContentLength,
		ContentRange:  resp.Header.Get("Content-Range"),
		Body:          resp.Body,
	}, nil
}

func filenameFromResponse(targetURL string, resp *http.Response) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if fn, ok := params["filename"]; ok && fn != "" {
				return fn
			}
		}
	}
	if u, err := url.Parse(targetURL); err == nil {
		base := filepath.Base(u.Path)
		if base != "." && base != "/" {
			return base
		}
	}
	return "download"
}

func parseContentRangeTotal(contentRange string) (int64, bool) {
	// Format: "bytes 0-0/12345"
	idx := strings.LastIndex(contentRange, "/")
	if idx == -1 || idx+1 >= len(contentRange) {
		return 0, false
	}
	totalStr := contentRange[idx+1:]
	if totalStr == "*" {
		return 0, false
	}
	n, err := strconv.ParseInt(totalStr, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// friendlyError converts low-level network errors into user-facing ones
// while preserving the original for errors.Is/As.
func friendlyError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("network: %w", err)
}

func friendlyHTTPError(status int) error {
	return &HTTPStatusError{Status: status}
}

// HTTPStatusError wraps a non-2xx HTTP response.
type HTTPStatusError struct {
	Status int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("network: unexpected status %d", e.Status)
}

// Retriable reports whether the status code should be retried per-chunk
// (408, 429, 5xx) rather than disqualifying the URL immediately.
func (e *HTTPStatusError) Retriable() bool {
	return e.Status == http.StatusRequestTimeout ||
		e.Status == http.StatusTooManyRequests ||
		e.Status >= 500
}
