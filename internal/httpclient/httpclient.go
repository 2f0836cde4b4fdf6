// Package httpclient builds the shared HTTP transport used for probing
// and downloading resources, and classifies transport/status errors
// into user-facing messages.
package httpclient

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ConnectTimeout bounds establishing a connection (including TLS).
const ConnectTimeout = 10 * time.Second

// ChunkTimeout bounds a single read of the response body; workers use it
// per-chunk so a stalled connection doesn't hang a segment forever.
const ChunkTimeout = 30 * time.Second

// New builds an *http.Client tuned for many concurrent range requests
// against a small number of hosts: a generous per-host idle pool, no
// compression (ranges must count raw bytes), and a nil top-level
// timeout since callers attach per-request deadlines via context.
func New() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   ConnectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		DisableCompression:    true,
	}
	return &http.Client{Transport: transport, Timeout: 0}
}

// ProbeResult is the outcome of checking a resource before downloading it.
type ProbeResult struct {
	StatusCode        int
	TotalBytes        int64
	ContentType       string
	AcceptsRanges     bool
	SuggestedFilename string
	RetryAfterSeconds int
	ETag              string
	LastModified      string
}

// Probe issues a HEAD request for urlStr; if the response is ambiguous
// (HEAD answered 405, or a 200 HEAD without a Content-Length) it falls
// back to a 1-byte range GET, per the external HEAD-probe contract.
func Probe(ctx context.Context, client *http.Client, urlStr string, headers http.Header) (*ProbeResult, error) {
	res, err := probeOnce(ctx, client, http.MethodHead, urlStr, headers)
	if res != nil && res.StatusCode == http.StatusMethodNotAllowed {
		return probeOnce(ctx, client, http.MethodGet, urlStr, rangeProbeHeaders(headers))
	}
	if err != nil {
		return nil, err
	}
	if res.TotalBytes <= 0 && res.StatusCode == http.StatusOK {
		return probeOnce(ctx, client, http.MethodGet, urlStr, rangeProbeHeaders(headers))
	}
	return res, nil
}

func rangeProbeHeaders(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		out = http.Header{}
	}
	out.Set("Range", "bytes=0-0")
	return out
}

func probeOnce(ctx context.Context, client *http.Client, method, urlStr string, headers http.Header) (*ProbeResult, error) {
	req, err := http.NewRequestWithContext(ctx, method, urlStr, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, FriendlyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusPartialContent {
		retryAfter := 0
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if n, err := strconv.Atoi(ra); err == nil {
				retryAfter = n
			}
		}
		return &ProbeResult{StatusCode: resp.StatusCode, RetryAfterSeconds: retryAfter}, FriendlyHTTPError(resp.StatusCode)
	}

	filename := filenameFromContentDisposition(resp.Header.Get("Content-Disposition"))
	if filename == "" {
		filename = filepath.Base(resp.Request.URL.Path)
		if filename == "." || filename == "/" {
			filename = ""
		}
	}

	acceptsRanges := resp.Header.Get("Accept-Ranges") == "bytes"
	size := resp.ContentLength

	if resp.StatusCode == http.StatusPartialContent {
		acceptsRanges = true
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			if parts := strings.Split(cr, "/"); len(parts) == 2 {
				if total, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
					size = total
				}
			}
		}
	}

	return &ProbeResult{
		StatusCode:        resp.StatusCode,
		TotalBytes:        size,
		ContentType:       resp.Header.Get("Content-Type"),
		AcceptsRanges:     acceptsRanges,
		SuggestedFilename: filename,
		ETag:              resp.Header.Get("ETag"),
		LastModified:      resp.Header.Get("Last-Modified"),
	}, nil
}

func filenameFromContentDisposition(cd string) string {
	if cd == "" {
		return ""
	}
	if _, params, err := mime.ParseMediaType(cd); err == nil {
		return params["filename"]
	}
	return ""
}

// FriendlyError converts a transport-level error into a human-readable message.
func FriendlyError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no such host"):
		return fmt.Errorf("server not found: check the URL is correct")
	case strings.Contains(msg, "connection refused"):
		return fmt.Errorf("server is offline or unreachable")
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return fmt.Errorf("connection timed out")
	case strings.Contains(msg, "certificate"):
		return fmt.Errorf("TLS certificate error")
	case strings.Contains(msg, "network is unreachable"):
		return fmt.Errorf("no network connection")
	default:
		return fmt.Errorf("connection failed: %w", err)
	}
}

// FriendlyHTTPError converts an HTTP status code into a human-readable message.
func FriendlyHTTPError(status int) error {
	switch status {
	case http.StatusNotFound:
		return fmt.Errorf("file not found on server (404)")
	case http.StatusForbidden:
		return fmt.Errorf("access denied by server (403)")
	case http.StatusUnauthorized:
		return fmt.Errorf("authentication required (401)")
	case http.StatusTooManyRequests:
		return fmt.Errorf("too many requests (429)")
	case http.StatusRequestTimeout:
		return fmt.Errorf("request timed out (408)")
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return fmt.Errorf("server error (%d)", status)
	default:
		return fmt.Errorf("server returned error %d", status)
	}
}

// Retryable reports whether status is one that the retry policy should
// treat as transient (5xx, 408, 429).
func Retryable(status int) bool {
	return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500
}
