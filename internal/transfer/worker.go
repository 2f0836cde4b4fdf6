package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	maxAttempts  = 6 // retries beyond the initial attempt
	baseBackoff  = 100 * time.Millisecond
	maxBackoff   = 3200 * time.Millisecond
	chunkBufSize = 32 * 1024 // matches the host's generic read-buffer size
)

// runWorker owns one segment end to end: request its remaining range,
// retry transient failures with backoff, and return once the segment
// is fully written, cancelled, or permanently failed.
func (e *Engine) runWorker(ctx context.Context, idx int) error {
	attempt := 0
	var lastStart int64 = -1

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		start, end, done := e.segRangeLocked(idx)
		if done {
			return nil
		}
		if start == lastStart {
			// The server ended the stream again without sending more
			// bytes; stop here and let Start report the job Incomplete.
			return nil
		}

		retryAfter, err := e.streamRange(ctx, idx, start, end)
		if err == nil {
			if end < 0 {
				e.finalizeUnknownSize(idx)
				return nil
			}
			// A clean end of stream from this start must make progress
			// before the next request; failed attempts are retried below.
			lastStart = start
			attempt = 0
			continue
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !IsKind(err, KindTransientNetwork) {
			return err
		}

		attempt++
		if attempt > maxAttempts {
			return err
		}
		wait := backoffDuration(attempt)
		if retryAfter > 0 {
			wait = time.Duration(retryAfter) * time.Second
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// streamRange issues one GET for [start, end] (end < 0 means an
// unbounded request for a resource of unknown length) and streams the
// response into the segment's file range in small chunks. A nil error
// means the response body reached EOF cleanly; any other outcome is
// classified as a transfer.Error.
func (e *Engine) streamRange(ctx context.Context, idx int, start, end int64) (retryAfterSeconds int, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.URL, nil)
	if err != nil {
		return 0, permanentErr("build request", err)
	}
	for k, vs := range e.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	multiSeg := e.segmentCount() > 1
	if end >= 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, transientErr("request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		// expected case, nothing to do.
	case resp.StatusCode == http.StatusOK && (start > 0 || multiSeg):
		if start > 0 {
			// Only the segment starting at offset 0 can usefully absorb
			// a full-body response; any other segment must fail so the
			// job's remaining attempts fall back to a single worker.
			return 0, permanentErr("server ignored range request", nil)
		}
		e.collapseToSingleSegment(idx)
	case resp.StatusCode == http.StatusOK:
		// single-segment job, no Range was requested, exactly expected.
	default:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		msg := fmt.Sprintf("server returned %d", resp.StatusCode)
		if isRetryableStatus(resp.StatusCode) {
			return retryAfter, transientErr(msg, nil)
		}
		return retryAfter, permanentErr(msg, nil)
	}

	buf := make([]byte, chunkBufSize)
	for {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if e.Limiter != nil {
				if lerr := e.Limiter.Wait(ctx, e.ID, n); lerr != nil {
					return 0, lerr
				}
			}
			if werr := e.writeChunk(idx, buf[:n]); werr != nil {
				return 0, localIOErr("write failed", werr)
			}
		}
		if rerr == io.EOF {
			return 0, nil
		}
		if rerr != nil {
			return 0, transientErr("stream read failed", rerr)
		}
	}
}

func backoffDuration(attempt int) time.Duration {
	d := baseBackoff << uint(attempt-1)
	if d <= 0 || d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func parseRetryAfter(s string) int {
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return 0
}

func isRetryableStatus(status int) bool {
	return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500
}
