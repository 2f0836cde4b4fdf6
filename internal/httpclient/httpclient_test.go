package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProbeHEAD(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", "1048576")
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res, err := Probe(t.Context(), New(), srv.URL, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1048576), res.TotalBytes)
	require.True(t, res.AcceptsRanges)
}

func TestProbeFallsBackToRangeGET(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Range", "bytes 0-0/2000")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	res, err := Probe(t.Context(), New(), srv.URL, nil)
	require.NoError(t, err)
	require.Equal(t, int64(2000), res.TotalBytes)
	require.True(t, res.AcceptsRanges)
}

func TestProbeHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := Probe(t.Context(), New(), srv.URL, nil)
	require.Error(t, err)
}

func TestRetryable(t *testing.T) {
	require.True(t, Retryable(503))
	require.True(t, Retryable(429))
	require.True(t, Retryable(408))
	require.False(t, Retryable(404))
	require.False(t, Retryable(401))
}
