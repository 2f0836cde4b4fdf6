package transfer

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"project-tachyon/internal/httpclient"
	"project-tachyon/internal/sidecar"
)

func rangeServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		rangeHdr := r.Header.Get("Range")
		if rangeHdr == "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			w.WriteHeader(http.StatusOK)
			w.Write(body)
			return
		}
		var start, end int
		fmt.Sscanf(rangeHdr, "bytes=%d-%d", &start, &end)
		if end >= len(body) {
			end = len(body) - 1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(body)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body[start : end+1])
	}))
}

func newTestEngine(t *testing.T, url string, workers int, onProgress func(Progress)) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	partPath := filepath.Join(dir, "out.part")
	finalPath := filepath.Join(dir, "out.bin")
	store := sidecar.New(partPath + ".json")
	eng := NewEngine("job-1", url, nil, partPath, finalPath, workers, false, 0, httpclient.New(), store, onProgress, nil)
	return eng, finalPath
}

func TestEngineDownloadsSmallFileSingleWorker(t *testing.T) {
	body := []byte(strings.Repeat("a", 5000))
	srv := rangeServer(t, body)
	defer srv.Close()

	eng, finalPath := newTestEngine(t, srv.URL, 1, nil)
	err := eng.Start(t.Context())
	require.NoError(t, err)

	got, err := os.ReadFile(finalPath)
	require.NoError(t, err)
	require.Equal(t, body, got)
}

func TestEngineDownloadsWithMultipleSegments(t *testing.T) {
	body := make([]byte, 64*1024)
	for i := range body {
		body[i] = byte(i % 251)
	}
	srv := rangeServer(t, body)
	defer srv.Close()

	var progressed atomic.Bool
	eng, finalPath := newTestEngine(t, srv.URL, 4, func(p Progress) {
		if p.ReceivedBytes > 0 {
			progressed.Store(true)
		}
	})
	err := eng.Start(t.Context())
	require.NoError(t, err)
	require.True(t, progressed.Load())

	got, err := os.ReadFile(finalPath)
	require.NoError(t, err)
	require.Equal(t, body, got)
}

func TestEngineFailsWithDiskFullWhenSpaceInsufficient(t *testing.T) {
	huge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", strconv.FormatInt(1<<62, 10))
		w.WriteHeader(http.StatusOK)
	}))
	defer huge.Close()

	eng, _ := newTestEngine(t, huge.URL, 2, nil)
	err := eng.Start(t.Context())
	require.Error(t, err)
	require.True(t, IsKind(err, KindLocalIO))
	require.Contains(t, err.Error(), "Disk full")
}

func TestEngineCancelRemovesPartialFile(t *testing.T) {
	body := make([]byte, 8*1024*1024)
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return
		}
		flusher, _ := w.(http.Flusher)
		for i := 0; i < len(body); i += 4096 {
			end := i + 4096
			if end > len(body) {
				end = len(body)
			}
			w.Write(body[i:end])
			if flusher != nil {
				flusher.Flush()
			}
			time.Sleep(5 * time.Millisecond)
		}
	}))
	defer slow.Close()

	eng, _ := newTestEngine(t, slow.URL, 1, nil)

	go func() {
		time.Sleep(30 * time.Millisecond)
		eng.Cancel()
	}()

	err := eng.Start(t.Context())
	require.Error(t, err)
	require.True(t, IsKind(err, KindCancelled))
	require.True(t, os.IsNotExist(statErr(eng.PartPath)))
}

func statErr(path string) error {
	_, err := os.Stat(path)
	return err
}

func TestEngineRetriesTransientErrors(t *testing.T) {
	body := []byte(strings.Repeat("b", 2000))
	var failures atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			w.WriteHeader(http.StatusOK)
			return
		}
		if failures.Load() < 2 {
			failures.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
	defer srv.Close()

	eng, finalPath := newTestEngine(t, srv.URL, 1, nil)
	err := eng.Start(t.Context())
	require.NoError(t, err)

	got, err := os.ReadFile(finalPath)
	require.NoError(t, err)
	require.Equal(t, body, got)
}

func rangeServerSlow(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			w.WriteHeader(http.StatusOK)
			return
		}
		start, end := 0, len(body)-1
		if rangeHdr := r.Header.Get("Range"); rangeHdr != "" {
			fmt.Sscanf(rangeHdr, "bytes=%d-%d", &start, &end)
			if end >= len(body) {
				end = len(body) - 1
			}
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(body)))
			w.WriteHeader(http.StatusPartialContent)
		} else {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			w.WriteHeader(http.StatusOK)
		}
		flusher, _ := w.(http.Flusher)
		chunk := body[start : end+1]
		for i := 0; i < len(chunk); i += 2048 {
			j := i + 2048
			if j > len(chunk) {
				j = len(chunk)
			}
			w.Write(chunk[i:j])
			if flusher != nil {
				flusher.Flush()
			}
			time.Sleep(3 * time.Millisecond)
		}
	}))
}

func TestEnginePauseThenResumeFromSidecar(t *testing.T) {
	body := make([]byte, 2*1024*1024)
	for i := range body {
		body[i] = byte(i % 97)
	}
	srv := rangeServerSlow(t, body)
	defer srv.Close()

	dir := t.TempDir()
	partPath := filepath.Join(dir, "out.part")
	finalPath := filepath.Join(dir, "out.bin")
	store := sidecar.New(partPath + ".json")

	eng1 := NewEngine("job-1", srv.URL, nil, partPath, finalPath, 2, false, 0, httpclient.New(), store, nil, nil)
	go func() {
		time.Sleep(20 * time.Millisecond)
		eng1.Pause()
	}()
	err := eng1.Start(t.Context())
	require.NoError(t, err)

	eng2 := NewEngine("job-1", srv.URL, nil, partPath, finalPath, 2, false, 0, httpclient.New(), store, nil, nil)
	err = eng2.Start(t.Context())
	require.NoError(t, err)

	got, err := os.ReadFile(finalPath)
	require.NoError(t, err)
	require.Equal(t, body, got)
}
