package orchestrator

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fileServer serves body over HTTPS with range support, matching the
// shape the Transfer Engine expects from a real origin.
func fileServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	return httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		rangeHdr := r.Header.Get("Range")
		if rangeHdr == "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			w.WriteHeader(http.StatusOK)
			if r.Method != http.MethodHead {
				w.Write(body)
			}
			return
		}
		var start, end int
		fmt.Sscanf(rangeHdr, "bytes=%d-%d", &start, &end)
		if end >= len(body) {
			end = len(body) - 1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(body)))
		w.WriteHeader(http.StatusPartialContent)
		if r.Method != http.MethodHead {
			w.Write(body[start : end+1])
		}
	}))
}

// slowServer throttles every write so a test has time to Pause/Cancel
// mid-transfer.
func slowServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	return httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		rangeHdr := r.Header.Get("Range")
		start, end := 0, len(body)-1
		if rangeHdr != "" {
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
		if r.Method == http.MethodHead {
			return
		}
		const chunk = 2048
		for i := start; i <= end; i += chunk {
			j := i + chunk
			if j > end+1 {
				j = end + 1
			}
			w.Write(body[i:j])
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			time.Sleep(3 * time.Millisecond)
		}
	}))
}

type memHistory struct {
	mu    sync.Mutex
	saved map[string]JobSummary
}

func newMemHistory() *memHistory { return &memHistory{saved: make(map[string]JobSummary)} }

func (m *memHistory) SaveJob(j JobSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[j.ID] = j
	return nil
}

func (m *memHistory) DeleteJob(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.saved, id)
	return nil
}

func (m *memHistory) get(id string) (JobSummary, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.saved[id]
	return j, ok
}

func newTestOrchestrator(t *testing.T, srv *httptest.Server, concurrency int, hist HistoryStore) *Orchestrator {
	t.Helper()
	o := New(Options{
		Concurrency: concurrency,
		MaxWorkers:  8,
		Client:      srv.Client(),
		History:     hist,
	})
	t.Cleanup(func() {
		o.Shutdown(t.Context())
	})
	return o
}

func waitForStatus(t *testing.T, o *Orchestrator, id string, want Status, timeout time.Duration) JobSummary {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		j, ok := o.Get(id)
		if ok && j.Status == want {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	j, _ := o.Get(id)
	t.Fatalf("job %s did not reach status %s, last seen %+v", id, want, j)
	return JobSummary{}
}

func TestAddRunsJobToCompletion(t *testing.T) {
	body := []byte(strings.Repeat("x", 20000))
	srv := fileServer(t, body)
	defer srv.Close()

	hist := newMemHistory()
	o := newTestOrchestrator(t, srv, 3, hist)

	id, err := o.Add(srv.URL+"/file.bin", AddOptions{Connections: 2, DestDir: t.TempDir()})
	require.NoError(t, err)

	j := waitForStatus(t, o, id, StatusCompleted, 5*time.Second)
	require.Equal(t, int64(len(body)), j.ReceivedBytes)
	require.Equal(t, int64(len(body)), j.TotalBytes)

	saved, ok := hist.get(id)
	require.True(t, ok)
	require.Equal(t, StatusCompleted, saved.Status)
	require.False(t, saved.CompletedAt.IsZero())
}

func TestAdmissionRespectsConcurrencyCap(t *testing.T) {
	body := []byte(strings.Repeat("y", 200000))
	srv := slowServer(t, body)
	defer srv.Close()

	o := newTestOrchestrator(t, srv, 2, nil)
	dir := t.TempDir()

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := o.Add(fmt.Sprintf("%s/f%d.bin", srv.URL, i), AddOptions{Connections: 1, DestDir: dir})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// Give the scheduler a moment to admit as many as it will.
	time.Sleep(100 * time.Millisecond)

	downloading := 0
	queued := 0
	for _, id := range ids {
		j, ok := o.Get(id)
		require.True(t, ok)
		switch j.Status {
		case StatusDownloading:
			downloading++
		case StatusQueued:
			queued++
		}
	}
	require.LessOrEqual(t, downloading, 2)
	require.Equal(t, 5, downloading+queued)
}

func TestPauseThenResumeCompletesJob(t *testing.T) {
	body := []byte(strings.Repeat("z", 400000))
	srv := slowServer(t, body)
	defer srv.Close()

	o := newTestOrchestrator(t, srv, 3, nil)
	id, err := o.Add(srv.URL+"/big.bin", AddOptions{Connections: 2, DestDir: t.TempDir()})
	require.NoError(t, err)

	waitForStatus(t, o, id, StatusDownloading, 2*time.Second)
	time.Sleep(30 * time.Millisecond)

	require.NoError(t, o.Pause(id))
	waitForStatus(t, o, id, StatusPaused, 2*time.Second)

	require.NoError(t, o.Resume(id))
	j := waitForStatus(t, o, id, StatusCompleted, 5*time.Second)
	require.Equal(t, int64(len(body)), j.ReceivedBytes)
}

func TestCancelPausedJobRemovesPartAndSidecar(t *testing.T) {
	body := []byte(strings.Repeat("p", 400000))
	srv := slowServer(t, body)
	defer srv.Close()

	o := newTestOrchestrator(t, srv, 3, nil)
	dir := t.TempDir()
	id, err := o.Add(srv.URL+"/paused.bin", AddOptions{Connections: 2, DestDir: dir})
	require.NoError(t, err)

	waitForStatus(t, o, id, StatusDownloading, 2*time.Second)
	time.Sleep(30 * time.Millisecond)

	require.NoError(t, o.Pause(id))
	waitForStatus(t, o, id, StatusPaused, 2*time.Second)

	j, ok := o.Get(id)
	require.True(t, ok)
	partPath := j.DestPath + ".part"
	require.FileExists(t, partPath)

	require.NoError(t, o.Cancel(id))
	j, ok = o.Get(id)
	require.True(t, ok)
	require.Equal(t, StatusCancelled, j.Status)
	require.NoFileExists(t, partPath)
	require.NoFileExists(t, partPath+".json")

	// Idempotent on an already-terminal job.
	require.NoError(t, o.Cancel(id))
}

func TestCancelQueuedJobIsImmediate(t *testing.T) {
	body := []byte(strings.Repeat("q", 1000))
	srv := slowServer(t, body)
	defer srv.Close()

	// Concurrency 1 with one slow job already running keeps the second
	// job sitting in Queued so Cancel exercises the not-yet-started path.
	o := newTestOrchestrator(t, srv, 1, nil)
	dir := t.TempDir()

	first, err := o.Add(srv.URL+"/a.bin", AddOptions{Connections: 1, DestDir: dir})
	require.NoError(t, err)
	waitForStatus(t, o, first, StatusDownloading, 2*time.Second)

	second, err := o.Add(srv.URL+"/b.bin", AddOptions{Connections: 1, DestDir: dir})
	require.NoError(t, err)

	j, ok := o.Get(second)
	require.True(t, ok)
	require.Equal(t, StatusQueued, j.Status)

	require.NoError(t, o.Cancel(second))
	j, ok = o.Get(second)
	require.True(t, ok)
	require.Equal(t, StatusCancelled, j.Status)

	// Idempotent on an already-terminal job.
	require.NoError(t, o.Cancel(second))
}

func TestCancelRunningJobTransitionsToCancelled(t *testing.T) {
	body := []byte(strings.Repeat("c", 400000))
	srv := slowServer(t, body)
	defer srv.Close()

	o := newTestOrchestrator(t, srv, 2, nil)
	id, err := o.Add(srv.URL+"/c.bin", AddOptions{Connections: 2, DestDir: t.TempDir()})
	require.NoError(t, err)

	waitForStatus(t, o, id, StatusDownloading, 2*time.Second)
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, o.Cancel(id))
	waitForStatus(t, o, id, StatusCancelled, 2*time.Second)
}

func TestAddRejectsNonHTTPSURL(t *testing.T) {
	o := New(Options{Client: http.DefaultClient})
	defer o.Shutdown(t.Context())

	_, err := o.Add("http://example.com/file.bin", AddOptions{DestDir: t.TempDir()})
	require.Error(t, err)
}

func TestAddRejectsDisallowedHost(t *testing.T) {
	o := New(Options{AllowedHosts: []string{"example.com"}})
	defer o.Shutdown(t.Context())

	_, err := o.Add("https://not-allowed.test/file.bin", AddOptions{DestDir: t.TempDir()})
	require.Error(t, err)
}

func TestSubscribePanicIsolatesOtherSubscribers(t *testing.T) {
	body := []byte(strings.Repeat("s", 5000))
	srv := fileServer(t, body)
	defer srv.Close()

	o := newTestOrchestrator(t, srv, 1, nil)

	var mu sync.Mutex
	var goodEvents int
	goodID := o.Subscribe(func(ev Event) {
		mu.Lock()
		goodEvents++
		mu.Unlock()
	})
	defer o.Unsubscribe(goodID)

	panicID := o.Subscribe(func(ev Event) {
		panic("boom")
	})

	_, err := o.Add(srv.URL+"/p.bin", AddOptions{Connections: 1, DestDir: t.TempDir()})
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := goodEvents
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	n := goodEvents
	mu.Unlock()
	require.Greater(t, n, 0, "surviving subscriber should still receive events")

	o.mu.Lock()
	_, stillSubscribed := o.subscribers[panicID]
	o.mu.Unlock()
	require.False(t, stillSubscribed, "panicking subscriber should be auto-unsubscribed")
}

func TestReorderMovesQueuedJobToFront(t *testing.T) {
	body := []byte(strings.Repeat("r", 1000))
	srv := slowServer(t, body)
	defer srv.Close()

	// Concurrency 1 keeps everything after the first job Queued.
	o := newTestOrchestrator(t, srv, 1, nil)
	dir := t.TempDir()

	first, err := o.Add(srv.URL+"/a.bin", AddOptions{Connections: 1, DestDir: dir})
	require.NoError(t, err)
	waitForStatus(t, o, first, StatusDownloading, 2*time.Second)

	second, err := o.Add(srv.URL+"/b.bin", AddOptions{Connections: 1, DestDir: dir})
	require.NoError(t, err)
	third, err := o.Add(srv.URL+"/c.bin", AddOptions{Connections: 1, DestDir: dir})
	require.NoError(t, err)

	require.NoError(t, o.Reorder(third, "first"))

	o.mu.Lock()
	order := append([]string{}, o.order...)
	o.mu.Unlock()

	idx := func(id string) int {
		for i, v := range order {
			if v == id {
				return i
			}
		}
		return -1
	}
	require.Less(t, idx(third), idx(second))
	_ = first
}

func TestReorderRejectsNonQueuedJob(t *testing.T) {
	body := []byte(strings.Repeat("r", 1000))
	srv := slowServer(t, body)
	defer srv.Close()

	o := newTestOrchestrator(t, srv, 1, nil)
	id, err := o.Add(srv.URL+"/a.bin", AddOptions{Connections: 1, DestDir: t.TempDir()})
	require.NoError(t, err)
	waitForStatus(t, o, id, StatusDownloading, 2*time.Second)

	require.Error(t, o.Reorder(id, "first"))
}

func TestCleanupRemovesOldTerminalJobs(t *testing.T) {
	body := []byte(strings.Repeat("k", 2000))
	srv := fileServer(t, body)
	defer srv.Close()

	o := newTestOrchestrator(t, srv, 2, nil)
	o.opts.CleanupAge = time.Millisecond

	id, err := o.Add(srv.URL+"/old.bin", AddOptions{Connections: 1, DestDir: t.TempDir()})
	require.NoError(t, err)
	waitForStatus(t, o, id, StatusCompleted, 5*time.Second)

	time.Sleep(10 * time.Millisecond)
	removed := o.Cleanup()
	require.Equal(t, 1, removed)

	_, ok := o.Get(id)
	require.False(t, ok)
}

func TestCleanupRespectsMaxCompleted(t *testing.T) {
	body := []byte(strings.Repeat("m", 2000))
	srv := fileServer(t, body)
	defer srv.Close()

	o := newTestOrchestrator(t, srv, 3, nil)
	o.opts.MaxCompleted = 2
	dir := t.TempDir()

	var ids []string
	for i := 0; i < 4; i++ {
		id, err := o.Add(fmt.Sprintf("%s/m%d.bin", srv.URL, i), AddOptions{Connections: 1, DestDir: dir})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids {
		waitForStatus(t, o, id, StatusCompleted, 5*time.Second)
	}

	removed := o.Cleanup()
	require.Equal(t, 2, removed)

	remaining := 0
	for _, id := range ids {
		if _, ok := o.Get(id); ok {
			remaining++
		}
	}
	require.Equal(t, 2, remaining)
}
