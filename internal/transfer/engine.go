// Package transfer drives a single job's segmented download: probing
// the source, planning byte ranges, running one worker goroutine per
// segment, adaptively resizing the worker pool, and persisting resume
// state to a sidecar file as it goes.
package transfer

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"project-tachyon/internal/adaptive"
	"project-tachyon/internal/diskstats"
	"project-tachyon/internal/httpclient"
	"project-tachyon/internal/planner"
	"project-tachyon/internal/sidecar"
)

const (
	progressInterval = 500 * time.Millisecond
	adaptiveInterval  = 5 * time.Second
	speedWindowSpan   = 5 * time.Second
	segSpeedSpan      = 3 * time.Second
)

// Engine runs a single attempt at downloading one job. It is single-use:
// Start blocks until the job reaches a terminal state (completed,
// failed, cancelled) or is paused, at which point the caller discards
// the Engine. Resuming a paused job means constructing a fresh Engine
// that loads the same sidecar file.
type Engine struct {
	ID          string
	URL         string
	Headers     http.Header
	PartPath    string
	FinalPath   string
	Workers     int
	Adaptive    bool
	RateHintBPS float64
	// Verify, if set, runs against PartPath before the final rename and
	// aborts the job on mismatch (checksum verification).
	Verify func(path string) error
	// Limiter, if set, is consulted before every chunk write so a
	// shared bandwidth cap applies across all of a job's segments.
	Limiter BandwidthLimiter

	client     *http.Client
	store      *sidecar.Store
	onProgress func(Progress)

	segMu       sync.Mutex
	segments    []planner.Segment
	file        *os.File
	totalBytes  int64
	cancelFuncs map[int]context.CancelFunc
	segSpeed    map[int]*speedWindow

	speed *speedWindow
	prog  *throttle

	statusMu sync.Mutex
	status   Status

	wantCancel atomic.Bool
	stop       context.CancelFunc
	wg         sync.WaitGroup
}

// BandwidthLimiter is the shaping hook an Engine calls before writing
// each chunk; *ratelimit.Limiter satisfies it.
type BandwidthLimiter interface {
	Wait(ctx context.Context, jobID string, n int) error
}

// NewEngine builds an Engine for one download attempt. client, store,
// and onProgress are shared infrastructure supplied by the caller
// (typically the orchestrator); verify is optional.
func NewEngine(id, url string, headers http.Header, partPath, finalPath string, workers int, adaptiveEnabled bool, rateHintBPS float64, client *http.Client, store *sidecar.Store, onProgress func(Progress), verify func(string) error) *Engine {
	return &Engine{
		ID:          id,
		URL:         url,
		Headers:     headers,
		PartPath:    partPath,
		FinalPath:   finalPath,
		Workers:     workers,
		Adaptive:    adaptiveEnabled,
		RateHintBPS: rateHintBPS,
		Verify:      verify,

		client:      client,
		store:       store,
		onProgress:  onProgress,
		cancelFuncs: make(map[int]context.CancelFunc),
		segSpeed:    make(map[int]*speedWindow),
		speed:       newSpeedWindow(speedWindowSpan),
		prog:        newThrottle(progressInterval),
		status:      StatusDownloading,
	}
}

// Pause stops all workers gracefully, preserving the sidecar so a later
// attempt can resume. Safe to call while Start is running, from another
// goroutine; a no-op before Start or after a terminal state.
func (e *Engine) Pause() {
	if e.stop != nil {
		e.stop()
	}
}

// Cancel stops all workers and discards the sidecar and partial file.
// Safe to call concurrently with Start, same as Pause.
func (e *Engine) Cancel() {
	e.wantCancel.Store(true)
	if e.stop != nil {
		e.stop()
	}
}

// Start runs the download to completion, pause, or cancellation. It
// returns nil for Completed and for a graceful Pause (including one
// triggered by ctx being cancelled externally, e.g. process shutdown);
// it returns a *Error for Failed, Cancelled, and Incomplete outcomes.
func (e *Engine) Start(ctx context.Context) error {
	runCtx, stop := context.WithCancel(ctx)
	e.stop = stop
	defer stop()

	probe, err := httpclient.Probe(runCtx, e.client, e.URL, e.Headers)
	if err != nil {
		e.setStatus(StatusFailed)
		e.emitProgress(true, err.Error())
		return permanentErr("probe failed", err)
	}

	existing := e.loadResumable(probe)
	e.segments = planner.Plan(probe.TotalBytes, e.Workers, probe.AcceptsRanges, existing)
	e.totalBytes = planner.TotalLength(e.segments)

	if err := e.preallocate(); err != nil {
		e.setStatus(StatusFailed)
		e.emitProgress(true, err.Error())
		return localIOErr("preallocate failed", err)
	}
	defer e.closeFile()

	var ctrl *adaptive.Controller
	if e.Adaptive && probe.AcceptsRanges {
		ctrl = adaptive.New(e.Workers, e.RateHintBPS, adaptive.DefaultThresholds())
	}

	e.setStatus(StatusDownloading)
	e.emitProgress(true, "")

	errCh := make(chan error, 64)
	for i, seg := range e.segments {
		if seg.Done() {
			continue
		}
		e.spawnWorker(runCtx, i, errCh)
	}

	doneCh := make(chan struct{})
	go func() { e.wg.Wait(); close(doneCh) }()

	progressTicker := time.NewTicker(progressInterval)
	defer progressTicker.Stop()

	var adaptiveC <-chan time.Time
	if ctrl != nil {
		adaptiveTicker := time.NewTicker(adaptiveInterval)
		defer adaptiveTicker.Stop()
		adaptiveC = adaptiveTicker.C
	}

	var firstErr error
loop:
	for {
		select {
		case werr := <-errCh:
			// A worker cancelled on its own (adaptive merge, or the
			// collapse to one segment) is not a job failure.
			if werr != nil && firstErr == nil && runCtx.Err() == nil && !errors.Is(werr, context.Canceled) {
				firstErr = werr
				stop()
			}
		case <-progressTicker.C:
			e.emitProgress(false, "")
			e.saveSidecar(probe, false)
		case now := <-adaptiveC:
			e.applyAdaptive(runCtx, ctrl, errCh, now)
		case <-doneCh:
			break loop
		}
	}

drain:
	for {
		select {
		case werr := <-errCh:
			if werr != nil && firstErr == nil && runCtx.Err() == nil && !errors.Is(werr, context.Canceled) {
				firstErr = werr
			}
		default:
			break drain
		}
	}

	e.saveSidecar(probe, true)

	switch {
	case e.wantCancel.Load():
		e.store.Discard()
		os.Remove(e.PartPath)
		e.setStatus(StatusCancelled)
		e.emitProgress(true, "Cancelled by user")
		return ErrCancelled

	case firstErr != nil:
		e.setStatus(StatusFailed)
		e.emitProgress(true, firstErr.Error())
		return firstErr

	case ctx.Err() != nil || (runCtx.Err() != nil && !planner.AllDone(e.segments)):
		// Either the caller's context ended (external shutdown) or Pause
		// cancelled the run before every segment finished: both resume
		// from the sidecar on a later attempt.
		e.setStatus(StatusPaused)
		e.emitProgress(true, "")
		return nil

	case !planner.AllDone(e.segments):
		terr := Incomplete(planner.TotalWritten(e.segments), e.totalBytes)
		e.setStatus(StatusFailed)
		e.emitProgress(true, terr.Error())
		return terr

	default:
		if err := e.finalize(); err != nil {
			e.setStatus(StatusFailed)
			e.emitProgress(true, err.Error())
			return localIOErr("finalize failed", err)
		}
		e.store.Discard()
		e.setStatus(StatusCompleted)
		e.emitProgress(true, "")
		return nil
	}
}

func (e *Engine) spawnWorker(parent context.Context, idx int, errCh chan<- error) {
	ctx, cancel := context.WithCancel(parent)

	e.segMu.Lock()
	e.cancelFuncs[idx] = cancel
	if e.segSpeed[idx] == nil {
		e.segSpeed[idx] = newSpeedWindow(segSpeedSpan)
	}
	e.segMu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()

		err := e.runWorker(ctx, idx)

		e.segMu.Lock()
		delete(e.cancelFuncs, idx)
		e.segMu.Unlock()

		errCh <- err
	}()
}

// applyAdaptive runs one adaptive control tick: gathers per-segment
// throughput, asks the controller for a decision, and applies it by
// either merging a straggler's remainder into a contiguous neighbor and
// cancelling its worker, or splitting the largest remaining segment and
// spawning a worker for the new half.
func (e *Engine) applyAdaptive(ctx context.Context, ctrl *adaptive.Controller, errCh chan<- error, _ time.Time) {
	e.segMu.Lock()
	active := len(e.cancelFuncs)
	throughput := make(map[int]float64, active)
	for idx := range e.cancelFuncs {
		if w, ok := e.segSpeed[idx]; ok {
			throughput[idx] = w.BPS()
		}
	}
	segsCopy := make([]planner.Segment, len(e.segments))
	copy(segsCopy, e.segments)
	e.segMu.Unlock()

	decision := ctrl.Tick(active, throughput, segsCopy)

	switch decision.Action {
	case adaptive.ActionRemoveWorker:
		e.segMu.Lock()
		merged := e.mergeStragglerLocked(decision.RemoveIndex)
		cancel, hasCancel := e.cancelFuncs[decision.RemoveIndex]
		e.segMu.Unlock()
		if merged && hasCancel {
			cancel()
		}

	case adaptive.ActionAddWorker:
		e.segMu.Lock()
		newIdx, ok := e.splitSegmentLocked(decision.SplitIndex)
		e.segMu.Unlock()
		if ok {
			e.spawnWorker(ctx, newIdx, errCh)
		}
	}
}

// splitSegmentLocked halves the remaining bytes of segments[idx],
// shrinking it and appending a new segment covering the second half.
// Splitting only appends, never removes or reorders, so index-keyed
// maps (cancelFuncs, segSpeed) stay valid across splits; only
// collapseToSingleSegment replaces the whole list. Caller must hold
// segMu.
func (e *Engine) splitSegmentLocked(idx int) (int, bool) {
	seg := e.segments[idx]
	remaining := seg.Remaining()
	half := remaining / 2
	if half < (1 << 20) {
		return 0, false
	}
	firstHalf := remaining - half
	newSeg := planner.Segment{Offset: seg.Offset + seg.Written + firstHalf, Length: half, Written: 0}
	e.segments[idx].Length = seg.Written + firstHalf
	e.segments = append(e.segments, newSeg)
	return len(e.segments) - 1, true
}

// mergeStragglerLocked folds segments[idx]'s unwritten remainder into a
// byte-contiguous neighbor segment that is still active, then marks idx
// as done so it contributes nothing further. Returns false (no-op) if
// no contiguous neighbor can be found, so no bytes are ever silently
// dropped. Caller must hold segMu.
func (e *Engine) mergeStragglerLocked(idx int) bool {
	seg := e.segments[idx]
	start := seg.Offset + seg.Written
	end := seg.End()
	if start > end {
		return true
	}
	for i := range e.segments {
		if i == idx {
			continue
		}
		other := e.segments[i]
		if other.Done() {
			continue
		}
		if other.End()+1 == start {
			e.segments[i].Length += end - start + 1
			e.segments[idx].Length = e.segments[idx].Written
			return true
		}
	}
	return false
}

func (e *Engine) loadResumable(probe *httpclient.ProbeResult) []planner.Segment {
	rec, err := e.store.Load()
	if err != nil {
		return nil
	}
	if rec.URL != e.URL {
		e.store.Discard()
		return nil
	}
	if rec.TotalBytes > 0 && probe.TotalBytes > 0 && rec.TotalBytes != probe.TotalBytes {
		e.store.Discard()
		return nil
	}
	return rec.ToSegments()
}

func (e *Engine) preallocate() error {
	if err := os.MkdirAll(filepath.Dir(e.PartPath), 0755); err != nil {
		return err
	}
	if e.totalBytes > 0 {
		if err := diskstats.CheckSpace(e.PartPath, e.totalBytes); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(e.PartPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	if e.totalBytes > 0 {
		if err := f.Truncate(e.totalBytes); err != nil {
			f.Close()
			return err
		}
	}
	e.file = f
	return nil
}

func (e *Engine) closeFile() {
	if e.file != nil {
		e.file.Close()
	}
}

func (e *Engine) finalize() error {
	if err := e.file.Sync(); err != nil {
		return err
	}
	if err := e.file.Close(); err != nil {
		return err
	}
	e.file = nil

	if e.Verify != nil {
		if err := e.Verify(e.PartPath); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(e.FinalPath), 0755); err != nil {
		return err
	}
	if err := os.Rename(e.PartPath, e.FinalPath); err == nil {
		return nil
	}
	// One retry covers a transient rename failure.
	return os.Rename(e.PartPath, e.FinalPath)
}

func (e *Engine) saveSidecar(probe *httpclient.ProbeResult, force bool) {
	e.segMu.Lock()
	segs := make([]planner.Segment, len(e.segments))
	copy(segs, e.segments)
	total := e.totalBytes
	e.segMu.Unlock()

	rec := &sidecar.Record{
		URL:         e.URL,
		TotalBytes:  total,
		ContentType: probe.ContentType,
		Segments:    sidecar.FromSegments(segs),
	}
	e.store.Save(rec, force)
}

func (e *Engine) emitProgress(force bool, errMsg string) {
	if !force && !e.prog.Allow(time.Now()) {
		return
	}
	if e.onProgress == nil {
		return
	}

	e.segMu.Lock()
	written := planner.TotalWritten(e.segments)
	active := len(e.cancelFuncs)
	e.segMu.Unlock()

	e.onProgress(Progress{
		JobID:         e.ID,
		Status:        e.getStatus(),
		TotalBytes:    e.totalBytes,
		ReceivedBytes: written,
		SpeedBPS:      e.speed.BPS(),
		ActiveWorkers: active,
		ErrorMessage:  errMsg,
	})
}

func (e *Engine) setStatus(s Status) {
	e.statusMu.Lock()
	e.status = s
	e.statusMu.Unlock()
}

func (e *Engine) getStatus() Status {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.status
}

func (e *Engine) segSpeedGet(idx int) (*speedWindow, bool) {
	e.segMu.Lock()
	defer e.segMu.Unlock()
	w, ok := e.segSpeed[idx]
	return w, ok
}

func (e *Engine) writeChunk(idx int, data []byte) error {
	e.segMu.Lock()
	offset := e.segments[idx].Offset + e.segments[idx].Written
	e.segMu.Unlock()

	if _, err := e.file.WriteAt(data, offset); err != nil {
		return err
	}

	e.segMu.Lock()
	e.segments[idx].Written += int64(len(data))
	e.segMu.Unlock()

	n := int64(len(data))
	e.speed.Add(n)
	if w, ok := e.segSpeedGet(idx); ok {
		w.Add(n)
	}
	return nil
}

func (e *Engine) segRangeLocked(idx int) (start, end int64, done bool) {
	e.segMu.Lock()
	defer e.segMu.Unlock()
	seg := e.segments[idx]
	if seg.Length > 0 && seg.Written >= seg.Length {
		return 0, 0, true
	}
	start = seg.Offset + seg.Written
	if seg.Length <= 0 {
		return start, -1, false
	}
	return start, seg.End(), false
}

func (e *Engine) finalizeUnknownSize(idx int) {
	e.segMu.Lock()
	defer e.segMu.Unlock()
	written := e.segments[idx].Written
	e.segments[idx].Length = written
	if e.totalBytes <= 0 {
		e.totalBytes = written
	}
}

func (e *Engine) segmentCount() int {
	e.segMu.Lock()
	defer e.segMu.Unlock()
	return len(e.segments)
}

// collapseToSingleSegment is invoked when a worker whose segment starts
// at offset 0 unexpectedly receives a 200 OK for a ranged request: the
// server ignored Range entirely. Every other worker is cancelled and
// the job falls back to one sequential segment covering the whole file,
// matching the body already in flight for idx.
func (e *Engine) collapseToSingleSegment(idx int) {
	e.segMu.Lock()
	defer e.segMu.Unlock()

	for i, cancel := range e.cancelFuncs {
		if i != idx {
			cancel()
		}
	}
	total := e.totalBytes
	if total <= 0 {
		total = e.segments[idx].Length
	}
	e.segments = []planner.Segment{{Offset: 0, Length: total, Written: 0}}
}
