package orchestrator

import (
	"context"
	"os"
	"time"

	"project-tachyon/internal/integrity"
	"project-tachyon/internal/sidecar"
	"project-tachyon/internal/transfer"
)

// startJob launches the goroutine that owns j's Transfer Engine for
// one run attempt. It returns immediately; the goroutine reports back
// through onEngineDone when the engine's Start call returns.
func (o *Orchestrator) startJob(j *job) {
	ctx, cancel := context.WithCancel(o.rootCtx)

	o.mu.Lock()
	j.cancel = cancel
	j.wantCancel = false
	o.mu.Unlock()

	store := sidecar.New(j.sidecarPath)
	var verify func(string) error
	if o.opts.VerifyChecksum {
		verify = func(path string) error { return o.verifyChecksum(j.ID, path) }
	}
	// last is written and read only on the goroutine that runs Start.
	var last transfer.Status
	engine := transfer.NewEngine(
		j.ID, j.URL, j.headers, j.partPath, j.DestPath,
		j.Connections, j.Adaptive, j.rateHintBPS,
		o.opts.Client, store,
		func(p transfer.Progress) { last = p.Status; o.onProgress(j.ID, p) },
		verify,
	)
	if o.opts.Limiter != nil {
		o.opts.Limiter.SetPriority(j.ID, j.Priority)
		engine.Limiter = o.opts.Limiter
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		err := engine.Start(ctx)
		o.onEngineDone(j.ID, err, last)
	}()
}

// verifyChecksum fingerprints the completed part file and records it
// on the job before the engine renames it into place. The digest is
// recorded, not compared against anything; only a failure to read the
// file aborts the job.
func (o *Orchestrator) verifyChecksum(id, path string) error {
	sum, err := integrity.Fingerprint(path)
	if err != nil {
		return err
	}
	o.mu.Lock()
	if j, ok := o.jobs[id]; ok {
		j.Checksum = sum
	}
	o.mu.Unlock()
	return nil
}

// onProgress updates the job's live fields from an engine progress
// sample and queues a broadcast. Like verifyChecksum and onEngineDone,
// which also run on a Transfer Engine's goroutine, it touches shared
// Job state only through the admission lock.
func (o *Orchestrator) onProgress(id string, p transfer.Progress) {
	o.mu.Lock()
	j, ok := o.jobs[id]
	if !ok {
		o.mu.Unlock()
		return
	}
	j.TotalBytes = p.TotalBytes
	j.ReceivedBytes = p.ReceivedBytes
	j.SpeedBPS = p.SpeedBPS
	j.ErrorMessage = p.ErrorMessage
	if p.Status == transfer.StatusDownloading {
		j.Status = StatusDownloading
	}
	o.mu.Unlock()

	o.emit(j)
}

// onEngineDone reconciles the job's terminal/paused state once a
// Transfer Engine run returns, releases the concurrency slot, and
// retriggers the scheduler so the next queued job is never starved.
// final is the last status the engine published through onProgress.
func (o *Orchestrator) onEngineDone(id string, runErr error, final transfer.Status) {
	o.mu.Lock()
	j, ok := o.jobs[id]
	if !ok {
		o.mu.Unlock()
		return
	}

	delete(o.active, id)
	j.cancel = nil
	// Cancel stops a running engine through its context, which the
	// engine treats as a pause; finish it as Cancelled here instead.
	cancelled := j.wantCancel && final != transfer.StatusCompleted

	switch {
	case runErr == nil && !cancelled:
		// Start returns nil for both Completed and a graceful Pause.
		if final == transfer.StatusCompleted {
			j.Status = StatusCompleted
			j.CompletedAt = time.Now()
		} else {
			j.Status = StatusPaused
		}

	case cancelled || transfer.IsKind(runErr, transfer.KindCancelled):
		j.Status = StatusCancelled
		j.CompletedAt = time.Now()
		j.ErrorMessage = ""

	default:
		j.Status = StatusFailed
		j.CompletedAt = time.Now()
		j.ErrorMessage = runErr.Error()
	}

	j.wantCancel = false
	snapshot := j.JobSummary
	o.mu.Unlock()

	if cancelled {
		sidecar.New(j.sidecarPath).Discard()
		os.Remove(j.partPath)
	}
	o.emit(j)
	if o.opts.History != nil {
		o.opts.History.SaveJob(snapshot)
	}

	o.triggerScheduler()
}
