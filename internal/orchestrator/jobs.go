package orchestrator

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"project-tachyon/internal/security"
	"project-tachyon/internal/sidecar"
)

// AddOptions are the caller-supplied parameters for Add.
type AddOptions struct {
	Filename    string // optional; derived from the URL path when empty
	Connections int    // 1..MaxWorkers; default 4
	Priority    int    // 0=Low (the zero value, used when unset), 1=Normal, 2=High
	Adaptive    bool
	DestDir     string // required
	Headers     map[string][]string
}

// Add validates urlStr, allocates a Queued job, and triggers the
// scheduler. It never starts a transfer synchronously.
func (o *Orchestrator) Add(urlStr string, opts AddOptions) (string, error) {
	if err := security.ValidateURL(urlStr, o.opts.AllowedHosts); err != nil {
		return "", err
	}

	filename := opts.Filename
	if filename == "" {
		filename = filenameFromURL(urlStr)
	}
	if opts.DestDir == "" {
		return "", fmt.Errorf("dest dir is required")
	}

	id := newJobID()
	finalPath := filepath.Join(opts.DestDir, filename)
	partPath := finalPath + ".part"

	j := &job{
		JobSummary: JobSummary{
			ID:          id,
			URL:         urlStr,
			Filename:    filename,
			DestPath:    finalPath,
			Status:      StatusQueued,
			Connections: validateConnections(opts.Connections, o.opts.MaxWorkers),
			Priority:    opts.Priority,
			Adaptive:    opts.Adaptive,
			CreatedAt:   time.Now(),
		},
		partPath:    partPath,
		sidecarPath: partPath + ".json",
		rateHintBPS: rateHintFromURL(urlStr),
		headers:     toHeader(opts.Headers),
	}

	o.mu.Lock()
	o.jobs[id] = j
	o.order = append(o.order, id)
	o.mu.Unlock()

	if o.opts.History != nil {
		if err := o.opts.History.SaveJob(j.JobSummary); err != nil {
			o.opts.Logger.Warn("failed to persist job history", "job", id, "error", err)
		}
	}

	o.emit(j)
	o.triggerScheduler()
	return id, nil
}

// Get returns a snapshot of one job.
func (o *Orchestrator) Get(id string) (JobSummary, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	j, ok := o.jobs[id]
	if !ok {
		return JobSummary{}, false
	}
	return j.JobSummary, true
}

// List returns a snapshot of every job in insertion order.
func (o *Orchestrator) List() []JobSummary {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]JobSummary, 0, len(o.order))
	for _, id := range o.order {
		if j, ok := o.jobs[id]; ok {
			out = append(out, j.JobSummary)
		}
	}
	return out
}

// Pause requests cooperative suspension of a Downloading job.
func (o *Orchestrator) Pause(id string) error {
	o.mu.Lock()
	j, ok := o.jobs[id]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("job %s not found", id)
	}
	if j.Status != StatusDownloading {
		o.mu.Unlock()
		return fmt.Errorf("job %s is not downloading (status %s)", id, j.Status)
	}
	cancel := j.cancel
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// Resume re-admits a Paused job to the ready set.
func (o *Orchestrator) Resume(id string) error {
	o.mu.Lock()
	j, ok := o.jobs[id]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("job %s not found", id)
	}
	if j.Status != StatusPaused {
		o.mu.Unlock()
		return fmt.Errorf("job %s is not paused (status %s)", id, j.Status)
	}
	j.Status = StatusQueued
	o.mu.Unlock()

	o.emit(j)
	o.triggerScheduler()
	return nil
}

// Cancel stops a job permanently, wherever it currently sits.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	j, ok := o.jobs[id]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("job %s not found", id)
	}
	if j.Status.terminal() {
		o.mu.Unlock()
		return nil // idempotent terminal transition
	}

	cancel := j.cancel
	wasQueued := j.Status == StatusQueued
	wasPaused := j.Status == StatusPaused
	partPath, sidecarPath := j.partPath, j.sidecarPath
	if wasQueued || wasPaused {
		j.Status = StatusCancelled
		j.CompletedAt = time.Now()
	}
	o.mu.Unlock()

	if cancel != nil {
		// The running Transfer Engine doesn't know "cancel" from
		// "pause" by itself; mark the intent so its goroutine finalizes
		// as Cancelled once it observes the context done.
		o.mu.Lock()
		if jj, ok := o.jobs[id]; ok {
			jj.wantCancel = true
		}
		o.mu.Unlock()
		cancel()
		return nil
	}

	if wasPaused {
		// No engine goroutine owns this job any more, so nothing else
		// will ever clean up its part file and sidecar; do it here,
		// mirroring what a running engine does on cancellation.
		sidecar.New(sidecarPath).Discard()
		os.Remove(partPath)
	}

	if wasQueued || wasPaused {
		o.emit(j)
		if o.opts.History != nil {
			o.opts.History.SaveJob(j.JobSummary)
		}
	}
	return nil
}

// Remove drops a terminal job's entry and on-disk history row.
func (o *Orchestrator) Remove(id string) error {
	o.mu.Lock()
	j, ok := o.jobs[id]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("job %s not found", id)
	}
	if !j.Status.terminal() {
		o.mu.Unlock()
		return fmt.Errorf("job %s is not terminal (status %s)", id, j.Status)
	}
	delete(o.jobs, id)
	o.order = removeID(o.order, id)
	o.mu.Unlock()

	if o.opts.History != nil {
		return o.opts.History.DeleteJob(id)
	}
	return nil
}

// Cleanup removes terminal jobs older than CleanupAge, or the oldest
// terminal jobs beyond MaxCompleted (newest retained); a job matched by
// either rule is removed. It retries transiently-failing history deletes
// up to 3 times per spec §4.5.
func (o *Orchestrator) Cleanup() int {
	cutoff := time.Now().Add(-o.opts.CleanupAge)

	o.mu.Lock()
	type candidate struct {
		id  string
		at  time.Time
	}
	var terminalJobs []candidate
	for _, id := range o.order {
		j := o.jobs[id]
		if j != nil && j.Status.terminal() {
			terminalJobs = append(terminalJobs, candidate{id: id, at: j.CompletedAt})
		}
	}
	sort.Slice(terminalJobs, func(i, k int) bool { return terminalJobs[i].at.Before(terminalJobs[k].at) })

	toRemove := make(map[string]struct{})
	for _, c := range terminalJobs {
		if c.at.Before(cutoff) {
			toRemove[c.id] = struct{}{}
		}
	}
	if excess := len(terminalJobs) - o.opts.MaxCompleted; excess > 0 {
		for _, c := range terminalJobs[:excess] {
			toRemove[c.id] = struct{}{}
		}
	}
	for id := range toRemove {
		delete(o.jobs, id)
	}
	if len(toRemove) > 0 {
		kept := o.order[:0]
		for _, id := range o.order {
			if _, gone := toRemove[id]; !gone {
				kept = append(kept, id)
			}
		}
		o.order = kept
	}
	o.mu.Unlock()

	removed := 0
	for id := range toRemove {
		if o.opts.History == nil {
			removed++
			continue
		}
		var err error
		for attempt := 0; attempt < 3; attempt++ {
			if err = o.opts.History.DeleteJob(id); err == nil {
				break
			}
		}
		if err != nil {
			o.opts.Logger.Warn("cleanup: failed to delete history row", "job", id, "error", err)
			continue
		}
		removed++
	}
	return removed
}

// SetPriority changes a job's bandwidth-fairness priority. The
// bandwidth limiter is updated at once, so a running job is affected
// immediately.
func (o *Orchestrator) SetPriority(id string, priority int) error {
	o.mu.Lock()
	j, ok := o.jobs[id]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("job %s not found", id)
	}
	j.Priority = priority
	o.mu.Unlock()

	if o.opts.Limiter != nil {
		o.opts.Limiter.SetPriority(id, priority)
	}
	o.emit(j)
	return nil
}

// PauseAll requests cooperative suspension of every Downloading job,
// e.g. for a scheduled quiet-hours window.
func (o *Orchestrator) PauseAll() {
	o.mu.Lock()
	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		o.Pause(id)
	}
}

// ResumeAll re-queues every Paused job, e.g. when a scheduled
// quiet-hours window ends.
func (o *Orchestrator) ResumeAll() {
	o.mu.Lock()
	var ids []string
	for _, id := range o.order {
		if j := o.jobs[id]; j != nil && j.Status == StatusPaused {
			ids = append(ids, id)
		}
	}
	o.mu.Unlock()

	for _, id := range ids {
		o.Resume(id)
	}
}

// Reorder moves a still-Queued job within the admission order.
// direction is one of "first", "prev", "next", "last"; any other job
// state is a no-op error since running/terminal jobs have no queue
// position to change.
func (o *Orchestrator) Reorder(id, direction string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	j, ok := o.jobs[id]
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	if j.Status != StatusQueued {
		return fmt.Errorf("job %s is not queued", id)
	}

	pos := -1
	for i, jid := range o.order {
		if jid == id {
			pos = i
			break
		}
	}
	if pos < 0 {
		return fmt.Errorf("job %s not found in queue order", id)
	}

	switch direction {
	case "first":
		o.order = moveTo(o.order, pos, 0)
	case "last":
		o.order = moveTo(o.order, pos, len(o.order)-1)
	case "prev":
		if pos > 0 {
			o.order = moveTo(o.order, pos, pos-1)
		}
	case "next":
		if pos < len(o.order)-1 {
			o.order = moveTo(o.order, pos, pos+1)
		}
	default:
		return fmt.Errorf("invalid direction: %s", direction)
	}
	return nil
}

func moveTo(ids []string, from, to int) []string {
	if from == to {
		return ids
	}
	id := ids[from]
	without := append(append([]string{}, ids[:from]...), ids[from+1:]...)
	out := make([]string, 0, len(ids))
	out = append(out, without[:to]...)
	out = append(out, id)
	out = append(out, without[to:]...)
	return out
}

func removeID(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

func filenameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "download"
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return "download"
	}
	return base
}

func rateHintFromURL(raw string) float64 {
	u, err := url.Parse(raw)
	if err != nil {
		return 0
	}
	v := u.Query().Get("rate")
	if v == "" {
		return 0
	}
	var bps float64
	if _, err := fmt.Sscanf(v, "%f", &bps); err != nil {
		return 0
	}
	return bps
}

func toHeader(h map[string][]string) map[string][]string {
	if h == nil {
		return nil
	}
	return h
}
