package orchestrator

import "time"

// RecoveredJob is one history row worth reloading into the in-memory
// job map on startup. Fields mirror JobSummary; callers (internal/storage)
// build these from JobRecord without this package needing to import
// gorm types.
type RecoveredJob struct {
	ID            string
	URL           string
	Filename      string
	DestPath      string
	Status        Status
	Connections   int
	Priority      int
	Adaptive      bool
	TotalBytes    int64
	ReceivedBytes int64
	Checksum      string
	ErrorMessage  string
	CreatedAt     time.Time
	CompletedAt   time.Time
}

// Recover reloads non-terminal history rows left over from a previous
// run. Any row still marked Downloading when the process died is
// demoted to Paused — the engine that owned it is gone, so it can only
// be resumed, not trusted to still be in flight — generalizing the
// teacher's Engine.RecoverInterruptedDownloads. Terminal rows are
// skipped, so List and Get do not return them; they stay only in the
// history store.
func (o *Orchestrator) Recover(recs []RecoveredJob) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, r := range recs {
		if Status(r.Status).terminal() {
			continue
		}
		status := r.Status
		if status == StatusDownloading || status == StatusQueued {
			status = StatusPaused
		}

		partPath := r.DestPath + ".part"
		j := &job{
			JobSummary: JobSummary{
				ID:            r.ID,
				URL:           r.URL,
				Filename:      r.Filename,
				DestPath:      r.DestPath,
				Status:        status,
				Connections:   r.Connections,
				Priority:      r.Priority,
				Adaptive:      r.Adaptive,
				TotalBytes:    r.TotalBytes,
				ReceivedBytes: r.ReceivedBytes,
				Checksum:      r.Checksum,
				CreatedAt:     r.CreatedAt,
				CompletedAt:   r.CompletedAt,
			},
			partPath:    partPath,
			sidecarPath: partPath + ".json",
			rateHintBPS: rateHintFromURL(r.URL),
		}
		o.jobs[j.ID] = j
		o.order = append(o.order, j.ID)
		o.opts.Logger.Info("recovered interrupted job", "job", j.ID, "filename", j.Filename, "status", j.Status)
	}
}
