// Package orchestrator admits download jobs, runs at most K Transfer
// Engines concurrently, and broadcasts progress to subscribers at a
// bounded rate. It is the only place Job state is mutated outside of
// the Transfer Engine that currently owns a job.
package orchestrator

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"project-tachyon/internal/httpclient"
	"project-tachyon/internal/ratelimit"
	"project-tachyon/internal/transfer"
)

// Status mirrors transfer.Status plus the pre-admission Queued state.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = Status(transfer.StatusDownloading)
	StatusPaused      Status = Status(transfer.StatusPaused)
	StatusCompleted   Status = Status(transfer.StatusCompleted)
	StatusFailed      Status = Status(transfer.StatusFailed)
	StatusCancelled   Status = Status(transfer.StatusCancelled)
)

func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// JobSummary is the external, read-only view of a Job (spec's
// control-surface JobSummary).
type JobSummary struct {
	ID            string    `json:"id"`
	URL           string    `json:"url"`
	Filename      string    `json:"filename"`
	DestPath      string    `json:"dest_path"`
	Status        Status    `json:"status"`
	TotalBytes    int64     `json:"total_bytes"`
	ReceivedBytes int64     `json:"received_bytes"`
	SpeedBPS      float64   `json:"speed_bps"`
	Connections   int       `json:"connections"`
	Priority      int       `json:"priority"` // 0=Low, 1=Normal, 2=High
	Adaptive      bool      `json:"adaptive"`
	Checksum      string    `json:"checksum,omitempty"` // SHA-256 of the completed file, set when VerifyChecksum is enabled
	ErrorMessage  string    `json:"error_message"`
	CreatedAt     time.Time `json:"created_at"`
	CompletedAt   time.Time `json:"completed_at,omitzero"`
}

// HistoryStore persists job history outside the core; the boundary
// spec.md draws around SQLite persistence. internal/storage implements
// this.
type HistoryStore interface {
	SaveJob(JobSummary) error
	DeleteJob(id string) error
}

// Event is delivered to subscribers. Data is a JobSummary for
// Type=="progress" and a logger.LogEvent for Type=="log" — subscribers
// branch on Type before decoding, same as the SSE wire format does.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Subscriber receives events; it must not block for long, since
// subscribers are invoked sequentially by the dispatcher goroutine.
type Subscriber func(Event)

// job is the internal record: a JobSummary plus whatever a running
// Transfer Engine needs to be controlled. All fields are touched only
// while holding Orchestrator.mu — the single admission/scheduler lock.
type job struct {
	JobSummary
	headers     http.Header
	partPath    string
	sidecarPath string
	rateHintBPS float64

	cancel     context.CancelFunc // non-nil while a Transfer Engine goroutine owns this job
	wantCancel bool               // true once Cancel() has been called on a running job
}

// Options configures an Orchestrator.
type Options struct {
	Concurrency    int // K; default 3
	MaxWorkers     int // default 30
	AllowedHosts   []string
	CleanupAge     time.Duration // default 24h
	MaxCompleted   int           // default 100
	Client         *http.Client
	History        HistoryStore       // optional
	Logger         *slog.Logger
	Limiter        *ratelimit.Limiter // optional; nil means unlimited bandwidth
	VerifyChecksum bool               // fingerprint completed files with internal/integrity
}

func (o *Options) setDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 3
	}
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = 30
	}
	if o.CleanupAge <= 0 {
		o.CleanupAge = 24 * time.Hour
	}
	if o.MaxCompleted <= 0 {
		o.MaxCompleted = 100
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Client == nil {
		o.Client = httpclient.New()
	}
}

// Orchestrator is the Queue Orchestrator component (spec §4.5). Jobs,
// the active set, and subscribers are all mutated only while holding
// mu, which doubles as the "scheduler lock".
type Orchestrator struct {
	opts Options

	mu          sync.Mutex
	jobs        map[string]*job
	order       []string
	active      map[string]struct{}
	subscribers map[string]Subscriber
	nextSubID   uint64

	triggerCh chan struct{}
	eventCh   chan Event

	rootCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an Orchestrator and starts its scheduler, dispatcher, and
// cleanup goroutines. Call Shutdown to stop them.
func New(opts Options) *Orchestrator {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	o := &Orchestrator{
		opts:        opts,
		jobs:        make(map[string]*job),
		active:      make(map[string]struct{}),
		subscribers: make(map[string]Subscriber),
		triggerCh:   make(chan struct{}, 1),
		eventCh:     make(chan Event, 256),
		rootCtx:     ctx,
		stop:        cancel,
	}

	o.wg.Add(3)
	go o.schedulerLoop()
	go o.dispatcherLoop()
	go o.cleanupLoop()

	return o
}

// Shutdown pauses every active job (preserving resume state), stops
// the background goroutines, and waits for in-flight work to settle.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	for id := range o.active {
		if j, ok := o.jobs[id]; ok && j.cancel != nil {
			j.cancel()
		}
	}
	o.mu.Unlock()

	o.stop()

	done := make(chan struct{})
	go func() { o.wg.Wait(); close(done) }()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) triggerScheduler() {
	select {
	case o.triggerCh <- struct{}{}:
	default:
	}
}

// schedulerLoop is the single coroutine that holds the admission lock
// for every state transition, per spec §4.5 / §9 ("race on admission").
func (o *Orchestrator) schedulerLoop() {
	defer o.wg.Done()
	for {
		select {
		case <-o.rootCtx.Done():
			return
		case <-o.triggerCh:
			o.admitReady()
		}
	}
}

// admitReady marks queued jobs Downloading and inserts them into the
// active set, atomically, before releasing the lock; only then does it
// launch each job's Transfer Engine goroutine.
func (o *Orchestrator) admitReady() {
	o.mu.Lock()
	var toStart []*job
	for _, id := range o.order {
		if len(o.active)+len(toStart) >= o.opts.Concurrency {
			break
		}
		j := o.jobs[id]
		if j == nil || j.Status != StatusQueued {
			continue
		}
		j.Status = StatusDownloading
		toStart = append(toStart, j)
	}
	for _, j := range toStart {
		o.active[j.ID] = struct{}{}
	}
	o.mu.Unlock()

	for _, j := range toStart {
		o.emit(j)
		o.startJob(j)
	}
}

func (o *Orchestrator) cleanupLoop() {
	defer o.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-o.rootCtx.Done():
			return
		case <-ticker.C:
			o.Cleanup()
		}
	}
}

func validateConnections(n, max int) int {
	if n <= 0 {
		return 4
	}
	if n > max {
		return max
	}
	return n
}

func newJobID() string { return uuid.New().String() }
