// Package schedule runs a daily pause/resume window over an
// orchestrator, generalizing the teacher's core.Scheduler — which
// defined the cron wiring but left its ResumeAll/PauseAll calls as
// commented-out TODOs — into a fully wired quiet-hours scheduler.
package schedule

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Target is the subset of Orchestrator a Scheduler drives.
type Target interface {
	PauseAll()
	ResumeAll()
}

// Window configures a daily quiet-hours schedule: downloads pause at
// StopHour and resume at StartHour (0-23, local time).
type Window struct {
	Enabled   bool
	StartHour int
	StopHour  int
}

// Scheduler owns a cron runner and re-registers its two jobs whenever
// SetWindow is called.
type Scheduler struct {
	logger *slog.Logger
	cron   *cron.Cron
	target Target

	mu         sync.Mutex
	window     Window
	startEntry cron.EntryID
	stopEntry  cron.EntryID
}

// New creates a Scheduler for target. Call Start to begin running it.
func New(logger *slog.Logger, target Target) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{logger: logger, cron: cron.New(), target: target}
}

// Start begins the cron runner's background goroutine.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the cron runner and waits for any in-flight job to finish.
func (s *Scheduler) Stop() { s.cron.Stop() }

// SetWindow replaces the current quiet-hours schedule, removing any
// previously registered cron entries first.
func (s *Scheduler) SetWindow(w Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.startEntry != 0 {
		s.cron.Remove(s.startEntry)
		s.startEntry = 0
	}
	if s.stopEntry != 0 {
		s.cron.Remove(s.stopEntry)
		s.stopEntry = 0
	}
	s.window = w

	if !w.Enabled {
		return nil
	}

	startSpec, err := specFromHour(w.StartHour)
	if err != nil {
		return fmt.Errorf("invalid start hour: %w", err)
	}
	stopSpec, err := specFromHour(w.StopHour)
	if err != nil {
		return fmt.Errorf("invalid stop hour: %w", err)
	}

	startID, err := s.cron.AddFunc(startSpec, func() {
		s.logger.Info("schedule: resuming downloads")
		s.target.ResumeAll()
	})
	if err != nil {
		return fmt.Errorf("failed to schedule start: %w", err)
	}

	stopID, err := s.cron.AddFunc(stopSpec, func() {
		s.logger.Info("schedule: pausing downloads")
		s.target.PauseAll()
	})
	if err != nil {
		s.cron.Remove(startID)
		return fmt.Errorf("failed to schedule stop: %w", err)
	}

	s.startEntry, s.stopEntry = startID, stopID
	s.logger.Info("schedule updated", "start_hour", w.StartHour, "stop_hour", w.StopHour)
	return nil
}

// Window returns the currently configured window.
func (s *Scheduler) Window() Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window
}

func specFromHour(hour int) (string, error) {
	if hour < 0 || hour > 23 {
		return "", fmt.Errorf("hour %d out of range 0-23", hour)
	}
	return fmt.Sprintf("0 %d * * *", hour), nil
}
