// Package scheduler runs one background job on a fixed interval and can be
// started and stopped at runtime.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Job is one unit of periodic work. A returned error is logged and the
// schedule continues.
type Job func(ctx context.Context) error

type Scheduler struct {
	name     string
	interval time.Duration
	job      Job

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	statsMu sync.Mutex
	stats   Status
}

// Status is a snapshot for the admin endpoint.
type Status struct {
	Name      string     `json:"name"`
	Running   bool       `json:"running"`
	Interval  string     `json:"interval"`
	Runs      int64      `json:"runs"`
	Failures  int64      `json:"failures"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	LastError string     `json:"lastError,omitempty"`
}

func New(name string, interval time.Duration, job Job) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if job == nil {
		return nil, errors.New("job must not be nil")
	}
	// closed until the first Start so Wait never blocks on an idle scheduler
	done := make(chan struct{})
	close(done)

	return &Scheduler{
		name:     name,
		interval: interval,
		job:      job,
		done:     done,
	}, nil
}

// Start runs the job immediately and then every interval until Stop is
// called or parent is cancelled. Reports false if already running.
func (s *Scheduler) Start(parent context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)
		defer s.running.Store(false)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		slog.Info("scheduler started", "job", s.name, "interval", s.interval.String())

		s.safeRun(ctx)

		for {
			select {
			case <-ctx.Done():
				slog.Info("scheduler stopping", "job", s.name)
				return
			case <-ticker.C:
				s.safeRun(ctx)
			}
		}
	}()

	return true
}

func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done

	slog.Info("scheduler stopped", "job", s.name)
	return true
}

// Wait blocks until the loop exits.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	<-done
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) Status() Status {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	st := s.stats
	st.Name = s.name
	st.Running = s.running.Load()
	st.Interval = s.interval.String()
	return st
}

func (s *Scheduler) safeRun(ctx context.Context) {
	start := time.Now()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = s.job(ctx)
	}()

	s.statsMu.Lock()
	s.stats.Runs++
	at := start.UTC()
	s.stats.LastRunAt = &at
	if err != nil {
		s.stats.Failures++
		s.stats.LastError = err.Error()
	} else {
		s.stats.LastError = ""
	}
	s.statsMu.Unlock()

	if err != nil {
		slog.Error("scheduled job failed", "job", s.name, "error", err)
		return
	}
	slog.Debug("scheduled job completed", "job", s.name, "duration_ms", time.Since(start).Milliseconds())
}
