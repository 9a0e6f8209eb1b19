// Package job runs the periodic contest finalization sweep.
package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DueFinalizer finalizes every contest whose window has closed.
type DueFinalizer interface {
	FinalizeDue(ctx context.Context) (int, error)
}

// Status is a point-in-time view of the sweep.
type Status struct {
	Spec         string        `json:"spec"`
	LastRun      *time.Time    `json:"lastRun,omitempty"`
	NextRun      *time.Time    `json:"nextRun,omitempty"`
	LastDuration time.Duration `json:"lastDuration"`
	LastError    string        `json:"lastError,omitempty"`
	RunCount     int64         `json:"runCount"`
	ErrorCount   int64         `json:"errorCount"`
	Finalized    int64         `json:"finalized"`
}

// Scheduler triggers DueFinalizer on a cron schedule (seconds precision).
type Scheduler struct {
	cron      *cron.Cron
	entry     cron.EntryID
	finalizer DueFinalizer
	timeout   time.Duration
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
	status  Status
}

// NewScheduler validates spec and registers the sweep. A zero timeout defaults to one minute.
func NewScheduler(spec string, timeout time.Duration, finalizer DueFinalizer, logger zerolog.Logger) (*Scheduler, error) {
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:      cron.New(cron.WithSeconds()),
		finalizer: finalizer,
		timeout:   timeout,
		logger:    logger.With().Str("component", "finalize_job").Logger(),
		ctx:       ctx,
		cancel:    cancel,
		status:    Status{Spec: spec},
	}
	id, err := s.cron.AddFunc(spec, s.Run)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Str("spec", s.status.Spec).Msg("finalize job scheduled")
}

// Stop cancels a running sweep and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("finalize job stopped")
}

// Run performs one sweep. Overlapping triggers are skipped.
func (s *Scheduler) Run() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Debug().Msg("previous sweep still running, skipping")
		return
	}
	s.running = true
	started := time.Now()
	s.status.LastRun = &started
	s.status.RunCount++
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	n, err := s.finalizer.FinalizeDue(ctx)
	elapsed := time.Since(started)

	s.mu.Lock()
	s.running = false
	s.status.LastDuration = elapsed
	s.status.Finalized += int64(n)
	if err != nil {
		s.status.ErrorCount++
		s.status.LastError = err.Error()
	} else {
		s.status.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().Err(err).Int("finalized", n).Dur("took", elapsed).Msg("finalize sweep failed")
		return
	}
	if n > 0 {
		s.logger.Info().Int("finalized", n).Dur("took", elapsed).Msg("finalize sweep done")
	}
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	if next := s.cron.Entry(s.entry).Next; !next.IsZero() {
		st.NextRun = &next
	}
	return st
}
