package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron"
)

// DefaultSyncSpec runs the periodic catch-up sync every 15 minutes.
const DefaultSyncSpec = "@every 15m"

// Scheduler runs named jobs on cron specs. A run that would overlap the
// previous run of the same job is skipped.
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	jobs   map[string]*scheduled
}

type scheduled struct {
	name    string
	fn      Func
	running atomic.Bool
}

// NewScheduler creates a scheduler. Each run is bounded by timeout when non-zero.
func NewScheduler(timeout time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(),
		logger:  logger,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]*scheduled),
	}
}

// Every registers fn to run on spec, e.g. "@every 15m" or "0 */5 * * * *".
func (s *Scheduler) Every(spec, name string, fn Func) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %q already scheduled", name)
	}
	j := &scheduled{name: name, fn: fn}
	if err := s.cron.AddFunc(spec, func() { s.runJob(j) }); err != nil {
		return fmt.Errorf("scheduling %q with spec %q: %w", name, spec, err)
	}
	s.jobs[name] = j
	s.logger.Info("scheduled periodic job", "job", name, "spec", spec)
	return nil
}

// Trigger runs a registered job immediately, subject to the overlap guard.
// It reports whether the job ran.
func (s *Scheduler) Trigger(name string) (bool, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("job %q not scheduled", name)
	}
	return s.runJob(j), nil
}

func (s *Scheduler) runJob(j *scheduled) bool {
	if !j.running.CompareAndSwap(false, true) {
		s.logger.Info("previous run still in progress, skipping", "job", j.name)
		return false
	}
	defer j.running.Store(false)

	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := j.fn(ctx); err != nil {
		s.logger.Error("periodic job failed", "job", j.name, "duration", time.Since(start), "error", err)
		return true
	}
	s.logger.Debug("periodic job finished", "job", j.name, "duration", time.Since(start))
	return true
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and cancels in-flight runs.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.cancel()
}
