// Package jobs runs background work: uniquely named one-shot jobs retried with
// exponential backoff, and cron-scheduled periodic jobs.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/avast/retry-go"
)

// Func is a unit of background work.
type Func func(ctx context.Context) error

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Config tunes retries for queued jobs.
type Config struct {
	// Attempts bounds how many times a job runs. Defaults to 5.
	Attempts uint
	// InitialDelay is the first backoff delay. Defaults to 10s.
	InitialDelay time.Duration
	// MaxDelay caps the backoff. Defaults to 5m.
	MaxDelay time.Duration
}

// Result is reported for every finished job.
type Result struct {
	Name string
	Err  error
}

type job struct {
	seq    uint64
	cancel context.CancelFunc
}

// Queue runs uniquely named jobs. Enqueueing a name that is already pending
// cancels the pending job and replaces it.
type Queue struct {
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	jobs   map[string]*job
	seq    uint64
	closed bool
	wg     sync.WaitGroup

	// OnResult, when set, is called after each job finishes or gives up.
	OnResult func(Result)
}

// NewQueue creates a queue. Call Close to stop it.
func NewQueue(cfg Config, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 5
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 10 * time.Second
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*job),
	}
}

// Enqueue schedules fn under name, replacing any pending job with that name.
func (q *Queue) Enqueue(name string, fn Func) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.logger.Warn("queue closed, dropping job", "job", name)
		return
	}
	if prev, ok := q.jobs[name]; ok {
		prev.cancel()
		q.logger.Debug("replacing pending job", "job", name)
	}

	q.seq++
	ctx, cancel := context.WithCancel(q.ctx)
	j := &job{seq: q.seq, cancel: cancel}
	q.jobs[name] = j

	q.wg.Add(1)
	go q.run(ctx, name, j, fn)
}

func (q *Queue) run(ctx context.Context, name string, j *job, fn Func) {
	defer q.wg.Done()
	defer j.cancel()

	attempt := 0
	err := retry.Do(
		func() error {
			attempt++
			return fn(ctx)
		},
		retry.RetryIf(func(err error) bool {
			return !IsPermanent(err) && ctx.Err() == nil
		}),
		retry.OnRetry(func(n uint, err error) {
			q.logger.Warn("job failed, will retry", "job", name, "attempt", n+1, "error", err)
		}),
		retry.Attempts(q.cfg.Attempts),
		retry.Delay(q.cfg.InitialDelay),
		retry.MaxDelay(q.cfg.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)

	q.mu.Lock()
	if cur, ok := q.jobs[name]; ok && cur.seq == j.seq {
		delete(q.jobs, name)
	}
	q.mu.Unlock()

	switch {
	case err == nil:
		q.logger.Info("job succeeded", "job", name, "attempts", attempt)
	case errors.Is(err, context.Canceled):
		q.logger.Debug("job cancelled", "job", name)
	default:
		q.logger.Error("job failed", "job", name, "attempts", attempt, "permanent", IsPermanent(err), "error", err)
	}

	if q.OnResult != nil {
		q.OnResult(Result{Name: name, Err: err})
	}
}

// Pending returns the names of jobs that have not finished, sorted.
func (q *Queue) Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	names := make([]string, 0, len(q.jobs))
	for name := range q.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Wait blocks until every job has finished.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Close cancels pending jobs and waits for them to return, or for ctx to end.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
