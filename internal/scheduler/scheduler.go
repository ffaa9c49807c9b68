// Package scheduler drives the two named jobs spec §4.9 requires —
// search (full sweep) and cleanup (retry undownloaded) — on an
// interval scheduler with max-one-instance-per-job semantics and
// JobLog bookkeeping.
//
// Grounded on internal/services/reannounce/service.go's ticker-driven
// background loop for the overlap-prevention shape (a per-job
// "isRunning" flag guarded by a mutex, refusing a new run while one is
// in flight); built on github.com/madflojo/tasks for the underlying
// interval scheduling since it is a direct dependency of
// charleshuang3/camouflagetorrentclients in the retrieval pack and is
// a exact fit for "named, cancellable interval tasks".
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/madflojo/tasks"
	"github.com/rs/zerolog/log"
)

// Persistence is the subset of internal/database the scheduler needs
// for JobLog bookkeeping.
type Persistence interface {
	RecordJobRun(ctx context.Context, name string, now time.Time, next *time.Time) error
}

// JobFunc is one scheduled job's body. It receives a context canceled
// when the scheduler is stopped.
type JobFunc func(ctx context.Context) error

// jobState tracks one named job's overlap-prevention flag.
type jobState struct {
	mu      sync.Mutex
	running bool
	cadence time.Duration
	fn      JobFunc
}

// Scheduler runs named jobs on independent cadences with max one
// instance per job (spec §4.9: "overlapping triggers coalesce" — a
// trigger that lands while the previous run is still in flight is
// simply dropped, since the tasks library's own tick already fired the
// next interval regardless of completion).
type Scheduler struct {
	persist Persistence
	runner  *tasks.Scheduler

	mu     sync.Mutex
	jobs   map[string]*jobState
	taskID map[string]string

	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// New constructs a Scheduler backed by a fresh tasks.Scheduler.
func New(persist Persistence) *Scheduler {
	return &Scheduler{
		persist: persist,
		runner:  tasks.New(),
		jobs:    make(map[string]*jobState),
		taskID:  make(map[string]string),
	}
}

// Register adds a named job with the given cadence. It does not start
// running until Start is called.
func (s *Scheduler) Register(name string, cadence time.Duration, fn JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[name] = &jobState{cadence: cadence, fn: fn}
}

// Start begins every registered job's recurring interval trigger.
func (s *Scheduler) Start(ctx context.Context) error {
	s.baseCtx, s.cancelBase = context.WithCancel(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, job := range s.jobs {
		name, job := name, job
		id, err := s.runner.Add(&tasks.Task{
			Interval: job.cadence,
			TaskFunc: func() error {
				s.runOnce(name, job)
				return nil
			},
			ErrFunc: func(err error) {
				log.Error().Err(err).Str("job", name).Msg("scheduler: task error")
			},
		})
		if err != nil {
			return fmt.Errorf("scheduler: register %s: %w", name, err)
		}
		s.taskID[name] = id
	}
	return nil
}

// Stop cancels pending triggers, then awaits any in-flight job to its
// natural completion (spec §5: "shutdown cancels pending triggers,
// then awaits the current in-flight job up to its natural
// completion").
func (s *Scheduler) Stop() {
	s.runner.Stop()
	for s.anyRunning() {
		time.Sleep(50 * time.Millisecond)
	}
	if s.cancelBase != nil {
		s.cancelBase()
	}
}

func (s *Scheduler) anyRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		job.mu.Lock()
		running := job.running
		job.mu.Unlock()
		if running {
			return true
		}
	}
	return false
}

// TriggerNow runs name immediately, refusing if it is already running
// (spec §4.9: "Trigger-now operation refuses if the job is currently
// running").
func (s *Scheduler) TriggerNow(name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	ctx := s.baseCtx
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown job %q", name)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	job.mu.Lock()
	if job.running {
		job.mu.Unlock()
		return fmt.Errorf("scheduler: job %q is already running", name)
	}
	job.running = true
	job.mu.Unlock()

	s.execute(ctx, name, job)
	return nil
}

func (s *Scheduler) runOnce(name string, job *jobState) {
	job.mu.Lock()
	if job.running {
		job.mu.Unlock()
		log.Debug().Str("job", name).Msg("scheduler: skip tick, already running")
		return
	}
	job.running = true
	job.mu.Unlock()

	ctx := s.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	s.execute(ctx, name, job)
}

// execute runs job.fn, records JobLog bookkeeping, and clears the
// running flag regardless of outcome.
func (s *Scheduler) execute(ctx context.Context, name string, job *jobState) {
	defer func() {
		job.mu.Lock()
		job.running = false
		job.mu.Unlock()
	}()

	start := time.Now().UTC()
	next := start.Add(job.cadence)
	if err := s.persist.RecordJobRun(ctx, name, start, &next); err != nil {
		log.Warn().Err(err).Str("job", name).Msg("scheduler: record_job_run failed")
	}

	if err := job.fn(ctx); err != nil {
		log.Error().Err(err).Str("job", name).Msg("scheduler: job failed")
	}
}
