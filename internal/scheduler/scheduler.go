// Package scheduler implements the Job Scheduler from spec.md 4.8: a
// recurring-job registry with idempotent reconciliation semantics per
// management node, built on robfig/cron/v3 for the actual trigger timing.
// Registered jobs are held in memory only; they are not persisted and do
// not survive a process restart.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/National-Digital-Twin/federator-sub003/internal/model"
	"github.com/National-Digital-Twin/federator-sub003/pkg/logger"
)

// ErrNotStarted is returned by any operation attempted before EnsureStarted,
// per spec.md 4.8 "get_scheduler fails if not started".
var ErrNotStarted = errors.New("scheduler: not started")

// Worker runs one recurring job's body. job.Retries is the configured retry
// count for the job; the Scheduler never re-runs a failed trigger itself,
// so Worker is responsible for applying it if relevant to the triggered
// work (e.g. re-running a failed connection attempt).
type Worker func(ctx context.Context, job model.RecurringJob)

// Scheduler is an in-memory recurring-job registry. Not safe for concurrent
// Register/Remove/Reload calls from multiple goroutines beyond the
// serialisation this type itself provides (spec.md 5: "the scheduler's
// durable store: concurrent reads, serialised writes by a single
// reconciler at a time per node").
type Scheduler struct {
	cron    *cron.Cron
	worker  Worker
	log     *logger.Logger

	mu      sync.Mutex
	started bool
	entries map[string]cron.EntryID
	jobs    map[string]model.RecurringJob
}

// New builds a Scheduler bound to worker; call EnsureStarted before
// registering jobs.
func New(worker Worker, log *logger.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		worker:  worker,
		log:     log,
		entries: make(map[string]cron.EntryID),
		jobs:    make(map[string]model.RecurringJob),
	}
}

// EnsureStarted starts the underlying cron runner. Idempotent.
func (s *Scheduler) EnsureStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.cron.Start()
	s.started = true
}

// Stop halts the cron runner, waiting for in-flight jobs to finish.
// Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()
	<-s.cron.Stop().Done()
}

// RegisterJob creates or replaces the recurring job identified by
// job.JobID (deterministic from (job_name, topic), per spec.md 3), with
// job.Schedule.Cron taking precedence over job.Schedule.Interval. If
// job.RequireImmediate is set, the worker also runs once immediately in
// addition to the recurring schedule, per spec.md 4.8.
func (s *Scheduler) RegisterJob(job model.RecurringJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return ErrNotStarted
	}

	spec, err := cronSpec(job)
	if err != nil {
		return fmt.Errorf("scheduler: register %s: %w", job.JobID, err)
	}

	entryID, err := s.cron.AddFunc(spec, func() {
		s.worker(context.Background(), job)
	})
	if err != nil {
		return fmt.Errorf("scheduler: add job %s: %w", job.JobID, err)
	}

	s.entries[job.JobID] = entryID
	s.jobs[job.JobID] = job

	if job.RequireImmediate {
		go s.worker(context.Background(), job)
	}
	return nil
}

// RemoveRecurringJob removes the job identified by jobID, if present.
func (s *Scheduler) RemoveRecurringJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return ErrNotStarted
	}
	if entryID, ok := s.entries[jobID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, jobID)
	}
	delete(s.jobs, jobID)
	return nil
}

// ReloadRecurrentJobs is the heart of dynamic config (spec.md 4.8): it
// reconciles this management node's jobs to exactly the requested set,
// leaving jobs owned by other nodes untouched. It is idempotent — calling
// it twice with the same requests performs no further mutations the
// second time. Each individual add/remove failure is logged and does not
// halt reconciliation of the remaining job ids.
func (s *Scheduler) ReloadRecurrentJobs(managementNodeID string, requests []model.RecurringJob) {
	s.mu.Lock()
	existingForNode := make(map[string]model.RecurringJob)
	for id, job := range s.jobs {
		if job.ManagementNodeID == managementNodeID {
			existingForNode[id] = job
		}
	}
	s.mu.Unlock()

	desired := make(map[string]model.RecurringJob, len(requests))
	for _, r := range requests {
		desired[r.JobID] = r
	}

	for id := range existingForNode {
		if _, wanted := desired[id]; !wanted {
			if err := s.RemoveRecurringJob(id); err != nil {
				s.log.Warn("scheduler: remove job %s during reconcile: %v", id, err)
			}
		}
	}

	for id, want := range desired {
		existing, present := existingForNode[id]
		switch {
		case !present:
			if err := s.RegisterJob(want); err != nil {
				s.log.Warn("scheduler: add job %s during reconcile: %v", id, err)
			}
		case !existing.Equal(want):
			if err := s.RemoveRecurringJob(id); err != nil {
				s.log.Warn("scheduler: remove stale job %s during reconcile: %v", id, err)
				continue
			}
			if err := s.RegisterJob(want); err != nil {
				s.log.Warn("scheduler: re-add job %s during reconcile: %v", id, err)
			}
		}
	}
}

// Jobs returns a snapshot of every currently registered job, for tests and
// diagnostics.
func (s *Scheduler) Jobs() map[string]model.RecurringJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]model.RecurringJob, len(s.jobs))
	for k, v := range s.jobs {
		out[k] = v
	}
	return out
}

func cronSpec(job model.RecurringJob) (string, error) {
	if job.Schedule.Cron != "" {
		return job.Schedule.Cron, nil
	}
	if job.Schedule.Interval > 0 {
		return "@every " + job.Schedule.Interval.String(), nil
	}
	return "", errors.New("job schedule has neither a cron expression nor a positive interval")
}
