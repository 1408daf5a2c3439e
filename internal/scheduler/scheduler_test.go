package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/National-Digital-Twin/federator-sub003/internal/model"
	"github.com/National-Digital-Twin/federator-sub003/pkg/logger"
)

type recorder struct {
	mu   sync.Mutex
	runs []string
}

func (r *recorder) worker(ctx context.Context, job model.RecurringJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, job.JobID)
}

func TestRegisterJobFailsBeforeStart(t *testing.T) {
	s := New((&recorder{}).worker, logger.New("scheduler-test"))
	err := s.RegisterJob(model.RecurringJob{JobID: "a:topic", Schedule: model.JobSchedule{Interval: time.Second}})
	require.ErrorIs(t, err, ErrNotStarted)
}

func TestRegisterAndRemoveJob(t *testing.T) {
	rec := &recorder{}
	s := New(rec.worker, logger.New("scheduler-test"))
	s.EnsureStarted()
	defer s.Stop()

	job := model.RecurringJob{JobID: model.JobID("poll", "topic-a"), JobName: "poll", Topic: "topic-a", Schedule: model.JobSchedule{Interval: time.Hour}}
	require.NoError(t, s.RegisterJob(job))
	require.Len(t, s.Jobs(), 1)

	require.NoError(t, s.RemoveRecurringJob(job.JobID))
	require.Empty(t, s.Jobs())
}

func TestRegisterJobRunsImmediatelyWhenRequired(t *testing.T) {
	rec := &recorder{}
	s := New(rec.worker, logger.New("scheduler-test"))
	s.EnsureStarted()
	defer s.Stop()

	job := model.RecurringJob{JobID: "immediate:topic", Schedule: model.JobSchedule{Interval: time.Hour}, RequireImmediate: true}
	require.NoError(t, s.RegisterJob(job))

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.runs) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestEnsureStartedAndStopAreIdempotent(t *testing.T) {
	s := New((&recorder{}).worker, logger.New("scheduler-test"))
	s.EnsureStarted()
	s.EnsureStarted()
	s.Stop()
	s.Stop()
}

func TestReloadRecurrentJobsReconcilesPerNodeAndIsIdempotent(t *testing.T) {
	rec := &recorder{}
	s := New(rec.worker, logger.New("scheduler-test"))
	s.EnsureStarted()
	defer s.Stop()

	jobA := model.RecurringJob{JobID: "a", ManagementNodeID: "node-1", Schedule: model.JobSchedule{Interval: time.Hour}, Retries: 1}
	jobB := model.RecurringJob{JobID: "b", ManagementNodeID: "node-1", Schedule: model.JobSchedule{Interval: time.Hour}, Retries: 1}
	jobX := model.RecurringJob{JobID: "x", ManagementNodeID: "node-2", Schedule: model.JobSchedule{Interval: time.Hour}, Retries: 1}

	require.NoError(t, s.RegisterJob(jobA))
	require.NoError(t, s.RegisterJob(jobB))
	require.NoError(t, s.RegisterJob(jobX))

	jobBPrime := model.RecurringJob{JobID: "b", ManagementNodeID: "node-1", Schedule: model.JobSchedule{Interval: time.Hour}, Retries: 5}
	jobC := model.RecurringJob{JobID: "c", ManagementNodeID: "node-1", Schedule: model.JobSchedule{Interval: time.Hour}, Retries: 1}

	s.ReloadRecurrentJobs("node-1", []model.RecurringJob{jobBPrime, jobC})

	jobs := s.Jobs()
	require.Len(t, jobs, 3)
	require.NotContains(t, jobs, "a")
	require.Equal(t, 5, jobs["b"].Retries)
	require.Contains(t, jobs, "c")
	require.Contains(t, jobs, "x")
	require.Equal(t, "node-2", jobs["x"].ManagementNodeID)

	before := s.Jobs()
	s.ReloadRecurrentJobs("node-1", []model.RecurringJob{jobBPrime, jobC})
	require.Equal(t, before, s.Jobs())
}

func TestCronSpecPrefersCronExpression(t *testing.T) {
	spec, err := cronSpec(model.RecurringJob{Schedule: model.JobSchedule{Cron: "*/5 * * * *", Interval: time.Hour}})
	require.NoError(t, err)
	require.Equal(t, "*/5 * * * *", spec)
}

func TestCronSpecRejectsEmptySchedule(t *testing.T) {
	_, err := cronSpec(model.RecurringJob{})
	require.Error(t, err)
}
