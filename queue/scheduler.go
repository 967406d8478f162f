package queue

import (
	"context"
	"time"

	cyphertextkit "github.com/orlandos-nl/cyphertextkit"
	"github.com/orlandos-nl/cyphertextkit/model"
)

// runLoop is the single logical executor for this Queue: at most one task
// runs at a time, and jobs/state/waiters are only ever touched under q.mu
// or from within this loop.
func (q *Queue) runLoop(ctx context.Context) {
	for {
		q.mu.Lock()
		if q.state == StatePausing {
			q.state = StatePaused
			q.running = false
			q.mu.Unlock()
			return
		}

		job := selectNext(q.jobs, time.Now())
		if job == nil {
			q.state = StateIdle
			q.running = false
			q.notifyWaitersIfDrainedLocked()
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()

		if haltErr := q.runJob(ctx, job); haltErr != nil {
			q.halt(ctx)
			return
		}
	}
}

// selectNext picks the job the scheduler should process next: the
// earliest non-background job that is ready (no delayedUntil, or
// delayedUntil has passed), falling back to the head of the queue if it
// is itself ready. Returns nil when nothing is runnable right now.
func selectNext(jobs []*model.Job, now time.Time) *model.Job {
	for _, j := range jobs {
		if !j.IsBackgroundTask && isReady(j, now) {
			return j
		}
	}
	if len(jobs) > 0 && isReady(jobs[0], now) {
		return jobs[0]
	}
	return nil
}

func isReady(job *model.Job, now time.Time) bool {
	return job.DelayedUntil == nil || !job.DelayedUntil.After(now)
}

// runJob decodes and runs one job to its outcome. It returns a non-nil
// error only for a halting condition (currently: Offline), which stops
// the worker entirely.
func (q *Queue) runJob(ctx context.Context, job *model.Job) error {
	task, err := q.registry.Decode(job.TaskKey, job.Payload)
	if err != nil {
		// Cannot retry uninterpretable work; drop it and move on.
		q.dequeue(ctx, job)
		return nil
	}

	if task.RequiresConnectivity() && q.conn != nil && !q.conn.Authenticated() {
		return cyphertextkit.ErrOffline
	}

	result, _ := task.Run(ctx)
	switch result.Outcome {
	case OutcomeSuccess:
		q.dequeue(ctx, job)
	case OutcomeRetry:
		job.Attempts++
		if result.MaxAttempts > 0 && job.Attempts >= result.MaxAttempts {
			q.dequeue(ctx, job)
			return nil
		}
		delayed := time.Now().Add(result.RetryDelay)
		job.DelayedUntil = &delayed
		q.persist(ctx, job)
	case OutcomeRetryAlways:
		// Left in place unconditionally.
	case OutcomeFailNever:
		q.dequeue(ctx, job)
	}
	return nil
}

// halt invokes OnDelayed for every remaining job, in order, then parks the
// worker in Paused until an explicit Resume reinvokes the scheduler.
func (q *Queue) halt(ctx context.Context) {
	q.mu.Lock()
	remaining := append([]*model.Job(nil), q.jobs...)
	q.state = StatePaused
	q.running = false
	q.mu.Unlock()

	for _, job := range remaining {
		task, err := q.registry.Decode(job.TaskKey, job.Payload)
		if err != nil {
			continue
		}
		task.OnDelayed(ctx)
	}
}

func (q *Queue) dequeue(ctx context.Context, job *model.Job) {
	q.mu.Lock()
	for i, j := range q.jobs {
		if j.ID == job.ID {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			break
		}
	}
	q.notifyWaitersIfDrainedLocked()
	q.mu.Unlock()
	_ = q.store.DeleteJob(ctx, job.ID)
}

func (q *Queue) persist(ctx context.Context, job *model.Job) {
	_ = q.store.SaveJob(ctx, job)
}
