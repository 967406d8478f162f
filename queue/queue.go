// Package queue implements the durable, strictly serialized worker that
// drives all outbound work: a single logical executor processes one job
// at a time, honoring retry policies, a background/foreground priority
// tiebreak, and cooperative pause/resume/drain.
package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orlandos-nl/cyphertextkit/model"
)

// State is one of the four states the worker can be in.
type State int

const (
	StateIdle State = iota
	StateRunning
	StatePausing
	StatePaused
)

// Store persists the ordered job list. All mutation goes through a Queue,
// which is the list's sole writer.
type Store interface {
	SaveJob(ctx context.Context, job *model.Job) error
	DeleteJob(ctx context.Context, id uuid.UUID) error
	ListJobs(ctx context.Context) ([]*model.Job, error)
}

// DrainResult reports the outcome of AwaitDoneProcessing.
type DrainResult int

const (
	// Synchronised: the queue was drained to empty.
	Synchronised DrainResult = iota
	// Skipped: there was nothing outstanding to drain.
	Skipped
	// Busy: the wait was abandoned (context cancelled) while work
	// remained outstanding; the caller should check back later.
	Busy
)

// Queue is the durable job queue. All of jobs, state, pausing, and
// runningJobs belong to the JobQueueDomain: a single mutex admits no two
// operations concurrently, matching the specified serialization domain.
type Queue struct {
	mu       sync.Mutex
	jobs     []*model.Job
	state    State
	registry *Registry
	store    Store
	conn     Connectivity

	running bool
	cancel  context.CancelFunc
	waiters []chan struct{}
}

// New constructs a Queue bound to registry for task decoding, store for
// durability, and conn for the connectivity halt check.
func New(registry *Registry, store Store, conn Connectivity) *Queue {
	return &Queue{registry: registry, store: store, conn: conn}
}

// LoadPending reloads the persisted job list at startup, sorted by
// ScheduledAt, without starting the worker.
func (q *Queue) LoadPending(ctx context.Context) error {
	jobs, err := q.store.ListJobs(ctx)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = jobs
	sortJobs(q.jobs)
	return nil
}

// Enqueue persists job, inserts it into the ordered list, and starts the
// worker if it was Idle.
func (q *Queue) Enqueue(ctx context.Context, job *model.Job) error {
	if err := q.store.SaveJob(ctx, job); err != nil {
		return err
	}

	q.mu.Lock()
	q.jobs = insertSorted(q.jobs, job)
	needStart := q.state == StateIdle
	q.mu.Unlock()

	if needStart {
		q.Start(ctx)
	}
	return nil
}

// Start transitions Idle → Running and launches the worker loop. It is a
// no-op if the worker is already running.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.state = StateRunning
	q.running = true
	loopCtx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.mu.Unlock()

	go q.runLoop(loopCtx)
}

// Resume transitions Paused → Running.
func (q *Queue) Resume(ctx context.Context) {
	q.mu.Lock()
	wasPaused := q.state == StatePaused
	q.mu.Unlock()
	if wasPaused || !q.isRunning() {
		q.Start(ctx)
	}
}

func (q *Queue) isRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Pause cooperatively stops the worker at the next task boundary. It
// returns once the current task (if any) has completed and the worker has
// reached Paused.
func (q *Queue) Pause(ctx context.Context) {
	q.mu.Lock()
	if !q.running {
		q.state = StatePaused
		q.mu.Unlock()
		return
	}
	if q.state == StateRunning {
		q.state = StatePausing
	}
	cancel := q.cancel
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for q.isRunning() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Millisecond):
		}
	}
}

// AwaitDoneProcessing blocks until the queue empties, ctx is cancelled, or
// there was never anything to drain.
func (q *Queue) AwaitDoneProcessing(ctx context.Context) (DrainResult, error) {
	q.mu.Lock()
	if len(q.jobs) == 0 && !q.running {
		q.mu.Unlock()
		return Skipped, nil
	}
	done := make(chan struct{})
	q.waiters = append(q.waiters, done)
	q.mu.Unlock()

	q.Start(ctx)

	select {
	case <-done:
		return Synchronised, nil
	case <-ctx.Done():
		return Busy, ctx.Err()
	}
}

func (q *Queue) notifyWaitersIfDrainedLocked() {
	if len(q.jobs) != 0 {
		return
	}
	for _, w := range q.waiters {
		close(w)
	}
	q.waiters = nil
}

// sortJobs orders jobs by ScheduledAt ascending.
func sortJobs(jobs []*model.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].ScheduledAt.Before(jobs[j].ScheduledAt)
	})
}

// insertSorted inserts job into jobs, preserving ScheduledAt order.
func insertSorted(jobs []*model.Job, job *model.Job) []*model.Job {
	i := sort.Search(len(jobs), func(i int) bool {
		return jobs[i].ScheduledAt.After(job.ScheduledAt)
	})
	jobs = append(jobs, nil)
	copy(jobs[i+1:], jobs[i:])
	jobs[i] = job
	return jobs
}
