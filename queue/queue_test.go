package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/orlandos-nl/cyphertextkit/model"
)

type memStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*model.Job
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[uuid.UUID]*model.Job)}
}

func (s *memStore) SaveJob(_ context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *memStore) DeleteJob(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *memStore) ListJobs(_ context.Context) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out, nil
}

type alwaysOnline struct{}

func (alwaysOnline) Authenticated() bool { return true }

type alwaysOffline struct{}

func (alwaysOffline) Authenticated() bool { return false }

// orderingTask records its name into a shared, mutex-protected log when run.
type orderingTask struct {
	name       string
	background bool
	log        *[]string
	mu         *sync.Mutex
	done       chan struct{}
}

func (t *orderingTask) TaskKey() string             { return "ordering" }
func (t *orderingTask) RequiresConnectivity() bool   { return false }
func (t *orderingTask) IsBackgroundTask() bool       { return t.background }
func (t *orderingTask) OnDelayed(context.Context)    {}
func (t *orderingTask) Run(context.Context) (Result, error) {
	t.mu.Lock()
	*t.log = append(*t.log, t.name)
	t.mu.Unlock()
	if t.done != nil {
		close(t.done)
	}
	return Success(), nil
}

func newJob(t *testing.T, taskKey string, payload []byte, scheduledAt time.Time, background bool) *model.Job {
	t.Helper()
	return &model.Job{
		ID:               uuid.New(),
		TaskKey:          taskKey,
		Payload:          payload,
		ScheduledAt:      scheduledAt,
		IsBackgroundTask: background,
	}
}

func TestBackgroundYieldsToForeground(t *testing.T) {
	var mu sync.Mutex
	var log []string

	tasks := map[string]*orderingTask{}
	registry := NewRegistry()
	if err := registry.Register("ordering", func(payload []byte) (Task, error) {
		return tasks[string(payload)], nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	store := newMemStore()
	q := New(registry, store, alwaysOnline{})

	base := time.Now()
	done := make(chan struct{})

	tasks["job1"] = &orderingTask{name: "job1", background: true, log: &log, mu: &mu}
	tasks["job2"] = &orderingTask{name: "job2", background: false, log: &log, mu: &mu}
	tasks["job3"] = &orderingTask{name: "job3", background: false, log: &log, mu: &mu, done: done}

	ctx := context.Background()
	// Hold the worker while all three jobs are queued, so the scheduler
	// chooses among them instead of starting job1 on its own.
	q.Pause(ctx)
	if err := q.Enqueue(ctx, newJob(t, "ordering", []byte("job1"), base, true)); err != nil {
		t.Fatalf("Enqueue job1: %v", err)
	}
	if err := q.Enqueue(ctx, newJob(t, "ordering", []byte("job2"), base.Add(time.Millisecond), false)); err != nil {
		t.Fatalf("Enqueue job2: %v", err)
	}
	if err := q.Enqueue(ctx, newJob(t, "ordering", []byte("job3"), base.Add(2*time.Millisecond), false)); err != nil {
		t.Fatalf("Enqueue job3: %v", err)
	}
	q.Resume(ctx)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job3")
	}

	if _, err := q.AwaitDoneProcessing(ctx); err != nil {
		t.Fatalf("AwaitDoneProcessing: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(log) != 3 || log[0] != "job2" || log[1] != "job3" || log[2] != "job1" {
		t.Fatalf("execution order = %v, want [job2 job3 job1]", log)
	}
}

type countingTask struct {
	attempts    *int
	maxAttempts int
	delay       time.Duration
	done        chan struct{}
}

func (t *countingTask) TaskKey() string           { return "counting" }
func (t *countingTask) RequiresConnectivity() bool { return false }
func (t *countingTask) IsBackgroundTask() bool     { return false }
func (t *countingTask) OnDelayed(context.Context)  {}
func (t *countingTask) Run(context.Context) (Result, error) {
	*t.attempts++
	if *t.attempts >= t.maxAttempts {
		close(t.done)
	}
	return Retry(t.delay, t.maxAttempts), nil
}

func TestRetryExhaustionCancelsJob(t *testing.T) {
	attempts := 0
	done := make(chan struct{})
	task := &countingTask{attempts: &attempts, maxAttempts: 3, delay: time.Millisecond, done: done}

	registry := NewRegistry()
	if err := registry.Register("counting", func([]byte) (Task, error) { return task, nil }); err != nil {
		t.Fatalf("Register: %v", err)
	}

	store := newMemStore()
	q := New(registry, store, alwaysOnline{})

	ctx := context.Background()
	if err := q.Enqueue(ctx, newJob(t, "counting", nil, time.Now(), false)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// The worker goes Idle while the only job is delayed, so re-invoke the
	// scheduler until the retries have run.
	timeout := time.After(5 * time.Second)
	for waiting := true; waiting; {
		select {
		case <-done:
			waiting = false
		case <-timeout:
			t.Fatal("timed out waiting for the 3rd attempt")
		case <-time.After(5 * time.Millisecond):
			q.Resume(ctx)
		}
	}

	// Give the scheduler a moment to act on the 3rd outcome and dequeue.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		jobs, err := store.ListJobs(ctx)
		if err != nil {
			t.Fatalf("ListJobs: %v", err)
		}
		if len(jobs) == 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	jobs, err := store.ListJobs(ctx)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("len(jobs) = %d, want 0 after retry exhaustion", len(jobs))
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

type delayedNotification struct {
	notified chan struct{}
}

func (t *delayedNotification) TaskKey() string           { return "offline" }
func (t *delayedNotification) RequiresConnectivity() bool { return true }
func (t *delayedNotification) IsBackgroundTask() bool     { return false }
func (t *delayedNotification) OnDelayed(context.Context)  { close(t.notified) }
func (t *delayedNotification) Run(context.Context) (Result, error) {
	return Success(), nil // unreachable: RequiresConnectivity halts before Run
}

func TestOfflineHaltsAndNotifiesOnDelayed(t *testing.T) {
	notified := make(chan struct{})
	task := &delayedNotification{notified: notified}

	registry := NewRegistry()
	if err := registry.Register("offline", func([]byte) (Task, error) { return task, nil }); err != nil {
		t.Fatalf("Register: %v", err)
	}

	store := newMemStore()
	q := New(registry, store, alwaysOffline{})

	ctx := context.Background()
	if err := q.Enqueue(ctx, newJob(t, "offline", nil, time.Now(), false)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case <-notified:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for OnDelayed")
	}

	jobs, err := store.ListJobs(ctx)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("len(jobs) = %d, want 1 (job must survive a halt)", len(jobs))
	}
}

func TestAwaitDoneProcessingSkippedWhenEmpty(t *testing.T) {
	registry := NewRegistry()
	store := newMemStore()
	q := New(registry, store, alwaysOnline{})

	result, err := q.AwaitDoneProcessing(context.Background())
	if err != nil {
		t.Fatalf("AwaitDoneProcessing: %v", err)
	}
	if result != Skipped {
		t.Fatalf("result = %v, want Skipped", result)
	}
}
