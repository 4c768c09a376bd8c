package async

import (
	"context"
	"fmt"
	"sync"
)

// TaskFunc is the work a Task runs.
type TaskFunc func(ctx context.Context, progress *Progress) error

// Task is a handle to one background run. The owner keeps it to join,
// cancel, or inspect the run instead of firing and forgetting a goroutine.
type Task struct {
	progress *Progress
	cancel   context.CancelFunc
	doneCh   chan struct{}

	mu      sync.Mutex
	running bool
	err     error
}

// Start runs fn in a new goroutine and returns immediately. A panic in fn
// is recovered and reported as the task error.
func Start(ctx context.Context, fn TaskFunc) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		progress: NewProgress(),
		cancel:   cancel,
		doneCh:   make(chan struct{}),
		running:  true,
	}
	go t.run(ctx, fn)
	return t
}

func (t *Task) run(ctx context.Context, fn TaskFunc) {
	defer close(t.doneCh)
	defer t.cancel()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		err = fn(ctx, t.progress)
	}()

	if err != nil {
		t.progress.SetError(err.Error())
	} else {
		t.progress.SetDone()
	}

	t.mu.Lock()
	t.running = false
	t.err = err
	t.mu.Unlock()
}

// Progress returns the task's progress tracker.
func (t *Task) Progress() *Progress { return t.progress }

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} { return t.doneCh }

// IsRunning reports whether the task is still running.
func (t *Task) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Cancel asks the task to stop. It does not wait.
func (t *Task) Cancel() { t.cancel() }

// Wait blocks until the task finishes or ctx ends, and returns the task
// error or ctx's error.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.doneCh:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the task error once finished, nil before.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
