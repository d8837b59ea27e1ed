package ctxn

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// TaskRunner bounds a set of goroutines to maxConcurrency and collects the
// first error among them. Modeled on sop.TaskRunner (task_runner.go): an
// errgroup.Group plus a channel-backed semaphore, reused here by the
// Recovery Worker to sweep multiple stalled transactions concurrently
// without unbounded goroutine fan-out.
type TaskRunner struct {
	eg    *errgroup.Group
	ctx   context.Context
	slots chan struct{}
}

// NewTaskRunner creates a task runner bounding concurrency to maxConcurrency.
func NewTaskRunner(ctx context.Context, maxConcurrency int) *TaskRunner {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	eg, ctx2 := errgroup.WithContext(ctx)
	return &TaskRunner{
		eg:    eg,
		ctx:   ctx2,
		slots: make(chan struct{}, maxConcurrency),
	}
}

// Context returns the group-scoped context, canceled on first error.
func (tr *TaskRunner) Context() context.Context {
	return tr.ctx
}

// Go schedules task, blocking the caller until a concurrency slot frees up.
func (tr *TaskRunner) Go(task func() error) {
	tr.slots <- struct{}{}
	tr.eg.Go(func() error {
		defer func() { <-tr.slots }()
		return task()
	})
}

// Wait blocks until every scheduled task has returned, yielding the first
// non-nil error, if any.
func (tr *TaskRunner) Wait() error {
	return tr.eg.Wait()
}
