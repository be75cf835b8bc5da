package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Task is a single step of a pipeline. It must call exactly one of complete
// or fail, possibly from another goroutine.
type Task interface {
	Name() string
	Run(ctx context.Context, pm *ProcessModel, complete func(), fail func(error))
}

type syncTask struct {
	name string
	fn   func(ctx context.Context, pm *ProcessModel) error
}

// newTask adapts a synchronous function to the Task interface.
func newTask(
	name string, fn func(ctx context.Context, pm *ProcessModel) error,
) Task {
	return syncTask{name, fn}
}

func (t syncTask) Name() string {
	return t.name
}

func (t syncTask) Run(
	ctx context.Context, pm *ProcessModel, complete func(), fail func(error),
) {
	if err := ctx.Err(); err != nil {
		fail(err)
		return
	}
	if err := t.fn(ctx, pm); err != nil {
		fail(err)
		return
	}
	complete()
}

type asyncTask struct {
	name string
	fn   func(ctx context.Context, pm *ProcessModel, complete func(), fail func(error))
}

func newAsyncTask(
	name string,
	fn func(ctx context.Context, pm *ProcessModel, complete func(), fail func(error)),
) Task {
	return asyncTask{name, fn}
}

func (t asyncTask) Name() string {
	return t.name
}

func (t asyncTask) Run(
	ctx context.Context, pm *ProcessModel, complete func(), fail func(error),
) {
	t.fn(ctx, pm, complete, fail)
}

// taskRunner runs tasks in order. The first failure aborts the remaining
// tasks.
type taskRunner struct {
	tasks   []Task
	timeout time.Duration
}

func newTaskRunner(timeout time.Duration, tasks ...Task) *taskRunner {
	return &taskRunner{tasks, timeout}
}

// run executes the pipeline and blocks until it resolves.
func (r *taskRunner) run(ctx context.Context, pm *ProcessModel) error {
	var cancel context.CancelFunc
	if r.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	for _, t := range r.tasks {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", t.Name(), timeoutOr(err))
		}

		result := make(chan error, 1)
		once := &sync.Once{}
		complete := func() { once.Do(func() { result <- nil }) }
		fail := func(err error) {
			if err == nil {
				err = fmt.Errorf("unknown error")
			}
			once.Do(func() { result <- err })
		}

		log.Tracef("running task %s", t.Name())
		go t.Run(ctx, pm, complete, fail)

		select {
		case err := <-result:
			if err != nil {
				return fmt.Errorf("%s: %w", t.Name(), err)
			}
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", t.Name(), timeoutOr(ctx.Err()))
		}
	}
	return nil
}

func timeoutOr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrPipelineTimeout
	}
	return err
}
