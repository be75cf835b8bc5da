package protocol

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTaskRunner(t *testing.T) {
	t.Parallel()

	order := make([]string, 0)
	record := func(name string) Task {
		return newTask(name, func(context.Context, *ProcessModel) error {
			order = append(order, name)
			return nil
		})
	}
	async := newAsyncTask("async", func(
		_ context.Context, _ *ProcessModel, complete func(), _ func(error),
	) {
		go func() {
			time.Sleep(10 * time.Millisecond)
			order = append(order, "async")
			complete()
			// Late calls are ignored.
			complete()
		}()
	})

	runner := newTaskRunner(time.Second, record("first"), async, record("last"))
	err := runner.run(context.Background(), &ProcessModel{})
	require.NoError(t, err)
	require.Equal(t, []string{"first", "async", "last"}, order)
}

func TestFailingTaskRunner(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")
	tests := []struct {
		name        string
		timeout     time.Duration
		tasks       func(ran *bool) []Task
		expectedErr error
	}{
		{
			name:    "task_fails",
			timeout: time.Second,
			tasks: func(ran *bool) []Task {
				return []Task{
					newTask("fail", func(context.Context, *ProcessModel) error {
						return errBoom
					}),
					newTask("skipped", func(context.Context, *ProcessModel) error {
						*ran = true
						return nil
					}),
				}
			},
			expectedErr: errBoom,
		},
		{
			name:    "task_times_out",
			timeout: 50 * time.Millisecond,
			tasks: func(ran *bool) []Task {
				return []Task{
					newAsyncTask("hang", func(
						context.Context, *ProcessModel, func(), func(error),
					) {
					}),
					newTask("skipped", func(context.Context, *ProcessModel) error {
						*ran = true
						return nil
					}),
				}
			},
			expectedErr: ErrPipelineTimeout,
		},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ran := false
			runner := newTaskRunner(tt.timeout, tt.tasks(&ran)...)
			err := runner.run(context.Background(), &ProcessModel{})
			require.ErrorIs(t, err, tt.expectedErr)
			require.False(t, ran)
		})
	}
}

func TestTaskRunnerStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	ran := false
	runner := newTaskRunner(time.Second,
		newTask("cancel", func(context.Context, *ProcessModel) error {
			cancel()
			return nil
		}),
		newTask("skipped", func(context.Context, *ProcessModel) error {
			ran = true
			return nil
		}),
	)

	err := runner.run(ctx, &ProcessModel{})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, ran)
}
