package workflow

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/conversagent/orchestrator/internal/isolation"
	"github.com/conversagent/orchestrator/internal/orchestrator"
	"github.com/conversagent/orchestrator/internal/stream"
)

// TaskRunner executes one planned task and returns its results. Adapters
// are called through this narrow seam so the executor itself stays
// adapter-agnostic.
type TaskRunner func(ctx context.Context, task orchestrator.PlannedTask) ([]orchestrator.SearchResult, error)

// FanOut runs every task in plan concurrently, bounded by maxConcurrency,
// under a single shared deadline. Unlike errgroup.Wait,
// a failing or timed-out sub-task never cancels its siblings — each
// slot is recorded independently and aggregation always completes for
// every task in the plan.
//
// events receives one content event per completed sub-task, in
// completion order, describing its success, empty result, or failure. events is
// never closed by FanOut; the caller owns its lifecycle.
func FanOut(
	ctx context.Context,
	plan orchestrator.TaskPlan,
	maxConcurrency int,
	timeout time.Duration,
	run TaskRunner,
	events chan<- stream.Event,
	conversationID string,
) []orchestrator.TaskResult {
	if maxConcurrency <= 0 {
		maxConcurrency = 3
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make([]orchestrator.TaskResult, len(plan.Tasks))
	sem := semaphore.NewWeighted(int64(maxConcurrency))

	var wg sync.WaitGroup
	for i, task := range plan.Tasks {
		i, task := i, task
		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = orchestrator.TaskResult{Task: task, Err: err, ErrCode: isolation.Classify(err)}
				emitTaskEvent(events, conversationID, task, nil, err)
				return
			}
			defer sem.Release(1)

			out, err := runOne(ctx, task, run)
			if err != nil {
				results[i] = orchestrator.TaskResult{Task: task, Err: err, ErrCode: isolation.Classify(err)}
			} else {
				results[i] = orchestrator.TaskResult{Task: task, Results: out}
			}
			emitTaskEvent(events, conversationID, task, out, err)
		}()
	}

	wg.Wait()
	return results
}

// runOne recovers a panicking sub-task so that one broken adapter cannot
// take down the fan-out goroutine group.
func runOne(ctx context.Context, task orchestrator.PlannedTask, run TaskRunner) (out []orchestrator.SearchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return run(ctx, task)
}

type panicError struct{ value any }

func (p *panicError) Error() string { return "task panicked" }

func emitTaskEvent(events chan<- stream.Event, conversationID string, task orchestrator.PlannedTask, out []orchestrator.SearchResult, err error) {
	if events == nil {
		return
	}
	var line string
	switch {
	case err != nil:
		line = "task " + string(task.Kind) + " failed: " + err.Error()
	case len(out) == 0:
		line = "task " + string(task.Kind) + " returned no results"
	default:
		line = "task " + string(task.Kind) + " completed with " + strconv.Itoa(len(out)) + " result(s)"
	}
	events <- stream.NewContentEvent(conversationID, line, "executing_tasks", "in_progress", nil)
}
