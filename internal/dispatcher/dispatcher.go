// ============================================================================
// Work Dispatcher - Handler Invocation and Scheduling
// ============================================================================
//
// Package: internal/dispatcher
// File: dispatcher.go
// Purpose: Routes each Work Item to its registered Handler, runs it in the
//   correct scheduling domain, enforces a per-step deadline, and normalizes
//   the outcome into a Work Response for the Response Submitter.
//
// Scheduling Domains:
//   Two real schedulers instead of one pool serving both:
//   - I/O domain: a plain goroutine per invocation. The ambient cooperative
//     runtime is just the Go scheduler itself - unbounded, cooperative by
//     construction.
//   - CPU domain: a github.com/sourcegraph/conc bounded pool sized to
//     fixed-thread-pool-size. Purpose-built for "bounded worker pool serving
//     submitted work, panics captured rather than crashing the process" -
//     the invocation contract every Handler must honor.
//
// Outcome Normalization:
//   invoke() always returns, never panics out: a recovered panic and a
//   returned error both become a failed WorkResponse with a truncated
//   error message (1000 chars + "... (truncated)").
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/unmeshed-io/worker-sdk-go/internal/handlertable"
	"github.com/unmeshed-io/worker-sdk-go/internal/logging"
	"github.com/unmeshed-io/worker-sdk-go/internal/observability"
	"github.com/unmeshed-io/worker-sdk-go/internal/permit"
	"github.com/unmeshed-io/worker-sdk-go/internal/workctx"
	"github.com/unmeshed-io/worker-sdk-go/pkg/types"
)

// maxErrorLen is the error-message truncation length of §4.2 step 6 / §8.6.
const maxErrorLen = 1000

const truncatedSuffix = "... (truncated)"

// Enqueuer is what the Dispatcher hands completed Work Responses to. The
// Response Submitter implements this; the Dispatcher passes the permit token
// along with the response and does not release it itself, so the permit
// stays held until the Submitter retires the response (§4.2, §4.3).
type Enqueuer interface {
	Enqueue(response types.WorkResponse, token *permit.Token)
}

// Dispatcher runs Work Items through their Handlers.
type Dispatcher struct {
	table       *handlertable.Table
	submitter   Enqueuer
	stepTimeout time.Duration
	cpuPool     *pool.Pool
	metrics     *observability.Collector
	log         *logging.Component
}

// New builds a Dispatcher. cpuPoolSize is the configured
// fixed-thread-pool-size (§5, default 2); stepTimeout is 0 to disable
// per-step deadlines (§5's "effectively never" case).
func New(table *handlertable.Table, submitter Enqueuer, cpuPoolSize int, stepTimeout time.Duration, metrics *observability.Collector, log *logging.Component) *Dispatcher {
	if cpuPoolSize < 1 {
		cpuPoolSize = 1
	}
	return &Dispatcher{
		table:       table,
		submitter:   submitter,
		stepTimeout: stepTimeout,
		cpuPool:     pool.New().WithMaxGoroutines(cpuPoolSize),
		metrics:     metrics,
		log:         log,
	}
}

// Dispatch routes one Work Item to its Handler (§4.2 step 1-3). token is the
// permit borrowed on this item's behalf by the Polling Controller, or nil
// for an item that arrived without one (the engine returned it for a
// namespace/name this host never requested work for — stale or foreign
// registration state). Dispatch guarantees exactly one release of a
// non-nil token, either here (unknown handler) or later via the Response
// Submitter once the enqueued response reaches a terminal submission
// outcome (§4.2's permit accounting invariant).
func (d *Dispatcher) Dispatch(ctx context.Context, handler *handlertable.Handler, item *types.WorkItem, token *permit.Token) {
	if handler == nil {
		var err error
		handler, err = d.table.Lookup(item.Key())
		if err != nil {
			if d.log != nil {
				d.log.Printf("dropping work item %d: %v", item.StepExecutionID, err)
			}
			d.metrics.RecordUnknownHandler(item.Key().String())
			if token != nil {
				token.Release()
			}
			return
		}
	}
	d.metrics.RecordDispatched(handler.Key.String())

	run := func() { d.run(ctx, handler, item, token) }
	switch handler.Domain {
	case types.DomainCPU:
		d.cpuPool.Go(run)
	default:
		go run()
	}
}

func (d *Dispatcher) run(ctx context.Context, handler *handlertable.Handler, item *types.WorkItem, token *permit.Token) {
	start := time.Now()
	startedAt := types.NowMillis()

	execCtx := workctx.WithWorkItem(ctx, item)
	var cancel context.CancelFunc
	if d.stepTimeout > 0 {
		execCtx, cancel = context.WithTimeout(execCtx, d.stepTimeout)
		defer cancel()
	}

	result := d.invoke(execCtx, handler, item, startedAt)
	d.metrics.ObserveExecution(handler.Key.String(), time.Since(start).Seconds())

	response := types.ResponseFromWorkItem(item, result)
	if response.Output == nil {
		response.Output = map[string]interface{}{}
	}
	response.Output["__workCompletedAt"] = types.NowMillis()

	d.submitter.Enqueue(response, token)
}

// invoke runs the handler's invocation, enforcing the deadline in ctx, and
// maps its outcome to a StepResult per §4.2 steps 4-6. The handler itself
// always runs to completion in its own goroutine even on timeout — Go
// cannot forcibly kill a goroutine — but the Dispatcher stops waiting on it
// and reports a failed/timed-out result once ctx's deadline fires, matching
// §5's "timeouts... cancel the logical execution which must surface as an
// exception" rather than killing the underlying thread.
func (d *Dispatcher) invoke(ctx context.Context, handler *handlertable.Handler, item *types.WorkItem, startedAt int64) types.StepResult {
	type outcome struct {
		value interface{}
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		value, err := handler.Invoke(ctx, item)
		done <- outcome{value: value, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return failedResult(o.err, startedAt)
		}
		return normalizeResult(o.value, startedAt)
	case <-ctx.Done():
		return failedResult(ctx.Err(), startedAt)
	}
}

// normalizeResult maps a handler's return value to a StepResult (§4.2 step
// 5). A value that already carries status/output/reschedule fields (a
// types.StepResult) is adopted as-is; a map becomes the output with status
// completed; anything else is wrapped as {"result": value}.
func normalizeResult(value interface{}, startedAt int64) types.StepResult {
	completedAt := types.NowMillis()

	switch v := value.(type) {
	case types.StepResult:
		result := v
		result.StartedAt = startedAt
		result.CompletedAt = completedAt
		if result.Output == nil {
			result.Output = map[string]interface{}{}
		}
		if result.Status == "" {
			result.Status = resolveRunningStatus(result)
		}
		return result
	case *types.StepResult:
		result := *v
		result.StartedAt = startedAt
		result.CompletedAt = completedAt
		if result.Output == nil {
			result.Output = map[string]interface{}{}
		}
		if result.Status == "" {
			result.Status = resolveRunningStatus(result)
		}
		return result
	case map[string]interface{}:
		return types.StepResult{
			Output:      v,
			Status:      types.StatusCompleted,
			StartedAt:   startedAt,
			CompletedAt: completedAt,
		}
	case nil:
		return types.StepResult{
			Output:      map[string]interface{}{},
			Status:      types.StatusCompleted,
			StartedAt:   startedAt,
			CompletedAt: completedAt,
		}
	default:
		return types.StepResult{
			Output:      map[string]interface{}{"result": value},
			Status:      types.StatusCompleted,
			StartedAt:   startedAt,
			CompletedAt: completedAt,
		}
	}
}

// resolveRunningStatus decides completed-vs-running for a StepResult that
// didn't set Status explicitly: running if RescheduleAfterSecs > 0 (§4.2
// step 6).
func resolveRunningStatus(result types.StepResult) types.StepStatus {
	if result.RescheduleAfterSecs > 0 {
		return types.StatusRunning
	}
	return types.StatusCompleted
}

// failedResult maps a handler exception or timeout to a failed StepResult,
// truncating the error message per §4.2 step 6 / §8.6.
func failedResult(err error, startedAt int64) types.StepResult {
	completedAt := types.NowMillis()
	return types.StepResult{
		Output:      map[string]interface{}{"error": truncateError(err.Error())},
		Status:      types.StatusFailed,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	}
}

// truncateError implements §8.6 exactly: for message.length > 1000, return
// message[0:1000] + "... (truncated)" (length exactly 1015).
func truncateError(message string) string {
	if len(message) <= maxErrorLen {
		return message
	}
	return message[:maxErrorLen] + truncatedSuffix
}
