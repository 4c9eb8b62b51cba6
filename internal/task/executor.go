// Package task runs deferred, retryable work.  Tasks are claimed from the
// durable store one at a time by conditional update, so any number of
// worker processes can run executors against the same store.
package task

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/iliyamo/cinema-order-saga/internal/alert"
	"github.com/iliyamo/cinema-order-saga/internal/clock"
	"github.com/iliyamo/cinema-order-saga/internal/model"
	"github.com/iliyamo/cinema-order-saga/internal/telemetry"
)

// Store is the task persistence the executor needs.  Both the MySQL
// repository and the in-memory store satisfy it.
type Store interface {
	Save(ctx context.Context, attrs model.TaskAttributes) (*model.Task, error)
	ClaimOne(ctx context.Context, name model.TaskName, now time.Time) (*model.Task, error)
	PushExecutionResult(ctx context.Context, id string, result model.TaskExecutionResult) error
	Retry(ctx context.Context, lastTriedBefore time.Time) (int64, error)
	AbortOne(ctx context.Context, lastTriedBefore time.Time) (*model.Task, error)
	CleanUp(ctx context.Context, runsBefore time.Time) (int64, error)
}

// Executor claims, runs and sweeps tasks.
type Executor struct {
	store    Store
	registry *Registry
	notifier alert.Notifier
	clock    clock.Clock
	logger   *log.Logger

	executed metric.Int64Counter
	failed   metric.Int64Counter
	aborted  metric.Int64Counter
}

func NewExecutor(store Store, registry *Registry, notifier alert.Notifier, clk clock.Clock, logger *log.Logger, meter metric.Meter) *Executor {
	if logger == nil {
		logger = log.New(log.Writer(), "task-executor: ", log.LstdFlags)
	}
	if notifier == nil {
		notifier = alert.LogNotifier{Logger: logger}
	}
	if meter == nil {
		meter = otel.Meter("task")
	}
	return &Executor{
		store:    store,
		registry: registry,
		notifier: notifier,
		clock:    clk,
		logger:   logger,
		executed: telemetry.Counter(meter, "tasks.executed", "Tasks whose handler succeeded"),
		failed:   telemetry.Counter(meter, "tasks.failed", "Task attempts whose handler failed"),
		aborted:  telemetry.Counter(meter, "tasks.aborted", "Tasks aborted after exhausting tries"),
	}
}

// ExecuteOneByName claims one due task of the given name and runs it.  It
// returns the claimed task, or nil when nothing was due.  Handler failures
// are recorded on the task and are not returned.
func (e *Executor) ExecuteOneByName(ctx context.Context, name model.TaskName) (*model.Task, error) {
	t, err := e.store.ClaimOne(ctx, name, e.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("task: claim %s: %w", name, err)
	}
	if t == nil {
		return nil, nil
	}
	return t, e.Execute(ctx, t)
}

// Execute runs the handler registered for t and appends the outcome to the
// task's execution results.  Only a failure to record the outcome is
// returned.
func (e *Executor) Execute(ctx context.Context, t *model.Task) error {
	runErr := e.run(ctx, t)
	result := model.TaskExecutionResult{ExecutedAt: e.clock.Now()}
	attrs := metric.WithAttributes(attribute.String("task", string(t.Name)))
	if runErr != nil {
		result.Error = runErr.Error()
		e.failed.Add(ctx, 1, attrs)
		e.logger.Printf("task %s %s failed (try %d, %d left): %v", t.Name, t.ID, t.NumberOfTried, t.RemainingNumberOfTries, runErr)
	} else {
		e.executed.Add(ctx, 1, attrs)
	}
	if err := e.store.PushExecutionResult(ctx, t.ID, result); err != nil {
		return fmt.Errorf("task: push result %s: %w", t.ID, err)
	}
	return nil
}

func (e *Executor) run(ctx context.Context, t *model.Task) (err error) {
	h, ok := e.registry.Lookup(t.Name)
	if !ok {
		return fmt.Errorf("no handler registered for %s", t.Name)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, t.Data)
}

// Retry puts Running tasks whose last try is older than interval back to
// Ready, provided they have tries left.
func (e *Executor) Retry(ctx context.Context, interval time.Duration) (int64, error) {
	n, err := e.store.Retry(ctx, e.clock.Now().Add(-interval))
	if err != nil {
		return 0, fmt.Errorf("task: retry: %w", err)
	}
	return n, nil
}

// AbortOne aborts at most one exhausted task whose last try is older than
// interval and alerts operators about it.  A failing alert channel is
// logged; the task stays Aborted either way.
func (e *Executor) AbortOne(ctx context.Context, interval time.Duration) (*model.Task, error) {
	t, err := e.store.AbortOne(ctx, e.clock.Now().Add(-interval))
	if err != nil {
		return nil, fmt.Errorf("task: abort: %w", err)
	}
	if t == nil {
		return nil, nil
	}
	e.aborted.Add(ctx, 1, metric.WithAttributes(attribute.String("task", string(t.Name))))
	subject, body := abortMessage(t)
	if err := e.notifier.Notify(ctx, subject, body); err != nil {
		e.logger.Printf("alert for aborted task %s failed: %v", t.ID, err)
	}
	return t, nil
}

// CleanUp deletes finished tasks that ran more than storagePeriod ago.
func (e *Executor) CleanUp(ctx context.Context, storagePeriod time.Duration) (int64, error) {
	n, err := e.store.CleanUp(ctx, e.clock.Now().Add(-storagePeriod))
	if err != nil {
		return 0, fmt.Errorf("task: clean up: %w", err)
	}
	return n, nil
}

func abortMessage(t *model.Task) (string, string) {
	var b strings.Builder
	fmt.Fprintf(&b, "id: %s\nname: %s\nruns_at: %s\nnumber_of_tried: %d\n",
		t.ID, t.Name, t.RunsAt.Format(time.RFC3339), t.NumberOfTried)
	if len(t.Data) > 0 {
		fmt.Fprintf(&b, "data: %s\n", t.Data)
	}
	for _, r := range t.ExecutionResults {
		if r.Error != "" {
			fmt.Fprintf(&b, "- %s %s\n", r.ExecutedAt.Format(time.RFC3339), r.Error)
		}
	}
	return fmt.Sprintf("task %s aborted", t.Name), b.String()
}
