package worker

import (
	"bytes"
	"context"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/iliyamo/cinema-order-saga/internal/clock"
	"github.com/iliyamo/cinema-order-saga/internal/config"
	"github.com/iliyamo/cinema-order-saga/internal/model"
	"github.com/iliyamo/cinema-order-saga/internal/store/memory"
	"github.com/iliyamo/cinema-order-saga/internal/task"
)

var t0 = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

type batchExpirer struct {
	batches []int
	limits  []int
}

func (e *batchExpirer) ExpireTransactions(_ context.Context, limit int) (int, error) {
	e.limits = append(e.limits, limit)
	if len(e.batches) == 0 {
		return 0, nil
	}
	n := e.batches[0]
	e.batches = e.batches[1:]
	return n, nil
}

type countingNotifier struct {
	mu sync.Mutex
	n  int
}

func (c *countingNotifier) Notify(context.Context, string, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return nil
}

type fixture struct {
	clk      *clock.Manual
	tasks    *memory.Tasks
	registry *task.Registry
	notifier *countingNotifier
	worker   *Worker
	expirer  *batchExpirer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewManual(t0)
	store := memory.New(clk)
	f := &fixture{
		clk:      clk,
		tasks:    store.Tasks(),
		registry: task.NewRegistry(),
		notifier: &countingNotifier{},
		expirer:  &batchExpirer{},
	}
	logger := log.New(&bytes.Buffer{}, "", 0)
	exec := task.NewExecutor(f.tasks, f.registry, f.notifier, clk, logger, noop.NewMeterProvider().Meter("test"))
	cfg := config.WorkerConfig{
		PollInterval:     10 * time.Millisecond,
		RetryInterval:    10 * time.Minute,
		AbortInterval:    time.Hour,
		SweepInterval:    time.Hour,
		StoragePeriod:    24 * time.Hour,
		ExecutionsPerSec: 1000,
		ExpireBatchSize:  2,
		TaskNames:        []model.TaskName{model.TaskSendOrderEvent},
	}
	f.worker = New(exec, f.expirer, cfg, logger)
	return f
}

func (f *fixture) save(t *testing.T, name model.TaskName, tries int) *model.Task {
	t.Helper()
	raw, err := json.Marshal(model.TransactionTaskData{TransactionID: "tx-1"})
	require.NoError(t, err)
	saved, err := f.tasks.Save(context.Background(), model.TaskAttributes{
		Name: name, RunsAt: f.clk.Now(), RemainingNumberOfTries: tries, Data: raw,
	})
	require.NoError(t, err)
	return saved
}

func TestDrainRunsEveryDueTask(t *testing.T) {
	f := newFixture(t)
	var ran int
	f.registry.Register(model.TaskSendOrderEvent, func(context.Context, json.RawMessage) error {
		ran++
		return nil
	})
	for range 3 {
		f.save(t, model.TaskSendOrderEvent, 3)
	}

	n, err := f.worker.Drain(context.Background(), model.TaskSendOrderEvent)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, 3, ran)
	for _, tk := range f.tasks.ByName(model.TaskSendOrderEvent) {
		require.Equal(t, model.TaskExecuted, tk.Status)
	}
}

func TestSweepExpiresInBatches(t *testing.T) {
	f := newFixture(t)
	f.expirer.batches = []int{2, 2, 1}

	f.worker.Sweep(context.Background())
	require.Equal(t, []int{2, 2, 2}, f.expirer.limits)
}

func TestSweepRetriesThenAborts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registry.Register(model.TaskSendOrderEvent, func(context.Context, json.RawMessage) error {
		return errors.New("broker down")
	})
	saved := f.save(t, model.TaskSendOrderEvent, 2)

	_, err := f.worker.Drain(ctx, model.TaskSendOrderEvent)
	require.NoError(t, err)

	f.clk.Advance(11 * time.Minute)
	f.worker.Sweep(ctx)
	got, err := f.tasks.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	require.Equal(t, model.TaskReady, got.Status)

	_, err = f.worker.Drain(ctx, model.TaskSendOrderEvent)
	require.NoError(t, err)

	f.clk.Advance(2 * time.Hour)
	f.worker.Sweep(ctx)
	got, err = f.tasks.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	require.Equal(t, model.TaskAborted, got.Status)
	require.Len(t, got.ExecutionResults, 2)
	require.Equal(t, 1, f.notifier.n)

	// a second sweep finds nothing left to abort
	f.worker.Sweep(ctx)
	require.Equal(t, 1, f.notifier.n)
}

func TestSweepCleansUpFinishedTasks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registry.Register(model.TaskSendOrderEvent, func(context.Context, json.RawMessage) error { return nil })
	saved := f.save(t, model.TaskSendOrderEvent, 1)
	_, err := f.worker.Drain(ctx, model.TaskSendOrderEvent)
	require.NoError(t, err)

	f.clk.Advance(25 * time.Hour)
	f.worker.Sweep(ctx)
	_, err = f.tasks.FindByID(ctx, saved.ID)
	require.Error(t, err)
}

func TestRunStopsWithContext(t *testing.T) {
	f := newFixture(t)
	done := make(chan struct{})
	f.registry.Register(model.TaskSendOrderEvent, func(context.Context, json.RawMessage) error {
		close(done)
		return nil
	})
	f.save(t, model.TaskSendOrderEvent, 1)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		f.worker.Run(ctx)
		close(stopped)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task never ran")
	}
	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}
