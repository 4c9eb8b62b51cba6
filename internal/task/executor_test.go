package task_test

import (
	"bytes"
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/iliyamo/cinema-order-saga/internal/clock"
	"github.com/iliyamo/cinema-order-saga/internal/model"
	"github.com/iliyamo/cinema-order-saga/internal/store/memory"
	"github.com/iliyamo/cinema-order-saga/internal/task"
)

var t0 = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu       sync.Mutex
	subjects []string
	err      error
}

func (n *recordingNotifier) Notify(_ context.Context, subject, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subjects = append(n.subjects, subject)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subjects)
}

type fixture struct {
	clk      *clock.Manual
	tasks    *memory.Tasks
	registry *task.Registry
	notifier *recordingNotifier
	exec     *task.Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewManual(t0)
	store := memory.New(clk)
	f := &fixture{
		clk:      clk,
		tasks:    store.Tasks(),
		registry: task.NewRegistry(),
		notifier: &recordingNotifier{},
	}
	logger := log.New(&bytes.Buffer{}, "", 0)
	f.exec = task.NewExecutor(f.tasks, f.registry, f.notifier, clk, logger, noop.NewMeterProvider().Meter("test"))
	return f
}

func (f *fixture) save(t *testing.T, name model.TaskName, tries int, data any) *model.Task {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	saved, err := f.tasks.Save(context.Background(), model.TaskAttributes{
		Name: name, RunsAt: f.clk.Now(), RemainingNumberOfTries: tries, Data: raw,
	})
	require.NoError(t, err)
	return saved
}

func TestExecuteOneByNameSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	var got model.TransactionTaskData
	f.registry.Register(model.TaskSendOrderEvent, func(_ context.Context, data json.RawMessage) error {
		return json.Unmarshal(data, &got)
	})
	saved := f.save(t, model.TaskSendOrderEvent, 3, model.TransactionTaskData{TransactionID: "tx1"})

	claimed, err := f.exec.ExecuteOneByName(ctx, model.TaskSendOrderEvent)
	require.NoError(t, err)
	require.Equal(t, saved.ID, claimed.ID)
	require.Equal(t, "tx1", got.TransactionID)

	stored, err := f.tasks.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	require.Equal(t, model.TaskExecuted, stored.Status)
	require.Len(t, stored.ExecutionResults, 1)
	require.Empty(t, stored.ExecutionResults[0].Error)

	none, err := f.exec.ExecuteOneByName(ctx, model.TaskSendOrderEvent)
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestHandlerFailureIsRecordedAndRetried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	calls := 0
	f.registry.Register(model.TaskConfirmSeatReservation, func(context.Context, json.RawMessage) error {
		calls++
		if calls == 1 {
			return errors.New("inventory down")
		}
		return nil
	})
	saved := f.save(t, model.TaskConfirmSeatReservation, 2, model.TransactionTaskData{TransactionID: "tx1"})

	_, err := f.exec.ExecuteOneByName(ctx, model.TaskConfirmSeatReservation)
	require.NoError(t, err, "handler failures are recovered")

	stored, _ := f.tasks.FindByID(ctx, saved.ID)
	require.Equal(t, model.TaskRunning, stored.Status)
	require.Equal(t, "inventory down", stored.ExecutionResults[0].Error)

	n, err := f.exec.Retry(ctx, 10*time.Minute)
	require.NoError(t, err)
	require.Zero(t, n, "not stale yet")

	f.clk.Advance(11 * time.Minute)
	n, err = f.exec.Retry(ctx, 10*time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = f.exec.ExecuteOneByName(ctx, model.TaskConfirmSeatReservation)
	require.NoError(t, err)
	stored, _ = f.tasks.FindByID(ctx, saved.ID)
	require.Equal(t, model.TaskExecuted, stored.Status)
	require.Len(t, stored.ExecutionResults, 2)
	require.Equal(t, 2, stored.NumberOfTried)
}

func TestPanicAndMissingHandlerAreRecorded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registry.Register(model.TaskVoidTransaction, func(context.Context, json.RawMessage) error {
		panic("boom")
	})
	a := f.save(t, model.TaskVoidTransaction, 1, nil)
	b := f.save(t, model.TaskCancelCreditCard, 1, nil)

	_, err := f.exec.ExecuteOneByName(ctx, model.TaskVoidTransaction)
	require.NoError(t, err)
	_, err = f.exec.ExecuteOneByName(ctx, model.TaskCancelCreditCard)
	require.NoError(t, err)

	sa, _ := f.tasks.FindByID(ctx, a.ID)
	require.Contains(t, sa.ExecutionResults[0].Error, "panic")
	sb, _ := f.tasks.FindByID(ctx, b.ID)
	require.Contains(t, sb.ExecutionResults[0].Error, "no handler")
}

func TestConcurrentClaimsNeverShareATask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	var runs sync.Map
	var dup atomic.Int32
	f.registry.Register(model.TaskSendOrderEvent, func(_ context.Context, data json.RawMessage) error {
		var d model.TransactionTaskData
		if err := json.Unmarshal(data, &d); err != nil {
			return err
		}
		if _, loaded := runs.LoadOrStore(d.TransactionID, true); loaded {
			dup.Add(1)
		}
		return nil
	})
	const m, n = 5, 20
	for i := 0; i < m; i++ {
		f.save(t, model.TaskSendOrderEvent, 1, model.TransactionTaskData{TransactionID: string(rune('a' + i))})
	}

	var claimed atomic.Int32
	var wg conc.WaitGroup
	for i := 0; i < n; i++ {
		wg.Go(func() {
			got, err := f.exec.ExecuteOneByName(ctx, model.TaskSendOrderEvent)
			if err == nil && got != nil {
				claimed.Add(1)
			}
		})
	}
	wg.Wait()

	require.Equal(t, int32(m), claimed.Load())
	require.Zero(t, dup.Load())
}

func TestAbortOnceAlertsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registry.Register(model.TaskCancelSeatReservation, func(context.Context, json.RawMessage) error {
		return errors.New("still failing")
	})
	saved := f.save(t, model.TaskCancelSeatReservation, 1, model.CancelActionData{TransactionID: "tx1", ActionID: "a1"})
	_, err := f.exec.ExecuteOneByName(ctx, model.TaskCancelSeatReservation)
	require.NoError(t, err)

	got, err := f.exec.AbortOne(ctx, 10*time.Minute)
	require.NoError(t, err)
	require.Nil(t, got, "last try too recent")

	f.clk.Advance(15 * time.Minute)
	var aborted atomic.Int32
	var wg conc.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Go(func() {
			if got, err := f.exec.AbortOne(ctx, 10*time.Minute); err == nil && got != nil {
				aborted.Add(1)
			}
		})
	}
	wg.Wait()

	require.Equal(t, int32(1), aborted.Load())
	require.Equal(t, 1, f.notifier.count())
	stored, _ := f.tasks.FindByID(ctx, saved.ID)
	require.Equal(t, model.TaskAborted, stored.Status)
}

func TestAbortSurvivesAlertFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.notifier.err = errors.New("smtp down")
	f.registry.Register(model.TaskVoidTransaction, func(context.Context, json.RawMessage) error {
		return errors.New("nope")
	})
	saved := f.save(t, model.TaskVoidTransaction, 1, nil)
	_, err := f.exec.ExecuteOneByName(ctx, model.TaskVoidTransaction)
	require.NoError(t, err)
	f.clk.Advance(time.Hour)

	got, err := f.exec.AbortOne(ctx, time.Minute)
	require.NoError(t, err)
	require.Equal(t, saved.ID, got.ID)
	stored, _ := f.tasks.FindByID(ctx, saved.ID)
	require.Equal(t, model.TaskAborted, stored.Status)
}

func TestCleanUp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registry.Register(model.TaskSendOrderEvent, func(context.Context, json.RawMessage) error { return nil })
	done := f.save(t, model.TaskSendOrderEvent, 1, nil)
	_, err := f.exec.ExecuteOneByName(ctx, model.TaskSendOrderEvent)
	require.NoError(t, err)
	pending := f.save(t, model.TaskSendOrderEvent, 1, nil)

	f.clk.Advance(8 * 24 * time.Hour)
	n, err := f.exec.CleanUp(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = f.tasks.FindByID(ctx, done.ID)
	require.Error(t, err)
	_, err = f.tasks.FindByID(ctx, pending.ID)
	require.NoError(t, err)
}

func TestRegistryNames(t *testing.T) {
	r := task.NewRegistry()
	noopHandler := func(context.Context, json.RawMessage) error { return nil }
	r.Register(model.TaskVoidTransaction, noopHandler)
	r.Register(model.TaskCancelCreditCard, noopHandler)
	require.Equal(t, []model.TaskName{model.TaskCancelCreditCard, model.TaskVoidTransaction}, r.Names())
	_, ok := r.Lookup(model.TaskSendOrderEvent)
	require.False(t, ok)
}
