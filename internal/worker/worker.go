// Package worker drives the task executor and the saga's expiry sweep in a
// long-running process.
package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	"github.com/iliyamo/cinema-order-saga/internal/config"
	"github.com/iliyamo/cinema-order-saga/internal/model"
	"github.com/iliyamo/cinema-order-saga/internal/task"
)

// Expirer moves overdue transactions to Expired and schedules their
// compensation.
type Expirer interface {
	ExpireTransactions(ctx context.Context, limit int) (int, error)
}

// Runner is an extra long-running loop, such as a queue consumer.
type Runner interface {
	Run(ctx context.Context) error
}

type Worker struct {
	exec    *task.Executor
	expirer Expirer
	cfg     config.WorkerConfig
	limiter *rate.Limiter
	logger  *log.Logger
	extra   []Runner
}

func New(exec *task.Executor, expirer Expirer, cfg config.WorkerConfig, logger *log.Logger, extra ...Runner) *Worker {
	if logger == nil {
		logger = log.New(log.Writer(), "worker: ", log.LstdFlags)
	}
	return &Worker{
		exec:    exec,
		expirer: expirer,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.ExecutionsPerSec), cfg.ExecutionsPerSec),
		logger:  logger,
		extra:   extra,
	}
}

// Run starts one executor loop per task name, the sweep loop and the extra
// runners, and blocks until ctx is done and all of them returned.
func (w *Worker) Run(ctx context.Context) {
	var wg conc.WaitGroup
	for _, name := range w.cfg.TaskNames {
		wg.Go(func() { w.executeLoop(ctx, name) })
	}
	wg.Go(func() { w.sweepLoop(ctx) })
	for _, r := range w.extra {
		wg.Go(func() {
			if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Printf("runner stopped: %v", err)
			}
		})
	}
	wg.Wait()
}

// executeLoop claims and runs tasks of one name.  While nothing is due it
// backs off up to the poll interval.
func (w *Worker) executeLoop(ctx context.Context, name model.TaskName) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = w.cfg.PollInterval
	for {
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
		t, err := w.exec.ExecuteOneByName(ctx, name)
		if err != nil {
			w.logger.Printf("execute %s: %v", name, err)
		}
		if t != nil && err == nil {
			b.Reset()
			continue
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			wait = w.cfg.PollInterval
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (w *Worker) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		w.Sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep runs one pass of the maintenance jobs: expire overdue
// transactions, retry stale tasks, abort exhausted ones and purge old
// ones.  Each job logs its own failure and does not stop the others.
func (w *Worker) Sweep(ctx context.Context) {
	if w.expirer != nil {
		for {
			n, err := w.expirer.ExpireTransactions(ctx, w.cfg.ExpireBatchSize)
			if err != nil {
				w.logger.Printf("expire transactions: %v", err)
				break
			}
			if n > 0 {
				w.logger.Printf("expired %d transactions", n)
			}
			if n == 0 || n < w.cfg.ExpireBatchSize {
				break
			}
		}
	}
	if n, err := w.exec.Retry(ctx, w.cfg.RetryInterval); err != nil {
		w.logger.Printf("%v", err)
	} else if n > 0 {
		w.logger.Printf("%d tasks back to ready", n)
	}
	for ctx.Err() == nil {
		t, err := w.exec.AbortOne(ctx, w.cfg.AbortInterval)
		if err != nil {
			w.logger.Printf("%v", err)
			break
		}
		if t == nil {
			break
		}
		w.logger.Printf("aborted task %s %s", t.Name, t.ID)
	}
	if n, err := w.exec.CleanUp(ctx, w.cfg.StoragePeriod); err != nil {
		w.logger.Printf("%v", err)
	} else if n > 0 {
		w.logger.Printf("removed %d finished tasks", n)
	}
}

// Drain runs due tasks of name until none is left or ctx is done and
// returns how many ran.
func (w *Worker) Drain(ctx context.Context, name model.TaskName) (int, error) {
	n := 0
	for ctx.Err() == nil {
		t, err := w.exec.ExecuteOneByName(ctx, name)
		if err != nil {
			return n, err
		}
		if t == nil {
			break
		}
		n++
	}
	return n, ctx.Err()
}
