package config

import (
	"strings"
	"time"

	"github.com/iliyamo/cinema-order-saga/internal/model"
)

// WorkerConfig controls the cadence of the background task worker.
type WorkerConfig struct {
	PollInterval      time.Duration // max idle wait between claims of one task name
	RetryInterval     time.Duration // Running tasks older than this go back to Ready
	AbortInterval     time.Duration // exhausted tasks older than this are aborted
	SweepInterval     time.Duration // how often retry/abort/clean-up/expiry sweeps run
	StoragePeriod     time.Duration // terminal tasks older than this are purged
	ExecutionsPerSec  int           // per-process cap on task executions
	ExpireBatchSize   int           // transactions expired per sweep
	TaskNames         []model.TaskName
	ConsumeOrderEvent bool // run the order.confirmed log consumer
}

func LoadWorkerConfig() WorkerConfig {
	cfg := WorkerConfig{
		PollInterval:      envDur("TASK_POLL_INTERVAL", 5*time.Second),
		RetryInterval:     time.Duration(envInt("TASK_RETRY_INTERVAL_MIN", 10)) * time.Minute,
		AbortInterval:     time.Duration(envInt("TASK_ABORT_INTERVAL_MIN", 60)) * time.Minute,
		SweepInterval:     envDur("TASK_SWEEP_INTERVAL", time.Minute),
		StoragePeriod:     time.Duration(envInt("TASK_STORAGE_DAYS", 30)) * 24 * time.Hour,
		ExecutionsPerSec:  envInt("TASK_EXECUTIONS_PER_SECOND", 20),
		ExpireBatchSize:   envInt("TRANSACTION_EXPIRE_BATCH", 100),
		TaskNames:         model.TaskNames,
		ConsumeOrderEvent: envBool("ORDER_EVENT_CONSUMER_ENABLED", true),
	}
	if names := envStr("TASK_NAMES", ""); names != "" {
		cfg.TaskNames = nil
		for _, n := range strings.Split(names, ",") {
			if n = strings.TrimSpace(n); n != "" {
				cfg.TaskNames = append(cfg.TaskNames, model.TaskName(n))
			}
		}
	}
	if cfg.ExecutionsPerSec < 1 {
		cfg.ExecutionsPerSec = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	cfg.ExpireBatchSize = max(cfg.ExpireBatchSize, 1)
	return cfg
}
