// Package app opens the shared infrastructure of the API server and the
// worker and assembles the order placement saga on top of it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/cinema-order-saga/internal/clock"
	"github.com/iliyamo/cinema-order-saga/internal/config"
	"github.com/iliyamo/cinema-order-saga/internal/database"
	"github.com/iliyamo/cinema-order-saga/internal/payment"
	"github.com/iliyamo/cinema-order-saga/internal/queue"
	"github.com/iliyamo/cinema-order-saga/internal/ratelimit"
	"github.com/iliyamo/cinema-order-saga/internal/repository"
	"github.com/iliyamo/cinema-order-saga/internal/saga"
	"github.com/iliyamo/cinema-order-saga/internal/telemetry"
	"github.com/iliyamo/cinema-order-saga/internal/token"
)

// Runtime is everything a process needs to drive the saga.
type Runtime struct {
	Config    config.Config
	Policy    config.Policy
	DB        *sql.DB
	Redis     *redis.Client
	Telemetry *telemetry.Provider
	Tasks     *repository.TaskRepo
	Tokens    *token.CapabilityStore
	Saga      *saga.Service
	Clock     clock.Clock
}

// Open connects MySQL and Redis, loads the policy and builds the saga.  The
// saga cannot run without Redis: admission slots and access tokens live
// there.
func Open(ctx context.Context, cfg config.Config, component string) (*Runtime, error) {
	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.ConfigFromEnv())
	if err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("database: %w", err)
	}
	if cfg.MigrateOnStart {
		if err := database.Migrate(db, log.New(log.Writer(), "migrate: ", log.LstdFlags)); err != nil {
			_ = db.Close()
			_ = tp.Shutdown(ctx)
			return nil, err
		}
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		_ = db.Close()
		_ = tp.Shutdown(ctx)
		return nil, errors.New("redis: server unreachable")
	}

	clk := clock.NewSystem()
	rl := config.LoadRateLimitConfig()
	tasks := repository.NewTaskRepo(db)
	tokens := token.NewCapabilityStore(rdb, cfg.CapabilityTokenSecret, cfg.CapabilityTokenTTL, clk)
	logger := log.New(log.Writer(), "saga: ", log.LstdFlags)

	svc := saga.NewService(saga.Deps{
		Transactions: repository.NewTransactionRepo(db),
		Actions:      repository.NewActionRepo(db, clk),
		Sequences:    repository.NewSequenceRepo(db),
		Tasks:        tasks,
		Inventory:    repository.NewInventoryRepo(db, clk),
		Limiter:      ratelimit.NewLimiter(rdb, rl.AdmissionPrefix),
		Tokens:       tokens,
		Passports:    token.NewPassportVerifier(policy, clk),
		Payments:     payment.NewOffline(),
		Events:       queue.NewPublisher(cfg.RabbitMQURL, nil),
		Policy:       policy,
		Clock:        clk,
		Location:     cfg.Location(),
		PhoneRegion:  cfg.PhoneDefaultRegion,
		Logger:       logger,
		Meter:        tp.Meter(component),
	})

	return &Runtime{
		Config:    cfg,
		Policy:    policy,
		DB:        db,
		Redis:     rdb,
		Telemetry: tp,
		Tasks:     tasks,
		Tokens:    tokens,
		Saga:      svc,
		Clock:     clk,
	}, nil
}

// Close releases the connections and flushes metrics.
func (r *Runtime) Close(ctx context.Context) error {
	return errors.Join(
		r.Redis.Close(),
		r.DB.Close(),
		r.Telemetry.Shutdown(ctx),
	)
}
