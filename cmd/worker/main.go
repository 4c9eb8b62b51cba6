package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/joho/godotenv"

	"github.com/iliyamo/cinema-order-saga/internal/alert"
	"github.com/iliyamo/cinema-order-saga/internal/app"
	"github.com/iliyamo/cinema-order-saga/internal/config"
	"github.com/iliyamo/cinema-order-saga/internal/queue"
	"github.com/iliyamo/cinema-order-saga/internal/task"
	"github.com/iliyamo/cinema-order-saga/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	wcfg := config.LoadWorkerConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(ctx, cfg, "order-worker")
	if err != nil {
		log.Fatal(err)
	}

	registry := task.NewRegistry()
	rt.Saga.RegisterTasks(registry)
	exec := task.NewExecutor(rt.Tasks, registry, notifier(ctx, cfg), rt.Clock,
		log.New(log.Writer(), "task-executor: ", log.LstdFlags), rt.Telemetry.Meter("task"))

	var extra []worker.Runner
	if wcfg.ConsumeOrderEvent {
		extra = append(extra, queue.NewConsumer(cfg.RabbitMQURL, cfg.OrderLogPath, nil))
	}
	w := worker.New(exec, rt.Saga, wcfg, nil, extra...)

	log.Printf("worker running %d task loops (env=%s)", len(wcfg.TaskNames), cfg.Env)
	w.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rt.Close(shutdownCtx); err != nil {
		log.Printf("close: %v", err)
	}
}

// notifier mails abort alerts through SES when both addresses are set and
// logs them otherwise.
func notifier(ctx context.Context, cfg config.Config) alert.Notifier {
	fallback := alert.LogNotifier{Logger: log.New(log.Writer(), "alert: ", log.LstdFlags)}
	if cfg.AlertFromEmail == "" || cfg.AlertToEmail == "" {
		return fallback
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Printf("aws config: %v; alerts go to the log", err)
		return fallback
	}
	n, err := alert.NewSESNotifier(awsCfg, cfg.AlertFromEmail, cfg.AlertToEmail)
	if err != nil {
		log.Printf("ses notifier: %v; alerts go to the log", err)
		return fallback
	}
	return n
}
