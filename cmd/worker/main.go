package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasirstok/backend/internal/barcode"
	"kasirstok/backend/internal/config"
	"kasirstok/backend/internal/jobs"
	"kasirstok/backend/internal/logger"
	"kasirstok/backend/internal/service"
	pgstore "kasirstok/backend/internal/store/postgres"
)

func main() {
	enqueue := flag.String("enqueue", "", "enqueue one task (purge-expired or purge-inactive) and exit")
	productID := flag.String("product", "", "product id for purge-inactive")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logger())
	defer func() { _ = log.Sync() }()

	if err := validateWorkerConfig(cfg); err != nil {
		log.Fatal("invalid worker configuration", zap.Error(err))
	}
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *enqueue != "" {
		if err := enqueueOnce(ctx, redisOpts, *enqueue, *productID, cfg.SweepTimeout, log); err != nil {
			log.Fatal("enqueue failed", zap.String("task", *enqueue), zap.Error(err))
		}
		return
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pg, err := pgstore.New(connectCtx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("connect database", zap.Error(err))
	}
	defer func() { _ = pg.Close() }()
	if err := pg.Migrate(connectCtx); err != nil {
		log.Fatal("schema migration failed", zap.Error(err))
	}

	svc := service.New(pg,
		barcode.NewGenerator(barcode.WithMaxAttempts(cfg.BarcodeMaxAttempts)),
		nil,
		log,
		service.Options{
			PriceRoundingStep:       decimal.NewFromInt(cfg.PriceRoundingStep),
			StrictLedger:            cfg.StrictLedger,
			RestoreBulkBarcodeUnits: cfg.RestoreBulkBarcodeUnits,
		})
	stockJobs := jobs.NewStockJobs(svc, log, cfg.SweepTimeout)

	cron, err := cronRegistrations(cfg)
	if err != nil {
		log.Fatal("build scheduled tasks", zap.Error(err))
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    log,
		Handlers:  stockJobs.Handlers(),
		Cron:      cron,
	})
	if err != nil {
		log.Fatal("init worker", zap.Error(err))
	}

	log.Info("stock worker started", zap.String("expiry_cron", cfg.ExpirySweepCron), zap.String("inactive_cron", cfg.InactivePurgeCron))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("worker run", zap.Error(err))
	}
	log.Info("stock worker stopped")
}

func validateWorkerConfig(cfg config.Config) error {
	if cfg.RedisAddr == "" {
		return errors.New("REDIS_ADDR is required")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	return nil
}

// cronRegistrations schedules the expiry sweep and, when configured, the
// inactive purge. Scheduled sweeps carry no as_of so they use the run time.
func cronRegistrations(cfg config.Config) ([]jobs.CronRegistration, error) {
	var out []jobs.CronRegistration
	if cfg.ExpirySweepCron != "" {
		task, err := jobs.NewPurgeExpiredTask(nil)
		if err != nil {
			return nil, err
		}
		out = append(out, jobs.CronRegistration{
			Spec:    cfg.ExpirySweepCron,
			Task:    task,
			Options: []asynq.Option{asynq.Timeout(cfg.SweepTimeout), asynq.MaxRetry(3)},
		})
	}
	if cfg.InactivePurgeCron != "" {
		task, err := jobs.NewPurgeInactiveTask("")
		if err != nil {
			return nil, err
		}
		out = append(out, jobs.CronRegistration{
			Spec:    cfg.InactivePurgeCron,
			Task:    task,
			Options: []asynq.Option{asynq.Timeout(cfg.SweepTimeout), asynq.MaxRetry(3)},
		})
	}
	return out, nil
}

func enqueueOnce(ctx context.Context, redisOpts asynq.RedisClientOpt, name string, productID string, timeout time.Duration, log *zap.Logger) error {
	client := jobs.NewClient(redisOpts)
	defer func() { _ = client.Close() }()

	var (
		info *asynq.TaskInfo
		err  error
	)
	switch name {
	case "purge-expired":
		info, err = client.EnqueuePurgeExpired(ctx, nil, asynq.Timeout(timeout))
	case "purge-inactive":
		info, err = client.EnqueuePurgeInactive(ctx, productID, asynq.Timeout(timeout))
	default:
		return fmt.Errorf("unknown task %q", name)
	}
	if err != nil {
		return err
	}
	log.Info("task enqueued", zap.String("id", info.ID), zap.String("type", info.Type), zap.String("queue", info.Queue))
	return nil
}
