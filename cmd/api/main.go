// api は定期実行と実行制御 API を 1 プロセスで提供するコンテナ用のエントリポイントです。
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"review_pipeline/internal/app/config"
	"review_pipeline/internal/app/job"
	"review_pipeline/internal/app/logger"
	"review_pipeline/internal/app/pipeline"
	"review_pipeline/internal/app/server"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	p, err := pipeline.Open(ctx, cfg, true, log)
	if err != nil {
		return err
	}
	defer p.Close()

	runner, err := p.NewRunner(ctx, true)
	if err != nil {
		return err
	}
	guard := job.NewGuard(runner)

	schedule, err := cron.ParseStandard(cfg.Job.Schedule)
	if err != nil {
		return fmt.Errorf("invalid SCHEDULE %q: %w", cfg.Job.Schedule, err)
	}
	c := cron.New(cron.WithLocation(time.UTC))
	c.Schedule(schedule, cron.FuncJob(func() {
		res, err := guard.Run(ctx, job.Options{Mode: job.ModeLastCompleted})
		if errors.Is(err, job.ErrRunInProgress) {
			log.Warn("scheduled run skipped", "reason", err.Error())
			return
		}
		if err != nil {
			log.Error("scheduled run rejected", "error", err)
			return
		}
		log.Info("scheduled run done", "run_id", res.ID.String(), "status", res.Status, "week", res.Week)
	}))
	c.Start()
	log.Info("scheduler started", "schedule", cfg.Job.Schedule, "next", schedule.Next(time.Now().UTC()).Format(time.RFC3339))

	sqlDB, err := p.SQLDB()
	if err != nil {
		return err
	}
	srv := server.New(ctx, guard, sqlDB, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(":" + cfg.API.Port) }()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Warn("failed to shut down api", "error", serr)
	}
	<-c.Stop().Done()
	if werr := guard.Wait(shutdownCtx); werr != nil {
		log.Warn("run still in progress at shutdown", "error", werr)
	}
	return err
}
