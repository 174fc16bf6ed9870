package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/idan55/makeamitsva-backend/config"
	"github.com/idan55/makeamitsva-backend/internal/bootstrap"
	"github.com/idan55/makeamitsva-backend/internal/expiry"
	"github.com/idan55/makeamitsva-backend/internal/favors/repository"
	"github.com/idan55/makeamitsva-backend/internal/logging"
	"github.com/idan55/makeamitsva-backend/internal/storage/postgres"
	"github.com/sirupsen/logrus"
)

const usage = `usage: worker <command>

commands:
  reap       delete expired requests once and exit
  schedule   run the expiry reaper on EXPIRY_REAP_SCHEDULE until signalled
  migrate    apply pending database migrations`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "").WithError(err).Fatal("load config")
	}
	log := logging.New(cfg.App.LogLevel, cfg.App.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "reap":
		err = runReap(ctx, cfg, log)
	case "schedule":
		err = runSchedule(ctx, cfg, log)
	case "migrate":
		err = runMigrate(ctx, cfg, log)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.WithError(err).WithField("command", os.Args[1]).Fatal("worker failed")
	}
}

func newReaper(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*expiry.Reaper, func(), error) {
	rdb, err := bootstrap.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	reaper := expiry.NewReaper(repository.NewRequestRepository(rdb), logging.Component(log, "expiry"))
	return reaper, func() { rdb.Close() }, nil
}

func runReap(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	reaper, closeFn, err := newReaper(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeFn()

	n, err := reaper.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("reap: %w", err)
	}
	log.WithField("count", n).Info("reap pass finished")
	return nil
}

func runSchedule(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	reaper, closeFn, err := newReaper(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeFn()

	scheduler, err := expiry.NewScheduler(reaper, cfg.Requests.ReapSchedule, logging.Component(log, "expiry"))
	if err != nil {
		return err
	}
	scheduler.Start()

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()
	scheduler.Stop(stopCtx)
	return nil
}

func runMigrate(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	db, err := bootstrap.OpenDB(ctx, bootstrap.DBOptions{
		DSN:      cfg.Database.PostgresDSN(),
		MaxConns: 2,
		Migrate:  true,
		Log:      logging.Component(log, "migrate"),
	})
	if err != nil {
		return err
	}
	defer db.Close()

	v, err := postgres.Version(db, logging.Component(log, "migrate"))
	if err != nil {
		return err
	}
	log.WithField("version", v).Info("database migrated")
	return nil
}
