package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/idan55/makeamitsva-backend/config"
	"github.com/idan55/makeamitsva-backend/internal/auth"
	authmw "github.com/idan55/makeamitsva-backend/internal/auth/middleware"
	"github.com/idan55/makeamitsva-backend/internal/bootstrap"
	"github.com/idan55/makeamitsva-backend/internal/expiry"
	"github.com/idan55/makeamitsva-backend/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "").WithError(err).Fatal("load config")
	}

	log := logging.New(cfg.App.LogLevel, cfg.App.Environment)
	bootstrap.SetGinMode(cfg.App.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := bootstrap.OpenDB(ctx, bootstrap.DBOptions{
		DSN:      cfg.Database.PostgresDSN(),
		MaxConns: cfg.Database.MaxConns,
		Migrate:  true,
		Log:      logging.Component(log, "migrate"),
	})
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	defer db.Close()

	rdb, err := bootstrap.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		log.WithError(err).Fatal("open redis")
	}
	defer rdb.Close()

	var verifier authmw.TokenVerifier
	if cfg.Firebase.CredentialsPath != "" {
		client, err := auth.InitializeFirebase(ctx, &cfg.Firebase)
		if err != nil {
			log.WithError(err).Fatal("initialize firebase")
		}
		verifier = client
		log.Info("firebase token verification enabled")
	} else {
		log.Warn("FIREBASE_CREDENTIALS_PATH not set, trusting X-User-Id headers")
	}

	svc := bootstrap.NewServices(cfg, db, rdb, log)

	var scheduler *expiry.Scheduler
	if cfg.Requests.RunReaperInProcess {
		scheduler, err = expiry.NewScheduler(svc.Reaper, cfg.Requests.ReapSchedule, logging.Component(log, "expiry"))
		if err != nil {
			log.WithError(err).Fatal("create expiry scheduler")
		}
		scheduler.Start()
	}

	router := bootstrap.BuildRouter(bootstrap.RouterDeps{
		ServiceName:    cfg.App.ServiceName,
		Version:        cfg.App.Version,
		CORSOrigins:    cfg.Server.CORSOrigins,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		Services:       svc,
		Verifier:       verifier,
		Log:            log,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown")
	}
	if scheduler != nil {
		scheduler.Stop(shutdownCtx)
	}
	svc.Ledger.Wait()
	log.Info("server stopped")
}
