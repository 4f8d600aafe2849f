package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marswin2024/jira-confluence-digest/internal/adapters/confluence"
	"github.com/marswin2024/jira-confluence-digest/internal/adapters/jira"
	"github.com/marswin2024/jira-confluence-digest/internal/adapters/smtp"
	"github.com/marswin2024/jira-confluence-digest/internal/config"
	httpapi "github.com/marswin2024/jira-confluence-digest/internal/http"
	"github.com/marswin2024/jira-confluence-digest/internal/jobs"
	"github.com/marswin2024/jira-confluence-digest/internal/logger"
	"github.com/marswin2024/jira-confluence-digest/internal/render"
	"github.com/marswin2024/jira-confluence-digest/internal/repo"
	"github.com/marswin2024/jira-confluence-digest/internal/services"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("configuration invalid")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Run history is optional: without DB_DSN the digest still runs, it
	// just keeps no record of past runs.
	var repository *repo.Repository
	if cfg.DBDSN != "" {
		r, err := repo.Open(ctx, cfg, log)
		if err != nil {
			log.Error().Err(err).Msg("db unavailable, run history disabled")
		} else {
			repository = r
			defer repository.Close()
		}
	}

	jc := jira.NewClient(cfg, log)
	cc := confluence.NewClient(cfg, log)
	sender := smtp.NewSender(cfg, log)

	// Surface bad SMTP credentials at startup instead of at 07:00.
	checkCtx, checkCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := sender.TestConnection(checkCtx); err != nil {
		log.Warn().Err(err).Msg("smtp connection check failed")
	}
	checkCancel()

	renderer, err := render.New()
	if err != nil {
		log.Fatal().Err(err).Msg("renderer init failed")
	}

	var runs services.RunRecorder
	if repository != nil {
		runs = repository
	}
	svc := services.New(cfg, log, jc, cc, renderer, sender, runs)

	if cfg.RunOnce {
		log.Info().Msg("running digest once (test mode)")
		runCtx, runCancel := context.WithTimeout(ctx, 10*time.Minute)
		defer runCancel()
		if err := svc.RunDailyDigest(runCtx); err != nil {
			log.Error().Err(err).Msg("digest failed")
			os.Exit(1)
		}
		return
	}

	cr, err := jobs.NewCron(cfg, log, svc, repository)
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler init failed")
	}
	cr.Start()
	defer cr.Stop()

	router := httpapi.NewRouter(cfg, log, svc, repository)
	errCh := make(chan error, 1)
	go func() { errCh <- router.Run(cfg.HTTPAddr) }()
	log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("shutting down...")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	time.Sleep(500 * time.Millisecond)
}
