// Package main is the unattended, cron-driven sibling of cmd/universegen:
// it builds the same Generator Orchestrator (C6) once at startup and
// re-runs it on config.yaml's schedule.cron cadence, re-resolving the
// processing date on every tick (rather than fixing it at process start)
// since QC_DATAFLEET_DEPLOYMENT_DATE is expected to track "today" across
// restarts of a long-lived scheduler process.
//
// Grounded on aristath-sentinel's internal/scheduler.Scheduler: a thin
// robfig/cron/v3 wrapper around a named Job, logged on success/failure,
// swapping its zerolog calls for this repo's logrus.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/solstice-quant/derivuniverse/internal/additionalfields"
	"github.com/solstice-quant/derivuniverse/internal/bootstrap"
	"github.com/solstice-quant/derivuniverse/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("failed to load config: %v", err)
		return 1
	}

	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	built, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Error("failed to build orchestrator")
		return 1
	}

	c := cron.New(cron.WithSeconds(), cron.WithLogger(cron.VerbosePrintfLogger(log.Default())))
	_, err = c.AddFunc(cfg.Schedule.Cron, func() {
		date, err := config.ProcessingDate()
		if err != nil {
			logger.WithError(err).Error("universegen-schedule: invalid processing date, skipping tick")
			return
		}
		entry := logger.WithField("date", date.Format("2006-01-02"))
		entry.Info("universegen-schedule: tick starting")

		if ok := built.Orch.Run(ctx, date); !ok {
			entry.Error("universegen-schedule: run completed with failures")
			return
		}
		if !runAdditionalFields(built.Orch.UniverseDirs(), date, entry) {
			entry.Error("universegen-schedule: additional fields pass failed")
			return
		}
		entry.Info("universegen-schedule: tick complete")
	})
	if err != nil {
		logger.WithError(err).Error("invalid schedule.cron expression")
		return 1
	}

	logger.WithField("cron", cfg.Schedule.Cron).Info("universegen-schedule: starting scheduler")
	c.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Warn("universegen-schedule: shutdown signal received")
	cancel()
	stopCtx := c.Stop()
	<-stopCtx.Done()
	logger.Info("universegen-schedule: stopped")
	return 0
}

// runAdditionalFields invokes the Additional Fields pass (C7) once per
// underlying universe directory the tick actually wrote to -- C7 expects
// a single underlying's flat file listing, never the output root, per
// additionalfields.Run's own doc comment. One directory's failure is
// logged but does not stop the others from being attempted.
func runAdditionalFields(dirs []string, date time.Time, logger logrus.FieldLogger) bool {
	ok := true
	for _, dir := range dirs {
		if err := additionalfields.Run(dir, date); err != nil {
			logger.WithError(err).WithField("dir", dir).Error("universegen-schedule: additional fields pass failed")
			ok = false
		}
	}
	return ok
}
