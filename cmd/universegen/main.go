// Package main is the universe generator's production entrypoint: it
// wires Chain Discovery (C1), the History Gateway (C2), and the
// Generator Orchestrator (C6) together from config.yaml and runs one
// processing-date pass, followed by the Additional Fields pass (C7).
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/solstice-quant/derivuniverse/internal/additionalfields"
	"github.com/solstice-quant/derivuniverse/internal/bootstrap"
	"github.com/solstice-quant/derivuniverse/internal/config"
	"github.com/solstice-quant/derivuniverse/internal/statusserver"
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

	logger := newLogger(cfg.Environment.LogLevel)

	date, err := config.ProcessingDate()
	if err != nil {
		logger.WithError(err).Error("invalid processing date")
		return 1
	}
	logger.WithField("date", date.Format("2006-01-02")).Info("universegen: starting run")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	built, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Error("failed to build orchestrator")
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Warn("universegen: shutdown signal received, cancelling run")
		cancel()
	}()

	var statusSrv *http.Server
	if cfg.Status.Enabled {
		statusSrv = statusserver.New(cfg.Status.Addr, built.Orch, logger)
		go func() {
			if err := statusSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("status server error")
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = statusSrv.Shutdown(shutdownCtx)
		}()
	}

	ok := built.Orch.Run(ctx, date)
	if !ok {
		logger.Error("universegen: run completed with failures")
		return 1
	}

	if !runAdditionalFields(built.Orch.UniverseDirs(), date, logger) {
		return 1
	}

	logger.Info("universegen: run complete")
	return 0
}

// runAdditionalFields invokes the Additional Fields pass (C7) once per
// underlying universe directory the run actually wrote to -- C7 expects
// a single underlying's flat file listing, never the output root, per
// additionalfields.Run's own doc comment. One directory's failure is
// logged but does not stop the others from being attempted.
func runAdditionalFields(dirs []string, date time.Time, logger *logrus.Logger) bool {
	ok := true
	for _, dir := range dirs {
		if err := additionalfields.Run(dir, date); err != nil {
			logger.WithError(err).WithField("dir", dir).Error("universegen: additional fields pass failed")
			ok = false
		}
	}
	return ok
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}
