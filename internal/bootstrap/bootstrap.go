// Package bootstrap wires the Generator Orchestrator (C6) and its
// collaborators from a loaded config.Config, shared by the one-shot
// cmd/universegen binary and the cron-scheduled cmd/universegen-schedule
// binary so the two never drift apart on wiring.
package bootstrap

import (
	"context"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/solstice-quant/derivuniverse/internal/archive"
	"github.com/solstice-quant/derivuniverse/internal/config"
	"github.com/solstice-quant/derivuniverse/internal/generator"
	"github.com/solstice-quant/derivuniverse/internal/greeks"
	"github.com/solstice-quant/derivuniverse/internal/history"
	"github.com/solstice-quant/derivuniverse/internal/markethours"
	"github.com/solstice-quant/derivuniverse/internal/marketdata"
	"github.com/solstice-quant/derivuniverse/internal/pricing"
	"github.com/solstice-quant/derivuniverse/internal/symbol"
)

// Orchestrator holds the built Orchestrator plus the collaborators a
// caller may need to close or observe directly (currently none require
// explicit teardown, but the archive.Store is exposed for diagnostics).
type Orchestrator struct {
	Orch  *generator.Orchestrator
	Store archive.Store
}

// Build constructs an Orchestrator from cfg, resolving the archive store
// (local or S3), the Bar Provider / optional HTTP index fallback, and the
// optional on-disk history cache.
func Build(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Orchestrator, error) {
	secType, err := symbol.ParseSecurityType(cfg.Run.SecurityType)
	if err != nil {
		return nil, err
	}
	model, err := pricing.ParseModel(cfg.Pricing.Model)
	if err != nil {
		return nil, err
	}
	ladderNames := cfg.History.Ladder
	if len(cfg.History.SymbolSourceResolutions) > 0 {
		ladderNames = cfg.History.SymbolSourceResolutions
	}
	ladder, err := parseLadder(ladderNames)
	if err != nil {
		return nil, err
	}

	store, err := newStore(ctx, cfg.DataSource.ArchiveRoot)
	if err != nil {
		return nil, err
	}

	discovery := archive.NewDiscovery(store, ladder, logger)

	primary := archive.NewBarProvider(store, secType, cfg.Run.Market, logger)
	var secondary history.Provider
	if cfg.DataSource.IndexProviderBaseURL != "" {
		apiKey := os.Getenv(cfg.DataSource.IndexProviderAPIKeyEnv)
		secondary = history.NewHTTPIndexProvider(cfg.DataSource.IndexProviderBaseURL, apiKey, logger)
	}

	cal := markethours.NewCalendar()

	gw := history.New(primary, secondary, cal, ladder, cfg.History.LookbackBars, history.Config{
		CacheTTL: cfg.History.CacheTTL,
	})
	if cfg.History.DiskCacheDir != "" {
		disk, err := history.NewDiskCache(cfg.History.DiskCacheDir, cfg.History.CacheTTL)
		if err != nil {
			return nil, err
		}
		gw.Disk = disk
	}

	orch := generator.New(discovery, gw, cal, logger, generator.Config{
		SecurityType:          secType,
		Market:                cfg.Run.Market,
		OutputRoot:            cfg.Output.Root,
		ConcurrencyMultiplier: cfg.Concurrency.Multiplier,
		MaxWorkers:            cfg.Concurrency.MaxWorkers,
		ETAInterval:           cfg.Concurrency.ETAInterval,
		Symbols:               cfg.Run.Symbols,
		LookbackBars:          cfg.History.LookbackBars,
		RiskFreeRate:          greeks.FlatRate(cfg.Pricing.RiskFreeRate),
		DividendYield:         greeks.FlatDividend(cfg.Pricing.DividendYield),
		PricingModel:          model,
	})

	return &Orchestrator{Orch: orch, Store: store}, nil
}

func newStore(ctx context.Context, archiveRoot string) (archive.Store, error) {
	if strings.HasPrefix(archiveRoot, "s3://") {
		rest := strings.TrimPrefix(archiveRoot, "s3://")
		bucket, prefix, _ := strings.Cut(rest, "/")
		return archive.NewS3Store(ctx, bucket, prefix)
	}
	return archive.LocalStore{Root: archiveRoot}, nil
}

func parseLadder(names []string) ([]marketdata.Resolution, error) {
	out := make([]marketdata.Resolution, 0, len(names))
	for _, n := range names {
		r, err := marketdata.ParseResolution(n)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
