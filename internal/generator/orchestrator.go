// Package generator implements the Generator Orchestrator (C6): the
// top-level per-processing-date pipeline that fans out chain discovery's
// output across canonicals, builds underlying/contract/option entries
// from history, repairs missing IVs, and writes one CSV file per
// canonical.
//
// The bounded fan-out (errgroup + a concurrency limit derived from
// physical cpu_count) and shared-cancellation-on-first-error shape is
// grounded on SAbdulRahuman-opense-ai-agents's datasource.Aggregator,
// the only repo in the retrieval pack that drives errgroup.WithContext
// over a set of independent per-item fetches; the count-throttled
// progress line is adapted from aristath-sentinel's work.ProgressReporter.
package generator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/solstice-quant/derivuniverse/internal/archive"
	"github.com/solstice-quant/derivuniverse/internal/csvio"
	"github.com/solstice-quant/derivuniverse/internal/entries"
	"github.com/solstice-quant/derivuniverse/internal/greeks"
	"github.com/solstice-quant/derivuniverse/internal/history"
	"github.com/solstice-quant/derivuniverse/internal/ivsurface"
	"github.com/solstice-quant/derivuniverse/internal/markethours"
	"github.com/solstice-quant/derivuniverse/internal/marketdata"
	"github.com/solstice-quant/derivuniverse/internal/pricing"
	"github.com/solstice-quant/derivuniverse/internal/symbol"
)

// Config parameterizes one orchestrator run, corresponding to the CLI/
// config-file knobs spec §6 names (security-type, market, symbols filter,
// concurrency multiplier).
type Config struct {
	SecurityType          symbol.SecurityType
	Market                string
	OutputRoot            string
	ConcurrencyMultiplier float64 // spec §5: pool size = floor(multiplier * cpu_count)
	MaxWorkers            int     // hard cap; 0 = unbounded by cap
	ETAInterval           int
	Symbols               []string // restrict processed underlyings; empty = all discovered

	LookbackBars  int
	RiskFreeRate  greeks.RateModel
	DividendYield greeks.DividendModel
	PricingModel  pricing.Model
}

// Orchestrator wires together Chain Discovery (C1), the History Gateway
// (C2), the Entry Model/Greeks Engine (C3/C4), and the IV Interpolator
// (C5) into the per-canonical pipeline spec §4.6 describes.
type Orchestrator struct {
	Discovery *archive.Discovery
	History   *history.Gateway
	Calendar  *markethours.Calendar
	Logger    *logrus.Logger
	Config    Config

	eta *etaTracker

	dirsMu sync.Mutex
	dirs   map[string]struct{}
}

// New builds an Orchestrator. A nil Logger falls back to logrus's
// standard logger.
func New(discovery *archive.Discovery, hist *history.Gateway, cal *markethours.Calendar, logger *logrus.Logger, cfg Config) *Orchestrator {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.ConcurrencyMultiplier <= 0 {
		cfg.ConcurrencyMultiplier = 1.5
	}
	if cfg.ETAInterval <= 0 {
		cfg.ETAInterval = 500
	}
	if cfg.LookbackBars <= 0 {
		cfg.LookbackBars = 5
	}
	return &Orchestrator{
		Discovery: discovery,
		History:   hist,
		Calendar:  cal,
		Logger:    logger,
		Config:    cfg,
		eta:       newETATracker(logger, cfg.ETAInterval),
		dirs:      make(map[string]struct{}),
	}
}

// Status reports a progress snapshot. The counters are created by New and
// accumulate across every Run call; Elapsed is measured from New. An
// Orchestrator not built by New reports a zero-value Status rather than
// panicking, so a status server can poll it from startup.
func (o *Orchestrator) Status() Status {
	if o.eta == nil {
		return Status{}
	}
	return o.eta.Snapshot()
}

// Run implements the top-level run() -> bool contract: it discovers the
// day's chains, fans out a bounded pool of goroutines over canonicals,
// and returns false if any canonical failed fatally (a shared
// cancellation token aborts the rest of the run, per spec §4.6/§5).
func (o *Orchestrator) Run(ctx context.Context, date time.Time) bool {
	o.resetUniverseDirs()
	chains, canonicals, err := o.Discovery.Discover(ctx, o.Config.SecurityType, o.Config.Market, date)
	if err != nil {
		o.Logger.WithError(err).Error("generator: chain discovery failed")
		return false
	}

	keys := o.filterKeys(chains, canonicals)
	sort.Strings(keys)
	total := len(keys)
	o.Logger.WithFields(logrus.Fields{"canonicals": total, "date": date.Format("2006-01-02")}).Info("generator: starting run")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.poolSize())

	for _, key := range keys {
		key := key
		canonical := canonicals[key]
		contracts := chains[key]
		g.Go(func() error {
			if err := o.processCanonical(gctx, canonical, contracts, date); err != nil {
				o.Logger.WithError(err).WithField("canonical", canonical.Identifier()).
					Error("generator: canonical failed, cancelling run")
				return err
			}
			o.eta.recordProcessed(total)
			return nil
		})
	}

	err = g.Wait()
	o.writeRunSummary(date, total, err != nil)
	return err == nil
}

// filterKeys restricts the discovered canonicals to Config.Symbols (the
// spec §6 "symbols" config key) when set, matching on the canonical's
// ticker case-insensitively.
func (o *Orchestrator) filterKeys(chains map[string][]symbol.Symbol, canonicals map[string]symbol.Symbol) []string {
	keys := make([]string, 0, len(chains))
	if len(o.Config.Symbols) == 0 {
		for k := range chains {
			keys = append(keys, k)
		}
		return keys
	}
	wanted := make(map[string]bool, len(o.Config.Symbols))
	for _, s := range o.Config.Symbols {
		wanted[strings.ToUpper(s)] = true
	}
	for k, canonical := range canonicals {
		if wanted[strings.ToUpper(canonical.Ticker)] {
			keys = append(keys, k)
		}
	}
	return keys
}

// poolSize implements spec §5's floor(1.5 * cpu_count), sourcing the
// physical core count from gopsutil rather than runtime.NumCPU() so the
// figure reflects real hardware even under a container's scheduler quota.
func (o *Orchestrator) poolSize() int {
	cores, err := cpu.Counts(false)
	if err != nil || cores <= 0 {
		cores = 1
	}
	size := int(math.Floor(o.Config.ConcurrencyMultiplier * float64(cores)))
	if size < 1 {
		size = 1
	}
	if o.Config.MaxWorkers > 0 && size > o.Config.MaxWorkers {
		size = o.Config.MaxWorkers
	}
	return size
}

// processCanonical implements spec §4.6 step 3: hours gating, output file
// creation, underlying line, per-contract lines, and the IV repair pass.
func (o *Orchestrator) processCanonical(ctx context.Context, canonical symbol.Symbol, contracts []symbol.Symbol, date time.Time) error {
	if o.Calendar != nil && !o.Calendar.IsOpen(canonical.Market, date) {
		o.Logger.WithField("canonical", canonical.Identifier()).Debug("generator: market closed, skipping")
		return nil
	}

	contracts = filterUnexpired(contracts, date)

	var underlyingSym symbol.Symbol
	hasUnderlying := false
	if len(contracts) > 0 && contracts[0].Underlying != nil {
		underlyingSym = *contracts[0].Underlying
		hasUnderlying = true
	}

	var underlyingSlices []marketdata.Slice
	var underlyingEntry *entries.UnderlyingEntry
	if hasUnderlying {
		reqs := historyRequests(underlyingSym.Ticker, date, o.Config.LookbackBars)
		slices, err := o.History.GetHistory(ctx, reqs, time.UTC)
		if err != nil && !errors.Is(err, history.ErrNoData) {
			return fmt.Errorf("generator: underlying history for %s: %w", underlyingSym.Ticker, err)
		}
		underlyingSlices = slices
		if len(slices) == 0 && canonical.Type.NeedsUnderlyingData() {
			o.eta.recordMissingUnderlying()
			o.Logger.WithField("canonical", canonical.Identifier()).
				Warn("generator: no underlying history for a has_greeks canonical, skipping")
			return nil
		}
		underlyingEntry = entries.NewUnderlyingEntry(underlyingSym)
		for _, s := range slices {
			underlyingEntry.Update(s)
		}
	}

	header := headerFor(canonical.Type)
	var lines []string
	if underlyingEntry != nil {
		lines = append(lines, padRow(underlyingEntry.ToCSV(), header))
	}

	optionEntries := make([]*entries.OptionEntry, 0, len(contracts))
	spot := lastClose(underlyingSlices, underlyingSym.Ticker)

	for _, contract := range contracts {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		entry, err := o.buildEntry(ctx, contract, underlyingSlices, date)
		if err != nil {
			return err
		}
		if oe, ok := entry.(*entries.OptionEntry); ok {
			optionEntries = append(optionEntries, oe)
		}
		lines = append(lines, padRow(entry.ToCSV(), header))
	}

	if canonical.Type.IsOption() && len(optionEntries) > 0 {
		o.repairMissingIV(optionEntries, contracts, spot, date)
		// Overwrite the affected rows now that repair has run.
		offset := 0
		if underlyingEntry != nil {
			offset = 1
		}
		for i, oe := range optionEntries {
			lines[offset+i] = padRow(oe.ToCSV(), header)
		}
	}

	return o.writeUniverseFile(canonical, contracts, date, header, lines)
}

// buildEntry fetches a contract's (and, for options, its mirror's)
// history, merges it with the underlying's, and streams it into a fresh
// entry+engine pair, per spec §4.6 step 3.d.
func (o *Orchestrator) buildEntry(ctx context.Context, contract symbol.Symbol,
	underlyingSlices []marketdata.Slice, date time.Time) (entries.Entry, error) {
	reqs := historyRequests(contract.Ticker, date, o.Config.LookbackBars)

	var mirror symbol.Symbol
	haveMirror := false
	if contract.Type.IsOption() {
		m, err := symbol.Mirror(contract)
		if err == nil {
			mirror = m
			haveMirror = true
			reqs = append(reqs, historyRequests(mirror.Ticker, date, o.Config.LookbackBars)...)
		}
	}

	slices, err := o.History.GetHistory(ctx, reqs, time.UTC)
	if err != nil && !errors.Is(err, history.ErrNoData) {
		return nil, fmt.Errorf("generator: history for %s: %w", contract.Ticker, err)
	}
	merged := marketdata.MergeByTimestamp(underlyingSlices, slices)

	if !contract.Type.IsOption() {
		entry := entries.NewContractEntry(contract)
		for _, s := range merged {
			entry.Update(s)
		}
		return entry, nil
	}

	eng := greeks.New(greeks.Config{
		RiskFreeRate:  o.Config.RiskFreeRate,
		DividendYield: o.Config.DividendYield,
		PricingModel:  o.Config.PricingModel,
		Right:         pricingRight(contract.Right),
		Strike:        contract.Strike,
		Expiry:        contract.Expiry,
	})
	if !haveMirror {
		mirror = contract
	}
	entry := entries.NewOptionEntry(contract, mirror, eng)
	for _, s := range merged {
		entry.Update(s)
	}
	return entry, nil
}

// repairMissingIV implements spec §4.5/§4.6 step 3.e: fit a quadratic IV
// surface over contracts with valid IV, then root-find and recompute
// Greeks for every contract still missing one. Fit or per-contract
// root-find failures are logged and leave the affected contract's IV
// missing, per spec §7's error table.
func (o *Orchestrator) repairMissingIV(optionEntries []*entries.OptionEntry, contracts []symbol.Symbol, spot float64, date time.Time) {
	if spot <= 0 {
		return
	}
	obs := make([]ivsurface.Observation, 0, len(optionEntries))
	type missingContract struct {
		entry  *entries.OptionEntry
		strike float64
		tau    float64
		expiry time.Time
		right  symbol.OptionRight
	}
	var missing []missingContract

	for i, oe := range optionEntries {
		c := contracts[i]
		tau := symbol.TimeTillExpiry(c.Expiry, date)
		if tau <= 0 {
			continue
		}
		if oe.MissingIV() {
			missing = append(missing, missingContract{entry: oe, strike: c.Strike, tau: tau, expiry: c.Expiry, right: c.Right})
			continue
		}
		obs = append(obs, ivsurface.Observation{Strike: c.Strike, Tau: tau, IV: oe.IV(), Spot: spot})
	}
	if len(missing) == 0 {
		return
	}

	allObs := obs
	for _, m := range missing {
		allObs = append(allObs, ivsurface.Observation{Strike: m.strike, Tau: m.tau, IV: 0, Spot: spot})
	}

	interp, err := ivsurface.NewInterpolator(allObs, spot, nil)
	if err != nil {
		o.Logger.WithError(err).Debug("generator: iv interpolator unavailable, leaving contracts missing")
		return
	}

	r := o.riskFreeRate(date)
	q := o.dividendYield(date)
	for _, m := range missing {
		v, err := interp.Interpolate(m.strike, m.tau)
		if err != nil {
			o.Logger.WithError(err).WithField("strike", m.strike).Debug("generator: iv repair root-find failed")
			continue
		}
		gk := ivsurface.RecomputeGreeks(v, spot, m.strike, m.tau, r, q, pricingRight(m.right), m.expiry, date)
		m.entry.MarkRepaired(v, gk)
	}
}

func (o *Orchestrator) riskFreeRate(d time.Time) float64 {
	if o.Config.RiskFreeRate != nil {
		return o.Config.RiskFreeRate(d)
	}
	return 0.04
}

func (o *Orchestrator) dividendYield(d time.Time) float64 {
	if o.Config.DividendYield != nil {
		return o.Config.DividendYield(d)
	}
	return 0.0
}

// writeUniverseFile streams the pre-rendered rows to the canonical's
// output path atomically via csvio.WriteFile, per spec §4.6 step 3.b and
// §6's file-layout rule.
func (o *Orchestrator) writeUniverseFile(canonical symbol.Symbol, contracts []symbol.Symbol, date time.Time, header string, lines []string) error {
	path := o.outputPath(canonical, contracts, date)
	rows := make(chan string, len(lines))
	for _, l := range lines {
		rows <- l
	}
	close(rows)
	if err := csvio.WriteFile(path, "#"+header, rows); err != nil {
		return err
	}
	o.recordUniverseDir(filepath.Dir(path))
	return nil
}

// resetUniverseDirs clears the tracked directory set at the start of
// each Run, so UniverseDirs() reflects only the most recent run -- a
// long-lived scheduler process (cmd/universegen-schedule) reuses one
// Orchestrator across many ticks, and an underlying absent from today's
// chain must not have yesterday's directory fed into today's C7 pass.
func (o *Orchestrator) resetUniverseDirs() {
	o.dirsMu.Lock()
	defer o.dirsMu.Unlock()
	o.dirs = make(map[string]struct{})
}

// recordUniverseDir tracks one underlying's universe directory as
// touched by this run, so the caller can drive the Additional Fields
// Pass (C7) per directory afterward -- C7 operates on a single
// underlying's flat file listing, never the output root as a whole.
func (o *Orchestrator) recordUniverseDir(dir string) {
	o.dirsMu.Lock()
	defer o.dirsMu.Unlock()
	o.dirs[dir] = struct{}{}
}

// UniverseDirs returns the sorted set of underlying universe directories
// this Orchestrator wrote to during its most recent Run call.
func (o *Orchestrator) UniverseDirs() []string {
	o.dirsMu.Lock()
	defer o.dirsMu.Unlock()
	out := make([]string, 0, len(o.dirs))
	for d := range o.dirs {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (o *Orchestrator) outputPath(canonical symbol.Symbol, contracts []symbol.Symbol, date time.Time) string {
	key := underlyingKey(canonical, contracts)
	return filepath.Join(o.Config.OutputRoot, strings.ToLower(canonical.Type.String()), strings.ToLower(canonical.Market),
		"universes", key, date.Format("20060102")+".csv")
}

// underlyingKey implements spec §6's three-way file-layout rule: equity/
// index tickers lower-case directly; future-options nest under
// <future-root>/<expiry-yyyymmdd>, using the first contract's own expiry
// as a stand-in for the underlying future contract's expiry since chain
// discovery does not separately track a future contract's own expiry
// apart from its listed options' expiries.
func underlyingKey(canonical symbol.Symbol, contracts []symbol.Symbol) string {
	if canonical.Type == symbol.FutureOption && len(contracts) > 0 {
		return strings.ToLower(canonical.Ticker) + "/" + contracts[0].Expiry.Format("20060102")
	}
	return strings.ToLower(canonical.Ticker)
}

// headerFor returns the richest CSV header for a canonical's security
// type, so every row (underlying, contract, option) can be padded to one
// consistent column count per spec §8 invariant 2.
func headerFor(t symbol.SecurityType) string {
	switch {
	case t.IsOption():
		return entries.NewOptionEntry(symbol.Symbol{}, symbol.Symbol{}, greeks.New(greeks.Config{})).Header()
	case t == symbol.Future:
		return entries.NewContractEntry(symbol.Symbol{}).Header()
	default:
		return entries.NewUnderlyingEntry(symbol.Symbol{}).Header()
	}
}

// padRow right-pads row with empty fields so its column count matches
// header's, accommodating a narrower entry variant (e.g. the underlying
// line) sharing a file with a richer one (e.g. option rows).
func padRow(row, header string) string {
	want := strings.Count(header, ",") + 1
	have := strings.Count(row, ",") + 1
	if have >= want {
		return row
	}
	return row + strings.Repeat(",", want-have)
}

// historyRequests builds the {TradeBar, QuoteBar, OpenInterest} request
// trio for one symbol on date D, per spec §4.6 step 3.d. The Gateway
// resolves resolution/window per ladder rung internally; Resolution here
// is only a cache-key seed.
func historyRequests(ticker string, date time.Time, lookback int) []marketdata.HistoryRequest {
	base := marketdata.HistoryRequest{
		Symbol:     ticker,
		StartUTC:   date.AddDate(0, 0, -lookback),
		EndUTC:     date,
		Resolution: marketdata.Daily,
	}
	trade := base
	trade.DataType = marketdata.Trade
	quote := base
	quote.DataType = marketdata.Quote
	oi := base
	oi.DataType = marketdata.OpenInterestData
	return []marketdata.HistoryRequest{trade, quote, oi}
}

// lastClose returns the most recent TradeBar close for ticker across
// slices, or 0 if none present.
func lastClose(slices []marketdata.Slice, ticker string) float64 {
	var last float64
	for _, s := range slices {
		if tb, ok := s.Trades[ticker]; ok {
			last = tb.Close
		}
	}
	return last
}

// filterUnexpired drops contracts with expiry_date <= date: spec's
// invariant that expired contracts are never emitted. A contract with no
// meaningful expiry (equities, indices) passes through unchanged. This is
// a defensive second filter alongside archive.Discovery's own -- Discovery
// is the canonical place this is enforced, but processCanonical must not
// rely on every caller routing contracts through Discovery first.
func filterUnexpired(contracts []symbol.Symbol, date time.Time) []symbol.Symbol {
	out := make([]symbol.Symbol, 0, len(contracts))
	for _, c := range contracts {
		if !c.Expiry.IsZero() && !c.Expiry.After(date) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// pricingRight maps symbol's option-right enum onto pricing's, keeping
// the two packages' leaf-level types independent.
func pricingRight(r symbol.OptionRight) pricing.Right {
	if r == symbol.Put {
		return pricing.Put
	}
	return pricing.Call
}
