// Package history implements the History Gateway (C2): resolution-ladder
// retrieval of OHLCV/quote/open-interest data for a batch of contracts,
// with circuit-breaking and caching in front of the underlying data
// provider.
//
// The retry/backoff shape is adapted from the teacher's
// internal/retry/client.go (fixed backoff loop around a fallible call),
// narrowed to spec §4.2's exact policy: 5 attempts, 1-second fixed sleep,
// no exponential growth. The in-memory TTL cache is adapted from
// strategy.go's optionChainCacheEntry/chainCache/cacheMutex pattern. The
// circuit breaker (sony/gobreaker) and secondary HTTP index-price
// provider are new, grounded respectively on the teacher's general
// "protect a flaky upstream" posture and its makeRequestCtx HTTP-client
// mechanics in internal/broker/tradier.go.
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/solstice-quant/derivuniverse/internal/marketdata"
)

// Provider fetches raw history for a single request at the resolution it
// names; it does not itself implement the ladder fallback or caching.
type Provider interface {
	FetchHistory(ctx context.Context, req marketdata.HistoryRequest) ([]marketdata.Slice, error)
}

// Calendar resolves the number of exchange-calendar bars needed to look
// back N logical bars from an end timestamp, and the bar-start time that
// implies — used to recompute [start, end] per ladder rung (spec §4.2).
type Calendar interface {
	LookbackStart(end time.Time, res marketdata.Resolution, bars int) time.Time
}

// ErrNoData marks a request for which every resolution in the ladder, and
// any secondary provider, produced an empty result. It is used inside the
// Gateway only: GetHistory turns it into an empty result for that request
// and does not return it to callers.
var ErrNoData = errors.New("history: no data across resolution ladder")

// Gateway implements the History Gateway (C2) public contract:
// get_history(requests, slice_zone) -> []Slice.
type Gateway struct {
	Primary   Provider
	Secondary Provider // optional online index-price fallback
	Calendar  Calendar
	Ladder    []marketdata.Resolution // e.g. [Daily] or [Daily, Hour, Minute]
	LookbackN int                     // bars to look back from end, per rung

	breaker *gobreaker.CircuitBreaker

	cacheTTL   time.Duration
	maxRetries int
	retryWait  time.Duration
	cache      map[string]cacheEntry
	cacheMu    sync.RWMutex

	Disk *DiskCache // optional second-tier, on-disk cache
}

type cacheEntry struct {
	slices    []marketdata.Slice
	timestamp time.Time
}

// Config parameterizes retry/breaker/cache behavior; zero-value Config
// falls back to DefaultConfig.
type Config struct {
	MaxRetries int
	RetryWait  time.Duration
	CacheTTL   time.Duration
}

// DefaultConfig matches spec §9's hard-coded retry policy: 5 attempts at
// a fixed 1-second sleep, and a 1-minute cache TTL (strategy.go's
// optionChainCacheTTL).
var DefaultConfig = Config{
	MaxRetries: 5,
	RetryWait:  1 * time.Second,
	CacheTTL:   1 * time.Minute,
}

// New builds a Gateway with one gobreaker.CircuitBreaker guarding calls to
// both Primary and Secondary, across every ladder rung, against repeated
// transient failures.
func New(primary, secondary Provider, cal Calendar, ladder []marketdata.Resolution, lookbackN int, cfg Config) *Gateway {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig.MaxRetries
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = DefaultConfig.RetryWait
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultConfig.CacheTTL
	}

	settings := gobreaker.Settings{
		Name:        "history-gateway",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}

	return &Gateway{
		Primary:   primary,
		Secondary: secondary,
		Calendar:  cal,
		Ladder:    ladder,
		LookbackN: lookbackN,
		breaker:    gobreaker.NewCircuitBreaker(settings),
		cacheTTL:   cfg.CacheTTL,
		maxRetries: cfg.MaxRetries,
		retryWait:  cfg.RetryWait,
		cache:      make(map[string]cacheEntry),
	}
}

// GetHistory implements the C2 public contract. It tries each resolution
// in the ladder in turn, recomputing [start, end] per rung, and returns
// the first non-empty per-request result; requests that remain empty
// across the whole ladder fall through to Secondary if configured.
// Partial per-request failures never propagate as errors: they surface
// as an empty slice list for that request, matching spec §4.2's
// guarantee.
func (g *Gateway) GetHistory(ctx context.Context, requests []marketdata.HistoryRequest, sliceZone *time.Location) ([]marketdata.Slice, error) {
	if len(requests) == 0 {
		return nil, nil
	}
	perRequest := make([][]marketdata.Slice, len(requests))

	for i, req := range requests {
		slices, err := g.resolveOne(ctx, req, sliceZone)
		if err != nil && !errors.Is(err, ErrNoData) {
			// Transient errors after retry/breaker exhaustion are dropped
			// here: the request contributes an empty list and no error is
			// returned, rather than aborting the whole batch (spec §4.2:
			// "not thrown to callers").
			perRequest[i] = nil
			continue
		}
		perRequest[i] = slices
	}

	merged := perRequest[0]
	for i := 1; i < len(perRequest); i++ {
		merged = marketdata.MergeByTimestamp(merged, perRequest[i])
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Time.Before(merged[j].Time) })
	return merged, nil
}

func (g *Gateway) resolveOne(ctx context.Context, req marketdata.HistoryRequest, sliceZone *time.Location) ([]marketdata.Slice, error) {
	key := cacheKey(req)
	if cached, ok := g.lookupCache(key); ok {
		return cached, nil
	}

	for _, res := range g.Ladder {
		rung := req
		rung.Resolution = res
		rung.DataZone = sliceZone
		g.recomputeWindow(&rung)

		slices, err := g.fetchWithRetryAndBreaker(ctx, g.Primary, rung)
		if err != nil {
			continue // transient failure at this rung: fall through to the next
		}
		if len(slices) > 0 {
			g.storeCache(key, slices)
			return slices, nil
		}
	}

	if g.Secondary != nil {
		slices, err := g.fetchWithRetryAndBreaker(ctx, g.Secondary, req)
		if err == nil && len(slices) > 0 {
			g.storeCache(key, slices)
			return slices, nil
		}
	}
	return nil, ErrNoData
}

// recomputeWindow recomputes [start, end] in the exchange zone for this
// rung's resolution, per spec §4.2: end = D for intraday/OI, D+1 for
// daily trade bars; start = N bars back from end.
func (g *Gateway) recomputeWindow(req *marketdata.HistoryRequest) {
	end := req.EndUTC
	if req.Resolution == marketdata.Daily && req.DataType == marketdata.Trade {
		end = end.AddDate(0, 0, 1)
	}
	req.EndUTC = end
	if g.Calendar != nil {
		req.StartUTC = g.Calendar.LookbackStart(end, req.Resolution, g.LookbackN)
	}
}

// fetchWithRetryAndBreaker wraps a single provider call in the gobreaker
// circuit breaker and a fixed 5x/1s retry loop, per spec §9's transient
// IO policy for C2.
func (g *Gateway) fetchWithRetryAndBreaker(ctx context.Context, p Provider, req marketdata.HistoryRequest) ([]marketdata.Slice, error) {
	var lastErr error
	for attempt := 0; attempt < g.maxRetries; attempt++ {
		result, err := g.breaker.Execute(func() (interface{}, error) {
			return p.FetchHistory(ctx, req)
		})
		if err == nil {
			slices, _ := result.([]marketdata.Slice)
			return slices, nil
		}
		lastErr = err
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("history: circuit open for %s: %w", req.Symbol, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(g.retryWait):
		}
	}
	return nil, fmt.Errorf("history: exhausted retries for %s: %w", req.Symbol, lastErr)
}

func (g *Gateway) lookupCache(key string) ([]marketdata.Slice, bool) {
	g.cacheMu.RLock()
	entry, ok := g.cache[key]
	g.cacheMu.RUnlock()
	if ok && time.Since(entry.timestamp) < g.cacheTTL {
		return entry.slices, true
	}
	if g.Disk != nil {
		if slices, ok := g.Disk.Get(key); ok {
			g.cacheMu.Lock()
			g.cache[key] = cacheEntry{slices: slices, timestamp: time.Now()}
			g.cacheMu.Unlock()
			return slices, true
		}
	}
	return nil, false
}

func (g *Gateway) storeCache(key string, slices []marketdata.Slice) {
	g.cacheMu.Lock()
	g.cache[key] = cacheEntry{slices: slices, timestamp: time.Now()}
	g.cacheMu.Unlock()
	if g.Disk != nil {
		_ = g.Disk.Put(key, slices)
	}
}

func cacheKey(req marketdata.HistoryRequest) string {
	return fmt.Sprintf("%s|%d|%d|%s", req.Symbol, req.DataType, req.Resolution, req.EndUTC.Format("20060102"))
}
