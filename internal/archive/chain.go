package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/solstice-quant/derivuniverse/internal/marketdata"
	"github.com/solstice-quant/derivuniverse/internal/symbol"
)

// ChainProvider bypasses the filesystem scan entirely for security
// classes whose chain is better known some other way (spec §4.1's CFE
// VIX futures example: a futures-expiry dictionary rather than a zip
// directory).
type ChainProvider func(ctx context.Context, canonical symbol.Symbol, date time.Time) ([]symbol.Symbol, error)

// Discovery implements Chain Discovery (C1).
type Discovery struct {
	Store       Store
	Resolutions []marketdata.Resolution // preference order, finest first
	Provider    ChainProvider            // optional; bypasses the scan when set
	Logger      *logrus.Logger
}

// NewDiscovery builds a Discovery with the given resolution ladder
// (typically [Minute] for remote-archive flows, [Minute, Hour, Daily] for
// local-data flows, per spec §4.1).
func NewDiscovery(store Store, resolutions []marketdata.Resolution, logger *logrus.Logger) *Discovery {
	if logger == nil {
		logger = logrus.New()
	}
	return &Discovery{Store: store, Resolutions: resolutions, Logger: logger}
}

// Discover enumerates canonical underlyings and their live contracts on
// date D, returning a map canonical identifier -> ordered, de-duplicated
// contract list. A canonical's contracts found at the finest available
// resolution win; coarser-resolution scans for the same canonical are
// skipped entirely (not merged).
func (d *Discovery) Discover(ctx context.Context, secType symbol.SecurityType, market string, date time.Time) (map[string][]symbol.Symbol, map[string]symbol.Symbol, error) {
	out := make(map[string][]symbol.Symbol)
	canonicals := make(map[string]symbol.Symbol)
	resolvedAt := make(map[string]marketdata.Resolution)

	for _, res := range d.Resolutions {
		prefix := path.Join(strings.ToLower(secType.String()), strings.ToLower(market), res.String())
		paths, err := d.Store.List(ctx, prefix)
		if err != nil {
			return nil, nil, fmt.Errorf("archive: listing %s: %w", prefix, err)
		}
		for _, p := range paths {
			if !isZipForDate(p, date) {
				continue
			}
			ticker := tickerFromPath(p)
			if ticker == "" {
				d.Logger.WithField("path", p).Warn("archive: could not derive ticker from zip path, skipping")
				continue
			}
			canonical := symbol.NewCanonical(ticker, market, secType)
			key := canonical.Identifier()
			if prevRes, ok := resolvedAt[key]; ok && rank(res) > rank(prevRes) {
				continue // a finer resolution already won for this canonical
			}

			contracts, err := d.readZip(ctx, p, secType)
			if err != nil {
				d.Logger.WithError(err).WithField("path", p).Warn("archive: parse failure on zip, skipping")
				continue
			}
			contracts = filterLive(contracts, date)
			canonicals[key] = canonical
			if prevRes, ok := resolvedAt[key]; ok && prevRes == res {
				out[key] = dedupeMerge(out[key], contracts)
			} else {
				out[key] = contracts
				resolvedAt[key] = res
			}
		}
	}

	for k, contracts := range out {
		sort.Slice(contracts, func(i, j int) bool { return contracts[i].Less(contracts[j]) })
		out[k] = contracts
	}
	return out, canonicals, nil
}

// DiscoverOne resolves the contract list for a single canonical,
// preferring an external ChainProvider when configured (spec §4.1).
func (d *Discovery) DiscoverOne(ctx context.Context, canonical symbol.Symbol, secType symbol.SecurityType, market string, date time.Time) ([]symbol.Symbol, error) {
	if d.Provider != nil {
		contracts, err := d.Provider(ctx, canonical, date)
		if err != nil {
			return nil, fmt.Errorf("archive: chain provider for %s: %w", canonical.Identifier(), err)
		}
		contracts = filterLive(contracts, date)
		sort.Slice(contracts, func(i, j int) bool { return contracts[i].Less(contracts[j]) })
		return contracts, nil
	}
	all, _, err := d.Discover(ctx, secType, market, date)
	if err != nil {
		return nil, err
	}
	return all[canonical.Identifier()], nil
}

func (d *Discovery) readZip(ctx context.Context, p string, secType symbol.SecurityType) ([]symbol.Symbol, error) {
	data, err := d.Store.Open(ctx, p)
	if err != nil {
		return nil, err
	}
	ra, size := readerAt(data)
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("opening zip index: %w", err)
	}

	seen := make(map[string]symbol.Symbol)
	for _, f := range zr.File {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		name := strings.TrimSuffix(path.Base(f.Name), path.Ext(f.Name))
		sym, err := symbol.ParseEntryName(name, secType)
		if err != nil {
			d.Logger.WithError(err).WithField("entry", f.Name).Debug("archive: skipping unparseable zip entry")
			continue
		}
		seen[sym.Identifier()] = sym
	}
	contracts := make([]symbol.Symbol, 0, len(seen))
	for _, s := range seen {
		contracts = append(contracts, s)
	}
	return contracts, nil
}

// filterLive drops expired contracts: a contract whose Expiry is set and
// falls on or before the processing date is never emitted. Symbols with
// no meaningful expiry (equities, indices) pass through unchanged.
func filterLive(contracts []symbol.Symbol, date time.Time) []symbol.Symbol {
	out := make([]symbol.Symbol, 0, len(contracts))
	for _, c := range contracts {
		if !c.Expiry.IsZero() && !c.Expiry.After(date) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func dedupeMerge(a, b []symbol.Symbol) []symbol.Symbol {
	seen := make(map[string]symbol.Symbol, len(a)+len(b))
	for _, s := range a {
		seen[s.Identifier()] = s
	}
	for _, s := range b {
		seen[s.Identifier()] = s
	}
	out := make([]symbol.Symbol, 0, len(seen))
	for _, s := range seen {
		out = append(out, s)
	}
	return out
}

// isZipForDate reports whether the zip path's basename encodes date D,
// per the minute/<ticker>/<YYYYMMDD>_<tick-type>[_<style>].zip layout.
func isZipForDate(p string, date time.Time) bool {
	base := path.Base(p)
	if !strings.HasSuffix(base, ".zip") {
		return false
	}
	return strings.HasPrefix(base, date.Format("20060102")+"_")
}

func tickerFromPath(p string) string {
	parts := strings.Split(path.Dir(p), "/")
	if len(parts) == 0 {
		return ""
	}
	return strings.ToUpper(parts[len(parts)-1])
}

func rank(r marketdata.Resolution) int {
	switch r {
	case marketdata.Minute:
		return 0
	case marketdata.Hour:
		return 1
	case marketdata.Daily:
		return 2
	default:
		return 3
	}
}
