// These fakes generalize the teacher's mock.DataProvider (a deterministic,
// seedable synthetic market-data generator for the trading bot) into test
// doubles for this pipeline's collaborators: a history.Provider and an
// archive.ChainProvider. The deterministic-RNG pattern — a *rand.Rand
// seeded once and reused so repeated test runs reproduce identical
// fixtures — is carried over unchanged from DataProvider.
package mock

import (
	"context"
	"math/rand"
	"time"

	"github.com/solstice-quant/derivuniverse/internal/marketdata"
	"github.com/solstice-quant/derivuniverse/internal/symbol"
)

// HistoryProvider is a deterministic history.Provider test double: every
// requested symbol gets one synthetic bar derived from a seeded RNG.
type HistoryProvider struct {
	rng      *rand.Rand
	basePx   map[string]float64
	fallback float64
}

// NewHistoryProvider builds a HistoryProvider seeded for reproducibility.
func NewHistoryProvider(seed int64) *HistoryProvider {
	return &HistoryProvider{
		rng:      rand.New(rand.NewSource(seed)), // #nosec G404 -- deterministic test fixture, not security-sensitive
		basePx:   make(map[string]float64),
		fallback: 100.0,
	}
}

// SetBasePrice pins a symbol's synthetic base price for subsequent calls.
func (p *HistoryProvider) SetBasePrice(sym string, price float64) {
	p.basePx[sym] = price
}

// FetchHistory implements history.Provider with a single synthetic bar
// per request, centered on the symbol's base price (or a shared fallback)
// with small deterministic jitter.
func (p *HistoryProvider) FetchHistory(_ context.Context, req marketdata.HistoryRequest) ([]marketdata.Slice, error) {
	base, ok := p.basePx[req.Symbol]
	if !ok {
		base = p.fallback
	}
	jitter := (p.rng.Float64() - 0.5) * base * 0.01
	price := base + jitter

	slice := marketdata.NewSlice(req.EndUTC)
	switch req.DataType {
	case marketdata.OpenInterestData:
		slice.OpenInterest[req.Symbol] = marketdata.OpenInterest{
			Time: req.EndUTC, Value: int64(100 + p.rng.Intn(5000)),
		}
	case marketdata.Quote:
		spread := price * 0.001
		slice.Quotes[req.Symbol] = marketdata.QuoteBar{
			Time: req.EndUTC, Open: price - spread, High: price + spread, Low: price - spread, Close: price,
		}
	default:
		slice.Trades[req.Symbol] = marketdata.TradeBar{
			Time: req.EndUTC, Open: price, High: price * 1.002, Low: price * 0.998, Close: price,
			Volume: int64(1000 + p.rng.Intn(100000)),
		}
	}
	return []marketdata.Slice{slice}, nil
}

// ChainProvider is a deterministic archive.ChainProvider test double,
// standing in for an external chain provider such as a futures-expiry
// dictionary (spec §4.1's CFE VIX example).
type ChainProvider struct {
	Chains map[string][]symbol.Symbol // canonical identifier -> contracts
}

// NewChainProvider builds an empty ChainProvider; populate via Set.
func NewChainProvider() *ChainProvider {
	return &ChainProvider{Chains: make(map[string][]symbol.Symbol)}
}

// Set registers the contract list returned for a given canonical.
func (c *ChainProvider) Set(canonical symbol.Symbol, contracts []symbol.Symbol) {
	c.Chains[canonical.Identifier()] = contracts
}

// Provide implements the archive.ChainProvider function signature.
func (c *ChainProvider) Provide(_ context.Context, canonical symbol.Symbol, _ time.Time) ([]symbol.Symbol, error) {
	return c.Chains[canonical.Identifier()], nil
}
