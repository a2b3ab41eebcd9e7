// Package entries implements the Entry Model (C3): the typed rows that
// accumulate a day's OHLCV/OI/IV/Greeks for one symbol via repeated
// update(slice) calls and are rendered to exactly one CSV line, per
// spec §3/§4.3.
//
// The update-from-slice accumulation pattern and CSV emission style are
// grounded on the teacher's models.Position (a struct mutated in place
// over its lifetime and serialized on demand) and broker.QuoteItem's flat
// decimal field layout; the three-variant shape (underlying / contract /
// option) replaces the teacher's single Position type with the
// composition the spec's §9 redesign flag calls for in place of class
// inheritance.
package entries

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/solstice-quant/derivuniverse/internal/greeks"
	"github.com/solstice-quant/derivuniverse/internal/marketdata"
	"github.com/solstice-quant/derivuniverse/internal/symbol"
)

// Entry is the shared interface across underlying/contract/option rows.
type Entry interface {
	// Update integrates one slice's data into the entry.
	Update(s marketdata.Slice)
	// ToCSV renders the entry as one CSV data line (no trailing newline).
	ToCSV() string
	// Header returns the CSV header line for this entry's variant (no
	// leading "#" — callers prepend the comment marker once per file).
	Header() string
	// Symbol returns the entry's identifying symbol.
	Symbol() symbol.Symbol
}

// formatDecimal renders a float with invariant (dot decimal, no
// thousands separator) formatting; zero-value fields that represent
// "not yet observed" render as empty per spec §6 ("Empty decimal → empty
// field").
func formatDecimal(v float64, present bool) string {
	if !present {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// baseFields holds the OHLCV common to every variant.
type baseFields struct {
	open, high, low, close float64
	volume                 int64
	haveTrade              bool
	haveQuote              bool
}

// updateFromSlice applies the Underlying/non-contract update rule:
// prefer TradeBar OHLCV, fall back to QuoteBar OHLC with volume=0.
func (b *baseFields) updateFromSlice(s marketdata.Slice, ticker string) {
	if tb, ok := s.Trades[ticker]; ok {
		b.open, b.high, b.low, b.close = tb.Open, tb.High, tb.Low, tb.Close
		b.volume = tb.Volume
		b.haveTrade = true
		return
	}
	if qb, ok := s.Quotes[ticker]; ok && !b.haveTrade {
		b.open, b.high, b.low, b.close = qb.Open, qb.High, qb.Low, qb.Close
		b.volume = 0
		b.haveQuote = true
	}
}

// updateContractFromSlice applies the contract update rule: volume from
// the TradeBar, OHLC from the QuoteBar.
func (b *baseFields) updateContractFromSlice(s marketdata.Slice, ticker string) {
	if tb, ok := s.Trades[ticker]; ok {
		b.volume = tb.Volume
		b.haveTrade = true
	}
	if qb, ok := s.Quotes[ticker]; ok {
		b.open, b.high, b.low, b.close = qb.Open, qb.High, qb.Low, qb.Close
		b.haveQuote = true
	}
}

func (b *baseFields) present() bool { return b.haveTrade || b.haveQuote }

func (b *baseFields) csvFields() []string {
	ok := b.present()
	return []string{
		formatDecimal(b.open, ok),
		formatDecimal(b.high, ok),
		formatDecimal(b.low, ok),
		formatDecimal(b.close, ok),
		formatDecimal(float64(b.volume), ok),
	}
}

const baseHeader = "symbol_id,symbol_value,open,high,low,close,volume"

// UnderlyingEntry is the single per-file row for the chain's underlying,
// when the security class has one (§3).
type UnderlyingEntry struct {
	sym  symbol.Symbol
	base baseFields
}

// NewUnderlyingEntry creates a fresh underlying row for sym.
func NewUnderlyingEntry(sym symbol.Symbol) *UnderlyingEntry { return &UnderlyingEntry{sym: sym} }

// Symbol implements Entry.
func (e *UnderlyingEntry) Symbol() symbol.Symbol { return e.sym }

// Update implements Entry.
func (e *UnderlyingEntry) Update(s marketdata.Slice) { e.base.updateFromSlice(s, e.sym.Ticker) }

// Header implements Entry.
func (e *UnderlyingEntry) Header() string { return baseHeader }

// ToCSV implements Entry.
func (e *UnderlyingEntry) ToCSV() string {
	fields := append([]string{sidOf(e.sym), e.sym.Ticker}, e.base.csvFields()...)
	return strings.Join(fields, ",")
}

// ContractEntry is a non-option derivative contract row (e.g. a future):
// base OHLCV plus open interest.
type ContractEntry struct {
	sym          symbol.Symbol
	base         baseFields
	openInterest int64
	haveOI       bool
}

// NewContractEntry creates a fresh contract row for sym.
func NewContractEntry(sym symbol.Symbol) *ContractEntry { return &ContractEntry{sym: sym} }

// Symbol implements Entry.
func (e *ContractEntry) Symbol() symbol.Symbol { return e.sym }

// Update implements Entry. If the slice has OpenInterest for self, adopt
// it; from TradeBar take volume, from QuoteBar take OHLC (§4.3 table).
func (e *ContractEntry) Update(s marketdata.Slice) {
	e.base.updateContractFromSlice(s, e.sym.Ticker)
	if oi, ok := s.OpenInterest[e.sym.Ticker]; ok {
		e.openInterest = oi.Value
		e.haveOI = true
	}
}

// Header implements Entry.
func (e *ContractEntry) Header() string { return baseHeader + ",open_interest" }

// ToCSV implements Entry.
func (e *ContractEntry) ToCSV() string {
	fields := append([]string{sidOf(e.sym), e.sym.Ticker}, e.base.csvFields()...)
	fields = append(fields, formatDecimal(float64(e.openInterest), e.haveOI))
	return strings.Join(fields, ",")
}

// OptionEntry is an option contract row: ContractEntry fields plus IV and
// the five Greeks, fed by a Greeks Engine.
type OptionEntry struct {
	sym          symbol.Symbol
	mirror       symbol.Symbol
	base         baseFields
	openInterest int64
	haveOI       bool
	engine       *greeks.Engine
	repairedIV   float64
	repaired     bool
	repairedGk   greeks.Greeks
}

// NewOptionEntry creates a fresh option row for sym, wired to a Greeks
// Engine for IV/Greeks accumulation and to mirror for parity updates.
func NewOptionEntry(sym, mirror symbol.Symbol, engine *greeks.Engine) *OptionEntry {
	return &OptionEntry{sym: sym, mirror: mirror, engine: engine}
}

// Symbol implements Entry.
func (e *OptionEntry) Symbol() symbol.Symbol { return e.sym }

// Update implements Entry. All ContractEntry behavior, plus forward every
// underlying TradeBar and every QuoteBar in the slice into the Greeks
// Engine; quotes from self and mirror are what matter, others are
// harmless no-ops (§4.3).
func (e *OptionEntry) Update(s marketdata.Slice) {
	e.base.updateContractFromSlice(s, e.sym.Ticker)
	if oi, ok := s.OpenInterest[e.sym.Ticker]; ok {
		e.openInterest = oi.Value
		e.haveOI = true
	}

	underlyingTicker := ""
	if e.sym.Underlying != nil {
		underlyingTicker = e.sym.Underlying.Ticker
	}
	if tb, ok := s.Trades[underlyingTicker]; ok && underlyingTicker != "" {
		e.engine.UpdateUnderlying(greeks.IndicatorDataPoint{Symbol: underlyingTicker, EndTime: tb.Time, Price: tb.Close})
	}
	for ticker, qb := range s.Quotes {
		mid := (qb.Open + qb.Close) / 2 // OHLC quote bar collapsed to a representative mid
		switch ticker {
		case e.sym.Ticker:
			e.engine.UpdateOption(greeks.IndicatorDataPoint{Symbol: ticker, EndTime: qb.Time, Price: mid})
		case e.mirror.Ticker:
			e.engine.UpdateMirror(greeks.IndicatorDataPoint{Symbol: ticker, EndTime: qb.Time, Price: mid})
		}
	}
}

// IV returns the entry's current implied volatility (repaired value if
// MarkRepaired was called, otherwise the engine's own solve).
func (e *OptionEntry) IV() float64 {
	if e.repaired {
		return e.repairedIV
	}
	return e.engine.IV()
}

// MissingIV reports whether this entry needs IV repair (C5): IV is
// zero/unset, per spec §4.5.
func (e *OptionEntry) MissingIV() bool {
	return !e.repaired && e.engine.IV() <= 0
}

// MarkRepaired overwrites the entry's IV/Greeks with the IV Interpolator's
// (C5) output, per spec §4.5's "recompute Greeks after repair".
func (e *OptionEntry) MarkRepaired(iv float64, gk greeks.Greeks) {
	e.repaired = true
	e.repairedIV = iv
	e.repairedGk = gk
}

func (e *OptionEntry) snapshotGreeks() greeks.Greeks {
	if e.repaired {
		return e.repairedGk
	}
	return e.engine.Snapshot()
}

// Header implements Entry.
func (e *OptionEntry) Header() string {
	return baseHeader + ",open_interest,implied_volatility,delta,gamma,vega,theta,rho"
}

// ToCSV implements Entry.
func (e *OptionEntry) ToCSV() string {
	fields := append([]string{sidOf(e.sym), e.sym.Ticker}, e.base.csvFields()...)
	fields = append(fields, formatDecimal(float64(e.openInterest), e.haveOI))

	iv := e.IV()
	haveIV := iv > 0
	gk := e.snapshotGreeks()
	fields = append(fields,
		formatDecimal(iv, haveIV),
		formatDecimal(gk.Delta, haveIV),
		formatDecimal(gk.Gamma, haveIV),
		formatDecimal(gk.Vega, haveIV),
		formatDecimal(gk.Theta, haveIV),
		formatDecimal(gk.Rho, haveIV),
	)
	return strings.Join(fields, ",")
}

// sidOf renders a stable symbol-id field. Real chain-root archives encode
// a provider-specific SID; in its absence we derive a deterministic one
// from the identifying fields so output is reproducible run-to-run
// (spec §8 invariant 9, idempotence).
func sidOf(s symbol.Symbol) string {
	if s.Type.IsOption() {
		return fmt.Sprintf("%s|%s|%s|%.4f|%s", s.Ticker, s.Type, s.Right, s.Strike, s.Expiry.Format("20060102"))
	}
	return fmt.Sprintf("%s|%s", s.Ticker, s.Type)
}
