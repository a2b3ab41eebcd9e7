package entries

import (
	"strings"
	"testing"
	"time"

	"github.com/solstice-quant/derivuniverse/internal/greeks"
	"github.com/solstice-quant/derivuniverse/internal/marketdata"
	"github.com/solstice-quant/derivuniverse/internal/pricing"
	"github.com/solstice-quant/derivuniverse/internal/symbol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnderlyingEntry_PrefersTradeOverQuote(t *testing.T) {
	sym := symbol.NewCanonical("SPY", "usa", symbol.Equity)
	e := NewUnderlyingEntry(sym)

	s := marketdata.NewSlice(time.Now())
	s.Trades["SPY"] = marketdata.TradeBar{Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100}
	s.Quotes["SPY"] = marketdata.QuoteBar{Open: 9, High: 9, Low: 9, Close: 9}
	e.Update(s)

	line := e.ToCSV()
	fields := strings.Split(line, ",")
	require.Len(t, fields, 7)
	assert.Equal(t, "1", fields[2])
	assert.Equal(t, "100", fields[6])
}

func TestUnderlyingEntry_HeaderColumnCountMatchesRow(t *testing.T) {
	sym := symbol.NewCanonical("SPY", "usa", symbol.Equity)
	e := NewUnderlyingEntry(sym)
	e.Update(marketdata.NewSlice(time.Now()))
	assert.Equal(t, len(strings.Split(e.Header(), ",")), len(strings.Split(e.ToCSV(), ",")))
}

func TestContractEntry_AdoptsOpenInterest(t *testing.T) {
	underlying := symbol.NewCanonical("/ES", "usa", symbol.Future)
	sym := symbol.NewFuture("ESZ24", "usa", time.Now().AddDate(0, 3, 0))
	sym.Underlying = &underlying
	e := NewContractEntry(sym)

	s := marketdata.NewSlice(time.Now())
	s.Trades[sym.Ticker] = marketdata.TradeBar{Close: 5000, Volume: 10}
	s.OpenInterest[sym.Ticker] = marketdata.OpenInterest{Value: 4242}
	e.Update(s)

	fields := strings.Split(e.ToCSV(), ",")
	require.Len(t, fields, 8)
	assert.Equal(t, "4242", fields[7])
}

func TestOptionEntry_CSVShapeAndMissingIVUntilQuoted(t *testing.T) {
	underlying := symbol.NewCanonical("SPY", "usa", symbol.EquityOption)
	expiry := time.Now().AddDate(0, 1, 0)
	call := symbol.NewOption(underlying, "SPY240101C00450000", "usa", symbol.EquityOption, symbol.American, symbol.Call, 450, expiry)
	put, err := symbol.Mirror(call)
	require.NoError(t, err)

	eng := greeks.New(greeks.Config{Right: pricing.Call, Strike: 450, Expiry: expiry})
	entry := NewOptionEntry(call, put, eng)

	assert.True(t, entry.MissingIV())

	s := marketdata.NewSlice(time.Now())
	s.Trades["SPY"] = marketdata.TradeBar{Close: 455}
	s.Quotes[call.Ticker] = marketdata.QuoteBar{Open: 9.9, Close: 10.1}
	entry.Update(s)

	header := strings.Split(entry.Header(), ",")
	row := strings.Split(entry.ToCSV(), ",")
	assert.Equal(t, len(header), len(row))
	assert.False(t, entry.MissingIV())
}

func TestOptionEntry_MarkRepairedOverridesIV(t *testing.T) {
	underlying := symbol.NewCanonical("SPY", "usa", symbol.EquityOption)
	expiry := time.Now().AddDate(0, 1, 0)
	call := symbol.NewOption(underlying, "SPY240101C00999000", "usa", symbol.EquityOption, symbol.American, symbol.Call, 999, expiry)
	put, err := symbol.Mirror(call)
	require.NoError(t, err)
	eng := greeks.New(greeks.Config{Right: pricing.Call, Strike: 999, Expiry: expiry})
	entry := NewOptionEntry(call, put, eng)
	require.True(t, entry.MissingIV())

	entry.MarkRepaired(0.42, greeks.Greeks{Delta: 0.3, Vega: 0.1, Theta: -0.02, Rho: 0.05})
	assert.False(t, entry.MissingIV())
	assert.InDelta(t, 0.42, entry.IV(), 1e-9)
	assert.Contains(t, entry.ToCSV(), "0.42")
}
