// Package marketdata defines the time-series bar and slice shapes the
// History Gateway (C2) returns and the Entry Model / Greeks Engine (C3/C4)
// consume. The bar shapes mirror the teacher's broker.QuoteItem /
// broker.HistoricalDataPoint field sets, generalized from a single-symbol
// HTTP response into a multi-symbol streamed Slice.
package marketdata

import (
	"fmt"
	"strings"
	"time"
)

// DataType enumerates the kinds of data a HistoryRequest can ask for.
type DataType int

const (
	// Trade requests OHLCV trade bars.
	Trade DataType = iota
	// Quote requests bid/ask quote bars.
	Quote
	// OpenInterestData requests daily open interest.
	OpenInterestData
)

// Resolution enumerates bar granularities, coarsest-last in the default
// fallback ladder ([Minute] for archive-backed flows, [Hour, Daily] when
// falling back for local-data flows, per spec §4.1).
type Resolution int

const (
	// Minute bars.
	Minute Resolution = iota
	// Hour bars.
	Hour
	// Daily bars.
	Daily
)

func (r Resolution) String() string {
	switch r {
	case Minute:
		return "minute"
	case Hour:
		return "hour"
	case Daily:
		return "daily"
	default:
		return "unknown"
	}
}

// ParseResolution parses a config-file resolution name (case-insensitive)
// into a Resolution, for turning history.ladder / symbol_source_resolutions
// config entries into the ladder Chain Discovery and the History Gateway
// both consume.
func ParseResolution(s string) (Resolution, error) {
	switch strings.ToLower(s) {
	case "minute":
		return Minute, nil
	case "hour":
		return Hour, nil
	case "daily":
		return Daily, nil
	default:
		return 0, fmt.Errorf("marketdata: unknown resolution %q", s)
	}
}

// TradeBar is an OHLCV bar from executed trades.
type TradeBar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// QuoteBar is an OHLC bar built from bid/ask midpoints (no volume).
type QuoteBar struct {
	Time  time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// OpenInterest is a single end-of-day open interest reading.
type OpenInterest struct {
	Time  time.Time
	Value int64
}

// Slice is a timestamped, multi-symbol bundle of bars keyed by symbol
// ticker. A symbol with no data at this timestamp is simply absent from
// the relevant map, per spec §4.2's guarantee.
type Slice struct {
	Time         time.Time
	Trades       map[string]TradeBar
	Quotes       map[string]QuoteBar
	OpenInterest map[string]OpenInterest
}

// NewSlice returns an empty, initialized Slice at the given timestamp.
func NewSlice(t time.Time) Slice {
	return Slice{
		Time:         t,
		Trades:       make(map[string]TradeBar),
		Quotes:       make(map[string]QuoteBar),
		OpenInterest: make(map[string]OpenInterest),
	}
}

// HasAny reports whether the slice carries any data at all for the given
// symbol, across trade/quote/open-interest.
func (s Slice) HasAny(ticker string) bool {
	if _, ok := s.Trades[ticker]; ok {
		return true
	}
	if _, ok := s.Quotes[ticker]; ok {
		return true
	}
	if _, ok := s.OpenInterest[ticker]; ok {
		return true
	}
	return false
}

// HistoryRequest names a single history fetch, per spec §4.2.
type HistoryRequest struct {
	Symbol           string
	StartUTC         time.Time
	EndUTC           time.Time
	DataType         DataType
	Resolution       Resolution
	ExchangeHours    string // exchange hours identifier, e.g. "XNYS"
	DataZone         *time.Location
	ExtendedHours    bool
	NormalizationRaw bool // true = raw prices, false = adjusted
}

// MergeByTimestamp merges two time-ordered Slice streams into one ordered
// stream keyed by the union of timestamps, per spec §9 note 5: the merge
// emits at every timestamp present in either stream, and a stream with no
// bar at a given timestamp contributes nothing for that tick (not a stale
// carry-forward value).
func MergeByTimestamp(a, b []Slice) []Slice {
	out := make([]Slice, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j >= len(b) || (i < len(a) && a[i].Time.Before(b[j].Time)):
			out = append(out, a[i])
			i++
		case i >= len(a) || b[j].Time.Before(a[i].Time):
			out = append(out, b[j])
			j++
		default:
			out = append(out, mergeSlices(a[i], b[j]))
			i++
			j++
		}
	}
	return out
}

func mergeSlices(a, b Slice) Slice {
	m := NewSlice(a.Time)
	for k, v := range a.Trades {
		m.Trades[k] = v
	}
	for k, v := range b.Trades {
		m.Trades[k] = v
	}
	for k, v := range a.Quotes {
		m.Quotes[k] = v
	}
	for k, v := range b.Quotes {
		m.Quotes[k] = v
	}
	for k, v := range a.OpenInterest {
		m.OpenInterest[k] = v
	}
	for k, v := range b.OpenInterest {
		m.OpenInterest[k] = v
	}
	return m
}
