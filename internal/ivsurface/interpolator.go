package ivsurface

import (
	"fmt"
	"log"
	"time"

	"github.com/solstice-quant/derivuniverse/internal/greeks"
	"github.com/solstice-quant/derivuniverse/internal/pricing"
)

const (
	minIV      = 1e-7
	maxIV      = 4.0
	brentTol   = 1e-4
	brentIters = 100
)

// Interpolator wraps a fitted Surface with the query-time root-find and
// the post-repair Greeks recomputation, per spec §4.5.
type Interpolator struct {
	surface *Surface
	logger  *log.Logger
}

// NewInterpolator fits a Surface over obs and wraps it for querying. A
// nil return with error means the interpolator is unavailable for this
// canonical's chain (too few valid-IV contracts, or none missing) and
// callers should skip the repair pass, per spec §7's error table.
func NewInterpolator(obs []Observation, spot float64, logger *log.Logger) (*Interpolator, error) {
	if logger == nil {
		logger = log.Default()
	}
	surface, err := Fit(obs, spot)
	if err != nil {
		return nil, err
	}
	return &Interpolator{surface: surface, logger: logger}, nil
}

// Interpolate solves for a volatility v* satisfying the fixed point
// f(v) = v - surface.Predict(m(K,e,v), tau(e)) == 0 on [1e-7, 4.0], via
// Brent's method. Existence is not guaranteed for every input; a
// root-finder failure is logged and returns an error, leaving the
// contract's IV missing, per spec §4.5/§7.
func (ip *Interpolator) Interpolate(strike, tau float64) (float64, error) {
	spot := ip.surface.Spot()
	f := func(v float64) float64 {
		m := Moneyness(strike, tau, v, spot)
		return v - ip.surface.Predict(m, tau)
	}
	v, err := BrentRoot(f, minIV, maxIV, brentTol, brentIters)
	if err != nil {
		ip.logger.Printf("ivsurface: root-find failed for strike=%.2f tau=%.4f: %v", strike, tau, err)
		return 0, fmt.Errorf("ivsurface: interpolate: %w", err)
	}
	if v < minIV || v > maxIV {
		return 0, fmt.Errorf("ivsurface: interpolate: solved iv %v outside bounds [%v,%v]", v, minIV, maxIV)
	}
	return v, nil
}

// RecomputeGreeks derives a theoretical option price at the repaired
// volatility (forward-tree model with Black fallback, per spec §4.5),
// feeds a two-bar synthetic update (underlying close = spot, option close
// = theoretical price) into a fresh Greeks Engine, and returns the
// resulting Greeks snapshot (the repaired IV itself is not returned).
func RecomputeGreeks(v, spot, strike, tau, r, q float64, right pricing.Right, expiry time.Time, asOf time.Time) greeks.Greeks {
	theoretical := pricing.TheoreticalPrice(pricing.ForwardTree, v, spot, strike, tau, r, q, right)

	eng := greeks.New(greeks.Config{
		Right:         right,
		Strike:        strike,
		Expiry:        expiry,
		RiskFreeRate:  greeks.FlatRate(r),
		DividendYield: greeks.FlatDividend(q),
	})
	eng.UpdateUnderlying(greeks.IndicatorDataPoint{EndTime: asOf, Price: spot})
	eng.UpdateOption(greeks.IndicatorDataPoint{EndTime: asOf, Price: theoretical})
	return eng.Snapshot()
}
