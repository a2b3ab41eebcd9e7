// Package pricing implements the option-pricing core treated as a pure
// function layer by the spec (§4.4): closed-form Black-Scholes/Black-76
// and a binomial forward-tree model, plus the IV inversion that drives
// both the Greeks Engine (C4) and the post-repair recomputation in the
// IV Interpolator (C5).
//
// These are the "per-indicator option-pricing formulas" the spec calls
// out as REQUIRED to be reimplemented rather than treated as an external
// collaborator, so they are written from the documented signatures/
// behavior in spec §4.4, not adapted from teacher code (the teacher bot
// never priced options itself — it only read Tradier's own Greeks).
package pricing

import (
	"fmt"
	"math"
)

// Right mirrors symbol.OptionRight without importing the symbol package,
// keeping pricing a leaf dependency.
type Right int

const (
	// Call option.
	Call Right = iota
	// Put option.
	Put
)

// Model enumerates the supported pricing models.
type Model int

const (
	// BlackScholes closed-form model (Black-76 for forwards).
	BlackScholes Model = iota
	// BinomialTree is a Cox-Ross-Rubinstein binomial lattice.
	BinomialTree
	// ForwardTree is a forward-starting binomial lattice, QuantConnect's
	// default for American-style equity/index options.
	ForwardTree
)

// ParseModel parses a config-file model name into a Model.
func ParseModel(s string) (Model, error) {
	switch s {
	case "BlackScholes":
		return BlackScholes, nil
	case "BinomialTree":
		return BinomialTree, nil
	case "ForwardTree":
		return ForwardTree, nil
	default:
		return 0, fmt.Errorf("pricing: unknown model %q", s)
	}
}

const (
	minTau  = 1e-6
	minVol  = 1e-7
	maxVol  = 4.0
	maxIter = 100
	tol     = 1e-4
)

func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}

// BlackTheoreticalPrice prices a European option via closed-form
// Black-Scholes-Merton with continuous dividend yield q (Black-76 reduces
// to this when q == r, pricing off the forward).
//
// black_theoretical_price(iv, S, K, T, r, q, right)
func BlackTheoreticalPrice(iv, spot, strike, tau, r, q float64, right Right) (float64, error) {
	if iv <= 0 || math.IsNaN(iv) || math.IsInf(iv, 0) {
		return 0, fmt.Errorf("pricing: invalid iv %v", iv)
	}
	if tau <= 0 {
		return intrinsicValue(spot, strike, right), nil
	}
	if spot <= 0 || strike <= 0 {
		return 0, fmt.Errorf("pricing: invalid spot/strike %v/%v", spot, strike)
	}
	sqrtT := math.Sqrt(tau)
	d1 := (math.Log(spot/strike) + (r-q+0.5*iv*iv)*tau) / (iv * sqrtT)
	d2 := d1 - iv*sqrtT
	discQ := math.Exp(-q * tau)
	discR := math.Exp(-r * tau)
	switch right {
	case Call:
		return spot*discQ*normCDF(d1) - strike*discR*normCDF(d2), nil
	default:
		return strike*discR*normCDF(-d2) - spot*discQ*normCDF(-d1), nil
	}
}

// blackVega returns the Black-Scholes vega (dPrice/dIV), used internally
// by the Newton step of the IV solver.
func blackVega(iv, spot, strike, tau, r, q float64) float64 {
	if tau <= 0 || iv <= 0 {
		return 0
	}
	sqrtT := math.Sqrt(tau)
	d1 := (math.Log(spot/strike) + (r-q+0.5*iv*iv)*tau) / (iv * sqrtT)
	return spot * math.Exp(-q*tau) * normPDF(d1) * sqrtT
}

func intrinsicValue(spot, strike float64, right Right) float64 {
	if right == Call {
		return math.Max(spot-strike, 0)
	}
	return math.Max(strike-spot, 0)
}

// ForwardTreeTheoreticalPrice prices an American-exercisable option via a
// forward-starting binomial lattice (Cox-Ross-Rubinstein parameterization
// around the forward price). A tau at or below minTau returns the intrinsic
// value without building a lattice. It fails on pathological inputs
// (invalid iv, spot or strike, degenerate up/down factors, a risk-neutral
// probability outside [0, 1]); callers should fall back to
// BlackTheoreticalPrice on error, per spec §4.4.
func ForwardTreeTheoreticalPrice(iv, spot, strike, tau, r, q float64, right Right, american bool) (float64, error) {
	const steps = 100
	if iv <= 0 || math.IsNaN(iv) {
		return 0, fmt.Errorf("pricing: invalid iv %v", iv)
	}
	if tau <= minTau {
		return intrinsicValue(spot, strike, right), nil
	}
	if spot <= 0 || strike <= 0 {
		return 0, fmt.Errorf("pricing: invalid spot/strike")
	}
	dt := tau / steps
	up := math.Exp(iv * math.Sqrt(dt))
	down := 1 / up
	if up <= down {
		return 0, fmt.Errorf("pricing: degenerate tree up/down factors")
	}
	growth := math.Exp((r - q) * dt)
	p := (growth - down) / (up - down)
	if p < 0 || p > 1 || math.IsNaN(p) {
		return 0, fmt.Errorf("pricing: risk-neutral probability out of range: %v", p)
	}
	disc := math.Exp(-r * dt)

	// Terminal payoffs.
	values := make([]float64, steps+1)
	for i := 0; i <= steps; i++ {
		st := spot * math.Pow(up, float64(steps-i)) * math.Pow(down, float64(i))
		values[i] = intrinsicValue(st, strike, right)
	}
	for step := steps - 1; step >= 0; step-- {
		for i := 0; i <= step; i++ {
			cont := disc * (p*values[i] + (1-p)*values[i+1])
			if american {
				st := spot * math.Pow(up, float64(step-i)) * math.Pow(down, float64(i))
				cont = math.Max(cont, intrinsicValue(st, strike, right))
			}
			values[i] = cont
		}
	}
	if math.IsNaN(values[0]) || math.IsInf(values[0], 0) {
		return 0, fmt.Errorf("pricing: tree produced non-finite price")
	}
	return values[0], nil
}

// TheoreticalPrice dispatches to the configured model, falling back to
// Black-Scholes when a forward/binomial tree throws — the catch-and-fall
// back behavior spec §4.4 documents for forward_tree_theoretical_price.
func TheoreticalPrice(model Model, iv, spot, strike, tau, r, q float64, right Right) float64 {
	switch model {
	case ForwardTree, BinomialTree:
		if p, err := ForwardTreeTheoreticalPrice(iv, spot, strike, tau, r, q, right, model == ForwardTree); err == nil {
			return p
		}
	}
	if p, err := BlackTheoreticalPrice(iv, spot, strike, tau, r, q, right); err == nil {
		return p
	}
	return intrinsicValue(spot, strike, right)
}

// ImpliedVolatility inverts the Black-Scholes model for iv* such that
// BlackTheoreticalPrice(iv*, ...) == observedMid, on iv* ∈ (0, 4.0].
//
// A Newton step refined with a few bisection fallbacks is used rather than
// pure Newton, since vega can vanish deep OTM/ITM; any divergence returns
// an error rather than panicking, letting callers swallow it per spec's
// resilience requirement in §4.4.
func ImpliedVolatility(observedMid, spot, strike, tau, r, q float64, right Right) (float64, error) {
	if observedMid <= 0 || math.IsNaN(observedMid) {
		return 0, fmt.Errorf("pricing: invalid observed mid %v", observedMid)
	}
	if tau <= 0 {
		return 0, fmt.Errorf("pricing: non-positive tau")
	}
	intrinsic := intrinsicValue(spot, strike, right)
	if observedMid < intrinsic-1e-9 {
		return 0, fmt.Errorf("pricing: observed mid %v below intrinsic %v", observedMid, intrinsic)
	}

	lo, hi := minVol, maxVol
	guess := 0.3
	for iter := 0; iter < maxIter; iter++ {
		price, err := BlackTheoreticalPrice(guess, spot, strike, tau, r, q, right)
		if err != nil {
			guess = (lo + hi) / 2
			continue
		}
		diff := price - observedMid
		if math.Abs(diff) < tol {
			return guess, nil
		}
		if diff > 0 {
			hi = guess
		} else {
			lo = guess
		}
		vega := blackVega(guess, spot, strike, tau, r, q)
		var next float64
		if vega > 1e-8 {
			next = guess - diff/vega
		}
		if next <= lo || next >= hi || vega <= 1e-8 || math.IsNaN(next) {
			next = (lo + hi) / 2 // bisection fallback
		}
		guess = next
	}
	return 0, fmt.Errorf("pricing: implied volatility did not converge within %d iterations", maxIter)
}

// RefineForModel nudges an IV solved against Black-Scholes towards the
// per-engine configured pricing_model's own theoretical price via one
// Newton correction, per spec §4.4's indicator config carrying
// pricing_model separately from the inversion itself. A no-op when model
// is BlackScholes, since the solve already targeted it directly.
func RefineForModel(model Model, iv, observedMid, spot, strike, tau, r, q float64, right Right) float64 {
	if model == BlackScholes {
		return iv
	}
	modelPrice := TheoreticalPrice(model, iv, spot, strike, tau, r, q, right)
	vega := blackVega(iv, spot, strike, tau, r, q)
	if vega <= 1e-8 {
		return iv
	}
	refined := iv - (modelPrice-observedMid)/vega
	if refined <= 0 || refined > maxVol || math.IsNaN(refined) {
		return iv
	}
	return refined
}

// PutCallParityAdjust returns the forward implied by put-call parity when
// both the option O and its mirror M have valid quotes. It does not change
// ImpliedVolatility's starting guess (always 0.30); the Greeks Engine
// converts this forward into a parity-implied spot for its IV solve.
func PutCallParityAdjust(callMid, putMid, strike, tau, r float64) (forward float64, ok bool) {
	if callMid <= 0 || putMid <= 0 || tau <= 0 {
		return 0, false
	}
	// C - P = exp(-r*tau) * (F - K)  =>  F = (C - P) * exp(r*tau) + K
	forward = (callMid-putMid)*math.Exp(r*tau) + strike
	if forward <= 0 || math.IsNaN(forward) {
		return 0, false
	}
	return forward, true
}
