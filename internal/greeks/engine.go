// Package greeks implements the stateful per-contract Greeks Engine (C4):
// an IV indicator plus five Greek indicators that share a single IV
// reference, fed by streamed (underlying, option, mirror-option) bars.
//
// The teacher bot never computed Greeks itself (Tradier's API already
// returns them), so this engine is grounded directly on spec §4.4's
// documented signatures rather than adapted teacher code. Its "several
// indicators sharing one underlying reference" shape is the redesign the
// spec's §9 calls for: a single engine owning its IV and fanning out
// updates internally, replacing indicator objects with implicit
// cross-pointers.
package greeks

import (
	"log"
	"math"
	"time"

	"github.com/solstice-quant/derivuniverse/internal/pricing"
)

// RateModel resolves a risk-free rate for a given date.
type RateModel func(asOf time.Time) float64

// DividendModel resolves a continuous dividend yield for a given date.
type DividendModel func(asOf time.Time) float64

// Config bundles the shared configuration of an engine, per spec §4.4.
type Config struct {
	RiskFreeRate  RateModel
	DividendYield DividendModel
	PricingModel  pricing.Model
	Right         pricing.Right
	Strike        float64
	Expiry        time.Time
	Logger        *log.Logger
}

// FlatRate returns a RateModel that always yields the given constant rate.
func FlatRate(r float64) RateModel { return func(time.Time) float64 { return r } }

// FlatDividend returns a DividendModel that always yields the given
// constant continuous yield.
func FlatDividend(q float64) DividendModel { return func(time.Time) float64 { return q } }

// IndicatorDataPoint is a single timestamped price observation fed to the
// engine, per spec §4.4.
type IndicatorDataPoint struct {
	Symbol  string
	EndTime time.Time
	Price   float64
}

// Greeks is an immutable snapshot of the five first-order sensitivities
// plus the always-zero Lambda placeholder the spec calls for.
type Greeks struct {
	Delta  float64
	Gamma  float64
	Vega   float64
	Theta  float64
	Rho    float64
	Lambda float64
}

// Engine is the stateful per-option indicator bundle described in §4.4.
// It is not safe for concurrent use; callers run one engine per contract
// per goroutine, matching C6's one-task-per-canonical model.
type Engine struct {
	cfg Config

	underlyingPrice float64
	haveUnderlying  bool
	optionMid       float64
	haveOption      bool
	mirrorMid       float64
	haveMirror      bool
	lastTime        time.Time

	iv      float64
	haveIV  bool
	current Greeks
}

// New constructs a fresh Greeks Engine for one option contract.
func New(cfg Config) *Engine {
	if cfg.RiskFreeRate == nil {
		cfg.RiskFreeRate = FlatRate(0.04)
	}
	if cfg.DividendYield == nil {
		cfg.DividendYield = FlatDividend(0.0)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Engine{cfg: cfg}
}

// IV returns the current implied volatility estimate (0 if none yet).
func (e *Engine) IV() float64 {
	if !e.haveIV {
		return 0
	}
	return e.iv
}

// UpdateUnderlying feeds an underlying trade/quote price into the engine.
func (e *Engine) UpdateUnderlying(p IndicatorDataPoint) {
	defer e.recoverFromDivergence("UpdateUnderlying")
	if p.Price <= 0 || math.IsNaN(p.Price) {
		return
	}
	e.underlyingPrice = p.Price
	e.haveUnderlying = true
	e.lastTime = p.EndTime
	e.recompute()
}

// UpdateOption feeds the option contract's own quote mid price.
func (e *Engine) UpdateOption(p IndicatorDataPoint) {
	defer e.recoverFromDivergence("UpdateOption")
	if p.Price <= 0 || math.IsNaN(p.Price) {
		return
	}
	e.optionMid = p.Price
	e.haveOption = true
	e.lastTime = p.EndTime
	e.recompute()
}

// UpdateMirror feeds the mirror option's quote mid price, used for
// put-call parity refinement of the IV solve.
func (e *Engine) UpdateMirror(p IndicatorDataPoint) {
	defer e.recoverFromDivergence("UpdateMirror")
	if p.Price <= 0 || math.IsNaN(p.Price) {
		return
	}
	e.mirrorMid = p.Price
	e.haveMirror = true
	e.recompute()
}

// recompute re-solves IV from the latest available inputs and refreshes
// every Greek in lockstep. It runs after every accepted price update (so
// up to three times when one slice carries underlying, option and mirror
// prices), and every Greek reads the single IV value it just solved.
// Any single-bar exception (non-convergence, bad inputs) is
// swallowed — the engine simply keeps its previous IV/Greeks snapshot.
func (e *Engine) recompute() {
	if !e.haveUnderlying || !e.haveOption {
		return
	}
	tau := yearsToExpiry(e.cfg.Expiry, e.lastTime)
	if tau <= 0 {
		return
	}
	r := e.cfg.RiskFreeRate(e.lastTime)
	q := e.cfg.DividendYield(e.lastTime)

	observed := e.optionMid
	spot := e.underlyingPrice
	if e.haveMirror {
		callMid, putMid := e.optionMid, e.mirrorMid
		if e.cfg.Right == pricing.Put {
			callMid, putMid = e.mirrorMid, e.optionMid
		}
		if fwd, ok := pricing.PutCallParityAdjust(callMid, putMid, e.cfg.Strike, tau, r); ok {
			// Replace the raw underlying print with the parity-implied
			// spot for this solve only: O and M are quoted together,
			// so their forward is less stale than an async trade print.
			spot = fwd * math.Exp(-(r-q)*tau)
		}
	}

	iv, err := pricing.ImpliedVolatility(observed, spot, e.cfg.Strike, tau, r, q, e.cfg.Right)
	if err != nil {
		e.cfg.Logger.Printf("greeks: iv solve diverged for strike=%.2f expiry=%s: %v",
			e.cfg.Strike, e.cfg.Expiry.Format("2006-01-02"), err)
		return
	}
	iv = pricing.RefineForModel(e.cfg.PricingModel, iv, observed, e.underlyingPrice, e.cfg.Strike, tau, r, q, e.cfg.Right)
	e.iv = iv
	e.haveIV = true
	e.current = computeGreeks(iv, e.underlyingPrice, e.cfg.Strike, tau, r, q, e.cfg.Right)
}

// recoverFromDivergence converts any panic raised deep in the pricing
// math (e.g. a stray division by zero) into a logged no-op, per spec
// §4.4's resilience requirement.
func (e *Engine) recoverFromDivergence(where string) {
	if r := recover(); r != nil {
		e.cfg.Logger.Printf("greeks: recovered panic in %s: %v", where, r)
	}
}

// Snapshot returns the current Greeks snapshot, per spec's get_greeks().
func (e *Engine) Snapshot() Greeks {
	return e.current
}

// computeGreeks derives the five first-order sensitivities analytically
// from Black-Scholes (closed-form Greeks are cheap and stable regardless
// of which model priced the contract; only the IV solve itself uses the
// configured pricing model).
func computeGreeks(iv, spot, strike, tau, r, q float64, right pricing.Right) Greeks {
	if iv <= 0 || tau <= 0 || spot <= 0 || strike <= 0 {
		return Greeks{}
	}
	sqrtT := math.Sqrt(tau)
	d1 := (math.Log(spot/strike) + (r-q+0.5*iv*iv)*tau) / (iv * sqrtT)
	d2 := d1 - iv*sqrtT
	pdf := math.Exp(-0.5*d1*d1) / math.Sqrt(2*math.Pi)
	discQ := math.Exp(-q * tau)
	discR := math.Exp(-r * tau)

	gamma := discQ * pdf / (spot * iv * sqrtT)
	vega := spot * discQ * pdf * sqrtT / 100 // per 1 vol point (1%)

	var delta, theta, rho float64
	if right == pricing.Call {
		delta = discQ * cdf(d1)
		rho = strike * tau * discR * cdf(d2) / 100
		theta = (-spot*discQ*pdf*iv/(2*sqrtT) - r*strike*discR*cdf(d2) + q*spot*discQ*cdf(d1)) / 365
	} else {
		delta = discQ * (cdf(d1) - 1)
		rho = -strike * tau * discR * cdf(-d2) / 100
		theta = (-spot*discQ*pdf*iv/(2*sqrtT) + r*strike*discR*cdf(-d2) - q*spot*discQ*cdf(-d1)) / 365
	}

	return Greeks{Delta: delta, Gamma: gamma, Vega: vega, Theta: theta, Rho: rho, Lambda: 0}
}

func cdf(x float64) float64 { return 0.5 * math.Erfc(-x/math.Sqrt2) }

func yearsToExpiry(expiry, reference time.Time) float64 {
	return expiry.Sub(reference).Hours() / 24.0 / 365.0
}
