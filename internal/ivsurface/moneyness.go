// Package ivsurface implements the IV Interpolator (C5): fitting a
// quadratic volatility-surface regression over contracts with valid IV,
// then root-finding a fixed point in volatility to repair contracts whose
// IV is missing, per spec §4.5 — the hardest subsystem in the system.
package ivsurface

import "math"

// Moneyness computes the volatility-scaled log-moneyness regressor
// m(K, e, iv) = ln(K/S) / (iv * sqrt(tau(e))), per spec §4.5. Every edge
// case in the spec's table (§4.5, §8.6) falls out of plain IEEE-754
// arithmetic: log of zero/negative, division by zero, and sqrt of a
// negative tau all propagate ±Inf/NaN exactly as documented without any
// special-casing here.
func Moneyness(strike, tau, vol, spot float64) float64 {
	return math.Log(strike/spot) / (vol * math.Sqrt(tau))
}

// Tau returns years-to-expiry on the calendar basis the spec uses
// throughout: (expiry - reference).days / 365.
func Tau(expiryDays float64) float64 {
	return expiryDays / 365.0
}

// regressors builds the five-element feature vector [m, tau, m^2, tau^2,
// m*tau] the quadratic surface regresses on.
func regressors(m, tau float64) [5]float64 {
	return [5]float64{m, tau, m * m, tau * tau, m * tau}
}
