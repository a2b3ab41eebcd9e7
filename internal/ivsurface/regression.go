package ivsurface

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// minValidContracts is the minimum count of valid-IV contracts required
// before a surface fit is attempted, per spec §4.5.
const minValidContracts = 6

// Observation is one contract's IV sample used to fit the surface.
type Observation struct {
	Strike float64
	Tau    float64 // years to expiry
	IV     float64
	Spot   float64
}

// Surface is a fitted quadratic IV regression: y = b0 + b1*m + b2*tau +
// b3*m^2 + b4*tau^2 + b5*m*tau, fit by ordinary least squares via gonum's
// mat package (the normal equations XᵀX·β = Xᵀy, solved by LU since XᵀX
// is square), grounded on
// aristath-sentinel's use of gonum.org/v1/gonum/mat+stat for its own
// covariance/regression modules — the only repo in the retrieval pack
// that reaches for a numerical linear-algebra library, which is exactly
// what this quadratic-surface fit needs.
type Surface struct {
	coef    []float64 // [intercept, m, tau, m^2, tau^2, m*tau]
	spot    float64
	nValid  int
	nTotal  int
}

// Fit fits the quadratic IV surface over obs, which must contain every
// contract in the chain (valid and invalid IV alike) so nTotal is known.
// Per spec §4.5: requires count_valid < count_total (otherwise no repair
// is needed) and count_valid >= 6 (else the interpolator is unavailable).
func Fit(obs []Observation, spot float64) (*Surface, error) {
	valid := make([]Observation, 0, len(obs))
	for _, o := range obs {
		if isValidIV(o.IV) {
			valid = append(valid, o)
		}
	}
	if len(valid) >= len(obs) {
		return nil, fmt.Errorf("ivsurface: no repair needed: all %d contracts have valid iv", len(obs))
	}
	if len(valid) < minValidContracts {
		return nil, fmt.Errorf("ivsurface: interpolator unavailable: only %d valid-iv contracts (need >= %d)",
			len(valid), minValidContracts)
	}

	n := len(valid)
	const p = 6 // intercept + 5 regressors
	x := mat.NewDense(n, p, nil)
	y := mat.NewVecDense(n, nil)
	for i, o := range valid {
		m := Moneyness(o.Strike, o.Tau, o.IV, spot)
		reg := regressors(m, o.Tau)
		x.Set(i, 0, 1)
		for j, v := range reg {
			x.Set(i, j+1, v)
		}
		y.SetVec(i, o.IV)
	}

	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	var xty mat.VecDense
	xty.MulVec(x.T(), y)

	var beta mat.VecDense
	if err := beta.SolveVec(&xtx, &xty); err != nil {
		return nil, fmt.Errorf("ivsurface: regression fit failed: %w", err)
	}

	coef := make([]float64, p)
	for i := 0; i < p; i++ {
		coef[i] = beta.AtVec(i)
	}
	return &Surface{coef: coef, spot: spot, nValid: len(valid), nTotal: len(obs)}, nil
}

// Predict evaluates the fitted surface at a given (moneyness, tau) pair.
func (s *Surface) Predict(m, tau float64) float64 {
	reg := regressors(m, tau)
	v := s.coef[0]
	for i, r := range reg {
		v += s.coef[i+1] * r
	}
	return v
}

// Spot returns the underlying close the surface was fit against.
func (s *Surface) Spot() float64 { return s.spot }

// ValidCount returns the number of contracts the surface was fit on.
func (s *Surface) ValidCount() int { return s.nValid }

func isValidIV(iv float64) bool {
	return iv > 0 && !isNaNOrInf(iv)
}

func isNaNOrInf(v float64) bool {
	return v != v || v > 1e308 || v < -1e308
}
