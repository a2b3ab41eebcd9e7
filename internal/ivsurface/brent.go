package ivsurface

import (
	"fmt"
	"math"
)

// BrentRoot finds a root of f on [lo, hi] using Brent's method (a
// combination of bisection, secant, and inverse quadratic interpolation),
// to the given absolute tolerance, within maxIter iterations. It requires
// f(lo) and f(hi) to have opposite signs (or one to be exactly zero).
//
// This is the generic numerical-methods core the spec's §4.5 calls for
// directly ("via Brent's method"); it is hand-written rather than pulled
// from a library because it is the domain algorithm itself, not ambient
// plumbing — the spec treats only the pricing formulas as an external
// collaborator (§1), and root-finding is explicitly part of "the core".
func BrentRoot(f func(float64) float64, lo, hi, tol float64, maxIter int) (float64, error) {
	a, b := lo, hi
	fa, fb := f(a), f(b)

	if fa == 0 {
		return a, nil
	}
	if fb == 0 {
		return b, nil
	}
	if math.IsNaN(fa) || math.IsNaN(fb) {
		return 0, fmt.Errorf("ivsurface: brent: non-finite endpoint evaluation")
	}
	if (fa > 0) == (fb > 0) {
		return 0, fmt.Errorf("ivsurface: brent: endpoints do not bracket a root (f(%g)=%g, f(%g)=%g)", a, fa, b, fb)
	}

	if math.Abs(fa) < math.Abs(fb) {
		a, b = b, a
		fa, fb = fb, fa
	}
	c, fc := a, fa
	mflag := true
	var d float64

	for iter := 0; iter < maxIter; iter++ {
		if fb == 0 || math.Abs(b-a) < tol {
			return b, nil
		}

		var s float64
		if fa != fc && fb != fc {
			// Inverse quadratic interpolation.
			s = a*fb*fc/((fa-fb)*(fa-fc)) +
				b*fa*fc/((fb-fa)*(fb-fc)) +
				c*fa*fb/((fc-fa)*(fc-fb))
		} else {
			// Secant method.
			s = b - fb*(b-a)/(fb-fa)
		}

		cond1 := (s < (3*a+b)/4 || s > b) && (a < b) || (s > (3*a+b)/4 || s < b) && (a >= b)
		cond2 := mflag && math.Abs(s-b) >= math.Abs(b-c)/2
		cond3 := !mflag && math.Abs(s-b) >= math.Abs(c-d)/2
		cond4 := mflag && math.Abs(b-c) < tol
		cond5 := !mflag && math.Abs(c-d) < tol

		if cond1 || cond2 || cond3 || cond4 || cond5 {
			s = (a + b) / 2
			mflag = true
		} else {
			mflag = false
		}

		fs := f(s)
		d = c
		c, fc = b, fb

		if (fa > 0) != (fs > 0) {
			b, fb = s, fs
		} else {
			a, fa = s, fs
		}

		if math.Abs(fa) < math.Abs(fb) {
			a, b = b, a
			fa, fb = fb, fa
		}
	}
	return 0, fmt.Errorf("ivsurface: brent: did not converge within %d iterations", maxIter)
}
