package ivsurface

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestMoneyness_S1Scenarios exercises spec §8 scenario S1 / GetMoneyness:
// S = 493.98.
func TestMoneyness_S1Scenarios(t *testing.T) {
	const spot = 493.98

	t.Run("ATM one year half vol is zero", func(t *testing.T) {
		m := Moneyness(spot, 1.0, 0.5, spot)
		assert.InDelta(t, 0, m, 1e-9)
	})

	t.Run("K=S*e tau=1 vol=0.5 is 2", func(t *testing.T) {
		m := Moneyness(spot*math.E, 1.0, 0.5, spot)
		assert.InDelta(t, 2, m, 1e-9)
	})

	t.Run("K=S*e tau=1 vol=1 is 1", func(t *testing.T) {
		m := Moneyness(spot*math.E, 1.0, 1.0, spot)
		assert.InDelta(t, 1, m, 1e-9)
	})

	t.Run("K=S*e tau=4 vol=0.5 is 1", func(t *testing.T) {
		m := Moneyness(spot*math.E, 4.0, 0.5, spot)
		assert.InDelta(t, 1, m, 1e-9)
	})

	t.Run("K=0 is -inf", func(t *testing.T) {
		m := Moneyness(0, 1.0, 0.5, spot)
		assert.True(t, math.IsInf(m, -1))
	})

	t.Run("tau=0 is +inf for K>S", func(t *testing.T) {
		m := Moneyness(spot*math.E, 0, 0.5, spot)
		assert.True(t, math.IsInf(m, 1))
	})

	t.Run("vol=0 is +inf for K>S (divide by zero)", func(t *testing.T) {
		m := Moneyness(spot*math.E, 1.0, 0, spot)
		assert.True(t, math.IsInf(m, 1))
	})

	t.Run("K<0 is NaN", func(t *testing.T) {
		m := Moneyness(-10, 1.0, 0.5, spot)
		assert.True(t, math.IsNaN(m))
	})

	t.Run("tau<0 is NaN", func(t *testing.T) {
		m := Moneyness(spot, -1.0, 0.5, spot)
		assert.True(t, math.IsNaN(m))
	})
}
