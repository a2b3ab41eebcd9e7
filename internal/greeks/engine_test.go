package greeks

import (
	"testing"
	"time"

	"github.com/solstice-quant/derivuniverse/internal/pricing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_RecomputesGreeksAfterFullBatch(t *testing.T) {
	expiry := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)

	// Build a synthetic observed price from a known IV so we can assert
	// the engine recovers a sane Greeks snapshot.
	tau := expiry.Sub(now).Hours() / 24 / 365
	price, err := pricing.BlackTheoreticalPrice(0.22, 450, 440, tau, 0.04, 0.015, pricing.Call)
	require.NoError(t, err)

	eng := New(Config{
		Right:  pricing.Call,
		Strike: 440,
		Expiry: expiry,
	})
	eng.UpdateUnderlying(IndicatorDataPoint{Symbol: "SPY", EndTime: now, Price: 450})
	eng.UpdateOption(IndicatorDataPoint{Symbol: "SPY240315C00440000", EndTime: now, Price: price})

	snap := eng.Snapshot()
	assert.Greater(t, eng.IV(), 0.0)
	assert.Greater(t, snap.Delta, 0.0)
	assert.LessOrEqual(t, snap.Delta, 1.0)
	assert.GreaterOrEqual(t, snap.Vega, 0.0)
	assert.Less(t, snap.Theta, 0.0)
	assert.Equal(t, 0.0, snap.Lambda)
}

func TestEngine_NoUpdateUntilBothSidesPresent(t *testing.T) {
	eng := New(Config{Right: pricing.Put, Strike: 100, Expiry: time.Now().AddDate(0, 1, 0)})
	eng.UpdateOption(IndicatorDataPoint{EndTime: time.Now(), Price: 5})
	assert.Equal(t, 0.0, eng.IV())
}

func TestEngine_SwallowsDivergentUpdate(t *testing.T) {
	expiry := time.Now().AddDate(0, 0, 1)
	eng := New(Config{Right: pricing.Call, Strike: 100, Expiry: expiry})
	eng.UpdateUnderlying(IndicatorDataPoint{EndTime: time.Now(), Price: 100})
	// An absurd option price (way above any plausible theoretical value)
	// should fail to converge and must not panic.
	assert.NotPanics(t, func() {
		eng.UpdateOption(IndicatorDataPoint{EndTime: time.Now(), Price: 1e9})
	})
}
