package additionalfields

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestATMIV30_InterpolatesBetweenBracketingExpiries(t *testing.T) {
	d := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	near := d.AddDate(0, 0, 20)
	far := d.AddDate(0, 0, 50)

	rows := []Row{
		{Expiry: near, Delta: 0.5, IV: 0.20, HasIV: true},
		{Expiry: near, Delta: 0.9, IV: 0.30, HasIV: true},
		{Expiry: far, Delta: 0.48, IV: 0.24, HasIV: true},
		{Expiry: far, Delta: 0.1, IV: 0.40, HasIV: true},
	}

	iv30, ok := ATMIV30(rows, d)
	require.True(t, ok)
	// target = d+30; near=20d out, far=50d out -> nearWeight=(50-30)/30=2/3, farWeight=(30-20)/30=1/3
	want := (2.0/3.0)*0.20 + (1.0/3.0)*0.24
	assert.InDelta(t, want, iv30, 1e-9)
}

func TestATMIV30_SingleBracketingExpiryUsesItDirectly(t *testing.T) {
	d := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	only := d.AddDate(0, 0, 30)
	rows := []Row{{Expiry: only, Delta: 0.51, IV: 0.22, HasIV: true}}

	iv30, ok := ATMIV30(rows, d)
	require.True(t, ok)
	assert.InDelta(t, 0.22, iv30, 1e-9)
}

func TestATMIV30_NoValidIVReturnsNotOK(t *testing.T) {
	d := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := []Row{{Expiry: d.AddDate(0, 0, 10), Delta: 0.5, HasIV: false}}
	_, ok := ATMIV30(rows, d)
	assert.False(t, ok)
}

func TestSeries_RankAndPercentile(t *testing.T) {
	ivs := []float64{0.10, 0.20, 0.30, 0.25}
	latest, rank, percentile, ok := Series(ivs)
	require.True(t, ok)
	assert.InDelta(t, 0.25, latest, 1e-9)
	assert.InDelta(t, 0.75, rank, 1e-9) // (0.25-0.10)/(0.30-0.10)
	assert.InDelta(t, 0.5, percentile, 1e-9) // 2 of 4 values strictly less than 0.25
}

func TestSeries_SingleElementHasNoRank(t *testing.T) {
	_, _, _, ok := Series([]float64{0.2})
	assert.False(t, ok)
}

func TestSeries_FlatSeriesRankIsZero(t *testing.T) {
	_, rank, _, ok := Series([]float64{0.2, 0.2, 0.2})
	require.True(t, ok)
	assert.Equal(t, 0.0, rank)
}
