package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlackTheoreticalPrice_CallPutSanity(t *testing.T) {
	call, err := BlackTheoreticalPrice(0.2, 100, 100, 0.5, 0.02, 0.0, Call)
	require.NoError(t, err)
	put, err := BlackTheoreticalPrice(0.2, 100, 100, 0.5, 0.02, 0.0, Put)
	require.NoError(t, err)
	assert.Greater(t, call, 0.0)
	assert.Greater(t, put, 0.0)
	// ATM call should be worth more than ATM put when r > 0 (positive carry).
	assert.Greater(t, call, put)
}

func TestBlackTheoreticalPrice_ZeroTauReturnsIntrinsic(t *testing.T) {
	price, err := BlackTheoreticalPrice(0.2, 110, 100, 0, 0.02, 0, Call)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, price, 1e-9)
}

func TestImpliedVolatility_RoundTrip(t *testing.T) {
	const trueIV = 0.35
	price, err := BlackTheoreticalPrice(trueIV, 100, 105, 0.25, 0.03, 0.01, Call)
	require.NoError(t, err)

	iv, err := ImpliedVolatility(price, 100, 105, 0.25, 0.03, 0.01, Call)
	require.NoError(t, err)
	assert.InDelta(t, trueIV, iv, 1e-3)
}

func TestImpliedVolatility_BelowIntrinsicFails(t *testing.T) {
	_, err := ImpliedVolatility(0.01, 100, 50, 0.25, 0.02, 0, Call)
	require.Error(t, err)
}

func TestForwardTreeTheoreticalPrice_ConvergesNearBlack(t *testing.T) {
	black, err := BlackTheoreticalPrice(0.25, 100, 100, 1.0, 0.02, 0.0, Call)
	require.NoError(t, err)
	tree, err := ForwardTreeTheoreticalPrice(0.25, 100, 100, 1.0, 0.02, 0.0, Call, false)
	require.NoError(t, err)
	assert.InDelta(t, black, tree, 0.1)
}

func TestForwardTreeTheoreticalPrice_AmericanPutAtLeastEuropean(t *testing.T) {
	euroTree, err := ForwardTreeTheoreticalPrice(0.3, 90, 100, 1.0, 0.03, 0.0, Put, false)
	require.NoError(t, err)
	amerTree, err := ForwardTreeTheoreticalPrice(0.3, 90, 100, 1.0, 0.03, 0.0, Put, true)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, amerTree, euroTree-1e-9)
}

func TestTheoreticalPrice_NearZeroTauReturnsNonNegativePrice(t *testing.T) {
	// tau below the tree's minTau makes the forward tree return intrinsic
	// value directly; TheoreticalPrice must still return a sane value.
	price := TheoreticalPrice(ForwardTree, 0.2, 100, 100, 1e-8, 0.01, 0, Call)
	assert.GreaterOrEqual(t, price, 0.0)
}

func TestPutCallParityAdjust(t *testing.T) {
	fwd, ok := PutCallParityAdjust(6.0, 4.0, 100, 0.5, 0.02)
	require.True(t, ok)
	assert.Greater(t, fwd, 100.0)

	_, ok = PutCallParityAdjust(0, 4.0, 100, 0.5, 0.02)
	assert.False(t, ok)
}
