package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solstice-quant/derivuniverse/internal/marketdata"
	"github.com/solstice-quant/derivuniverse/internal/symbol"
)

// memStore is an in-memory Store test double, avoiding any real
// filesystem or network IO.
type memStore struct {
	files map[string][]byte
}

func newMemStore() *memStore { return &memStore{files: make(map[string][]byte)} }

func (m *memStore) put(path string, data []byte) { m.files[path] = data }

func (m *memStore) List(_ context.Context, prefix string) ([]string, error) {
	var out []string
	for p := range m.files {
		if len(p) >= len(prefix) && p[:len(prefix)] == prefix {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) Open(_ context.Context, path string) ([]byte, error) {
	data, ok := m.files[path]
	if !ok {
		return nil, assert.AnError
	}
	return data, nil
}

func buildZip(t *testing.T, entries ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e)
		require.NoError(t, err)
		_, err = w.Write([]byte("timestamp,open,high,low,close,volume\n"))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDiscovery_FinestResolutionWins(t *testing.T) {
	date := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	store := newMemStore()
	store.put("equityoption/usa/minute/SPY/20260316_trade.zip", buildZip(t, "SPY260320C00500000.csv"))
	store.put("equityoption/usa/hour/SPY/20260316_trade.zip", buildZip(t, "SPY260320C00500000.csv", "SPY260320P00500000.csv"))

	d := NewDiscovery(store, []marketdata.Resolution{marketdata.Minute, marketdata.Hour, marketdata.Daily}, logrus.New())
	out, _, err := d.Discover(context.Background(), symbol.EquityOption, "usa", date)
	require.NoError(t, err)

	canonical := symbol.NewCanonical("SPY", "usa", symbol.EquityOption)
	contracts, ok := out[canonical.Identifier()]
	require.True(t, ok)
	assert.Len(t, contracts, 1, "hour-resolution scan must be skipped once minute already resolved this canonical")
}

func TestDiscovery_MissingDirectoryReturnsEmptyChain(t *testing.T) {
	store := newMemStore()
	d := NewDiscovery(store, []marketdata.Resolution{marketdata.Minute}, logrus.New())
	out, _, err := d.Discover(context.Background(), symbol.EquityOption, "usa", time.Now())
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDiscovery_UnparseableZipIsSkippedNotFatal(t *testing.T) {
	date := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	store := newMemStore()
	store.put("equityoption/usa/minute/SPY/20260316_trade.zip", []byte("not a zip"))
	store.put("equityoption/usa/minute/QQQ/20260316_trade.zip", buildZip(t, "QQQ260320C00400000.csv"))

	d := NewDiscovery(store, []marketdata.Resolution{marketdata.Minute}, logrus.New())
	out, _, err := d.Discover(context.Background(), symbol.EquityOption, "usa", date)
	require.NoError(t, err)

	spyKey := symbol.NewCanonical("SPY", "usa", symbol.EquityOption).Identifier()
	_, hasSPY := out[spyKey]
	assert.False(t, hasSPY)

	qqqKey := symbol.NewCanonical("QQQ", "usa", symbol.EquityOption).Identifier()
	assert.Len(t, out[qqqKey], 1)
}

func TestDiscovery_DeterministicOrdering(t *testing.T) {
	date := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	store := newMemStore()
	store.put("equityoption/usa/minute/SPY/20260316_trade.zip", buildZip(t,
		"SPY260320P00510000.csv",
		"SPY260320C00500000.csv",
		"SPY260320C00490000.csv",
	))
	d := NewDiscovery(store, []marketdata.Resolution{marketdata.Minute}, logrus.New())
	out, _, err := d.Discover(context.Background(), symbol.EquityOption, "usa", date)
	require.NoError(t, err)

	key := symbol.NewCanonical("SPY", "usa", symbol.EquityOption).Identifier()
	contracts := out[key]
	require.Len(t, contracts, 3)
	assert.Equal(t, symbol.Call, contracts[0].Right)
	assert.Less(t, contracts[0].Strike, contracts[1].Strike)
	assert.Equal(t, symbol.Put, contracts[2].Right)
}

func TestDiscovery_ChainProviderBypassesScan(t *testing.T) {
	date := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	canonical := symbol.NewCanonical("VX", "usa", symbol.Future)
	want := []symbol.Symbol{symbol.NewFuture("VX", "usa", time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC))}

	d := NewDiscovery(newMemStore(), nil, logrus.New())
	d.Provider = func(_ context.Context, c symbol.Symbol, _ time.Time) ([]symbol.Symbol, error) {
		assert.Equal(t, canonical.Identifier(), c.Identifier())
		return want, nil
	}

	got, err := d.DiscoverOne(context.Background(), canonical, symbol.Future, "usa", date)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, want[0].Identifier(), got[0].Identifier())
}

func TestDiscovery_ExpiredContractsAreExcluded(t *testing.T) {
	date := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	store := newMemStore()
	store.put("equityoption/usa/minute/SPY/20260316_trade.zip", buildZip(t,
		"SPY260320C00500000.csv", // expiry 2026-03-20, > date: live
		"SPY260316C00500000.csv", // expiry 2026-03-16, == date: expired
		"SPY260310C00500000.csv", // expiry 2026-03-10, < date: expired
	))
	d := NewDiscovery(store, []marketdata.Resolution{marketdata.Minute}, logrus.New())
	out, _, err := d.Discover(context.Background(), symbol.EquityOption, "usa", date)
	require.NoError(t, err)

	key := symbol.NewCanonical("SPY", "usa", symbol.EquityOption).Identifier()
	contracts := out[key]
	require.Len(t, contracts, 1)
	assert.True(t, contracts[0].Expiry.After(date))
}

func TestDiscovery_ChainProviderContractsAreAlsoFilteredByExpiry(t *testing.T) {
	date := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	canonical := symbol.NewCanonical("VX", "usa", symbol.Future)
	live := symbol.NewFuture("VX", "usa", date.AddDate(0, 1, 0))
	expired := symbol.NewFuture("VX", "usa", date.AddDate(0, 0, -1))

	d := NewDiscovery(newMemStore(), nil, logrus.New())
	d.Provider = func(_ context.Context, _ symbol.Symbol, _ time.Time) ([]symbol.Symbol, error) {
		return []symbol.Symbol{live, expired}, nil
	}

	got, err := d.DiscoverOne(context.Background(), canonical, symbol.Future, "usa", date)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, live.Identifier(), got[0].Identifier())
}
