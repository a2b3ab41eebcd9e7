package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solstice-quant/derivuniverse/internal/marketdata"
)

func TestDiskCache_RoundTrip(t *testing.T) {
	dc, err := NewDiskCache(t.TempDir(), time.Hour)
	require.NoError(t, err)

	slices := []marketdata.Slice{marketdata.NewSlice(time.Now())}
	require.NoError(t, dc.Put("spy|0|2|20260316", slices))

	got, ok := dc.Get("spy|0|2|20260316")
	require.True(t, ok)
	assert.Len(t, got, 1)
}

func TestDiskCache_ExpiredEntryIsMiss(t *testing.T) {
	dc, err := NewDiskCache(t.TempDir(), -time.Second)
	require.NoError(t, err)

	require.NoError(t, dc.Put("key", []marketdata.Slice{marketdata.NewSlice(time.Now())}))
	_, ok := dc.Get("key")
	assert.False(t, ok)
}

func TestDiskCache_MissingKeyIsMiss(t *testing.T) {
	dc, err := NewDiskCache(t.TempDir(), time.Hour)
	require.NoError(t, err)
	_, ok := dc.Get("absent")
	assert.False(t, ok)
}
