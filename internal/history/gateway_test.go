package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solstice-quant/derivuniverse/internal/marketdata"
)

type stubProvider struct {
	calls     int
	responses [][]marketdata.Slice
	err       error
}

func (s *stubProvider) FetchHistory(_ context.Context, _ marketdata.HistoryRequest) ([]marketdata.Slice, error) {
	if s.err != nil {
		return nil, s.err
	}
	idx := s.calls
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	s.calls++
	return s.responses[idx], nil
}

type fixedCalendar struct{}

func (fixedCalendar) LookbackStart(end time.Time, _ marketdata.Resolution, bars int) time.Time {
	return end.AddDate(0, 0, -bars)
}

func TestGateway_FallsThroughLadderToFirstNonEmpty(t *testing.T) {
	primary := &stubProvider{responses: [][]marketdata.Slice{
		nil, // Daily: empty
		{marketdata.NewSlice(time.Now())}, // Hour: non-empty
	}}
	g := New(primary, nil, fixedCalendar{}, []marketdata.Resolution{marketdata.Daily, marketdata.Hour}, 5, Config{RetryWait: time.Millisecond})

	req := marketdata.HistoryRequest{Symbol: "SPY", EndUTC: time.Now(), DataType: marketdata.Trade}
	out, err := g.GetHistory(context.Background(), []marketdata.HistoryRequest{req}, time.UTC)
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, 2, primary.calls)
}

func TestGateway_EmptyLadderFallsBackToSecondary(t *testing.T) {
	primary := &stubProvider{responses: [][]marketdata.Slice{nil}}
	secondary := &stubProvider{responses: [][]marketdata.Slice{{marketdata.NewSlice(time.Now())}}}
	g := New(primary, secondary, fixedCalendar{}, []marketdata.Resolution{marketdata.Daily}, 5, Config{RetryWait: time.Millisecond})

	req := marketdata.HistoryRequest{Symbol: "SPX", EndUTC: time.Now(), DataType: marketdata.Trade}
	out, err := g.GetHistory(context.Background(), []marketdata.HistoryRequest{req}, time.UTC)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestGateway_PartialFailureReturnsEmptyNotError(t *testing.T) {
	primary := &stubProvider{err: errors.New("transient upstream failure")}
	g := New(primary, nil, fixedCalendar{}, []marketdata.Resolution{marketdata.Daily}, 5, Config{RetryWait: time.Millisecond, MaxRetries: 1})

	req := marketdata.HistoryRequest{Symbol: "QQQ", EndUTC: time.Now(), DataType: marketdata.Trade}
	out, err := g.GetHistory(context.Background(), []marketdata.HistoryRequest{req}, time.UTC)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestGateway_CacheServesRepeatRequestWithoutCallingProvider(t *testing.T) {
	primary := &stubProvider{responses: [][]marketdata.Slice{{marketdata.NewSlice(time.Now())}}}
	g := New(primary, nil, fixedCalendar{}, []marketdata.Resolution{marketdata.Daily}, 5, Config{RetryWait: time.Millisecond})

	req := marketdata.HistoryRequest{Symbol: "IWM", EndUTC: time.Now(), DataType: marketdata.Trade}
	_, err := g.GetHistory(context.Background(), []marketdata.HistoryRequest{req}, time.UTC)
	require.NoError(t, err)
	callsAfterFirst := primary.calls

	_, err = g.GetHistory(context.Background(), []marketdata.HistoryRequest{req}, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, callsAfterFirst, primary.calls, "second call should be served from cache")
}
