package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/solstice-quant/derivuniverse/internal/marketdata"
)

// HTTPIndexProvider is the secondary provider spec §4.2 names ("an
// online index-price provider that fetches daily bars from an HTTP
// archive"), used only when the whole resolution ladder comes up empty.
// Its request/response handling is adapted directly from the teacher's
// broker.TradierAPI.makeRequestCtx: context-aware request construction,
// bearer auth header, bounded error-body read, JSON decode.
type HTTPIndexProvider struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
	Logger  *logrus.Logger
}

// NewHTTPIndexProvider builds a provider with a sane request timeout,
// mirroring the teacher's NewTradierAPIWithTimeoutAndLimits default.
func NewHTTPIndexProvider(baseURL, apiKey string, logger *logrus.Logger) *HTTPIndexProvider {
	if logger == nil {
		logger = logrus.New()
	}
	return &HTTPIndexProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 30 * time.Second},
		Logger:  logger,
	}
}

type dailyBarResponse struct {
	Bars []struct {
		Date   string  `json:"date"`
		Open   float64 `json:"open"`
		High   float64 `json:"high"`
		Low    float64 `json:"low"`
		Close  float64 `json:"close"`
		Volume int64   `json:"volume"`
	} `json:"bars"`
}

// FetchHistory implements Provider by issuing a single daily-bar request
// against an HTTP index archive.
func (p *HTTPIndexProvider) FetchHistory(ctx context.Context, req marketdata.HistoryRequest) ([]marketdata.Slice, error) {
	endpoint := fmt.Sprintf("%s/v1/history/daily", p.BaseURL)
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("start", req.StartUTC.Format("2006-01-02"))
	params.Set("end", req.EndUTC.Format("2006-01-02"))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), http.NoBody)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Add("Authorization", "Bearer "+p.APIKey)
	httpReq.Header.Add("Accept", "application/json")
	httpReq.Header.Add("User-Agent", "derivuniverse/1.0 (+index-history)")

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if remaining, ok := rateLimitRemaining(resp.Header); ok && remaining < 10 {
		p.Logger.WithField("remaining", remaining).Warn("history: index provider rate limit running low")
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, fmt.Errorf("history: index provider %s -> %d: %s", endpoint, resp.StatusCode, string(body))
	}

	var parsed dailyBarResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("history: decoding index provider response: %w", err)
	}

	slices := make([]marketdata.Slice, 0, len(parsed.Bars))
	for _, b := range parsed.Bars {
		t, err := time.Parse("2006-01-02", b.Date)
		if err != nil {
			continue
		}
		s := marketdata.NewSlice(t)
		s.Trades[req.Symbol] = marketdata.TradeBar{
			Time: t, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume,
		}
		slices = append(slices, s)
	}
	return slices, nil
}

// rateLimitRemaining parses Tradier-style rate-limit headers, mirroring
// the teacher's check in makeRequestCtx; kept here so a future sandbox
// deployment of this provider against the same upstream can log budget
// the way the trading bot does.
func rateLimitRemaining(h http.Header) (int, bool) {
	for _, name := range []string{"X-Ratelimit-Available", "X-RateLimit-Available", "X-RateLimit-Remaining"} {
		if v := h.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err == nil {
				return n, true
			}
		}
	}
	return 0, false
}
