package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"otc_stream/internal/domain"
	"otc_stream/internal/infra"

	"golang.org/x/time/rate"
)

// DefaultChartURL is the public chart API base.
const DefaultChartURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// chartResponse is the subset of the chart API payload we read.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency           string  `json:"currency"`
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				PreviousClose      float64 `json:"previousClose"`
				ChartPreviousClose float64 `json:"chartPreviousClose"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Quote is the current price and the reference close for change calculation.
type Quote struct {
	Price         float64
	PreviousClose float64
}

// ChartClient talks to the chart API. Every request waits on the shared limiter.
type ChartClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewChartClient creates a client. A nil limiter means unlimited.
func NewChartClient(baseURL string, timeout time.Duration, limiter *rate.Limiter) *ChartClient {
	if baseURL == "" {
		baseURL = DefaultChartURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &ChartClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}
}

// FetchQuote returns the latest regular-market price for symbol.
func (c *ChartClient) FetchQuote(ctx context.Context, symbol string) (Quote, error) {
	data, err := c.fetch(ctx, symbol, "1m", "1d")
	if err != nil {
		return Quote{}, err
	}

	meta := data.Chart.Result[0].Meta
	if meta.RegularMarketPrice <= 0 {
		return Quote{}, fmt.Errorf("%w: no market price for %s", domain.ErrUpstreamUnavailable, symbol)
	}
	prev := meta.PreviousClose
	if prev <= 0 {
		prev = meta.ChartPreviousClose
	}
	return Quote{Price: meta.RegularMarketPrice, PreviousClose: prev}, nil
}

// FetchCandles returns the chart series for symbol, oldest first. Rows with missing values are skipped.
func (c *ChartClient) FetchCandles(ctx context.Context, symbol, interval, rng string) ([]domain.Candle, error) {
	data, err := c.fetch(ctx, symbol, interval, rng)
	if err != nil {
		return nil, err
	}

	res := data.Chart.Result[0]
	if len(res.Indicators.Quote) == 0 {
		return nil, nil
	}
	q := res.Indicators.Quote[0]

	candles := make([]domain.Candle, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		o, h, l, cl := at(q.Open, i), at(q.High, i), at(q.Low, i), at(q.Close, i)
		if o == nil || h == nil || l == nil || cl == nil {
			continue
		}
		var vol float64
		if v := at(q.Volume, i); v != nil {
			vol = *v
		}
		candles = append(candles, domain.Candle{
			Symbol:     symbol,
			OpenTimeMs: ts * 1000,
			Open:       *o,
			High:       *h,
			Low:        *l,
			Close:      *cl,
			Volume:     vol,
		})
	}
	return candles, nil
}

func at(s []*float64, i int) *float64 {
	if i >= len(s) {
		return nil
	}
	return s[i]
}

func (c *ChartClient) fetch(ctx context.Context, symbol, interval, rng string) (*chartResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("interval", interval)
	q.Set("range", rng)
	endpoint := c.baseURL + "/" + url.PathEscape(ToYahooSymbol(symbol)) + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	// Browser-like User-Agent to avoid bot detection
	req.Header.Set("User-Agent", infra.DefaultUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewNetworkError("yahoo chart", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: yahoo chart status %d", domain.ErrUpstreamUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var data chartResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	if data.Chart.Error != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrUpstreamUnavailable, data.Chart.Error.Description)
	}
	if len(data.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w: empty chart result for %s", domain.ErrUpstreamUnavailable, symbol)
	}
	return &data, nil
}
