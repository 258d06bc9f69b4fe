package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://query1.finance.yahoo.com"

// Quote is the latest traded price for a symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Currency  string    `json:"currency"`
	Timestamp time.Time `json:"timestamp"`
}

// Bar is one day of price history.
type Bar struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
}

// Client fetches quotes from the chart API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: &http.Client{Timeout: timeout}}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				Currency           string  `json:"currency"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (c *Client) chart(ctx context.Context, symbol, rng, interval string) (chartResponse, error) {
	var out chartResponse
	if strings.TrimSpace(symbol) == "" {
		return out, fmt.Errorf("symbol required")
	}
	url := fmt.Sprintf("%s/v8/finance/chart/%s?range=%s&interval=%s", c.BaseURL, strings.ToUpper(symbol), rng, interval)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return out, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "FinSightAgent/1.0")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("market data status %d for %s", resp.StatusCode, symbol)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode chart response: %w", err)
	}
	if out.Chart.Error != nil {
		return out, fmt.Errorf("market data error for %s: %s", symbol, out.Chart.Error.Description)
	}
	if len(out.Chart.Result) == 0 {
		return out, fmt.Errorf("no data for symbol %s", symbol)
	}
	return out, nil
}

// GetQuote returns the latest price for a symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	raw, err := c.chart(ctx, symbol, "1d", "1d")
	if err != nil {
		return Quote{}, err
	}
	meta := raw.Chart.Result[0].Meta
	return Quote{
		Symbol:    meta.Symbol,
		Price:     meta.RegularMarketPrice,
		Currency:  meta.Currency,
		Timestamp: time.Unix(meta.RegularMarketTime, 0).UTC(),
	}, nil
}

// GetHistory returns up to periodDays of daily closes for a symbol.
func (c *Client) GetHistory(ctx context.Context, symbol string, periodDays int) ([]Bar, error) {
	if periodDays <= 0 {
		periodDays = 30
	}
	rng := "1mo"
	switch {
	case periodDays <= 5:
		rng = "5d"
	case periodDays <= 31:
		rng = "1mo"
	case periodDays <= 93:
		rng = "3mo"
	case periodDays <= 186:
		rng = "6mo"
	default:
		rng = "1y"
	}
	raw, err := c.chart(ctx, symbol, rng, "1d")
	if err != nil {
		return nil, err
	}
	res := raw.Chart.Result[0]
	if len(res.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("no history for symbol %s", symbol)
	}
	closes := res.Indicators.Quote[0].Close
	var bars []Bar
	for i, ts := range res.Timestamp {
		if i >= len(closes) || closes[i] == nil {
			continue
		}
		bars = append(bars, Bar{Date: time.Unix(ts, 0).UTC(), Close: *closes[i]})
	}
	if len(bars) > periodDays {
		bars = bars[len(bars)-periodDays:]
	}
	return bars, nil
}
