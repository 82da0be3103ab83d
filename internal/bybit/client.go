// Package bybit talks to the Bybit v5 public market-data API: REST for
// snapshots and instrument metadata, websocket for live kline and ticker
// streams. Timestamps arriving in milliseconds are converted to epoch
// seconds here, at the transport boundary.
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"bybit-chart-server/internal/market"
)

type Client struct {
	baseURL    string
	category   string
	httpClient *http.Client
}

func NewClient(baseURL, category string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		category:   category,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// restResponse is the common v5 envelope.
type restResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

type klineResult struct {
	Symbol string      `json:"symbol"`
	List   [][7]string `json:"list"`
}

type tickerResult struct {
	List []struct {
		Symbol       string `json:"symbol"`
		LastPrice    string `json:"lastPrice"`
		Price24hPcnt string `json:"price24hPcnt"`
		Volume24h    string `json:"volume24h"`
	} `json:"list"`
}

type instrumentsResult struct {
	List []struct {
		Symbol    string `json:"symbol"`
		BaseCoin  string `json:"baseCoin"`
		QuoteCoin string `json:"quoteCoin"`
		Status    string `json:"status"`
	} `json:"list"`
}

// GetKlines fetches up to limit candles for symbol/interval, returned in
// ascending time order with epoch-second timestamps. Bybit serves the list
// newest-first; it is reversed here.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	var result klineResult
	if err := c.get(ctx, "/v5/market/kline", params, &result); err != nil {
		return nil, fmt.Errorf("fetching klines: %w", err)
	}

	candles := make([]market.Candle, 0, len(result.List))
	for i := len(result.List) - 1; i >= 0; i-- {
		row := result.List[i]
		start, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing kline start %q: %w", row[0], err)
		}
		candles = append(candles, market.Candle{
			Time:   market.ToSeconds(start),
			Open:   parseFloat(row[1]),
			High:   parseFloat(row[2]),
			Low:    parseFloat(row[3]),
			Close:  parseFloat(row[4]),
			Volume: parseFloat(row[5]),
		})
	}
	return candles, nil
}

// GetTickers fetches 24h ticker statistics. With symbol empty it returns
// the whole category; otherwise just that symbol.
func (c *Client) GetTickers(ctx context.Context, symbol string) ([]market.TickerSnapshot, error) {
	params := url.Values{}
	params.Set("category", c.category)
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	var result tickerResult
	if err := c.get(ctx, "/v5/market/tickers", params, &result); err != nil {
		return nil, fmt.Errorf("fetching tickers: %w", err)
	}

	tickers := make([]market.TickerSnapshot, 0, len(result.List))
	for _, row := range result.List {
		tickers = append(tickers, market.TickerSnapshot{
			Symbol: row.Symbol,
			Price:  parseFloat(row.LastPrice),
			// Bybit reports the 24h change as a ratio; clients expect percent.
			Change24hPercent: parseFloat(row.Price24hPcnt) * 100,
			Volume24h:        parseFloat(row.Volume24h),
		})
	}
	return tickers, nil
}

// ListSymbols fetches instrument metadata for the configured category.
func (c *Client) ListSymbols(ctx context.Context) ([]market.SymbolInfo, error) {
	params := url.Values{}
	params.Set("category", c.category)

	var result instrumentsResult
	if err := c.get(ctx, "/v5/market/instruments-info", params, &result); err != nil {
		return nil, fmt.Errorf("fetching instruments: %w", err)
	}

	symbols := make([]market.SymbolInfo, 0, len(result.List))
	for _, row := range result.List {
		symbols = append(symbols, market.SymbolInfo{
			Symbol:    row.Symbol,
			BaseCoin:  row.BaseCoin,
			QuoteCoin: row.QuoteCoin,
			Status:    row.Status,
		})
	}
	return symbols, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, result any) error {
	endpoint := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}

	var envelope restResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	if envelope.RetCode != 0 {
		return fmt.Errorf("API error (retCode %d): %s", envelope.RetCode, envelope.RetMsg)
	}
	return json.Unmarshal(envelope.Result, result)
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
