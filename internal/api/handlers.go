package api

import (
	"context"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"bybit-chart-server/internal/market"
	"bybit-chart-server/internal/strategy"
	"bybit-chart-server/internal/stream"
)

// supportedIntervals maps Bybit v5 kline intervals to their duration in
// minutes; non-minute intervals (D, W, M) carry a rank past every minute
// value so sorting lists them last, coarsest last.
var supportedIntervals = map[string]int{
	"1": 1, "3": 3, "5": 5, "15": 15, "30": 30,
	"60": 60, "120": 120, "240": 240, "360": 360, "720": 720,
	"D": 1440, "W": 10080, "M": 43200,
}

// MarketData is the REST surface of the exchange client used by handlers.
type MarketData interface {
	stream.KlineSource
	GetTickers(ctx context.Context, symbol string) ([]market.TickerSnapshot, error)
	ListSymbols(ctx context.Context) ([]market.SymbolInfo, error)
}

// CandleHistory serves archived candles for ranges beyond the exchange's
// history depth.
type CandleHistory interface {
	GetCandles(ctx context.Context, symbol, interval string, from, to int64, limit int) ([]market.Candle, error)
}

// Handlers holds the dependencies behind every route.
type Handlers struct {
	data       MarketData
	history    CandleHistory
	candleHub  *stream.CandleHub
	tickerHub  *stream.TickerHub
	maxCandles int
	cfg        Config
	logger     zerolog.Logger
}

// NewHandlers builds the handler set. maxCandles caps the candles endpoint's
// limit parameter; history may be nil when the archive is disabled.
func NewHandlers(data MarketData, history CandleHistory, candleHub *stream.CandleHub, tickerHub *stream.TickerHub, maxCandles int, cfg Config, logger zerolog.Logger) *Handlers {
	return &Handlers{
		data:       data,
		history:    history,
		candleHub:  candleHub,
		tickerHub:  tickerHub,
		maxCandles: maxCandles,
		cfg:        cfg,
		logger:     logger.With().Str("component", "Handlers").Logger(),
	}
}

// Health reports liveness.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Intervals lists supported kline intervals, minutes ascending, then D, W, M.
func (h *Handlers) Intervals(c *gin.Context) {
	intervals := make([]string, 0, len(supportedIntervals))
	for k := range supportedIntervals {
		intervals = append(intervals, k)
	}
	sort.Slice(intervals, func(i, j int) bool {
		return supportedIntervals[intervals[i]] < supportedIntervals[intervals[j]]
	})
	c.JSON(http.StatusOK, gin.H{"intervals": intervals})
}

// Symbols lists instruments currently open for trading.
func (h *Handlers) Symbols(c *gin.Context) {
	symbols, err := h.data.ListSymbols(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("listing symbols failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "upstream unavailable"})
		return
	}

	trading := make([]market.SymbolInfo, 0, len(symbols))
	for _, s := range symbols {
		if s.Status == "Trading" {
			trading = append(trading, s)
		}
	}
	c.JSON(http.StatusOK, gin.H{"symbols": trading})
}

// Tickers returns 24h ticker stats, optionally filtered by ?symbol=.
func (h *Handlers) Tickers(c *gin.Context) {
	tickers, err := h.data.GetTickers(c.Request.Context(), c.Query("symbol"))
	if err != nil {
		h.logger.Error().Err(err).Msg("fetching tickers failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "upstream unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickers": tickers})
}

// Candles returns a candle snapshot for ?symbol=&interval=&limit=. With
// from= and to= (epoch seconds) the range is served from the local archive
// instead, which reaches past the exchange's history depth.
func (h *Handlers) Candles(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	interval := c.DefaultQuery("interval", "1")
	if _, ok := supportedIntervals[interval]; !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported interval: " + interval})
		return
	}

	limit := h.maxCandles
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}

	var candles []market.Candle
	var err error
	if fromRaw, toRaw := c.Query("from"), c.Query("to"); fromRaw != "" || toRaw != "" {
		if h.history == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "candle archive not enabled"})
			return
		}
		from, ferr := strconv.ParseInt(fromRaw, 10, 64)
		to, terr := strconv.ParseInt(toRaw, 10, 64)
		if ferr != nil || terr != nil || from > to {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from and to must be epoch seconds with from <= to"})
			return
		}
		candles, err = h.history.GetCandles(c.Request.Context(), symbol, interval, from, to, limit)
		if err != nil {
			h.logger.Error().Err(err).Str("symbol", symbol).Msg("archive fetch failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "archive unavailable"})
			return
		}
	} else {
		candles, err = h.data.GetKlines(c.Request.Context(), symbol, interval, limit)
		if err != nil {
			h.logger.Error().Err(err).Str("symbol", symbol).Msg("fetching candles failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "upstream unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":   symbol,
		"interval": interval,
		"candles":  candles,
	})
}

// strategyRequest is the evaluation input: the signals, the series they
// refer to, and the trailing-stop history.
type strategyRequest struct {
	Events   []market.TradeEvent  `json:"events" binding:"required"`
	Candles  []market.Candle      `json:"candles" binding:"required"`
	Segments []market.StopSegment `json:"stopSegments"`
}

// StrategyResults replays a batch of entry signals against the supplied
// series and returns per-trade outcomes plus aggregates.
func (h *Handlers) StrategyResults(c *gin.Context) {
	var req strategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results := strategy.ComputeTradeResults(req.Events, req.Candles, req.Segments)
	c.JSON(http.StatusOK, gin.H{
		"results": results,
		"summary": strategy.Summarize(results),
	})
}
