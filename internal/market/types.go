package market

// Side identifies the direction of a trade signal.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Valid reports whether the side is one of the two known directions.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// Candle represents one OHLCV bar. Time is Unix seconds; candles for one
// symbol/interval pair are strictly increasing and unique in Time.
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// BarUpdate is a provisional or final update to the currently-open bar.
// Volume accumulates until Confirm is true.
type BarUpdate struct {
	Start     int64   `json:"start"`
	End       int64   `json:"end"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Confirm   bool    `json:"confirm"`
	Timestamp int64   `json:"timestamp"`
}

// Candle converts the update into a plain candle keyed by the bar start time.
func (b BarUpdate) Candle() Candle {
	return Candle{
		Time:   b.Start,
		Open:   b.Open,
		High:   b.High,
		Low:    b.Low,
		Close:  b.Close,
		Volume: b.Volume,
	}
}

// TickerTick is the latest traded price plus 24h stats for a symbol.
type TickerTick struct {
	Symbol           string  `json:"symbol"`
	Price            float64 `json:"price"`
	Change24hPercent float64 `json:"change_24h_percent"`
	Volume24h        float64 `json:"volume_24h"`
	TS               int64   `json:"ts"`
}

// TickerSnapshot is a 24h ticker snapshot without a receipt time.
type TickerSnapshot struct {
	Symbol           string  `json:"symbol"`
	Price            float64 `json:"price"`
	Change24hPercent float64 `json:"change_24h_percent"`
	Volume24h        float64 `json:"volume_24h"`
}

// SymbolInfo describes one tradable instrument.
type SymbolInfo struct {
	Symbol    string `json:"symbol"`
	BaseCoin  string `json:"baseCoin"`
	QuoteCoin string `json:"quoteCoin"`
	Status    string `json:"status"`
}

// CurrentBar is the derived view of the most recent bar: the last candle's
// OHLCV overlaid with the freshest live data available. Never stored.
type CurrentBar struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// TradeEvent is an entry signal emitted by a strategy. Immutable once
// received; BarIndex refers to the candle series at evaluation time.
type TradeEvent struct {
	Time             int64    `json:"time"`
	BarIndex         int      `json:"barIndex"`
	Type             string   `json:"type"`
	Side             Side     `json:"side"`
	Price            float64  `json:"price"`
	TargetPrice      *float64 `json:"targetPrice,omitempty"`
	InitialStopPrice float64  `json:"initialStopPrice"`
}

// StopSegment is a time-bounded record of an active trailing-stop price.
// Bounds are inclusive; segments for one side may be non-contiguous.
type StopSegment struct {
	StartTime int64   `json:"startTime"`
	EndTime   int64   `json:"endTime"`
	Price     float64 `json:"price"`
	Side      Side    `json:"side"`
}

// CloseReason classifies how a simulated trade was closed.
type CloseReason string

const (
	CloseReasonStop       CloseReason = "stop"
	CloseReasonTakeProfit CloseReason = "take_profit"
	CloseReasonEndOfData  CloseReason = "end_of_data"
)

// TradeResult is the replayed outcome of one entry signal.
type TradeResult struct {
	TradeID       string      `json:"tradeId"`
	Side          Side        `json:"side"`
	EntryBarIndex int         `json:"entryBarIndex"`
	EntryPrice    float64     `json:"entryPrice"`
	EntryTime     int64       `json:"entryTime"`
	CloseBarIndex int         `json:"closeBarIndex"`
	ClosePrice    float64     `json:"closePrice"`
	CloseTime     int64       `json:"closeTime"`
	CloseReason   CloseReason `json:"closeReason"`
	Points        float64     `json:"points"`
}

// TradeSummary aggregates a batch of trade results.
type TradeSummary struct {
	TradeCount        int     `json:"tradeCount"`
	TotalPoints       float64 `json:"totalPoints"`
	AvgPointsPerTrade float64 `json:"avgPointsPerTrade"`
}
