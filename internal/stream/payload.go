// Package stream fans live market data out to chart subscribers. One
// goroutine per (symbol, interval) owns the series state; subscribers get
// buffered channels and the oldest payload is dropped when a slow consumer
// falls behind.
package stream

import (
	"bybit-chart-server/internal/analysis"
	"bybit-chart-server/internal/market"
)

// Payload event kinds.
const (
	EventSnapshot   = "snapshot"
	EventUpsert     = "upsert"
	EventCurrentBar = "current_bar"
	EventHeartbeat  = "heartbeat"
)

// Graphics carries derived chart overlays alongside candle data.
type Graphics struct {
	VolumeProfile *analysis.VolumeProfile `json:"volume_profile,omitempty"`
}

// Payload is one message delivered to chart subscribers. Snapshot payloads
// carry the full series plus graphics; upsert payloads carry one candle.
// CurrentBar rides along on snapshot, upsert and current_bar events so the
// chart's live bar tracks the freshest tick or bar update.
type Payload struct {
	Event      string             `json:"event"`
	Symbol     string             `json:"symbol"`
	Interval   string             `json:"interval,omitempty"`
	Candles    []market.Candle    `json:"candles,omitempty"`
	Candle     *market.Candle     `json:"candle,omitempty"`
	CurrentBar *market.CurrentBar `json:"current_bar,omitempty"`
	Graphics   *Graphics          `json:"graphics,omitempty"`
}

// TickPayload is one ticker message delivered to tick subscribers.
type TickPayload struct {
	Event string             `json:"event"`
	Tick  *market.TickerTick `json:"tick,omitempty"`
}
