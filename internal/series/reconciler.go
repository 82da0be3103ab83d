// Package series owns the authoritative in-memory candle series for one
// symbol/interval pair and merges inbound snapshot and upsert events into
// a single time-ordered sequence.
package series

import (
	"sync"

	"bybit-chart-server/internal/market"
)

// UpsertOutcome describes how an upsert was absorbed into the series.
type UpsertOutcome int

const (
	// UpsertDropped means no existing candle matched and the event was
	// discarded as stale (a bar outside the retained window).
	UpsertDropped UpsertOutcome = iota
	// UpsertAppended means a new bar opened and was added at the end.
	UpsertAppended
	// UpsertReplacedLast means the open bar was refreshed in place.
	UpsertReplacedLast
	// UpsertPatched means an older bar was corrected in place.
	UpsertPatched
)

// Reconciler maintains the candle series for the currently selected
// symbol/interval. Writes are expected from a single event loop; reads
// (Candles, CurrentBar) may come from other goroutines concurrently. A
// symbol/interval change means a new Reconciler.
type Reconciler struct {
	symbol   string
	interval string
	limit    int // max retained candles; 0 means unlimited

	mu      sync.RWMutex
	candles []market.Candle

	lastTick *market.TickerTick
	lastBar  *market.BarUpdate
}

// New creates an empty reconciler. limit bounds the retained window; appends
// beyond it drop the oldest candle.
func New(symbol, interval string, limit int) *Reconciler {
	return &Reconciler{
		symbol:   symbol,
		interval: interval,
		limit:    limit,
	}
}

// Symbol returns the symbol this series belongs to.
func (r *Reconciler) Symbol() string { return r.symbol }

// Interval returns the kline interval this series belongs to.
func (r *Reconciler) Interval() string { return r.interval }

// Len returns the number of retained candles.
func (r *Reconciler) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.candles)
}

// Candles returns a copy of the series so consumers cannot mutate it.
func (r *Reconciler) Candles() []market.Candle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]market.Candle, len(r.candles))
	copy(out, r.candles)
	return out
}

// ApplySnapshot replaces the entire series verbatim, preserving the
// server-provided order. The live tick and bar update overlays survive a
// snapshot; they are keyed by bar time and go stale naturally.
func (r *Reconciler) ApplySnapshot(candles []market.Candle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candles = make([]market.Candle, len(candles))
	copy(r.candles, candles)
}

// ApplyUpsert merges one candle into the series by time-based positioning:
// append when its time is past the last bar, replace the last bar on an
// exact match, patch an older bar in place, or drop the event when no bar
// matches. Append and last-bar refresh are O(1); only out-of-order
// corrections scan the series.
func (r *Reconciler) ApplyUpsert(c market.Candle) UpsertOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.candles) == 0 {
		r.candles = append(r.candles, c)
		return UpsertAppended
	}

	last := r.candles[len(r.candles)-1]
	switch {
	case c.Time > last.Time:
		r.candles = append(r.candles, c)
		if r.limit > 0 && len(r.candles) > r.limit {
			r.candles = r.candles[len(r.candles)-r.limit:]
		}
		return UpsertAppended
	case c.Time == last.Time:
		r.candles[len(r.candles)-1] = c
		return UpsertReplacedLast
	}

	for i := range r.candles {
		if r.candles[i].Time == c.Time {
			r.candles[i] = c
			return UpsertPatched
		}
	}
	return UpsertDropped
}

// ApplyTick records the latest ticker tick for the current-bar overlay.
func (r *Reconciler) ApplyTick(t market.TickerTick) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tick := t
	r.lastTick = &tick
}

// ApplyBarUpdate records the latest live bar update for the current-bar
// overlay. Server-side partial aggregation is preferred over tick widening
// when both are present (see CurrentBar).
func (r *Reconciler) ApplyBarUpdate(b market.BarUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bar := b
	r.lastBar = &bar
}

// CurrentBar derives the current-bar view. It returns nil for an empty
// series. When hoveredTime matches an existing candle's time exactly, that
// candle is returned verbatim as a frozen historical view, taking priority
// over any live overlay. Otherwise the last candle is overlaid with the
// freshest live data: a BarUpdate whose start matches the last bar wins
// over the tick, because it carries server-confirmed partial aggregation
// rather than client-side high/low widening.
func (r *Reconciler) CurrentBar(hoveredTime *int64) *market.CurrentBar {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.candles) == 0 {
		return nil
	}

	if hoveredTime != nil {
		for i := range r.candles {
			if r.candles[i].Time == *hoveredTime {
				return frozenBar(r.candles[i])
			}
		}
	}

	last := r.candles[len(r.candles)-1]

	if r.lastBar != nil && r.lastBar.Start == last.Time {
		return &market.CurrentBar{
			Time:   last.Time,
			Open:   r.lastBar.Open,
			High:   r.lastBar.High,
			Low:    r.lastBar.Low,
			Close:  r.lastBar.Close,
			Volume: r.lastBar.Volume,
		}
	}

	bar := frozenBar(last)
	if r.lastTick != nil {
		bar.Close = r.lastTick.Price
		if r.lastTick.Price > bar.High {
			bar.High = r.lastTick.Price
		}
		if r.lastTick.Price < bar.Low {
			bar.Low = r.lastTick.Price
		}
	}
	return bar
}

func frozenBar(c market.Candle) *market.CurrentBar {
	return &market.CurrentBar{
		Time:   c.Time,
		Open:   c.Open,
		High:   c.High,
		Low:    c.Low,
		Close:  c.Close,
		Volume: c.Volume,
	}
}
