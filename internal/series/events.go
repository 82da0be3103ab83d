package series

import (
	"context"

	"bybit-chart-server/internal/market"
)

// Event is one inbound stream message for the reconciler loop. Exactly one
// field is set; messages with no field set are dropped.
type Event struct {
	Snapshot  []market.Candle
	Upsert    *market.Candle
	Tick      *market.TickerTick
	BarUpdate *market.BarUpdate
}

// Run consumes events one at a time until the channel closes or the context
// is cancelled. Each message is applied to completion before the next is
// read, so consumers never observe a partially applied update. The optional
// onApply hook fires after each mutating event (upserts report their
// outcome; other events report UpsertDropped).
func (r *Reconciler) Run(ctx context.Context, events <-chan Event, onApply func(Event, UpsertOutcome)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			outcome := r.apply(ev)
			if onApply != nil {
				onApply(ev, outcome)
			}
		}
	}
}

func (r *Reconciler) apply(ev Event) UpsertOutcome {
	switch {
	case ev.Snapshot != nil:
		r.ApplySnapshot(ev.Snapshot)
	case ev.Upsert != nil:
		return r.ApplyUpsert(*ev.Upsert)
	case ev.Tick != nil:
		r.ApplyTick(*ev.Tick)
	case ev.BarUpdate != nil:
		r.ApplyBarUpdate(*ev.BarUpdate)
		return r.ApplyUpsert(ev.BarUpdate.Candle())
	}
	return UpsertDropped
}
