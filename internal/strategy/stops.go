// Package strategy replays entry signals against a candle series to
// determine how each trade would have closed, using trailing-stop segments
// to resolve the stop price active at any bar.
package strategy

import (
	"bybit-chart-server/internal/market"
)

// ResolveStopPrice returns the stop price active at barTime for a trade on
// the given side, from a set of possibly non-contiguous segments plus the
// trade's initial stop as fallback.
//
// Rules, in priority order:
//  1. no segments for the side: initial stop;
//  2. a segment covering barTime (bounds inclusive): that segment's price;
//  3. barTime before every segment's start: initial stop (trailing had not
//     engaged yet);
//  4. barTime after every segment's end: the price of the segment ending
//     last (the most recent trail holds until superseded);
//  5. barTime in a gap between segments: the price of the segment whose end
//     is the largest value still below barTime. Never interpolated.
//
// This is a plain O(n) scan per query; segment counts are small and the
// scan does not require pre-sorted input.
func ResolveStopPrice(barTime int64, side market.Side, initialStop float64, segments []market.StopSegment) float64 {
	var relevant []market.StopSegment
	for _, s := range segments {
		if s.Side == side {
			relevant = append(relevant, s)
		}
	}
	if len(relevant) == 0 {
		return initialStop
	}

	for _, s := range relevant {
		if barTime >= s.StartTime && barTime <= s.EndTime {
			return s.Price
		}
	}

	beforeAll := true
	endedBefore := 0
	for _, s := range relevant {
		if s.StartTime <= barTime {
			beforeAll = false
		}
		if s.EndTime < barTime {
			endedBefore++
		}
	}
	if beforeAll {
		return initialStop
	}

	if endedBefore == len(relevant) {
		last := relevant[0]
		for _, s := range relevant[1:] {
			if s.EndTime > last.EndTime {
				last = s
			}
		}
		return last.Price
	}

	// Gap between segments: hold the most recently ended one. Large
	// unexplained gaps get the same treatment; there is no better signal
	// to distinguish them from ordinary trail pauses.
	var prior *market.StopSegment
	for i := range relevant {
		s := relevant[i]
		if s.EndTime < barTime && (prior == nil || s.EndTime > prior.EndTime) {
			prior = &s
		}
	}
	if prior != nil {
		return prior.Price
	}
	return initialStop
}
