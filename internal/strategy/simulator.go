package strategy

import (
	"strconv"

	"bybit-chart-server/internal/market"
)

// ComputeTradeResults replays each entry signal against the candle series
// and returns the realized outcome per trade, in input event order.
//
// Per trade: entry at the entry bar's close, then a forward walk from the
// next bar. On each bar the effective stop comes from ResolveStopPrice;
// a stop breach (long: low <= stop, short: high >= stop) or a target breach
// (long: high >= target, short: low <= target) closes the trade at that
// bar's close. When both trigger on the same bar the stop wins; within a
// bar the unfavorable excursion is assumed to occur first. A trade that
// survives to the end of the series closes at the last candle's close with
// reason end_of_data; an entry on the last bar closes where it entered.
//
// Events with an unknown side or an out-of-range bar index are skipped;
// the rest of the batch still runs. Trades share no mutable state.
func ComputeTradeResults(events []market.TradeEvent, candles []market.Candle, segments []market.StopSegment) []market.TradeResult {
	results := make([]market.TradeResult, 0, len(events))

	for _, ev := range events {
		if !ev.Side.Valid() {
			continue
		}
		entryBar := ev.BarIndex
		if entryBar < 0 || entryBar >= len(candles) {
			continue
		}

		entryCandle := candles[entryBar]
		entryPrice := entryCandle.Close

		closePrice := entryPrice
		closeBar := entryBar
		closeReason := market.CloseReasonEndOfData

	walk:
		for i := entryBar + 1; i < len(candles); i++ {
			bar := candles[i]
			stopPrice := ResolveStopPrice(bar.Time, ev.Side, ev.InitialStopPrice, segments)

			var stopHit, targetHit bool
			if ev.Side == market.SideLong {
				stopHit = bar.Low <= stopPrice
				targetHit = ev.TargetPrice != nil && bar.High >= *ev.TargetPrice
			} else {
				stopHit = bar.High >= stopPrice
				targetHit = ev.TargetPrice != nil && bar.Low <= *ev.TargetPrice
			}

			switch {
			case stopHit:
				closePrice = bar.Close
				closeBar = i
				closeReason = market.CloseReasonStop
				break walk
			case targetHit:
				closePrice = bar.Close
				closeBar = i
				closeReason = market.CloseReasonTakeProfit
				break walk
			}
		}

		if closeReason == market.CloseReasonEndOfData && entryBar < len(candles)-1 {
			last := candles[len(candles)-1]
			closePrice = last.Close
			closeBar = len(candles) - 1
		}

		points := closePrice - entryPrice
		if ev.Side == market.SideShort {
			points = entryPrice - closePrice
		}

		results = append(results, market.TradeResult{
			TradeID:       strconv.FormatInt(ev.Time, 10),
			Side:          ev.Side,
			EntryBarIndex: entryBar,
			EntryPrice:    entryPrice,
			EntryTime:     entryCandle.Time,
			CloseBarIndex: closeBar,
			ClosePrice:    closePrice,
			CloseTime:     candles[closeBar].Time,
			CloseReason:   closeReason,
			Points:        points,
		})
	}

	return results
}

// Summarize aggregates trade results. The average is 0 when no trades ran.
func Summarize(results []market.TradeResult) market.TradeSummary {
	summary := market.TradeSummary{TradeCount: len(results)}
	for _, r := range results {
		summary.TotalPoints += r.Points
	}
	if summary.TradeCount > 0 {
		summary.AvgPointsPerTrade = summary.TotalPoints / float64(summary.TradeCount)
	}
	return summary
}
