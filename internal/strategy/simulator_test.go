package strategy

import (
	"math"
	"testing"

	"bybit-chart-server/internal/market"
)

func bar(t int64, o, h, l, c float64) market.Candle {
	return market.Candle{Time: t, Open: o, High: h, Low: l, Close: c, Volume: 1}
}

func fptr(v float64) *float64 { return &v }

func TestComputeTradeResults_StopLoss(t *testing.T) {
	candles := []market.Candle{
		bar(100, 100, 101, 99, 100), // entry bar, entry price 100
		bar(160, 100, 102, 97, 98),  // low breaches stop 98 -> close at 98
		bar(220, 98, 99, 96, 97),
	}
	events := []market.TradeEvent{{
		Time: 100, BarIndex: 0, Type: "entry", Side: market.SideLong, Price: 100, InitialStopPrice: 98,
	}}

	results := ComputeTradeResults(events, candles, nil)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	r := results[0]
	if r.CloseReason != market.CloseReasonStop {
		t.Errorf("close reason = %s, want stop", r.CloseReason)
	}
	if r.CloseBarIndex != 1 || r.ClosePrice != 98 || r.CloseTime != 160 {
		t.Errorf("close bar/price/time = %d/%v/%d", r.CloseBarIndex, r.ClosePrice, r.CloseTime)
	}
	if r.Points != -2 {
		t.Errorf("points = %v, want -2", r.Points)
	}
}

func TestComputeTradeResults_TakeProfit(t *testing.T) {
	candles := []market.Candle{
		bar(100, 100, 101, 99, 100),
		bar(160, 100, 106, 99.5, 105), // high reaches target 105 -> close at 105
		bar(220, 105, 107, 104, 106),
	}
	events := []market.TradeEvent{{
		Time: 100, BarIndex: 0, Type: "entry", Side: market.SideLong, Price: 100,
		TargetPrice: fptr(105), InitialStopPrice: 95,
	}}

	results := ComputeTradeResults(events, candles, nil)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	r := results[0]
	if r.CloseReason != market.CloseReasonTakeProfit || r.ClosePrice != 105 || r.Points != 5 {
		t.Errorf("result = %+v", r)
	}
}

func TestComputeTradeResults_StopWinsOverTargetSameBar(t *testing.T) {
	// The bar breaches both the stop and the target; the stop must win.
	candles := []market.Candle{
		bar(100, 100, 101, 99, 100),
		bar(160, 100, 110, 90, 95),
	}
	events := []market.TradeEvent{{
		Time: 100, BarIndex: 0, Type: "entry", Side: market.SideLong, Price: 100,
		TargetPrice: fptr(105), InitialStopPrice: 98,
	}}

	results := ComputeTradeResults(events, candles, nil)
	if results[0].CloseReason != market.CloseReasonStop {
		t.Errorf("close reason = %s, want stop", results[0].CloseReason)
	}
}

func TestComputeTradeResults_EndOfData(t *testing.T) {
	candles := []market.Candle{
		bar(100, 100, 101, 99, 100),
		bar(160, 100, 103, 99.5, 102),
		bar(220, 102, 106, 101, 105), // never hits stop 95 nor target 110
	}
	events := []market.TradeEvent{{
		Time: 100, BarIndex: 0, Type: "entry", Side: market.SideLong, Price: 100,
		TargetPrice: fptr(110), InitialStopPrice: 95,
	}}

	results := ComputeTradeResults(events, candles, nil)
	r := results[0]
	if r.CloseReason != market.CloseReasonEndOfData {
		t.Errorf("close reason = %s, want end_of_data", r.CloseReason)
	}
	if r.CloseBarIndex != 2 || r.ClosePrice != 105 || r.Points != 5 {
		t.Errorf("result = %+v", r)
	}
}

func TestComputeTradeResults_EntryOnLastBar(t *testing.T) {
	candles := []market.Candle{
		bar(100, 100, 101, 99, 100),
		bar(160, 100, 103, 99.5, 102),
	}
	events := []market.TradeEvent{{
		Time: 160, BarIndex: 1, Type: "entry", Side: market.SideLong, Price: 102, InitialStopPrice: 95,
	}}

	results := ComputeTradeResults(events, candles, nil)
	r := results[0]
	if r.CloseReason != market.CloseReasonEndOfData || r.CloseBarIndex != 1 || r.Points != 0 {
		t.Errorf("entry on last bar must close in place: %+v", r)
	}
}

func TestComputeTradeResults_ShortSide(t *testing.T) {
	candles := []market.Candle{
		bar(100, 100, 101, 99, 100),
		bar(160, 100, 100.5, 94, 95), // low reaches short target 95
	}
	events := []market.TradeEvent{{
		Time: 100, BarIndex: 0, Type: "entry", Side: market.SideShort, Price: 100,
		TargetPrice: fptr(95), InitialStopPrice: 103,
	}}

	results := ComputeTradeResults(events, candles, nil)
	r := results[0]
	if r.CloseReason != market.CloseReasonTakeProfit {
		t.Errorf("close reason = %s, want take_profit", r.CloseReason)
	}
	if r.Points != 5 {
		t.Errorf("short points = %v, want 5", r.Points)
	}
}

func TestComputeTradeResults_TrailingSegmentTightensStop(t *testing.T) {
	candles := []market.Candle{
		bar(100, 100, 101, 99, 100),
		bar(160, 100, 104, 99.5, 103),
		bar(220, 103, 104, 101.5, 102), // trailed stop 102 breached by low 101.5
	}
	segments := []market.StopSegment{
		{StartTime: 220, EndTime: 400, Price: 102, Side: market.SideLong},
	}
	events := []market.TradeEvent{{
		Time: 100, BarIndex: 0, Type: "entry", Side: market.SideLong, Price: 100, InitialStopPrice: 95,
	}}

	results := ComputeTradeResults(events, candles, segments)
	r := results[0]
	if r.CloseReason != market.CloseReasonStop || r.CloseBarIndex != 2 {
		t.Errorf("trailing stop not applied: %+v", r)
	}
	if r.Points != 2 {
		t.Errorf("points = %v, want 2", r.Points)
	}
}

func TestComputeTradeResults_SkipsMalformedEvents(t *testing.T) {
	candles := []market.Candle{
		bar(100, 100, 101, 99, 100),
		bar(160, 100, 103, 99.5, 102),
	}
	events := []market.TradeEvent{
		{Time: 100, BarIndex: -1, Type: "entry", Side: market.SideLong, InitialStopPrice: 95},
		{Time: 100, BarIndex: 5, Type: "entry", Side: market.SideLong, InitialStopPrice: 95},
		{Time: 100, BarIndex: 0, Type: "entry", Side: market.Side("sideways"), InitialStopPrice: 95},
		{Time: 100, BarIndex: 0, Type: "entry", Side: market.SideLong, InitialStopPrice: 95},
	}

	results := ComputeTradeResults(events, candles, nil)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 (malformed events skipped)", len(results))
	}
}

func TestSummarize(t *testing.T) {
	results := []market.TradeResult{
		{Points: 5},
		{Points: -2},
		{Points: 3},
	}
	s := Summarize(results)
	if s.TradeCount != 3 || s.TotalPoints != 6 {
		t.Errorf("summary = %+v", s)
	}
	if math.Abs(s.AvgPointsPerTrade-2) > 1e-9 {
		t.Errorf("avg = %v, want 2", s.AvgPointsPerTrade)
	}

	empty := Summarize(nil)
	if empty.TradeCount != 0 || empty.TotalPoints != 0 || empty.AvgPointsPerTrade != 0 {
		t.Errorf("empty summary = %+v", empty)
	}
}
