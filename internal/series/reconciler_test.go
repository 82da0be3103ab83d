package series

import (
	"testing"

	"bybit-chart-server/internal/market"
)

func candle(t int64, o, h, l, c, v float64) market.Candle {
	return market.Candle{Time: t, Open: o, High: h, Low: l, Close: c, Volume: v}
}

func TestApplyUpsert_AppendInvariant(t *testing.T) {
	r := New("BTCUSDT", "1", 0)

	times := []int64{100, 160, 220, 280, 340}
	for _, ts := range times {
		outcome := r.ApplyUpsert(candle(ts, 1, 2, 0.5, 1.5, 10))
		if outcome != UpsertAppended {
			t.Fatalf("expected append for time %d, got %v", ts, outcome)
		}
	}

	got := r.Candles()
	if len(got) != len(times) {
		t.Fatalf("expected %d candles, got %d", len(times), len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Time <= got[i-1].Time {
			t.Errorf("series not strictly increasing at index %d: %d <= %d", i, got[i].Time, got[i-1].Time)
		}
	}
}

func TestApplyUpsert_ReplaceLastInvariant(t *testing.T) {
	r := New("BTCUSDT", "1", 0)
	r.ApplyUpsert(candle(100, 1, 2, 0.5, 1.5, 10))
	r.ApplyUpsert(candle(160, 1.5, 3, 1, 2, 20))

	outcome := r.ApplyUpsert(candle(160, 1.5, 3.5, 1, 2.5, 25))
	if outcome != UpsertReplacedLast {
		t.Fatalf("expected replace-last, got %v", outcome)
	}
	if r.Len() != 2 {
		t.Fatalf("replace must not change length, got %d", r.Len())
	}
	last := r.Candles()[1]
	if last.Close != 2.5 || last.High != 3.5 || last.Volume != 25 {
		t.Errorf("last candle not refreshed: %+v", last)
	}
}

func TestApplyUpsert_Idempotent(t *testing.T) {
	r := New("BTCUSDT", "1", 0)
	r.ApplyUpsert(candle(100, 1, 2, 0.5, 1.5, 10))

	c := candle(160, 1.5, 3, 1, 2, 20)
	r.ApplyUpsert(c)
	before := r.Candles()
	r.ApplyUpsert(c)
	after := r.Candles()

	if len(before) != len(after) {
		t.Fatalf("duplicate upsert changed length: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("candle %d differs after duplicate upsert: %+v vs %+v", i, before[i], after[i])
		}
	}
}

func TestApplyUpsert_PatchAndDrop(t *testing.T) {
	r := New("BTCUSDT", "1", 0)
	r.ApplySnapshot([]market.Candle{
		candle(100, 1, 2, 0.5, 1.5, 10),
		candle(160, 1.5, 3, 1, 2, 20),
		candle(220, 2, 4, 1.5, 3, 30),
	})

	if outcome := r.ApplyUpsert(candle(160, 1.5, 3.2, 1, 2.1, 22)); outcome != UpsertPatched {
		t.Fatalf("expected in-place patch, got %v", outcome)
	}
	if got := r.Candles()[1].Close; got != 2.1 {
		t.Errorf("patched close = %v, want 2.1", got)
	}

	if outcome := r.ApplyUpsert(candle(40, 1, 1, 1, 1, 1)); outcome != UpsertDropped {
		t.Fatalf("expected stale upsert to be dropped, got %v", outcome)
	}
	if r.Len() != 3 {
		t.Errorf("dropped upsert mutated series, len = %d", r.Len())
	}
}

func TestApplyUpsert_EmptySeries(t *testing.T) {
	r := New("BTCUSDT", "1", 0)
	if outcome := r.ApplyUpsert(candle(100, 1, 2, 0.5, 1.5, 10)); outcome != UpsertAppended {
		t.Fatalf("expected sole-element append, got %v", outcome)
	}
	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1", r.Len())
	}
}

func TestApplyUpsert_TrimsToLimit(t *testing.T) {
	r := New("BTCUSDT", "1", 3)
	for ts := int64(100); ts <= 400; ts += 60 {
		r.ApplyUpsert(candle(ts, 1, 2, 0.5, 1.5, 10))
	}
	if r.Len() != 3 {
		t.Fatalf("len = %d, want 3", r.Len())
	}
	if first := r.Candles()[0].Time; first != 280 {
		t.Errorf("oldest retained time = %d, want 280", first)
	}
}

func TestApplySnapshot_ReplacesWholesale(t *testing.T) {
	r := New("BTCUSDT", "1", 0)
	r.ApplySnapshot([]market.Candle{candle(100, 1, 2, 0.5, 1.5, 10)})
	r.ApplySnapshot([]market.Candle{
		candle(200, 2, 3, 1, 2.5, 5),
		candle(260, 2.5, 4, 2, 3, 6),
	})
	got := r.Candles()
	if len(got) != 2 || got[0].Time != 200 {
		t.Fatalf("snapshot did not replace series: %+v", got)
	}
}

func TestCurrentBar_EmptySeries(t *testing.T) {
	r := New("BTCUSDT", "1", 0)
	if bar := r.CurrentBar(nil); bar != nil {
		t.Fatalf("expected nil current bar for empty series, got %+v", bar)
	}
}

func TestCurrentBar_HoveredFrozenView(t *testing.T) {
	r := New("BTCUSDT", "1", 0)
	r.ApplySnapshot([]market.Candle{
		candle(100, 1, 2, 0.5, 1.5, 10),
		candle(160, 1.5, 3, 1, 2, 20),
	})
	r.ApplyTick(market.TickerTick{Symbol: "BTCUSDT", Price: 99, TS: 165})

	hovered := int64(100)
	bar := r.CurrentBar(&hovered)
	if bar == nil {
		t.Fatal("expected frozen bar")
	}
	// Frozen historical view ignores the live overlay entirely.
	if bar.Time != 100 || bar.Close != 1.5 || bar.High != 2 {
		t.Errorf("frozen bar = %+v", bar)
	}
}

func TestCurrentBar_TickOverlay(t *testing.T) {
	r := New("BTCUSDT", "1", 0)
	r.ApplySnapshot([]market.Candle{candle(100, 1, 2, 0.5, 1.5, 10)})

	tests := []struct {
		name       string
		tick       float64
		wantHigh   float64
		wantLow    float64
		wantClose  float64
		wantVolume float64
	}{
		{name: "tick above high widens high", tick: 2.5, wantHigh: 2.5, wantLow: 0.5, wantClose: 2.5, wantVolume: 10},
		{name: "tick below low widens low", tick: 0.25, wantHigh: 2, wantLow: 0.25, wantClose: 0.25, wantVolume: 10},
		{name: "tick inside range only moves close", tick: 1.8, wantHigh: 2, wantLow: 0.5, wantClose: 1.8, wantVolume: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r.ApplyTick(market.TickerTick{Symbol: "BTCUSDT", Price: tt.tick, TS: 110})
			bar := r.CurrentBar(nil)
			if bar == nil {
				t.Fatal("expected current bar")
			}
			if bar.High != tt.wantHigh || bar.Low != tt.wantLow || bar.Close != tt.wantClose || bar.Volume != tt.wantVolume {
				t.Errorf("bar = %+v", bar)
			}
		})
	}
}

func TestCurrentBar_BarUpdatePreferredOverTick(t *testing.T) {
	r := New("BTCUSDT", "1", 0)
	r.ApplySnapshot([]market.Candle{candle(100, 1, 2, 0.5, 1.5, 10)})
	r.ApplyTick(market.TickerTick{Symbol: "BTCUSDT", Price: 5, TS: 110})
	r.ApplyBarUpdate(market.BarUpdate{Start: 100, End: 160, Open: 1, High: 2.2, Low: 0.4, Close: 1.9, Volume: 12})

	bar := r.CurrentBar(nil)
	if bar == nil {
		t.Fatal("expected current bar")
	}
	if bar.High != 2.2 || bar.Low != 0.4 || bar.Close != 1.9 || bar.Volume != 12 {
		t.Errorf("bar update overlay not applied: %+v", bar)
	}
}

func TestCurrentBar_StaleBarUpdateFallsBackToTick(t *testing.T) {
	r := New("BTCUSDT", "1", 0)
	r.ApplySnapshot([]market.Candle{candle(100, 1, 2, 0.5, 1.5, 10)})
	// Bar update for a previous bar start must not win.
	r.ApplyBarUpdate(market.BarUpdate{Start: 40, End: 100, Open: 1, High: 9, Low: 0.1, Close: 8, Volume: 99})
	r.ApplyTick(market.TickerTick{Symbol: "BTCUSDT", Price: 2.4, TS: 110})

	bar := r.CurrentBar(nil)
	if bar == nil {
		t.Fatal("expected current bar")
	}
	if bar.Close != 2.4 || bar.High != 2.4 || bar.Volume != 10 {
		t.Errorf("expected tick overlay, got %+v", bar)
	}
}
