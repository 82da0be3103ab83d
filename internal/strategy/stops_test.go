package strategy

import (
	"testing"

	"bybit-chart-server/internal/market"
)

func TestResolveStopPrice_SingleSegmentBoundaries(t *testing.T) {
	segments := []market.StopSegment{
		{StartTime: 100, EndTime: 200, Price: 50, Side: market.SideLong},
	}

	tests := []struct {
		name    string
		barTime int64
		want    float64
	}{
		{name: "start boundary inclusive", barTime: 100, want: 50},
		{name: "end boundary inclusive", barTime: 200, want: 50},
		{name: "inside segment", barTime: 150, want: 50},
		{name: "just before start", barTime: 99, want: 40},
		{name: "just after end holds last segment", barTime: 201, want: 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveStopPrice(tt.barTime, market.SideLong, 40, segments)
			if got != tt.want {
				t.Errorf("ResolveStopPrice(%d) = %v, want %v", tt.barTime, got, tt.want)
			}
		})
	}
}

func TestResolveStopPrice_NoSegmentsForSide(t *testing.T) {
	segments := []market.StopSegment{
		{StartTime: 100, EndTime: 200, Price: 50, Side: market.SideShort},
	}
	if got := ResolveStopPrice(150, market.SideLong, 40, segments); got != 40 {
		t.Errorf("expected initial stop when no segments match the side, got %v", got)
	}
	if got := ResolveStopPrice(150, market.SideLong, 40, nil); got != 40 {
		t.Errorf("expected initial stop for empty segment set, got %v", got)
	}
}

func TestResolveStopPrice_GapUsesMostRecentlyEnded(t *testing.T) {
	segments := []market.StopSegment{
		{StartTime: 100, EndTime: 200, Price: 50, Side: market.SideLong},
		{StartTime: 300, EndTime: 400, Price: 55, Side: market.SideLong},
	}

	tests := []struct {
		name    string
		barTime int64
		want    float64
	}{
		{name: "before both", barTime: 50, want: 40},
		{name: "gap between segments", barTime: 250, want: 50},
		{name: "inside second", barTime: 350, want: 55},
		{name: "after both", barTime: 500, want: 55},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveStopPrice(tt.barTime, market.SideLong, 40, segments)
			if got != tt.want {
				t.Errorf("ResolveStopPrice(%d) = %v, want %v", tt.barTime, got, tt.want)
			}
		})
	}
}

func TestResolveStopPrice_UnsortedSegments(t *testing.T) {
	// The resolver must not depend on input order.
	segments := []market.StopSegment{
		{StartTime: 300, EndTime: 400, Price: 55, Side: market.SideLong},
		{StartTime: 100, EndTime: 200, Price: 50, Side: market.SideLong},
	}
	if got := ResolveStopPrice(250, market.SideLong, 40, segments); got != 50 {
		t.Errorf("gap resolution with unsorted input = %v, want 50", got)
	}
	if got := ResolveStopPrice(500, market.SideLong, 40, segments); got != 55 {
		t.Errorf("after-all resolution with unsorted input = %v, want 55", got)
	}
}

func TestResolveStopPrice_SideFiltering(t *testing.T) {
	segments := []market.StopSegment{
		{StartTime: 100, EndTime: 200, Price: 50, Side: market.SideLong},
		{StartTime: 100, EndTime: 200, Price: 90, Side: market.SideShort},
	}
	if got := ResolveStopPrice(150, market.SideLong, 40, segments); got != 50 {
		t.Errorf("long side picked wrong segment: %v", got)
	}
	if got := ResolveStopPrice(150, market.SideShort, 95, segments); got != 90 {
		t.Errorf("short side picked wrong segment: %v", got)
	}
}
