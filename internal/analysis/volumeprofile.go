// Package analysis computes derived views over a candle window. The volume
// profile distributes each candle's volume across the price levels its
// range touched, with optional recency weighting so older bars contribute
// less.
package analysis

import (
	"math"
	"sort"

	"bybit-chart-server/internal/market"
)

const (
	// DefaultBucketCount is the number of price buckets in a profile.
	DefaultBucketCount = 500
	// DefaultWindowSize is the trailing candle window the profile covers.
	DefaultWindowSize = 2000
	// DefaultBarWidth is the rendering width hint carried in the payload.
	DefaultBarWidth = 6
)

// PriceLevel is one bucket of the profile: the bucket's midpoint price and
// the accumulated volume attributed to it.
type PriceLevel struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"vol"`
}

// VolumeProfile is a price-descending histogram of traded volume, anchored
// at a reference time for rendering.
type VolumeProfile struct {
	Time    int64        `json:"time"`
	Profile []PriceLevel `json:"profile"`
	Width   int          `json:"width"`
}

// BuildVolumeProfile builds a profile over the last windowSize candles.
//
// The price range [min(low), max(high)] of the window is divided into
// bucketCount equal-width buckets. Each candle's [low, high] is clamped to
// the window range and its volume is split evenly across the buckets it
// touches. With recencyWeight enabled, the contribution is scaled by
// (windowSize - positionFromNewest) / windowSize: 1.0 for the newest candle,
// decaying linearly toward the oldest.
//
// Returns nil when no usable profile exists: empty window, zero price range,
// or fewer than two buckets. It never returns a partially filled histogram.
func BuildVolumeProfile(candles []market.Candle, referenceTime int64, barWidth, bucketCount, windowSize int, recencyWeight bool) *VolumeProfile {
	if len(candles) == 0 || bucketCount <= 0 || windowSize <= 0 {
		return nil
	}

	window := candles
	if len(window) > windowSize {
		window = window[len(window)-windowSize:]
	}

	low := window[0].Low
	high := window[0].High
	for _, c := range window {
		low = math.Min(low, c.Low)
		high = math.Max(high, c.High)
	}
	priceRange := high - low
	if priceRange <= 0 {
		return nil
	}

	bucketSize := priceRange / float64(bucketCount)
	buckets := make([]float64, bucketCount)

	for i, c := range window {
		weight := 1.0
		if recencyWeight {
			positionFromNewest := len(window) - 1 - i
			weight = float64(windowSize-positionFromNewest) / float64(windowSize)
		}

		cLow := math.Max(c.Low, low)
		cHigh := math.Min(c.High, high)
		if cHigh-cLow <= 0 {
			continue
		}

		startIdx := clampIndex(int((cLow-low)/bucketSize), bucketCount)
		endIdx := clampIndex(int((cHigh-low)/bucketSize), bucketCount)
		levelsTouched := endIdx - startIdx + 1
		volPerLevel := c.Volume / float64(levelsTouched) * weight

		for idx := startIdx; idx <= endIdx; idx++ {
			buckets[idx] += volPerLevel
		}
	}

	profile := make([]PriceLevel, bucketCount)
	for idx := 0; idx < bucketCount; idx++ {
		profile[idx] = PriceLevel{
			Price:  low + (float64(idx)+0.5)*bucketSize,
			Volume: buckets[idx],
		}
	}
	// Top-of-range first: consumers render the histogram price-descending.
	sort.Slice(profile, func(i, j int) bool { return profile[i].Price > profile[j].Price })

	if len(profile) < 2 {
		return nil
	}

	return &VolumeProfile{
		Time:    referenceTime,
		Profile: profile,
		Width:   barWidth,
	}
}

// clampIndex absorbs floating-point edge effects at the window's exact
// high/low so indices stay inside [0, bucketCount-1].
func clampIndex(idx, bucketCount int) int {
	if idx < 0 {
		return 0
	}
	if idx > bucketCount-1 {
		return bucketCount - 1
	}
	return idx
}
