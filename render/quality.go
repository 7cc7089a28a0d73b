// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package render

import "github.com/chewxy/math32"

// DefaultDynamicPercent is the share of the quality kept while the camera
// is being adjusted.
const DefaultDynamicPercent = 25

// minDynamicSamples is the floor of the sample count while adjusting.
const minDynamicSamples = 64

// DefaultQuality returns the samples per ray for a volume of the given
// size: the diagonal of its largest face, clamped to [MinQuality, MaxQuality].
func DefaultQuality(width, height, depth int) int {
	longest := float32(max(depth, width, height))
	q := int(math32.Round(longest * math32.Sqrt2))
	return min(max(q, MinQuality), MaxQuality)
}

// EffectiveSampleCount returns the samples per ray to march this frame.
// While adjusting, quality is scaled down to dynamicPercent with a floor of
// 64 samples; dynamicPercent <= 0 selects DefaultDynamicPercent.
func EffectiveSampleCount(quality int, adjusting bool, dynamicPercent int) int {
	if !adjusting {
		return quality
	}
	if dynamicPercent <= 0 {
		dynamicPercent = DefaultDynamicPercent
	}
	scaled := int(math32.Round(float32(quality) * float32(dynamicPercent) / 100))
	return max(minDynamicSamples, scaled)
}
