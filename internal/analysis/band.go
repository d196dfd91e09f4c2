// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"math"
)

// Band table limits.
const (
	LowEdgeHz  = 50.0
	HighEdgeHz = 10000.0
	MaxBands   = 256

	// edgeEpsilon nudges band edges that land exactly on a bin boundary into
	// the lower band so neighbouring bands never share a bin.
	edgeEpsilon = 1e-9

	// weightingCutoffHz is the centre frequency from which bands get no boost.
	weightingCutoffHz = 1000.0
)

// Band is one displayed frequency bucket covering FFT bins
// [FirstBin, LastBin] inclusive.
type Band struct {
	Center   float64 // Hz
	FirstBin int
	LastBin  int
	Boost    float64 // dB, added before normalization
	Amp      float64 // smoothed amplitude in [0,1]
	Prev     float64 // Amp of the previous frame
}

// Contains reports whether bin falls inside the band.
func (b Band) Contains(bin int) bool {
	return bin >= b.FirstBin && bin <= b.LastBin
}

// buildBands splits [LowEdgeHz, min(sampleRate/2, HighEdgeHz)] into count
// logarithmically spaced bands. Each band starts one bin after the previous
// one ends, so the bins from 0 up to the high edge are covered exactly once.
// The lowest band also absorbs the bins under LowEdgeHz. Since the octave
// count is rounded up, the top bands may reach the high edge early and are
// then squeezed to one bin each.
func buildBands(count, sampleRate, windowLen int) ([]Band, error) {
	if count < 1 || count > MaxBands {
		return nil, fmt.Errorf("band count must be between 1 and %d, got %d", MaxBands, count)
	}

	binHz := float64(sampleRate) / float64(windowLen)
	high := math.Min(float64(sampleRate)/2, HighEdgeHz)
	if high <= LowEdgeHz {
		return nil, fmt.Errorf("sample rate %d leaves no room above %.0f Hz", sampleRate, LowEdgeHz)
	}

	maxBin := windowLen / 2
	highBin := min(int(math.Floor(high/binHz+edgeEpsilon)), maxBin)

	octaves := math.Ceil(math.Log2(high / LowEdgeHz))
	step := math.Pow(2, octaves/float64(count))
	half := math.Sqrt(step)

	bands := make([]Band, count)
	center := LowEdgeHz * half
	next := 0
	for i := range bands {
		upper := math.Min(center*half, high)
		last := int(math.Floor(upper/binHz + edgeEpsilon))
		if i == count-1 {
			last = highBin
		}
		// Every band gets at least one bin and leaves one for each band above.
		last = min(max(last, next), highBin-(count-1-i))
		if last < next {
			return nil, fmt.Errorf("%d bands exceed the %d bins available at %.2f Hz resolution", count, highBin+1, binHz)
		}

		bands[i] = Band{
			Center:   center,
			FirstBin: next,
			LastBin:  last,
			Boost:    bandBoost(center),
		}
		next = last + 1
		center *= step
	}
	return bands, nil
}

func bandBoost(center float64) float64 {
	if center >= weightingCutoffHz {
		return 0
	}
	return Itu468(center)
}

// Itu468 returns the ITU-R 468 noise weighting in dB at freq Hz. The curve is
// normalized to 0 dB at 1 kHz.
func Itu468(freq float64) float64 {
	f := freq
	f2 := f * f
	f3 := f2 * f
	f4 := f3 * f
	f5 := f4 * f
	f6 := f5 * f

	h1 := -4.737338981378384e-24*f6 + 2.043828333606125e-15*f4 - 1.363894795463638e-07*f2 + 1
	h2 := 1.306612257412824e-19*f5 - 2.118150887518656e-11*f3 + 5.559488023498642e-04*f
	r := 1.246332637532143e-04 * f / math.Hypot(h1, h2)

	return 18.2 + 20*math.Log10(r)
}

// Smoothing factors: a falling value keeps 80% of the previous level, a
// rising value takes 80% of the new one.
const (
	smoothDown = 0.2
	smoothUp   = 0.8
)

// Smooth moves prev toward v with a slow release and a fast attack. The
// result always lies between prev and v, and equals prev when v == prev.
func Smooth(prev, v float64) float64 {
	if v < prev {
		return prev + smoothDown*(v-prev)
	}
	return prev + smoothUp*(v-prev)
}
