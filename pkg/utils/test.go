// SPDX-License-Identifier: MIT
package utils

import "math"

func GenerateComplexWave(size int, sampleRate float64) []int32 {
	buffer := make([]int32, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2 // 440Hz fundamental + harmonics
		buffer[i] = int32(signal * math.MaxInt32 * 0.9)
	}
	return buffer
}

func GenerateSineWave(size int, sampleRate, frequency float64) []int32 {
	buffer := make([]int32, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = int32(math.Sin(2*math.Pi*frequency*t) * math.MaxInt32 * 0.9)
	}
	return buffer
}

// PutSample stores v as a little-endian signed sample of width bytes.
func PutSample(dst []byte, v int32, width int) {
	for i := range width {
		dst[i] = byte(v >> (8 * i))
	}
}

// GenerateSinePCM returns frames of interleaved little-endian PCM with the
// same sine in every channel. amplitude is relative to full scale.
func GenerateSinePCM(frames, sampleRate, channels, width int, frequency, amplitude float64) []byte {
	full := float64(int64(1)<<(8*width-1) - 1)
	out := make([]byte, frames*channels*width)
	for i := range frames {
		v := int32(math.Round(amplitude * full * math.Sin(2*math.Pi*frequency*float64(i)/float64(sampleRate))))
		for c := range channels {
			PutSample(out[(i*channels+c)*width:], v, width)
		}
	}
	return out
}

func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}

	if startBin < 0 {
		startBin = 0
	}

	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]

	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}

	return peakBin
}
