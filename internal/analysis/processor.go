// SPDX-License-Identifier: MIT
package analysis

// HopProcessor advances analysis by one hop of buffered audio. Implementations
// must not allocate, as Analyze runs once per synthesized frame.
type HopProcessor interface {
	Analyze() error
	Ready() bool
}

// SpectrumProvider exposes the latest analysis results. This decouples
// consumers (renderers, band publishers) from the analyzer itself.
type SpectrumProvider interface {
	Amplitudes() []float64 // Amplitudes returns the smoothed per-band levels in [0,1].
	Bands() []Band         // Bands returns the band table, including bin ranges.
	BinHz() float64        // BinHz returns the FFT bin width in Hz.
	SampleRate() int       // SampleRate returns the analyzed sample rate.
}
