// SPDX-License-Identifier: MIT
package fft

import (
	"fmt"

	"visualizer/pkg/bitint"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// workspace holds pre-allocated buffers for the transform.
type workspace struct {
	input  []float64    // ...for windowed real input
	coeffs []complex128 // ...for the size/2+1 complex bins
	window []float64    // ...for Blackman-Harris coefficients
}

// Processor runs a fixed-size real-to-complex FFT over a Blackman-Harris
// windowed block. The gonum plan is created on the first Transform and reused
// for the life of the processor.
type Processor struct {
	size      int
	plan      *fourier.FFT
	workspace workspace
}

// NewProcessor pre-allocates all buffers and computes the window table.
func NewProcessor(size int) (*Processor, error) {
	if !bitint.IsPowerOfTwo(size) || size < 2 {
		return nil, fmt.Errorf("fft size must be a power of 2, got %d", size)
	}

	coeffs := make([]float64, size)
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	window.BlackmanHarris(coeffs)

	return &Processor{
		size: size,
		workspace: workspace{
			input:  make([]float64, size),
			coeffs: make([]complex128, size/2+1),
			window: coeffs,
		},
	}, nil
}

// Size is the transform length.
func (p *Processor) Size() int { return p.size }

// Bins is the number of complex output bins, size/2+1.
func (p *Processor) Bins() int { return len(p.workspace.coeffs) }

// Window returns the coefficient table. Callers must not modify it.
func (p *Processor) Window() []float64 { return p.workspace.window }

// Transform multiplies samples by the window and returns the complex
// spectrum. samples shorter than Size are zero padded. The returned slice is
// owned by the processor and overwritten by the next call.
func (p *Processor) Transform(samples []float64) []complex128 {
	in := p.workspace.input
	n := min(len(samples), p.size)
	for i := range n {
		in[i] = samples[i] * p.workspace.window[i]
	}
	for i := n; i < p.size; i++ {
		in[i] = 0
	}

	if p.plan == nil {
		p.plan = fourier.NewFFT(p.size)
	}
	return p.plan.Coefficients(p.workspace.coeffs, in)
}

// BinFrequency returns the centre frequency in Hz of bin i.
func (p *Processor) BinFrequency(i int, sampleRate float64) float64 {
	if i < 0 || i >= len(p.workspace.coeffs) {
		return 0
	}
	return float64(i) * sampleRate / float64(p.size)
}
