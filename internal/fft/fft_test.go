// SPDX-License-Identifier: MIT
package fft

import (
	"math"
	"math/cmplx"
	"testing"
)

const (
	testFFTSize    = 4096
	testSampleRate = 44100
)

func TestNewProcessorRejectsBadSize(t *testing.T) {
	for _, size := range []int{0, 1, 3, 1000, -8} {
		if _, err := NewProcessor(size); err == nil {
			t.Errorf("NewProcessor(%d) expected error", size)
		}
	}
}

func TestBlackmanHarrisTable(t *testing.T) {
	p, err := NewProcessor(testFFTSize)
	if err != nil {
		t.Fatal(err)
	}

	a := 2 * math.Pi / float64(testFFTSize-1)
	for i, got := range p.Window() {
		x := float64(i)
		want := 0.35875 - 0.48829*math.Cos(a*x) + 0.14128*math.Cos(2*a*x) - 0.01168*math.Cos(3*a*x)
		if math.Abs(got-want) > 1e-9 {
			t.Fatalf("window[%d] = %g, want %g", i, got, want)
		}
	}
}

func TestTransformPeakBin(t *testing.T) {
	p, err := NewProcessor(testFFTSize)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		freq float64
	}{
		{"440 Hz", 440},
		{"1 kHz", 1000},
		{"5 kHz", 5000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples := make([]float64, testFFTSize)
			for i := range samples {
				samples[i] = 0.5 * math.Sin(2*math.Pi*tt.freq*float64(i)/testSampleRate)
			}

			out := p.Transform(samples)
			if len(out) != p.Bins() {
				t.Fatalf("got %d bins, want %d", len(out), p.Bins())
			}

			peak := 0
			for i := range out {
				if cmplx.Abs(out[i]) > cmplx.Abs(out[peak]) {
					peak = i
				}
			}

			want := int(math.Round(tt.freq * testFFTSize / testSampleRate))
			if peak < want-1 || peak > want+1 {
				t.Errorf("peak bin %d, want %d +/- 1", peak, want)
			}
		})
	}
}

func TestTransformZeroPads(t *testing.T) {
	p, err := NewProcessor(16)
	if err != nil {
		t.Fatal(err)
	}
	out := p.Transform([]float64{})
	for i, c := range out {
		if c != 0 {
			t.Fatalf("bin %d = %v, want 0 for empty input", i, c)
		}
	}
}

func TestBinFrequency(t *testing.T) {
	p, err := NewProcessor(testFFTSize)
	if err != nil {
		t.Fatal(err)
	}
	if got := p.BinFrequency(testFFTSize/2, testSampleRate); got != testSampleRate/2 {
		t.Errorf("Nyquist bin = %g, want %d", got, testSampleRate/2)
	}
	if got := p.BinFrequency(-1, testSampleRate); got != 0 {
		t.Errorf("out of range bin = %g, want 0", got)
	}
}

func TestTransformHotPath(t *testing.T) {
	p, err := NewProcessor(testFFTSize)
	if err != nil {
		t.Fatal(err)
	}
	samples := make([]float64, testFFTSize)
	for i := range samples {
		samples[i] = float64(i%256-128) / 128
	}

	// Warm-up call creates the plan.
	p.Transform(samples)
	allocs := testing.AllocsPerRun(100, func() {
		p.Transform(samples)
	})

	if allocs > 0 {
		t.Errorf("Expected zero allocations in FFT Transform hot path, got %.1f", allocs)
	}
}

func BenchmarkTransform(b *testing.B) {
	p, err := NewProcessor(testFFTSize)
	if err != nil {
		b.Fatal(err)
	}
	samples := make([]float64, testFFTSize)

	// Fundamental at 440Hz plus harmonics.
	for i := range samples {
		tm := float64(i) / testSampleRate
		samples[i] = math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2
	}

	b.ReportAllocs()
	for b.Loop() {
		p.Transform(samples)
	}
}
