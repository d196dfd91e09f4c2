// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"math"
	"testing"

	"visualizer/pkg/utils"
)

func testConfig() Config {
	return Config{
		SampleRate:  44100,
		Channels:    2,
		SampleWidth: 2,
		FrameRate:   30,
		Bands:       20,
	}
}

func TestNewDerivedGeometry(t *testing.T) {
	tests := []struct {
		name       string
		sampleRate int
		frameRate  int
		hop        int
		window     int
	}{
		{"CD at 30fps", 44100, 30, 1470, 4096},
		{"48k at 60fps", 48000, 60, 800, 4096},
		{"slow frame rate", 48000, 5, 9600, 16384},
		{"hi-res", 192000, 24, 8000, 8192},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.SampleRate = tt.sampleRate
			cfg.FrameRate = tt.frameRate

			a, err := New(cfg)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if a.HopLen() != tt.hop {
				t.Errorf("HopLen() = %d, want %d", a.HopLen(), tt.hop)
			}
			if a.WindowLen() != tt.window {
				t.Errorf("WindowLen() = %d, want %d", a.WindowLen(), tt.window)
			}
			if want := float64(tt.sampleRate) / float64(tt.window); a.BinHz() != want {
				t.Errorf("BinHz() = %g, want %g", a.BinHz(), want)
			}
			if a.HopBytes() != tt.hop*4 {
				t.Errorf("HopBytes() = %d, want %d", a.HopBytes(), tt.hop*4)
			}
		})
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"too many channels", func(c *Config) { c.Channels = 3 }},
		{"no channels", func(c *Config) { c.Channels = 0 }},
		{"sample width too big", func(c *Config) { c.SampleWidth = 4 }},
		{"zero sample width", func(c *Config) { c.SampleWidth = 0 }},
		{"zero frame rate", func(c *Config) { c.FrameRate = 0 }},
		{"zero sample rate", func(c *Config) { c.SampleRate = 0 }},
		{"no bands", func(c *Config) { c.Bands = 0 }},
		{"too many bands", func(c *Config) { c.Bands = MaxBands + 1 }},
		{"bands finer than bins", func(c *Config) { c.SampleRate = 192000; c.FrameRate = 48; c.Bands = 256 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("New() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestAnalyzeUnderflow(t *testing.T) {
	a, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}

	a.Samples().Write(make([]byte, a.HopBytes()-1))
	if a.Ready() {
		t.Fatal("Ready() = true with less than one hop buffered")
	}
	if err := a.Analyze(); !errors.Is(err, ErrUnderflow) {
		t.Fatalf("Analyze() error = %v, want ErrUnderflow", err)
	}
	if a.Samples().BytesUsed() != a.HopBytes()-1 {
		t.Errorf("underflow consumed %d bytes", a.HopBytes()-1-a.Samples().BytesUsed())
	}

	a.Samples().Write([]byte{0})
	if err := a.Analyze(); err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if !a.Samples().Empty() {
		t.Errorf("Analyze() left %d bytes", a.Samples().BytesUsed())
	}
}

func TestAnalyzeSilenceIsZero(t *testing.T) {
	a, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	for range 3 {
		a.Samples().Write(make([]byte, a.HopBytes()))
		if err := a.Analyze(); err != nil {
			t.Fatal(err)
		}
	}
	for i, amp := range a.Amplitudes() {
		if amp != 0 {
			t.Errorf("band %d amplitude = %g for silence, want 0", i, amp)
		}
	}
}

// One second of a 1 kHz sine must peak in the band holding bin
// round(1000/binHz) once the sliding window has filled.
func TestAnalyzeSineEndToEnd(t *testing.T) {
	cfg := testConfig()
	a, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	pcm := utils.GenerateSinePCM(cfg.SampleRate, cfg.SampleRate, cfg.Channels, cfg.SampleWidth, 1000, 0.5)
	a.Samples().Write(pcm)

	frames := 0
	for a.Ready() {
		if err := a.Analyze(); err != nil {
			t.Fatal(err)
		}
		frames++
	}
	if frames != cfg.FrameRate {
		t.Fatalf("analyzed %d frames, want %d", frames, cfg.FrameRate)
	}

	target := int(math.Round(1000 / a.BinHz()))
	want := -1
	for i, b := range a.Bands() {
		if b.Contains(target) {
			want = i
		}
	}
	if want < 0 {
		t.Fatalf("no band covers bin %d", target)
	}

	amps := a.Amplitudes()
	got := utils.FindPeakBin(amps, 0, len(amps)-1)
	if got != want {
		t.Fatalf("loudest band = %d (%v), want %d", got, amps, want)
	}
	for i, amp := range amps {
		if i != want && amp >= amps[want] {
			t.Errorf("band %d amplitude %g ties the 1 kHz band %g", i, amp, amps[want])
		}
	}
}

func TestAnalyzeFirstFrameSkipsSmoothing(t *testing.T) {
	cfg := testConfig()
	a, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	// A full scale sine saturates its band on the first frame.
	pcm := utils.GenerateSinePCM(a.WindowLen(), cfg.SampleRate, cfg.Channels, cfg.SampleWidth, 1000, 1.0)
	a.Samples().Write(pcm[:a.HopBytes()])
	if err := a.Analyze(); err != nil {
		t.Fatal(err)
	}
	first := append([]float64(nil), a.Amplitudes()...)

	a.Reset()
	a.Samples().Write(pcm[:a.HopBytes()])
	if err := a.Analyze(); err != nil {
		t.Fatal(err)
	}
	for i, amp := range a.Amplitudes() {
		if amp != first[i] {
			t.Errorf("band %d after Reset = %g, want %g", i, amp, first[i])
		}
	}
}

func TestSetChannels(t *testing.T) {
	a, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	stereo := a.HopBytes()

	if err := a.SetChannels(1); err != nil {
		t.Fatal(err)
	}
	if a.HopBytes() != stereo/2 {
		t.Errorf("mono HopBytes() = %d, want %d", a.HopBytes(), stereo/2)
	}
	if err := a.SetChannels(3); err == nil {
		t.Error("SetChannels(3) expected error")
	}
	if err := a.SetChannels(2); err != nil {
		t.Fatal(err)
	}
	if a.HopBytes() != stereo {
		t.Errorf("stereo HopBytes() = %d, want %d", a.HopBytes(), stereo)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		db    float64
		boost float64
		want  float64
	}{
		{"negative infinity", math.Inf(-1), 0, 0},
		{"NaN", math.NaN(), 0, 0},
		{"positive infinity is silence", math.Inf(1), 0, 0},
		{"below floor", -90, 0, 0},
		{"floor", -70, 0, 0},
		{"mid", -35, 0, 0.9},
		{"saturates", -20, 0, 1},
		{"boost lowers level", -35, -35, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalize(tt.db, tt.boost)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("normalize(%g, %g) = %g, want %g", tt.db, tt.boost, got, tt.want)
			}
		})
	}
}

func TestAnalyzeHotPath(t *testing.T) {
	a, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	hop := make([]byte, a.HopBytes())

	// Warm-up call creates the FFT plan.
	a.Samples().Write(hop)
	_ = a.Analyze()

	allocs := testing.AllocsPerRun(50, func() {
		a.Samples().Write(hop)
		_ = a.Analyze()
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in Analyze hot path, got %.1f", allocs)
	}
}

func BenchmarkAnalyze(b *testing.B) {
	cfg := testConfig()
	a, err := New(cfg)
	if err != nil {
		b.Fatal(err)
	}
	pcm := utils.GenerateSinePCM(a.HopLen(), cfg.SampleRate, cfg.Channels, cfg.SampleWidth, 440, 0.5)

	b.ReportAllocs()
	for b.Loop() {
		a.Samples().Write(pcm)
		_ = a.Analyze()
	}
}
