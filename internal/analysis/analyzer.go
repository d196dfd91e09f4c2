// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"visualizer/internal/fft"
	"visualizer/internal/log"
	"visualizer/internal/ringbuf"
	"visualizer/pkg/bitint"
)

// ErrUnderflow is returned by Analyze when less than one hop of audio is
// buffered. Nothing is consumed in that case.
var ErrUnderflow = errors.New("analysis: less than one hop buffered")

// ErrInvalidConfig wraps every configuration rejection from New.
var ErrInvalidConfig = errors.New("analysis: invalid configuration")

const (
	// MinWindowLen is the smallest FFT size regardless of hop length.
	MinWindowLen = 4096

	// intakeSeconds sizes the raw sample ring.
	intakeSeconds = 4

	// Level mapping, in dB.
	silenceDB = -1000.0
	floorDB   = -70.0
	ceilingDB = 70.0
	levelGain = 1.8
)

// Config is the fixed analyzer configuration.
type Config struct {
	SampleRate  int // Hz
	Channels    int // 1 or 2
	SampleWidth int // bytes per sample, 1 to 3
	FrameRate   int // output frames per second
	Bands       int // displayed bands
}

// Analyzer turns raw interleaved PCM into smoothed per-band amplitudes, one
// hop per output frame, over a sliding window much longer than the hop.
type Analyzer struct {
	cfg    Config
	layout ChannelLayout

	hopLen    int
	windowLen int
	binHz     float64

	samples *ringbuf.Buffer
	hopBuf  []byte // sized for stereo so SetChannels never reallocates
	hop     []byte // current view into hopBuf

	history []float64 // windowLen normalized mono samples, oldest first
	fft     *fft.Processor

	bands []Band
	amps  []float64
	first bool
}

// Compile-time checks for interface implementations.
var _ HopProcessor = (*Analyzer)(nil)
var _ SpectrumProvider = (*Analyzer)(nil)

// New validates cfg and allocates every buffer the analyzer will ever use.
func New(cfg Config) (*Analyzer, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate must be positive, got %d", ErrInvalidConfig, cfg.SampleRate)
	}
	if cfg.FrameRate <= 0 || cfg.FrameRate > cfg.SampleRate {
		return nil, fmt.Errorf("%w: frame rate must be between 1 and the sample rate, got %d", ErrInvalidConfig, cfg.FrameRate)
	}
	layout, err := LayoutFor(cfg.Channels)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.SampleWidth < 1 || cfg.SampleWidth > 3 {
		return nil, fmt.Errorf("%w: sample width must be 1 to 3 bytes, got %d", ErrInvalidConfig, cfg.SampleWidth)
	}

	hopLen := cfg.SampleRate / cfg.FrameRate
	windowLen := max(MinWindowLen, bitint.NextPowerOfTwo(hopLen))

	bands, err := buildBands(cfg.Bands, cfg.SampleRate, windowLen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	proc, err := fft.NewProcessor(windowLen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	a := &Analyzer{
		cfg:       cfg,
		layout:    layout,
		hopLen:    hopLen,
		windowLen: windowLen,
		binHz:     float64(cfg.SampleRate) / float64(windowLen),
		samples:   ringbuf.New(intakeSeconds * cfg.SampleRate * cfg.Channels * cfg.SampleWidth),
		hopBuf:    make([]byte, hopLen*Stereo.Channels()*cfg.SampleWidth),
		history:   make([]float64, windowLen),
		fft:       proc,
		bands:     bands,
		amps:      make([]float64, len(bands)),
		first:     true,
	}
	a.hop = a.hopBuf[:a.HopBytes()]

	log.Infof("Analysis: Initializing analyzer (SampleRate: %d Hz, %s, %d-bit, Hop: %d, Window: %d, Bands: %d)",
		cfg.SampleRate, layout, cfg.SampleWidth*8, hopLen, windowLen, len(bands))
	return a, nil
}

// Samples is the raw PCM intake ring. The scheduler fills it directly from
// the audio input.
func (a *Analyzer) Samples() *ringbuf.Buffer { return a.samples }

// HopLen is the number of sample frames consumed per Analyze.
func (a *Analyzer) HopLen() int { return a.hopLen }

// HopBytes is HopLen in bytes at the current channel layout.
func (a *Analyzer) HopBytes() int {
	return a.hopLen * a.layout.Channels() * a.cfg.SampleWidth
}

// WindowLen is the FFT size.
func (a *Analyzer) WindowLen() int { return a.windowLen }

// BinHz is the width of one FFT bin.
func (a *Analyzer) BinHz() float64 { return a.binHz }

// SampleRate implements SpectrumProvider.
func (a *Analyzer) SampleRate() int { return a.cfg.SampleRate }

// Channels is the current channel count.
func (a *Analyzer) Channels() int { return a.layout.Channels() }

// SampleWidth is the sample width in bytes.
func (a *Analyzer) SampleWidth() int { return a.cfg.SampleWidth }

// FrameRate is the configured output frame rate.
func (a *Analyzer) FrameRate() int { return a.cfg.FrameRate }

// SamplesAvailable is the number of whole sample frames buffered.
func (a *Analyzer) SamplesAvailable() int {
	return a.samples.BytesUsed() / (a.layout.Channels() * a.cfg.SampleWidth)
}

// Ready reports whether at least one hop is buffered.
func (a *Analyzer) Ready() bool {
	return a.samples.BytesUsed() >= len(a.hop)
}

// Hop returns the raw PCM bytes consumed by the last Analyze. The slice is
// reused by the next call.
func (a *Analyzer) Hop() []byte { return a.hop }

// Amplitudes returns the smoothed band amplitudes of the last Analyze. The
// slice is owned by the analyzer.
func (a *Analyzer) Amplitudes() []float64 { return a.amps }

// Bands returns the band table. The slice is owned by the analyzer.
func (a *Analyzer) Bands() []Band { return a.bands }

// SetChannels switches the downmix between mono and stereo. Buffers are not
// reallocated; the intake ring is cleared since its contents were framed for
// the old layout.
func (a *Analyzer) SetChannels(channels int) error {
	layout, err := LayoutFor(channels)
	if err != nil {
		return err
	}
	if layout == a.layout {
		return nil
	}
	a.layout = layout
	a.cfg.Channels = channels
	a.hop = a.hopBuf[:a.HopBytes()]
	a.samples.Reset()
	log.Infof("Analysis: Downmix switched to %s", layout)
	return nil
}

// Reset clears the sliding window and the smoothing history. The next
// Analyze behaves like the first one after construction.
func (a *Analyzer) Reset() {
	clear(a.history)
	clear(a.amps)
	for i := range a.bands {
		a.bands[i].Amp = 0
		a.bands[i].Prev = 0
	}
	a.first = true
}

// Analyze consumes one hop from the intake ring and updates every band.
func (a *Analyzer) Analyze() error {
	if !a.Ready() {
		return ErrUnderflow
	}
	if err := a.samples.Read(a.hop); err != nil {
		return err
	}

	// Slide the history left by one hop and decode the new hop at the tail.
	keep := a.windowLen - a.hopLen
	copy(a.history, a.history[a.hopLen:])
	a.layout.downmix(a.history[keep:], a.hop, a.cfg.SampleWidth)

	spectrum := a.fft.Transform(a.history)

	for i := range a.bands {
		b := &a.bands[i]
		level := normalize(peakDB(spectrum, b.FirstBin, b.LastBin, a.windowLen), b.Boost)

		b.Prev = b.Amp
		if a.first {
			b.Amp = level
		} else {
			b.Amp = Smooth(b.Prev, level)
		}
		a.amps[i] = b.Amp
	}
	a.first = false
	return nil
}

// peakDB is the loudest bin of [first, last] in dB relative to full scale.
func peakDB(spectrum []complex128, first, last, n int) float64 {
	peak := math.Inf(-1)
	for k := first; k <= last; k++ {
		db := 20 * math.Log10(2*cmplx.Abs(spectrum[k])/float64(n))
		if db > peak {
			peak = db
		}
	}
	return peak
}

// normalize maps a weighted dB level onto [0,1].
func normalize(db, boost float64) float64 {
	if math.IsNaN(db) || math.IsInf(db, 0) {
		db = silenceDB
	}
	db += boost
	if db < floorDB {
		db = floorDB
	}
	db -= floorDB
	if db > ceilingDB {
		db = ceilingDB
	}
	return math.Min(db/ceilingDB*levelGain, 1.0)
}
