// SPDX-License-Identifier: MIT
package stream

import (
	"time"

	"visualizer/internal/analysis"
	"visualizer/internal/imageload"
	"visualizer/internal/metadata"
)

// Frame is everything a renderer sees for one video frame. It is reused
// between frames, so implementations must not keep references to its slices.
type Frame struct {
	Number     uint64
	Width      int
	Height     int
	Pixels     []byte // top-down BGR24, cleared before each Render
	Amplitudes []float64
	Bands      []analysis.Band
	Audio      []byte // the PCM hop muxed with this frame
	Elapsed    time.Duration
	NowPlaying metadata.NowPlaying
}

// Renderer draws one frame into f.Pixels.
type Renderer interface {
	Render(f *Frame) error
}

// Reloader is implemented by renderers that can reload their resources
// (SIGUSR1).
type Reloader interface {
	Reload() error
}

// Swapper is implemented by renderers with alternate presentations
// (SIGUSR2).
type Swapper interface {
	Swap() error
}

// ImageConsumer receives finished image loads.
type ImageConsumer interface {
	ImageLoaded(res imageload.Result)
}

// Tap observes each frame after it is rendered. Taps run on the scheduler
// goroutine and must not block.
type Tap interface {
	OnFrame(f *Frame)
}

// TapFunc adapts a function to Tap.
type TapFunc func(f *Frame)

func (fn TapFunc) OnFrame(f *Frame) { fn(f) }
