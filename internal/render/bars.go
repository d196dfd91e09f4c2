// SPDX-License-Identifier: MIT
// Package render holds the built-in frame renderers.
package render

import (
	"fmt"
	"math"
	"time"

	"visualizer/internal/imageload"
	"visualizer/internal/log"
	"visualizer/internal/stream"
)

// BGR is a pixel in frame byte order.
type BGR [3]byte

// DefaultBarColor is a light cyan.
var DefaultBarColor = BGR{0xf0, 0xd0, 0x40}

// Bars draws one vertical bar per band over an optional background image.
// Swap toggles between bottom-anchored and centre-mirrored bars.
type Bars struct {
	width  int
	height int
	color  BGR
	gap    int

	images  *imageload.Pool
	bgPath  string
	bgTag   int
	bg      [][]byte
	bgDelay []time.Duration
	bgCycle time.Duration

	mirror bool
}

// BarsOption configures Bars.
type BarsOption func(*Bars)

// WithColor sets the bar colour.
func WithColor(c BGR) BarsOption {
	return func(b *Bars) { b.color = c }
}

// WithGap leaves gap empty columns between bars.
func WithGap(gap int) BarsOption {
	return func(b *Bars) { b.gap = max(gap, 0) }
}

// WithBackground loads path through pool, tagging requests with tag.
func WithBackground(pool *imageload.Pool, path string, tag int) BarsOption {
	return func(b *Bars) {
		b.images = pool
		b.bgPath = path
		b.bgTag = tag
	}
}

// NewBars builds a renderer for width x height frames and requests the
// background image, if any.
func NewBars(width, height int, opts ...BarsOption) (*Bars, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("render: bad frame size %dx%d", width, height)
	}
	b := &Bars{width: width, height: height, color: DefaultBarColor, gap: 1}
	for _, opt := range opts {
		opt(b)
	}
	if err := b.Reload(); err != nil {
		return nil, err
	}
	return b, nil
}

// Render paints the background and the bars into f.Pixels.
func (b *Bars) Render(f *stream.Frame) error {
	if len(f.Pixels) != b.width*b.height*3 {
		return fmt.Errorf("render: frame is %d bytes, want %d", len(f.Pixels), b.width*b.height*3)
	}
	if bg := b.background(f.Elapsed); bg != nil {
		copy(f.Pixels, bg)
	}

	n := len(f.Amplitudes)
	if n == 0 {
		return nil
	}
	slot := b.width / n
	if slot == 0 {
		slot = 1
	}
	barWidth := max(slot-b.gap, 1)

	for i, amp := range f.Amplitudes {
		x0 := i * slot
		if x0 >= b.width {
			break
		}
		x1 := min(x0+barWidth, b.width)
		h := int(math.Round(clamp01(amp) * float64(b.height)))
		if h == 0 {
			continue
		}

		top, bottom := b.height-h, b.height
		if b.mirror {
			top = (b.height - h) / 2
			bottom = top + h
		}
		for y := top; y < bottom; y++ {
			row := f.Pixels[y*b.width*3:]
			for x := x0; x < x1; x++ {
				copy(row[x*3:x*3+3], b.color[:])
			}
		}
	}
	return nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	}
	return v
}

// background picks the animation frame for elapsed, looping over the total
// delay of all frames.
func (b *Bars) background(elapsed time.Duration) []byte {
	switch len(b.bg) {
	case 0:
		return nil
	case 1:
		return b.bg[0]
	}
	if b.bgCycle <= 0 {
		return b.bg[0]
	}
	t := elapsed % b.bgCycle
	for i, d := range b.bgDelay {
		if t < d {
			return b.bg[i]
		}
		t -= d
	}
	return b.bg[len(b.bg)-1]
}

// Reload requests the background image again.
func (b *Bars) Reload() error {
	if b.images == nil || b.bgPath == "" {
		return nil
	}
	err := b.images.Submit(imageload.Request{Tag: b.bgTag, Path: b.bgPath, Width: b.width, Height: b.height})
	if err != nil {
		return fmt.Errorf("failed to request background %s: %w", b.bgPath, err)
	}
	log.Debugf("Render: Requested background %s", b.bgPath)
	return nil
}

// Swap toggles the mirrored layout.
func (b *Bars) Swap() error {
	b.mirror = !b.mirror
	log.Infof("Render: Mirrored bars %v", b.mirror)
	return nil
}

// ImageLoaded installs a decoded background carrying this renderer's tag.
func (b *Bars) ImageLoaded(res imageload.Result) {
	if res.Tag != b.bgTag {
		return
	}
	if res.Err != nil {
		log.Warnf("Render: Background unavailable: %v", res.Err)
		return
	}
	b.bg = res.Frames
	b.bgDelay = res.Delays
	b.bgCycle = 0
	for _, d := range res.Delays {
		b.bgCycle += d
	}
}

var (
	_ stream.Renderer      = (*Bars)(nil)
	_ stream.Reloader      = (*Bars)(nil)
	_ stream.Swapper       = (*Bars)(nil)
	_ stream.ImageConsumer = (*Bars)(nil)
)
