// SPDX-License-Identifier: MIT
package imageload

import (
	"bufio"
	"fmt"
	"image"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"time"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// gifDelayUnit is the GIF frame delay resolution.
const gifDelayUnit = 10 * time.Millisecond

// Load decodes and scales req synchronously.
func Load(req Request) Result {
	res := Result{Request: req}

	f, err := os.Open(req.Path)
	if err != nil {
		res.Err = fmt.Errorf("failed to open image: %w", err)
		return res
	}
	defer f.Close()

	br := bufio.NewReader(f)
	_, format, err := image.DecodeConfig(br)
	if err != nil {
		res.Err = fmt.Errorf("failed to decode %s: %w", req.Path, err)
		return res
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		res.Err = err
		return res
	}
	br.Reset(f)

	if format == "gif" {
		res.Frames, res.Delays, res.Err = decodeGIF(br, req.Width, req.Height)
	} else {
		var img image.Image
		img, _, err = image.Decode(br)
		if err != nil {
			res.Err = fmt.Errorf("failed to decode %s: %w", req.Path, err)
			return res
		}
		res.Frames = [][]byte{ScaleBGR(img, req.Width, req.Height)}
	}
	if res.Err != nil {
		res.Err = fmt.Errorf("failed to decode %s: %w", req.Path, res.Err)
	}
	return res
}

// decodeGIF composites every frame onto a full-size canvas before scaling,
// since GIF frames may only cover part of the image.
func decodeGIF(r io.Reader, width, height int) ([][]byte, []time.Duration, error) {
	g, err := gif.DecodeAll(r)
	if err != nil {
		return nil, nil, err
	}
	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() && len(g.Image) > 0 {
		bounds = g.Image[0].Bounds()
	}
	canvas := image.NewRGBA(bounds)

	frames := make([][]byte, 0, len(g.Image))
	delays := make([]time.Duration, 0, len(g.Image))
	for i, frame := range g.Image {
		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
		frames = append(frames, ScaleBGR(canvas, width, height))
		var d time.Duration
		if i < len(g.Delay) {
			d = time.Duration(g.Delay[i]) * gifDelayUnit
		}
		delays = append(delays, d)
	}
	return frames, delays, nil
}

// ScaleBGR scales img to width x height and packs it as top-down BGR24.
func ScaleBGR(img image.Image, width, height int) []byte {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	out := make([]byte, width*height*3)
	for i, j := 0, 0; i < len(dst.Pix); i, j = i+4, j+3 {
		out[j] = dst.Pix[i+2]
		out[j+1] = dst.Pix[i+1]
		out[j+2] = dst.Pix[i]
	}
	return out
}
