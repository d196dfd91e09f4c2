// SPDX-License-Identifier: MIT
package analysis

import "fmt"

// ChannelLayout selects the downmix applied to interleaved PCM.
type ChannelLayout int

const (
	Mono ChannelLayout = iota + 1
	Stereo
)

// LayoutFor maps a channel count to its layout.
func LayoutFor(channels int) (ChannelLayout, error) {
	switch channels {
	case 1:
		return Mono, nil
	case 2:
		return Stereo, nil
	default:
		return 0, fmt.Errorf("channel count must be 1 or 2, got %d", channels)
	}
}

// Channels is the number of interleaved channels per frame.
func (l ChannelLayout) Channels() int { return int(l) }

func (l ChannelLayout) String() string {
	switch l {
	case Mono:
		return "mono"
	case Stereo:
		return "stereo"
	default:
		return "unknown"
	}
}

// sampleMax is the normalization divisor for a sample width in bytes.
func sampleMax(width int) float64 {
	if width == 1 {
		return 256
	}
	return float64(int64(1) << (8*width - 1))
}

// decodeSample reads one signed little-endian sample of width bytes.
func decodeSample(b []byte, width int) int32 {
	switch width {
	case 1:
		return int32(int8(b[0]))
	case 2:
		return int32(int16(uint16(b[0]) | uint16(b[1])<<8))
	default:
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		if b[2]&0x80 != 0 {
			v |= ^0xffffff
		}
		return v
	}
}

// downmix decodes len(dst) interleaved frames from src into normalized mono
// samples. Stereo frames are averaged in int32, which has headroom for any
// pair of 24-bit samples.
func (l ChannelLayout) downmix(dst []float64, src []byte, width int) {
	norm := sampleMax(width)
	switch l {
	case Stereo:
		stride := 2 * width
		for i := range dst {
			off := i * stride
			left := decodeSample(src[off:], width)
			right := decodeSample(src[off+width:], width)
			dst[i] = float64((left+right)/2) / norm
		}
	default:
		for i := range dst {
			dst[i] = float64(decodeSample(src[i*width:], width)) / norm
		}
	}
}
