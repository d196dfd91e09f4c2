// SPDX-License-Identifier: MIT
package avi

import "encoding/binary"

// HeaderLen is the size of the stream header written on every (re)connect.
const HeaderLen = 326

// Chunk tags of the two streams inside 'movi'.
const (
	videoChunkTag = "00db"
	audioChunkTag = "01wb"
	chunkHeadLen  = 8
)

// field is one little-endian header entry. Fields not listed are zero. A
// non-empty tag writes a FourCC; otherwise value is evaluated for params.
type field struct {
	name   string
	offset int
	size   int // 2 or 4
	tag    string
	value  func(p Params) uint32
}

func fourcc(name string, offset int, tag string) field {
	return field{name: name, offset: offset, size: 4, tag: tag}
}

func dword(name string, offset int, value func(p Params) uint32) field {
	return field{name: name, offset: offset, size: 4, value: value}
}

func word(name string, offset int, value func(p Params) uint32) field {
	return field{name: name, offset: offset, size: 2, value: value}
}

func fixed(v uint32) func(Params) uint32 {
	return func(Params) uint32 { return v }
}

var (
	frameWidth      = func(p Params) uint32 { return uint32(p.Width) }
	frameHeight     = func(p Params) uint32 { return uint32(p.Height) }
	framesPerSec    = func(p Params) uint32 { return uint32(p.FrameRate) }
	samplesPerSec   = func(p Params) uint32 { return uint32(p.SampleRate) }
	videoBytes      = func(p Params) uint32 { return uint32(p.videoFrameLen()) }
	audioBlockAlign = func(p Params) uint32 { return uint32(p.SampleWidth * p.Channels) }
	audioByteRate   = func(p Params) uint32 { return uint32(p.SampleRate * p.SampleWidth * p.Channels) }
)

// headerFields is the complete RIFF/AVI header layout: an hdrl list with the
// main header and one video and one audio stream list, then an open-ended
// movi list. RIFF and movi sizes stay zero since the stream never ends.
var headerFields = []field{
	fourcc("RIFF", 0, "RIFF"),
	fourcc("RIFF.type", 8, "AVI "),
	fourcc("hdrl", 12, "LIST"),
	dword("hdrl.size", 16, fixed(294)),
	fourcc("hdrl.type", 20, "hdrl"),

	fourcc("avih", 24, "avih"),
	dword("avih.size", 28, fixed(56)),
	dword("avih.dwMicroSecPerFrame", 32, func(p Params) uint32 { return uint32(1000000 / p.FrameRate) }),
	dword("avih.dwMaxBytesPerSec", 36, videoBytes),
	dword("avih.dwFlags", 44, fixed(0x10)),
	dword("avih.dwStreams", 56, fixed(2)),
	dword("avih.dwSuggestedBufferSize", 60, videoBytes),
	dword("avih.dwWidth", 64, frameWidth),
	dword("avih.dwHeight", 68, frameHeight),

	fourcc("strl.video", 88, "LIST"),
	dword("strl.video.size", 92, fixed(116)),
	fourcc("strl.video.type", 96, "strl"),
	fourcc("strh.video", 100, "strh"),
	dword("strh.video.size", 104, fixed(56)),
	fourcc("strh.video.fccType", 108, "vids"),
	dword("strh.video.dwScale", 128, fixed(1)),
	dword("strh.video.dwRate", 132, framesPerSec),
	dword("strh.video.dwSuggestedBufferSize", 144, videoBytes),
	fourcc("strf.video", 164, "strf"),
	dword("strf.video.size", 168, fixed(40)),
	dword("strf.video.biSize", 172, fixed(40)),
	dword("strf.video.biWidth", 176, frameWidth),
	dword("strf.video.biHeight", 180, frameHeight),
	word("strf.video.biPlanes", 184, fixed(1)),
	word("strf.video.biBitCount", 186, fixed(24)),
	dword("strf.video.biSizeImage", 192, videoBytes),

	fourcc("strl.audio", 212, "LIST"),
	dword("strl.audio.size", 216, fixed(94)),
	fourcc("strl.audio.type", 220, "strl"),
	fourcc("strh.audio", 224, "strh"),
	dword("strh.audio.size", 228, fixed(56)),
	fourcc("strh.audio.fccType", 232, "auds"),
	dword("strh.audio.fccHandler", 236, fixed(1)),
	dword("strh.audio.dwScale", 252, fixed(1)),
	dword("strh.audio.dwRate", 256, samplesPerSec),
	dword("strh.audio.dwSuggestedBufferSize", 268, audioByteRate),
	dword("strh.audio.dwSampleSize", 276, audioBlockAlign),
	fourcc("strf.audio", 288, "strf"),
	dword("strf.audio.size", 292, fixed(18)),
	word("strf.audio.wFormatTag", 296, fixed(1)), // PCM
	word("strf.audio.nChannels", 298, func(p Params) uint32 { return uint32(p.Channels) }),
	dword("strf.audio.nSamplesPerSec", 300, samplesPerSec),
	dword("strf.audio.nAvgBytesPerSec", 304, audioByteRate),
	word("strf.audio.nBlockAlign", 308, audioBlockAlign),
	word("strf.audio.wBitsPerSample", 310, func(p Params) uint32 { return uint32(p.SampleWidth * 8) }),

	fourcc("movi", 314, "LIST"),
	fourcc("movi.type", 322, "movi"),
}

// encodeHeader serializes every field of headerFields into dst.
func encodeHeader(dst *[HeaderLen]byte, p Params) {
	clear(dst[:])
	for _, f := range headerFields {
		b := dst[f.offset : f.offset+f.size]
		switch {
		case f.tag != "":
			copy(b, f.tag)
		case f.size == 2:
			binary.LittleEndian.PutUint16(b, uint16(f.value(p)))
		default:
			binary.LittleEndian.PutUint32(b, f.value(p))
		}
	}
}

// putChunkHead writes an 8 byte tag+length chunk header.
func putChunkHead(dst []byte, tag string, n int) {
	copy(dst, tag)
	binary.LittleEndian.PutUint32(dst[4:], uint32(n))
}
