// SPDX-License-Identifier: MIT
/*
Package avi frames rendered video and raw PCM into an endless RIFF/AVI
stream: one fixed header per connection, then interleaved records of

	[00db len][bottom-up BGR24 rows][01wb len][PCM]

Assembled records are queued in a ring buffer that the scheduler drains to
the output as it becomes writable.
*/
package avi

import (
	"errors"
	"fmt"
	"io"

	"visualizer/internal/ringbuf"
)

// ErrBadGeometry is returned when a frame dimension breaks DIB row alignment.
var ErrBadGeometry = errors.New("avi: width*3 and height*3 must be multiples of 4")

// Params describes both streams. They are fixed for the life of a Muxer.
type Params struct {
	Width       int
	Height      int
	FrameRate   int
	SampleRate  int
	Channels    int
	SampleWidth int // bytes
}

func (p Params) videoFrameLen() int { return p.Width * p.Height * 3 }

func (p Params) audioFrameLen() int {
	return (p.SampleRate / p.FrameRate) * p.Channels * p.SampleWidth
}

// Validate checks the DIB alignment rule and the audio format limits.
func (p Params) Validate() error {
	var errs []error
	if p.Width <= 0 || p.Height <= 0 {
		errs = append(errs, fmt.Errorf("%w: got %dx%d", ErrBadGeometry, p.Width, p.Height))
	}
	if (p.Width*3)%4 != 0 {
		errs = append(errs, fmt.Errorf("%w: bad width %d", ErrBadGeometry, p.Width))
	}
	if (p.Height*3)%4 != 0 {
		errs = append(errs, fmt.Errorf("%w: bad height %d", ErrBadGeometry, p.Height))
	}
	if p.FrameRate <= 0 || p.SampleRate < p.FrameRate {
		errs = append(errs, fmt.Errorf("avi: frame rate %d must be between 1 and the sample rate %d", p.FrameRate, p.SampleRate))
	}
	if p.Channels < 1 || p.Channels > 2 {
		errs = append(errs, fmt.Errorf("avi: channels must be 1 or 2, got %d", p.Channels))
	}
	if p.SampleWidth < 1 || p.SampleWidth > 3 {
		errs = append(errs, fmt.Errorf("avi: sample width must be 1 to 3 bytes, got %d", p.SampleWidth))
	}
	return errors.Join(errs...)
}

// Muxer owns the stream header and the assembled frame queue.
type Muxer struct {
	params   Params
	header   [HeaderLen]byte
	videoLen int
	audioLen int
	record   []byte // one assembled frame, reused
	frames   *ringbuf.Buffer
}

// NewMuxer validates p, encodes the header and allocates a frame queue able
// to hold one second of frames.
func NewMuxer(p Params) (*Muxer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	m := &Muxer{
		params:   p,
		videoLen: p.videoFrameLen(),
		audioLen: p.audioFrameLen(),
	}
	m.record = make([]byte, m.FrameLen())
	m.frames = ringbuf.New(p.FrameRate * m.FrameLen())
	encodeHeader(&m.header, p)

	putChunkHead(m.record, videoChunkTag, m.videoLen)
	putChunkHead(m.record[chunkHeadLen+m.videoLen:], audioChunkTag, m.audioLen)
	return m, nil
}

// Params returns the stream parameters.
func (m *Muxer) Params() Params { return m.params }

// VideoFrameLen is width*height*3.
func (m *Muxer) VideoFrameLen() int { return m.videoLen }

// AudioFrameLen is the PCM payload of one frame.
func (m *Muxer) AudioFrameLen() int { return m.audioLen }

// FrameLen is the size of one assembled record including both chunk heads.
func (m *Muxer) FrameLen() int { return m.videoLen + m.audioLen + 2*chunkHeadLen }

// Header returns the encoded stream header. Callers must not modify it.
func (m *Muxer) Header() []byte { return m.header[:] }

// WriteHeader writes the full header to w. It is safe to call on every
// reconnect.
func (m *Muxer) WriteHeader(w io.Writer) error {
	n, err := w.Write(m.header[:])
	if err != nil {
		return fmt.Errorf("failed to write stream header: %w", err)
	}
	if n != HeaderLen {
		return fmt.Errorf("failed to write stream header: %w", io.ErrShortWrite)
	}
	return nil
}

// Frames is the assembled frame queue.
func (m *Muxer) Frames() *ringbuf.Buffer { return m.frames }

// HasRoom reports whether another frame fits without overwriting queued
// bytes.
func (m *Muxer) HasRoom() bool { return m.frames.BytesFree() >= m.FrameLen() }

// AssembleFrame queues one record. pixels is a top-down BGR24 image of
// Width*Height pixels and audio the matching PCM hop. Rows are flipped into
// the bottom-up order the container expects. If the queue is full the oldest
// bytes are overwritten.
func (m *Muxer) AssembleFrame(pixels, audio []byte) error {
	if len(pixels) != m.videoLen {
		return fmt.Errorf("avi: video frame is %d bytes, want %d", len(pixels), m.videoLen)
	}
	if len(audio) != m.audioLen {
		return fmt.Errorf("avi: audio frame is %d bytes, want %d", len(audio), m.audioLen)
	}

	stride := m.params.Width * 3
	video := m.record[chunkHeadLen : chunkHeadLen+m.videoLen]
	for row := range m.params.Height {
		src := pixels[row*stride : (row+1)*stride]
		dst := (m.params.Height - 1 - row) * stride
		copy(video[dst:dst+stride], src)
	}
	copy(m.record[2*chunkHeadLen+m.videoLen:], audio)

	m.frames.Write(m.record)
	return nil
}
