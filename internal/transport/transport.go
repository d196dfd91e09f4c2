// SPDX-License-Identifier: MIT
package transport

import (
	"sync"

	"visualizer/internal/stream"
)

// Transport defines a generic interface for sending band frames or events.
// Implementations should be thread-safe and must not block the caller for
// long, since Send is called from the frame loop.
type Transport interface {
	Send(data any) error
	Close() error
}

// BandFrame is the wire form of one analyzed frame.
type BandFrame struct {
	Seq       uint64    `json:"seq" msgpack:"seq"`
	ElapsedMs int64     `json:"elapsed_ms" msgpack:"elapsed_ms"`
	Bands     []float32 `json:"bands" msgpack:"bands"`
	Title     string    `json:"title,omitempty" msgpack:"title,omitempty"`
	Artist    string    `json:"artist,omitempty" msgpack:"artist,omitempty"`
}

// NewBandFrame copies what outlives the frame loop out of f.
func NewBandFrame(f *stream.Frame) BandFrame {
	bands := make([]float32, len(f.Amplitudes))
	for i, v := range f.Amplitudes {
		bands[i] = float32(v)
	}
	return BandFrame{
		Seq:       f.Number,
		ElapsedMs: f.Elapsed.Milliseconds(),
		Bands:     bands,
		Title:     f.NowPlaying.Title,
		Artist:    f.NowPlaying.Artist,
	}
}

// Publisher is a stream.Tap forwarding every Nth frame to a Transport.
type Publisher struct {
	t     Transport
	every uint64
}

// NewPublisher sends one of every `every` frames; values below 1 send all.
func NewPublisher(t Transport, every int) *Publisher {
	return &Publisher{t: t, every: uint64(max(every, 1))}
}

// OnFrame implements stream.Tap.
func (p *Publisher) OnFrame(f *stream.Frame) {
	if f.Number%p.every != 0 {
		return
	}
	_ = p.t.Send(NewBandFrame(f))
}

// Latest keeps the most recent band amplitudes for consumers that poll at
// their own rate. It is a stream.Tap.
type Latest struct {
	mu    sync.Mutex
	seq   uint64
	bands []float32
}

// OnFrame implements stream.Tap.
func (l *Latest) OnFrame(f *stream.Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cap(l.bands) < len(f.Amplitudes) {
		l.bands = make([]float32, len(f.Amplitudes))
	}
	l.bands = l.bands[:len(f.Amplitudes)]
	for i, v := range f.Amplitudes {
		l.bands[i] = float32(v)
	}
	l.seq = f.Number
}

// BandsInto copies the latest amplitudes into dst and returns the frame
// number and the count copied. A zero frame number means nothing arrived yet.
func (l *Latest) BandsInto(dst []float32) (uint64, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq, copy(dst, l.bands)
}

var (
	_ stream.Tap = (*Publisher)(nil)
	_ stream.Tap = (*Latest)(nil)
)
