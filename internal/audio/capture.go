// SPDX-License-Identifier: MIT
/*
Package audio connects the stream to sound hardware and disk:
- Capture records from a PortAudio input device into a pipe whose read end
  is the scheduler's PCM input, so live audio and piped audio share one path
- a noise gate that substitutes silence for quiet buffers
- Recorder, a frame tap that writes the muxed audio track to a WAV file

Thread Safety:
- The PortAudio callback never blocks; a full pipe drops the buffer
- Buffers are pre-allocated to avoid GC in the callback
*/
package audio

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
	"golang.org/x/sys/unix"

	"visualizer/internal/log"
)

// CaptureConfig selects the device and the PCM format written to the pipe.
type CaptureConfig struct {
	DeviceID        int // config.MinDeviceID selects the default input
	SampleRate      int
	Channels        int
	SampleWidth     int // bytes, 1 to 3
	FramesPerBuffer int
	LowLatency      bool
	GateThreshold   float64 // 0 disables the gate
}

// Capture streams a PortAudio input device into a pipe.
type Capture struct {
	config CaptureConfig

	inputDevice  *portaudio.DeviceInfo
	inputLatency time.Duration
	inputStream  *portaudio.Stream

	reader *os.File
	writer *os.File
	wfd    int

	pcm []byte // one callback worth of encoded samples

	gateEnabled   bool
	gateThreshold int32 // absolute amplitude threshold (0-2147483647)

	dropped atomic.Uint64
}

// NewCapture resolves the device and creates the pipe. PortAudio must be
// initialized.
func NewCapture(cfg CaptureConfig) (*Capture, error) {
	if cfg.SampleWidth < 1 || cfg.SampleWidth > 3 {
		return nil, fmt.Errorf("capture: sample width must be 1 to 3 bytes, got %d", cfg.SampleWidth)
	}
	if cfg.Channels < 1 || cfg.FramesPerBuffer < 1 || cfg.SampleRate < 1 {
		return nil, fmt.Errorf("capture: bad format %d Hz, %d ch, %d frames", cfg.SampleRate, cfg.Channels, cfg.FramesPerBuffer)
	}

	inputDevice, err := InputDevice(cfg.DeviceID)
	if err != nil {
		return nil, err
	}

	c, err := newCapture(cfg)
	if err != nil {
		return nil, err
	}
	c.inputDevice = inputDevice
	if cfg.LowLatency {
		c.inputLatency = inputDevice.DefaultLowInputLatency
	} else {
		c.inputLatency = inputDevice.DefaultHighInputLatency
	}
	return c, nil
}

func newCapture(cfg CaptureConfig) (*Capture, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create capture pipe: %w", err)
	}
	wfd := int(w.Fd())
	if err := unix.SetNonblock(wfd, true); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("failed to set capture pipe non-blocking: %w", err)
	}

	c := &Capture{
		config: cfg,
		reader: r,
		writer: w,
		wfd:    wfd,
		pcm:    make([]byte, cfg.FramesPerBuffer*cfg.Channels*cfg.SampleWidth),
	}
	c.SetGateThreshold(cfg.GateThreshold)
	c.gateEnabled = cfg.GateThreshold > 0
	return c, nil
}

// Reader is the read end of the pipe, handed to the scheduler as its input.
// The scheduler takes ownership.
func (c *Capture) Reader() *os.File { return c.reader }

// Dropped is the number of callback buffers lost to a full pipe.
func (c *Capture) Dropped() uint64 { return c.dropped.Load() }

// Start opens and starts the input stream.
func (c *Capture) Start() error {
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: c.config.Channels,
			Device:   c.inputDevice,
			Latency:  c.inputLatency,
		},
		FramesPerBuffer: c.config.FramesPerBuffer,
		SampleRate:      float64(c.config.SampleRate),
	}

	stream, err := portaudio.OpenStream(params, c.processInputStream)
	if err != nil {
		return fmt.Errorf("failed to open input stream: %w", err)
	}
	c.inputStream = stream

	if err := c.inputStream.Start(); err != nil {
		c.inputStream.Close()
		c.inputStream = nil
		return fmt.Errorf("failed to start input stream: %w", err)
	}
	log.Infof("Capture: Recording from %s (%d Hz, %d ch, %d-bit)",
		c.inputDevice.Name, c.config.SampleRate, c.config.Channels, c.config.SampleWidth*8)
	return nil
}

// Stop stops the input stream.
func (c *Capture) Stop() error {
	if c.inputStream == nil {
		return nil
	}
	if err := c.inputStream.Stop(); err != nil {
		return err
	}
	if err := c.inputStream.Close(); err != nil {
		return err
	}
	c.inputStream = nil
	return nil
}

// Close stops capturing and closes the write end, which the scheduler sees
// as end of input.
func (c *Capture) Close() error {
	err := c.Stop()
	if c.writer != nil {
		err = errors.Join(err, c.writer.Close())
		c.writer = nil
	}
	if n := c.Dropped(); n > 0 {
		log.Warnf("Capture: %d buffers dropped on a full pipe", n)
	}
	return err
}

// processInputStream is the PortAudio callback. It runs on a PortAudio
// thread and must not allocate or block.
func (c *Capture) processInputStream(in []int32) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	c.process(in)
}

func (c *Capture) process(in []int32) {
	pcm := c.pcm[:len(in)*c.config.SampleWidth]
	if c.gateEnabled && peakAmplitude(in) <= c.gateThreshold {
		clear(pcm)
	} else {
		encodePCM(pcm, in, c.config.SampleWidth)
	}

	n, err := unix.Write(c.wfd, pcm)
	if err != nil || n < len(pcm) {
		// A partial write would misalign every later sample, so only whole
		// buffers are ever written when the pipe has room.
		c.dropped.Add(1)
	}
}

// encodePCM keeps the top width bytes of each 32-bit sample, little-endian.
func encodePCM(dst []byte, in []int32, width int) {
	shift := uint(32 - 8*width)
	for i, s := range in {
		v := s >> shift
		o := i * width
		for b := range width {
			dst[o+b] = byte(v >> (8 * b))
		}
	}
}

// peakAmplitude is the largest absolute sample, computed branch-free.
func peakAmplitude(buffer []int32) int32 {
	var maxAmplitude int32
	for _, sample := range buffer {
		mask := sample >> 31
		amplitude := (sample ^ mask) - mask
		diff := amplitude - maxAmplitude
		maxAmplitude += diff & ^(diff >> 31)
	}
	return maxAmplitude
}
