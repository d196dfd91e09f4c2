// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"visualizer/internal/log"
	"visualizer/internal/stream"
)

// Recorder is a frame tap that writes the audio of every muxed frame to a
// WAV file, so the file holds exactly what the video stream carries.
type Recorder struct {
	mu         sync.Mutex
	outputFile *os.File
	wavEncoder *wav.Encoder
	sampleBuf  *audio.IntBuffer

	sampleWidth int
	isRecording int32
	frames      uint64
	failed      bool
}

// NewRecorder creates filename and starts recording PCM of the given format.
func NewRecorder(filename string, sampleRate, channels, sampleWidth int) (*Recorder, error) {
	if sampleWidth < 1 || sampleWidth > 4 {
		return nil, fmt.Errorf("recorder: unsupported sample width %d", sampleWidth)
	}
	if channels < 1 || sampleRate < 1 {
		return nil, fmt.Errorf("recorder: bad format %d Hz, %d ch", sampleRate, channels)
	}

	file, err := os.Create(filename)
	if err != nil {
		return nil, err
	}

	r := &Recorder{
		outputFile:  file,
		wavEncoder:  wav.NewEncoder(file, sampleRate, sampleWidth*8, channels, 1),
		sampleWidth: sampleWidth,
		sampleBuf: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: channels,
				SampleRate:  sampleRate,
			},
			SourceBitDepth: sampleWidth * 8,
		},
	}
	atomic.StoreInt32(&r.isRecording, 1)
	log.Infof("Recorder: Writing %s (%d Hz, %d ch, %d-bit)", filename, sampleRate, channels, sampleWidth*8)
	return r, nil
}

// Recording reports whether frames are still being written.
func (r *Recorder) Recording() bool {
	return atomic.LoadInt32(&r.isRecording) == 1
}

// Frames is the number of frames written.
func (r *Recorder) Frames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// OnFrame appends the frame's audio. A write error stops the recording.
func (r *Recorder) OnFrame(f *stream.Frame) {
	if !r.Recording() || len(f.Audio) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.wavEncoder == nil {
		return
	}

	r.sampleBuf.Data = decodePCM(r.sampleBuf.Data[:0], f.Audio, r.sampleWidth)
	if err := r.wavEncoder.Write(r.sampleBuf); err != nil {
		if !r.failed {
			log.Errorf("Recorder: Write failed, recording stopped: %v", err)
			r.failed = true
		}
		atomic.StoreInt32(&r.isRecording, 0)
		return
	}
	r.frames++
}

// Close finalizes the WAV header and closes the file.
func (r *Recorder) Close() error {
	atomic.StoreInt32(&r.isRecording, 0)
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.wavEncoder != nil {
		if err := r.wavEncoder.Close(); err != nil {
			r.outputFile.Close()
			r.wavEncoder, r.outputFile = nil, nil
			return err
		}
		r.wavEncoder = nil
	}

	if r.outputFile != nil {
		if err := r.outputFile.Close(); err != nil {
			return err
		}
		r.outputFile = nil
	}
	return nil
}

// decodePCM turns little-endian signed samples into ints. 8-bit WAV data is
// unsigned, so those samples are offset by 128.
func decodePCM(dst []int, pcm []byte, width int) []int {
	shift := uint(32 - 8*width)
	for o := 0; o+width <= len(pcm); o += width {
		var v uint32
		for b := range width {
			v |= uint32(pcm[o+b]) << (8 * b)
		}
		s := int(int32(v<<shift) >> shift)
		if width == 1 {
			s += 128
		}
		dst = append(dst, s)
	}
	return dst
}

var _ stream.Tap = (*Recorder)(nil)
