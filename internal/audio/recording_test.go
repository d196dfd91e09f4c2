// SPDX-License-Identifier: MIT
package audio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"

	"visualizer/internal/stream"
)

func TestRecorderWritesFrames(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "rec.wav")
	rec, err := NewRecorder(filename, 8000, 2, 2)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	if !rec.Recording() {
		t.Error("Recorder should be recording")
	}

	// Two stereo frames per video frame: (1, -1), (256, -256).
	pcm := []byte{0x01, 0x00, 0xff, 0xff, 0x00, 0x01, 0x00, 0xff}
	rec.OnFrame(&stream.Frame{Number: 1, Audio: pcm})
	rec.OnFrame(&stream.Frame{Number: 2})
	rec.OnFrame(&stream.Frame{Number: 3, Audio: pcm})
	if rec.Frames() != 2 {
		t.Errorf("Frames = %d, want 2", rec.Frames())
	}

	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	rec.OnFrame(&stream.Frame{Number: 4, Audio: pcm})

	f, err := os.Open(filename)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.SampleRate != 8000 || dec.NumChans != 2 || dec.BitDepth != 16 {
		t.Errorf("format = %d Hz %d ch %d bit", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
	want := []int{1, -1, 256, -256, 1, -1, 256, -256}
	if len(buf.Data) != len(want) {
		t.Fatalf("got %d samples, want %d", len(buf.Data), len(want))
	}
	for i := range want {
		if buf.Data[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, buf.Data[i], want[i])
		}
	}
}

func TestRecorderValidation(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewRecorder(filepath.Join(dir, "a.wav"), 8000, 1, 5); err == nil {
		t.Error("expected error for width 5")
	}
	if _, err := NewRecorder(filepath.Join(dir, "b.wav"), 8000, 0, 2); err == nil {
		t.Error("expected error for zero channels")
	}
	if _, err := NewRecorder(filepath.Join(dir, "missing", "c.wav"), 8000, 1, 2); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestDecodePCM(t *testing.T) {
	tests := []struct {
		width int
		pcm   []byte
		want  []int
	}{
		{1, []byte{0x00, 0x7f, 0x80}, []int{128, 255, 0}},
		{2, []byte{0xff, 0x7f, 0x00, 0x80}, []int{32767, -32768}},
		{3, []byte{0x01, 0x00, 0x80, 0xff, 0xff, 0x7f}, []int{-8388607, 8388607}},
		{2, []byte{0x01, 0x00, 0x02}, []int{1}},
	}
	for _, tt := range tests {
		got := decodePCM(nil, tt.pcm, tt.width)
		if len(got) != len(tt.want) {
			t.Errorf("width %d: got %v, want %v", tt.width, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("width %d: sample %d = %d, want %d", tt.width, i, got[i], tt.want[i])
			}
		}
	}
}
