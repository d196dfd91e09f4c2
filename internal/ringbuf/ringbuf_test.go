// SPDX-License-Identifier: MIT
package ringbuf

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq(start, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(start + i)
	}
	return out
}

func TestNewEmpty(t *testing.T) {
	b := New(15)
	assert.Equal(t, 15, b.Capacity())
	assert.Equal(t, 0, b.BytesUsed())
	assert.Equal(t, 15, b.BytesFree())
	assert.True(t, b.Empty())
	assert.False(t, b.Full())
}

func TestUsedPlusFreeIsCapacity(t *testing.T) {
	b := New(7)
	for i := range 40 {
		b.Write(seq(i, i%5))
		if i%3 == 0 && b.BytesUsed() > 1 {
			require.NoError(t, b.Read(make([]byte, 2)))
		}
		assert.Equal(t, b.Capacity(), b.BytesUsed()+b.BytesFree())
	}
}

func TestRoundTripProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for capacity := 2; capacity <= 64; capacity++ {
		b := New(capacity)
		var model []byte
		next := 0

		for step := 0; step < 2000; step++ {
			if rng.Intn(2) == 0 {
				// Writes stay within free space so nothing is overwritten.
				n := rng.Intn(b.BytesFree() + 1)
				data := seq(next, n)
				next += n
				assert.Equal(t, n, b.Write(data))
				model = append(model, data...)
			} else {
				n := rng.Intn(len(model) + 1)
				out := make([]byte, n)
				require.NoError(t, b.Read(out))
				if !bytes.Equal(model[:n], out) {
					t.Fatalf("capacity %d step %d: read %v, want %v", capacity, step, out, model[:n])
				}
				model = model[n:]
			}
			require.Equal(t, len(model), b.BytesUsed())
		}
	}
}

func TestReadInsufficientData(t *testing.T) {
	b := New(8)
	b.Write([]byte{1, 2, 3})

	err := b.Read(make([]byte, 4))
	assert.ErrorIs(t, err, ErrInsufficientData)
	assert.Equal(t, 3, b.BytesUsed(), "failed read must not consume")
}

func TestOverflowKeepsNewestBytes(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		prefill  int
		write    int
	}{
		{"empty buffer, overlong write", 8, 0, 20},
		{"partially full", 8, 5, 6},
		{"full buffer, single byte", 8, 8, 1},
		{"exactly capacity after prefill", 16, 10, 16},
		{"minimal capacity", 2, 1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(tt.capacity)
			all := seq(0, tt.prefill+tt.write)
			b.Write(all[:tt.prefill])
			b.Write(all[tt.prefill:])

			require.Equal(t, tt.capacity, b.BytesUsed())
			assert.True(t, b.Full())

			out := make([]byte, tt.capacity)
			require.NoError(t, b.Read(out))
			assert.Equal(t, all[len(all)-tt.capacity:], out)
		})
	}
}

func TestWriteWrapsAroundArrayEnd(t *testing.T) {
	b := New(10)
	b.Write(seq(0, 8))
	require.NoError(t, b.Read(make([]byte, 6)))

	b.Write(seq(100, 7)) // crosses the end of the backing array
	out := make([]byte, 9)
	require.NoError(t, b.Read(out))
	assert.Equal(t, append(seq(6, 2), seq(100, 7)...), out)
	assert.True(t, b.Empty())
}

func TestReset(t *testing.T) {
	b := New(4)
	b.Write([]byte{1, 2, 3})
	b.Reset()
	assert.True(t, b.Empty())
	assert.Equal(t, 4, b.BytesFree())
}

func TestDiscard(t *testing.T) {
	b := New(10)
	b.Write(seq(0, 6))
	b.Discard(2)
	out := make([]byte, 4)
	require.NoError(t, b.Read(out))
	assert.Equal(t, seq(2, 4), out)

	b.Write(seq(0, 3))
	b.Discard(100)
	assert.True(t, b.Empty())
}

func TestIndexByte(t *testing.T) {
	b := New(7)
	assert.Equal(t, -1, b.IndexByte('\n'))

	b.Write([]byte("ab\ncde"))
	assert.Equal(t, 2, b.IndexByte('\n'))
	require.NoError(t, b.Read(make([]byte, 3)))
	assert.Equal(t, -1, b.IndexByte('\n'))

	// "cdefg" runs to the end of the array and the newline wraps to index 0.
	b.Write([]byte("fg\n"))
	assert.Equal(t, 5, b.IndexByte('\n'))
	assert.Equal(t, 0, b.IndexByte('c'))
	assert.Equal(t, -1, b.IndexByte('z'))
}

func TestFillFromReader(t *testing.T) {
	src := bytes.NewReader(seq(0, 100))
	b := New(16, WithReader(func(p []byte) (int, error) {
		return src.Read(p)
	}))

	n, err := b.Fill()
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	assert.True(t, b.Full())

	n, err = b.Fill()
	require.NoError(t, err)
	assert.Equal(t, 0, n, "full buffer reads nothing")
}

func TestFillStopsAtWrapPoint(t *testing.T) {
	src := bytes.NewReader(seq(0, 100))
	b := New(10, WithReader(func(p []byte) (int, error) {
		return src.Read(p)
	}))
	b.Write(seq(200, 7))
	require.NoError(t, b.Read(make([]byte, 7)))

	// head is at 7 of an 11 byte array: only 4 contiguous bytes are offered.
	n, err := b.Fill()
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = b.Fill()
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.True(t, b.Full())

	out := make([]byte, 10)
	require.NoError(t, b.Read(out))
	assert.Equal(t, seq(0, 10), out)
}

func TestFillWouldBlockAndEOF(t *testing.T) {
	calls := 0
	b := New(8, WithReader(func(p []byte) (int, error) {
		calls++
		if calls == 1 {
			return 0, nil
		}
		return 0, io.EOF
	}))

	n, err := b.Fill()
	assert.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = b.Fill()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFillWithoutReader(t *testing.T) {
	_, err := New(4).Fill()
	assert.Error(t, err)
}

func TestDrainHonoursWrapPoint(t *testing.T) {
	var sink bytes.Buffer
	b := New(10, WithWriter(func(p []byte) (int, error) {
		return sink.Write(p)
	}))
	b.Write(seq(0, 8))
	require.NoError(t, b.Read(make([]byte, 6)))
	b.Write(seq(8, 6)) // tail at 6, data wraps

	n, err := b.Drain(b.BytesUsed())
	require.NoError(t, err)
	assert.Equal(t, 5, n, "first call stops at the end of the array")

	n, err = b.Drain(b.BytesUsed())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, seq(6, 8), sink.Bytes())
	assert.True(t, b.Empty())
}

func TestDrainShortWrite(t *testing.T) {
	var sink bytes.Buffer
	b := New(32, WithWriter(func(p []byte) (int, error) {
		if len(p) > 3 {
			p = p[:3]
		}
		return sink.Write(p)
	}))
	b.Write(seq(0, 10))

	n, err := b.Drain(10)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 7, b.BytesUsed(), "remaining bytes stay queued")

	n, err = b.Drain(2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, seq(0, 5), sink.Bytes())
}

func TestDrainError(t *testing.T) {
	boom := errors.New("broken pipe")
	b := New(8, WithWriter(func(p []byte) (int, error) { return 0, boom }))
	b.Write([]byte{1, 2})

	_, err := b.Drain(2)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, b.BytesUsed())
}

func TestCopy(t *testing.T) {
	src := New(10)
	dst := New(10)

	// Put both cursors near the array end so the copy wraps on both sides.
	src.Write(seq(0, 9))
	require.NoError(t, src.Read(make([]byte, 9)))
	dst.Write(seq(0, 8))
	require.NoError(t, dst.Read(make([]byte, 8)))

	src.Write(seq(50, 7))
	require.NoError(t, Copy(dst, src, 6))
	assert.Equal(t, 1, src.BytesUsed())
	assert.Equal(t, 6, dst.BytesUsed())

	out := make([]byte, 6)
	require.NoError(t, dst.Read(out))
	assert.Equal(t, seq(50, 6), out)
}

func TestCopyInsufficientData(t *testing.T) {
	src := New(4)
	dst := New(4)
	src.Write([]byte{1})
	assert.ErrorIs(t, Copy(dst, src, 2), ErrInsufficientData)
	assert.Equal(t, 1, src.BytesUsed())
}

func TestCopyOverflowPolicy(t *testing.T) {
	src := New(16)
	dst := New(6)
	dst.Write(seq(0, 4))
	src.Write(seq(100, 5))

	require.NoError(t, Copy(dst, src, 5))
	require.Equal(t, 6, dst.BytesUsed())

	out := make([]byte, 6)
	require.NoError(t, dst.Read(out))
	assert.Equal(t, append(seq(3, 1), seq(100, 5)...), out)
}

func TestWriteHotPathZeroAllocs(t *testing.T) {
	b := New(4096)
	data := seq(0, 1000)
	out := make([]byte, 1000)

	allocs := testing.AllocsPerRun(100, func() {
		b.Write(data)
		_ = b.Read(out)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in ring buffer hot path, got %.1f", allocs)
	}
}

func BenchmarkWriteRead(b *testing.B) {
	rb := New(1 << 16)
	data := make([]byte, 5880)
	out := make([]byte, 5880)

	b.ReportAllocs()
	for b.Loop() {
		rb.Write(data)
		_ = rb.Read(out)
	}
}
