// SPDX-License-Identifier: MIT
/*
Package ringbuf implements a bounded circular byte queue shared by every stage
of the streaming pipeline (raw sample intake, assembled frame output).

Layout:
  - A fixed array of size bytes and two cursors, head (write) and tail (read).
  - One byte is sacrificed so that full and empty can be told apart without a
    separate count: empty iff head == tail, full iff (head+1) % size == tail.
  - Capacity is therefore size-1.

Overflow policy:
  - Writes never fail. When more bytes are written than are free, the oldest
    unread bytes are discarded by moving tail forward.

Concurrency:
  - None. A Buffer has a single writer role and a single reader role, both
    driven from the same goroutine. Callers serialize access.
*/
package ringbuf

import (
	"bytes"
	"errors"
)

// ErrInsufficientData is returned by Read and Copy when fewer bytes are
// buffered than requested.
var ErrInsufficientData = errors.New("ringbuf: insufficient data")

// ReadFunc pulls bytes from an external source directly into p. It must
// return (0, nil) when the source would block, and io.EOF (or another error)
// when the source is exhausted or failed.
type ReadFunc func(p []byte) (int, error)

// WriteFunc pushes bytes from p directly to an external sink. It must return
// (0, nil) when the sink would block.
type WriteFunc func(p []byte) (int, error)

// Buffer is a fixed size circular byte queue.
type Buffer struct {
	buf  []byte
	head int // next byte to write
	tail int // next byte to read

	read  ReadFunc
	write WriteFunc
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithReader injects the source used by Fill.
func WithReader(fn ReadFunc) Option {
	return func(b *Buffer) { b.read = fn }
}

// WithWriter injects the sink used by Drain.
func WithWriter(fn WriteFunc) Option {
	return func(b *Buffer) { b.write = fn }
}

// New allocates a buffer able to hold capacity bytes. Capacity must be at
// least 1.
func New(capacity int, opts ...Option) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	b := &Buffer{buf: make([]byte, capacity+1)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetReader replaces the Fill source.
func (b *Buffer) SetReader(fn ReadFunc) { b.read = fn }

// SetWriter replaces the Drain sink.
func (b *Buffer) SetWriter(fn WriteFunc) { b.write = fn }

// Reset discards all buffered bytes.
func (b *Buffer) Reset() {
	b.head = 0
	b.tail = 0
}

// Capacity is the maximum number of bytes the buffer can hold.
func (b *Buffer) Capacity() int { return len(b.buf) - 1 }

// BytesUsed is the number of unread bytes.
func (b *Buffer) BytesUsed() int {
	if b.head >= b.tail {
		return b.head - b.tail
	}
	return len(b.buf) - (b.tail - b.head)
}

// BytesFree is the number of bytes that can be written without discarding.
func (b *Buffer) BytesFree() int { return b.Capacity() - b.BytesUsed() }

// Empty reports whether there is nothing to read.
func (b *Buffer) Empty() bool { return b.head == b.tail }

// Full reports whether there is no free space left.
func (b *Buffer) Full() bool { return b.next(b.head) == b.tail }

func (b *Buffer) next(p int) int {
	return (p + 1) % len(b.buf)
}

// Write copies p into the buffer at head and returns len(p). If p does not
// fit, the oldest unread bytes are discarded so that the buffer ends up
// holding the most recent Capacity bytes.
func (b *Buffer) Write(p []byte) int {
	n := len(p)
	overflow := n > b.BytesFree()
	if n > b.Capacity() {
		// Only the trailing Capacity bytes can survive.
		p = p[n-b.Capacity():]
	}

	for len(p) > 0 {
		c := copy(b.buf[b.head:], p)
		p = p[c:]
		b.head += c
		if b.head == len(b.buf) {
			b.head = 0
		}
	}

	if overflow {
		b.tail = b.next(b.head)
	}
	return n
}

// Read fills p from the tail of the buffer. It fails without consuming
// anything when len(p) exceeds BytesUsed.
func (b *Buffer) Read(p []byte) error {
	if len(p) > b.BytesUsed() {
		return ErrInsufficientData
	}
	for len(p) > 0 {
		end := len(b.buf)
		if b.head > b.tail {
			end = b.head
		}
		c := copy(p, b.buf[b.tail:end])
		p = p[c:]
		b.tail += c
		if b.tail == len(b.buf) {
			b.tail = 0
		}
	}
	return nil
}

// Discard drops n unread bytes, or all of them when n exceeds BytesUsed.
func (b *Buffer) Discard(n int) {
	if n >= b.BytesUsed() {
		b.tail = b.head
		return
	}
	b.tail = (b.tail + n) % len(b.buf)
}

// IndexByte returns the offset from tail of the first unread c, or -1.
func (b *Buffer) IndexByte(c byte) int {
	if b.head >= b.tail {
		return bytes.IndexByte(b.buf[b.tail:b.head], c)
	}
	if i := bytes.IndexByte(b.buf[b.tail:], c); i >= 0 {
		return i
	}
	if i := bytes.IndexByte(b.buf[:b.head], c); i >= 0 {
		return len(b.buf) - b.tail + i
	}
	return -1
}

// Fill reads from the injected source straight into the free region after
// head. Only the contiguous run up to the end of the backing array is
// offered, so a caller wanting to top the buffer up completely across the
// wrap point calls Fill again.
//
// Returns the number of bytes read, (0, nil) when the source would block and
// the source error (io.EOF included) otherwise.
func (b *Buffer) Fill() (int, error) {
	if b.read == nil {
		return 0, errors.New("ringbuf: no reader configured")
	}
	free := b.BytesFree()
	if free == 0 {
		return 0, nil
	}
	count := min(len(b.buf)-b.head, free)

	n, err := b.read(b.buf[b.head : b.head+count])
	if n > 0 {
		b.head += n
		if b.head == len(b.buf) {
			b.head = 0
		}
	}
	return n, err
}

// Drain writes up to min(n, BytesUsed) bytes starting at tail to the
// injected sink. Only the contiguous run before the wrap point is offered,
// so draining across the boundary takes two calls.
func (b *Buffer) Drain(n int) (int, error) {
	if b.write == nil {
		return 0, errors.New("ringbuf: no writer configured")
	}
	used := b.BytesUsed()
	if n > used {
		n = used
	}
	if n == 0 {
		return 0, nil
	}
	end := len(b.buf)
	if b.head > b.tail {
		end = b.head
	}
	count := min(end-b.tail, n)

	w, err := b.write(b.buf[b.tail : b.tail+count])
	if w > 0 {
		b.tail += w
		if b.tail == len(b.buf) {
			b.tail = 0
		}
	}
	return w, err
}

// Copy moves n bytes from src to dst without an intermediate user buffer.
// It fails when src holds fewer than n bytes; dst follows the usual
// overwrite-on-overflow policy.
func Copy(dst, src *Buffer, n int) error {
	if n > src.BytesUsed() {
		return ErrInsufficientData
	}
	overflow := n > dst.BytesFree()

	for n > 0 {
		srcEnd := len(src.buf)
		if src.head > src.tail {
			srcEnd = src.head
		}
		c := min(srcEnd-src.tail, n, len(dst.buf)-dst.head)
		copy(dst.buf[dst.head:dst.head+c], src.buf[src.tail:src.tail+c])

		src.tail += c
		if src.tail == len(src.buf) {
			src.tail = 0
		}
		dst.head += c
		if dst.head == len(dst.buf) {
			dst.head = 0
		}
		n -= c
	}

	if overflow {
		dst.tail = dst.next(dst.head)
	}
	return nil
}
