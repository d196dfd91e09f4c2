// SPDX-License-Identifier: MIT
package stream

import (
	"errors"
	"io"

	"golang.org/x/sys/unix"
)

// fdReader adapts a non-blocking descriptor to ringbuf.ReadFunc: would-block
// is (0, nil) and end of file is io.EOF.
func fdReader(fd int) func(p []byte) (int, error) {
	return func(p []byte) (int, error) {
		n, err := unix.Read(fd, p)
		switch {
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
			return 0, nil
		case err != nil:
			return 0, err
		case n == 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

// fdWriter adapts a descriptor to ringbuf.WriteFunc. In non-blocking mode a
// full pipe yields (0, nil).
type fdWriter int

func (w fdWriter) Write(p []byte) (int, error) {
	n, err := unix.Write(int(w), p)
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		return 0, nil
	case err != nil:
		return 0, err
	}
	return n, nil
}

// writeFull writes all of p to a blocking descriptor.
func (w fdWriter) writeFull(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := unix.Write(int(w), p[total:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// blockingWriter is an io.Writer that never returns a short count without
// an error.
type blockingWriter struct{ fd fdWriter }

func (b blockingWriter) Write(p []byte) (int, error) { return b.fd.writeFull(p) }
