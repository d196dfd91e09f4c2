// SPDX-License-Identifier: MIT
package metadata

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"visualizer/internal/log"
	"visualizer/internal/ringbuf"
)

// Source is a pollable metadata collaborator. The scheduler adds Fd to its
// poll set with Events as the interest mask and calls Handle with the
// returned revents. Returning io.EOF removes the source from the poll set.
type Source interface {
	Fd() int
	Events() int16
	Handle(revents int16) error
	Close() error
}

// maxLineLen bounds a single "key=value" line.
const maxLineLen = 4096

// PipeSource reads newline separated "key=value" updates from a file
// descriptor, usually a FIFO that a player hook writes to.
type PipeSource struct {
	file  *os.File
	fd    int
	store *Store
	buf   *ringbuf.Buffer
	line  []byte
	owned string // FIFO path to remove on Close
}

// OpenPipeSource opens path without blocking, creating a FIFO there when
// nothing exists yet. A FIFO is opened read-write so that writers may come
// and go without the source ever seeing end of file.
func OpenPipeSource(path string, store *Store) (*PipeSource, error) {
	created := false
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := unix.Mkfifo(path, 0o644); err != nil {
			return nil, fmt.Errorf("failed to create metadata fifo %s: %w", path, err)
		}
		created = true
	}

	flags := unix.O_RDONLY
	if fi, err := os.Stat(path); err == nil && fi.Mode()&fs.ModeNamedPipe != 0 {
		flags = unix.O_RDWR
	}
	fd, err := unix.Open(path, flags|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		if created {
			os.Remove(path)
		}
		return nil, fmt.Errorf("failed to open metadata source %s: %w", path, err)
	}
	s := newPipeSource(os.NewFile(uintptr(fd), path), fd, store)
	if created {
		s.owned = path
	}
	return s, nil
}

// NewPipeSource wraps an already open file, e.g. one end of os.Pipe, and
// switches it to non-blocking mode.
func NewPipeSource(f *os.File, store *Store) (*PipeSource, error) {
	fd := int(f.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set metadata source non-blocking: %w", err)
	}
	return newPipeSource(f, fd, store), nil
}

// newPipeSource cannot fail, so a FIFO created by OpenPipeSource is always
// owned by the returned source once its descriptor is open.
func newPipeSource(f *os.File, fd int, store *Store) *PipeSource {
	s := &PipeSource{
		file:  f,
		fd:    fd,
		store: store,
		line:  make([]byte, maxLineLen),
	}
	s.buf = ringbuf.New(maxLineLen, ringbuf.WithReader(s.read))
	return s
}

func (s *PipeSource) read(p []byte) (int, error) {
	n, err := unix.Read(s.fd, p)
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

func (s *PipeSource) Fd() int { return s.fd }

func (s *PipeSource) Events() int16 { return unix.POLLIN }

// Handle reads whatever is available and applies every complete line.
func (s *PipeSource) Handle(revents int16) error {
	if revents&(unix.POLLIN|unix.POLLHUP) == 0 {
		if revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			return fmt.Errorf("metadata source: poll error 0x%x", revents)
		}
		return nil
	}

	for {
		n, err := s.buf.Fill()
		s.applyLines()
		if err != nil {
			return err
		}
		if n == 0 {
			if s.buf.Full() {
				log.Warnf("Metadata: Dropping line longer than %d bytes", maxLineLen)
				s.buf.Reset()
				continue
			}
			return nil
		}
	}
}

func (s *PipeSource) applyLines() {
	for {
		i := s.buf.IndexByte('\n')
		if i < 0 {
			return
		}
		line := s.line[:i+1]
		if err := s.buf.Read(line); err != nil {
			return
		}
		s.apply(string(line[:i]))
	}
}

func (s *PipeSource) apply(line string) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		log.Warnf("Metadata: Ignoring malformed line %q", line)
		return
	}
	if err := s.store.Update(key, strings.TrimSpace(value)); err != nil {
		log.Warnf("Metadata: %v", err)
	}
}

// Close closes the descriptor and removes a FIFO created by OpenPipeSource.
func (s *PipeSource) Close() error {
	err := s.file.Close()
	if s.owned != "" {
		err = errors.Join(err, os.Remove(s.owned))
		s.owned = ""
	}
	return err
}

var _ Source = (*PipeSource)(nil)
