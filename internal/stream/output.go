// SPDX-License-Identifier: MIT
package stream

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"visualizer/internal/log"
)

// StdioPath selects standard input or output.
const StdioPath = "-"

// fifoMode is the permission used when the output FIFO is created.
const fifoMode = 0o644

// output is the stream sink. A primary output (stdout, a caller supplied
// file or a child's stdin) must stay connected for the life of the stream.
// A FIFO output may come and go; it is reopened whenever a reader appears.
type output struct {
	path    string
	primary bool
	fd      int
	file    *os.File
	ownFifo bool
	cmd     *exec.Cmd
}

// primaryOutput wraps f, which stays owned by the output from now on.
func primaryOutput(f *os.File) (*output, error) {
	fd := int(f.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("failed to set output non-blocking: %w", err)
	}
	return &output{path: f.Name(), primary: true, fd: fd, file: f}, nil
}

// commandOutput starts argv with a pipe on its stdin and the parent's stdout
// and stderr.
func commandOutput(argv []string) (*output, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create child pipe: %w", err)
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = r
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}
	r.Close()
	log.Infof("Stream: Started %s (pid %d)", argv[0], cmd.Process.Pid)

	out, err := primaryOutput(w)
	if err != nil {
		w.Close()
		_ = cmd.Wait()
		return nil, err
	}
	out.path = argv[0]
	out.cmd = cmd
	return out, nil
}

// fifoOutput creates path as a FIFO unless it already is one. Only a FIFO
// created here is removed again on close.
func fifoOutput(path string) (*output, error) {
	out := &output{path: path, fd: -1}
	err := unix.Mkfifo(path, fifoMode)
	switch {
	case err == nil:
		out.ownFifo = true
	case errors.Is(err, unix.EEXIST):
		var st unix.Stat_t
		if err := unix.Stat(path, &st); err != nil {
			return nil, fmt.Errorf("failed to stat output %s: %w", path, err)
		}
		if st.Mode&unix.S_IFMT != unix.S_IFIFO {
			return nil, fmt.Errorf("output %s exists and is not a FIFO", path)
		}
	default:
		return nil, fmt.Errorf("failed to create FIFO %s: %w", path, err)
	}
	return out, nil
}

func (o *output) connected() bool { return o.fd >= 0 }

// connect tries to open the FIFO for writing without blocking. It returns
// false while no reader has the other end open.
func (o *output) connect() (bool, error) {
	if o.connected() {
		return true, nil
	}
	if o.primary {
		return false, nil
	}
	fd, err := unix.Open(o.path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if errors.Is(err, unix.ENXIO) || errors.Is(err, unix.EINTR) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to open output %s: %w", o.path, err)
	}
	o.fd = fd
	return true, nil
}

func (o *output) setBlocking(blocking bool) error {
	if !o.connected() {
		return nil
	}
	return unix.SetNonblock(o.fd, !blocking)
}

// disconnect closes the descriptor but keeps the FIFO for the next reader.
func (o *output) disconnect() {
	if !o.connected() {
		return
	}
	if o.file != nil {
		o.file.Close()
		o.file = nil
	} else {
		unix.Close(o.fd)
	}
	o.fd = -1
}

// close releases everything, waits for a child and removes an owned FIFO.
func (o *output) close() error {
	o.disconnect()
	var errs []error
	if o.cmd != nil {
		if err := o.cmd.Wait(); err != nil {
			errs = append(errs, fmt.Errorf("%s exited: %w", o.path, err))
		}
		o.cmd = nil
	}
	if o.ownFifo {
		if err := os.Remove(o.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
		o.ownFifo = false
	}
	return errors.Join(errs...)
}
