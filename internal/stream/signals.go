// SPDX-License-Identifier: MIT
package stream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
)

// Control bytes written to the self-pipe.
const (
	ctlTerminate byte = 'T'
	ctlReload    byte = 'R'
	ctlSwap      byte = 'S'
	ctlPipe      byte = 'P'
)

// signalPipe turns asynchronous signals and context cancellation into
// readable bytes on a descriptor that sits in the poll set.
type signalPipe struct {
	r, w int
	ch   chan os.Signal
	stop chan struct{}
	done chan struct{}
}

func newSignalPipe() (*signalPipe, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("failed to create signal pipe: %w", err)
	}
	return &signalPipe{r: fds[0], w: fds[1]}, nil
}

// start installs the handlers. SIGPIPE is trapped so that writes to a closed
// reader fail with EPIPE instead of killing the process.
func (s *signalPipe) start(ctx context.Context) {
	s.ch = make(chan os.Signal, 8)
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	signal.Notify(s.ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGPIPE)

	go func() {
		defer close(s.done)
		for {
			select {
			case <-s.stop:
				return
			case <-ctx.Done():
				s.post(ctlTerminate)
				return
			case sig := <-s.ch:
				s.post(controlFor(sig))
			}
		}
	}()
}

func controlFor(sig os.Signal) byte {
	switch sig {
	case syscall.SIGUSR1:
		return ctlReload
	case syscall.SIGUSR2:
		return ctlSwap
	case syscall.SIGPIPE:
		return ctlPipe
	default:
		return ctlTerminate
	}
}

// post never blocks. A full pipe already holds pending wakeups.
func (s *signalPipe) post(b byte) {
	_, _ = unix.Write(s.w, []byte{b})
}

// read drains pending control bytes into buf and returns them.
func (s *signalPipe) read(buf []byte) ([]byte, error) {
	n, err := unix.Read(s.r, buf)
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// halt uninstalls the handlers and waits for the forwarder to exit.
func (s *signalPipe) halt() {
	if s.stop == nil {
		return
	}
	signal.Stop(s.ch)
	close(s.stop)
	<-s.done
	s.stop = nil
}

func (s *signalPipe) close() {
	s.halt()
	unix.Close(s.r)
	unix.Close(s.w)
}
