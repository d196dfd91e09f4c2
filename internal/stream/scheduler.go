// SPDX-License-Identifier: MIT
/*
Package stream drives the whole pipeline from a single goroutine:

	input fd -> sample ring -> analyzer -> renderer -> muxer -> frame ring -> output fd

Each pass of the loop synthesizes as many frames as there are buffered hops
and free frame slots, then sleeps in poll(2) on the signal pipe, the input,
the output and an optional metadata source. Frames are only ever produced
from whole hops, in input order, so the audio track stays gapless.
*/
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"visualizer/internal/analysis"
	"visualizer/internal/avi"
	"visualizer/internal/imageload"
	"visualizer/internal/log"
	"visualizer/internal/metadata"
)

// ErrOutputClosed is returned by Run when a primary output goes away.
var ErrOutputClosed = errors.New("stream: output closed")

// Poll set slots.
const (
	pollSignal = iota
	pollInput
	pollOutput
	pollSource
	pollSlots
)

// Options wires a Scheduler. Analyzer and Muxer are required and must agree
// on the audio format.
type Options struct {
	Analyzer *analysis.Analyzer
	Muxer    *avi.Muxer
	Renderer Renderer
	Metadata *metadata.Store
	Images   *imageload.Pool
	// Source is owned by the scheduler once passed in.
	Source metadata.Source
	Taps   []Tap

	// Input is a path or StdioPath. InputFile takes precedence.
	Input     string
	InputFile *os.File

	// Output is StdioPath or a FIFO path. OutputFile takes precedence and,
	// like standard output, is primary: losing it ends the stream.
	Output     string
	OutputFile *os.File
	// Command, with Output StdioPath, pipes the stream into a child process
	// instead of standard output.
	Command []string
}

// Stats are counters maintained by the loop.
type Stats struct {
	Frames       uint64
	DroppedBytes uint64 // frame bytes discarded while no reader was connected
	Connects     uint64
}

// Scheduler owns the descriptors and both ring buffers' I/O.
type Scheduler struct {
	analyzer *analysis.Analyzer
	muxer    *avi.Muxer
	renderer Renderer
	store    *metadata.Store
	images   *imageload.Pool
	source   metadata.Source
	taps     []Tap

	in  *input
	out *output
	sig *signalPipe

	frame      Frame
	period     time.Duration
	needHeader bool
	reload     bool
	swap       bool
	stats      Stats

	fds [pollSlots]unix.PollFd
	ctl [16]byte
}

// New opens the input and output and prepares the signal pipe. Nothing is
// read or written until Run.
func New(opts Options) (*Scheduler, error) {
	if opts.Analyzer == nil || opts.Muxer == nil {
		return nil, errors.New("stream: analyzer and muxer are required")
	}
	if opts.Analyzer.HopBytes() != opts.Muxer.AudioFrameLen() {
		return nil, fmt.Errorf("stream: analyzer hop is %d bytes but muxer expects %d",
			opts.Analyzer.HopBytes(), opts.Muxer.AudioFrameLen())
	}
	store := opts.Metadata
	if store == nil {
		store = metadata.NewStore()
	}

	p := opts.Muxer.Params()
	s := &Scheduler{
		analyzer: opts.Analyzer,
		muxer:    opts.Muxer,
		renderer: opts.Renderer,
		store:    store,
		images:   opts.Images,
		source:   opts.Source,
		taps:     opts.Taps,
		period:   framePeriod(opts.Analyzer.HopLen(), opts.Analyzer.SampleRate()),
		frame: Frame{
			Width:  p.Width,
			Height: p.Height,
			Pixels: make([]byte, opts.Muxer.VideoFrameLen()),
		},
	}

	var err error
	if opts.InputFile != nil {
		s.in, err = wrapInput(opts.InputFile)
	} else {
		s.in, err = openInput(opts.Input)
	}
	if err != nil {
		return nil, err
	}

	switch {
	case opts.OutputFile != nil:
		s.out, err = primaryOutput(opts.OutputFile)
	case opts.Output == "" || opts.Output == StdioPath:
		if len(opts.Command) > 0 {
			s.out, err = commandOutput(opts.Command)
		} else {
			s.out, err = primaryOutput(os.Stdout)
		}
	default:
		s.out, err = fifoOutput(opts.Output)
	}
	if err != nil {
		s.in.close()
		return nil, err
	}
	if s.out.primary {
		s.needHeader = true
		s.stats.Connects++
	}

	s.sig, err = newSignalPipe()
	if err != nil {
		s.in.close()
		s.out.close()
		return nil, err
	}

	s.analyzer.Samples().SetReader(fdReader(s.in.fd))
	s.muxer.Frames().SetWriter(func(b []byte) (int, error) {
		return fdWriter(s.out.fd).Write(b)
	})
	return s, nil
}

// framePeriod is the play time of one hop, in whole milliseconds once the
// rate allows it.
func framePeriod(hopLen, sampleRate int) time.Duration {
	if sampleRate >= 1000 {
		return time.Duration(hopLen/(sampleRate/1000)) * time.Millisecond
	}
	return time.Duration(hopLen) * time.Second / time.Duration(sampleRate)
}

// Stats returns the loop counters. Call it from the goroutine running Run
// or after Run returns.
func (s *Scheduler) Stats() Stats { return s.stats }

// Run streams until the input ends, ctx is cancelled, SIGINT or SIGTERM
// arrives, or a primary output fails. The first three are a normal stop and
// return nil; call Drain afterwards to flush what is buffered.
func (s *Scheduler) Run(ctx context.Context) error {
	s.sig.start(ctx)
	defer s.sig.halt()

	p := s.muxer.Params()
	log.Infof("Scheduler: Streaming %dx%d at %d fps to %s (%d Hz, %d ch, %d-bit)",
		p.Width, p.Height, p.FrameRate, s.out.path, p.SampleRate, p.Channels, p.SampleWidth*8)

	for {
		if err := s.connect(); err != nil {
			return err
		}
		s.synthesize()

		frames := s.muxer.Frames()
		if !s.out.connected() && !frames.Empty() {
			s.stats.DroppedBytes += uint64(frames.BytesUsed())
			frames.Reset()
		}

		s.preparePoll()
		if _, err := unix.Poll(s.fds[:], -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("poll failed: %w", err)
		}

		stop, err := s.dispatch()
		if err != nil || stop {
			return err
		}
	}
}

// connect reopens a FIFO output once a reader appears and writes the header
// on every new connection.
func (s *Scheduler) connect() error {
	if !s.out.connected() {
		ok, err := s.out.connect()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		log.Infof("Scheduler: Output %s connected", s.out.path)
		s.stats.Connects++
		s.needHeader = true
	}
	if !s.needHeader {
		return nil
	}
	if err := s.writeHeader(); err != nil {
		_, ferr := s.outputFailed(err)
		return ferr
	}
	return nil
}

func (s *Scheduler) writeHeader() error {
	if err := s.out.setBlocking(true); err != nil {
		return err
	}
	err := s.muxer.WriteHeader(blockingWriter{fdWriter(s.out.fd)})
	if berr := s.out.setBlocking(false); err == nil {
		err = berr
	}
	if err == nil {
		s.needHeader = false
	}
	return err
}

// outputFailed disconnects the output. Queued frames are dropped so that a
// new reader never starts mid-record. It reports whether the stream must end.
func (s *Scheduler) outputFailed(cause error) (bool, error) {
	s.out.disconnect()
	frames := s.muxer.Frames()
	s.stats.DroppedBytes += uint64(frames.BytesUsed())
	frames.Reset()
	if s.out.primary {
		log.Errorf("Scheduler: Output %s failed: %v", s.out.path, cause)
		return true, fmt.Errorf("%w: %v", ErrOutputClosed, cause)
	}
	log.Infof("Scheduler: Output %s disconnected: %v", s.out.path, cause)
	return false, nil
}

// synthesize renders frames while a whole hop is buffered and a whole
// frame fits.
func (s *Scheduler) synthesize() int {
	n := 0
	for s.analyzer.Ready() && s.muxer.HasRoom() {
		s.applyControls()
		if err := s.renderFrame(); err != nil {
			log.Errorf("Scheduler: Frame %d failed: %v", s.frame.Number, err)
			break
		}
		n++
	}
	return n
}

func (s *Scheduler) renderFrame() error {
	if err := s.analyzer.Analyze(); err != nil {
		return err
	}

	f := &s.frame
	f.Number++
	f.Elapsed += s.period
	s.store.Advance(s.period)
	f.NowPlaying = s.store.Snapshot()
	f.Amplitudes = s.analyzer.Amplitudes()
	f.Bands = s.analyzer.Bands()
	f.Audio = s.analyzer.Hop()
	clear(f.Pixels)

	s.deliverImages()
	if s.renderer != nil {
		if err := s.renderer.Render(f); err != nil {
			log.Warnf("Scheduler: Render failed on frame %d: %v", f.Number, err)
		}
	}
	for _, tap := range s.taps {
		tap.OnFrame(f)
	}

	if err := s.muxer.AssembleFrame(f.Pixels, f.Audio); err != nil {
		return err
	}
	s.stats.Frames++
	return nil
}

func (s *Scheduler) deliverImages() {
	if s.images == nil {
		return
	}
	consumer, _ := s.renderer.(ImageConsumer)
	for {
		res, ok := s.images.Poll()
		if !ok {
			return
		}
		if consumer != nil {
			consumer.ImageLoaded(res)
		}
	}
}

// applyControls runs pending reload and swap requests on a frame boundary.
func (s *Scheduler) applyControls() {
	if s.reload {
		s.reload = false
		if r, ok := s.renderer.(Reloader); ok {
			if err := r.Reload(); err != nil {
				log.Warnf("Scheduler: Reload failed: %v", err)
			}
		}
	}
	if s.swap {
		s.swap = false
		if sw, ok := s.renderer.(Swapper); ok {
			if err := sw.Swap(); err != nil {
				log.Warnf("Scheduler: Swap failed: %v", err)
			}
		}
	}
}

func (s *Scheduler) preparePoll() {
	s.fds[pollSignal] = unix.PollFd{Fd: int32(s.sig.r), Events: unix.POLLIN}

	s.fds[pollInput] = unix.PollFd{Fd: -1}
	if s.analyzer.Samples().BytesFree() > 0 {
		s.fds[pollInput] = unix.PollFd{Fd: int32(s.in.fd), Events: unix.POLLIN}
	}

	// A connected output always stays in the set so hangups are noticed.
	s.fds[pollOutput] = unix.PollFd{Fd: -1}
	if s.out.connected() {
		s.fds[pollOutput].Fd = int32(s.out.fd)
		if !s.muxer.Frames().Empty() {
			s.fds[pollOutput].Events = unix.POLLOUT
		}
	}

	s.fds[pollSource] = unix.PollFd{Fd: -1}
	if s.source != nil {
		s.fds[pollSource] = unix.PollFd{Fd: int32(s.source.Fd()), Events: s.source.Events()}
	}
}

// dispatch handles poll results. It reports whether the loop should stop.
func (s *Scheduler) dispatch() (bool, error) {
	if s.fds[pollSignal].Revents&unix.POLLIN != 0 {
		stop, err := s.handleControls()
		if err != nil || stop {
			return true, err
		}
	}

	out := s.fds[pollOutput].Revents
	if out&unix.POLLOUT != 0 {
		if err := s.flush(); err != nil {
			if stop, ferr := s.outputFailed(err); stop {
				return true, ferr
			}
		}
	}

	in := s.fds[pollInput].Revents
	switch {
	case in&(unix.POLLIN|unix.POLLHUP) != 0:
		n, err := s.analyzer.Samples().Fill()
		if errors.Is(err, io.EOF) {
			log.Infof("Scheduler: Input closed after %d frames", s.stats.Frames)
			return true, nil
		}
		if err != nil {
			return true, fmt.Errorf("failed to read input: %w", err)
		}
		if n == 0 {
			log.Warnf("Scheduler: Input was readable but returned no samples")
		}
	case in&(unix.POLLERR|unix.POLLNVAL) != 0:
		return true, fmt.Errorf("input error (revents 0x%x)", in)
	}

	if s.out.connected() && out&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		if stop, err := s.outputFailed(fmt.Errorf("reader hung up (revents 0x%x)", out)); stop {
			return true, err
		}
	}

	if rev := s.fds[pollSource].Revents; s.source != nil && rev != 0 {
		if err := s.source.Handle(rev); err != nil {
			if errors.Is(err, io.EOF) {
				log.Infof("Scheduler: Metadata source closed")
			} else {
				log.Warnf("Scheduler: Metadata source failed: %v", err)
			}
			s.source.Close()
			s.source = nil
		}
	}
	return false, nil
}

// handleControls consumes the signal pipe. Reload and swap are deferred to
// the next frame boundary.
func (s *Scheduler) handleControls() (bool, error) {
	ctl, err := s.sig.read(s.ctl[:])
	if err != nil {
		return true, fmt.Errorf("failed to read signal pipe: %w", err)
	}
	stop := false
	for _, c := range ctl {
		switch c {
		case ctlTerminate:
			stop = true
		case ctlReload:
			log.Infof("Scheduler: Reload requested")
			s.reload = true
		case ctlSwap:
			log.Infof("Scheduler: Swap requested")
			s.swap = true
		case ctlPipe:
			log.Debugf("Scheduler: SIGPIPE ignored")
		}
	}
	if stop {
		log.Infof("Scheduler: Terminating after %d frames", s.stats.Frames)
	}
	return stop, nil
}

// flush writes queued frame bytes until the output would block.
func (s *Scheduler) flush() error {
	frames := s.muxer.Frames()
	for !frames.Empty() {
		n, err := frames.Drain(frames.BytesUsed())
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
	return nil
}

// Drain switches a connected output to blocking mode and keeps flushing
// frames and synthesizing from buffered samples until less than one hop is
// left and every frame has been written. No more input is read.
func (s *Scheduler) Drain() error {
	if !s.out.connected() {
		return nil
	}
	if s.needHeader {
		if err := s.writeHeader(); err != nil {
			s.outputFailed(err)
			return fmt.Errorf("failed to drain output: %w", err)
		}
	}
	if err := s.out.setBlocking(true); err != nil {
		return err
	}

	frames := s.muxer.Frames()
	for {
		for !frames.Empty() {
			if _, err := frames.Drain(frames.BytesUsed()); err != nil {
				s.outputFailed(err)
				return fmt.Errorf("failed to drain output: %w", err)
			}
		}
		if !s.analyzer.Ready() {
			break
		}
		if s.synthesize() == 0 {
			break
		}
	}
	log.Infof("Scheduler: Drained, %d frames written in total", s.stats.Frames)
	return nil
}

// Close releases every descriptor, waits for a child output process and
// removes a FIFO created by New.
func (s *Scheduler) Close() error {
	s.sig.close()
	errs := []error{s.in.close(), s.out.close()}
	if s.source != nil {
		errs = append(errs, s.source.Close())
		s.source = nil
	}
	return errors.Join(errs...)
}
