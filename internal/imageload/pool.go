// SPDX-License-Identifier: MIT
/*
Package imageload decodes and scales still or animated images off the frame
loop. Renderers submit requests tagged with their own handle and receive BGR24
frames back through Poll, which the scheduler calls once per frame.
*/
package imageload

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"visualizer/internal/log"
)

var (
	// ErrQueueFull is returned by Submit when the request queue is saturated.
	ErrQueueFull = errors.New("imageload: queue full")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("imageload: pool closed")
)

// DefaultQueueLen bounds both pending requests and undelivered results.
const DefaultQueueLen = 32

// Request asks for Path scaled to Width x Height.
type Request struct {
	Tag    int // opaque handle echoed back in the Result
	Path   string
	Width  int
	Height int
}

// Result carries the decoded frames as top-down BGR24 buffers of
// Width*Height*3 bytes. Still images have one frame and no delays.
type Result struct {
	Request
	Frames [][]byte
	Delays []time.Duration
	Err    error
}

// Pool runs a single decode worker.
type Pool struct {
	requests chan Request
	results  chan Result
	done     chan struct{}
	wg       sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPool starts the worker. queueLen <= 0 selects DefaultQueueLen.
func NewPool(queueLen int) *Pool {
	if queueLen <= 0 {
		queueLen = DefaultQueueLen
	}
	p := &Pool{
		requests: make(chan Request, queueLen),
		results:  make(chan Result, queueLen),
		done:     make(chan struct{}),
	}
	p.wg.Add(1)
	go p.worker()
	return p
}

// Submit queues r without blocking.
func (p *Pool) Submit(r Request) error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("imageload: bad target size %dx%d", r.Width, r.Height)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.requests <- r:
		return nil
	default:
		return ErrQueueFull
	}
}

// Poll returns one finished result, if any, without blocking.
func (p *Pool) Poll() (Result, bool) {
	select {
	case res := <-p.results:
		return res, true
	default:
		return Result{}, false
	}
}

// Close stops the worker. Pending requests are discarded.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case req := <-p.requests:
			res := Load(req)
			if res.Err != nil {
				log.Warnf("ImageLoad: %v", res.Err)
			} else {
				log.Debugf("ImageLoad: Decoded %s (%d frames)", req.Path, len(res.Frames))
			}
			select {
			case p.results <- res:
			case <-p.done:
				return
			}
		}
	}
}
