// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	applog "visualizer/internal/log"
)

// BandSource provides the latest band amplitudes. transport.Latest
// implements it.
type BandSource interface {
	// BandsInto copies the amplitudes into dst and returns the frame number
	// they belong to (zero when none yet) and the count copied.
	BandsInto(dst []float32) (uint64, int)
}

// UDPPublisher periodically samples the latest band amplitudes, packs them
// into a binary packet and sends it with a UDPSender. Packets are only sent
// when a new frame arrived since the previous tick.
type UDPPublisher struct {
	sender   *UDPSender
	source   BandSource
	interval time.Duration

	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex

	sequenceNum uint32
	lastFrame   uint64

	// Reused on every tick.
	bandBuffer   []float32
	packetBuffer *bytes.Buffer
}

// NewUDPPublisher creates a publisher for up to maxBands amplitudes. If the
// interval is invalid (<= 0), it defaults to 16ms (~60Hz).
func NewUDPPublisher(interval time.Duration, sender *UDPSender, source BandSource, maxBands int) (*UDPPublisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("UDPPublisher: UDP sender cannot be nil")
	}
	if source == nil {
		return nil, fmt.Errorf("UDPPublisher: band source cannot be nil")
	}
	if maxBands <= 0 || maxBands > 0xffff {
		return nil, fmt.Errorf("UDPPublisher: band count %d out of range", maxBands)
	}

	if interval <= 0 {
		interval = 16 * time.Millisecond
		applog.Warnf("UDPPublisher: Invalid interval provided, defaulting to %s", interval)
	}
	applog.Infof("UDPPublisher: Initializing (Interval: %s, Bands: %d)", interval, maxBands)

	return &UDPPublisher{
		sender:       sender,
		source:       source,
		interval:     interval,
		bandBuffer:   make([]float32, maxBands),
		packetBuffer: new(bytes.Buffer),
	}, nil
}

// Start launches the publishing goroutine. Calling it while running is a
// no-op.
func (p *UDPPublisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		applog.Warnf("UDPPublisher: Start called but already running.")
		return
	}

	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}

	ticker := p.ticker
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		applog.Infof("UDPPublisher: Publisher goroutine started (Interval: %s)", p.interval)
		for {
			select {
			case <-ticker.C:
				p.publish()
			case <-doneChan:
				applog.Debugf("UDPPublisher: Publisher goroutine received stop signal.")
				return
			}
		}
	}()
}

// Stop signals the publishing goroutine and waits for it. Calling it when
// stopped is a no-op.
func (p *UDPPublisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		applog.Debugf("UDPPublisher: Stop called but not running.")
		return nil
	}

	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	applog.Infof("UDPPublisher: Publisher goroutine finished.")
	return nil
}

/*
Packet layout, big-endian:

|<---- 4 Bytes ---->|<------ 8 Bytes ------>|<------ 8 Bytes ------>|<-- 2 Bytes -->|<----- N * 4 Bytes ----->|
+-------------------+-----------------------+-----------------------+---------------+-------------------------+
|  Sequence Number  |       Timestamp       |     Frame Number      |  Band Count   |   Band Amplitudes       |
|      (uint32)     |  (int64, unix nanos)  |       (uint64)        |   (uint16)    |   (N * float32, 0..1)   |
+-------------------+-----------------------+-----------------------+---------------+-------------------------+
*/

// HeaderLen is the fixed part of a packet.
const HeaderLen = 4 + 8 + 8 + 2

// publish sends one packet if a new frame is available.
func (p *UDPPublisher) publish() {
	frame, n := p.source.BandsInto(p.bandBuffer)
	if frame == 0 || frame == p.lastFrame {
		return
	}
	p.lastFrame = frame
	p.sequenceNum++

	packet, err := p.buildPacket(p.sequenceNum, time.Now().UnixNano(), frame, p.bandBuffer[:n])
	if err != nil {
		applog.Errorf("UDPPublisher: Error packing data into binary buffer: %v", err)
		return
	}
	if err := p.sender.Send(packet); err == nil {
		applog.Debugf("UDPPublisher: Sent packet %d (%d bytes)", p.sequenceNum, len(packet))
	}
}

func (p *UDPPublisher) buildPacket(seq uint32, timestamp int64, frame uint64, bands []float32) ([]byte, error) {
	p.packetBuffer.Reset()

	err := binary.Write(p.packetBuffer, binary.BigEndian, seq)
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, timestamp)
	}
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, frame)
	}
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, uint16(len(bands)))
	}
	if err == nil {
		err = binary.Write(p.packetBuffer, binary.BigEndian, bands)
	}
	return p.packetBuffer.Bytes(), err
}

// Close implements io.Closer by stopping the publisher.
func (p *UDPPublisher) Close() error {
	return p.Stop()
}

var _ interface{ Close() error } = (*UDPPublisher)(nil)
