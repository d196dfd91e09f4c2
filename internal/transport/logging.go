// SPDX-License-Identifier: MIT
package transport

import (
	"time"

	applog "visualizer/internal/log"
	"visualizer/internal/stream"
)

// LoggingTransport logs what it is sent and doubles as a frame rate monitor:
// attached as a tap, it compares the wall clock rate over each second of
// frames against the target and warns when the stream falls behind.
type LoggingTransport struct {
	target int
	now    func() time.Time

	windowStart time.Time
	count       int
	lastRate    float64
}

// NewLoggingTransport monitors against targetFPS frames per second.
func NewLoggingTransport(targetFPS int) *LoggingTransport {
	applog.Infof("Transport: Using LoggingTransport (target %d fps)", targetFPS)
	return &LoggingTransport{target: max(targetFPS, 1), now: time.Now}
}

// Send logs the received data at debug level.
func (lt *LoggingTransport) Send(data any) error {
	if !applog.Enabled(applog.LevelDebug) {
		return nil
	}
	if bf, ok := data.(BandFrame); ok {
		applog.Debugf("LoggingTransport: Frame %d at %dms, %d bands", bf.Seq, bf.ElapsedMs, len(bf.Bands))
		return nil
	}
	applog.Debugf("LoggingTransport: Received (%T): %+v", data, data)
	return nil
}

// OnFrame implements stream.Tap.
func (lt *LoggingTransport) OnFrame(f *stream.Frame) {
	now := lt.now()
	if lt.windowStart.IsZero() {
		lt.windowStart = now
		return
	}
	lt.count++
	if lt.count < lt.target {
		return
	}

	elapsed := now.Sub(lt.windowStart)
	lt.lastRate = float64(lt.count) / elapsed.Seconds()
	if lt.lastRate < float64(lt.target-1) {
		applog.Warnf("LoggingTransport: Running at %.2f fps, target is %d", lt.lastRate, lt.target)
	} else {
		applog.Debugf("LoggingTransport: Running at %.2f fps", lt.lastRate)
	}
	lt.windowStart = now
	lt.count = 0
}

// Rate is the frame rate measured over the last full window, or zero.
func (lt *LoggingTransport) Rate() float64 { return lt.lastRate }

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	applog.Debugf("LoggingTransport: Close called.")
	return nil
}

var (
	_ Transport  = (*LoggingTransport)(nil)
	_ stream.Tap = (*LoggingTransport)(nil)
)
