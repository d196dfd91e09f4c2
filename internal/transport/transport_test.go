// SPDX-License-Identifier: MIT
package transport

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"visualizer/internal/metadata"
	"visualizer/internal/stream"
)

type captureTransport struct {
	mu   sync.Mutex
	sent []any
}

func (c *captureTransport) Send(data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, data)
	return nil
}

func (c *captureTransport) Close() error { return nil }

func frame(n uint64, amps ...float64) *stream.Frame {
	f := &stream.Frame{Number: n, Amplitudes: amps, Elapsed: time.Duration(n) * 33 * time.Millisecond}
	f.NowPlaying.Title = "Song"
	return f
}

func TestNewBandFrame(t *testing.T) {
	bf := NewBandFrame(frame(3, 0.5, 1))
	assert.Equal(t, BandFrame{Seq: 3, ElapsedMs: 99, Bands: []float32{0.5, 1}, Title: "Song"}, bf)
}

func TestPublisherSendsEveryNth(t *testing.T) {
	ct := &captureTransport{}
	p := NewPublisher(ct, 2)
	for n := uint64(1); n <= 5; n++ {
		p.OnFrame(frame(n, 0.1))
	}
	require.Len(t, ct.sent, 2)
	assert.Equal(t, uint64(2), ct.sent[0].(BandFrame).Seq)
	assert.Equal(t, uint64(4), ct.sent[1].(BandFrame).Seq)

	all := NewPublisher(ct, 0)
	all.OnFrame(frame(7, 0.1))
	assert.Len(t, ct.sent, 3)
}

func TestLatest(t *testing.T) {
	var l Latest
	dst := make([]float32, 4)
	seq, n := l.BandsInto(dst)
	assert.Zero(t, seq)
	assert.Zero(t, n)

	l.OnFrame(frame(9, 0.25, 0.75))
	seq, n = l.BandsInto(dst)
	assert.Equal(t, uint64(9), seq)
	assert.Equal(t, []float32{0.25, 0.75}, dst[:n])

	short := make([]float32, 1)
	_, n = l.BandsInto(short)
	assert.Equal(t, 1, n)
}

func TestLoggingTransportRateMonitor(t *testing.T) {
	lt := NewLoggingTransport(10)
	clock := time.Unix(0, 0)
	lt.now = func() time.Time { return clock }

	lt.OnFrame(frame(0))
	for i := range 10 {
		clock = clock.Add(100 * time.Millisecond)
		lt.OnFrame(frame(uint64(i + 1)))
	}
	assert.InDelta(t, 10.0, lt.Rate(), 1e-9)

	for i := range 10 {
		clock = clock.Add(200 * time.Millisecond)
		lt.OnFrame(frame(uint64(i + 11)))
	}
	assert.InDelta(t, 5.0, lt.Rate(), 1e-9)

	assert.NoError(t, lt.Send(NewBandFrame(frame(1))))
	assert.NoError(t, lt.Send("anything"))
	assert.NoError(t, lt.Close())
}

func TestApplyPayload(t *testing.T) {
	store := metadata.NewStore()

	packed, err := msgpack.Marshal(map[string]any{"title": "Packed", "elapsed": 42, "total": 180.5})
	require.NoError(t, err)
	require.NoError(t, applyPayload(store, packed))
	np := store.Snapshot()
	assert.Equal(t, "Packed", np.Title)
	assert.Equal(t, 42*time.Second, np.Elapsed)
	assert.Equal(t, 180500*time.Millisecond, np.Total)

	require.NoError(t, applyPayload(store, []byte(`{"artist":"Json","elapsed":1.5}`)))
	np = store.Snapshot()
	assert.Equal(t, "Json", np.Artist)
	assert.Equal(t, 1500*time.Millisecond, np.Elapsed)

	assert.Error(t, applyPayload(store, []byte("garbage")))
	assert.Error(t, applyPayload(store, []byte(`{"colour":"red"}`)))
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestMQTTNowPlayingHandler(t *testing.T) {
	store := metadata.NewStore()
	tr := &MQTTTransport{store: store}

	tr.handleNowPlaying(nil, fakeMessage{topic: DefaultMQTTNowPlaying, payload: []byte(`{"title":"Over MQTT"}`)})
	assert.Equal(t, "Over MQTT", store.Snapshot().Title)

	tr.handleNowPlaying(nil, fakeMessage{topic: DefaultMQTTNowPlaying, payload: []byte("{")})
	assert.Equal(t, "Over MQTT", store.Snapshot().Title, "bad payload leaves state alone")
}

func TestMQTTSendWhileDisconnected(t *testing.T) {
	tr := &MQTTTransport{cfg: MQTTConfig{BandsTopic: DefaultMQTTBandsTopic}}
	assert.Error(t, tr.Send(BandFrame{Seq: 1}))
	assert.Equal(t, MQTTStats{Errors: 1}, tr.Stats())
	assert.NoError(t, tr.Close())
}

func TestNewMQTTTransportNeedsBroker(t *testing.T) {
	_, err := NewMQTTTransport(MQTTConfig{}, nil)
	assert.Error(t, err)
}

func TestBrokerURL(t *testing.T) {
	assert.Equal(t, "tcp://localhost:1883", brokerURL("localhost:1883"))
	assert.Equal(t, "ssl://broker:8883", brokerURL("ssl://broker:8883"))
}

func TestWebSocketBroadcastAndIngest(t *testing.T) {
	store := metadata.NewStore()
	wst := newWebSocketTransport("", store)
	defer wst.Close()

	srv := httptest.NewServer(wst.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return wst.ClientCount() == 1 }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, wst.Send(NewBandFrame(frame(5, 0.5))))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var got BandFrame
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, uint64(5), got.Seq)
	assert.Equal(t, []float32{0.5}, got.Bands)

	require.NoError(t, conn.WriteJSON(map[string]any{"title": "From Browser", "elapsed": 3}))
	require.Eventually(t, func() bool { return store.Snapshot().Title == "From Browser" }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3*time.Second, store.Snapshot().Elapsed)

	conn.Close()
	require.Eventually(t, func() bool { return wst.ClientCount() == 0 }, 5*time.Second, 5*time.Millisecond)
}
