// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	applog "visualizer/internal/log"
	"visualizer/internal/metadata"
)

// MQTT defaults.
const (
	DefaultMQTTBandsTopic   = "visualizer/bands"
	DefaultMQTTNowPlaying   = "visualizer/nowplaying"
	mqttConnectTimeout      = 5 * time.Second
	mqttMaxReconnectBackoff = 30 * time.Second
	mqttDisconnectQuiesceMs = 250
)

// MQTTConfig selects the broker and topics.
type MQTTConfig struct {
	Broker          string // host:port or a full URL
	ClientID        string
	BandsTopic      string
	NowPlayingTopic string // empty disables the subscription
	QoS             byte
}

// MQTTTransport publishes band frames as msgpack and applies now-playing
// updates (msgpack or JSON maps) from a subscription to the metadata store.
// Publishing never waits for the broker.
type MQTTTransport struct {
	cfg    MQTTConfig
	client mqtt.Client
	store  *metadata.Store

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

// NewMQTTTransport connects to cfg.Broker and subscribes to the now-playing
// topic. store may be nil when only publishing.
func NewMQTTTransport(cfg MQTTConfig, store *metadata.Store) (*MQTTTransport, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt: broker address is required")
	}
	if cfg.BandsTopic == "" {
		cfg.BandsTopic = DefaultMQTTBandsTopic
	}

	t := &MQTTTransport{cfg: cfg, store: store}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(mqttMaxReconnectBackoff)
	opts.SetOnConnectHandler(t.onConnect)
	opts.SetConnectionLostHandler(t.onConnectionLost)

	t.client = mqtt.NewClient(opts)
	applog.Infof("MQTTTransport: Connecting to %s as %s", cfg.Broker, cfg.ClientID)

	token := t.client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		applog.Warnf("MQTTTransport: Broker %s not reachable yet, retrying in the background", cfg.Broker)
		return t, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return t, nil
}

func brokerURL(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	return "tcp://" + addr
}

// onConnect (re)subscribes, since subscriptions do not survive a clean
// session reconnect.
func (t *MQTTTransport) onConnect(c mqtt.Client) {
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	applog.Infof("MQTTTransport: Connected to %s", t.cfg.Broker)

	if t.store == nil || t.cfg.NowPlayingTopic == "" {
		return
	}
	token := c.Subscribe(t.cfg.NowPlayingTopic, t.cfg.QoS, t.handleNowPlaying)
	go func() {
		if !token.WaitTimeout(mqttConnectTimeout) {
			applog.Warnf("MQTTTransport: Subscription to %s timed out", t.cfg.NowPlayingTopic)
			return
		}
		if err := token.Error(); err != nil {
			applog.Warnf("MQTTTransport: Subscription to %s failed: %v", t.cfg.NowPlayingTopic, err)
		}
	}()
}

func (t *MQTTTransport) onConnectionLost(_ mqtt.Client, err error) {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	applog.Warnf("MQTTTransport: Connection lost, will auto-reconnect: %v", err)
}

// handleNowPlaying accepts a msgpack map or, failing that, a JSON object.
func (t *MQTTTransport) handleNowPlaying(_ mqtt.Client, msg mqtt.Message) {
	if err := applyPayload(t.store, msg.Payload()); err != nil {
		applog.Warnf("MQTTTransport: Bad now-playing message on %s: %v", msg.Topic(), err)
	}
}

func applyPayload(store *metadata.Store, payload []byte) error {
	var fields map[string]any
	if err := msgpack.Unmarshal(payload, &fields); err == nil {
		return applyFields(store, normalizeNumbers(fields))
	}
	return applyJSON(store, payload)
}

// normalizeNumbers turns msgpack's integer types into float64 like JSON.
func normalizeNumbers(fields map[string]any) map[string]any {
	for k, v := range fields {
		switch n := v.(type) {
		case int8:
			fields[k] = float64(n)
		case int16:
			fields[k] = float64(n)
		case int32:
			fields[k] = float64(n)
		case int64:
			fields[k] = float64(n)
		case uint8:
			fields[k] = float64(n)
		case uint16:
			fields[k] = float64(n)
		case uint32:
			fields[k] = float64(n)
		case uint64:
			fields[k] = float64(n)
		case float32:
			fields[k] = float64(n)
		}
	}
	return fields
}

// Send publishes data as msgpack without waiting for the acknowledgement.
func (t *MQTTTransport) Send(data any) error {
	if !t.isConnected() {
		t.countError()
		return errors.New("mqtt not connected")
	}
	payload, err := msgpack.Marshal(data)
	if err != nil {
		t.countError()
		return fmt.Errorf("failed to marshal msgpack payload: %w", err)
	}
	token := t.client.Publish(t.cfg.BandsTopic, t.cfg.QoS, false, payload)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			t.countError()
			applog.Debugf("MQTTTransport: Publish failed: %v", err)
			return
		}
		t.mu.Lock()
		t.published++
		t.mu.Unlock()
	}()
	return nil
}

// MQTTStats are publish counters.
type MQTTStats struct {
	Connected bool
	Published uint64
	Errors    uint64
}

// Stats returns the counters.
func (t *MQTTTransport) Stats() MQTTStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return MQTTStats{Connected: t.connected, Published: t.published, Errors: t.errors}
}

func (t *MQTTTransport) isConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

func (t *MQTTTransport) countError() {
	t.mu.Lock()
	t.errors++
	t.mu.Unlock()
}

// Close disconnects from the broker and stops any pending connect retry.
func (t *MQTTTransport) Close() error {
	if t.client != nil {
		if t.client.IsConnected() && t.store != nil && t.cfg.NowPlayingTopic != "" {
			t.client.Unsubscribe(t.cfg.NowPlayingTopic).WaitTimeout(time.Second)
		}
		t.client.Disconnect(mqttDisconnectQuiesceMs)
		applog.Infof("MQTTTransport: Disconnected")
	}
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	return nil
}

var _ Transport = (*MQTTTransport)(nil)
