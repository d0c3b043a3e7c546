package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig configures the broker connection underneath the MQTT adaptor.
type MQTTConfig struct {
	Broker       string // e.g. "tcp://localhost:1883"
	ClientID     string
	Username     string
	Password     string
	TopicPrefix  string // defaults to "astrocomm"
	CleanSession bool
}

// MQTT maps envelopes onto the topic scheme from spec §4.2:
// astrocomm/device/{id}/{command|status|data/<name>|event/<name>}.
// A "peer" on this transport is a deviceID; the MQTT client itself never
// appears as a peer. Every publish and the subscription use MQTT QoS 1; the
// envelope's own QoS is carried out by the queue/session layers above, and
// it does not change the MQTT QoS level.
type MQTT struct {
	cfg  MQTTConfig
	opts Options
	c    paho.Client

	mu        sync.Mutex
	known     map[string]bool // peers (device ids) seen on an inbound topic
	started   bool
	onInbound InboundFunc
	onConnect func(string)
	onDisconn func(string)
}

// NewMQTT builds an MQTT adaptor.
func NewMQTT(cfg MQTTConfig, opts Options) *MQTT {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "astrocomm"
	}
	return &MQTT{cfg: cfg, opts: opts, known: make(map[string]bool)}
}

func (m *MQTT) Tag() string { return "mqtt" }

func (m *MQTT) topicBase(deviceID string) string {
	return fmt.Sprintf("%s/device/%s", m.cfg.TopicPrefix, deviceID)
}

// suffixFor inspects the envelope's messageType/event to pick the topic
// suffix bytes are published under.
func suffixFor(b []byte) string {
	var head struct {
		MessageType string `json:"messageType"`
		Event       string `json:"event"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return "command"
	}
	switch head.MessageType {
	case "Command":
		return "command"
	case "Response", "Error":
		return "status"
	case "Event":
		if head.Event != "" {
			return "event/" + head.Event
		}
		return "event"
	default:
		return "data"
	}
}

func (m *MQTT) Start(ctx context.Context) error {
	if err := m.opts.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	opts := paho.NewClientOptions().
		AddBroker(m.cfg.Broker).
		SetClientID(m.cfg.ClientID).
		SetUsername(m.cfg.Username).
		SetPassword(m.cfg.Password).
		SetAutoReconnect(true).
		SetCleanSession(m.cfg.CleanSession).
		SetConnectTimeout(m.opts.ReadTimeout)

	m.c = paho.NewClient(opts)
	tok := m.c.Connect()
	if !tok.WaitTimeout(m.opts.ReadTimeout) {
		return wrapf(m.Tag(), "connect timeout to %s", m.cfg.Broker)
	}
	if tok.Error() != nil {
		return wrapf(m.Tag(), "connect: %w", tok.Error())
	}

	subTopic := fmt.Sprintf("%s/device/+/#", m.cfg.TopicPrefix)
	subTok := m.c.Subscribe(subTopic, 1, m.handleMessage)
	subTok.Wait()
	if subTok.Error() != nil {
		return wrapf(m.Tag(), "subscribe %s: %w", subTopic, subTok.Error())
	}
	return nil
}

func (m *MQTT) handleMessage(_ paho.Client, msg paho.Message) {
	parts := strings.Split(msg.Topic(), "/")
	// astrocomm/device/<id>/<suffix...>
	if len(parts) < 3 {
		return
	}
	deviceID := parts[2]

	m.mu.Lock()
	isNew := !m.known[deviceID]
	m.known[deviceID] = true
	m.mu.Unlock()

	if isNew && m.onConnect != nil {
		m.onConnect(deviceID)
	}
	if m.onInbound != nil {
		m.onInbound(DeliveryMeta{Tag: m.Tag(), PeerID: deviceID}, msg.Payload())
	}
}

func (m *MQTT) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	peers := make([]string, 0, len(m.known))
	for p := range m.known {
		peers = append(peers, p)
	}
	m.known = make(map[string]bool)
	m.mu.Unlock()

	if m.c != nil {
		m.c.Disconnect(uint(250 * time.Millisecond / time.Millisecond))
	}
	for _, p := range peers {
		if m.onDisconn != nil {
			m.onDisconn(p)
		}
	}
	return nil
}

func (m *MQTT) Send(peerID string, b []byte) error {
	if m.c == nil || !m.c.IsConnected() {
		return ErrNotStarted
	}
	topic := m.topicBase(peerID) + "/" + suffixFor(b)
	retain := strings.Contains(topic, "/status")
	tok := m.c.Publish(topic, 1, retain, b)
	if !tok.WaitTimeout(m.opts.WriteTimeout) {
		return wrapf(m.Tag(), "publish timeout to %s", topic)
	}
	return tok.Error()
}

func (m *MQTT) OnInbound(fn InboundFunc)         { m.onInbound = fn }
func (m *MQTT) OnConnect(fn func(peerID string))  { m.onConnect = fn }
func (m *MQTT) OnDisconnect(fn func(string))      { m.onDisconn = fn }
