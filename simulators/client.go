// Package simulators provides the out-of-scope device side of the wire
// protocol: a minimal peer that dials a broker over any transport.Transport,
// registers a device identity, and bridges typed devices.Source/Sink/Duplex
// state onto Command/Event envelopes. Real hardware drivers are an external
// collaborator the broker only ever sees through this same wire shape; these
// are the simulated stand-ins used to exercise the rest of the module.
package simulators

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rustyeddy/astrocomm/envelope"
	"github.com/rustyeddy/astrocomm/transport"
)

// Client is a single simulated device's connection to a broker. It carries
// none of the broker's routing, queueing or subscription machinery; a real
// device doesn't either, it just speaks Command/Response/Event/Registration.
type Client struct {
	Transport transport.Transport
	DeviceID  string
	Info      envelope.DeviceInfo

	log *slog.Logger

	mu       sync.Mutex
	peerID   string
	handlers map[string]func(*envelope.Envelope)
}

// NewClient builds a simulator client that will identify itself as info
// (info.ID becomes the envelope deviceId) once Start dials t.
func NewClient(t transport.Transport, info envelope.DeviceInfo) *Client {
	return &Client{
		Transport: t,
		DeviceID:  info.ID,
		Info:      info,
		log:       slog.Default().With("component", "simulator", "device", info.ID),
		handlers:  make(map[string]func(*envelope.Envelope)),
	}
}

// Start connects the underlying transport and announces the device with a
// Registration envelope.
func (c *Client) Start(ctx context.Context) error {
	c.Transport.OnInbound(c.handleInbound)
	c.Transport.OnConnect(c.handleConnect)
	if err := c.Transport.Start(ctx); err != nil {
		return err
	}
	return c.register()
}

func (c *Client) handleConnect(peerID string) {
	c.mu.Lock()
	c.peerID = peerID
	c.mu.Unlock()
}

// Stop tears down the underlying transport.
func (c *Client) Stop(ctx context.Context) error {
	return c.Transport.Stop(ctx)
}

func (c *Client) register() error {
	info := c.Info
	return c.send(&envelope.Envelope{
		MessageType: envelope.Registration,
		MessageID:   envelope.NewMessageID(),
		DeviceID:    c.DeviceID,
		Timestamp:   time.Now().UTC(),
		Priority:    envelope.Normal,
		QoS:         envelope.AtLeastOnce,
		DeviceInfo:  &info,
	})
}

func (c *Client) send(env *envelope.Envelope) error {
	b, err := envelope.Encode(env)
	if err != nil {
		return err
	}

	c.mu.Lock()
	peerID := c.peerID
	c.mu.Unlock()

	return c.Transport.Send(peerID, b)
}

func (c *Client) handleInbound(meta transport.DeliveryMeta, raw []byte) {
	c.mu.Lock()
	c.peerID = meta.PeerID
	c.mu.Unlock()

	env, err := envelope.Decode(raw)
	if err != nil {
		c.log.Warn("dropping malformed envelope", "error", err)
		return
	}
	if env.MessageType != envelope.Command {
		return
	}

	c.mu.Lock()
	h := c.handlers[env.Command]
	c.mu.Unlock()

	if h == nil {
		c.Respond(env, "ERROR", map[string]any{"reason": "unsupported command: " + env.Command})
		return
	}
	h(env)
}

// OnCommand registers the handler invoked for inbound Commands named name.
// Only one handler per name is kept; registering again replaces it.
func (c *Client) OnCommand(name string, fn func(env *envelope.Envelope)) {
	c.mu.Lock()
	c.handlers[name] = fn
	c.mu.Unlock()
}

// Respond sends a Response envelope correlated to the Command orig.
func (c *Client) Respond(orig *envelope.Envelope, status string, details map[string]any) error {
	return c.send(&envelope.Envelope{
		MessageType:       envelope.Response,
		MessageID:         envelope.NewMessageID(),
		DeviceID:          c.DeviceID,
		Timestamp:         time.Now().UTC(),
		OriginalMessageID: orig.MessageID,
		Priority:          orig.Priority,
		QoS:               orig.QoS,
		Status:            status,
		Details:           details,
	})
}

// Event publishes an Event envelope carrying the device's current properties.
func (c *Client) Event(name string, properties map[string]any) error {
	return c.send(envelope.NewEvent(c.DeviceID, name, properties, nil, envelope.Normal))
}
