// Package router dispatches envelopes between clients and devices (C6): it
// looks up the registry for command routing, correlates Responses/Errors
// back to their originating client, fans events out through C7, diffs
// property changes, and runs the timer wheel for pending-response
// deadlines.
package router

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rustyeddy/astrocomm/envelope"
	"github.com/rustyeddy/astrocomm/registry"
	"github.com/rustyeddy/astrocomm/subscription"
)

// Peer is the session-level surface the router needs: enqueue an outbound
// envelope, acknowledge a delivered message id, and report the peer id,
// which the router uses as the subscriber id for subscribe/unsubscribe.
type Peer interface {
	Enqueue(env *envelope.Envelope) error
	Ack(messageID string)
	ID() string
}

// pendingEntry records where an in-flight Command came from and when it
// expires, per spec §4.6 ("the client's pending-response map stores
// messageId -> (clientPeerId, deadline)").
type pendingEntry struct {
	client   Peer
	deviceID string
	deadline time.Time
	timer    *time.Timer
}

// SupervisorHook lets C9 observe every routed Error in addition to its
// normal delivery to the originating client (spec §4.9).
type SupervisorHook func(env *envelope.Envelope)

// Config bounds router behavior.
type Config struct {
	PendingResponseTimeout time.Duration

	// EnableCommandFiltering turns on the AllowedCommands allow-list
	// (spec §6 "allowedCommands" / "enableCommandFiltering").
	EnableCommandFiltering bool
	AllowedCommands        map[string]bool
}

// DefaultConfig matches the spec's default 10s pending-response deadline.
func DefaultConfig() Config {
	return Config{PendingResponseTimeout: 10 * time.Second}
}

// Router ties the registry, subscription manager, and per-peer sessions
// together. Safe for concurrent use.
type Router struct {
	cfg      Config
	reg      *registry.Registry
	subs     *subscription.Manager
	onError  SupervisorHook
	log      *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingEntry // messageId -> originating client
	devices map[string]Peer         // deviceId -> device's peer, for Command delivery

	droppedResponses atomic.Int64
}

// New builds a router over reg and subs. onError, if non-nil, is invoked
// for every routed Error envelope in addition to its normal delivery
// (the C9 supervisor hook).
func New(reg *registry.Registry, subs *subscription.Manager, cfg Config, onError SupervisorHook) *Router {
	return &Router{
		cfg:     cfg,
		reg:     reg,
		subs:    subs,
		onError: onError,
		log:     slog.Default().With("component", "router"),
		pending: make(map[string]*pendingEntry),
		devices: make(map[string]Peer),
	}
}

// BindDevice associates deviceID with the Peer that owns its session, so
// Command dispatch can find it. Call on Registration; unbind on disconnect.
func (r *Router) BindDevice(deviceID string, p Peer) {
	r.mu.Lock()
	r.devices[deviceID] = p
	r.mu.Unlock()
}

// UnbindDevice removes a device's routing entry, e.g. on session close.
func (r *Router) UnbindDevice(deviceID string) {
	r.mu.Lock()
	delete(r.devices, deviceID)
	r.mu.Unlock()
}

// Route dispatches one decoded envelope according to spec §4.6. client is
// the peer the envelope arrived on (a client session for Command/Discovery,
// a device session for Response/Event/Error/Registration).
func (r *Router) Route(ctx context.Context, client Peer, env *envelope.Envelope) {
	switch env.MessageType {
	case envelope.Command:
		r.routeCommand(client, env)
	case envelope.Response, envelope.Error:
		r.routeResponseOrError(client, env)
	case envelope.Event:
		r.routeEvent(env)
	case envelope.Registration:
		r.routeRegistration(client, env)
	case envelope.DiscoveryRequest:
		r.routeDiscovery(client, env)
	default:
		r.log.Debug("unrouted message type", "type", env.MessageType)
	}
}

// Reserved command names that never reach a device: subscription
// management rides the same Command envelope as any other command (the
// protocol has no dedicated subscribe message shape) but is handled
// entirely at the broker, answered with a Response carrying status "ok".
const (
	CommandSubscribe   = "subscribe"
	CommandUnsubscribe = "unsubscribe"
)

// routeCommand implements spec §4.6 item 1, plus the subscribe/unsubscribe
// management commands described in spec §4.7's subscription 4-tuple.
func (r *Router) routeCommand(client Peer, env *envelope.Envelope) {
	if env.Command == CommandSubscribe || env.Command == CommandUnsubscribe {
		r.routeSubscriptionCommand(client, env)
		return
	}

	if r.cfg.EnableCommandFiltering && !r.cfg.AllowedCommands[env.Command] {
		_ = client.Enqueue(envelope.NewError(env.MessageID, env.DeviceID,
			envelope.ErrUnsupportedCommand, "command not in allow-list", envelope.SeverityWarning))
		return
	}

	rec, ok := r.reg.Get(env.DeviceID)
	if !ok || !rec.Connected {
		_ = client.Enqueue(envelope.NewError(env.MessageID, env.DeviceID,
			envelope.ErrDeviceUnavailable, "device not connected", envelope.SeverityWarning))
		return
	}

	r.mu.Lock()
	dev, ok := r.devices[env.DeviceID]
	if ok {
		r.pending[env.MessageID] = &pendingEntry{
			client:   client,
			deviceID: env.DeviceID,
			deadline: time.Now().Add(r.cfg.PendingResponseTimeout),
			timer: time.AfterFunc(r.cfg.PendingResponseTimeout, func() {
				r.expirePending(env.MessageID)
			}),
		}
	}
	r.mu.Unlock()

	if !ok {
		_ = client.Enqueue(envelope.NewError(env.MessageID, env.DeviceID,
			envelope.ErrDeviceUnavailable, "device session not bound", envelope.SeverityWarning))
		return
	}
	if err := dev.Enqueue(env); err != nil {
		r.cleanupPending(env.MessageID)
		_ = client.Enqueue(envelope.NewError(env.MessageID, env.DeviceID,
			envelope.ErrBackpressure, err.Error(), envelope.SeverityWarning))
	}
}

// routeSubscriptionCommand implements the subscribe/unsubscribe management
// surface over spec §4.7's (subscriber, device, kind, name) 4-tuple.
// Parameters: {"kind": "property"|"event", "name": "<name>"}.
func (r *Router) routeSubscriptionCommand(client Peer, env *envelope.Envelope) {
	kind, _ := env.Parameters["kind"].(string)
	name, _ := env.Parameters["name"].(string)
	if name == "" {
		_ = client.Enqueue(envelope.NewError(env.MessageID, env.DeviceID, envelope.ErrInvalidEnvelope,
			"subscribe requires parameters.name", envelope.SeverityWarning))
		return
	}

	subscribe := env.Command == CommandSubscribe
	switch kind {
	case "property":
		if subscribe {
			r.subs.SubscribeProperty(client.ID(), client, env.DeviceID, name)
		} else {
			r.subs.UnsubscribeProperty(client.ID(), env.DeviceID, name)
		}
	default: // "event" and unset both mean a plain event subscription
		if subscribe {
			r.subs.SubscribeEvent(client.ID(), client, env.DeviceID, name)
		} else {
			r.subs.UnsubscribeEvent(client.ID(), env.DeviceID, name)
		}
	}

	_ = client.Enqueue(&envelope.Envelope{
		MessageType:       envelope.Response,
		MessageID:         envelope.NewMessageID(),
		Timestamp:         time.Now().UTC(),
		OriginalMessageID: env.MessageID,
		Priority:          envelope.Normal,
		QoS:               envelope.AtMostOnce,
		Status:            "ok",
	})
}

// expirePending fires the router's timer wheel deadline for messageID,
// generating a synthetic TIMEOUT Error back to the originating client
// (spec §4.6 "Deadlines").
func (r *Router) expirePending(messageID string) {
	r.mu.Lock()
	pe, ok := r.pending[messageID]
	if ok {
		delete(r.pending, messageID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	_ = pe.client.Enqueue(envelope.NewError(messageID, pe.deviceID, envelope.ErrTimeout,
		"no response within deadline", envelope.SeverityWarning))
}

func (r *Router) cleanupPending(messageID string) {
	r.mu.Lock()
	pe, ok := r.pending[messageID]
	if ok {
		delete(r.pending, messageID)
	}
	r.mu.Unlock()
	if ok && pe.timer != nil {
		pe.timer.Stop()
	}
}

// routeResponseOrError implements spec §4.6 item 2 and item 4.
func (r *Router) routeResponseOrError(devicePeer Peer, env *envelope.Envelope) {
	r.mu.Lock()
	pe, ok := r.pending[env.OriginalMessageID]
	if ok {
		delete(r.pending, env.OriginalMessageID)
	}
	r.mu.Unlock()

	if !ok {
		r.droppedResponses.Add(1)
		r.log.Debug("uncorrelatable response dropped", "originalMessageId", env.OriginalMessageID)
		return
	}
	if pe.timer != nil {
		pe.timer.Stop()
	}

	devicePeer.Ack(env.OriginalMessageID)
	if err := pe.client.Enqueue(env); err != nil {
		r.log.Warn("delivery to client failed", "error", err)
	}

	if env.MessageType == envelope.Response && env.Properties != nil {
		r.diffAndFanOutProperties(env.DeviceID, env.Properties)
	}

	if env.MessageType == envelope.Error && r.onError != nil {
		r.onError(env)
	}
}

// diffAndFanOutProperties implements spec §4.6 item 4: diff a Response's
// properties against the registry and synthesize property_changed Events
// for each differing key, storing the new value as a side effect.
func (r *Router) diffAndFanOutProperties(deviceID string, props map[string]any) {
	for name, newVal := range props {
		old, existed := r.reg.SetProperty(deviceID, name, newVal)
		if !existed || old == newVal {
			continue
		}
		ev := envelope.NewEvent(deviceID, subscription.PropertyChangedEvent,
			map[string]any{name: newVal},
			map[string]any{"property": name, "oldValue": old},
			envelope.Normal)
		r.subs.HandleEvent(ev)
	}
}

// routeEvent implements spec §4.6 item 3: fan out via C7 and bump lastSeen.
func (r *Router) routeEvent(env *envelope.Envelope) {
	r.reg.SetConnected(env.DeviceID, true) // also refreshes lastSeen
	r.subs.HandleEvent(env)
}

// routeRegistration records the device in the registry, which rejects an
// id that is still connected (DUPLICATE_REGISTRATION); on success it binds
// the sending peer as the device's Command destination.
func (r *Router) routeRegistration(client Peer, env *envelope.Envelope) {
	if env.DeviceInfo == nil {
		_ = client.Enqueue(envelope.NewError(env.MessageID, "", envelope.ErrInvalidEnvelope,
			"registration missing deviceInfo", envelope.SeverityWarning))
		return
	}
	if !r.reg.Register(*env.DeviceInfo) {
		_ = client.Enqueue(envelope.NewError(env.MessageID, env.DeviceInfo.ID,
			envelope.ErrDuplicateRegistration, "device already connected", envelope.SeverityWarning))
		return
	}
	r.BindDevice(env.DeviceInfo.ID, client)
}

// routeDiscovery implements spec §4.6 item 5 (client half): answered from
// C4 without touching devices.
func (r *Router) routeDiscovery(client Peer, env *envelope.Envelope) {
	records := r.reg.List(env.DeviceTypes...)
	devices := make(map[string]*envelope.DeviceInfo, len(records))
	for id, rec := range records {
		info := rec.Info
		devices[id] = &info
	}
	resp := &envelope.Envelope{
		MessageType:       envelope.DiscoveryResponse,
		MessageID:         envelope.NewMessageID(),
		Timestamp:         time.Now().UTC(),
		OriginalMessageID: env.MessageID,
		Priority:          envelope.Normal,
		QoS:               envelope.AtMostOnce,
		Devices:           devices,
	}
	_ = client.Enqueue(resp)
}

// DroppedResponses reports how many Response/Error envelopes were dropped
// for lacking a pending correlation (spec §4.6 item 2).
func (r *Router) DroppedResponses() int64 {
	return r.droppedResponses.Load()
}
