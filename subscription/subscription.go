// Package subscription is the fan-out manager (C7): it tracks which
// subscriber wants which (device, event-name) pairs and delivers matching
// Events to each subscriber's own outbound queue.
package subscription

import (
	"log/slog"
	"sync"

	"github.com/rustyeddy/astrocomm/envelope"
)

// Sink is anything that can accept an outbound envelope; *session.Session
// satisfies this without subscription importing session (which would be a
// cycle, since router depends on both).
type Sink interface {
	Enqueue(env *envelope.Envelope) error
}

type key struct {
	deviceID string
	event    string
}

// Manager tracks subscriptions and fans out Events. Safe for concurrent use.
type Manager struct {
	mu   sync.RWMutex
	subs map[key]map[string]Sink // (deviceId, event) -> subscriberId -> sink

	onFailure func(subscriberID string, err error)
	log       *slog.Logger
}

// New builds an empty subscription manager. onFailure, if non-nil, is
// called when fan-out to one subscriber fails; it must not block.
func New(onFailure func(subscriberID string, err error)) *Manager {
	return &Manager{
		subs:      make(map[key]map[string]Sink),
		onFailure: onFailure,
		log:       slog.Default().With("component", "subscription"),
	}
}

// SubscribeEvent registers subscriberID to receive `name` events from
// deviceID. Idempotent: re-subscribing is a no-op (spec §8, invariant 5).
func (m *Manager) SubscribeEvent(subscriberID string, sink Sink, deviceID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{deviceID, name}
	if m.subs[k] == nil {
		m.subs[k] = make(map[string]Sink)
	}
	m.subs[k][subscriberID] = sink
}

// SubscribeProperty registers subscriberID to receive property_changed
// events for `name` on deviceID (the router synthesizes these; this is
// sugar over SubscribeEvent with the fixed event name).
func (m *Manager) SubscribeProperty(subscriberID string, sink Sink, deviceID, name string) {
	m.SubscribeEvent(subscriberID, sink, deviceID, PropertyChangedEvent+":"+name)
}

// UnsubscribeEvent removes subscriberID's registration for (deviceID, name).
func (m *Manager) UnsubscribeEvent(subscriberID, deviceID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{deviceID, name}
	if subs, ok := m.subs[k]; ok {
		delete(subs, subscriberID)
		if len(subs) == 0 {
			delete(m.subs, k)
		}
	}
}

// UnsubscribeProperty is sugar over UnsubscribeEvent for property changes.
func (m *Manager) UnsubscribeProperty(subscriberID, deviceID, name string) {
	m.UnsubscribeEvent(subscriberID, deviceID, PropertyChangedEvent+":"+name)
}

// ClearFor removes every subscription held by subscriberID, called when its
// session closes.
func (m *Manager) ClearFor(subscriberID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, subs := range m.subs {
		delete(subs, subscriberID)
		if len(subs) == 0 {
			delete(m.subs, k)
		}
	}
}

// PropertyChangedEvent is the synthetic event name the router uses when it
// fans out a property diff (spec §4.7); subscribers register for it with a
// property name suffix via SubscribeProperty.
const PropertyChangedEvent = "property_changed"

// HandleEvent delivers ev to every subscriber registered for its
// (deviceId, event) pair. Delivery failure to one subscriber never blocks
// or cancels delivery to the others (spec §4.7).
func (m *Manager) HandleEvent(ev *envelope.Envelope) {
	name := ev.Event
	if ev.Event == PropertyChangedEvent && ev.Details != nil {
		if prop, ok := ev.Details["property"].(string); ok {
			name = PropertyChangedEvent + ":" + prop
		}
	}

	m.mu.RLock()
	subs := m.subs[key{ev.DeviceID, name}]
	targets := make(map[string]Sink, len(subs))
	for id, sink := range subs {
		targets[id] = sink
	}
	m.mu.RUnlock()

	for id, sink := range targets {
		if err := sink.Enqueue(ev); err != nil {
			m.log.Warn("fan-out delivery failed", "subscriber", id, "device", ev.DeviceID, "event", name, "error", err)
			if m.onFailure != nil {
				m.onFailure(id, err)
			}
		}
	}
}

// Count returns how many subscribers are registered for (deviceID, name);
// used by tests and diagnostics.
func (m *Manager) Count(deviceID, name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[key{deviceID, name}])
}
