package transport

import (
	"context"
	"fmt"

	mqttserver "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
)

// EmbeddedMQTTBroker wraps an in-process mochi-mqtt server so a standalone
// deployment doesn't need an external broker like Mosquitto. It is entirely
// optional: the MQTT adaptor in mqtt.go is a client either way, and can
// point at this broker's listener or at an external one.
type EmbeddedMQTTBroker struct {
	Addr  string // e.g. ":1883"
	Users map[string]string

	srv *mqttserver.Server
}

// NewEmbeddedMQTTBroker builds a broker listening on addr, accepting the
// given username/password pairs.
func NewEmbeddedMQTTBroker(addr string, users map[string]string) *EmbeddedMQTTBroker {
	return &EmbeddedMQTTBroker{Addr: addr, Users: users}
}

// Start brings the broker up in the background; it stops when ctx is
// cancelled or Stop is called.
func (b *EmbeddedMQTTBroker) Start(ctx context.Context) error {
	srv := mqttserver.New(nil)

	rules := make(auth.AuthRules, 0, len(b.Users))
	for user, pass := range b.Users {
		rules = append(rules, auth.Rule{Username: user, Password: pass, Allow: true})
	}
	if err := srv.AddHook(new(auth.Hook), &auth.Options{Ledger: &auth.Ledger{Auth: rules}}); err != nil {
		return fmt.Errorf("embedded mqtt broker: auth hook: %w", err)
	}

	tcp := listeners.NewTCP(listeners.Config{ID: "astrocomm-mqtt", Address: b.Addr})
	if err := srv.AddListener(tcp); err != nil {
		return fmt.Errorf("embedded mqtt broker: listen %s: %w", b.Addr, err)
	}

	b.srv = srv
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	go func() {
		_ = srv.Serve()
	}()
	return nil
}

// Stop shuts the broker down immediately.
func (b *EmbeddedMQTTBroker) Stop() error {
	if b.srv == nil {
		return nil
	}
	return b.srv.Close()
}
