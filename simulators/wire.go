package simulators

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rustyeddy/astrocomm/envelope"
	"github.com/rustyeddy/astrocomm/messenger/codec"
	"github.com/rustyeddy/devices"
)

// CommandTimeout bounds how long WireSink waits to deliver a decoded
// command value into a device's In() channel before replying with an error.
var CommandTimeout = 2 * time.Second

// WireSource publishes dev.Out() as "state" Event envelopes, one per value.
func WireSource[T any](ctx context.Context, c *Client, dev devices.Source[T], cd codec.Codec[T]) {
	go func() {
		for {
			select {
			case v, ok := <-dev.Out():
				if !ok {
					return
				}
				props, err := stateProperties(v, cd)
				if err != nil {
					c.log.Warn("state marshal failed", "device", dev.Name(), "error", err)
					continue
				}
				if err := c.Event("state", props); err != nil {
					c.log.Warn("state publish failed", "device", dev.Name(), "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// WireSink registers a Command handler named command that decodes the
// "value" entry of the envelope's Parameters into T and delivers it to
// dev.In(). "value" carries the whole T, scalar or struct, so the same
// convention works for a float64 dome azimuth and a struct Pointing alike.
func WireSink[T any](c *Client, dev devices.Sink[T], command string, cd codec.Codec[T]) {
	c.OnCommand(command, func(env *envelope.Envelope) {
		raw, ok := env.Parameters["value"]
		if !ok {
			c.Respond(env, "ERROR", map[string]any{"reason": "missing value parameter"})
			return
		}
		b, err := json.Marshal(raw)
		if err != nil {
			c.Respond(env, "ERROR", map[string]any{"reason": err.Error()})
			return
		}
		v, err := cd.Unmarshal(b)
		if err != nil {
			c.Respond(env, "ERROR", map[string]any{"reason": "invalid parameters"})
			return
		}

		select {
		case dev.In() <- v:
			c.Respond(env, "OK", nil)
		case <-time.After(CommandTimeout):
			c.Respond(env, "ERROR", map[string]any{"reason": "command timeout"})
		}
	})
}

// WireDuplex wires both directions: outgoing state events and an inbound
// command that feeds dev.In().
func WireDuplex[T any](ctx context.Context, c *Client, dev devices.Duplex[T], command string, cd codec.Codec[T]) {
	WireSource[T](ctx, c, dev, cd)
	WireSink[T](c, dev, command, cd)
}

// stateProperties renders v as a property map an Event envelope can carry.
// Struct/map values marshal to their fields; scalars fall back to a single
// "value" key so WireSource works for both devices.Duplex[float64]-style
// sensors and struct-valued ones like Pointing.
func stateProperties[T any](v T, cd codec.Codec[T]) (map[string]any, error) {
	b, err := cd.Marshal(v)
	if err != nil {
		return nil, err
	}

	var props map[string]any
	if err := json.Unmarshal(b, &props); err == nil {
		return props, nil
	}
	return map[string]any{"value": json.RawMessage(b)}, nil
}
