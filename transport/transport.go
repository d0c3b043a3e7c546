// Package transport implements the protocol-agnostic peer transport
// abstraction (spec component C2): every wire protocol — line-delimited
// stdio/TCP, WebSocket, MQTT, ZeroMQ, gRPC — is adapted to the same small
// Transport interface so the session layer never has to know which one it
// is talking to.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Role distinguishes a transport that accepts connections from one that
// dials out to a single remote endpoint.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// Options is the enumerated configuration surface every adaptor accepts
// (spec §4.2). Adaptors that don't need a field ignore it.
type Options struct {
	EndpointName          string
	Role                  Role
	BufferSize            int
	MaxMessageSize        int
	ReadTimeout           time.Duration
	WriteTimeout          time.Duration
	FramingMode           string // "line" | "length-prefixed" | "binary"
	Delimiter             byte
	CompressionType       string // "" | "gzip"
	AuthMethod            string // "" | "basic" | "token"
	TLSEnabled            bool
	PlatformOptimizations bool
}

// DefaultOptions returns sane non-zero defaults; adaptors call this then
// let callers override individual fields.
func DefaultOptions(endpoint string) Options {
	return Options{
		EndpointName:   endpoint,
		BufferSize:     4096,
		MaxMessageSize: 1 << 20,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   10 * time.Second,
		FramingMode:    "line",
		Delimiter:      '\n',
	}
}

// Validate rejects the zero-valued configurations spec §4.2 calls out:
// zero buffer/timeouts, zero max message size, empty endpoint names.
func (o Options) Validate() error {
	if o.EndpointName == "" {
		return errors.New("transport: endpoint name must not be empty")
	}
	if o.BufferSize <= 0 {
		return errors.New("transport: buffer size must be > 0")
	}
	if o.MaxMessageSize <= 0 {
		return errors.New("transport: max message size must be > 0")
	}
	if o.ReadTimeout <= 0 {
		return errors.New("transport: read timeout must be > 0")
	}
	if o.WriteTimeout <= 0 {
		return errors.New("transport: write timeout must be > 0")
	}
	return nil
}

// DeliveryMeta accompanies every inbound frame with the transport tag and
// peer the bytes arrived from.
type DeliveryMeta struct {
	Tag    string
	PeerID string
}

// InboundFunc is invoked once per framed message received from a peer.
type InboundFunc func(meta DeliveryMeta, b []byte)

// Transport is the uniform surface every protocol adaptor presents. Lifecycle
// methods are idempotent: calling Start twice or Stop before Start is a
// harmless no-op returning nil.
type Transport interface {
	// Tag identifies this transport instance (e.g. "tcp", "mqtt", "ws-1").
	Tag() string

	// Start begins accepting (server role) or connecting (client role).
	Start(ctx context.Context) error

	// Stop tears the transport down, closing any live peer connections.
	Stop(ctx context.Context) error

	// Send performs a best-effort write of b to peerID and returns an error
	// when the write cannot be made (not started, unknown peer, or an I/O
	// failure). The WebSocket and MQTT
	// adaptors bound the write by WriteTimeout; the others set no deadline.
	Send(peerID string, b []byte) error

	// OnInbound registers the single callback invoked for every frame
	// received from any peer on this transport.
	OnInbound(fn InboundFunc)

	// OnConnect/OnDisconnect notify the session layer when a peer session
	// should be created or torn down.
	OnConnect(fn func(peerID string))
	OnDisconnect(fn func(peerID string))
}

// ErrPeerNotConnected is returned by Send when the target peer has no live
// connection on this transport.
var ErrPeerNotConnected = errors.New("transport: peer not connected")

// ErrNotStarted is returned by Send when called before Start.
var ErrNotStarted = errors.New("transport: not started")

func wrapf(tag string, format string, args ...any) error {
	return fmt.Errorf("transport[%s]: "+format, append([]any{tag}, args...)...)
}
