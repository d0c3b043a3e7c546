// Package bridge implements the protocol bridge (C10): an optional,
// disabled-by-default synthetic peer that relays envelopes from one
// transport to another, re-minting messageId so acks correlate per side.
package bridge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rustyeddy/astrocomm/envelope"
	"github.com/rustyeddy/astrocomm/transport"
)

// Filter decides whether env should cross the bridge. A nil filter admits
// everything.
type Filter func(env *envelope.Envelope) bool

// Bridge relays envelopes received on Source to every peer currently
// connected on Destination, per spec §4.10's (sourceTransportTag,
// destinationTransportTag, filter?) tuple.
type Bridge struct {
	Source      transport.Transport
	Destination transport.Transport
	Filter      Filter

	log *slog.Logger

	mu    sync.Mutex
	peers map[string]struct{} // destination peers currently connected
}

// New builds a bridge relaying source -> destination. filter may be nil.
func New(source, destination transport.Transport, filter Filter) *Bridge {
	return &Bridge{
		Source:      source,
		Destination: destination,
		Filter:      filter,
		log:         slog.Default().With("component", "bridge", "source", source.Tag(), "destination", destination.Tag()),
		peers:       make(map[string]struct{}),
	}
}

// Start registers the bridge as a synthetic client on both transports. It
// does not start either transport; callers own that lifecycle.
func (b *Bridge) Start(ctx context.Context) error {
	b.Destination.OnConnect(func(peerID string) {
		b.mu.Lock()
		b.peers[peerID] = struct{}{}
		b.mu.Unlock()
	})
	b.Destination.OnDisconnect(func(peerID string) {
		b.mu.Lock()
		delete(b.peers, peerID)
		b.mu.Unlock()
	})
	b.Source.OnInbound(func(meta transport.DeliveryMeta, raw []byte) {
		b.relay(raw)
	})
	return nil
}

// relay decodes one frame from the source, applies Filter, re-mints its
// messageId, and sends the re-encoded frame to every connected destination
// peer (spec §4.10: "messageType and payload preserved; deviceId preserved;
// a new messageId is minted so acks correlate per side").
func (b *Bridge) relay(raw []byte) {
	env, err := envelope.Decode(raw)
	if err != nil {
		b.log.Warn("dropping undecodable frame", "error", err)
		return
	}
	if b.Filter != nil && !b.Filter(env) {
		return
	}

	relayed := *env
	relayed.MessageID = envelope.NewMessageID()
	out, err := envelope.Encode(&relayed)
	if err != nil {
		b.log.Warn("failed to re-encode relayed envelope", "error", err)
		return
	}

	b.mu.Lock()
	targets := make([]string, 0, len(b.peers))
	for id := range b.peers {
		targets = append(targets, id)
	}
	b.mu.Unlock()

	for _, peerID := range targets {
		if err := b.Destination.Send(peerID, out); err != nil {
			b.log.Warn("relay send failed", "peer", peerID, "error", err)
		}
	}
}
