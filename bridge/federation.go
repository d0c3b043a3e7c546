// Federation presence snapshots are an extension point beyond the core
// bridge: a broker process periodically multicasts a digest of its device
// ids and connected flags so a second process can merge it into a
// read-only shadow view. Off by default; this never participates in
// routing or command delivery.
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rustyeddy/astrocomm/registry"
)

// PresenceEntry is one device's published presence state.
type PresenceEntry struct {
	DeviceID  string    `json:"deviceId"`
	Type      string    `json:"type"`
	Connected bool      `json:"connected"`
	LastSeen  time.Time `json:"lastSeen"`
	Host      string    `json:"host"`
}

// FederationPublisher periodically multicasts a presence digest built from
// a Registry.
type FederationPublisher struct {
	reg      *registry.Registry
	addr     string
	interval time.Duration
	host     string
	log      *slog.Logger
}

// NewFederationPublisher builds a publisher that multicasts to addr (e.g.
// "239.0.0.1:9999") every interval. Every entry in the digest is stamped
// with the local hostname (os.Hostname, same call the teacher's station
// identity used) so a receiver hearing from more than one publisher on the
// same multicast group can tell broker instances apart.
func NewFederationPublisher(reg *registry.Registry, addr string, interval time.Duration) *FederationPublisher {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &FederationPublisher{
		reg:      reg,
		addr:     addr,
		interval: interval,
		host:     host,
		log:      slog.Default().With("component", "federation-publisher"),
	}
}

// Run blocks, publishing a digest every interval until ctx is cancelled.
func (p *FederationPublisher) Run(ctx context.Context) error {
	raddr, err := net.ResolveUDPAddr("udp", p.addr)
	if err != nil {
		return err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.publishOnce(conn)
		}
	}
}

func (p *FederationPublisher) publishOnce(conn *net.UDPConn) {
	records := p.reg.List()
	digest := make([]PresenceEntry, 0, len(records))
	for id, rec := range records {
		digest = append(digest, PresenceEntry{DeviceID: id, Type: rec.Info.Type, Connected: rec.Connected, Host: p.host})
	}
	b, err := json.Marshal(digest)
	if err != nil {
		p.log.Warn("failed to marshal presence digest", "error", err)
		return
	}
	if _, err := conn.Write(b); err != nil {
		p.log.Warn("failed to publish presence digest", "error", err)
	}
}

// FederationReceiver listens for presence digests and maintains a read-only
// shadow view of remote device presence, keyed by device id.
type FederationReceiver struct {
	addr string
	log  *slog.Logger

	mu     sync.RWMutex
	shadow map[string]PresenceEntry
}

// NewFederationReceiver builds a receiver bound to a UDP multicast group.
func NewFederationReceiver(addr string) *FederationReceiver {
	return &FederationReceiver{
		addr:   addr,
		log:    slog.Default().With("component", "federation-receiver"),
		shadow: make(map[string]PresenceEntry),
	}
}

// Run blocks, consuming presence digests until ctx is cancelled.
func (f *FederationReceiver) Run(ctx context.Context) error {
	gaddr, err := net.ResolveUDPAddr("udp", f.addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenMulticastUDP("udp", nil, gaddr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 64*1024)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.log.Warn("presence read failed", "error", err)
			continue
		}
		var digest []PresenceEntry
		if err := json.Unmarshal(buf[:n], &digest); err != nil {
			f.log.Warn("failed to decode presence digest", "error", err)
			continue
		}
		f.merge(digest)
	}
}

func (f *FederationReceiver) merge(digest []PresenceEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for _, entry := range digest {
		entry.LastSeen = now
		f.shadow[entry.DeviceID] = entry
	}
}

// Snapshot returns a copy of the current shadow presence view.
func (f *FederationReceiver) Snapshot() map[string]PresenceEntry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]PresenceEntry, len(f.shadow))
	for k, v := range f.shadow {
		out[k] = v
	}
	return out
}

// StartExpiry runs a background sweep, every checkInterval, that drops any
// shadow entry whose LastSeen is older than maxAge — the remote peer's
// broker has gone silent longer than a few publish cycles. Mirrors the
// teacher's station manager, which swept its own remote-station table on a
// ticker and moved anything past its heartbeat expiration into a stale set;
// here a silent entry is simply dropped, since the shadow view is read-only.
func (f *FederationReceiver) StartExpiry(ctx context.Context, checkInterval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.expireOlderThan(maxAge)
			}
		}
	}()
}

func (f *FederationReceiver) expireOlderThan(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, entry := range f.shadow {
		if entry.LastSeen.Before(cutoff) {
			f.log.Info("federation entry expired", "device", id)
			delete(f.shadow, id)
		}
	}
}
