// Package broker wires C1-C10 into a single running process: it owns the
// transports, authenticator, registry, subscription manager, router, and
// supervisor, and turns transport-level connect/disconnect/inbound events
// into sessions that drive the rest of the pipeline.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rustyeddy/astrocomm/auth"
	"github.com/rustyeddy/astrocomm/envelope"
	"github.com/rustyeddy/astrocomm/queue"
	"github.com/rustyeddy/astrocomm/registry"
	"github.com/rustyeddy/astrocomm/router"
	"github.com/rustyeddy/astrocomm/server"
	"github.com/rustyeddy/astrocomm/session"
	"github.com/rustyeddy/astrocomm/subscription"
	"github.com/rustyeddy/astrocomm/supervisor"
	"github.com/rustyeddy/astrocomm/transport"
	"github.com/rustyeddy/astrocomm/utils"
)

// Config is the enumerated configuration surface the core consumes (spec
// §6). Transports are supplied separately via AddTransport; this only
// covers the broker-wide knobs.
type Config struct {
	HeartbeatInterval      time.Duration
	AutosaveInterval       time.Duration
	SessionTimeout         time.Duration
	MaxFailedAttempts      int
	RateLimitDuration      time.Duration
	MaxQueueSoft           int
	MaxQueueHard           int
	RetryBase              time.Duration
	RetryMax               time.Duration
	RetryMaxAttempts       int
	PendingResponseTimeout time.Duration
	AllowedCommands        map[string]bool
	EnableCommandFiltering bool
}

// DefaultConfig matches the spec's stated defaults throughout §4-§5.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:      30 * time.Second,
		AutosaveInterval:       5 * time.Second,
		SessionTimeout:         30 * time.Minute,
		MaxFailedAttempts:      5,
		RateLimitDuration:      5 * time.Minute,
		MaxQueueSoft:           10000,
		MaxQueueHard:           50000,
		RetryBase:              time.Second,
		RetryMax:               30 * time.Second,
		RetryMaxAttempts:       3,
		PendingResponseTimeout: 10 * time.Second,
	}
}

func (c Config) queueBackoff() queue.Backoff {
	return queue.Backoff{Base: c.RetryBase, Max: c.RetryMax, MaxAttempts: c.RetryMaxAttempts}
}

func (c Config) queueBounds() queue.Bounds {
	return queue.Bounds{Soft: c.MaxQueueSoft, Hard: c.MaxQueueHard}
}

func (c Config) sessionConfig() session.Config {
	return session.Config{
		AuthTimeout:  10 * time.Second,
		DrainTimeout: 5 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Second,
		Backoff:      c.queueBackoff(),
		Bounds:       c.queueBounds(),
	}
}

// Broker ties every component together and owns the transport set.
type Broker struct {
	cfg  Config
	log  *slog.Logger
	Auth *auth.Authenticator

	Registry     *registry.Registry
	Subscription *subscription.Manager
	Router       *router.Router
	Supervisor   *supervisor.Supervisor
	Metrics      *Metrics

	mu           sync.Mutex
	transports   map[string]transport.Transport
	sessions     map[string]*session.Session // peerID -> session, across all transports
	started      bool
	cancel       context.CancelFunc
	heartbeat    *utils.Ticker
	idleReaper   *utils.Ticker
	tickerSuffix string // disambiguates utils' global ticker registry across Broker instances
}

// New builds a broker. reg and subs may be pre-configured (e.g. reg with
// persistence); if nil, zero-value defaults are built.
func New(cfg Config, reg *registry.Registry, subs *subscription.Manager, authn *auth.Authenticator) *Broker {
	if reg == nil {
		reg = registry.New()
	}
	if subs == nil {
		subs = subscription.New(nil)
	}
	if authn == nil {
		authn = auth.New(auth.Config{MaxFailures: cfg.MaxFailedAttempts, Window: cfg.RateLimitDuration})
	}

	b := &Broker{
		cfg:          cfg,
		log:          slog.Default().With("component", "broker"),
		Auth:         authn,
		Registry:     reg,
		Subscription: subs,
		Metrics:      NewMetrics(),
		transports:   make(map[string]transport.Transport),
		sessions:     make(map[string]*session.Session),
	}
	b.tickerSuffix = fmt.Sprintf("%p", b)
	b.Supervisor = supervisor.New(reg, subs, supervisor.DefaultConfig(), b.retryCommand, b.sendCommand)
	b.Router = router.New(reg, subs, router.Config{
		PendingResponseTimeout: cfg.PendingResponseTimeout,
		EnableCommandFiltering: cfg.EnableCommandFiltering,
		AllowedCommands:        cfg.AllowedCommands,
	}, b.Supervisor.Handle)
	return b
}

// AddTransport registers tr under name so Start will bring it up alongside
// the others. Call before Start.
func (b *Broker) AddTransport(name string, tr transport.Transport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transports[name] = tr
}

// Start wires every registered transport's connect/disconnect/inbound
// callbacks into sessions and brings each transport up.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return fmt.Errorf("broker: already started")
	}
	b.started = true
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.mu.Unlock()

	if err := b.Registry.LoadSnapshot(); err != nil {
		b.log.Warn("snapshot load failed", "error", err)
		b.Metrics.RecordError()
	}

	for name, tr := range b.transports {
		tr.OnConnect(func(peerID string) { b.onConnect(ctx, tr, peerID) })
		tr.OnDisconnect(func(peerID string) { b.onDisconnect(peerID) })
		if err := tr.Start(ctx); err != nil {
			b.Metrics.RecordError()
			return fmt.Errorf("broker: start transport %q: %w", name, err)
		}
	}

	if b.cfg.HeartbeatInterval > 0 {
		b.heartbeat = utils.NewTicker("broker-heartbeat-"+b.tickerSuffix, b.cfg.HeartbeatInterval, func(time.Time) {
			b.broadcastPing()
		})
	}
	if b.cfg.SessionTimeout > 0 {
		interval := b.cfg.SessionTimeout / 4
		if interval <= 0 {
			interval = time.Minute
		}
		b.idleReaper = utils.NewTicker("broker-idle-reaper-"+b.tickerSuffix, interval, func(time.Time) {
			b.reapIdleSessions()
		})
	}
	go func() {
		<-ctx.Done()
		if b.heartbeat != nil {
			b.heartbeat.Stop()
		}
		if b.idleReaper != nil {
			b.idleReaper.Stop()
		}
	}()
	return nil
}

func (b *Broker) reapIdleSessions() {
	b.mu.Lock()
	sessions := make([]*session.Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()

	cutoff := time.Now().Add(-b.cfg.SessionTimeout)
	for _, s := range sessions {
		if s.State() != session.Live && s.State() != session.Authenticated {
			continue
		}
		if s.LastActivity().Before(cutoff) {
			b.log.Info("closing idle session", "peer", s.PeerID)
			s.Close()
		}
	}
}

func (b *Broker) broadcastPing() {
	ping := &envelope.Envelope{
		MessageType: envelope.Event,
		MessageID:   envelope.NewMessageID(),
		Timestamp:   time.Now().UTC(),
		Event:       "heartbeat",
		Priority:    envelope.Low,
		QoS:         envelope.AtMostOnce,
	}
	b.mu.Lock()
	sessions := make([]*session.Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()
	for _, s := range sessions {
		_ = s.Enqueue(ping)
	}
}

func (b *Broker) onConnect(ctx context.Context, tr transport.Transport, peerID string) {
	s := session.New(peerID, tr, transport.RoleServer, b.cfg.sessionConfig(), b.Router, nil)
	s.SetAuthenticator(b.Auth)

	b.mu.Lock()
	b.sessions[peerID] = s
	b.mu.Unlock()

	s.Start(ctx)
}

func (b *Broker) onDisconnect(peerID string) {
	b.mu.Lock()
	s, ok := b.sessions[peerID]
	delete(b.sessions, peerID)
	b.mu.Unlock()
	if !ok {
		return
	}
	s.Close()
	b.Router.UnbindDevice(peerID)
	b.Subscription.ClearFor(peerID)
	b.Registry.SetConnected(peerID, false)
}

// retryCommand is wired as the supervisor's RetryFunc. It re-sends
// nothing: every call records a broker error and returns an error, so the
// Retry strategy never re-enqueues a Command. The router keeps only the
// message id of an in-flight Command, not its envelope.
func (b *Broker) retryCommand(originalMessageID string) error {
	b.Metrics.RecordError()
	return fmt.Errorf("broker: retry unsupported for message %s", originalMessageID)
}

// sendCommand is wired as the supervisor's CommandFunc for RestartDevice.
func (b *Broker) sendCommand(deviceID, command string) error {
	b.mu.Lock()
	s, ok := b.sessions[deviceID]
	b.mu.Unlock()
	if !ok {
		b.Metrics.RecordError()
		return fmt.Errorf("broker: device %s not connected", deviceID)
	}
	return s.Enqueue(&envelope.Envelope{
		MessageType: envelope.Command,
		MessageID:   envelope.NewMessageID(),
		Timestamp:   time.Now().UTC(),
		DeviceID:    deviceID,
		Command:     command,
		Priority:    envelope.Critical,
		QoS:         envelope.AtLeastOnce,
	})
}

// Stop tears down every transport and drains live sessions with a global
// grace deadline (spec §5, default 5s).
func (b *Broker) Stop(grace time.Duration) {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	b.started = false
	sessions := make([]*session.Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	transports := make([]transport.Transport, 0, len(b.transports))
	for _, tr := range b.transports {
		transports = append(transports, tr)
	}
	if b.heartbeat != nil {
		b.heartbeat.Stop()
	}
	if b.idleReaper != nil {
		b.idleReaper.Stop()
	}
	b.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			s.Drain(grace)
			s.Close()
		}(s)
	}
	wg.Wait()

	if b.cancel != nil {
		b.cancel()
	}
	for _, tr := range transports {
		_ = tr.Stop(context.Background())
	}
}

// SessionCount reports how many peer sessions are currently tracked, across
// every transport.
func (b *Broker) SessionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// DeviceCount reports how many devices are currently registered, connected
// or not. Satisfies server.BrokerStats for the /api/stats endpoint.
func (b *Broker) DeviceCount() int {
	return len(b.Registry.List())
}

// TrafficSnapshot adapts TrafficStats to the shape server.BrokerStats expects,
// so server doesn't need to import broker's Snapshot type directly.
func (b *Broker) TrafficSnapshot() server.TrafficSnapshot {
	snap := b.TrafficStats()
	return server.TrafficSnapshot{
		MessagesSent:     snap.MessagesSent,
		MessagesReceived: snap.MessagesReceived,
		ErrorCount:       snap.ErrorCount,
		Uptime:           snap.Uptime,
	}
}

// TrafficStats sums sent/received counters across every live
// session, plus broker-level error count and uptime. Adapted from the
// teacher's station metrics, which kept these as running totals on the
// station itself rather than deriving them on demand; astrocomm's per-peer
// counters already live on session.Session, so this just aggregates them.
func (b *Broker) TrafficStats() Snapshot {
	b.mu.Lock()
	sessions := make([]*session.Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()

	snap := b.Metrics.Snapshot()
	for _, s := range sessions {
		st := s.Stats()
		snap.MessagesSent += uint64(st.Sent)
		snap.MessagesReceived += uint64(st.Received)
	}
	return snap
}
