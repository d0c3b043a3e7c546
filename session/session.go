// Package session drives the per-peer connection lifecycle (C3): the
// inbound decode loop, the outbound write loop, the authentication
// handshake state machine, and the two ordering guarantees the broker
// promises (per-peer inbound order, per-priority outbound FIFO).
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rustyeddy/astrocomm/auth"
	"github.com/rustyeddy/astrocomm/envelope"
	"github.com/rustyeddy/astrocomm/queue"
	"github.com/rustyeddy/astrocomm/router"
	"github.com/rustyeddy/astrocomm/transport"
)

// State is a session's position in the C3 state machine.
type State int

const (
	Accepted State = iota
	Authenticating
	Authenticated
	Live
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Accepted:
		return "Accepted"
	case Authenticating:
		return "Authenticating"
	case Authenticated:
		return "Authenticated"
	case Live:
		return "Live"
	case Draining:
		return "Draining"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Router is the subset of the broker's router a Session calls into on
// inbound envelopes. It takes router.Peer rather than *Session so a fake
// can stand in for C6 in tests without depending on this package.
type Router interface {
	Route(ctx context.Context, peer router.Peer, env *envelope.Envelope)
}

// Config bounds a session's behavior.
type Config struct {
	AuthTimeout    time.Duration
	DrainTimeout   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Backoff        queue.Backoff
	Bounds         queue.Bounds
}

// DefaultConfig matches the spec's defaults (10s auth timeout, 30s read,
// 10s write).
func DefaultConfig() Config {
	return Config{
		AuthTimeout:  10 * time.Second,
		DrainTimeout: 5 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Second,
		Backoff:      queue.DefaultBackoff(),
		Bounds:       queue.DefaultBounds(),
	}
}

// Session owns one peer's cooperative inbound decoder and outbound writer.
// Per spec §5, the two tasks never run concurrently with each other for the
// same session.
type Session struct {
	PeerID    string
	Transport transport.Transport
	Role      transport.Role

	cfg    Config
	router Router
	log    *slog.Logger

	mu            sync.Mutex
	state         State
	lastActivity  time.Time
	authDeadline  *time.Timer
	identity      string

	authenticator *auth.Authenticator

	outbound *queue.Queue
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	sent, received, failed, acked atomic.Int64
}

// New builds a session for peerID riding tr, owned by router for inbound
// dispatch. onFail is wired to the outbound queue's failure callback.
func New(peerID string, tr transport.Transport, role transport.Role, cfg Config, router Router, onFail queue.FailureFunc) *Session {
	s := &Session{
		PeerID:       peerID,
		Transport:    tr,
		Role:         role,
		cfg:          cfg,
		router:       router,
		log:          slog.Default().With("peer", peerID, "transport", tr.Tag()),
		state:        Accepted,
		lastActivity: time.Now(),
		stop:         make(chan struct{}),
	}
	s.outbound = queue.New(cfg.Backoff, cfg.Bounds, func(env *envelope.Envelope, code string) {
		s.failed.Add(1)
		if onFail != nil {
			onFail(env, code)
		}
	})
	return s
}

// SetAuthenticator wires the C8 authenticator. Without one, sessions skip
// straight past Authentication envelopes (used by transports that carry
// credentials in the connect handshake and call MarkAuthenticated directly).
func (s *Session) SetAuthenticator(a *auth.Authenticator) {
	s.authenticator = a
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	if prev != next {
		s.log.Debug("session state transition", "from", prev, "to", next)
	}
}

// Identity returns the identity established by a successful authentication,
// or "" before that happens.
func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// LastActivity returns the time of the most recent inbound or outbound I/O.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Start begins the outbound writer loop and wires the transport's inbound
// callback to the session's decode path. For server-role transports that
// carry credentials in the connect handshake, callers should invoke
// MarkAuthenticated immediately after Start instead of waiting for the
// Authentication envelope.
func (s *Session) Start(ctx context.Context) {
	s.setState(Authenticating)
	s.startAuthTimer()

	s.Transport.OnInbound(func(meta transport.DeliveryMeta, b []byte) {
		s.handleInbound(ctx, b)
	})

	s.wg.Add(1)
	go s.writerLoop(ctx)

	s.wg.Add(1)
	go s.ackSweepLoop(ctx)
}

// ackSweepSlice is the pending-ack sweep's polling granularity: small
// enough to retry promptly against the spec's default 1s base backoff.
const ackSweepSlice = 200 * time.Millisecond

// ackSweepLoop periodically retries or destroys AtLeastOnce/ExactlyOnce
// entries that have sat in the outbound queue's pending-ack map past their
// deadline without a matching Response/Error (spec §4.5: "on timeout or
// I/O failure ⇒ re-enqueue").
func (s *Session) ackSweepLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(ackSweepSlice)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range s.outbound.ExpiredAcks(time.Now()) {
				s.outbound.Timeout(id)
			}
		}
	}
}

func (s *Session) startAuthTimer() {
	s.mu.Lock()
	s.authDeadline = time.AfterFunc(s.cfg.AuthTimeout, func() {
		if s.State() == Authenticating {
			s.log.Warn("authentication timed out")
			s.Close()
		}
	})
	s.mu.Unlock()
}

// handleInbound is the inbound decode loop body (spec §4.3): envelopes from
// a given peer reach the router in the exact order they were framed.
func (s *Session) handleInbound(ctx context.Context, raw []byte) {
	s.touch()
	s.received.Add(1)

	env, err := envelope.Decode(raw)
	if err != nil {
		s.log.Warn("decode failure", "error", err)
		s.enqueueLocked(envelope.NewError("", "", envelope.ErrInvalidEnvelope, err.Error(), envelope.SeverityWarning))
		return
	}

	if s.State() == Accepted {
		s.setState(Authenticating)
	}
	if env.QoS == envelope.ExactlyOnce && s.outbound.Seen(env.MessageID) {
		return // receiver-side dedup, spec §4.5
	}

	if env.MessageType == envelope.Authentication {
		s.handleAuthentication(env)
		return
	}

	if s.State() == Authenticated && env.MessageType != envelope.Registration {
		s.setState(Live)
	}

	if s.router != nil {
		s.router.Route(ctx, s, env)
	}
}

// handleAuthentication checks credentials against the configured
// authenticator, per the Authenticating -> {Authenticated, Closed}
// transitions in spec §4.3. Without an authenticator wired, every
// Authentication envelope is accepted with the credentials value as
// identity (useful for transports that don't gate access).
func (s *Session) handleAuthentication(env *envelope.Envelope) {
	if s.authenticator == nil {
		s.MarkAuthenticated(env.Credentials)
		_ = s.enqueueLocked(&envelope.Envelope{
			MessageType: envelope.Response, MessageID: envelope.NewMessageID(),
			Timestamp: time.Now().UTC(), OriginalMessageID: env.MessageID, Status: "ok",
		})
		return
	}

	result := s.authenticator.Authenticate(auth.Credentials{Method: env.Method, Value: env.Credentials}, s.PeerID)
	switch result.Outcome {
	case auth.Ok:
		s.MarkAuthenticated(result.Identity)
		_ = s.enqueueLocked(&envelope.Envelope{
			MessageType: envelope.Response, MessageID: envelope.NewMessageID(),
			Timestamp: time.Now().UTC(), OriginalMessageID: env.MessageID, Status: "ok",
		})
	case auth.RateLimited:
		s.sendThenClose(envelope.NewError(env.MessageID, "", envelope.ErrRateLimited, result.Reason, envelope.SeverityWarning))
	default:
		s.sendThenClose(envelope.NewError(env.MessageID, "", envelope.ErrUnauthenticated, result.Reason, envelope.SeverityWarning))
	}
}

// sendThenClose writes env directly to the transport, bypassing the
// outbound queue, since Close cancels any queued entry before the writer
// loop could drain it.
func (s *Session) sendThenClose(env *envelope.Envelope) {
	if b, err := envelope.Encode(env); err == nil {
		_ = s.Transport.Send(s.PeerID, b)
	}
	s.Close()
}

// MarkAuthenticated transitions Authenticating -> Authenticated after a
// successful credential check, recording the established identity.
func (s *Session) MarkAuthenticated(identity string) {
	s.mu.Lock()
	s.identity = identity
	if s.authDeadline != nil {
		s.authDeadline.Stop()
	}
	s.mu.Unlock()
	s.setState(Authenticated)
}

// MarkLive transitions Authenticated -> Live, on first Registration for
// devices or implicitly for clients.
func (s *Session) MarkLive() {
	s.setState(Live)
}

// ID returns the peer id this session was created for, satisfying
// router.Peer.
func (s *Session) ID() string { return s.PeerID }

// Enqueue posts env to the outbound queue for delivery on the writer loop.
func (s *Session) Enqueue(env *envelope.Envelope) error {
	return s.enqueueLocked(env)
}

func (s *Session) enqueueLocked(env *envelope.Envelope) error {
	return s.outbound.Enqueue(env)
}

// Ack notifies the outbound queue that messageID has been acknowledged by a
// matching Response or Error.
func (s *Session) Ack(messageID string) {
	s.outbound.Ack(messageID)
	s.acked.Add(1)
}

func (s *Session) writerLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		env, ok := s.outbound.Next(s.stop)
		if !ok {
			return
		}
		b, err := envelope.Encode(env)
		if err != nil {
			s.outbound.ReportResult(env, err)
			continue
		}
		err = s.Transport.Send(s.PeerID, b)
		s.outbound.ReportResult(env, err)
		if err != nil {
			s.log.Warn("write failed", "error", err)
			s.failed.Add(1)
			continue
		}
		s.touch()
		s.sent.Add(1)
	}
}

// Drain moves Live -> Draining and blocks until the outbound queue empties
// or the grace timeout elapses, whichever comes first (spec §4.3).
func (s *Session) Drain(grace time.Duration) {
	s.setState(Draining)
	deadline := time.After(grace)
	for {
		if s.outbound.Len() == 0 {
			break
		}
		select {
		case <-deadline:
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Close cancels the session's decoder and writer and fails any pending
// outbound entries with CANCELLED (spec §5).
func (s *Session) Close() {
	s.stopOnce.Do(func() {
		s.setState(Closed)
		close(s.stop)
		s.outbound.Cancel()
		_ = s.Transport.Stop(context.Background())
	})
}

// Stats are the atomic counters the spec requires for every session
// (sent/received/failed/acknowledged).
type Stats struct {
	Sent, Received, Failed, Acked int64
}

// Stats returns a snapshot of the session's counters.
func (s *Session) Stats() Stats {
	return Stats{
		Sent:     s.sent.Load(),
		Received: s.received.Load(),
		Failed:   s.failed.Load(),
		Acked:    s.acked.Load(),
	}
}
