// Package supervisor is the error-recovery supervisor (C9): every routed
// Error is matched against a two-level strategy map and a recovery action
// is taken in addition to the Error's normal delivery to its client.
package supervisor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rustyeddy/astrocomm/envelope"
	"github.com/rustyeddy/astrocomm/registry"
	"github.com/rustyeddy/astrocomm/subscription"
)

// Strategy is one of the six recovery actions from spec §4.9.
type Strategy int

const (
	Ignore Strategy = iota
	Retry
	Notify
	RestartDevice
	Failover
	Custom
)

// CustomHandler is invoked for the Custom strategy; its return value
// indicates whether the error is considered resolved.
type CustomHandler func(env *envelope.Envelope) (resolved bool)

// RetryFunc re-enqueues the failing Command located by originalMessageId;
// the supervisor doesn't own the router's pending-command state, so the
// broker wires this to whatever can look a Command back up and re-send it.
type RetryFunc func(originalMessageID string) error

// CommandFunc sends a named Command (e.g. "reset") to a device, used by the
// RestartDevice strategy.
type CommandFunc func(deviceID, command string) error

// HistoryEntry records one supervised error and its outcome.
type HistoryEntry struct {
	Env      *envelope.Envelope
	Strategy Strategy
	Resolved bool
	At       time.Time
}

// Config bounds the Retry strategy's attempts per message and the history length.
type Config struct {
	MaxRetries  int
	HistorySize int
}

// DefaultConfig matches the spec's default 1000-entry history.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, HistorySize: 1000}
}

// Supervisor matches Errors against strategies and executes recovery
// actions. Safe for concurrent use.
type Supervisor struct {
	cfg  Config
	reg  *registry.Registry
	subs *subscription.Manager
	log  *slog.Logger

	retry   RetryFunc
	command CommandFunc
	custom  map[string]CustomHandler // keyed by errorCode

	mu          sync.Mutex
	byDevice    map[string]map[string]Strategy // deviceId -> errorCode -> strategy
	byCode      map[string]Strategy            // errorCode -> strategy
	defaultStg  Strategy
	retryCounts map[string]int // originalMessageId -> attempts so far
	history     []HistoryEntry
}

// New builds a supervisor with an empty strategy map (default Ignore).
func New(reg *registry.Registry, subs *subscription.Manager, cfg Config, retry RetryFunc, command CommandFunc) *Supervisor {
	return &Supervisor{
		cfg:         cfg,
		reg:         reg,
		subs:        subs,
		log:         slog.Default().With("component", "supervisor"),
		retry:       retry,
		command:     command,
		custom:      make(map[string]CustomHandler),
		byDevice:    make(map[string]map[string]Strategy),
		byCode:      make(map[string]Strategy),
		defaultStg:  Ignore,
		retryCounts: make(map[string]int),
	}
}

// SetDeviceStrategy configures the (deviceId, errorCode) -> strategy entry,
// the most specific level of the two-level map.
func (s *Supervisor) SetDeviceStrategy(deviceID, errorCode string, strat Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byDevice[deviceID] == nil {
		s.byDevice[deviceID] = make(map[string]Strategy)
	}
	s.byDevice[deviceID][errorCode] = strat
}

// SetCodeStrategy configures the errorCode -> strategy fallback entry.
func (s *Supervisor) SetCodeStrategy(errorCode string, strat Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byCode[errorCode] = strat
}

// SetDefaultStrategy overrides the strategy used when neither map matches.
func (s *Supervisor) SetDefaultStrategy(strat Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultStg = strat
}

// RegisterCustomHandler wires a Custom-strategy callback for errorCode.
func (s *Supervisor) RegisterCustomHandler(errorCode string, h CustomHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.custom[errorCode] = h
}

func (s *Supervisor) strategyFor(deviceID, errorCode string) Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	if byCode, ok := s.byDevice[deviceID]; ok {
		if strat, ok := byCode[errorCode]; ok {
			return strat
		}
	}
	if strat, ok := s.byCode[errorCode]; ok {
		return strat
	}
	return s.defaultStg
}

// Handle implements spec §4.9: match env against the two-level strategy
// map and execute the corresponding recovery action. env is routed to its
// client as usual by C6; this call is the *additional* supervisor path.
func (s *Supervisor) Handle(env *envelope.Envelope) {
	strat := s.strategyFor(env.DeviceID, env.ErrorCode)
	resolved := s.execute(strat, env)
	s.record(env, strat, resolved)
}

func (s *Supervisor) execute(strat Strategy, env *envelope.Envelope) bool {
	switch strat {
	case Ignore:
		return true
	case Retry:
		return s.executeRetry(env)
	case Notify:
		s.subs.HandleEvent(envelope.NewEvent(env.DeviceID, "error_notice",
			nil, map[string]any{"errorCode": env.ErrorCode, "message": env.ErrorMessage}, envelope.High))
		return true
	case RestartDevice:
		if s.command != nil {
			if err := s.command(env.DeviceID, "reset"); err != nil {
				s.log.Warn("restart device failed", "device", env.DeviceID, "error", err)
				return false
			}
		}
		return true
	case Failover:
		s.reg.SetConnected(env.DeviceID, false)
		s.subs.HandleEvent(envelope.NewEvent(env.DeviceID, "device_failover", nil,
			map[string]any{"errorCode": env.ErrorCode}, envelope.Critical))
		return true
	case Custom:
		s.mu.Lock()
		h, ok := s.custom[env.ErrorCode]
		s.mu.Unlock()
		if !ok {
			return false
		}
		return h(env)
	default:
		return true
	}
}

func (s *Supervisor) executeRetry(env *envelope.Envelope) bool {
	s.mu.Lock()
	count := s.retryCounts[env.OriginalMessageID]
	if count >= s.cfg.MaxRetries {
		s.mu.Unlock()
		return false
	}
	s.retryCounts[env.OriginalMessageID] = count + 1
	s.mu.Unlock()

	if s.retry == nil {
		return false
	}
	if err := s.retry(env.OriginalMessageID); err != nil {
		s.log.Warn("retry failed", "originalMessageId", env.OriginalMessageID, "error", err)
		return false
	}
	return true
}

func (s *Supervisor) record(env *envelope.Envelope, strat Strategy, resolved bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, HistoryEntry{Env: env, Strategy: strat, Resolved: resolved, At: time.Now()})
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
}

// History returns a copy of the bounded outcome history (spec §4.9: queryable
// by callers, default 1000 entries).
func (s *Supervisor) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}
