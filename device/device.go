// Package device provides the small state-machine wrapper simulated and
// real device drivers embed: operational state tracking plus a periodic
// TimerLoop for devices that sample or act on a fixed cadence.
package device

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DeviceState represents the current operational state of a device.
type DeviceState string

const (
	StateUnknown      DeviceState = "unknown"
	StateInitializing DeviceState = "initializing"
	StateRunning      DeviceState = "running"
	StateError        DeviceState = "error"
	StateStopped      DeviceState = "stopped"
)

// Opener represents a device that can be opened and closed for communication.
type Opener interface {
	Open() error
	Close() error
}

// OnOff represents a device that can be turned on and off.
type OnOff interface {
	On() error
	Off() error
}

// Name represents a device that has a human-readable name.
type Name interface {
	Name() string
}

// mockConfig handles mock device configuration with thread safety.
type mockConfig struct {
	enabled bool
	mu      sync.RWMutex
}

var mockCfg = &mockConfig{}

// Mock enables or disables the package-wide mock flag that IsMock reports.
func Mock(mocking bool) {
	mockCfg.mu.Lock()
	defer mockCfg.mu.Unlock()
	mockCfg.enabled = mocking
}

// IsMock returns the current mock state.
func IsMock() bool {
	mockCfg.mu.RLock()
	defer mockCfg.mu.RUnlock()
	return mockCfg.enabled
}

// Lifecycle tracks a device's operational state and last error, and drives
// its periodic sampling loop. It carries no transport or wire knowledge;
// callers wire OnStateChange to whatever publishes state elsewhere (an
// Event envelope, a log line, a test channel).
type Lifecycle struct {
	name   string
	state  DeviceState
	period time.Duration
	err    error
	mu     sync.RWMutex

	// OnStateChange, if set, is invoked after every state or error
	// transition with the new state and the current error (nil if none).
	OnStateChange func(state DeviceState, err error)
}

// NewLifecycle creates a Lifecycle for a device named name, starting in
// StateUnknown.
func NewLifecycle(name string) *Lifecycle {
	return &Lifecycle{name: name, state: StateUnknown}
}

// Name returns the device's name.
func (d *Lifecycle) Name() string {
	return d.name
}

// State returns the current device state.
func (d *Lifecycle) State() DeviceState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Error returns the last error encountered, or nil.
func (d *Lifecycle) Error() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.err
}

func (d *Lifecycle) setState(state DeviceState) {
	d.mu.Lock()
	d.state = state
	cb := d.OnStateChange
	d.mu.Unlock()
	if cb != nil {
		cb(state, nil)
	}
}

func (d *Lifecycle) setError(err error) {
	d.mu.Lock()
	d.err = err
	d.state = StateError
	cb := d.OnStateChange
	d.mu.Unlock()
	if cb != nil {
		cb(StateError, err)
	}
}

// TimerLoop runs readpub every period until ctx is cancelled, transitioning
// through Running -> Stopped (or Error, on a failed readpub call).
func (d *Lifecycle) TimerLoop(ctx context.Context, period time.Duration, readpub func() error) error {
	if period <= 0 {
		return fmt.Errorf("invalid period: %v", period)
	}

	d.period = period
	d.setState(StateRunning)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.setState(StateStopped)
			return ctx.Err()
		case <-ticker.C:
			if err := readpub(); err != nil {
				slog.Error("TimerLoop failed",
					"device", d.Name(),
					"error", err)
				d.setError(err)
			}
		}
	}
}

// String returns the device name.
func (d *Lifecycle) String() string {
	return d.Name()
}

// JSON returns a JSON representation of the device's current state.
func (d *Lifecycle) JSON() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	j := struct {
		Name   string
		State  DeviceState
		Period time.Duration
		Error  string
	}{
		Name:   d.name,
		State:  d.state,
		Period: d.period,
		Error:  errString(d.err),
	}

	return json.Marshal(j)
}

func errString(err error) string {
	if err != nil {
		return err.Error()
	}
	return ""
}
