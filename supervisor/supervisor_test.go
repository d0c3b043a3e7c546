package supervisor_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/astrocomm/envelope"
	"github.com/rustyeddy/astrocomm/registry"
	"github.com/rustyeddy/astrocomm/subscription"
	"github.com/rustyeddy/astrocomm/supervisor"
)

func newError(deviceID, code, originalMessageID string) *envelope.Envelope {
	return envelope.NewError(originalMessageID, deviceID, code, "boom", envelope.SeverityWarning)
}

func TestIgnoreStrategyRecordsWithoutSideEffects(t *testing.T) {
	reg := registry.New()
	subs := subscription.New(nil)
	s := supervisor.New(reg, subs, supervisor.DefaultConfig(), nil, nil)
	s.SetCodeStrategy("E_MINOR", supervisor.Ignore)

	s.Handle(newError("dome-1", "E_MINOR", "m1"))

	history := s.History()
	require.Len(t, history, 1)
	assert.Equal(t, supervisor.Ignore, history[0].Strategy)
	assert.True(t, history[0].Resolved)
}

func TestRetryStrategyInvokesRetryFuncUpToMaxAttempts(t *testing.T) {
	reg := registry.New()
	subs := subscription.New(nil)
	attempts := 0
	retry := func(originalMessageID string) error {
		attempts++
		return nil
	}
	cfg := supervisor.Config{MaxRetries: 2, HistorySize: 100}
	s := supervisor.New(reg, subs, cfg, retry, nil)
	s.SetCodeStrategy("E_TRANSIENT", supervisor.Retry)

	s.Handle(newError("dome-1", "E_TRANSIENT", "m1"))
	s.Handle(newError("dome-1", "E_TRANSIENT", "m1"))
	assert.Equal(t, 2, attempts)

	// Third attempt exceeds MaxRetries; retry func shouldn't be called again.
	s.Handle(newError("dome-1", "E_TRANSIENT", "m1"))
	assert.Equal(t, 2, attempts)

	history := s.History()
	require.Len(t, history, 3)
	assert.False(t, history[2].Resolved)
}

func TestRetryStrategyMarksUnresolvedOnRetryError(t *testing.T) {
	reg := registry.New()
	subs := subscription.New(nil)
	retry := func(originalMessageID string) error { return errors.New("enqueue failed") }
	s := supervisor.New(reg, subs, supervisor.DefaultConfig(), retry, nil)
	s.SetCodeStrategy("E_TRANSIENT", supervisor.Retry)

	s.Handle(newError("dome-1", "E_TRANSIENT", "m1"))

	history := s.History()
	require.Len(t, history, 1)
	assert.False(t, history[0].Resolved)
}

func TestNotifyStrategyEmitsErrorNoticeEvent(t *testing.T) {
	reg := registry.New()
	subs := subscription.New(nil)
	s := supervisor.New(reg, subs, supervisor.DefaultConfig(), nil, nil)
	s.SetCodeStrategy("E_NOTABLE", supervisor.Notify)

	var received *envelope.Envelope
	subs.SubscribeEvent("watcher-1", sinkFunc(func(ev *envelope.Envelope) error {
		received = ev
		return nil
	}), "dome-1", "error_notice")

	s.Handle(newError("dome-1", "E_NOTABLE", "m1"))

	require.NotNil(t, received)
	assert.Equal(t, "E_NOTABLE", received.Details["errorCode"])
}

func TestRestartDeviceStrategyInvokesCommandFunc(t *testing.T) {
	reg := registry.New()
	subs := subscription.New(nil)
	var gotDevice, gotCommand string
	cmdFn := func(deviceID, command string) error {
		gotDevice, gotCommand = deviceID, command
		return nil
	}
	s := supervisor.New(reg, subs, supervisor.DefaultConfig(), nil, cmdFn)
	s.SetCodeStrategy("E_HANG", supervisor.RestartDevice)

	s.Handle(newError("dome-1", "E_HANG", "m1"))

	assert.Equal(t, "dome-1", gotDevice)
	assert.Equal(t, "reset", gotCommand)
}

func TestFailoverStrategyMarksDeviceDisconnectedAndEmitsEvent(t *testing.T) {
	reg := registry.New()
	reg.Register(envelope.DeviceInfo{ID: "dome-1", Type: "dome"})
	subs := subscription.New(nil)
	s := supervisor.New(reg, subs, supervisor.DefaultConfig(), nil, nil)
	s.SetCodeStrategy("E_FATAL", supervisor.Failover)

	var received *envelope.Envelope
	subs.SubscribeEvent("watcher-1", sinkFunc(func(ev *envelope.Envelope) error {
		received = ev
		return nil
	}), "dome-1", "device_failover")

	s.Handle(newError("dome-1", "E_FATAL", "m1"))

	require.NotNil(t, received)
	rec, ok := reg.Get("dome-1")
	require.True(t, ok)
	assert.False(t, rec.Connected)
}

func TestCustomStrategyUsesRegisteredHandlerResult(t *testing.T) {
	reg := registry.New()
	subs := subscription.New(nil)
	s := supervisor.New(reg, subs, supervisor.DefaultConfig(), nil, nil)
	s.SetCodeStrategy("E_CUSTOM", supervisor.Custom)
	s.RegisterCustomHandler("E_CUSTOM", func(env *envelope.Envelope) bool {
		return env.DeviceID == "dome-1"
	})

	s.Handle(newError("dome-1", "E_CUSTOM", "m1"))
	s.Handle(newError("dome-2", "E_CUSTOM", "m2"))

	history := s.History()
	require.Len(t, history, 2)
	assert.True(t, history[0].Resolved)
	assert.False(t, history[1].Resolved)
}

func TestDeviceSpecificStrategyOverridesCodeLevel(t *testing.T) {
	reg := registry.New()
	subs := subscription.New(nil)
	s := supervisor.New(reg, subs, supervisor.DefaultConfig(), nil, nil)
	s.SetCodeStrategy("E_COMMON", supervisor.Ignore)
	s.SetDeviceStrategy("dome-1", "E_COMMON", supervisor.Failover)
	reg.Register(envelope.DeviceInfo{ID: "dome-1", Type: "dome"})

	s.Handle(newError("dome-1", "E_COMMON", "m1"))

	history := s.History()
	require.Len(t, history, 1)
	assert.Equal(t, supervisor.Failover, history[0].Strategy)
}

func TestHistoryIsBoundedBySize(t *testing.T) {
	reg := registry.New()
	subs := subscription.New(nil)
	s := supervisor.New(reg, subs, supervisor.Config{MaxRetries: 1, HistorySize: 3}, nil, nil)
	s.SetDefaultStrategy(supervisor.Ignore)

	for i := 0; i < 5; i++ {
		s.Handle(newError("dome-1", "E_ANY", "m1"))
	}

	assert.Len(t, s.History(), 3)
}

type sinkFunc func(env *envelope.Envelope) error

func (f sinkFunc) Enqueue(env *envelope.Envelope) error { return f(env) }
