package device

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMock(t *testing.T) {
	defer Mock(false)

	assert.False(t, IsMock())
	Mock(true)
	assert.True(t, IsMock())
	Mock(false)
	assert.False(t, IsMock())
}

func TestNewLifecycle(t *testing.T) {
	dev := NewLifecycle("test-device")
	assert.Equal(t, "test-device", dev.Name())
	assert.Equal(t, "test-device", dev.String())
	assert.Equal(t, StateUnknown, dev.State())

	jbytes, err := dev.JSON()
	require.NoError(t, err)
	assert.NotEmpty(t, jbytes)
}

func TestTimerLoopCallsReadpub(t *testing.T) {
	dev := NewLifecycle("test-device")
	calls := make(chan struct{}, 8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- dev.TimerLoop(ctx, 20*time.Millisecond, func() error {
			calls <- struct{}{}
			return nil
		})
	}()

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for readpub to be called")
	}
	assert.Equal(t, StateRunning, dev.State())

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, StateStopped, dev.State())
}

func TestTimerLoopTransitionsToErrorState(t *testing.T) {
	dev := NewLifecycle("test-device")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var gotErr error
	dev.OnStateChange = func(state DeviceState, err error) {
		if state == StateError {
			gotErr = err
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- dev.TimerLoop(ctx, 10*time.Millisecond, func() error {
			return fmt.Errorf("mock error")
		})
	}()

	require.Eventually(t, func() bool {
		return dev.State() == StateError
	}, time.Second, 5*time.Millisecond)

	assert.Error(t, dev.Error())
	assert.Error(t, gotErr)

	cancel()
	<-done
}

func TestTimerLoopRejectsNonPositivePeriod(t *testing.T) {
	dev := NewLifecycle("test-device")
	err := dev.TimerLoop(context.Background(), 0, func() error {
		t.Error("readpub should not be called when period is 0")
		return nil
	})
	assert.Error(t, err)
}
