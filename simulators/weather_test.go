package simulators

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeatherEmitsSamples(t *testing.T) {
	w := NewWeather("weather-1", 42)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.RunEvery(ctx, 10*time.Millisecond) }()

	select {
	case s := <-w.Out():
		assert.Greater(t, s.HumidityPct, -1.0)
		assert.LessOrEqual(t, s.HumidityPct, 100.0)
		assert.GreaterOrEqual(t, s.WindSpeedKph, 0.0)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a weather sample")
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestWeatherDescriptorIsReadOnly(t *testing.T) {
	w := NewWeather("weather-1", 1)
	assert.Equal(t, "ro", string(w.Descriptor().Access))
}
