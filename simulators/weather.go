package simulators

import (
	"context"
	"math/rand"
	"time"

	"github.com/rustyeddy/astrocomm/device"
	"github.com/rustyeddy/devices"
)

// WeatherSample is a single reading from a simulated weather station.
type WeatherSample struct {
	TemperatureC float64 `json:"temperature_c"`
	HumidityPct  float64 `json:"humidity_pct"`
	WindSpeedKph float64 `json:"wind_speed_kph"`
}

// Weather simulates a read-only weather station: devices.Source[WeatherSample].
// Its samples are read from Out().
type Weather struct {
	devices.Base

	lifecycle *device.Lifecycle
	out       chan WeatherSample
	rng       *rand.Rand
	last      WeatherSample
}

// NewWeather creates a simulated weather station seeded with a clear night's
// baseline readings. State transitions (running/stopped/error) are tracked
// by an embedded device.Lifecycle rather than a second hand-rolled state
// machine.
func NewWeather(name string, seed int64) *Weather {
	w := &Weather{
		Base:      devices.NewBase(name, 16),
		lifecycle: device.NewLifecycle(name),
		out:       make(chan WeatherSample, 16),
		rng:       rand.New(rand.NewSource(seed)),
		last:      WeatherSample{TemperatureC: 12, HumidityPct: 45, WindSpeedKph: 8},
	}
	w.lifecycle.OnStateChange = func(state device.DeviceState, err error) {
		if state == device.StateStopped {
			close(w.out)
		}
	}
	return w
}

func (w *Weather) Out() <-chan WeatherSample { return w.out }

// State reports the simulator's current lifecycle state.
func (w *Weather) State() device.DeviceState { return w.lifecycle.State() }

func (w *Weather) Descriptor() devices.Descriptor {
	return devices.Descriptor{
		Name:      w.Name(),
		Kind:      "weather",
		ValueType: "WeatherSample",
		Access:    "ro",
	}
}

// Run emits a new sample every interval by randomly walking from the last
// reading, until ctx is cancelled.
func (w *Weather) Run(ctx context.Context) error {
	return w.RunEvery(ctx, 5*time.Second)
}

// RunEvery is Run with an explicit sample interval, split out for tests that
// don't want to wait on the production cadence.
func (w *Weather) RunEvery(ctx context.Context, interval time.Duration) error {
	return w.lifecycle.TimerLoop(ctx, interval, func() error {
		w.last = w.walk(w.last)
		select {
		case w.out <- w.last:
		default:
		}
		return nil
	})
}

func (w *Weather) walk(s WeatherSample) WeatherSample {
	s.TemperatureC += (w.rng.Float64() - 0.5)
	s.HumidityPct = clampPct(s.HumidityPct + (w.rng.Float64()-0.5)*2)
	s.WindSpeedKph = clampNonNeg(s.WindSpeedKph + (w.rng.Float64()-0.5)*3)
	return s
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func clampNonNeg(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
