package simulators

import (
	"context"
	"math"
	"time"

	"github.com/rustyeddy/devices"
)

// DomeSlewRate is the simulated dome's angular speed in degrees per second.
var DomeSlewRate = 15.0

// Dome simulates an observatory dome's azimuth: it slews toward the last
// commanded target at DomeSlewRate and reports its current azimuth on Out().
// It satisfies devices.Duplex[float64].
type Dome struct {
	devices.Base

	out chan float64
	in  chan float64

	azimuth, target float64
}

// NewDome creates a simulated dome starting parked at azimuth 0.
func NewDome(name string) *Dome {
	return &Dome{
		Base: devices.NewBase(name, 16),
		out:  make(chan float64, 16),
		in:   make(chan float64, 1),
	}
}

func (d *Dome) Out() <-chan float64 { return d.out }
func (d *Dome) In() chan<- float64  { return d.in }

// Descriptor satisfies the optional devices.Descriptor provider so the
// broker-side registry can surface dome metadata (spec §4.4 property cache).
func (d *Dome) Descriptor() devices.Descriptor {
	return devices.Descriptor{
		Name:      d.Name(),
		Kind:      "dome",
		ValueType: "float64",
		Access:    "rw",
		Unit:      "deg",
		Min:       floatPtr(0),
		Max:       floatPtr(360),
	}
}

// Run steps the simulated dome toward its commanded target until ctx is
// cancelled, emitting the current azimuth once per tick.
func (d *Dome) Run(ctx context.Context) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(d.out)
			return ctx.Err()

		case t := <-d.in:
			d.target = normalizeAzimuth(t)

		case <-ticker.C:
			d.step(0.2)
			select {
			case d.out <- d.azimuth:
			default:
			}
		}
	}
}

func (d *Dome) step(dt float64) {
	delta := shortestAzimuthDelta(d.azimuth, d.target)
	maxStep := DomeSlewRate * dt
	if math.Abs(delta) <= maxStep {
		d.azimuth = d.target
		return
	}
	if delta > 0 {
		d.azimuth = normalizeAzimuth(d.azimuth + maxStep)
	} else {
		d.azimuth = normalizeAzimuth(d.azimuth - maxStep)
	}
}

func normalizeAzimuth(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

func shortestAzimuthDelta(from, to float64) float64 {
	delta := math.Mod(to-from+540, 360) - 180
	return delta
}

func floatPtr(v float64) *float64 { return &v }
