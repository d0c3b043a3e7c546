package simulators

import (
	"context"
	"math"
	"time"

	"github.com/rustyeddy/devices"
)

// TelescopeSlewRate is the simulated mount's slew speed in degrees per second
// (applied independently to right ascension and declination).
var TelescopeSlewRate = 3.0

// Pointing is a mount's target or current sky position.
type Pointing struct {
	RA  float64 `json:"ra"`  // hours, 0-24
	Dec float64 `json:"dec"` // degrees, -90..90
}

// Telescope simulates a mount slewing toward a commanded Pointing and
// reporting its current position on Out(). It satisfies
// devices.Duplex[Pointing].
type Telescope struct {
	devices.Base

	out chan Pointing
	in  chan Pointing

	current, target Pointing
	parked          bool
}

// NewTelescope creates a simulated mount parked at RA 0h, Dec 90deg.
func NewTelescope(name string) *Telescope {
	return &Telescope{
		Base:    devices.NewBase(name, 16),
		out:     make(chan Pointing, 16),
		in:      make(chan Pointing, 1),
		current: Pointing{RA: 0, Dec: 90},
		target:  Pointing{RA: 0, Dec: 90},
		parked:  true,
	}
}

func (t *Telescope) Out() <-chan Pointing { return t.out }
func (t *Telescope) In() chan<- Pointing  { return t.in }

func (t *Telescope) Descriptor() devices.Descriptor {
	return devices.Descriptor{
		Name:      t.Name(),
		Kind:      "telescope",
		ValueType: "Pointing",
		Access:    "rw",
		Tags:      []string{"mount"},
	}
}

// Run slews the mount toward its commanded target until ctx is cancelled.
func (t *Telescope) Run(ctx context.Context) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(t.out)
			return ctx.Err()

		case p := <-t.in:
			t.target = clampPointing(p)
			t.parked = false

		case <-ticker.C:
			t.step(0.2)
			select {
			case t.out <- t.current:
			default:
			}
		}
	}
}

func (t *Telescope) step(dt float64) {
	maxStep := TelescopeSlewRate * dt
	t.current.RA = approach(t.current.RA, t.target.RA, maxStep/15) // 15 deg/hr
	t.current.Dec = approach(t.current.Dec, t.target.Dec, maxStep)
}

func approach(cur, target, maxStep float64) float64 {
	delta := target - cur
	if math.Abs(delta) <= maxStep {
		return target
	}
	if delta > 0 {
		return cur + maxStep
	}
	return cur - maxStep
}

func clampPointing(p Pointing) Pointing {
	if p.RA < 0 {
		p.RA = 0
	}
	if p.RA > 24 {
		p.RA = 24
	}
	if p.Dec < -90 {
		p.Dec = -90
	}
	if p.Dec > 90 {
		p.Dec = 90
	}
	return p
}
