// Package projector aggregates connection state and telemetry into
// read-only snapshots for a presentation layer.
package projector

import (
	"time"

	"github.com/chaz8081/stepsense/internal/ble"
	"github.com/chaz8081/stepsense/internal/telemetry"
)

// StateSource reports the peripheral connection lifecycle.
// *ble.Supervisor implements it.
type StateSource interface {
	State() ble.State
	Status() string
	Peripheral() (ble.PeripheralHandle, bool)
}

// TelemetrySource returns a copy of the buffered samples.
// *telemetry.Buffer implements it.
type TelemetrySource interface {
	Snapshot() []telemetry.SensorSample
}

// Snapshot is a point-in-time view. It shares no memory with its sources.
type Snapshot struct {
	State          ble.State
	Status         string
	PeripheralName string // empty until a peripheral has been found
	Telemetry      []telemetry.SensorSample
	TakenAt        time.Time
}

// Latest returns the most recent sample, if any.
func (s Snapshot) Latest() (telemetry.SensorSample, bool) {
	if len(s.Telemetry) == 0 {
		return telemetry.SensorSample{}, false
	}
	return s.Telemetry[len(s.Telemetry)-1], true
}

// Projector combines a StateSource and a TelemetrySource.
type Projector struct {
	state     StateSource
	telemetry TelemetrySource
	now       func() time.Time
}

// New returns a projector over the given sources. Either may be nil.
func New(state StateSource, tel TelemetrySource) *Projector {
	return &Projector{state: state, telemetry: tel, now: time.Now}
}

// Snapshot reads both sources without blocking on any in-flight operation.
func (p *Projector) Snapshot() Snapshot {
	snap := Snapshot{
		State:   ble.Stopped,
		Status:  ble.StatusDisconnected,
		TakenAt: p.now(),
	}
	if p.state != nil {
		snap.State = p.state.State()
		snap.Status = p.state.Status()
		if h, ok := p.state.Peripheral(); ok {
			snap.PeripheralName = h.Name
		}
	}
	if p.telemetry != nil {
		snap.Telemetry = p.telemetry.Snapshot()
	}
	return snap
}
