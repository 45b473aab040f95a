// Package instrument models the ten virtual instruments the gateway
// exposes: current value, running averaging accumulators, device-side
// calibration/threshold parameters, and publish policy. Polymorphism
// across the ten kinds is expressed as a shared capability interface
// rather than an inheritance hierarchy, per the source's design notes.
package instrument

import (
	"regexp"

	"github.com/nasa-jpl/ema-gateway/internal/protocol"
)

// Kind identifies one of the ten virtual instruments. The two relays and
// the watchdog/RTC have no Kind and are not modeled as instruments.
type Kind string

// The ten measurement instruments named in spec §2.
const (
	KindVoltmeter    Kind = "voltmeter"
	KindBarometer    Kind = "barometer"
	KindRain         Kind = "rain"
	KindCloud        Kind = "cloud"
	KindPyranometer  Kind = "pyranometer"
	KindPhotometer   Kind = "photometer"
	KindThermometer  Kind = "thermometer"
	KindAnemometer   Kind = "anemometer"
	KindPluviometer  Kind = "pluviometer"
	KindThermopile   Kind = "thermopile"
)

// Value is the result of a Snapshot: the instrument's current reading
// and, if any samples were accumulated since the last snapshot, their
// average.
type Value struct {
	Current    float64
	Average    float64
	HasAverage bool
}

// PublishPolicy controls where and what an instrument publishes on each
// upload period.
type PublishPolicy struct {
	// Where is a subset of {"mqtt", "html"}.
	Where []string
	// What is a subset of {"current", "average"}.
	What []string
}

// Publishes reports whether sink is configured as a publish target.
func (p PublishPolicy) Publishes(sink string) bool {
	for _, w := range p.Where {
		if w == sink {
			return true
		}
	}
	return false
}

// Parameter describes one device-side, EEPROM-persisted setting: its
// type, valid range, and the command templates used to read or write it.
type Parameter struct {
	Name            string
	Kind            string // "float", "int", "string"
	Min, Max        float64
	SetTemplate     string // e.g. "(B%05.1f)"
	GetTemplate     string // e.g. "(b)"
	ResponsePattern *regexp.Regexp

	// Configured is the value from the configuration file; Sync compares
	// the device's reported value against this.
	Configured string
}

// InRange reports whether v falls within [Min, Max]. Non-numeric
// parameters (Kind != "float"/"int") always report true.
func (p Parameter) InRange(v float64) bool {
	if p.Kind != "float" && p.Kind != "int" {
		return true
	}
	return v >= p.Min && v <= p.Max
}

// Event is an alarm condition surfaced by an instrument: low supply
// voltage carries (average, threshold, sample_count); other instruments
// never produce one directly since the firmware, not the gateway, closes
// the roof on threshold breach (spec §4.5).
type Event struct {
	Kind    string
	Message string
	Data    map[string]interface{}
}

// Instrument is the capability set every virtual instrument implements:
// update from a fresh Reading, snapshot-and-reset its accumulators,
// report its parameter list, and surface an alarm if one fired.
type Instrument interface {
	ID() string
	Kind() Kind
	Update(r protocol.Reading)
	Snapshot() Value
	Current() float64
	Parameters() []Parameter
	Alarm() (Event, bool)
	Policy() PublishPolicy
}

// accumulator holds the running sum/count used to compute an upload
// period's average. Missing samples are not counted.
type accumulator struct {
	sum   float64
	count int
}

func (a *accumulator) add(v float64) {
	if !protocol.Valid(v) {
		return
	}
	a.sum += v
	a.count++
}

func (a *accumulator) value() (float64, bool) {
	if a.count == 0 {
		return protocol.Missing, false
	}
	return a.sum / float64(a.count), true
}

func (a *accumulator) reset() {
	a.sum = 0
	a.count = 0
}

// base implements the bookkeeping shared by every instrument: current
// value, accumulator, parameter list, and publish policy. Concrete
// instruments embed base and supply Update and, where needed, Alarm.
type base struct {
	id      string
	kind    Kind
	current float64
	acc     accumulator
	params  []Parameter
	policy  PublishPolicy
}

func (b *base) ID() string               { return b.id }
func (b *base) Kind() Kind               { return b.kind }
func (b *base) Current() float64         { return b.current }
func (b *base) Parameters() []Parameter  { return b.params }
func (b *base) Policy() PublishPolicy    { return b.policy }

// Snapshot returns the current value and the average accumulated since
// the last Snapshot call, then resets the accumulator atomically (there
// is no concurrent access in the single-threaded event loop, so "atomic"
// here just means "the two steps are not interleaved with Update").
func (b *base) Snapshot() Value {
	avg, ok := b.acc.value()
	v := Value{Current: b.current, Average: avg, HasAverage: ok}
	b.acc.reset()
	return v
}

// Alarm is a no-op default; only Voltmeter overrides it.
func (b *base) Alarm() (Event, bool) {
	return Event{}, false
}
