package instrument

import "github.com/nasa-jpl/ema-gateway/internal/protocol"

// Voltmeter tracks the device's supply voltage. In addition to the
// shared upload-period accumulator, it runs a separate sliding window
// of VoltTime seconds; when that window's average drops below
// Threshold+Delta, CheckLowVoltage reports a LowVoltage event
// (spec §4.5).
type Voltmeter struct {
	base

	// Threshold and Delta define the alarm floor: Threshold+Delta.
	Threshold float64
	Delta     float64

	windowAcc accumulator
}

// NewVoltmeter builds the voltmeter instrument. threshold and delta come
// from the volt_thres and volt_delta configuration keys.
func NewVoltmeter(id string, threshold, delta float64, params []Parameter, policy PublishPolicy) *Voltmeter {
	return &Voltmeter{
		base:      base{id: id, kind: KindVoltmeter, params: params, policy: policy},
		Threshold: threshold,
		Delta:     delta,
	}
}

// Update records the supply voltage into both the upload-period
// accumulator and the low-voltage sliding window.
func (v *Voltmeter) Update(r protocol.Reading) {
	v.current = r.Volts
	v.acc.add(r.Volts)
	v.windowAcc.add(r.Volts)
}

// CheckLowVoltage evaluates the sliding window accumulated since the
// last call and resets it. The Scheduler calls this once per VoltTime
// tick (the "low-voltage averaging" duty, spec §4.7), not on every
// upload period. It returns a LowVoltage Event carrying
// (average, threshold, sample_count) when the window's average falls
// below Threshold+Delta.
func (v *Voltmeter) CheckLowVoltage() (Event, bool) {
	avg, ok := v.windowAcc.value()
	count := v.windowAcc.count
	v.windowAcc.reset()
	if !ok {
		return Event{}, false
	}
	if avg >= v.Threshold+v.Delta {
		return Event{}, false
	}
	return Event{
		Kind:    "low_voltage",
		Message: "supply voltage below threshold",
		Data: map[string]interface{}{
			"average":      avg,
			"threshold":    v.Threshold + v.Delta,
			"sample_count": count,
		},
	}, true
}

// Alarm satisfies the Instrument capability interface but always
// reports no alarm; low-voltage evaluation runs on its own VoltTime
// cadence via CheckLowVoltage, driven by the Scheduler, rather than on
// every Update.
func (v *Voltmeter) Alarm() (Event, bool) {
	return Event{}, false
}
