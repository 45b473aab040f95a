package instrument

import "github.com/nasa-jpl/ema-gateway/internal/protocol"

// Pluviometer tracks both the instantaneous rain-gauge level and the
// device's accumulated-since-???? counter. That counter's origin is not
// documented by the device (spec §9, open question); this gateway treats
// it as an opaque device counter and never anchors it to wall-clock or
// resets it itself.
type Pluviometer struct {
	base

	// AccumulatedCount is the device's own running counter, last
	// observed from the Reading vector, untouched by this gateway.
	AccumulatedCount int
}

// NewPluviometer builds the pluviometer instrument.
func NewPluviometer(id string, params []Parameter, policy PublishPolicy) *Pluviometer {
	return &Pluviometer{base: base{id: id, kind: KindPluviometer, params: params, policy: policy}}
}

// Update records the pluviometer level into the averaging accumulator
// and mirrors the device's accumulated counter verbatim.
func (p *Pluviometer) Update(r protocol.Reading) {
	p.current = r.PluvLevel
	p.acc.add(r.PluvLevel)
	p.AccumulatedCount = r.PluvAccum
}
