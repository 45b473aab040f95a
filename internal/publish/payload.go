// Package publish sends reading snapshots and historic payloads to the
// broker and to the HTML status surface. All payloads share a common
// envelope of rev/who/tstamp fields (spec §6).
package publish

import "time"

// Envelope carries the fields required on every broker payload.
type Envelope struct {
	Rev   int       `json:"rev"`
	Who   string    `json:"who"`
	Tstamp time.Time `json:"tstamp"`
}

// PayloadRevision is the schema revision stamped on every publish.
const PayloadRevision = 1

// NewEnvelope builds an Envelope stamped with who and the given instant.
func NewEnvelope(who string, now time.Time) Envelope {
	return Envelope{Rev: PayloadRevision, Who: who, Tstamp: now.UTC()}
}

// InstrumentReading is one instrument's published value.
type InstrumentReading struct {
	ID      string  `json:"id"`
	Current float64 `json:"current,omitempty"`
	Average float64 `json:"average,omitempty"`
}

// CurrentState is the payload published to `current/state` once per
// upload period.
type CurrentState struct {
	Envelope
	Readings []InstrumentReading `json:"readings"`
}

// MinmaxPoint is one (max, min) tuple out of the 24-tuple daily minmax
// historic payload.
type MinmaxPoint struct {
	Hour int     `json:"hour"`
	Max  float64 `json:"max"`
	Min  float64 `json:"min"`
}

// HistoricMinmax is the payload published to `historic/minmax` once per
// configured TOD window, 24 tuples per instrument.
type HistoricMinmax struct {
	Envelope
	InstrumentID string        `json:"instrument_id"`
	Points       []MinmaxPoint `json:"points"`
}

// AveragePoint is one 5-minute average out of the 288-tuple daily
// average historic payload.
type AveragePoint struct {
	Slot    int     `json:"slot"`
	Average float64 `json:"average"`
}

// HistoricAverage is the payload published to `historic/average`, 288
// tuples per instrument.
type HistoricAverage struct {
	Envelope
	InstrumentID string         `json:"instrument_id"`
	Points       []AveragePoint `json:"points"`
}

// EventPayload is published to `<channel>/events`.
type EventPayload struct {
	Envelope
	Level   string `json:"level"`
	Message string `json:"message"`
}

// RegisterPayload is published once, at startup, to `EMA/register` and
// describes the full device parameter inventory.
type RegisterPayload struct {
	Envelope
	Instruments []RegisteredInstrument `json:"instruments"`
}

// RegisteredInstrument is one instrument's entry in RegisterPayload.
type RegisteredInstrument struct {
	ID         string   `json:"id"`
	Kind       string   `json:"kind"`
	Parameters []string `json:"parameters"`
}
