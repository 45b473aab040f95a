// Package protocol implements the EMA device wire format: CR-LF framing,
// recognition of the unsolicited status bulletin, and its decode into a
// Reading vector.
package protocol

// Missing is the sentinel value substituted for any field that does not
// parse as a number during decode. It never causes the whole frame to be
// rejected. Decode does not range-check fields, so an out-of-range value
// that parses is not replaced by Missing.
const Missing = -999.0

// Reading is the canonical 17-field status vector reported by the device
// roughly once per second. Field order matches the wire bulletin exactly
// and is also the order used on broker publish payloads.
type Reading struct {
	RoofRelay   byte    // relay code, e.g. '0'/'7'
	AuxRelay    byte    // relay code
	Volts       float64 // supply voltage
	RainPct     float64
	CloudPct    float64
	PressAbs    float64 // absolute pressure, hPa
	PressCal    float64 // calibrated pressure, hPa
	PluvLevel   float64 // pluviometer level, mm
	PluvAccum   int     // accumulated pluviometer counter, mm
	PyranoPct   float64
	PhotoHz     float64
	TempC       float64
	HumidityPct float64
	DewPointC   float64
	WindKmh     float64
	Wind10Kmh   int // 10-minute average wind speed
	WindDeg     int // orientation, degrees
}

// Valid reports whether the field carries a real value rather than the
// Missing sentinel.
func Valid(f float64) bool {
	return f != Missing
}
