package instrument

import "github.com/nasa-jpl/ema-gateway/internal/protocol"

// extractFunc pulls one scalar field out of a Reading.
type extractFunc func(protocol.Reading) float64

// simple is the shape shared by every instrument that just tracks one
// scalar field from the Reading vector with no special alarm logic:
// barometer, rain, cloud, pyranometer, photometer, thermometer,
// anemometer, and thermopile. The device firmware, not the gateway,
// reacts to their threshold breaches by closing the roof (spec §4.5); the
// gateway only needs to keep their device-side parameters in sync and
// publish their readings.
type simple struct {
	base
	extract extractFunc
}

func newSimple(id string, kind Kind, extract extractFunc, params []Parameter, policy PublishPolicy) *simple {
	return &simple{
		base:    base{id: id, kind: kind, params: params, policy: policy},
		extract: extract,
	}
}

// Update records the extracted field as the current value and folds it
// into the averaging accumulator.
func (s *simple) Update(r protocol.Reading) {
	v := s.extract(r)
	s.current = v
	s.acc.add(v)
}

// NewBarometer tracks calibrated pressure (hPa).
func NewBarometer(id string, params []Parameter, policy PublishPolicy) Instrument {
	return newSimple(id, KindBarometer, func(r protocol.Reading) float64 { return r.PressCal }, params, policy)
}

// NewRainGauge tracks rain percentage.
func NewRainGauge(id string, params []Parameter, policy PublishPolicy) Instrument {
	return newSimple(id, KindRain, func(r protocol.Reading) float64 { return r.RainPct }, params, policy)
}

// NewCloudSensor tracks cloud percentage.
func NewCloudSensor(id string, params []Parameter, policy PublishPolicy) Instrument {
	return newSimple(id, KindCloud, func(r protocol.Reading) float64 { return r.CloudPct }, params, policy)
}

// NewPyranometer tracks solar irradiance percentage.
func NewPyranometer(id string, params []Parameter, policy PublishPolicy) Instrument {
	return newSimple(id, KindPyranometer, func(r protocol.Reading) float64 { return r.PyranoPct }, params, policy)
}

// NewPhotometer tracks photometer frequency (Hz).
func NewPhotometer(id string, params []Parameter, policy PublishPolicy) Instrument {
	return newSimple(id, KindPhotometer, func(r protocol.Reading) float64 { return r.PhotoHz }, params, policy)
}

// Thermometer tracks ambient temperature (°C). Humidity and dew point
// are exposed through the Humidity and DewPoint accessors since this
// instrument owns three related scalars from the Reading vector.
type Thermometer struct {
	simple
	humidity float64
	dewPoint float64
}

// NewThermometer builds the ambient thermometer instrument.
func NewThermometer(id string, params []Parameter, policy PublishPolicy) *Thermometer {
	return &Thermometer{
		simple:   *newSimple(id, KindThermometer, func(r protocol.Reading) float64 { return r.TempC }, params, policy),
		humidity: protocol.Missing,
		dewPoint: protocol.Missing,
	}
}

// Update additionally records humidity and dew point from the same
// Reading, since the device bundles them with temperature.
func (t *Thermometer) Update(r protocol.Reading) {
	t.simple.Update(r)
	t.humidity = r.HumidityPct
	t.dewPoint = r.DewPointC
}

// Humidity returns the most recently observed humidity percentage.
func (t *Thermometer) Humidity() float64 { return t.humidity }

// DewPoint returns the most recently observed dew point, in °C.
func (t *Thermometer) DewPoint() float64 { return t.dewPoint }

// Anemometer tracks instantaneous wind speed (km/h). The 10-minute
// average and orientation are exposed via WindAux since the device
// reports them as a bundle.
type Anemometer struct {
	simple
	wind10 int
	windDeg int
}

// NewAnemometer builds the wind instrument.
func NewAnemometer(id string, params []Parameter, policy PublishPolicy) *Anemometer {
	return &Anemometer{simple: *newSimple(id, KindAnemometer, func(r protocol.Reading) float64 { return r.WindKmh }, params, policy)}
}

// Update additionally records the device-computed 10-minute average and
// orientation, which the anemometer's own accumulator does not cover.
func (a *Anemometer) Update(r protocol.Reading) {
	a.simple.Update(r)
	a.wind10 = r.Wind10Kmh
	a.windDeg = r.WindDeg
}

// WindAux returns the device's own 10-minute average wind speed (km/h)
// and orientation (degrees).
func (a *Anemometer) WindAux() (wind10Kmh, orientationDeg int) {
	return a.wind10, a.windDeg
}

// NewThermopile tracks the pluviometer's companion thermopile sensor.
// The base protocol does not carry a dedicated thermopile field; it
// shares the pyranometer channel on hardware revisions that have one
// fitted, so it tracks pyranometer percentage like NewPyranometer but
// keeps a distinct identity, parameter set, and publish policy.
func NewThermopile(id string, params []Parameter, policy PublishPolicy) Instrument {
	return newSimple(id, KindThermopile, func(r protocol.Reading) float64 { return r.PyranoPct }, params, policy)
}
