package instrument

import (
	"fmt"
	"regexp"

	"github.com/nasa-jpl/ema-gateway/internal/config"
)

// templateDefaults gives every instrument kind's single threshold
// parameter a default command letter pair (get/set) and numeric range,
// the way the device's command reference assigns one get/set letter per
// EEPROM-persisted setting (spec §2). A configuration's
// `[instrument.<kind>] args.parameter_overrides` block can replace any
// of these per firmware variant.
type templateDefault struct {
	name        string
	min, max    float64
	getTemplate string
	setTemplate string
	pattern     string
}

var templateDefaults = map[Kind]templateDefault{
	KindVoltmeter:   {"volt_thres", 0, 30, "(v)", "(V%05.2f)", `^\(v([\d.]+)\)$`},
	KindBarometer:   {"press_thres", 800, 1100, "(p)", "(P%06.1f)", `^\(p([\d.]+)\)$`},
	KindRain:        {"rain_thres", 0, 100, "(n)", "(N%03d)", `^\(n(\d+)\)$`},
	KindCloud:       {"cloud_thres", 0, 100, "(u)", "(U%03d)", `^\(u(\d+)\)$`},
	KindPyranometer: {"pyrano_thres", 0, 100, "(i)", "(I%03d)", `^\(i(\d+)\)$`},
	KindPhotometer:  {"photo_thres", 0, 99999, "(h)", "(H%05d)", `^\(h(\d+)\)$`},
	KindThermometer: {"temp_thres", -40, 60, "(t)", "(T%+04.1f)", `^\(t([+-]?[\d.]+)\)$`},
	KindAnemometer:  {"wind_thres", 0, 200, "(w)", "(W%03d)", `^\(w(\d+)\)$`},
	KindPluviometer: {"pluv_thres", 0, 999, "(g)", "(G%03d)", `^\(g(\d+)\)$`},
	KindThermopile:  {"thermopile_thres", 0, 100, "(x)", "(X%03d)", `^\(x(\d+)\)$`},
}

// buildParameters assembles the Parameter list for one instrument kind
// from its default threshold template, the configured value (if any),
// and any typed overrides decoded from the instrument's Args block.
func buildParameters(kind Kind, instCfg config.InstrumentConfig) ([]Parameter, error) {
	def, ok := templateDefaults[kind]
	if !ok {
		return nil, fmt.Errorf("instrument: no parameter template for kind %q", kind)
	}

	overrides, err := config.DecodeParameterSpecs(instCfg.Args)
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		if o.Name != def.name {
			continue
		}
		if o.Min != 0 || o.Max != 0 {
			def.min, def.max = o.Min, o.Max
		}
		if o.SetTemplate != "" {
			def.setTemplate = o.SetTemplate
		}
		if o.GetTemplate != "" {
			def.getTemplate = o.GetTemplate
		}
	}

	p := Parameter{
		Name:            def.name,
		Kind:            "float",
		Min:             def.min,
		Max:             def.max,
		SetTemplate:     def.setTemplate,
		GetTemplate:     def.getTemplate,
		ResponsePattern: regexp.MustCompile(def.pattern),
		Configured:      instCfg.Parameters[def.name],
	}
	return []Parameter{p}, nil
}

// policyFromConfig builds a PublishPolicy from an instrument's
// publish_where/publish_what configuration keys.
func policyFromConfig(instCfg config.InstrumentConfig) PublishPolicy {
	return PublishPolicy{Where: instCfg.PublishWhere, What: instCfg.PublishWhat}
}

// BuildRegistry constructs all ten virtual instruments from cfg and
// returns them in a Registry, in the fixed order spec §2 lists them.
func BuildRegistry(cfg config.Config) (*Registry, error) {
	reg := NewRegistry()

	type spec struct {
		id   string
		kind Kind
		new  func(id string, params []Parameter, policy PublishPolicy) Instrument
	}
	specs := []spec{
		{"voltmeter", KindVoltmeter, func(id string, params []Parameter, policy PublishPolicy) Instrument {
			return NewVoltmeter(id, cfg.VoltThreshold, cfg.VoltDelta, params, policy)
		}},
		{"barometer", KindBarometer, NewBarometer},
		{"rain", KindRain, NewRainGauge},
		{"cloud", KindCloud, NewCloudSensor},
		{"pyranometer", KindPyranometer, NewPyranometer},
		{"photometer", KindPhotometer, NewPhotometer},
		{"thermometer", KindThermometer, func(id string, params []Parameter, policy PublishPolicy) Instrument {
			return NewThermometer(id, params, policy)
		}},
		{"anemometer", KindAnemometer, func(id string, params []Parameter, policy PublishPolicy) Instrument {
			return NewAnemometer(id, params, policy)
		}},
		{"pluviometer", KindPluviometer, func(id string, params []Parameter, policy PublishPolicy) Instrument {
			return NewPluviometer(id, params, policy)
		}},
		{"thermopile", KindThermopile, NewThermopile},
	}

	for _, s := range specs {
		instCfg := cfg.Instruments[s.id]
		params, err := buildParameters(s.kind, instCfg)
		if err != nil {
			return nil, err
		}
		reg.Add(s.new(s.id, params, policyFromConfig(instCfg)))
	}
	return reg, nil
}
