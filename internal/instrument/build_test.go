package instrument

import (
	"testing"

	"github.com/nasa-jpl/ema-gateway/internal/config"
)

func TestBuildRegistryProducesTenInstrumentsInOrder(t *testing.T) {
	cfg := config.Default()
	reg, err := BuildRegistry(cfg)
	if err != nil {
		t.Fatalf("BuildRegistry: %v", err)
	}
	all := reg.All()
	if len(all) != 10 {
		t.Fatalf("got %d instruments, want 10", len(all))
	}
	if all[0].ID() != "voltmeter" || all[0].Kind() != KindVoltmeter {
		t.Errorf("unexpected first instrument: %+v", all[0])
	}
}

func TestBuildRegistryAppliesParameterOverride(t *testing.T) {
	cfg := config.Default()
	cfg.Instruments = map[string]config.InstrumentConfig{
		"voltmeter": {
			Parameters: map[string]string{"volt_thres": "11.80"},
			Args: map[string]interface{}{
				"parameter_overrides": []interface{}{
					map[string]interface{}{
						"name":         "volt_thres",
						"set_template": "(Z%05.2f)",
						"get_template": "(z)",
					},
				},
			},
		},
	}
	reg, err := BuildRegistry(cfg)
	if err != nil {
		t.Fatalf("BuildRegistry: %v", err)
	}
	v, ok := reg.Get("voltmeter")
	if !ok {
		t.Fatal("expected voltmeter instrument")
	}
	params := v.Parameters()
	if len(params) != 1 {
		t.Fatalf("got %d params, want 1", len(params))
	}
	if params[0].SetTemplate != "(Z%05.2f)" || params[0].GetTemplate != "(z)" {
		t.Errorf("override not applied: %+v", params[0])
	}
	if params[0].Configured != "11.80" {
		t.Errorf("configured value not threaded through: %q", params[0].Configured)
	}
}
