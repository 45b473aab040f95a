package instrument

import (
	"math"
	"testing"

	"github.com/nasa-jpl/ema-gateway/internal/protocol"
)

func TestVoltmeterAccumulatesEveryUpdate(t *testing.T) {
	v := NewVoltmeter("voltmeter", 11.8, 0.2, nil, PublishPolicy{})
	for i := 0; i < 20; i++ {
		v.Update(protocol.Reading{Volts: 11.8})
	}
	snap := v.Snapshot()
	if !snap.HasAverage {
		t.Fatalf("expected an average after 20 updates")
	}
	if math.Abs(snap.Average-11.8) > 1e-9 {
		t.Fatalf("unexpected average: %v", snap.Average)
	}
}

func TestVoltmeterLowVoltageAlarmFires(t *testing.T) {
	v := NewVoltmeter("voltmeter", 11.8, 0.2, nil, PublishPolicy{})
	for i := 0; i < 30; i++ {
		v.Update(protocol.Reading{Volts: 11.8})
	}
	ev, fired := v.CheckLowVoltage()
	if !fired {
		t.Fatalf("expected low voltage alarm to fire")
	}
	if ev.Data["sample_count"] != 30 {
		t.Fatalf("unexpected sample_count: %v", ev.Data["sample_count"])
	}
	if avg, ok := ev.Data["average"].(float64); !ok || math.Abs(avg-11.8) > 1e-9 {
		t.Fatalf("unexpected average: %v", ev.Data["average"])
	}
	if ev.Data["threshold"] != 12.0 {
		t.Fatalf("unexpected threshold: %v", ev.Data["threshold"])
	}

	// window was reset; a second call with no updates reports nothing
	if _, fired := v.CheckLowVoltage(); fired {
		t.Fatalf("expected no alarm on an empty window")
	}
}

func TestVoltmeterNoAlarmAboveThreshold(t *testing.T) {
	v := NewVoltmeter("voltmeter", 11.8, 0.2, nil, PublishPolicy{})
	for i := 0; i < 10; i++ {
		v.Update(protocol.Reading{Volts: 13.0})
	}
	if _, fired := v.CheckLowVoltage(); fired {
		t.Fatalf("did not expect alarm above threshold")
	}
}

func TestSnapshotResetsAccumulator(t *testing.T) {
	b := NewBarometer("barometer", nil, PublishPolicy{})
	b.Update(protocol.Reading{PressCal: 1013.0})
	b.Update(protocol.Reading{PressCal: 1015.0})
	snap := b.Snapshot()
	if snap.Average != 1014.0 {
		t.Fatalf("unexpected average: %v", snap.Average)
	}
	empty := b.Snapshot()
	if empty.HasAverage {
		t.Fatalf("expected accumulator to be reset after snapshot")
	}
}

func TestMissingSamplesExcludedFromAverage(t *testing.T) {
	r := NewRainGauge("rain", nil, PublishPolicy{})
	r.Update(protocol.Reading{RainPct: 10})
	r.Update(protocol.Reading{RainPct: protocol.Missing})
	r.Update(protocol.Reading{RainPct: 20})
	snap := r.Snapshot()
	if snap.Average != 15 {
		t.Fatalf("expected missing sample to be excluded, got average %v", snap.Average)
	}
}

func TestPluviometerMirrorsDeviceCounterVerbatim(t *testing.T) {
	p := NewPluviometer("pluviometer", nil, PublishPolicy{})
	p.Update(protocol.Reading{PluvLevel: 1.2, PluvAccum: 456})
	if p.AccumulatedCount != 456 {
		t.Fatalf("expected accumulated counter to mirror device value, got %d", p.AccumulatedCount)
	}
}

func TestRegistryPreservesInsertionOrder(t *testing.T) {
	reg := NewRegistry()
	reg.Add(NewBarometer("barometer", nil, PublishPolicy{}))
	reg.Add(NewRainGauge("rain", nil, PublishPolicy{}))
	all := reg.All()
	if len(all) != 2 || all[0].ID() != "barometer" || all[1].ID() != "rain" {
		t.Fatalf("unexpected order: %+v", all)
	}
	if _, ok := reg.Get("rain"); !ok {
		t.Fatalf("expected to find rain instrument")
	}
}
