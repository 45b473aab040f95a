package protocol

import "testing"

func sampleBulletin() []byte {
	// roof=0 aux=7 volts=128(12.8V) rain=000 cloud=045 abs=10132
	// cal=10130 pluvlevel=012 pluvaccum=00456 pyrano=078 photo=01234
	// temp=215(21.5C) hum=060 dew=120(12.0C) wind=045(4.5) wind10=012 winddeg=180
	return []byte("(0)(7)(128)(000)(045)(10132)(10130)(012)(00456)(078)(01234)(215)(060)(120)(045)(012)(180)")
}

func TestDecodeWellFormedBulletin(t *testing.T) {
	var d Decoder
	r, err := d.Decode(sampleBulletin())
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if r.RoofRelay != '0' || r.AuxRelay != '7' {
		t.Fatalf("unexpected relay codes: %+v", r)
	}
	if r.Volts != 12.8 {
		t.Fatalf("unexpected volts: %v", r.Volts)
	}
	if r.PluvAccum != 456 {
		t.Fatalf("unexpected pluv accum: %v", r.PluvAccum)
	}
	if d.DesyncDetected() {
		t.Fatalf("should not be desynced after a good frame")
	}
}

func TestDecodeIdempotentReplay(t *testing.T) {
	var d Decoder
	frame := sampleBulletin()
	first, err := d.Decode(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := d.Decode(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("replaying the same bulletin produced different readings: %+v vs %+v", first, second)
	}
}

func TestDecodeMalformedIncrementsDesync(t *testing.T) {
	var d Decoder
	bad := []byte("(not a bulletin)")
	for i := 0; i < DesyncThreshold-1; i++ {
		if _, err := d.Decode(bad); err == nil {
			t.Fatalf("expected decode error for malformed frame")
		}
		if d.DesyncDetected() {
			t.Fatalf("desync should not trip before threshold, iteration %d", i)
		}
	}
	if _, err := d.Decode(bad); err == nil {
		t.Fatalf("expected decode error for malformed frame")
	}
	if !d.DesyncDetected() {
		t.Fatalf("expected desync after %d consecutive failures", DesyncThreshold)
	}
}

func TestFramerEmitsCompleteFrames(t *testing.T) {
	var got [][]byte
	f := NewFramer(nil, func(frame []byte) {
		cp := make([]byte, len(frame))
		copy(cp, frame)
		got = append(got, cp)
	})
	f.Feed([]byte("(s)\r\n(X00"))
	f.Feed([]byte("7)\r\n"))
	if len(got) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(got))
	}
	if string(got[0]) != "(s)" || string(got[1]) != "(X007)" {
		t.Fatalf("unexpected frames: %q %q", got[0], got[1])
	}
}

func TestIsBulletinRecognizesFixedShape(t *testing.T) {
	if !IsBulletin(sampleBulletin()) {
		t.Fatalf("expected sample bulletin to match fixed shape")
	}
	if IsBulletin([]byte("(X007)")) {
		t.Fatalf("command echo should not be recognized as a bulletin")
	}
}
