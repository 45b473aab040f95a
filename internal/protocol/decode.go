package protocol

import (
	"fmt"
	"strconv"
)

// DesyncThreshold is the number of consecutive bulletin decode failures
// that constitute a persistent protocol desync (spec §7): the Framer
// buffer is reset and an ERROR is logged, but the process continues.
const DesyncThreshold = 10

// field widths, in characters, matching the wire order of Reading.
type fieldSpec struct {
	width  int
	signed bool
}

var layout = []fieldSpec{
	{1, false}, // roof relay
	{1, false}, // aux relay
	{3, false}, // volts, tenths of a volt
	{3, false}, // rain %
	{3, false}, // cloud %
	{5, false}, // abs pressure
	{5, false}, // cal pressure
	{3, false}, // pluv level
	{5, false}, // pluv accum (int)
	{3, false}, // pyranometer %
	{5, false}, // photometer Hz
	{3, true},  // temp C
	{3, false}, // humidity %
	{3, true},  // dew point C
	{3, false}, // wind km/h
	{3, false}, // 10-min wind km/h (int)
	{3, false}, // wind orientation degrees
}

// Decoder parses a status bulletin into a Reading, tracking consecutive
// failures for persistent-desync detection.
type Decoder struct {
	// ChecksumEnabled mirrors the `ema_checksum` configuration flag for
	// field units running the checksummed wire variant (spec §3 domain
	// stack: snksoft/crc). When set, every frame is expected to carry a
	// trailing 4 hex digit CRC-16/XMODEM checksum, verified and stripped
	// before bulletin matching.
	ChecksumEnabled bool

	consecutiveFailures int
}

// DecodeError reports that a bulletin could not be parsed at all (it did
// not match the fixed shape). A single unparseable field maps to Missing
// instead of producing a DecodeError.
type DecodeError struct {
	Frame string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol: malformed status bulletin %q", e.Frame)
}

// Decode parses frame into a Reading. It returns a non-nil error, and
// increments the internal desync counter, only when frame is not shaped
// like a bulletin at all (or, with ChecksumEnabled, fails its checksum).
// No per-field range validation is performed: a field is mapped to
// Missing only when it does not parse as an integer, and any value that
// parses is kept as reported.
func (d *Decoder) Decode(frame []byte) (Reading, error) {
	if d.ChecksumEnabled {
		payload, err := VerifyChecksum(frame)
		if err != nil {
			d.consecutiveFailures++
			return Reading{}, &DecodeError{Frame: string(frame)}
		}
		frame = payload
	}
	if !IsBulletin(frame) {
		d.consecutiveFailures++
		return Reading{}, &DecodeError{Frame: string(frame)}
	}
	d.consecutiveFailures = 0

	fields := splitFields(frame)
	r := Reading{
		RoofRelay:   fields[0][0],
		AuxRelay:    fields[1][0],
		Volts:       parseScaled(fields[2], 10),
		RainPct:     parseScaled(fields[3], 10),
		CloudPct:    parseScaled(fields[4], 10),
		PressAbs:    parseScaled(fields[5], 10),
		PressCal:    parseScaled(fields[6], 10),
		PluvLevel:   parseScaled(fields[7], 10),
		PluvAccum:   parseInt(fields[8]),
		PyranoPct:   parseScaled(fields[9], 10),
		PhotoHz:     parseScaled(fields[10], 10),
		TempC:       parseScaled(fields[11], 10),
		HumidityPct: parseScaled(fields[12], 10),
		DewPointC:   parseScaled(fields[13], 10),
		WindKmh:     parseScaled(fields[14], 10),
		Wind10Kmh:   parseInt(fields[15]),
		WindDeg:     parseInt(fields[16]),
	}
	return r, nil
}

// DesyncDetected reports whether consecutive Decode failures have reached
// DesyncThreshold. The caller is responsible for resetting the Framer and
// this counter in response.
func (d *Decoder) DesyncDetected() bool {
	return d.consecutiveFailures >= DesyncThreshold
}

// ResetDesync clears the consecutive-failure counter, e.g. after the
// caller has reset the Framer buffer.
func (d *Decoder) ResetDesync() {
	d.consecutiveFailures = 0
}

// splitFields strips the parenthesized wrapper and returns the 17
// fixed-width field contents, each with its own parens removed.
func splitFields(frame []byte) []string {
	out := make([]string, 0, len(layout))
	s := string(frame)
	for range layout {
		open := indexByte(s, '(')
		close := indexByte(s, ')')
		out = append(out, s[open+1:close])
		s = s[close+1:]
	}
	return out
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// parseScaled converts a fixed-width digit string to a float, dividing by
// scale. An unparseable field becomes Missing rather than failing decode.
func parseScaled(field string, scale float64) float64 {
	n, err := strconv.Atoi(field)
	if err != nil {
		return Missing
	}
	return float64(n) / scale
}

func parseInt(field string) int {
	n, err := strconv.Atoi(field)
	if err != nil {
		return int(Missing)
	}
	return n
}
