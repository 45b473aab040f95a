package protocol

import (
	"encoding/hex"
	"fmt"

	"github.com/snksoft/crc"
)

// checksumTable is the CRC table used to validate frames on vendor
// variants that append one, mirroring the telegram checksum in the
// teacher's nkt/telegram.go. The base EMA protocol carries no checksum
// byte; this is a hook for field units running the checksummed variant,
// selected by the `ema_checksum` configuration flag.
var checksumTable = crc.NewTable(crc.XMODEM)

// ErrChecksumMismatch is returned by VerifyChecksum when the trailing
// 4 hex digit checksum does not match the computed CRC of the payload
// that precedes it.
type ErrChecksumMismatch struct {
	Want, Got uint16
}

func (e *ErrChecksumMismatch) Error() string {
	return fmt.Sprintf("protocol: checksum mismatch: frame claims %04X, computed %04X", e.Want, e.Got)
}

// VerifyChecksum splits frame into its payload and a trailing 4 hex
// digit CRC-16/XMODEM checksum and reports whether the checksum
// matches. Frames shorter than 4 bytes cannot carry a checksum and are
// rejected outright.
func VerifyChecksum(frame []byte) (payload []byte, err error) {
	if len(frame) < 4 {
		return nil, fmt.Errorf("protocol: frame too short to carry a checksum")
	}
	split := len(frame) - 4
	payload, tail := frame[:split], frame[split:]

	raw, err := hex.DecodeString(string(tail))
	if err != nil || len(raw) != 2 {
		return nil, fmt.Errorf("protocol: malformed checksum suffix %q", tail)
	}
	want := uint16(raw[0])<<8 | uint16(raw[1])
	got := crc.CalculateCRC(checksumTable, payload)
	if uint16(got) != want {
		return nil, &ErrChecksumMismatch{Want: want, Got: uint16(got)}
	}
	return payload, nil
}
