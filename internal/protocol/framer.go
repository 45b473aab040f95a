package protocol

import (
	"bytes"
	"log"
	"regexp"
)

// MaxFrameSize caps the line buffer held by the Framer. A frame that has
// not terminated with CR-LF by the time this many bytes have accumulated
// is flushed and logged rather than held forever.
const MaxFrameSize = 4096

// bulletinPattern recognizes the fixed-width, 17-field status bulletin.
// It requires the exact digit count of every field as well as the
// overall parenthesized envelope, matching the "fixed shape beginning
// with '('" description in the wire protocol.
var bulletinPattern = regexp.MustCompile(
	`^\([0-9]\)\([0-9]\)\(\d{3}\)\(\d{3}\)\(\d{3}\)\(\d{5}\)\(\d{5}\)\(\d{3}\)\(\d{5}\)\(\d{3}\)\(\d{5}\)\(\d{3}\)\(\d{3}\)\(\d{3}\)\(\d{3}\)\(\d{3}\)\(\d{3}\)$`,
)

// IsBulletin reports whether frame has the fixed shape of an unsolicited
// status bulletin, as opposed to a command response.
func IsBulletin(frame []byte) bool {
	return bulletinPattern.Match(frame)
}

// Framer splits an inbound byte stream into complete, CR-LF-terminated
// ASCII frames. It is not safe for concurrent use; callers own a single
// Framer per serial channel.
type Framer struct {
	buf     bytes.Buffer
	Logger  *log.Logger
	onFrame func(frame []byte)
}

// NewFramer creates a Framer that invokes onFrame for each complete line
// it recognizes in fed bytes.
func NewFramer(logger *log.Logger, onFrame func(frame []byte)) *Framer {
	return &Framer{Logger: logger, onFrame: onFrame}
}

// Feed appends newly read bytes to the internal buffer and emits every
// complete CR-LF-terminated frame found within it, in arrival order.
func (f *Framer) Feed(b []byte) {
	f.buf.Write(b)
	for {
		data := f.buf.Bytes()
		idx := bytes.Index(data, []byte("\r\n"))
		if idx < 0 {
			break
		}
		frame := make([]byte, idx)
		copy(frame, data[:idx])
		f.buf.Next(idx + 2)
		f.onFrame(frame)
	}
	if f.buf.Len() > MaxFrameSize {
		if f.Logger != nil {
			f.Logger.Printf("oversize frame: discarding %d buffered bytes with no terminator", f.buf.Len())
		}
		f.buf.Reset()
	}
}

// Reset discards any partially buffered frame. Used after a persistent
// desync is detected (N consecutive decode failures).
func (f *Framer) Reset() {
	f.buf.Reset()
}
