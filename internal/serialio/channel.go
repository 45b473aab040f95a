// Package serialio provides the full-duplex byte transport to the
// device: a read loop that feeds a protocol.Framer, and a paced write
// queue that respects the device's 1-second minimum inter-write spacing.
package serialio

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/tarm/serial"
	"golang.org/x/time/rate"

	"github.com/nasa-jpl/ema-gateway/internal/protocol"
)

// WritePace is the minimum interval the device tolerates between two
// successive writes (spec §4.1).
const WritePace = 1 * time.Second

// SupportedBauds enumerates the baud rates the device firmware accepts.
var SupportedBauds = [2]int{9600, 57600}

// ErrUnsupportedBaud is returned by Open when Config.Baud is not one of
// SupportedBauds.
var ErrUnsupportedBaud = errors.New("serialio: unsupported baud rate")

// Config describes how to open the serial port.
type Config struct {
	Port string
	Baud int
}

func (c Config) valid() bool {
	for _, b := range SupportedBauds {
		if c.Baud == b {
			return true
		}
	}
	return false
}

// Channel is the sole writer of, and sole reader from, the serial device.
// Inbound bytes are fed to a protocol.Framer; outbound writes are
// serialized through a limiter so that no two writes land closer than
// WritePace apart.
type Channel struct {
	cfg     Config
	conn    io.ReadWriteCloser
	dial    func() (io.ReadWriteCloser, error)
	limiter *rate.Limiter
	framer  *protocol.Framer
	logger  *log.Logger

	writeMu sync.Mutex
	closeCh chan struct{}
}

// New creates a Channel that will dispatch complete frames to onFrame.
// Open must be called before reads or writes can occur.
func New(cfg Config, logger *log.Logger, onFrame func(frame []byte)) (*Channel, error) {
	if !cfg.valid() {
		return nil, ErrUnsupportedBaud
	}
	return newChannel(cfg, logger, onFrame, func() (io.ReadWriteCloser, error) {
		return serial.OpenPort(&serial.Config{Name: cfg.Port, Baud: cfg.Baud})
	})
}

// NewWithDialer builds a Channel around an arbitrary io.ReadWriteCloser
// factory, bypassing the real serial port. Used by tests.
func NewWithDialer(logger *log.Logger, onFrame func(frame []byte), dial func() (io.ReadWriteCloser, error)) *Channel {
	return newChannel(Config{}, logger, onFrame, dial)
}

func newChannel(cfg Config, logger *log.Logger, onFrame func(frame []byte), dial func() (io.ReadWriteCloser, error)) *Channel {
	return &Channel{
		cfg:     cfg,
		dial:    dial,
		limiter: rate.NewLimiter(rate.Every(WritePace), 1),
		framer:  protocol.NewFramer(logger, onFrame),
		logger:  logger,
		closeCh: make(chan struct{}),
	}
}

// Open establishes the serial connection, retrying with exponential
// backoff the way comm.RemoteDevice.Open does in the teacher package,
// since the device does not tolerate rapid connection thrashing.
func (c *Channel) Open() error {
	op := func() error {
		conn, err := c.dial()
		if err != nil {
			return err
		}
		c.conn = conn
		return nil
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock,
	})
	if err != nil {
		return errors.Wrapf(err, "opening serial port %s", c.cfg.Port)
	}
	go c.readLoop()
	return nil
}

// Close releases the serial port and stops the read loop.
func (c *Channel) Close() error {
	close(c.closeCh)
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Channel) readLoop() {
	buf := make([]byte, 512)
	for {
		select {
		case <-c.closeCh:
			return
		default:
		}
		n, err := c.conn.Read(buf)
		if err != nil {
			if c.logger != nil {
				c.logger.Printf("serialio: read error: %v", err)
			}
			return
		}
		if n > 0 {
			c.framer.Feed(buf[:n])
		}
	}
}

// Write enqueues a request for transmission, appending the CR-LF
// terminator, and blocks until the write-pace limiter admits it. This
// is the single chokepoint through which every Command request and
// retry passes, guaranteeing the 1-second spacing invariant (spec §8.3)
// regardless of how many callers are writing concurrently.
func (c *Channel) Write(request string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.limiter.Wait(context.Background()); err != nil {
		return err
	}
	_, err := c.conn.Write([]byte(request + "\r\n"))
	return err
}

// ResetFramer discards any partially buffered frame, used after a
// persistent desync is detected upstream.
func (c *Channel) ResetFramer() {
	c.framer.Reset()
}
