package serialio

import (
	"io"
	"net"
	"testing"
	"time"
)

// loopback returns two connected in-memory net.Conns for test use,
// standing in for the serial port the way comm_test.go loops back TCP.
func loopback() (io.ReadWriteCloser, io.ReadWriteCloser) {
	a, b := net.Pipe()
	return a, b
}

func TestWritePaceEnforced(t *testing.T) {
	local, remote := loopback()
	defer remote.Close()

	ch := NewWithDialer(nil, func(frame []byte) {}, func() (io.ReadWriteCloser, error) {
		return local, nil
	})
	if err := ch.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer ch.Close()

	go func() {
		buf := make([]byte, 64)
		for {
			if _, err := remote.Read(buf); err != nil {
				return
			}
		}
	}()

	start := time.Now()
	if err := ch.Write("(X007)"); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := ch.Write("(X000)"); err != nil {
		t.Fatalf("second write: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < WritePace-50*time.Millisecond {
		t.Fatalf("expected >= ~%v between writes, got %v", WritePace, elapsed)
	}
}

func TestReadLoopFeedsFramer(t *testing.T) {
	local, remote := loopback()
	defer remote.Close()

	frames := make(chan []byte, 4)
	ch := NewWithDialer(nil, func(frame []byte) {
		cp := make([]byte, len(frame))
		copy(cp, frame)
		frames <- cp
	}, func() (io.ReadWriteCloser, error) {
		return local, nil
	})
	if err := ch.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer ch.Close()

	go remote.Write([]byte("(s)\r\n"))

	select {
	case f := <-frames:
		if string(f) != "(s)" {
			t.Fatalf("unexpected frame: %q", f)
		}
	case <-time.After(time.Second):
		t.Fatal("frame not delivered")
	}
}
