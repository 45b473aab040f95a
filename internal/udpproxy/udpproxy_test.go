package udpproxy

import (
	"net"
	"testing"
	"time"

	"github.com/nasa-jpl/ema-gateway/internal/command"
)

// echoResponder answers every command with "echo:<request>", mimicking
// a device that immediately replies to whatever it's sent.
type echoResponder struct {
	engine *command.Engine
}

func (r *echoResponder) Write(request string) error {
	go r.engine.OnFrame([]byte("echo:" + request))
	return nil
}

func TestProxyForwardsAndRelays(t *testing.T) {
	txConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listening for relayed response: %v", err)
	}
	defer txConn.Close()
	txPort := txConn.LocalAddr().(*net.UDPAddr).Port

	resp := &echoResponder{}
	eng := command.NewEngine(resp, 4, nil)
	resp.engine = eng
	eng.Unmatched = func([]byte) {}

	p, err := New(eng, 0, txPort, "", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()
	go p.Run()

	rxPort := p.conn.LocalAddr().(*net.UDPAddr).Port
	cliConn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: rxPort})
	if err != nil {
		t.Fatalf("dialing proxy: %v", err)
	}
	defer cliConn.Close()
	if _, err := cliConn.Write([]byte("(r)")); err != nil {
		t.Fatalf("writing request: %v", err)
	}

	txConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, _, err := txConn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("did not receive relayed response: %v", err)
	}
	got := string(buf[:n])
	want := "echo:(r)"
	if got != want {
		t.Errorf("relayed = %q, want %q", got, want)
	}
}
