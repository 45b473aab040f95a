// Package udpproxy forwards datagrams from the companion CLI to the
// device as raw command requests and relays the response back (spec
// §6): the gateway does not interpret the companion CLI's command
// syntax, it only multiplexes the transport through the same Command
// Engine the serial-attached status stream uses, so a companion-CLI
// request and a scheduled duty can never race for the wire.
package udpproxy

import (
	"log"
	"net"
	"regexp"

	"github.com/nasa-jpl/ema-gateway/internal/command"
)

// anyFrame matches any non-empty response; the proxy forwards whatever
// the device sends back without interpreting it.
var anyFrame = regexp.MustCompile(`.+`)

// Proxy listens for companion-CLI datagrams on one UDP port and relays
// replies to another, optionally also to a multicast group (spec §6:
// "responses to udp_tx_port, optional multicast").
type Proxy struct {
	cmds   *command.Engine
	conn   *net.UDPConn
	txAddr *net.UDPAddr
	mcast  *net.UDPAddr
	logger *log.Logger
}

// New binds the receive socket at rxPort. txPort is where responses are
// sent; multicastAddr, if non-empty, is an additional destination for
// every response.
func New(cmds *command.Engine, rxPort, txPort int, multicastAddr string, logger *log.Logger) (*Proxy, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: rxPort})
	if err != nil {
		return nil, err
	}
	p := &Proxy{
		cmds:   cmds,
		conn:   conn,
		txAddr: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: txPort},
		logger: logger,
	}
	if multicastAddr != "" {
		mcast, err := net.ResolveUDPAddr("udp", multicastAddr)
		if err != nil {
			conn.Close()
			return nil, err
		}
		p.mcast = mcast
	}
	return p, nil
}

// Run blocks, reading and forwarding datagrams until the socket closes.
func (p *Proxy) Run() {
	buf := make([]byte, 256)
	for {
		n, _, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		req := string(buf[:n])
		go p.forward(req)
	}
}

// forward submits req as a command through the shared Engine and, on a
// successful reply, relays it to the configured destinations. A timed
// out or failed command is logged and silently dropped; the companion
// CLI is expected to apply its own retry policy, per spec §6's
// out-of-scope note on the CLI's UI.
func (p *Proxy) forward(req string) {
	cmd := command.NewCommand("udp", req, []*regexp.Regexp{anyFrame}, 2, command.DefaultTimeout)
	ch, err := p.cmds.Submit(cmd)
	if err != nil {
		p.logf("WARNING: udpproxy: %v", err)
		return
	}
	res := <-ch
	if res.Err != nil {
		p.logf("WARNING: udpproxy: command failed for %q: %v", req, res.Err)
		return
	}
	p.relay(res.Responses[0])
}

func (p *Proxy) relay(frame []byte) {
	if _, err := p.conn.WriteToUDP(frame, p.txAddr); err != nil {
		p.logf("WARNING: udpproxy: writing to %s: %v", p.txAddr, err)
	}
	if p.mcast != nil {
		if _, err := p.conn.WriteToUDP(frame, p.mcast); err != nil {
			p.logf("WARNING: udpproxy: multicast write to %s: %v", p.mcast, err)
		}
	}
}

func (p *Proxy) logf(format string, args ...interface{}) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}

// Close releases the receive socket.
func (p *Proxy) Close() error {
	return p.conn.Close()
}
