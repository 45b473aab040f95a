// Command ema-ctl is the companion CLI: it sends a single raw request
// to a running ema-gatewayd's UDP passthrough and prints whatever comes
// back (spec §6). The gateway does not interpret this traffic, so
// ema-ctl is free to issue any request the device itself understands.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/theckman/yacspin"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9900", "gateway UDP passthrough address")
	listen := flag.String("listen", ":9901", "local address to receive the relayed response on")
	timeout := flag.Duration("timeout", 5*time.Second, "how long to wait for a response")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: ema-ctl [flags] <request>")
		os.Exit(2)
	}
	request := flag.Arg(0)

	spinner, err := newSpinner(fmt.Sprintf("waiting on %q", request))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ema-ctl: building spinner: %v\n", err)
		os.Exit(1)
	}

	response, err := roundTrip(*addr, *listen, request, *timeout, spinner)
	if err != nil {
		spinner.StopFailMessage(err.Error())
		spinner.StopFail()
		os.Exit(1)
	}
	spinner.StopMessage(response)
	spinner.Stop()
	fmt.Println(response)
}

func newSpinner(message string) (*yacspin.Spinner, error) {
	cfg := yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[9],
		Suffix:          " " + message,
		SuffixAutoColon: true,
		StopCharacter:   "✓",
		StopColors:      []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	}
	return yacspin.New(cfg)
}

// roundTrip sends request to the gateway's rx port, listens on listenAddr
// for the relayed reply, and returns it as a string.
func roundTrip(gatewayAddr, listenAddr, request string, timeout time.Duration, spinner *yacspin.Spinner) (string, error) {
	rx, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return "", fmt.Errorf("listening for response on %s: %w", listenAddr, err)
	}
	defer rx.Close()

	gw, err := net.ResolveUDPAddr("udp", gatewayAddr)
	if err != nil {
		return "", fmt.Errorf("resolving gateway address %s: %w", gatewayAddr, err)
	}

	if err := spinner.Start(); err != nil {
		return "", fmt.Errorf("starting spinner: %w", err)
	}

	if _, err := rx.WriteTo([]byte(request), gw); err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}

	rx.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 256)
	n, _, err := rx.ReadFrom(buf)
	if err != nil {
		return "", fmt.Errorf("no response within %s: %w", timeout, err)
	}
	return string(buf[:n]), nil
}
