// Command ema-gatewayd is the gateway daemon: it owns the serial
// connection to the device, decodes its status stream, keeps the ten
// virtual instruments current, reconciles their device-side parameters
// at startup, and serves the results over MQTT, HTML, and a UDP
// companion-CLI passthrough. Its subcommand shape mirrors the teacher's
// cmd/multiserver entrypoint.
package main

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"gopkg.in/yaml.v2"

	"github.com/nasa-jpl/ema-gateway/internal/command"
	"github.com/nasa-jpl/ema-gateway/internal/config"
	"github.com/nasa-jpl/ema-gateway/internal/htmlsrv"
	"github.com/nasa-jpl/ema-gateway/internal/instrument"
	"github.com/nasa-jpl/ema-gateway/internal/launch"
	"github.com/nasa-jpl/ema-gateway/internal/protocol"
	"github.com/nasa-jpl/ema-gateway/internal/publish"
	"github.com/nasa-jpl/ema-gateway/internal/scheduler"
	"github.com/nasa-jpl/ema-gateway/internal/serialio"
	"github.com/nasa-jpl/ema-gateway/internal/sync"
	"github.com/nasa-jpl/ema-gateway/internal/tod"
	"github.com/nasa-jpl/ema-gateway/internal/udpproxy"
)

// Version is injected via ldflags at build time.
var Version = "dev"

// ConfigFileName is the INI file read by run. mkconf does not write it.
const ConfigFileName = "ema-gatewayd.ini"

func root() {
	str := `ema-gatewayd talks to the Environmental Monitoring Assembly over a
serial line and exposes its ten virtual instruments over MQTT, HTML,
and a UDP companion-CLI passthrough.

Usage:
	ema-gatewayd <command>

Commands:
	run
	help
	mkconf
	version`
	fmt.Println(str)
}

func help() {
	str := `ema-gatewayd is configured via an INI file (default ` + ConfigFileName + `).
mkconf writes a YAML mirror of the default configuration to stdout; it is
a human-editable export, not the file run() reads, which stays INI.`
	fmt.Println(str)
}

// mkconf dumps the default configuration as YAML, the way cmd/multiserver
// mirrors its structured config through go-yaml for human inspection,
// except here the INI file stays the configuration of record and YAML is
// strictly an export format (spec §9 domain stack).
func mkconf() {
	cfg := config.Default()
	if err := yaml.NewEncoder(os.Stdout).Encode(cfg); err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("ema-gatewayd version %v\n", Version)
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	switch strings.ToLower(args[1]) {
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "version":
		pversion()
	case "run":
		run()
	default:
		log.Fatal("unknown command")
	}
}

func run() {
	cfg, err := config.Load(ConfigFileName)
	if err != nil {
		log.Fatalf("loading %s: %v", ConfigFileName, err)
	}
	logger := log.New(os.Stderr, "", log.LstdFlags)

	banner := color.New(color.FgGreen, color.Bold)
	banner.Printf("ema-gatewayd %s starting, channel=%s port=%s\n", Version, cfg.MQTT.Channel, cfg.Serial.Port)

	reg, err := instrument.BuildRegistry(cfg)
	if err != nil {
		log.Fatalf("building instrument registry: %v", err)
	}

	windows, err := buildWindows(cfg.TODIntervals)
	if err != nil {
		log.Fatalf("building time-of-day windows: %v", err)
	}

	var mqttPub *publish.MQTTPublisher
	if cfg.MQTT.BrokerURL != "" {
		mqttPub, err = publish.NewMQTTPublisher(cfg.MQTT.BrokerURL, cfg.MQTT.ClientID, cfg.MQTT.Channel, logger)
		if err != nil {
			log.Fatalf("connecting to broker: %v", err)
		}
		defer mqttPub.Close()
	}
	htmlSink := publish.NewHTMLSink()

	roofLauncher := launch.New(cfg.RoofScript, logger)
	lowVoltLauncher := launch.New(config.ScriptConfig{Path: cfg.LowVoltScript, Mode: cfg.LowVoltMode}, logger)

	decoder := &protocol.Decoder{ChecksumEnabled: cfg.Serial.EMAChecksum}
	prevRoofRelay := byte(0)

	var engine *command.Engine
	ch, err := serialio.New(serialio.Config{Port: cfg.Serial.Port, Baud: cfg.Serial.Baud}, logger, func(frame []byte) {
		engine.OnFrame(frame)
	})
	if err != nil {
		log.Fatalf("opening serial port: %v", err)
	}
	if err := ch.Open(); err != nil {
		log.Fatalf("connecting to device: %v", err)
	}
	defer ch.Close()

	engine = command.NewEngine(ch, cfg.Command.MaxInflight, logger)
	engine.Unmatched = func(frame []byte) {
		handleBulletin(frame, decoder, ch, reg, &prevRoofRelay, roofLauncher, logger)
	}

	if cfg.Sync {
		syncEngine := sync.New(engine, logger)
		if err := syncEngine.Sync(reg); err != nil {
			logger.Printf("WARNING: startup sync reported failures: %v", err)
		}
	}

	if mqttPub != nil {
		mqttPub.PublishRegister(registerPayload(cfg.MQTT.Channel, reg))
	}

	clock := scheduler.ClockSource{
		HostHasRTC:        hostHasRTC,
		InternetReachable: internetReachable,
	}
	sched := scheduler.New(cfg.Scheduler, cfg.AuxRelayMode, cfg.VoltTime, engine, reg, windows, mqttPub, htmlSink, lowVoltLauncher, clock, cfg.MQTT.Channel, logger)
	stop := make(chan struct{})
	go sched.Run(stop)
	defer close(stop)

	proxy, err := udpproxy.New(engine, cfg.UDP.RxPort, cfg.UDP.TxPort, cfg.UDP.MulticastAddr, logger)
	if err != nil {
		log.Fatalf("starting UDP proxy: %v", err)
	}
	defer proxy.Close()
	go proxy.Run()

	router := htmlsrv.New(reg, htmlSink)
	logger.Printf("serving HTTP diagnostics on :8080")
	log.Fatal(http.ListenAndServe(":8080", router))
}

// buildWindows converts the configured TOD intervals into a tod.Windows,
// defaulting to a single all-day window when none are configured so the
// daemon can still run with aux-relay auto mode disabled in practice.
func buildWindows(cfgIntervals []config.IntervalConfig) (*tod.Windows, error) {
	if len(cfgIntervals) == 0 {
		cfgIntervals = []config.IntervalConfig{{Start: "00:00", End: "23:59"}}
	}
	intervals := make([]tod.Interval, 0, len(cfgIntervals))
	for _, iv := range cfgIntervals {
		parsed, err := tod.ParseInterval(fmt.Sprintf("%s-%s", iv.Start, iv.End))
		if err != nil {
			return nil, err
		}
		intervals = append(intervals, parsed)
	}
	return tod.New(intervals)
}

// handleBulletin is wired as the Command Engine's Unmatched callback: any
// frame no in-flight command claims is the unsolicited status stream
// (spec §4.3). It decodes the bulletin, fans the reading out to every
// instrument, and launches the roof-relay notification script on a
// relay-code transition, the concern this session moved out of the
// Scheduler since it is bulletin-driven rather than periodic.
func handleBulletin(frame []byte, decoder *protocol.Decoder, ch *serialio.Channel, reg *instrument.Registry, prevRoofRelay *byte, roofLauncher *launch.Launcher, logger *log.Logger) {
	reading, err := decoder.Decode(frame)
	if err != nil {
		if decoder.DesyncDetected() {
			logger.Printf("ERROR: persistent status decode desync, resetting framer")
			ch.ResetFramer()
			decoder.ResetDesync()
		}
		return
	}
	for _, inst := range reg.All() {
		inst.Update(reading)
	}
	if *prevRoofRelay != 0 && reading.RoofRelay != *prevRoofRelay {
		roofLauncher.Launch(launch.RoofArgv(reading.RoofRelay, "device reported relay transition")...)
	}
	*prevRoofRelay = reading.RoofRelay
}

// registerPayload describes every instrument's parameter inventory for
// the one-time EMA/register broker publish (spec §6).
func registerPayload(channel string, reg *instrument.Registry) publish.RegisterPayload {
	out := make([]publish.RegisteredInstrument, 0, len(reg.All()))
	for _, inst := range reg.All() {
		names := make([]string, 0, len(inst.Parameters()))
		for _, p := range inst.Parameters() {
			names = append(names, p.Name)
		}
		out = append(out, publish.RegisteredInstrument{ID: inst.ID(), Kind: string(inst.Kind()), Parameters: names})
	}
	return publish.RegisterPayload{
		Envelope:    publish.NewEnvelope(channel, time.Now()),
		Instruments: out,
	}
}

// hostHasRTC reports whether the host has a hardware real-time clock
// device, the first half of the RTC-master truth table (spec §4.8).
func hostHasRTC() bool {
	_, err := os.Stat("/dev/rtc0")
	return err == nil
}

// internetReachable reports whether the host can currently reach the
// public internet, the second half of the RTC-master truth table. A
// short-timeout TCP dial stands in for a real reachability probe.
func internetReachable() bool {
	conn, err := net.DialTimeout("tcp", "8.8.8.8:53", 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
