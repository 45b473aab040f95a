// Package scheduler drives the gateway's periodic duties from a single
// 1-second cooperative tick: upload aggregation, watchdog keep-alive,
// RTC check, historic pulls, and time-of-day evaluation (spec §4.7).
// Duty handlers are non-blocking: they submit commands through the
// command.Engine and return; completion is handled by a goroutine
// reading the command's result channel, matching the reactor model in
// spec §5 where computation between suspension points is bounded.
package scheduler

import (
	"fmt"
	"log"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nasa-jpl/ema-gateway/internal/command"
	"github.com/nasa-jpl/ema-gateway/internal/config"
	"github.com/nasa-jpl/ema-gateway/internal/history"
	"github.com/nasa-jpl/ema-gateway/internal/instrument"
	"github.com/nasa-jpl/ema-gateway/internal/launch"
	"github.com/nasa-jpl/ema-gateway/internal/publish"
	"github.com/nasa-jpl/ema-gateway/internal/tod"
)

// ClockSource reports the two facts the RTC-master truth table needs.
// Production wiring checks for a local RTC device file and pings a
// well-known host; tests inject canned answers.
type ClockSource struct {
	HostHasRTC        func() bool
	InternetReachable func() bool
	Now               func() time.Time
}

// Scheduler coordinates all periodic duties. It owns no instrument or
// command state directly; it orchestrates the Command Engine and
// Instrument Registry that were constructed at startup.
type Scheduler struct {
	cfg      config.SchedulerConfig
	voltTime time.Duration
	auxMode  config.AuxRelayMode
	cmds     *command.Engine
	reg      *instrument.Registry
	tod      *tod.Windows
	mqtt     *publish.MQTTPublisher
	html     *publish.HTMLSink
	lowV     *launch.Launcher
	clock    ClockSource
	logger   *log.Logger

	// setHostClock applies a device-reported time to the host system
	// clock (spec §4.8's "set host from device" branch). Overridable for
	// tests; defaults to setSystemClock.
	setHostClock func(t time.Time) error

	channel string
	history map[string]*history.Buffer

	lastUpload    time.Time
	lastWatchdog  time.Time
	lastRTCCheck  time.Time
	lastTODEval   time.Time
	lastVoltCheck time.Time

	watchdogPending bool
	rtcPending      bool
	auxEverFired    bool
}

// New builds a Scheduler. channel is the EMA broker channel name used
// for topic construction.
func New(
	cfg config.SchedulerConfig,
	auxMode config.AuxRelayMode,
	voltTime time.Duration,
	cmds *command.Engine,
	reg *instrument.Registry,
	windows *tod.Windows,
	mqtt *publish.MQTTPublisher,
	html *publish.HTMLSink,
	lowVoltLauncher *launch.Launcher,
	clock ClockSource,
	channel string,
	logger *log.Logger,
) *Scheduler {
	if clock.Now == nil {
		clock.Now = time.Now
	}
	if voltTime <= 0 {
		voltTime = 30 * time.Second
	}
	hist := make(map[string]*history.Buffer)
	for _, inst := range reg.All() {
		hist[inst.ID()] = history.NewBuffer()
	}
	return &Scheduler{
		cfg:          cfg,
		voltTime:     voltTime,
		auxMode:      auxMode,
		cmds:         cmds,
		reg:          reg,
		tod:          windows,
		mqtt:         mqtt,
		html:         html,
		lowV:         lowVoltLauncher,
		clock:        clock,
		channel:      channel,
		logger:       logger,
		history:      hist,
		setHostClock: setSystemClock,
	}
}

// Run blocks, ticking every second until stop is closed.
func (s *Scheduler) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			s.Tick(now)
		case <-stop:
			return
		}
	}
}

// Tick evaluates every duty against now, firing any whose period has
// elapsed and whose previous invocation (if any) has already resolved.
func (s *Scheduler) Tick(now time.Time) {
	if s.lastUpload.IsZero() || now.Sub(s.lastUpload) >= s.cfg.UploadPeriod {
		s.lastUpload = now
		s.doUpload(now)
	}
	if !s.watchdogPending && (s.lastWatchdog.IsZero() || now.Sub(s.lastWatchdog) >= s.cfg.WatchdogKeepalive) {
		s.lastWatchdog = now
		s.doWatchdog()
	}
	if !s.rtcPending && (s.lastRTCCheck.IsZero() || now.Sub(s.lastRTCCheck) >= s.cfg.RTCCheckPeriod) {
		s.lastRTCCheck = now
		s.doRTCCheck(now)
	}
	if s.lastTODEval.IsZero() || now.Sub(s.lastTODEval) >= s.cfg.TODEvalPeriod {
		s.lastTODEval = now
		s.doTODEval(now)
	}
	if s.reg != nil {
		if v, ok := s.reg.ByKind(instrument.KindVoltmeter); ok {
			if vm, ok := v.(*instrument.Voltmeter); ok {
				s.doVoltCheck(now, vm)
			}
		}
	}
}

// doUpload snapshots every instrument and publishes the aggregate
// current/average state (spec §4.7 upload duty, §4.5 snapshot semantics).
func (s *Scheduler) doUpload(now time.Time) {
	if s.reg == nil {
		return
	}
	readings := make([]publish.InstrumentReading, 0, len(s.reg.All()))
	for _, inst := range s.reg.All() {
		snap := inst.Snapshot()
		r := publish.InstrumentReading{ID: inst.ID(), Current: snap.Current}
		if snap.HasAverage {
			r.Average = snap.Average
		}
		readings = append(readings, r)
	}
	state := publish.CurrentState{
		Envelope: publish.NewEnvelope(s.channel, now),
		Readings: readings,
	}
	if s.mqtt != nil {
		s.mqtt.PublishCurrentState(state)
	}
	if s.html != nil {
		s.html.PublishCurrentState(state)
	}
}

// doWatchdog sends the keep-alive ping. A failure is logged only; the
// watchdog is not alarm-worthy on its own (spec §4.7).
func (s *Scheduler) doWatchdog() {
	cmd := command.NewCommand("watchdog", "(r)", []*regexp.Regexp{regexp.MustCompile(`^\(r\)$`)}, 2, command.DefaultTimeout)
	ch, err := s.cmds.Submit(cmd)
	if err != nil {
		s.logf("WARNING: watchdog: %v", err)
		return
	}
	s.watchdogPending = true
	go func() {
		res := <-ch
		s.watchdogPending = false
		if res.Err != nil {
			s.logf("WARNING: watchdog keep-alive failed: %v", res.Err)
		}
	}()
}

// doRTCCheck determines the RTC master per spec §4.8 and issues the
// appropriate set-command so that afterwards the two clocks agree
// within RTCDelta. When the device is master, the completion handler
// parses the device's reported time out of the response and applies it
// to the host clock; the round trip has no effect on its own otherwise.
func (s *Scheduler) doRTCCheck(now time.Time) {
	master := SelectRTCMaster(s.clock.HostHasRTC(), s.clock.InternetReachable())
	var req string
	if master == HostIsMaster {
		req = "(y" + now.UTC().Format("021504") + ")"
	} else {
		req = "(Y)"
	}
	cmd := command.NewCommand("rtc-check", req, []*regexp.Regexp{regexp.MustCompile(`^\(y.*\)$|^\(Y.*\)$`)}, 2, command.DefaultTimeout)
	ch, err := s.cmds.Submit(cmd)
	if err != nil {
		s.logf("WARNING: rtc check: %v", err)
		return
	}
	s.rtcPending = true
	go func() {
		res := <-ch
		s.rtcPending = false
		if res.Err != nil {
			s.logf("WARNING: rtc check failed: %v", res.Err)
			return
		}
		if master == DeviceIsMaster {
			s.applyDeviceTime(res.Responses[0])
		}
	}()
}

// applyDeviceTime parses a "(Y<DDHHMM>)" response — the same DDHHMM
// encoding doRTCCheck writes in the host-is-master direction — and sets
// the host system clock to it, closing the loop spec §4.8 requires so
// that |host_time - device_time| <= RTCDelta afterwards.
func (s *Scheduler) applyDeviceTime(resp []byte) {
	t, err := parseDeviceTime(resp, s.clock.Now())
	if err != nil {
		s.logf("WARNING: rtc check: %v", err)
		return
	}
	if err := s.setHostClock(t); err != nil {
		s.logf("WARNING: rtc check: setting host clock: %v", err)
	}
}

// parseDeviceTime extracts day/hour/minute from a "(Y<DDHHMM>)" frame
// and anchors them to ref's year and month, since the wire encoding
// carries neither.
func parseDeviceTime(resp []byte, ref time.Time) (time.Time, error) {
	s := strings.TrimSuffix(strings.TrimPrefix(string(resp), "(Y"), ")")
	if len(s) != 6 {
		return time.Time{}, fmt.Errorf("scheduler: malformed device time response %q", resp)
	}
	day, err := strconv.Atoi(s[0:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduler: parsing device time day %q: %w", s[0:2], err)
	}
	hour, err := strconv.Atoi(s[2:4])
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduler: parsing device time hour %q: %w", s[2:4], err)
	}
	minute, err := strconv.Atoi(s[4:6])
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduler: parsing device time minute %q: %w", s[4:6], err)
	}
	ref = ref.UTC()
	return time.Date(ref.Year(), ref.Month(), day, hour, minute, 0, 0, time.UTC), nil
}

// setSystemClock is the production setHostClock implementation: it
// shells out to `date`, the same way launch.Launcher runs external
// scripts with os/exec, since setting the wall clock is a host-OS
// operation with no standard library entry point.
func setSystemClock(t time.Time) error {
	return exec.Command("date", "-u", "-s", t.Format("2006-01-02 15:04:05")).Run()
}

// doTODEval evaluates the time-of-day windows and drives the aux relay
// and historic pulls on transitions (spec §4.9).
func (s *Scheduler) doTODEval(now time.Time) {
	if s.tod == nil {
		return
	}
	transition, _ := s.tod.Evaluate(now)
	switch transition {
	case tod.BecameActive:
		s.fireAuxRelay(true)
		s.doUpload(now)
		s.pollHistoric()
	case tod.BecameInactive:
		s.fireAuxRelay(false)
	}
}

// fireAuxRelay issues the aux-relay on/off command, gated by the
// configured mode (spec §4.9): Never suppresses it entirely, Once fires
// the "on" command at most once (mirroring launch.ScriptOnce) and never
// schedules the paired "off", and Timed (the default) fires on every
// transition, matching the prior unconditional behavior.
func (s *Scheduler) fireAuxRelay(on bool) {
	switch s.auxMode {
	case config.AuxNever:
		return
	case config.AuxOnce:
		if !on || s.auxEverFired {
			return
		}
		s.auxEverFired = true
	}
	if on {
		s.submitFireAndForget("aux-on", "(S005)", `^\(S005\)$`)
	} else {
		s.submitFireAndForget("aux-off", "(S004)", `^\(S004\)$`)
	}
}

// doVoltCheck evaluates the voltmeter's sliding low-voltage window on
// its own VoltTime cadence, independent of the upload period.
func (s *Scheduler) doVoltCheck(now time.Time, vm *instrument.Voltmeter) {
	if s.lastVoltCheck.IsZero() || now.Sub(s.lastVoltCheck) >= s.voltTime {
		s.lastVoltCheck = now
		if ev, fired := vm.CheckLowVoltage(); fired {
			if s.mqtt != nil {
				s.mqtt.PublishEvent(publish.EventPayload{
					Envelope: publish.NewEnvelope(s.channel, now),
					Level:    "WARNING",
					Message:  ev.Message,
				})
			}
			if s.lowV != nil {
				avg := ev.Data["average"].(float64)
				thresh := ev.Data["threshold"].(float64)
				count := ev.Data["sample_count"].(int)
				s.lowV.Launch(launch.LowVoltageArgv(avg, thresh, count)...)
			}
		}
	}
}

// pollHistoric issues the 24-tuple minmax and 288-tuple average pulls
// for every instrument, once per active TOD window (spec §4.7), and on
// a successful reply appends the parsed samples into that instrument's
// history.Buffer and publishes the accumulated series to the broker
// (spec §6 `historic/minmax`/`historic/average` topics).
func (s *Scheduler) pollHistoric() {
	if s.reg == nil {
		return
	}
	for _, inst := range s.reg.All() {
		id := inst.ID()
		buf := s.history[id]
		if buf == nil {
			continue
		}
		s.requestHistoricMinmax(id, buf)
		s.requestHistoricAverage(id, buf)
	}
}

func (s *Scheduler) requestHistoricMinmax(id string, buf *history.Buffer) {
	name := "historic-minmax:" + id
	cmd := command.NewCommand(name, "(M"+id+")", []*regexp.Regexp{regexp.MustCompile(`^\(M.*\)$`)}, 2, command.DefaultTimeout)
	ch, err := s.cmds.Submit(cmd)
	if err != nil {
		s.logf("WARNING: %s: %v", name, err)
		return
	}
	go func() {
		res := <-ch
		if res.Err != nil {
			s.logf("WARNING: %s failed: %v", name, res.Err)
			return
		}
		pairs, err := parseHistoricMinmax(res.Responses[0])
		if err != nil {
			s.logf("WARNING: %s: %v", name, err)
			return
		}
		for _, p := range pairs {
			buf.AppendMinmax(p.Max, p.Min)
		}
		if s.mqtt != nil {
			s.mqtt.PublishHistoricMinmax(publish.HistoricMinmax{
				Envelope:     publish.NewEnvelope(s.channel, s.clock.Now()),
				InstrumentID: id,
				Points:       minmaxPoints(buf.Minmax()),
			})
		}
	}()
}

func (s *Scheduler) requestHistoricAverage(id string, buf *history.Buffer) {
	name := "historic-average:" + id
	cmd := command.NewCommand(name, "(A"+id+")", []*regexp.Regexp{regexp.MustCompile(`^\(A.*\)$`)}, 2, command.DefaultTimeout)
	ch, err := s.cmds.Submit(cmd)
	if err != nil {
		s.logf("WARNING: %s: %v", name, err)
		return
	}
	go func() {
		res := <-ch
		if res.Err != nil {
			s.logf("WARNING: %s failed: %v", name, res.Err)
			return
		}
		avgs, err := parseHistoricAverage(res.Responses[0])
		if err != nil {
			s.logf("WARNING: %s: %v", name, err)
			return
		}
		for _, a := range avgs {
			buf.AppendAverage(a)
		}
		if s.mqtt != nil {
			s.mqtt.PublishHistoricAverage(publish.HistoricAverage{
				Envelope:     publish.NewEnvelope(s.channel, s.clock.Now()),
				InstrumentID: id,
				Points:       averagePoints(buf.Averages()),
			})
		}
	}()
}

// parseHistoricMinmax parses a "(M<id>:max1,min1;max2,min2;...)" response
// into its (max, min) tuples.
func parseHistoricMinmax(resp []byte) ([]history.MinmaxPair, error) {
	body, err := historicBody(resp, 'M')
	if err != nil {
		return nil, err
	}
	var pairs []history.MinmaxPair
	for _, tuple := range strings.Split(body, ";") {
		if tuple == "" {
			continue
		}
		fields := strings.SplitN(tuple, ",", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("scheduler: malformed historic minmax tuple %q", tuple)
		}
		max, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("scheduler: parsing historic minmax max %q: %w", fields[0], err)
		}
		min, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("scheduler: parsing historic minmax min %q: %w", fields[1], err)
		}
		pairs = append(pairs, history.MinmaxPair{Max: max, Min: min})
	}
	return pairs, nil
}

// parseHistoricAverage parses a "(A<id>:avg1,avg2,...)" response into its
// average samples.
func parseHistoricAverage(resp []byte) ([]float64, error) {
	body, err := historicBody(resp, 'A')
	if err != nil {
		return nil, err
	}
	var out []float64
	for _, v := range strings.Split(body, ",") {
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("scheduler: parsing historic average %q: %w", v, err)
		}
		out = append(out, f)
	}
	return out, nil
}

// historicBody strips the "(<tag><id>:" prefix and trailing ")" common to
// both historic response shapes, returning the comma/semicolon-separated
// payload.
func historicBody(resp []byte, tag byte) (string, error) {
	s := strings.TrimPrefix(strings.TrimSuffix(string(resp), ")"), "(")
	if len(s) == 0 || s[0] != tag {
		return "", fmt.Errorf("scheduler: malformed historic response %q", resp)
	}
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return "", fmt.Errorf("scheduler: malformed historic response %q", resp)
	}
	return s[idx+1:], nil
}

func minmaxPoints(pairs []history.MinmaxPair) []publish.MinmaxPoint {
	out := make([]publish.MinmaxPoint, len(pairs))
	for i, p := range pairs {
		out[i] = publish.MinmaxPoint{Hour: i, Max: p.Max, Min: p.Min}
	}
	return out
}

func averagePoints(avgs []float64) []publish.AveragePoint {
	out := make([]publish.AveragePoint, len(avgs))
	for i, a := range avgs {
		out[i] = publish.AveragePoint{Slot: i, Average: a}
	}
	return out
}

func (s *Scheduler) submitFireAndForget(name, req, pattern string) {
	cmd := command.NewCommand(name, req, []*regexp.Regexp{regexp.MustCompile(pattern)}, 2, command.DefaultTimeout)
	ch, err := s.cmds.Submit(cmd)
	if err != nil {
		s.logf("WARNING: %s: %v", name, err)
		return
	}
	go func() {
		if res := <-ch; res.Err != nil {
			s.logf("WARNING: %s failed: %v", name, res.Err)
		}
	}()
}

func (s *Scheduler) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
