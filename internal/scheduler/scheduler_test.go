package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/nasa-jpl/ema-gateway/internal/command"
	"github.com/nasa-jpl/ema-gateway/internal/config"
	"github.com/nasa-jpl/ema-gateway/internal/history"
)

func TestSelectRTCMaster(t *testing.T) {
	cases := []struct {
		hostRTC, internet bool
		want              RTCMaster
	}{
		{true, true, HostIsMaster},
		{true, false, HostIsMaster},
		{false, true, HostIsMaster},
		{false, false, DeviceIsMaster},
	}
	for _, c := range cases {
		got := SelectRTCMaster(c.hostRTC, c.internet)
		if got != c.want {
			t.Errorf("SelectRTCMaster(%v, %v) = %v, want %v", c.hostRTC, c.internet, got, c.want)
		}
	}
}

// blockingResponder records writes and never produces a reply, so any
// command submitted through it stays Inflight until the test times it
// out or completes it manually.
type blockingResponder struct {
	mu     sync.Mutex
	writes int
}

func (b *blockingResponder) Write(request string) error {
	b.mu.Lock()
	b.writes++
	b.mu.Unlock()
	return nil
}

func (b *blockingResponder) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

func newTestScheduler(resp *blockingResponder) *Scheduler {
	eng := command.NewEngine(resp, 4, nil)
	return &Scheduler{
		cmds: eng,
		cfg: config.SchedulerConfig{
			UploadPeriod:      time.Hour,
			WatchdogKeepalive: time.Hour,
			RTCCheckPeriod:    time.Hour,
			TODEvalPeriod:     time.Hour,
		},
		clock: ClockSource{
			HostHasRTC:        func() bool { return true },
			InternetReachable: func() bool { return true },
			Now:               time.Now,
		},
		setHostClock: func(time.Time) error { return nil },
	}
}

func TestTickSkipsWatchdogWhilePending(t *testing.T) {
	resp := &blockingResponder{}
	s := newTestScheduler(resp)

	now := time.Unix(0, 0)
	s.lastUpload = now
	s.lastTODEval = now
	s.lastRTCCheck = now
	s.doWatchdog()
	if !s.watchdogPending {
		t.Fatal("expected watchdogPending after first submit")
	}

	before := resp.count()
	s.lastWatchdog = now
	s.Tick(now)
	if resp.count() != before {
		t.Errorf("expected no additional watchdog write while pending, got %d new writes", resp.count()-before)
	}
}

func TestTickFiresWatchdogAfterPeriodElapses(t *testing.T) {
	resp := &blockingResponder{}
	s := newTestScheduler(resp)

	now := time.Unix(0, 0)
	s.lastUpload = now
	s.lastTODEval = now
	s.lastRTCCheck = now
	s.lastWatchdog = now.Add(-2 * time.Hour)

	s.Tick(now)
	if resp.count() != 1 {
		t.Fatalf("expected watchdog ping to fire once, got %d writes", resp.count())
	}
	if !s.watchdogPending {
		t.Error("expected watchdogPending to be set after firing")
	}
}

func TestParseDeviceTimeAnchorsToRefYearAndMonth(t *testing.T) {
	ref := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	got, err := parseDeviceTime([]byte("(Y011430)"), ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 8, 1, 14, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("parseDeviceTime = %v, want %v", got, want)
	}
}

func TestParseDeviceTimeRejectsMalformed(t *testing.T) {
	if _, err := parseDeviceTime([]byte("(Ybogus)"), time.Now()); err == nil {
		t.Fatal("expected error for malformed device time response")
	}
}

func TestDoRTCCheckSetsHostClockWhenDeviceIsMaster(t *testing.T) {
	resp := &echoRTCResponder{reply: "(Y011430)"}
	eng := command.NewEngine(resp, 4, nil)
	resp.engine = eng
	eng.Unmatched = func([]byte) {}

	var gotTime time.Time
	applied := make(chan struct{})
	s := &Scheduler{
		cmds: eng,
		cfg:  config.SchedulerConfig{RTCCheckPeriod: time.Hour},
		clock: ClockSource{
			HostHasRTC:        func() bool { return false },
			InternetReachable: func() bool { return false },
			Now:               func() time.Time { return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC) },
		},
		setHostClock: func(t time.Time) error {
			gotTime = t
			close(applied)
			return nil
		},
	}

	s.doRTCCheck(time.Date(2026, 8, 1, 14, 30, 0, 0, time.UTC))
	select {
	case <-applied:
	case <-time.After(2 * time.Second):
		t.Fatal("setHostClock was never called")
	}
	want := time.Date(2026, 8, 1, 14, 30, 0, 0, time.UTC)
	if !gotTime.Equal(want) {
		t.Errorf("setHostClock called with %v, want %v", gotTime, want)
	}
}

// echoRTCResponder replies to whatever request it receives with a fixed
// device-time frame, mimicking the device's "(Y)" reply.
type echoRTCResponder struct {
	reply  string
	engine *command.Engine
}

func (r *echoRTCResponder) Write(request string) error {
	go r.engine.OnFrame([]byte(r.reply))
	return nil
}

func TestFireAuxRelayNeverModeSuppressesAllCommands(t *testing.T) {
	resp := &blockingResponder{}
	s := newTestScheduler(resp)
	s.auxMode = config.AuxNever

	s.fireAuxRelay(true)
	s.fireAuxRelay(false)
	if resp.count() != 0 {
		t.Fatalf("expected no relay commands under AuxNever, got %d", resp.count())
	}
}

func TestFireAuxRelayOnceModeFiresOnAtMostOnceAndNeverOff(t *testing.T) {
	resp := &blockingResponder{}
	s := newTestScheduler(resp)
	s.auxMode = config.AuxOnce

	s.fireAuxRelay(true)
	s.fireAuxRelay(true)
	s.fireAuxRelay(false)
	if resp.count() != 1 {
		t.Fatalf("expected exactly 1 relay command under AuxOnce, got %d", resp.count())
	}
}

func TestFireAuxRelayTimedModeFiresOnEveryTransition(t *testing.T) {
	resp := &blockingResponder{}
	s := newTestScheduler(resp)
	s.auxMode = config.AuxTimed

	s.fireAuxRelay(true)
	s.fireAuxRelay(false)
	if resp.count() != 2 {
		t.Fatalf("expected 2 relay commands under AuxTimed, got %d", resp.count())
	}
}

func TestParseHistoricMinmax(t *testing.T) {
	pairs, err := parseHistoricMinmax([]byte("(Mvoltmeter:12.5,11.8;13.0,12.1)"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("got %d pairs, want 2", len(pairs))
	}
	if pairs[0].Max != 12.5 || pairs[0].Min != 11.8 {
		t.Errorf("unexpected first pair: %+v", pairs[0])
	}
	if pairs[1].Max != 13.0 || pairs[1].Min != 12.1 {
		t.Errorf("unexpected second pair: %+v", pairs[1])
	}
}

func TestParseHistoricMinmaxRejectsMalformed(t *testing.T) {
	if _, err := parseHistoricMinmax([]byte("(Mvoltmeter:bogus)")); err == nil {
		t.Fatal("expected error for malformed minmax tuple")
	}
	if _, err := parseHistoricMinmax([]byte("(novel)")); err == nil {
		t.Fatal("expected error for missing tag")
	}
}

func TestParseHistoricAverage(t *testing.T) {
	avgs, err := parseHistoricAverage([]byte("(Avoltmeter:12.40,12.35,12.60)"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []float64{12.40, 12.35, 12.60}
	if len(avgs) != len(want) {
		t.Fatalf("got %d averages, want %d", len(avgs), len(want))
	}
	for i := range want {
		if avgs[i] != want[i] {
			t.Errorf("avgs[%d] = %v, want %v", i, avgs[i], want[i])
		}
	}
}

func TestRequestHistoricMinmaxAppendsAndPublishes(t *testing.T) {
	resp := &echoRTCResponder{reply: "(Mvoltmeter:12.5,11.8)"}
	eng := command.NewEngine(resp, 4, nil)
	eng.Unmatched = func([]byte) {}
	resp.engine = eng

	s := &Scheduler{cmds: eng, clock: ClockSource{Now: time.Now}}
	buf := history.NewBuffer()

	s.requestHistoricMinmax("voltmeter", buf)
	// requestHistoricMinmax returns once the request is submitted; its
	// completion goroutine runs asynchronously on the response.
	time.Sleep(50 * time.Millisecond)

	got := buf.Minmax()
	if len(got) != 1 || got[0].Max != 12.5 || got[0].Min != 11.8 {
		t.Fatalf("expected buffer to contain the parsed pair, got %+v", got)
	}
}
