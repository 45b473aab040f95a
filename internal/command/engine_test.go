package command

import (
	"regexp"
	"sync"
	"testing"
	"time"
)

type fakeResponder struct {
	mu    sync.Mutex
	sent  []string
	drop  int // number of leading writes whose response the test will never deliver
	count int
}

func (f *fakeResponder) Write(req string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	f.count++
	return nil
}

func (f *fakeResponder) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func TestSubmitCompletesInOrderMultiPatternCommand(t *testing.T) {
	r := &fakeResponder{}
	e := NewEngine(r, 4, nil)
	cmd := NewCommand("aux-status", "(s)", []*regexp.Regexp{
		regexp.MustCompile(`^\(S.\)$`),
		regexp.MustCompile(`^\(Son\d{4}\)$`),
		regexp.MustCompile(`^\(Sof\d{4}\)$`),
	}, 2, 4*time.Second)

	resCh, err := e.Submit(cmd)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// status bulletin interleaved mid-sequence must not match and must
	// fall through to Unmatched.
	var unmatched [][]byte
	e.Unmatched = func(f []byte) { unmatched = append(unmatched, f) }

	e.OnFrame([]byte("(S9)"))
	e.OnFrame([]byte("(0)(7)(128)(000)(045)(10132)(10130)(012)(00456)(078)(01234)(215)(060)(120)(045)(012)(180)"))
	e.OnFrame([]byte("(Son1200)"))
	e.OnFrame([]byte("(Sof2000)"))

	select {
	case res := <-resCh:
		if res.Err != nil {
			t.Fatalf("unexpected error: %v", res.Err)
		}
		if len(res.Responses) != 3 {
			t.Fatalf("expected 3 responses, got %d", len(res.Responses))
		}
	case <-time.After(time.Second):
		t.Fatal("command did not complete")
	}

	if len(unmatched) != 1 {
		t.Fatalf("expected exactly 1 unmatched (status bulletin) frame, got %d", len(unmatched))
	}
	if e.InflightCount() != 0 {
		t.Fatalf("expected command to be removed from inflight list")
	}
}

func TestRetryThenSucceed(t *testing.T) {
	r := &fakeResponder{}
	e := NewEngine(r, 4, nil)
	cmd := NewCommand("force-roof-open", "(X007)", []*regexp.Regexp{
		regexp.MustCompile(`^\(X007\)$`),
	}, 2, 200*time.Millisecond)

	resCh, err := e.Submit(cmd)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// first two attempts time out with no matching frame delivered; the
	// third attempt's echo is delivered.
	time.Sleep(450 * time.Millisecond)
	e.OnFrame([]byte("(X007)"))

	select {
	case res := <-resCh:
		if res.Err != nil {
			t.Fatalf("unexpected error: %v", res.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("command did not complete")
	}

	if cmd.Attempts() != 3 {
		t.Fatalf("expected 3 attempts (2 retries), got %d", cmd.Attempts())
	}
}

func TestFailedAfterExhaustingRetries(t *testing.T) {
	r := &fakeResponder{}
	e := NewEngine(r, 4, nil)
	cmd := NewCommand("watchdog", "(r)", []*regexp.Regexp{
		regexp.MustCompile(`^\(r\)$`),
	}, 2, 50*time.Millisecond)

	resCh, err := e.Submit(cmd)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case res := <-resCh:
		if res.Err != ErrFailed {
			t.Fatalf("expected ErrFailed, got %v", res.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("command did not fail")
	}
	if cmd.Attempts() != 3 {
		t.Fatalf("expected exactly retries+1 = 3 transmissions, got %d", cmd.Attempts())
	}
}

func TestTooManyInflightRejected(t *testing.T) {
	r := &fakeResponder{}
	e := NewEngine(r, 1, nil)
	first := NewCommand("a", "(a)", []*regexp.Regexp{regexp.MustCompile(`^\(a\)$`)}, 0, time.Second)
	second := NewCommand("b", "(b)", []*regexp.Regexp{regexp.MustCompile(`^\(b\)$`)}, 0, time.Second)

	if _, err := e.Submit(first); err != nil {
		t.Fatalf("first submit should succeed: %v", err)
	}
	if _, err := e.Submit(second); err != ErrTooManyInflight {
		t.Fatalf("expected ErrTooManyInflight, got %v", err)
	}
}
