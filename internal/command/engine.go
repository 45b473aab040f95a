package command

import (
	"log"
	"sync"
	"time"
)

// Responder is the capability a Command needs to transmit its request.
// The same Command and Engine types serve both the serial-attached
// device (Responder wraps the serial channel) and the UDP companion CLI
// (Responder wraps a socket write), per the shared-definition approach
// in spec §9: one Command type parameterized by a responder capability
// instead of separate client/server command types.
type Responder interface {
	Write(request string) error
}

// Engine owns the in-flight command list exclusively; no other component
// mutates it. It dispatches every inbound frame to each in-flight
// command's response matcher in insertion order before falling back to
// Unmatched, mirroring spec §4.3.
type Engine struct {
	mu          sync.Mutex
	inflight    []*Command
	maxInflight int
	responder   Responder
	logger      *log.Logger
	timers      map[*Command]*time.Timer

	// Unmatched receives any frame that no in-flight command claims. The
	// caller wires this to the status decoder.
	Unmatched func(frame []byte)

	// now is overridable for tests; defaults to time.Now.
	now func() time.Time
}

// NewEngine creates an Engine. maxInflight is N_MAX from spec §3; it must
// be at least 1.
func NewEngine(responder Responder, maxInflight int, logger *log.Logger) *Engine {
	if maxInflight < 1 {
		maxInflight = 1
	}
	return &Engine{
		maxInflight: maxInflight,
		responder:   responder,
		logger:      logger,
		timers:      make(map[*Command]*time.Timer),
		now:         time.Now,
	}
}

// Submit appends cmd to the in-flight list, writes its request through
// the Responder, and arms its timeout. It returns ErrTooManyInflight
// without submitting if the engine is already at maxInflight.
func (e *Engine) Submit(cmd *Command) (<-chan Result, error) {
	e.mu.Lock()
	if len(e.inflight) >= e.maxInflight {
		e.mu.Unlock()
		return nil, ErrTooManyInflight
	}
	cmd.state = Inflight
	e.inflight = append(e.inflight, cmd)
	e.mu.Unlock()

	e.transmit(cmd)
	return cmd.result, nil
}

// transmit writes the request and (re)arms the per-command timer. It is
// called both for the first attempt and for every retry.
func (e *Engine) transmit(cmd *Command) {
	cmd.attempts++
	if err := e.responder.Write(cmd.Request); err != nil && e.logger != nil {
		e.logger.Printf("command %s: write error on attempt %d: %v", cmd.Name, cmd.attempts, err)
	}
	e.armTimer(cmd)
}

func (e *Engine) armTimer(cmd *Command) {
	timer := time.AfterFunc(cmd.Timeout, func() { e.onTimeout(cmd) })
	e.mu.Lock()
	e.timers[cmd] = timer
	e.mu.Unlock()
}

func (e *Engine) disarmTimer(cmd *Command) {
	e.mu.Lock()
	if t, ok := e.timers[cmd]; ok {
		t.Stop()
		delete(e.timers, cmd)
	}
	e.mu.Unlock()
}

func (e *Engine) onTimeout(cmd *Command) {
	e.mu.Lock()
	if cmd.state != Inflight {
		e.mu.Unlock()
		return
	}
	if cmd.attempts <= cmd.Retries {
		e.mu.Unlock()
		if e.logger != nil {
			e.logger.Printf("command %s: timeout, retrying (attempt %d of %d)", cmd.Name, cmd.attempts+1, cmd.Retries+1)
		}
		e.transmit(cmd)
		return
	}
	e.removeLocked(cmd)
	e.mu.Unlock()
	cmd.complete(Result{Err: ErrFailed})
}

// removeLocked deletes cmd from the in-flight slice. Callers must hold
// e.mu.
func (e *Engine) removeLocked(cmd *Command) {
	for i, c := range e.inflight {
		if c == cmd {
			e.inflight = append(e.inflight[:i], e.inflight[i+1:]...)
			break
		}
	}
}

// OnFrame dispatches an inbound frame first to each in-flight command's
// response matcher, in insertion order (first-submitted wins any race
// for an ambiguous frame). If no in-flight command consumes the frame,
// it is passed to Unmatched.
func (e *Engine) OnFrame(frame []byte) {
	e.mu.Lock()
	var matched *Command
	for _, cmd := range e.inflight {
		if cmd.tryMatch(frame) {
			matched = cmd
			break
		}
	}
	if matched != nil && matched.state != Inflight {
		e.removeLocked(matched)
	}
	e.mu.Unlock()

	if matched != nil {
		if matched.state != Inflight {
			e.disarmTimer(matched)
		}
		return
	}
	if e.Unmatched != nil {
		e.Unmatched(frame)
	}
}

// InflightCount returns the number of commands currently awaiting a
// response. Used by duty handlers to avoid resubmitting work whose
// previous tick is still outstanding (spec §5, cancellation rule).
func (e *Engine) InflightCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inflight)
}
