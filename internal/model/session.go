// Package model implements the Session/Call/Job state objects (spec.md
// §3, §4.5): mutable per-channel, per-call, and per-background-job state,
// correlated by event headers and tracked by the listener (C4).
package model

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sebas/switchburst/internal/esl/wire"
)

// Direction is derived from the event that created the Session.
type Direction int

const (
	DirectionUnknown Direction = iota
	DirectionInbound
	DirectionOutbound
)

func (d Direction) String() string {
	switch d {
	case DirectionInbound:
		return "inbound"
	case DirectionOutbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// Phase is an informational lifecycle marker for logging/introspection,
// not a public invariant of its own — the source of truth is the
// Answered/Hungup booleans (spec.md §3). Adapted from the teacher's
// CallState enum (internal/signaling/dialog/state.go), generalized from
// SIP dialog phases to ESL channel phases.
type Phase int

const (
	PhaseCreated Phase = iota
	PhaseAnswered
	PhaseHungup
)

func (p Phase) String() string {
	switch p {
	case PhaseAnswered:
		return "answered"
	case PhaseHungup:
		return "hungup"
	default:
		return "created"
	}
}

// Commander is the command-issuing surface a Session uses to emit server
// commands. Implemented by the client/connection layer (C2/C6); kept as
// an interface here so the model package has no dependency on conn/client.
type Commander interface {
	Api(ctx context.Context, cmd string) (string, error)
	SendMsg(ctx context.Context, uuid, callCommand, appName, appArg string, loops int) (string, error)
}

const historyCapacity = 64

// Session is one FreeSWITCH channel (spec.md §3).
type Session struct {
	UUID    string
	AppName string

	mu        sync.Mutex
	call      *Call
	direction Direction
	answered  bool
	hungup    bool
	phase     Phase
	times     map[string]time.Time
	vars      map[string]string
	history   []*wire.Event // newest-first, bounded

	waiters    map[string][]chan *wire.Event
	varWaiters map[string][]chan string
	hangupCh   chan struct{}

	cmd Commander
}

// NewSession constructs a Session in the Created phase. Per spec.md §3, a
// Session is created on first observation of CHANNEL_CREATE or
// CHANNEL_ORIGINATE; both paths call NewSession via the same idempotent
// helper in the listener, so either event may "win" the race.
func NewSession(uuid string, cmd Commander) *Session {
	return &Session{
		UUID:       uuid,
		times:      make(map[string]time.Time),
		vars:       make(map[string]string),
		waiters:    make(map[string][]chan *wire.Event),
		varWaiters: make(map[string][]chan string),
		hangupCh:   make(chan struct{}),
		cmd:        cmd,
		phase:      PhaseCreated,
	}
}

// Done returns a channel closed exactly once, when the session hangs up.
// Race-free: callers may read it before or after MarkHungup runs (used by
// the originator to release its admission slot on actual hangup rather
// than on bgapi acknowledgement).
func (s *Session) Done() <-chan struct{} {
	return s.hangupCh
}

// Call returns the owning Call, or nil if not yet linked.
func (s *Session) Call() *Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.call
}

// SetCall links this Session to its Call (set once by the listener when
// the Call is created or resolved).
func (s *Session) SetCall(c *Call) {
	s.mu.Lock()
	s.call = c
	s.mu.Unlock()
}

func (s *Session) SetDirection(d Direction) {
	s.mu.Lock()
	s.direction = d
	s.mu.Unlock()
}

func (s *Session) Direction() Direction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direction
}

func (s *Session) Answered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answered
}

func (s *Session) Hungup() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hungup
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Stamp records a named timestamp (spec.md §3 "times map with stamps for
// create, answer, req_originate, originate, hangup").
func (s *Session) Stamp(name string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.times == nil {
		s.times = make(map[string]time.Time)
	}
	s.times[name] = t
}

// Time returns a recorded stamp, or the zero time if unset.
func (s *Session) Time(name string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.times[name]
}

// Uptime returns elapsed time since answer if answered, else since
// create; used by the originator's auto-hangup scheduling (spec.md §4.8).
func (s *Session) Uptime() time.Duration {
	s.mu.Lock()
	answerT := s.times["answer"]
	createT := s.times["create"]
	s.mu.Unlock()
	if !answerT.IsZero() {
		return time.Since(answerT)
	}
	if !createT.IsZero() {
		return time.Since(createT)
	}
	return 0
}

// MarkAnswered sets answered=true and stamps "answer" (spec.md §4.4
// CHANNEL_ANSWER).
func (s *Session) MarkAnswered(at time.Time) {
	s.mu.Lock()
	s.answered = true
	s.phase = PhaseAnswered
	if s.times == nil {
		s.times = make(map[string]time.Time)
	}
	s.times["answer"] = at
	s.mu.Unlock()
}

// MarkHungup sets hungup=true and stamps "hangup". The caller
// (listener) is responsible for removing the Session from its tables;
// this method only updates the Session's own state and cancels any
// pending waiters (spec.md §4.4 CHANNEL_HANGUP, §8 cancellation scenario).
func (s *Session) MarkHungup(at time.Time) {
	s.mu.Lock()
	s.hungup = true
	s.phase = PhaseHungup
	if s.times == nil {
		s.times = make(map[string]time.Time)
	}
	s.times["hangup"] = at
	waiters := s.waiters
	s.waiters = make(map[string][]chan *wire.Event)
	varWaiters := s.varWaiters
	s.varWaiters = make(map[string][]chan string)
	s.mu.Unlock()

	for _, chans := range waiters {
		for _, ch := range chans {
			close(ch)
		}
	}
	for _, chans := range varWaiters {
		for _, ch := range chans {
			close(ch)
		}
	}
	close(s.hangupCh)
}

// SetVar updates the session-scoped vars map. It never wakes WaitForVar
// watchers itself: the dispatcher calls WakeVarWaiters after callbacks and
// coroutine scheduling (spec.md §4.3 step 8), which keeps the wake-up
// ordering stable and observable regardless of where in a handler or
// callback the var was set.
func (s *Session) SetVar(name, value string) {
	s.mu.Lock()
	if s.vars == nil {
		s.vars = make(map[string]string)
	}
	s.vars[name] = value
	s.mu.Unlock()
}

// WakeVarWaiters wakes every WaitForVar watcher whose variable currently
// holds a truthy value. Called by the dispatcher as step 8 of its per-event
// pipeline, after callbacks and coroutine scheduling.
func (s *Session) WakeVarWaiters() {
	type wake struct {
		chans []chan string
		value string
	}
	var wakes []wake
	s.mu.Lock()
	for name, chans := range s.varWaiters {
		if v := s.vars[name]; v != "" {
			wakes = append(wakes, wake{chans: chans, value: v})
			delete(s.varWaiters, name)
		}
	}
	s.mu.Unlock()

	for _, w := range wakes {
		for _, ch := range w.chans {
			ch <- w.value
			close(ch)
		}
	}
}

// GetVar reads a session-scoped variable.
func (s *Session) GetVar(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vars[name]
}

// UnsetVar removes a session-scoped variable.
func (s *Session) UnsetVar(name string) {
	s.mu.Lock()
	delete(s.vars, name)
	s.mu.Unlock()
}

// Vars returns a snapshot of the vars map.
func (s *Session) Vars() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.vars))
	for k, v := range s.vars {
		out[k] = v
	}
	return out
}

// Deliver appends ev to the bounded event history and resolves the oldest
// pending Recv waiter for ev.Name(), if any (spec.md §4.3 step 5, §4.5
// recv). Called by the dispatcher (C3) as part of its per-event pipeline.
func (s *Session) Deliver(ev *wire.Event) {
	s.mu.Lock()
	s.history = append([]*wire.Event{ev}, s.history...)
	if len(s.history) > historyCapacity {
		s.history = s.history[:historyCapacity]
	}

	name := ev.Name()
	var waiter chan *wire.Event
	if q := s.waiters[name]; len(q) > 0 {
		waiter = q[0]
		s.waiters[name] = q[1:]
	}
	s.mu.Unlock()

	if waiter != nil {
		waiter <- ev
	}
}

// History returns a newest-first snapshot of recent events.
func (s *Session) History() []*wire.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*wire.Event, len(s.history))
	copy(out, s.history)
	return out
}

// Recv awaits the next event named `name` (spec.md §4.5 "recv(name,
// timeout=None)"). Each call registers a fresh one-shot waiter; the first
// matching event satisfies and removes it. If the session hangs up while
// a Recv is outstanding, the waiter channel is closed without a value and
// Recv returns an error naming the session and the awaited event; if ctx
// ends first, Recv returns ctx.Err().
func (s *Session) Recv(ctx context.Context, name string) (*wire.Event, error) {
	ch := make(chan *wire.Event, 1)
	s.mu.Lock()
	s.waiters[name] = append(s.waiters[name], ch)
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case ev, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("session %s hung up while awaiting %s", s.UUID, name)
		}
		return ev, nil
	}
}

// WaitForVar blocks until vars[name] becomes truthy, or ctx ends
// (spec.md §4.3 step 8's waitfor(model, varname)).
func (s *Session) WaitForVar(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	if v := s.vars[name]; v != "" {
		s.mu.Unlock()
		return v, nil
	}
	ch := make(chan string, 1)
	s.varWaiters[name] = append(s.varWaiters[name], ch)
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case v, ok := <-ch:
		if !ok {
			return "", fmt.Errorf("session %s hung up while awaiting var %s", s.UUID, name)
		}
		return v, nil
	}
}

// Poll awaits whichever of names arrives first (spec.md §4.5 "poll(names,
// timeout, return_when)"). return_when is always "first" in this
// implementation; there is no wait-for-all mode.
func (s *Session) Poll(ctx context.Context, names ...string) (*wire.Event, error) {
	type result struct {
		ev  *wire.Event
		err error
	}
	resCh := make(chan result, len(names))
	for _, n := range names {
		n := n
		go func() {
			ev, err := s.Recv(ctx, n)
			resCh <- result{ev, err}
		}()
	}
	r := <-resCh
	return r.ev, r.err
}
