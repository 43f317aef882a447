// Package listener implements the per-node state tracker (C4, spec.md
// §4.4): it installs default handlers on a dispatch.Loop and maintains the
// sessions/calls/bg_jobs tables plus the hangup-cause and failure
// counters, serialized by the owning event loop's goroutine.
package listener

import (
	"context"
	"sync"

	"github.com/sebas/switchburst/internal/collections"
	"github.com/sebas/switchburst/internal/dispatch"
	"github.com/sebas/switchburst/internal/esl/wire"
	"github.com/sebas/switchburst/internal/logger"
	"github.com/sebas/switchburst/internal/model"
)

const failedSessionsCapacity = 256

// Config controls the headers the listener correlates on.
type Config struct {
	// CallTrackingHeader is the channel variable used to group sessions
	// into a Call (spec.md §6, default "variable_call_uuid").
	CallTrackingHeader string
	// AppIDHeaders is consulted, in order, to resolve which app owns an
	// event (spec.md §4.3 "App-id resolution").
	AppIDHeaders []string
}

func (c Config) withDefaults() Config {
	if c.CallTrackingHeader == "" {
		c.CallTrackingHeader = "variable_call_uuid"
	}
	if len(c.AppIDHeaders) == 0 {
		c.AppIDHeaders = []string{"variable_app_id"}
	}
	return c
}

// Listener owns the per-node sessions/calls/bg_jobs tables (spec.md §3
// "Listener tables"). Table access is serialized by the owning loop
// goroutine; external readers get best-effort snapshots.
type Listener struct {
	cfg Config
	cmd model.Commander
	log interface {
		Debug(string, ...any)
		Info(string, ...any)
		Warn(string, ...any)
		Error(string, ...any)
	}

	mu       sync.RWMutex
	sessions map[string]*model.Session
	calls    map[string]*model.Call
	bgJobs   map[string]*model.Job

	hangupCauses    map[string]int
	sessionsPerApp  map[string]int
	failedSessions  map[string]*collections.BoundedDeque[string]

	jobGate sync.Mutex

	totalAnsweredSessions int
}

// New constructs a Listener. cmd is the command-issuing surface
// (typically the node's *conn.Connection) used by Sessions created here.
func New(cfg Config, cmd model.Commander) *Listener {
	cfg = cfg.withDefaults()
	return &Listener{
		cfg:            cfg,
		cmd:            cmd,
		log:            logger.For("listener"),
		sessions:       make(map[string]*model.Session),
		calls:          make(map[string]*model.Call),
		bgJobs:         make(map[string]*model.Job),
		hangupCauses:   make(map[string]int),
		sessionsPerApp: make(map[string]int),
		failedSessions: make(map[string]*collections.BoundedDeque[string]),
	}
}

// Install registers the listener's default handlers on loop and
// subscribes to every event the listener tracks (spec.md §4.4).
func (l *Listener) Install(ctx context.Context, loop *dispatch.Loop) error {
	loop.SetDefaultHandler(l.handleUpdateSession)

	registrations := []struct {
		name string
		fn   dispatch.HandlerFunc
	}{
		{"CHANNEL_CREATE", l.handleChannelCreateOrOriginate},
		{"CHANNEL_ORIGINATE", l.handleChannelCreateOrOriginate},
		{"CHANNEL_ANSWER", l.handleChannelAnswer},
		{"CHANNEL_PARK", l.handleUpdateSession},
		{"CALL_UPDATE", l.handleUpdateSession},
		{"CHANNEL_HANGUP", l.handleChannelHangup},
		{"BACKGROUND_JOB", l.handleBackgroundJob},
		{"SERVER_DISCONNECTED", l.handleServerDisconnected},
		{"LOG", l.handleLog},
	}
	for _, r := range registrations {
		if err := loop.RegisterHandler(ctx, r.name, r.fn); err != nil {
			return err
		}
	}
	return nil
}

// BlockJobs acquires the job-registration gate (spec.md §4.4
// "Job-registration race"): callers wrap the bgapi send/register pair in
// this region so the BACKGROUND_JOB handler cannot observe the job-uuid
// before it is inserted into bg_jobs.
func (l *Listener) BlockJobs() { l.jobGate.Lock() }

// UnblockJobs releases the gate acquired by BlockJobs.
func (l *Listener) UnblockJobs() { l.jobGate.Unlock() }

// RegisterJob inserts job into bg_jobs. Must be called inside a
// BlockJobs/UnblockJobs region.
func (l *Listener) RegisterJob(job *model.Job) {
	l.mu.Lock()
	l.bgJobs[job.UUID] = job
	l.mu.Unlock()
}

// Session returns a tracked session by uuid, or nil.
func (l *Listener) Session(uuid string) *model.Session {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sessions[uuid]
}

// Sessions returns a snapshot of all tracked sessions.
func (l *Listener) Sessions() []*model.Session {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*model.Session, 0, len(l.sessions))
	for _, s := range l.sessions {
		out = append(out, s)
	}
	return out
}

// ActiveCallCount returns the number of tracked sessions, used by the
// pool's admission filter and fast_count (spec.md §4.7).
func (l *Listener) ActiveCallCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.sessions)
}

// Call returns a tracked call by uuid, or nil.
func (l *Listener) Call(uuid string) *model.Call {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.calls[uuid]
}

// Job returns a tracked background job by uuid, or nil.
func (l *Listener) Job(uuid string) *model.Job {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.bgJobs[uuid]
}

// HangupCauses returns a snapshot of the per-cause hangup counters.
func (l *Listener) HangupCauses() map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]int, len(l.hangupCauses))
	for k, v := range l.hangupCauses {
		out[k] = v
	}
	return out
}

// CountFailed implements spec.md §4.4 "Failure counting":
// sum(hangup_causes.values()) - hangup_causes[NORMAL_CLEARING].
func (l *Listener) CountFailed() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := 0
	for _, n := range l.hangupCauses {
		total += n
	}
	return total - l.hangupCauses["NORMAL_CLEARING"]
}

// TotalAnsweredSessions returns the cumulative count of CHANNEL_ANSWER
// events observed.
func (l *Listener) TotalAnsweredSessions() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalAnsweredSessions
}

// SessionsPerApp returns a snapshot of the per-app session counters.
func (l *Listener) SessionsPerApp() map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]int, len(l.sessionsPerApp))
	for k, v := range l.sessionsPerApp {
		out[k] = v
	}
	return out
}

// FailedSessions returns a newest-first snapshot of the session uuids
// recorded for the given hangup cause.
func (l *Listener) FailedSessions(cause string) []string {
	l.mu.RLock()
	deque := l.failedSessions[cause]
	l.mu.RUnlock()
	if deque == nil {
		return nil
	}
	return deque.Items()
}

func (l *Listener) resolveAppID(ev *wire.Event) string {
	for _, h := range l.cfg.AppIDHeaders {
		if v := ev.Get(h); v != "" {
			return v
		}
	}
	return "default"
}

// getOrCreateSession returns the existing session for uuid, or constructs
// one, idempotently (spec.md §4.4: "Idempotent across the two event
// types").
func (l *Listener) getOrCreateSession(uuid string) (sess *model.Session, created bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.sessions[uuid]; ok {
		return existing, false
	}
	sess = model.NewSession(uuid, l.cmd)
	l.sessions[uuid] = sess
	return sess, true
}

// getOrCreateCall returns the existing call for uuid, or constructs one.
func (l *Listener) getOrCreateCall(uuid string) *model.Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.calls[uuid]; ok {
		return existing
	}
	call := model.NewCall(uuid)
	l.calls[uuid] = call
	return call
}
