package listener

import (
	"strings"

	"github.com/sebas/switchburst/internal/collections"
	"github.com/sebas/switchburst/internal/esl/wire"
	"github.com/sebas/switchburst/internal/model"
)

// handleChannelCreateOrOriginate implements spec.md §4.4's CHANNEL_CREATE
// / CHANNEL_ORIGINATE row: create the Session if new, resolve/create its
// Call via the call-tracking header, link them, and bump sessions_per_app.
func (l *Listener) handleChannelCreateOrOriginate(ev *wire.Event) (bool, *model.Session, *model.Job) {
	uuid := ev.UniqueID()
	if uuid == "" {
		l.log.Warn("CHANNEL_CREATE/ORIGINATE missing Unique-ID")
		return false, nil, nil
	}

	sess, created := l.getOrCreateSession(uuid)

	if ev.Name() == "CHANNEL_ORIGINATE" {
		sess.SetDirection(model.DirectionOutbound)
		sess.Stamp("originate", ev.Timestamp())
	} else {
		if created {
			sess.SetDirection(model.DirectionInbound)
		}
		sess.Stamp("create", ev.Timestamp())
	}

	if trackUUID := ev.Get(l.cfg.CallTrackingHeader); trackUUID != "" {
		call := l.getOrCreateCall(trackUUID)
		call.AddSession(sess)
		sess.SetCall(call)
	}

	if created {
		appID := l.resolveAppID(ev)
		sess.AppName = appID
		l.mu.Lock()
		l.sessionsPerApp[appID]++
		l.mu.Unlock()
	}

	return true, sess, nil
}

// handleChannelAnswer implements the CHANNEL_ANSWER row.
func (l *Listener) handleChannelAnswer(ev *wire.Event) (bool, *model.Session, *model.Job) {
	uuid := ev.UniqueID()
	sess := l.Session(uuid)
	if sess == nil {
		return false, nil, nil
	}
	sess.MarkAnswered(ev.Timestamp())

	l.mu.Lock()
	l.totalAnsweredSessions++
	l.mu.Unlock()

	return true, sess, nil
}

// handleUpdateSession is the default handler auto-installed for any
// event-name with a callback but no explicit handler, and is also used
// directly for CHANNEL_PARK/CALL_UPDATE, which only update history
// (spec.md §4.4, §4.3 "Subscription discipline").
func (l *Listener) handleUpdateSession(ev *wire.Event) (bool, *model.Session, *model.Job) {
	uuid := ev.UniqueID()
	if uuid == "" {
		return true, nil, nil
	}
	sess := l.Session(uuid)
	return true, sess, nil
}

// handleChannelHangup implements the CHANNEL_HANGUP row: pop the session,
// bump hangup_causes, detach from its Call (dropping the Call if it's now
// empty), drop any pending Job, and record failures.
func (l *Listener) handleChannelHangup(ev *wire.Event) (bool, *model.Session, *model.Job) {
	uuid := ev.UniqueID()
	sess := l.Session(uuid)

	cause := ev.Get(wire.HeaderHangupCause)
	if cause == "" {
		cause = "UNKNOWN"
	}

	l.mu.Lock()
	l.hangupCauses[cause]++
	delete(l.sessions, uuid)
	var call *model.Call
	if sess != nil {
		call = sess.Call()
	}
	l.mu.Unlock()

	if sess != nil {
		sess.MarkHungup(ev.Timestamp())
	}

	if call != nil {
		if empty := call.RemoveSession(uuid); empty {
			l.mu.Lock()
			delete(l.calls, call.UUID)
			l.mu.Unlock()
		}
	}

	var droppedJob *model.Job
	l.mu.Lock()
	for jobUUID, job := range l.bgJobs {
		if job.SessUUID == uuid && !job.Done() {
			droppedJob = job
			delete(l.bgJobs, jobUUID)
			break
		}
	}
	l.mu.Unlock()
	if droppedJob != nil {
		droppedJob.Fail(errHangupBeforeJob(uuid))
	}

	answered := sess != nil && sess.Answered()
	if cause != "NORMAL_CLEARING" || !answered {
		l.mu.Lock()
		deque, ok := l.failedSessions[cause]
		if !ok {
			deque = collections.NewBoundedDeque[string](failedSessionsCapacity)
			l.failedSessions[cause] = deque
		}
		l.mu.Unlock()
		deque.Push(uuid)
	}

	return true, sess, nil
}

// handleBackgroundJob implements the BACKGROUND_JOB row. It awaits the
// listener's job-registration gate so the Job is guaranteed to be present
// in bg_jobs before lookup (spec.md §4.4 "Job-registration race").
func (l *Listener) handleBackgroundJob(ev *wire.Event) (bool, *model.Session, *model.Job) {
	jobUUID := ev.JobUUID()
	if jobUUID == "" {
		l.log.Warn("BACKGROUND_JOB missing Job-UUID")
		return false, nil, nil
	}

	l.jobGate.Lock()
	job := l.bgJobs[jobUUID]
	l.jobGate.Unlock()
	if job == nil {
		l.log.Warn("BACKGROUND_JOB for unknown job", "job_uuid", jobUUID)
		return false, nil, nil
	}

	body := ev.Body
	l.mu.Lock()
	delete(l.bgJobs, jobUUID)
	l.mu.Unlock()

	if isErrBody(body) {
		var droppedSess *model.Session
		if job.SessUUID != "" {
			l.mu.Lock()
			droppedSess = l.sessions[job.SessUUID]
			delete(l.sessions, job.SessUUID)
			l.mu.Unlock()
			if droppedSess != nil {
				if call := droppedSess.Call(); call != nil {
					if call.RemoveSession(job.SessUUID) {
						l.mu.Lock()
						delete(l.calls, call.UUID)
						l.mu.Unlock()
					}
				}
			}
		}
		job.Fail(errBackgroundJobFailed(jobUUID, body))
		return true, droppedSess, job
	}

	// +OK body may carry the originated session uuid; associate Job <->
	// Session before invoking the caller's callback (spec.md §4.4). The
	// job resolves with the uuid itself when one is present, so callers
	// reading job.Result get the originating session id, not the raw
	// "+OK ..." wire text.
	sessUUID := extractSessionUUID(body)
	var sess *model.Session
	if sessUUID != "" {
		job.SessUUID = sessUUID
		sess = l.Session(sessUUID)
	}
	if sess != nil {
		sess.Stamp("req_originate", job.LaunchTime)
		sess.Stamp("job_launch", job.LaunchTime)
	}
	result := sessUUID
	if result == "" {
		result = strings.TrimSpace(body)
	}
	job.Succeed(result)
	return true, sess, job
}

// handleServerDisconnected implements the SERVER_DISCONNECTED row. The
// reconnect policy itself lives in internal/esl/conn.Reconnect; this
// handler only logs a warning; it does not touch sessions or jobs
// (spec.md §4.4).
func (l *Listener) handleServerDisconnected(ev *wire.Event) (bool, *model.Session, *model.Job) {
	l.log.Warn("server disconnected")
	return true, nil, nil
}

// handleLog implements the LOG row: emit server-side log lines at info
// level (spec.md §4.4).
func (l *Listener) handleLog(ev *wire.Event) (bool, *model.Session, *model.Job) {
	l.log.Info("fs log", "body", ev.Body)
	return true, nil, nil
}

// isErrBody reports whether a bgapi/api response body signals failure.
func isErrBody(body string) bool {
	return len(body) >= 4 && body[:4] == "-ERR"
}

// extractSessionUUID pulls the uuid token out of a +OK body, the shape
// `originate` returns on success (spec.md §4.4). The server terminates the
// body with a newline, so the remainder is whitespace-trimmed.
func extractSessionUUID(body string) string {
	const prefix = "+OK "
	if !strings.HasPrefix(body, prefix) {
		return ""
	}
	return strings.TrimSpace(body[len(prefix):])
}
